package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowAcceptance    AlertType = "low_acceptance_rate"
	AlertHighDivergence   AlertType = "high_divergence_rate"
	AlertRetriesExhausted AlertType = "retries_exhausted"
)

// minAttempts is the sample size below which rate alerts are not raised.
const minAttempts = 10

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id"`
	Split     string         `json:"split"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates split summaries against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MetricsConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given metrics config.
func NewAlerter(cfg config.MetricsConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks one split summary and returns any alerts.
func (a *Alerter) Evaluate(runID string, s model.SplitSummary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	newAlert := func(t AlertType, severity, msg string, details map[string]any) Alert {
		return Alert{Type: t, Severity: severity, RunID: runID, Split: s.Split, Message: msg, Details: details, Timestamp: now}
	}

	if a.cfg.MinAcceptanceRate > 0 && s.Attempts >= minAttempts && s.AcceptanceRate() < a.cfg.MinAcceptanceRate {
		alerts = append(alerts, newAlert(AlertLowAcceptance, "medium",
			fmt.Sprintf("Split %s accepted %.1f%% of attempts, below %.1f%% (%d of %d)",
				s.Split, s.AcceptanceRate()*100, a.cfg.MinAcceptanceRate*100, s.Samples, s.Attempts),
			map[string]any{
				"acceptance_rate": s.AcceptanceRate(),
				"threshold":       a.cfg.MinAcceptanceRate,
				"criteria":        s.Criteria,
			}))
	}

	if a.cfg.MaxDivergenceRate > 0 && s.Attempts >= minAttempts {
		rate := float64(s.Divergences) / float64(s.Attempts)
		if rate > a.cfg.MaxDivergenceRate {
			alerts = append(alerts, newAlert(AlertHighDivergence, "medium",
				fmt.Sprintf("Split %s diverged on %.1f%% of attempts, above %.1f%%",
					s.Split, rate*100, a.cfg.MaxDivergenceRate*100),
				map[string]any{
					"divergence_rate": rate,
					"threshold":       a.cfg.MaxDivergenceRate,
					"divergences":     s.Divergences,
				}))
		}
	}

	if s.Exhausted > 0 {
		alerts = append(alerts, newAlert(AlertRetriesExhausted, "high",
			fmt.Sprintf("%d sample(s) of split %s hit the rejection cap", s.Exhausted, s.Split),
			map[string]any{"exhausted": s.Exhausted}))
	}

	return alerts
}

// SendAlerts logs every alert and delivers it to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("split", alert.Split),
			zap.String("message", alert.Message),
		)
	}
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
