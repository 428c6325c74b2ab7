package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/powerdatagen/datagen/internal/model"
	"github.com/powerdatagen/datagen/internal/store"
)

// LedgerSnapshot aggregates the most recent runs of the ledger.
type LedgerSnapshot struct {
	Runs      int `json:"runs"`
	Running   int `json:"running"`
	Complete  int `json:"complete"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	Samples        int            `json:"samples"`
	Attempts       int            `json:"attempts"`
	SamplingErrors int            `json:"sampling_errors"`
	Divergences    int            `json:"divergences"`
	Rejections     int            `json:"rejections"`
	Exhausted      int            `json:"exhausted"`
	Criteria       map[string]int `json:"criteria"`
	AcceptanceRate float64        `json:"acceptance_rate"`

	CollectedAt time.Time `json:"collected_at"`
}

// Ledger is the part of store.Store the collector reads.
type Ledger interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListSplits(ctx context.Context, runID string) ([]model.SplitSummary, error)
}

// Collector gathers statistics from the run ledger.
type Collector struct {
	ledger Ledger
}

// NewCollector creates a new ledger collector.
func NewCollector(l Ledger) *Collector {
	return &Collector{ledger: l}
}

// Collect aggregates the last limit runs and their split summaries.
func (c *Collector) Collect(ctx context.Context, limit int) (*LedgerSnapshot, error) {
	snap := &LedgerSnapshot{
		Criteria:    make(map[string]int),
		CollectedAt: time.Now().UTC(),
	}

	runs, err := c.ledger.ListRuns(ctx, store.RunFilter{Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.Runs = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusRunning:
			snap.Running++
		case model.RunStatusComplete:
			snap.Complete++
		case model.RunStatusFailed:
			snap.Failed++
		case model.RunStatusCancelled:
			snap.Cancelled++
		}

		splits, err := c.ledger.ListSplits(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list splits of run %s", r.ID)
		}
		for _, s := range splits {
			snap.Samples += s.Samples
			snap.Attempts += s.Attempts
			snap.SamplingErrors += s.SamplingErrors
			snap.Divergences += s.Divergences
			snap.Rejections += s.Rejections
			snap.Exhausted += s.Exhausted
			for k, v := range s.Criteria {
				snap.Criteria[k] += v
			}
		}
	}

	if snap.Attempts > 0 {
		snap.AcceptanceRate = float64(snap.Samples) / float64(snap.Attempts)
	}
	return snap, nil
}
