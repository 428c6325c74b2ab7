// Package dataset assembles dataset splits: it drives every sample through
// sampling, solving and filtering until it is accepted, and persists accepted
// samples together with diverged and rejected scenarios.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/filter"
	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/model"
	"github.com/powerdatagen/datagen/internal/sampling"
	"github.com/powerdatagen/datagen/internal/solver"
)

// Split names one dataset partition. Index selects the random streams of the
// split and must be unique within a run.
type Split struct {
	Name  string
	Index uint64
	Size  int
}

// Splits returns the train, val and test splits in build order.
func Splits(c config.DatasetConfig) []Split {
	return []Split{
		{Name: "train", Index: 0, Size: c.Train},
		{Name: "val", Index: 1, Size: c.Val},
		{Name: "test", Index: 2, Size: c.Test},
	}
}

// Sampler produces candidate scenarios.
type Sampler interface {
	Sample(ctx context.Context, rng *rand.Rand) (*sampling.Scenario, error)
}

// Validator decides whether a solved scenario is kept.
type Validator interface {
	Evaluate(net *grid.Network) (filter.Verdict, error)
}

// Recorder receives attempt events, typically for metrics export.
type Recorder interface {
	Attempt(split, outcome string, d time.Duration)
	Rejection(split, criterion string)
	Exhausted(split string)
}

// Ledger stores split summaries of a run.
type Ledger interface {
	SaveSplit(ctx context.Context, runID string, summary model.SplitSummary) error
}

// Options configures an Assembler.
type Options struct {
	// Root is the run directory; split directories are created inside it.
	Root    string
	Seed    uint64
	Workers int
	Retry   RetryPolicy
	// Criteria lists the enabled filter criteria reported in summaries.
	Criteria      []filter.Criterion
	SolverOptions solver.Options

	Recorder Recorder
	Ledger   Ledger
	RunID    string
}

// Assembler builds dataset splits.
type Assembler struct {
	sampler Sampler
	pf      solver.PowerFlow
	filter  Validator
	opts    Options
}

// New creates an Assembler.
func New(s Sampler, pf solver.PowerFlow, v Validator, opts Options) (*Assembler, error) {
	if s == nil || pf == nil || v == nil {
		return nil, eris.New("dataset: sampler, power flow and filter are required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retry.Mode == "" {
		opts.Retry.Mode = config.RetryUnbounded
	}
	return &Assembler{sampler: s, pf: pf, filter: v, opts: opts}, nil
}

// attemptOutcome is the terminal state of one attempt.
type attemptOutcome int

const (
	outcomeSamplingError attemptOutcome = iota
	outcomeDiverged
	outcomeRejected
	outcomeAccepted
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeSamplingError:
		return "sampling_error"
	case outcomeDiverged:
		return "diverged"
	case outcomeRejected:
		return "rejected"
	case outcomeAccepted:
		return "accepted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// attempt is the result of one pass through sampling, solving and filtering.
type attempt struct {
	outcome attemptOutcome
	net     *grid.Network
	verdict filter.Verdict
}

// Build builds every split in order and returns their summaries. Splits are
// built sequentially; samples within a split run on Options.Workers workers.
// On failure the partial summary of the failed split is the last element.
func (a *Assembler) Build(ctx context.Context, splits []Split) ([]model.SplitSummary, error) {
	var out []model.SplitSummary
	for _, sp := range splits {
		sum, err := a.BuildSplit(ctx, sp)
		out = append(out, sum)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// BuildSplit builds one split into Root/<name>.
func (a *Assembler) BuildSplit(ctx context.Context, sp Split) (model.SplitSummary, error) {
	layout := NewLayout(filepath.Join(a.opts.Root, sp.Name), sp.Size)
	if err := layout.Create(); err != nil {
		return model.SplitSummary{Split: sp.Name, Criteria: map[string]int{}}, err
	}

	log := zap.L().With(zap.String("component", "dataset"), zap.String("split", sp.Name))
	log.Info("building split", zap.Int("samples", sp.Size), zap.Int("workers", a.opts.Workers))

	stats := newStats(sp.Name, a.opts.Criteria)
	progressEvery := max(1, sp.Size/10)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i := range sp.Size {
		g.Go(func() error {
			err := a.buildSample(gctx, sp, i, layout, stats, log)
			if err == nil {
				if sum := stats.Summary(); sum.Samples%progressEvery == 0 || sum.Samples == sp.Size {
					log.Info("progress",
						zap.Int("accepted", sum.Samples),
						zap.Int("attempts", sum.Attempts),
						zap.Int("sampling_errors", sum.SamplingErrors),
						zap.Int("divergences", sum.Divergences),
						zap.Int("rejections", sum.Rejections),
					)
				}
			}
			return err
		})
	}
	buildErr := g.Wait()

	summary := stats.Summary()
	fields := []zap.Field{
		zap.Int("accepted", summary.Samples),
		zap.Int("attempts", summary.Attempts),
		zap.Int("sampling_errors", summary.SamplingErrors),
		zap.Int("divergences", summary.Divergences),
		zap.Int("rejections", summary.Rejections),
		zap.Int("exhausted", summary.Exhausted),
	}
	for _, c := range slices.Sorted(maps.Keys(summary.Criteria)) {
		fields = append(fields, zap.Int("rejected_"+c, summary.Criteria[c]))
	}
	if buildErr != nil {
		log.Error("split failed", append(fields, zap.Error(buildErr))...)
		if a.opts.Ledger != nil {
			if err := a.opts.Ledger.SaveSplit(context.WithoutCancel(ctx), a.opts.RunID, summary); err != nil {
				log.Error("failed to record partial split", zap.Error(err))
			}
		}
		return summary, buildErr
	}
	log.Info("split complete", fields...)

	if err := writeSummary(layout.Summary(), summary); err != nil {
		return summary, err
	}
	if a.opts.Ledger != nil {
		if err := a.opts.Ledger.SaveSplit(ctx, a.opts.RunID, summary); err != nil {
			return summary, eris.Wrapf(err, "dataset: record split %s", sp.Name)
		}
	}
	return summary, nil
}

// stream derives the random stream of sample i of a split so that results do
// not depend on scheduling.
func (a *Assembler) stream(sp Split, i int) *rand.Rand {
	return rand.New(rand.NewPCG(a.opts.Seed, sp.Index<<48|uint64(i)))
}

// buildSample loops until sample i is accepted, force-accepted, or a fatal
// error occurs.
func (a *Assembler) buildSample(ctx context.Context, sp Split, i int, layout Layout, stats *Stats, log *zap.Logger) error {
	rng := a.stream(sp, i)
	rejections := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		at, err := a.attempt(ctx, rng)
		if err != nil {
			return eris.Wrapf(err, "dataset: %s sample %d", sp.Name, i)
		}
		a.record(sp.Name, at, time.Since(start))

		switch at.outcome {
		case outcomeSamplingError:
			stats.samplingError()

		case outcomeDiverged:
			k := stats.diverged()
			if err := writeNetwork(layout.Divergence(k), at.net); err != nil {
				return err
			}

		case outcomeRejected:
			k := stats.rejected(at.verdict.Violations)
			if err := writeNetwork(layout.Rejection(k), at.net); err != nil {
				return err
			}
			rejections++
			if !a.opts.Retry.exhausted(rejections) {
				continue
			}

			if a.opts.Recorder != nil {
				a.opts.Recorder.Exhausted(sp.Name)
			}
			switch a.opts.Retry.Mode {
			case config.RetryForceAccept:
				log.Warn("rejection cap reached, keeping last rejected scenario",
					zap.Int("sample", i), zap.Int("rejections", rejections))
				stats.forced()
				return writeNetwork(layout.Sample(i), at.net)
			default:
				stats.exhausted()
				log.Warn("rejection cap reached", zap.Int("sample", i), zap.Int("rejections", rejections))
				return eris.Wrapf(ErrRetriesExhausted, "dataset: %s sample %d rejected %d times", sp.Name, i, rejections)
			}

		case outcomeAccepted:
			stats.accepted()
			log.Debug("sample accepted", zap.Int("sample", i))
			return writeNetwork(layout.Sample(i), at.net)

		default:
			return eris.Errorf("dataset: unknown attempt outcome %s", at.outcome)
		}
	}
}

// attempt runs one sampling, solving and filtering pass. Recoverable
// failures are reported through the outcome; the error is fatal.
func (a *Assembler) attempt(ctx context.Context, rng *rand.Rand) (attempt, error) {
	sc, err := a.sampler.Sample(ctx, rng)
	if err != nil {
		if errors.Is(err, sampling.ErrInfeasible) {
			return attempt{outcome: outcomeSamplingError}, nil
		}
		return attempt{}, err
	}
	net := sc.Net

	res, err := a.pf.RunPowerFlow(ctx, net, a.opts.SolverOptions)
	if err != nil {
		return attempt{}, eris.Wrap(err, "power flow")
	}
	if res.Status != solver.Converged {
		return attempt{outcome: outcomeDiverged, net: net}, nil
	}

	verdict, err := a.filter.Evaluate(net)
	if err != nil {
		return attempt{}, err
	}
	if verdict.Reject {
		return attempt{outcome: outcomeRejected, net: net, verdict: verdict}, nil
	}
	return attempt{outcome: outcomeAccepted, net: net, verdict: verdict}, nil
}

func (a *Assembler) record(split string, at attempt, d time.Duration) {
	r := a.opts.Recorder
	if r == nil {
		return
	}
	r.Attempt(split, at.outcome.String(), d)
	for c, n := range at.verdict.Violations {
		if n > 0 {
			r.Rejection(split, string(c))
		}
	}
}
