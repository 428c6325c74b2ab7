package dataset

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/filter"
	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/grid/gridtest"
	"github.com/powerdatagen/datagen/internal/model"
	"github.com/powerdatagen/datagen/internal/sampling"
	"github.com/powerdatagen/datagen/internal/solver"
	"github.com/powerdatagen/datagen/internal/topology"
)

type funcSampler func(ctx context.Context, rng *rand.Rand) (*sampling.Scenario, error)

func (f funcSampler) Sample(ctx context.Context, rng *rand.Rand) (*sampling.Scenario, error) {
	return f(ctx, rng)
}

type funcPF func(ctx context.Context, net *grid.Network, opts solver.Options) (solver.Outcome, error)

func (f funcPF) RunPowerFlow(ctx context.Context, net *grid.Network, opts solver.Options) (solver.Outcome, error) {
	return f(ctx, net, opts)
}

type funcValidator func(net *grid.Network) (filter.Verdict, error)

func (f funcValidator) Evaluate(net *grid.Network) (filter.Verdict, error) {
	return f(net)
}

// scripted returns a sampler whose n-th call (from 0) is answered by fn.
func scripted(fn func(n int) error) funcSampler {
	var mu sync.Mutex
	calls := 0
	return func(context.Context, *rand.Rand) (*sampling.Scenario, error) {
		mu.Lock()
		n := calls
		calls++
		mu.Unlock()
		if err := fn(n); err != nil {
			return nil, err
		}
		return &sampling.Scenario{Net: gridtest.ThreeBus(), TotalLoad: 300}, nil
	}
}

func alwaysSample() funcSampler {
	return scripted(func(int) error { return nil })
}

func converged() funcPF {
	return func(context.Context, *grid.Network, solver.Options) (solver.Outcome, error) {
		return solver.Outcome{Status: solver.Converged}, nil
	}
}

func acceptAll() funcValidator {
	return func(*grid.Network) (filter.Verdict, error) {
		return filter.Verdict{Violations: map[filter.Criterion]int{}}, nil
	}
}

func rejectOverflow() filter.Verdict {
	return filter.Verdict{Reject: true, Violations: map[filter.Criterion]int{filter.Overflow: 1, filter.NegativeLoad: 0}}
}

func rejectAll() funcValidator {
	return func(*grid.Network) (filter.Verdict, error) {
		return rejectOverflow(), nil
	}
}

func newAssembler(t *testing.T, s Sampler, pf solver.PowerFlow, v Validator, opts Options) *Assembler {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	a, err := New(s, pf, v, opts)
	require.NoError(t, err)
	return a
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestBuildSplit_AllAccepted(t *testing.T) {
	root := t.TempDir()
	a := newAssembler(t, alwaysSample(), converged(), acceptAll(), Options{Root: root})

	sum, err := a.BuildSplit(context.Background(), Split{Name: "train", Size: 5})
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Samples)
	assert.Equal(t, 5, sum.Attempts)
	assert.Zero(t, sum.SamplingErrors)
	assert.Zero(t, sum.Divergences)
	assert.Zero(t, sum.Rejections)

	dir := filepath.Join(root, "train")
	assert.Equal(t, []string{
		"sample_0.json", "sample_1.json", "sample_2.json", "sample_3.json", "sample_4.json", SummaryFile,
	}, names(t, dir))
	assert.Empty(t, names(t, filepath.Join(dir, DivergenceDir)))
	assert.Empty(t, names(t, filepath.Join(dir, RejectionDir)))

	net, err := grid.LoadFile(filepath.Join(dir, "sample_3.json"))
	require.NoError(t, err)
	assert.Equal(t, "three-bus", net.Name)

	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	var onDisk model.SplitSummary
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, 5, onDisk.Samples)
}

func TestBuildSplit_SamplingErrorsAreRetried(t *testing.T) {
	s := scripted(func(n int) error {
		if n < 2 {
			return sampling.ErrInfeasible
		}
		return nil
	})
	a := newAssembler(t, s, converged(), acceptAll(), Options{})

	sum, err := a.BuildSplit(context.Background(), Split{Name: "train", Size: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Samples)
	assert.Equal(t, 2, sum.SamplingErrors)
	assert.Equal(t, 3, sum.Attempts)
}

func TestBuildSplit_DivergencePersisted(t *testing.T) {
	root := t.TempDir()
	var calls int
	pf := funcPF(func(context.Context, *grid.Network, solver.Options) (solver.Outcome, error) {
		calls++
		if calls == 1 {
			return solver.Outcome{Status: solver.Diverged, Reason: "max iterations"}, nil
		}
		return solver.Outcome{Status: solver.Converged}, nil
	})
	a := newAssembler(t, alwaysSample(), pf, acceptAll(), Options{Root: root})

	sum, err := a.BuildSplit(context.Background(), Split{Name: "val", Size: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Divergences)
	assert.Equal(t, 3, sum.Samples)
	assert.Equal(t, []string{"divergence_sample_1.json"}, names(t, filepath.Join(root, "val", DivergenceDir)))
}

func TestBuildSplit_RejectionsCountedPerCriterion(t *testing.T) {
	root := t.TempDir()
	var calls int
	v := funcValidator(func(*grid.Network) (filter.Verdict, error) {
		calls++
		if calls <= 2 {
			return rejectOverflow(), nil
		}
		return filter.Verdict{Violations: map[filter.Criterion]int{filter.Overflow: 0, filter.NegativeLoad: 0}}, nil
	})
	a := newAssembler(t, alwaysSample(), converged(), v, Options{
		Root:     root,
		Criteria: []filter.Criterion{filter.Overflow, filter.NegativeLoad},
	})

	sum, err := a.BuildSplit(context.Background(), Split{Name: "test", Size: 12})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rejections)
	assert.Equal(t, map[string]int{"overflow": 2, "negative_load": 0}, sum.Criteria)
	assert.Equal(t, []string{"rejection_sample_01.json", "rejection_sample_02.json"},
		names(t, filepath.Join(root, "test", RejectionDir)))
	assert.FileExists(t, filepath.Join(root, "test", "sample_11.json"))
}

func TestBuildSplit_AbortAfterMaxRejections(t *testing.T) {
	root := t.TempDir()
	a := newAssembler(t, alwaysSample(), converged(), rejectAll(), Options{
		Root:  root,
		Retry: RetryPolicy{Mode: config.RetryAbort, MaxRejections: 3},
	})

	sum, err := a.BuildSplit(context.Background(), Split{Name: "train", Size: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, 3, sum.Rejections)
	assert.Equal(t, 1, sum.Exhausted)
	assert.Zero(t, sum.Samples)
	assert.Len(t, names(t, filepath.Join(root, "train", RejectionDir)), 3)
	assert.NoFileExists(t, filepath.Join(root, "train", SummaryFile))
}

func TestBuildSplit_ForceAcceptKeepsLastRejected(t *testing.T) {
	root := t.TempDir()
	a := newAssembler(t, alwaysSample(), converged(), rejectAll(), Options{
		Root:  root,
		Retry: RetryPolicy{Mode: config.RetryForceAccept, MaxRejections: 2},
	})

	sum, err := a.BuildSplit(context.Background(), Split{Name: "train", Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Samples)
	assert.Equal(t, 4, sum.Rejections)
	assert.Equal(t, 4, sum.Attempts)
	assert.Equal(t, 2, sum.Exhausted)
	assert.FileExists(t, filepath.Join(root, "train", "sample_0.json"))
	assert.FileExists(t, filepath.Join(root, "train", "sample_1.json"))
}

func TestBuildSplit_UnboundedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	v := funcValidator(func(*grid.Network) (filter.Verdict, error) {
		calls++
		if calls == 5 {
			cancel()
		}
		return rejectOverflow(), nil
	})
	a := newAssembler(t, alwaysSample(), converged(), v, Options{})

	sum, err := a.BuildSplit(ctx, Split{Name: "train", Size: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 5, sum.Rejections)
	assert.Zero(t, sum.Exhausted)
}

func TestBuildSplit_FatalErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		s    Sampler
		pf   solver.PowerFlow
		v    Validator
	}{
		{
			name: "sampler",
			s:    scripted(func(int) error { return boom }),
			pf:   converged(),
			v:    acceptAll(),
		},
		{
			name: "solver",
			s:    alwaysSample(),
			pf: funcPF(func(context.Context, *grid.Network, solver.Options) (solver.Outcome, error) {
				return solver.Outcome{}, boom
			}),
			v: acceptAll(),
		},
		{
			name: "filter",
			s:    alwaysSample(),
			pf:   converged(),
			v: funcValidator(func(*grid.Network) (filter.Verdict, error) {
				return filter.Verdict{}, boom
			}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssembler(t, tt.s, tt.pf, tt.v, Options{})
			sum, err := a.BuildSplit(context.Background(), Split{Name: "train", Size: 3})
			require.Error(t, err)
			assert.True(t, errors.Is(err, boom))
			assert.Equal(t, 0, sum.Samples)
		})
	}
}

func TestBuildSplit_ExistingDirectoryIsFatal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "train"), 0o755))
	a := newAssembler(t, alwaysSample(), converged(), acceptAll(), Options{Root: root})

	_, err := a.BuildSplit(context.Background(), Split{Name: "train", Size: 1})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, filepath.Join(root, "train"), pe.Path)
}

type recorder struct {
	mu         sync.Mutex
	outcomes   map[string]int
	rejections map[string]int
	exhausted  int
}

func (r *recorder) Attempt(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *recorder) Rejection(_, criterion string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections[criterion]++
}

func (r *recorder) Exhausted(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted++
}

type ledger struct {
	runID  string
	splits []model.SplitSummary
}

func (l *ledger) SaveSplit(_ context.Context, runID string, s model.SplitSummary) error {
	l.runID = runID
	l.splits = append(l.splits, s)
	return nil
}

func TestBuild_HooksAndSplitOrder(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{outcomes: map[string]int{}, rejections: map[string]int{}}
	led := &ledger{}
	s := scripted(func(n int) error {
		if n == 0 {
			return sampling.ErrInfeasible
		}
		return nil
	})
	var calls int
	v := funcValidator(func(*grid.Network) (filter.Verdict, error) {
		calls++
		if calls == 1 {
			return rejectOverflow(), nil
		}
		return filter.Verdict{Violations: map[filter.Criterion]int{filter.Overflow: 0}}, nil
	})
	a := newAssembler(t, s, converged(), v, Options{Root: root, Recorder: rec, Ledger: led, RunID: "run-7"})

	sums, err := a.Build(context.Background(), Splits(config.DatasetConfig{Train: 2, Val: 1, Test: 0}))
	require.NoError(t, err)
	require.Len(t, sums, 3)
	assert.Equal(t, []string{"train", "val", "test"}, []string{sums[0].Split, sums[1].Split, sums[2].Split})
	assert.Equal(t, 0, sums[2].Samples)
	assert.DirExists(t, filepath.Join(root, "test", DivergenceDir))

	assert.Equal(t, map[string]int{"sampling_error": 1, "rejected": 1, "accepted": 3}, rec.outcomes)
	assert.Equal(t, map[string]int{"overflow": 1}, rec.rejections)
	assert.Equal(t, "run-7", led.runID)
	assert.Len(t, led.splits, 3)
}

func TestBuild_AbortKeepsPartialSummary(t *testing.T) {
	root := t.TempDir()
	led := &ledger{}
	a := newAssembler(t, alwaysSample(), converged(), rejectAll(), Options{
		Root:   root,
		Retry:  RetryPolicy{Mode: config.RetryAbort, MaxRejections: 2},
		Ledger: led,
		RunID:  "run-9",
	})

	out, err := a.Build(context.Background(), []Split{
		{Name: "train", Index: 0, Size: 2},
		{Name: "val", Index: 1, Size: 1},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	require.Len(t, out, 1)
	assert.Equal(t, "train", out[0].Split)
	assert.Equal(t, 1, out[0].Exhausted)
	assert.Equal(t, 2, out[0].Rejections)

	assert.Equal(t, "run-9", led.runID)
	require.Len(t, led.splits, 1)
	assert.Equal(t, 1, led.splits[0].Exhausted)
	assert.NoDirExists(t, filepath.Join(root, "val"))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, converged(), acceptAll(), Options{})
	require.Error(t, err)
}

// realAssembler wires the actual sampler, DC solver and filter around the
// three-bus network.
func realAssembler(t *testing.T, root string, workers int) *Assembler {
	t.Helper()
	base := gridtest.ThreeBus()
	plan, err := sampling.Parse(config.SamplingConfig{
		Topology:        config.MethodConfig{Method: "constant"},
		TotalLoad:       config.MethodConfig{Method: "uniform_factor", Params: map[string]any{"min_val": 0.6, "max_val": 1.4}},
		ActiveLoad:      config.MethodConfig{Method: "uniform_independent_factor", Params: map[string]any{"beta": 0.5}},
		ReactiveLoad:    config.MethodConfig{Method: "uniform_power_factor"},
		ActiveGen:       config.MethodConfig{Method: "homothetic"},
		VoltageSetpoint: config.MethodConfig{Method: "uniform_independent_values"},
	}, base)
	require.NoError(t, err)

	dc := &solver.DC{}
	s, err := sampling.NewSampler(plan, base, dc, nil)
	require.NoError(t, err)

	maxLoading := 60.0
	criteria := filter.Criteria{MaxLoadingPercent: &maxLoading}
	f := filter.New(criteria, topology.NewChecker())

	a, err := New(s, dc, f, Options{Root: root, Seed: 2024, Workers: workers, Criteria: criteria.Enabled()})
	require.NoError(t, err)
	return a
}

func TestBuildSplit_DeterministicAcrossWorkers(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	sp := Split{Name: "train", Index: 0, Size: 8}

	sumA, err := realAssembler(t, rootA, 1).BuildSplit(context.Background(), sp)
	require.NoError(t, err)
	sumB, err := realAssembler(t, rootB, 4).BuildSplit(context.Background(), sp)
	require.NoError(t, err)

	assert.Equal(t, sumA.Samples, sumB.Samples)
	assert.Equal(t, sumA.Attempts, sumB.Attempts)
	assert.Equal(t, sumA.Rejections, sumB.Rejections)

	for i := range sp.Size {
		name := NewLayout("", sp.Size).Sample(i)
		a, err := os.ReadFile(filepath.Join(rootA, "train", name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(rootB, "train", name))
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), name)
	}
}

func TestBuildSplit_SeedChangesSamples(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	sp := Split{Name: "val", Index: 1, Size: 1}

	a := realAssembler(t, rootA, 1)
	_, err := a.BuildSplit(context.Background(), sp)
	require.NoError(t, err)

	b := realAssembler(t, rootB, 1)
	b.opts.Seed = 7
	_, err = b.BuildSplit(context.Background(), sp)
	require.NoError(t, err)

	netA, err := grid.LoadFile(filepath.Join(rootA, "val", "sample_0.json"))
	require.NoError(t, err)
	netB, err := grid.LoadFile(filepath.Join(rootB, "val", "sample_0.json"))
	require.NoError(t, err)
	assert.NotEqual(t, netA.Load[0].PMW, netB.Load[0].PMW)
}
