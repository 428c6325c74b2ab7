// Package sampling draws candidate scenarios from a baseline network. Each
// stage has a closed set of methods resolved from configuration by Parse; a
// Sampler applies the six stages in order to a fresh copy of the baseline.
package sampling

import (
	"context"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/solver"
)

// Plan holds the resolved method of every stage.
type Plan struct {
	Topology     TopologyMethod
	TotalLoad    TotalLoadMethod
	ActiveLoad   ActiveLoadMethod
	ReactiveLoad ReactiveLoadMethod
	ActiveGen    ActiveGenMethod
	Voltage      VoltageMethod
}

// StageMethod names the method chosen for one stage.
type StageMethod struct {
	Stage  string
	Method string
}

// Parse resolves every stage of cfg against base. Any unknown method or
// malformed parameter yields a *ConfigError.
func Parse(cfg config.SamplingConfig, base *grid.Network) (Plan, error) {
	var (
		p   Plan
		err error
	)
	if p.Topology, err = parseTopology(cfg.Topology, base); err != nil {
		return Plan{}, err
	}
	if p.TotalLoad, err = parseTotalLoad(cfg.TotalLoad); err != nil {
		return Plan{}, err
	}
	if p.ActiveLoad, err = parseActiveLoad(cfg.ActiveLoad); err != nil {
		return Plan{}, err
	}
	if p.ReactiveLoad, err = parseReactiveLoad(cfg.ReactiveLoad); err != nil {
		return Plan{}, err
	}
	if p.ActiveGen, err = parseActiveGen(cfg.ActiveGen); err != nil {
		return Plan{}, err
	}
	if p.Voltage, err = parseVoltage(cfg.VoltageSetpoint); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Stages lists the plan in execution order.
func (p Plan) Stages() []StageMethod {
	return []StageMethod{
		{StageTopology, p.Topology.Name()},
		{StageTotalLoad, p.TotalLoad.Name()},
		{StageActiveLoad, p.ActiveLoad.Name()},
		{StageReactiveLoad, p.ReactiveLoad.Name()},
		{StageActiveGen, p.ActiveGen.Name()},
		{StageVoltage, p.Voltage.Name()},
	}
}

// NeedsOPF reports whether the plan dispatches generation with a DC-OPF.
func (p Plan) NeedsOPF() bool {
	switch p.ActiveGen.(type) {
	case DCOPF, DCOPFDisconnect:
		return true
	default:
		return false
	}
}

// Sampler draws scenarios. It is safe for concurrent use as long as every
// caller passes its own rand.Rand.
type Sampler struct {
	plan       Plan
	base       *grid.Network
	opf        solver.OPF
	opfOptions solver.Options
}

// NewSampler creates a Sampler over base. opf may be nil unless the plan
// dispatches generation with a DC-OPF.
func NewSampler(plan Plan, base *grid.Network, opf solver.OPF, opfOptions solver.Options) (*Sampler, error) {
	if base == nil {
		return nil, eris.New("sampling: baseline network is nil")
	}
	if plan.NeedsOPF() && opf == nil {
		return nil, eris.Errorf("sampling: active_gen method %q requires an OPF solver", plan.ActiveGen.Name())
	}
	return &Sampler{plan: plan, base: base, opf: opf, opfOptions: opfOptions}, nil
}

// Sample clones the baseline and applies topology, total load, active load,
// reactive load, active generation and voltage setpoints in that order. The
// first stage error is returned unchanged; errors.Is(err, ErrInfeasible)
// marks a scenario worth redrawing.
func (s *Sampler) Sample(ctx context.Context, rng *rand.Rand) (*Scenario, error) {
	e := &env{ctx: ctx, rng: rng, base: s.base, opf: s.opf, opfOptions: s.opfOptions}
	sc := &Scenario{Net: s.base.Clone()}

	steps := []struct {
		stage string
		run   func(*env, *Scenario) error
	}{
		{StageTopology, s.plan.Topology.topology},
		{StageTotalLoad, s.plan.TotalLoad.totalLoad},
		{StageActiveLoad, s.plan.ActiveLoad.activeLoad},
		{StageReactiveLoad, s.plan.ReactiveLoad.reactiveLoad},
		{StageActiveGen, s.plan.ActiveGen.activeGen},
		{StageVoltage, s.plan.Voltage.voltage},
	}
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := st.run(e, sc); err != nil {
			zap.L().Debug("sampling: stage failed", zap.String("stage", st.stage), zap.Error(err))
			return nil, err
		}
	}
	return sc, nil
}
