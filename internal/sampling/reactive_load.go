package sampling

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/powerdatagen/datagen/internal/config"
)

// ReactiveLoadMethod sets reactive power on every load, in service or not.
type ReactiveLoadMethod interface {
	Method
	reactiveLoad(e *env, sc *Scenario) error
}

// ConstantReactiveLoad keeps the baseline reactive loads.
type ConstantReactiveLoad struct{}

// ConstantPQRatio keeps each load's baseline Q/P ratio against its current P.
// Loads with zero baseline P keep their baseline Q.
type ConstantPQRatio struct{}

// UniformReactiveHomothetic scales baseline Q by one U([min, max]) factor.
type UniformReactiveHomothetic struct{ UniformRange }

// NormalReactiveHomothetic scales baseline Q by one N(mean, std) factor.
type NormalReactiveHomothetic struct{ NormalDist }

// UniformReactiveFactor scales each baseline Q by its own U([min, max]) factor.
type UniformReactiveFactor struct{ UniformRange }

// NormalReactiveFactor scales each baseline Q by its own N(mean, std) factor.
type NormalReactiveFactor struct{ NormalDist }

// UniformReactiveValues draws each Q from U([min, max]) in Mvar.
type UniformReactiveValues struct{ UniformRange }

// NormalReactiveValues draws each Q from N(mean, std) in Mvar.
type NormalReactiveValues struct{ NormalDist }

// UniformPowerFactor draws a power factor per load from U([PFMin, PFMax]) and
// sets Q = sign * P * tan(acos(pf)), where sign is -1 with probability FlipProb.
type UniformPowerFactor struct {
	PFMin    float64 `mapstructure:"pf_min"`
	PFMax    float64 `mapstructure:"pf_max"`
	FlipProb float64 `mapstructure:"flip_prob"`
}

// Name implements Method.
func (ConstantReactiveLoad) Name() string { return "constant" }

// Name implements Method.
func (ConstantPQRatio) Name() string { return "constant_pq_ratio" }

// Name implements Method.
func (UniformReactiveHomothetic) Name() string { return "uniform_homothetic_factor" }

// Name implements Method.
func (NormalReactiveHomothetic) Name() string { return "normal_homothetic_factor" }

// Name implements Method.
func (UniformReactiveFactor) Name() string { return "uniform_independent_factor" }

// Name implements Method.
func (NormalReactiveFactor) Name() string { return "normal_independent_factor" }

// Name implements Method.
func (UniformReactiveValues) Name() string { return "uniform_independent_values" }

// Name implements Method.
func (NormalReactiveValues) Name() string { return "normal_independent_values" }

// Name implements Method.
func (UniformPowerFactor) Name() string { return "uniform_power_factor" }

func (ConstantReactiveLoad) reactiveLoad(*env, *Scenario) error { return nil }

func (ConstantPQRatio) reactiveLoad(e *env, sc *Scenario) error {
	for i := range sc.Net.Load {
		b := e.base.Load[i]
		if b.PMW == 0 {
			sc.Net.Load[i].QMvar = b.QMvar
			continue
		}
		sc.Net.Load[i].QMvar = sc.Net.Load[i].PMW * b.QMvar / b.PMW
	}
	return nil
}

func (m UniformReactiveHomothetic) reactiveLoad(e *env, sc *Scenario) error {
	scaleQ(e, sc, e.uniform(m.UniformRange))
	return nil
}

func (m NormalReactiveHomothetic) reactiveLoad(e *env, sc *Scenario) error {
	scaleQ(e, sc, e.normal(m.NormalDist))
	return nil
}

func (m UniformReactiveFactor) reactiveLoad(e *env, sc *Scenario) error {
	for i, f := range e.uniformN(m.UniformRange, len(sc.Net.Load)) {
		sc.Net.Load[i].QMvar = f * e.base.Load[i].QMvar
	}
	return nil
}

func (m NormalReactiveFactor) reactiveLoad(e *env, sc *Scenario) error {
	for i, f := range e.normalN(m.NormalDist, len(sc.Net.Load)) {
		sc.Net.Load[i].QMvar = f * e.base.Load[i].QMvar
	}
	return nil
}

func (m UniformReactiveValues) reactiveLoad(e *env, sc *Scenario) error {
	for i, q := range e.uniformN(m.UniformRange, len(sc.Net.Load)) {
		sc.Net.Load[i].QMvar = q
	}
	return nil
}

func (m NormalReactiveValues) reactiveLoad(e *env, sc *Scenario) error {
	for i, q := range e.normalN(m.NormalDist, len(sc.Net.Load)) {
		sc.Net.Load[i].QMvar = q
	}
	return nil
}

func (m UniformPowerFactor) reactiveLoad(e *env, sc *Scenario) error {
	pf := e.uniformN(UniformRange{MinVal: m.PFMin, MaxVal: m.PFMax}, len(sc.Net.Load))
	flip := distuv.Bernoulli{P: m.FlipProb, Src: e.rng}
	for i := range sc.Net.Load {
		sign := 1.0
		if flip.Rand() == 1 {
			sign = -1
		}
		sc.Net.Load[i].QMvar = sign * sc.Net.Load[i].PMW * math.Tan(math.Acos(pf[i]))
	}
	return nil
}

func scaleQ(e *env, sc *Scenario, factor float64) {
	for i := range sc.Net.Load {
		sc.Net.Load[i].QMvar = factor * e.base.Load[i].QMvar
	}
}

func parseReactiveLoad(cfg config.MethodConfig) (ReactiveLoadMethod, error) {
	return lookup(StageReactiveLoad, cfg, []entry[ReactiveLoadMethod]{
		{"constant", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			return ConstantReactiveLoad{}, parseNone(stage, mc)
		}},
		{"constant_pq_ratio", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			return ConstantPQRatio{}, parseNone(stage, mc)
		}},
		{"uniform_homothetic_factor", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			p, err := parseUniform(stage, mc, unitRange)
			return UniformReactiveHomothetic{p}, err
		}},
		{"normal_homothetic_factor", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			p, err := parseNormal(stage, mc, unitNormal)
			return NormalReactiveHomothetic{p}, err
		}},
		{"uniform_independent_factor", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			p, err := parseUniform(stage, mc, unitRange)
			return UniformReactiveFactor{p}, err
		}},
		{"normal_independent_factor", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			p, err := parseNormal(stage, mc, unitNormal)
			return NormalReactiveFactor{p}, err
		}},
		{"uniform_independent_values", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			p, err := parseUniform(stage, mc, unitRange)
			return UniformReactiveValues{p}, err
		}},
		{"normal_independent_values", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			p, err := parseNormal(stage, mc, unitNormal)
			return NormalReactiveValues{p}, err
		}},
		{"uniform_power_factor", func(stage string, mc config.MethodConfig) (ReactiveLoadMethod, error) {
			m := UniformPowerFactor{PFMin: 0.8, PFMax: 1, FlipProb: 0.1}
			if err := decodeParams(stage, mc, &m); err != nil {
				return nil, err
			}
			c := paramCheck{stage: stage, method: mc.Method}
			c.unit("pf_min", m.PFMin)
			c.unit("pf_max", m.PFMax)
			if m.PFMin == 0 {
				c.failf("pf_min must be > 0")
			}
			if m.PFMin > m.PFMax {
				c.failf("pf_min (%g) must be <= pf_max (%g)", m.PFMin, m.PFMax)
			}
			c.unit("flip_prob", m.FlipProb)
			if err := c.err(); err != nil {
				return nil, err
			}
			return m, nil
		}},
	})
}
