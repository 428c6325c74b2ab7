package sampling

import (
	"github.com/powerdatagen/datagen/internal/config"
)

// TotalLoadMethod sets the scenario's aggregate active load target.
type TotalLoadMethod interface {
	Method
	totalLoad(e *env, sc *Scenario) error
}

// ConstantTotalLoad keeps the in-service load sum.
type ConstantTotalLoad struct{}

// UniformTotalLoadFactor scales the in-service load sum by a U([min, max]) draw.
type UniformTotalLoadFactor struct{ UniformRange }

// NormalTotalLoadFactor scales the in-service load sum by a N(mean, std) draw.
type NormalTotalLoadFactor struct{ NormalDist }

// UniformTotalLoadValues draws the target from U([min, max]) in MW.
type UniformTotalLoadValues struct{ UniformRange }

// NormalTotalLoadValues draws the target from N(mean, std) in MW.
type NormalTotalLoadValues struct{ NormalDist }

// Name implements Method.
func (ConstantTotalLoad) Name() string { return "constant" }

// Name implements Method.
func (UniformTotalLoadFactor) Name() string { return "uniform_factor" }

// Name implements Method.
func (NormalTotalLoadFactor) Name() string { return "normal_factor" }

// Name implements Method.
func (UniformTotalLoadValues) Name() string { return "uniform_values" }

// Name implements Method.
func (NormalTotalLoadValues) Name() string { return "normal_values" }

func (ConstantTotalLoad) totalLoad(_ *env, sc *Scenario) error {
	sc.TotalLoad = sc.Net.InServiceLoadP()
	return nil
}

func (m UniformTotalLoadFactor) totalLoad(e *env, sc *Scenario) error {
	sc.TotalLoad = sc.Net.InServiceLoadP() * e.uniform(m.UniformRange)
	return nil
}

func (m NormalTotalLoadFactor) totalLoad(e *env, sc *Scenario) error {
	sc.TotalLoad = sc.Net.InServiceLoadP() * e.normal(m.NormalDist)
	return nil
}

func (m UniformTotalLoadValues) totalLoad(e *env, sc *Scenario) error {
	sc.TotalLoad = e.uniform(m.UniformRange)
	return nil
}

func (m NormalTotalLoadValues) totalLoad(e *env, sc *Scenario) error {
	sc.TotalLoad = e.normal(m.NormalDist)
	return nil
}

var (
	unitRange  = UniformRange{MinVal: 1, MaxVal: 1}
	unitNormal = NormalDist{Mean: 1, Std: 0}
)

func parseTotalLoad(cfg config.MethodConfig) (TotalLoadMethod, error) {
	return lookup(StageTotalLoad, cfg, []entry[TotalLoadMethod]{
		{"constant", func(stage string, mc config.MethodConfig) (TotalLoadMethod, error) {
			return ConstantTotalLoad{}, parseNone(stage, mc)
		}},
		{"uniform_factor", func(stage string, mc config.MethodConfig) (TotalLoadMethod, error) {
			p, err := parseUniform(stage, mc, unitRange)
			return UniformTotalLoadFactor{p}, err
		}},
		{"normal_factor", func(stage string, mc config.MethodConfig) (TotalLoadMethod, error) {
			p, err := parseNormal(stage, mc, unitNormal)
			return NormalTotalLoadFactor{p}, err
		}},
		{"uniform_values", func(stage string, mc config.MethodConfig) (TotalLoadMethod, error) {
			p, err := parseUniform(stage, mc, unitRange)
			return UniformTotalLoadValues{p}, err
		}},
		{"normal_values", func(stage string, mc config.MethodConfig) (TotalLoadMethod, error) {
			p, err := parseNormal(stage, mc, unitNormal)
			return NormalTotalLoadValues{p}, err
		}},
	})
}
