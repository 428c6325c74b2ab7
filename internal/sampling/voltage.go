package sampling

import (
	"github.com/powerdatagen/datagen/internal/config"
)

// VoltageMethod sets voltage magnitude setpoints of gens then ext grids.
type VoltageMethod interface {
	Method
	voltage(e *env, sc *Scenario) error
}

// ConstantVoltage keeps the baseline setpoints.
type ConstantVoltage struct{}

// UniformVoltageHomothetic scales every baseline setpoint by one shared
// U([min, max]) factor.
type UniformVoltageHomothetic struct{ UniformRange }

// NormalVoltageHomothetic scales every baseline setpoint by one shared
// N(mean, std) factor.
type NormalVoltageHomothetic struct{ NormalDist }

// UniformVoltageFactor scales each baseline setpoint by its own U([min, max])
// factor.
type UniformVoltageFactor struct{ UniformRange }

// NormalVoltageFactor scales each baseline setpoint by its own N(mean, std)
// factor.
type NormalVoltageFactor struct{ NormalDist }

// UniformVoltageValues draws each setpoint from U([min, max]) in p.u.
type UniformVoltageValues struct{ UniformRange }

// NormalVoltageValues draws each setpoint from N(mean, std) in p.u.
type NormalVoltageValues struct{ NormalDist }

// Name implements Method.
func (ConstantVoltage) Name() string { return "constant" }

// Name implements Method.
func (UniformVoltageHomothetic) Name() string { return "uniform_homothetic_factor" }

// Name implements Method.
func (NormalVoltageHomothetic) Name() string { return "normal_homothetic_factor" }

// Name implements Method.
func (UniformVoltageFactor) Name() string { return "uniform_independent_factor" }

// Name implements Method.
func (NormalVoltageFactor) Name() string { return "normal_independent_factor" }

// Name implements Method.
func (UniformVoltageValues) Name() string { return "uniform_independent_values" }

// Name implements Method.
func (NormalVoltageValues) Name() string { return "normal_independent_values" }

func (ConstantVoltage) voltage(*env, *Scenario) error { return nil }

func (m UniformVoltageHomothetic) voltage(e *env, sc *Scenario) error {
	f := e.uniform(m.UniformRange)
	scaleVoltages(e, sc, func(int) float64 { return f })
	return nil
}

func (m NormalVoltageHomothetic) voltage(e *env, sc *Scenario) error {
	f := e.normal(m.NormalDist)
	scaleVoltages(e, sc, func(int) float64 { return f })
	return nil
}

func (m UniformVoltageFactor) voltage(e *env, sc *Scenario) error {
	f := e.uniformN(m.UniformRange, len(sc.Net.Gen)+len(sc.Net.ExtGrid))
	scaleVoltages(e, sc, func(k int) float64 { return f[k] })
	return nil
}

func (m NormalVoltageFactor) voltage(e *env, sc *Scenario) error {
	f := e.normalN(m.NormalDist, len(sc.Net.Gen)+len(sc.Net.ExtGrid))
	scaleVoltages(e, sc, func(k int) float64 { return f[k] })
	return nil
}

func (m UniformVoltageValues) voltage(e *env, sc *Scenario) error {
	setVoltages(sc, e.uniformN(m.UniformRange, len(sc.Net.Gen)+len(sc.Net.ExtGrid)))
	return nil
}

func (m NormalVoltageValues) voltage(e *env, sc *Scenario) error {
	setVoltages(sc, e.normalN(m.NormalDist, len(sc.Net.Gen)+len(sc.Net.ExtGrid)))
	return nil
}

// scaleVoltages multiplies baseline setpoints by factor(k), k indexing gens
// then ext grids.
func scaleVoltages(e *env, sc *Scenario, factor func(k int) float64) {
	ng := len(sc.Net.Gen)
	for i := range sc.Net.Gen {
		sc.Net.Gen[i].VmPu = factor(i) * e.base.Gen[i].VmPu
	}
	for i := range sc.Net.ExtGrid {
		sc.Net.ExtGrid[i].VmPu = factor(ng+i) * e.base.ExtGrid[i].VmPu
	}
}

func setVoltages(sc *Scenario, v []float64) {
	ng := len(sc.Net.Gen)
	for i := range sc.Net.Gen {
		sc.Net.Gen[i].VmPu = v[i]
	}
	for i := range sc.Net.ExtGrid {
		sc.Net.ExtGrid[i].VmPu = v[ng+i]
	}
}

func parseVoltage(cfg config.MethodConfig) (VoltageMethod, error) {
	return lookup(StageVoltage, cfg, []entry[VoltageMethod]{
		{"constant", func(stage string, mc config.MethodConfig) (VoltageMethod, error) {
			return ConstantVoltage{}, parseNone(stage, mc)
		}},
		{"uniform_homothetic_factor", func(stage string, mc config.MethodConfig) (VoltageMethod, error) {
			p, err := parseUniform(stage, mc, unitRange)
			return UniformVoltageHomothetic{p}, err
		}},
		{"normal_homothetic_factor", func(stage string, mc config.MethodConfig) (VoltageMethod, error) {
			p, err := parseNormal(stage, mc, unitNormal)
			return NormalVoltageHomothetic{p}, err
		}},
		{"uniform_independent_factor", func(stage string, mc config.MethodConfig) (VoltageMethod, error) {
			p, err := parseUniform(stage, mc, unitRange)
			return UniformVoltageFactor{p}, err
		}},
		{"normal_independent_factor", func(stage string, mc config.MethodConfig) (VoltageMethod, error) {
			p, err := parseNormal(stage, mc, unitNormal)
			return NormalVoltageFactor{p}, err
		}},
		{"uniform_independent_values", func(stage string, mc config.MethodConfig) (VoltageMethod, error) {
			p, err := parseUniform(stage, mc, UniformRange{MinVal: 0.9, MaxVal: 1.1})
			return UniformVoltageValues{p}, err
		}},
		{"normal_independent_values", func(stage string, mc config.MethodConfig) (VoltageMethod, error) {
			p, err := parseNormal(stage, mc, NormalDist{Mean: 1, Std: 0.1})
			return NormalVoltageValues{p}, err
		}},
	})
}
