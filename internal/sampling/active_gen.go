package sampling

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/simplex"
	"github.com/powerdatagen/datagen/internal/solver"
)

// ActiveGenMethod dispatches active power across gens and sgens.
type ActiveGenMethod interface {
	Method
	activeGen(e *env, sc *Scenario) error
}

// HomotheticActiveGen rescales baseline gen and sgen output jointly so that
// their sum equals TotalLoad * GenToLoadRatio.
type HomotheticActiveGen struct {
	GenToLoadRatio float64 `mapstructure:"gen_to_load_ratio"`
}

// UniformActiveGenFactor perturbs baseline generation shares with a centered
// uniform simplex draw.
type UniformActiveGenFactor struct {
	GenToLoadRatio float64 `mapstructure:"gen_to_load_ratio"`
	Beta           float64 `mapstructure:"beta"`
}

// NormalActiveGenFactor perturbs baseline generation shares with a centered
// normal simplex draw.
type NormalActiveGenFactor struct {
	GenToLoadRatio float64 `mapstructure:"gen_to_load_ratio"`
	Std            float64 `mapstructure:"std"`
}

// UniformActiveGenValues splits the generation target by a fresh uniform
// simplex draw.
type UniformActiveGenValues struct {
	GenToLoadRatio float64 `mapstructure:"gen_to_load_ratio"`
	Beta           float64 `mapstructure:"beta"`
}

// NormalActiveGenValues splits the generation target by a fresh normal
// simplex draw.
type NormalActiveGenValues struct {
	GenToLoadRatio float64 `mapstructure:"gen_to_load_ratio"`
	Std            float64 `mapstructure:"std"`
}

// CostRanges bounds the uniform draws of quadratic cost coefficients.
type CostRanges struct {
	MinCP0 float64 `mapstructure:"min_cp0"`
	MaxCP0 float64 `mapstructure:"max_cp0"`
	MinCP1 float64 `mapstructure:"min_cp1"`
	MaxCP1 float64 `mapstructure:"max_cp1"`
	MinCP2 float64 `mapstructure:"min_cp2"`
	MaxCP2 float64 `mapstructure:"max_cp2"`
}

// DCOPF draws random cost curves and dispatches generation with a DC optimal
// power flow.
type DCOPF struct {
	CostRanges `mapstructure:",squash"`
}

// DCOPFDisconnect solves a first DC-OPF with minimum outputs relaxed to zero
// and branch limits set to MaxLoadingPercent, disconnects units dispatched
// below their minimum, then re-solves with the minimums restored.
type DCOPFDisconnect struct {
	CostRanges        `mapstructure:",squash"`
	MaxLoadingPercent float64 `mapstructure:"max_loading_percent"`
}

// Name implements Method.
func (HomotheticActiveGen) Name() string { return "homothetic" }

// Name implements Method.
func (UniformActiveGenFactor) Name() string { return "uniform_independent_factor" }

// Name implements Method.
func (NormalActiveGenFactor) Name() string { return "normal_independent_factor" }

// Name implements Method.
func (UniformActiveGenValues) Name() string { return "uniform_independent_values" }

// Name implements Method.
func (NormalActiveGenValues) Name() string { return "normal_independent_values" }

// Name implements Method.
func (DCOPF) Name() string { return "dc_opf" }

// Name implements Method.
func (DCOPFDisconnect) Name() string { return "dc_opf_disconnect" }

// genUnit addresses one gen or sgen row.
type genUnit struct {
	sgen bool
	i    int
}

func (u genUnit) p(net *grid.Network) float64 {
	if u.sgen {
		return net.SGen[u.i].PMW
	}
	return net.Gen[u.i].PMW
}

func (u genUnit) setP(net *grid.Network, v float64) {
	if u.sgen {
		net.SGen[u.i].PMW = v
	} else {
		net.Gen[u.i].PMW = v
	}
}

// inServiceUnits lists in-service gens followed by in-service sgens.
func inServiceUnits(net *grid.Network) []genUnit {
	var units []genUnit
	for i, g := range net.Gen {
		if g.InService {
			units = append(units, genUnit{i: i})
		}
	}
	for i, g := range net.SGen {
		if g.InService {
			units = append(units, genUnit{sgen: true, i: i})
		}
	}
	return units
}

func setUnits(net *grid.Network, units []genUnit, shares []float64, total float64) {
	for k, u := range units {
		u.setP(net, shares[k]*total)
	}
}

// baseShares returns each unit's share of the baseline output of units.
func baseShares(e *env, units []genUnit) ([]float64, error) {
	base := make([]float64, len(units))
	for k, u := range units {
		base[k] = u.p(e.base)
	}
	return normalize("generation", base)
}

func (m HomotheticActiveGen) activeGen(e *env, sc *Scenario) error {
	total := sc.TotalLoad * m.GenToLoadRatio
	units := inServiceUnits(sc.Net)
	if err := requireParticipants("generator", len(units), total); err != nil || len(units) == 0 {
		return err
	}
	shares, err := baseShares(e, units)
	if err != nil {
		return err
	}
	setUnits(sc.Net, units, shares, total)
	return nil
}

// factorParticipants splits in-service units into those with non-zero
// baseline output and the rest, which are set to zero.
func factorParticipants(e *env, sc *Scenario) []genUnit {
	var active []genUnit
	for _, u := range inServiceUnits(sc.Net) {
		if u.p(e.base) != 0 {
			active = append(active, u)
		} else {
			u.setP(sc.Net, 0)
		}
	}
	return active
}

// The uniform variant perturbs every in-service unit, idle ones included.
func (m UniformActiveGenFactor) activeGen(e *env, sc *Scenario) error {
	return perturbGen(e, sc, inServiceUnits(sc.Net), m.GenToLoadRatio, func(n int) ([]float64, error) {
		return simplex.Uniform(e.rng, m.Beta, n, true)
	})
}

func (m NormalActiveGenFactor) activeGen(e *env, sc *Scenario) error {
	return perturbGen(e, sc, factorParticipants(e, sc), m.GenToLoadRatio, func(n int) ([]float64, error) {
		return simplex.Normal(e.rng, m.Std, n, true)
	})
}

func perturbGen(e *env, sc *Scenario, units []genUnit, ratio float64, draw func(n int) ([]float64, error)) error {
	total := sc.TotalLoad * ratio
	if err := requireParticipants("generator", len(units), total); err != nil || len(units) == 0 {
		return err
	}
	shares, err := baseShares(e, units)
	if err != nil {
		return err
	}
	delta, err := draw(len(units))
	if err != nil {
		return err
	}
	floats.Add(shares, delta)
	setUnits(sc.Net, units, shares, total)
	return nil
}

func (m UniformActiveGenValues) activeGen(e *env, sc *Scenario) error {
	return splitGen(sc, m.GenToLoadRatio, func(n int) ([]float64, error) {
		return simplex.Uniform(e.rng, m.Beta, n, false)
	})
}

func (m NormalActiveGenValues) activeGen(e *env, sc *Scenario) error {
	return splitGen(sc, m.GenToLoadRatio, func(n int) ([]float64, error) {
		return simplex.Normal(e.rng, m.Std, n, false)
	})
}

func splitGen(sc *Scenario, ratio float64, draw func(n int) ([]float64, error)) error {
	total := sc.TotalLoad * ratio
	units := inServiceUnits(sc.Net)
	if err := requireParticipants("generator", len(units), total); err != nil || len(units) == 0 {
		return err
	}
	shares, err := draw(len(units))
	if err != nil {
		return err
	}
	setUnits(sc.Net, units, shares, total)
	return nil
}

// drawCosts replaces every cost curve coefficient with a uniform draw.
func (r CostRanges) drawCosts(e *env, net *grid.Network) {
	n := len(net.PolyCost)
	cp0 := e.uniformN(UniformRange{MinVal: r.MinCP0, MaxVal: r.MaxCP0}, n)
	cp1 := e.uniformN(UniformRange{MinVal: r.MinCP1, MaxVal: r.MaxCP1}, n)
	cp2 := e.uniformN(UniformRange{MinVal: r.MinCP2, MaxVal: r.MaxCP2}, n)
	for i := range net.PolyCost {
		net.PolyCost[i].CP0 = cp0[i]
		net.PolyCost[i].CP1 = cp1[i]
		net.PolyCost[i].CP2 = cp2[i]
	}
}

// solveOPF runs the DC-OPF and maps non-converged outcomes to ErrInfeasible.
func solveOPF(e *env, net *grid.Network) error {
	if e.opf == nil {
		return eris.New("sampling: no OPF solver configured")
	}
	out, err := e.opf.RunDCOPF(e.ctx, net, e.opfOptions)
	if err != nil {
		return eris.Wrap(err, "sampling: run dc opf")
	}
	if out.Status != solver.Converged {
		return infeasible("dc opf %s: %s", out.Status, out.Reason)
	}
	if net.Results == nil || len(net.Results.Gen) != len(net.Gen) || len(net.Results.SGen) != len(net.SGen) {
		return eris.New("sampling: dc opf returned no generator results")
	}
	return nil
}

func copyDispatch(net *grid.Network) {
	for i := range net.Gen {
		net.Gen[i].PMW = net.Results.Gen[i].PMW
	}
	for i := range net.SGen {
		net.SGen[i].PMW = net.Results.SGen[i].PMW
	}
}

func (m DCOPF) activeGen(e *env, sc *Scenario) error {
	m.drawCosts(e, sc.Net)
	if err := solveOPF(e, sc.Net); err != nil {
		return err
	}
	copyDispatch(sc.Net)
	return nil
}

func (m DCOPFDisconnect) activeGen(e *env, sc *Scenario) error {
	net := sc.Net

	genMin := make([]float64, len(net.Gen))
	for i := range net.Gen {
		genMin[i] = net.Gen[i].MinPMW
		net.Gen[i].MinPMW = 0
	}
	sgenMin := make([]float64, len(net.SGen))
	for i := range net.SGen {
		sgenMin[i] = net.SGen[i].MinPMW
		net.SGen[i].MinPMW = 0
	}

	m.drawCosts(e, net)
	setBranchLimits(net, m.MaxLoadingPercent)

	if err := solveOPF(e, net); err != nil {
		return err
	}

	for i := range net.Gen {
		if net.Gen[i].InService && net.Results.Gen[i].PMW < genMin[i] {
			net.Gen[i].InService = false
			net.Gen[i].PMW = 0
		}
		net.Gen[i].MinPMW = genMin[i]
	}
	for i := range net.SGen {
		if net.SGen[i].InService && net.Results.SGen[i].PMW < sgenMin[i] {
			net.SGen[i].InService = false
			net.SGen[i].PMW = 0
		}
		net.SGen[i].MinPMW = sgenMin[i]
	}

	if err := solveOPF(e, net); err != nil {
		return err
	}
	copyDispatch(net)
	setBranchLimits(net, 100)
	return nil
}

func setBranchLimits(net *grid.Network, percent float64) {
	for i := range net.Line {
		net.Line[i].MaxLoadingPercent = percent
	}
	for i := range net.Trafo {
		net.Trafo[i].MaxLoadingPercent = percent
	}
}

const defaultGenToLoadRatio = 1.02

func parseActiveGen(cfg config.MethodConfig) (ActiveGenMethod, error) {
	return lookup(StageActiveGen, cfg, []entry[ActiveGenMethod]{
		{"homothetic", func(stage string, mc config.MethodConfig) (ActiveGenMethod, error) {
			m := HomotheticActiveGen{GenToLoadRatio: defaultGenToLoadRatio}
			return checkGen(stage, mc, &m, m.ratioCheck)
		}},
		{"uniform_independent_factor", func(stage string, mc config.MethodConfig) (ActiveGenMethod, error) {
			m := UniformActiveGenFactor{GenToLoadRatio: defaultGenToLoadRatio, Beta: 1}
			return checkGen(stage, mc, &m, func(c *paramCheck) {
				c.ratio(m.GenToLoadRatio)
				c.unit("beta", m.Beta)
			})
		}},
		{"normal_independent_factor", func(stage string, mc config.MethodConfig) (ActiveGenMethod, error) {
			m := NormalActiveGenFactor{GenToLoadRatio: defaultGenToLoadRatio}
			return checkGen(stage, mc, &m, func(c *paramCheck) {
				c.ratio(m.GenToLoadRatio)
				c.nonNegative("std", m.Std)
			})
		}},
		{"uniform_independent_values", func(stage string, mc config.MethodConfig) (ActiveGenMethod, error) {
			m := UniformActiveGenValues{GenToLoadRatio: defaultGenToLoadRatio, Beta: 1}
			return checkGen(stage, mc, &m, func(c *paramCheck) {
				c.ratio(m.GenToLoadRatio)
				c.unit("beta", m.Beta)
			})
		}},
		{"normal_independent_values", func(stage string, mc config.MethodConfig) (ActiveGenMethod, error) {
			m := NormalActiveGenValues{GenToLoadRatio: defaultGenToLoadRatio}
			return checkGen(stage, mc, &m, func(c *paramCheck) {
				c.ratio(m.GenToLoadRatio)
				c.nonNegative("std", m.Std)
			})
		}},
		{"dc_opf", func(stage string, mc config.MethodConfig) (ActiveGenMethod, error) {
			var m DCOPF
			return checkGen(stage, mc, &m, m.costCheck)
		}},
		{"dc_opf_disconnect", func(stage string, mc config.MethodConfig) (ActiveGenMethod, error) {
			m := DCOPFDisconnect{MaxLoadingPercent: 85}
			return checkGen(stage, mc, &m, func(c *paramCheck) {
				m.costCheck(c)
				c.finite("max_loading_percent", m.MaxLoadingPercent)
				if m.MaxLoadingPercent <= 0 {
					c.failf("max_loading_percent must be > 0, got %g", m.MaxLoadingPercent)
				}
			})
		}},
	})
}

// checkGen decodes params into m, then runs check on the decoded value.
func checkGen[T ActiveGenMethod](stage string, mc config.MethodConfig, m *T, check func(c *paramCheck)) (ActiveGenMethod, error) {
	if err := decodeParams(stage, mc, m); err != nil {
		return nil, err
	}
	c := paramCheck{stage: stage, method: mc.Method}
	check(&c)
	if err := c.err(); err != nil {
		return nil, err
	}
	return *m, nil
}

func (c *paramCheck) ratio(v float64) {
	c.finite("gen_to_load_ratio", v)
	if v <= 0 {
		c.failf("gen_to_load_ratio must be > 0, got %g", v)
	}
}

func (m *HomotheticActiveGen) ratioCheck(c *paramCheck) { c.ratio(m.GenToLoadRatio) }

func (r *CostRanges) costCheck(c *paramCheck) {
	c.rangeOK("min_cp0", r.MinCP0, "max_cp0", r.MaxCP0)
	c.rangeOK("min_cp1", r.MinCP1, "max_cp1", r.MaxCP1)
	c.rangeOK("min_cp2", r.MinCP2, "max_cp2", r.MaxCP2)
}
