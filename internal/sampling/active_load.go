package sampling

import (
	"gonum.org/v1/gonum/floats"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/simplex"
)

// ActiveLoadMethod distributes the total load target across in-service loads.
type ActiveLoadMethod interface {
	Method
	activeLoad(e *env, sc *Scenario) error
}

// HomotheticActiveLoad rescales baseline loads by one shared factor.
type HomotheticActiveLoad struct{}

// UniformActiveLoadFactor perturbs the baseline load shares with a centered
// uniform simplex draw.
type UniformActiveLoadFactor struct {
	Beta float64
}

// NormalActiveLoadFactor perturbs the baseline load shares with a centered
// normal simplex draw.
type NormalActiveLoadFactor struct {
	Std float64
}

// UniformActiveLoadValues splits the target by a fresh uniform simplex draw.
type UniformActiveLoadValues struct {
	Beta float64
}

// NormalActiveLoadValues splits the target by a fresh normal simplex draw.
type NormalActiveLoadValues struct {
	Std float64
}

// Name implements Method.
func (HomotheticActiveLoad) Name() string { return "homothetic" }

// Name implements Method.
func (UniformActiveLoadFactor) Name() string { return "uniform_independent_factor" }

// Name implements Method.
func (NormalActiveLoadFactor) Name() string { return "normal_independent_factor" }

// Name implements Method.
func (UniformActiveLoadValues) Name() string { return "uniform_independent_values" }

// Name implements Method.
func (NormalActiveLoadValues) Name() string { return "normal_independent_values" }

func (HomotheticActiveLoad) activeLoad(e *env, sc *Scenario) error {
	idx, shares, err := loadShares(e, sc)
	if err != nil || len(idx) == 0 {
		return err
	}
	setLoads(sc, idx, shares)
	return nil
}

func (m UniformActiveLoadFactor) activeLoad(e *env, sc *Scenario) error {
	idx, shares, err := loadShares(e, sc)
	if err != nil || len(idx) == 0 {
		return err
	}
	delta, err := simplex.Uniform(e.rng, m.Beta, len(idx), true)
	if err != nil {
		return err
	}
	floats.Add(shares, delta)
	setLoads(sc, idx, shares)
	return nil
}

func (m NormalActiveLoadFactor) activeLoad(e *env, sc *Scenario) error {
	idx, shares, err := loadShares(e, sc)
	if err != nil || len(idx) == 0 {
		return err
	}
	delta, err := simplex.Normal(e.rng, m.Std, len(idx), true)
	if err != nil {
		return err
	}
	floats.Add(shares, delta)
	setLoads(sc, idx, shares)
	return nil
}

func (m UniformActiveLoadValues) activeLoad(e *env, sc *Scenario) error {
	idx := inServiceLoads(sc.Net)
	if err := requireParticipants("load", len(idx), sc.TotalLoad); err != nil || len(idx) == 0 {
		return err
	}
	shares, err := simplex.Uniform(e.rng, m.Beta, len(idx), false)
	if err != nil {
		return err
	}
	setLoads(sc, idx, shares)
	return nil
}

func (m NormalActiveLoadValues) activeLoad(e *env, sc *Scenario) error {
	idx := inServiceLoads(sc.Net)
	if err := requireParticipants("load", len(idx), sc.TotalLoad); err != nil || len(idx) == 0 {
		return err
	}
	shares, err := simplex.Normal(e.rng, m.Std, len(idx), false)
	if err != nil {
		return err
	}
	setLoads(sc, idx, shares)
	return nil
}

func inServiceLoads(net *grid.Network) []int {
	var idx []int
	for i, l := range net.Load {
		if l.InService {
			idx = append(idx, i)
		}
	}
	return idx
}

// loadShares returns the in-service loads of the scenario and their share of
// the matching baseline active power.
func loadShares(e *env, sc *Scenario) ([]int, []float64, error) {
	idx := inServiceLoads(sc.Net)
	if err := requireParticipants("load", len(idx), sc.TotalLoad); err != nil || len(idx) == 0 {
		return nil, nil, err
	}
	base := make([]float64, len(idx))
	for k, i := range idx {
		base[k] = e.base.Load[i].PMW
	}
	shares, err := normalize("load", base)
	return idx, shares, err
}

func setLoads(sc *Scenario, idx []int, shares []float64) {
	for k, i := range idx {
		sc.Net.Load[i].PMW = shares[k] * sc.TotalLoad
	}
}

// requireParticipants rejects a non-zero target with nobody to carry it.
func requireParticipants(what string, n int, target float64) error {
	if n == 0 && target != 0 {
		return infeasible("no in-service %s to carry %g MW", what, target)
	}
	return nil
}

// normalize divides v by its sum in place.
func normalize(what string, v []float64) ([]float64, error) {
	sum := floats.Sum(v)
	if sum == 0 {
		return nil, infeasible("baseline %s sum is zero", what)
	}
	floats.Scale(1/sum, v)
	return v, nil
}

func parseActiveLoad(cfg config.MethodConfig) (ActiveLoadMethod, error) {
	return lookup(StageActiveLoad, cfg, []entry[ActiveLoadMethod]{
		{"homothetic", func(stage string, mc config.MethodConfig) (ActiveLoadMethod, error) {
			return HomotheticActiveLoad{}, parseNone(stage, mc)
		}},
		{"uniform_independent_factor", func(stage string, mc config.MethodConfig) (ActiveLoadMethod, error) {
			m := UniformActiveLoadFactor{Beta: 1}
			err := parseBeta(stage, mc, &m.Beta)
			return m, err
		}},
		{"normal_independent_factor", func(stage string, mc config.MethodConfig) (ActiveLoadMethod, error) {
			m := NormalActiveLoadFactor{Std: 0}
			err := parseStd(stage, mc, &m.Std)
			return m, err
		}},
		{"uniform_independent_values", func(stage string, mc config.MethodConfig) (ActiveLoadMethod, error) {
			m := UniformActiveLoadValues{Beta: 0}
			err := parseBeta(stage, mc, &m.Beta)
			return m, err
		}},
		{"normal_independent_values", func(stage string, mc config.MethodConfig) (ActiveLoadMethod, error) {
			m := NormalActiveLoadValues{Std: 0}
			err := parseStd(stage, mc, &m.Std)
			return m, err
		}},
	})
}

func parseBeta(stage string, mc config.MethodConfig, beta *float64) error {
	p := struct {
		Beta float64 `mapstructure:"beta"`
	}{*beta}
	if err := decodeParams(stage, mc, &p); err != nil {
		return err
	}
	*beta = p.Beta
	c := paramCheck{stage: stage, method: mc.Method}
	c.unit("beta", p.Beta)
	return c.err()
}

func parseStd(stage string, mc config.MethodConfig, std *float64) error {
	p := struct {
		Std float64 `mapstructure:"std"`
	}{*std}
	if err := decodeParams(stage, mc, &p); err != nil {
		return err
	}
	*std = p.Std
	c := paramCheck{stage: stage, method: mc.Method}
	c.nonNegative("std", p.Std)
	return c.err()
}
