package sampling

import (
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/grid"
)

// TopologyMethod switches elements out of service.
type TopologyMethod interface {
	Method
	topology(e *env, sc *Scenario) error
}

// ConstantTopology keeps the baseline topology.
type ConstantTopology struct{}

// Name implements Method.
func (ConstantTopology) Name() string { return "constant" }

func (ConstantTopology) topology(*env, *Scenario) error { return nil }

// Disconnection draws how many elements of one table to disconnect, then
// which ones among the eligible indices.
type Disconnection struct {
	Counts   []int
	Probs    []float64
	Eligible []int
}

// RandomDisconnection disconnects random gens, loads and lines. A nil table
// entry leaves that table untouched.
type RandomDisconnection struct {
	Gen  *Disconnection
	Load *Disconnection
	Line *Disconnection
}

// Name implements Method.
func (RandomDisconnection) Name() string { return "random_disconnection" }

func (m RandomDisconnection) topology(e *env, sc *Scenario) error {
	if m.Gen != nil {
		for _, i := range m.Gen.draw(e) {
			sc.Net.Gen[i].InService = false
		}
	}
	if m.Load != nil {
		for _, i := range m.Load.draw(e) {
			sc.Net.Load[i].InService = false
		}
	}
	if m.Line != nil {
		for _, i := range m.Line.draw(e) {
			sc.Net.Line[i].InService = false
		}
	}
	return nil
}

func (d *Disconnection) draw(e *env) []int {
	cat := distuv.NewCategorical(d.Probs, e.rng)
	n := d.Counts[int(cat.Rand())]
	if n == 0 {
		return nil
	}
	perm := e.rng.Perm(len(d.Eligible))
	out := make([]int, n)
	for i := range out {
		out[i] = d.Eligible[perm[i]]
	}
	return out
}

type disconnectionParams struct {
	Probs     map[int]float64 `mapstructure:"probs"`
	BlackList []int           `mapstructure:"black_list"`
}

type randomDisconnectionParams struct {
	Gen  *disconnectionParams `mapstructure:"gen"`
	Load *disconnectionParams `mapstructure:"load"`
	Line *disconnectionParams `mapstructure:"line"`
}

func parseTopology(cfg config.MethodConfig, base *grid.Network) (TopologyMethod, error) {
	return lookup(StageTopology, cfg, []entry[TopologyMethod]{
		{"constant", func(stage string, mc config.MethodConfig) (TopologyMethod, error) {
			return ConstantTopology{}, parseNone(stage, mc)
		}},
		{"random_disconnection", func(stage string, mc config.MethodConfig) (TopologyMethod, error) {
			var p randomDisconnectionParams
			if err := decodeParams(stage, mc, &p); err != nil {
				return nil, err
			}
			c := paramCheck{stage: stage, method: mc.Method}
			m := RandomDisconnection{
				Gen:  buildDisconnection(&c, "gen", p.Gen, len(base.Gen)),
				Load: buildDisconnection(&c, "load", p.Load, len(base.Load)),
				Line: buildDisconnection(&c, "line", p.Line, len(base.Line)),
			}
			if err := c.err(); err != nil {
				return nil, err
			}
			return m, nil
		}},
	})
}

func buildDisconnection(c *paramCheck, table string, p *disconnectionParams, size int) *Disconnection {
	if p == nil {
		return nil
	}
	if len(p.Probs) == 0 {
		c.failf("%s.probs must not be empty", table)
		return nil
	}

	blocked := make(map[int]bool, len(p.BlackList))
	for _, i := range p.BlackList {
		if i < 0 || i >= size {
			c.failf("%s.black_list index %d out of range [0, %d)", table, i, size)
			continue
		}
		blocked[i] = true
	}
	d := &Disconnection{}
	for i := range size {
		if !blocked[i] {
			d.Eligible = append(d.Eligible, i)
		}
	}

	var sum float64
	for _, count := range slices.Sorted(maps.Keys(p.Probs)) {
		prob := p.Probs[count]
		if count < 0 {
			c.failf("%s.probs count %d must be >= 0", table, count)
		}
		if !(prob >= 0) || math.IsInf(prob, 0) {
			c.failf("%s.probs[%d] must be a finite probability, got %g", table, count, prob)
		}
		if prob > 0 && count > len(d.Eligible) {
			c.failf("%s.probs count %d exceeds the %d eligible elements", table, count, len(d.Eligible))
		}
		d.Counts = append(d.Counts, count)
		d.Probs = append(d.Probs, prob)
		sum += prob
	}
	if math.Abs(sum-1) > 1e-9 {
		c.failf("%s.probs must sum to 1, got %g", table, sum)
	}
	return d
}
