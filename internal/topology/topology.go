// Package topology finds buses that have no energized path to a source.
package topology

import (
	"github.com/rotisserie/eris"

	"github.com/powerdatagen/datagen/internal/grid"
)

// Checker detects unsupplied buses. Sources are in-service ext grids and
// in-service slack gens on in-service buses; edges are in-service lines and
// trafos whose end buses are both in service.
type Checker struct{}

// NewChecker returns a Checker.
func NewChecker() *Checker {
	return &Checker{}
}

// UnsuppliedBuses returns, in ascending order, the in-service buses that
// cannot be reached from any source.
func (c *Checker) UnsuppliedBuses(net *grid.Network) ([]int, error) {
	nb := len(net.Bus)
	valid := func(b int) bool { return b >= 0 && b < nb }

	adj := make([][]int, nb)
	link := func(kind string, i, a, b int) error {
		if !valid(a) || !valid(b) {
			return eris.Errorf("topology: %s %d references unknown bus", kind, i)
		}
		if net.Bus[a].InService && net.Bus[b].InService {
			adj[a] = append(adj[a], b)
			adj[b] = append(adj[b], a)
		}
		return nil
	}
	for i, l := range net.Line {
		if !l.InService {
			continue
		}
		if err := link("line", i, l.FromBus, l.ToBus); err != nil {
			return nil, err
		}
	}
	for i, t := range net.Trafo {
		if !t.InService {
			continue
		}
		if err := link("trafo", i, t.HVBus, t.LVBus); err != nil {
			return nil, err
		}
	}

	reached := make([]bool, nb)
	var queue []int
	visit := func(b int) {
		if valid(b) && net.Bus[b].InService && !reached[b] {
			reached[b] = true
			queue = append(queue, b)
		}
	}
	for _, g := range net.ExtGrid {
		if g.InService {
			visit(g.Bus)
		}
	}
	for _, g := range net.Gen {
		if g.InService && g.Slack {
			visit(g.Bus)
		}
	}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, nbr := range adj[b] {
			visit(nbr)
		}
	}

	var out []int
	for i, bus := range net.Bus {
		if bus.InService && !reached[i] {
			out = append(out, i)
		}
	}
	return out, nil
}
