package solver

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/powerdatagen/datagen/internal/grid"
)

// DC is the built-in solver. Power flow uses the linear DC approximation
// (flat voltage magnitudes, lossless branches, flows from angle differences).
// The DC-OPF is a quadratic-cost economic dispatch checked against branch
// limits, without redispatch around congestion.
//
// Buses of an island with no in-service ext grid or slack gen are left
// de-energized: their voltage magnitude result is 0.
type DC struct{}

const (
	maxAngle   = math.Pi / 2
	minCostCP2 = 1e-6
	lambdaIter = 200
)

// branch is a line or trafo reduced to what the DC model needs.
type branch struct {
	trafo    bool
	idx      int
	from, to int
	x        float64
	rating   float64
}

func activeBranches(net *grid.Network) []branch {
	var out []branch
	for i, l := range net.Line {
		if l.InService && l.XPu != 0 && l.FromBus != l.ToBus && net.Bus[l.FromBus].InService && net.Bus[l.ToBus].InService {
			out = append(out, branch{idx: i, from: l.FromBus, to: l.ToBus, x: l.XPu, rating: l.RatingMVA})
		}
	}
	for i, t := range net.Trafo {
		if t.InService && t.XPu != 0 && t.HVBus != t.LVBus && net.Bus[t.HVBus].InService && net.Bus[t.LVBus].InService {
			out = append(out, branch{trafo: true, idx: i, from: t.HVBus, to: t.LVBus, x: t.XPu, rating: t.SnMVA})
		}
	}
	return out
}

// islands groups in-service buses by connectivity over branches.
func islands(net *grid.Network, branches []branch) [][]int {
	adj := make([][]int, len(net.Bus))
	for _, b := range branches {
		adj[b.from] = append(adj[b.from], b.to)
		adj[b.to] = append(adj[b.to], b.from)
	}
	seen := make([]bool, len(net.Bus))
	var out [][]int
	for start, bus := range net.Bus {
		if !bus.InService || seen[start] {
			continue
		}
		comp := []int{start}
		seen[start] = true
		for k := 0; k < len(comp); k++ {
			for _, nb := range adj[comp[k]] {
				if !seen[nb] {
					seen[nb] = true
					comp = append(comp, nb)
				}
			}
		}
		out = append(out, comp)
	}
	return out
}

// RunPowerFlow implements PowerFlow.
func (DC) RunPowerFlow(ctx context.Context, net *grid.Network, _ Options) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return dcPowerFlow(net), nil
}

func dcPowerFlow(net *grid.Network) Outcome {
	res := grid.NewResults(net)
	base := net.SnMVA

	inj := make([]float64, len(net.Bus))
	for _, l := range net.Load {
		if l.InService {
			inj[l.Bus] -= l.PMW
		}
	}
	for i, g := range net.Gen {
		if g.InService {
			inj[g.Bus] += g.PMW
			res.Gen[i].PMW = g.PMW
		}
	}
	for i, g := range net.SGen {
		if g.InService {
			inj[g.Bus] += g.PMW
			res.SGen[i].PMW = g.PMW
		}
	}

	branches := activeBranches(net)
	theta := make([]float64, len(net.Bus))
	energized := make([]bool, len(net.Bus))

	for _, comp := range islands(net, branches) {
		ref, refKind, refIdx := islandReference(net, comp)
		if ref < 0 {
			continue
		}
		for _, b := range comp {
			energized[b] = true
		}

		var imbalance float64
		for _, b := range comp {
			imbalance += inj[b]
		}
		switch refKind {
		case grid.ElementExtGrid:
			res.ExtGrid[refIdx].PMW = -imbalance
		case grid.ElementGen:
			res.Gen[refIdx].PMW -= imbalance
		}
		inj[ref] -= imbalance

		if len(comp) == 1 {
			continue
		}
		if out, ok := solveIsland(comp, ref, branches, inj, base, theta); !ok {
			return out
		}
	}

	for _, br := range branches {
		if !energized[br.from] {
			continue
		}
		diff := theta[br.from] - theta[br.to]
		if math.Abs(diff) > maxAngle {
			kind := "line"
			if br.trafo {
				kind = "trafo"
			}
			return Outcome{Status: Diverged, Reason: fmt.Sprintf("angle difference across %s %d exceeds 90 degrees", kind, br.idx)}
		}
		flow := diff / br.x * base
		r := grid.BranchResult{PFromMW: flow}
		if br.rating > 0 {
			r.LoadingPercent = math.Abs(flow) / br.rating * 100
		}
		if br.trafo {
			res.Trafo[br.idx] = r
		} else {
			res.Line[br.idx] = r
		}
	}

	for i := range net.Bus {
		if !energized[i] {
			continue
		}
		res.Bus[i].VmPu = 1
		res.Bus[i].VaDegree = theta[i] * 180 / math.Pi
		res.Bus[i].PMW = -inj[i]
	}
	for _, g := range net.Gen {
		if g.InService && energized[g.Bus] {
			res.Bus[g.Bus].VmPu = g.VmPu
		}
	}
	for _, g := range net.ExtGrid {
		if g.InService && energized[g.Bus] {
			res.Bus[g.Bus].VmPu = g.VmPu
		}
	}

	net.Results = res
	return Outcome{Status: Converged}
}

// islandReference picks the first in-service ext grid of the island, else its
// first in-service slack gen. ref is -1 when the island has neither.
func islandReference(net *grid.Network, comp []int) (ref int, kind string, idx int) {
	in := make(map[int]bool, len(comp))
	for _, b := range comp {
		in[b] = true
	}
	for i, g := range net.ExtGrid {
		if g.InService && in[g.Bus] {
			return g.Bus, grid.ElementExtGrid, i
		}
	}
	for i, g := range net.Gen {
		if g.InService && g.Slack && in[g.Bus] {
			return g.Bus, grid.ElementGen, i
		}
	}
	return -1, "", -1
}

// solveIsland solves B*theta = P for the non-reference buses of comp.
func solveIsland(comp []int, ref int, branches []branch, inj []float64, base float64, theta []float64) (Outcome, bool) {
	pos := make(map[int]int, len(comp))
	for _, b := range comp {
		if b != ref {
			pos[b] = len(pos)
		}
	}
	n := len(pos)
	bm := mat.NewSymDense(n, nil)
	for _, br := range branches {
		f, fok := pos[br.from]
		t, tok := pos[br.to]
		if !fok && !tok && br.from != ref && br.to != ref {
			continue
		}
		y := 1 / br.x
		if fok {
			bm.SetSym(f, f, bm.At(f, f)+y)
		}
		if tok {
			bm.SetSym(t, t, bm.At(t, t)+y)
		}
		if fok && tok {
			bm.SetSym(f, t, bm.At(f, t)-y)
		}
	}
	p := mat.NewVecDense(n, nil)
	for b, k := range pos {
		p.SetVec(k, inj[b]/base)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(bm); !ok {
		return Outcome{Status: Diverged, Reason: "singular susceptance matrix"}, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, p); err != nil {
		return Outcome{Status: Diverged, Reason: err.Error()}, false
	}
	for b, k := range pos {
		theta[b] = x.AtVec(k)
	}
	theta[ref] = 0
	return Outcome{}, true
}

// unit is a dispatchable injection for the DC-OPF.
type unit struct {
	kind     string
	idx      int
	min, max float64
	cp1, cp2 float64
}

// RunDCOPF implements OPF. The dispatch is written to net.Results only; the
// element setpoints are left unchanged.
func (DC) RunDCOPF(ctx context.Context, net *grid.Network, _ Options) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	units := dispatchUnits(net)
	demand := net.InServiceLoadP()
	var capMin, capMax float64
	for _, u := range units {
		capMin += u.min
		capMax += u.max
	}
	if len(units) == 0 || demand < capMin-1e-9 || demand > capMax+1e-9 {
		return Outcome{Status: Infeasible, Reason: fmt.Sprintf("demand %.3f MW outside dispatchable range [%.3f, %.3f]", demand, capMin, capMax)}, nil
	}

	dispatch := economicDispatch(units, demand)

	trial := net.Clone()
	for k, u := range units {
		switch u.kind {
		case grid.ElementGen:
			trial.Gen[u.idx].PMW = dispatch[k]
		case grid.ElementSGen:
			trial.SGen[u.idx].PMW = dispatch[k]
		}
	}
	out := dcPowerFlow(trial)
	if out.Status != Converged {
		return Outcome{Status: Infeasible, Reason: out.Reason}, nil
	}
	for i, l := range trial.Line {
		if limit := limitPercent(l.MaxLoadingPercent); trial.Results.Line[i].LoadingPercent > limit+1e-9 {
			return Outcome{Status: Infeasible, Reason: fmt.Sprintf("line %d loaded at %.1f%% above %.1f%%", i, trial.Results.Line[i].LoadingPercent, limit)}, nil
		}
	}
	for i, t := range trial.Trafo {
		if limit := limitPercent(t.MaxLoadingPercent); trial.Results.Trafo[i].LoadingPercent > limit+1e-9 {
			return Outcome{Status: Infeasible, Reason: fmt.Sprintf("trafo %d loaded at %.1f%% above %.1f%%", i, trial.Results.Trafo[i].LoadingPercent, limit)}, nil
		}
	}

	net.Results = trial.Results
	return Outcome{Status: Converged}, nil
}

func limitPercent(p float64) float64 {
	if p <= 0 {
		return 100
	}
	return p
}

func dispatchUnits(net *grid.Network) []unit {
	costs := make(map[string]grid.PolyCost, len(net.PolyCost))
	for _, c := range net.PolyCost {
		costs[fmt.Sprintf("%s/%d", c.EType, c.Element)] = c
	}
	add := func(out []unit, kind string, idx int, lo, hi float64) []unit {
		c := costs[fmt.Sprintf("%s/%d", kind, idx)]
		return append(out, unit{kind: kind, idx: idx, min: lo, max: hi, cp1: c.CP1, cp2: math.Max(c.CP2, minCostCP2)})
	}

	var out []unit
	for i, g := range net.Gen {
		if g.InService {
			out = add(out, grid.ElementGen, i, g.MinPMW, g.MaxPMW)
		}
	}
	for i, g := range net.SGen {
		if g.InService {
			out = add(out, grid.ElementSGen, i, g.MinPMW, g.MaxPMW)
		}
	}
	for i, g := range net.ExtGrid {
		if g.InService {
			out = add(out, grid.ElementExtGrid, i, g.MinPMW, g.MaxPMW)
		}
	}
	return out
}

// economicDispatch equalizes marginal costs cp1 + 2*cp2*p by bisection on the
// system lambda, subject to unit bounds.
func economicDispatch(units []unit, demand float64) []float64 {
	at := func(lambda float64, out []float64) float64 {
		var sum float64
		for k, u := range units {
			p := (lambda - u.cp1) / (2 * u.cp2)
			p = math.Min(math.Max(p, u.min), u.max)
			out[k] = p
			sum += p
		}
		return sum
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, u := range units {
		lo = math.Min(lo, u.cp1+2*u.cp2*u.min)
		hi = math.Max(hi, u.cp1+2*u.cp2*u.max)
	}
	out := make([]float64, len(units))
	for range lambdaIter {
		mid := (lo + hi) / 2
		if at(mid, out) < demand {
			lo = mid
		} else {
			hi = mid
		}
	}
	at(hi, out)
	return out
}
