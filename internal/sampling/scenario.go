package sampling

import (
	"context"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/solver"
)

// Scenario is one candidate operating point. Net is exclusively owned by the
// scenario; TotalLoad is the target set by the total load stage.
type Scenario struct {
	Net       *grid.Network
	TotalLoad float64
}

// env carries what every stage may read while mutating a scenario.
type env struct {
	ctx        context.Context
	rng        *rand.Rand
	base       *grid.Network
	opf        solver.OPF
	opfOptions solver.Options
}

func (e *env) uniform(r UniformRange) float64 {
	return distuv.Uniform{Min: r.MinVal, Max: r.MaxVal, Src: e.rng}.Rand()
}

func (e *env) normal(d NormalDist) float64 {
	return distuv.Normal{Mu: d.Mean, Sigma: d.Std, Src: e.rng}.Rand()
}

func (e *env) uniformN(r UniformRange, n int) []float64 {
	u := distuv.Uniform{Min: r.MinVal, Max: r.MaxVal, Src: e.rng}
	out := make([]float64, n)
	for i := range out {
		out[i] = u.Rand()
	}
	return out
}

func (e *env) normalN(d NormalDist, n int) []float64 {
	u := distuv.Normal{Mu: d.Mean, Sigma: d.Std, Src: e.rng}
	out := make([]float64, n)
	for i := range out {
		out[i] = u.Rand()
	}
	return out
}
