// Package simplex draws random share vectors that sum to one, or to zero when
// centered, for splitting an aggregate quantity across network elements.
package simplex

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrDomain is returned when a blend coefficient, standard deviation or
// dimension lies outside its domain.
var ErrDomain = errors.New("simplex: parameter out of domain")

// Uniform draws a point of the n-dimensional probability simplex blended with
// the centroid: (1-beta)/n + beta*u where u is uniform on the simplex. beta=0
// yields the centroid, beta=1 a raw uniform draw. Components are non-negative
// unless centered.
func Uniform(rng *rand.Rand, beta float64, n int, centered bool) ([]float64, error) {
	if beta < 0 || beta > 1 {
		return nil, fmt.Errorf("%w: beta must be in [0, 1], got %g", ErrDomain, beta)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: dimension must be >= 0, got %d", ErrDomain, n)
	}
	if n == 0 {
		return []float64{}, nil
	}

	// Order statistics of n-1 uniform draws split [0, 1] into n spacings.
	u := distuv.Uniform{Min: 0, Max: 1, Src: rng}
	cuts := make([]float64, n+1)
	cuts[n] = 1
	for i := 1; i < n; i++ {
		cuts[i] = u.Rand()
	}
	slices.Sort(cuts[1:n])

	out := make([]float64, n)
	floats.SubTo(out, cuts[1:], cuts[:n])
	floats.Scale(beta, out)
	floats.AddConst((1-beta)/float64(n), out)
	return finish(out, centered), nil
}

// Normal draws n values from N(0, std/n), projects them onto the hyperplane
// sum=1 by removing the sample mean and adding 1/n. std=0 yields the centroid.
// Components are not clipped and may be negative for large std.
func Normal(rng *rand.Rand, std float64, n int, centered bool) ([]float64, error) {
	if std < 0 {
		return nil, fmt.Errorf("%w: std must be >= 0, got %g", ErrDomain, std)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: dimension must be >= 0, got %d", ErrDomain, n)
	}
	if n == 0 {
		return []float64{}, nil
	}

	out := make([]float64, n)
	if std > 0 {
		d := distuv.Normal{Mu: 0, Sigma: std / float64(n), Src: rng}
		for i := range out {
			out[i] = d.Rand()
		}
	}
	mean := floats.Sum(out) / float64(n)
	floats.AddConst(1/float64(n)-mean, out)
	return finish(out, centered), nil
}

func finish(v []float64, centered bool) []float64 {
	if centered {
		floats.AddConst(-1/float64(len(v)), v)
	}
	return v
}
