package grid

import (
	"math"
	"slices"
)

// BusResult is the solved state of one bus.
type BusResult struct {
	VmPu     float64 `json:"vm_pu"`
	VaDegree float64 `json:"va_degree"`
	PMW      float64 `json:"p_mw"`
}

// BranchResult is the solved flow on a line or transformer.
type BranchResult struct {
	PFromMW        float64 `json:"p_from_mw"`
	LoadingPercent float64 `json:"loading_percent"`
}

// InjectionResult is the solved active power of a generating element.
type InjectionResult struct {
	PMW float64 `json:"p_mw"`
}

// Results holds solver annotations. Slices are index-aligned with the
// corresponding Network tables.
type Results struct {
	Bus     []BusResult       `json:"bus"`
	Line    []BranchResult    `json:"line"`
	Trafo   []BranchResult    `json:"trafo"`
	Gen     []InjectionResult `json:"gen"`
	SGen    []InjectionResult `json:"sgen"`
	ExtGrid []InjectionResult `json:"ext_grid"`
}

// NewResults allocates zeroed result tables sized for n.
func NewResults(n *Network) *Results {
	return &Results{
		Bus:     make([]BusResult, len(n.Bus)),
		Line:    make([]BranchResult, len(n.Line)),
		Trafo:   make([]BranchResult, len(n.Trafo)),
		Gen:     make([]InjectionResult, len(n.Gen)),
		SGen:    make([]InjectionResult, len(n.SGen)),
		ExtGrid: make([]InjectionResult, len(n.ExtGrid)),
	}
}

// Clone deep-copies r.
func (r *Results) Clone() *Results {
	return &Results{
		Bus:     slices.Clone(r.Bus),
		Line:    slices.Clone(r.Line),
		Trafo:   slices.Clone(r.Trafo),
		Gen:     slices.Clone(r.Gen),
		SGen:    slices.Clone(r.SGen),
		ExtGrid: slices.Clone(r.ExtGrid),
	}
}

// MaxBranchLoading returns the highest loading percentage over lines and
// transformers, or 0 when there are no branches.
func (r *Results) MaxBranchLoading() float64 {
	maxLoading := math.Inf(-1)
	for _, b := range r.Line {
		maxLoading = math.Max(maxLoading, b.LoadingPercent)
	}
	for _, b := range r.Trafo {
		maxLoading = math.Max(maxLoading, b.LoadingPercent)
	}
	if math.IsInf(maxLoading, -1) {
		return 0
	}
	return maxLoading
}
