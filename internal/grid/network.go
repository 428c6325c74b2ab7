// Package grid holds the tabular power network model shared by the samplers,
// the solvers and the validity filter.
package grid

import (
	"slices"

	"github.com/rotisserie/eris"
)

// Bus is a network node.
type Bus struct {
	Name      string  `json:"name,omitempty"`
	VnKV      float64 `json:"vn_kv"`
	MinVmPu   float64 `json:"min_vm_pu"`
	MaxVmPu   float64 `json:"max_vm_pu"`
	InService bool    `json:"in_service"`
}

// Line is a branch between two buses. XPu is the series reactance on the
// network base SnMVA.
type Line struct {
	Name              string  `json:"name,omitempty"`
	FromBus           int     `json:"from_bus"`
	ToBus             int     `json:"to_bus"`
	XPu               float64 `json:"x_pu"`
	RatingMVA         float64 `json:"rating_mva"`
	MaxLoadingPercent float64 `json:"max_loading_percent"`
	InService         bool    `json:"in_service"`
}

// Trafo is a two-winding transformer.
type Trafo struct {
	Name              string  `json:"name,omitempty"`
	HVBus             int     `json:"hv_bus"`
	LVBus             int     `json:"lv_bus"`
	XPu               float64 `json:"x_pu"`
	SnMVA             float64 `json:"sn_mva"`
	MaxLoadingPercent float64 `json:"max_loading_percent"`
	InService         bool    `json:"in_service"`
}

// Load is a PQ consumer.
type Load struct {
	Name      string  `json:"name,omitempty"`
	Bus       int     `json:"bus"`
	PMW       float64 `json:"p_mw"`
	QMvar     float64 `json:"q_mvar"`
	InService bool    `json:"in_service"`
}

// Gen is a voltage-controlled (PV) generator. A Slack gen acts as a reference
// source when no external grid is present.
type Gen struct {
	Name      string  `json:"name,omitempty"`
	Bus       int     `json:"bus"`
	PMW       float64 `json:"p_mw"`
	VmPu      float64 `json:"vm_pu"`
	MinPMW    float64 `json:"min_p_mw"`
	MaxPMW    float64 `json:"max_p_mw"`
	Slack     bool    `json:"slack,omitempty"`
	InService bool    `json:"in_service"`
}

// SGen is a static (distributed) generator injecting fixed PQ.
type SGen struct {
	Name      string  `json:"name,omitempty"`
	Bus       int     `json:"bus"`
	PMW       float64 `json:"p_mw"`
	QMvar     float64 `json:"q_mvar"`
	MinPMW    float64 `json:"min_p_mw"`
	MaxPMW    float64 `json:"max_p_mw"`
	InService bool    `json:"in_service"`
}

// ExtGrid is an external grid connection; it is the reference bus of its island.
type ExtGrid struct {
	Name      string  `json:"name,omitempty"`
	Bus       int     `json:"bus"`
	VmPu      float64 `json:"vm_pu"`
	MinPMW    float64 `json:"min_p_mw"`
	MaxPMW    float64 `json:"max_p_mw"`
	InService bool    `json:"in_service"`
}

// Element types referenced by PolyCost.
const (
	ElementGen     = "gen"
	ElementSGen    = "sgen"
	ElementExtGrid = "ext_grid"
)

// PolyCost is a quadratic cost curve cp0 + cp1*p + cp2*p^2 attached to one
// generating element.
type PolyCost struct {
	Element int     `json:"element"`
	EType   string  `json:"et"`
	CP0     float64 `json:"cp0_eur"`
	CP1     float64 `json:"cp1_eur_per_mw"`
	CP2     float64 `json:"cp2_eur_per_mw2"`
}

// Network is the full tabular model. A baseline Network is never mutated once
// loaded; scenarios work on a Clone.
type Network struct {
	Name     string     `json:"name,omitempty"`
	SnMVA    float64    `json:"sn_mva"`
	Bus      []Bus      `json:"bus"`
	Line     []Line     `json:"line"`
	Trafo    []Trafo    `json:"trafo"`
	Load     []Load     `json:"load"`
	Gen      []Gen      `json:"gen"`
	SGen     []SGen     `json:"sgen"`
	ExtGrid  []ExtGrid  `json:"ext_grid"`
	PolyCost []PolyCost `json:"poly_cost"`
	Results  *Results   `json:"results,omitempty"`
}

// Clone returns a fully independent deep copy of n.
func (n *Network) Clone() *Network {
	c := &Network{
		Name:     n.Name,
		SnMVA:    n.SnMVA,
		Bus:      slices.Clone(n.Bus),
		Line:     slices.Clone(n.Line),
		Trafo:    slices.Clone(n.Trafo),
		Load:     slices.Clone(n.Load),
		Gen:      slices.Clone(n.Gen),
		SGen:     slices.Clone(n.SGen),
		ExtGrid:  slices.Clone(n.ExtGrid),
		PolyCost: slices.Clone(n.PolyCost),
	}
	if n.Results != nil {
		c.Results = n.Results.Clone()
	}
	return c
}

// Validate checks that every element references an existing bus.
func (n *Network) Validate() error {
	nb := len(n.Bus)
	if nb == 0 {
		return eris.New("grid: network has no buses")
	}
	if n.SnMVA <= 0 {
		return eris.Errorf("grid: sn_mva must be > 0, got %g", n.SnMVA)
	}
	check := func(table string, i, bus int) error {
		if bus < 0 || bus >= nb {
			return eris.Errorf("grid: %s %d references unknown bus %d", table, i, bus)
		}
		return nil
	}
	for i, l := range n.Line {
		if err := check("line", i, l.FromBus); err != nil {
			return err
		}
		if err := check("line", i, l.ToBus); err != nil {
			return err
		}
	}
	for i, t := range n.Trafo {
		if err := check("trafo", i, t.HVBus); err != nil {
			return err
		}
		if err := check("trafo", i, t.LVBus); err != nil {
			return err
		}
	}
	for i, l := range n.Load {
		if err := check("load", i, l.Bus); err != nil {
			return err
		}
	}
	for i, g := range n.Gen {
		if err := check("gen", i, g.Bus); err != nil {
			return err
		}
	}
	for i, g := range n.SGen {
		if err := check("sgen", i, g.Bus); err != nil {
			return err
		}
	}
	for i, g := range n.ExtGrid {
		if err := check("ext_grid", i, g.Bus); err != nil {
			return err
		}
	}
	for i, c := range n.PolyCost {
		var size int
		switch c.EType {
		case ElementGen:
			size = len(n.Gen)
		case ElementSGen:
			size = len(n.SGen)
		case ElementExtGrid:
			size = len(n.ExtGrid)
		default:
			return eris.Errorf("grid: poly_cost %d has unknown element type %q", i, c.EType)
		}
		if c.Element < 0 || c.Element >= size {
			return eris.Errorf("grid: poly_cost %d references unknown %s %d", i, c.EType, c.Element)
		}
	}
	return nil
}

// InServiceLoadP returns the aggregate active power of in-service loads.
func (n *Network) InServiceLoadP() float64 {
	var sum float64
	for _, l := range n.Load {
		if l.InService {
			sum += l.PMW
		}
	}
	return sum
}

// InServiceGenP returns the aggregate active power of in-service gens and sgens.
func (n *Network) InServiceGenP() float64 {
	var sum float64
	for _, g := range n.Gen {
		if g.InService {
			sum += g.PMW
		}
	}
	for _, g := range n.SGen {
		if g.InService {
			sum += g.PMW
		}
	}
	return sum
}
