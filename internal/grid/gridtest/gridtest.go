// Package gridtest builds small networks for tests.
package gridtest

import "github.com/powerdatagen/datagen/internal/grid"

// ThreeBus returns a meshed 3-bus network: an external grid on bus 0, a
// generator on bus 1 and two loads totalling 300 MW (100 on bus 1, 200 on
// bus 2). Lines 0-1, 1-2 and 0-2 are rated 500 MVA.
func ThreeBus() *grid.Network {
	return &grid.Network{
		Name:  "three-bus",
		SnMVA: 100,
		Bus: []grid.Bus{
			{Name: "b0", VnKV: 110, MinVmPu: 0.9, MaxVmPu: 1.1, InService: true},
			{Name: "b1", VnKV: 110, MinVmPu: 0.9, MaxVmPu: 1.1, InService: true},
			{Name: "b2", VnKV: 110, MinVmPu: 0.9, MaxVmPu: 1.1, InService: true},
		},
		Line: []grid.Line{
			{Name: "l01", FromBus: 0, ToBus: 1, XPu: 0.1, RatingMVA: 500, MaxLoadingPercent: 100, InService: true},
			{Name: "l12", FromBus: 1, ToBus: 2, XPu: 0.1, RatingMVA: 500, MaxLoadingPercent: 100, InService: true},
			{Name: "l02", FromBus: 0, ToBus: 2, XPu: 0.1, RatingMVA: 500, MaxLoadingPercent: 100, InService: true},
		},
		Load: []grid.Load{
			{Name: "d1", Bus: 1, PMW: 100, QMvar: 20, InService: true},
			{Name: "d2", Bus: 2, PMW: 200, QMvar: 50, InService: true},
		},
		Gen: []grid.Gen{
			{Name: "g1", Bus: 1, PMW: 150, VmPu: 1.02, MinPMW: 0, MaxPMW: 400, InService: true},
		},
		ExtGrid: []grid.ExtGrid{
			{Name: "ext", Bus: 0, VmPu: 1.0, MinPMW: -1000, MaxPMW: 1000, InService: true},
		},
		PolyCost: []grid.PolyCost{
			{Element: 0, EType: grid.ElementGen, CP1: 10},
			{Element: 0, EType: grid.ElementExtGrid, CP1: 20},
		},
	}
}

// Radial returns a feeder of nBus buses chained by lines from an external
// grid on bus 0, with one load of loadMW on every other bus, nGen generators
// of genMW on bus 1 and nSGen static generators of genMW on the last bus.
func Radial(nBus, nGen, nSGen int, loadMW, genMW float64) *grid.Network {
	n := &grid.Network{Name: "radial", SnMVA: 100}
	for i := 0; i < nBus; i++ {
		n.Bus = append(n.Bus, grid.Bus{VnKV: 20, MinVmPu: 0.95, MaxVmPu: 1.05, InService: true})
		if i > 0 {
			n.Line = append(n.Line, grid.Line{
				FromBus: i - 1, ToBus: i, XPu: 0.05,
				RatingMVA: 1000, MaxLoadingPercent: 100, InService: true,
			})
			n.Load = append(n.Load, grid.Load{Bus: i, PMW: loadMW, QMvar: loadMW / 4, InService: true})
		}
	}
	for i := 0; i < nGen; i++ {
		n.Gen = append(n.Gen, grid.Gen{
			Bus: min(1, nBus-1), PMW: genMW, VmPu: 1.0, MinPMW: 0, MaxPMW: 10 * genMW, InService: true,
		})
		n.PolyCost = append(n.PolyCost, grid.PolyCost{Element: i, EType: grid.ElementGen, CP1: 10})
	}
	for i := 0; i < nSGen; i++ {
		n.SGen = append(n.SGen, grid.SGen{
			Bus: nBus - 1, PMW: genMW, MinPMW: 0, MaxPMW: 10 * genMW, InService: true,
		})
	}
	n.ExtGrid = []grid.ExtGrid{{Bus: 0, VmPu: 1.0, MinPMW: -1e4, MaxPMW: 1e4, InService: true}}
	return n
}
