// Package filter decides whether a solved scenario is kept in the dataset.
package filter

import (
	"github.com/rotisserie/eris"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/grid"
)

// Criterion names one acceptance check.
type Criterion string

// Acceptance criteria.
const (
	Overflow          Criterion = "overflow"
	DisconnectedBus   Criterion = "disconnected_bus"
	NegativeLoad      Criterion = "negative_load"
	OutOfRangeGen     Criterion = "out_of_range_gen"
	VoltageViolations Criterion = "too_many_voltage_violations"
)

// tolerance absorbs solver noise on power values (MW).
const tolerance = 1e-4

// Criteria configures which checks run. Nil thresholds and Allow* flags set
// to true disable the matching check.
type Criteria struct {
	MaxLoadingPercent        *float64
	MaxCountVoltageViolation *int
	AllowDisconnectedBus     bool
	AllowNegativeLoad        bool
	AllowOutOfRangeGen       bool
}

// CriteriaFromConfig maps the filtering section of the configuration.
func CriteriaFromConfig(c config.FilteringConfig) Criteria {
	return Criteria{
		MaxLoadingPercent:        c.MaxLoadingPercent,
		MaxCountVoltageViolation: c.MaxCountVoltageViolation,
		AllowDisconnectedBus:     c.AllowDisconnectedBus,
		AllowNegativeLoad:        c.AllowNegativeLoad,
		AllowOutOfRangeGen:       c.AllowOutOfRangeGen,
	}
}

// Enabled lists the active criteria in evaluation order.
func (c Criteria) Enabled() []Criterion {
	var out []Criterion
	if c.MaxLoadingPercent != nil {
		out = append(out, Overflow)
	}
	if !c.AllowDisconnectedBus {
		out = append(out, DisconnectedBus)
	}
	if !c.AllowNegativeLoad {
		out = append(out, NegativeLoad)
	}
	if !c.AllowOutOfRangeGen {
		out = append(out, OutOfRangeGen)
	}
	if c.MaxCountVoltageViolation != nil {
		out = append(out, VoltageViolations)
	}
	return out
}

// BusChecker finds buses with no energized path to a source.
type BusChecker interface {
	UnsuppliedBuses(net *grid.Network) ([]int, error)
}

// Verdict is the outcome of Evaluate. Violations holds 1 for every enabled
// criterion that failed and 0 for every enabled criterion that passed;
// disabled criteria are absent.
type Verdict struct {
	Reject     bool
	Violations map[Criterion]int
}

// Filter evaluates solved scenarios.
type Filter struct {
	criteria Criteria
	checker  BusChecker
}

// New creates a Filter. checker may be nil only if disconnected buses are
// allowed.
func New(criteria Criteria, checker BusChecker) *Filter {
	return &Filter{criteria: criteria, checker: checker}
}

// Criteria returns the filter's configuration.
func (f *Filter) Criteria() Criteria {
	return f.criteria
}

// Evaluate checks a solved network against every enabled criterion.
func (f *Filter) Evaluate(net *grid.Network) (Verdict, error) {
	v := Verdict{Violations: make(map[Criterion]int)}
	mark := func(c Criterion, failed bool) {
		if failed {
			v.Violations[c] = 1
			v.Reject = true
		} else {
			v.Violations[c] = 0
		}
	}

	c := f.criteria
	if (c.MaxLoadingPercent != nil || c.MaxCountVoltageViolation != nil) && net.Results == nil {
		return Verdict{}, eris.New("filter: network has no solver results")
	}

	if c.MaxLoadingPercent != nil {
		mark(Overflow, net.Results.MaxBranchLoading() > *c.MaxLoadingPercent)
	}

	if !c.AllowDisconnectedBus {
		if f.checker == nil {
			return Verdict{}, eris.New("filter: no bus checker configured")
		}
		buses, err := f.checker.UnsuppliedBuses(net)
		if err != nil {
			return Verdict{}, eris.Wrap(err, "filter: unsupplied buses")
		}
		mark(DisconnectedBus, len(buses) > 0)
	}

	if !c.AllowNegativeLoad {
		var negative bool
		for _, l := range net.Load {
			if l.PMW < -tolerance {
				negative = true
				break
			}
		}
		mark(NegativeLoad, negative)
	}

	if !c.AllowOutOfRangeGen {
		var outOfRange bool
		for _, g := range net.Gen {
			if g.InService && (g.PMW < g.MinPMW-tolerance || g.PMW > g.MaxPMW+tolerance) {
				outOfRange = true
				break
			}
		}
		mark(OutOfRangeGen, outOfRange)
	}

	if c.MaxCountVoltageViolation != nil {
		mark(VoltageViolations, countVoltageViolations(net) > *c.MaxCountVoltageViolation)
	}

	return v, nil
}

// countVoltageViolations counts energized buses whose solved magnitude lies
// outside their limits. A zero magnitude marks a de-energized bus.
func countVoltageViolations(net *grid.Network) int {
	var n int
	for i, b := range net.Bus {
		if i >= len(net.Results.Bus) {
			break
		}
		vm := net.Results.Bus[i].VmPu
		if !b.InService || vm == 0 {
			continue
		}
		if vm > b.MaxVmPu || vm < b.MinVmPu {
			n++
		}
	}
	return n
}
