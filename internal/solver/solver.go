// Package solver runs power flow and DC optimal power flow on a scenario
// network. Non-convergence is an Outcome, not an error; errors are reserved
// for failures to run the solver at all.
package solver

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/grid"
)

// Status is the result class of one solve.
type Status int

// Solve statuses.
const (
	Converged Status = iota
	Diverged
	Infeasible
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case Diverged:
		return "diverged"
	case Infeasible:
		return "infeasible"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "converged":
		return Converged, nil
	case "diverged":
		return Diverged, nil
	case "infeasible":
		return Infeasible, nil
	default:
		return 0, eris.Errorf("solver: unknown status %q", s)
	}
}

// Outcome is what a solve produced. On Converged the network's Results are
// populated.
type Outcome struct {
	Status Status
	Reason string
}

// Options are passed through to the solver untouched.
type Options map[string]any

// PowerFlow solves the network state for fixed injections.
type PowerFlow interface {
	RunPowerFlow(ctx context.Context, net *grid.Network, opts Options) (Outcome, error)
}

// OPF dispatches generation at least cost under the DC approximation.
type OPF interface {
	RunDCOPF(ctx context.Context, net *grid.Network, opts Options) (Outcome, error)
}

// Solver provides both kinds of solve.
type Solver interface {
	PowerFlow
	OPF
}

// New builds the solver selected by cfg.
func New(cfg config.SolverConfig) (Solver, error) {
	switch cfg.Kind {
	case "dc", "":
		return &DC{}, nil
	case "command":
		return NewCommand(cfg.Command, cfg.Args, time.Duration(cfg.TimeoutSecs)*time.Second), nil
	default:
		return nil, eris.Errorf("solver: unknown kind %q", cfg.Kind)
	}
}
