package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/powerdatagen/datagen/internal/grid"
)

// Command delegates solves to an external executable. The request is written
// as JSON to its stdin and the response read as JSON from its stdout.
type Command struct {
	binPath string
	args    []string
	timeout time.Duration
}

// NewCommand creates a Command solver. A zero timeout disables the per-solve
// deadline.
func NewCommand(binPath string, args []string, timeout time.Duration) *Command {
	return &Command{binPath: binPath, args: args, timeout: timeout}
}

type commandRequest struct {
	Mode    string        `json:"mode"`
	Options Options       `json:"options"`
	Network *grid.Network `json:"network"`
}

type commandResponse struct {
	Status  string        `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Network *grid.Network `json:"network,omitempty"`
}

// RunPowerFlow implements PowerFlow.
func (c *Command) RunPowerFlow(ctx context.Context, net *grid.Network, opts Options) (Outcome, error) {
	return c.run(ctx, "pf", net, opts)
}

// RunDCOPF implements OPF.
func (c *Command) RunDCOPF(ctx context.Context, net *grid.Network, opts Options) (Outcome, error) {
	return c.run(ctx, "dcopf", net, opts)
}

func (c *Command) run(ctx context.Context, mode string, net *grid.Network, opts Options) (Outcome, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := json.Marshal(commandRequest{Mode: mode, Options: opts, Network: net})
	if err != nil {
		return Outcome{}, eris.Wrap(err, "solver: marshal request")
	}

	cmd := exec.CommandContext(ctx, c.binPath, c.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return Outcome{}, eris.Wrapf(err, "solver: %s %s failed: %s", c.binPath, mode, stderr.String())
	}
	zap.L().Debug("solver: command finished",
		zap.String("mode", mode),
		zap.Duration("elapsed", time.Since(start)),
	)

	var resp commandResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Outcome{}, eris.Wrap(err, "solver: decode response")
	}
	status, err := ParseStatus(resp.Status)
	if err != nil {
		return Outcome{}, err
	}
	if status != Converged {
		return Outcome{Status: status, Reason: resp.Reason}, nil
	}
	if resp.Network == nil || resp.Network.Results == nil {
		return Outcome{}, eris.New("solver: converged response carries no results")
	}
	if err := adopt(net, resp.Network); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: Converged, Reason: resp.Reason}, nil
}

// adopt copies the solved results into net. The returned network must have
// the same table sizes as the request.
func adopt(net, solved *grid.Network) error {
	r := solved.Results
	if len(r.Bus) != len(net.Bus) || len(r.Line) != len(net.Line) || len(r.Trafo) != len(net.Trafo) ||
		len(r.Gen) != len(net.Gen) || len(r.SGen) != len(net.SGen) || len(r.ExtGrid) != len(net.ExtGrid) {
		return eris.New("solver: response results do not match the network tables")
	}
	net.Results = r
	return nil
}
