package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/filter"
	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/sampling"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and sampling plan",
	Long:  "Loads the configuration and baseline network, resolves every sampling stage and prints the chosen methods.",
	RunE: func(_ *cobra.Command, _ []string) error {
		return validatePlan(os.Stdout, cfg)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validatePlan resolves the sampling plan of c and writes a report to w.
func validatePlan(w io.Writer, c *config.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	base, err := grid.LoadFile(c.Network.Path)
	if err != nil {
		return eris.Wrap(err, "validate: load network")
	}
	plan, err := sampling.Parse(c.Sampling, base)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Network:\t%s (%d buses, %d loads, %d gens, %d sgens, %d ext grids)\n",
		base.Name, len(base.Bus), len(base.Load), len(base.Gen), len(base.SGen), len(base.ExtGrid))
	_, _ = fmt.Fprintln(tw, "STAGE\tMETHOD")
	_, _ = fmt.Fprintln(tw, "-----\t------")
	for _, s := range plan.Stages() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", s.Stage, s.Method)
	}
	if plan.NeedsOPF() {
		_, _ = fmt.Fprintf(tw, "OPF:\trequired (solver %s)\n", c.Solver.Kind)
	}
	criteria := filter.CriteriaFromConfig(c.Filtering).Enabled()
	_, _ = fmt.Fprintf(tw, "Filters:\t%d enabled\n", len(criteria))
	for _, cr := range criteria {
		_, _ = fmt.Fprintf(tw, "  %s\t\n", cr)
	}
	_, _ = fmt.Fprintf(tw, "Retry:\t%s\n", c.Retry.Policy)
	return tw.Flush()
}
