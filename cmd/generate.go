package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/dataset"
	"github.com/powerdatagen/datagen/internal/filter"
	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/model"
	"github.com/powerdatagen/datagen/internal/monitoring"
	"github.com/powerdatagen/datagen/internal/sampling"
	"github.com/powerdatagen/datagen/internal/solver"
	"github.com/powerdatagen/datagen/internal/store"
	"github.com/powerdatagen/datagen/internal/topology"
)

// Files copied into every run directory.
const (
	networkCopy = "default_net.json"
	configCopy  = "config.yaml"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a dataset",
	Long:  "Builds the train, val and test splits into a new run directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		applyGenerateFlags(cmd, cfg)

		res, err := runGenerate(ctx, cfg, time.Now())
		if res != nil {
			zap.L().Info("run finished",
				zap.String("run_id", res.RunID),
				zap.String("dir", res.Dir),
				zap.Uint64("seed", res.Seed),
				zap.Int("splits", len(res.Summaries)),
			)
		}
		return err
	},
}

func init() {
	addGenerateFlags(generateCmd)
	rootCmd.AddCommand(generateCmd)
}

func addGenerateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("out", "", "output root directory (overrides output.dir)")
	f.Uint64("seed", 0, "random seed (overrides dataset.seed)")
	f.Int("workers", 0, "parallel sample workers (overrides dataset.workers)")
	f.Int("train", 0, "train split size")
	f.Int("val", 0, "val split size")
	f.Int("test", 0, "test split size")
}

// applyGenerateFlags overrides configuration with explicitly set flags.
func applyGenerateFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("out") {
		c.Output.Dir, _ = f.GetString("out")
	}
	if f.Changed("seed") {
		seed, _ := f.GetUint64("seed")
		c.Dataset.Seed = &seed
	}
	if f.Changed("workers") {
		c.Dataset.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("train") {
		c.Dataset.Train, _ = f.GetInt("train")
	}
	if f.Changed("val") {
		c.Dataset.Val, _ = f.GetInt("val")
	}
	if f.Changed("test") {
		c.Dataset.Test, _ = f.GetInt("test")
	}
}

// generateResult describes a finished or failed run.
type generateResult struct {
	RunID     string
	Dir       string
	Seed      uint64
	Summaries []model.SplitSummary
}

// runDir returns the directory a run started at now writes into.
func runDir(c config.OutputConfig, now time.Time) string {
	if !c.Timestamped {
		return c.Dir
	}
	return filepath.Join(c.Dir, now.Format("2006-01-02"), now.Format("15-04-05"))
}

// runGenerate builds every split of c. The run is recorded in the ledger
// unless the store driver is "none".
func runGenerate(ctx context.Context, c *config.Config, now time.Time) (*generateResult, error) {
	log := zap.L().With(zap.String("component", "generate"))

	if err := c.Validate(); err != nil {
		return nil, err
	}
	base, err := grid.LoadFile(c.Network.Path)
	if err != nil {
		return nil, eris.Wrap(err, "generate: load network")
	}
	plan, err := sampling.Parse(c.Sampling, base)
	if err != nil {
		return nil, err
	}

	pf, err := solver.New(c.Solver)
	if err != nil {
		return nil, err
	}
	opts := solver.Options(c.PowerFlow)
	sampler, err := sampling.NewSampler(plan, base, pf, opts)
	if err != nil {
		return nil, err
	}
	validator := filter.New(filter.CriteriaFromConfig(c.Filtering), topology.NewChecker())

	if c.Dataset.Seed == nil {
		seed := rand.Uint64()
		c.Dataset.Seed = &seed
		log.Info("no seed configured, drew one", zap.Uint64("seed", seed))
	}
	res := &generateResult{Dir: runDir(c.Output, now), Seed: *c.Dataset.Seed}

	if err := os.MkdirAll(res.Dir, 0o755); err != nil {
		return nil, &dataset.PersistenceError{Path: res.Dir, Err: err}
	}
	if err := dataset.CopyFile(c.Network.Path, filepath.Join(res.Dir, networkCopy)); err != nil {
		return nil, err
	}
	if err := writeConfigCopy(filepath.Join(res.Dir, configCopy), c); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	var ledger dataset.Ledger
	if st != nil {
		defer st.Close() //nolint:errcheck
		run, err := st.CreateRun(ctx, store.NewRun{Network: c.Network.Path, OutputDir: res.Dir, Seed: res.Seed})
		if err != nil {
			return nil, eris.Wrap(err, "generate: create run")
		}
		res.RunID = run.ID
		ledger = st
	}

	metrics := monitoring.NewMetrics()
	a, err := dataset.New(sampler, pf, validator, dataset.Options{
		Root:          res.Dir,
		Seed:          res.Seed,
		Workers:       c.Dataset.Workers,
		Retry:         dataset.RetryPolicyFromConfig(c.Retry),
		Criteria:      validator.Criteria().Enabled(),
		SolverOptions: opts,
		Recorder:      metrics,
		Ledger:        ledger,
		RunID:         res.RunID,
	})
	if err != nil {
		return nil, err
	}

	log.Info("starting run", zap.String("dir", res.Dir), zap.Uint64("seed", res.Seed), zap.String("run_id", res.RunID))
	summaries, buildErr := a.Build(ctx, dataset.Splits(c.Dataset))
	res.Summaries = summaries

	alerter := monitoring.NewAlerter(c.Metrics)
	for _, s := range summaries {
		alerter.SendAlerts(context.WithoutCancel(ctx), alerter.Evaluate(res.RunID, s))
	}
	if c.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(c.Metrics.Textfile); err != nil {
			log.Warn("metrics textfile export failed", zap.Error(err))
		}
	}

	if st != nil {
		status, msg := finalStatus(buildErr)
		if err := st.UpdateRunStatus(context.WithoutCancel(ctx), res.RunID, status, msg); err != nil {
			log.Error("failed to record run status", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}
	return res, buildErr
}

// finalStatus maps a build error to the ledger status of the run.
func finalStatus(err error) (model.RunStatus, string) {
	switch {
	case err == nil:
		return model.RunStatusComplete, ""
	case errors.Is(err, context.Canceled):
		return model.RunStatusCancelled, err.Error()
	default:
		return model.RunStatusFailed, err.Error()
	}
}

// writeConfigCopy records the effective configuration, including flag
// overrides and a drawn seed, next to the dataset.
func writeConfigCopy(path string, c *config.Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return &dataset.PersistenceError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &dataset.PersistenceError{Path: path, Err: err}
	}
	return nil
}
