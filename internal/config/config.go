package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Network   NetworkConfig   `yaml:"network" mapstructure:"network"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Dataset   DatasetConfig   `yaml:"dataset" mapstructure:"dataset"`
	Sampling  SamplingConfig  `yaml:"sampling" mapstructure:"sampling"`
	PowerFlow map[string]any  `yaml:"powerflow" mapstructure:"powerflow"`
	Filtering FilteringConfig `yaml:"filtering" mapstructure:"filtering"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Solver    SolverConfig    `yaml:"solver" mapstructure:"solver"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// NetworkConfig locates the baseline network.
type NetworkConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// OutputConfig configures where runs are written.
type OutputConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	Timestamped bool   `yaml:"timestamped" mapstructure:"timestamped"`
}

// DatasetConfig holds split sizes and the random seed.
type DatasetConfig struct {
	Train   int     `yaml:"train" mapstructure:"train"`
	Val     int     `yaml:"val" mapstructure:"val"`
	Test    int     `yaml:"test" mapstructure:"test"`
	Seed    *uint64 `yaml:"seed,omitempty" mapstructure:"seed"`
	Workers int     `yaml:"workers" mapstructure:"workers"`
}

// MethodConfig selects one sampling method of a stage and its parameters.
type MethodConfig struct {
	Method string         `yaml:"method" mapstructure:"method"`
	Params map[string]any `yaml:"params,omitempty" mapstructure:"params"`
}

// SamplingConfig maps every scenario stage to its method.
type SamplingConfig struct {
	Topology        MethodConfig `yaml:"topology" mapstructure:"topology"`
	TotalLoad       MethodConfig `yaml:"total_load" mapstructure:"total_load"`
	ActiveLoad      MethodConfig `yaml:"active_load" mapstructure:"active_load"`
	ReactiveLoad    MethodConfig `yaml:"reactive_load" mapstructure:"reactive_load"`
	ActiveGen       MethodConfig `yaml:"active_gen" mapstructure:"active_gen"`
	VoltageSetpoint MethodConfig `yaml:"voltage_setpoint" mapstructure:"voltage_setpoint"`
}

// FilteringConfig configures post-solve acceptance. Nil thresholds disable
// their criterion.
type FilteringConfig struct {
	MaxLoadingPercent        *float64 `yaml:"max_loading_percent,omitempty" mapstructure:"max_loading_percent"`
	MaxCountVoltageViolation *int     `yaml:"max_count_voltage_violation,omitempty" mapstructure:"max_count_voltage_violation"`
	AllowDisconnectedBus     bool     `yaml:"allow_disconnected_bus" mapstructure:"allow_disconnected_bus"`
	AllowNegativeLoad        bool     `yaml:"allow_negative_load" mapstructure:"allow_negative_load"`
	AllowOutOfRangeGen       bool     `yaml:"allow_out_of_range_gen" mapstructure:"allow_out_of_range_gen"`
}

// RetryConfig selects what happens when one sample keeps being rejected.
type RetryConfig struct {
	Policy        string `yaml:"policy" mapstructure:"policy"`
	MaxRejections int    `yaml:"max_rejections" mapstructure:"max_rejections"`
}

// SolverConfig selects the power flow backend.
type SolverConfig struct {
	Kind        string   `yaml:"kind" mapstructure:"kind"`
	Command     string   `yaml:"command" mapstructure:"command"`
	Args        []string `yaml:"args" mapstructure:"args"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MetricsConfig configures prometheus textfile export and split alerts.
// Zero thresholds disable their alert.
type MetricsConfig struct {
	Textfile          string  `yaml:"textfile" mapstructure:"textfile"`
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	MinAcceptanceRate float64 `yaml:"min_acceptance_rate" mapstructure:"min_acceptance_rate"`
	MaxDivergenceRate float64 `yaml:"max_divergence_rate" mapstructure:"max_divergence_rate"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Retry policies.
const (
	RetryUnbounded   = "unbounded"
	RetryForceAccept = "force_accept"
	RetryAbort       = "abort"
)

// Load reads configuration from file and environment. If path is empty,
// config.yaml is looked up in the working directory and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("DATAGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("output.dir", "outputs")
	v.SetDefault("output.timestamped", true)
	v.SetDefault("dataset.train", 0)
	v.SetDefault("dataset.val", 0)
	v.SetDefault("dataset.test", 0)
	v.SetDefault("dataset.workers", 1)
	v.SetDefault("sampling.topology.method", "constant")
	v.SetDefault("sampling.total_load.method", "constant")
	v.SetDefault("sampling.active_load.method", "homothetic")
	v.SetDefault("sampling.reactive_load.method", "constant")
	v.SetDefault("sampling.active_gen.method", "homothetic")
	v.SetDefault("sampling.voltage_setpoint.method", "constant")
	v.SetDefault("filtering.allow_disconnected_bus", false)
	v.SetDefault("filtering.allow_negative_load", false)
	v.SetDefault("filtering.allow_out_of_range_gen", false)
	v.SetDefault("retry.policy", RetryUnbounded)
	v.SetDefault("retry.max_rejections", 0)
	v.SetDefault("solver.kind", "dc")
	v.SetDefault("solver.timeout_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "datagen.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless given explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that the sampling plan parser does
// not cover.
func (c *Config) Validate() error {
	var errs []string

	if c.Network.Path == "" {
		errs = append(errs, "network.path is required")
	}
	if c.Output.Dir == "" {
		errs = append(errs, "output.dir is required")
	}
	if c.Dataset.Train < 0 || c.Dataset.Val < 0 || c.Dataset.Test < 0 {
		errs = append(errs, "dataset split sizes must be >= 0")
	}
	if c.Dataset.Workers < 1 {
		errs = append(errs, "dataset.workers must be >= 1")
	}

	switch c.Retry.Policy {
	case RetryUnbounded:
	case RetryForceAccept, RetryAbort:
		if c.Retry.MaxRejections < 1 {
			errs = append(errs, fmt.Sprintf("retry.max_rejections must be >= 1 for policy %q", c.Retry.Policy))
		}
	default:
		errs = append(errs, fmt.Sprintf("retry.policy %q is invalid (valid: %s, %s, %s)",
			c.Retry.Policy, RetryUnbounded, RetryForceAccept, RetryAbort))
	}

	switch c.Solver.Kind {
	case "dc":
	case "command":
		if c.Solver.Command == "" {
			errs = append(errs, "solver.command is required for solver kind \"command\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("solver.kind %q is invalid (valid: dc, command)", c.Solver.Kind))
	}

	if f := c.Filtering.MaxLoadingPercent; f != nil && *f <= 0 {
		errs = append(errs, "filtering.max_loading_percent must be > 0")
	}
	if n := c.Filtering.MaxCountVoltageViolation; n != nil && *n < 0 {
		errs = append(errs, "filtering.max_count_voltage_violation must be >= 0")
	}

	if r := c.Metrics.MinAcceptanceRate; r < 0 || r > 1 {
		errs = append(errs, "metrics.min_acceptance_rate must be in [0, 1]")
	}
	if r := c.Metrics.MaxDivergenceRate; r < 0 || r > 1 {
		errs = append(errs, "metrics.max_divergence_rate must be in [0, 1]")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is invalid (valid: sqlite, postgres, none)", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
