package sampling

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/grid/gridtest"
)

func defaultConfig() config.SamplingConfig {
	return config.SamplingConfig{
		Topology:        config.MethodConfig{Method: "constant"},
		TotalLoad:       config.MethodConfig{Method: "constant"},
		ActiveLoad:      config.MethodConfig{Method: "homothetic"},
		ReactiveLoad:    config.MethodConfig{Method: "constant"},
		ActiveGen:       config.MethodConfig{Method: "homothetic"},
		VoltageSetpoint: config.MethodConfig{Method: "constant"},
	}
}

func TestParse_Defaults(t *testing.T) {
	plan, err := Parse(defaultConfig(), gridtest.ThreeBus())
	require.NoError(t, err)

	assert.Equal(t, []StageMethod{
		{StageTopology, "constant"},
		{StageTotalLoad, "constant"},
		{StageActiveLoad, "homothetic"},
		{StageReactiveLoad, "constant"},
		{StageActiveGen, "homothetic"},
		{StageVoltage, "constant"},
	}, plan.Stages())
	assert.False(t, plan.NeedsOPF())
	assert.Equal(t, HomotheticActiveGen{GenToLoadRatio: 1.02}, plan.ActiveGen)
}

func TestParse_UnknownMethod(t *testing.T) {
	cfg := defaultConfig()
	cfg.ActiveLoad.Method = "fancy"

	_, err := Parse(cfg, gridtest.ThreeBus())
	require.Error(t, err)

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageActiveLoad, ce.Stage)
	assert.Equal(t, "fancy", ce.Value)
	assert.Equal(t, []string{
		"homothetic",
		"uniform_independent_factor",
		"normal_independent_factor",
		"uniform_independent_values",
		"normal_independent_values",
	}, ce.Valid)
	assert.Contains(t, err.Error(), `"fancy" is not a valid active_load method`)
}

func TestParse_UnknownParam(t *testing.T) {
	cfg := defaultConfig()
	cfg.TotalLoad = config.MethodConfig{Method: "uniform_factor", Params: map[string]any{"min": 0.5}}

	_, err := Parse(cfg, gridtest.ThreeBus())
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageTotalLoad, ce.Stage)
	assert.Contains(t, ce.Reason, "min")
}

func TestParse_ParamsOnConstantRejected(t *testing.T) {
	cfg := defaultConfig()
	cfg.VoltageSetpoint.Params = map[string]any{"mean": 1}

	_, err := Parse(cfg, gridtest.ThreeBus())
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageVoltage, ce.Stage)
}

func TestParse_IllTypedParam(t *testing.T) {
	cfg := defaultConfig()
	cfg.ActiveLoad = config.MethodConfig{Method: "uniform_independent_factor", Params: map[string]any{"beta": "lots"}}

	_, err := Parse(cfg, gridtest.ThreeBus())
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
}

func TestParse_WeaklyTypedParams(t *testing.T) {
	cfg := defaultConfig()
	cfg.TotalLoad = config.MethodConfig{Method: "uniform_factor", Params: map[string]any{"min_val": "0.9", "max_val": 2}}

	plan, err := Parse(cfg, gridtest.ThreeBus())
	require.NoError(t, err)
	assert.Equal(t, UniformTotalLoadFactor{UniformRange{MinVal: 0.9, MaxVal: 2}}, plan.TotalLoad)
}

func TestParse_DomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.SamplingConfig)
		want   string
	}{
		{
			name: "beta above one",
			mutate: func(c *config.SamplingConfig) {
				c.ActiveLoad = config.MethodConfig{Method: "uniform_independent_factor", Params: map[string]any{"beta": 1.5}}
			},
			want: "beta must be in [0, 1]",
		},
		{
			name: "negative std",
			mutate: func(c *config.SamplingConfig) {
				c.TotalLoad = config.MethodConfig{Method: "normal_factor", Params: map[string]any{"std": -1}}
			},
			want: "std must be >= 0",
		},
		{
			name: "inverted range",
			mutate: func(c *config.SamplingConfig) {
				c.ReactiveLoad = config.MethodConfig{Method: "uniform_independent_values", Params: map[string]any{"min_val": 2, "max_val": 1}}
			},
			want: "min_val (2) must be <= max_val (1)",
		},
		{
			name: "power factor out of range",
			mutate: func(c *config.SamplingConfig) {
				c.ReactiveLoad = config.MethodConfig{Method: "uniform_power_factor", Params: map[string]any{"pf_min": 0}}
			},
			want: "pf_min must be > 0",
		},
		{
			name: "non-positive gen ratio",
			mutate: func(c *config.SamplingConfig) {
				c.ActiveGen = config.MethodConfig{Method: "homothetic", Params: map[string]any{"gen_to_load_ratio": 0}}
			},
			want: "gen_to_load_ratio must be > 0",
		},
		{
			name: "inverted cost range",
			mutate: func(c *config.SamplingConfig) {
				c.ActiveGen = config.MethodConfig{Method: "dc_opf", Params: map[string]any{"min_cp1": 5, "max_cp1": 1}}
			},
			want: "min_cp1 (5) must be <= max_cp1 (1)",
		},
		{
			name: "probabilities do not sum to one",
			mutate: func(c *config.SamplingConfig) {
				c.Topology = config.MethodConfig{Method: "random_disconnection", Params: map[string]any{
					"line": map[string]any{"probs": map[string]any{"0": 0.5, "1": 0.4}},
				}}
			},
			want: "line.probs must sum to 1",
		},
		{
			name: "black list out of range",
			mutate: func(c *config.SamplingConfig) {
				c.Topology = config.MethodConfig{Method: "random_disconnection", Params: map[string]any{
					"gen": map[string]any{"probs": map[string]any{"0": 1}, "black_list": []any{3}},
				}}
			},
			want: "gen.black_list index 3 out of range",
		},
		{
			name: "count larger than eligible set",
			mutate: func(c *config.SamplingConfig) {
				c.Topology = config.MethodConfig{Method: "random_disconnection", Params: map[string]any{
					"load": map[string]any{"probs": map[string]any{"2": 1}, "black_list": []any{0}},
				}}
			},
			want: "load.probs count 2 exceeds the 1 eligible elements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			_, err := Parse(cfg, gridtest.ThreeBus())
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Reason, tt.want)
		})
	}
}

func TestParse_DisconnectionZeroProbabilityCountIgnored(t *testing.T) {
	cfg := defaultConfig()
	cfg.Topology = config.MethodConfig{Method: "random_disconnection", Params: map[string]any{
		"load": map[string]any{"probs": map[string]any{"0": 0.5, "1": 0.5, "5": 0}},
	}}

	plan, err := Parse(cfg, gridtest.ThreeBus())
	require.NoError(t, err)
	rd, ok := plan.Topology.(RandomDisconnection)
	require.True(t, ok)
	assert.Nil(t, rd.Gen)
	require.NotNil(t, rd.Load)
	assert.Equal(t, []int{0, 1, 5}, rd.Load.Counts)
	assert.Equal(t, []int{0, 1}, rd.Load.Eligible)
}

func TestParse_DCOPFDefaults(t *testing.T) {
	cfg := defaultConfig()
	cfg.ActiveGen = config.MethodConfig{Method: "dc_opf_disconnect", Params: map[string]any{"max_cp1": 40}}

	plan, err := Parse(cfg, gridtest.ThreeBus())
	require.NoError(t, err)
	assert.True(t, plan.NeedsOPF())
	assert.Equal(t, DCOPFDisconnect{CostRanges: CostRanges{MaxCP1: 40}, MaxLoadingPercent: 85}, plan.ActiveGen)
}
