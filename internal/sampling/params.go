package sampling

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/powerdatagen/datagen/internal/config"
)

// Stage names, as used in the sampling configuration.
const (
	StageTopology     = "topology"
	StageTotalLoad    = "total_load"
	StageActiveLoad   = "active_load"
	StageReactiveLoad = "reactive_load"
	StageActiveGen    = "active_gen"
	StageVoltage      = "voltage_setpoint"
)

// Method is implemented by every stage variant.
type Method interface {
	Name() string
}

type entry[T Method] struct {
	name  string
	build func(stage string, mc config.MethodConfig) (T, error)
}

// lookup resolves mc.Method against the stage registry.
func lookup[T Method](stage string, mc config.MethodConfig, registry []entry[T]) (T, error) {
	for _, e := range registry {
		if e.name == mc.Method {
			return e.build(stage, mc)
		}
	}
	var zero T
	valid := make([]string, len(registry))
	for i, e := range registry {
		valid[i] = e.name
	}
	return zero, &ConfigError{Stage: stage, Value: mc.Method, Valid: valid}
}

// decodeParams decodes raw into out, which carries the defaults. Unknown keys
// and ill-typed values are configuration errors.
func decodeParams(stage string, mc config.MethodConfig, out any) error {
	if len(mc.Params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return &ConfigError{Stage: stage, Value: mc.Method, Reason: err.Error()}
	}
	if err := dec.Decode(mc.Params); err != nil {
		return &ConfigError{Stage: stage, Value: mc.Method, Reason: err.Error()}
	}
	return nil
}

// paramCheck accumulates domain violations of one method's parameters.
type paramCheck struct {
	stage  string
	method string
	errs   []string
}

func (c *paramCheck) failf(format string, args ...any) {
	c.errs = append(c.errs, fmt.Sprintf(format, args...))
}

func (c *paramCheck) finite(name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		c.failf("%s must be finite, got %g", name, v)
	}
}

func (c *paramCheck) rangeOK(minName string, lo float64, maxName string, hi float64) {
	c.finite(minName, lo)
	c.finite(maxName, hi)
	if lo > hi {
		c.failf("%s (%g) must be <= %s (%g)", minName, lo, maxName, hi)
	}
}

func (c *paramCheck) nonNegative(name string, v float64) {
	c.finite(name, v)
	if v < 0 {
		c.failf("%s must be >= 0, got %g", name, v)
	}
}

func (c *paramCheck) unit(name string, v float64) {
	if !(v >= 0 && v <= 1) {
		c.failf("%s must be in [0, 1], got %g", name, v)
	}
}

func (c *paramCheck) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &ConfigError{Stage: c.stage, Value: c.method, Reason: strings.Join(c.errs, "; ")}
}

// Shared parameter records.

// UniformRange parametrizes draws from U([MinVal, MaxVal]).
type UniformRange struct {
	MinVal float64 `mapstructure:"min_val" json:"min_val"`
	MaxVal float64 `mapstructure:"max_val" json:"max_val"`
}

// NormalDist parametrizes draws from N(Mean, Std).
type NormalDist struct {
	Mean float64 `mapstructure:"mean" json:"mean"`
	Std  float64 `mapstructure:"std" json:"std"`
}

func parseUniform(stage string, mc config.MethodConfig, def UniformRange) (UniformRange, error) {
	p := def
	if err := decodeParams(stage, mc, &p); err != nil {
		return p, err
	}
	c := paramCheck{stage: stage, method: mc.Method}
	c.rangeOK("min_val", p.MinVal, "max_val", p.MaxVal)
	return p, c.err()
}

func parseNormal(stage string, mc config.MethodConfig, def NormalDist) (NormalDist, error) {
	p := def
	if err := decodeParams(stage, mc, &p); err != nil {
		return p, err
	}
	c := paramCheck{stage: stage, method: mc.Method}
	c.finite("mean", p.Mean)
	c.nonNegative("std", p.Std)
	return p, c.err()
}

// parseNone accepts only an empty parameter set.
func parseNone(stage string, mc config.MethodConfig) error {
	var none struct{}
	return decodeParams(stage, mc, &none)
}
