package dataset

import (
	"errors"

	"github.com/powerdatagen/datagen/internal/config"
)

// ErrRetriesExhausted is returned under the abort policy when one sample is
// rejected too many times.
var ErrRetriesExhausted = errors.New("dataset: retries exhausted")

// RetryPolicy bounds the number of rejections of a single sample. Sampling
// errors and divergences never count toward the cap.
type RetryPolicy struct {
	Mode          string
	MaxRejections int
}

// RetryPolicyFromConfig maps the retry section of the configuration.
func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	mode := c.Policy
	if mode == "" {
		mode = config.RetryUnbounded
	}
	return RetryPolicy{Mode: mode, MaxRejections: c.MaxRejections}
}

// exhausted reports whether the n-th rejection of a sample reaches the cap.
func (p RetryPolicy) exhausted(n int) bool {
	return p.Mode != config.RetryUnbounded && p.MaxRejections > 0 && n >= p.MaxRejections
}
