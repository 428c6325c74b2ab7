package sampling

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInfeasible marks a recoverable sampling failure: the scenario drawn so
// far cannot be completed (e.g. the dispatch problem has no solution) and a
// fresh scenario should be drawn instead.
var ErrInfeasible = errors.New("sampling: infeasible scenario")

// ConfigError reports an unknown method name or malformed parameters for one
// stage. It is raised while parsing, before any scenario is drawn.
type ConfigError struct {
	Stage  string
	Value  string
	Valid  []string
	Reason string
}

func (e *ConfigError) Error() string {
	if len(e.Valid) > 0 {
		return fmt.Sprintf("sampling: %q is not a valid %s method, choose from [%s]",
			e.Value, e.Stage, strings.Join(e.Valid, ", "))
	}
	return fmt.Sprintf("sampling: %s method %q: %s", e.Stage, e.Value, e.Reason)
}

func infeasible(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInfeasible, fmt.Sprintf(format, args...))
}
