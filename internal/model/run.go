// Package model holds the run ledger records shared by the dataset assembler,
// the store and the CLI.
package model

import "time"

// RunStatus represents the current state of a generation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Done reports whether the status is terminal.
func (s RunStatus) Done() bool {
	return s == RunStatusComplete || s == RunStatusFailed || s == RunStatusCancelled
}

// Run is one invocation of the generator.
type Run struct {
	ID        string    `json:"id" yaml:"id"`
	Network   string    `json:"network" yaml:"network"`
	OutputDir string    `json:"output_dir" yaml:"output_dir"`
	Seed      uint64    `json:"seed" yaml:"seed"`
	Status    RunStatus `json:"status" yaml:"status"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// SplitSummary holds the final counters of one dataset split.
type SplitSummary struct {
	Split          string         `json:"split" yaml:"split"`
	Samples        int            `json:"samples" yaml:"samples"`
	Attempts       int            `json:"attempts" yaml:"attempts"`
	SamplingErrors int            `json:"sampling_errors" yaml:"sampling_errors"`
	Divergences    int            `json:"divergences" yaml:"divergences"`
	Rejections     int            `json:"rejections" yaml:"rejections"`
	Exhausted      int            `json:"exhausted" yaml:"exhausted"`
	Criteria       map[string]int `json:"criteria" yaml:"criteria"`
	Seconds        float64        `json:"seconds" yaml:"seconds"`
}

// AcceptanceRate is the share of attempts that produced an accepted sample.
func (s SplitSummary) AcceptanceRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Samples) / float64(s.Attempts)
}
