package dataset

import (
	"maps"
	"sync"
	"time"

	"github.com/powerdatagen/datagen/internal/filter"
	"github.com/powerdatagen/datagen/internal/model"
)

// Stats accumulates the counters of one split. Safe for concurrent use.
type Stats struct {
	mu      sync.Mutex
	summary model.SplitSummary
	start   time.Time
}

func newStats(split string, enabled []filter.Criterion) *Stats {
	s := &Stats{
		summary: model.SplitSummary{Split: split, Criteria: make(map[string]int)},
		start:   time.Now(),
	}
	for _, c := range enabled {
		s.summary.Criteria[string(c)] = 0
	}
	return s
}

func (s *Stats) samplingError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Attempts++
	s.summary.SamplingErrors++
}

// diverged returns the 1-based divergence number used to name the file.
func (s *Stats) diverged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Attempts++
	s.summary.Divergences++
	return s.summary.Divergences
}

// rejected returns the 1-based rejection number used to name the file.
func (s *Stats) rejected(violations map[filter.Criterion]int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Attempts++
	s.summary.Rejections++
	for c, n := range violations {
		s.summary.Criteria[string(c)] += n
	}
	return s.summary.Rejections
}

func (s *Stats) accepted() model.SplitSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Attempts++
	s.summary.Samples++
	return s.snapshotLocked()
}

// forced counts a rejected scenario kept under the force_accept policy. The
// attempt itself was already counted as a rejection.
func (s *Stats) forced() model.SplitSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Samples++
	s.summary.Exhausted++
	return s.snapshotLocked()
}

func (s *Stats) exhausted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Exhausted++
}

// Summary returns a copy of the current counters.
func (s *Stats) Summary() model.SplitSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Stats) snapshotLocked() model.SplitSummary {
	out := s.summary
	out.Criteria = maps.Clone(s.summary.Criteria)
	out.Seconds = time.Since(s.start).Seconds()
	return out
}
