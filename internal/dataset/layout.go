package dataset

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/model"
)

// Directory and file names inside a split directory.
const (
	DivergenceDir = "divergence"
	RejectionDir  = "rejection"
	SummaryFile   = "summary.yaml"
)

// PersistenceError reports a failed write. It is always fatal for the run.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("dataset: persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Layout names the files of one split directory.
type Layout struct {
	Dir   string
	Width int
}

// NewLayout returns the layout of a split of n samples stored in dir.
func NewLayout(dir string, n int) Layout {
	return Layout{Dir: dir, Width: padWidth(n)}
}

// padWidth is the number of digits used for sample indices: ceil(log10(n)).
func padWidth(n int) int {
	if n <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log10(float64(n))))
}

// Sample is the path of accepted sample i.
func (l Layout) Sample(i int) string {
	return filepath.Join(l.Dir, fmt.Sprintf("sample_%0*d.json", l.Width, i))
}

// Divergence is the path of the k-th diverged scenario, counted from 1.
func (l Layout) Divergence(k int) string {
	return filepath.Join(l.Dir, DivergenceDir, fmt.Sprintf("divergence_sample_%0*d.json", l.Width, k))
}

// Rejection is the path of the k-th rejected scenario, counted from 1.
func (l Layout) Rejection(k int) string {
	return filepath.Join(l.Dir, RejectionDir, fmt.Sprintf("rejection_sample_%0*d.json", l.Width, k))
}

// Summary is the path of the split summary.
func (l Layout) Summary() string {
	return filepath.Join(l.Dir, SummaryFile)
}

// Create makes the split directory and its diagnostic subdirectories. The
// split directory must not exist yet.
func (l Layout) Create() error {
	for _, dir := range []string{l.Dir, filepath.Join(l.Dir, DivergenceDir), filepath.Join(l.Dir, RejectionDir)} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return &PersistenceError{Path: dir, Err: err}
		}
	}
	return nil
}

func writeNetwork(path string, net *grid.Network) error {
	if err := net.Save(path); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

func writeSummary(path string, s model.SplitSummary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// CopyFile copies src to dst verbatim.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &PersistenceError{Path: dst, Err: err}
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return &PersistenceError{Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck
		return &PersistenceError{Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &PersistenceError{Path: dst, Err: err}
	}
	return nil
}
