package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdatagen/datagen/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_SplitRequiresRun(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveSplit(context.Background(), "no-such-run", model.SplitSummary{Split: "train"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save split train")
}

func TestSQLite_ListSplitsOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, NewRun{Network: "n", OutputDir: "o"})
	require.NoError(t, err)
	for _, split := range []string{"train", "val", "test"} {
		require.NoError(t, st.SaveSplit(ctx, run.ID, model.SplitSummary{Split: split}))
	}

	splits, err := st.ListSplits(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	var names []string
	for _, s := range splits {
		names = append(names, s.Split)
	}
	assert.ElementsMatch(t, []string{"train", "val", "test"}, names)
}

func TestSQLite_ListRunsOffset(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for range 3 {
		_, err := st.CreateRun(ctx, NewRun{Network: "n", OutputDir: "o"})
		require.NoError(t, err)
	}

	runs, err := st.ListRuns(ctx, RunFilter{Limit: 10, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
