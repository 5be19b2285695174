package pool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitNudge(t *testing.T, w *Watcher) bool {
	t.Helper()
	select {
	case <-w.Changes():
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func TestWatcherNudgesOnTaskWrite(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(Layout{Dir: dir}, WithWatchDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha.task"), []byte("x"), 0o644))
	require.True(t, waitNudge(t, w), "expected a nudge after writing a task file")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(Layout{Dir: dir}, WithWatchDebounce(10*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__private.task"), []byte("x"), 0o644))

	select {
	case <-w.Changes():
		t.Fatal("unexpected nudge for non-task files")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherStartFailsForMissingDir(t *testing.T) {
	w := NewWatcher(Layout{Dir: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, w.Start(context.Background()))
	w.Stop()
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w := NewWatcher(Layout{Dir: t.TempDir()})
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
