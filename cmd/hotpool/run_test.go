package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotpool/internal/config"
	"hotpool/internal/supervisor"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(dir string) config.Config {
	return config.Config{
		Pool: config.PoolConfig{Dir: dir, Extension: ".task", PrivateMarker: "__"},
		Supervisor: config.SupervisorConfig{
			Interval:           time.Hour,
			StopConcurrency:    2,
			DigestFailureLimit: 3,
			WatchDebounce:      10 * time.Millisecond,
			StatusFile:         filepath.Join(dir, ".state", "status.json"),
		},
		Worker: config.WorkerConfig{PanicBackoff: 10 * time.Millisecond},
		Loader: config.LoaderConfig{CacheSize: 8},
	}
}

func TestBuildSupervisorRunsPoolSources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.task"), []byte(
		"name: mod_sample\nversion: V1.0\ndescription: sample\nkind: sample\ninterval: 5ms\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__skip.task"), []byte("kind: sample\n"), 0o644))

	out := &syncBuffer{}
	sup, cleanup, err := buildSupervisor(context.Background(), testConfig(dir), afero.NewOsFs(), out)
	require.NoError(t, err)
	defer cleanup()
	defer sup.Shutdown()

	res := sup.Cycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"sample"}, res.Started)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Hi! my name is mod_sample: V1.0")
	}, time.Second, 5*time.Millisecond)

	status, err := supervisor.NewStatusFile(filepath.Join(dir, ".state", "status.json")).Read()
	require.NoError(t, err)
	assert.Contains(t, status.Tasks, "sample")
}

func TestBuildSupervisorWatchNudgesCycle(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Supervisor.Watch = true

	ctx, cancel := context.WithCancel(context.Background())
	sup, cleanup, err := buildSupervisor(ctx, cfg, afero.NewOsFs(), &syncBuffer{})
	require.NoError(t, err)
	defer cleanup()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	require.Eventually(t, func() bool { return sup.Cycles() >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.task"), []byte(
		"name: e\nversion: v1\nkind: echo\ninterval: 5ms\noptions:\n  message: hi\n"), 0o644))
	require.Eventually(t, func() bool { return len(sup.Snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond,
		"a pool change should trigger a cycle long before the hour-long interval")

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, sup.Snapshot())
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, supervisor.Status{
		Pool:  "./pool",
		Cycle: 4,
		Tasks: map[string]supervisor.TaskStatus{
			"b":    {Name: "beta", Version: "v2", Digest: "02"},
			"alfa": {Name: "alpha", Version: "v1", Digest: "01", Iterations: 3},
		},
	})
	text := buf.String()
	assert.Contains(t, text, "cycle 4")
	assert.Less(t, strings.Index(text, "alpha"), strings.Index(text, "beta"))
	assert.Contains(t, text, "runs=3")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "hotpool "+Version+"\n", buf.String())
}

func TestKindsCommand(t *testing.T) {
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"kinds"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "command\necho\nsample\n", buf.String())
}

func TestRootRejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"unexpected"})
	assert.Error(t, cmd.Execute())
}
