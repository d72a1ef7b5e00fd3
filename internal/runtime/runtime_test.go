package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	res, err := NewExecRunner().Run(context.Background(), Command{
		Bin:  "/bin/sh",
		Args: []string{"-c", "pwd; echo oops >&2; echo $DOCBOT_TEST"},
		Dir:  dir,
		Env:  []string{"DOCBOT_TEST=hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "hello")
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, res.Stdout, resolved)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	requireShell(t)
	res, err := NewExecRunner().Run(context.Background(), Command{
		Bin:  "/bin/sh",
		Args: []string{"-c", "echo first >&2; echo 'No matching distribution' >&2; exit 3"},
	})
	require.Error(t, err)
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 3, ee.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "No matching distribution")
}

func TestExecRunnerMissingBinary(t *testing.T) {
	res, err := NewExecRunner().Run(context.Background(), Command{Bin: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
	var ee *ExitError
	assert.False(t, errors.As(err, &ee))
}

func TestExecRunnerCancelled(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecRunner().Run(ctx, Command{Bin: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	require.Error(t, err)
}

func TestResolvePythonOverride(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	fake := filepath.Join(dir, "python3.11")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", dir)

	got, err := ResolvePython("python3.11")
	require.NoError(t, err)
	assert.Equal(t, fake, got)

	_, err = ResolvePython("python2")
	require.Error(t, err)
}

func TestResolvePythonDefaultOrder(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "python"), []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", dir)

	got, err := ResolvePython("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "python"), got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "python3"), []byte("#!/bin/sh\n"), 0o755))
	got, err = ResolvePython("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "python3"), got)

	t.Setenv("PATH", t.TempDir())
	_, err = ResolvePython("")
	require.Error(t, err)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c | d", Tail("a\nb\n\nc\nd\n", 2))
	assert.Equal(t, "", Tail("  \n", 3))
	assert.Equal(t, "only", Tail("only", 5))
}
