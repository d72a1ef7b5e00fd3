//go:build integration

package provision_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/fpp-125/docbot/internal/environment"
	"github.com/fpp-125/docbot/internal/launch"
	"github.com/fpp-125/docbot/internal/manifest"
	"github.com/fpp-125/docbot/internal/provision"
	"github.com/fpp-125/docbot/internal/runtime"
	"github.com/fpp-125/docbot/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePython(t *testing.T) string {
	t.Helper()
	python, err := runtime.ResolvePython("")
	if err != nil {
		t.Skipf("no python interpreter: %v", err)
	}
	if err := exec.Command(python, "-c", "import venv, ensurepip").Run(); err != nil {
		t.Skipf("%s lacks venv/ensurepip: %v", python, err)
	}
	return python
}

// A pin that no index serves makes the run fail after the environment exists,
// which exercises the real venv and pip without depending on package downloads.
func TestE2EProvisionFailsOnUnknownPin(t *testing.T) {
	python := requirePython(t)
	root := t.TempDir()
	stateDir := t.TempDir()
	h, err := environment.New(root, "venv")
	require.NoError(t, err)
	store, err := sqlite.Open(stateDir)
	require.NoError(t, err)
	defer store.Close()

	m := manifest.Default()
	m.Packages = []manifest.Package{{Name: "docbot-no-such-package", Version: "0.0.0"}}
	p := &provision.Provisioner{
		Handle:   h,
		Manifest: m,
		Runner:   runtime.NewExecRunner(),
		Python:   python,
		Journal:  provision.NewJournal(stateDir, store, nil, nil),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := p.Provision(ctx)
	var pkgErr *provision.PackageInstallError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, "docbot-no-such-package", pkgErr.Name)
	assert.True(t, h.Exists())
	assert.FileExists(t, h.Python())
	assert.NoFileExists(t, h.LockPath())

	run, err := store.GetRun(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "install:docbot-no-such-package", run.FailedStep)

	l := &launch.Launcher{Handle: h, App: m.App, Exec: func(string, []string, []string) error {
		t.Fatal("exec must not run for an incomplete environment")
		return nil
	}}
	var missing *launch.EnvironmentMissingError
	require.ErrorAs(t, l.Launch(), &missing)
}
