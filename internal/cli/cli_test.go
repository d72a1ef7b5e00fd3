package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fpp-125/docbot/internal/config"
	"github.com/fpp-125/docbot/internal/runtime"
	"github.com/fpp-125/docbot/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePip creates the environment on "-m venv" and drops a streamlit entry
// point when streamlit is installed. Specs in fail exit non-zero.
type fakePip struct {
	fail map[string]bool
}

func (f *fakePip) Run(_ context.Context, c runtime.Command) (runtime.Result, error) {
	if len(c.Args) == 3 && c.Args[1] == "venv" {
		return runtime.Result{}, os.MkdirAll(filepath.Join(c.Args[2], "bin"), 0o755)
	}
	spec := c.Args[len(c.Args)-1]
	if f.fail[spec] {
		return runtime.Result{Stderr: "no such version\n", ExitCode: 1}, &runtime.ExitError{Command: c.String(), ExitCode: 1, Stderr: "no such version\n"}
	}
	if strings.HasPrefix(spec, "streamlit==") {
		bin := filepath.Join(filepath.Dir(c.Bin), "streamlit")
		if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
			return runtime.Result{}, err
		}
	}
	return runtime.Result{Stdout: "Successfully installed " + spec + "\n"}, nil
}

type cliHarness struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

func setup(t *testing.T, runner runtime.Runner) cliHarness {
	t.Helper()
	h := cliHarness{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	prevOut, prevErr, prevRunner, prevExec, prevLookup := stdout, stderr, newRunner, launchExec, lookupEnv
	stdout, stderr = h.out, h.err
	newRunner = func() runtime.Runner { return runner }
	lookupEnv = func(string) string { return "" }
	t.Cleanup(func() {
		stdout, stderr, newRunner, launchExec, lookupEnv = prevOut, prevErr, prevRunner, prevExec, prevLookup
	})
	return h
}

const smallManifest = `packages:
  - name: streamlit
    version: "1.28.0"
  - name: requests
    version: "2.31.0"
`

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "docbot.yaml"), []byte(smallManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte("import streamlit as st\n"), 0o644))
	return root
}

func TestUnknownCommand(t *testing.T) {
	h := setup(t, &fakePip{})
	assert.Equal(t, 1, Execute([]string{"bogus"}))
	assert.Contains(t, h.err.String(), "unknown command: bogus")
	assert.Equal(t, 1, Execute(nil))
}

func TestHelp(t *testing.T) {
	h := setup(t, &fakePip{})
	assert.Equal(t, 0, Execute([]string{"help"}))
	assert.Contains(t, h.out.String(), "provision")
	assert.Contains(t, h.out.String(), "launch")
}

func TestProvisionThenLaunch(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)

	code := Execute([]string{"provision", "--root", root, "--python", "python3"})
	require.Equal(t, 0, code, h.err.String())
	out := h.out.String()
	assert.Contains(t, out, "[OK] install:streamlit")
	assert.Contains(t, out, "[OK] write-config")
	assert.Contains(t, out, "config: created")
	assert.FileExists(t, filepath.Join(root, ".env"))
	assert.FileExists(t, filepath.Join(root, "venv", "docbot.lock.json"))

	var gotArgv0 string
	var gotArgv, gotEnv []string
	launchExec = func(argv0 string, argv, envv []string) error {
		gotArgv0, gotArgv, gotEnv = argv0, argv, envv
		return nil
	}
	t.Chdir(t.TempDir())
	require.Equal(t, 0, Execute([]string{"launch", "--root", root}), h.err.String())
	assert.Equal(t, filepath.Join(root, "venv", "bin", "streamlit"), gotArgv0)
	assert.Equal(t, []string{"streamlit", "run", "app.py"}, gotArgv)
	assert.Contains(t, gotEnv, "VIRTUAL_ENV="+filepath.Join(root, "venv"))
}

func TestProvisionKeepsExistingConfig(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)
	custom := "OPENROUTER_API_KEY=sk-or-mine\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte(custom), 0o600))

	require.Equal(t, 0, Execute([]string{"provision", "--root", root, "--python", "python3"}), h.err.String())
	assert.Contains(t, h.out.String(), "[SKIP] write-config")
	assert.Contains(t, h.out.String(), "config: kept existing")

	b, err := os.ReadFile(filepath.Join(root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, custom, string(b))
}

func TestProvisionFailureReportsPackage(t *testing.T) {
	h := setup(t, &fakePip{fail: map[string]bool{"streamlit==1.28.0": true}})
	root := newProject(t)

	assert.Equal(t, 1, Execute([]string{"provision", "--root", root, "--python", "python3"}))
	errText := h.err.String()
	assert.Contains(t, errText, "provision failed: step install:streamlit")
	assert.Contains(t, errText, "streamlit==1.28.0 could not be installed")
	assert.Contains(t, errText, "docbot provision")
	assert.NotContains(t, h.out.String(), "install:requests")

	store, err := sqlite.Open(filepath.Join(root, ".docbot"))
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusFailed, runs[0].Status)
	assert.Equal(t, "install:streamlit", runs[0].FailedStep)

	h.out.Reset()
	require.Equal(t, 0, Execute([]string{"logs", runs[0].RunID, "--root", root}))
	assert.Contains(t, h.out.String(), "failed_step: install:streamlit")
	assert.Contains(t, h.out.String(), "no such version")
}

func TestLaunchWithoutEnvironment(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)
	called := false
	launchExec = func(string, []string, []string) error {
		called = true
		return nil
	}

	assert.Equal(t, 1, Execute([]string{"launch", "--root", root}))
	assert.False(t, called)
	assert.Contains(t, h.err.String(), "launch failed")
	assert.Contains(t, h.err.String(), "run `docbot provision` first")
	assert.NoDirExists(t, filepath.Join(root, ".docbot"))
	assert.NoFileExists(t, filepath.Join(root, ".env"))
}

func TestDoctorReportsMissingEnvironment(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)

	assert.Equal(t, 1, Execute([]string{"doctor", "--root", root, "--json"}))
	var report doctorReport
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &report))
	statuses := map[string]string{}
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, doctorStatusFail, statuses["environment"])
	assert.Equal(t, doctorStatusFail, statuses["config"])
	assert.Contains(t, h.err.String(), "failing checks")
}

func TestDoctorAfterProvision(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)
	require.Equal(t, 0, Execute([]string{"provision", "--root", root, "--python", "python3"}), h.err.String())

	proj, err := (&projectFlags{root: root}).resolve()
	require.NoError(t, err)
	report, err := collectDoctorReport(proj)
	statuses := map[string]string{}
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, doctorStatusPass, statuses["environment"])
	assert.Equal(t, doctorStatusPass, statuses["lock"])
	assert.Equal(t, doctorStatusPass, statuses["app"])
	assert.Equal(t, doctorStatusPass, statuses["config"])
	// The freshly written config still carries the placeholder key.
	assert.Equal(t, doctorStatusFail, statuses["api_key"])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")

	lookupEnv = func(key string) string {
		if key == config.KeyAPIKey {
			return "sk-or-from-env"
		}
		return ""
	}
	report, _ = collectDoctorReport(proj)
	for _, c := range report.Checks {
		if c.Name == "api_key" {
			assert.Equal(t, doctorStatusPass, c.Status)
		}
	}
}

func TestDoctorFlagsManifestDrift(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)
	require.Equal(t, 0, Execute([]string{"provision", "--root", root, "--python", "python3"}), h.err.String())

	drifted := smallManifest + "  - name: numpy\n    version: \"1.24.3\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "docbot.yaml"), []byte(drifted), 0o644))
	proj, err := (&projectFlags{root: root}).resolve()
	require.NoError(t, err)
	report, _ := collectDoctorReport(proj)
	for _, c := range report.Checks {
		if c.Name == "lock" {
			assert.Equal(t, doctorStatusWarn, c.Status)
		}
	}
}

func TestHistoryListsRuns(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)
	require.Equal(t, 0, Execute([]string{"provision", "--root", root, "--python", "python3"}), h.err.String())
	require.Equal(t, 0, Execute([]string{"provision", "--root", root, "--python", "python3"}), h.err.String())

	h.out.Reset()
	require.Equal(t, 0, Execute([]string{"history", "--root", root, "--json"}))
	var runs []sqlite.RunRecord
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, sqlite.StatusSucceeded, runs[0].Status)
}

func TestCleanCommand(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "venv", "bin"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vector_data"), 0o755))

	require.Equal(t, 0, Execute([]string{"clean", "--root", root}), h.err.String())
	assert.NoDirExists(t, filepath.Join(root, "venv"))
	assert.NoDirExists(t, filepath.Join(root, "vector_data"))
	assert.FileExists(t, filepath.Join(root, "app.py"))
}

func TestManifestCommand(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)

	require.Equal(t, 0, Execute([]string{"manifest", "--root", root, "--json"}))
	var payload struct {
		Source       string   `json:"source"`
		Digest       string   `json:"digest"`
		Requirements []string `json:"requirements"`
	}
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &payload))
	assert.Equal(t, filepath.Join(root, "docbot.yaml"), payload.Source)
	assert.True(t, strings.HasPrefix(payload.Digest, "blake3:"))
	assert.Equal(t, []string{"streamlit==1.28.0", "requests==2.31.0"}, payload.Requirements)

	h.out.Reset()
	require.Equal(t, 0, Execute([]string{"manifest", "--root", t.TempDir()}))
	assert.Contains(t, h.out.String(), "# source: built-in default")
	assert.Contains(t, h.out.String(), "name: python-docx")
}

func TestFlagsAfterPositionals(t *testing.T) {
	h := setup(t, &fakePip{})
	root := newProject(t)
	assert.Equal(t, 1, Execute([]string{"logs", "missing-run", "--root", root}))
	assert.Contains(t, h.err.String(), "run not found")
}

func TestVenvFlagMustStayInsideRoot(t *testing.T) {
	outside := t.TempDir()
	sentinel := filepath.Join(outside, "keep.txt")
	require.NoError(t, os.WriteFile(sentinel, []byte("x"), 0o644))

	for _, venv := range []string{outside, "../elsewhere", ".env"} {
		t.Run(venv, func(t *testing.T) {
			h := setup(t, &fakePip{})
			root := newProject(t)
			assert.Equal(t, 1, Execute([]string{"clean", "--root", root, "--venv", venv}))
			assert.Contains(t, h.err.String(), "--venv")
			assert.Equal(t, 1, Execute([]string{"provision", "--root", root, "--venv", venv, "--python", "python3"}))
		})
	}
	assert.FileExists(t, sentinel)
}
