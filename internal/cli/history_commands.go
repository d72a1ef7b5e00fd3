package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fpp-125/docbot/internal/logs"
	"github.com/fpp-125/docbot/internal/store/sqlite"
	"gopkg.in/yaml.v3"
)

func runHistory(args []string) int {
	fs := newFlagSet("history")
	var pf projectFlags
	var limit int
	var asJSON bool
	pf.bind(fs, true)
	fs.IntVar(&limit, "limit", 20, "max rows")
	fs.BoolVar(&asJSON, "json", false, "json output")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	proj, err := pf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "history failed: %v\n", err)
		return 1
	}
	store, err := sqlite.Open(proj.StateDir)
	if err != nil {
		fmt.Fprintf(stderr, "open state store: %v\n", err)
		return 1
	}
	defer store.Close()
	runs, err := store.ListRuns(limit)
	if err != nil {
		fmt.Fprintf(stderr, "history failed: %v\n", err)
		return 1
	}
	if asJSON {
		b, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Fprintln(stdout, string(b))
		return 0
	}
	paint := newPainter(stdout)
	for _, r := range runs {
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", r.RunID, paint.tag(r.Status), r.StartedAt, r.FailedStep)
	}
	return 0
}

func runLogs(args []string) int {
	fs := newFlagSet("logs")
	var pf projectFlags
	pf.bind(fs, true)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	remaining := fs.Args()
	if len(remaining) != 1 {
		fmt.Fprintln(stderr, "usage: docbot logs <run-id> [--state-dir=.docbot]")
		return 1
	}
	runID := remaining[0]
	proj, err := pf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "logs failed: %v\n", err)
		return 1
	}
	store, err := sqlite.Open(proj.StateDir)
	if err != nil {
		fmt.Fprintf(stderr, "open state store: %v\n", err)
		return 1
	}
	defer store.Close()

	r, err := store.GetRun(runID)
	if err != nil {
		fmt.Fprintf(stderr, "logs failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "run_id: %s\n", r.RunID)
	fmt.Fprintf(stdout, "status: %s\n", r.Status)
	if r.FailedStep != "" {
		fmt.Fprintf(stdout, "failed_step: %s\n", r.FailedStep)
		fmt.Fprintf(stdout, "error: %s\n", r.LastError)
	}

	events, err := logs.ReadEvents(proj.StateDir, runID)
	if err == nil {
		for _, line := range events {
			fmt.Fprintln(stdout, line)
		}
	}
	outputs, err := logs.ReadStepOutputs(proj.StateDir, runID)
	if err != nil {
		return 0
	}
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "==> %s <==\n%s", name, outputs[name])
		if n := len(outputs[name]); n > 0 && outputs[name][n-1] != '\n' {
			fmt.Fprintln(stdout)
		}
	}
	return 0
}

func runManifest(args []string) int {
	fs := newFlagSet("manifest")
	var pf projectFlags
	var asJSON bool
	pf.bind(fs, false)
	fs.BoolVar(&asJSON, "json", false, "json output")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	proj, err := pf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "manifest failed: %v\n", err)
		return 1
	}
	m := proj.Manifest
	if asJSON {
		payload := map[string]any{
			"source":       proj.ManifestSource,
			"digest":       m.Digest(),
			"manifest":     m,
			"requirements": m.Requirements(),
		}
		b, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Fprintln(stdout, string(b))
		return 0
	}
	b, err := yaml.Marshal(m)
	if err != nil {
		fmt.Fprintf(stderr, "manifest failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "# source: %s\n# digest: %s\n", proj.ManifestSource, m.Digest())
	fmt.Fprint(stdout, string(b))
	return 0
}
