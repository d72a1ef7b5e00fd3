package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fpp-125/docbot/internal/config"
	"github.com/fpp-125/docbot/internal/launch"
	"github.com/fpp-125/docbot/internal/metrics"
	"github.com/fpp-125/docbot/internal/provision"
	"github.com/fpp-125/docbot/internal/store/sqlite"
)

// launchExec overrides the launcher's process replacement in tests.
var launchExec launch.ExecFunc

func runProvision(ctx context.Context, args []string) int {
	fs := newFlagSet("provision")
	var pf projectFlags
	var python string
	pf.bind(fs, true)
	fs.StringVar(&python, "python", "", "interpreter used to create the environment (default python3, then python)")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(stderr, "usage: docbot provision [--root=.] [--venv=venv] [--manifest=docbot.yaml] [--python=python3] [--state-dir=.docbot]")
		return 1
	}
	proj, err := pf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "provision failed: %v\n", err)
		return 1
	}
	logger := newCommandLogger("provision", pf.verbose)

	store, err := sqlite.Open(proj.StateDir)
	if err != nil {
		fmt.Fprintf(stderr, "open state store: %v\n", err)
		return 1
	}
	defer store.Close()

	paint := newPainter(stdout)
	p := &provision.Provisioner{
		Handle:   proj.Handle,
		Manifest: proj.Manifest,
		Runner:   newRunner(),
		Python:   python,
		Journal:  provision.NewJournal(proj.StateDir, store, metrics.NewRecorder(), logger),
		Progress: stepPrinter{w: stdout, paint: paint},
		Logger:   logger,
	}
	fmt.Fprintf(stdout, "provisioning %s (%d packages, manifest %s)\n", proj.Handle.Dir, len(proj.Manifest.Packages), proj.ManifestSource)
	report, err := p.Provision(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "provision failed: %v\n", err)
		var pkgErr *provision.PackageInstallError
		if errors.As(err, &pkgErr) {
			fmt.Fprintf(stderr, "hint: %s==%s could not be installed; check the pin and network access\n", pkgErr.Name, pkgErr.Version)
		}
		if report.RunID != "" {
			fmt.Fprintf(stderr, "installer output: docbot logs %s\n", report.RunID)
		}
		fmt.Fprintln(stderr, "fix the problem and run `docbot provision` again; it starts from a clean slate")
		return 1
	}
	fmt.Fprintf(stdout, "run_id: %s\n", report.RunID)
	fmt.Fprintf(stdout, "environment: %s\n", report.EnvironmentDir)
	fmt.Fprintf(stdout, "packages: %d\n", report.Packages)
	if report.ConfigCreated {
		fmt.Fprintf(stdout, "config: created %s; set %s before launching\n", report.ConfigPath, config.KeyAPIKey)
	} else {
		fmt.Fprintf(stdout, "config: kept existing %s\n", report.ConfigPath)
	}
	fmt.Fprintln(stdout, "next: docbot launch")
	return 0
}

func runClean(ctx context.Context, args []string) int {
	fs := newFlagSet("clean")
	var pf projectFlags
	pf.bind(fs, false)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(stderr, "usage: docbot clean [--root=.] [--venv=venv] [--manifest=docbot.yaml]")
		return 1
	}
	proj, err := pf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "clean failed: %v\n", err)
		return 1
	}
	p := &provision.Provisioner{
		Handle:   proj.Handle,
		Manifest: proj.Manifest,
		Progress: stepPrinter{w: stdout, paint: newPainter(stdout)},
		Logger:   newCommandLogger("clean", pf.verbose),
	}
	if err := p.Clean(ctx); err != nil {
		fmt.Fprintf(stderr, "clean failed: %v\n", err)
		return 1
	}
	return 0
}

func runLaunch(args []string) int {
	fs := newFlagSet("launch")
	var pf projectFlags
	pf.bind(fs, false)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(stderr, "usage: docbot launch [--root=.] [--venv=venv] [--manifest=docbot.yaml]")
		return 1
	}
	proj, err := pf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "launch failed: %v\n", err)
		return 1
	}
	logger := newCommandLogger("launch", pf.verbose)
	l := &launch.Launcher{Handle: proj.Handle, App: proj.Manifest.App, Exec: launchExec}
	logger.Debug("handing over to app", "environment", proj.Handle.Dir, "command", proj.Manifest.App.Command, "port", proj.Manifest.App.Port)
	if err := l.Launch(); err != nil {
		fmt.Fprintf(stderr, "launch failed: %v\n", err)
		return 1
	}
	return 0
}

func runWait(ctx context.Context, args []string) int {
	fs := newFlagSet("wait")
	var pf projectFlags
	var addr string
	var timeout time.Duration
	pf.bind(fs, false)
	fs.StringVar(&addr, "addr", "", "app address (default 127.0.0.1:<manifest port>)")
	fs.DurationVar(&timeout, "timeout", launch.DefaultReadyTimeout, "how long to wait")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(stderr, "usage: docbot wait [--addr=127.0.0.1:8501] [--timeout=60s]")
		return 1
	}
	if addr == "" {
		proj, err := pf.resolve()
		if err != nil {
			fmt.Fprintf(stderr, "wait failed: %v\n", err)
			return 1
		}
		addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(proj.Manifest.App.Port))
	}
	if err := launch.WaitReady(ctx, addr, timeout); err != nil {
		fmt.Fprintf(stderr, "wait failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "ready: http://%s\n", addr)
	return 0
}
