package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fpp-125/docbot/internal/config"
	"github.com/fpp-125/docbot/internal/launch"
	"github.com/fpp-125/docbot/internal/runtime"
)

type doctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

type doctorReport struct {
	Root           string        `json:"root"`
	Environment    string        `json:"environment"`
	ManifestSource string        `json:"manifestSource"`
	Checks         []doctorCheck `json:"checks"`
}

const (
	doctorStatusPass = "pass"
	doctorStatusWarn = "warn"
	doctorStatusFail = "fail"
)

// lookupEnv reads the process environment; replaced in tests.
var lookupEnv = os.Getenv

func runDoctor(args []string) int {
	flags := newFlagSet("doctor")
	var pf projectFlags
	var asJSON bool
	pf.bind(flags, false)
	flags.BoolVar(&asJSON, "json", false, "json output")
	if ok, code := parseFlags(flags, args); !ok {
		return code
	}
	if len(flags.Args()) != 0 {
		fmt.Fprintln(stderr, "usage: docbot doctor [--root=.] [--venv=venv] [--manifest=docbot.yaml] [--json]")
		return 1
	}
	proj, err := pf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "doctor failed: %v\n", err)
		return 1
	}

	report, err := collectDoctorReport(proj)
	if asJSON {
		b, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(stdout, string(b))
	} else {
		printDoctorReport(report)
	}
	if err != nil {
		fmt.Fprintf(stderr, "doctor failed: %v\n", err)
		return 1
	}
	return 0
}

func collectDoctorReport(proj project) (doctorReport, error) {
	report := doctorReport{
		Root:           proj.Handle.Root,
		Environment:    proj.Handle.Dir,
		ManifestSource: proj.ManifestSource,
		Checks:         make([]doctorCheck, 0, 7),
	}
	add := func(name, status, detail string) {
		report.Checks = append(report.Checks, doctorCheck{Name: name, Status: status, Detail: detail})
	}
	m := proj.Manifest
	h := proj.Handle

	if python, err := runtime.ResolvePython(m.Environment.Python); err != nil {
		add("python", doctorStatusFail, err.Error())
	} else {
		add("python", doctorStatusPass, python)
	}

	if !h.Exists() {
		add("environment", doctorStatusFail, h.Dir+" not found; run `docbot provision`")
	} else {
		add("environment", doctorStatusPass, h.Dir)

		lock, err := h.LoadLock()
		switch {
		case errors.Is(err, fs.ErrNotExist):
			add("lock", doctorStatusFail, "no lock file; the last provisioning run did not finish")
		case err != nil:
			add("lock", doctorStatusFail, err.Error())
		case lock.ManifestDigest != m.Digest():
			add("lock", doctorStatusWarn, "manifest changed since the last provisioning run; run `docbot provision`")
		default:
			add("lock", doctorStatusPass, fmt.Sprintf("%d packages, run %s", len(lock.Packages), lock.RunID))
		}

		if h.HasExecutable(m.App.Command) {
			add("app", doctorStatusPass, h.Executable(m.App.Command))
		} else {
			add("app", doctorStatusFail, m.App.Command+" missing from "+h.BinDir())
		}
	}

	configPath := filepath.Join(h.Root, m.Config.Path)
	values, err := config.Read(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		add("config", doctorStatusFail, configPath+" not found; run `docbot provision`")
	case err != nil:
		add("config", doctorStatusFail, err.Error())
	default:
		add("config", doctorStatusPass, configPath)
		switch {
		case !config.IsPlaceholder(lookupEnv(config.KeyAPIKey)):
			add("api_key", doctorStatusPass, config.KeyAPIKey+" set in the process environment")
		case !config.IsPlaceholder(values[config.KeyAPIKey]):
			add("api_key", doctorStatusPass, config.KeyAPIKey+" set in "+m.Config.Path)
		default:
			add("api_key", doctorStatusFail, "set "+config.KeyAPIKey+" in "+m.Config.Path+" (get a key at https://openrouter.ai/)")
		}
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(m.App.Port))
	if launch.PortFree(addr) {
		add("port", doctorStatusPass, addr+" is free")
	} else {
		add("port", doctorStatusWarn, addr+" is in use (app already running?)")
	}

	failed := make([]string, 0, 4)
	for _, c := range report.Checks {
		if c.Status == doctorStatusFail {
			failed = append(failed, c.Name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return report, fmt.Errorf("failing checks: %s", strings.Join(failed, ", "))
	}
	return report, nil
}

func printDoctorReport(report doctorReport) {
	paint := newPainter(stdout)
	fmt.Fprintln(stdout, "doctor:")
	for _, c := range report.Checks {
		fmt.Fprintf(stdout, "  %s %s: %s\n", paint.tag(c.Status), c.Name, c.Detail)
	}
	fmt.Fprintf(stdout, "manifest: %s\n", report.ManifestSource)
}
