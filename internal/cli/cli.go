package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fpp-125/docbot/internal/environment"
	"github.com/fpp-125/docbot/internal/manifest"
	"github.com/fpp-125/docbot/internal/runtime"
	"github.com/spf13/pflag"
)

// Replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	newRunner = func() runtime.Runner { return runtime.NewExecRunner() }
)

func Execute(args []string) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := args[0]
	switch cmd {
	case "provision":
		return runProvision(ctx, args[1:])
	case "launch":
		return runLaunch(args[1:])
	case "clean":
		return runClean(ctx, args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "wait":
		return runWait(ctx, args[1:])
	case "history":
		return runHistory(args[1:])
	case "logs":
		return runLogs(args[1:])
	case "manifest":
		return runManifest(args[1:])
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		printUsage(stderr)
		return 1
	}
}

// projectFlags are shared by every command that works on a project checkout.
type projectFlags struct {
	root     string
	venv     string
	manifest string
	stateDir string
	verbose  bool
}

func (p *projectFlags) bind(fs *pflag.FlagSet, withState bool) {
	fs.StringVar(&p.root, "root", ".", "project root containing the chatbot app")
	fs.StringVar(&p.venv, "venv", "", "environment directory relative to --root (default from manifest: venv)")
	fs.StringVarP(&p.manifest, "manifest", "m", "", "manifest file (default <root>/"+manifest.Filename+" or built-in)")
	if withState {
		fs.StringVar(&p.stateDir, "state-dir", "", "state directory for run history (default <root>/.docbot)")
	}
	fs.BoolVarP(&p.verbose, "verbose", "v", false, "debug logging")
}

type project struct {
	Manifest       manifest.Manifest
	ManifestSource string
	Handle         environment.Handle
	StateDir       string
}

func (p *projectFlags) resolve() (project, error) {
	m, source, err := manifest.Resolve(p.root, p.manifest)
	if err != nil {
		return project{}, err
	}
	if source == "" {
		source = "built-in default"
	}
	if strings.TrimSpace(p.venv) != "" {
		m.Environment.Path = p.venv
		// --venv is held to the same rules as environment.path: relative,
		// inside the root, and not holding the config file.
		if err := m.Validate(); err != nil {
			return project{}, fmt.Errorf("--venv: %w", err)
		}
	}
	h, err := environment.New(p.root, m.Environment.Path)
	if err != nil {
		return project{}, err
	}
	stateDir := p.stateDir
	if stateDir == "" {
		stateDir = filepath.Join(h.Root, ".docbot")
	}
	return project{Manifest: m, ManifestSource: source, Handle: h, StateDir: stateDir}, nil
}

// newFlagSet parses interspersed flags and positionals; parse errors are
// already reported by pflag on stderr.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) (ok bool, code int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, 0
		}
		return false, 1
	}
	return true, 0
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `docbot - provision and launch the document Q&A chatbot

commands:
  provision [--root=.] [--venv=venv] [--manifest=docbot.yaml] [--python=python3] [--state-dir=.docbot]
  launch [--root=.] [--venv=venv] [--manifest=docbot.yaml]
  clean [--root=.] [--venv=venv] [--manifest=docbot.yaml]
  doctor [--root=.] [--venv=venv] [--manifest=docbot.yaml] [--json]
  wait [--addr=127.0.0.1:8501] [--timeout=60s]
  history [--state-dir=.docbot] [--limit=20] [--json]
  logs <run-id> [--state-dir=.docbot]
  manifest [--root=.] [--manifest=docbot.yaml] [--json]

every command accepts --verbose for debug logging.
`)
}
