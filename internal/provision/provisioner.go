package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpp-125/docbot/internal/config"
	"github.com/fpp-125/docbot/internal/environment"
	"github.com/fpp-125/docbot/internal/manifest"
	"github.com/fpp-125/docbot/internal/runtime"
	"github.com/google/uuid"
)

const (
	StepClean            = "clean"
	StepCreateEnv        = "create-env"
	StepUpgradeInstaller = "upgrade-installer"
	StepInstallPrefix    = "install:"
	StepWriteConfig      = "write-config"
	StepWriteLock        = "write-lock"
)

type Provisioner struct {
	Handle   environment.Handle
	Manifest manifest.Manifest
	Runner   runtime.Runner

	// Python creates the environment. Empty resolves manifest.Environment.Python
	// (or the host default) when the create-env step runs.
	Python string

	// Environ is the base environment for installer subprocesses. Defaults to os.Environ.
	Environ func() []string

	// Journal records runs; nil disables history, events and metrics.
	Journal *Journal
	// Progress, when set, is told about each step as it runs.
	Progress Observer
	Logger   *slog.Logger
}

type StepResult struct {
	Name    string        `json:"name"`
	Status  string        `json:"status"`
	Elapsed time.Duration `json:"elapsed"`
	Notice  string        `json:"notice,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type Report struct {
	RunID          string       `json:"runId"`
	ManifestDigest string       `json:"manifestDigest"`
	EnvironmentDir string       `json:"environmentDir"`
	ConfigPath     string       `json:"configPath"`
	ConfigCreated  bool         `json:"configCreated"`
	Packages       int          `json:"packages"`
	Steps          []StepResult `json:"steps"`
}

// Provision wipes and rebuilds the environment, then creates the config file if absent.
// Any step failure aborts the run; the returned report covers the steps attempted.
func (p *Provisioner) Provision(ctx context.Context) (Report, error) {
	if err := p.preflight(); err != nil {
		return Report{}, err
	}
	runID := uuid.NewString()
	report := Report{
		RunID:          runID,
		ManifestDigest: p.Manifest.Digest(),
		EnvironmentDir: p.Handle.Dir,
		ConfigPath:     p.configPath(),
	}
	if err := p.Journal.BeginRun(runID, report.ManifestDigest, p.Handle.Dir); err != nil {
		return report, fmt.Errorf("record run: %w", err)
	}
	p.logger().Info("provisioning started", "run_id", runID, "environment", p.Handle.Dir, "packages", len(p.Manifest.Packages))

	collector := &reportCollector{report: &report}
	err := Execute(ctx, p.steps(runID, &report), observers{collector, p.Journal, loggingObserver{p.logger()}, p.Progress})

	failedStep := ""
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		failedStep = stepErr.Step
	}
	if endErr := p.Journal.EndRun(err, failedStep); endErr != nil {
		p.logger().Warn("record run completion failed", "run_id", runID, "error", endErr)
	}
	if err != nil {
		p.logger().Error("provisioning failed", "run_id", runID, "step", failedStep, "error", err)
		return report, err
	}
	p.logger().Info("provisioning finished", "run_id", runID, "packages", report.Packages, "config_created", report.ConfigCreated)
	return report, nil
}

// Clean runs only the clean step.
func (p *Provisioner) Clean(ctx context.Context) error {
	if err := p.preflight(); err != nil {
		return err
	}
	return Execute(ctx, []Step{p.cleanStep()}, observers{loggingObserver{p.logger()}, p.Progress})
}

// preflight rejects layouts where clean would delete the config file.
func (p *Provisioner) preflight() error {
	if err := p.Manifest.Validate(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	if containsPath(p.Handle.Dir, p.configPath()) {
		return fmt.Errorf("refusing to clean %s: it contains the config file %s", p.Handle.Dir, p.configPath())
	}
	return nil
}

// Steps lists the provisioning plan in execution order.
func (p *Provisioner) Steps() []Step {
	var report Report
	return p.steps("", &report)
}

func (p *Provisioner) steps(runID string, report *Report) []Step {
	steps := []Step{
		p.cleanStep(),
		{Name: StepCreateEnv, Apply: p.createEnv},
		{Name: StepUpgradeInstaller, Apply: p.upgradeInstaller},
	}
	for _, pkg := range p.Manifest.Packages {
		steps = append(steps, Step{
			Name: StepInstallPrefix + pkg.Name,
			Apply: func(ctx context.Context) (Outcome, error) {
				out, err := p.install(ctx, pkg)
				if err == nil {
					report.Packages++
				}
				return out, err
			},
		})
	}
	steps = append(steps,
		Step{Name: StepWriteConfig, Apply: func(context.Context) (Outcome, error) {
			out, created, err := p.writeConfig()
			report.ConfigCreated = created
			return out, err
		}},
		Step{Name: StepWriteLock, Apply: func(context.Context) (Outcome, error) {
			return Outcome{}, p.Handle.WriteLock(environment.Lock{
				ManifestDigest: p.Manifest.Digest(),
				Packages:       p.Manifest.Packages,
				RunID:          runID,
			})
		}},
	)
	return steps
}

func (p *Provisioner) cleanStep() Step {
	return Step{Name: StepClean, Apply: func(context.Context) (Outcome, error) {
		removed, err := p.removeState()
		if err != nil {
			return Outcome{}, err
		}
		notice := "nothing to remove"
		if len(removed) > 0 {
			notice = "removed " + strings.Join(removed, ", ")
		}
		return Outcome{Notice: notice}, nil
	}}
}

// removeState deletes the environment, the cache paths, and every cache-named
// directory under the root. Missing paths are not an error.
func (p *Provisioner) removeState() ([]string, error) {
	root := p.Handle.Root
	if containsPath(p.Handle.Dir, root) {
		return nil, fmt.Errorf("refusing to remove %s: it contains the project root", p.Handle.Dir)
	}
	var removed []string
	remove := func(path string) error {
		if _, err := os.Lstat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		removed = append(removed, relTo(root, path))
		return nil
	}

	if err := remove(p.Handle.Dir); err != nil {
		return removed, err
	}
	for _, c := range p.Manifest.Caches.Paths {
		if err := remove(filepath.Join(root, c)); err != nil {
			return removed, err
		}
	}
	if len(p.Manifest.Caches.DirNames) == 0 {
		return removed, nil
	}
	names := make(map[string]struct{}, len(p.Manifest.Caches.DirNames))
	for _, n := range p.Manifest.Caches.DirNames {
		names[n] = struct{}{}
	}
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if _, ok := names[d.Name()]; ok {
			matches = append(matches, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("scan caches: %w", err)
	}
	for _, m := range matches {
		if err := remove(m); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (p *Provisioner) createEnv(ctx context.Context) (Outcome, error) {
	python := p.Python
	if python == "" {
		resolved, err := runtime.ResolvePython(p.Manifest.Environment.Python)
		if err != nil {
			return Outcome{}, err
		}
		python = resolved
	}
	res, err := p.Runner.Run(ctx, runtime.Command{
		Bin:  python,
		Args: []string{"-m", "venv", p.Handle.Dir},
		Dir:  p.Handle.Root,
		Env:  p.environ(),
	})
	out := Outcome{Output: res, Notice: "created " + relTo(p.Handle.Root, p.Handle.Dir) + " with " + python}
	if err != nil {
		return out, err
	}
	if !p.Handle.Exists() {
		return out, fmt.Errorf("%s did not create %s", python, p.Handle.Dir)
	}
	return out, nil
}

func (p *Provisioner) upgradeInstaller(ctx context.Context) (Outcome, error) {
	res, err := p.Runner.Run(ctx, runtime.Command{
		Bin:  p.Handle.Python(),
		Args: []string{"-m", "pip", "install", "--upgrade", "pip"},
		Dir:  p.Handle.Root,
		Env:  p.Handle.Activate(p.environ()),
	})
	return Outcome{Output: res}, err
}

func (p *Provisioner) install(ctx context.Context, pkg manifest.Package) (Outcome, error) {
	res, err := p.Runner.Run(ctx, runtime.Command{
		Bin:  p.Handle.Python(),
		Args: []string{"-m", "pip", "install", "--disable-pip-version-check", pkg.String()},
		Dir:  p.Handle.Root,
		Env:  p.Handle.Activate(p.environ()),
	})
	out := Outcome{Output: res, Notice: pkg.String()}
	if err != nil {
		return out, &PackageInstallError{Name: pkg.Name, Version: pkg.Version, Cause: err}
	}
	return out, nil
}

func (p *Provisioner) writeConfig() (Outcome, bool, error) {
	path := p.configPath()
	values := config.Defaults()
	if p.Manifest.Config.Model != "" {
		values.Model = p.Manifest.Config.Model
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Outcome{}, false, fmt.Errorf("create config dir: %w", err)
	}
	created, err := config.CreateIfAbsent(path, values)
	if err != nil {
		return Outcome{}, false, err
	}
	rel := relTo(p.Handle.Root, path)
	if !created {
		return Outcome{Skipped: true, Notice: rel + " already exists; leaving it untouched"}, false, nil
	}
	return Outcome{Notice: "created " + rel + "; set " + config.KeyAPIKey + " before launching"}, true, nil
}

func (p *Provisioner) configPath() string {
	return filepath.Join(p.Handle.Root, p.Manifest.Config.Path)
}

func (p *Provisioner) environ() []string {
	if p.Environ != nil {
		return p.Environ()
	}
	return os.Environ()
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.DiscardHandler)
}

type reportCollector struct {
	report *Report
}

func (c *reportCollector) StepStarted(int, string) {}

func (c *reportCollector) StepFinished(_ int, name string, out Outcome, err error, elapsed time.Duration) {
	r := StepResult{Name: name, Status: stepStatus(out, err), Elapsed: elapsed, Notice: out.Notice}
	if err != nil {
		r.Error = err.Error()
	}
	c.report.Steps = append(c.report.Steps, r)
}

type loggingObserver struct {
	logger *slog.Logger
}

func (o loggingObserver) StepStarted(seq int, name string) {
	o.logger.Debug("step started", "seq", seq, "step", name)
}

func (o loggingObserver) StepFinished(seq int, name string, out Outcome, err error, elapsed time.Duration) {
	switch {
	case err != nil:
		o.logger.Error("step failed", "seq", seq, "step", name, "elapsed", elapsed, "error", err)
	case out.Skipped:
		o.logger.Info("step skipped", "seq", seq, "step", name, "notice", out.Notice)
	default:
		o.logger.Info("step finished", "seq", seq, "step", name, "elapsed", elapsed, "notice", out.Notice)
	}
}

// containsPath reports whether child is parent or lies beneath it.
func containsPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
