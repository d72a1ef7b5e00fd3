package provision

import (
	"log/slog"
	"strings"
	"time"

	"github.com/fpp-125/docbot/internal/logs"
	"github.com/fpp-125/docbot/internal/metrics"
	"github.com/fpp-125/docbot/internal/store/sqlite"
)

// Journal persists a provisioning run: run and step rows in the state store,
// a JSONL event log plus captured installer output under the run directory,
// and a metrics textfile. All methods are safe on a nil *Journal.
type Journal struct {
	StateDir string
	Store    *sqlite.Store
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	runID string
}

func NewJournal(stateDir string, store *sqlite.Store, rec *metrics.Recorder, logger *slog.Logger) *Journal {
	return &Journal{StateDir: stateDir, Store: store, Metrics: rec, Logger: logger}
}

func (j *Journal) RunID() string {
	if j == nil {
		return ""
	}
	return j.runID
}

func (j *Journal) BeginRun(runID, digest, envDir string) error {
	if j == nil {
		return nil
	}
	j.runID = runID
	j.seedMetrics()
	if j.Store != nil {
		if err := j.Store.InsertRun(sqlite.RunRecord{
			RunID:          runID,
			ManifestDigest: digest,
			EnvironmentDir: envDir,
			Status:         sqlite.StatusRunning,
		}); err != nil {
			return err
		}
	}
	j.event(logs.Event{Phase: "run", Message: "provisioning started"})
	return nil
}

func (j *Journal) EndRun(runErr error, failedStep string) error {
	if j == nil {
		return nil
	}
	status := sqlite.StatusSucceeded
	lastError := ""
	if runErr != nil {
		status = sqlite.StatusFailed
		lastError = runErr.Error()
	}
	j.event(logs.Event{Phase: "run", Step: failedStep, Message: "provisioning " + status, Error: lastError})
	if j.Metrics != nil {
		j.Metrics.ObserveRun(status, time.Now())
		if j.StateDir != "" {
			if err := j.Metrics.WriteTextfile(metrics.TextfilePath(j.StateDir)); err != nil {
				j.warn("write metrics textfile", err)
			}
		}
	}
	if j.Store == nil {
		return nil
	}
	return j.Store.CompleteRun(j.runID, status, failedStep, lastError)
}

func (j *Journal) StepStarted(seq int, name string) {
	if j == nil {
		return
	}
	if j.Store != nil {
		if err := j.Store.InsertStep(sqlite.StepRecord{
			RunID:  j.runID,
			Seq:    seq,
			Name:   name,
			Status: sqlite.StatusRunning,
		}); err != nil {
			j.warn("record step start", err)
		}
	}
	j.event(logs.Event{Phase: "step", Step: name, Message: "started"})
}

func (j *Journal) StepFinished(seq int, name string, out Outcome, err error, elapsed time.Duration) {
	if j == nil {
		return
	}
	status := stepStatus(out, err)
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if j.StateDir != "" {
		if werr := logs.WriteStepOutput(j.StateDir, j.runID, name, out.Output.Stdout, out.Output.Stderr); werr != nil {
			j.warn("write step output", werr)
		}
	}
	if j.Store != nil {
		if serr := j.Store.CompleteStep(j.runID, seq, status, errText); serr != nil {
			j.warn("record step completion", serr)
		}
	}
	if j.Metrics != nil {
		j.Metrics.ObserveStep(StepKind(name), status, elapsed)
		if status == sqlite.StatusSucceeded && strings.HasPrefix(name, StepInstallPrefix) {
			j.Metrics.PackageInstalled()
		}
	}
	msg := status
	if out.Notice != "" {
		msg += ": " + out.Notice
	}
	j.event(logs.Event{Phase: "step", Step: name, Message: msg, Error: errText})
}

// seedMetrics loads totals of earlier runs; it must run before the current
// run is inserted.
func (j *Journal) seedMetrics() {
	if j.Metrics == nil || j.Store == nil {
		return
	}
	runs, err := j.Store.RunTotals()
	if err != nil {
		j.warn("load run totals", err)
		return
	}
	for status, n := range runs.ByStatus {
		j.Metrics.SeedRuns(status, n)
	}
	j.Metrics.SeedLastSuccess(runs.LastSuccess)

	steps, err := j.Store.StepTotals()
	if err != nil {
		j.warn("load step totals", err)
		return
	}
	for _, s := range steps {
		j.Metrics.SeedSteps(StepKind(s.Name), s.Status, s.Count)
	}
}

func (j *Journal) event(e logs.Event) {
	if j.StateDir == "" || j.runID == "" {
		return
	}
	if err := logs.AppendEvent(j.StateDir, j.runID, e); err != nil {
		j.warn("append event", err)
	}
}

func (j *Journal) warn(what string, err error) {
	if j.Logger == nil {
		return
	}
	j.Logger.Warn(what+" failed", "run_id", j.runID, "error", err)
}

func stepStatus(out Outcome, err error) string {
	switch {
	case err != nil:
		return sqlite.StatusFailed
	case out.Skipped:
		return sqlite.StatusSkipped
	default:
		return sqlite.StatusSucceeded
	}
}
