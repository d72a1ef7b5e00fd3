package provision

import (
	"context"
	"strings"
	"time"

	"github.com/fpp-125/docbot/internal/runtime"
)

// Step is one idempotent provisioning action. Steps have no rollback: a failed
// run is repaired by provisioning again, which starts by wiping everything.
type Step struct {
	Name  string
	Apply func(ctx context.Context) (Outcome, error)
}

// Outcome describes a step that did not fail.
type Outcome struct {
	// Skipped marks a step that found its work already done (e.g. an existing config file).
	Skipped bool
	Notice  string
	Output  runtime.Result
}

// Observer is told about every step Execute attempts.
type Observer interface {
	StepStarted(seq int, name string)
	StepFinished(seq int, name string, out Outcome, err error, elapsed time.Duration)
}

// Execute applies steps strictly in order and stops at the first failure;
// later steps are never attempted.
func Execute(ctx context.Context, steps []Step, obs Observer) error {
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: s.Name, Err: err}
		}
		if obs != nil {
			obs.StepStarted(i, s.Name)
		}
		start := time.Now()
		out, err := s.Apply(ctx)
		if obs != nil {
			obs.StepFinished(i, s.Name, out, err, time.Since(start))
		}
		if err != nil {
			return &StepError{Step: s.Name, Err: err}
		}
	}
	return nil
}

// StepKind strips the per-package suffix: "install:numpy" -> "install".
func StepKind(name string) string {
	kind, _, _ := strings.Cut(name, ":")
	return kind
}

type observers []Observer

func (o observers) StepStarted(seq int, name string) {
	for _, obs := range o {
		if obs != nil {
			obs.StepStarted(seq, name)
		}
	}
}

func (o observers) StepFinished(seq int, name string, out Outcome, err error, elapsed time.Duration) {
	for _, obs := range o {
		if obs != nil {
			obs.StepFinished(seq, name, out, err, elapsed)
		}
	}
}
