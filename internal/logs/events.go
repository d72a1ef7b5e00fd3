package logs

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Event struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"runId"`
	Phase     string `json:"phase"`
	Step      string `json:"step,omitempty"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

func RunDir(stateDir, runID string) string {
	return filepath.Join(stateDir, "runs", runID)
}

func AppendEvent(stateDir string, runID string, e Event) error {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.RunID = runID
	path := filepath.Join(RunDir(stateDir, runID), "events.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func ReadEvents(stateDir string, runID string) ([]string, error) {
	path := filepath.Join(RunDir(stateDir, runID), "events.jsonl")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return lines, nil
}

// StepOutputName maps a step name to its log file; ':' is not portable in file names.
func StepOutputName(step string) string {
	return strings.NewReplacer(":", "_", "/", "_", `\`, "_").Replace(step) + ".log"
}

// WriteStepOutput keeps the installer's stdout and stderr of one step.
func WriteStepOutput(stateDir, runID, step, stdout, stderr string) error {
	if stdout == "" && stderr == "" {
		return nil
	}
	path := filepath.Join(RunDir(stateDir, runID), StepOutputName(step))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(stdout)
	if stderr != "" {
		if stdout != "" && !strings.HasSuffix(stdout, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString("--- stderr ---\n")
		b.WriteString(stderr)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ReadStepOutputs returns every captured step log of a run keyed by file name.
func ReadStepOutputs(stateDir, runID string) (map[string]string, error) {
	entries, err := os.ReadDir(RunDir(stateDir, runID))
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(RunDir(stateDir, runID), e.Name()))
		if err != nil {
			return nil, err
		}
		out[e.Name()] = string(b)
	}
	return out, nil
}
