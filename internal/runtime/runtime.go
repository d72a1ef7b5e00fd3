package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	goruntime "runtime"
	"strings"
)

type Command struct {
	Bin  string
	Args []string
	Dir  string
	// Env replaces the inherited environment when non-nil.
	Env []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Bin}, c.Args...), " ")
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes one blocking subcommand.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError is returned when the subcommand ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if tail := Tail(e.Stderr, 5); tail != "" {
		msg += ": " + tail
	}
	return msg
}

type ExecRunner struct{}

func NewExecRunner() *ExecRunner { return &ExecRunner{} }

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Bin, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	var out bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	res := Result{Stdout: out.String(), Stderr: errBuf.String()}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			if ctx.Err() != nil {
				return res, fmt.Errorf("%s: %w", c.String(), ctx.Err())
			}
			return res, &ExitError{Command: c.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", c.String(), err)
	}
	return res, nil
}

// ResolvePython picks the interpreter that creates new environments. An explicit
// override must be found on PATH (or be a path); otherwise the host default order applies.
func ResolvePython(override string) (string, error) {
	if v := strings.TrimSpace(override); v != "" {
		p, err := exec.LookPath(v)
		if err != nil {
			return "", fmt.Errorf("python interpreter %s is not available on this host", v)
		}
		return p, nil
	}
	order := hostDefaultOrder()
	for _, name := range order {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python interpreter found; install one of: %s", strings.Join(order, ", "))
}

func hostDefaultOrder() []string {
	if goruntime.GOOS == "windows" {
		return []string{"py", "python"}
	}
	return []string{"python3", "python"}
}

// Tail returns the last n non-empty lines of s, joined by " | ".
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append(kept, l)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, " | ")
}
