package launch

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fpp-125/docbot/internal/environment"
	"github.com/fpp-125/docbot/internal/manifest"
)

// ExecFunc replaces the current process. It only returns on failure.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// EnvironmentMissingError means launch was attempted before a complete provisioning run.
type EnvironmentMissingError struct {
	Path   string
	Detail string
}

func (e *EnvironmentMissingError) Error() string {
	msg := "environment " + e.Path + " not found"
	if e.Detail != "" {
		msg = e.Detail
	}
	return msg + "; run `docbot provision` first"
}

// Launcher hands the terminal over to the chatbot server running inside the environment.
type Launcher struct {
	Handle environment.Handle
	App    manifest.App

	// Exec defaults to the platform process replacement.
	Exec ExecFunc
	// Environ is the base environment before activation. Defaults to os.Environ.
	Environ func() []string
}

// Command returns the binary path, argv and environment Launch would exec.
func (l *Launcher) Command() (string, []string, []string, error) {
	if !l.Handle.Exists() {
		return "", nil, nil, &EnvironmentMissingError{Path: l.Handle.Dir}
	}
	name := l.App.Command
	if name == "" {
		name = manifest.Default().App.Command
	}
	if !l.Handle.HasExecutable(name) {
		return "", nil, nil, &EnvironmentMissingError{
			Path:   l.Handle.Dir,
			Detail: fmt.Sprintf("%s is not installed in %s (incomplete provisioning run?)", name, l.Handle.Dir),
		}
	}
	bin := l.Handle.Executable(name)
	argv := append([]string{name}, l.App.Args...)
	if l.App.Port != 0 && l.App.Port != manifest.DefaultPort {
		argv = append(argv, "--server.port", strconv.Itoa(l.App.Port))
	}
	base := os.Environ
	if l.Environ != nil {
		base = l.Environ
	}
	return bin, argv, l.Handle.Activate(base()), nil
}

// Launch replaces the current process with the app server. The working
// directory must be the project root so the app finds its script and config.
// Nothing is written before the exec.
func (l *Launcher) Launch() error {
	bin, argv, env, err := l.Command()
	if err != nil {
		return err
	}
	if err := os.Chdir(l.Handle.Root); err != nil {
		return fmt.Errorf("enter project root: %w", err)
	}
	execFn := l.Exec
	if execFn == nil {
		execFn = defaultExec
	}
	if err := execFn(bin, argv, env); err != nil {
		return fmt.Errorf("exec %s: %w", bin, err)
	}
	return nil
}
