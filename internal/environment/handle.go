package environment

import (
	"errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
)

// Handle points at an isolated Python environment rooted inside a project.
// It is passed explicitly to the provisioner and the launcher; nothing in
// docbot assumes the process working directory.
type Handle struct {
	Root string
	Dir  string
}

// New resolves dir against root unless dir is absolute.
func New(root, dir string) (Handle, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Handle{}, err
	}
	if strings.TrimSpace(dir) == "" {
		return Handle{}, errors.New("environment dir is empty")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(absRoot, dir)
	}
	return Handle{Root: absRoot, Dir: filepath.Clean(dir)}, nil
}

// Exists reports whether the environment directory is present.
func (h Handle) Exists() bool {
	st, err := os.Stat(h.Dir)
	return err == nil && st.IsDir()
}

func (h Handle) BinDir() string {
	if goruntime.GOOS == "windows" {
		return filepath.Join(h.Dir, "Scripts")
	}
	return filepath.Join(h.Dir, "bin")
}

func (h Handle) Python() string {
	return h.Executable("python")
}

func (h Handle) Executable(name string) string {
	if goruntime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}
	return filepath.Join(h.BinDir(), name)
}

// HasExecutable reports whether name is installed in the environment's bin dir.
func (h Handle) HasExecutable(name string) bool {
	st, err := os.Stat(h.Executable(name))
	return err == nil && !st.IsDir()
}

// Activate returns base with the variables `activate` would set: VIRTUAL_ENV,
// the environment's bin dir first on PATH, and PYTHONHOME removed.
func (h Handle) Activate(base []string) []string {
	out := make([]string, 0, len(base)+2)
	path := ""
	for _, kv := range base {
		key, value, _ := strings.Cut(kv, "=")
		switch envKey(key) {
		case "VIRTUAL_ENV", "PYTHONHOME":
			continue
		case "PATH":
			path = value
			continue
		}
		out = append(out, kv)
	}
	if path == "" {
		path = h.BinDir()
	} else {
		path = h.BinDir() + string(os.PathListSeparator) + path
	}
	return append(out, "VIRTUAL_ENV="+h.Dir, "PATH="+path)
}

func envKey(key string) string {
	if goruntime.GOOS == "windows" {
		return strings.ToUpper(key)
	}
	return key
}
