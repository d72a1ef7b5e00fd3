package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Filename is the manifest looked up in the project root when no explicit path is given.
const Filename = "docbot.yaml"

const (
	DefaultEnvironmentPath = "venv"
	DefaultConfigPath      = ".env"
	DefaultModel           = "openai/gpt-oss-120b:free"
	DefaultPort            = 8501
)

type Manifest struct {
	Environment Environment `yaml:"environment" json:"environment"`
	Packages    []Package   `yaml:"packages" json:"packages"`
	Caches      Caches      `yaml:"caches" json:"caches"`
	Config      Config      `yaml:"config" json:"config"`
	App         App         `yaml:"app" json:"app"`
}

type Environment struct {
	// Path is relative to the project root.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Python is the interpreter used to create the environment. Empty means auto-detect.
	Python string `yaml:"python,omitempty" json:"python,omitempty"`
}

type Package struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

func (p Package) String() string {
	return p.Name + "==" + p.Version
}

// Caches lists derived state removed before every provisioning run.
type Caches struct {
	Paths    []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	DirNames []string `yaml:"dirNames,omitempty" json:"dirNames,omitempty"`
}

type Config struct {
	Path  string `yaml:"path,omitempty" json:"path,omitempty"`
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
}

type App struct {
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Port    int      `yaml:"port,omitempty" json:"port,omitempty"`
}

func Default() Manifest {
	return Manifest{
		Environment: Environment{Path: DefaultEnvironmentPath},
		Packages: []Package{
			{Name: "streamlit", Version: "1.28.0"},
			{Name: "streamlit-chat", Version: "0.1.1"},
			{Name: "python-dotenv", Version: "1.0.0"},
			{Name: "requests", Version: "2.31.0"},
			{Name: "PyPDF2", Version: "3.0.1"},
			{Name: "python-docx", Version: "1.1.0"},
			{Name: "numpy", Version: "1.24.3"},
		},
		Caches: Caches{
			Paths:    []string{"vector_data"},
			DirNames: []string{"__pycache__"},
		},
		Config: Config{Path: DefaultConfigPath, Model: DefaultModel},
		App: App{
			Command: "streamlit",
			Args:    []string{"run", "app.py"},
			Port:    DefaultPort,
		},
	}
}

// Load reads a manifest from YAML (.yaml, .yml) or JSON with comments (.json, .jsonc).
// Sections left empty in the file keep their defaults.
func Load(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return Manifest{}, fmt.Errorf("parse yaml (%s): %w", filepath.Base(path), err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(b)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return Manifest{}, fmt.Errorf("parse json (%s): %w", filepath.Base(path), err)
		}
	default:
		return Manifest{}, fmt.Errorf("unsupported manifest extension %q (want .yaml, .yml, .json or .jsonc)", filepath.Ext(path))
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// Resolve picks the manifest for a project: an explicit path wins, then
// <root>/docbot.yaml, then the built-in default.
func Resolve(root, explicit string) (Manifest, string, error) {
	if strings.TrimSpace(explicit) != "" {
		m, err := Load(explicit)
		return m, explicit, err
	}
	candidate := filepath.Join(root, Filename)
	if _, err := os.Stat(candidate); err == nil {
		m, err := Load(candidate)
		return m, candidate, err
	}
	return Default(), "", nil
}

func (m *Manifest) applyDefaults() {
	def := Default()
	if m.Environment.Path == "" {
		m.Environment.Path = def.Environment.Path
	}
	if len(m.Packages) == 0 {
		m.Packages = def.Packages
	}
	if len(m.Caches.Paths) == 0 && len(m.Caches.DirNames) == 0 {
		m.Caches = def.Caches
	}
	if m.Config.Path == "" {
		m.Config.Path = def.Config.Path
	}
	if m.Config.Model == "" {
		m.Config.Model = def.Config.Model
	}
	if m.App.Command == "" {
		m.App.Command = def.App.Command
		if len(m.App.Args) == 0 {
			m.App.Args = def.App.Args
		}
	}
	if m.App.Port == 0 {
		m.App.Port = def.App.Port
	}
}

func (m Manifest) Validate() error {
	if err := validateRelative("environment.path", m.Environment.Path); err != nil {
		return err
	}
	if len(m.Packages) == 0 {
		return errors.New("packages: at least one pinned package is required")
	}
	seen := make(map[string]int, len(m.Packages))
	for i, p := range m.Packages {
		if err := validatePackage(p); err != nil {
			return fmt.Errorf("packages[%d]: %w", i, err)
		}
		key := normalizeName(p.Name)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("packages[%d]: %s duplicates packages[%d]", i, p.Name, prev)
		}
		seen[key] = i
	}
	for i, p := range m.Caches.Paths {
		if err := validateRelative(fmt.Sprintf("caches.paths[%d]", i), p); err != nil {
			return err
		}
	}
	for i, n := range m.Caches.DirNames {
		if n == "" || n == "." || n == ".." || strings.ContainsAny(n, `/\`) {
			return fmt.Errorf("caches.dirNames[%d]: %q is not a plain directory name", i, n)
		}
	}
	if err := validateRelative("config.path", m.Config.Path); err != nil {
		return err
	}
	if err := m.validateConfigPlacement(); err != nil {
		return err
	}
	if strings.ContainsAny(m.Config.Model, "\r\n") {
		return errors.New("config.model must be a single line")
	}
	if strings.TrimSpace(m.App.Command) == "" || strings.ContainsAny(m.App.Command, `/\`) {
		return fmt.Errorf("app.command %q must be a bare executable name inside the environment", m.App.Command)
	}
	if m.App.Port < 1 || m.App.Port > 65535 {
		return fmt.Errorf("app.port %d out of range", m.App.Port)
	}
	return nil
}

// validateConfigPlacement keeps the config file out of everything the clean
// step deletes.
func (m Manifest) validateConfigPlacement() error {
	cfg := filepath.Clean(m.Config.Path)
	if pathWithin(filepath.Clean(m.Environment.Path), cfg) {
		return fmt.Errorf("config.path %q must not be inside environment.path %q", m.Config.Path, m.Environment.Path)
	}
	for i, c := range m.Caches.Paths {
		if pathWithin(filepath.Clean(c), cfg) {
			return fmt.Errorf("config.path %q must not be inside caches.paths[%d] %q", m.Config.Path, i, c)
		}
	}
	dirs := strings.Split(filepath.ToSlash(filepath.Dir(cfg)), "/")
	for i, n := range m.Caches.DirNames {
		for _, d := range dirs {
			if d == n {
				return fmt.Errorf("config.path %q must not be inside a directory named by caches.dirNames[%d] %q", m.Config.Path, i, n)
			}
		}
	}
	return nil
}

// pathWithin reports whether child is parent or lies beneath it. Both are
// cleaned relative paths.
func pathWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// validPackageName follows PEP 508: ASCII letters, digits, '-', '_' and '.',
// starting and ending with a letter or digit.
func validPackageName(name string) bool {
	if name == "" {
		return false
	}
	alnum := func(r byte) bool {
		return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
	}
	if !alnum(name[0]) || !alnum(name[len(name)-1]) {
		return false
	}
	for i := 0; i < len(name); i++ {
		r := name[i]
		if !(alnum(r) || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}

func validatePackage(p Package) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if !validPackageName(p.Name) {
		return fmt.Errorf("invalid package name %q", p.Name)
	}
	if strings.TrimSpace(p.Version) == "" {
		return fmt.Errorf("%s: exact version is required", p.Name)
	}
	if strings.ContainsAny(p.Version, "<>=!~*,; \t\r\n[]") {
		return fmt.Errorf("%s: version %q is not an exact pin", p.Name, p.Version)
	}
	return nil
}

func validateRelative(field, p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("%s %q must be relative to the project root", field, p)
	}
	clean := filepath.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s %q must stay inside the project root", field, p)
	}
	return nil
}

// normalizeName follows PyPI name normalization: case-insensitive, runs of -_. are equivalent.
func normalizeName(name string) string {
	var b strings.Builder
	lastSep := false
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			if !lastSep {
				b.WriteByte('-')
			}
			lastSep = true
			continue
		}
		lastSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// Requirements renders the packages as requirements.txt lines, in install order.
func (m Manifest) Requirements() []string {
	out := make([]string, 0, len(m.Packages))
	for _, p := range m.Packages {
		out = append(out, p.String())
	}
	return out
}

// Digest identifies the pinned package set. Order matters: it is the install order.
func (m Manifest) Digest() string {
	h := blake3.New()
	for _, line := range m.Requirements() {
		_, _ = h.Write([]byte(line + "\n"))
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil))
}
