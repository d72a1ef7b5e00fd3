package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	KeyAPIKey = "OPENROUTER_API_KEY"
	KeyModel  = "OPENROUTER_MODEL"
	KeyDebug  = "DEBUG"

	PlaceholderAPIKey = "your_openrouter_api_key_here"
	DefaultModel      = "openai/gpt-oss-120b:free"
)

// Values holds the keys docbot writes on first run. The chatbot process reads the
// file itself; docbot only creates it.
type Values struct {
	APIKey string
	Model  string
	Debug  bool
}

func Defaults() Values {
	return Values{APIKey: PlaceholderAPIKey, Model: DefaultModel, Debug: false}
}

// Render produces the documented key=value file body.
func Render(v Values) (string, error) {
	if v.APIKey == "" {
		v.APIKey = PlaceholderAPIKey
	}
	if v.Model == "" {
		v.Model = DefaultModel
	}
	for k, val := range map[string]string{KeyAPIKey: v.APIKey, KeyModel: v.Model} {
		if strings.ContainsAny(val, "\n\r") {
			return "", fmt.Errorf("invalid value for %s (contains newline)", k)
		}
	}
	debug := "false"
	if v.Debug {
		debug = "true"
	}
	lines := []string{
		"# Document chatbot configuration (never commit a real key)",
		"",
		"# OpenRouter API key. Get a free key at https://openrouter.ai/",
		KeyAPIKey + "=" + v.APIKey,
		"",
		"# Model identifier sent with every chat completion request",
		KeyModel + "=" + v.Model,
		"",
		"# Verbose application logging (true|false)",
		KeyDebug + "=" + debug,
		"",
	}
	return strings.Join(lines, "\n"), nil
}

// CreateIfAbsent writes the configuration file only when nothing exists at path.
// An existing file is left byte-for-byte untouched and reported with created=false.
func CreateIfAbsent(path string, v Values) (bool, error) {
	content, err := Render(v)
	if err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create config: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, fmt.Errorf("write config: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("close config: %w", err)
	}
	return true, nil
}

// Read parses a key=value file. Blank lines, # comments, an `export ` prefix and
// matching surrounding quotes are tolerated.
func Read(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := map[string]string{}
	s := bufio.NewScanner(f)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=value", path, lineNo)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%s:%d: empty key", path, lineNo)
		}
		out[key] = stripQuotes(strings.TrimSpace(value))
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	return out, nil
}

func stripQuotes(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// IsPlaceholder reports whether key still carries a value docbot shipped.
func IsPlaceholder(key string) bool {
	key = strings.TrimSpace(key)
	return key == "" || key == PlaceholderAPIKey
}
