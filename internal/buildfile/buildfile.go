// Package buildfile loads build definitions from TOML, YAML or JSON files.
package buildfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/musher-dev/termbuild/internal/launcher"
	"github.com/musher-dev/termbuild/internal/pump"
	"github.com/musher-dev/termbuild/internal/results"
	"github.com/musher-dev/termbuild/internal/session"
)

// File is a parsed build definition.
type File struct {
	// Path is where the definition was loaded from; relative working
	// directories resolve against its directory.
	Path string

	Cmd        []string
	ShellCmd   string
	WorkingDir string
	Env        map[string]string
	PathEnv    string
	FileRegex  string
	LineRegex  string
	Encoding   string
	Prompt     bool
	Tee        string
	ExitMethod string
	Quiet      bool

	// Unknown lists keys that were present but not recognised.
	Unknown []string
}

// Load reads path, choosing the decoder by extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-chosen build file
	if err != nil {
		return nil, fmt.Errorf("read build file: %w", err)
	}

	doc, err := decode(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	f, err := fromMap(doc)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	f.Path = path

	return f, nil
}

func decode(ext string, data []byte) (map[string]any, error) {
	doc := map[string]any{}

	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case ".json", ".sublime-build":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported build file extension %q (want .toml, .yaml, .yml or .json)", ext)
	}

	return doc, nil
}

func fromMap(doc map[string]any) (*File, error) {
	f := &File{}

	for key, value := range doc {
		var err error

		switch key {
		case "cmd":
			f.Cmd, err = toArgv(value)
		case "shell_cmd":
			f.ShellCmd, err = toString(value)
		case "working_dir":
			f.WorkingDir, err = toString(value)
		case "env":
			f.Env, err = toStringMap(value)
		case "path":
			f.PathEnv, err = toString(value)
		case "file_regex":
			f.FileRegex, err = toString(value)
		case "line_regex":
			f.LineRegex, err = toString(value)
		case "encoding":
			f.Encoding, err = toString(value)
		case "prompt":
			f.Prompt, err = toBool(value)
		case "tee":
			f.Tee, err = toString(value)
		case "exit_method":
			f.ExitMethod, err = toString(value)
		case "quiet":
			f.Quiet, err = toBool(value)
		default:
			f.Unknown = append(f.Unknown, key)
		}

		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	sort.Strings(f.Unknown)

	return f, nil
}

// Validate checks the definition can be launched.
func (f *File) Validate() error {
	var errs []error

	switch {
	case len(f.Cmd) == 0 && f.ShellCmd == "":
		errs = append(errs, errors.New("one of cmd or shell_cmd is required"))
	case len(f.Cmd) > 0 && f.ShellCmd != "":
		errs = append(errs, errors.New("cmd and shell_cmd are mutually exclusive"))
	}

	if _, err := launcher.ParseExitMethod(f.ExitMethod); err != nil {
		errs = append(errs, err)
	}

	if _, err := results.CompilePattern(f.FileRegex); err != nil {
		errs = append(errs, fmt.Errorf("file_regex: %w", err))
	}

	if _, err := results.CompilePattern(f.LineRegex); err != nil {
		errs = append(errs, fmt.Errorf("line_regex: %w", err))
	}

	if f.Encoding != "" {
		if err := pump.ValidateEncoding(f.Encoding); err != nil {
			errs = append(errs, fmt.Errorf("encoding: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Dir returns the working directory, resolving a relative one against the
// build file's directory.
func (f *File) Dir() string {
	if f.WorkingDir == "" || filepath.IsAbs(f.WorkingDir) || f.Path == "" {
		return f.WorkingDir
	}

	return filepath.Join(filepath.Dir(f.Path), f.WorkingDir)
}

// Command converts the definition to a session command.
func (f *File) Command() session.Command {
	env := make(map[string]string, len(f.Env))
	for k, v := range f.Env {
		env[k] = v
	}

	return session.Command{
		Args:   append([]string(nil), f.Cmd...),
		Shell:  f.ShellCmd,
		Dir:    f.Dir(),
		Env:    env,
		Path:   f.PathEnv,
		Prompt: f.Prompt,
		Quiet:  f.Quiet,
	}
}

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}

	return s, nil
}

func toBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected true or false, got %T", v)
	}

	return b, nil
}

// toArgv accepts a list of strings or a single string (one argument).
func toArgv(v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil, nil
		}

		return []string{val}, nil
	case []any:
		argv := make([]string, 0, len(val))

		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected a string, got %T", i, item)
			}

			argv = append(argv, s)
		}

		return argv, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
}

func toStringMap(v any) (map[string]string, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a table of strings, got %T", v)
	}

	out := make(map[string]string, len(raw))

	for k, item := range raw {
		switch val := item.(type) {
		case string:
			out[k] = val
		case bool, int, int64, float64:
			out[k] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("%s: expected a string, got %T", k, item)
		}
	}

	return out, nil
}
