// Package env gathers template and process variables from the OS, .env files,
// var files and inline --vars.
package env

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Vars maps variable names to values.
type Vars map[string]string

// FromOS returns the current process environment.
func FromOS() Vars {
	out := make(Vars)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// Merge combines sets left to right; later sets win. Nil sets are skipped.
func Merge(sets ...Vars) Vars {
	out := make(Vars)
	for _, s := range sets {
		maps.Copy(out, s)
	}
	return out
}

// Environ renders vars as sorted KEY=value pairs for exec.Cmd.Env.
func (v Vars) Environ() []string {
	out := make([]string, 0, len(v))
	for _, k := range slices.Sorted(maps.Keys(v)) {
		out = append(out, k+"="+v[k])
	}
	return out
}

// LoadEnvFile reads one .env file.
func LoadEnvFile(path string) (Vars, error) {
	m, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	return Vars(m), nil
}

// LoadEnvFiles reads files in order, resolving relative names against
// baseDir, and merges them. Empty names are ignored.
func LoadEnvFiles(baseDir string, files []string) (Vars, error) {
	out := make(Vars)
	for _, name := range files {
		if strings.TrimSpace(name) == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		vars, err := LoadEnvFile(path)
		if err != nil {
			return nil, fmt.Errorf("load env file %q: %w", path, err)
		}
		maps.Copy(out, vars)
	}
	return out, nil
}

// ParseInlineVars parses "A=1,B=2". Blank entries are skipped.
func ParseInlineVars(s string) (Vars, error) {
	out := make(Vars)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid inline var %q, expected key=value", part)
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("empty key in inline var %q", part)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// LoadVarFile reads a var file. Files ending in .yml or .yaml must hold a flat
// YAML mapping; scalar values are stringified. Anything else is read as a
// .env file.
func LoadVarFile(path string) (Vars, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return loadYAMLVars(path)
	default:
		return LoadEnvFile(path)
	}
}

func loadYAMLVars(path string) (Vars, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(Vars, len(doc))
	for k, v := range doc {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("%s: var %q must be a scalar", path, k)
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}
