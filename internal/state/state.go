// Package state defines the per-instance session state and the file store that persists it.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// State is the session state of one instance. It records whether convergence
// has run and which machines it produced.
type State struct {
	// EnvironmentCreated is true once convergence has succeeded.
	EnvironmentCreated bool `yaml:"environment_created"`
	// Machines lists the unique machine names produced by convergence.
	Machines []string `yaml:"machines,omitempty"`
}

// AddMachine appends name unless it is already tracked. It reports whether
// the name was added.
func (s *State) AddMachine(name string) bool {
	if slices.Contains(s.Machines, name) {
		return false
	}
	s.Machines = append(s.Machines, name)
	return true
}

// RemoveMachine drops name from the tracked machines.
func (s *State) RemoveMachine(name string) {
	s.Machines = slices.DeleteFunc(s.Machines, func(m string) bool { return m == name })
}

// HasMachine reports whether name is tracked.
func (s *State) HasMachine(name string) bool {
	return slices.Contains(s.Machines, name)
}

// Reset clears the state back to its initial value.
func (s *State) Reset() {
	s.EnvironmentCreated = false
	s.Machines = nil
}

// Empty reports whether the state carries nothing worth persisting.
func (s *State) Empty() bool {
	return !s.EnvironmentCreated && len(s.Machines) == 0
}

var instanceNamePattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store keeps one YAML file per instance under a directory.
type Store struct {
	dir string
}

// NewStore constructs a Store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	return &Store{dir: dir}, nil
}

// Path returns the state file path for instance.
func (s *Store) Path(instance string) string {
	name := instanceNamePattern.ReplaceAllString(strings.TrimSpace(instance), "-")
	return filepath.Join(s.dir, name+".yml")
}

// Load reads the state of instance. A missing file yields an empty state.
func (s *Store) Load(instance string) (*State, error) {
	path := s.Path(instance)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	var st State
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", path, err)
	}
	return &st, nil
}

// Save writes the state of instance. An empty state removes the file.
func (s *Store) Save(instance string, st *State) error {
	path := s.Path(instance)
	if st == nil || st.Empty() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove state %s: %w", path, err)
		}
		return nil
	}

	raw, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace state %s: %w", path, err)
	}
	return nil
}
