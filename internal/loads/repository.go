package loads

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no load has the requested id.
var ErrNotFound = errors.New("load not found")

// DataLoadError reports a missing or malformed load source.
type DataLoadError struct {
	Path string
	Err  error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("load data %s: %v", e.Path, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

type snapshot struct {
	loads    []Load
	byID     map[string]int
	loadedAt time.Time
}

// Repository holds an immutable set of loads. A new set is swapped in whole,
// so concurrent readers always see a complete snapshot.
type Repository struct {
	current atomic.Pointer[snapshot]
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	r := &Repository{}
	r.current.Store(&snapshot{byID: map[string]int{}})
	return r
}

// LoadFile replaces the load set with the contents of path. On failure the
// repository is left empty and a *DataLoadError is returned.
func (r *Repository) LoadFile(path string) error {
	loads, err := ReadFile(path)
	if err != nil {
		r.current.Store(&snapshot{byID: map[string]int{}})
		return err
	}
	return r.Replace(loads)
}

// Reload is like LoadFile but keeps the current set when path cannot be read.
func (r *Repository) Reload(path string) error {
	loads, err := ReadFile(path)
	if err != nil {
		return err
	}
	return r.Replace(loads)
}

// Replace installs loads as the new set after validating identifiers.
func (r *Repository) Replace(loads []Load) error {
	snap, err := newSnapshot(loads)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

func newSnapshot(loads []Load) (*snapshot, error) {
	snap := &snapshot{
		loads:    make([]Load, 0, len(loads)),
		byID:     make(map[string]int, len(loads)),
		loadedAt: time.Now().UTC(),
	}
	for i, l := range loads {
		l.LoadID = strings.TrimSpace(l.LoadID)
		if l.LoadID == "" {
			return nil, fmt.Errorf("load at index %d has no load_id", i)
		}
		if _, dup := snap.byID[l.LoadID]; dup {
			return nil, fmt.Errorf("duplicate load_id %q", l.LoadID)
		}
		snap.byID[l.LoadID] = len(snap.loads)
		snap.loads = append(snap.loads, l)
	}
	return snap, nil
}

// GetByID returns the load with the given identifier.
func (r *Repository) GetByID(id string) (Load, error) {
	snap := r.current.Load()
	idx, ok := snap.byID[strings.TrimSpace(id)]
	if !ok {
		return Load{}, ErrNotFound
	}
	return snap.loads[idx], nil
}

// Search returns the loads matching c in repository order. Empty criteria
// return every load.
func (r *Repository) Search(c Criteria) []Load {
	return filter(r.current.Load().loads, c)
}

// All returns a copy of every load in repository order.
func (r *Repository) All() []Load {
	snap := r.current.Load()
	return append([]Load(nil), snap.loads...)
}

func (r *Repository) Len() int { return len(r.current.Load().loads) }

// LoadedAt returns when the current set was installed.
func (r *Repository) LoadedAt() time.Time { return r.current.Load().loadedAt }

// ReadFile parses a JSON or YAML load file. JSON files may hold a bare array
// or an object with a "loads" array.
func ReadFile(path string) ([]Load, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}
	loads, err := parse(data, filepath.Ext(path))
	if err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}
	if _, err := newSnapshot(loads); err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}
	return loads, nil
}

var errMissingLoads = errors.New(`expected a list of loads or an object with a "loads" list`)

func parse(data []byte, ext string) ([]Load, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty load file")
	}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var wrapped struct {
			Loads []Load `yaml:"loads"`
		}
		var list []Load
		if err := yaml.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		if err := yaml.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		if wrapped.Loads == nil {
			return nil, errMissingLoads
		}
		return wrapped.Loads, nil
	default:
		trimmed := bytes.TrimSpace(data)
		if trimmed[0] == '[' {
			var list []Load
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, err
			}
			return list, nil
		}
		var wrapped struct {
			Loads []Load `json:"loads"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		if wrapped.Loads == nil {
			return nil, errMissingLoads
		}
		return wrapped.Loads, nil
	}
}
