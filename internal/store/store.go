package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound = errors.New("call result not found")
	ErrConflict = errors.New("call_id already exists")
	ErrInvalid  = errors.New("invalid call result")
)

// PersistenceError reports that a record could not be made durable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist call results (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Backend makes the call result sequence durable.
type Backend interface {
	// Load returns every stored record in insertion order.
	Load(ctx context.Context) ([]CallResult, error)
	// Append persists rec. all is the full sequence with rec as its last element.
	Append(ctx context.Context, rec CallResult, all []CallResult) error
	Ping(ctx context.Context) error
	Close() error
}

// Store is the append-only sequence of call results. Appends are serialized and
// reach the backend before they become visible to readers.
type Store struct {
	mu      sync.RWMutex
	records []CallResult
	byID    map[string]int
	backend Backend
	node    *snowflake.Node
	now     func() time.Time
}

type Option func(*Store)

// WithClock sets the source of created_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the existing sequence from backend.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	s := &Store{
		backend: backend,
		node:    node,
		now:     time.Now,
		byID:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	records, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load call results: %w", err)
	}
	for i, rec := range records {
		if rec.CallID == "" {
			return nil, fmt.Errorf("load call results: record %d has no call_id", i)
		}
		if _, dup := s.byID[rec.CallID]; dup {
			return nil, fmt.Errorf("load call results: duplicate call_id %q", rec.CallID)
		}
		s.byID[rec.CallID] = len(s.records)
		s.records = append(s.records, rec)
	}
	return s, nil
}

// Append validates rec, assigns call_id when empty and created_at, persists the
// record and returns it as stored.
func (s *Store) Append(ctx context.Context, rec CallResult) (CallResult, error) {
	rec = rec.clone()
	rec.CallID = strings.TrimSpace(rec.CallID)
	if rec.Sentiment == "" {
		rec.Sentiment = SentimentNeutral
	}
	outcome, err := ParseOutcome(string(rec.Outcome))
	if err != nil {
		return CallResult{}, err
	}
	sentiment, err := ParseSentiment(string(rec.Sentiment))
	if err != nil {
		return CallResult{}, err
	}
	rec.Outcome, rec.Sentiment = outcome, sentiment
	if err := rec.Validate(); err != nil {
		return CallResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CallID == "" {
		rec.CallID = s.nextID()
	} else if _, dup := s.byID[rec.CallID]; dup {
		return CallResult{}, fmt.Errorf("%w: %s", ErrConflict, rec.CallID)
	}
	rec.CreatedAt = s.now().UTC()

	all := make([]CallResult, len(s.records), len(s.records)+1)
	copy(all, s.records)
	all = append(all, rec)
	if err := s.backend.Append(ctx, rec, all); err != nil {
		return CallResult{}, &PersistenceError{Op: "append", Err: err}
	}
	s.byID[rec.CallID] = len(s.records)
	s.records = all
	return rec.clone(), nil
}

func (s *Store) nextID() string {
	for {
		id := "call_" + s.node.Generate().String()
		if _, dup := s.byID[id]; !dup {
			return id
		}
	}
}

// List returns records most recent first. A limit <= 0 returns everything.
func (s *Store) List(limit int) []CallResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]CallResult, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i].clone())
	}
	return out
}

// All returns every record in insertion order.
func (s *Store) All() []CallResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CallResult, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.clone()
	}
	return out
}

func (s *Store) Get(id string) (CallResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return CallResult{}, ErrNotFound
	}
	return s.records[idx].clone(), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Health returns an error if the backend is not usable.
func (s *Store) Health(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("store health: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.backend.Close() }
