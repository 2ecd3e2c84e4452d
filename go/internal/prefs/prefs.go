// Package prefs persists the observer's three user toggles: auto-advance,
// the auto-advance interval and narration. A missing or corrupt entry falls
// back to its default and never reaches the controller.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Storage keys.
const (
	KeyAutoAdvance         = "mafia.autoAdvance"
	KeyAutoAdvanceInterval = "mafia.autoAdvanceIntervalSec"
	KeyNarrationEnabled    = "mafia.narrationEnabled"
)

// Interval bounds, in seconds.
const (
	MinIntervalSec     = 1
	MaxIntervalSec     = 300
	DefaultIntervalSec = 10
)

const saveTimeout = 3 * time.Second

// ErrNotFound is returned by a KV when the key has never been written.
var ErrNotFound = errors.New("preference not found")

// PersistenceError wraps a storage failure. It is logged, never surfaced.
type PersistenceError struct {
	Key string
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("preference %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// KV is a string key/value backend.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Preferences are the three persisted toggles.
type Preferences struct {
	AutoAdvance         bool `json:"auto_advance"`
	AutoAdvanceInterval int  `json:"auto_advance_interval_sec"`
	NarrationEnabled    bool `json:"narration_enabled"`
}

// Defaults returns the values used when nothing valid is stored.
func Defaults() Preferences {
	return Preferences{AutoAdvanceInterval: DefaultIntervalSec}
}

// ClampInterval forces a live interval into [MinIntervalSec, MaxIntervalSec].
func ClampInterval(sec int) int {
	if sec < MinIntervalSec {
		return MinIntervalSec
	}
	if sec > MaxIntervalSec {
		return MaxIntervalSec
	}
	return sec
}

// Store loads and saves Preferences on top of a KV. Saves return at once;
// a single background writer persists the latest value of each key.
type Store struct {
	kv KV

	mu       sync.Mutex
	pending  map[string]string
	order    []string
	writing  bool
	finished *sync.Cond
}

// NewStore creates a store. A nil kv falls back to an in-memory backend.
func NewStore(kv KV) *Store {
	if kv == nil {
		kv = NewMemoryKV()
	}
	s := &Store{kv: kv, pending: make(map[string]string)}
	s.finished = sync.NewCond(&s.mu)
	return s
}

// Load reads every toggle independently, falling back per field.
func (s *Store) Load(ctx context.Context) Preferences {
	p := Defaults()

	if raw, ok := s.read(ctx, KeyAutoAdvance); ok {
		p.AutoAdvance = parseBool(raw)
	}
	if raw, ok := s.read(ctx, KeyAutoAdvanceInterval); ok {
		p.AutoAdvanceInterval = parseInterval(raw)
	}
	if raw, ok := s.read(ctx, KeyNarrationEnabled); ok {
		p.NarrationEnabled = parseBool(raw)
	}

	return p
}

func (s *Store) SaveAutoAdvance(ctx context.Context, enabled bool) {
	s.write(ctx, KeyAutoAdvance, strconv.FormatBool(enabled))
}

func (s *Store) SaveAutoAdvanceInterval(ctx context.Context, sec int) {
	s.write(ctx, KeyAutoAdvanceInterval, strconv.Itoa(sec))
}

func (s *Store) SaveNarrationEnabled(ctx context.Context, enabled bool) {
	s.write(ctx, KeyNarrationEnabled, strconv.FormatBool(enabled))
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(&PersistenceError{Key: key, Op: "read", Err: err}).Msg("preference unreadable, using default")
		}
		return "", false
	}
	return raw, true
}

// write queues a value and never fails or blocks the caller; the in-memory
// value stays authoritative.
func (s *Store) write(ctx context.Context, key, value string) {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.pending[key]; !queued {
		s.order = append(s.order, key)
	}
	s.pending[key] = value
	if !s.writing {
		s.writing = true
		go s.drain(ctx)
	}
}

// drain persists queued values in the order their keys were first queued.
func (s *Store) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.order) == 0 {
			s.writing = false
			s.finished.Broadcast()
			s.mu.Unlock()
			return
		}
		key := s.order[0]
		s.order = s.order[1:]
		value := s.pending[key]
		delete(s.pending, key)
		s.mu.Unlock()

		s.persist(ctx, key, value)
	}
}

func (s *Store) persist(ctx context.Context, key, value string) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := s.kv.Set(ctx, key, value); err != nil {
		log.Warn().Err(&PersistenceError{Key: key, Op: "write", Err: err}).Msg("failed to persist preference")
	}
}

// Flush blocks until every queued save has been attempted.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.writing {
		s.finished.Wait()
	}
}

func parseBool(raw string) bool {
	return strings.TrimSpace(raw) == "true"
}

// parseInterval discards non-numeric and out-of-range values instead of clamping them.
func parseInterval(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < MinIntervalSec || n > MaxIntervalSec {
		return DefaultIntervalSec
	}
	return n
}
