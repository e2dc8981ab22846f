package dist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

// State is one rank's accumulated metric state.
//
// Values accumulate locally until Synchronize, which replaces the visible
// values with the concatenation of every rank's local values, in rank order.
// The local values are kept, so synchronizing again (after more local data,
// or not) never counts a contribution twice. Synchronize is collective:
// every rank must call it the same number of times.
type State[T any] struct {
	mu       sync.Mutex
	name     string
	rank     int
	gatherer Gatherer
	timeout  time.Duration
	log      *logger.Logger

	local  []T
	global []T
	synced bool
	seq    int
}

// StateConfig configures a State.
type StateConfig struct {
	// Name identifies the state in round names; ranks of one run must agree.
	Name string
	// Rank of this process, in [0, world size).
	Rank int
	// Gatherer connects the ranks; nil means a single-process run.
	Gatherer Gatherer
	// Timeout bounds each synchronization barrier; 0 means no bound.
	Timeout time.Duration
	Logger  *logger.Logger
}

// NewState creates an empty state.
func NewState[T any](cfg StateConfig) (*State[T], error) {
	if cfg.Name == "" {
		cfg.Name = "state"
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	world := 1
	if cfg.Gatherer != nil {
		world = cfg.Gatherer.WorldSize()
	}
	if err := checkRank(cfg.Rank, world); err != nil {
		return nil, err
	}
	return &State[T]{
		name:     cfg.Name,
		rank:     cfg.Rank,
		gatherer: cfg.Gatherer,
		timeout:  cfg.Timeout,
		log:      cfg.Logger.WithRank(cfg.Rank, world),
	}, nil
}

// NewLocalState creates a single-process state.
func NewLocalState[T any]() *State[T] {
	s, _ := NewState[T](StateConfig{})
	return s
}

// Accumulate appends local values. The merged view, if any, is invalidated.
func (s *State[T]) Accumulate(values ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = append(s.local, values...)
	s.global = nil
	s.synced = false
}

// Synchronize gathers every rank's local values. Single-process states
// return immediately.
func (s *State[T]) Synchronize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gatherer == nil || s.gatherer.WorldSize() <= 1 {
		s.global = nil
		s.synced = false
		return nil
	}

	payload, err := json.Marshal(s.local)
	if err != nil {
		return errors.InternalError("encoding local state", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.seq++
	round := fmt.Sprintf("%s/%d", s.name, s.seq)
	start := time.Now()

	parts, err := s.gatherer.AllGather(ctx, round, s.rank, payload)
	if err != nil {
		s.log.WithError(err).Warn("Synchronization failed", "round", round)
		return err
	}

	var merged []T
	for r, part := range parts {
		var vals []T
		if err := json.Unmarshal(part, &vals); err != nil {
			return errors.GatherError(fmt.Sprintf("decoding state of rank %d", r), err)
		}
		merged = append(merged, vals...)
	}

	s.global = merged
	s.synced = true
	s.log.Debug("State synchronized",
		"round", round,
		"local", len(s.local),
		"global", len(merged),
		"duration", time.Since(start),
	)
	return nil
}

// Values returns the merged values after a successful Synchronize, or the
// local values otherwise. The returned slice is a copy.
func (s *State[T]) Values() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synced {
		return append([]T(nil), s.global...)
	}
	return append([]T(nil), s.local...)
}

// Local returns a copy of this rank's own values.
func (s *State[T]) Local() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.local...)
}

// Synced reports whether Values currently returns the merged view.
func (s *State[T]) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// Reset clears local and merged values.
func (s *State[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = nil
	s.global = nil
	s.synced = false
}

// Rank returns this process's rank.
func (s *State[T]) Rank() int {
	return s.rank
}

// WorldSize returns the number of ranks.
func (s *State[T]) WorldSize() int {
	if s.gatherer == nil {
		return 1
	}
	return s.gatherer.WorldSize()
}
