// Package dist merges metric state across the ranks of a distributed run.
//
// Every rank accumulates its own local state. A synchronization point is a
// collective all-gather: each rank contributes its full local state for a
// named round and blocks until every rank of the world has contributed, then
// sees the contributions of all ranks ordered by rank.
package dist

import (
	"context"
	"fmt"
	"sync"

	"github.com/ricesearch/rankeval/internal/pkg/errors"
)

// Gatherer is the all-gather barrier between ranks.
type Gatherer interface {
	// AllGather contributes payload for (round, rank) and returns the
	// payloads of all ranks, indexed by rank, once every rank contributed.
	// A second contribution from the same rank in the same round is ignored.
	AllGather(ctx context.Context, round string, rank int, payload []byte) ([][]byte, error)

	// WorldSize is the number of ranks taking part in every round.
	WorldSize() int

	// Close releases transport resources.
	Close() error
}

// roundSet tracks contributions per round. Shared by the in-process and bus
// gatherers.
type roundSet struct {
	mu     sync.Mutex
	world  int
	rounds map[string]*round
}

type round struct {
	parts   map[int][]byte
	ids     map[int]string // event id of each part, when carried by a bus
	readers map[int]bool
	done    chan struct{}
}

func newRoundSet(world int) *roundSet {
	return &roundSet{
		world:  world,
		rounds: make(map[string]*round),
	}
}

func (s *roundSet) get(name string) *round {
	r, ok := s.rounds[name]
	if !ok {
		r = &round{
			parts:   make(map[int][]byte),
			ids:     make(map[int]string),
			readers: make(map[int]bool),
			done:    make(chan struct{}),
		}
		s.rounds[name] = r
	}
	return r
}

// add records a contribution. It reports false for an out-of-range rank.
func (s *roundSet) add(name string, rank int, payload []byte) bool {
	return s.addFrom(name, rank, "", payload)
}

// addFrom is add for a contribution delivered as event id.
func (s *roundSet) addFrom(name string, rank int, id string, payload []byte) bool {
	if rank < 0 || rank >= s.world {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(name)
	if _, dup := r.parts[rank]; dup {
		return true
	}
	r.parts[rank] = payload
	r.ids[rank] = id
	if len(r.parts) == s.world {
		close(r.done)
	}
	return true
}

// wait blocks until the round is complete and returns its payloads by rank,
// along with the event id the part of rank arrived as.
func (s *roundSet) wait(ctx context.Context, name string, rank int) ([][]byte, string, error) {
	s.mu.Lock()
	r := s.get(name)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, "", errors.Wrap(errors.CodeTimeout, fmt.Sprintf("all-gather round %s timed out", name), ctx.Err())
	case <-r.done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, s.world)
	for k, v := range r.parts {
		out[k] = v
	}
	r.readers[rank] = true
	if len(r.readers) == s.world {
		delete(s.rounds, name)
	}
	return out, r.ids[rank], nil
}

// snapshot returns the parts of a round without waiting, and the ranks
// that have not contributed yet.
func (s *roundSet) snapshot(name string) ([][]byte, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, s.world)
	var missing []int
	r, ok := s.rounds[name]
	for k := 0; k < s.world; k++ {
		if ok {
			if p, has := r.parts[k]; has {
				out[k] = p
				continue
			}
		}
		missing = append(missing, k)
	}
	return out, missing
}

func checkRank(rank, world int) error {
	if rank < 0 || rank >= world {
		return errors.ValidationError(fmt.Sprintf("rank %d out of range for world size %d", rank, world))
	}
	return nil
}

// LocalGatherer is an in-process barrier shared by goroutines simulating
// the ranks of a distributed run.
type LocalGatherer struct {
	rounds *roundSet
}

// NewLocalGatherer creates a barrier for worldSize ranks.
func NewLocalGatherer(worldSize int) *LocalGatherer {
	if worldSize < 1 {
		worldSize = 1
	}
	return &LocalGatherer{rounds: newRoundSet(worldSize)}
}

// AllGather implements Gatherer.
func (g *LocalGatherer) AllGather(ctx context.Context, round string, rank int, payload []byte) ([][]byte, error) {
	if err := checkRank(rank, g.rounds.world); err != nil {
		return nil, err
	}
	g.rounds.add(round, rank, payload)
	parts, _, err := g.rounds.wait(ctx, round, rank)
	return parts, err
}

// WorldSize implements Gatherer.
func (g *LocalGatherer) WorldSize() int {
	return g.rounds.world
}

// Close implements Gatherer.
func (g *LocalGatherer) Close() error {
	return nil
}
