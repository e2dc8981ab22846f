package dist

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/ricesearch/rankeval/internal/pkg/errors"
)

func TestState_SingleProcess(t *testing.T) {
	s := NewLocalState[int]()
	s.Accumulate(1, 2)
	s.Accumulate(3)

	if err := s.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}
	if s.Synced() {
		t.Error("Synced() = true for a single-process state")
	}
	if got := s.Values(); !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("Values() = %v, want [1 2 3]", got)
	}
	if s.WorldSize() != 1 || s.Rank() != 0 {
		t.Errorf("rank %d of %d, want rank 0 of 1", s.Rank(), s.WorldSize())
	}

	s.Reset()
	if got := s.Values(); len(got) != 0 {
		t.Errorf("Values() after Reset = %v, want empty", got)
	}
}

func TestState_ValuesIsCopy(t *testing.T) {
	s := NewLocalState[int]()
	s.Accumulate(1, 2)

	got := s.Values()
	got[0] = 42

	if v := s.Local(); v[0] != 1 {
		t.Errorf("Local()[0] = %d after mutating Values(), want 1", v[0])
	}
}

func TestState_RankOutOfRange(t *testing.T) {
	_, err := NewState[int](StateConfig{Rank: 3, Gatherer: NewLocalGatherer(2)})
	if !errors.IsValidation(err) {
		t.Errorf("NewState() error = %v, want validation error", err)
	}
}

func TestState_SynchronizeMergesInRankOrder(t *testing.T) {
	for world := 1; world <= 4; world++ {
		t.Run(fmt.Sprintf("world=%d", world), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var want []int
			for r := 0; r < world; r++ {
				want = append(want, r*10, r*10+1)
			}

			err := RunLocal(ctx, world, func(ctx context.Context, rank int, g Gatherer) error {
				s, err := NewState[int](StateConfig{Name: "ints", Rank: rank, Gatherer: g})
				if err != nil {
					return err
				}
				s.Accumulate(rank*10, rank*10+1)

				// synchronizing twice must not duplicate contributions
				for i := 0; i < 2; i++ {
					if err := s.Synchronize(ctx); err != nil {
						return err
					}
					if got := s.Values(); !slices.Equal(got, want) {
						return fmt.Errorf("rank %d: Values() = %v, want %v", rank, got, want)
					}
				}
				if got := s.Local(); !slices.Equal(got, []int{rank * 10, rank*10 + 1}) {
					return fmt.Errorf("rank %d: Local() = %v", rank, got)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestState_AccumulateAfterSynchronize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := RunLocal(ctx, 2, func(ctx context.Context, rank int, g Gatherer) error {
		s, err := NewState[int](StateConfig{Name: "ints", Rank: rank, Gatherer: g})
		if err != nil {
			return err
		}
		s.Accumulate(rank)
		if err := s.Synchronize(ctx); err != nil {
			return err
		}

		s.Accumulate(rank + 10)
		if s.Synced() {
			return fmt.Errorf("rank %d: Synced() = true after Accumulate", rank)
		}
		if got := s.Values(); !slices.Equal(got, []int{rank, rank + 10}) {
			return fmt.Errorf("rank %d: Values() = %v, want local values", rank, got)
		}

		if err := s.Synchronize(ctx); err != nil {
			return err
		}
		if got, want := s.Values(), []int{0, 10, 1, 11}; !slices.Equal(got, want) {
			return fmt.Errorf("rank %d: Values() = %v, want %v", rank, got, want)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestState_SynchronizeTimeout(t *testing.T) {
	s, err := NewState[int](StateConfig{
		Rank:     0,
		Gatherer: NewLocalGatherer(2),
		Timeout:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	s.Accumulate(1)

	err = s.Synchronize(context.Background())
	if !errors.IsTimeout(err) {
		t.Errorf("Synchronize() error = %v, want timeout", err)
	}
	if s.Synced() {
		t.Error("Synced() = true after a failed Synchronize")
	}
	if got := s.Values(); !slices.Equal(got, []int{1}) {
		t.Errorf("Values() = %v, want local values kept", got)
	}
}
