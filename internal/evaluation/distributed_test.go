package evaluation

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ricesearch/rankeval/internal/bus"
	"github.com/ricesearch/rankeval/internal/dist"
	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

func localRunner(world int) Runner {
	return func(ctx context.Context, fn dist.RankFunc) error {
		return dist.RunLocal(ctx, world, fn)
	}
}

func TestBatch_Shard(t *testing.T) {
	b := Batch{
		Indexes: []int64{0, 0, 9, 1, 1, 9},
		Preds:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
		Target:  []int{1, 0, 1, 0, 1, 0},
	}
	ignore := int64(9)

	tests := []struct {
		rank, world int
		ignore      *int64
		want        Batch
	}{
		{rank: 0, world: 1, want: b},
		{
			rank: 0, world: 2, ignore: &ignore,
			want: Batch{Indexes: []int64{0, 1}, Preds: []float64{0.1, 0.4}, Target: []int{1, 0}},
		},
		{
			rank: 1, world: 2, ignore: &ignore,
			want: Batch{Indexes: []int64{0, 1}, Preds: []float64{0.2, 0.5}, Target: []int{0, 1}},
		},
		{rank: 5, world: 6, ignore: &ignore, want: Batch{}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("rank %d of %d", tt.rank, tt.world), func(t *testing.T) {
			if got := b.Shard(tt.rank, tt.world, tt.ignore); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Shard() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluator_EvaluateSharded(t *testing.T) {
	batch := withEmptyQuery(exampleBatch)
	optsCases := []Options{
		{},
		{EmptyTargetAction: "skip", Aggregation: "median"},
		{EmptyTargetAction: "pos", TopK: intPtr(1)},
		{IgnoreIndex: int64Ptr(1), Aggregation: "max"},
	}

	e := newTestEvaluator()
	e.SetSyncTimeout(5 * time.Second)
	ctx := context.Background()

	for i, opts := range optsCases {
		want, err := e.Evaluate(ctx, batch, opts, true)
		if err != nil {
			t.Fatalf("case %d: Evaluate() error = %v", i, err)
		}
		for world := 1; world <= 4; world++ {
			t.Run(fmt.Sprintf("case %d world %d", i, world), func(t *testing.T) {
				got, err := e.EvaluateSharded(ctx, batch, opts, true, world, localRunner(world))
				if err != nil {
					t.Fatalf("EvaluateSharded() error = %v", err)
				}
				if math.Abs(got.Score-want.Score) > eps {
					t.Errorf("Score = %v, want %v", got.Score, want.Score)
				}
				if got.Samples != want.Samples || !reflect.DeepEqual(got.PerQuery, want.PerQuery) {
					t.Errorf("got %d samples %v, want %d samples %v", got.Samples, got.PerQuery, want.Samples, want.PerQuery)
				}
			})
		}
	}
}

func TestEvaluator_EvaluateShardedOverBus(t *testing.T) {
	b := bus.NewMemoryBus(logger.Discard())
	defer b.Close()

	e := newTestEvaluator()
	e.SetSyncTimeout(5 * time.Second)
	ctx := context.Background()

	world := 3
	run := func(ctx context.Context, fn dist.RankFunc) error {
		return dist.RunOverBus(ctx, b, uuid.NewString(), world, logger.Discard(), fn)
	}

	got, err := e.EvaluateSharded(ctx, exampleBatch, Options{}, false, world, run)
	if err != nil {
		t.Fatalf("EvaluateSharded() error = %v", err)
	}
	if math.Abs(got.Score-0.75) > eps {
		t.Errorf("Score = %v, want 0.75", got.Score)
	}
}

func TestEvaluator_EvaluateShardedErrors(t *testing.T) {
	e := newTestEvaluator()
	ctx := context.Background()

	tests := []struct {
		name  string
		batch Batch
		opts  Options
		world int
		code  string
	}{
		{name: "bad world", batch: exampleBatch, world: 0, code: apperrors.CodeValidation},
		{
			name:  "shape mismatch",
			batch: Batch{Indexes: []int64{0}, Preds: []float64{0.1, 0.2}, Target: []int{1, 0}},
			world: 2,
			code:  apperrors.CodeValidation,
		},
		{
			name:  "all ignored",
			batch: Batch{Indexes: []int64{4, 4}, Preds: []float64{0.1, 0.2}, Target: []int{1, 0}},
			opts:  Options{IgnoreIndex: int64Ptr(4)},
			world: 2,
			code:  apperrors.CodeValidation,
		},
		{
			name:  "non binary target on one rank",
			batch: Batch{Indexes: []int64{0, 0, 1, 1}, Preds: []float64{0.1, 0.2, 0.3, 0.4}, Target: []int{1, 0, 0, 5}},
			world: 2,
			code:  apperrors.CodeValidation,
		},
		{name: "empty query rejected", batch: withEmptyQuery(exampleBatch), opts: Options{EmptyTargetAction: "error"}, world: 2, code: apperrors.CodeNoPositiveTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.EvaluateSharded(ctx, tt.batch, tt.opts, false, tt.world, localRunner(max(tt.world, 1)))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperrors.Code(err); got != tt.code {
				t.Errorf("code = %s, want %s (%v)", got, tt.code, err)
			}
		})
	}
}

func TestEvaluator_EvaluateRankSingleProcess(t *testing.T) {
	e := newTestEvaluator()

	res, err := e.EvaluateRank(context.Background(), exampleBatch, Options{}, false, 0, nil)
	if err != nil {
		t.Fatalf("EvaluateRank() error = %v", err)
	}
	if math.Abs(res.Score-0.75) > eps {
		t.Errorf("Score = %v, want 0.75", res.Score)
	}

	if _, err := e.EvaluateRank(context.Background(), exampleBatch, Options{}, false, 1, nil); !apperrors.IsValidation(err) {
		t.Errorf("expected validation error for rank 1 of a single process, got %v", err)
	}
}

func TestEvaluator_EvaluateGathered(t *testing.T) {
	path := t.TempDir() + "/events.jsonl"
	journal, err := bus.NewEventLogger(path)
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}
	b := bus.NewLoggedBus(bus.NewMemoryBus(logger.Discard()), journal, logger.Discard())

	e := newTestEvaluator()
	e.SetSyncTimeout(5 * time.Second)
	ctx := context.Background()
	batch := withEmptyQuery(exampleBatch)
	opts := Options{EmptyTargetAction: "skip", TopK: intPtr(2)}

	const world = 3
	run := func(ctx context.Context, fn dist.RankFunc) error {
		return dist.RunOverBus(ctx, b, "run-a", world, logger.Discard(), fn)
	}
	want, err := e.EvaluateSharded(ctx, batch, opts, true, world, run)
	if err != nil {
		t.Fatalf("EvaluateSharded() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events, err := bus.ReadEvents(path, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}
	parts, err := dist.ReplayRound(ctx, events, "run-a", world, GatherRound, logger.Discard())
	if err != nil {
		t.Fatalf("ReplayRound() error = %v", err)
	}

	got, err := e.EvaluateGathered(ctx, parts, opts, true)
	if err != nil {
		t.Fatalf("EvaluateGathered() error = %v", err)
	}
	if got.Score != want.Score || got.Samples != want.Samples || !reflect.DeepEqual(got.PerQuery, want.PerQuery) {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := e.EvaluateGathered(ctx, [][]byte{[]byte("not json")}, opts, false); apperrors.Code(err) != apperrors.CodeGather {
		t.Errorf("expected gather error for a malformed part, got %v", err)
	}
}
