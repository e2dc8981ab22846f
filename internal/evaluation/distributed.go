package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ricesearch/rankeval/internal/dist"
	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/retrieval"
)

// GatherRound names the all-gather round of an EvaluateRank call, which
// synchronizes its state once.
const GatherRound = "mrr/1"

// Runner starts one RankFunc per rank and waits for all of them, like
// dist.RunLocal.
type Runner func(ctx context.Context, fn dist.RankFunc) error

// Shard returns this rank's round-robin share of the samples that are not
// ignored.
func (b Batch) Shard(rank, world int, ignore *int64) Batch {
	var out Batch
	k := 0
	for i := range b.Preds {
		if ignore != nil && b.Indexes[i] == *ignore {
			continue
		}
		if k%world == rank {
			out.Indexes = append(out.Indexes, b.Indexes[i])
			out.Preds = append(out.Preds, b.Preds[i])
			out.Target = append(out.Target, b.Target[i])
		}
		k++
	}
	return out
}

// SetSyncTimeout bounds every state synchronization; 0 means no bound.
func (e *Evaluator) SetSyncTimeout(d time.Duration) {
	e.syncTimeout = d
}

// EvaluateRank scores this rank's shard, merging the state of every rank
// through g before computing. A nil g is a single-process run. Every rank
// of the run returns the same result.
func (e *Evaluator) EvaluateRank(ctx context.Context, shard Batch, opts Options, perQuery bool, rank int, g dist.Gatherer) (*Result, error) {
	state, err := dist.NewState[retrieval.Sample](dist.StateConfig{
		Name:     "mrr",
		Rank:     rank,
		Gatherer: g,
		Timeout:  e.syncTimeout,
		Logger:   e.log,
	})
	if err != nil {
		return nil, err
	}

	m, err := e.NewMetric(opts, retrieval.WithState(state))
	if err != nil {
		return nil, err
	}

	// A rank may legitimately hold no sample; it still joins the barrier.
	if shard.Len() != 0 {
		if err := m.Update(shard.Preds, shard.Target, shard.Indexes); err != nil {
			return nil, err
		}
	}
	return e.Summarize(ctx, m, opts, perQuery)
}

// EvaluateSharded splits batch across world ranks started by run and
// returns the merged result. It equals Evaluate on the whole batch.
func (e *Evaluator) EvaluateSharded(ctx context.Context, batch Batch, opts Options, perQuery bool, world int, run Runner) (*Result, error) {
	if world < 1 {
		return nil, apperrors.ValidationError(fmt.Sprintf("world size must be positive, got %d", world))
	}

	ignore := e.Resolve(opts).IgnoreIndex
	if batch.Len() <= 0 || batch.Shard(0, 1, ignore).Len() == 0 {
		// Shape errors and fully ignored batches are reported as a single
		// process reports them.
		return e.Evaluate(ctx, batch, opts, perQuery)
	}

	results := make([]*Result, world)
	err := run(ctx, func(ctx context.Context, rank int, g dist.Gatherer) error {
		res, err := e.EvaluateRank(ctx, batch.Shard(rank, world, ignore), opts, perQuery, rank, g)
		results[rank] = res
		return err
	})
	if err != nil {
		return nil, err
	}

	for rank, res := range results[1:] {
		if res.Score != results[0].Score {
			return nil, apperrors.InternalError(fmt.Sprintf("rank %d computed %v, rank 0 computed %v", rank+1, res.Score, results[0].Score), nil)
		}
	}
	return results[0], nil
}

// EvaluateGathered scores the per-rank state contributions of one gather
// round, in rank order, as the ranks did after synchronizing. It re-scores
// a finished distributed run from its event logs.
func (e *Evaluator) EvaluateGathered(ctx context.Context, parts [][]byte, opts Options, perQuery bool) (*Result, error) {
	var batch Batch
	for rank, part := range parts {
		var samples []retrieval.Sample
		if err := json.Unmarshal(part, &samples); err != nil {
			return nil, apperrors.GatherError(fmt.Sprintf("decoding state of rank %d", rank), err)
		}
		for _, s := range samples {
			batch.Indexes = append(batch.Indexes, s.Index)
			batch.Preds = append(batch.Preds, s.Pred)
			target := 0
			if s.Target {
				target = 1
			}
			batch.Target = append(batch.Target, target)
		}
	}
	return e.Evaluate(ctx, batch, opts, perQuery)
}
