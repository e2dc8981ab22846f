// Package evaluation scores ranked batches with the MRR metric. It backs
// both the CLI and the HTTP API.
package evaluation

import (
	"context"
	"time"

	"github.com/ricesearch/rankeval/internal/config"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
	"github.com/ricesearch/rankeval/internal/retrieval"
)

// Evaluator builds MRR metrics from configured defaults and per-call
// overrides.
type Evaluator struct {
	defaults    config.MetricConfig
	log         *logger.Logger
	rec         retrieval.Recorder
	syncTimeout time.Duration
}

// NewEvaluator creates a new evaluator. rec may be nil.
func NewEvaluator(defaults config.MetricConfig, log *logger.Logger, rec retrieval.Recorder) *Evaluator {
	if log == nil {
		log = logger.Discard()
	}
	return &Evaluator{
		defaults: defaults,
		log:      log,
		rec:      rec,
	}
}

// Resolve applies the defaults to opts.
func (e *Evaluator) Resolve(opts Options) Resolved {
	r := Resolved{
		TopK:              e.defaults.TopK,
		EmptyTargetAction: e.defaults.EmptyTargetAction,
		IgnoreIndex:       e.defaults.IgnoreIndex,
		Aggregation:       e.defaults.Aggregation,
	}
	if opts.TopK != nil {
		r.TopK = *opts.TopK
	}
	if opts.EmptyTargetAction != "" {
		r.EmptyTargetAction = opts.EmptyTargetAction
	}
	if opts.IgnoreIndex != nil {
		r.IgnoreIndex = opts.IgnoreIndex
	}
	if opts.Aggregation != "" {
		r.Aggregation = opts.Aggregation
	}
	return r
}

// NewMetric creates an MRR metric for the resolved options. extra options
// are applied last, which is how callers attach a distributed state.
func (e *Evaluator) NewMetric(opts Options, extra ...retrieval.Option) (*retrieval.MRR, error) {
	return retrieval.NewMRR(append(e.metricOptions(opts), extra...)...)
}

func (e *Evaluator) metricOptions(opts Options) []retrieval.Option {
	r := e.Resolve(opts)

	options := []retrieval.Option{
		retrieval.WithEmptyTargetAction(r.EmptyTargetAction),
		retrieval.WithAggregation(r.Aggregation),
		retrieval.WithLogger(e.log),
	}
	// An explicit top_k of 0 is rejected by WithTopK; the default 0 means none.
	if opts.TopK != nil || r.TopK != 0 {
		options = append(options, retrieval.WithTopK(r.TopK))
	}
	if r.IgnoreIndex != nil {
		options = append(options, retrieval.WithIgnoreIndex(*r.IgnoreIndex))
	}
	if e.rec != nil {
		options = append(options, retrieval.WithRecorder(e.rec))
	}
	return options
}

// Evaluate scores one batch in a fresh metric. perQuery adds the
// reciprocal rank of every contributing query, in ascending query id order.
func (e *Evaluator) Evaluate(ctx context.Context, batch Batch, opts Options, perQuery bool) (*Result, error) {
	m, err := e.NewMetric(opts)
	if err != nil {
		return nil, err
	}
	if err := m.Update(batch.Preds, batch.Target, batch.Indexes); err != nil {
		return nil, err
	}
	return e.Summarize(ctx, m, opts, perQuery)
}

// Summarize computes the value of an already fed metric.
func (e *Evaluator) Summarize(ctx context.Context, m *retrieval.MRR, opts Options, perQuery bool) (*Result, error) {
	score, err := m.Compute(ctx)
	if err != nil {
		return nil, err
	}

	// Scores after Compute sees the synchronized state.
	scores, err := m.Scores()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Score:   score,
		Samples: m.Samples(),
		Queries: len(scores),
		Options: e.Resolve(opts),
	}
	if perQuery {
		result.PerQuery = scores
	}

	e.log.WithContext(ctx).Info("Evaluated batch",
		"samples", result.Samples,
		"queries", result.Queries,
		"score", score,
	)
	return result, nil
}

// ReciprocalRank scores a single ranked list.
func (e *Evaluator) ReciprocalRank(q Query) (float64, error) {
	return retrieval.RetrievalReciprocalRank(q.Preds, q.Target, q.TopK)
}
