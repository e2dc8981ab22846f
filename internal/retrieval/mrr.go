package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/ricesearch/rankeval/internal/dist"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

// Recorder receives engine statistics. Implemented by the metrics package.
type Recorder interface {
	RecordUpdate(samples int)
	RecordCompute(queries int, latency time.Duration, err error)
	RecordSync(ranks int, latency time.Duration, err error)
}

// MRR is the stateful Mean Reciprocal Rank metric.
//
// Update accumulates samples of one or more queries; Compute groups every
// accumulated sample by query id, scores each query and aggregates. Samples
// are kept rather than per-query scores so that a query spread over several
// Update calls, or over several ranks, is scored once as a whole.
type MRR struct {
	mu    sync.Mutex
	cfg   Config
	state *dist.State[Sample]
	log   *logger.Logger
	rec   Recorder
}

// NewMRR creates a metric with the default configuration adjusted by opts.
func NewMRR(opts ...Option) (*MRR, error) {
	m := &MRR{
		cfg: DefaultConfig(),
		log: logger.Discard(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}
	if m.state == nil {
		m.state = dist.NewLocalState[Sample]()
	}
	return m, nil
}

// WithState attaches a distributed state; Compute then synchronizes it with
// the other ranks before scoring.
func WithState(state *dist.State[Sample]) Option {
	return func(m *MRR) error {
		m.state = state
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *MRR) error {
		if log != nil {
			m.log = log.WithMetric("mrr")
		}
		return nil
	}
}

// WithRecorder sets the statistics recorder.
func WithRecorder(rec Recorder) Option {
	return func(m *MRR) error {
		m.rec = rec
		return nil
	}
}

// Config returns the metric configuration.
func (m *MRR) Config() Config {
	return m.cfg
}

// Update validates a batch and accumulates it. target holds 0/1 labels and
// indexes the query id of every sample. A rejected batch leaves the state
// untouched.
func (m *MRR) Update(preds []float64, target []int, indexes []int64) error {
	samples, err := m.prepare(preds, target, indexes)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Accumulate(samples...)
	if m.rec != nil {
		m.rec.RecordUpdate(len(samples))
	}
	return nil
}

// Forward accumulates the batch like Update and returns the metric value of
// this batch alone, without synchronizing.
func (m *MRR) Forward(ctx context.Context, preds []float64, target []int, indexes []int64) (float64, error) {
	samples, err := m.prepare(preds, target, indexes)
	if err != nil {
		return 0, err
	}

	value, err := m.score(samples)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Accumulate(samples...)
	if m.rec != nil {
		m.rec.RecordUpdate(len(samples))
	}
	return value, nil
}

// Compute synchronizes the state with the other ranks, if any, and returns
// the aggregated reciprocal rank over every accumulated query. It returns 0
// when no query contributes.
func (m *MRR) Compute(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if world := m.state.WorldSize(); world > 1 {
		start := time.Now()
		err := m.state.Synchronize(ctx)
		if m.rec != nil {
			m.rec.RecordSync(world, time.Since(start), err)
		}
		if err != nil {
			return 0, err
		}
	}

	return m.score(m.state.Values())
}

// Reset clears the accumulated state.
func (m *MRR) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Reset()
}

// Scores returns the per-query reciprocal ranks of the current state, by
// ascending query id, without synchronizing.
func (m *MRR) Scores() ([]QueryScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	indexes, preds, target := splitSamples(m.state.Values())
	return ScoreQueries(indexes, preds, target, m.cfg.groupOptions())
}

// Samples returns the number of samples in the state, merged across ranks
// after a distributed Compute.
func (m *MRR) Samples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.Values())
}

func (m *MRR) prepare(preds []float64, target []int, indexes []int64) ([]Sample, error) {
	relevant, err := checkInputs(preds, target, indexes)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(preds))
	for i := range preds {
		if m.cfg.IgnoreIndex != nil && indexes[i] == *m.cfg.IgnoreIndex {
			continue
		}
		samples = append(samples, Sample{Index: indexes[i], Pred: preds[i], Target: relevant[i]})
	}
	if len(samples) == 0 {
		return nil, errAllIgnored()
	}
	return samples, nil
}

func (m *MRR) score(samples []Sample) (float64, error) {
	start := time.Now()
	indexes, preds, target := splitSamples(samples)

	scores, err := GroupAndScore(indexes, preds, target, m.cfg.groupOptions())
	if m.rec != nil {
		m.rec.RecordCompute(len(scores), time.Since(start), err)
	}
	if err != nil {
		return 0, err
	}

	value := Aggregate(scores, m.cfg.Aggregation)
	m.log.Debug("Computed",
		"samples", len(samples),
		"queries", len(scores),
		"value", value,
	)
	return value, nil
}
