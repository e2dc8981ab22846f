// Package retrieval implements Mean Reciprocal Rank over grouped, ranked
// prediction lists: the per-query reciprocal rank kernel, grouping by query
// identifier with index exclusion and empty-target policy, cross-query
// aggregation and a stateful metric whose state can be merged across ranks
// of a distributed run.
package retrieval

import (
	"fmt"

	"github.com/ricesearch/rankeval/internal/pkg/errors"
)

// EmptyTargetAction selects how a query without any relevant item is scored.
type EmptyTargetAction string

const (
	// EmptyTargetSkip drops the query from aggregation.
	EmptyTargetSkip EmptyTargetAction = "skip"
	// EmptyTargetNeg scores the query 0.
	EmptyTargetNeg EmptyTargetAction = "neg"
	// EmptyTargetPos scores the query 1.
	EmptyTargetPos EmptyTargetAction = "pos"
	// EmptyTargetError fails Compute when such a query is found.
	EmptyTargetError EmptyTargetAction = "error"
)

// Valid reports whether a is a recognized action.
func (a EmptyTargetAction) Valid() bool {
	switch a {
	case EmptyTargetSkip, EmptyTargetNeg, EmptyTargetPos, EmptyTargetError:
		return true
	}
	return false
}

// ParseEmptyTargetAction validates a configured action name.
func ParseEmptyTargetAction(s string) (EmptyTargetAction, error) {
	a := EmptyTargetAction(s)
	if !a.Valid() {
		return "", errors.ValidationError(fmt.Sprintf("`empty_target_action` received a wrong value `%s`.", s))
	}
	return a, nil
}

// GroupOptions configures GroupAndScore.
type GroupOptions struct {
	// IgnoreIndex drops every sample whose query id equals it, when set.
	IgnoreIndex *int64
	// EmptyTargetAction applies to queries without a relevant item.
	EmptyTargetAction EmptyTargetAction
	// TopK restricts ranking to the k best-scored items; 0 means no limit.
	TopK int
}

// Config is the configuration of the stateful MRR metric.
type Config struct {
	EmptyTargetAction EmptyTargetAction
	IgnoreIndex       *int64
	TopK              int
	Aggregation       Aggregator
}

// DefaultConfig mirrors the usual metric defaults: "neg" for empty queries,
// no exclusion, no top-k, mean aggregation.
func DefaultConfig() Config {
	return Config{
		EmptyTargetAction: EmptyTargetNeg,
		Aggregation:       Mean,
	}
}

// Validate checks a configuration before any state is touched.
func (c Config) Validate() error {
	if !c.EmptyTargetAction.Valid() {
		return errors.ValidationError(fmt.Sprintf("`empty_target_action` received a wrong value `%s`.", c.EmptyTargetAction))
	}
	if c.TopK < 0 {
		return errTopK()
	}
	if c.Aggregation == nil {
		return errAggregation("<nil>")
	}
	return nil
}

func (c Config) groupOptions() GroupOptions {
	return GroupOptions{
		IgnoreIndex:       c.IgnoreIndex,
		EmptyTargetAction: c.EmptyTargetAction,
		TopK:              c.TopK,
	}
}

// Option customizes an MRR metric.
type Option func(*MRR) error

// WithEmptyTargetAction sets the empty-target policy by name.
func WithEmptyTargetAction(action string) Option {
	return func(m *MRR) error {
		a, err := ParseEmptyTargetAction(action)
		if err != nil {
			return err
		}
		m.cfg.EmptyTargetAction = a
		return nil
	}
}

// WithIgnoreIndex excludes every sample with the given query id.
func WithIgnoreIndex(index int64) Option {
	return func(m *MRR) error {
		m.cfg.IgnoreIndex = &index
		return nil
	}
}

// WithTopK restricts every query to its k best-scored items.
func WithTopK(k int) Option {
	return func(m *MRR) error {
		if k <= 0 {
			return errTopK()
		}
		m.cfg.TopK = k
		return nil
	}
}

// WithAggregation selects a built-in aggregation by name.
func WithAggregation(name string) Option {
	return func(m *MRR) error {
		agg, err := ParseAggregation(name)
		if err != nil {
			return err
		}
		m.cfg.Aggregation = agg
		return nil
	}
}

// WithAggregator installs a custom reducer.
func WithAggregator(agg Aggregator) Option {
	return func(m *MRR) error {
		if agg == nil {
			return errAggregation("<nil>")
		}
		m.cfg.Aggregation = agg
		return nil
	}
}
