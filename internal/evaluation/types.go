package evaluation

import "github.com/ricesearch/rankeval/internal/retrieval"

// Batch is a flat list of scored samples: sample i belongs to query
// Indexes[i], was scored Preds[i] and is relevant when Target[i] is 1.
type Batch struct {
	Indexes []int64   `json:"indexes" yaml:"indexes"`
	Preds   []float64 `json:"preds" yaml:"preds"`
	Target  []int     `json:"target" yaml:"target"`
}

// Len returns the number of samples, or -1 when the columns disagree.
func (b Batch) Len() int {
	n := len(b.Preds)
	if len(b.Indexes) != n || len(b.Target) != n {
		return -1
	}
	return n
}

// Options overrides the configured metric defaults. Zero values keep the
// default.
type Options struct {
	TopK              *int   `json:"top_k,omitempty" yaml:"top_k"`
	EmptyTargetAction string `json:"empty_target_action,omitempty" yaml:"empty_target_action"`
	IgnoreIndex       *int64 `json:"ignore_index,omitempty" yaml:"ignore_index"`
	Aggregation       string `json:"aggregation,omitempty" yaml:"aggregation"`
}

// Query is one ranked list scored by the functional reciprocal rank.
type Query struct {
	Preds  []float64 `json:"preds"`
	Target []int     `json:"target"`
	TopK   *int      `json:"top_k,omitempty"`
}

// Result is the outcome of one batch evaluation.
type Result struct {
	Score    float64                `json:"score"`
	Samples  int                    `json:"samples"`
	Queries  int                    `json:"queries"`
	PerQuery []retrieval.QueryScore `json:"per_query,omitempty"`
	Options  Resolved               `json:"options"`
}

// Resolved is the effective configuration after defaults are applied.
type Resolved struct {
	TopK              int    `json:"top_k,omitempty"`
	EmptyTargetAction string `json:"empty_target_action"`
	IgnoreIndex       *int64 `json:"ignore_index,omitempty"`
	Aggregation       string `json:"aggregation"`
}
