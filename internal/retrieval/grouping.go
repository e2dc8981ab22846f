package retrieval

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/ricesearch/rankeval/internal/pkg/errors"
)

// Sample is one (query id, prediction, relevance) triple.
type Sample struct {
	Index  int64
	Pred   float64
	Target bool
}

// sampleWire carries the prediction as its IEEE 754 bits, so ±Inf and NaN
// scores survive the exchange between ranks.
type sampleWire struct {
	Index  int64  `json:"i"`
	Pred   uint64 `json:"p"`
	Target bool   `json:"t"`
}

// MarshalJSON implements json.Marshaler.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleWire{Index: s.Index, Pred: math.Float64bits(s.Pred), Target: s.Target})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var w sampleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Sample{Index: w.Index, Pred: math.Float64frombits(w.Pred), Target: w.Target}
	return nil
}

// group holds the positions of one query's samples in the batch.
type group struct {
	index     int64
	positions []int
	positives int
}

// QueryScore is the reciprocal rank of one query.
type QueryScore struct {
	Index          int64   `json:"index"`
	ReciprocalRank float64 `json:"reciprocal_rank"`
}

// GroupAndScore partitions a batch by query id and returns one reciprocal
// rank per scored query, in ascending query id order. Samples whose id
// equals opts.IgnoreIndex are dropped first; a query with no relevant item
// is handled by opts.EmptyTargetAction.
func GroupAndScore(indexes []int64, preds []float64, target []bool, opts GroupOptions) ([]float64, error) {
	queries, err := ScoreQueries(indexes, preds, target, opts)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(queries))
	for i, q := range queries {
		scores[i] = q.ReciprocalRank
	}
	return scores, nil
}

// ScoreQueries is GroupAndScore keeping the query id of every score.
func ScoreQueries(indexes []int64, preds []float64, target []bool, opts GroupOptions) ([]QueryScore, error) {
	if len(indexes) != len(preds) || len(preds) != len(target) {
		return nil, errors.ValidationError("`indexes`, `preds` and `target` must be of the same shape")
	}
	if !opts.EmptyTargetAction.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("`empty_target_action` received a wrong value `%s`.", opts.EmptyTargetAction))
	}
	if opts.TopK < 0 {
		return nil, errTopK()
	}

	groups := groupByIndex(indexes, target, opts.IgnoreIndex)

	scores := make([]QueryScore, 0, len(groups))
	var qPreds []float64
	var qTarget []bool
	for _, g := range groups {
		if g.positives == 0 {
			switch opts.EmptyTargetAction {
			case EmptyTargetSkip:
				continue
			case EmptyTargetNeg:
				scores = append(scores, QueryScore{Index: g.index, ReciprocalRank: 0})
				continue
			case EmptyTargetPos:
				scores = append(scores, QueryScore{Index: g.index, ReciprocalRank: 1})
				continue
			case EmptyTargetError:
				return nil, errNoPositiveTarget()
			}
		}

		qPreds = qPreds[:0]
		qTarget = qTarget[:0]
		for _, p := range g.positions {
			qPreds = append(qPreds, preds[p])
			qTarget = append(qTarget, target[p])
		}
		scores = append(scores, QueryScore{Index: g.index, ReciprocalRank: ReciprocalRank(qPreds, qTarget, opts.TopK)})
	}
	return scores, nil
}

func groupByIndex(indexes []int64, target []bool, ignore *int64) []*group {
	byIndex := make(map[int64]*group)
	for i, idx := range indexes {
		if ignore != nil && idx == *ignore {
			continue
		}
		g, ok := byIndex[idx]
		if !ok {
			g = &group{index: idx}
			byIndex[idx] = g
		}
		g.positions = append(g.positions, i)
		if target[i] {
			g.positives++
		}
	}

	groups := make([]*group, 0, len(byIndex))
	for _, g := range byIndex {
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b *group) int {
		return cmp.Compare(a.index, b.index)
	})
	return groups
}

// splitSamples converts accumulated samples back to parallel slices.
func splitSamples(samples []Sample) ([]int64, []float64, []bool) {
	indexes := make([]int64, len(samples))
	preds := make([]float64, len(samples))
	target := make([]bool, len(samples))
	for i, s := range samples {
		indexes[i] = s.Index
		preds[i] = s.Pred
		target[i] = s.Target
	}
	return indexes, preds, target
}
