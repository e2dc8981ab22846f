package retrieval

import "sort"

// RetrievalReciprocalRank computes the reciprocal rank of a single query.
// target holds 0/1 relevance labels; topK, when non-nil, must be positive
// and restricts the ranking to the topK best-scored items.
func RetrievalReciprocalRank(preds []float64, target []int, topK *int) (float64, error) {
	relevant, err := checkFunctionalInputs(preds, target)
	if err != nil {
		return 0, err
	}
	k, err := checkTopK(topK)
	if err != nil {
		return 0, err
	}
	return ReciprocalRank(preds, relevant, k), nil
}

// ReciprocalRank returns 1/rank of the best-scored relevant item, or 0 when
// no relevant item is ranked. topK <= 0 ranks every item; a topK larger than
// the query is clamped.
//
// Items are ordered by descending score and equal scores keep their input
// order, so for tied scores the item given first ranks higher. The first
// relevant item in that order is the single positive the rank refers to;
// any other positive is disregarded.
//
// A query of more than one item whose scores are all identical carries no
// ranking signal and scores 0.
//
// The caller guarantees len(preds) == len(target).
func ReciprocalRank(preds []float64, target []bool, topK int) float64 {
	n := len(preds)
	if n == 0 || fullyTied(preds) {
		return 0
	}

	k := n
	if topK > 0 && topK < n {
		k = topK
	}

	for pos, i := range rankOrder(preds)[:k] {
		if target[i] {
			return 1.0 / float64(pos+1)
		}
	}
	return 0
}

// rankOrder returns item positions sorted by descending score, stable on ties.
func rankOrder(preds []float64) []int {
	order := make([]int, len(preds))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return preds[order[a]] > preds[order[b]]
	})
	return order
}

func fullyTied(preds []float64) bool {
	if len(preds) < 2 {
		return false
	}
	for _, p := range preds[1:] {
		if p != preds[0] {
			return false
		}
	}
	return true
}
