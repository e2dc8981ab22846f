package retrieval

import (
	"fmt"

	"github.com/ricesearch/rankeval/internal/pkg/errors"
)

func errTopK() error {
	return errors.ValidationError("`top_k` has to be a positive integer or None")
}

func errAggregation(got string) error {
	return errors.ValidationError(fmt.Sprintf(
		"Argument `aggregation` must be one of `mean`, `median`, `min`, `max` or a custom callable function which takes tensor of values, but got %s.", got))
}

func errAllIgnored() error {
	return errors.ValidationError("no sample left after removing `ignore_index` values")
}

func errNoPositiveTarget() error {
	return errors.NoPositiveTargetError("`compute` method was provided with a query with no positive target.")
}

// checkFunctionalInputs validates a single-query batch and converts the
// target to booleans.
func checkFunctionalInputs(preds []float64, target []int) ([]bool, error) {
	if len(preds) != len(target) {
		return nil, errors.ValidationError("`preds` and `target` must be of the same shape")
	}
	if len(preds) == 0 {
		return nil, errors.ValidationError("`preds` and `target` must be non-empty and non-scalar tensors")
	}
	return binaryTarget(target)
}

// checkInputs validates a grouped batch and converts the target to
// booleans. Nothing is mutated when an error is returned.
func checkInputs(preds []float64, target []int, indexes []int64) ([]bool, error) {
	if indexes == nil {
		return nil, errors.ValidationError("`indexes` cannot be None")
	}
	if len(indexes) != len(preds) || len(preds) != len(target) {
		return nil, errors.ValidationError("`indexes`, `preds` and `target` must be of the same shape").
			WithDetail("indexes", fmt.Sprint(len(indexes))).
			WithDetail("preds", fmt.Sprint(len(preds))).
			WithDetail("target", fmt.Sprint(len(target)))
	}
	if len(preds) == 0 {
		return nil, errors.ValidationError("`indexes`, `preds` and `target` must be non-empty and non-scalar tensors")
	}
	return binaryTarget(target)
}

func binaryTarget(target []int) ([]bool, error) {
	out := make([]bool, len(target))
	for i, t := range target {
		switch t {
		case 0:
		case 1:
			out[i] = true
		default:
			return nil, errors.ValidationError("`target` must contain `binary` values").
				WithDetail("position", fmt.Sprint(i)).
				WithDetail("value", fmt.Sprint(t))
		}
	}
	return out, nil
}

func checkTopK(topK *int) (int, error) {
	if topK == nil {
		return 0, nil
	}
	if *topK <= 0 {
		return 0, errTopK()
	}
	return *topK, nil
}
