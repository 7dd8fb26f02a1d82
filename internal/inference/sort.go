package inference

import (
	"cmp"
	"slices"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// SortByConfidence orders predictions highest confidence first, breaking
// ties by class name
func SortByConfidence(p repository.Predictions) {
	slices.SortStableFunc(p, func(a, b repository.Prediction) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.Class, b.Class)
	})
}
