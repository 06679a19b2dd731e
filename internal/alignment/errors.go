package alignment

import (
	"errors"
	"fmt"
)

// DimensionMismatchError reports point sets that disagree in length or in
// per-point dimensionality. It is returned before any numeric work.
type DimensionMismatchError struct {
	What  string // "length" or "dimension"
	Index int    // offending point index for dimension mismatches, -1 otherwise
	Got   int
	Want  int
}

func (e DimensionMismatchError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("alignment: %s mismatch at point %d: got %d, want %d", e.What, e.Index, e.Got, e.Want)
	}
	return fmt.Sprintf("alignment: %s mismatch: got %d, want %d", e.What, e.Got, e.Want)
}

// DegenerateInputError reports a point configuration that cannot determine
// a transform of the requested family: too few points, coincident points or
// a rank-deficient design. Condition holds the measured singular value ratio
// when the failure came from the rank test.
type DegenerateInputError struct {
	Reason    string
	Condition float64
}

func (e DegenerateInputError) Error() string {
	if e.Condition > 0 {
		return fmt.Sprintf("alignment: degenerate input: %s (condition %.3g)", e.Reason, e.Condition)
	}
	return "alignment: degenerate input: " + e.Reason
}

var (
	ErrFactorizationFailed = errors.New("alignment: factorization failed")
	ErrNoConsensus         = errors.New("alignment: RANSAC failed to find enough inliers")
)
