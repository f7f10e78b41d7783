package postprocess

import (
	"sort"

	"github.com/pkg/errors"
)

// DetectionSet is a growable struct-of-arrays collection of detection
// candidates. Each row holds corner coordinates, a confidence score, and a
// class id (stored as float32 so every column shares one element type for
// bulk arithmetic). All six columns always have equal length; every mutation
// validates before touching storage, so a failed call leaves the set intact.
type DetectionSet struct {
	x1      []float32
	y1      []float32
	x2      []float32
	y2      []float32
	scores  []float32
	classes []float32
}

// NewDetectionSet returns an empty set.
func NewDetectionSet() *DetectionSet {
	return &DetectionSet{}
}

// DetectionSetFromColumns constructs a set from six equal-length columns.
// The columns are copied so callers retain ownership of their slices.
//
// Returns:
//   - The populated set, or an error wrapping ErrColumnLength if any column
//     length disagrees.
func DetectionSetFromColumns(x1, y1, x2, y2, scores, classes []float32) (*DetectionSet, error) {
	s := NewDetectionSet()
	if err := s.Append(x1, y1, x2, y2, scores, classes); err != nil {
		return nil, err
	}
	return s, nil
}

// Len returns the number of rows in the set.
func (s *DetectionSet) Len() int {
	return len(s.scores)
}

// Box returns row i's coordinates as a BoundingBox.
func (s *DetectionSet) Box(i int) BoundingBox {
	return BoundingBox{Top: s.y1[i], Left: s.x1[i], Bottom: s.y2[i], Right: s.x2[i]}
}

// Score returns row i's confidence score.
func (s *DetectionSet) Score(i int) float32 {
	return s.scores[i]
}

// Class returns row i's class id.
func (s *DetectionSet) Class(i int) int {
	return int(s.classes[i])
}

// Append concatenates six equal-length columns onto the set. The append is
// atomic with respect to the column invariant: lengths are validated first
// and nothing is written on mismatch.
//
// Arguments:
//   - x1, y1, x2, y2: Corner columns.
//   - scores: Confidence scores.
//   - classes: Class ids as float32.
//
// Returns:
//   - An error wrapping ErrColumnLength if the six inputs disagree in length.
func (s *DetectionSet) Append(x1, y1, x2, y2, scores, classes []float32) error {
	n := len(x1)
	if len(y1) != n || len(x2) != n || len(y2) != n || len(scores) != n || len(classes) != n {
		return errors.Wrapf(ErrColumnLength,
			"appended columns have lengths x1=%d y1=%d x2=%d y2=%d scores=%d classes=%d",
			n, len(y1), len(x2), len(y2), len(scores), len(classes))
	}

	s.x1 = append(s.x1, x1...)
	s.y1 = append(s.y1, y1...)
	s.x2 = append(s.x2, x2...)
	s.y2 = append(s.y2, y2...)
	s.scores = append(s.scores, scores...)
	s.classes = append(s.classes, classes...)
	return nil
}

// SortAndTrim keeps the k highest-scoring rows and drops the rest. The kept
// rows end up ordered by ascending score: the suppressor consumes the set as
// a stack and pops the highest score from the end. Ties on equal scores keep
// insertion order, so output is deterministic for a given input. A k at or
// above Len still reorders the whole set; k below 1 empties it.
func (s *DetectionSet) SortAndTrim(k int) {
	n := s.Len()
	if k < 0 {
		k = 0
	}
	if k > n {
		k = n
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return s.scores[order[i]] > s.scores[order[j]]
	})
	order = order[:k]

	// Reverse so the lowest kept score comes first.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	s.x1 = selectRows(s.x1, order)
	s.y1 = selectRows(s.y1, order)
	s.x2 = selectRows(s.x2, order)
	s.y2 = selectRows(s.y2, order)
	s.scores = selectRows(s.scores, order)
	s.classes = selectRows(s.classes, order)
}

func selectRows(col []float32, order []int) []float32 {
	out := make([]float32, len(order))
	for i, j := range order {
		out[i] = col[j]
	}
	return out
}
