// Package ctc turns the per-timestep class probabilities of a CTC-trained
// sequence classifier into text: greedy best-path decoding, the label
// mapping and the confidence policy.
package ctc

import (
	"errors"
	"fmt"
)

// ErrMalformedMatrix reports classifier output that is not a [1, T, C] matrix.
var ErrMalformedMatrix = errors.New("malformed probability matrix")

// ProbabilityMatrix holds the [1, T, C] classifier output for a single image.
// Row t is the distribution over the C classes at time step t.
type ProbabilityMatrix struct {
	Steps   int
	Classes int
	Data    []float32
}

// NewProbabilityMatrix validates a raw output shape and wraps data without
// copying it.
func NewProbabilityMatrix(shape []int64, data []float32) (ProbabilityMatrix, error) {
	if len(shape) != 3 {
		return ProbabilityMatrix{}, fmt.Errorf("%w: rank %d, want 3", ErrMalformedMatrix, len(shape))
	}
	if shape[0] != 1 {
		return ProbabilityMatrix{}, fmt.Errorf("%w: batch %d, want 1", ErrMalformedMatrix, shape[0])
	}
	if shape[1] < 0 || shape[2] <= 0 {
		return ProbabilityMatrix{}, fmt.Errorf("%w: shape %v", ErrMalformedMatrix, shape)
	}
	steps, classes := int(shape[1]), int(shape[2])
	if len(data) != steps*classes {
		return ProbabilityMatrix{}, fmt.Errorf("%w: %d values for shape %v", ErrMalformedMatrix, len(data), shape)
	}
	return ProbabilityMatrix{Steps: steps, Classes: classes, Data: data}, nil
}

// Row returns the class distribution at step t.
func (m ProbabilityMatrix) Row(t int) []float32 {
	return m.Data[t*m.Classes : (t+1)*m.Classes]
}

// Shape returns the matrix shape including the batch dimension.
func (m ProbabilityMatrix) Shape() []int64 {
	return []int64{1, int64(m.Steps), int64(m.Classes)}
}

// argmax returns the first index holding the maximum of v and that maximum.
// Ties resolve to the lowest index.
func argmax(v []float32) (int, float32) {
	if len(v) == 0 {
		return -1, 0
	}
	idx := 0
	maxVal := v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > maxVal {
			maxVal = v[i]
			idx = i
		}
	}
	return idx, maxVal
}
