// Package embedding holds the face embedding vector and the cosine scorer used
// to compare two of them.
package embedding

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/vecgo/distance"
)

var (
	// ErrDimensionMismatch is returned when two vectors of different length are compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDegenerateEmbedding is returned when a vector has zero norm.
	ErrDegenerateEmbedding = errors.New("degenerate embedding")
	// ErrNonFinite is returned when a vector holds a NaN or infinite component.
	ErrNonFinite = errors.New("non-finite embedding")
)

// Vector is a face embedding produced by an extractor. Its length is fixed
// by the extractor and constant for the lifetime of the process.
type Vector []float32

// Dim returns the dimensionality of the vector.
func (v Vector) Dim() int { return len(v) }

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	return slices.Clone(v)
}

// Scorer computes a bounded similarity between two vectors.
type Scorer func(a, b Vector) (float64, error)

// Cosine returns the cosine similarity of a and b: both vectors are scaled to
// unit length and their dot product is returned, clamped to [-1, 1].
// Any nonzero finite vector scores 1 against itself, whatever its magnitude.
func Cosine(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	na, err := unit(a)
	if err != nil {
		return 0, fmt.Errorf("first vector: %w", err)
	}
	nb, err := unit(b)
	if err != nil {
		return 0, fmt.Errorf("second vector: %w", err)
	}

	s := float64(distance.Dot(na, nb))
	if math.IsNaN(s) {
		return 0, ErrNonFinite
	}
	return clamp(s), nil
}

// unit returns v scaled to unit length. v is first divided by its largest
// magnitude so the float32 norm neither overflows nor underflows.
func unit(v Vector) ([]float32, error) {
	var peak float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: component %d is %v", ErrNonFinite, i, x)
		}
		peak = math.Max(peak, math.Abs(f))
	}
	if peak == 0 {
		return nil, fmt.Errorf("%w: zero norm", ErrDegenerateEmbedding)
	}

	scaled := make([]float32, len(v))
	for i, x := range v {
		scaled[i] = float32(float64(x) / peak)
	}
	if !distance.NormalizeL2InPlace(scaled) {
		return nil, fmt.Errorf("%w: zero norm", ErrDegenerateEmbedding)
	}
	return scaled, nil
}

func clamp(s float64) float64 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}
