package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a    Vector
		b    Vector
		want float64
	}{
		{
			name: "Identical vectors",
			a:    Vector{1, 0},
			b:    Vector{1, 0},
			want: 1.0,
		},
		{
			name: "Orthogonal vectors",
			a:    Vector{1, 0},
			b:    Vector{0, 1},
			want: 0.0,
		},
		{
			name: "Opposite vectors",
			a:    Vector{1, 0},
			b:    Vector{-1, 0},
			want: -1.0,
		},
		{
			name: "Scaled vector keeps direction",
			a:    Vector{1, 0},
			b:    Vector{5, 0},
			want: 1.0,
		},
		{
			name: "45 degrees",
			a:    Vector{1, 0},
			b:    Vector{1, 1},
			want: math.Sqrt2 / 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestCosine_SelfSimilarity(t *testing.T) {
	vectors := []Vector{
		{0.3, -1.2, 4.5, 0.01},
		{1e-3, 2e-3, 3e-3},
		make512(),
		{1e20, 1e20},
		{1e-25, 1e-25},
		{math.MaxFloat32, -math.MaxFloat32},
		{math.SmallestNonzeroFloat32, 0},
	}
	for _, v := range vectors {
		got, err := Cosine(v, v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got, 1e-5)
	}
}

func TestCosine_ExtremeMagnitudesKeepDirection(t *testing.T) {
	got, err := Cosine(Vector{1e20, 0}, Vector{1e-25, 1e-25})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt2/2, got, 1e-6)

	got, err = Cosine(Vector{1e30, 1e30}, Vector{-1, -1})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, got, 1e-6)
}

func TestCosine_NonFinite(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	tests := []struct {
		name string
		a, b Vector
	}{
		{"NaN probe", Vector{nan, 1}, Vector{1, 0}},
		{"NaN candidate", Vector{1, 0}, Vector{nan, 1}},
		{"+Inf candidate", Vector{1, 0}, Vector{inf, 0}},
		{"-Inf probe", Vector{-inf, 1}, Vector{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			require.ErrorIs(t, err, ErrNonFinite)
			assert.Zero(t, got)
		})
	}
}

func TestCosine_Symmetry(t *testing.T) {
	a := Vector{0.2, 0.7, -0.1, 0.4}
	b := Vector{-0.5, 0.3, 0.9, 0.05}

	ab, err := Cosine(a, b)
	require.NoError(t, err)
	ba, err := Cosine(b, a)
	require.NoError(t, err)

	assert.InDelta(t, ab, ba, 1e-9)
}

func TestCosine_DimensionMismatch(t *testing.T) {
	_, err := Cosine(Vector{1, 2, 3}, Vector{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// The length check runs before the norm check.
	_, err = Cosine(Vector{0, 0}, Vector{0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCosine_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
	}{
		{"zero probe", Vector{0, 0, 0}, Vector{1, 2, 3}},
		{"zero candidate", Vector{1, 2, 3}, Vector{0, 0, 0}},
		{"empty vectors", Vector{}, Vector{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Cosine(tt.a, tt.b)
			assert.ErrorIs(t, err, ErrDegenerateEmbedding)
		})
	}
}

func TestCosine_DoesNotMutateInputs(t *testing.T) {
	a := Vector{3, 4}
	b := Vector{4, 3}
	_, err := Cosine(a, b)
	require.NoError(t, err)
	assert.Equal(t, Vector{3, 4}, a)
	assert.Equal(t, Vector{4, 3}, b)
}

func TestVectorHelpers(t *testing.T) {
	v := Vector{0.5, -1, 2}
	assert.Equal(t, 3, v.Dim())

	c := v.Clone()
	c[0] = 9
	assert.InDelta(t, 0.5, v[0], 1e-9)
	assert.NotEqual(t, v, c)
	assert.Equal(t, Vector{0.5, -1, 2}, v)

	var nilVec Vector
	assert.Nil(t, nilVec.Clone())
}

func make512() Vector {
	v := make(Vector, 512)
	for i := range v {
		v[i] = float32(math.Sin(float64(i)))
	}
	return v
}
