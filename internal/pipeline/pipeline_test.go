package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/facegate/internal/embedding"
	"github.com/andresmejia3/facegate/internal/metrics"
	"github.com/andresmejia3/facegate/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	regions []Region
	err     error
	block   chan struct{}
}

func (d *fakeDetector) Detect(ctx context.Context, frame image.Image) ([]Region, error) {
	if d.block != nil {
		<-d.block
	}
	return d.regions, d.err
}

type fakeExtractor struct {
	mu    sync.Mutex
	vec   embedding.Vector
	err   error
	calls int
	crops []image.Rectangle
}

func (e *fakeExtractor) Embed(ctx context.Context, crop image.Image) (embedding.Vector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.crops = append(e.crops, crop.Bounds())
	return e.vec, e.err
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func frame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func face(x0, y0, x1, y1 int) Region {
	return Region{Box: image.Rect(x0, y0, x1, y1), Confidence: 0.99}
}

func TestExtractEmbedding_NoFace(t *testing.T) {
	ext := &fakeExtractor{vec: embedding.Vector{1, 0}}
	p := New(&fakeDetector{}, ext, registry.New())

	vec, ok := p.ExtractEmbedding(context.Background(), frame())
	assert.False(t, ok)
	assert.Nil(t, vec)
	assert.Zero(t, ext.callCount(), "extractor must not run without a face")
}

func TestExtractEmbedding_PicksLargestFace(t *testing.T) {
	ext := &fakeExtractor{vec: embedding.Vector{1, 0}}
	det := &fakeDetector{regions: []Region{
		face(0, 0, 20, 20),
		face(100, 100, 200, 250),
		face(300, 300, 350, 350),
	}}
	p := New(det, ext, registry.New(), WithCropSize(0))

	vec, ok := p.ExtractEmbedding(context.Background(), frame())
	require.True(t, ok)
	assert.Equal(t, embedding.Vector{1, 0}, vec)
	require.Len(t, ext.crops, 1)
	assert.Equal(t, image.Rect(0, 0, 100, 150), ext.crops[0])
}

func TestLargest(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)
	// image.Rect canonicalizes, so inverted boxes are built as literals.
	inverted := Region{Box: image.Rectangle{Min: image.Pt(200, 250), Max: image.Pt(100, 100)}, Confidence: 0.9}

	tests := []struct {
		name    string
		regions []Region
		want    image.Rectangle
	}{
		{
			name:    "inverted box is measured by its canonical area",
			regions: []Region{face(0, 0, 20, 20), inverted},
			want:    image.Rect(100, 100, 200, 250),
		},
		{
			name: "equal areas go to the higher confidence",
			regions: []Region{
				{Box: image.Rect(0, 0, 50, 50), Confidence: 0.6},
				{Box: image.Rect(100, 100, 150, 150), Confidence: 0.95},
			},
			want: image.Rect(100, 100, 150, 150),
		},
		{
			name: "equal areas and confidence keep the first region",
			regions: []Region{
				{Box: image.Rect(300, 0, 350, 50), Confidence: 0.8},
				{Box: image.Rect(0, 0, 50, 50), Confidence: 0.8},
			},
			want: image.Rect(300, 0, 350, 50),
		},
		{
			name: "area beats confidence",
			regions: []Region{
				{Box: image.Rect(0, 0, 10, 10), Confidence: 0.99},
				{Box: image.Rect(0, 0, 60, 60), Confidence: 0.51},
			},
			want: image.Rect(0, 0, 60, 60),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, largest(bounds, tt.regions))
		})
	}
}

func TestExtractEmbedding_InvertedBox(t *testing.T) {
	ext := &fakeExtractor{vec: embedding.Vector{1, 0}}
	det := &fakeDetector{regions: []Region{
		face(0, 0, 20, 20),
		{Box: image.Rectangle{Min: image.Pt(200, 250), Max: image.Pt(100, 100)}, Confidence: 0.9},
	}}
	p := New(det, ext, registry.New(), WithCropSize(0))

	_, ok := p.ExtractEmbedding(context.Background(), frame())
	require.True(t, ok)
	require.Len(t, ext.crops, 1)
	assert.Equal(t, image.Rect(0, 0, 100, 150), ext.crops[0])
}

func TestExtractEmbedding_ClipsToFrame(t *testing.T) {
	ext := &fakeExtractor{vec: embedding.Vector{1, 0}}
	det := &fakeDetector{regions: []Region{face(600, 440, 700, 520)}}
	p := New(det, ext, registry.New(), WithCropSize(0))

	_, ok := p.ExtractEmbedding(context.Background(), frame())
	require.True(t, ok)
	require.Len(t, ext.crops, 1)
	assert.Equal(t, image.Rect(0, 0, 40, 40), ext.crops[0])
}

func TestExtractEmbedding_ScalesToCropSize(t *testing.T) {
	ext := &fakeExtractor{vec: embedding.Vector{1, 0}}
	det := &fakeDetector{regions: []Region{face(10, 10, 90, 130)}}
	p := New(det, ext, registry.New())

	_, ok := p.ExtractEmbedding(context.Background(), frame())
	require.True(t, ok)
	require.Len(t, ext.crops, 1)
	assert.Equal(t, image.Rect(0, 0, DefaultCropSize, DefaultCropSize), ext.crops[0])
}

func TestExtractEmbedding_FaceOutsideFrame(t *testing.T) {
	ext := &fakeExtractor{vec: embedding.Vector{1, 0}}
	det := &fakeDetector{regions: []Region{face(1000, 1000, 1100, 1100)}}
	p := New(det, ext, registry.New())

	_, ok := p.ExtractEmbedding(context.Background(), frame())
	assert.False(t, ok)
	assert.Zero(t, ext.callCount())
}

func TestExtractEmbedding_CollaboratorFailures(t *testing.T) {
	tests := []struct {
		name        string
		det         *fakeDetector
		ext         *fakeExtractor
		failedStage string
	}{
		{
			name:        "detector error",
			det:         &fakeDetector{err: errors.New("model crashed")},
			ext:         &fakeExtractor{vec: embedding.Vector{1}},
			failedStage: "detect",
		},
		{
			name:        "extractor error",
			det:         &fakeDetector{regions: []Region{face(0, 0, 50, 50)}},
			ext:         &fakeExtractor{err: errors.New("bad tensor")},
			failedStage: "embed",
		},
		{
			name:        "extractor finds nothing usable",
			det:         &fakeDetector{regions: []Region{face(0, 0, 50, 50)}},
			ext:         &fakeExtractor{err: ErrNoUsableFace},
			failedStage: "",
		},
		{
			name:        "extractor returns empty embedding",
			det:         &fakeDetector{regions: []Region{face(0, 0, 50, 50)}},
			ext:         &fakeExtractor{vec: embedding.Vector{}},
			failedStage: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := metrics.New(prometheus.NewRegistry())
			p := New(tt.det, tt.ext, registry.New(), WithMetrics(mt))

			_, ok := p.ExtractEmbedding(context.Background(), frame())
			assert.False(t, ok)

			failures := testutil.ToFloat64(mt.StageFailures.WithLabelValues("detect")) +
				testutil.ToFloat64(mt.StageFailures.WithLabelValues("embed"))
			if tt.failedStage == "" {
				assert.Zero(t, failures)
				return
			}
			assert.InDelta(t, 1, testutil.ToFloat64(mt.StageFailures.WithLabelValues(tt.failedStage)), 0)
		})
	}
}

func TestExtractEmbedding_TimeoutIsNoFace(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	mt := metrics.New(prometheus.NewRegistry())
	ext := &fakeExtractor{vec: embedding.Vector{1}}
	det := &fakeDetector{regions: []Region{face(0, 0, 50, 50)}, block: release}
	p := New(det, ext, registry.New(), WithTimeout(20*time.Millisecond), WithMetrics(mt))

	start := time.Now()
	_, ok := p.ExtractEmbedding(context.Background(), frame())

	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, ext.callCount())
	assert.InDelta(t, 1, testutil.ToFloat64(mt.StageFailures.WithLabelValues("detect")), 0)
}

func TestRegister(t *testing.T) {
	reg := registry.New()
	mt := metrics.New(prometheus.NewRegistry())
	det := &fakeDetector{regions: []Region{face(0, 0, 80, 80)}}
	ext := &fakeExtractor{vec: embedding.Vector{0.6, 0.8}}
	p := New(det, ext, reg, WithMetrics(mt))

	require.True(t, p.Register(context.Background(), "alice", frame()))

	got, ok := reg.Get("alice")
	require.True(t, ok)
	assert.Equal(t, embedding.Vector{0.6, 0.8}, got)
	assert.InDelta(t, 1, testutil.ToFloat64(mt.RegistrySize), 0)
}

func TestRegister_FailureLeavesRegistryUntouched(t *testing.T) {
	reg := registry.New()
	reg.Enroll("alice", embedding.Vector{1, 0})

	p := New(&fakeDetector{}, &fakeExtractor{vec: embedding.Vector{0, 1}}, reg)

	assert.False(t, p.Register(context.Background(), "alice", frame()))
	assert.False(t, p.Register(context.Background(), "bob", frame()))

	got, ok := reg.Get("alice")
	require.True(t, ok)
	assert.Equal(t, embedding.Vector{1, 0}, got)
	assert.Equal(t, 1, reg.Len())
}

func TestRecognize(t *testing.T) {
	reg := registry.New()
	reg.Enroll("alice", embedding.Vector{1, 0})
	reg.Enroll("bob", embedding.Vector{0, 1})

	withFace := &fakeDetector{regions: []Region{face(0, 0, 80, 80)}}

	tests := []struct {
		name       string
		det        *fakeDetector
		vec        embedding.Vector
		wantStatus Status
		wantLabel  string
	}{
		{name: "no face", det: &fakeDetector{}, vec: embedding.Vector{1, 0}, wantStatus: StatusNoFace},
		{name: "matched", det: withFace, vec: embedding.Vector{0.95, 0.05}, wantStatus: StatusMatched, wantLabel: "alice"},
		{name: "unmatched", det: withFace, vec: embedding.Vector{1, 1}, wantStatus: StatusUnmatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := metrics.New(prometheus.NewRegistry())
			p := New(tt.det, &fakeExtractor{vec: tt.vec}, reg, WithMetrics(mt))

			out := p.Recognize(context.Background(), frame(), 0.9)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantLabel, out.Label)
			assert.Equal(t, tt.wantStatus == StatusMatched, out.Matched)
			assert.InDelta(t, 1, testutil.ToFloat64(mt.FrameOutcome.WithLabelValues(tt.wantStatus.String())), 0)
		})
	}
}

func TestRecognize_EmptyRegistryIsUnmatched(t *testing.T) {
	det := &fakeDetector{regions: []Region{face(0, 0, 80, 80)}}
	p := New(det, &fakeExtractor{vec: embedding.Vector{1, 0}}, registry.New())

	out := p.Recognize(context.Background(), frame(), 0.7)
	assert.Equal(t, StatusUnmatched, out.Status)
	assert.False(t, out.Matched)
	assert.Zero(t, out.Score)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "no_face", StatusNoFace.String())
	assert.Equal(t, "unmatched", StatusUnmatched.String())
	assert.Equal(t, "matched", StatusMatched.String())
	assert.Equal(t, "unknown", Status(42).String())
}
