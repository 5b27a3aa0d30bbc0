// Package pipeline turns video frames into identity decisions. It is the only
// part of facegate that talks to the face detector and embedding extractor.
package pipeline

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/andresmejia3/facegate/internal/embedding"
	"github.com/andresmejia3/facegate/internal/matcher"
	"github.com/andresmejia3/facegate/internal/metrics"
	"github.com/andresmejia3/facegate/internal/registry"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds each detector and extractor call.
	DefaultTimeout = 5 * time.Second
	// DefaultCropSize is the square input size of FaceNet-style extractors.
	DefaultCropSize = 160
)

// ErrNoUsableFace is returned by an Extractor that cannot embed the crop it was given.
var ErrNoUsableFace = errors.New("no usable face in crop")

// Region is one face found by a Detector, in frame pixel coordinates.
type Region struct {
	Box        image.Rectangle
	Confidence float64
}

// Detector finds faces in a frame. An empty result is not an error.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Region, error)
}

// Extractor turns a face crop into an embedding.
type Extractor interface {
	Embed(ctx context.Context, crop image.Image) (embedding.Vector, error)
}

// Status tells the three per-frame outcomes apart.
type Status int

const (
	StatusNoFace Status = iota
	StatusUnmatched
	StatusMatched
)

func (s Status) String() string {
	switch s {
	case StatusNoFace:
		return "no_face"
	case StatusUnmatched:
		return "unmatched"
	case StatusMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// Outcome is the result of recognizing one frame.
type Outcome struct {
	Status Status
	matcher.Result
}

// Pipeline owns the registry, the model collaborators and the matcher for
// one or more streams. Frames are processed synchronously by the caller.
type Pipeline struct {
	detector  Detector
	extractor Extractor
	registry  *registry.Registry
	matcher   *matcher.Matcher
	metrics   *metrics.Metrics
	timeout   time.Duration
	cropSize  int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout bounds every detector and extractor call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithCropSize sets the side of the square crop handed to the extractor.
// Zero passes the clipped face region at its native size.
func WithCropSize(px int) Option {
	return func(p *Pipeline) { p.cropSize = px }
}

// WithMatcher replaces the default cosine matcher.
func WithMatcher(m *matcher.Matcher) Option {
	return func(p *Pipeline) { p.matcher = m }
}

// WithMetrics records frame outcomes and collaborator latencies on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a pipeline around the given collaborators and registry.
func New(det Detector, ext Extractor, reg *registry.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector:  det,
		extractor: ext,
		registry:  reg,
		timeout:   DefaultTimeout,
		cropSize:  DefaultCropSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.matcher == nil {
		p.matcher = matcher.New(matcher.WithMetrics(p.metrics))
	}
	p.metrics.SetRegistrySize(reg.Len())
	return p
}

// Registry returns the registry the pipeline enrolls into and matches against.
func (p *Pipeline) Registry() *registry.Registry { return p.registry }

// ExtractEmbedding detects the largest face in frame and embeds it.
// It reports false when no face is found, when the crop is empty, or when
// a collaborator fails or times out.
func (p *Pipeline) ExtractEmbedding(ctx context.Context, frame image.Image) (embedding.Vector, bool) {
	regions, err := call(ctx, p, "detect", func(ctx context.Context) ([]Region, error) {
		return p.detector.Detect(ctx, frame)
	})
	if err != nil || len(regions) == 0 {
		return nil, false
	}

	crop := cropFace(frame, largest(frame.Bounds(), regions), p.cropSize)
	if crop == nil {
		log.Debug("face region lies outside the frame, nothing to embed")
		return nil, false
	}

	vec, err := call(ctx, p, "embed", func(ctx context.Context) (embedding.Vector, error) {
		return p.extractor.Embed(ctx, crop)
	})
	if err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

// Register enrolls the face in frame under label. It reports false, leaving
// the registry untouched, when no embedding could be extracted.
func (p *Pipeline) Register(ctx context.Context, label string, frame image.Image) bool {
	vec, ok := p.ExtractEmbedding(ctx, frame)
	if !ok {
		return false
	}
	p.registry.Enroll(label, vec)
	p.metrics.SetRegistrySize(p.registry.Len())

	log.WithFields(log.Fields{"label": label, "dim": vec.Dim()}).Info("identity enrolled")
	return true
}

// Recognize matches the face in frame against the registry.
func (p *Pipeline) Recognize(ctx context.Context, frame image.Image, threshold float64) Outcome {
	vec, ok := p.ExtractEmbedding(ctx, frame)
	if !ok {
		p.metrics.IncrementOutcome(StatusNoFace.String())
		return Outcome{Status: StatusNoFace}
	}

	out := Outcome{Status: StatusUnmatched, Result: p.matcher.Match(vec, p.registry, threshold)}
	if out.Matched {
		out.Status = StatusMatched
	}
	p.metrics.IncrementOutcome(out.Status.String())
	return out
}

type result[T any] struct {
	val T
	err error
}

// call runs fn under the pipeline timeout. A collaborator that ignores its
// context is abandoned once the deadline passes; its result is discarded.
func call[T any](ctx context.Context, p *Pipeline, stage string, fn func(context.Context) (T, error)) (T, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	var r result[T]
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	p.metrics.ObserveStage(stage, time.Since(start))

	if r.err != nil {
		if !errors.Is(r.err, ErrNoUsableFace) {
			p.metrics.IncrementStageFailure(stage)
		}
		log.WithFields(log.Fields{
			"stage": stage,
			"error": r.err,
		}).Warn("face model call failed, treating frame as faceless")
		var zero T
		return zero, r.err
	}
	return r.val, nil
}
