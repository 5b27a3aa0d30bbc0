// Package matcher scores a probe embedding against every enrolled identity
// and applies the acceptance threshold.
package matcher

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/facegate/internal/embedding"
	"github.com/andresmejia3/facegate/internal/metrics"
	"github.com/andresmejia3/facegate/internal/registry"

	log "github.com/sirupsen/logrus"
)

// Gallery is the read side of the identity registry.
type Gallery interface {
	All() []registry.Record
}

// Skip records a registry entry that could not be scored.
type Skip struct {
	Label string
	Err   error
}

// Result is the outcome of one match.
type Result struct {
	// Label of the best scoring identity; empty unless Matched.
	Label   string
	Matched bool
	// Best score observed, or 0 when nothing could be scored.
	Score   float64
	Skipped []Skip
}

// Matcher compares probes against a Gallery. The zero value is not usable;
// construct it with New.
type Matcher struct {
	score   embedding.Scorer
	onSkip  func(Skip)
	metrics *metrics.Metrics
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithScorer replaces the cosine scorer.
func WithScorer(s embedding.Scorer) Option {
	return func(m *Matcher) { m.score = s }
}

// WithSkipHook registers a callback invoked for every skipped entry.
func WithSkipHook(fn func(Skip)) Option {
	return func(m *Matcher) { m.onSkip = fn }
}

// WithMetrics records skipped entries on m.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

// New returns a Matcher using cosine similarity unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{score: embedding.Cosine}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match scans the gallery linearly and returns the best scoring identity.
// Ties keep the entry seen first. An entry the scorer rejects is recorded in
// Result.Skipped and the scan goes on with the rest.
func (m *Matcher) Match(probe embedding.Vector, gallery Gallery, threshold float64) Result {
	records := gallery.All()
	if len(records) == 0 {
		return Result{}
	}

	var (
		res    Result
		best   string
		scored bool
	)
	for _, rec := range records {
		s, err := m.score(probe, rec.Embedding)
		if err == nil && (math.IsNaN(s) || math.IsInf(s, 0)) {
			err = fmt.Errorf("%w: score %v", embedding.ErrNonFinite, s)
		}
		if err != nil {
			res.Skipped = append(res.Skipped, m.skip(rec.Label, err))
			continue
		}
		if !scored || s > res.Score {
			res.Score = s
			best = rec.Label
			scored = true
		}
	}

	if scored && res.Score >= threshold {
		res.Label = best
		res.Matched = true
	}

	log.WithFields(log.Fields{
		"candidates": len(records),
		"skipped":    len(res.Skipped),
		"best":       best,
		"score":      res.Score,
		"matched":    res.Matched,
	}).Debug("match completed")

	return res
}

func (m *Matcher) skip(label string, err error) Skip {
	s := Skip{Label: label, Err: err}

	log.WithFields(log.Fields{
		"label": label,
		"error": err,
	}).Warn("skipping registry entry that cannot be scored")

	m.metrics.IncrementSkipped(skipReason(err))
	if m.onSkip != nil {
		m.onSkip(s)
	}
	return s
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, embedding.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, embedding.ErrDegenerateEmbedding):
		return "degenerate"
	case errors.Is(err, embedding.ErrNonFinite):
		return "non_finite"
	default:
		return "other"
	}
}
