// Package registry keeps the enrolled identities: one embedding per label.
package registry

import (
	"sort"
	"sync"

	"github.com/andresmejia3/facegate/internal/embedding"
)

// Record is one enrolled identity.
type Record struct {
	Label     string
	Embedding embedding.Vector
}

// Registry maps identity labels to embeddings. It is safe for concurrent use:
// lookups share a read lock, enrollment and removal take the write lock.
type Registry struct {
	mu      sync.RWMutex
	records map[string]embedding.Vector
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]embedding.Vector)}
}

// Enroll stores vec under label, replacing any embedding already held for it.
// Dimensions are not validated here; the matcher rejects mismatches.
func (r *Registry) Enroll(label string, vec embedding.Vector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[label] = vec.Clone()
}

// Remove deletes label and reports whether it was present.
func (r *Registry) Remove(label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[label]; !ok {
		return false
	}
	delete(r.records, label)
	return true
}

// Get returns a copy of the embedding enrolled under label.
func (r *Registry) Get(label string) (embedding.Vector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vec, ok := r.records[label]
	if !ok {
		return nil, false
	}
	return vec.Clone(), true
}

// All returns a snapshot of every record, sorted by label.
// Embeddings in the snapshot are shared with the registry and must not be modified.
func (r *Registry) All() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for label, vec := range r.records {
		out = append(out, Record{Label: label, Embedding: vec})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Len returns the number of enrolled identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Replace swaps the whole content of the registry for records in one write.
// Later duplicates of a label win, as with repeated Enroll calls.
func (r *Registry) Replace(records []Record) {
	next := make(map[string]embedding.Vector, len(records))
	for _, rec := range records {
		next[rec.Label] = rec.Embedding.Clone()
	}

	r.mu.Lock()
	r.records = next
	r.mu.Unlock()
}
