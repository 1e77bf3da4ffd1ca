// Package registry aggregates partial observations into canonical device
// records. The registry is owned by exactly one scan session; it holds no
// state across sessions.
package registry

import (
	"sync"
	"time"

	"bluescan/internal/observation"
)

// Registry deduplicates observations by identity and enriches records
// without ever regressing a known field. Merges are serialized by a mutex
// so fan-in from a secondary stream cannot leave a record half-merged.
type Registry struct {
	mu      sync.Mutex
	records map[string]*observation.Record
	order   []string

	now func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*observation.Record),
		now:     time.Now,
	}
}

// SetClock overrides the registry's clock. Tests use this to get
// deterministic timestamps.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Merge folds one partial observation into the registry and returns the
// updated record plus whether this identity was seen for the first time.
//
// Field rule: a non-empty value overwrites, an absent/empty value never
// does. An unreadable vendor entry never replaces a previously decoded one.
func (r *Registry) Merge(p observation.Partial) (*observation.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	rec, ok := r.records[p.Identity]
	if !ok {
		rec = observation.NewRecord(p.Identity, now)
		r.records[p.Identity] = rec
		r.order = append(r.order, p.Identity)
	}

	if p.Address != "" {
		rec.Address = p.Address
	}
	if p.Name != "" {
		rec.Name = p.Name
	}
	if p.RSSI != nil {
		rssi := *p.RSSI
		rec.RSSI = &rssi
	}
	for code, payload := range p.Vendor {
		if payload.Unreadable {
			if prev, seen := rec.Vendor[code]; seen && !prev.Unreadable {
				continue
			}
		}
		rec.Vendor[code] = payload
	}

	rec.LastUpdatedAt = now
	return rec, !ok
}

// Records returns all records in first-seen order.
func (r *Registry) Records() []*observation.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*observation.Record, 0, len(r.order))
	for _, identity := range r.order {
		out = append(out, r.records[identity])
	}
	return out
}

// Len returns the number of unique devices seen so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
