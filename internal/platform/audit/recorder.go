package audit

import (
	"context"
	"sync"
)

// Recorder keeps entries in memory. Tests across packages use it to assert
// what was audited.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) LogDataAccess(ctx context.Context, entry Entry) {
	entry = enrich(ctx, entry)
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Find returns entries matching resource and action.
func (r *Recorder) Find(resource, action string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Resource == resource && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
