package supervisor

import (
	"sort"
	"time"

	"hotpool/internal/pool"
	"hotpool/internal/task"
	"hotpool/internal/worker"
)

// Record is the registry entry for one running task generation.
type Record struct {
	ID       string
	Digest   pool.Digest
	Handle   *task.Handle
	Worker   *worker.Worker
	LoadedAt time.Time
}

// RecordView is a read-only copy of a record, safe to hand to other goroutines.
type RecordView struct {
	ID         string
	Metadata   task.Metadata
	Digest     string
	Generation string
	StartedAt  time.Time
	Iterations int64
}

// Registry maps identifiers to records. It has no lock: only the supervisor
// goroutine touches it.
type Registry struct {
	records map[string]*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Get returns the record for id.
func (r *Registry) Get(id string) (*Record, bool) {
	rec, ok := r.records[id]
	return rec, ok
}

// Put inserts or replaces the record for rec.ID.
func (r *Registry) Put(rec *Record) {
	r.records[rec.ID] = rec
}

// Delete removes the record for id.
func (r *Registry) Delete(id string) {
	delete(r.records, id)
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.records[id]
	return ok
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.records)
}

// IDs returns registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies every record into a view, sorted by identifier.
func (r *Registry) Snapshot() []RecordView {
	views := make([]RecordView, 0, len(r.records))
	for _, id := range r.IDs() {
		rec := r.records[id]
		view := RecordView{
			ID:     rec.ID,
			Digest: rec.Digest.String(),
		}
		if rec.Handle != nil {
			view.Metadata = rec.Handle.Metadata()
		}
		if rec.Worker != nil {
			view.Generation = rec.Worker.Generation()
			view.StartedAt = rec.Worker.StartedAt()
			view.Iterations = rec.Worker.Iterations()
		}
		views = append(views, view)
	}
	return views
}
