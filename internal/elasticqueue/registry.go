package elasticqueue

import (
	"sync"

	"elasticqueue/internal/cleaner"
	"elasticqueue/internal/kvstore"
	"elasticqueue/internal/logger"
	"elasticqueue/internal/metrics"
)

// Registry is the process-wide lookup of queues by route, shared across
// every caller that needs "the queue for this route" without knowing
// whether it already exists. Modeled on the mutex-guarded-map-plus-
// snapshot-accessor shape used elsewhere in this codebase for domain
// registration, generalized from "known upstream domains" to "known
// per-route queues."
type Registry struct {
	mu      sync.Mutex
	queues  map[string]*Queue
	store   *kvstore.Store
	cleaner *cleaner.Cleaner
	log     *logger.Logger
	metrics *metrics.Metrics

	maxConsecutiveReadMisses int
}

// NewRegistry constructs a registry backed by the given shared store and
// cleaner, both opened once per process by internal/lifecycle. m may be
// nil, in which case queues simply skip recording counters.
func NewRegistry(store *kvstore.Store, cln *cleaner.Cleaner, log *logger.Logger, maxConsecutiveReadMisses int, m *metrics.Metrics) *Registry {
	return &Registry{
		queues:                   make(map[string]*Queue),
		store:                    store,
		cleaner:                  cln,
		log:                      log,
		metrics:                  m,
		maxConsecutiveReadMisses: maxConsecutiveReadMisses,
	}
}

// GetOrCreate returns the queue for route, sanitizing route into a
// queue id and creating a new queue on first use.
func (reg *Registry) GetOrCreate(route string) *Queue {
	id := sanitizeID(route)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if q, ok := reg.queues[id]; ok {
		return q
	}
	q := New(id, reg.store, reg.cleaner, reg.log, reg.maxConsecutiveReadMisses, reg.metrics)
	reg.queues[id] = q
	return q
}

// Remove destroys and forgets the queue for route, if one exists. Use
// when a route is permanently retired; a subsequent GetOrCreate for the
// same route starts a fresh queue under a new generation.
func (reg *Registry) Remove(route string) {
	id := sanitizeID(route)

	reg.mu.Lock()
	q, ok := reg.queues[id]
	if ok {
		delete(reg.queues, id)
	}
	reg.mu.Unlock()

	if ok {
		q.Destroy()
	}
}

// Status summarizes one queue for introspection (internal/statusapi).
type Status struct {
	ID      string `json:"id"`
	Pending uint64 `json:"pending"`
	Spilled bool   `json:"spilled"`
}

// Snapshot returns a status summary of every known queue. Order is not
// guaranteed — callers that need stable order should sort by ID.
func (reg *Registry) Snapshot() []Status {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]Status, 0, len(reg.queues))
	for _, q := range reg.queues {
		q.mu.Lock()
		out = append(out, Status{
			ID:      q.id,
			Pending: q.w - q.r,
			Spilled: q.everSpilled,
		})
		q.mu.Unlock()
	}
	return out
}

// CloseAll closes every known queue, scheduling reclamation of any
// undrained disk backlog. Used during process shutdown.
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, q := range reg.queues {
		q.Close()
	}
}
