// Package elasticqueue implements the per-route elastic event queue: a
// FIFO that holds its head in memory up to MemoryBuffer events and,
// once that fills, spills new writes to the shared disk-backed store so a
// slow or stopped reader never forces the writer to block or drop
// events. It is modeled on a two-tier small-queue/main-queue cache
// split — two tiers, promotion/eviction between them driven by size —
// generalized from "cache eviction" to "spill to disk once the
// in-memory tier is full."
package elasticqueue

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"elasticqueue/internal/cleaner"
	"elasticqueue/internal/kvstore"
	"elasticqueue/internal/logger"
	"elasticqueue/internal/metrics"
)

// Queue is a single-producer/single-consumer FIFO for one route. All
// exported methods are safe to call from the one writer goroutine and
// the one reader goroutine concurrently; Close/Destroy may be called
// from either.
type Queue struct {
	mu sync.Mutex

	id      string
	store   *kvstore.Store
	cleaner *cleaner.Cleaner
	log     *logger.Logger
	metrics *metrics.Metrics // nil = no metrics

	maxConsecutiveReadMisses int

	head    *list.List // in-memory head, holds up to MemoryBuffer events
	w       uint64     // next write sequence number
	r       uint64     // next read sequence number
	version uint64     // current generation, namespaces disk keys

	peekSet bool
	peekVal []byte

	everSpilled bool // true once any write for this generation went to disk

	consecutiveMisses int
	lastReadErr       error
}

// New constructs a queue for id, backed by store for overflow and
// cleaner for generation reclamation. maxConsecutiveReadMisses is the
// number of consecutive disk read misses after which LastReadError
// reports the miss and each further miss is logged as a warning; Read
// keeps retrying the same offset regardless. Zero or negative means 5.
// m may be nil, in which case counters are simply not recorded.
func New(id string, store *kvstore.Store, cln *cleaner.Cleaner, log *logger.Logger, maxConsecutiveReadMisses int, m *metrics.Metrics) *Queue {
	if maxConsecutiveReadMisses <= 0 {
		maxConsecutiveReadMisses = 5
	}
	return &Queue{
		id:                       id,
		store:                    store,
		cleaner:                  cln,
		log:                      log,
		metrics:                  m,
		maxConsecutiveReadMisses: maxConsecutiveReadMisses,
		head:                     list.New(),
		version:                  nextVersion(),
	}
}

// ID returns the queue's sanitized identifier.
func (q *Queue) ID() string {
	return q.id
}

// Write appends event to the tail of the queue. If the in-memory head
// has room and no write of the current generation has spilled yet, the
// event is held there; otherwise it spills to the shared disk store
// under the current generation's key namespace.
func (q *Queue) Write(event []byte) error {
	start := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.recordWriteLatency(start)

	cp := append([]byte(nil), event...)

	if !q.everSpilled && uint64(q.head.Len()) < MemoryBuffer {
		q.head.PushBack(cp)
		q.w++
		q.recordWritten()
		return nil
	}

	q.everSpilled = true
	key := diskKey(q.id, q.version, q.w)
	if err := q.store.Put([]byte(key), cp); err != nil {
		return fmt.Errorf("elasticqueue: write %s: %w", key, err)
	}
	q.w++
	q.recordWritten()
	if q.metrics != nil {
		q.metrics.EventsSpilled.Add(1)
	}
	return nil
}

func (q *Queue) recordWritten() {
	if q.metrics != nil {
		q.metrics.EventsWritten.Add(1)
	}
}

func (q *Queue) recordWriteLatency(start time.Time) {
	if q.metrics != nil {
		q.metrics.RecordWriteLatency(time.Since(start))
	}
}

func (q *Queue) recordReadLatency(start time.Time) {
	if q.metrics != nil {
		q.metrics.RecordReadLatency(time.Since(start))
	}
}

// Peek returns the next event without consuming it. Calling Peek
// repeatedly without an intervening Read returns the same event
// (idempotent).
func (q *Queue) Peek() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.peekSet {
		return q.peekVal, true
	}
	val, ok := q.fetchNextLocked()
	if !ok {
		return nil, false
	}
	q.peekSet = true
	q.peekVal = val
	return val, true
}

// Read returns and consumes the next event. If a prior Peek is pending,
// Read consumes that value; otherwise Read fetches and consumes in one
// step.
func (q *Queue) Read() ([]byte, bool) {
	start := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.recordReadLatency(start)

	if q.peekSet {
		val := q.peekVal
		q.peekSet = false
		q.peekVal = nil
		q.advanceLocked()
		return val, true
	}

	val, ok := q.fetchNextLocked()
	if !ok {
		return nil, false
	}
	q.advanceLocked()
	return val, true
}

// fetchNextLocked returns the next event (in-memory or disk) without
// consuming it. Caller holds q.mu.
func (q *Queue) fetchNextLocked() ([]byte, bool) {
	if q.r >= q.w {
		return nil, false
	}
	if front := q.head.Front(); front != nil {
		return front.Value.([]byte), true
	}

	// Head is empty but r < w: the next event is on disk. Scan from its
	// exact key and require the found key to match exactly — a cursor
	// seek rather than a direct Get, so the match is an explicit runtime
	// check instead of an assumption about bbolt's Get semantics.
	want := diskKey(q.id, q.version, q.r)
	var found []byte
	err := q.store.ScanFrom([]byte(want), func(key, value []byte) (bool, error) {
		if string(key) == want {
			found = append([]byte(nil), value...)
		}
		return false, nil
	})
	if err != nil {
		q.lastReadErr = fmt.Errorf("elasticqueue: scan %s: %w", want, err)
		q.consecutiveMisses++
		q.warnIfMissesExceeded()
		return nil, false
	}
	if found == nil {
		q.lastReadErr = fmt.Errorf("elasticqueue: key %s not found on disk: %w", want, kvstore.ErrKeyNotFound)
		q.consecutiveMisses++
		q.warnIfMissesExceeded()
		return nil, false
	}
	q.consecutiveMisses = 0
	q.lastReadErr = nil
	return found, true
}

func (q *Queue) warnIfMissesExceeded() {
	if q.metrics != nil {
		q.metrics.ConsecutiveMisses.Add(1)
	}
	if q.consecutiveMisses >= q.maxConsecutiveReadMisses {
		q.log.Warnf("read", "queue %s: %d consecutive read misses, last error: %v", q.id, q.consecutiveMisses, q.lastReadErr)
	}
}

// advanceLocked consumes the event fetchNextLocked just returned: pops
// the in-memory head, or deletes the disk key and advances r. Caller
// holds q.mu.
func (q *Queue) advanceLocked() {
	defer func() {
		if q.metrics != nil {
			q.metrics.EventsRead.Add(1)
		}
	}()

	if front := q.head.Front(); front != nil {
		q.head.Remove(front)
		q.r++
		return
	}

	key := diskKey(q.id, q.version, q.r)
	if err := q.store.Delete([]byte(key)); err != nil {
		q.log.Warnf("advance", "queue %s: delete %s failed: %v", q.id, key, err)
	}
	q.r++
}

// LastReadError returns the error from the most recent failed disk read
// once at least maxConsecutiveReadMisses disk reads in a row have missed,
// and nil otherwise (including after any successful read).
func (q *Queue) LastReadError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consecutiveMisses < q.maxConsecutiveReadMisses {
		return nil
	}
	return q.lastReadErr
}

// IsClosed reports whether the queue is at rest: nothing has ever been
// written to the current generation (w == 0).
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.w == 0
}

// Close marks the end of the current generation. If nothing was ever
// written, Close is a no-op. Otherwise it schedules reclamation of
// whatever is left on disk for this generation — a prefix delete if
// there are still undrained disk keys, or a bare compact if the
// generation fully drained before Close was called — then resets the
// queue's counters and draws a fresh generation so the id can be reused
// immediately without colliding with the retiring generation's keys.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

func (q *Queue) closeLocked() {
	if q.w == 0 {
		return
	}

	if q.everSpilled {
		if q.r < q.w {
			// Disk still holds undrained keys for this generation:
			// delete them by prefix (compact follows automatically
			// once something was actually deleted).
			q.cleaner.Schedule(generationPrefix(q.id, q.version))
		} else {
			// Generation spilled and then fully drained before Close:
			// nothing to delete, just reclaim the space it used.
			q.cleaner.ScheduleCompact()
			if q.metrics != nil {
				q.metrics.CompactionsRun.Add(1)
			}
		}
	}

	if q.metrics != nil {
		q.metrics.GenerationsClosed.Add(1)
	}
	q.resetLocked()
}

func (q *Queue) resetLocked() {
	q.head.Init()
	q.w = 0
	q.r = 0
	q.peekSet = false
	q.peekVal = nil
	q.everSpilled = false
	q.consecutiveMisses = 0
	q.lastReadErr = nil
	q.version = nextVersion()
}

// Destroy permanently retires the queue's id: every generation it ever
// produced is reclaimed from disk, not just the current one. Use
// Destroy when the route itself is being removed; use Close when the
// route continues but its current backlog should be cleared.
func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleaner.Schedule(q.id + "/")
	if q.metrics != nil {
		q.metrics.GenerationsDestroyed.Add(1)
	}
	q.resetLocked()
}
