package elasticqueue

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"elasticqueue/internal/cleaner"
	"elasticqueue/internal/kvstore"
	"elasticqueue/internal/logger"
	"elasticqueue/internal/metrics"
)

func newTestQueue(t *testing.T, id string) (*Queue, *kvstore.Store, *cleaner.Cleaner) {
	t.Helper()
	dir := t.TempDir()
	store, err := kvstore.Open(filepath.Join(dir, "test.db"), 0)
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := logger.New("QUEUE", "error")
	cln := cleaner.New(store, dir, log)
	t.Cleanup(cln.Stop)

	q := New(id, store, cln, log, 0, nil)
	return q, store, cln
}

func TestWriteReadFIFOOrder_InMemoryOnly(t *testing.T) {
	q, _, _ := newTestQueue(t, "route-a")

	for i := 0; i < 5; i++ {
		if err := q.Write([]byte(fmt.Sprintf("event-%d", i))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		val, ok := q.Read()
		if !ok {
			t.Fatalf("Read %d: expected an event", i)
		}
		want := fmt.Sprintf("event-%d", i)
		if string(val) != want {
			t.Errorf("Read %d: got %q, want %q", i, val, want)
		}
	}
	if _, ok := q.Read(); ok {
		t.Error("expected Read on empty queue to return false")
	}
}

func TestWriteReadFIFOOrder_SpillsToDisk(t *testing.T) {
	q, _, _ := newTestQueue(t, "route-b")

	total := MemoryBuffer + 7
	for i := 0; i < total; i++ {
		if err := q.Write([]byte(fmt.Sprintf("event-%d", i))); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if !q.everSpilled {
		t.Fatal("expected queue to have spilled to disk")
	}
	for i := 0; i < total; i++ {
		val, ok := q.Read()
		if !ok {
			t.Fatalf("Read %d: expected an event", i)
		}
		want := fmt.Sprintf("event-%d", i)
		if string(val) != want {
			t.Errorf("Read %d: got %q, want %q", i, val, want)
		}
	}
	if _, ok := q.Read(); ok {
		t.Error("expected Read on drained queue to return false")
	}
}

func TestPeek_Idempotent(t *testing.T) {
	q, _, _ := newTestQueue(t, "route-c")
	q.Write([]byte("only")) //nolint:errcheck

	v1, ok := q.Peek()
	if !ok || string(v1) != "only" {
		t.Fatalf("first Peek: got (%q, %v)", v1, ok)
	}
	v2, ok := q.Peek()
	if !ok || string(v2) != "only" {
		t.Fatalf("second Peek: got (%q, %v)", v2, ok)
	}

	val, ok := q.Read()
	if !ok || string(val) != "only" {
		t.Fatalf("Read after Peek: got (%q, %v)", val, ok)
	}
	if _, ok := q.Read(); ok {
		t.Error("expected queue drained after consuming the peeked value")
	}
}

func TestPeek_ThenSpillCrossesTiersConsistently(t *testing.T) {
	q, _, _ := newTestQueue(t, "route-peek-spill")

	for i := 0; i < MemoryBuffer+3; i++ {
		q.Write([]byte(fmt.Sprintf("e%d", i))) //nolint:errcheck
	}
	v, ok := q.Peek()
	if !ok || string(v) != "e0" {
		t.Fatalf("Peek: got (%q, %v), want e0", v, ok)
	}
	val, ok := q.Read()
	if !ok || string(val) != "e0" {
		t.Fatalf("Read: got (%q, %v), want e0", val, ok)
	}
}

func TestEmptyQueueCatchesUp_ResetsToMemoryTier(t *testing.T) {
	q, _, _ := newTestQueue(t, "route-d")

	for i := 0; i < MemoryBuffer+2; i++ {
		q.Write([]byte(fmt.Sprintf("e%d", i))) //nolint:errcheck
	}
	for i := 0; i < MemoryBuffer+2; i++ {
		if _, ok := q.Read(); !ok {
			t.Fatalf("Read %d: expected an event", i)
		}
	}

	q.Close()
	if !q.IsClosed() {
		t.Fatal("expected queue to be closed (w == 0) after full drain and Close")
	}

	q.Write([]byte("fresh")) //nolint:errcheck
	val, ok := q.Read()
	if !ok || string(val) != "fresh" {
		t.Fatalf("Read after reset: got (%q, %v)", val, ok)
	}
}

func TestClose_NoWrites_IsNoOp(t *testing.T) {
	q, _, _ := newTestQueue(t, "route-e")
	if !q.IsClosed() {
		t.Fatal("expected a fresh queue to report closed")
	}
	q.Close()
	if !q.IsClosed() {
		t.Fatal("expected Close on an untouched queue to remain a no-op")
	}
}

func TestClose_DrainsGenerationAndStartsFreshVersion(t *testing.T) {
	q, store, _ := newTestQueue(t, "route-f")
	firstVersion := q.version

	for i := 0; i < MemoryBuffer+4; i++ {
		q.Write([]byte(fmt.Sprintf("e%d", i))) //nolint:errcheck
	}
	q.Close()

	if q.version == firstVersion {
		t.Error("expected Close to advance to a new generation")
	}

	time.Sleep(20 * time.Millisecond) // let the cleaner drain its request
	remaining := 0
	store.ScanPrefix([]byte(generationPrefix("route-f", firstVersion)), func(k, v []byte) (bool, error) { //nolint:errcheck
		remaining++
		return true, nil
	})
	if remaining != 0 {
		t.Errorf("expected the retired generation's disk keys reclaimed, found %d", remaining)
	}
}

func TestDestroy_ReclaimsEveryGeneration(t *testing.T) {
	q, store, _ := newTestQueue(t, "route-g")

	for i := 0; i < MemoryBuffer+2; i++ {
		q.Write([]byte(fmt.Sprintf("e%d", i))) //nolint:errcheck
	}
	q.Close() // first generation spills and closes

	for i := 0; i < MemoryBuffer+2; i++ {
		q.Write([]byte(fmt.Sprintf("g2-e%d", i))) //nolint:errcheck
	}
	q.Destroy()

	time.Sleep(20 * time.Millisecond)
	remaining := 0
	store.ScanPrefix([]byte("route-g"), func(k, v []byte) (bool, error) { //nolint:errcheck
		remaining++
		return true, nil
	})
	if remaining != 0 {
		t.Errorf("expected Destroy to reclaim every generation, found %d leftover keys", remaining)
	}
}

func TestVersionIsolation_ConcurrentGenerationsDoNotCollide(t *testing.T) {
	q, _, _ := newTestQueue(t, "route-h")

	for i := 0; i < MemoryBuffer+1; i++ {
		q.Write([]byte(fmt.Sprintf("gen1-%d", i))) //nolint:errcheck
	}
	q.Close() // gen1 retired, cleaner may not have run yet

	for i := 0; i < MemoryBuffer+1; i++ {
		q.Write([]byte(fmt.Sprintf("gen2-%d", i))) //nolint:errcheck
	}
	for i := 0; i < MemoryBuffer+1; i++ {
		val, ok := q.Read()
		if !ok {
			t.Fatalf("Read %d: expected an event", i)
		}
		want := fmt.Sprintf("gen2-%d", i)
		if string(val) != want {
			t.Errorf("Read %d: got %q, want %q (generation 1 leaked into generation 2)", i, val, want)
		}
	}
}

func TestLastReadError_NilWhenHealthy(t *testing.T) {
	q, _, _ := newTestQueue(t, "route-i")
	q.Write([]byte("x")) //nolint:errcheck
	q.Read()              //nolint:errcheck
	if err := q.LastReadError(); err != nil {
		t.Errorf("expected nil LastReadError after a clean read, got %v", err)
	}
}

func TestMetrics_RecordsWritesReadsAndSpills(t *testing.T) {
	dir := t.TempDir()
	store, err := kvstore.Open(filepath.Join(dir, "test.db"), 0)
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	defer store.Close()

	log := logger.New("QUEUE", "error")
	cln := cleaner.New(store, dir, log)
	defer cln.Stop()

	m := metrics.New()
	q := New("route-metrics", store, cln, log, 0, m)

	for i := 0; i < MemoryBuffer+2; i++ {
		q.Write([]byte("x")) //nolint:errcheck
	}
	for i := 0; i < MemoryBuffer+2; i++ {
		q.Read()
	}
	q.Close()

	snap := m.Snapshot()
	if snap.Events.Written != int64(MemoryBuffer+2) {
		t.Errorf("Written: got %d, want %d", snap.Events.Written, MemoryBuffer+2)
	}
	if snap.Events.Read != int64(MemoryBuffer+2) {
		t.Errorf("Read: got %d, want %d", snap.Events.Read, MemoryBuffer+2)
	}
	if snap.Events.Spilled != 2 {
		t.Errorf("Spilled: got %d, want 2", snap.Events.Spilled)
	}
	if snap.Reclamation.GenerationsClosed != 1 {
		t.Errorf("GenerationsClosed: got %d, want 1", snap.Reclamation.GenerationsClosed)
	}
}

func TestSanitizeID_PassthroughAndFallback(t *testing.T) {
	if got := sanitizeID("orders.v2-api_1"); got != "orders.v2-api_1" {
		t.Errorf("expected valid id to pass through unchanged, got %q", got)
	}
	if got := sanitizeID("orders/v2 api"); got != "orders_v2_api" {
		t.Errorf("got %q, want orders_v2_api", got)
	}
	fallback := sanitizeID("!!!")
	if len(fallback) == 0 {
		t.Error("expected a non-empty surrogate id for an all-invalid route")
	}
	if sanitizeID("!!!") != fallback {
		t.Error("expected sanitizeID to be deterministic for the same input")
	}
}
