package elasticqueue

import (
	"fmt"
	"sync/atomic"
)

const (
	// MemoryBuffer is the number of events held in memory before spilling
	// to disk.
	MemoryBuffer = 10

	// MaxEvents bounds the sequence number space per (id, version)
	// namespace; seq must stay below this for lexicographic key order to
	// equal FIFO order.
	MaxEvents = 100_000_000

	// seqWidth is the zero-fill width for sequence numbers: the number of
	// digits in MaxEvents.
	seqWidth = 9
)

// globalVersion is the process-wide monotonically increasing version
// counter. Every queue construction and every reset draws a fresh value
// from it, so two coexisting instances of the same id never collide on
// disk keys even if cleanup of the prior generation is still pending.
var globalVersion atomic.Uint64

func nextVersion() uint64 {
	return globalVersion.Add(1)
}

// diskKey formats the "{id}/{version}/{seq}" disk key. seq is
// zero-padded to seqWidth so lexicographic order equals FIFO order
// within one (id, version) namespace.
func diskKey(id string, version uint64, seq uint64) string {
	return fmt.Sprintf("%s/%d/%0*d", id, version, seqWidth, seq)
}

// generationPrefix formats the "{id}/{version}/" prefix used to reclaim
// one abandoned generation on Close, as opposed to "{id}/", which
// reclaims every generation an id ever produced on Destroy. The trailing
// slash keeps version 1 from also matching versions 10, 11, ...
func generationPrefix(id string, version uint64) string {
	return fmt.Sprintf("%s/%d/", id, version)
}
