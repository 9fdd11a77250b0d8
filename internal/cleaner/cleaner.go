// Package cleaner implements the single-instance background worker that
// reclaims a queue generation's disk keys by prefix and compacts the
// shared KV store. It is modeled on the fire-and-forget background
// goroutine idiom used elsewhere in this codebase for Ollama lookups
// (a bounded, asynchronous dispatch that never blocks its caller),
// generalized from "one async call" to "drain a work queue on one
// goroutine."
package cleaner

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"elasticqueue/internal/kvstore"
	"elasticqueue/internal/logger"
)

// statFilePrefix and statFileSuffix bound the diagnostics files the
// cleaner also sweeps: "je.stat.*.csv", excluding the bare "je.stat.csv".
const (
	statFilePrefix = "je.stat."
	statFileSuffix = ".csv"
	statFileMaxAge = 24 * time.Hour
)

// request is one unit of cleaner work: either "delete everything under
// prefix, then compact if anything was deleted" or, when prefix is empty
// and compactOnly is set, a bare compact with no scan/delete — the path
// Close() takes when a generation drained fully on disk and there is
// nothing left to delete, only space to reclaim.
type request struct {
	prefix      string
	compactOnly bool
}

// Cleaner drains reclamation requests on a single goroutine so the
// producer/consumer paths (internal/elasticqueue) never block on cleanup
// work. Close/Destroy enqueue a request and return immediately.
type Cleaner struct {
	store   *kvstore.Store
	holding string // holding-area directory, for the stat-file sweep
	log     *logger.Logger

	requests chan request
	done     chan struct{}
}

// New starts the cleaner's worker goroutine. holdingDir is the active
// holding area, used only for the periodic stat-file sweep.
func New(store *kvstore.Store, holdingDir string, log *logger.Logger) *Cleaner {
	c := &Cleaner{
		store:    store,
		holding:  holdingDir,
		log:      log,
		requests: make(chan request, 256),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Schedule enqueues a prefix for reclamation. Never blocks the caller:
// the channel is generously buffered, and if it is full the request is
// dropped with a warning, leaving that prefix's keys on disk.
func (c *Cleaner) Schedule(prefix string) {
	c.enqueue(request{prefix: prefix})
}

// ScheduleCompact enqueues a bare compaction with no prefix deletion —
// used when a generation's disk keys have already all been read and
// deleted and only space reclamation remains.
func (c *Cleaner) ScheduleCompact() {
	c.enqueue(request{compactOnly: true})
}

func (c *Cleaner) enqueue(r request) {
	select {
	case c.requests <- r:
	default:
		c.log.Warnf("schedule", "request buffer full, dropping cleanup request %+v", r)
	}
}

// Stop closes the request channel and waits for the worker to drain and
// exit. Call once, after no more Schedule calls will be made.
func (c *Cleaner) Stop() {
	close(c.requests)
	<-c.done
}

func (c *Cleaner) run() {
	defer close(c.done)
	for r := range c.requests {
		if r.compactOnly {
			c.compactOnly()
			continue
		}
		c.process(r.prefix)
	}
}

func (c *Cleaner) compactOnly() {
	if err := c.store.Compact(); err != nil {
		c.log.Errorf("compact", "compact failed: %v", err)
	}
	c.sweepStatFiles()
}

// process deletes every key under prefix and compacts if anything was
// removed. A scan failure is logged and the call returns; a failed
// delete is logged and that key is skipped — leftover keys under a
// retired generation are inert.
func (c *Cleaner) process(prefix string) {
	var keys [][]byte
	err := c.store.ScanPrefix([]byte(prefix), func(key, value []byte) (bool, error) {
		keys = append(keys, append([]byte(nil), key...))
		return true, nil
	})
	if err != nil {
		c.log.Errorf("process", "scan prefix %q failed: %v", prefix, err)
		return
	}

	deleted := 0
	for _, k := range keys {
		if err := c.store.Delete(k); err != nil {
			c.log.Errorf("process", "delete key %q failed: %v", k, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		if err := c.store.Compact(); err != nil {
			c.log.Errorf("process", "compact after cleaning prefix %q failed: %v", prefix, err)
		}
	}

	c.sweepStatFiles()
	c.log.Debugf("process", "cleaned prefix %q: %d keys deleted", prefix, deleted)
}

// sweepStatFiles deletes "je.stat.*.csv" files (excluding the bare
// "je.stat.csv") older than 24h from the holding area. Failures are
// logged only; leftover diagnostics files are harmless.
func (c *Cleaner) sweepStatFiles() {
	if c.holding == "" {
		return
	}
	entries, err := os.ReadDir(c.holding)
	if err != nil {
		c.log.Warnf("sweep_stats", "read holding dir failed: %v", err)
		return
	}
	now := time.Now()
	for _, e := range entries {
		name := e.Name()
		if name == "je.stat.csv" {
			continue
		}
		if !strings.HasPrefix(name, statFilePrefix) || !strings.HasSuffix(name, statFileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < statFileMaxAge {
			continue
		}
		if err := os.Remove(filepath.Join(c.holding, name)); err != nil {
			c.log.Warnf("sweep_stats", "remove %q failed: %v", name, err)
		}
	}
}
