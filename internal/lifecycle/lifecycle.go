// Package lifecycle wires together the holding area, the shared KV
// store, the cleaner, and the queue registry into one process-wide
// system, and owns its startup and shutdown ordering. The
// concurrent-open-then-wait shape is modeled on the errgroup.Group
// usage pattern for fanning out independent Kubernetes-resource work
// with shared cancellation, generalized from "apply/clean many
// resources concurrently" to "open the two independent startup
// resources concurrently and fail fast if either does."
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"elasticqueue/internal/cleaner"
	"elasticqueue/internal/config"
	"elasticqueue/internal/elasticqueue"
	"elasticqueue/internal/holding"
	"elasticqueue/internal/kvstore"
	"elasticqueue/internal/logger"
	"elasticqueue/internal/metrics"
)

const storeFileName = "queue.db"

// System is one process's fully wired elastic-queue subsystem: the
// holding area lock and heartbeat, the shared KV store, the cleaner
// worker, and the queue registry callers use to get or create queues.
type System struct {
	cfg *config.Config
	log *logger.Logger

	Area     *holding.Area
	Store    *kvstore.Store
	Cleaner  *cleaner.Cleaner
	Registry *elasticqueue.Registry
	Metrics  *metrics.Metrics

	shutdownOnce sync.Once
}

// New opens the holding area and the shared KV store concurrently,
// wires the cleaner and registry on top, and returns a ready System. A
// failure to open either resource is fatal to the whole system: the
// queue subsystem cannot function without both, so New tears down
// whichever resource did succeed and returns the error.
func New(cfg *config.Config, instanceID string, log *logger.Logger) (*System, error) {
	holdingPath := holding.Resolve(cfg, instanceID)
	storePath := filepath.Join(holdingPath, storeFileName)

	// Reclaim stale areas before the store opens: a stale cloud sweep
	// removes every entry under the root, store file included.
	if err := os.MkdirAll(cfg.StorePath, 0o755); err != nil {
		return nil, fmt.Errorf("lifecycle: create store root %q: %w", cfg.StorePath, err)
	}
	if err := holding.SweepStale(cfg.StorePath, cfg.RunningInCloud, cfg.StaleAfter, log); err != nil {
		log.Warnf("sweep", "stale-area sweep failed, continuing: %v", err)
	}

	// holding.Open and kvstore.Open only look independent: the store file
	// lives inside holdingPath, which holding.Open itself creates. Create
	// it here, before either goroutine starts, so kvstore.Open never races
	// the directory into existence — the two opens become genuinely
	// independent of each other once this is out of the way.
	if err := os.MkdirAll(holdingPath, 0o755); err != nil {
		return nil, fmt.Errorf("lifecycle: create holding path %q: %w", holdingPath, err)
	}

	var area *holding.Area
	var store *kvstore.Store

	g := new(errgroup.Group)
	g.Go(func() error {
		a, err := holding.Open(cfg, instanceID, log)
		if err != nil {
			return fmt.Errorf("open holding area: %w", err)
		}
		area = a
		return nil
	})
	g.Go(func() error {
		s, err := kvstore.Open(storePath, cfg.CheckpointInterval)
		if err != nil {
			return fmt.Errorf("open kv store: %w", err)
		}
		store = s
		return nil
	})

	if err := g.Wait(); err != nil {
		if area != nil {
			area.Stop()
			area.ReleaseLock()
		}
		if store != nil {
			store.Close() //nolint:errcheck // best-effort cleanup on partial startup failure
		}
		return nil, err
	}

	cln := cleaner.New(store, area.Path(), log)
	m := metrics.New()
	reg := elasticqueue.NewRegistry(store, cln, log, cfg.MaxConsecutiveReadMisses, m)

	return &System{
		cfg:      cfg,
		log:      log,
		Area:     area,
		Store:    store,
		Cleaner:  cln,
		Registry: reg,
		Metrics:  m,
	}, nil
}

// Shutdown stops every owned worker and releases every owned resource,
// in dependency order: registered queues close first (scheduling any
// final reclamation with the cleaner while it is still running), then
// the cleaner drains and stops, then the store closes, then the
// holding-area lock releases and the area itself is removed (or, in
// cloud mode, just its RUNNING marker). Each step is isolated: a
// failure in one is logged and does not prevent the rest from running.
// Safe to call more than once; only the first call does anything.
func (s *System) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.Registry.CloseAll()
		s.Cleaner.Stop()
		s.Area.Stop()

		if err := s.Store.Close(); err != nil {
			s.log.Errorf("shutdown", "close kv store: %v", err)
		}

		s.Area.ReleaseLock()

		if err := s.Area.Remove(); err != nil {
			s.log.Errorf("shutdown", "remove holding area: %v", err)
		}
	})
}
