// Package holding manages the on-disk holding area: the directory that
// contains the shared KV store files plus the RUNNING heartbeat marker
// for one process. It is responsible for creation, the periodic
// heartbeat, and reclaiming stale areas left behind by a crashed
// predecessor, before the store is opened.
package holding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"elasticqueue/internal/config"
	"elasticqueue/internal/logger"
)

// runningFile is the liveness heartbeat marker written at the root of a
// holding area. lockFile is a sibling advisory lock acquired for the life
// of the process, kept separate from runningFile so the heartbeat can
// freely rewrite the marker's contents without touching flock state.
const (
	runningFile = "RUNNING"
	lockFile    = "RUNNING.lock"
)

// Resolve returns the active holding-area path for instanceID under the
// given configuration: in non-cloud mode a per-instance subdirectory of
// StorePath, in cloud mode StorePath itself.
func Resolve(cfg *config.Config, instanceID string) string {
	if cfg.RunningInCloud {
		return cfg.StorePath
	}
	return filepath.Join(cfg.StorePath, instanceID)
}

// Area represents the active holding area for this process: its
// directory, its exclusive lock, and its heartbeat worker.
type Area struct {
	path  string
	cloud bool
	log   *logger.Logger

	fl *flock.Flock

	mu       sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Open prepares the active holding area for this process: it ensures the
// root exists, sweeps stale sibling areas (non-cloud) or a stale marker
// at the root (cloud), creates the active area, acquires its lock, writes
// the first RUNNING marker, and starts the heartbeat worker. The caller
// (internal/lifecycle) is responsible for treating a non-nil error as
// fatal to process startup.
func Open(cfg *config.Config, instanceID string, log *logger.Logger) (*Area, error) {
	if err := os.MkdirAll(cfg.StorePath, 0o755); err != nil {
		return nil, fmt.Errorf("holding: create root %q: %w", cfg.StorePath, err)
	}

	if err := SweepStale(cfg.StorePath, cfg.RunningInCloud, cfg.StaleAfter, log); err != nil {
		// Sweep failures are logged only: a leftover stale area is
		// inert, not unsafe, as long as we don't reopen its store.
		log.Warnf("sweep", "stale-area sweep failed, continuing: %v", err)
	}

	path := Resolve(cfg, instanceID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("holding: create area %q: %w", path, err)
	}

	fl := flock.New(filepath.Join(path, lockFile))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("holding: acquire lock on %q: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("holding: area %q already locked by a live process", path)
	}

	a := &Area{
		path:   path,
		cloud:  cfg.RunningInCloud,
		log:    log,
		fl:     fl,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if err := a.writeRunning(); err != nil {
		fl.Close() //nolint:errcheck // best-effort unlock on init failure
		return nil, fmt.Errorf("holding: write initial marker: %w", err)
	}

	go a.heartbeatLoop(cfg.HeartbeatInterval)

	log.Infof("open", "holding area ready at %s (cloud=%v)", path, a.cloud)
	return a, nil
}

// Path returns the active holding area's directory.
func (a *Area) Path() string { return a.path }

// writeRunning atomically rewrites the RUNNING marker with the current
// timestamp, using the same temp-file-then-rename pattern used
// elsewhere in this codebase for durable config persistence, so a
// reader never observes a partially written marker.
func (a *Area) writeRunning() error {
	dst := filepath.Join(a.path, runningFile)
	tmp, err := os.CreateTemp(a.path, ".running-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp marker: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(time.Now().Format(time.RFC3339Nano)); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("write temp marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp marker: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename temp marker: %w", err)
	}
	return nil
}

// heartbeatLoop rewrites RUNNING every interval until Stop is called.
func (a *Area) heartbeatLoop(interval time.Duration) {
	defer close(a.doneCh)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-t.C:
			if err := a.writeRunning(); err != nil {
				a.log.Warnf("heartbeat", "failed to refresh marker: %v", err)
			}
		}
	}
}

// Stop halts the heartbeat worker and blocks until it has exited.
func (a *Area) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.doneCh
}

// ReleaseLock releases the advisory file lock. Errors are logged, not
// returned: shutdown isolates each resource's failure rather than
// aborting the rest of teardown.
func (a *Area) ReleaseLock() {
	if err := a.fl.Close(); err != nil {
		a.log.Warnf("shutdown", "release lock on %q: %v", a.path, err)
	}
}

// Remove deletes the holding area from disk: the whole directory tree in
// non-cloud mode, or only the RUNNING marker in cloud mode, since the
// root directory itself may be shared by other cooperating processes.
func (a *Area) Remove() error {
	if a.cloud {
		if err := os.Remove(filepath.Join(a.path, runningFile)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("holding: remove marker: %w", err)
		}
		return nil
	}
	if err := os.RemoveAll(a.path); err != nil {
		return fmt.Errorf("holding: remove area %q: %w", a.path, err)
	}
	return nil
}

// SweepStale reclaims holding areas abandoned by a crashed predecessor.
//
// In non-cloud mode, root contains one subdirectory per process instance;
// each one whose RUNNING marker is older than staleAfter is removed
// entirely. In cloud mode, root IS the single shared holding area, so
// staleness is judged on root's own RUNNING marker; if stale, every entry
// under root is removed (which necessarily includes the marker itself) so
// a fresh store can be opened in its place.
func SweepStale(root string, cloud bool, staleAfter time.Duration, log *logger.Logger) error {
	if cloud {
		return sweepStaleCloud(root, staleAfter, log)
	}
	return sweepStaleCandidates(root, staleAfter, log)
}

func sweepStaleCloud(root string, staleAfter time.Duration, log *logger.Logger) error {
	info, err := os.Stat(filepath.Join(root, runningFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat marker: %w", err)
	}
	if time.Since(info.ModTime()) <= staleAfter {
		return nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read root: %w", err)
	}
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		if err := os.RemoveAll(p); err != nil {
			log.Warnf("sweep", "failed to remove stale entry %q: %v", p, err)
		}
	}
	log.Infof("sweep", "reclaimed stale cloud holding area at %s", root)
	return nil
}

func sweepStaleCandidates(root string, staleAfter time.Duration, log *logger.Logger) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(root, e.Name())
		info, err := os.Stat(filepath.Join(candidate, runningFile))
		if err != nil {
			continue // no marker: not a holding area we manage, leave it alone
		}
		if time.Since(info.ModTime()) <= staleAfter {
			continue // heartbeat is fresh: a live process owns this area
		}
		if err := os.RemoveAll(candidate); err != nil {
			log.Warnf("sweep", "failed to remove stale area %q: %v", candidate, err)
			continue
		}
		log.Infof("sweep", "reclaimed stale holding area %s", candidate)
	}
	return nil
}
