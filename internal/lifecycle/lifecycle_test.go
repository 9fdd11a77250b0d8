package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"elasticqueue/internal/config"
	"elasticqueue/internal/logger"
)

func testConfig(root string) *config.Config {
	return &config.Config{
		StorePath:                root,
		HeartbeatInterval:        20 * time.Millisecond,
		StaleAfter:               50 * time.Millisecond,
		CheckpointInterval:       time.Minute,
		MaxConsecutiveReadMisses: 5,
	}
}

func TestNew_WiresAllComponents(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)

	sys, err := New(cfg, "instance-a", logger.New("LIFECYCLE", "error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Shutdown()

	if sys.Area == nil || sys.Store == nil || sys.Cleaner == nil || sys.Registry == nil {
		t.Fatal("expected New to wire every component")
	}

	storePath := filepath.Join(root, "instance-a", storeFileName)
	if _, err := os.Stat(storePath); err != nil {
		t.Errorf("expected kv store file at %s: %v", storePath, err)
	}
}

func TestSystem_QueueRoundTripThroughRegistry(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)

	sys, err := New(cfg, "instance-b", logger.New("LIFECYCLE", "error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Shutdown()

	q := sys.Registry.GetOrCreate("orders")
	if err := q.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	val, ok := q.Read()
	if !ok || string(val) != "hello" {
		t.Fatalf("Read: got (%q, %v)", val, ok)
	}
}

func TestShutdown_RemovesHoldingAreaAndIsIdempotent(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)

	sys, err := New(cfg, "instance-c", logger.New("LIFECYCLE", "error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	areaPath := sys.Area.Path()
	sys.Shutdown()
	sys.Shutdown() // must not panic or double-close anything

	if _, err := os.Stat(areaPath); !os.IsNotExist(err) {
		t.Errorf("expected holding area removed after Shutdown, stat err = %v", err)
	}
}
