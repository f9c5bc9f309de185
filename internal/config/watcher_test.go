package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("operation_mode: normal\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	store := NewStore(cfg)

	w, err := NewWatcher(path, store, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Start()
	defer w.Close()

	if err := os.WriteFile(path, []byte("operation_mode: maintenance\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if store.Get().OperationMode == ModeMaintenance {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected store to observe reloaded config, got %q", store.Get().OperationMode)
}

func TestStoreGetSetAreConsistent(t *testing.T) {
	cfg := &Config{OperationMode: ModeNormal}
	store := NewStore(cfg)
	if store.Get().OperationMode != ModeNormal {
		t.Fatalf("expected initial snapshot preserved")
	}
	store.Set(&Config{OperationMode: ModeDegraded})
	if store.Get().OperationMode != ModeDegraded {
		t.Fatalf("expected updated snapshot visible")
	}
}
