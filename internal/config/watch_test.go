package config

import (
	"os"
	"testing"
	"time"
)

func TestWatcherDetectsMtimeChange(t *testing.T) {
	path := writeConfig(t, "programs:\n  web:\n    cmd: \"true\"\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond) // ensure a distinguishable mtime
	if err := os.WriteFile(path, []byte("programs:\n  web:\n    cmd: \"false\"\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload event after mtime change")
	}
}

func TestWatcherTriggerIsDebounced(t *testing.T) {
	path := writeConfig(t, "programs:\n  web:\n    cmd: \"true\"\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	w.Trigger()
	w.Trigger()
	w.Trigger()

	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload event after Trigger")
	}

	select {
	case <-w.Events():
		t.Fatal("expected triggers within one interval to collapse to a single event")
	case <-time.After(1200 * time.Millisecond):
	}
}
