package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("web")
	IncStart("web")
	IncRestart("web")
	IncStop("web")
	ObserveStartGraceDuration("web", 1.25)
	RecordStateTransition("web", "Starting", "Running")
	SetCurrentState("web", "0", "Running", true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"taskmaster_replica_starts_total":                 false,
		"taskmaster_replica_restarts_total":                false,
		"taskmaster_replica_stops_total":                   false,
		"taskmaster_replica_start_grace_duration_seconds":  false,
		"taskmaster_replica_state_transitions_total":       false,
		"taskmaster_replica_current_state":                 false,
	}

	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("expected metric %s to be registered", name)
		}
	}
}

func TestHelpersDoNotPanicRegardlessOfRegistration(t *testing.T) {
	// Using a fresh package-level regOK would require resetting state that
	// other tests share; instead verify the helpers never panic regardless
	// of registration state.
	IncStart("anything")
	if !strings.HasPrefix("ok", "ok") {
		t.Fatal("sanity")
	}
}
