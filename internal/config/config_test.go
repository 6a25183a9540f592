package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskmaster.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
programs:
  web:
    cmd: "sleep 60"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sp, ok := cfg.Programs["web"]
	if !ok {
		t.Fatal("expected program web")
	}
	if sp.NumProcs != 1 {
		t.Errorf("NumProcs = %d, want 1", sp.NumProcs)
	}
	if sp.AutoRestart != RestartUnexpected {
		t.Errorf("AutoRestart = %q, want unexpected", sp.AutoRestart)
	}
	if !sp.ExitCodeExpected(0) {
		t.Error("expected default exitcodes to include 0")
	}
	if sp.StopSignal != "TERM" {
		t.Errorf("StopSignal = %q, want TERM", sp.StopSignal)
	}
	if sp.StopTime != defaultStopTime {
		t.Errorf("StopTime = %v, want %v", sp.StopTime, defaultStopTime)
	}
}

func TestLoadFullySpecified(t *testing.T) {
	path := writeConfig(t, `
programs:
  worker:
    cmd: "/usr/bin/worker --flag"
    numprocs: 3
    autostart: true
    autorestart: always
    exitcodes: [0, 2]
    startsecs: 2
    startretries: 5
    stopsignal: HUP
    stoptime: 7
    stdout: /var/log/worker.out
    stderr: /var/log/worker.err
    workingdir: /srv/worker
    umask: "022"
    env:
      FOO: bar
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sp := cfg.Programs["worker"]
	if sp.NumProcs != 3 || !sp.AutoStart || sp.AutoRestart != RestartAlways {
		t.Fatalf("unexpected spec: %+v", sp)
	}
	if !sp.ExitCodeExpected(2) || sp.ExitCodeExpected(1) {
		t.Fatalf("unexpected exitcodes: %+v", sp.ExitCodes)
	}
	if sp.StartSecs != 2*time.Second || sp.StartRetries != 5 {
		t.Fatalf("unexpected start params: %+v", sp)
	}
	if sp.StopSignal != "HUP" || sp.StopTime != 7*time.Second {
		t.Fatalf("unexpected stop params: %+v", sp)
	}
	if sp.Env["FOO"] != "bar" {
		t.Fatalf("unexpected env: %+v", sp.Env)
	}
	mask, ok := sp.UmaskValue()
	if !ok || mask != 0o022 {
		t.Fatalf("unexpected umask: %v %v", mask, ok)
	}
}

func TestLoadRejectsMissingCmd(t *testing.T) {
	path := writeConfig(t, `
programs:
  broken:
    numprocs: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for missing cmd")
	}
}

func TestLoadRejectsBadNumProcs(t *testing.T) {
	path := writeConfig(t, `
programs:
  broken:
    cmd: "true"
    numprocs: 0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for non-positive numprocs")
	}
}

func TestLoadRejectsUnknownStopSignal(t *testing.T) {
	path := writeConfig(t, `
programs:
  broken:
    cmd: "true"
    stopsignal: NOTASIGNAL
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for unknown stopsignal")
	}
}

func TestLoadRejectsBadUmask(t *testing.T) {
	path := writeConfig(t, `
programs:
  broken:
    cmd: "true"
    umask: "99x"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for non-octal umask")
	}
}

func TestLoadRejectsBadAutoRestart(t *testing.T) {
	path := writeConfig(t, `
programs:
  broken:
    cmd: "true"
    autorestart: sometimes
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for bad autorestart literal")
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
programs:
  web:
    cmd: "true"
    some_future_field: 123
unrelated_top_level: true
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("unexpected error ignoring unknown keys: %v", err)
	}
}
