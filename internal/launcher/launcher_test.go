package launcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/taskmaster/internal/config"
)

func TestSpawnTrueExitsZero(t *testing.T) {
	h, err := Spawn(config.ProgramSpec{Name: "t", Command: "/bin/true"}, os.Environ())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit in time")
	}
	if h.ExitErr() != nil {
		t.Fatalf("expected clean exit, got %v", h.ExitErr())
	}
}

func TestSpawnFalseExitsNonZero(t *testing.T) {
	h, err := Spawn(config.ProgramSpec{Name: "t", Command: "/bin/false"}, os.Environ())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	<-h.Done()
	if h.ExitErr() == nil {
		t.Fatal("expected a non-nil exit error for /bin/false")
	}
}

func TestSpawnRedirectsStdout(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.log")
	h, err := Spawn(config.ProgramSpec{
		Name:    "t",
		Command: `/bin/echo hello`,
		Stdout:  outPath,
	}, os.Environ())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	<-h.Done()

	content, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read stdout file: %v", err)
	}
	if string(content) != "hello\n" {
		t.Fatalf("unexpected stdout content: %q", string(content))
	}
}

func TestSpawnUnknownBinaryIsExecError(t *testing.T) {
	_, err := Spawn(config.ProgramSpec{Name: "t", Command: "/no/such/binary"}, os.Environ())
	if err == nil {
		t.Fatal("expected an error for unknown binary")
	}
	le, ok := err.(*LaunchError)
	if !ok {
		t.Fatalf("expected *LaunchError, got %T", err)
	}
	if le.Kind != KindExec {
		t.Fatalf("expected KindExec, got %v", le.Kind)
	}
}

func TestSpawnSetsWorkingDir(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "pwd.log")
	h, err := Spawn(config.ProgramSpec{
		Name:       "t",
		Command:    "/bin/pwd",
		WorkingDir: dir,
		Stdout:     outPath,
	}, os.Environ())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	<-h.Done()

	content, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	got := filepath.Clean(string(content[:len(content)-1]))
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Fatalf("pwd = %q, want %q", gotResolved, want)
	}
}
