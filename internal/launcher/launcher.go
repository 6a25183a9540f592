//go:build !windows

// Package launcher implements the Child Launcher (C3): it spawns one
// child with the prescribed environment and hands back a Handle. It owns
// no supervisory logic — the replica state machine and engine decide when
// to spawn, stop, or kill.
package launcher

import (
	"os/exec"
	"syscall"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/logger"
)

// Spawn starts one child for spec using mergedEnv as its full environment
// (already computed by the caller: supervisor base env overlaid with the
// program's own env declaration). It never invokes a shell; cmd is
// tokenized with shell-style quoting and exec'd directly.
func Spawn(spec config.ProgramSpec, mergedEnv []string) (*Handle, error) {
	argv, err := Tokenize(spec.Command)
	if err != nil {
		return nil, execErr(err)
	}

	stdout, stderr, err := logger.OpenChildStreams(logger.ChildStreams{
		StdoutPath: spec.Stdout,
		StderrPath: spec.Stderr,
	})
	if err != nil {
		return nil, ioErr(err)
	}

	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 -- argv comes from the operator's own config
	cmd.Dir = spec.WorkingDir
	cmd.Env = mergedEnv
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = nil // detached: child's stdin reads from /dev/null
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	restoreUmask := applyUmask(spec)
	startErr := cmd.Start()
	restoreUmask()

	if startErr != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, execErr(startErr)
	}

	h := &Handle{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
		stdout: stdout,
		stderr: stderr,
	}
	go func() {
		err := cmd.Wait()
		h.setExit(err)
		h.closeStreams()
		close(h.done)
	}()
	return h, nil
}

// applyUmask sets the process-wide umask for the duration of the spawn, if
// configured, and returns a function that restores the previous umask.
// The umask is process-wide in the OS, not per-thread; callers must only
// call Spawn from the single serialized engine task to avoid a race
// between concurrent spawns' umasks.
func applyUmask(spec config.ProgramSpec) func() {
	mask, ok := spec.UmaskValue()
	if !ok {
		return func() {}
	}
	old := syscall.Umask(int(mask))
	return func() { syscall.Umask(old) }
}
