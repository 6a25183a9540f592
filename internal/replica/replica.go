package replica

import (
	"time"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/launcher"
)

// Replica is the record the engine keeps for one (program, index) pair.
// Every field is read and written exclusively by the engine task; the
// methods below compute the next state but perform no I/O themselves.
type Replica struct {
	Key       Key
	Spec      config.ProgramSpec // the spec in effect at the most recent start
	State     State
	Handle    *launcher.Handle // nil unless State.Live()
	Retries   int
	StartedOK bool
	StartedAt time.Time

	// Epoch increments every time a new child is spawned (BeginStart,
	// BackoffElapsed, ExitNeedsRestart). The exit-watcher goroutine armed
	// at spawn time captures it, and the engine compares it against the
	// current value before acting on a reaped child, so a watcher left
	// over from an earlier incarnation of this replica is ignored rather
	// than misapplied to the current one. Stopping the replica does not
	// spawn a new child, so BeginStop leaves Epoch untouched: the single
	// exit watcher armed for the still-running child must keep matching
	// across the Starting/Running -> Stopping transition.
	Epoch uint64

	// StopEpoch increments on every stop attempt. The stoptime kill
	// escalation timer captures it and is ignored if a later stop attempt
	// has since superseded it, implementing the cancellation rule in §5
	// for the stop side of the protocol.
	StopEpoch uint64
}

// New creates an Idle replica record.
func New(key Key, spec config.ProgramSpec) *Replica {
	return &Replica{Key: key, Spec: spec, State: Idle}
}

// BeginStart transitions Idle/Stopped/Exited/Fatal into Starting. Retries
// are cleared when leaving Fatal, per the explicit-start transition row.
func (r *Replica) BeginStart() uint64 {
	if r.State == Fatal {
		r.Retries = 0
	}
	r.State = Starting
	r.StartedAt = time.Now()
	r.Epoch++
	return r.Epoch
}

// SurviveStartSecs transitions Starting into Running once the child has
// stayed alive for the configured start-grace window.
func (r *Replica) SurviveStartSecs() {
	r.State = Running
	r.StartedOK = true
	r.Retries = 0
}

// FailStartSecs handles a child exiting before the start-grace window
// elapses, consulting the retry budget. Returns the resulting state.
func (r *Replica) FailStartSecs() State {
	if r.Retries < r.Spec.StartRetries {
		r.Retries++
		r.State = Backoff
	} else {
		r.State = Fatal
		r.Handle = nil
	}
	return r.State
}

// BackoffElapsed respawns after the backoff delay.
func (r *Replica) BackoffElapsed() uint64 {
	r.State = Starting
	r.StartedAt = time.Now()
	r.Epoch++
	return r.Epoch
}

// ExitExpected transitions a Running replica into Exited: the child exited
// with an expected code and autorestart does not force a respawn.
func (r *Replica) ExitExpected() {
	r.State = Exited
	r.Handle = nil
}

// ExitNeedsRestart transitions a Running replica straight back into
// Starting. Because the replica previously survived its start-grace
// window (started_ok), the retry counter resets rather than accumulating.
func (r *Replica) ExitNeedsRestart() uint64 {
	r.State = Starting
	r.Retries = 0
	r.StartedAt = time.Now()
	r.Handle = nil
	r.Epoch++
	return r.Epoch
}

// BeginStop transitions any live state into Stopping and arms the
// stoptime deadline (the caller sends the configured stop signal). It
// does not touch Epoch: no child is spawned by stopping one, and the
// exit watcher armed for the child already running must still match
// once it reports back.
func (r *Replica) BeginStop() uint64 {
	r.State = Stopping
	r.StopEpoch++
	return r.StopEpoch
}

// FinishStop transitions Stopping into Stopped, whether the child exited
// cooperatively or was escalated to a kill signal.
func (r *Replica) FinishStop() {
	r.State = Stopped
	r.Handle = nil
}

// NeedsRestart applies the restart classification policy (§4.2) to a
// termination observed while Running.
func NeedsRestart(policy config.AutoRestart, exitCode int, expected func(int) bool) bool {
	switch policy {
	case config.RestartNever:
		return false
	case config.RestartAlways:
		return true
	default: // RestartUnexpected
		return !expected(exitCode)
	}
}
