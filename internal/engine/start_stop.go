package engine

import (
	"errors"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/loykin/taskmaster/internal/launcher"
	"github.com/loykin/taskmaster/internal/metrics"
	"github.com/loykin/taskmaster/internal/replica"
	"github.com/loykin/taskmaster/internal/signalname"
)

// handleStart creates any missing replica records for name, starts every
// one that is not already live, and calls onDone once every attempt this
// call initiated has resolved to Running, Backoff, or Fatal. Already-live
// replicas are left untouched and do not delay onDone.
func (e *Engine) handleStart(name string, onDone func(error)) {
	sp, ok := e.cfg.Programs[name]
	if !ok {
		onDone(errUnknownProgram(name))
		return
	}

	var toStart []replica.Key
	for i := 0; i < sp.NumProcs; i++ {
		key := replica.Key{Name: name, Index: i}
		r := e.ensureReplica(key, sp)
		if r.State.Live() {
			continue
		}
		toStart = append(toStart, key)
	}
	if len(toStart) == 0 {
		onDone(nil)
		return
	}

	remaining := len(toStart)
	done := func() {
		remaining--
		if remaining == 0 {
			onDone(nil)
		}
	}
	for _, key := range toStart {
		r := e.replicas[key]
		from := r.State
		r.Spec = sp
		e.addStartHook(key, done)
		r.BeginStart()
		e.setState(key, from, r.State)
		e.spawnAndArmGrace(r)
	}
}

// setState records the transition metric and flips the current-state gauge
// set: 1 for to, 0 for from.
func (e *Engine) setState(key replica.Key, from, to replica.State) {
	idx := strconv.Itoa(key.Index)
	metrics.RecordStateTransition(key.Name, from.String(), to.String())
	metrics.SetCurrentState(key.Name, idx, from.String(), false)
	metrics.SetCurrentState(key.Name, idx, to.String(), true)
}

// spawnAndArmGrace launches r's child and schedules the event that will
// resolve its current start attempt: immediately if startsecs is zero,
// otherwise after the start-grace window elapses.
func (e *Engine) spawnAndArmGrace(r *replica.Replica) {
	e.spawnAndArmGraceAt(r, r.Epoch)
}

func (e *Engine) onGraceElapsed(key replica.Key, epoch uint64) {
	r, ok := e.replicas[key]
	if !ok || r.Epoch != epoch || r.State != replica.Starting {
		return
	}
	r.SurviveStartSecs()
	e.setState(key, replica.Starting, r.State)
	metrics.ObserveStartGraceDuration(key.Name, time.Since(r.StartedAt).Seconds())
	e.fireStartHooks(key)
}

// onChildExit fans in every reaped child, whether it had already survived
// its start-grace window or not.
func (e *Engine) onChildExit(ev event) {
	r, ok := e.replicas[ev.key]
	if !ok || r.Epoch != ev.epoch {
		return
	}
	code := exitCode(ev.err)

	switch r.State {
	case replica.Starting:
		final := r.FailStartSecs()
		e.setState(ev.key, replica.Starting, final)
		if final == replica.Fatal {
			if e.log != nil {
				e.log.Warn("replica exhausted start retries", "program", ev.key.Name, "index", ev.key.Index)
			}
			e.fireStartHooks(ev.key)
			return
		}
		e.fireStartHooks(ev.key)
		key, epoch := ev.key, r.Epoch
		time.AfterFunc(backoffDelay, func() {
			e.eventCh <- event{kind: evBackoffElapsed, key: key, epoch: epoch}
		})

	case replica.Running:
		if replica.NeedsRestart(r.Spec.AutoRestart, code, r.Spec.ExitCodeExpected) {
			metrics.IncRestart(ev.key.Name)
			epoch := r.ExitNeedsRestart()
			e.setState(ev.key, replica.Running, r.State)
			e.spawnAndArmGraceAt(r, epoch)
		} else {
			r.ExitExpected()
			e.setState(ev.key, replica.Running, r.State)
		}

	case replica.Stopping:
		r.FinishStop()
		metrics.IncStop(ev.key.Name)
		e.setState(ev.key, replica.Stopping, r.State)
		e.fireStopHooks(ev.key)
	}
}

// spawnAndArmGraceAt launches r's child under the given epoch and schedules
// the event that will resolve the current start attempt: immediately if
// startsecs is zero, otherwise after the start-grace window elapses. The
// epoch is passed explicitly because callers coming from BackoffElapsed or
// ExitNeedsRestart have already advanced r.Epoch past the value a fresh
// read would return.
func (e *Engine) spawnAndArmGraceAt(r *replica.Replica, epoch uint64) {
	h, err := launcher.Spawn(r.Spec, e.mergedEnv(r.Spec))
	if err != nil {
		if e.log != nil {
			e.log.Error("spawn failed", "program", r.Key.Name, "index", r.Key.Index, "error", err)
		}
		e.onChildExit(event{key: r.Key, epoch: epoch, err: err})
		return
	}
	r.Handle = h
	metrics.IncStart(r.Key.Name)

	key := r.Key
	go func() {
		<-h.Done()
		e.eventCh <- event{kind: evChildExit, key: key, epoch: epoch, err: h.ExitErr()}
	}()

	if r.Spec.StartSecs <= 0 {
		e.onGraceElapsed(key, epoch)
		return
	}
	time.AfterFunc(r.Spec.StartSecs, func() {
		e.eventCh <- event{kind: evGraceElapsed, key: key, epoch: epoch}
	})
}

func (e *Engine) onBackoffElapsed(key replica.Key, epoch uint64) {
	r, ok := e.replicas[key]
	if !ok || r.Epoch != epoch || r.State != replica.Backoff {
		return
	}
	newEpoch := r.BackoffElapsed()
	e.setState(key, replica.Backoff, r.State)
	e.spawnAndArmGraceAt(r, newEpoch)
}

func (e *Engine) onStopTimeout(key replica.Key, epoch uint64) {
	r, ok := e.replicas[key]
	if !ok || r.StopEpoch != epoch || r.State != replica.Stopping {
		return
	}
	if e.log != nil {
		e.log.Warn("stop deadline elapsed, escalating to kill", "program", key.Name, "index", key.Index)
	}
	if r.Handle != nil {
		_ = r.Handle.Kill()
	}
	// FinishStop happens when the kill is reaped, via onChildExit.
}

// stopReplica drives one replica through the stop sub-protocol, or
// completes immediately if it has nothing to wait on.
func (e *Engine) stopReplica(r *replica.Replica, onDone func()) {
	if !r.State.Live() {
		onDone()
		return
	}
	e.addStopHook(r.Key, onDone)

	if r.State == replica.Backoff || (r.State == replica.Starting && r.Handle == nil) {
		from := r.State
		r.BeginStop()
		r.FinishStop()
		e.setState(r.Key, from, r.State)
		e.fireStopHooks(r.Key)
		return
	}

	from := r.State
	epoch := r.BeginStop()
	e.setState(r.Key, from, r.State)
	sig, err := e.stopSignal(r.Spec.StopSignal)
	if err != nil && e.log != nil {
		e.log.Error("invalid stop signal, falling back to SIGTERM", "program", r.Key.Name, "error", err)
	}
	if r.Handle != nil {
		_ = r.Handle.Signal(sig)
	}
	key := r.Key
	time.AfterFunc(r.Spec.StopTime, func() {
		e.eventCh <- event{kind: evStopTimeout, key: key, epoch: epoch}
	})
}

// handleStop stops every replica (live or not) recorded under name and
// calls onDone once each has settled. Unknown programs and names with no
// recorded replicas are no-ops.
func (e *Engine) handleStop(name string, onDone func()) {
	var keys []replica.Key
	for k := range e.replicas {
		if k.Name == name {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		onDone()
		return
	}
	remaining := len(keys)
	done := func() {
		remaining--
		if remaining == 0 {
			onDone()
		}
	}
	for _, k := range keys {
		e.stopReplica(e.replicas[k], done)
	}
}

func (e *Engine) handleRestart(name string, reply chan error) {
	if _, ok := e.cfg.Programs[name]; !ok {
		if reply != nil {
			reply <- errUnknownProgram(name)
		}
		return
	}
	e.handleStop(name, func() {
		e.handleStart(name, func(err error) {
			if reply != nil {
				reply <- err
			}
		})
	})
}

func (e *Engine) handleShutdown(reply chan error) {
	e.shuttingDown = true
	e.shutdownReply = reply
	var keys []replica.Key
	for k := range e.replicas {
		keys = append(keys, k)
	}
	for _, k := range keys {
		e.stopReplica(e.replicas[k], func() {})
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

const backoffDelay = time.Second

// stopSignal resolves the configured stop signal, falling back to SIGTERM
// if it somehow fails to resolve (validate.go rejects unknown names at
// load time, so this only guards against a future bug, not operator input).
func (e *Engine) stopSignal(stopSignal string) (syscall.Signal, error) {
	sig, err := signalname.Lookup(stopSignal)
	if err != nil {
		return syscall.SIGTERM, err
	}
	return sig, nil
}
