// Package engine implements the Supervisor Engine (C5): the single task
// that owns the replica table and drives every start, stop, restart,
// status, and reload operation. All mutation happens on one goroutine
// draining one command queue; no other package in this module needs a
// mutex to touch replica state.
package engine

import (
	"log/slog"
	"sort"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/env"
	"github.com/loykin/taskmaster/internal/replica"
)

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRestart
	cmdStatus
	cmdReload
	cmdShutdown
)

type command struct {
	kind        cmdKind
	name        string
	reply       chan error
	statusReply chan []Status
}

type eventKind int

const (
	evChildExit eventKind = iota
	evGraceElapsed
	evStopTimeout
	evBackoffElapsed
)

type event struct {
	kind  eventKind
	key   replica.Key
	epoch uint64
	err   error
}

// Engine owns the replica table. Every exported method is safe to call
// from any goroutine; all of them communicate with the single run loop
// through cmdCh.
type Engine struct {
	log *slog.Logger
	cfg *config.Config

	replicas map[replica.Key]*replica.Replica
	baseEnv  *env.Env

	startHooks map[replica.Key][]func()
	stopHooks  map[replica.Key][]func()

	cmdCh   chan command
	eventCh chan event
	doneCh  chan struct{}

	shuttingDown  bool
	shutdownReply chan error
}

// New creates an Engine over cfg. Run must be called (typically in its own
// goroutine) before any of the blocking methods will make progress.
func New(log *slog.Logger, cfg *config.Config) *Engine {
	e := &Engine{
		log:        log,
		cfg:        cfg,
		replicas:   make(map[replica.Key]*replica.Replica),
		startHooks: make(map[replica.Key][]func()),
		stopHooks:  make(map[replica.Key][]func()),
		cmdCh:      make(chan command, 32),
		eventCh:    make(chan event, 32),
		doneCh:     make(chan struct{}),
	}
	e.rebuildBaseEnv()
	return e
}

func (e *Engine) rebuildBaseEnv() {
	base := env.New()
	for k, v := range e.cfg.GlobalEnv {
		base = base.WithSet(k, v)
	}
	e.baseEnv = base
}

func (e *Engine) mergedEnv(spec config.ProgramSpec) []string {
	pairs := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		pairs = append(pairs, k+"="+v)
	}
	return e.baseEnv.Merge(pairs)
}

// Run drains the command and event queues until a shutdown command has
// been fully processed (every live replica reaped). It returns when Done
// closes.
func (e *Engine) Run() {
	defer close(e.doneCh)
	if e.log != nil {
		e.log.Info("engine started", "programs", len(e.cfg.Programs))
	}
	for {
		select {
		case cmd := <-e.cmdCh:
			e.handleCommand(cmd)
		case ev := <-e.eventCh:
			e.handleEvent(ev)
		}
		if e.shuttingDown && e.allTerminal() {
			if e.shutdownReply != nil {
				e.shutdownReply <- nil
				e.shutdownReply = nil
			}
			if e.log != nil {
				e.log.Info("engine stopped")
			}
			return
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

func (e *Engine) sendCmd(kind cmdKind, name string) error {
	reply := make(chan error, 1)
	select {
	case e.cmdCh <- command{kind: kind, name: name, reply: reply}:
	case <-e.doneCh:
		return ErrEngineClosed
	}
	select {
	case err := <-reply:
		return err
	case <-e.doneCh:
		return ErrEngineClosed
	}
}

// Start drives every non-live replica of name to Starting and blocks
// until each has resolved its first start attempt (Running, Backoff, or
// Fatal). Already-live replicas are left untouched.
func (e *Engine) Start(name string) error { return e.sendCmd(cmdStart, name) }

// Stop drives every live replica of name through the stop sub-protocol
// and blocks until each has reached Stopped. Unknown programs and
// programs with no live replicas are no-ops.
func (e *Engine) Stop(name string) error { return e.sendCmd(cmdStop, name) }

// Restart stops then starts name, sequenced through the same queue.
func (e *Engine) Restart(name string) error { return e.sendCmd(cmdRestart, name) }

// Reload re-reads the config file from disk and reconciles the replica
// table against it. A load error leaves the previous config in effect.
func (e *Engine) Reload() error { return e.sendCmd(cmdReload, "") }

// Shutdown drives every live replica through the stop sub-protocol and
// blocks until the engine has fully drained. Safe to call once; the
// engine does not accept further commands afterward.
func (e *Engine) Shutdown() error { return e.sendCmd(cmdShutdown, "") }

// PostReload enqueues a reload without blocking the caller. Intended for
// signal handlers and the config watcher, which must never execute
// engine logic directly.
func (e *Engine) PostReload() {
	select {
	case e.cmdCh <- command{kind: cmdReload}:
	default:
		if e.log != nil {
			e.log.Warn("reload request dropped: command queue full")
		}
	}
}

// PostShutdown enqueues a shutdown without blocking the caller. Intended
// for signal handlers.
func (e *Engine) PostShutdown() {
	select {
	case e.cmdCh <- command{kind: cmdShutdown}:
	default:
	}
}

// Status returns a snapshot covering every declared (program, index)
// pair in the current config, Idle for any that have never been created.
func (e *Engine) Status() []Status {
	reply := make(chan []Status, 1)
	select {
	case e.cmdCh <- command{kind: cmdStatus, statusReply: reply}:
	case <-e.doneCh:
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-e.doneCh:
		return nil
	}
}

func (e *Engine) handleCommand(cmd command) {
	if e.shuttingDown && cmd.kind != cmdStatus {
		if cmd.reply != nil {
			cmd.reply <- errShuttingDown
		}
		return
	}
	switch cmd.kind {
	case cmdStart:
		e.handleStart(cmd.name, func(err error) {
			if cmd.reply != nil {
				cmd.reply <- err
			}
		})
	case cmdStop:
		e.handleStop(cmd.name, func() {
			if cmd.reply != nil {
				cmd.reply <- nil
			}
		})
	case cmdRestart:
		e.handleRestart(cmd.name, cmd.reply)
	case cmdStatus:
		e.handleStatus(cmd.statusReply)
	case cmdReload:
		e.handleReload(cmd.reply)
	case cmdShutdown:
		e.handleShutdown(cmd.reply)
	}
}

func (e *Engine) handleEvent(ev event) {
	switch ev.kind {
	case evChildExit:
		e.onChildExit(ev)
	case evGraceElapsed:
		e.onGraceElapsed(ev.key, ev.epoch)
	case evStopTimeout:
		e.onStopTimeout(ev.key, ev.epoch)
	case evBackoffElapsed:
		e.onBackoffElapsed(ev.key, ev.epoch)
	}
}

func (e *Engine) allTerminal() bool {
	for _, r := range e.replicas {
		if r.State.Live() {
			return false
		}
	}
	return true
}

func (e *Engine) ensureReplica(key replica.Key, spec config.ProgramSpec) *replica.Replica {
	if r, ok := e.replicas[key]; ok {
		return r
	}
	r := replica.New(key, spec)
	e.replicas[key] = r
	return r
}

func (e *Engine) addStartHook(key replica.Key, fn func()) {
	e.startHooks[key] = append(e.startHooks[key], fn)
}

func (e *Engine) fireStartHooks(key replica.Key) {
	hooks := e.startHooks[key]
	delete(e.startHooks, key)
	for _, fn := range hooks {
		fn()
	}
}

func (e *Engine) addStopHook(key replica.Key, fn func()) {
	e.stopHooks[key] = append(e.stopHooks[key], fn)
}

func (e *Engine) fireStopHooks(key replica.Key) {
	hooks := e.stopHooks[key]
	delete(e.stopHooks, key)
	for _, fn := range hooks {
		fn()
	}
}

// Status is one row of a status snapshot.
type Status struct {
	Name  string
	Index int
	State string
	Pid   int
}

func (e *Engine) handleStatus(reply chan []Status) {
	if reply == nil {
		return
	}
	names := make([]string, 0, len(e.cfg.Programs))
	for name := range e.cfg.Programs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Status
	for _, name := range names {
		sp := e.cfg.Programs[name]
		for i := 0; i < sp.NumProcs; i++ {
			key := replica.Key{Name: name, Index: i}
			st := replica.Idle.String()
			pid := 0
			if r, ok := e.replicas[key]; ok {
				st = r.State.String()
				if r.State.Live() && r.Handle != nil {
					pid = r.Handle.Pid()
				}
			}
			out = append(out, Status{Name: name, Index: i, State: st, Pid: pid})
		}
	}
	reply <- out
}
