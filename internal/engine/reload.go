package engine

import (
	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/replica"
)

// handleReload re-reads the config file, then reconciles the replica
// table: programs dropped from the file are stopped and forgotten,
// programs newly declared are created (and started if autostart), and
// programs present in both keep running under their replaced spec, with
// numprocs growth adding Idle replicas (started if autostart) and
// numprocs shrink stopping and dropping the excess indices.
func (e *Engine) handleReload(reply chan error) {
	newCfg, err := config.Load(e.cfg.Path())
	if err != nil {
		if reply != nil {
			reply <- err
		}
		return
	}

	oldCfg := e.cfg
	e.cfg = newCfg
	e.rebuildBaseEnv()

	// pending starts at 1 so that an operation finishing synchronously
	// cannot bring it to zero before every operation has been queued; the
	// final done() below releases that hold.
	pending := 1
	done := func() {
		pending--
		if pending == 0 && reply != nil {
			reply <- nil
		}
	}

	for name := range oldCfg.Programs {
		if _, ok := newCfg.Programs[name]; ok {
			continue
		}
		pending++
		e.handleStop(name, func(name string) func() {
			return func() {
				e.dropReplicas(name)
				done()
			}
		}(name))
	}

	for name, sp := range newCfg.Programs {
		if _, existed := oldCfg.Programs[name]; existed {
			continue
		}
		for i := 0; i < sp.NumProcs; i++ {
			key := replica.Key{Name: name, Index: i}
			e.replicas[key] = replica.New(key, sp)
		}
		if sp.AutoStart {
			pending++
			e.handleStart(name, func(error) { done() })
		}
	}

	for name, newSp := range newCfg.Programs {
		oldSp, existed := oldCfg.Programs[name]
		if !existed {
			continue
		}
		grew := newSp.NumProcs > oldSp.NumProcs
		newlyAutoStart := newSp.AutoStart && !oldSp.AutoStart
		for i := 0; i < newSp.NumProcs; i++ {
			key := replica.Key{Name: name, Index: i}
			if r, ok := e.replicas[key]; ok {
				r.Spec = newSp
			} else {
				e.replicas[key] = replica.New(key, newSp)
			}
		}
		for key, r := range e.replicas {
			if key.Name != name || key.Index < newSp.NumProcs {
				continue
			}
			pending++
			e.stopReplica(r, func(key replica.Key) func() {
				return func() {
					delete(e.replicas, key)
					done()
				}
			}(key))
		}
		// Only a newly-created replica (numprocs growth) or a program whose
		// autostart flag just flipped to true should be (re)started here.
		// A program that was already present with autostart already true
		// must not be resurrected just because the file was reloaded;
		// reload on an unchanged config is a no-op on the replica table.
		if newSp.AutoStart && (grew || newlyAutoStart) {
			pending++
			e.handleStart(name, func(error) { done() })
		}
	}

	done()
}

func (e *Engine) dropReplicas(name string) {
	for key := range e.replicas {
		if key.Name == name {
			delete(e.replicas, key)
		}
	}
}
