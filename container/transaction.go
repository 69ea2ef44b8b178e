package container

import (
	"github.com/chef-project/containerv/logging"
)

// SpawnState is a step in the install/spawn state machine spec.md §4.3
// drives a served-style background container through.
type SpawnState int

const (
	SpawnVerify SpawnState = iota
	SpawnDownload
	SpawnInstall
	SpawnLoad
	SpawnStopServices
	SpawnUnload
	SpawnGenerateWrappers
	SpawnDone
	// SpawnFailed is the sink state: every step's failure lands here
	// regardless of which step raised it.
	SpawnFailed
)

func (s SpawnState) String() string {
	switch s {
	case SpawnVerify:
		return "Verify"
	case SpawnDownload:
		return "Download"
	case SpawnInstall:
		return "Install"
	case SpawnLoad:
		return "Load"
	case SpawnStopServices:
		return "StopServices"
	case SpawnUnload:
		return "Unload"
	case SpawnGenerateWrappers:
		return "GenerateWrappers"
	case SpawnDone:
		return "Done"
	case SpawnFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// spawnOrder is the fixed transition sequence spec.md §4.3 names.
var spawnOrder = []SpawnState{
	SpawnVerify, SpawnDownload, SpawnInstall, SpawnLoad,
	SpawnStopServices, SpawnUnload, SpawnGenerateWrappers, SpawnDone,
}

// RunSpawnStateMachine drives steps through spawnOrder in order, stopping
// at the first failure. On a step error the machine logs a structured
// entry naming the step that failed and returns SpawnFailed, the sink
// state every failure shares regardless of which step raised it, together
// with the step's error unchanged.
func RunSpawnStateMachine(containerID string, steps map[SpawnState]func() error) (SpawnState, error) {
	for _, state := range spawnOrder {
		step, ok := steps[state]
		if !ok {
			continue
		}
		if err := step(); err != nil {
			logging.Error("spawn step failed", "container_id", containerID, "state", state.String(), "error", err)
			return SpawnFailed, err
		}
	}
	return SpawnDone, nil
}

// DestroyState is a step in the teardown state machine spec.md §4.3
// drives, always run to completion (log-and-continue) regardless of
// individual step failures.
type DestroyState int

const (
	DestroyStopServices DestroyState = iota
	DestroyUnload
	DestroyUnmountLayers
	DestroyRemoveCgroup
	DestroyDestroyed
)

func (s DestroyState) String() string {
	switch s {
	case DestroyStopServices:
		return "StopServices"
	case DestroyUnload:
		return "Unload"
	case DestroyUnmountLayers:
		return "UnmountLayers"
	case DestroyRemoveCgroup:
		return "RemoveCgroup"
	case DestroyDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

var destroyOrder = []DestroyState{
	DestroyStopServices, DestroyUnload, DestroyUnmountLayers, DestroyRemoveCgroup, DestroyDestroyed,
}

// RunDestroyStateMachine runs every step in destroyOrder regardless of
// individual failures (spec.md §4.3: "log-and-continue for observed
// errors but always proceeds; only resource-leak errors become the
// call's return code"). It returns the first error seen, once every step
// has been attempted.
func RunDestroyStateMachine(containerID string, steps map[DestroyState]func() error) error {
	var firstErr error
	for _, state := range destroyOrder {
		step, ok := steps[state]
		if !ok {
			continue
		}
		if err := step(); err != nil {
			logging.Error("destroy step failed, continuing", "container_id", containerID, "state", state.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Transaction is the nestable lock spec.md §5/§8 ask for around a
// container's state changes: nested Begin calls increment a depth
// counter, and the state flush (Commit or Rollback's effect) runs exactly
// once, on the outermost unlock, regardless of nesting depth.
type Transaction struct {
	c      *Container
	depth  int
	failed bool
}

// Begin starts or joins the container's in-flight transaction. Each call
// must be matched by exactly one Commit or Rollback call on the returned
// Transaction.
func (c *Container) Begin() *Transaction {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if c.tx == nil {
		c.tx = &Transaction{c: c}
	}
	c.tx.depth++
	return c.tx
}

// Fail marks the transaction as having failed. Rollback calls this
// before committing; a caller driving a multi-step operation under one
// transaction can also call it directly as soon as a step fails, so
// Failed() reports the true outcome even before the outermost Commit.
func (t *Transaction) Fail() {
	t.c.txMu.Lock()
	defer t.c.txMu.Unlock()
	t.failed = true
}

// Failed reports whether Fail (directly, or via Rollback) has been
// called anywhere in this transaction's nesting.
func (t *Transaction) Failed() bool {
	t.c.txMu.Lock()
	defer t.c.txMu.Unlock()
	return t.failed
}

// Commit ends one level of nesting. Only the outermost call (the one
// that brings the depth counter back to zero) actually flushes state;
// inner calls are no-ops by design, so an inner caller's Commit can never
// prematurely persist a transaction an outer caller hasn't finished.
func (t *Transaction) Commit() error {
	c := t.c
	c.txMu.Lock()
	t.depth--
	outermost := t.depth == 0
	if outermost {
		c.tx = nil
	}
	c.txMu.Unlock()

	if !outermost {
		return nil
	}
	// Whether the transaction ultimately failed or succeeded, the
	// outermost unlock flushes exactly once: the caller is responsible
	// for having set c.State to reflect failure before calling Rollback.
	return c.SaveState()
}

// Rollback marks the transaction failed and then commits it, so the
// nesting bookkeeping stays identical whether a caller ultimately
// succeeds or fails.
func (t *Transaction) Rollback() error {
	t.Fail()
	return t.Commit()
}
