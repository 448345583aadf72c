package process

import (
	"context"
	"fmt"
)

// Wait blocks parentPID until childPID is a Zombie, reaps the child and
// returns its exit code. A child that already exited is reaped without
// blocking. While waiting the parent is Blocked; it is Ready again when
// Wait returns.
//
// Wait fails with ErrInvalidProcessID, without blocking, if childPID is not
// a child of parentPID. It returns ctx.Err() if ctx is done first and
// ErrInvalidState if the parent exits while waiting.
func (m *Manager) Wait(ctx context.Context, parentPID, childPID PID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, err := m.lookup(parentPID)
	if err != nil {
		return 0, err
	}
	if !parent.HasChild(childPID) {
		return 0, fmt.Errorf("%w: pid %d is not a child of %d", ErrInvalidProcessID, childPID, parentPID)
	}
	child, ok := m.table[childPID]
	if !ok {
		invariant(m.log, childPID, "child of pid %d missing from table", parentPID)
	}
	if child.State == StateZombie {
		return m.reap(child), nil
	}

	if err := m.beginWait(parent, childPID); err != nil {
		return 0, err
	}
	defer m.endWait(parent)
	stop := m.wakeOnDone(ctx)
	defer stop()

	for {
		if !parent.IsAlive() {
			return 0, fmt.Errorf("%w: pid %d exited while waiting", ErrInvalidState, parentPID)
		}
		if !parent.HasChild(childPID) {
			return 0, fmt.Errorf("%w: pid %d is no longer a child of %d", ErrInvalidProcessID, childPID, parentPID)
		}
		if child.State == StateZombie {
			return m.reap(child), nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		m.cond.Wait()
	}
}

// WaitAny blocks parentPID until any of its children is a Zombie, reaps it
// and returns its PID and exit code. It fails with ErrInvalidState if the
// parent has no children.
func (m *Manager) WaitAny(ctx context.Context, parentPID PID) (PID, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, err := m.lookup(parentPID)
	if err != nil {
		return NoPID, 0, err
	}
	if len(parent.Children) == 0 {
		return NoPID, 0, fmt.Errorf("%w: pid %d has no children", ErrInvalidState, parentPID)
	}
	if z := m.zombieChild(parent); z != nil {
		return z.PID, m.reap(z), nil
	}

	if err := m.beginWait(parent, NoPID); err != nil {
		return NoPID, 0, err
	}
	defer m.endWait(parent)
	stop := m.wakeOnDone(ctx)
	defer stop()

	for {
		if !parent.IsAlive() {
			return NoPID, 0, fmt.Errorf("%w: pid %d exited while waiting", ErrInvalidState, parentPID)
		}
		if z := m.zombieChild(parent); z != nil {
			return z.PID, m.reap(z), nil
		}
		if len(parent.Children) == 0 {
			return NoPID, 0, fmt.Errorf("%w: pid %d has no children", ErrInvalidState, parentPID)
		}
		if err := ctx.Err(); err != nil {
			return NoPID, 0, err
		}
		m.cond.Wait()
	}
}

func (m *Manager) zombieChild(parent *PCB) *PCB {
	for _, cpid := range parent.Children {
		if c, ok := m.table[cpid]; ok && c.State == StateZombie {
			return c
		}
	}
	return nil
}

// beginWait blocks the parent and takes it off the CPU if it was running.
func (m *Manager) beginWait(parent *PCB, waitFor PID) error {
	if parent.waiting {
		return fmt.Errorf("%w: pid %d is already waiting", ErrInvalidState, parent.PID)
	}
	if parent.State != StateRunning && parent.State != StateReady {
		return fmt.Errorf("%w: pid %d cannot wait in state %s", ErrInvalidState, parent.PID, parent.State)
	}
	parent.waiting = true
	parent.waitFor = waitFor
	m.blockLocked(parent)
	m.log.Debug().
		Uint32("pid", uint32(parent.PID)).
		Uint32("wait_for", uint32(waitFor)).
		Msg("waiting for child")
	return nil
}

func (m *Manager) endWait(parent *PCB) {
	parent.waiting = false
	parent.waitFor = NoPID
	if parent.State == StateBlocked {
		m.sched.Enqueue(parent)
	}
}
