package process

import "fmt"

// Signal represents a signal number. Only the signals needed for
// termination and wake-up are delivered.
type Signal int

const (
	// SignalKill terminates the process immediately.
	SignalKill Signal = 9
	// SignalTerminate requests termination.
	SignalTerminate Signal = 15
	// SignalChild is queued on the parent when a child exits.
	SignalChild Signal = 17
	// SignalContinue wakes a blocked or sleeping process.
	SignalContinue Signal = 18
	// SignalCPULimit is the termination reason for exceeding MaxCPUTime.
	SignalCPULimit Signal = 24
)

// ExitCodeForSignal returns the exit code of a process killed by sig.
func ExitCodeForSignal(sig Signal) int {
	return 128 + int(sig)
}

// SignalSet represents a set of signals.
type SignalSet map[Signal]bool

// Has returns true if the signal set contains the given signal.
func (s SignalSet) Has(sig Signal) bool {
	return s[sig]
}

// Add adds a signal to the set.
func (s SignalSet) Add(sig Signal) {
	s[sig] = true
}

// Remove removes a signal from the set.
func (s SignalSet) Remove(sig Signal) {
	delete(s, sig)
}

// Kill delivers sig to pid. SignalKill and SignalTerminate terminate the
// process with exit code 128+sig; SignalContinue wakes it.
func (m *Manager) Kill(pid PID, sig Signal) error {
	switch sig {
	case SignalKill, SignalTerminate:
		return m.Exit(pid, ExitCodeForSignal(sig))
	case SignalContinue:
		return m.Wake(pid)
	}
	return fmt.Errorf("%w: %d", ErrInvalidSignal, sig)
}

// TakeSignal clears sig from the pending set of pid and reports whether it
// was pending.
func (m *Manager) TakeSignal(pid PID, sig Signal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return false, err
	}
	pending := p.PendingSignals.Has(sig)
	p.PendingSignals.Remove(sig)
	return pending, nil
}
