package process

// ProcessState represents the state of a process in the system.
type ProcessState string

const (
	// StateReady indicates the process is runnable and waiting for the CPU.
	StateReady ProcessState = "ready"
	// StateRunning indicates the process owns the CPU.
	StateRunning ProcessState = "running"
	// StateBlocked indicates the process waits for an event such as a child exit.
	StateBlocked ProcessState = "blocked"
	// StateSleeping indicates the process waits for a wake-up deadline.
	StateSleeping ProcessState = "sleeping"
	// StateZombie indicates the process has exited but was not reaped yet.
	StateZombie ProcessState = "zombie"
	// StateTerminated indicates the process was reaped. It is absorbing.
	StateTerminated ProcessState = "terminated"
)

// StateTransition represents a valid state transition.
type StateTransition struct {
	From ProcessState
	To   ProcessState
}

// ValidTransitions defines all transitions the scheduler performs.
var ValidTransitions = []StateTransition{
	// Dispatch: Ready -> Running
	{From: StateReady, To: StateRunning},
	// Preempt or yield: Running -> Ready
	{From: StateRunning, To: StateReady},
	// Wait for a child or an I/O event.
	{From: StateRunning, To: StateBlocked},
	{From: StateReady, To: StateBlocked},
	// Sleep until a deadline.
	{From: StateRunning, To: StateSleeping},
	// Wake-up.
	{From: StateBlocked, To: StateReady},
	{From: StateSleeping, To: StateReady},
	// Exit from any live state.
	{From: StateReady, To: StateZombie},
	{From: StateRunning, To: StateZombie},
	{From: StateBlocked, To: StateZombie},
	{From: StateSleeping, To: StateZombie},
	// Reap.
	{From: StateZombie, To: StateTerminated},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to ProcessState) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// IsAlive reports whether s is a state of a process that has not exited.
func (s ProcessState) IsAlive() bool {
	switch s {
	case StateReady, StateRunning, StateBlocked, StateSleeping:
		return true
	}
	return false
}

func (s ProcessState) String() string {
	return string(s)
}
