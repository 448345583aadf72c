// Package telemetry carries scheduler events from the process subsystem to
// observers. The scheduler only sees the Sink interface; this package also
// provides sinks backed by zerolog and OpenTelemetry, an asynchronous
// wrapper, and an in-memory recorder for tests.
package telemetry

import (
	"fmt"
	"time"
)

// Kind identifies a scheduler event.
type Kind string

const (
	// KindProcessCreated is emitted when a PCB enters the table.
	KindProcessCreated Kind = "process_created"
	// KindProcessTerminated is emitted when a process becomes a zombie.
	KindProcessTerminated Kind = "process_terminated"
	// KindStateChanged is emitted on every process state transition.
	KindStateChanged Kind = "state_changed"
	// KindContextSwitch is emitted when the CPU moves between processes.
	KindContextSwitch Kind = "context_switch"
)

// Event is one scheduler event. Fields that do not apply to Kind are zero.
type Event struct {
	Kind Kind
	Time time.Time
	CPU  int
	// PID is the subject process.
	PID uint32
	// Code is the exit code of a ProcessTerminated event.
	Code int
	// From and To are the states of a StateChanged event.
	From string
	To   string
	// FromPID and ToPID are the processes of a ContextSwitch event.
	FromPID uint32
	ToPID   uint32
}

// ProcessCreated builds a ProcessCreated event.
func ProcessCreated(at time.Time, pid uint32) Event {
	return Event{Kind: KindProcessCreated, Time: at, PID: pid}
}

// ProcessTerminated builds a ProcessTerminated event.
func ProcessTerminated(at time.Time, pid uint32, code int) Event {
	return Event{Kind: KindProcessTerminated, Time: at, PID: pid, Code: code}
}

// StateChanged builds a StateChanged event.
func StateChanged(at time.Time, pid uint32, from, to string) Event {
	return Event{Kind: KindStateChanged, Time: at, PID: pid, From: from, To: to}
}

// ContextSwitch builds a ContextSwitch event.
func ContextSwitch(at time.Time, cpu int, from, to uint32) Event {
	return Event{Kind: KindContextSwitch, Time: at, CPU: cpu, PID: to, FromPID: from, ToPID: to}
}

func (e Event) String() string {
	switch e.Kind {
	case KindProcessTerminated:
		return fmt.Sprintf("%s pid=%d code=%d", e.Kind, e.PID, e.Code)
	case KindStateChanged:
		return fmt.Sprintf("%s pid=%d %s->%s", e.Kind, e.PID, e.From, e.To)
	case KindContextSwitch:
		return fmt.Sprintf("%s cpu=%d %d->%d", e.Kind, e.CPU, e.FromPID, e.ToPID)
	default:
		return fmt.Sprintf("%s pid=%d", e.Kind, e.PID)
	}
}
