package process

import (
	"fmt"
	"math"
	"time"

	"kernsched/pkg/cpu"
	"kernsched/pkg/memory"
)

// PID is a process identifier.
type PID uint32

const (
	// IdlePID is the always-runnable idle process.
	IdlePID PID = 0
	// InitPID is the first kernel-spawned process and adopts orphans.
	InitPID PID = 1
	// NoPID marks the absence of a process, e.g. a missing parent.
	NoPID PID = math.MaxUint32
)

// Priority represents process scheduling priority. The zero value means
// "unset" and resolves to PriorityNormal.
type Priority int

const (
	// PriorityIdle is only used by the idle process and background work.
	PriorityIdle Priority = iota + 1
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

const numPriorities = int(PriorityRealtime)

// Valid reports whether p is one of the defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityIdle && p <= PriorityRealtime
}

func (p Priority) level() int { return int(p) - 1 }

func (p Priority) String() string {
	switch p {
	case PriorityIdle:
		return "idle"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityRealtime:
		return "realtime"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Stats holds the CPU and memory accounting of a process.
type Stats struct {
	// UserTime is CPU time spent at user privilege.
	UserTime time.Duration
	// KernelTime is CPU time spent at kernel privilege.
	KernelTime time.Duration
	// PageFaults counts faults reported by the memory collaborator.
	PageFaults uint64
	// ContextSwitches counts how many times the process was dispatched.
	ContextSwitches uint64
	// CreatedAt is when the process was created.
	CreatedAt time.Time
}

// CPUTime returns user plus kernel time.
func (s Stats) CPUTime() time.Duration {
	return s.UserTime + s.KernelTime
}

// PCB is the process control block, the authoritative record of one
// process. Apart from construction it is only mutated with the manager lock
// held.
type PCB struct {
	// PID is the unique process identifier.
	PID PID
	// ParentPID is the parent, NoPID if there is none. It does not own the
	// parent.
	ParentPID PID
	// Name is a descriptive name for debugging.
	Name string
	// State is the current process state.
	State ProcessState
	// Priority is the scheduling priority.
	Priority Priority
	// ExitCode is valid once the process is a zombie.
	ExitCode int
	// Context holds the registers while the process is not running.
	Context cpu.Context
	// AddressSpace is owned by the process until it exits.
	AddressSpace memory.Handle
	// Limits are the per-process resource limits.
	Limits ResourceLimits
	// Stats is the CPU and memory accounting.
	Stats Stats
	// Children holds the PIDs of children that were not reaped yet.
	Children []PID
	// TimeSliceRemaining is what is left of the current time slice.
	TimeSliceRemaining time.Duration
	// Orphaned is set when the process was re-parented after its parent exited.
	Orphaned bool
	// ZombieAt is the uptime at which the process exited.
	ZombieAt time.Duration

	// Slots owned by syscalls.
	HeapSize       uint64
	OpenHandles    int
	Env            map[string]string
	PendingSignals SignalSet

	mem memory.Service

	// scheduler bookkeeping
	readyTick  uint64
	burstCPU   time.Duration
	wakeAt     time.Duration
	sleepIndex int

	// wait bookkeeping
	waiting bool
	waitFor PID
}

// NewPCB builds a PCB for pid with a fresh address space from mem. The
// process starts at entry in user mode and is Ready once this returns.
func NewPCB(mem memory.Service, pid, parent PID, name string, entry uint64) (*PCB, error) {
	space, err := mem.CreateAddressSpace(uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("%w: address space for pid %d: %v", ErrInsufficientMemory, pid, err)
	}
	p := newPCB(pid, parent, name, space, cpu.NewContext(entry, 0))
	p.mem = mem
	return p, nil
}

func newPCB(pid, parent PID, name string, space memory.Handle, ctx cpu.Context) *PCB {
	ctx.CR3 = uint64(space)
	return &PCB{
		PID:            pid,
		ParentPID:      parent,
		Name:           name,
		State:          StateReady,
		Priority:       PriorityNormal,
		Context:        ctx,
		AddressSpace:   space,
		Limits:         DefaultLimits(),
		Stats:          Stats{CreatedAt: time.Now()},
		Env:            make(map[string]string),
		PendingSignals: make(SignalSet),
		sleepIndex:     -1,
		waitFor:        NoPID,
	}
}

// SetState writes the state without checking the transition. Transition
// legality is the scheduler's job. Entering Running counts a context switch.
func (p *PCB) SetState(state ProcessState) {
	if p.State == StateTerminated {
		panic(fmt.Sprintf("process: pid %d: state change %s -> %s after termination", p.PID, p.State, state))
	}
	p.State = state
	if state == StateRunning {
		p.Stats.ContextSwitches++
	}
}

// CanTransition checks if the process can transition to the given state.
func (p *PCB) CanTransition(to ProcessState) bool {
	return IsValidTransition(p.State, to)
}

// AddChild records pid as a child, subject to Limits.MaxChildren.
func (p *PCB) AddChild(pid PID) error {
	if err := p.Limits.CheckChildren(len(p.Children)); err != nil {
		return err
	}
	p.Children = append(p.Children, pid)
	return nil
}

// adoptChild records pid without a limit check; init must accept orphans.
func (p *PCB) adoptChild(pid PID) {
	if !p.HasChild(pid) {
		p.Children = append(p.Children, pid)
	}
}

// RemoveChild removes pid from the child list. Removing an absent pid is a
// no-op.
func (p *PCB) RemoveChild(pid PID) {
	for i, c := range p.Children {
		if c == pid {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return
		}
	}
}

// HasChild reports whether pid is a child of p.
func (p *PCB) HasChild(pid PID) bool {
	for _, c := range p.Children {
		if c == pid {
			return true
		}
	}
	return false
}

// Terminate turns the process into a zombie with the given exit code. The
// address space is released by the manager, not here.
func (p *PCB) Terminate(exitCode int) {
	p.SetState(StateZombie)
	p.ExitCode = exitCode
}

// MemoryUsage returns the bytes charged to the address space.
func (p *PCB) MemoryUsage() uint64 {
	if p.mem == nil || p.AddressSpace == memory.InvalidHandle || p.AddressSpace == memory.KernelSpace {
		return 0
	}
	return p.mem.QueryMemoryUsage(p.AddressSpace)
}

// IsAlive returns true if the process has not exited.
func (p *PCB) IsAlive() bool {
	return p.State.IsAlive()
}

// IsKernelThread reports whether the process runs in the kernel address space.
func (p *PCB) IsKernelThread() bool {
	return p.AddressSpace == memory.KernelSpace
}

// ProcessInfo is a read-only snapshot of a PCB.
type ProcessInfo struct {
	PID          PID
	ParentPID    PID
	Name         string
	State        ProcessState
	Priority     Priority
	ExitCode     int
	Stats        Stats
	Limits       ResourceLimits
	Children     []PID
	MemoryUsage  uint64
	HeapSize     uint64
	OpenHandles  int
	Orphaned     bool
	KernelThread bool
}

// Info returns a snapshot of the PCB.
func (p *PCB) Info() ProcessInfo {
	children := make([]PID, len(p.Children))
	copy(children, p.Children)
	return ProcessInfo{
		PID:          p.PID,
		ParentPID:    p.ParentPID,
		Name:         p.Name,
		State:        p.State,
		Priority:     p.Priority,
		ExitCode:     p.ExitCode,
		Stats:        p.Stats,
		Limits:       p.Limits,
		Children:     children,
		MemoryUsage:  p.MemoryUsage(),
		HeapSize:     p.HeapSize,
		OpenHandles:  p.OpenHandles,
		Orphaned:     p.Orphaned,
		KernelThread: p.IsKernelThread(),
	}
}
