/*
Package process implements the process control block, the scheduler core and
the process manager of a small preemptible kernel.

The subsystem is built from four parts:

  - PCB: the authoritative record of one process (registers, address space,
    limits, accounting, parent and children)
  - Scheduler: a per-CPU multi-level ready queue with round-robin time
    slices, strict priority dominance and a sleep queue
  - switchContext: the only code that saves and loads live CPU registers
  - Manager: the process table and the operations the syscall layer uses

# Process States

	Ready -> Running -> Ready             (dispatch, preemption, yield)
	Running -> Blocked | Sleeping         (wait, sleep)
	Blocked | Sleeping -> Ready           (wake-up)
	any live state -> Zombie              (exit)
	Zombie -> Terminated                  (reap)

Terminated is absorbing: a terminated PCB is removed from the table and any
further state change panics.

# Scheduling

Levels are scanned from PriorityRealtime down to PriorityIdle and the head of
the first non-empty level runs. Within a level processes run in the order they
became Ready. When nothing is Ready the idle process (PID 0) runs; it is never
queued. Time is only advanced by Manager.Tick, which makes the scheduler
deterministic under test.

# Usage

	m, err := process.NewManager(process.DefaultConfig(), cpu.NewVirtual(0),
		memory.NewSimulated(memory.DefaultSimulatedConfig()))
	if err != nil {
		// Handle error
	}

	pid, _ := m.CreateProcess(0x400000, 0x7fff0000)
	m.Schedule()                 // pid is Running
	child, _ := m.Fork(pid)
	m.Exit(child, 42)
	code, _ := m.Wait(ctx, pid, child) // 42

# Locking

A Manager guards everything with one lock. Sinks are called with the lock
held and must not call back into the Manager.
*/
package process
