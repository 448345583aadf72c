package process

import (
	"kernsched/pkg/cpu"
	"kernsched/pkg/memory"
)

// This file is the only place that reads or writes live CPU registers.

// switchContext hands the CPU from current to next. current is nil when the
// process that last ran has exited. On hardware the call returns into
// next's stack; current resumes right after its own save step the next time
// it is switched in.
func switchContext(c cpu.CPU, mem memory.Service, current, next *PCB) {
	wasEnabled := c.DisableInterrupts()
	if current != nil {
		c.Save(&current.Context)
		// The live IF is already cleared; keep the value the process had.
		if wasEnabled {
			current.Context.RFLAGS |= cpu.FlagInterrupt
		}
	}

	if current == nil || current.AddressSpace != next.AddressSpace {
		mem.ActivateAddressSpace(next.AddressSpace)
	}

	// Loading RFLAGS re-enables interrupts if next had them enabled.
	c.Load(&next.Context)
}

// syncContext copies the live registers of the running process p into its
// PCB so they can be duplicated by fork.
func syncContext(c cpu.CPU, p *PCB) {
	c.Save(&p.Context)
}
