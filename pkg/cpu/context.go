package cpu

// RFLAGS bits used by the scheduler.
const (
	// FlagReserved is bit 1 of RFLAGS, which always reads as one.
	FlagReserved uint64 = 1 << 1
	// FlagInterrupt is the interrupt-enable flag (IF).
	FlagInterrupt uint64 = 1 << 9
)

// Segment selectors for the flat GDT layout the kernel uses.
const (
	KernelCodeSelector uint16 = 0x08
	KernelDataSelector uint16 = 0x10
	UserCodeSelector   uint16 = 0x18 | 3
	UserDataSelector   uint16 = 0x20 | 3
)

// Context is a snapshot of the registers needed to suspend a thread of
// execution and resume it later. It is a plain value: copying a Context
// copies the whole register file.
type Context struct {
	// General-purpose registers.
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	// RIP is the instruction pointer.
	RIP uint64
	// RFLAGS holds the flags register, including the interrupt flag.
	RFLAGS uint64
	// CR3 is the page-table root loaded for this context.
	CR3 uint64

	// Segment selectors.
	CS, DS, ES, FS, GS, SS uint16
}

// NewContext returns a user-mode context that starts at entry with the
// given stack pointer and interrupts enabled.
func NewContext(entry, stack uint64) Context {
	return Context{
		RIP:    entry,
		RSP:    stack,
		RBP:    stack,
		RFLAGS: FlagReserved | FlagInterrupt,
		CS:     UserCodeSelector,
		DS:     UserDataSelector,
		ES:     UserDataSelector,
		FS:     UserDataSelector,
		GS:     UserDataSelector,
		SS:     UserDataSelector,
	}
}

// NewKernelContext returns a ring-0 context for kernel threads such as the
// idle process.
func NewKernelContext(entry, stack uint64) Context {
	c := NewContext(entry, stack)
	c.CS = KernelCodeSelector
	c.DS = KernelDataSelector
	c.ES = KernelDataSelector
	c.FS = KernelDataSelector
	c.GS = KernelDataSelector
	c.SS = KernelDataSelector
	return c
}

// UserMode reports whether the context executes at privilege level 3.
func (c *Context) UserMode() bool {
	return c.CS&3 == 3
}

// InterruptsEnabled reports whether IF is set in the saved flags.
func (c *Context) InterruptsEnabled() bool {
	return c.RFLAGS&FlagInterrupt != 0
}

// SetReturnValue stores a syscall return value (RAX).
func (c *Context) SetReturnValue(v uint64) {
	c.RAX = v
}
