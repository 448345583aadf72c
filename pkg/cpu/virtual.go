package cpu

import "sync"

// Virtual is a simulated CPU. Loading a context makes it "run" that context;
// saving reads the registers back, including any changes made through
// Registers while it was running.
type Virtual struct {
	id    int
	mu    sync.Mutex
	regs  Context
	loads uint64
}

// NewVirtual creates a simulated CPU with interrupts enabled and all other
// registers zeroed.
func NewVirtual(id int) *Virtual {
	return &Virtual{
		id:   id,
		regs: Context{RFLAGS: FlagReserved | FlagInterrupt, CS: KernelCodeSelector},
	}
}

// ID returns the logical CPU number.
func (v *Virtual) ID() int { return v.id }

// DisableInterrupts clears IF and reports the previous value.
func (v *Virtual) DisableInterrupts() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	was := v.regs.RFLAGS&FlagInterrupt != 0
	v.regs.RFLAGS &^= FlagInterrupt
	return was
}

// InterruptsEnabled reports whether IF is currently set.
func (v *Virtual) InterruptsEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs.RFLAGS&FlagInterrupt != 0
}

// Save copies the live registers into ctx.
func (v *Virtual) Save(ctx *Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	*ctx = v.regs
}

// Load replaces the live registers with ctx.
func (v *Virtual) Load(ctx *Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.regs = *ctx
	v.loads++
}

// Registers returns a copy of the live registers.
func (v *Virtual) Registers() Context {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs
}

// Execute applies fn to the live registers, standing in for the instructions
// the running thread executes between two switches.
func (v *Virtual) Execute(fn func(regs *Context)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(&v.regs)
}

// Loads returns how many contexts have been loaded.
func (v *Virtual) Loads() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loads
}

var _ CPU = (*Virtual)(nil)
