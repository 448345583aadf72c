package cpu

// CPU is the live register file of one logical processor. It is the only
// hardware surface the scheduler touches, and only from the context-switch
// path.
type CPU interface {
	// ID returns the logical CPU number.
	ID() int
	// DisableInterrupts clears IF and reports whether it was set before.
	DisableInterrupts() bool
	// Save copies the live registers into ctx.
	Save(ctx *Context)
	// Load copies ctx into the live registers, RFLAGS included, so the
	// interrupt flag ends up as it was in the snapshot.
	Load(ctx *Context)
}
