// Package memory defines the address-space contract the process subsystem
// consumes, together with a simulated implementation for tests and the demo.
package memory

import "errors"

// Handle is an opaque address-space reference owned by one process.
type Handle uint64

const (
	// InvalidHandle is never returned by a successful allocation.
	InvalidHandle Handle = 0
	// KernelSpace is the shared kernel address space used by kernel
	// threads. It is never destroyed.
	KernelSpace Handle = 1
)

// Memory errors.
var (
	ErrOutOfMemory   = errors.New("out of memory")
	ErrUnknownHandle = errors.New("unknown address space")
)

// Service is the memory collaborator of the scheduler.
type Service interface {
	// CreateAddressSpace allocates a fresh address space for pid.
	CreateAddressSpace(pid uint32) (Handle, error)
	// DestroyAddressSpace releases h. Ownership passes to the service.
	DestroyAddressSpace(h Handle)
	// ActivateAddressSpace makes h the live translation root.
	ActivateAddressSpace(h Handle)
	// CopyAddressSpace duplicates h for fork.
	CopyAddressSpace(h Handle) (Handle, error)
	// QueryMemoryUsage returns the bytes charged to h.
	QueryMemoryUsage(h Handle) uint64
	// Grow extends h by bytes (heap growth).
	Grow(h Handle, bytes uint64) error
}
