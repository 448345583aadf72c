package memory

import "sync"

// SimulatedConfig configures a Simulated memory service.
type SimulatedConfig struct {
	// Capacity is the total number of bytes that can be handed out.
	Capacity uint64
	// BaseSize is the footprint of a freshly created address space.
	BaseSize uint64
}

// DefaultSimulatedConfig returns a 256 MiB pool with 64 KiB address spaces.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Capacity: 256 * 1024 * 1024,
		BaseSize: 64 * 1024,
	}
}

type space struct {
	owner uint32
	bytes uint64
}

// Simulated is an in-memory Service with a fixed byte budget. Copies are
// eager: a fork charges the full size of the parent again.
type Simulated struct {
	mu          sync.Mutex
	cfg         SimulatedConfig
	used        uint64
	next        Handle
	spaces      map[Handle]*space
	active      Handle
	activations uint64
}

// NewSimulated creates a simulated memory service.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	return &Simulated{
		cfg:    cfg,
		next:   KernelSpace + 1,
		spaces: make(map[Handle]*space),
		active: KernelSpace,
	}
}

func (s *Simulated) charge(bytes uint64) error {
	if s.used+bytes > s.cfg.Capacity {
		return ErrOutOfMemory
	}
	s.used += bytes
	return nil
}

// CreateAddressSpace allocates a new address space of BaseSize bytes.
func (s *Simulated) CreateAddressSpace(pid uint32) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.charge(s.cfg.BaseSize); err != nil {
		return InvalidHandle, err
	}
	h := s.next
	s.next++
	s.spaces[h] = &space{owner: pid, bytes: s.cfg.BaseSize}
	return h, nil
}

// DestroyAddressSpace releases h. Unknown handles and the kernel space are
// ignored.
func (s *Simulated) DestroyAddressSpace(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[h]
	if !ok {
		return
	}
	s.used -= sp.bytes
	delete(s.spaces, h)
	if s.active == h {
		s.active = KernelSpace
	}
}

// ActivateAddressSpace records h as the live address space.
func (s *Simulated) ActivateAddressSpace(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = h
	s.activations++
}

// CopyAddressSpace duplicates h.
func (s *Simulated) CopyAddressSpace(h Handle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.spaces[h]
	if !ok {
		return InvalidHandle, ErrUnknownHandle
	}
	if err := s.charge(src.bytes); err != nil {
		return InvalidHandle, err
	}
	n := s.next
	s.next++
	s.spaces[n] = &space{owner: src.owner, bytes: src.bytes}
	return n, nil
}

// QueryMemoryUsage returns the bytes charged to h.
func (s *Simulated) QueryMemoryUsage(h Handle) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, ok := s.spaces[h]; ok {
		return sp.bytes
	}
	return 0
}

// Grow extends h by bytes.
func (s *Simulated) Grow(h Handle, bytes uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[h]
	if !ok {
		return ErrUnknownHandle
	}
	if err := s.charge(bytes); err != nil {
		return err
	}
	sp.bytes += bytes
	return nil
}

// Active returns the live address space.
func (s *Simulated) Active() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Activations returns how many times an address space was activated.
func (s *Simulated) Activations() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activations
}

// Used returns the total bytes in use.
func (s *Simulated) Used() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Spaces returns the number of live address spaces.
func (s *Simulated) Spaces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spaces)
}

var _ Service = (*Simulated)(nil)
