package process

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"kernsched/pkg/cpu"
	"kernsched/pkg/memory"
	"kernsched/pkg/telemetry"
)

// CreateConfig contains configuration for creating a new process.
type CreateConfig struct {
	// Name is a descriptive name. Defaults to "proc-<pid>".
	Name string
	// EntryPoint is the initial instruction pointer.
	EntryPoint uint64
	// StackPointer is the initial stack pointer.
	StackPointer uint64
	// Priority is the scheduling priority. Zero means PriorityNormal.
	Priority Priority
	// Limits overrides the configured default limits.
	Limits *ResourceLimits
	// Kernel creates a kernel thread sharing the kernel address space.
	Kernel bool
	// Parent registers the new process as a child of Parent. The zero value
	// (the idle PID) means no parent.
	Parent PID
	// Env is copied into the new process.
	Env map[string]string
}

var deadlockOnce sync.Once

// DetectDeadlocks sets go-deadlock detection for the whole program. Only
// the first call has an effect, since the option is read by every lock
// without synchronization. NewManager calls it with Config.DetectDeadlocks.
func DetectDeadlocks(enabled bool) {
	deadlockOnce.Do(func() {
		deadlock.Opts.Disable = !enabled
	})
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithSink sets the telemetry sink.
func WithSink(sink telemetry.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithClock sets the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the process table and the scheduler of one CPU. It is the
// only component that inserts PCBs into or removes them from the table.
//
// All state is guarded by a single lock. Manager methods must not be called
// from a telemetry sink, since sinks run with the lock held.
type Manager struct {
	mu   deadlock.Mutex
	cond *sync.Cond

	cfg    *Config
	limits ResourceLimits

	table   map[PID]*PCB
	nextPID PID
	reaped  uint64

	sched *Scheduler
	cpu   cpu.CPU
	mem   memory.Service
	sink  telemetry.Sink
	log   zerolog.Logger
	now   func() time.Time
}

// NewManager creates a process manager driving c. The idle process is
// created and dispatched before it returns.
func NewManager(cfg *Config, c cpu.CPU, mem memory.Service, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limits, err := cfg.Limits.ResourceLimits()
	if err != nil {
		return nil, err
	}
	DetectDeadlocks(cfg.DetectDeadlocks)

	m := &Manager{
		cfg:     cfg,
		limits:  limits,
		table:   make(map[PID]*PCB),
		nextPID: InitPID,
		cpu:     c,
		mem:     mem,
		sink:    telemetry.Nop{},
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cond = sync.NewCond(&m.mu)
	m.log = m.log.With().Int("cpu", c.ID()).Logger()

	idle := newPCB(IdlePID, NoPID, "idle", memory.KernelSpace, cpu.NewKernelContext(0, 0))
	idle.mem = mem
	idle.Limits = ResourceLimits{}
	idle.Stats.CreatedAt = m.now()
	m.table[IdlePID] = idle

	m.sched = NewScheduler(SchedulerConfig{
		CPU:       c,
		Memory:    mem,
		Sink:      m.sink,
		Log:       m.log,
		TimeSlice: cfg.TimeSlice,
		Now:       m.now,
	}, idle)
	m.sink.Emit(telemetry.ProcessCreated(m.now(), uint32(IdlePID)))
	m.sched.Schedule()

	m.log.Info().
		Dur("time_slice", cfg.TimeSlice).
		Int("max_processes", cfg.MaxProcesses).
		Msg("process manager started")
	return m, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() *Config {
	return m.cfg
}

func (m *Manager) lookup(pid PID) (*PCB, error) {
	p, ok := m.table[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", ErrProcessNotFound, pid)
	}
	return p, nil
}

// reserve checks that one more process fits and returns the PID it would
// get. Nothing is mutated.
func (m *Manager) reserve() (PID, error) {
	if len(m.table) >= m.cfg.MaxProcesses {
		return NoPID, fmt.Errorf("%w: %d processes", ErrTooManyProcesses, len(m.table))
	}
	if m.nextPID >= NoPID {
		return NoPID, fmt.Errorf("%w: pid space exhausted", ErrTooManyProcesses)
	}
	pid := m.nextPID
	if _, exists := m.table[pid]; exists {
		return NoPID, fmt.Errorf("%w: pid %d", ErrProcessAlreadyExists, pid)
	}
	return pid, nil
}

// insert commits a reserved PID and makes p Ready.
func (m *Manager) insert(p *PCB) {
	m.nextPID = p.PID + 1
	p.mem = m.mem
	p.Stats.CreatedAt = m.now()
	m.table[p.PID] = p
	m.sched.Enqueue(p)
	m.sink.Emit(telemetry.ProcessCreated(m.now(), uint32(p.PID)))
}

// CreateProcess creates a user process starting at entry with the given
// stack pointer and inserts it Ready.
func (m *Manager) CreateProcess(entry, stack uint64) (PID, error) {
	return m.Spawn(&CreateConfig{EntryPoint: entry, StackPointer: stack})
}

// Spawn creates a process with the given configuration and inserts it
// Ready.
func (m *Manager) Spawn(config *CreateConfig) (PID, error) {
	if config == nil {
		config = &CreateConfig{}
	}
	prio := config.Priority
	if prio == 0 {
		prio = PriorityNormal
	}
	if !prio.Valid() {
		return NoPID, fmt.Errorf("%w: priority %d", ErrInvalidState, prio)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pid, err := m.reserve()
	if err != nil {
		return NoPID, err
	}

	var parent *PCB
	if config.Parent != IdlePID && config.Parent != NoPID {
		if parent, err = m.lookup(config.Parent); err != nil {
			return NoPID, err
		}
		if !parent.IsAlive() {
			return NoPID, fmt.Errorf("%w: parent %d is %s", ErrInvalidState, parent.PID, parent.State)
		}
		if err := parent.Limits.CheckChildren(len(parent.Children)); err != nil {
			return NoPID, fmt.Errorf("spawn from pid %d: %w", parent.PID, err)
		}
	}

	space := memory.KernelSpace
	ctx := cpu.NewKernelContext(config.EntryPoint, config.StackPointer)
	if !config.Kernel {
		if space, err = m.mem.CreateAddressSpace(uint32(pid)); err != nil {
			return NoPID, fmt.Errorf("%w: address space for pid %d: %v", ErrInsufficientMemory, pid, err)
		}
		ctx = cpu.NewContext(config.EntryPoint, config.StackPointer)
	}

	name := config.Name
	if name == "" {
		name = fmt.Sprintf("proc-%d", pid)
	}
	parentPID := NoPID
	if parent != nil {
		parentPID = parent.PID
	}
	p := newPCB(pid, parentPID, name, space, ctx)
	p.Priority = prio
	p.Limits = m.limits
	if config.Limits != nil {
		p.Limits = *config.Limits
	}
	for k, v := range config.Env {
		p.Env[k] = v
	}
	if parent != nil {
		// Checked above.
		_ = parent.AddChild(pid)
	}
	m.insert(p)

	m.log.Info().
		Uint32("pid", uint32(pid)).
		Uint32("parent_pid", uint32(parentPID)).
		Str("name", name).
		Str("priority", prio.String()).
		Bool("kernel", config.Kernel).
		Msg("process created")
	return pid, nil
}

// Fork duplicates parentPID. The child gets a copy of the parent's address
// space and registers, with RAX set to 0, and is inserted Ready. Table
// capacity and the parent's child limit are checked before anything is
// allocated.
func (m *Manager) Fork(parentPID PID) (PID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, err := m.lookup(parentPID)
	if err != nil {
		return NoPID, err
	}
	if !parent.IsAlive() || parent.PID == IdlePID {
		return NoPID, fmt.Errorf("%w: cannot fork pid %d in state %s", ErrInvalidState, parent.PID, parent.State)
	}
	pid, err := m.reserve()
	if err != nil {
		return NoPID, err
	}
	if err := parent.Limits.CheckChildren(len(parent.Children)); err != nil {
		m.log.Warn().Uint32("pid", uint32(parent.PID)).Err(err).Msg("fork refused")
		return NoPID, fmt.Errorf("fork pid %d: %w", parent.PID, err)
	}

	space := parent.AddressSpace
	if !parent.IsKernelThread() {
		if space, err = m.mem.CopyAddressSpace(parent.AddressSpace); err != nil {
			return NoPID, fmt.Errorf("%w: copy address space of pid %d: %v", ErrInsufficientMemory, parent.PID, err)
		}
	}

	if parent == m.sched.Current() {
		syncContext(m.cpu, parent)
	}
	child := newPCB(pid, parent.PID, parent.Name, space, parent.Context)
	child.Context.SetReturnValue(0)
	child.Priority = parent.Priority
	child.Limits = parent.Limits
	child.HeapSize = parent.HeapSize
	child.OpenHandles = parent.OpenHandles
	for k, v := range parent.Env {
		child.Env[k] = v
	}
	// Checked above.
	_ = parent.AddChild(pid)
	m.insert(child)

	m.log.Info().
		Uint32("pid", uint32(pid)).
		Uint32("parent_pid", uint32(parent.PID)).
		Msg("process forked")
	return pid, nil
}

// Exit terminates pid with the given exit code. The process becomes a
// Zombie until it is reaped by Wait or CleanupOrphans.
func (m *Manager) Exit(pid PID, code int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return err
	}
	if pid == IdlePID || !p.IsAlive() {
		return fmt.Errorf("%w: cannot exit pid %d in state %s", ErrInvalidState, pid, p.State)
	}
	m.exitLocked(p, code)
	return nil
}

func (m *Manager) exitLocked(p *PCB, code int) {
	m.sched.Terminate(p, code)
	p.ZombieAt = m.sched.Uptime()

	if p.AddressSpace != memory.KernelSpace {
		m.mem.DestroyAddressSpace(p.AddressSpace)
		p.AddressSpace = memory.InvalidHandle
	}
	p.HeapSize = 0
	p.OpenHandles = 0

	m.reparentChildren(p)

	if parent, ok := m.table[p.ParentPID]; ok && parent.IsAlive() {
		parent.PendingSignals.Add(SignalChild)
		if parent.waiting && parent.State == StateBlocked && (parent.waitFor == NoPID || parent.waitFor == p.PID) {
			m.sched.Enqueue(parent)
		}
	}

	m.sink.Emit(telemetry.ProcessTerminated(m.now(), uint32(p.PID), code))
	m.log.Info().
		Uint32("pid", uint32(p.PID)).
		Int("exit_code", code).
		Dur("cpu_time", p.Stats.CPUTime()).
		Msg("process exited")
	m.cond.Broadcast()
}

// reparentChildren hands the children of p to init, or leaves them without
// a parent when init is gone or p is init.
func (m *Manager) reparentChildren(p *PCB) {
	if len(p.Children) == 0 {
		return
	}
	adopter, ok := m.table[InitPID]
	if ok && (adopter == p || !adopter.IsAlive()) {
		adopter = nil
	}
	for _, cpid := range p.Children {
		c, ok := m.table[cpid]
		if !ok {
			continue
		}
		c.Orphaned = true
		if adopter != nil {
			c.ParentPID = InitPID
			adopter.adoptChild(cpid)
		} else {
			c.ParentPID = NoPID
		}
	}
	m.log.Debug().
		Uint32("pid", uint32(p.PID)).
		Int("children", len(p.Children)).
		Msg("children reparented")
	p.Children = nil
}

// reap removes a Zombie from the table and returns its exit code.
func (m *Manager) reap(p *PCB) int {
	m.sched.Reap(p)
	delete(m.table, p.PID)
	if parent, ok := m.table[p.ParentPID]; ok {
		parent.RemoveChild(p.PID)
	}
	m.reaped++
	m.log.Debug().Uint32("pid", uint32(p.PID)).Int("exit_code", p.ExitCode).Msg("process reaped")
	return p.ExitCode
}

// CleanupOrphans reaps Zombies nobody will wait for: orphans adopted by
// init and processes without a parent, once they have been Zombie for at
// least OrphanReapAge of uptime. It returns the number reaped.
func (m *Manager) CleanupOrphans() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.sched.Uptime()
	var victims []*PCB
	for _, p := range m.table {
		if p.State != StateZombie || now-p.ZombieAt < m.cfg.OrphanReapAge {
			continue
		}
		if !p.Orphaned && p.ParentPID != NoPID {
			continue
		}
		if parent, ok := m.table[p.ParentPID]; ok && parent.waiting &&
			(parent.waitFor == NoPID || parent.waitFor == p.PID) {
			continue
		}
		victims = append(victims, p)
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].PID < victims[j].PID })
	for _, p := range victims {
		m.reap(p)
	}
	if len(victims) > 0 {
		m.log.Info().Int("reaped", len(victims)).Msg("orphans cleaned up")
	}
	return len(victims)
}

// Tick is the timer interrupt. It charges elapsed to the running process,
// terminates processes over their CPU limit, wakes sleepers and preempts
// when needed. It returns the PID running afterwards.
func (m *Manager) Tick(elapsed time.Duration) PID {
	m.mu.Lock()
	defer m.mu.Unlock()

	overLimit, woken := m.sched.Tick(elapsed)
	for _, p := range overLimit {
		m.log.Warn().
			Uint32("pid", uint32(p.PID)).
			Dur("cpu_time", p.Stats.CPUTime()).
			Dur("limit", p.Limits.MaxCPUTime).
			Msg("cpu time limit exceeded")
		m.exitLocked(p, ExitCodeForSignal(SignalCPULimit))
	}
	m.sched.Preempt()
	if woken > 0 {
		m.cond.Broadcast()
	}
	return m.sched.CurrentPID()
}

// Schedule is an explicit scheduling point. It returns the PID dispatched.
func (m *Manager) Schedule() PID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.Schedule().PID
}

// Yield gives up the CPU: the running process goes to the tail of its
// priority level. It returns the PID dispatched.
func (m *Manager) Yield() PID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.sched.Current(); cur != nil {
		m.log.Debug().Uint32("pid", uint32(cur.PID)).Msg("yield")
	}
	return m.sched.Schedule().PID
}

// Block moves pid to Blocked until Wake is called. Blocking the running
// process reschedules.
func (m *Manager) Block(pid PID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return err
	}
	if pid == IdlePID || (p.State != StateRunning && p.State != StateReady) {
		return fmt.Errorf("%w: cannot block pid %d in state %s", ErrInvalidState, pid, p.State)
	}
	m.blockLocked(p)
	return nil
}

func (m *Manager) blockLocked(p *PCB) {
	running := p == m.sched.Current()
	m.sched.Block(p)
	if running {
		m.sched.Schedule()
	}
}

// Wake makes a Blocked or Sleeping process Ready. Waking a Ready or
// Running process is a no-op, and so is waking a parent blocked in Wait:
// only the exit of the awaited child releases it.
func (m *Manager) Wake(pid PID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return err
	}
	switch p.State {
	case StateBlocked, StateSleeping:
		if p.waiting {
			return nil
		}
		m.sched.Enqueue(p)
		m.cond.Broadcast()
		return nil
	case StateReady, StateRunning:
		return nil
	}
	return fmt.Errorf("%w: cannot wake pid %d in state %s", ErrInvalidState, pid, p.State)
}

// Sleep puts the running process to sleep for d of uptime and blocks until
// it is woken by a tick, by Wake, or until ctx is done. A non-positive d
// yields.
func (m *Manager) Sleep(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.sched.Current()
	if p == nil || p.PID == IdlePID {
		return fmt.Errorf("%w: no process is running", ErrInvalidState)
	}
	if d <= 0 {
		m.sched.Schedule()
		return nil
	}
	m.sched.Sleep(p, m.sched.Uptime()+d)
	m.sched.Schedule()

	stop := m.wakeOnDone(ctx)
	defer stop()
	for p.State == StateSleeping {
		if err := ctx.Err(); err != nil {
			m.sched.Enqueue(p)
			return err
		}
		m.cond.Wait()
	}
	if !p.IsAlive() {
		return fmt.Errorf("%w: pid %d exited while sleeping", ErrInvalidState, p.PID)
	}
	return nil
}

// wakeOnDone broadcasts on the condition variable once ctx is done so that
// blocked callers can observe the cancellation.
func (m *Manager) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
}

// GetState returns the state of pid.
func (m *Manager) GetState(pid PID) (ProcessState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return "", err
	}
	return p.State, nil
}

// GetStats returns the accounting of pid.
func (m *Manager) GetStats(pid PID) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return Stats{}, err
	}
	return p.Stats, nil
}

// GetProcess returns a snapshot of pid.
func (m *Manager) GetProcess(pid PID) (ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return ProcessInfo{}, err
	}
	return p.Info(), nil
}

// Processes returns snapshots of every process in the table ordered by PID.
func (m *Manager) Processes() []ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ProcessInfo, 0, len(m.table))
	for _, p := range m.table {
		infos = append(infos, p.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PID < infos[j].PID })
	return infos
}

// Children returns the unreaped children of pid.
func (m *Manager) Children(pid PID) ([]PID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return nil, err
	}
	children := make([]PID, len(p.Children))
	copy(children, p.Children)
	return children, nil
}

// Count returns the number of processes in the table, idle included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}

// Current returns the running PID, NoPID right after it exited.
func (m *Manager) Current() PID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.CurrentPID()
}

// Uptime returns the monotonic time accumulated from ticks.
func (m *Manager) Uptime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.Uptime()
}

// SchedulerStats returns the statistics of the scheduler core.
func (m *Manager) SchedulerStats() SchedulerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.Stats()
}

// ReadyPIDs returns the Ready PIDs of one priority level in dispatch order.
func (m *Manager) ReadyPIDs(prio Priority) []PID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.ReadyPIDs(prio)
}

// SetPriority changes the priority of pid. A queued process moves to the
// tail of its new level.
func (m *Manager) SetPriority(pid PID, prio Priority) error {
	if !prio.Valid() {
		return fmt.Errorf("%w: priority %d", ErrInvalidState, prio)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return err
	}
	if pid == IdlePID || !p.IsAlive() {
		return fmt.Errorf("%w: cannot change priority of pid %d", ErrInvalidState, pid)
	}
	m.sched.Requeue(p, prio)
	return nil
}

// GrowHeap extends the heap of pid by bytes, subject to Limits.MaxMemory.
func (m *Manager) GrowHeap(pid PID, bytes uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return err
	}
	if !p.IsAlive() || p.IsKernelThread() {
		return fmt.Errorf("%w: pid %d has no heap", ErrInvalidState, pid)
	}
	if err := p.Limits.CheckMemory(p.MemoryUsage(), bytes); err != nil {
		m.log.Warn().Uint32("pid", uint32(pid)).Uint64("bytes", bytes).Err(err).Msg("heap growth refused")
		return fmt.Errorf("grow heap of pid %d: %w", pid, err)
	}
	if err := m.mem.Grow(p.AddressSpace, bytes); err != nil {
		return fmt.Errorf("%w: grow heap of pid %d: %v", ErrInsufficientMemory, pid, err)
	}
	p.HeapSize += bytes
	return nil
}

// OpenHandle charges one open handle to pid and returns the new count.
func (m *Manager) OpenHandle(pid PID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return 0, err
	}
	if !p.IsAlive() {
		return 0, fmt.Errorf("%w: pid %d is %s", ErrInvalidState, pid, p.State)
	}
	if err := p.Limits.CheckHandles(p.OpenHandles); err != nil {
		return 0, fmt.Errorf("open handle in pid %d: %w", pid, err)
	}
	p.OpenHandles++
	return p.OpenHandles, nil
}

// CloseHandle releases one open handle of pid.
func (m *Manager) CloseHandle(pid PID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return err
	}
	if p.OpenHandles == 0 {
		return fmt.Errorf("%w: pid %d has no open handles", ErrInvalidState, pid)
	}
	p.OpenHandles--
	return nil
}

// RecordPageFault counts a page fault against pid.
func (m *Manager) RecordPageFault(pid PID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookup(pid)
	if err != nil {
		return err
	}
	p.Stats.PageFaults++
	return nil
}

// CheckInvariants verifies the process table against the scheduler.
func (m *Manager) CheckInvariants() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sched.Verify(m.table); err != nil {
		return err
	}
	for pid, p := range m.table {
		if p.State == StateTerminated {
			return fmt.Errorf("%w: terminated pid %d still in table", ErrScheduler, pid)
		}
		for _, c := range p.Children {
			child, ok := m.table[c]
			if !ok {
				return fmt.Errorf("%w: pid %d lists missing child %d", ErrScheduler, pid, c)
			}
			if child.ParentPID != pid {
				return fmt.Errorf("%w: child %d of pid %d has parent %d", ErrScheduler, c, pid, child.ParentPID)
			}
		}
	}
	return nil
}

// Run drives the timer and orphan cleanup from real time until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	tick := time.NewTicker(m.cfg.TickInterval)
	defer tick.Stop()
	cleanup := time.NewTicker(m.cfg.CleanupInterval)
	defer cleanup.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			m.Tick(now.Sub(last))
			last = now
		case <-cleanup.C:
			m.CleanupOrphans()
		}
	}
}
