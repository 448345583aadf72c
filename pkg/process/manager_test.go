package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kernsched/pkg/cpu"
	"kernsched/pkg/memory"
	"kernsched/pkg/telemetry"
)

type managerFixture struct {
	m     *Manager
	cpu   *cpu.Virtual
	mem   *memory.Simulated
	rec   *telemetry.Recorder
	clock *ManualClock
}

func newManagerFixture(t *testing.T, mutate func(*Config)) *managerFixture {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	f := &managerFixture{
		cpu:   cpu.NewVirtual(0),
		mem:   memory.NewSimulated(memory.DefaultSimulatedConfig()),
		rec:   telemetry.NewRecorder(),
		clock: NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	m, err := NewManager(cfg, f.cpu, f.mem,
		WithSink(f.rec),
		WithClock(f.clock.Now),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	f.m = m
	t.Cleanup(func() {
		assert.NoError(t, m.CheckInvariants())
	})
	return f
}

func (f *managerFixture) create(t *testing.T, n int) []PID {
	t.Helper()
	pids := make([]PID, n)
	for i := range pids {
		pid, err := f.m.CreateProcess(uint64(0x400000+i*0x1000), 0x7fff0000)
		require.NoError(t, err)
		pids[i] = pid
	}
	return pids
}

func (f *managerFixture) state(t *testing.T, pid PID) ProcessState {
	t.Helper()
	s, err := f.m.GetState(pid)
	require.NoError(t, err)
	return s
}

// TestNewManager tests that the idle process runs after construction.
func TestNewManager(t *testing.T) {
	f := newManagerFixture(t, nil)

	assert.Equal(t, IdlePID, f.m.Current())
	assert.Equal(t, StateRunning, f.state(t, IdlePID))
	assert.Equal(t, 1, f.m.Count())

	info, err := f.m.GetProcess(IdlePID)
	require.NoError(t, err)
	assert.True(t, info.KernelThread)
	assert.Equal(t, PriorityIdle, info.Priority)
	assert.Equal(t, memory.KernelSpace, f.mem.Active())
}

// TestNewManagerInvalidConfig tests configuration validation.
func TestNewManagerInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeSlice = 0
	_, err := NewManager(cfg, cpu.NewVirtual(0), memory.NewSimulated(memory.DefaultSimulatedConfig()))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestDetectDeadlocksFixedOnce tests that managers created after the first
// one, including concurrently running ones, leave the deadlock option alone.
func TestDetectDeadlocksFixedOnce(t *testing.T) {
	first := newManagerFixture(t, nil)
	disabled := deadlock.Opts.Disable

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pid := first.create(t, 1)[0]
	first.m.Schedule()
	sleeping := make(chan error, 1)
	go func() { sleeping <- first.m.Sleep(ctx, time.Hour) }()
	first.awaitState(t, pid, StateSleeping)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg := DefaultConfig()
			cfg.DetectDeadlocks = disabled
			m, err := NewManager(cfg, cpu.NewVirtual(i+1), memory.NewSimulated(memory.DefaultSimulatedConfig()))
			if assert.NoError(t, err) {
				_, err = m.CreateProcess(0, 0)
				assert.NoError(t, err)
			}
		}()
	}
	cancel()
	wg.Wait()

	assert.ErrorIs(t, <-sleeping, context.Canceled)
	assert.Equal(t, disabled, deadlock.Opts.Disable)
}

// TestCreateRoundTrip tests that a new process is Ready and Running once
// picked.
func TestCreateRoundTrip(t *testing.T) {
	f := newManagerFixture(t, nil)

	pid, err := f.m.CreateProcess(0x400000, 0x7fff0000)
	require.NoError(t, err)
	assert.Equal(t, InitPID, pid)
	assert.Equal(t, StateReady, f.state(t, pid))

	assert.Equal(t, pid, f.m.Schedule())
	assert.Equal(t, StateRunning, f.state(t, pid))
	assert.Equal(t, uint64(0x400000), f.cpu.Registers().RIP)

	info, err := f.m.GetProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, NoPID, info.ParentPID)
	assert.Equal(t, f.clock.Now(), info.Stats.CreatedAt)
	assert.Len(t, f.rec.OfKind(telemetry.KindProcessCreated), 2)
}

// TestPriorityOrder tests that the highest priority process is picked
// first regardless of creation order.
func TestPriorityOrder(t *testing.T) {
	f := newManagerFixture(t, nil)

	var pids []PID
	for _, prio := range []Priority{PriorityLow, PriorityHigh, PriorityNormal} {
		pid, err := f.m.Spawn(&CreateConfig{Priority: prio})
		require.NoError(t, err)
		pids = append(pids, pid)
	}

	assert.Equal(t, pids[1], f.m.Schedule())
}

// TestFIFOWithinLevel tests that a process that used up its slice runs
// after its peer.
func TestFIFOWithinLevel(t *testing.T) {
	f := newManagerFixture(t, nil)
	pids := f.create(t, 2)
	p1, p2 := pids[0], pids[1]

	require.Equal(t, p1, f.m.Schedule())
	for i := 0; i < 9; i++ {
		require.Equal(t, p1, f.m.Tick(time.Millisecond))
	}
	assert.Equal(t, p2, f.m.Tick(time.Millisecond))
	assert.Equal(t, StateReady, f.state(t, p1))
	assert.Equal(t, []PID{p1}, f.m.ReadyPIDs(PriorityNormal))

	stats, err := f.m.GetStats(p1)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, stats.UserTime)
	assert.Equal(t, uint64(1), stats.ContextSwitches)
}

// TestFork tests that fork registers the child and makes it Ready.
func TestFork(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.create(t, 5)
	require.NoError(t, f.m.SetPriority(5, PriorityHigh))

	child, err := f.m.Fork(5)
	require.NoError(t, err)
	assert.Equal(t, PID(6), child)

	children, err := f.m.Children(5)
	require.NoError(t, err)
	assert.Contains(t, children, PID(6))
	assert.Equal(t, StateReady, f.state(t, 6))

	info, err := f.m.GetProcess(6)
	require.NoError(t, err)
	assert.Equal(t, PID(5), info.ParentPID)
	assert.Equal(t, PriorityHigh, info.Priority)
	assert.Equal(t, 6, f.mem.Spaces())

	parent, child6 := f.m.table[5], f.m.table[6]
	assert.Equal(t, parent.Context.RIP, child6.Context.RIP)
	assert.Zero(t, child6.Context.RAX)
	assert.NotEqual(t, parent.AddressSpace, child6.AddressSpace)
	assert.Equal(t, uint64(child6.AddressSpace), child6.Context.CR3)
}

// TestForkRunningParent tests that forking the running process copies the
// live registers.
func TestForkRunningParent(t *testing.T) {
	f := newManagerFixture(t, nil)
	pid := f.create(t, 1)[0]
	f.m.Schedule()
	f.cpu.Execute(func(regs *cpu.Context) {
		regs.RAX = 57
		regs.RBX = 7
		regs.RIP = 0x401234
	})

	child, err := f.m.Fork(pid)
	require.NoError(t, err)

	c := f.m.table[child]
	assert.Equal(t, uint64(7), c.Context.RBX)
	assert.Equal(t, uint64(0x401234), c.Context.RIP)
	assert.Zero(t, c.Context.RAX)
	assert.Equal(t, uint64(c.AddressSpace), c.Context.CR3)
}

// TestForkKernelThread tests that a kernel thread's child shares the kernel
// address space.
func TestForkKernelThread(t *testing.T) {
	f := newManagerFixture(t, nil)
	k, err := f.m.Spawn(&CreateConfig{Name: "kworker", Kernel: true})
	require.NoError(t, err)

	child, err := f.m.Fork(k)
	require.NoError(t, err)

	info, err := f.m.GetProcess(child)
	require.NoError(t, err)
	assert.True(t, info.KernelThread)
	assert.Equal(t, "kworker", info.Name)
	assert.Zero(t, f.mem.Spaces())
}

// TestExitAndWait tests exit followed by a wait that does not block.
func TestExitAndWait(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.create(t, 5)
	_, err := f.m.Fork(5)
	require.NoError(t, err)

	require.NoError(t, f.m.Exit(6, 42))
	assert.Equal(t, StateZombie, f.state(t, 6))
	assert.Equal(t, 5, f.mem.Spaces())

	code, err := f.m.Wait(context.Background(), 5, 6)
	require.NoError(t, err)
	assert.Equal(t, 42, code)

	_, err = f.m.GetState(6)
	assert.ErrorIs(t, err, ErrProcessNotFound)
	children, err := f.m.Children(5)
	require.NoError(t, err)
	assert.Empty(t, children)

	pending, err := f.m.TakeSignal(5, SignalChild)
	require.NoError(t, err)
	assert.True(t, pending)
	pending, err = f.m.TakeSignal(5, SignalChild)
	require.NoError(t, err)
	assert.False(t, pending)

	terminated := f.rec.OfKind(telemetry.KindProcessTerminated)
	require.Len(t, terminated, 1)
	assert.Equal(t, 42, terminated[0].Code)
}

// TestOrphanCleanup tests that an orphan is adopted by init and reaped by
// CleanupOrphans without a wait.
func TestOrphanCleanup(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.OrphanReapAge = 5 * time.Millisecond })
	pids := f.create(t, 2)
	initPID, parent := pids[0], pids[1]
	require.Equal(t, InitPID, initPID)

	child, err := f.m.Fork(parent)
	require.NoError(t, err)

	require.NoError(t, f.m.Exit(parent, 0))
	info, err := f.m.GetProcess(child)
	require.NoError(t, err)
	assert.Equal(t, InitPID, info.ParentPID)
	assert.True(t, info.Orphaned)
	children, err := f.m.Children(InitPID)
	require.NoError(t, err)
	assert.Equal(t, []PID{child}, children)

	require.NoError(t, f.m.Exit(child, 7))
	assert.Zero(t, f.m.CleanupOrphans(), "zombies are too young")

	f.m.Tick(5 * time.Millisecond)
	assert.Equal(t, 2, f.m.CleanupOrphans())

	_, err = f.m.GetState(child)
	assert.ErrorIs(t, err, ErrProcessNotFound)
	_, err = f.m.GetState(parent)
	assert.ErrorIs(t, err, ErrProcessNotFound)
	children, err = f.m.Children(InitPID)
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.Equal(t, uint64(2), f.m.Report().Reaped)
}

// TestCleanupKeepsWaitedZombies tests that a zombie with a live parent is
// left for the parent.
func TestCleanupKeepsWaitedZombies(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.OrphanReapAge = 0 })
	parent := f.create(t, 1)[0]
	child, err := f.m.Fork(parent)
	require.NoError(t, err)
	require.NoError(t, f.m.Exit(child, 1))

	assert.Zero(t, f.m.CleanupOrphans())
	assert.Equal(t, StateZombie, f.state(t, child))
}

// TestReparentWithoutInit tests that children of init lose their parent.
func TestReparentWithoutInit(t *testing.T) {
	f := newManagerFixture(t, nil)
	initPID := f.create(t, 1)[0]
	child, err := f.m.Fork(initPID)
	require.NoError(t, err)

	require.NoError(t, f.m.Exit(initPID, 0))
	info, err := f.m.GetProcess(child)
	require.NoError(t, err)
	assert.Equal(t, NoPID, info.ParentPID)
	assert.True(t, info.Orphaned)
}

// TestForkChildLimit tests that fork at max_children fails without
// touching the table.
func TestForkChildLimit(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.Limits.MaxChildren = 2 })
	parent := f.create(t, 1)[0]
	for i := 0; i < 2; i++ {
		_, err := f.m.Fork(parent)
		require.NoError(t, err)
	}

	before := f.m.Processes()
	spaces := f.mem.Spaces()

	_, err := f.m.Fork(parent)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResourceLimitExceeded)
	assert.True(t, IsLimitError(err))

	assert.Equal(t, before, f.m.Processes())
	assert.Equal(t, spaces, f.mem.Spaces())

	next, err := f.m.CreateProcess(0, 0)
	require.NoError(t, err)
	assert.Equal(t, PID(4), next)
}

// TestTooManyProcesses tests the table capacity.
func TestTooManyProcesses(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.MaxProcesses = 3 })
	pids := f.create(t, 2)

	_, err := f.m.CreateProcess(0, 0)
	assert.ErrorIs(t, err, ErrTooManyProcesses)
	_, err = f.m.Fork(pids[0])
	assert.ErrorIs(t, err, ErrTooManyProcesses)
	assert.Equal(t, 3, f.m.Count())
}

// TestSpawn tests the creation options.
func TestSpawn(t *testing.T) {
	f := newManagerFixture(t, nil)
	parent := f.create(t, 1)[0]
	limits := ResourceLimits{MaxChildren: 1}

	pid, err := f.m.Spawn(&CreateConfig{
		Name:     "shell",
		Priority: PriorityLow,
		Limits:   &limits,
		Parent:   parent,
		Env:      map[string]string{"HOME": "/root"},
	})
	require.NoError(t, err)

	info, err := f.m.GetProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, "shell", info.Name)
	assert.Equal(t, PriorityLow, info.Priority)
	assert.Equal(t, limits, info.Limits)
	assert.Equal(t, parent, info.ParentPID)
	assert.Equal(t, "/root", f.m.table[pid].Env["HOME"])

	named, err := f.m.CreateProcess(0, 0)
	require.NoError(t, err)
	info, err = f.m.GetProcess(named)
	require.NoError(t, err)
	assert.Equal(t, "proc-3", info.Name)

	_, err = f.m.Spawn(&CreateConfig{Priority: Priority(42)})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.m.Spawn(&CreateConfig{Parent: 99})
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

// TestSpawnOutOfMemory tests that an address space failure is reported as
// ErrInsufficientMemory.
func TestSpawnOutOfMemory(t *testing.T) {
	mem := memory.NewSimulated(memory.SimulatedConfig{Capacity: 100 * 1024, BaseSize: 64 * 1024})
	m, err := NewManager(nil, cpu.NewVirtual(0), mem)
	require.NoError(t, err)

	pid, err := m.CreateProcess(0, 0)
	require.NoError(t, err)
	_, err = m.CreateProcess(0, 0)
	assert.ErrorIs(t, err, ErrInsufficientMemory)
	_, err = m.Fork(pid)
	assert.ErrorIs(t, err, ErrInsufficientMemory)
	assert.Equal(t, 2, m.Count())
}

// TestExit tests exit errors and resource release.
func TestExit(t *testing.T) {
	f := newManagerFixture(t, nil)
	pid := f.create(t, 1)[0]
	require.NoError(t, f.m.GrowHeap(pid, 4096))
	_, err := f.m.OpenHandle(pid)
	require.NoError(t, err)

	require.NoError(t, f.m.Exit(pid, 3))
	assert.Zero(t, f.mem.Spaces())
	assert.Zero(t, f.mem.Used())

	info, err := f.m.GetProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, 3, info.ExitCode)
	assert.Zero(t, info.MemoryUsage)
	assert.Zero(t, info.OpenHandles)

	assert.ErrorIs(t, f.m.Exit(pid, 1), ErrInvalidState)
	assert.ErrorIs(t, f.m.Exit(IdlePID, 0), ErrInvalidState)
	assert.ErrorIs(t, f.m.Exit(99, 0), ErrProcessNotFound)
}

// TestExitRunning tests that exiting the running process clears the
// current pointer until the next tick.
func TestExitRunning(t *testing.T) {
	f := newManagerFixture(t, nil)
	pids := f.create(t, 2)
	require.Equal(t, pids[0], f.m.Schedule())

	require.NoError(t, f.m.Exit(pids[0], 0))
	assert.Equal(t, NoPID, f.m.Current())
	assert.Equal(t, pids[1], f.m.Tick(time.Millisecond))
}

// TestBlockWake tests blocking and waking other processes.
func TestBlockWake(t *testing.T) {
	f := newManagerFixture(t, nil)
	pids := f.create(t, 2)
	require.Equal(t, pids[0], f.m.Schedule())

	require.NoError(t, f.m.Block(pids[0]))
	assert.Equal(t, StateBlocked, f.state(t, pids[0]))
	assert.Equal(t, pids[1], f.m.Current())

	require.NoError(t, f.m.Block(pids[1]))
	assert.Equal(t, IdlePID, f.m.Current())

	require.NoError(t, f.m.Wake(pids[0]))
	assert.Equal(t, StateReady, f.state(t, pids[0]))
	require.NoError(t, f.m.Wake(pids[0]))
	assert.ErrorIs(t, f.m.Block(pids[1]), ErrInvalidState)
	assert.ErrorIs(t, f.m.Block(IdlePID), ErrInvalidState)

	assert.Equal(t, pids[0], f.m.Tick(time.Millisecond))

	require.NoError(t, f.m.Exit(pids[1], 0))
	assert.ErrorIs(t, f.m.Wake(pids[1]), ErrInvalidState)
}

// TestKill tests signal delivery.
func TestKill(t *testing.T) {
	f := newManagerFixture(t, nil)
	pids := f.create(t, 2)

	require.NoError(t, f.m.Kill(pids[0], SignalTerminate))
	info, err := f.m.GetProcess(pids[0])
	require.NoError(t, err)
	assert.Equal(t, StateZombie, info.State)
	assert.Equal(t, 143, info.ExitCode)

	require.NoError(t, f.m.Block(pids[1]))
	require.NoError(t, f.m.Kill(pids[1], SignalContinue))
	assert.Equal(t, StateReady, f.state(t, pids[1]))

	assert.ErrorIs(t, f.m.Kill(pids[1], Signal(31)), ErrInvalidSignal)
	assert.ErrorIs(t, f.m.Kill(pids[0], SignalKill), ErrInvalidState)
}

// TestCPULimit tests that a process over its CPU budget is terminated.
func TestCPULimit(t *testing.T) {
	f := newManagerFixture(t, nil)
	pid, err := f.m.Spawn(&CreateConfig{Limits: &ResourceLimits{MaxCPUTime: 2 * time.Millisecond}})
	require.NoError(t, err)
	require.Equal(t, pid, f.m.Schedule())

	f.m.Tick(time.Millisecond)
	f.m.Tick(time.Millisecond)
	assert.Equal(t, StateRunning, f.state(t, pid))

	assert.Equal(t, IdlePID, f.m.Tick(time.Millisecond))
	info, err := f.m.GetProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, StateZombie, info.State)
	assert.Equal(t, ExitCodeForSignal(SignalCPULimit), info.ExitCode)
}

// TestGrowHeap tests the memory limit.
func TestGrowHeap(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.Limits.MaxMemory = "68 KiB" })
	pid := f.create(t, 1)[0]

	require.NoError(t, f.m.GrowHeap(pid, 4096))
	err := f.m.GrowHeap(pid, 1)
	assert.ErrorIs(t, err, ErrResourceLimitExceeded)

	info, err := f.m.GetProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, uint64(68*1024), info.MemoryUsage)
	assert.Equal(t, uint64(4096), f.m.table[pid].HeapSize)

	k, err := f.m.Spawn(&CreateConfig{Kernel: true})
	require.NoError(t, err)
	assert.ErrorIs(t, f.m.GrowHeap(k, 1), ErrInvalidState)
}

// TestHandles tests the open handle limit.
func TestHandles(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.Limits.MaxOpenHandles = 2 })
	pid := f.create(t, 1)[0]

	for want := 1; want <= 2; want++ {
		n, err := f.m.OpenHandle(pid)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	_, err := f.m.OpenHandle(pid)
	assert.ErrorIs(t, err, ErrResourceLimitExceeded)

	require.NoError(t, f.m.CloseHandle(pid))
	require.NoError(t, f.m.CloseHandle(pid))
	assert.ErrorIs(t, f.m.CloseHandle(pid), ErrInvalidState)
}

// TestPageFaults tests page fault accounting.
func TestPageFaults(t *testing.T) {
	f := newManagerFixture(t, nil)
	pid := f.create(t, 1)[0]

	for i := 0; i < 3; i++ {
		require.NoError(t, f.m.RecordPageFault(pid))
	}
	stats, err := f.m.GetStats(pid)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.PageFaults)
	assert.ErrorIs(t, f.m.RecordPageFault(99), ErrProcessNotFound)
}

// TestSetPriority tests moving a Ready process between levels.
func TestSetPriority(t *testing.T) {
	f := newManagerFixture(t, nil)
	pids := f.create(t, 2)

	require.NoError(t, f.m.SetPriority(pids[1], PriorityRealtime))
	assert.Equal(t, pids[1], f.m.Schedule())

	assert.ErrorIs(t, f.m.SetPriority(pids[0], Priority(0)), ErrInvalidState)
	assert.ErrorIs(t, f.m.SetPriority(IdlePID, PriorityHigh), ErrInvalidState)
	assert.ErrorIs(t, f.m.SetPriority(99, PriorityHigh), ErrProcessNotFound)
}

// TestYield tests that yield rotates a level.
func TestYield(t *testing.T) {
	f := newManagerFixture(t, nil)
	pids := f.create(t, 3)

	require.Equal(t, pids[0], f.m.Schedule())
	assert.Equal(t, pids[1], f.m.Yield())
	assert.Equal(t, pids[2], f.m.Yield())
	assert.Equal(t, pids[0], f.m.Yield())
}

// TestTerminatedNeverLeaves tests that no recorded transition leaves the
// terminated state.
func TestTerminatedNeverLeaves(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.OrphanReapAge = 0 })
	pids := f.create(t, 3)
	child, err := f.m.Fork(pids[0])
	require.NoError(t, err)

	f.m.Schedule()
	require.NoError(t, f.m.Exit(child, 1))
	_, err = f.m.Wait(context.Background(), pids[0], child)
	require.NoError(t, err)
	require.NoError(t, f.m.Exit(pids[1], 0))
	f.m.CleanupOrphans()
	for i := 0; i < 30; i++ {
		f.m.Tick(time.Millisecond)
	}

	reachedTerminated := 0
	for _, e := range f.rec.OfKind(telemetry.KindStateChanged) {
		assert.NotEqual(t, string(StateTerminated), e.From, "pid %d left terminated", e.PID)
		if e.To == string(StateTerminated) {
			reachedTerminated++
		}
	}
	assert.Equal(t, 2, reachedTerminated)
}

// TestSingleRunning tests that at most one process is Running and that it
// is the current one, across a mixed workload.
func TestSingleRunning(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) {
		c.TimeSlice = 3 * time.Millisecond
		c.OrphanReapAge = 2 * time.Millisecond
	})

	check := func(step int) {
		require.NoError(t, f.m.CheckInvariants(), "step %d", step)
		running := 0
		for _, p := range f.m.Processes() {
			if p.State == StateRunning {
				running++
				require.Equal(t, f.m.Current(), p.PID, "step %d", step)
			}
		}
		require.LessOrEqual(t, running, 1, "step %d", step)
	}

	prios := []Priority{PriorityLow, PriorityNormal, PriorityHigh}
	var live []PID
	for step := 0; step < 200; step++ {
		switch step % 7 {
		case 0:
			pid, err := f.m.Spawn(&CreateConfig{Priority: prios[step%len(prios)]})
			require.NoError(t, err)
			live = append(live, pid)
		case 3:
			if len(live) > 0 {
				child, err := f.m.Fork(live[step%len(live)])
				if err == nil {
					live = append(live, child)
				}
			}
		case 5:
			if len(live) > 2 {
				victim := live[0]
				live = live[1:]
				require.NoError(t, f.m.Exit(victim, step))
			}
		case 6:
			f.m.CleanupOrphans()
		default:
			f.m.Tick(time.Millisecond)
		}
		check(step)
	}
}

// TestRun tests the real-time driver.
func TestRun(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) {
		c.TickInterval = time.Millisecond
		c.CleanupInterval = 5 * time.Millisecond
		c.OrphanReapAge = 0
	})
	pid := f.create(t, 1)[0]
	require.NoError(t, f.m.Exit(pid, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := f.m.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Positive(t, f.m.Uptime())
	_, err = f.m.GetState(pid)
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

// TestReport tests the aggregate report.
func TestReport(t *testing.T) {
	f := newManagerFixture(t, nil)
	pids := f.create(t, 3)
	f.m.Schedule()
	for i := 0; i < 30; i++ {
		f.m.Tick(time.Millisecond)
	}
	require.NoError(t, f.m.Exit(pids[2], 0))

	r := f.m.Report()
	assert.Equal(t, 4, r.Processes)
	assert.Equal(t, 30*time.Millisecond, r.Uptime)
	assert.Equal(t, 1, r.ByState[StateZombie])
	assert.Equal(t, 1, r.ByState[StateRunning])
	assert.Equal(t, 10*time.Millisecond, r.CPUMean)
	assert.Equal(t, 10*time.Millisecond, r.CPUMedian)
	assert.Equal(t, uint64(2*64*1024), r.MemoryUsed)
	assert.Positive(t, r.Switches)
	assert.Contains(t, r.String(), "4 processes")
	assert.Contains(t, r.String(), "128 KiB")
}
