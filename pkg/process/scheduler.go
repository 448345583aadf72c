package process

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kernsched/pkg/cpu"
	"kernsched/pkg/memory"
	"kernsched/pkg/telemetry"
)

// DefaultTimeSlice is the quantum used when none is configured.
const DefaultTimeSlice = 10 * time.Millisecond

// SchedulerConfig wires a Scheduler to its collaborators.
type SchedulerConfig struct {
	// CPU is the logical processor this scheduler drives.
	CPU cpu.CPU
	// Memory activates address spaces on context switches.
	Memory memory.Service
	// Sink receives state-change and context-switch events.
	Sink telemetry.Sink
	// Log is the scheduler logger.
	Log zerolog.Logger
	// TimeSlice is the round-robin quantum.
	TimeSlice time.Duration
	// Now supplies event timestamps.
	Now func() time.Time
}

// Scheduler is the per-CPU scheduler core: a multi-level ready queue, the
// sleep queue and the currently running process. It has no lock of its own;
// every method must be called with the manager lock held (or, in interrupt
// context, with interrupts disabled).
type Scheduler struct {
	cpu       cpu.CPU
	mem       memory.Service
	sink      telemetry.Sink
	log       zerolog.Logger
	now       func() time.Time
	timeSlice time.Duration

	// queues holds one FIFO per priority level.
	queues   [numPriorities]*RunQueue
	sleepers sleepQueue
	idle     *PCB
	current  *PCB

	// uptime is the monotonic time accumulated from timer ticks.
	uptime time.Duration
	ticks  uint64

	switches    uint64
	preemptions uint64
}

// NewScheduler creates a scheduler core that falls back to idle when
// nothing is Ready.
func NewScheduler(cfg SchedulerConfig, idle *PCB) *Scheduler {
	if cfg.TimeSlice <= 0 {
		cfg.TimeSlice = DefaultTimeSlice
	}
	if cfg.Sink == nil {
		cfg.Sink = telemetry.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Scheduler{
		cpu:       cfg.CPU,
		mem:       cfg.Memory,
		sink:      cfg.Sink,
		log:       cfg.Log,
		now:       cfg.Now,
		timeSlice: cfg.TimeSlice,
		idle:      idle,
	}
	for i := range s.queues {
		s.queues[i] = NewRunQueue()
	}
	idle.Priority = PriorityIdle
	idle.State = StateReady
	return s
}

// CPUID returns the logical CPU this scheduler drives.
func (s *Scheduler) CPUID() int { return s.cpu.ID() }

// TimeSlice returns the round-robin quantum.
func (s *Scheduler) TimeSlice() time.Duration { return s.timeSlice }

// Uptime returns the monotonic time accumulated from ticks.
func (s *Scheduler) Uptime() time.Duration { return s.uptime }

// Current returns the running process, or nil right after the running
// process exited.
func (s *Scheduler) Current() *PCB { return s.current }

// CurrentPID returns the PID of the running process, NoPID if none.
func (s *Scheduler) CurrentPID() PID {
	if s.current == nil {
		return NoPID
	}
	return s.current.PID
}

// Idle returns the idle process.
func (s *Scheduler) Idle() *PCB { return s.idle }

// setState performs a checked transition and reports it to the sink.
func (s *Scheduler) setState(p *PCB, to ProcessState) {
	from := p.State
	if from == to {
		return
	}
	if from == StateTerminated {
		invariant(s.log, p.PID, "transition %s -> %s of a terminated process", from, to)
	}
	if !IsValidTransition(from, to) {
		invariant(s.log, p.PID, "illegal transition %s -> %s", from, to)
	}
	p.SetState(to)
	s.emitState(p, from)
}

func (s *Scheduler) emitState(p *PCB, from ProcessState) {
	s.sink.Emit(telemetry.StateChanged(s.now(), uint32(p.PID), string(from), string(p.State)))
}

// Enqueue makes p Ready and appends it to the tail of its priority level.
func (s *Scheduler) Enqueue(p *PCB) {
	if p.sleepIndex >= 0 {
		heap.Remove(&s.sleepers, p.sleepIndex)
	}
	s.setState(p, StateReady)
	if p == s.idle {
		return
	}
	p.readyTick = s.ticks
	s.queues[p.Priority.level()].Push(p)
}

// Remove takes p out of the ready and sleep queues. If p is running the
// current pointer is cleared so the next scheduling point picks someone else.
func (s *Scheduler) Remove(p *PCB) {
	s.queues[p.Priority.level()].Remove(p.PID)
	if p.sleepIndex >= 0 {
		heap.Remove(&s.sleepers, p.sleepIndex)
	}
	if s.current == p {
		s.current = nil
	}
}

// Block moves p to Blocked. The caller reschedules if p was running.
func (s *Scheduler) Block(p *PCB) {
	if p.State == StateReady {
		s.queues[p.Priority.level()].Remove(p.PID)
	}
	s.setState(p, StateBlocked)
}

// Sleep moves the running process p to Sleeping until uptime reaches
// deadline. The caller reschedules.
func (s *Scheduler) Sleep(p *PCB, deadline time.Duration) {
	s.setState(p, StateSleeping)
	p.wakeAt = deadline
	heap.Push(&s.sleepers, p)
}

// Terminate takes p off the CPU and out of every queue and turns it into a
// Zombie with the given exit code.
func (s *Scheduler) Terminate(p *PCB, code int) {
	if p == s.idle {
		invariant(s.log, p.PID, "idle process cannot exit")
	}
	from := p.State
	if !IsValidTransition(from, StateZombie) {
		invariant(s.log, p.PID, "illegal transition %s -> %s", from, StateZombie)
	}
	s.Remove(p)
	p.Terminate(code)
	s.emitState(p, from)
}

// Reap moves a Zombie to Terminated.
func (s *Scheduler) Reap(p *PCB) {
	s.setState(p, StateTerminated)
}

// Requeue moves a process between priority levels if it is queued.
func (s *Scheduler) Requeue(p *PCB, prio Priority) {
	if p.State == StateReady && p != s.idle && s.queues[p.Priority.level()].Remove(p.PID) {
		p.Priority = prio
		p.readyTick = s.ticks
		s.queues[prio.level()].Push(p)
		return
	}
	p.Priority = prio
}

// PickNext removes and returns the next process to run: the head of the
// highest non-empty priority level, or the idle process when nothing is
// Ready. It does not change any state.
func (s *Scheduler) PickNext() *PCB {
	for lvl := numPriorities - 1; lvl >= 0; lvl-- {
		if p := s.queues[lvl].Pop(); p != nil {
			if p.State != StateReady {
				invariant(s.log, p.PID, "queued process is %s", p.State)
			}
			return p
		}
	}
	return s.idle
}

// Schedule is a scheduling point. A still-Running current process goes to
// the tail of its level, then the next process is dispatched.
func (s *Scheduler) Schedule() *PCB {
	prev := s.current
	if prev != nil && prev.State == StateRunning && !s.readyAtOrAbove(prev.Priority) {
		// prev would be picked again: renew its slice without a state change.
		prev.TimeSliceRemaining = s.timeSlice
		prev.burstCPU = 0
		return prev
	}
	if prev != nil && prev.State == StateRunning {
		s.Enqueue(prev)
	}
	next := s.PickNext()
	s.dispatch(prev, next)
	return next
}

func (s *Scheduler) dispatch(prev, next *PCB) {
	s.setState(next, StateRunning)
	next.TimeSliceRemaining = s.timeSlice
	next.burstCPU = 0
	if prev == next {
		return
	}

	switchContext(s.cpu, s.mem, prev, next)
	s.current = next
	s.switches++

	from := NoPID
	if prev != nil {
		from = prev.PID
	}
	s.sink.Emit(telemetry.ContextSwitch(s.now(), s.cpu.ID(), uint32(from), uint32(next.PID)))
	s.log.Debug().
		Uint32("from_pid", uint32(from)).
		Uint32("to_pid", uint32(next.PID)).
		Str("priority", next.Priority.String()).
		Msg("context switch")
}

// Tick is the timer interrupt. It charges elapsed to the running process,
// advances uptime and wakes expired sleepers. It returns the processes that
// went over their CPU limit and how many sleepers were woken; the caller
// terminates the former and then calls Preempt.
func (s *Scheduler) Tick(elapsed time.Duration) (overLimit []*PCB, woken int) {
	s.ticks++
	s.uptime += elapsed

	if cur := s.current; cur != nil {
		if cur.Context.UserMode() {
			cur.Stats.UserTime += elapsed
		} else {
			cur.Stats.KernelTime += elapsed
		}
		if cur != s.idle {
			cur.burstCPU += elapsed
			cur.TimeSliceRemaining -= elapsed
			if err := cur.Limits.CheckCPU(cur.Stats.CPUTime()); err != nil {
				overLimit = append(overLimit, cur)
			}
		}
	}

	for s.sleepers.Len() > 0 && s.sleepers[0].wakeAt <= s.uptime {
		p := heap.Pop(&s.sleepers).(*PCB)
		s.Enqueue(p)
		woken++
	}
	return overLimit, woken
}

// Preempt reschedules when the current slice expired, when the CPU idles
// while work is Ready, when a higher priority level has work, or when there
// is no current process. It reports whether a reschedule happened.
func (s *Scheduler) Preempt() bool {
	cur := s.current
	switch {
	case cur == nil:
	case cur == s.idle:
		if s.Len() == 0 {
			return false
		}
	case cur.TimeSliceRemaining <= 0:
		s.preemptions++
	case s.higherReady(cur.Priority):
		s.preemptions++
	default:
		return false
	}
	s.Schedule()
	return true
}

func (s *Scheduler) readyAtOrAbove(prio Priority) bool {
	return s.queues[prio.level()].Len() > 0 || s.higherReady(prio)
}

func (s *Scheduler) higherReady(prio Priority) bool {
	for lvl := numPriorities - 1; lvl > prio.level(); lvl-- {
		if s.queues[lvl].Len() > 0 {
			return true
		}
	}
	return false
}

// Len returns the number of Ready processes, the idle process excluded.
func (s *Scheduler) Len() int {
	n := 0
	for _, q := range s.queues {
		n += q.Len()
	}
	return n
}

// QueueLengths returns the number of Ready processes per level, Idle first.
func (s *Scheduler) QueueLengths() [numPriorities]int {
	var lengths [numPriorities]int
	for i, q := range s.queues {
		lengths[i] = q.Len()
	}
	return lengths
}

// ReadyPIDs returns the queued PIDs of one priority level in FIFO order.
func (s *Scheduler) ReadyPIDs(prio Priority) []PID {
	if !prio.Valid() {
		return nil
	}
	return s.queues[prio.level()].PIDs()
}

func (s *Scheduler) queued(p *PCB) bool {
	return p.Priority.Valid() && s.queues[p.Priority.level()].Contains(p.PID)
}

// Verify cross-checks the scheduler against the process table.
func (s *Scheduler) Verify(table map[PID]*PCB) error {
	running := 0
	for pid, p := range table {
		switch p.State {
		case StateRunning:
			running++
			if p != s.current {
				return fmt.Errorf("%w: pid %d is running but current is %d", ErrScheduler, pid, s.CurrentPID())
			}
		case StateReady:
			if p != s.idle && !s.queued(p) {
				return fmt.Errorf("%w: ready pid %d missing from run queue", ErrScheduler, pid)
			}
		case StateSleeping:
			if p.sleepIndex < 0 {
				return fmt.Errorf("%w: sleeping pid %d missing from sleep queue", ErrScheduler, pid)
			}
		}
	}
	if running > 1 {
		return fmt.Errorf("%w: %d processes running on cpu %d", ErrScheduler, running, s.cpu.ID())
	}
	if s.current != nil && s.current.State != StateRunning {
		return fmt.Errorf("%w: current pid %d is %s", ErrScheduler, s.current.PID, s.current.State)
	}
	for lvl, q := range s.queues {
		for _, p := range q.items {
			if table[p.PID] != p {
				return fmt.Errorf("%w: queued pid %d not in table", ErrScheduler, p.PID)
			}
			if p.State != StateReady || p.Priority.level() != lvl {
				return fmt.Errorf("%w: queued pid %d is %s at level %d", ErrScheduler, p.PID, p.State, lvl)
			}
		}
	}
	return nil
}

// SchedulerStats contains scheduler statistics.
type SchedulerStats struct {
	CPU          int
	Uptime       time.Duration
	Ticks        uint64
	Switches     uint64
	Preemptions  uint64
	QueueLengths [numPriorities]int
	Sleeping     int
	Current      PID
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		CPU:          s.cpu.ID(),
		Uptime:       s.uptime,
		Ticks:        s.ticks,
		Switches:     s.switches,
		Preemptions:  s.preemptions,
		QueueLengths: s.QueueLengths(),
		Sleeping:     s.sleepers.Len(),
		Current:      s.CurrentPID(),
	}
}
