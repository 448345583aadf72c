package process

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
)

// Report summarizes the process table and the scheduler.
type Report struct {
	Uptime      time.Duration
	Processes   int
	ByState     map[ProcessState]int
	Switches    uint64
	Preemptions uint64
	Reaped      uint64
	// CPU time distribution over non-idle processes.
	CPUMean   time.Duration
	CPUMedian time.Duration
	CPUP95    time.Duration
	// IdleTime is the CPU time charged to the idle process.
	IdleTime   time.Duration
	MemoryUsed uint64
}

// Report builds a Report from the current state.
func (m *Manager) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.sched.Stats()
	r := Report{
		Uptime:      st.Uptime,
		Processes:   len(m.table),
		ByState:     make(map[ProcessState]int),
		Switches:    st.Switches,
		Preemptions: st.Preemptions,
		Reaped:      m.reaped,
	}

	var cpu stats.Float64Data
	for pid, p := range m.table {
		r.ByState[p.State]++
		r.MemoryUsed += p.MemoryUsage()
		if pid == IdlePID {
			r.IdleTime = p.Stats.CPUTime()
			continue
		}
		cpu = append(cpu, float64(p.Stats.CPUTime()))
	}
	if len(cpu) == 0 {
		return r
	}
	if v, err := stats.Mean(cpu); err == nil {
		r.CPUMean = time.Duration(v)
	}
	if v, err := stats.Median(cpu); err == nil {
		r.CPUMedian = time.Duration(v)
	}
	if v, err := stats.Percentile(cpu, 95); err == nil {
		r.CPUP95 = time.Duration(v)
	}
	return r
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime %s, %d processes, %d reaped\n", r.Uptime, r.Processes, r.Reaped)
	fmt.Fprintf(&b, "context switches %s, preemptions %s\n",
		humanize.Comma(int64(r.Switches)), humanize.Comma(int64(r.Preemptions)))
	for _, s := range []ProcessState{StateRunning, StateReady, StateBlocked, StateSleeping, StateZombie} {
		if n := r.ByState[s]; n > 0 {
			fmt.Fprintf(&b, "  %-9s %d\n", s, n)
		}
	}
	fmt.Fprintf(&b, "cpu mean %s, median %s, p95 %s, idle %s\n", r.CPUMean, r.CPUMedian, r.CPUP95, r.IdleTime)
	fmt.Fprintf(&b, "memory %s", humanize.IBytes(r.MemoryUsed))
	return b.String()
}
