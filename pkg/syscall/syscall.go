// Package syscall is the thin layer between trapped system calls and the
// process manager. Every call acts on the process running when it is made
// and returns a non-negative value on success or a negative errno.
package syscall

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"kernsched/pkg/process"
)

// Number identifies a system call. Numbers follow the x86-64 Linux table
// where one exists.
type Number uint64

const (
	SysBrk        Number = 12
	SysSchedYield Number = 24
	SysNanosleep  Number = 35
	SysFork       Number = 57
	SysExit       Number = 60
	SysWait4      Number = 61
	SysKill       Number = 62
	SysGetState   Number = 500
)

// State codes returned by GetState.
const (
	StateReady = iota
	StateRunning
	StateBlocked
	StateSleeping
	StateZombie
)

var stateCodes = map[process.ProcessState]int64{
	process.StateReady:    StateReady,
	process.StateRunning:  StateRunning,
	process.StateBlocked:  StateBlocked,
	process.StateSleeping: StateSleeping,
	process.StateZombie:   StateZombie,
}

// Table dispatches system calls to a process manager.
type Table struct {
	m   *process.Manager
	log zerolog.Logger
}

// New creates a syscall table for m.
func New(m *process.Manager, log zerolog.Logger) *Table {
	return &Table{m: m, log: log.With().Str("component", "syscall").Logger()}
}

func errno(err error) int64 {
	return int64(process.Errno(err))
}

// caller returns the running process. A call made while only the idle
// process runs has no caller.
func (t *Table) caller() (process.PID, int64) {
	pid := t.m.Current()
	if pid == process.NoPID || pid == process.IdlePID {
		return pid, -process.ESRCH
	}
	return pid, 0
}

// Dispatch runs system call nr with the raw register arguments.
func (t *Table) Dispatch(ctx context.Context, nr Number, args [6]uint64) int64 {
	var ret int64
	switch nr {
	case SysBrk:
		ret = t.Brk(args[0])
	case SysSchedYield:
		ret = t.Yield()
	case SysNanosleep:
		ret = t.Sleep(ctx, time.Duration(args[0]))
	case SysFork:
		ret = t.Fork()
	case SysExit:
		ret = t.Exit(int(int32(args[0])))
	case SysWait4:
		ret, _ = t.Wait(ctx, process.PID(args[0]))
	case SysKill:
		ret = t.Kill(process.PID(args[0]), process.Signal(args[1]))
	case SysGetState:
		ret = t.GetState(process.PID(args[0]))
	default:
		ret = -process.EINVAL
	}
	t.log.Debug().Uint64("nr", uint64(nr)).Int64("ret", ret).Msg("syscall")
	return ret
}

// Fork duplicates the caller and returns the child PID.
func (t *Table) Fork() int64 {
	pid, e := t.caller()
	if e != 0 {
		return e
	}
	child, err := t.m.Fork(pid)
	if err != nil {
		return errno(err)
	}
	return int64(child)
}

// Exit terminates the caller.
func (t *Table) Exit(code int) int64 {
	pid, e := t.caller()
	if e != 0 {
		return e
	}
	return errno(t.m.Exit(pid, code))
}

// Wait reaps child, or any child when child is NoPID, and returns its PID
// together with the exit status.
func (t *Table) Wait(ctx context.Context, child process.PID) (int64, int) {
	pid, e := t.caller()
	if e != 0 {
		return e, 0
	}
	if child == process.NoPID {
		reaped, code, err := t.m.WaitAny(ctx, pid)
		if err != nil {
			return errno(err), 0
		}
		return int64(reaped), code
	}
	code, err := t.m.Wait(ctx, pid, child)
	if err != nil {
		return errno(err), 0
	}
	return int64(child), code
}

// Yield gives up the CPU.
func (t *Table) Yield() int64 {
	t.m.Yield()
	return 0
}

// Sleep suspends the caller for d.
func (t *Table) Sleep(ctx context.Context, d time.Duration) int64 {
	return errno(t.m.Sleep(ctx, d))
}

// GetState returns the state code of pid.
func (t *Table) GetState(pid process.PID) int64 {
	s, err := t.m.GetState(pid)
	if err != nil {
		return errno(err)
	}
	return stateCodes[s]
}

// GetStats copies the accounting of pid into st.
func (t *Table) GetStats(pid process.PID, st *process.Stats) int64 {
	s, err := t.m.GetStats(pid)
	if err != nil {
		return errno(err)
	}
	*st = s
	return 0
}

// Kill sends sig to pid.
func (t *Table) Kill(pid process.PID, sig process.Signal) int64 {
	return errno(t.m.Kill(pid, sig))
}

// Brk grows the caller's heap by increment bytes and returns the new heap
// size. A zero increment queries the size.
func (t *Table) Brk(increment uint64) int64 {
	pid, e := t.caller()
	if e != 0 {
		return e
	}
	if increment > 0 {
		if err := t.m.GrowHeap(pid, increment); err != nil {
			return errno(err)
		}
	}
	info, err := t.m.GetProcess(pid)
	if err != nil {
		return errno(err)
	}
	return int64(info.HeapSize)
}
