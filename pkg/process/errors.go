package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Process subsystem errors.
var (
	ErrProcessNotFound       = errors.New("process not found")
	ErrInvalidProcessID      = errors.New("invalid process id")
	ErrProcessAlreadyExists  = errors.New("process already exists")
	ErrTooManyProcesses      = errors.New("process table full")
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	ErrInsufficientMemory    = errors.New("insufficient memory")
	ErrInvalidState          = errors.New("invalid process state")
	ErrInvalidSignal         = errors.New("invalid signal")
	ErrScheduler             = errors.New("scheduler inconsistency")
)

// Errno values returned to the syscall layer.
const (
	EPERM  = 1
	ESRCH  = 3
	EINTR  = 4
	EIO    = 5
	ECHILD = 10
	EAGAIN = 11
	ENOMEM = 12
	EEXIST = 17
	EINVAL = 22
)

// Errno maps err to a negative errno-style code. A nil error maps to 0.
func Errno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrProcessNotFound):
		return -ESRCH
	case errors.Is(err, ErrInvalidProcessID):
		return -ECHILD
	case errors.Is(err, ErrProcessAlreadyExists):
		return -EEXIST
	case errors.Is(err, ErrTooManyProcesses), errors.Is(err, ErrResourceLimitExceeded):
		return -EAGAIN
	case errors.Is(err, ErrInsufficientMemory):
		return -ENOMEM
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidSignal):
		return -EINVAL
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return -EINTR
	default:
		return -EIO
	}
}

// invariant reports a broken scheduler invariant. These indicate memory
// corruption or a logic bug, so they are never returned as errors.
func invariant(log zerolog.Logger, pid PID, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Error().Uint32("pid", uint32(pid)).Msg("invariant violation: " + msg)
	panic(fmt.Sprintf("process: invariant violation (pid %d): %s", pid, msg))
}
