package process

import (
	"errors"
	"fmt"
	"time"
)

// ResourceType represents the type of resource being limited.
type ResourceType string

const (
	// ResourceMemory represents address-space size.
	ResourceMemory ResourceType = "memory"
	// ResourceHandles represents open handles.
	ResourceHandles ResourceType = "handles"
	// ResourceCPU represents consumed CPU time.
	ResourceCPU ResourceType = "cpu"
	// ResourceChildren represents live child processes.
	ResourceChildren ResourceType = "children"
)

// ResourceLimits defines per-process limits. A zero field means unlimited.
type ResourceLimits struct {
	// MaxMemory is the maximum address-space size in bytes.
	MaxMemory uint64
	// MaxOpenHandles is the maximum number of open handles.
	MaxOpenHandles int
	// MaxCPUTime is the maximum user plus kernel time.
	MaxCPUTime time.Duration
	// MaxChildren is the maximum number of children not yet reaped.
	MaxChildren int
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemory:      512 * 1024 * 1024, // 512 MiB
		MaxOpenHandles: 1024,
		MaxCPUTime:     time.Hour,
		MaxChildren:    64,
	}
}

// CheckChildren returns a LimitError when a process with n children may not
// create another one.
func (l ResourceLimits) CheckChildren(n int) error {
	if l.MaxChildren > 0 && n >= l.MaxChildren {
		return &LimitError{
			Type:    ResourceChildren,
			Limit:   uint64(l.MaxChildren),
			Used:    uint64(n),
			Message: "child process limit exceeded",
		}
	}
	return nil
}

// CheckHandles returns a LimitError when n open handles leave no room for
// another one.
func (l ResourceLimits) CheckHandles(n int) error {
	if l.MaxOpenHandles > 0 && n >= l.MaxOpenHandles {
		return &LimitError{
			Type:    ResourceHandles,
			Limit:   uint64(l.MaxOpenHandles),
			Used:    uint64(n),
			Message: "open handle limit exceeded",
		}
	}
	return nil
}

// CheckMemory returns a LimitError when growing from used by add bytes
// would exceed MaxMemory.
func (l ResourceLimits) CheckMemory(used, add uint64) error {
	if l.MaxMemory > 0 && used+add > l.MaxMemory {
		return &LimitError{
			Type:    ResourceMemory,
			Limit:   l.MaxMemory,
			Used:    used + add,
			Message: "memory limit exceeded",
		}
	}
	return nil
}

// CheckCPU returns a LimitError when used is past MaxCPUTime.
func (l ResourceLimits) CheckCPU(used time.Duration) error {
	if l.MaxCPUTime > 0 && used > l.MaxCPUTime {
		return &LimitError{
			Type:    ResourceCPU,
			Limit:   uint64(l.MaxCPUTime),
			Used:    uint64(used),
			Message: "CPU time limit exceeded",
		}
	}
	return nil
}

// LimitError represents a resource limit violation.
type LimitError struct {
	Type    ResourceType
	Limit   uint64
	Used    uint64
	Message string
}

// Error returns the error message.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s (%s: %d/%d)", e.Message, e.Type, e.Used, e.Limit)
}

// Is makes every LimitError match ErrResourceLimitExceeded.
func (e *LimitError) Is(target error) bool {
	return target == ErrResourceLimitExceeded
}

// IsLimitError checks if an error is a limit error.
func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}
