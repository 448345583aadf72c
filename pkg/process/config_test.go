package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sched.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestDefaultConfig tests that the defaults are valid.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Millisecond, cfg.TimeSlice)
	assert.Equal(t, "info", cfg.LogLevel)

	limits, err := cfg.Limits.ResourceLimits()
	require.NoError(t, err)
	assert.Equal(t, DefaultLimits(), limits)
}

// TestLoadConfig tests loading a YAML file over the defaults.
func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
time_slice: 5ms
max_processes: 128
orphan_reap_age: 2s
detect_deadlocks: true
log_level: debug
limits:
  max_memory: 16 MiB
  max_children: 4
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, cfg.TimeSlice)
	assert.Equal(t, time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 128, cfg.MaxProcesses)
	assert.Equal(t, 2*time.Second, cfg.OrphanReapAge)
	assert.True(t, cfg.DetectDeadlocks)
	assert.Equal(t, "debug", cfg.LogLevel)

	limits, err := cfg.Limits.ResourceLimits()
	require.NoError(t, err)
	assert.Equal(t, uint64(16*1024*1024), limits.MaxMemory)
	assert.Equal(t, 4, limits.MaxChildren)
	assert.Equal(t, 1024, limits.MaxOpenHandles)
	assert.Equal(t, time.Hour, limits.MaxCPUTime)
}

// TestLoadConfigErrors tests rejected files.
func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero time slice", "time_slice: 0s\n"},
		{"bad duration", "time_slice: soon\n"},
		{"tiny table", "max_processes: 1\n"},
		{"bad level", "log_level: loud\n"},
		{"bad memory", "limits:\n  max_memory: lots\n"},
		{"negative children", "limits:\n  max_children: -1\n"},
		{"not yaml", "time_slice: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TestUnlimitedMemory tests that an empty max_memory means no limit.
func TestUnlimitedMemory(t *testing.T) {
	limits, err := LimitsConfig{MaxChildren: 1}.ResourceLimits()
	require.NoError(t, err)
	assert.Zero(t, limits.MaxMemory)
}
