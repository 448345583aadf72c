package telemetry

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LevelEnv names the environment variable that overrides the log level.
const LevelEnv = "KSCHED_LOG"

// NewInstanceID returns an identifier for one kernel boot. Tests may replace
// it for stable output.
var NewInstanceID = func() string { return uuid.New().String() }

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	// Level is a zerolog level name; LevelEnv wins when set.
	Level string
	// Console selects the human-readable writer instead of JSON.
	Console bool
	// Instance is attached to every entry when non-empty.
	Instance string
}

// NewLogger builds the kernel logger.
func NewLogger(w io.Writer, cfg LoggerConfig) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro}
	}

	level := cfg.Level
	if env := os.Getenv(LevelEnv); env != "" {
		level = env
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	ctx := zerolog.New(w).Level(lvl).With().Timestamp()
	if cfg.Instance != "" {
		ctx = ctx.Str("instance", cfg.Instance)
	}
	return ctx.Logger()
}

// LogSink writes every event as a structured log entry.
type LogSink struct {
	log   zerolog.Logger
	level zerolog.Level
}

// NewLogSink logs events at Debug, except terminations which use Info.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log, level: zerolog.DebugLevel}
}

// Emit logs e.
func (s *LogSink) Emit(e Event) {
	level := s.level
	if e.Kind == KindProcessTerminated || e.Kind == KindProcessCreated {
		level = zerolog.InfoLevel
	}
	entry := s.log.WithLevel(level).
		Str("event", string(e.Kind)).
		Uint32("pid", e.PID)

	switch e.Kind {
	case KindProcessTerminated:
		entry = entry.Int("code", e.Code)
	case KindStateChanged:
		entry = entry.Str("from", e.From).Str("to", e.To)
	case KindContextSwitch:
		entry = entry.Int("cpu", e.CPU).Uint32("from_pid", e.FromPID).Uint32("to_pid", e.ToPID)
	}
	entry.Msg("scheduler event")
}
