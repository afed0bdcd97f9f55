package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Packages derive their own loggers from
// it when they are constructed, so Init must run before them.
var Logger = newLogger(os.Stderr, false, zerolog.InfoLevel)

// Level names a verbosity accepted by Init.
type Level string

const (
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config selects the verbosity, encoding and destination of Logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // stderr when nil
}

// Init rebuilds Logger from cfg. An empty or unknown level means info.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	Logger = newLogger(out, cfg.JSONOutput, cfg.Level.zerolog())
}

func (l Level) zerolog() zerolog.Level {
	lvl, err := zerolog.ParseLevel(string(l))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func newLogger(out io.Writer, jsonOutput bool, lvl zerolog.Level) zerolog.Logger {
	if !jsonOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// WithComponent tags records with the subsystem that wrote them.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithUnit tags records with a processing unit.
func WithUnit(unit int) zerolog.Logger {
	return Logger.With().Int("unit", unit).Logger()
}

// WithEntity tags records with a scheduled entity id.
func WithEntity(id uint64) zerolog.Logger {
	return Logger.With().Uint64("entity", id).Logger()
}

// WithRunID tags records with a simulation run.
func WithRunID(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}
