// Package logging provides the structured logger the orchestrator threads
// through every component: slog underneath, credential redaction in front
// of every sink, and an auto format that picks a colorized console
// renderer on a TTY and JSON everywhere else.
package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Logger wraps slog.Logger with redaction and task-scoped helpers.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
}

// New creates a logger. An empty Output defaults to stdout.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default: // auto
		if isTerminal(out) {
			handler = NewPrettyHandler(out, level)
		} else {
			handler = slog.NewJSONHandler(out, opts)
		}
	}

	sanitizer := NewSanitizer()
	return &Logger{
		Logger:    slog.New(NewSanitizingHandler(handler, sanitizer)),
		sanitizer: sanitizer,
	}
}

// NewNop creates a logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sanitizer: NewSanitizer(),
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), sanitizer: l.sanitizer}
}

// WithTask returns a logger carrying the task id on every record.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.with("task_id", taskID)
}

// WithRound returns a logger carrying the round number.
func (l *Logger) WithRound(round int) *Logger {
	return l.with("round", round)
}

// WithParticipant returns a logger carrying the participant identity.
func (l *Logger) WithParticipant(participant string) *Logger {
	return l.with("participant", participant)
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return l.with(args...)
}

// Sanitize scrubs a string through the logger's redaction rules, for
// callers that embed subprocess output somewhere other than a log record.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}
