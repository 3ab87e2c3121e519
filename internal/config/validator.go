package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates a loaded Config against the constraints the rest of
// the system assumes hold (valid log level, positive timeouts, a supported
// workflow backend).
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateRunner(&cfg.Runner)
	v.validateEngine(&cfg.Engine)
	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.errors = append(v.errors, ValidationError{"log.level", cfg.Level, "must be one of debug, info, warn, error"})
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.errors = append(v.errors, ValidationError{"log.format", cfg.Format, "must be one of auto, text, json"})
	}
}

func (v *Validator) validateRunner(cfg *RunnerConfig) {
	if cfg.TimeoutSeconds <= 0 {
		v.errors = append(v.errors, ValidationError{"runner.timeout_seconds", cfg.TimeoutSeconds, "must be positive"})
	}
	if cfg.TimeoutRetries < 0 {
		v.errors = append(v.errors, ValidationError{"runner.timeout_retries", cfg.TimeoutRetries, "must be non-negative"})
	}
	if cfg.CommandTimeout <= 0 {
		v.errors = append(v.errors, ValidationError{"runner.command_timeout_seconds", cfg.CommandTimeout, "must be positive"})
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	switch cfg.Backend {
	case "classic", "langgraph":
	default:
		v.errors = append(v.errors, ValidationError{"engine.backend", cfg.Backend, "must be one of classic, langgraph"})
	}
	if cfg.TaskTimeoutSeconds <= 0 {
		v.errors = append(v.errors, ValidationError{"engine.task_timeout_seconds", cfg.TaskTimeoutSeconds, "must be positive"})
	}
	if cfg.MaxConcurrentRunning <= 0 {
		v.errors = append(v.errors, ValidationError{"engine.max_concurrent_running_tasks", cfg.MaxConcurrentRunning, "must be positive"})
	}
	if cfg.ConsensusStallAttempts <= 0 {
		v.errors = append(v.errors, ValidationError{"engine.consensus_stall_attempts", cfg.ConsensusStallAttempts, "must be positive"})
	}
}
