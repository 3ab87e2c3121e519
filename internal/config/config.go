// Package config loads agentcheck's layered configuration: CLI flags over
// environment variables over project config file over user config file
// over built-in defaults.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Service      ServiceConfig      `mapstructure:"service"`
	Store        StoreConfig        `mapstructure:"store"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
	Runner       RunnerConfig       `mapstructure:"runner"`
	Sandbox      SandboxConfig      `mapstructure:"sandbox"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Promotion    PromotionConfig    `mapstructure:"promotion"`
	Automation   AutomationConfig   `mapstructure:"automation"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	DryRun       bool               `mapstructure:"dry_run"`
	ProviderCmds map[string]string  `mapstructure:"provider_commands"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // auto, text, json
}

// ServiceConfig names this process for telemetry and lock-file purposes.
type ServiceConfig struct {
	Name string `mapstructure:"name"`
}

// StoreConfig configures the Task Repository backend.
type StoreConfig struct {
	// DatabaseURL is a sqlite DSN, e.g. "file:agentcheck.db" or ":memory:".
	DatabaseURL string `mapstructure:"database_url"`
}

// ArtifactsConfig configures the Artifact Store root.
type ArtifactsConfig struct {
	Root string `mapstructure:"root"`
}

// RunnerConfig configures the Participant Runner.
type RunnerConfig struct {
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	TimeoutRetries int               `mapstructure:"timeout_retries"`
	CommandTimeout int               `mapstructure:"command_timeout_seconds"`
	Adapters       map[string]string `mapstructure:"adapters"`
}

// SandboxConfig configures the Sandbox/Workspace Manager.
type SandboxConfig struct {
	Base          string `mapstructure:"base"`
	UsePublicBase bool   `mapstructure:"use_public_base"`
}

// EngineConfig configures the Workflow Engine.
type EngineConfig struct {
	Backend              string `mapstructure:"backend"` // classic, langgraph
	TaskTimeoutSeconds    int    `mapstructure:"task_timeout_seconds"`
	ConsensusStallAttempts int   `mapstructure:"consensus_stall_attempts"`
	MaxConcurrentRunning  int    `mapstructure:"max_concurrent_running_tasks"`
}

// PromotionConfig gates Auto-Fusion's cross-repo merge step.
type PromotionConfig struct {
	GuardEnabled    bool     `mapstructure:"guard_enabled"`
	RequireClean    bool     `mapstructure:"require_clean"`
	AllowedBranches []string `mapstructure:"allowed_branches"`
}

// AutomationConfig configures the overnight/benchmark driver.
type AutomationConfig struct {
	LockPath         string        `mapstructure:"lock_path"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FallbackCooldown time.Duration `mapstructure:"fallback_cooldown"`
}

// TelemetryConfig configures OpenTelemetry export, consumed as a
// collaborator interface — agentcheck only reads the endpoint, it does not
// own the OTel SDK wiring.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}
