package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources, highest
// precedence first: CLI flags > environment variables > project config
// file > user config file > built-in defaults.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	mu         sync.Mutex
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "AWE",
	}
}

// NewLoaderWithViper creates a loader over an existing viper instance, so a
// cobra command tree can bind its flags into the same instance before Load.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "AWE"}
}

// WithConfigFile pins an explicit config file path, bypassing search paths.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration from all sources and unmarshals it into a Config.
//
// Project config: .agentcheck/config.yaml (search from cwd upward is not
// performed; only the current directory is checked).
// User config: ~/.config/agentcheck/config.yaml.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	l.bindEnvAliases()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".agentcheck")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "agentcheck"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	l.applyProviderCommandEnv(&cfg)

	if err := NewValidator().Validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.Artifacts.Root != "" {
		cfg.Artifacts.Root = resolvePathRelativeToCWD(cfg.Artifacts.Root)
	}
	if cfg.Automation.LockPath != "" {
		cfg.Automation.LockPath = resolvePathRelativeToCWD(cfg.Automation.LockPath)
	}

	return &cfg, nil
}

// bindEnvAliases binds the flat AWE_* variable names to their nested
// config keys. AutomaticEnv alone would only answer to the fully qualified
// names (AWE_STORE_DATABASE_URL and friends); the short forms are the
// documented interface.
func (l *Loader) bindEnvAliases() {
	for key, env := range map[string]string{
		"store.database_url":                  "AWE_DATABASE_URL",
		"artifacts.root":                      "AWE_ARTIFACT_ROOT",
		"service.name":                        "AWE_SERVICE_NAME",
		"telemetry.otlp_endpoint":             "AWE_OTEL_EXPORTER_OTLP_ENDPOINT",
		"dry_run":                             "AWE_DRY_RUN",
		"runner.timeout_seconds":              "AWE_PARTICIPANT_TIMEOUT_SECONDS",
		"runner.command_timeout_seconds":      "AWE_COMMAND_TIMEOUT_SECONDS",
		"runner.timeout_retries":              "AWE_PARTICIPANT_TIMEOUT_RETRIES",
		"engine.max_concurrent_running_tasks": "AWE_MAX_CONCURRENT_RUNNING_TASKS",
		"engine.backend":                      "AWE_WORKFLOW_BACKEND",
		"sandbox.base":                        "AWE_SANDBOX_BASE",
		"sandbox.use_public_base":             "AWE_SANDBOX_USE_PUBLIC_BASE",
		"promotion.guard_enabled":             "AWE_PROMOTION_GUARD_ENABLED",
		"promotion.require_clean":             "AWE_PROMOTION_REQUIRE_CLEAN",
		"promotion.allowed_branches":          "AWE_PROMOTION_ALLOWED_BRANCHES",
	} {
		_ = l.v.BindEnv(key, env)
	}
}

// applyProviderCommandEnv merges AWE_<PROVIDER>_COMMAND environment
// variables and the AWE_PROVIDER_ADAPTERS_JSON map into the provider
// command table, taking precedence over any value already present from
// config files.
func (l *Loader) applyProviderCommandEnv(cfg *Config) {
	if cfg.ProviderCmds == nil {
		cfg.ProviderCmds = map[string]string{}
	}
	if raw := strings.TrimSpace(os.Getenv(l.envPrefix + "_PROVIDER_ADAPTERS_JSON")); raw != "" {
		var adapters map[string]string
		if err := json.Unmarshal([]byte(raw), &adapters); err == nil {
			for provider, command := range adapters {
				cfg.ProviderCmds[strings.ToLower(strings.TrimSpace(provider))] = command
			}
		}
	}
	for _, provider := range []string{"claude", "codex", "gemini"} {
		key := l.envPrefix + "_" + strings.ToUpper(provider) + "_COMMAND"
		if v := os.Getenv(key); strings.TrimSpace(v) != "" {
			cfg.ProviderCmds[provider] = v
		}
	}
}

func resolvePathRelativeToCWD(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}

// setDefaults configures default values for every supported setting, so
// each AWE_* environment variable has a key to land on.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("service.name", "agentcheck")

	l.v.SetDefault("store.database_url", ".agentcheck/agentcheck.db")

	l.v.SetDefault("artifacts.root", ".agentcheck/artifacts")

	l.v.SetDefault("runner.timeout_seconds", 900)
	l.v.SetDefault("runner.timeout_retries", 1)
	l.v.SetDefault("runner.command_timeout_seconds", 1800)

	l.v.SetDefault("sandbox.base", "")
	l.v.SetDefault("sandbox.use_public_base", false)

	l.v.SetDefault("engine.backend", "classic")
	l.v.SetDefault("engine.task_timeout_seconds", 3600)
	l.v.SetDefault("engine.consensus_stall_attempts", 3)
	l.v.SetDefault("engine.max_concurrent_running_tasks", 4)

	// Guard on, cleanliness off by default: blocking local development on a
	// dirty worktree is opt-in, matching the promotion env-var defaults.
	l.v.SetDefault("promotion.guard_enabled", true)
	l.v.SetDefault("promotion.require_clean", false)
	l.v.SetDefault("promotion.allowed_branches", []string{})

	l.v.SetDefault("automation.lock_path", ".agentcheck/overnight.lock")
	l.v.SetDefault("automation.poll_interval", 5*time.Second)
	l.v.SetDefault("automation.fallback_cooldown", 10*time.Minute)

	l.v.SetDefault("telemetry.otlp_endpoint", "")

	l.v.SetDefault("dry_run", false)
	l.v.SetDefault("provider_commands", map[string]string{})
}
