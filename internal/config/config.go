// Package config holds the application configuration, loaded via viper with
// defaults, file, and environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Planner  PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	Verifier VerifierConfig `mapstructure:"verifier" yaml:"verifier"`
	Memory   MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	Device   DeviceConfig   `mapstructure:"device" yaml:"device"`
}

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json".
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // Megabytes before rotation.
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // Days.
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// LLMProvider identifies a reasoning-backend implementation.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"     // Direct HTTP client.
	ProviderGeminiSDK LLMProvider = "gemini-sdk" // google.golang.org/genai client.
)

// ModelConfig defines one reasoning model endpoint.
type ModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// SafetyFilters maps harm categories to block thresholds, forwarded
	// verbatim in the request payload.
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// LLMConfig configures the model router: one fast model for cheap calls
// (intent classification, digests) and one powerful model for step decisions
// and planning.
type LLMConfig struct {
	Fast             ModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful         ModelConfig `mapstructure:"powerful" yaml:"powerful"`
	RequestsPerMinute int        `mapstructure:"requests_per_minute" yaml:"requests_per_minute"` // 0 disables rate limiting.
}

// EngineConfig holds the orchestration loop budgets and timeouts.
type EngineConfig struct {
	MaxSteps               int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	MaxSameActionFailures  int           `mapstructure:"max_same_action_failures" yaml:"max_same_action_failures"`
	CaptureTimeout         time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
	DecideTimeout          time.Duration `mapstructure:"decide_timeout" yaml:"decide_timeout"`
	ExecuteTimeout         time.Duration `mapstructure:"execute_timeout" yaml:"execute_timeout"`
	SettleDelay            time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"` // Pause before the after-capture.
	Cooldown               time.Duration `mapstructure:"cooldown" yaml:"cooldown"`         // Completed/Failed -> Idle delay.
	HistoryWindow          int           `mapstructure:"history_window" yaml:"history_window"` // Step records fed to the decider.
	EventBufferSize        int           `mapstructure:"event_buffer_size" yaml:"event_buffer_size"`
}

// PlannerConfig tunes plan generation and the deterministic fallback.
type PlannerConfig struct {
	MaxPlanSteps      int               `mapstructure:"max_plan_steps" yaml:"max_plan_steps"`
	MaxStepRetries    int               `mapstructure:"max_step_retries" yaml:"max_step_retries"`
	KnownApps         map[string]string `mapstructure:"known_apps" yaml:"known_apps"` // Display name -> package id.
	SensitiveKeywords []string          `mapstructure:"sensitive_keywords" yaml:"sensitive_keywords"`
}

// VerifierConfig tunes the action verifier heuristics.
type VerifierConfig struct {
	SignatureTolerancePx  int           `mapstructure:"signature_tolerance_px" yaml:"signature_tolerance_px"`
	FailureWindow         time.Duration `mapstructure:"failure_window" yaml:"failure_window"`
	RetryCeiling          int           `mapstructure:"retry_ceiling" yaml:"retry_ceiling"`
	ElementCountTolerance int           `mapstructure:"element_count_tolerance" yaml:"element_count_tolerance"`
	KeyboardShiftPx       int           `mapstructure:"keyboard_shift_px" yaml:"keyboard_shift_px"`
}

// PostgresConfig holds the connection details for the optional task-summary
// store.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// MemoryConfig bounds the three memory tiers.
type MemoryConfig struct {
	ShortTermCap   int            `mapstructure:"short_term_cap" yaml:"short_term_cap"`
	WorkingStepCap int            `mapstructure:"working_step_cap" yaml:"working_step_cap"`
	LongTermCap    int            `mapstructure:"long_term_cap" yaml:"long_term_cap"`
	PreferenceCap  int            `mapstructure:"preference_cap" yaml:"preference_cap"`
	Postgres       PostgresConfig `mapstructure:"postgres" yaml:"postgres"` // Empty URL keeps summaries in memory only.
}

// DeviceConfig configures the built-in device simulator used by the CLI.
type DeviceConfig struct {
	ScriptPath string        `mapstructure:"script_path" yaml:"script_path"`
	Latency    time.Duration `mapstructure:"latency" yaml:"latency"`
}

// SetDefaults installs default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "zigent")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.fast.provider", "gemini")
	v.SetDefault("llm.fast.model", "gemini-2.5-flash")
	v.SetDefault("llm.fast.api_timeout", "30s")
	v.SetDefault("llm.fast.temperature", 0.2)
	v.SetDefault("llm.powerful.provider", "gemini")
	v.SetDefault("llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("llm.powerful.api_timeout", "60s")
	v.SetDefault("llm.powerful.temperature", 0.2)
	v.SetDefault("llm.requests_per_minute", 60)

	// -- Engine --
	v.SetDefault("engine.max_steps", 30)
	v.SetDefault("engine.max_consecutive_failures", 5)
	v.SetDefault("engine.max_same_action_failures", 3)
	v.SetDefault("engine.capture_timeout", "10s")
	v.SetDefault("engine.decide_timeout", "60s")
	v.SetDefault("engine.execute_timeout", "30s")
	v.SetDefault("engine.settle_delay", "800ms")
	v.SetDefault("engine.cooldown", "2s")
	v.SetDefault("engine.history_window", 5)
	v.SetDefault("engine.event_buffer_size", 64)

	// -- Planner --
	v.SetDefault("planner.max_plan_steps", 10)
	v.SetDefault("planner.max_step_retries", 2)
	v.SetDefault("planner.sensitive_keywords", []string{"pay", "payment", "transfer", "delete", "remove", "purchase", "buy"})

	// -- Verifier --
	v.SetDefault("verifier.signature_tolerance_px", 20)
	v.SetDefault("verifier.failure_window", "2m")
	v.SetDefault("verifier.retry_ceiling", 3)
	v.SetDefault("verifier.element_count_tolerance", 2)
	v.SetDefault("verifier.keyboard_shift_px", 100)

	// -- Memory --
	v.SetDefault("memory.short_term_cap", 50)
	v.SetDefault("memory.working_step_cap", 20)
	v.SetDefault("memory.long_term_cap", 30)
	v.SetDefault("memory.preference_cap", 50)

	// -- Device --
	v.SetDefault("device.latency", "50ms")
}

// NewDefaultConfig returns a configuration populated entirely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a prepared
// viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("llm.fast.api_key", "ZIGENT_LLM_API_KEY")
	v.BindEnv("llm.powerful.api_key", "ZIGENT_LLM_API_KEY")
	v.BindEnv("memory.postgres.url", "ZIGENT_MEMORY_PG_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be a positive integer")
	}
	if c.Engine.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("engine.max_consecutive_failures must be a positive integer")
	}
	if c.Engine.MaxSameActionFailures <= 0 {
		return fmt.Errorf("engine.max_same_action_failures must be a positive integer")
	}
	if c.Engine.CaptureTimeout <= 0 || c.Engine.DecideTimeout <= 0 || c.Engine.ExecuteTimeout <= 0 {
		return fmt.Errorf("engine timeouts must be positive durations")
	}
	if c.Verifier.SignatureTolerancePx < 0 {
		return fmt.Errorf("verifier.signature_tolerance_px must not be negative")
	}
	if c.Verifier.RetryCeiling <= 0 {
		return fmt.Errorf("verifier.retry_ceiling must be a positive integer")
	}
	if c.Memory.ShortTermCap <= 0 || c.Memory.LongTermCap <= 0 {
		return fmt.Errorf("memory tier caps must be positive integers")
	}
	return nil
}
