// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"math"
	"time"
)

// Config is the main configuration structure for Rapport.
type Config struct {
	Dialogue     DialogueConfig     `yaml:"dialogue"`
	Context      ContextConfig      `yaml:"context"`
	Tools        ToolsConfig        `yaml:"tools"`
	Memory       MemoryConfig       `yaml:"memory"`
	Relationship RelationshipConfig `yaml:"relationship"`
	Model        ModelConfig        `yaml:"model"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// DialogueConfig controls the per-turn orchestration loop.
type DialogueConfig struct {
	SystemPrompt     string   `yaml:"system_prompt"`
	HistoryLimit     int      `yaml:"history_limit"`
	MaxToolCalls     int      `yaml:"max_tool_calls"`
	ToolDecisionMode string   `yaml:"tool_decision_mode"` // rule or model
	ToolTimeoutMS    int      `yaml:"tool_timeout_ms"`
	RetryAttempts    int      `yaml:"retry_attempts"`
	AffectiveTokens  []string `yaml:"affective_tokens"`
}

// ContextConfig controls side-channel context injection.
type ContextConfig struct {
	Enabled           bool   `yaml:"enable_injection"`
	Priority          string `yaml:"priority"` // low, medium, high
	MaxContextTokens  int    `yaml:"max_context_tokens"`
	InjectionPosition string `yaml:"injection_position"` // prefix, system, inline
	LogUsage          bool   `yaml:"log_usage"`
}

// ToolsConfig controls registry discovery.
type ToolsConfig struct {
	DiscoveryPaths     []string `yaml:"discovery_paths"`
	AutoscanIntervalMS int      `yaml:"autoscan_interval_ms"` // 0 disables autoscan
	Watch              bool     `yaml:"watch"`
	MinDecisionLength  int      `yaml:"min_decision_length"`
}

// MemoryConfig bounds the memory subsystem.
type MemoryConfig struct {
	Capacity                int    `yaml:"capacity"`
	ConversationLimit       int    `yaml:"conversation_limit"`
	MaxTurnsPerConversation int    `yaml:"max_turns_per_conversation"`
	PersistPath             string `yaml:"persist_path"`
}

// RelationshipWeights combine the three intensity factors; they must sum to 1.0.
type RelationshipWeights struct {
	Interaction   float64 `yaml:"interaction"`
	Emotional     float64 `yaml:"emotional"`
	Collaboration float64 `yaml:"collaboration"`
}

// SchedulerConfig controls the background relationship task loop.
type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	TaskTimeout    time.Duration `yaml:"task_timeout"`
	SweepSchedule  string        `yaml:"sweep_schedule"` // cron expression or @every form
}

// RelationshipConfig tunes status thresholds and intensity weighting.
type RelationshipConfig struct {
	Weights              RelationshipWeights `yaml:"weights"`
	SilentThresholdDays  int                 `yaml:"silent_threshold_days"`
	CoolingThresholdDays int                 `yaml:"cooling_threshold_days"`
	ActiveMinRounds      int                 `yaml:"active_min_rounds_7d"`
	PersistPath          string              `yaml:"persist_path"`
	Scheduler            SchedulerConfig     `yaml:"scheduler"`
}

// ModelConfig selects and configures the model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // anthropic, openai, gemini, ollama
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // openai, ollama
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// StorageConfig selects the persistence adapter.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory or sqlite
	Path   string `yaml:"path"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"` // text or json
	RedactPatterns []string `yaml:"redact_patterns"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// Default returns a configuration with every knob at its default.
func Default() *Config {
	cfg := &Config{
		Context: ContextConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads, parses, defaults, and validates a config file. Absent keys
// keep their defaults, ${VAR} references expand from the environment, and
// unknown keys are rejected. Files may pull in others with $include.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRaw(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Dialogue.SystemPrompt == "" {
		cfg.Dialogue.SystemPrompt = "You are a helpful, attentive assistant."
	}
	if cfg.Dialogue.HistoryLimit == 0 {
		cfg.Dialogue.HistoryLimit = 16
	}
	if cfg.Dialogue.MaxToolCalls == 0 {
		cfg.Dialogue.MaxToolCalls = 3
	}
	if cfg.Dialogue.ToolDecisionMode == "" {
		cfg.Dialogue.ToolDecisionMode = "rule"
	}
	if cfg.Dialogue.ToolTimeoutMS == 0 {
		cfg.Dialogue.ToolTimeoutMS = 30000
	}
	if cfg.Dialogue.RetryAttempts == 0 {
		cfg.Dialogue.RetryAttempts = 2
	}
	if len(cfg.Dialogue.AffectiveTokens) == 0 {
		cfg.Dialogue.AffectiveTokens = []string{
			"thank", "thanks", "appreciate", "love", "happy",
			"wonderful", "amazing", "great", "glad",
		}
	}

	if cfg.Context.Priority == "" {
		cfg.Context.Priority = "medium"
	}
	if cfg.Context.MaxContextTokens == 0 {
		cfg.Context.MaxContextTokens = 2000
	}
	if cfg.Context.InjectionPosition == "" {
		cfg.Context.InjectionPosition = "prefix"
	}

	if cfg.Tools.MinDecisionLength == 0 {
		cfg.Tools.MinDecisionLength = 6
	}

	if cfg.Memory.Capacity == 0 {
		cfg.Memory.Capacity = 1000
	}
	if cfg.Memory.ConversationLimit == 0 {
		cfg.Memory.ConversationLimit = 100
	}
	if cfg.Memory.MaxTurnsPerConversation == 0 {
		cfg.Memory.MaxTurnsPerConversation = 50
	}

	if cfg.Relationship.Weights == (RelationshipWeights{}) {
		cfg.Relationship.Weights = RelationshipWeights{
			Interaction:   0.4,
			Emotional:     0.35,
			Collaboration: 0.25,
		}
	}
	if cfg.Relationship.SilentThresholdDays == 0 {
		cfg.Relationship.SilentThresholdDays = 14
	}
	if cfg.Relationship.CoolingThresholdDays == 0 {
		cfg.Relationship.CoolingThresholdDays = 7
	}
	if cfg.Relationship.ActiveMinRounds == 0 {
		cfg.Relationship.ActiveMinRounds = 21
	}
	if cfg.Relationship.Scheduler.PollInterval == 0 {
		cfg.Relationship.Scheduler.PollInterval = 30 * time.Second
	}
	if cfg.Relationship.Scheduler.MaxConcurrency == 0 {
		cfg.Relationship.Scheduler.MaxConcurrency = 4
	}
	if cfg.Relationship.Scheduler.TaskTimeout == 0 {
		cfg.Relationship.Scheduler.TaskTimeout = 2 * time.Minute
	}
	if cfg.Relationship.Scheduler.SweepSchedule == "" {
		cfg.Relationship.Scheduler.SweepSchedule = "@every 30m"
	}

	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = 0.7
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 1024
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "rapport"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
}

// Validate checks enum fields and numeric constraints.
func (c *Config) Validate() error {
	switch c.Dialogue.ToolDecisionMode {
	case "rule", "model":
	default:
		return fmt.Errorf("dialogue.tool_decision_mode: unknown mode %q", c.Dialogue.ToolDecisionMode)
	}
	if c.Dialogue.MaxToolCalls < 1 {
		return fmt.Errorf("dialogue.max_tool_calls must be >= 1, got %d", c.Dialogue.MaxToolCalls)
	}
	if c.Dialogue.HistoryLimit < 1 {
		return fmt.Errorf("dialogue.history_limit must be >= 1, got %d", c.Dialogue.HistoryLimit)
	}

	switch c.Context.Priority {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("context.priority: unknown priority %q", c.Context.Priority)
	}
	switch c.Context.InjectionPosition {
	case "prefix", "system", "inline":
	default:
		return fmt.Errorf("context.injection_position: unknown position %q", c.Context.InjectionPosition)
	}

	w := c.Relationship.Weights
	sum := w.Interaction + w.Emotional + w.Collaboration
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("relationship.weights must sum to 1.0, got %v", sum)
	}
	if w.Interaction < 0 || w.Emotional < 0 || w.Collaboration < 0 {
		return fmt.Errorf("relationship.weights must be non-negative")
	}
	if c.Relationship.CoolingThresholdDays >= c.Relationship.SilentThresholdDays {
		return fmt.Errorf("relationship.cooling_threshold_days (%d) must be below silent_threshold_days (%d)",
			c.Relationship.CoolingThresholdDays, c.Relationship.SilentThresholdDays)
	}

	if c.Memory.Capacity < 1 {
		return fmt.Errorf("memory.capacity must be >= 1, got %d", c.Memory.Capacity)
	}
	if c.Memory.ConversationLimit < 1 {
		return fmt.Errorf("memory.conversation_limit must be >= 1, got %d", c.Memory.ConversationLimit)
	}

	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite driver")
	}

	return nil
}
