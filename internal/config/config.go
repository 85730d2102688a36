// Package config provides the configuration schema and loader for the
// Reverie companion platform.
package config

import "time"

// LogLevel controls log verbosity for the Reverie process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CacheMode selects the conversation cache backend.
type CacheMode string

const (
	// CacheModeMemory keeps recent messages in an in-process ring.
	CacheModeMemory CacheMode = "memory"

	// CacheModeRedis keeps recent messages in Redis, shared across replicas.
	CacheModeRedis CacheMode = "redis"
)

// IsValid reports whether m is a recognised cache mode.
func (m CacheMode) IsValid() bool {
	return m == CacheModeMemory || m == CacheModeRedis
}

// IdentityLevel controls how much user identity the prompt composer exposes
// to the model.
type IdentityLevel string

const (
	// IdentityIdentified passes real display names through.
	IdentityIdentified IdentityLevel = "identified"

	// IdentityContextualized passes stable per-context aliases (user_1, user_2, …).
	IdentityContextualized IdentityLevel = "contextualized"

	// IdentityAnonymous assigns stable hash-derived pseudonyms.
	IdentityAnonymous IdentityLevel = "anonymous"
)

// IsValid reports whether l is a recognised identity level.
func (l IdentityLevel) IsValid() bool {
	switch l {
	case IdentityIdentified, IdentityContextualized, IdentityAnonymous:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file via [Load].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Discord    DiscordConfig    `yaml:"discord"`
	Persona    PersonaConfig    `yaml:"persona"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Memory     MemoryConfig     `yaml:"memory"`
	TimeSeries TimeSeriesConfig `yaml:"timeseries"`
	Cache      CacheConfig      `yaml:"cache"`
	Session    SessionConfig    `yaml:"session"`
	Prompt     PromptConfig     `yaml:"prompt"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the address the Prometheus metrics endpoint listens on
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DiscordConfig holds the Discord transport settings.
type DiscordConfig struct {
	// Token is the bot token. Required to run the transport.
	Token string `yaml:"token"`

	// AllowedChannels restricts the bot to the listed channel IDs.
	// Empty means all channels the bot can see.
	AllowedChannels []string `yaml:"allowed_channels"`

	// AdminRoleID gates the management slash commands. Empty allows everyone.
	AdminRoleID string `yaml:"admin_role_id"`

	// BootstrapLimit is how many historical messages seed the conversation
	// cache when a channel is first seen. Zero uses the default of 20.
	BootstrapLimit int `yaml:"bootstrap_limit"`
}

// PersonaConfig selects and locates persona definitions.
type PersonaConfig struct {
	// Dir is the directory holding persona descriptor YAML files.
	Dir string `yaml:"dir"`

	// Default is the slug of the persona loaded on start.
	Default string `yaml:"default"`
}

// LLMConfig selects the reply model.
type LLMConfig struct {
	// Provider is the backend name (e.g., "openai", "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// Model is the model identifier (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// APIKey authenticates against the backend. Falls back to the backend's
	// environment variable when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Temperature for reply generation. Zero uses the backend default.
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingsConfig selects the embedding model producing the six views.
type EmbeddingsConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `yaml:"provider"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// APIKey authenticates remote providers.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Dimensions is the fixed vector length D. Must match the model output.
	Dimensions int `yaml:"dimensions"`
}

// MemoryConfig holds the PostgreSQL connection backing the vector and
// relational stores.
type MemoryConfig struct {
	// PostgresDSN is the connection string. Required.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// TimeSeriesConfig holds the InfluxDB v2 connection. An empty URL disables
// the time-series store; all metric writes become no-ops.
type TimeSeriesConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// CacheConfig holds the conversation cache settings.
type CacheConfig struct {
	// Mode selects the backend. When redis is selected but unreachable, the
	// cache falls back to in-memory with a warning.
	Mode CacheMode `yaml:"mode"`

	// RedisAddr is the host:port of the Redis server (redis mode only).
	RedisAddr string `yaml:"redis_addr"`

	// RedisPassword authenticates against Redis when set.
	RedisPassword string `yaml:"redis_password"`

	// TimeoutMinutes is the staleness horizon; cached messages older than
	// this are dropped on read.
	TimeoutMinutes int `yaml:"timeout_minutes"`

	// MaxLocal is the per-channel ring capacity.
	MaxLocal int `yaml:"max_local"`
}

// SessionConfig holds boundary-manager settings.
type SessionConfig struct {
	// InactivityMinutes pauses a session after this much silence.
	InactivityMinutes int `yaml:"inactivity_minutes"`

	// SummarizationThreshold is the message count that triggers a topic
	// summary.
	SummarizationThreshold int `yaml:"summarization_threshold"`
}

// PromptConfig holds prompt-composer settings.
type PromptConfig struct {
	// MaxContextTokens is the hard prompt budget.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// StrictImmersiveMode filters meta/AI-referencing content out of
	// composed prompts.
	StrictImmersiveMode *bool `yaml:"strict_immersive_mode"`

	// IdentityLevel controls speaker identity exposure.
	IdentityLevel IdentityLevel `yaml:"identity_level"`
}

// Timeout returns the cache staleness horizon as a duration.
func (c CacheConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// Inactivity returns the session pause threshold as a duration.
func (s SessionConfig) Inactivity() time.Duration {
	return time.Duration(s.InactivityMinutes) * time.Minute
}

// Immersive reports whether the strict immersive filter is on. Defaults to on
// when unset.
func (p PromptConfig) Immersive() bool {
	return p.StrictImmersiveMode == nil || *p.StrictImmersiveMode
}
