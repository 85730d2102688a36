package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] when the corresponding key is unset.
const (
	DefaultCacheTimeoutMinutes      = 15
	DefaultBootstrapLimit           = 20
	DefaultCacheMaxLocal            = 50
	DefaultSessionInactivityMinutes = 30
	DefaultSummarizationThreshold   = 8
	DefaultMaxContextTokens         = 8000
	DefaultEmbeddingDimensions      = 1536
)

// validLLMProviders lists backend names accepted for llm.provider.
var validLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// validEmbeddingProviders lists backend names accepted for embeddings.provider.
var validEmbeddingProviders = []string{"openai", "ollama"}

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset numeric and enum fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Cache.Mode == "" {
		cfg.Cache.Mode = CacheModeMemory
	}
	if cfg.Cache.TimeoutMinutes <= 0 {
		cfg.Cache.TimeoutMinutes = DefaultCacheTimeoutMinutes
	}
	if cfg.Discord.BootstrapLimit <= 0 {
		cfg.Discord.BootstrapLimit = DefaultBootstrapLimit
	}
	if cfg.Cache.MaxLocal <= 0 {
		cfg.Cache.MaxLocal = DefaultCacheMaxLocal
	}
	if cfg.Session.InactivityMinutes <= 0 {
		cfg.Session.InactivityMinutes = DefaultSessionInactivityMinutes
	}
	if cfg.Session.SummarizationThreshold <= 0 {
		cfg.Session.SummarizationThreshold = DefaultSummarizationThreshold
	}
	if cfg.Prompt.MaxContextTokens <= 0 {
		cfg.Prompt.MaxContextTokens = DefaultMaxContextTokens
	}
	if cfg.Prompt.IdentityLevel == "" {
		cfg.Prompt.IdentityLevel = IdentityContextualized
	}
	if cfg.Embeddings.Dimensions <= 0 {
		cfg.Embeddings.Dimensions = DefaultEmbeddingDimensions
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Soft problems (a
// disabled time-series store, a missing Discord token in a test setup) are
// logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Persona.Default == "" {
		errs = append(errs, errors.New("persona.default is required"))
	}

	if cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	} else if !slices.Contains(validLLMProviders, cfg.LLM.Provider) {
		slog.Warn("unrecognised llm.provider; the backend may fail to start", "provider", cfg.LLM.Provider)
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}

	if cfg.Embeddings.Provider != "" && !slices.Contains(validEmbeddingProviders, cfg.Embeddings.Provider) {
		errs = append(errs, fmt.Errorf("embeddings.provider %q is invalid; valid values: openai, ollama", cfg.Embeddings.Provider))
	}

	if cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required"))
	}

	if !cfg.Cache.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("cache.mode %q is invalid; valid values: memory, redis", cfg.Cache.Mode))
	}
	if cfg.Cache.Mode == CacheModeRedis && cfg.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr is required when cache.mode is redis"))
	}

	if cfg.Prompt.IdentityLevel != "" && !cfg.Prompt.IdentityLevel.IsValid() {
		errs = append(errs, fmt.Errorf("prompt.identity_level %q is invalid; valid values: identified, contextualized, anonymous", cfg.Prompt.IdentityLevel))
	}

	if cfg.TimeSeries.URL == "" {
		slog.Info("timeseries.url not set; metric streams are disabled")
	} else if cfg.TimeSeries.Org == "" || cfg.TimeSeries.Bucket == "" {
		errs = append(errs, errors.New("timeseries.org and timeseries.bucket are required when timeseries.url is set"))
	}

	if cfg.Discord.Token == "" {
		slog.Warn("discord.token is empty; the transport will not start")
	}

	return errors.Join(errs...)
}
