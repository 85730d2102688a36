package config_test

import (
	"strings"
	"testing"

	"github.com/reverie-chat/reverie/internal/config"
)

const minimalYAML = `
persona:
  default: luna
llm:
  provider: openai
  model: gpt-4o-mini
memory:
  postgres_dsn: postgres://reverie@localhost/reverie
`

func TestLoad_MinimalAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Cache.Mode != config.CacheModeMemory {
		t.Errorf("cache.mode = %q, want memory", cfg.Cache.Mode)
	}
	if cfg.Cache.TimeoutMinutes != config.DefaultCacheTimeoutMinutes {
		t.Errorf("cache.timeout_minutes = %d, want %d", cfg.Cache.TimeoutMinutes, config.DefaultCacheTimeoutMinutes)
	}
	if cfg.Cache.MaxLocal != config.DefaultCacheMaxLocal {
		t.Errorf("cache.max_local = %d, want %d", cfg.Cache.MaxLocal, config.DefaultCacheMaxLocal)
	}
	if cfg.Session.InactivityMinutes != config.DefaultSessionInactivityMinutes {
		t.Errorf("session.inactivity_minutes = %d, want %d", cfg.Session.InactivityMinutes, config.DefaultSessionInactivityMinutes)
	}
	if cfg.Session.SummarizationThreshold != config.DefaultSummarizationThreshold {
		t.Errorf("session.summarization_threshold = %d, want %d", cfg.Session.SummarizationThreshold, config.DefaultSummarizationThreshold)
	}
	if cfg.Prompt.MaxContextTokens != config.DefaultMaxContextTokens {
		t.Errorf("prompt.max_context_tokens = %d, want %d", cfg.Prompt.MaxContextTokens, config.DefaultMaxContextTokens)
	}
	if !cfg.Prompt.Immersive() {
		t.Error("strict immersive mode should default to on")
	}
	if cfg.Prompt.IdentityLevel != config.IdentityContextualized {
		t.Errorf("prompt.identity_level = %q, want contextualized", cfg.Prompt.IdentityLevel)
	}
}

func TestValidate_MissingRequiredKeys(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`server: {log_level: info}`))
	if err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
	for _, want := range []string{"persona.default", "llm.provider", "llm.model", "memory.postgres_dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_RedisModeRequiresAddr(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
cache:
  mode: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for redis mode without addr, got nil")
	}
	if !strings.Contains(err.Error(), "redis_addr") {
		t.Errorf("error should mention redis_addr, got: %v", err)
	}
}

func TestValidate_InvalidEnums(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
server:
  log_level: verbose
prompt:
  identity_level: pseudonymous
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid enums, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(err.Error(), "identity_level") {
		t.Errorf("error should mention identity_level, got: %v", err)
	}
}

func TestValidate_TimeseriesRequiresOrgAndBucket(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
timeseries:
  url: http://localhost:8086
  token: secret
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for timeseries url without org/bucket, got nil")
	}
	if !strings.Contains(err.Error(), "timeseries.org") {
		t.Errorf("error should mention timeseries.org, got: %v", err)
	}
}

func TestLoad_UnknownKeysRejected(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
mystery_section:
  key: value
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level key, got nil")
	}
}

func TestImmersiveExplicitOff(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
prompt:
  strict_immersive_mode: false
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Prompt.Immersive() {
		t.Error("strict_immersive_mode: false should disable the filter")
	}
}
