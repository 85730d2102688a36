package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reverie-chat/reverie/internal/observe"
	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/provider/llm"
)

// ErrAllBackendsFailed is returned by [Failover.Complete] when every
// registered backend failed or had an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all llm backends failed")

// backend pairs a provider with its dedicated breaker.
type backend struct {
	provider llm.Provider
	breaker  *Breaker
}

// Failover is an [llm.Provider] that chains a primary backend with zero or
// more fallbacks. Completions try each backend in registration order; a
// backend with an open breaker is skipped without a network call.
// CountTokens and ModelID always reflect the primary so the prompt budget
// stays stable regardless of which backend answered last.
type Failover struct {
	breakerCfg BreakerConfig
	log        *slog.Logger
	metrics    *observe.Metrics

	mu       sync.RWMutex
	backends []backend
}

var _ llm.Provider = (*Failover)(nil)

// FailoverOption configures a [Failover].
type FailoverOption func(*Failover)

// WithBreakerConfig sets the breaker template applied to every backend.
// The Name field is overwritten per backend with its model ID.
func WithBreakerConfig(cfg BreakerConfig) FailoverOption {
	return func(f *Failover) { f.breakerCfg = cfg }
}

// WithFailoverLogger sets the logger for failover and breaker events.
func WithFailoverLogger(log *slog.Logger) FailoverOption {
	return func(f *Failover) { f.log = log }
}

// WithFailoverMetrics records completions served by fallback backends.
func WithFailoverMetrics(m *observe.Metrics) FailoverOption {
	return func(f *Failover) { f.metrics = m }
}

// NewFailover creates a [Failover] with primary as the first backend.
func NewFailover(primary llm.Provider, opts ...FailoverOption) *Failover {
	f := &Failover{log: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	f.breakerCfg.Log = f.log
	f.addBackend(primary)
	return f
}

// AddFallback appends a backend tried after all earlier ones.
func (f *Failover) AddFallback(p llm.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addBackend(p)
}

func (f *Failover) addBackend(p llm.Provider) {
	cfg := f.breakerCfg
	cfg.Name = p.ModelID()
	f.backends = append(f.backends, backend{
		provider: p,
		breaker:  NewBreaker(cfg),
	})
}

// Complete tries each backend in order until one returns a reply.
func (f *Failover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.RLock()
	backends := f.backends
	f.mu.RUnlock()

	var lastErr error
	for i, b := range backends {
		var resp *llm.CompletionResponse
		err := b.breaker.Do(func() error {
			var callErr error
			resp, callErr = b.provider.Complete(ctx, req)
			return callErr
		})
		if err == nil {
			if i > 0 {
				f.log.Warn("completion served by fallback backend",
					"model", b.provider.ModelID(),
					"primary", backends[0].provider.ModelID())
				if f.metrics != nil {
					f.metrics.RecordBranchFailure(ctx, "llm_primary")
				}
			}
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			f.log.Debug("skipping llm backend, breaker open",
				"model", b.provider.ModelID())
			continue
		}
		f.log.Warn("llm backend failed",
			"model", b.provider.ModelID(),
			"error", err)
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllBackendsFailed, lastErr)
}

// CountTokens delegates to the primary backend.
func (f *Failover) CountTokens(messages []chat.Message) (int, error) {
	f.mu.RLock()
	primary := f.backends[0].provider
	f.mu.RUnlock()
	return primary.CountTokens(messages)
}

// ModelID reports the primary backend's model.
func (f *Failover) ModelID() string {
	f.mu.RLock()
	primary := f.backends[0].provider
	f.mu.RUnlock()
	return primary.ModelID()
}
