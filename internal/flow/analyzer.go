// Package flow analyzes conversational dynamics: the emotional trajectory of
// recent turns and how the current message relates to the thread so far.
// Both analyses degrade gracefully when their preferred data source is down.
package flow

import (
	"log/slog"

	"github.com/reverie-chat/reverie/pkg/memory"
)

// flowWeights drive the multi-dimensional memory search backing flow
// classification. Context and relationship dominate because flow is about
// where the conversation sits, not what the words say.
var flowWeights = map[memory.VectorKind]float64{
	memory.KindContext:      0.30,
	memory.KindRelationship: 0.25,
	memory.KindContent:      0.20,
	memory.KindEmotion:      0.15,
	memory.KindPersonality:  0.10,
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMetrics attaches the time-series store used as the preferred emotion
// source for trajectory analysis.
func WithMetrics(ms memory.MetricStore) Option {
	return func(a *Analyzer) { a.metrics = ms }
}

// WithCollection attaches the persona-bound memory collection used for
// vector-backed flow classification and as the trajectory fallback source.
func WithCollection(col memory.Collection) Option {
	return func(a *Analyzer) { a.collection = col }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Analyzer) {
		if log != nil {
			a.log = log
		}
	}
}

// Analyzer computes trajectory and flow signals. The zero configuration still
// works: trajectory reports a stable result and flow uses the keyword
// fallback.
type Analyzer struct {
	personaID  string
	metrics    memory.MetricStore
	collection memory.Collection
	log        *slog.Logger
}

// NewAnalyzer builds an analyzer for one persona.
func NewAnalyzer(personaID string, opts ...Option) *Analyzer {
	a := &Analyzer{personaID: personaID, log: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}
