// Package influx implements [memory.MetricStore] on InfluxDB v2.
//
// The store is strictly best-effort: every write returns a bool instead of an
// error, failures are logged and swallowed, and a disabled store (empty URL)
// accepts calls as cheap no-ops. The intelligence pipeline never blocks on or
// fails because of the time-series sink.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

var _ memory.MetricStore = (*Store)(nil)

// Config carries the InfluxDB v2 connection settings. An empty URL disables
// the store entirely.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Store writes pipeline metric streams to InfluxDB v2.
type Store struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
	log    *slog.Logger
}

// NewStore creates a metric store from cfg. When cfg.URL is empty the
// returned store is disabled and every write is a no-op returning false.
// The connection is lazy; a wrong URL surfaces on first write, not here.
func NewStore(cfg Config, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	if cfg.URL == "" {
		return &Store{log: log}
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Store{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
		log:    log,
	}
}

// Enabled implements [memory.MetricStore].
func (s *Store) Enabled() bool { return s.client != nil }

// Close shuts down the underlying HTTP client. Safe on a disabled store.
func (s *Store) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *Store) writePoint(ctx context.Context, measurement string, tags memory.MetricTags, fields map[string]any, extraTags map[string]string) bool {
	if !s.Enabled() {
		return false
	}
	tagMap := map[string]string{
		"persona_id": tags.PersonaID,
		"user_id":    tags.UserID,
	}
	if tags.SessionID != "" {
		tagMap["session_id"] = tags.SessionID
	}
	for k, v := range extraTags {
		tagMap[k] = v
	}
	p := influxdb2.NewPoint(measurement, tagMap, fields, time.Now())
	if err := s.write.WritePoint(ctx, p); err != nil {
		s.log.Warn("influx write failed",
			"measurement", measurement,
			"persona_id", tags.PersonaID,
			"error", err)
		return false
	}
	return true
}

// WriteConfidenceEvolution implements [memory.MetricStore].
func (s *Store) WriteConfidenceEvolution(ctx context.Context, tags memory.MetricTags, p memory.ConfidencePoint) bool {
	return s.writePoint(ctx, "confidence_evolution", tags, map[string]any{
		"user_fact_confidence":    p.UserFactConfidence,
		"relationship_confidence": p.RelationshipConfidence,
		"context_confidence":      p.ContextConfidence,
		"emotional_confidence":    p.EmotionalConfidence,
		"overall_confidence":      p.OverallConfidence,
	}, nil)
}

// WriteRelationshipProgression implements [memory.MetricStore].
func (s *Store) WriteRelationshipProgression(ctx context.Context, tags memory.MetricTags, st chat.RelationshipState) bool {
	return s.writePoint(ctx, "relationship_progression", tags, map[string]any{
		"trust":               st.Trust,
		"affection":           st.Affection,
		"attunement":          st.Attunement,
		"interaction_quality": st.InteractionQuality,
		"comfort":             st.Comfort,
	}, nil)
}

// WriteConversationQuality implements [memory.MetricStore].
func (s *Store) WriteConversationQuality(ctx context.Context, tags memory.MetricTags, p memory.QualityPoint) bool {
	fields := map[string]any{
		"engagement":          p.Engagement,
		"satisfaction":        p.Satisfaction,
		"natural_flow":        p.NaturalFlow,
		"emotional_resonance": p.EmotionalResonance,
		"topic_relevance":     p.TopicRelevance,
	}
	var extra map[string]string
	if p.HasUserFeedback {
		fields["user_reaction_score"] = p.UserReactionScore
		extra = map[string]string{"reaction_emoji": p.ReactionEmoji}
	}
	return s.writePoint(ctx, "conversation_quality", tags, fields, extra)
}

// WriteUserEmotion implements [memory.MetricStore].
func (s *Store) WriteUserEmotion(ctx context.Context, tags memory.MetricTags, p memory.EmotionPoint) bool {
	return s.writeEmotion(ctx, "user_emotion", tags, p)
}

// WriteBotEmotion implements [memory.MetricStore].
func (s *Store) WriteBotEmotion(ctx context.Context, tags memory.MetricTags, p memory.EmotionPoint) bool {
	return s.writeEmotion(ctx, "bot_emotion", tags, p)
}

func (s *Store) writeEmotion(ctx context.Context, measurement string, tags memory.MetricTags, p memory.EmotionPoint) bool {
	return s.writePoint(ctx, measurement, tags, map[string]any{
		"intensity":  p.Intensity,
		"confidence": p.Confidence,
	}, map[string]string{"emotion": string(p.Emotion.Coerce())})
}

// RecentEmotions implements [memory.MetricStore]. Samples come back oldest
// first so that trajectory math can consume them in order.
func (s *Store) RecentEmotions(ctx context.Context, tags memory.MetricTags, window time.Duration, limit int) ([]memory.EmotionSample, error) {
	if !s.Enabled() {
		return []memory.EmotionSample{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "user_emotion")
  |> filter(fn: (r) => r.persona_id == %q and r.user_id == %q)
  |> filter(fn: (r) => r._field == "intensity")
  |> sort(columns: ["_time"])
  |> tail(n: %d)`,
		s.bucket, window.String(), tags.PersonaID, tags.UserID, limit)

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		s.log.Warn("influx query failed", "persona_id", tags.PersonaID, "error", err)
		return []memory.EmotionSample{}, nil
	}
	defer result.Close()

	samples := []memory.EmotionSample{}
	for result.Next() {
		rec := result.Record()
		sample := memory.EmotionSample{Time: rec.Time()}
		if v, ok := rec.Value().(float64); ok {
			sample.Intensity = v
		}
		if e, ok := rec.ValueByKey("emotion").(string); ok {
			sample.Emotion = chat.Emotion(e).Coerce()
		}
		samples = append(samples, sample)
	}
	if err := result.Err(); err != nil {
		s.log.Warn("influx result error", "persona_id", tags.PersonaID, "error", err)
	}
	return samples, nil
}
