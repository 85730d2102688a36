package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reverie-chat/reverie/internal/observe"
	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
	"github.com/reverie-chat/reverie/pkg/provider/embeddings"
)

// Relationship delta steps. Positive exchanges nudge trust and affection up;
// attunement additionally scales with observed intimacy development. Strong
// negative exchanges pull interaction quality and comfort down. All steps are
// small so the state only moves over many turns, and the store clamps the
// result to [0, 1].
const (
	deltaTrustStep       = 0.010
	deltaAffectionStep   = 0.010
	deltaAttunementStep  = 0.015
	deltaQualityPenalty  = -0.020
	deltaComfortPenalty  = -0.010
	deltaConfidenceFloor = 0.7
)

// Persistor is the turn persistence stage: after a reply is delivered it
// writes the memory record, the relational turn, the relationship delta and
// the time-series points. Store failures are logged and counted, never
// propagated to the conversation.
type Persistor struct {
	personaID   string
	personaName string

	embedder   embeddings.Provider
	collection memory.Collection
	relational memory.RelationalStore
	metrics    memory.MetricStore

	botEmotion BotEmotionFunc
	obs        *observe.Metrics
	log        *slog.Logger
}

// BotEmotionFunc lets the deployment derive the bot-side emotion written to
// the time-series store from the reply text. Optional.
type BotEmotionFunc func(replyText string) chat.EmotionResult

// NewPersistor builds the persist stage for one persona.
func NewPersistor(
	personaID, personaName string,
	embedder embeddings.Provider,
	collection memory.Collection,
	relational memory.RelationalStore,
	metrics memory.MetricStore,
	obs *observe.Metrics,
	log *slog.Logger,
) *Persistor {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = observe.DefaultMetrics()
	}
	return &Persistor{
		personaID:   personaID,
		personaName: personaName,
		embedder:    embedder,
		collection:  collection,
		relational:  relational,
		metrics:     metrics,
		obs:         obs,
		log:         log,
	}
}

// SetBotEmotion attaches the optional bot-side emotion derivation.
func (p *Persistor) SetBotEmotion(fn BotEmotionFunc) { p.botEmotion = fn }

// Persist writes one completed turn everywhere it belongs. The returned error
// summarizes what failed; callers log it and move on.
func (p *Persistor) Persist(ctx context.Context, turn chat.Turn, signals chat.Signals) error {
	start := time.Now()
	var errs []error

	if err := p.persistMemory(ctx, turn, signals); err != nil {
		errs = append(errs, err)
		p.obs.RecordPersistFailure(ctx, "vector")
		p.log.Warn("memory record write failed", "turn_id", turn.TurnID, "error", err)
	}
	if err := p.persistRelational(ctx, turn, signals); err != nil {
		errs = append(errs, err)
		p.obs.RecordPersistFailure(ctx, "relational")
		p.log.Warn("relational write failed", "turn_id", turn.TurnID, "error", err)
	}
	p.persistFacts(ctx, turn)
	p.writeMetrics(ctx, turn, signals)

	p.obs.PersistDuration.Record(ctx, time.Since(start).Seconds())
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", chat.ErrPersistenceFailure, errors.Join(errs...))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Vector store
// ─────────────────────────────────────────────────────────────────────────────

func (p *Persistor) persistMemory(ctx context.Context, turn chat.Turn, signals chat.Signals) error {
	in := embeddings.ViewInput{
		Text:        turn.UserText,
		PersonaName: p.personaName,
		TopicTags:   signals.TopicTags,
	}
	if signals.Emotion != nil {
		in.Emotion = signals.Emotion.Primary
	}
	if signals.Relationship != nil {
		in.RelationshipLevel = relationshipLevel(*signals.Relationship)
	}

	vectors, embedErr := embeddings.EmbedViews(ctx, p.embedder, in, nil)
	if len(vectors[memory.KindContent]) == 0 {
		return fmt.Errorf("pipeline: content embedding failed, dropping memory record: %w", embedErr)
	}
	if embedErr != nil {
		// Failed dimensions are dropped; the record keeps what succeeded.
		p.log.Warn("partial embedding failure, persisting surviving views",
			"turn_id", turn.TurnID, "views", len(vectors), "error", embedErr)
	}

	rec := memory.Record{
		MemoryID:  memory.GenerateMemoryID(p.personaID, turn.UserID, turn.UserText, turn.CreatedAt),
		PersonaID: p.personaID,
		UserID:    turn.UserID,
		ChannelID: turn.ChannelID,
		Content:   turn.UserText,
		CreatedAt: turn.CreatedAt,
		Vectors:   vectors,
		Payload:   payloadFrom(signals),
	}
	if err := p.collection.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("pipeline: upsert memory record: %w", err)
	}
	return nil
}

func payloadFrom(signals chat.Signals) memory.Payload {
	pl := memory.Payload{
		PrimaryEmotion: chat.EmotionNeutral,
		TopicTags:      signals.TopicTags,
		Source:         memory.SourceTurn,
	}
	if e := signals.Emotion; e != nil {
		pl.PrimaryEmotion = e.Primary.Coerce()
		pl.EmotionConfidence = e.Confidence
		pl.EmotionIntensity = e.Intensity
		pl.IsMultiEmotion = e.IsMultiEmotion()
		pl.SecondaryEmotions = e.Secondary
	}
	if r := signals.Relationship; r != nil {
		pl.RelationshipLevel = relationshipLevel(*r)
	}
	if s := signals.Session; s != nil {
		pl.InteractionCount = s.MessageCount
	}
	return pl
}

// relationshipLevel folds the five-scalar state into one [0,1] level for
// payloads and view framing.
func relationshipLevel(r chat.RelationshipState) float64 {
	return (r.Trust + r.Affection + r.Attunement + r.InteractionQuality + r.Comfort) / 5
}

// ─────────────────────────────────────────────────────────────────────────────
// Relational store
// ─────────────────────────────────────────────────────────────────────────────

func (p *Persistor) persistRelational(ctx context.Context, turn chat.Turn, signals chat.Signals) error {
	err := p.relational.InsertTurn(ctx, turn, signals)
	if errors.Is(err, memory.ErrOverloaded) {
		time.Sleep(200 * time.Millisecond)
		err = p.relational.InsertTurn(ctx, turn, signals)
	}
	if err != nil {
		return fmt.Errorf("pipeline: insert turn: %w", err)
	}

	delta := deriveDelta(signals)
	if delta.IsZero() {
		return nil
	}
	if err := p.relational.UpsertRelationshipState(ctx, p.personaID, turn.UserID, delta); err != nil {
		return fmt.Errorf("pipeline: relationship delta: %w", err)
	}
	return nil
}

// persistFacts extracts durable user facts from the turn and upserts them.
// Best effort: a failed fact write is logged and never fails the turn.
func (p *Persistor) persistFacts(ctx context.Context, turn chat.Turn) {
	facts := extractFacts(p.personaID, turn.UserID, turn.UserText, turn.CreatedAt)
	for _, f := range facts {
		if err := p.relational.UpsertFact(ctx, f); err != nil {
			p.obs.RecordPersistFailure(ctx, "facts")
			p.log.Warn("fact write failed", "turn_id", turn.TurnID, "category", f.Category, "error", err)
			return
		}
	}
	if len(facts) > 0 {
		p.log.Debug("facts recorded", "turn_id", turn.TurnID, "count", len(facts))
	}
}

// deriveDelta maps the turn's signals onto a bounded relationship delta.
func deriveDelta(signals chat.Signals) chat.RelationshipDelta {
	var d chat.RelationshipDelta
	e := signals.Emotion
	if e == nil || e.Confidence < deltaConfidenceFloor {
		return d
	}

	switch {
	case e.Primary.IsPositive():
		d.Trust = deltaTrustStep
		d.Affection = deltaAffectionStep
		intimacy := 0.0
		if signals.Flow != nil && signals.Flow.IntimacyDevelopment > 0 {
			intimacy = signals.Flow.IntimacyDevelopment
		}
		d.Attunement = deltaAttunementStep * intimacy
	case e.Primary.IsStrongNegative():
		d.InteractionQuality = deltaQualityPenalty
		d.Comfort = deltaComfortPenalty
	}
	return d
}

// ─────────────────────────────────────────────────────────────────────────────
// Time series
// ─────────────────────────────────────────────────────────────────────────────

// writeMetrics is fire-and-forget: every write returns a bool the persistor
// deliberately ignores beyond debug logging.
func (p *Persistor) writeMetrics(ctx context.Context, turn chat.Turn, signals chat.Signals) {
	if p.metrics == nil || !p.metrics.Enabled() {
		return
	}
	tags := memory.MetricTags{PersonaID: p.personaID, UserID: turn.UserID}
	if signals.Session != nil {
		tags.SessionID = signals.Session.SessionID
	}

	ok := true
	ok = p.metrics.WriteConfidenceEvolution(ctx, tags, confidenceFrom(signals)) && ok
	if signals.Relationship != nil {
		ok = p.metrics.WriteRelationshipProgression(ctx, tags, *signals.Relationship) && ok
	}
	ok = p.metrics.WriteConversationQuality(ctx, tags, qualityFrom(signals)) && ok
	if e := signals.Emotion; e != nil {
		ok = p.metrics.WriteUserEmotion(ctx, tags, memory.EmotionPoint{
			Emotion:    e.Primary,
			Intensity:  e.Intensity,
			Confidence: e.Confidence,
		}) && ok
	}
	if p.botEmotion != nil {
		be := p.botEmotion(turn.BotText)
		ok = p.metrics.WriteBotEmotion(ctx, tags, memory.EmotionPoint{
			Emotion:    be.Primary,
			Intensity:  be.Intensity,
			Confidence: be.Confidence,
		}) && ok
	}
	if !ok {
		p.log.Debug("one or more time-series writes skipped", "turn_id", turn.TurnID)
	}
}

func confidenceFrom(signals chat.Signals) memory.ConfidencePoint {
	pt := memory.ConfidencePoint{}
	if e := signals.Emotion; e != nil {
		pt.EmotionalConfidence = e.Confidence
	}
	if f := signals.Flow; f != nil {
		pt.ContextConfidence = f.Confidence
	}
	if signals.Relationship != nil {
		pt.RelationshipConfidence = relationshipLevel(*signals.Relationship)
	}
	pt.OverallConfidence = (pt.EmotionalConfidence + pt.ContextConfidence + pt.RelationshipConfidence) / 3
	return pt
}

func qualityFrom(signals chat.Signals) memory.QualityPoint {
	pt := memory.QualityPoint{}
	if f := signals.Flow; f != nil {
		pt.NaturalFlow = f.ContinuityScore
		pt.TopicRelevance = f.Confidence
		pt.Engagement = depthScore(f.Depth)
	}
	if t := signals.Trajectory; t != nil {
		pt.EmotionalResonance = t.Stability
	}
	pt.Satisfaction = (pt.NaturalFlow + pt.Engagement + pt.EmotionalResonance) / 3
	return pt
}

func depthScore(d chat.ConversationDepth) float64 {
	switch d {
	case chat.DepthEngaging:
		return 0.4
	case chat.DepthPersonal:
		return 0.6
	case chat.DepthIntimate:
		return 0.8
	case chat.DepthProfound:
		return 1.0
	default:
		return 0.2
	}
}
