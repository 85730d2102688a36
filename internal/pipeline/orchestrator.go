// Package pipeline wires a persona's analyzers, stores and model into the
// per-message scatter-gather flow: normalize, notify session tracking,
// gather signals concurrently, compose, generate, deliver, persist.
//
// Every scatter branch is partial-failure tolerant: a slow or broken branch
// yields a nil signal and a warning, never a dropped reply. Turns within one
// (user, channel) conversation are strictly serialized; different
// conversations proceed independently.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reverie-chat/reverie/internal/attribution"
	"github.com/reverie-chat/reverie/internal/boundary"
	"github.com/reverie-chat/reverie/internal/convcache"
	"github.com/reverie-chat/reverie/internal/emotion"
	"github.com/reverie-chat/reverie/internal/flow"
	"github.com/reverie-chat/reverie/internal/observe"
	"github.com/reverie-chat/reverie/internal/persona"
	"github.com/reverie-chat/reverie/internal/prompt"
	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
	"github.com/reverie-chat/reverie/pkg/provider/embeddings"
	"github.com/reverie-chat/reverie/pkg/provider/llm"
)

const (
	// maxMessageLen caps inbound text after normalization.
	maxMessageLen = 4000

	// recentTarget is how many recent messages the context fetch aims for.
	recentTarget = 15

	// retrievalLimit caps multi-dimensional memory retrieval.
	retrievalLimit = 15

	// seenIDsCap bounds the per-orchestrator duplicate set.
	seenIDsCap = 1024

	// factPromptLimit caps how many stored user facts reach the prompt.
	factPromptLimit = 10

	// emotionHistoryCap bounds the per-conversation emotion window used for
	// carry-over on low-signal messages.
	emotionHistoryCap = 5
)

// Branch soft timeouts and the global ceiling.
const (
	analyzerTimeout = 2 * time.Second
	searchTimeout   = 5 * time.Second
	llmTimeout      = 10 * time.Second
	globalTimeout   = 25 * time.Second
	persistTimeout  = 15 * time.Second
)

// retrievalWeights drive the general memory retrieval branch. Content leads;
// semantic carries a token weight so exact-meaning matches can tip close
// calls.
var retrievalWeights = map[memory.VectorKind]float64{
	memory.KindContent:      0.25,
	memory.KindEmotion:      0.20,
	memory.KindPersonality:  0.20,
	memory.KindRelationship: 0.15,
	memory.KindContext:      0.15,
	memory.KindSemantic:     0.05,
}

// Deps bundles the collaborators one orchestrator needs. All fields are
// required unless noted.
type Deps struct {
	Persona *persona.Definition

	Emotion    *emotion.Analyzer
	Flow       *flow.Analyzer
	Boundary   *boundary.Manager
	Cache      convcache.Cache
	Attrib     *attribution.Manager
	Composer   *prompt.Composer
	Persistor  *Persistor
	Embedder   embeddings.Provider
	LLM        llm.Provider
	Collection memory.Collection
	Relational memory.RelationalStore

	// BotUserID is the transport account the persona posts as.
	BotUserID string

	// PreserveAttribution prefixes display names in multi-speaker contexts.
	PreserveAttribution bool

	Metrics *observe.Metrics
	Log     *slog.Logger
}

// Orchestrator runs the scatter-gather pipeline for one persona deployment.
type Orchestrator struct {
	deps Deps
	obs  *observe.Metrics
	log  *slog.Logger

	mu    sync.Mutex
	convs map[string]*conversation
}

// conversation serializes turns for one (user, channel) pair and remembers
// recently handled message IDs plus the recent emotion window. The emotion
// slice is only touched under the turn lock.
type conversation struct {
	turn      sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
	emotions  []chat.EmotionResult
}

// New builds an orchestrator. It panics only on nil required collaborators,
// which is a wiring bug, not a runtime condition.
func New(deps Deps) *Orchestrator {
	if deps.Persona == nil || deps.LLM == nil || deps.Composer == nil {
		panic("pipeline: persona, llm and composer are required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		deps:  deps,
		obs:   deps.Metrics,
		log:   deps.Log,
		convs: make(map[string]*conversation),
	}
}

// SetBotIdentity records the bot's own account ID once the transport knows
// it. Call before the first message arrives; it is not synchronized against
// in-flight turns.
func (o *Orchestrator) SetBotIdentity(userID string) {
	o.deps.BotUserID = userID
}

// HandleMessage runs one inbound message through the full pipeline and
// returns the reply to deliver. An empty reply with a nil error means the
// message was a duplicate and nothing should be sent.
func (o *Orchestrator) HandleMessage(ctx context.Context, in chat.InboundMessage) (string, error) {
	norm, err := normalize(in)
	if err != nil {
		return "", err
	}

	conv := o.conversation(norm.UserID, norm.ChannelID)
	conv.turn.Lock()
	defer conv.turn.Unlock()

	if conv.isSeen(norm.MessageID) {
		o.log.Debug("duplicate message ignored", "message_id", norm.MessageID)
		return "", nil
	}
	conv.remember(norm.MessageID)

	o.obs.ActiveConversations.Add(ctx, 1)
	defer o.obs.ActiveConversations.Add(ctx, -1)

	ctx, cancel := context.WithTimeout(ctx, globalTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "pipeline.handle_message")
	defer span.End()

	start := time.Now()
	reply, err := o.handle(ctx, norm, conv)
	o.obs.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	return reply, err
}

func (o *Orchestrator) handle(ctx context.Context, in chat.InboundMessage, conv *conversation) (string, error) {
	// Session tracking and cache append happen before any scatter read so
	// every branch observes the current message. The resume probe runs
	// first; ProcessMessage consumes the pause state it reports on.
	bridge, _ := o.deps.Boundary.MaybeResume(in.UserID, in.ChannelID, in.Timestamp)
	o.deps.Boundary.ProcessMessage(ctx, in.UserID, in.ChannelID, in.MessageID, in.Text, in.Timestamp)
	userMsg := chat.CachedMessage{
		Content:    in.Text,
		AuthorID:   in.UserID,
		AuthorName: in.UserName,
		Timestamp:  in.Timestamp,
		Source:     "live",
	}
	if err := o.deps.Cache.Append(ctx, in.ChannelID, userMsg); err != nil {
		o.log.Warn("cache append failed", "channel_id", in.ChannelID, "error", err)
	}
	if o.deps.Relational != nil {
		if err := o.deps.Relational.UpsertUser(ctx, memory.User{
			UserID:      in.UserID,
			DisplayName: in.UserName,
			Platform:    "discord",
			FirstSeen:   in.Timestamp,
		}); err != nil {
			o.log.Warn("user upsert failed", "user_id", in.UserID, "error", err)
		}
	}

	signals, memories, facts := o.scatter(ctx, in, conv.emotions)
	if signals.Emotion != nil {
		conv.rememberEmotion(*signals.Emotion)
		o.deps.Boundary.ObserveEmotion(in.UserID, in.ChannelID, signals.Emotion.Primary)
	}
	signals.Session = o.deps.Boundary.View(in.UserID, in.ChannelID, bridge)

	reply, composed := o.generate(ctx, in, signals, memories, facts)

	botMsg := chat.CachedMessage{
		Content:    reply,
		AuthorID:   o.deps.BotUserID,
		AuthorName: o.deps.Persona.Identity.Name,
		Timestamp:  time.Now(),
		IsBot:      true,
		Source:     "live",
	}
	if err := o.deps.Cache.Append(ctx, in.ChannelID, botMsg); err != nil {
		o.log.Warn("cache append failed", "channel_id", in.ChannelID, "error", err)
	}

	// A turn that never reached the model is not persisted.
	if !composed {
		o.obs.RecordMessage(ctx, o.deps.Persona.Slug, "fallback")
		return reply, nil
	}

	o.persist(ctx, in, reply, signals)
	o.obs.RecordMessage(ctx, o.deps.Persona.Slug, "ok")
	return reply, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Normalization
// ─────────────────────────────────────────────────────────────────────────────

// normalize validates and cleans the inbound message.
func normalize(in chat.InboundMessage) (chat.InboundMessage, error) {
	var b strings.Builder
	for _, r := range in.Text {
		if r == '\n' || r == '\t' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	text := strings.TrimSpace(b.String())
	if runes := []rune(text); len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen])
	}
	if text == "" && len(in.Attachments) == 0 {
		return in, fmt.Errorf("pipeline: empty message")
	}
	if in.UserID == "" || in.ChannelID == "" {
		return in, fmt.Errorf("pipeline: missing user or channel")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	in.Text = text
	return in, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scatter-gather
// ─────────────────────────────────────────────────────────────────────────────

// scatter runs the signal branches concurrently. Each branch owns exactly one
// output variable and failures degrade to nil.
func (o *Orchestrator) scatter(ctx context.Context, in chat.InboundMessage, recentEmotions []chat.EmotionResult) (chat.Signals, []memory.ScoredRecord, []memory.Fact) {
	var (
		signals  chat.Signals
		memories []memory.ScoredRecord
		recent   []chat.CachedMessage
		facts    []memory.Fact
		dims     memory.VectorSet
	)

	// Embeddings come first: retrieval and flow both reuse them.
	embedCtx, cancel := context.WithTimeout(ctx, analyzerTimeout)
	dims = o.embedViews(embedCtx, in)
	cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, analyzerTimeout)
		defer cancel()
		signals.Emotion = o.analyzeEmotion(branchCtx, in, recentEmotions)
		return nil
	})

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, analyzerTimeout)
		defer cancel()
		facts = o.fetchFacts(branchCtx, in)
		return nil
	})

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, searchTimeout)
		defer cancel()
		memories = o.retrieveMemories(branchCtx, in, dims)
		return nil
	})

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, analyzerTimeout)
		defer cancel()
		recent = o.fetchRecent(branchCtx, in)
		return nil
	})

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, searchTimeout)
		defer cancel()
		f := o.deps.Flow.Flow(branchCtx, in.UserID, in.Text, dims, nil)
		signals.Flow = &f
		return nil
	})

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, analyzerTimeout)
		defer cancel()
		t := o.deps.Flow.Trajectory(branchCtx, in.UserID, 24*time.Hour)
		signals.Trajectory = &t
		return nil
	})

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, analyzerTimeout)
		defer cancel()
		signals.Relationship = o.fetchRelationship(branchCtx, in)
		return nil
	})

	_ = g.Wait()

	signals.RecentMessages = recent
	if s := o.deps.Boundary.Snapshot(in.UserID, in.ChannelID); s != nil && s.CurrentTopic != nil {
		signals.TopicTags = s.CurrentTopic.Keywords
	}
	return signals, memories, facts
}

func (o *Orchestrator) embedViews(ctx context.Context, in chat.InboundMessage) memory.VectorSet {
	if o.deps.Embedder == nil {
		return nil
	}
	dims, err := embeddings.EmbedViews(ctx, o.deps.Embedder, embeddings.ViewInput{
		Text:        in.Text,
		PersonaName: o.deps.Persona.Identity.Name,
	}, nil)
	if err != nil {
		o.warnBranch(ctx, "embeddings", err)
	}
	return dims
}

func (o *Orchestrator) analyzeEmotion(ctx context.Context, in chat.InboundMessage, recent []chat.EmotionResult) *chat.EmotionResult {
	res := o.deps.Emotion.Analyze(ctx, in.Text, in.UserID, recent)
	return &res
}

// fetchFacts loads the user's stored long-term facts for the prompt.
func (o *Orchestrator) fetchFacts(ctx context.Context, in chat.InboundMessage) []memory.Fact {
	if o.deps.Relational == nil {
		return nil
	}
	facts, err := o.deps.Relational.QueryFacts(ctx, o.deps.Persona.Slug, in.UserID, factPromptLimit)
	if err != nil {
		o.warnBranch(ctx, "facts", err)
		return nil
	}
	return facts
}

func (o *Orchestrator) retrieveMemories(ctx context.Context, in chat.InboundMessage, dims memory.VectorSet) []memory.ScoredRecord {
	if o.deps.Collection == nil || len(dims) == 0 {
		return nil
	}
	searchDims := make(map[memory.VectorKind][]float32)
	weights := make(map[memory.VectorKind]float64)
	for kind, w := range retrievalWeights {
		if vec, ok := dims[kind]; ok && len(vec) > 0 {
			searchDims[kind] = vec
			weights[kind] = w
		}
	}
	if len(searchDims) == 0 {
		return nil
	}
	records, err := o.deps.Collection.SearchByDimensions(ctx, in.UserID, searchDims, weights, retrievalLimit, nil)
	if err != nil {
		o.warnBranch(ctx, "retrieval", err)
		return nil
	}
	return records
}

// fetchRecent reads the short-window thread from the cache and supplements
// from durable memories when the cache is thin.
func (o *Orchestrator) fetchRecent(ctx context.Context, in chat.InboundMessage) []chat.CachedMessage {
	recent, err := o.deps.Cache.UserContext(ctx, in.ChannelID, in.UserID, recentTarget)
	if err != nil {
		o.warnBranch(ctx, "recent_context", err)
		recent = nil
	}
	if len(recent) >= recentTarget || o.deps.Collection == nil {
		return recent
	}

	records, err := o.deps.Collection.ScrollRecent(ctx, in.UserID, recentTarget-len(recent), time.Time{})
	if err != nil {
		o.warnBranch(ctx, "recent_supplement", err)
		return recent
	}
	supplement := make([]chat.CachedMessage, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		supplement = append(supplement, chat.CachedMessage{
			Content:   r.Content,
			AuthorID:  r.UserID,
			Timestamp: r.CreatedAt,
			Source:    "memory",
		})
	}
	return append(supplement, recent...)
}

func (o *Orchestrator) fetchRelationship(ctx context.Context, in chat.InboundMessage) *chat.RelationshipState {
	if o.deps.Relational == nil {
		return nil
	}
	state, err := o.deps.Relational.GetRelationshipState(ctx, o.deps.Persona.Slug, in.UserID)
	if err != nil {
		o.warnBranch(ctx, "relationship", err)
		return nil
	}
	return &state
}

func (o *Orchestrator) warnBranch(ctx context.Context, branch string, err error) {
	o.obs.RecordBranchFailure(ctx, branch)
	observe.Logger(ctx).Warn("scatter branch degraded", "branch", branch, "error", err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Generation
// ─────────────────────────────────────────────────────────────────────────────

// generate composes the prompt and calls the model. The bool result reports
// whether a real model reply was produced; the fallback apology returns
// false and is never persisted.
func (o *Orchestrator) generate(ctx context.Context, in chat.InboundMessage, signals chat.Signals, memories []memory.ScoredRecord, facts []memory.Fact) (string, bool) {
	history := o.buildHistory(in, signals.RecentMessages)

	res, err := o.deps.Composer.Compose(prompt.Input{
		Persona:             o.deps.Persona,
		Inbound:             in,
		Signals:             signals,
		Memories:            memories,
		Facts:               facts,
		History:             history,
		PreserveAttribution: o.deps.PreserveAttribution,
	})
	if err != nil {
		o.log.Error("prompt composition failed", "error", err)
		return o.fallbackReply(), false
	}

	reply, err := o.complete(ctx, res.Messages)
	if err != nil {
		o.log.Error("model call failed", "error", err)
		return o.fallbackReply(), false
	}
	return prompt.CleanReply(o.deps.Persona.Identity.Name, reply), true
}

// buildHistory attributes the recent thread and screens it. Compromised
// messages are excluded; suspicious ones pass with a warning.
func (o *Orchestrator) buildHistory(in chat.InboundMessage, recent []chat.CachedMessage) []attribution.RoleMessage {
	history := make([]attribution.RoleMessage, 0, len(recent))
	for _, msg := range recent {
		if msg.Content == in.Text && msg.AuthorID == in.UserID {
			continue // the inbound message itself
		}
		rm := o.deps.Attrib.ToRoleMessage(msg, in.ChannelID, o.deps.BotUserID)
		v := o.deps.Attrib.Validate(rm)
		switch v.SecurityLevel {
		case attribution.SecurityCompromised:
			o.obs.SpoofingDetections.Add(context.Background(), 1)
			o.log.Warn("spoofed message excluded from history",
				"channel_id", in.ChannelID, "errors", v.Errors)
			continue
		case attribution.SecuritySuspicious:
			o.log.Warn("suspicious message in history",
				"channel_id", in.ChannelID, "warnings", v.Warnings)
		}
		history = append(history, rm)
	}
	return history
}

// complete invokes the model with at most one retry.
func (o *Orchestrator) complete(ctx context.Context, messages []chat.Message) (string, error) {
	req := llm.CompletionRequest{Messages: messages[1:], SystemPrompt: messages[0].Content}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, llmTimeout)
		start := time.Now()
		resp, err := o.deps.LLM.Complete(callCtx, req)
		o.obs.LLMDuration.Record(ctx, time.Since(start).Seconds())
		cancel()
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return resp.Content, nil
		}
		if err == nil {
			err = fmt.Errorf("pipeline: empty completion")
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// fallbackReply is the in-character apology for total pipeline failure. It
// never exposes store or model details.
func (o *Orchestrator) fallbackReply() string {
	return fmt.Sprintf("%s goes quiet for a moment. Sorry, I lost my train of thought there. Say that again?",
		o.deps.Persona.Identity.Name)
}

// ─────────────────────────────────────────────────────────────────────────────
// Persistence
// ─────────────────────────────────────────────────────────────────────────────

func (o *Orchestrator) persist(ctx context.Context, in chat.InboundMessage, reply string, signals chat.Signals) {
	if o.deps.Persistor == nil {
		return
	}
	if ctx.Err() != nil {
		o.log.Warn("persist skipped, pipeline cancelled", "message_id", in.MessageID)
		return
	}

	turn := chat.Turn{
		TurnID:    in.MessageID,
		PersonaID: o.deps.Persona.Slug,
		UserID:    in.UserID,
		ChannelID: in.ChannelID,
		CreatedAt: in.Timestamp,
		UserText:  in.Text,
		BotText:   reply,
	}

	// Persistence outlives the request deadline but not a transport cancel
	// that already fired; WithoutCancel detaches, the timeout re-bounds.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	persistCtx, span := observe.StartSpan(persistCtx, "pipeline.persist_turn")
	defer span.End()
	if err := o.deps.Persistor.Persist(persistCtx, turn, signals); err != nil {
		o.log.Error("turn persistence failed", "turn_id", turn.TurnID, "error", err)
	}

	userMsg := chat.CachedMessage{
		Content:    in.Text,
		AuthorID:   in.UserID,
		AuthorName: in.UserName,
		Timestamp:  in.Timestamp,
		Source:     "live",
	}
	_ = o.deps.Cache.SyncWithStorage(persistCtx, in.ChannelID, userMsg, true)
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversation registry
// ─────────────────────────────────────────────────────────────────────────────

func (o *Orchestrator) conversation(userID, channelID string) *conversation {
	key := userID + "\x00" + channelID
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.convs[key]
	if !ok {
		c = &conversation{seen: make(map[string]struct{})}
		o.convs[key] = c
	}
	return c
}

func (c *conversation) isSeen(messageID string) bool {
	if messageID == "" {
		return false
	}
	_, ok := c.seen[messageID]
	return ok
}

func (c *conversation) remember(messageID string) {
	if messageID == "" {
		return
	}
	if len(c.seenOrder) >= seenIDsCap {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
	c.seen[messageID] = struct{}{}
	c.seenOrder = append(c.seenOrder, messageID)
}

// rememberEmotion appends to the bounded emotion window, newest last.
func (c *conversation) rememberEmotion(res chat.EmotionResult) {
	c.emotions = append(c.emotions, res)
	if len(c.emotions) > emotionHistoryCap {
		c.emotions = c.emotions[len(c.emotions)-emotionHistoryCap:]
	}
}
