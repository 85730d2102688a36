package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/provider/llm"
)

const (
	defaultInactivityWindow       = 30 * time.Minute
	defaultSummarizationThreshold = 8

	// seenMessagesCap bounds the per-session duplicate set.
	seenMessagesCap = 256
)

// Option configures a Manager.
type Option func(*Manager)

// WithInactivityWindow overrides the silence threshold after which a session
// is marked paused.
func WithInactivityWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.inactivity = d
		}
	}
}

// WithSummarizationThreshold overrides the message count at which the context
// summary is recomputed.
func WithSummarizationThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.summarizeEvery = n
		}
	}
}

// WithSummarizer attaches an LLM used for context summaries. Without one the
// manager falls back to a deterministic topic digest.
func WithSummarizer(p llm.Provider) Option {
	return func(m *Manager) { m.summarizer = p }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// Manager tracks sessions keyed by (user, channel). All methods are safe for
// concurrent use.
type Manager struct {
	inactivity     time.Duration
	summarizeEvery int
	summarizer     llm.Provider
	log            *slog.Logger

	mu       sync.Mutex
	sessions map[string]*tracked
}

// tracked pairs a session with bookkeeping that never leaves the manager.
type tracked struct {
	session Session

	// seen holds message IDs already processed, in arrival order for
	// bounded eviction.
	seen      map[string]struct{}
	seenOrder []string

	// recentTexts feeds summarization, bounded to the threshold.
	recentTexts []string
}

// NewManager builds a boundary manager with the default 30 minute inactivity
// window and a summary every 8 messages.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		inactivity:     defaultInactivityWindow,
		summarizeEvery: defaultSummarizationThreshold,
		log:            slog.Default(),
		sessions:       make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sessionKey(userID, channelID string) string {
	return userID + "\x00" + channelID
}

// ─────────────────────────────────────────────────────────────────────────────
// Message processing
// ─────────────────────────────────────────────────────────────────────────────

// ProcessMessage folds one inbound message into the session for (userID,
// channelID), creating it on first contact. Reprocessing a message ID the
// session has already seen returns the current snapshot unchanged.
func (m *Manager) ProcessMessage(ctx context.Context, userID, channelID, messageID, text string, ts time.Time) Session {
	m.mu.Lock()

	key := sessionKey(userID, channelID)
	tr, ok := m.sessions[key]
	if !ok {
		tr = m.startSession(userID, channelID, text, ts)
		tr.remember(messageID)
		tr.recentTexts = append(tr.recentTexts, text)
		m.sessions[key] = tr
		snap := snapshot(tr.session)
		m.mu.Unlock()
		return snap
	}

	if tr.isSeen(messageID) {
		snap := snapshot(tr.session)
		m.mu.Unlock()
		return snap
	}
	tr.remember(messageID)

	s := &tr.session
	if ts.Sub(s.LastActivityAt) > m.inactivity {
		s.State = StatePaused
	}

	tt, _ := ClassifyTransition(text)
	switch {
	case closesTopic(tt):
		m.closeTopic(s, closedResolution(tt), ts)
		m.openTopic(s, text, ts)
	case tt == TransitionCompletion:
		if s.CurrentTopic != nil {
			s.CurrentTopic.ResolutionStatus = ResolutionResolved
		}
	}

	s.MessageCount++
	if s.CurrentTopic != nil {
		s.CurrentTopic.MessageCount++
	}
	switch s.State {
	case StatePaused, StateInterrupted:
		s.State = StateResumed
	case StateResumed:
		// One resumed turn is enough; the conversation is flowing again.
		s.State = StateActive
	}
	s.LastActivityAt = ts

	tr.recentTexts = append(tr.recentTexts, text)
	if len(tr.recentTexts) > m.summarizeEvery {
		tr.recentTexts = tr.recentTexts[len(tr.recentTexts)-m.summarizeEvery:]
	}

	summarize := s.MessageCount >= m.summarizeEvery && s.MessageCount%m.summarizeEvery == 0
	texts := append([]string(nil), tr.recentTexts...)
	snap := snapshot(*s)
	m.mu.Unlock()

	if summarize {
		summary := m.summarize(ctx, snap, texts)
		m.mu.Lock()
		if tr, ok := m.sessions[key]; ok {
			tr.session.ContextSummary = summary
			snap = snapshot(tr.session)
		}
		m.mu.Unlock()
	}
	return snap
}

// HandleInterruption marks the session and its current topic interrupted.
// Unknown sessions are a no-op.
func (m *Manager) HandleInterruption(userID, channelID, interrupterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.sessions[sessionKey(userID, channelID)]
	if !ok {
		return
	}
	tr.session.State = StateInterrupted
	if tr.session.CurrentTopic != nil {
		tr.session.CurrentTopic.ResolutionStatus = ResolutionInterrupted
	}
	m.log.Debug("session interrupted",
		"user_id", userID, "channel_id", channelID, "interrupter_id", interrupterID)
}

// Resume transitions a paused or interrupted session to resumed and returns a
// bridge phrase referencing the last topic and the time away. It returns
// ("", false) when the session is absent or not in a resumable state.
func (m *Manager) Resume(userID, channelID, resumeText string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.sessions[sessionKey(userID, channelID)]
	if !ok {
		return "", false
	}
	s := &tr.session
	if s.State != StatePaused && s.State != StateInterrupted {
		return "", false
	}

	bridge := bridgeText(lastTopicKeywords(s), time.Since(s.LastActivityAt))
	s.State = StateResumed
	return bridge, true
}

// MaybeResume reports whether a message arriving at ts would resume this
// session, either from an explicit pause or after the inactivity window, and
// returns the bridge phrase for it. Session state is left untouched; the
// subsequent ProcessMessage call performs the actual transition.
func (m *Manager) MaybeResume(userID, channelID string, ts time.Time) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.sessions[sessionKey(userID, channelID)]
	if !ok {
		return "", false
	}
	s := &tr.session
	paused := s.State == StatePaused || s.State == StateInterrupted
	if !paused && ts.Sub(s.LastActivityAt) <= m.inactivity {
		return "", false
	}
	return bridgeText(lastTopicKeywords(s), ts.Sub(s.LastActivityAt)), true
}

// End finalizes the session, returning its closing summary and removing it
// from the active set.
func (m *Manager) End(ctx context.Context, userID, channelID, reason string) string {
	m.mu.Lock()
	key := sessionKey(userID, channelID)
	tr, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return ""
	}
	now := time.Now()
	m.closeTopic(&tr.session, ResolutionResolved, now)
	tr.session.State = StateCompleted
	snap := snapshot(tr.session)
	texts := append([]string(nil), tr.recentTexts...)
	delete(m.sessions, key)
	m.mu.Unlock()

	m.log.Info("session ended",
		"user_id", userID, "channel_id", channelID,
		"reason", reason, "messages", snap.MessageCount)
	return m.summarize(ctx, snap, texts)
}

// ObserveEmotion stamps the dominant emotion onto the current topic. The
// orchestrator calls this after analysis; unknown sessions are a no-op.
func (m *Manager) ObserveEmotion(userID, channelID string, e chat.Emotion) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.sessions[sessionKey(userID, channelID)]
	if ok && tr.session.CurrentTopic != nil {
		tr.session.CurrentTopic.EmotionalTone = string(e.Coerce())
	}
}

// Snapshot returns a copy of the session for (userID, channelID), or nil when
// none exists.
func (m *Manager) Snapshot(userID, channelID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.sessions[sessionKey(userID, channelID)]
	if !ok {
		return nil
	}
	s := snapshot(tr.session)
	return &s
}

// View converts the session for (userID, channelID) into the fused-signal
// form, or nil when none exists.
func (m *Manager) View(userID, channelID, bridge string) *chat.SessionView {
	s := m.Snapshot(userID, channelID)
	if s == nil {
		return nil
	}
	return &chat.SessionView{
		SessionID:      s.SessionID,
		State:          string(s.State),
		CurrentTopic:   lastTopicKeywords(s),
		MessageCount:   s.MessageCount,
		ContextSummary: s.ContextSummary,
		BridgeText:     bridge,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

func (m *Manager) startSession(userID, channelID, text string, ts time.Time) *tracked {
	s := Session{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		ChannelID:      channelID,
		State:          StateActive,
		StartAt:        ts,
		LastActivityAt: ts,
		MessageCount:   1,
	}
	m.openTopic(&s, text, ts)
	s.CurrentTopic.MessageCount = 1
	return &tracked{session: s, seen: make(map[string]struct{})}
}

func (m *Manager) openTopic(s *Session, text string, ts time.Time) {
	s.CurrentTopic = &Topic{
		TopicID:          uuid.NewString(),
		Keywords:         ExtractKeywords(text),
		StartAt:          ts,
		ResolutionStatus: ResolutionOngoing,
	}
}

func (m *Manager) closeTopic(s *Session, res ResolutionStatus, ts time.Time) {
	if s.CurrentTopic == nil {
		return
	}
	t := *s.CurrentTopic
	end := ts
	t.EndAt = &end
	if t.ResolutionStatus == ResolutionOngoing {
		t.ResolutionStatus = res
	}
	s.TopicHistory = append(s.TopicHistory, t)
	s.CurrentTopic = nil
}

// summarize recomputes the context summary, preferring the attached LLM and
// falling back to a topic digest on any failure.
func (m *Manager) summarize(ctx context.Context, s Session, texts []string) string {
	if m.summarizer != nil {
		resp, err := m.summarizer.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: "Summarize the following conversation excerpts in two sentences. " +
				"Mention the main topics and the overall mood. Plain prose only.",
			Messages: []chat.Message{{Role: "user", Content: strings.Join(texts, "\n")}},
		})
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content)
		}
		if err != nil {
			m.log.Warn("summary generation failed, using topic digest", "error", err)
		}
	}
	return topicDigest(s)
}

// topicDigest is the deterministic summary fallback built from topic keywords.
func topicDigest(s Session) string {
	var parts []string
	for _, t := range s.TopicHistory {
		if kw := joinKeywords(t.Keywords); kw != "" {
			parts = append(parts, kw)
		}
	}
	current := ""
	if s.CurrentTopic != nil {
		current = joinKeywords(s.CurrentTopic.Keywords)
	}
	switch {
	case current != "" && len(parts) > 0:
		return fmt.Sprintf("Earlier topics: %s. Currently discussing %s (%d messages).",
			strings.Join(parts, "; "), current, s.MessageCount)
	case current != "":
		return fmt.Sprintf("Discussing %s (%d messages).", current, s.MessageCount)
	case len(parts) > 0:
		return fmt.Sprintf("Covered %s over %d messages.", strings.Join(parts, "; "), s.MessageCount)
	default:
		return fmt.Sprintf("Ongoing conversation, %d messages.", s.MessageCount)
	}
}

func joinKeywords(kw []string) string {
	if len(kw) == 0 {
		return ""
	}
	if len(kw) > 4 {
		kw = kw[:4]
	}
	return strings.Join(kw, ", ")
}

// bridgeText phrases the return after an absence.
func bridgeText(keywords []string, away time.Duration) string {
	topic := joinKeywords(keywords)
	gap := describeGap(away)
	if topic == "" {
		return fmt.Sprintf("Picking the conversation back up after %s.", gap)
	}
	return fmt.Sprintf("Picking back up after %s; we were talking about %s.", gap, topic)
}

func describeGap(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "a short pause"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}

// lastTopicKeywords returns the current topic's keywords, or the most recent
// closed topic's when none is open.
func lastTopicKeywords(s *Session) []string {
	if s.CurrentTopic != nil {
		return append([]string(nil), s.CurrentTopic.Keywords...)
	}
	if n := len(s.TopicHistory); n > 0 {
		return append([]string(nil), s.TopicHistory[n-1].Keywords...)
	}
	return nil
}

// snapshot deep-copies the session so callers cannot mutate manager state.
func snapshot(s Session) Session {
	if s.CurrentTopic != nil {
		t := *s.CurrentTopic
		t.Keywords = append([]string(nil), t.Keywords...)
		s.CurrentTopic = &t
	}
	s.TopicHistory = append([]Topic(nil), s.TopicHistory...)
	return s
}

func (tr *tracked) isSeen(messageID string) bool {
	_, ok := tr.seen[messageID]
	return ok
}

func (tr *tracked) remember(messageID string) {
	if messageID == "" {
		return
	}
	if len(tr.seenOrder) >= seenMessagesCap {
		oldest := tr.seenOrder[0]
		tr.seenOrder = tr.seenOrder[1:]
		delete(tr.seen, oldest)
	}
	tr.seen[messageID] = struct{}{}
	tr.seenOrder = append(tr.seenOrder, messageID)
}
