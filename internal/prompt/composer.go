// Package prompt builds the final LLM input for a turn: one consolidated
// system message followed by attributed conversation history, kept inside a
// hard token budget. The composer never calls the model itself.
package prompt

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/reverie-chat/reverie/internal/attribution"
	"github.com/reverie-chat/reverie/internal/persona"
	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
	"github.com/reverie-chat/reverie/pkg/provider/llm"
)

const defaultTokenBudget = 8000

// TokenCounter estimates prompt cost. llm.Provider satisfies it.
type TokenCounter interface {
	CountTokens(messages []chat.Message) (int, error)
}

var _ TokenCounter = (llm.Provider)(nil)

// Option configures a Composer.
type Option func(*Composer)

// WithTokenBudget overrides the default 8000 token ceiling.
func WithTokenBudget(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.budget = n
		}
	}
}

// WithImmersiveMode toggles the strict immersive filter. On by default.
func WithImmersiveMode(on bool) Option {
	return func(c *Composer) { c.immersive = on }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Composer) {
		if log != nil {
			c.log = log
		}
	}
}

// Composer assembles prompts for one persona deployment.
type Composer struct {
	attrib    *attribution.Manager
	counter   TokenCounter
	budget    int
	immersive bool
	log       *slog.Logger
}

// NewComposer builds a composer. counter is typically the LLM provider the
// prompt is destined for, so budget math matches the model's tokenizer.
func NewComposer(attrib *attribution.Manager, counter TokenCounter, opts ...Option) *Composer {
	c := &Composer{
		attrib:    attrib,
		counter:   counter,
		budget:    defaultTokenBudget,
		immersive: true,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Input carries everything one turn's prompt is built from. Signals fields
// may be nil; the composer mentions only what it has.
type Input struct {
	Persona  *persona.Definition
	Inbound  chat.InboundMessage
	Signals  chat.Signals
	Memories []memory.ScoredRecord

	// Facts are the user's stored long-term facts, most recent first.
	Facts []memory.Fact

	// History is the attributed short-window thread, chronological, not yet
	// including the inbound message.
	History []attribution.RoleMessage

	// PreserveAttribution prefixes user content with display names in
	// multi-speaker contexts.
	PreserveAttribution bool
}

// Result is the composed prompt.
type Result struct {
	// Messages is the ordered LLM input. Messages[0] is the system message;
	// the final message is the inbound user turn.
	Messages []chat.Message

	// Truncated is set when the token budget forced history to be dropped.
	Truncated bool
}

// Compose builds the prompt for one turn.
func (c *Composer) Compose(in Input) (Result, error) {
	if in.Persona == nil {
		return Result{}, fmt.Errorf("prompt: persona definition is required")
	}
	if strings.TrimSpace(in.Inbound.Text) == "" && len(in.Inbound.Attachments) == 0 {
		return Result{}, fmt.Errorf("prompt: inbound message is empty")
	}

	system := c.buildSystem(in)
	history := c.buildHistory(in)

	final := chat.Message{Role: "user", Content: in.Inbound.Text}
	if in.PreserveAttribution && in.Inbound.UserName != "" && multiSpeaker(in.History) {
		final.Content = fmt.Sprintf("[%s]: %s", in.Inbound.UserName, final.Content)
	}

	messages := make([]chat.Message, 0, len(history)+2)
	messages = append(messages, chat.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, final)
	messages = fixAlternation(messages)

	messages, truncated, err := c.enforceBudget(messages)
	if err != nil {
		return Result{}, err
	}
	if truncated {
		c.log.Warn("prompt truncated to fit token budget",
			"persona", in.Persona.Slug, "budget", c.budget)
	}
	return Result{Messages: messages, Truncated: truncated}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// System message
// ─────────────────────────────────────────────────────────────────────────────

func (c *Composer) buildSystem(in Input) string {
	p := in.Persona
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s.", p.Identity.Name)
	if p.Identity.Summary != "" {
		fmt.Fprintf(&b, " %s", strings.TrimSpace(p.Identity.Summary))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Personality: %s\n", strings.TrimSpace(p.Personality))
	fmt.Fprintf(&b, "Communication style: %s\n", strings.TrimSpace(p.CommunicationStyle))
	if p.Voice.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", p.Voice.Tone)
	}
	for _, q := range p.Voice.Quirks {
		fmt.Fprintf(&b, "Habit: %s\n", q)
	}
	if len(p.Voice.AvoidPhrases) > 0 {
		fmt.Fprintf(&b, "Never say: %s\n", strings.Join(p.Voice.AvoidPhrases, "; "))
	}
	if p.Background != "" {
		fmt.Fprintf(&b, "\nBackground: %s\n", strings.TrimSpace(p.Background))
	}

	fmt.Fprintf(&b, "\nThe current time is %s.\n", in.Inbound.Timestamp.Format("Monday, January 2 2006, 15:04 MST"))

	if hints := signalHints(in.Signals, in.Inbound.UserName); hints != "" {
		b.WriteString("\n")
		b.WriteString(hints)
		b.WriteString("\n")
	}

	if narrative := memoryNarrative(in.Memories, in.Inbound.Timestamp); narrative != "" {
		b.WriteString("\n")
		b.WriteString(narrative)
	}
	if facts := factNarrative(in.Facts, in.Inbound.UserName); facts != "" {
		b.WriteString("\n")
		b.WriteString(facts)
	}

	if in.Signals.Session != nil && in.Signals.Session.ContextSummary != "" {
		fmt.Fprintf(&b, "\nEarlier in this conversation: %s\n", in.Signals.Session.ContextSummary)
	}
	if in.Signals.Session != nil && in.Signals.Session.BridgeText != "" {
		fmt.Fprintf(&b, "\n%s\n", in.Signals.Session.BridgeText)
	}

	if hasImages(in.Inbound.Attachments) {
		b.WriteString("\n")
		b.WriteString(imagePolicy)
	}

	b.WriteString("\nStay fully in character. Reply as yourself in plain conversational prose, ")
	b.WriteString("without analysis sections, numbered assessments, or offers to perform tasks.")
	return b.String()
}

// signalHints phrases the fused signals as terse prose. Raw metric dumps
// never reach the model.
func signalHints(s chat.Signals, userName string) string {
	who := userName
	if who == "" {
		who = "The user"
	}
	var hints []string

	if e := s.Emotion; e != nil && e.Primary != chat.EmotionNeutral {
		h := fmt.Sprintf("%s seems to be feeling %s", who, e.Primary)
		if len(e.Secondary) > 0 {
			h += fmt.Sprintf(", with a trace of %s", e.Secondary[0])
		}
		hints = append(hints, h+".")
	}
	if tr := s.Trajectory; tr != nil {
		switch tr.Direction {
		case chat.TrajectoryImproving:
			hints = append(hints, "Their mood has been lifting over the last few messages.")
		case chat.TrajectoryDeclining:
			hints = append(hints, "Their mood has been sinking over the last few messages; tread gently.")
		}
	}
	if f := s.Flow; f != nil {
		switch f.Type {
		case chat.FlowTopicShift:
			hints = append(hints, "They just changed the subject.")
		case chat.FlowCallbackReference:
			hints = append(hints, "They are picking up something discussed a while ago.")
		}
		switch f.Depth {
		case chat.DepthIntimate, chat.DepthProfound:
			hints = append(hints, "The conversation has turned personal; match that register carefully.")
		}
	}
	if r := s.Relationship; r != nil {
		switch {
		case r.Trust >= 0.75:
			hints = append(hints, "You know each other well by now.")
		case r.Trust <= 0.3:
			hints = append(hints, "You are still getting to know each other.")
		}
	}
	return strings.Join(hints, " ")
}

// imagePolicy is appended when the inbound message carries images.
const imagePolicy = "The message includes an image. React to it the way you naturally would in " +
	"conversation: mention what catches your eye, in character. Do not produce " +
	"structured analysis, scored tables, section-by-section breakdowns, or offers " +
	"such as \"Would you like me to\" describe it further."

func hasImages(atts []chat.Attachment) bool {
	for _, a := range atts {
		if a.IsImage() {
			return true
		}
	}
	return false
}

func multiSpeaker(history []attribution.RoleMessage) bool {
	distinct := make(map[string]struct{})
	for _, rm := range history {
		if !rm.Attribution.IsBot {
			distinct[rm.Attribution.UserID] = struct{}{}
		}
	}
	return len(distinct) > 1
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

func (c *Composer) buildHistory(in Input) []chat.Message {
	kept := make([]attribution.RoleMessage, 0, len(in.History))
	skipBotReply := false
	for _, rm := range in.History {
		if isCommand(rm.Content) {
			skipBotReply = true
			continue
		}
		if skipBotReply && rm.Attribution.IsBot {
			skipBotReply = false
			continue
		}
		skipBotReply = false
		if c.immersive && containsMetaAnalysis(rm.Content) {
			c.log.Debug("dropped meta-analysis message from history")
			continue
		}
		kept = append(kept, rm)
	}
	return c.attrib.ToLLMFormat(kept, in.PreserveAttribution)
}

// isCommand flags transport commands that should not reach the model.
func isCommand(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "/")
}

// fixAlternation merges consecutive same-role messages so providers that
// require strict user/assistant alternation accept the prompt.
func fixAlternation(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if n := len(out); n > 0 && out[n-1].Role == m.Role && m.Role != "system" {
			out[n-1].Content += "\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Token budget
// ─────────────────────────────────────────────────────────────────────────────

// enforceBudget trims from the middle of history until the prompt fits. The
// system message and the final user turn always survive.
func (c *Composer) enforceBudget(messages []chat.Message) ([]chat.Message, bool, error) {
	total, err := c.counter.CountTokens(messages)
	if err != nil {
		return nil, false, fmt.Errorf("prompt: count tokens: %w", err)
	}
	if total <= c.budget {
		return messages, false, nil
	}

	truncated := false
	for total > c.budget && len(messages) > 2 {
		// History occupies messages[1:len-1]; drop its middle element and
		// re-merge any same-role run the removal exposed.
		mid := 1 + (len(messages)-2)/2
		messages = fixAlternation(append(messages[:mid], messages[mid+1:]...))
		truncated = true
		total, err = c.counter.CountTokens(messages)
		if err != nil {
			return nil, false, fmt.Errorf("prompt: count tokens: %w", err)
		}
	}
	if total > c.budget {
		return nil, false, &chat.BudgetExceededError{Tokens: total, Budget: c.budget}
	}
	return messages, truncated, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Post-LLM cleanup
// ─────────────────────────────────────────────────────────────────────────────

// CleanReply strips a leading "<persona name>:" echo, including bold or
// italic markdown variants, from a model reply.
func CleanReply(personaName, reply string) string {
	trimmed := strings.TrimSpace(reply)
	for _, wrap := range []string{"**", "*", "__", "_", ""} {
		prefix := wrap + personaName + wrap + ":"
		if len(trimmed) >= len(prefix) && strings.EqualFold(trimmed[:len(prefix)], prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return trimmed
}
