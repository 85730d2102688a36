// Package attribution assigns per-context speaker identities and defends the
// prompt against identity spoofing. Attribution IDs are scoped to one
// context: the same user can hold different pseudonyms in different channels,
// and within a context the mapping never changes until the context is
// cleared.
package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/reverie-chat/reverie/internal/config"
	"github.com/reverie-chat/reverie/pkg/chat"
)

// SecurityLevel grades a validated message.
type SecurityLevel string

const (
	SecurityOK          SecurityLevel = "ok"
	SecuritySuspicious  SecurityLevel = "suspicious"
	SecurityCompromised SecurityLevel = "compromised"
)

// Record is one speaker's identity inside a context.
type Record struct {
	ContextID     string
	UserID        string
	AttributionID string
	DisplayName   string
	IsBot         bool
	CreatedAt     time.Time
}

// RoleMessage is a platform message resolved to its LLM role and attribution.
type RoleMessage struct {
	Role        string // the attribution ID
	Content     string
	LLMRole     string // user, assistant or system
	Attribution Record
}

// ValidationResult is the outcome of screening one role message.
type ValidationResult struct {
	Valid         bool
	SecurityLevel SecurityLevel
	Errors        []string
	Warnings      []string
}

// injectionPatterns are lowercase substrings that mark a message as a likely
// prompt-injection attempt.
var injectionPatterns = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard your instructions",
	"disregard all prior",
	"forget your instructions",
	"you are now a",
	"new system prompt",
	"system prompt:",
	"[system]",
	"your new instructions",
	"reset your instructions",
}

// Manager hands out context-scoped attribution IDs. Safe for concurrent use;
// assignment within one context is serialized so IDs are dense and stable.
type Manager struct {
	level config.IdentityLevel

	mu       sync.Mutex
	contexts map[string]*contextTable
}

type contextTable struct {
	records map[string]*Record
	next    int // next sequential pseudonym number
}

// NewManager builds a manager operating at the given identity level.
func NewManager(level config.IdentityLevel) *Manager {
	if !level.IsValid() {
		level = config.IdentityContextualized
	}
	return &Manager{
		level:    level,
		contexts: make(map[string]*contextTable),
	}
}

// AttributionID returns the stable per-context pseudonym for userID,
// assigning one on first sight.
func (m *Manager) AttributionID(userID, contextID string) string {
	rec := m.resolve(contextID, userID, "", false)
	return rec.AttributionID
}

// ToRoleMessage resolves a platform message into its role form. botUserID
// identifies the persona's own account; only its messages are verified as
// bot-authored. A message claiming the bot flag from any other author keeps
// the assistant role it asks for, which Validate then flags as compromised.
func (m *Manager) ToRoleMessage(msg chat.CachedMessage, contextID, botUserID string) RoleMessage {
	verified := botUserID != "" && msg.AuthorID == botUserID
	rec := m.resolve(contextID, msg.AuthorID, msg.AuthorName, verified)

	llmRole := "user"
	if verified || msg.IsBot {
		llmRole = "assistant"
	}
	return RoleMessage{
		Role:        rec.AttributionID,
		Content:     msg.Content,
		LLMRole:     llmRole,
		Attribution: *rec,
	}
}

// ToLLMFormat converts role messages into the wire message list. When
// preserveAttribution is set and the slice carries more than one distinct
// non-bot speaker, user content is prefixed with the speaker's display name.
// Bot messages are never prefixed.
func (m *Manager) ToLLMFormat(msgs []RoleMessage, preserveAttribution bool) []chat.Message {
	distinct := make(map[string]struct{})
	for _, rm := range msgs {
		if !rm.Attribution.IsBot {
			distinct[rm.Attribution.UserID] = struct{}{}
		}
	}
	prefix := preserveAttribution && len(distinct) > 1

	out := make([]chat.Message, 0, len(msgs))
	for _, rm := range msgs {
		content := rm.Content
		if prefix && !rm.Attribution.IsBot {
			content = fmt.Sprintf("[%s]: %s", rm.Attribution.DisplayName, content)
		}
		out = append(out, chat.Message{Role: rm.LLMRole, Content: content})
	}
	return out
}

// Validate screens a role message for identity spoofing and prompt
// injection.
func (m *Manager) Validate(rm RoleMessage) ValidationResult {
	res := ValidationResult{Valid: true, SecurityLevel: SecurityOK}

	if rm.LLMRole == "assistant" && !rm.Attribution.IsBot {
		res.Valid = false
		res.SecurityLevel = SecurityCompromised
		res.Errors = append(res.Errors,
			fmt.Sprintf("non-bot user %s carries assistant role", rm.Attribution.UserID))
		return res
	}

	lower := strings.ToLower(rm.Content)
	for _, pat := range injectionPatterns {
		if strings.Contains(lower, pat) {
			res.SecurityLevel = SecuritySuspicious
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("content matches injection pattern %q", pat))
			break
		}
	}
	return res
}

// Clear flushes all attribution state for the context.
func (m *Manager) Clear(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, contextID)
}

// resolve returns the record for (contextID, userID), creating it on first
// sight with a pseudonym matching the configured identity level.
func (m *Manager) resolve(contextID, userID, displayName string, isBot bool) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.contexts[contextID]
	if !ok {
		table = &contextTable{records: make(map[string]*Record), next: 1}
		m.contexts[contextID] = table
	}
	if rec, ok := table.records[userID]; ok {
		// A late display name upgrades an ID-only record at identified level.
		if m.level == config.IdentityIdentified && displayName != "" && rec.DisplayName == rec.UserID {
			rec.DisplayName = displayName
		}
		return rec
	}

	rec := &Record{
		ContextID: contextID,
		UserID:    userID,
		IsBot:     isBot,
		CreatedAt: time.Now(),
	}
	switch {
	case isBot:
		rec.AttributionID = "assistant"
		rec.DisplayName = displayName
		if rec.DisplayName == "" {
			rec.DisplayName = "assistant"
		}
	case m.level == config.IdentityIdentified:
		rec.DisplayName = displayName
		if rec.DisplayName == "" {
			rec.DisplayName = userID
		}
		rec.AttributionID = rec.DisplayName
	case m.level == config.IdentityAnonymous:
		rec.AttributionID = anonID(contextID, userID)
		rec.DisplayName = rec.AttributionID
	default: // contextualized
		rec.AttributionID = fmt.Sprintf("user_%d", table.next)
		table.next++
		rec.DisplayName = rec.AttributionID
	}
	table.records[userID] = rec
	return rec
}

// anonID derives a stable pseudonym from the context and user pair.
func anonID(contextID, userID string) string {
	sum := sha256.Sum256([]byte(contextID + "\x00" + userID))
	return "user_" + hex.EncodeToString(sum[:])[:8]
}
