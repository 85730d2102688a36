// Package discord is Reverie's transport layer. It owns the discordgo
// session lifecycle, normalizes gateway messages into pipeline input,
// bootstraps channel history into the conversation cache, and chunks replies
// to fit Discord's message limits.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/reverie-chat/reverie/internal/config"
	"github.com/reverie-chat/reverie/internal/convcache"
	"github.com/reverie-chat/reverie/pkg/chat"
)

// defaultBootstrapLimit is how many historical messages seed the cache when
// a channel is first seen.
const defaultBootstrapLimit = 20

// Handler runs one inbound message through the reply pipeline. Satisfied by
// the pipeline orchestrator.
type Handler interface {
	HandleMessage(ctx context.Context, in chat.InboundMessage) (string, error)
}

// Messenger is the slice of the Discord API the bot sends through. Satisfied
// by *discordgo.Session; tests substitute a recorder.
type Messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Bot owns the gateway connection and feeds channel messages into the
// pipeline.
type Bot struct {
	session   *discordgo.Session
	messenger Messenger
	handler   Handler
	cache     convcache.Cache
	router    *CommandRouter
	perms     *PermissionChecker
	log       *slog.Logger

	botUserID      string
	allowed        map[string]struct{}
	bootstrapLimit int

	mu           sync.Mutex
	bootstrapped map[string]struct{}

	closeOnce sync.Once
}

// New creates a Bot and connects it to the gateway.
func New(_ context.Context, cfg config.DiscordConfig, handler Handler, cache convcache.Cache, log *slog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := newBot(session, handler, cache, cfg, log)
	b.session = session
	b.botUserID = session.State.User.ID

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessageCreate(m)
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	return b, nil
}

// newBot wires the message-handling core without a live session.
func newBot(messenger Messenger, handler Handler, cache convcache.Cache, cfg config.DiscordConfig, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	limit := cfg.BootstrapLimit
	if limit <= 0 {
		limit = defaultBootstrapLimit
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedChannels))
	for _, id := range cfg.AllowedChannels {
		allowed[id] = struct{}{}
	}
	return &Bot{
		messenger:      messenger,
		handler:        handler,
		cache:          cache,
		router:         NewCommandRouter(log),
		perms:          NewPermissionChecker(cfg.AdminRoleID),
		log:            log,
		allowed:        allowed,
		bootstrapLimit: limit,
		bootstrapped:   make(map[string]struct{}),
	}
}

// Router returns the slash command router for handler registration.
func (b *Bot) Router() *CommandRouter { return b.router }

// Permissions returns the admin permission checker.
func (b *Bot) Permissions() *PermissionChecker { return b.perms }

// BotUserID returns the bot's own account ID.
func (b *Bot) BotUserID() string { return b.botUserID }

// Run registers slash commands and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(b.botUserID, "", cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.log.Info("discord commands registered", "count", len(registered))
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		b.log.Info("discord bot closed")
	})
	return closeErr
}

// ─────────────────────────────────────────────────────────────────────────────
// Message handling
// ─────────────────────────────────────────────────────────────────────────────

func (b *Bot) onMessageCreate(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == b.botUserID {
		return
	}
	if !b.shouldEngage(m) {
		return
	}

	ctx := context.Background()
	b.bootstrapChannel(ctx, m.ChannelID, m.ID)

	// Messages from other bots are context, not conversation: cache them for
	// attribution screening but never reply.
	if m.Author.Bot {
		_ = b.cache.Append(ctx, m.ChannelID, cachedFromDiscord(m.Message))
		return
	}

	in := toInbound(m)
	if in.Text == "" && len(in.Attachments) == 0 {
		return
	}

	_ = b.messenger.ChannelTyping(m.ChannelID)

	reply, err := b.handler.HandleMessage(ctx, in)
	if err != nil {
		b.log.Warn("message dropped", "message_id", m.ID, "error", err)
		return
	}
	if reply == "" {
		return
	}
	if err := SendChunked(b.messenger, m.ChannelID, reply); err != nil {
		b.log.Error("reply delivery failed", "channel_id", m.ChannelID, "error", err)
	}
}

// shouldEngage decides whether a message is the bot's to handle. Direct
// messages and explicit mentions always engage; other guild messages honor
// the channel allowlist.
func (b *Bot) shouldEngage(m *discordgo.MessageCreate) bool {
	if m.GuildID == "" {
		return true
	}
	if b.mentionsBot(m.Message) {
		return true
	}
	return b.channelAllowed(m.ChannelID)
}

func (b *Bot) mentionsBot(m *discordgo.Message) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == b.botUserID {
			return true
		}
	}
	return false
}

func (b *Bot) channelAllowed(channelID string) bool {
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[channelID]
	return ok
}

// bootstrapChannel fills the cache with recent channel history the first
// time a channel is seen. Best effort: a failed fetch just leaves the cache
// to warm up from live traffic.
func (b *Bot) bootstrapChannel(ctx context.Context, channelID, beforeID string) {
	b.mu.Lock()
	if _, done := b.bootstrapped[channelID]; done {
		b.mu.Unlock()
		return
	}
	b.bootstrapped[channelID] = struct{}{}
	b.mu.Unlock()

	history, err := b.messenger.ChannelMessages(channelID, b.bootstrapLimit, beforeID, "", "")
	if err != nil {
		b.log.Warn("channel bootstrap failed", "channel_id", channelID, "error", err)
		return
	}
	// Discord returns newest first; the cache wants chronological order.
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Author == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		cached := cachedFromDiscord(msg)
		cached.Source = "bootstrap"
		if err := b.cache.Append(ctx, channelID, cached); err != nil {
			b.log.Warn("bootstrap append failed", "channel_id", channelID, "error", err)
			return
		}
	}
	b.log.Info("channel history bootstrapped", "channel_id", channelID, "messages", len(history))
}

// ─────────────────────────────────────────────────────────────────────────────
// Normalization
// ─────────────────────────────────────────────────────────────────────────────

// toInbound converts a gateway message into pipeline input.
func toInbound(m *discordgo.MessageCreate) chat.InboundMessage {
	in := chat.InboundMessage{
		UserID:    m.Author.ID,
		UserName:  displayName(m.Message),
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Text:      strings.TrimSpace(m.ContentWithMentionsReplaced()),
		Timestamp: m.Timestamp,
		IsDM:      m.GuildID == "",
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	for _, att := range m.Attachments {
		in.Attachments = append(in.Attachments, chat.Attachment{
			URL:         att.URL,
			ContentType: att.ContentType,
			Filename:    att.Filename,
		})
	}
	return in
}

func cachedFromDiscord(m *discordgo.Message) chat.CachedMessage {
	return chat.CachedMessage{
		Content:    m.Content,
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m),
		Timestamp:  m.Timestamp,
		IsBot:      m.Author.Bot,
		Source:     "live",
	}
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
