package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/reverie-chat/reverie/internal/attribution"
	"github.com/reverie-chat/reverie/internal/boundary"
	"github.com/reverie-chat/reverie/internal/convcache"
	"github.com/reverie-chat/reverie/internal/persona"
)

// ManagementCommands implements the /reverie command group: persona reload,
// per-channel forget, and session close.
type ManagementCommands struct {
	personas *persona.Store
	cache    convcache.Cache
	attrib   *attribution.Manager
	boundary *boundary.Manager
	perms    *PermissionChecker
	log      *slog.Logger
}

// ManagementConfig holds dependencies for creating ManagementCommands.
type ManagementConfig struct {
	Bot      *Bot
	Personas *persona.Store
	Cache    convcache.Cache
	Attrib   *attribution.Manager
	Boundary *boundary.Manager
	Log      *slog.Logger
}

// NewManagementCommands creates the command group and registers its handlers
// with the bot's router.
func NewManagementCommands(cfg ManagementConfig) *ManagementCommands {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	mc := &ManagementCommands{
		personas: cfg.Personas,
		cache:    cfg.Cache,
		attrib:   cfg.Attrib,
		boundary: cfg.Boundary,
		perms:    cfg.Bot.Permissions(),
		log:      log,
	}
	mc.Register(cfg.Bot.Router())
	return mc
}

// Register adds the /reverie command tree to the router.
func (mc *ManagementCommands) Register(router *CommandRouter) {
	cmd := &discordgo.ApplicationCommand{
		Name:        "reverie",
		Description: "Manage the companion",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "reload",
				Description: "Reload persona definitions from disk",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "forget",
				Description: "Drop this channel's short-term context",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "end",
				Description: "Close your current session",
			},
		},
	}
	router.RegisterCommand("reverie/reload", cmd, mc.handleReload)
	router.RegisterCommand("reverie/forget", nil, mc.handleForget)
	router.RegisterCommand("reverie/end", nil, mc.handleEnd)
}

func (mc *ManagementCommands) handleReload(r InteractionResponder, i *discordgo.InteractionCreate) {
	if !mc.perms.IsAdmin(i) {
		_ = RespondEphemeral(r, i, "You need the admin role for that.")
		return
	}
	if err := mc.personas.Reload(); err != nil {
		mc.log.Error("persona reload failed", "error", err)
		_ = RespondEphemeral(r, i, fmt.Sprintf("Reload failed, keeping the current set: %v", err))
		return
	}
	slugs := mc.personas.Slugs()
	mc.log.Info("personas reloaded", "count", len(slugs))
	_ = RespondEphemeral(r, i, fmt.Sprintf("Reloaded %d personas: %s", len(slugs), strings.Join(slugs, ", ")))
}

func (mc *ManagementCommands) handleForget(r InteractionResponder, i *discordgo.InteractionCreate) {
	if !mc.perms.IsAdmin(i) {
		_ = RespondEphemeral(r, i, "You need the admin role for that.")
		return
	}
	if err := mc.cache.Clear(context.Background(), i.ChannelID); err != nil {
		mc.log.Warn("cache clear failed", "channel_id", i.ChannelID, "error", err)
	}
	mc.attrib.Clear(i.ChannelID)
	_ = RespondEphemeral(r, i, "Short-term context for this channel is gone.")
}

func (mc *ManagementCommands) handleEnd(r InteractionResponder, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	if userID == "" {
		_ = RespondEphemeral(r, i, "Could not tell who you are.")
		return
	}
	summary := mc.boundary.End(context.Background(), userID, i.ChannelID, "user request")
	if summary == "" {
		_ = RespondEphemeral(r, i, "No active session to close.")
		return
	}
	_ = RespondEphemeral(r, i, "Session closed. "+summary)
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
