package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder is the slice of the Discord API interaction handlers
// respond through. Satisfied by *discordgo.Session.
type InteractionResponder interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// HandlerFunc handles one slash command interaction.
type HandlerFunc func(r InteractionResponder, i *discordgo.InteractionCreate)

type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches slash command interactions to registered
// handlers. Keys are "command" or "command/subcommand".
type CommandRouter struct {
	log *slog.Logger

	mu       sync.RWMutex
	commands map[string]commandEntry
}

// NewCommandRouter creates an empty router.
func NewCommandRouter(log *slog.Logger) *CommandRouter {
	if log == nil {
		log = slog.Default()
	}
	return &CommandRouter{log: log, commands: make(map[string]commandEntry)}
}

// RegisterCommand registers a handler together with its top-level command
// definition. Subcommand handlers may pass a nil definition when the parent
// is already registered.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{command: cmd, handler: handler}
}

// ApplicationCommands returns the deduplicated top-level command definitions
// for registration with the Discord API.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var cmds []*discordgo.ApplicationCommand
	for _, entry := range r.commands {
		if entry.command != nil && !seen[entry.command.Name] {
			seen[entry.command.Name] = true
			cmds = append(cmds, entry.command)
		}
	}
	return cmds
}

// Handle dispatches an interaction to its registered handler.
func (r *CommandRouter) Handle(s InteractionResponder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	key := data.Name
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		key += "/" + data.Options[0].Name
	}

	r.mu.RLock()
	entry, ok := r.commands[key]
	r.mu.RUnlock()

	if !ok {
		r.log.Warn("unknown command", "key", key)
		_ = RespondEphemeral(s, i, "Unknown command.")
		return
	}
	entry.handler(s, i)
}
