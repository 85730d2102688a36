package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// maxMessageChars is Discord's per-message content limit.
const maxMessageChars = 2000

// SendChunked delivers content to a channel, splitting it into multiple
// messages when it exceeds Discord's limit. Delivery stops on the first
// failed send so chunks are never reordered.
func SendChunked(m Messenger, channelID, content string) error {
	for i, chunk := range SplitMessage(content) {
		if _, err := m.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discord: send chunk %d: %w", i+1, err)
		}
	}
	return nil
}

// SplitMessage breaks content into chunks that fit in one Discord message,
// preferring paragraph breaks, then line breaks, then sentence ends, and
// only hard-cutting when a single run has no break at all.
func SplitMessage(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= maxMessageChars {
		return []string{content}
	}

	var chunks []string
	for len(content) > maxMessageChars {
		cut := splitPoint(content)
		chunks = append(chunks, strings.TrimSpace(content[:cut]))
		content = strings.TrimSpace(content[cut:])
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

func splitPoint(content string) int {
	window := content[:maxMessageChars]
	for _, sep := range []string{"\n\n", "\n", ". ", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return idx + len(sep)
		}
	}
	// No break anywhere in the window; cut on a rune boundary.
	cut := maxMessageChars
	for cut > 0 && !isRuneStart(content[cut]) {
		cut--
	}
	return cut
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// RespondEphemeral sends an ephemeral text response to an interaction.
func RespondEphemeral(r InteractionResponder, i *discordgo.InteractionCreate, content string) error {
	return r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
