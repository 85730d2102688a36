// Package mock provides test doubles for the Discord transport.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Messenger records outbound channel traffic and serves configured history.
type Messenger struct {
	mu sync.Mutex

	// Sent records every ChannelMessageSend, in order.
	Sent []SentMessage

	// SendErr is returned by ChannelMessageSend when non-nil.
	SendErr error

	// History is served by ChannelMessages, newest first, as Discord does.
	History []*discordgo.Message

	// HistoryErr is returned by ChannelMessages when non-nil.
	HistoryErr error

	// TypingChannels records every ChannelTyping call.
	TypingChannels []string
}

// SentMessage is one recorded ChannelMessageSend call.
type SentMessage struct {
	ChannelID string
	Content   string
}

// ChannelMessageSend records the send and returns a stub message.
func (m *Messenger) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{ChannelID: channelID, Content: content})
	return &discordgo.Message{ID: "mock-sent"}, nil
}

// ChannelTyping records the typing indicator call.
func (m *Messenger) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TypingChannels = append(m.TypingChannels, channelID)
	return nil
}

// ChannelMessages serves the configured history.
func (m *Messenger) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	if limit > len(m.History) {
		limit = len(m.History)
	}
	return m.History[:limit], nil
}

// LastSent returns the most recently recorded send, or nil.
func (m *Messenger) LastSent() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return &m.Sent[len(m.Sent)-1]
}

// Responder records interaction responses for command tests.
type Responder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Err is returned by InteractionRespond when non-nil.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (r *Responder) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses = append(r.Responses, resp)
	return r.Err
}

// LastContent returns the content of the most recent response, or "".
func (r *Responder) LastContent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Responses) == 0 || r.Responses[len(r.Responses)-1].Data == nil {
		return ""
	}
	return r.Responses[len(r.Responses)-1].Data.Content
}
