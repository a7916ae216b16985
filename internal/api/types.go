package api

import (
	"encoding/json"
	"time"

	"github.com/aushilfapp/chatsync/internal/meta"
	"github.com/aushilfapp/chatsync/internal/store"
)

// Channel is a channel row as shown in the list.
type Channel struct {
	ID              string          `json:"id"`
	Type            string          `json:"type,omitempty"`
	Category        string          `json:"category,omitempty"`
	ChosenCategory  string          `json:"chosen_category,omitempty"`
	PartnerID       string          `json:"partner_id,omitempty"`
	PartnerName     string          `json:"partner_name,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastMessageAt   *time.Time      `json:"last_message_at,omitempty"`
	LastMessageText string          `json:"last_message_text,omitempty"`
	LastSenderID    string          `json:"last_sender_id,omitempty"`
	Meta            json.RawMessage `json:"meta,omitempty"`
}

// DisplayCategory is the user's override, falling back to the post's category.
func (c *Channel) DisplayCategory() string {
	if c.ChosenCategory != "" {
		return c.ChosenCategory
	}
	return c.Category
}

// Message is a message as shown in a thread.
type Message struct {
	ID        string    `json:"id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	ChannelID string    `json:"channel_id"`
	SenderID  string    `json:"sender_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	State     string    `json:"state"`
	Initial   bool      `json:"initial,omitempty"`
}

// Key identifies the message whether or not it has been acknowledged.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientID
}

type StatusResponse struct {
	Profile   string `json:"profile"`
	UserID    string `json:"user_id,omitempty"`
	SignedIn  bool   `json:"signed_in"`
	AppState  string `json:"app_state"`
	Realtime  bool   `json:"realtime"`
	Channels  int    `json:"channels"`
	OutboxLen int    `json:"outbox_len"`
	UptimeMs  int64  `json:"uptime_ms"`
}

type SetAppStateRequest struct {
	State string `json:"state"`
}

type SyncChannelsRequest struct {
	// Force skips the cooldown and reports sync errors to the caller.
	Force bool `json:"force,omitempty"`
}

type SyncChannelsResponse struct {
	Ran      bool `json:"ran"`
	Channels int  `json:"channels"`
}

type LoadOlderRequest struct {
	ChannelID string `json:"channel_id"`
	Limit     int    `json:"limit,omitempty"`
}

type BackfillRequest struct {
	ChannelID string `json:"channel_id"`
}

type LoadedResponse struct {
	Loaded int `json:"loaded"`
}

type FlushOutboxResponse struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type ListChannelsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ListChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

type ChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

type MessagesResponse struct {
	ChannelID string    `json:"channel_id"`
	Messages  []Message `json:"messages"`
}

type InitializeChatRequest struct {
	PostID      string `json:"post_id"`
	AuthorID    string `json:"author_id"`
	Category    string `json:"category,omitempty"`
	PreviewText string `json:"preview_text,omitempty"`
	Vorname     string `json:"vorname,omitempty"`
	Nachname    string `json:"nachname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Locale      string `json:"locale,omitempty"`
	Greeting    string `json:"greeting,omitempty"`
}

type InitializeChatResponse struct {
	ChannelID        string `json:"channel_id"`
	Created          bool   `json:"created"`
	GreetingClientID string `json:"greeting_client_id,omitempty"`
	GreetingEnqueued bool   `json:"greeting_enqueued"`
}

type MarkReadResponse struct {
	ReadAt time.Time `json:"read_at"`
}

type SetCategoryRequest struct {
	ChannelID string `json:"channel_id"`
	Category  string `json:"category"`
}

type SetCategoryResponse struct {
	ChannelID string    `json:"channel_id"`
	Category  string    `json:"category"`
	UpdatedAt time.Time `json:"updated_at"`
}

type WatchRequest struct {
	// Prefixes filters event kinds; empty means every event.
	Prefixes []string `json:"prefixes,omitempty"`
}

// EventEnvelope is one bus event delivered to a watcher.
type EventEnvelope struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	ChannelID  string    `json:"channel_id,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type ListMessagesRequest struct {
	ChannelID  string `json:"channel_id"`
	Limit      int    `json:"limit,omitempty"`
	Descending bool   `json:"descending,omitempty"`
}

type SendMessageRequest struct {
	ChannelID string `json:"channel_id"`
	Body      string `json:"body"`
}

type SendMessageResponse struct {
	ClientID string `json:"client_id"`
}

type ClientIDRequest struct {
	ClientID string `json:"client_id"`
}

func channelFromStore(c *store.Channel, me string) Channel {
	out := Channel{
		ID:              c.ID,
		Type:            c.CustomType,
		Category:        c.CustomCategory,
		ChosenCategory:  c.CustomCategoryChosen,
		UpdatedAt:       c.UpdatedAt,
		LastMessageText: c.LastMessageText,
		LastSenderID:    c.LastSenderID,
		Meta:            c.Meta,
	}
	if !c.LastMessageAt.IsZero() {
		t := c.LastMessageAt
		out.LastMessageAt = &t
	}
	// Undecodable meta still lists the channel, just without a partner.
	if cm, err := meta.DecodeChannel(c.Meta); err == nil {
		p := cm.Partner(me)
		out.PartnerID = p.UserID
		if p.UserID != "" {
			out.PartnerName = p.DisplayName()
		}
	}
	return out
}

func messageFromStore(m *store.Message) Message {
	out := Message{
		ID:        m.ID,
		ClientID:  m.ClientID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		State:     string(m.SyncState),
	}
	if mm, err := meta.DecodeMessage(m.Meta); err == nil {
		out.Initial = mm.IsInitial()
	}
	return out
}

func messagesFromStore(in []store.Message) []Message {
	out := make([]Message, 0, len(in))
	for i := range in {
		out = append(out, messageFromStore(&in[i]))
	}
	return out
}
