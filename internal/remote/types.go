package remote

import (
	"encoding/json"
	"time"

	"github.com/aushilfapp/chatsync/internal/store"
)

// Channel is a chat.channels row as the current user sees it. The JSON
// tags match the rows carried by realtime events.
type Channel struct {
	ID                   string          `json:"id"`
	CustomType           string          `json:"custom_type"`
	CustomCategory       string          `json:"custom_category"`
	CustomCategoryChosen string          `json:"custom_category_choosen"`
	UpdatedAt            time.Time       `json:"updated_at"`
	LastMessageAt        *time.Time      `json:"last_message_at"`
	LastMessageText      string          `json:"last_message_text"`
	LastSenderID         string          `json:"last_sender_id"`
	Meta                 json.RawMessage `json:"meta"`

	Members []Member `json:"-"`
}

// ToStore maps the row to the local mirror shape.
func (c *Channel) ToStore() store.Channel {
	out := store.Channel{
		ID:                   c.ID,
		CustomType:           c.CustomType,
		CustomCategory:       c.CustomCategory,
		CustomCategoryChosen: c.CustomCategoryChosen,
		UpdatedAt:            c.UpdatedAt,
		LastMessageText:      c.LastMessageText,
		LastSenderID:         c.LastSenderID,
		Meta:                 c.Meta,
	}
	if c.LastMessageAt != nil {
		out.LastMessageAt = *c.LastMessageAt
	}
	return out
}

// Member is a chat.channel_members row.
type Member struct {
	ChannelID  string     `json:"channel_id"`
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"`
	Muted      bool       `json:"muted"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastReadAt *time.Time `json:"last_read_at"`
}

// ToStore maps the row to the local mirror shape.
func (m *Member) ToStore() store.Member {
	out := store.Member{
		ChannelID: m.ChannelID,
		UserID:    m.UserID,
		Role:      m.Role,
		Muted:     m.Muted,
		JoinedAt:  m.JoinedAt,
	}
	if m.LastReadAt != nil {
		out.LastReadAt = *m.LastReadAt
	}
	return out
}

// Message is a chat.messages row.
type Message struct {
	ID        string          `json:"id"`
	ChannelID string          `json:"channel_id"`
	SenderID  string          `json:"sender_id"`
	ClientID  string          `json:"client_id"`
	Body      string          `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
	EditedAt  *time.Time      `json:"edited_at"`
	DeletedAt *time.Time      `json:"deleted_at"`
	Meta      json.RawMessage `json:"meta"`
}

// ToStore maps the row to a synced local message.
func (m *Message) ToStore() store.Message {
	out := store.Message{
		ID:        m.ID,
		ClientID:  m.ClientID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		Meta:      m.Meta,
		SyncState: store.Synced,
	}
	if m.EditedAt != nil {
		out.EditedAt = *m.EditedAt
	}
	if m.DeletedAt != nil {
		out.DeletedAt = *m.DeletedAt
	}
	return out
}

// Cursor is a seek position in a channel's history. Messages strictly
// before (CreatedAt, ID) are returned; an empty ID compares on CreatedAt
// alone, a zero Cursor starts at the newest message.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the cursor just before m.
func CursorOf(m *store.Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// CategoryUpdate is the result of UpdateChannelCategory.
type CategoryUpdate struct {
	ID        string
	Category  string
	UpdatedAt time.Time
}

// ChannelMetaUpdate carries the fields written by SetChannelMeta. Empty
// strings leave the remote value unchanged; Meta keys are merged.
type ChannelMetaUpdate struct {
	Type     string
	Category string
	Meta     json.RawMessage
}

// ToStoreMessages maps a page of remote messages.
func ToStoreMessages(in []Message) []store.Message {
	out := make([]store.Message, len(in))
	for i := range in {
		out[i] = in[i].ToStore()
	}
	return out
}
