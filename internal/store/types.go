package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Channel is a row of channels_local.
type Channel struct {
	ID                   string
	CustomType           string
	CustomCategory       string
	CustomCategoryChosen string
	UpdatedAt            time.Time
	LastMessageAt        time.Time // zero when the channel has no messages
	LastMessageText      string
	LastSenderID         string
	Meta                 json.RawMessage
}

// Activity is the sort key of the channel list.
func (c *Channel) Activity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.UpdatedAt
}

// Member is a row of channel_members_local.
type Member struct {
	ChannelID  string
	UserID     string
	Role       string
	Muted      bool
	JoinedAt   time.Time
	LastReadAt time.Time // zero until the first mark-read
}

// RoleMember is the only role in 1:1 channels.
const RoleMember = "member"

// SyncState tracks a message through the outbox.
type SyncState string

const (
	Pending SyncState = "pending"
	Synced  SyncState = "synced"
	Failed  SyncState = "failed"
)

// Message is a row of messages_local. A pending or failed message has no
// ID yet and is keyed by ClientID; once acknowledged the same row carries
// both.
type Message struct {
	LocalID   int64
	ID        string
	ClientID  string
	ChannelID string
	SenderID  string
	Body      string
	CreatedAt time.Time
	EditedAt  time.Time
	DeletedAt time.Time
	Meta      json.RawMessage
	SyncState SyncState
}

// Key is the identity of the message in lists: the server id when known,
// the client id otherwise.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientID
}

// OutboxEntry is a row of outbox_messages.
type OutboxEntry struct {
	ClientID  string
	ChannelID string
	Body      string
	Meta      json.RawMessage
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// Profile is the cached display data of another user.
type Profile struct {
	UserID    string
	Vorname   string
	Nachname  string
	AvatarURL string
	UpdatedAt time.Time
}

// Order selects the direction of ListMessages.
type Order int

const (
	Ascending Order = iota
	Descending
)

// micros encodes t for a nullable INTEGER column.
func micros(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMicro()
}

// microsNotNull encodes t for a NOT NULL INTEGER column.
func microsNotNull(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v.Int64).UTC()
}

// metaText encodes a meta document for a NOT NULL TEXT column. Documents
// that are not valid JSON are stored as an empty object.
func metaText(raw json.RawMessage) string {
	if len(raw) == 0 || !json.Valid(raw) {
		return "{}"
	}
	return string(raw)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
