// Package realtime applies changes pushed by the backend to the mirror and
// the view without waiting for the next sync.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/aushilfapp/chatsync/internal/remote"
)

// Event types sent by the backend.
const (
	TypeNewMessage     = "new_message"
	TypeChannelUpdated = "channel_updated"
)

// Event is one pushed change. Members lists the users of the affected
// channel; sources only deliver events the current user is a member of.
type Event struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channel_id"`
	Members   []string        `json:"members"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode parses a wire event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" || e.ChannelID == "" {
		return Event{}, fmt.Errorf("decode event: type and channel_id are required")
	}
	return e, nil
}

// HasMember reports whether userID belongs to the event's channel.
func (e *Event) HasMember(userID string) bool {
	return slices.Contains(e.Members, userID)
}

// Message decodes the payload of a new_message event.
func (e *Event) Message() (remote.Message, error) {
	var m remote.Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return m, fmt.Errorf("decode message payload: %w", err)
	}
	if m.ID == "" {
		return m, fmt.Errorf("decode message payload: id is required")
	}
	if m.ChannelID == "" {
		m.ChannelID = e.ChannelID
	}
	return m, nil
}

// Channel decodes the payload of a channel_updated event.
func (e *Event) Channel() (remote.Channel, error) {
	var c remote.Channel
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return c, fmt.Errorf("decode channel payload: %w", err)
	}
	if c.ID == "" {
		c.ID = e.ChannelID
	}
	return c, nil
}

// Handler receives events in arrival order.
type Handler func(Event)

// Source delivers events for the channels userID belongs to until the
// returned unsubscribe function is called. Unsubscribe blocks until no
// further handler call can start.
type Source interface {
	Subscribe(ctx context.Context, userID string, h Handler) (unsubscribe func(), err error)
}
