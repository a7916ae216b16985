// Package meta models the JSON documents attached to channels and messages.
//
// Both documents have a small set of typed core fields. Anything else found
// in the document is kept verbatim in Extra so a round trip through this
// package never drops fields written by other clients.
package meta

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aushilfapp/chatsync/internal/category"
)

// CustomTypeInitial marks the seeded greeting of a channel.
const CustomTypeInitial = "initial"

// PostSnapshot captures the post a conversation was started about.
type PostSnapshot struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Category    string `json:"category,omitempty"`
	PreviewText string `json:"previewText,omitempty"`
}

// PartnerSnapshot is the denormalized display data of the other participant.
type PartnerSnapshot struct {
	UserID          string `json:"user_id"`
	Vorname         string `json:"vorname,omitempty"`
	Nachname        string `json:"nachname,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
}

// DisplayName joins first and last name, falling back to the user id.
func (p PartnerSnapshot) DisplayName() string {
	switch {
	case p.Vorname != "" && p.Nachname != "":
		return p.Vorname + " " + p.Nachname
	case p.Vorname != "":
		return p.Vorname
	case p.Nachname != "":
		return p.Nachname
	}
	return p.UserID
}

// Participant carries richer per-user profile fields.
type Participant struct {
	UserID          string   `json:"user_id"`
	Vorname         string   `json:"vorname,omitempty"`
	Nachname        string   `json:"nachname,omitempty"`
	ProfileImageURL string   `json:"profileImageUrl,omitempty"`
	Bio             string   `json:"bio,omitempty"`
	Kategorien      []string `json:"kategorien,omitempty"`
}

// Channel is the meta document of a channel.
type Channel struct {
	Origin          string           `json:"origin,omitempty"`
	InitiatorID     string           `json:"initiator_id,omitempty"`
	RecipientID     string           `json:"recipient_id,omitempty"`
	Locale          string           `json:"locale,omitempty"`
	InitialMessage  string           `json:"initial_message,omitempty"`
	Post            *PostSnapshot    `json:"post,omitempty"`
	PartnerSnapshot *PartnerSnapshot `json:"partner_snapshot,omitempty"`
	Participants    []Participant    `json:"participants,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var channelKeys = []string{
	"origin", "initiator_id", "recipient_id", "locale", "initial_message",
	"post", "partner_snapshot", "participants",
}

type channelCore Channel

// UnmarshalJSON decodes the core fields and keeps the rest in Extra.
func (c *Channel) UnmarshalJSON(data []byte) error {
	var core channelCore
	if err := json.Unmarshal(data, &core); err != nil {
		return err
	}
	extra, err := extraFields(data, channelKeys)
	if err != nil {
		return err
	}
	*c = Channel(core)
	c.Extra = extra
	return nil
}

// MarshalJSON writes the core fields merged over Extra.
func (c Channel) MarshalJSON() ([]byte, error) {
	return mergeExtra(channelCore(c), c.Extra)
}

// Validate checks the parts of the document other code relies on.
func (c *Channel) Validate() error {
	if (c.InitiatorID == "") != (c.RecipientID == "") {
		return fmt.Errorf("meta: initiator_id and recipient_id must be set together")
	}
	if c.InitiatorID != "" && c.InitiatorID == c.RecipientID {
		return fmt.Errorf("meta: initiator and recipient are the same user")
	}
	if c.Post != nil && c.Post.Category != "" && !category.Valid(c.Post.Category) {
		return fmt.Errorf("meta: post category: %w", category.ErrInvalid)
	}
	for i, p := range c.Participants {
		if p.UserID == "" {
			return fmt.Errorf("meta: participant %d has no user_id", i)
		}
	}
	return nil
}

// Partner returns the display snapshot of the participant that is not me.
// participants[] wins over partner_snapshot when it has richer data.
func (c *Channel) Partner(me string) PartnerSnapshot {
	for _, p := range c.Participants {
		if p.UserID != me {
			return PartnerSnapshot{
				UserID:          p.UserID,
				Vorname:         p.Vorname,
				Nachname:        p.Nachname,
				ProfileImageURL: p.ProfileImageURL,
			}
		}
	}
	if c.PartnerSnapshot != nil && c.PartnerSnapshot.UserID != me {
		return *c.PartnerSnapshot
	}
	switch me {
	case c.InitiatorID:
		return PartnerSnapshot{UserID: c.RecipientID}
	case c.RecipientID:
		return PartnerSnapshot{UserID: c.InitiatorID}
	}
	return PartnerSnapshot{}
}

// Message is the meta document of a message.
type Message struct {
	CustomType string        `json:"custom_type,omitempty"`
	Post       *PostSnapshot `json:"post,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var messageKeys = []string{"custom_type", "post"}

type messageCore Message

// UnmarshalJSON decodes the core fields and keeps the rest in Extra.
func (m *Message) UnmarshalJSON(data []byte) error {
	var core messageCore
	if err := json.Unmarshal(data, &core); err != nil {
		return err
	}
	extra, err := extraFields(data, messageKeys)
	if err != nil {
		return err
	}
	*m = Message(core)
	m.Extra = extra
	return nil
}

// MarshalJSON writes the core fields merged over Extra.
func (m Message) MarshalJSON() ([]byte, error) {
	return mergeExtra(messageCore(m), m.Extra)
}

// IsInitial reports whether the message is a channel's seeded greeting.
func (m *Message) IsInitial() bool {
	return m.CustomType == CustomTypeInitial
}

// DecodeChannel parses a channel meta document. Empty input and JSON null
// decode to the zero value.
func DecodeChannel(raw []byte) (Channel, error) {
	var c Channel
	if isEmpty(raw) {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return Channel{}, fmt.Errorf("decode channel meta: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Channel{}, err
	}
	return c, nil
}

// DecodeMessage parses a message meta document.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if isEmpty(raw) {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message meta: %w", err)
	}
	return m, nil
}

// Encode marshals a meta document, mapping nil to an empty object.
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func isEmpty(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func extraFields(data []byte, knownKeys []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range knownKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func mergeExtra(core any, extra map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(core)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return b, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}
