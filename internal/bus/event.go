package bus

import "time"

// Event kinds published by the chat engine. Subscribers filter by prefix,
// so "chat." receives both channel and message notifications.
const (
	KindChannelsChanged = "chat.channels_changed"
	KindMessagesChanged = "chat.messages_changed"
	KindMessageEnqueued = "message.enqueued"
	KindSendAck         = "message.send_ack"
	KindSendFailed      = "message.send_failed"
	KindAppStateChanged = "app.state_changed"
	KindRealtimeStatus  = "realtime.status"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ChannelRef is the payload of channel-scoped notifications.
type ChannelRef struct {
	ChannelID string
}

// MessageRef identifies a single message in outbox notifications.
type MessageRef struct {
	ChannelID string
	ClientID  string
	MessageID string
	Err       string
}
