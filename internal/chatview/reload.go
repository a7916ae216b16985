package chatview

import (
	"context"

	"github.com/aushilfapp/chatsync/internal/store"
)

// minWindow is the smallest number of messages a reload reads.
const minWindow = 50

// MessageReader reads the newest messages of a channel in ascending order.
type MessageReader interface {
	RecentMessages(ctx context.Context, channelID string, limit int) ([]store.Message, error)
}

// Reload re-reads channelID from the mirror if it is the open channel,
// keeping at least as many messages as are currently shown plus extra.
// It reports whether the view changed.
func (v *View) Reload(ctx context.Context, r MessageReader, channelID string, extra int) (bool, error) {
	v.mu.RLock()
	open, shown := v.openID, len(v.messages)
	v.mu.RUnlock()
	if open == "" || open != channelID {
		return false, nil
	}
	msgs, err := r.RecentMessages(ctx, channelID, max(shown+extra, minWindow))
	if err != nil {
		return false, err
	}
	return v.ReplaceMessages(channelID, msgs), nil
}
