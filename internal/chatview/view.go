// Package chatview holds the in-memory view state the UI renders: the
// channel list and the messages of the open channel. It is written only by
// the sync engine and read through copies.
package chatview

import (
	"slices"
	"sync"

	"github.com/aushilfapp/chatsync/internal/store"
)

// View is the chat view state.
type View struct {
	mu       sync.RWMutex
	channels []store.Channel
	openID   string
	messages []store.Message
}

// New returns an empty view.
func New() *View {
	return &View{}
}

// Channels returns a copy of the channel list.
func (v *View) Channels() []store.Channel {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.channels)
}

// MergeChannels folds freshly read channels into the view and returns the
// result. The merge is a union keyed by channel id, never a replace:
// channels only the view knows (created moments ago, not yet returned by
// the remote list) are kept, channels only fresh knows are added, and for
// channels in both the fresh row wins unless the view's copy is newer.
func (v *View) MergeChannels(fresh []store.Channel) []store.Channel {
	v.mu.Lock()
	defer v.mu.Unlock()

	index := make(map[string]int, len(v.channels))
	merged := slices.Clone(v.channels)
	for i := range merged {
		index[merged[i].ID] = i
	}
	for _, c := range fresh {
		i, ok := index[c.ID]
		if !ok {
			index[c.ID] = len(merged)
			merged = append(merged, c)
			continue
		}
		if !newer(&merged[i], &c) {
			merged[i] = c
		}
	}
	sortChannels(merged)
	v.channels = merged
	return slices.Clone(merged)
}

// UpsertChannel adds or replaces a single channel, e.g. one the chat
// initialization just created.
func (v *View) UpsertChannel(c store.Channel) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.channels {
		if v.channels[i].ID == c.ID {
			v.channels[i] = c
			sortChannels(v.channels)
			return
		}
	}
	v.channels = append(v.channels, c)
	sortChannels(v.channels)
}

// newer reports whether a is strictly more recent than b.
func newer(a, b *store.Channel) bool {
	if !a.Activity().Equal(b.Activity()) {
		return a.Activity().After(b.Activity())
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// sortChannels orders by last message time descending with channels
// without messages last, then updated_at descending.
func sortChannels(cs []store.Channel) {
	slices.SortStableFunc(cs, func(a, b store.Channel) int {
		az, bz := a.LastMessageAt.IsZero(), b.LastMessageAt.IsZero()
		switch {
		case az != bz:
			if az {
				return 1
			}
			return -1
		case !a.LastMessageAt.Equal(b.LastMessageAt):
			return b.LastMessageAt.Compare(a.LastMessageAt)
		case !a.UpdatedAt.Equal(b.UpdatedAt):
			return b.UpdatedAt.Compare(a.UpdatedAt)
		}
		return 0
	})
}

// OpenChannel marks channelID as the open channel and shows msgs.
func (v *View) OpenChannel(channelID string, msgs []store.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.openID = channelID
	v.messages = slices.Clone(msgs)
	sortMessages(v.messages)
}

// CloseChannel clears the open channel.
func (v *View) CloseChannel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.openID = ""
	v.messages = nil
}

// OpenChannelID returns the open channel, or "".
func (v *View) OpenChannelID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.openID
}

// Messages returns a copy of the open channel's messages, ascending.
func (v *View) Messages() []store.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.messages)
}

// ReplaceMessages swaps in a fresh read of channelID if it is still open.
func (v *View) ReplaceMessages(channelID string, msgs []store.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.openID == "" || v.openID != channelID {
		return false
	}
	v.messages = slices.Clone(msgs)
	sortMessages(v.messages)
	return true
}

// AppendMessage adds m to the open channel. It reports false when m
// belongs to another channel or is already shown; a shown pending copy
// with the same client id is promoted in place.
func (v *View) AppendMessage(m store.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.openID == "" || v.openID != m.ChannelID {
		return false
	}
	for i := range v.messages {
		cur := &v.messages[i]
		if (m.ID != "" && cur.ID == m.ID) || (m.ClientID != "" && cur.ClientID == m.ClientID) {
			if cur.SyncState != store.Synced && m.SyncState == store.Synced {
				*cur = m
			}
			return false
		}
	}
	v.messages = append(v.messages, m)
	sortMessages(v.messages)
	return true
}

func sortMessages(ms []store.Message) {
	slices.SortStableFunc(ms, func(a, b store.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch ak, bk := a.Key(), b.Key(); {
		case ak < bk:
			return -1
		case ak > bk:
			return 1
		}
		return 0
	})
}
