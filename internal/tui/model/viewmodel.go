package model

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/tui/client"
	"github.com/aushilfapp/chatsync/internal/tui/ui"
)

// ErrNoChannel is returned by channel actions when no channel is open.
var ErrNoChannel = errors.New("no channel open")

const (
	channelLimit = 200
	pageSize     = 50
)

// ViewModel caches daemon state for the views. Loads run on background
// goroutines; getters return copies safe to hand to the UI goroutine.
type ViewModel struct {
	mu sync.RWMutex

	client   *client.Client
	status   *api.StatusResponse
	channels []api.Channel
	messages []api.Message
	active   string
	limit    int

	Flash *ui.FlashModel
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(c *client.Client) *ViewModel {
	return &ViewModel{
		client: c,
		limit:  pageSize,
		Flash:  ui.NewFlashModel(),
	}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.client.Session.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	return nil
}

// LoadChannels fetches the channel list.
func (vm *ViewModel) LoadChannels(ctx context.Context) error {
	resp, err := vm.client.Chat.ListChannels(ctx, &api.ListChannelsRequest{Limit: channelLimit})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.channels = resp.Channels
	vm.mu.Unlock()
	return nil
}

// OpenChannel makes id the active channel. The daemon answers from the
// mirror and catches the channel up before replying.
func (vm *ViewModel) OpenChannel(ctx context.Context, id string) error {
	resp, err := vm.client.Chat.OpenChannel(ctx, &api.ChannelRequest{ChannelID: id})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.active = id
	vm.limit = max(pageSize, len(resp.Messages))
	vm.messages = resp.Messages
	vm.mu.Unlock()
	return nil
}

// CloseChannel tells the daemon no channel is on screen anymore.
func (vm *ViewModel) CloseChannel(ctx context.Context) error {
	vm.mu.Lock()
	vm.active = ""
	vm.messages = nil
	vm.mu.Unlock()
	return vm.client.Chat.CloseChannel(ctx)
}

// ReloadMessages re-reads the newest messages of the active channel.
func (vm *ViewModel) ReloadMessages(ctx context.Context) error {
	id, limit := vm.activeAndLimit()
	if id == "" {
		return ErrNoChannel
	}
	resp, err := vm.client.Message.ListMessages(ctx, &api.ListMessagesRequest{
		ChannelID:  id,
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		return err
	}
	msgs := resp.Messages
	slices.Reverse(msgs)

	vm.mu.Lock()
	defer vm.mu.Unlock()
	// The channel may have been switched while the call was in flight.
	if vm.active == id {
		vm.messages = msgs
	}
	return nil
}

// LoadOlder fetches the page before the oldest loaded message and grows
// the window so the next reload keeps it. Returns how many arrived.
func (vm *ViewModel) LoadOlder(ctx context.Context) (int, error) {
	id, _ := vm.activeAndLimit()
	if id == "" {
		return 0, ErrNoChannel
	}
	resp, err := vm.client.Sync.LoadOlder(ctx, &api.LoadOlderRequest{ChannelID: id, Limit: pageSize})
	if err != nil {
		return 0, err
	}
	vm.mu.Lock()
	vm.limit += resp.Loaded
	vm.mu.Unlock()
	return resp.Loaded, vm.ReloadMessages(ctx)
}

// Send queues text for the active channel.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	id, _ := vm.activeAndLimit()
	if id == "" {
		return ErrNoChannel
	}
	if _, err := vm.client.Message.SendMessage(ctx, &api.SendMessageRequest{ChannelID: id, Body: text}); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.limit++
	vm.mu.Unlock()
	return vm.ReloadMessages(ctx)
}

// Retry requeues a failed message.
func (vm *ViewModel) Retry(ctx context.Context, clientID string) error {
	return vm.client.Message.RetryMessage(ctx, &api.ClientIDRequest{ClientID: clientID})
}

// Discard drops an unsent message.
func (vm *ViewModel) Discard(ctx context.Context, clientID string) error {
	return vm.client.Message.DiscardMessage(ctx, &api.ClientIDRequest{ClientID: clientID})
}

// MarkRead marks the active channel read.
func (vm *ViewModel) MarkRead(ctx context.Context) (time.Time, error) {
	id, _ := vm.activeAndLimit()
	if id == "" {
		return time.Time{}, ErrNoChannel
	}
	resp, err := vm.client.Chat.MarkRead(ctx, &api.ChannelRequest{ChannelID: id})
	if err != nil {
		return time.Time{}, err
	}
	return resp.ReadAt, nil
}

// SetCategory overrides the category of channelID.
func (vm *ViewModel) SetCategory(ctx context.Context, channelID, cat string) error {
	_, err := vm.client.Chat.SetCategory(ctx, &api.SetCategoryRequest{ChannelID: channelID, Category: cat})
	return err
}

// SyncChannels forces a channel sync and returns the channel count.
func (vm *ViewModel) SyncChannels(ctx context.Context) (int, error) {
	resp, err := vm.client.Sync.SyncChannels(ctx, &api.SyncChannelsRequest{Force: true})
	if err != nil {
		return 0, err
	}
	return resp.Channels, nil
}

// Flush uploads the outbox now.
func (vm *ViewModel) Flush(ctx context.Context) (*api.FlushOutboxResponse, error) {
	return vm.client.Sync.FlushOutbox(ctx)
}

// StartChat opens or creates the chat about a post and returns its channel.
func (vm *ViewModel) StartChat(ctx context.Context, postID, authorID string) (string, error) {
	resp, err := vm.client.Chat.InitializeChat(ctx, &api.InitializeChatRequest{PostID: postID, AuthorID: authorID})
	if err != nil {
		return "", err
	}
	return resp.ChannelID, nil
}

// SetAppState reports the lifecycle state to the daemon.
func (vm *ViewModel) SetAppState(ctx context.Context, state string) error {
	resp, err := vm.client.Session.SetAppState(ctx, &api.SetAppStateRequest{State: state})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	return nil
}

// Watch streams daemon events to fn until ctx ends or the stream breaks.
func (vm *ViewModel) Watch(ctx context.Context, fn func(*api.EventEnvelope)) error {
	w, err := vm.client.Chat.WatchEvents(ctx, &api.WatchRequest{})
	if err != nil {
		return err
	}
	for {
		evt, err := w.Recv()
		if err != nil {
			return err
		}
		fn(evt)
	}
}

func (vm *ViewModel) activeAndLimit() (string, int) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active, vm.limit
}

// ActiveChannel returns the open channel's ID, or "".
func (vm *ViewModel) ActiveChannel() string {
	id, _ := vm.activeAndLimit()
	return id
}

// Channels returns a snapshot of the channel list.
func (vm *ViewModel) Channels() []api.Channel {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.channels)
}

// Messages returns a snapshot of the active channel's messages.
func (vm *ViewModel) Messages() []api.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.messages)
}

// Status returns the last fetched daemon status, or nil.
func (vm *ViewModel) Status() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return nil
	}
	st := *vm.status
	return &st
}
