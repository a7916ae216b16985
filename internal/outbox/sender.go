// Package outbox delivers locally authored messages to the remote store.
// Messages are staged in the mirror first and drained by a loop that only
// runs while the app is in the foreground.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/status"
	"github.com/aushilfapp/chatsync/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageSender sends one message to the remote store. It must be
// idempotent per client id: a retry of a send that already succeeded
// returns the same server id.
type MessageSender interface {
	SendMessage(ctx context.Context, channelID, body, clientID string, meta json.RawMessage) (serverID string, serverAt time.Time, err error)
}

// AppState reports whether the app is in the foreground.
type AppState interface {
	IsForeground() bool
}

// ChannelRefresher re-reads the channel list into the view.
type ChannelRefresher interface {
	RefreshView(ctx context.Context) ([]store.Channel, error)
}

// Options tune the dispatcher. Zero values take the defaults.
type Options struct {
	Interval time.Duration
	Batch    int
	Now      func() time.Time
	NewID    func() string
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Batch <= 0 {
		o.Batch = 20
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// Dispatcher stages outgoing messages and drains the outbox.
type Dispatcher struct {
	db       *store.DB
	sender   MessageSender
	state    AppState
	view     *chatview.View
	channels ChannelRefresher
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options

	uploadMu sync.Mutex // one drain at a time
	userID   func() string
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewDispatcher creates a dispatcher. userID supplies the sender id stamped
// on acknowledged messages by the background loop.
func NewDispatcher(db *store.DB, sender MessageSender, state AppState, view *chatview.View, channels ChannelRefresher, userID func() string, b *bus.Bus, logger *zap.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.defaults()
	return &Dispatcher{
		db:       db,
		sender:   sender,
		state:    state,
		view:     view,
		channels: channels,
		userID:   userID,
		bus:      b,
		logger:   logger,
		opts:     opts,
		wake:     make(chan struct{}, 1),
	}
}

// EnqueueMessage stages body for channelID and returns its client id at
// once. The outbox row, the pending message row and the channel summary
// are written in one transaction; delivery happens in the background.
func (d *Dispatcher) EnqueueMessage(ctx context.Context, channelID, body string, meta json.RawMessage) (string, error) {
	e := store.OutboxEntry{
		ClientID:  d.opts.NewID(),
		ChannelID: channelID,
		Body:      body,
		Meta:      meta,
		CreatedAt: d.opts.Now().UTC(),
	}
	if err := d.db.EnqueueOutbox(ctx, &e); err != nil {
		return "", err
	}
	d.staged(ctx, &e)
	return e.ClientID, nil
}

// EnqueueInitialMessage stages the channel's greeting unless it already
// has one. It returns the client id and whether a message was staged.
func (d *Dispatcher) EnqueueInitialMessage(ctx context.Context, channelID, body string, meta json.RawMessage) (string, bool, error) {
	e := store.OutboxEntry{
		ClientID:  d.opts.NewID(),
		ChannelID: channelID,
		Body:      body,
		Meta:      meta,
		CreatedAt: d.opts.Now().UTC(),
	}
	ok, err := d.db.EnqueueInitialMessage(ctx, &e)
	if err != nil || !ok {
		return "", false, err
	}
	d.staged(ctx, &e)
	return e.ClientID, true, nil
}

func (d *Dispatcher) staged(ctx context.Context, e *store.OutboxEntry) {
	d.view.AppendMessage(store.Message{
		ClientID:  e.ClientID,
		ChannelID: e.ChannelID,
		Body:      e.Body,
		CreatedAt: e.CreatedAt,
		Meta:      e.Meta,
		SyncState: store.Pending,
	})
	d.refreshChannels(ctx)
	d.bus.Emit(bus.KindMessageEnqueued, bus.MessageRef{ChannelID: e.ChannelID, ClientID: e.ClientID})
	d.bus.Emit(bus.KindMessagesChanged, bus.ChannelRef{ChannelID: e.ChannelID})
	d.Wake()
}

// Wake asks the loop to drain the outbox now rather than at the next tick.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// UploadResult counts the outcome of one drain.
type UploadResult struct {
	Sent   int
	Failed int
}

// UploadOutbox sends up to one batch of unacknowledged messages, oldest
// first among those tried least often. A failed send marks its message failed and keeps the outbox row;
// it does not stop the batch. Only storage errors are returned.
func (d *Dispatcher) UploadOutbox(ctx context.Context, userID string) (UploadResult, error) {
	var res UploadResult
	if userID == "" {
		return res, errors.New("upload outbox: user id is required")
	}

	d.uploadMu.Lock()
	defer d.uploadMu.Unlock()

	pending, err := d.db.PendingOutbox(ctx, d.opts.Batch)
	if err != nil {
		return res, fmt.Errorf("read outbox: %w", err)
	}

	touched := make(map[string]struct{})
	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		touched[e.ChannelID] = struct{}{}
		serverID, serverAt, err := d.sender.SendMessage(ctx, e.ChannelID, e.Body, e.ClientID, e.Meta)
		if err != nil {
			res.Failed++
			d.logger.Warn("send failed", zap.Error(err), zap.String("client_id", e.ClientID), zap.String("channel_id", e.ChannelID), zap.Int("attempts", e.Attempts+1))
			if ferr := d.db.FailOutbox(ctx, e.ClientID, err.Error()); ferr != nil {
				d.logger.Error("failed to record send failure", zap.Error(ferr), zap.String("client_id", e.ClientID))
			}
			d.bus.Emit(bus.KindSendFailed, bus.MessageRef{ChannelID: e.ChannelID, ClientID: e.ClientID, Err: err.Error()})
			continue
		}

		if err := d.db.AckOutbox(ctx, e.ClientID, serverID, userID, serverAt); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Discarded while the send was in flight.
				d.logger.Info("acked message no longer staged", zap.String("client_id", e.ClientID), zap.String("message_id", serverID))
				continue
			}
			return res, fmt.Errorf("ack %s: %w", e.ClientID, err)
		}
		res.Sent++
		d.logger.Info("message sent", zap.String("client_id", e.ClientID), zap.String("message_id", serverID))
		d.bus.Emit(bus.KindSendAck, bus.MessageRef{ChannelID: e.ChannelID, ClientID: e.ClientID, MessageID: serverID})
	}

	for ch := range touched {
		if _, err := d.view.Reload(ctx, d.db, ch, 0); err != nil {
			d.logger.Warn("reload view failed", zap.Error(err), zap.String("channel_id", ch))
		}
		d.bus.Emit(bus.KindMessagesChanged, bus.ChannelRef{ChannelID: ch})
	}
	if res.Sent > 0 {
		d.refreshChannels(ctx)
	}
	return res, nil
}

// Retry re-arms a failed message and wakes the loop. It returns
// store.ErrNotFound when clientID is not a failed, staged message.
func (d *Dispatcher) Retry(ctx context.Context, clientID string) error {
	ok, err := d.db.RetryFailed(ctx, clientID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("retry %s: %w", clientID, store.ErrNotFound)
	}
	if m, err := d.db.GetMessage(ctx, clientID); err == nil && m != nil {
		if _, err := d.view.Reload(ctx, d.db, m.ChannelID, 0); err != nil {
			d.logger.Warn("reload view failed", zap.Error(err), zap.String("channel_id", m.ChannelID))
		}
		d.bus.Emit(bus.KindMessagesChanged, bus.ChannelRef{ChannelID: m.ChannelID})
	}
	d.Wake()
	return nil
}

// Discard abandons an unsent message.
func (d *Dispatcher) Discard(ctx context.Context, clientID string) error {
	m, err := d.db.GetMessage(ctx, clientID)
	if err != nil {
		return err
	}
	if err := d.db.DeleteOutbox(ctx, clientID); err != nil {
		return err
	}
	if m != nil {
		if _, err := d.view.Reload(ctx, d.db, m.ChannelID, 0); err != nil {
			d.logger.Warn("reload view failed", zap.Error(err), zap.String("channel_id", m.ChannelID))
		}
		d.bus.Emit(bus.KindMessagesChanged, bus.ChannelRef{ChannelID: m.ChannelID})
	}
	return nil
}

func (d *Dispatcher) refreshChannels(ctx context.Context) {
	if d.channels == nil {
		return
	}
	if _, err := d.channels.RefreshView(ctx); err != nil {
		d.logger.Warn("refresh channel list failed", zap.Error(err))
	}
}

// Start runs the polling loop. The ticker only runs while the app is in
// the foreground; moving to the foreground drains at once.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	events, unsub := d.bus.Subscribe("app.", 8)
	go d.loop(ctx, events, unsub)
}

// Stop stops the loop and waits for an in-flight drain to finish.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

func (d *Dispatcher) loop(ctx context.Context, events <-chan bus.Event, unsub func()) {
	defer close(d.done)
	defer unsub()

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()
	running := d.state.IsForeground()
	if !running {
		ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.state.IsForeground() {
				d.drain(ctx)
			}
		case <-d.wake:
			if d.state.IsForeground() {
				d.drain(ctx)
			}
		case evt := <-events:
			if evt.Kind != bus.KindAppStateChanged {
				continue
			}
			change, ok := evt.Payload.(status.StatusChange)
			if !ok {
				continue
			}
			switch {
			case change.To == status.Foreground && !running:
				running = true
				ticker.Reset(d.opts.Interval)
				d.logger.Debug("outbox loop resumed")
				d.drain(ctx)
			case change.To != status.Foreground && running:
				running = false
				ticker.Stop()
				d.logger.Debug("outbox loop paused", zap.String("state", string(change.To)))
			}
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	userID := d.userID()
	if userID == "" {
		return
	}
	res, err := d.UploadOutbox(ctx, userID)
	if err != nil {
		d.logger.Error("outbox drain failed", zap.Error(err))
		return
	}
	if res.Sent+res.Failed > 0 {
		d.logger.Debug("outbox drained", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	}
}
