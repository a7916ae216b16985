package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/store"
	"go.uber.org/zap"
)

// ChannelRefresher re-reads the channel list into the view.
type ChannelRefresher interface {
	RefreshView(ctx context.Context) ([]store.Channel, error)
}

// Listener applies pushed events to the mirror and the view.
type Listener struct {
	db       *store.DB
	view     *chatview.View
	channels ChannelRefresher
	source   Source
	id       identity.Provider
	bus      *bus.Bus
	logger   *zap.Logger

	alive  atomic.Bool
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
}

// NewListener creates a listener on source.
func NewListener(db *store.DB, view *chatview.View, channels ChannelRefresher, source Source, id identity.Provider, b *bus.Bus, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		db:       db,
		view:     view,
		channels: channels,
		source:   source,
		id:       id,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes for the current user. Calling Start on a running
// listener is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsub != nil {
		return nil
	}
	me := l.id.UserID()
	if me == "" {
		return remote.ErrNoSession
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	l.alive.Store(true)
	unsub, err := l.source.Subscribe(l.ctx, me, l.Handle)
	if err != nil {
		l.alive.Store(false)
		l.cancel()
		return err
	}
	l.unsub = unsub
	l.logger.Info("realtime listener started", zap.String("user_id", me))
	return nil
}

// Stop unsubscribes. From the moment Stop is called no handler mutates
// the mirror or the view, whatever state the subscription is in.
func (l *Listener) Stop() {
	l.alive.Store(false)
	l.mu.Lock()
	unsub, cancel := l.unsub, l.cancel
	l.unsub, l.cancel = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
}

// Alive reports whether the listener is subscribed.
func (l *Listener) Alive() bool {
	return l.alive.Load()
}

// Handle applies one event. Failures are logged; they never end the
// subscription.
func (l *Listener) Handle(evt Event) {
	if !l.alive.Load() {
		return
	}
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	if ctx == nil {
		return
	}

	var err error
	switch evt.Type {
	case TypeNewMessage:
		err = l.applyMessage(ctx, &evt)
	case TypeChannelUpdated:
		err = l.applyChannel(ctx, &evt)
	default:
		l.logger.Debug("ignoring realtime event", zap.String("type", evt.Type))
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Warn("realtime event not applied", zap.String("type", evt.Type), zap.String("channel_id", evt.ChannelID), zap.Error(err))
	}
}

func (l *Listener) applyMessage(ctx context.Context, evt *Event) error {
	rm, err := evt.Message()
	if err != nil {
		return err
	}
	m := rm.ToStore()
	if err := l.db.ApplyIncomingMessage(ctx, &m, evt.Members); err != nil {
		return err
	}
	if !l.alive.Load() {
		return nil
	}
	if l.view.OpenChannelID() == m.ChannelID {
		l.view.AppendMessage(m)
		l.bus.Emit(bus.KindMessagesChanged, bus.ChannelRef{ChannelID: m.ChannelID})
	}
	l.refreshChannels(ctx)
	return nil
}

func (l *Listener) applyChannel(ctx context.Context, evt *Event) error {
	rc, err := evt.Channel()
	if err != nil {
		return err
	}
	c := rc.ToStore()
	if err := l.db.ApplyChannelUpdate(ctx, &c, evt.Members); err != nil {
		return err
	}
	if !l.alive.Load() {
		return nil
	}
	l.refreshChannels(ctx)
	return nil
}

func (l *Listener) refreshChannels(ctx context.Context) {
	if _, err := l.channels.RefreshView(ctx); err != nil {
		l.logger.Warn("refresh channel list failed", zap.Error(err))
	}
}
