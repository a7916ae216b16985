// Package chatinit turns "message the author of this post" into a 1:1
// channel with exactly one greeting, however often it is invoked.
package chatinit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/category"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/meta"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/store"
	"go.uber.org/zap"
)

var (
	ErrMissingUser      = errors.New("chat init: no current user")
	ErrMissingRecipient = errors.New("chat init: post has no author")
	ErrOwnPost          = errors.New("chat init: cannot start a chat with yourself")
)

// ChannelType is the custom_type of channels created here.
const ChannelType = "1on1"

// Origin marks channels started from a post.
const Origin = "post"

// Remote is the part of the remote access layer the flow writes to.
type Remote interface {
	Ensure1on1Channel(ctx context.Context, partnerID string) (string, error)
	SetChannelMeta(ctx context.Context, channelID string, u remote.ChannelMetaUpdate) error
}

// Enqueuer stages the greeting unless the channel already has one.
type Enqueuer interface {
	EnqueueInitialMessage(ctx context.Context, channelID, body string, meta json.RawMessage) (clientID string, enqueued bool, err error)
}

// Post is the post the chat is about.
type Post struct {
	ID          string
	AuthorID    string
	Category    string
	PreviewText string
}

// Partner is the display data of the post's author.
type Partner struct {
	UserID    string
	Vorname   string
	Nachname  string
	AvatarURL string
}

// Request starts a chat with the author of Post. An empty Greeting takes
// the localized default.
type Request struct {
	Post     Post
	Partner  Partner
	Locale   string
	Greeting string
}

// Result describes what the flow did.
type Result struct {
	ChannelID        string
	Created          bool
	GreetingClientID string
	GreetingEnqueued bool
}

// Initializer runs the chat initialization flow.
type Initializer struct {
	db     *store.DB
	remote Remote
	outbox Enqueuer
	view   *chatview.View
	id     identity.Provider
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// New creates an initializer.
func New(db *store.DB, r Remote, outbox Enqueuer, view *chatview.View, id identity.Provider, b *bus.Bus, logger *zap.Logger) *Initializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initializer{
		db:     db,
		remote: r,
		outbox: outbox,
		view:   view,
		id:     id,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// InitializeChatWithPost ensures the channel with the post's author, mirrors
// it locally on first contact and seeds one greeting. Every step is safe to
// repeat, so a failed run can simply be retried. On failure onError, when
// set, receives the error and the result is nil.
func (in *Initializer) InitializeChatWithPost(ctx context.Context, req Request, onError func(error)) (*Result, error) {
	res, err := in.initialize(ctx, req)
	if err != nil {
		in.logger.Warn("chat initialization failed", zap.String("post_id", req.Post.ID), zap.Error(err))
		if onError != nil {
			onError(err)
		}
		return nil, err
	}
	return res, nil
}

func (in *Initializer) initialize(ctx context.Context, req Request) (*Result, error) {
	me := in.id.UserID()
	if me == "" {
		return nil, ErrMissingUser
	}
	recipient := req.Post.AuthorID
	if recipient == "" {
		return nil, ErrMissingRecipient
	}
	if recipient == me {
		return nil, ErrOwnPost
	}
	cat := ""
	if req.Post.Category != "" {
		c, err := category.Parse(req.Post.Category)
		if err != nil {
			return nil, err
		}
		cat = string(c)
	}
	partner := meta.PartnerSnapshot{
		UserID:          recipient,
		Vorname:         req.Partner.Vorname,
		Nachname:        req.Partner.Nachname,
		ProfileImageURL: req.Partner.AvatarURL,
	}
	post := &meta.PostSnapshot{ID: req.Post.ID, UserID: recipient, Category: cat, PreviewText: req.Post.PreviewText}
	greeting := req.Greeting
	if greeting == "" {
		greeting = Greeting(req.Locale, partner)
	}

	channelID, err := in.remote.Ensure1on1Channel(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("ensure channel: %w", err)
	}
	res := &Result{ChannelID: channelID}

	existing, err := in.db.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		cm := meta.Channel{
			Origin:          Origin,
			InitiatorID:     me,
			RecipientID:     recipient,
			Locale:          normalizeLocale(req.Locale),
			InitialMessage:  greeting,
			Post:            post,
			PartnerSnapshot: &partner,
		}
		if err := cm.Validate(); err != nil {
			return nil, err
		}
		raw, err := meta.Encode(cm)
		if err != nil {
			return nil, err
		}
		if err := in.remote.SetChannelMeta(ctx, channelID, remote.ChannelMetaUpdate{
			Type:     ChannelType,
			Category: cat,
			Meta:     raw,
		}); err != nil {
			return nil, fmt.Errorf("set channel meta: %w", err)
		}

		now := in.now().UTC()
		ch := store.Channel{
			ID:             channelID,
			CustomType:     ChannelType,
			CustomCategory: cat,
			UpdatedAt:      now,
			Meta:           raw,
		}
		created, err := in.db.CreateChannelLocal(ctx, &ch, []store.Member{
			{UserID: me, Role: store.RoleMember, JoinedAt: now},
			{UserID: recipient, Role: store.RoleMember, JoinedAt: now},
		}, &store.Profile{
			UserID:    recipient,
			Vorname:   req.Partner.Vorname,
			Nachname:  req.Partner.Nachname,
			AvatarURL: req.Partner.AvatarURL,
			UpdatedAt: now,
		})
		if err != nil {
			return nil, err
		}
		if created {
			in.view.UpsertChannel(ch)
			res.Created = true
			in.logger.Info("channel created", zap.String("channel_id", channelID), zap.String("post_id", req.Post.ID))
		}
	}

	msgMeta, err := meta.Encode(meta.Message{CustomType: meta.CustomTypeInitial, Post: post})
	if err != nil {
		return nil, err
	}
	clientID, enqueued, err := in.outbox.EnqueueInitialMessage(ctx, channelID, greeting, msgMeta)
	if err != nil {
		return nil, fmt.Errorf("enqueue greeting: %w", err)
	}
	res.GreetingClientID, res.GreetingEnqueued = clientID, enqueued

	in.bus.Emit(bus.KindChannelsChanged, bus.ChannelRef{ChannelID: channelID})
	in.bus.Emit(bus.KindMessagesChanged, bus.ChannelRef{ChannelID: channelID})
	return res, nil
}
