package api

import (
	"context"
	"strings"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/chatinit"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/store"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ChannelOpener opens channels and re-reads the list into the view.
type ChannelOpener interface {
	OpenChannel(ctx context.Context, channelID string) ([]store.Message, error)
	RefreshView(ctx context.Context) ([]store.Channel, error)
}

// ChatStarter runs the start-a-chat-about-a-post flow.
type ChatStarter interface {
	InitializeChatWithPost(ctx context.Context, req chatinit.Request, onError func(error)) (*chatinit.Result, error)
}

// ChannelRemote is the part of the remote access layer written through
// directly by user actions.
type ChannelRemote interface {
	MarkRead(ctx context.Context, channelID string) (time.Time, error)
	UpdateChannelCategory(ctx context.Context, channelID, cat string) (*remote.CategoryUpdate, error)
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*EventEnvelope) error
	Context() context.Context
}

const defaultChannelLimit = 100

// ChatService serves the channel list and channel-level actions.
type ChatService struct {
	db      *store.DB
	view    *chatview.View
	opener  ChannelOpener
	starter ChatStarter
	remote  ChannelRemote
	id      identity.Provider
	bus     *bus.Bus
}

// NewChatService creates a new chat service.
func NewChatService(db *store.DB, view *chatview.View, opener ChannelOpener, starter ChatStarter, r ChannelRemote, id identity.Provider, b *bus.Bus) *ChatService {
	return &ChatService{
		db:      db,
		view:    view,
		opener:  opener,
		starter: starter,
		remote:  r,
		id:      id,
		bus:     b,
	}
}

// ListChannels returns the view's channel list: the mirror merged with
// channels known only to this session, newest activity first.
func (s *ChatService) ListChannels(_ context.Context, req *ListChannelsRequest) (*ListChannelsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultChannelLimit
	}
	chans := s.view.Channels()
	if len(chans) > limit {
		chans = chans[:limit]
	}
	me := s.id.UserID()
	out := make([]Channel, 0, len(chans))
	for i := range chans {
		out = append(out, channelFromStore(&chans[i], me))
	}
	return &ListChannelsResponse{Channels: out}, nil
}

// OpenChannel makes channelID the open thread and returns its messages
// after a catch-up backfill.
func (s *ChatService) OpenChannel(ctx context.Context, req *ChannelRequest) (*MessagesResponse, error) {
	if err := required("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	msgs, err := s.opener.OpenChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, toStatus("open channel", err)
	}
	return &MessagesResponse{ChannelID: req.ChannelID, Messages: messagesFromStore(msgs)}, nil
}

func (s *ChatService) CloseChannel(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.view.CloseChannel()
	return &emptypb.Empty{}, nil
}

func (s *ChatService) InitializeChat(ctx context.Context, req *InitializeChatRequest) (*InitializeChatResponse, error) {
	res, err := s.starter.InitializeChatWithPost(ctx, chatinit.Request{
		Post: chatinit.Post{
			ID:          req.PostID,
			AuthorID:    req.AuthorID,
			Category:    req.Category,
			PreviewText: req.PreviewText,
		},
		Partner: chatinit.Partner{
			UserID:    req.AuthorID,
			Vorname:   req.Vorname,
			Nachname:  req.Nachname,
			AvatarURL: req.AvatarURL,
		},
		Locale:   req.Locale,
		Greeting: req.Greeting,
	}, nil)
	if err != nil {
		return nil, toStatus("initialize chat", err)
	}
	return &InitializeChatResponse{
		ChannelID:        res.ChannelID,
		Created:          res.Created,
		GreetingClientID: res.GreetingClientID,
		GreetingEnqueued: res.GreetingEnqueued,
	}, nil
}

// MarkRead moves the read marker remotely first and mirrors the server's
// timestamp locally.
func (s *ChatService) MarkRead(ctx context.Context, req *ChannelRequest) (*MarkReadResponse, error) {
	if err := required("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	at, err := s.remote.MarkRead(ctx, req.ChannelID)
	if err != nil {
		return nil, toStatus("mark read", err)
	}
	if err := s.db.MarkRead(ctx, req.ChannelID, s.id.UserID(), at); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &MarkReadResponse{ReadAt: at}, nil
}

// SetCategory stores the user's category override remotely and locally.
func (s *ChatService) SetCategory(ctx context.Context, req *SetCategoryRequest) (*SetCategoryResponse, error) {
	if err := required("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	u, err := s.remote.UpdateChannelCategory(ctx, req.ChannelID, req.Category)
	if err != nil {
		return nil, toStatus("set category", err)
	}
	if err := s.db.SetChosenCategory(ctx, u.ID, u.Category, u.UpdatedAt); err != nil {
		return nil, toStatus("set category", err)
	}
	if _, err := s.opener.RefreshView(ctx); err != nil {
		return nil, toStatus("set category", err)
	}
	return &SetCategoryResponse{ChannelID: u.ID, Category: u.Category, UpdatedAt: u.UpdatedAt}, nil
}

// WatchEvents streams bus events until the client goes away. Slow watchers
// miss events rather than stall the engine.
func (s *ChatService) WatchEvents(req *WatchRequest, stream EventStream) error {
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matches(req.Prefixes, evt.Kind) {
				continue
			}
			if err := stream.Send(envelope(evt)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func matches(prefixes []string, kind string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

func envelope(evt bus.Event) *EventEnvelope {
	env := &EventEnvelope{
		EventID:    uuid.NewString(),
		Kind:       evt.Kind,
		OccurredAt: evt.Timestamp,
	}
	switch p := evt.Payload.(type) {
	case bus.ChannelRef:
		env.ChannelID = p.ChannelID
	case bus.MessageRef:
		env.ChannelID = p.ChannelID
		env.ClientID = p.ClientID
		env.MessageID = p.MessageID
		env.Error = p.Err
	}
	return env
}

func (s *ChatService) Desc() *grpc.ServiceDesc {
	return &chatServiceDesc
}

type watchEventsServer struct {
	grpc.ServerStream
}

func (w watchEventsServer) Send(env *EventEnvelope) error {
	return w.ServerStream.SendMsg(env)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*ChatService).WatchEvents(in, watchEventsServer{stream})
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary(chatServiceName, "ListChannels", (*ChatService).ListChannels),
		unary(chatServiceName, "OpenChannel", (*ChatService).OpenChannel),
		unary(chatServiceName, "CloseChannel", (*ChatService).CloseChannel),
		unary(chatServiceName, "InitializeChat", (*ChatService).InitializeChat),
		unary(chatServiceName, "MarkRead", (*ChatService).MarkRead),
		unary(chatServiceName, "SetCategory", (*ChatService).SetCategory),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}
