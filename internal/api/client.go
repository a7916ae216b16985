package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// SessionClient calls SessionService.
type SessionClient struct{ cc grpc.ClientConnInterface }

func NewSessionClient(cc grpc.ClientConnInterface) *SessionClient { return &SessionClient{cc} }

func (c *SessionClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, sessionServiceName, "GetStatus", &emptypb.Empty{}, opts...)
}

func (c *SessionClient) SetAppState(ctx context.Context, in *SetAppStateRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, sessionServiceName, "SetAppState", in, opts...)
}

// SyncClient calls SyncService.
type SyncClient struct{ cc grpc.ClientConnInterface }

func NewSyncClient(cc grpc.ClientConnInterface) *SyncClient { return &SyncClient{cc} }

func (c *SyncClient) SyncChannels(ctx context.Context, in *SyncChannelsRequest, opts ...grpc.CallOption) (*SyncChannelsResponse, error) {
	return invoke[SyncChannelsResponse](ctx, c.cc, syncServiceName, "SyncChannels", in, opts...)
}

func (c *SyncClient) Backfill(ctx context.Context, in *BackfillRequest, opts ...grpc.CallOption) (*LoadedResponse, error) {
	return invoke[LoadedResponse](ctx, c.cc, syncServiceName, "Backfill", in, opts...)
}

func (c *SyncClient) LoadOlder(ctx context.Context, in *LoadOlderRequest, opts ...grpc.CallOption) (*LoadedResponse, error) {
	return invoke[LoadedResponse](ctx, c.cc, syncServiceName, "LoadOlder", in, opts...)
}

func (c *SyncClient) FlushOutbox(ctx context.Context, opts ...grpc.CallOption) (*FlushOutboxResponse, error) {
	return invoke[FlushOutboxResponse](ctx, c.cc, syncServiceName, "FlushOutbox", &emptypb.Empty{}, opts...)
}

// ChatClient calls ChatService.
type ChatClient struct{ cc grpc.ClientConnInterface }

func NewChatClient(cc grpc.ClientConnInterface) *ChatClient { return &ChatClient{cc} }

func (c *ChatClient) ListChannels(ctx context.Context, in *ListChannelsRequest, opts ...grpc.CallOption) (*ListChannelsResponse, error) {
	return invoke[ListChannelsResponse](ctx, c.cc, chatServiceName, "ListChannels", in, opts...)
}

func (c *ChatClient) OpenChannel(ctx context.Context, in *ChannelRequest, opts ...grpc.CallOption) (*MessagesResponse, error) {
	return invoke[MessagesResponse](ctx, c.cc, chatServiceName, "OpenChannel", in, opts...)
}

func (c *ChatClient) CloseChannel(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, chatServiceName, "CloseChannel", &emptypb.Empty{}, opts...)
	return err
}

func (c *ChatClient) InitializeChat(ctx context.Context, in *InitializeChatRequest, opts ...grpc.CallOption) (*InitializeChatResponse, error) {
	return invoke[InitializeChatResponse](ctx, c.cc, chatServiceName, "InitializeChat", in, opts...)
}

func (c *ChatClient) MarkRead(ctx context.Context, in *ChannelRequest, opts ...grpc.CallOption) (*MarkReadResponse, error) {
	return invoke[MarkReadResponse](ctx, c.cc, chatServiceName, "MarkRead", in, opts...)
}

func (c *ChatClient) SetCategory(ctx context.Context, in *SetCategoryRequest, opts ...grpc.CallOption) (*SetCategoryResponse, error) {
	return invoke[SetCategoryResponse](ctx, c.cc, chatServiceName, "SetCategory", in, opts...)
}

// EventWatcher receives the WatchEvents stream.
type EventWatcher struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (w *EventWatcher) Recv() (*EventEnvelope, error) {
	env := new(EventEnvelope)
	if err := w.stream.RecvMsg(env); err != nil {
		return nil, err
	}
	return env, nil
}

// WatchEvents opens the event stream. Cancel ctx to end it.
func (c *ChatClient) WatchEvents(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (*EventWatcher, error) {
	opts = append(opts, grpc.CallContentSubtype(Codec))
	stream, err := c.cc.NewStream(ctx, &chatServiceDesc.Streams[0], fullMethod(chatServiceName, "WatchEvents"), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventWatcher{stream: stream}, nil
}

// MessageClient calls MessageService.
type MessageClient struct{ cc grpc.ClientConnInterface }

func NewMessageClient(cc grpc.ClientConnInterface) *MessageClient { return &MessageClient{cc} }

func (c *MessageClient) ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (*MessagesResponse, error) {
	return invoke[MessagesResponse](ctx, c.cc, messageServiceName, "ListMessages", in, opts...)
}

func (c *MessageClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c.cc, messageServiceName, "SendMessage", in, opts...)
}

func (c *MessageClient) RetryMessage(ctx context.Context, in *ClientIDRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, messageServiceName, "RetryMessage", in, opts...)
	return err
}

func (c *MessageClient) DiscardMessage(ctx context.Context, in *ClientIDRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, messageServiceName, "DiscardMessage", in, opts...)
	return err
}
