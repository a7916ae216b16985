package api

import (
	"context"
	"encoding/json"

	"github.com/aushilfapp/chatsync/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// MessageOutbox stages outgoing messages and manages failed ones.
type MessageOutbox interface {
	EnqueueMessage(ctx context.Context, channelID, body string, meta json.RawMessage) (string, error)
	Retry(ctx context.Context, clientID string) error
	Discard(ctx context.Context, clientID string) error
}

const defaultMessageLimit = 50

// MessageService reads threads from the mirror and stages sends.
type MessageService struct {
	db     *store.DB
	outbox MessageOutbox
}

// NewMessageService creates a new message service backed by the store.
func NewMessageService(db *store.DB, ob MessageOutbox) *MessageService {
	return &MessageService{db: db, outbox: ob}
}

func (s *MessageService) ListMessages(ctx context.Context, req *ListMessagesRequest) (*MessagesResponse, error) {
	if err := required("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	order := store.Ascending
	if req.Descending {
		order = store.Descending
	}
	msgs, err := s.db.ListMessages(ctx, req.ChannelID, order, limit)
	if err != nil {
		return nil, toStatus("list messages", err)
	}
	return &MessagesResponse{ChannelID: req.ChannelID, Messages: messagesFromStore(msgs)}, nil
}

// SendMessage stages the message; it is shown as pending at once and sent
// by the outbox loop.
func (s *MessageService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	if err := required("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	if err := required("body", req.Body); err != nil {
		return nil, err
	}
	clientID, err := s.outbox.EnqueueMessage(ctx, req.ChannelID, req.Body, nil)
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return &SendMessageResponse{ClientID: clientID}, nil
}

func (s *MessageService) RetryMessage(ctx context.Context, req *ClientIDRequest) (*emptypb.Empty, error) {
	if err := required("client_id", req.ClientID); err != nil {
		return nil, err
	}
	if err := s.outbox.Retry(ctx, req.ClientID); err != nil {
		return nil, toStatus("retry message", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *MessageService) DiscardMessage(ctx context.Context, req *ClientIDRequest) (*emptypb.Empty, error) {
	if err := required("client_id", req.ClientID); err != nil {
		return nil, err
	}
	if err := s.outbox.Discard(ctx, req.ClientID); err != nil {
		return nil, toStatus("discard message", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *MessageService) Desc() *grpc.ServiceDesc {
	return &messageServiceDesc
}

var messageServiceDesc = grpc.ServiceDesc{
	ServiceName: messageServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary(messageServiceName, "ListMessages", (*MessageService).ListMessages),
		unary(messageServiceName, "SendMessage", (*MessageService).SendMessage),
		unary(messageServiceName, "RetryMessage", (*MessageService).RetryMessage),
		unary(messageServiceName, "DiscardMessage", (*MessageService).DiscardMessage),
	},
}
