package api

import (
	"context"
	"time"

	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/outbox"
	"github.com/aushilfapp/chatsync/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ChannelSyncer is the part of the channel/message syncer the API drives.
type ChannelSyncer interface {
	Trigger(ctx context.Context) bool
	SyncChannelsOnce(ctx context.Context) ([]store.Channel, error)
	BackfillMessages(ctx context.Context, channelID string, since time.Time) (int, error)
	LoadOlderMessages(ctx context.Context, channelID string, limit int) (int, error)
}

// OutboxUploader drains the outbox on demand.
type OutboxUploader interface {
	UploadOutbox(ctx context.Context, userID string) (outbox.UploadResult, error)
}

// SyncService exposes manual sync controls.
type SyncService struct {
	syncer ChannelSyncer
	outbox OutboxUploader
	id     identity.Provider
}

// NewSyncService creates a new sync service.
func NewSyncService(syncer ChannelSyncer, ob OutboxUploader, id identity.Provider) *SyncService {
	return &SyncService{syncer: syncer, outbox: ob, id: id}
}

// SyncChannels pulls the channel list. Without Force the request shares
// the rate limit of every other trigger and may be dropped.
func (s *SyncService) SyncChannels(ctx context.Context, req *SyncChannelsRequest) (*SyncChannelsResponse, error) {
	if !req.Force {
		return &SyncChannelsResponse{Ran: s.syncer.Trigger(ctx)}, nil
	}
	chans, err := s.syncer.SyncChannelsOnce(ctx)
	if err != nil {
		return nil, toStatus("sync channels", err)
	}
	return &SyncChannelsResponse{Ran: true, Channels: len(chans)}, nil
}

func (s *SyncService) Backfill(ctx context.Context, req *BackfillRequest) (*LoadedResponse, error) {
	if err := required("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	n, err := s.syncer.BackfillMessages(ctx, req.ChannelID, time.Time{})
	if err != nil {
		return nil, toStatus("backfill", err)
	}
	return &LoadedResponse{Loaded: n}, nil
}

func (s *SyncService) LoadOlder(ctx context.Context, req *LoadOlderRequest) (*LoadedResponse, error) {
	if err := required("channel_id", req.ChannelID); err != nil {
		return nil, err
	}
	n, err := s.syncer.LoadOlderMessages(ctx, req.ChannelID, req.Limit)
	if err != nil {
		return nil, toStatus("load older", err)
	}
	return &LoadedResponse{Loaded: n}, nil
}

// FlushOutbox sends one batch now, whatever the app state.
func (s *SyncService) FlushOutbox(ctx context.Context, _ *emptypb.Empty) (*FlushOutboxResponse, error) {
	res, err := s.outbox.UploadOutbox(ctx, s.id.UserID())
	if err != nil {
		return nil, toStatus("flush outbox", err)
	}
	return &FlushOutboxResponse{Sent: res.Sent, Failed: res.Failed}, nil
}

func (s *SyncService) Desc() *grpc.ServiceDesc {
	return &syncServiceDesc
}

var syncServiceDesc = grpc.ServiceDesc{
	ServiceName: syncServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary(syncServiceName, "SyncChannels", (*SyncService).SyncChannels),
		unary(syncServiceName, "Backfill", (*SyncService).Backfill),
		unary(syncServiceName, "LoadOlder", (*SyncService).LoadOlder),
		unary(syncServiceName, "FlushOutbox", (*SyncService).FlushOutbox),
	},
}
