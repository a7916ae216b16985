package api

import (
	"context"
	"fmt"
	"time"

	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/status"
	"github.com/aushilfapp/chatsync/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Liveness reports whether the realtime listener is subscribed.
type Liveness interface {
	Alive() bool
}

// SessionService reports daemon status and receives app lifecycle changes.
type SessionService struct {
	profileName string
	startedAt   time.Time
	machine     *status.Machine
	id          identity.Provider
	db          *store.DB
	view        *chatview.View
	realtime    Liveness
}

// NewSessionService creates a new session service. realtime may be nil when
// push events are disabled.
func NewSessionService(profileName string, machine *status.Machine, id identity.Provider, db *store.DB, view *chatview.View, realtime Liveness) *SessionService {
	return &SessionService{
		profileName: profileName,
		startedAt:   time.Now(),
		machine:     machine,
		id:          id,
		db:          db,
		view:        view,
		realtime:    realtime,
	}
}

func (s *SessionService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*StatusResponse, error) {
	resp := &StatusResponse{
		Profile:  s.profileName,
		UserID:   s.id.UserID(),
		SignedIn: s.id.HasSession(),
		AppState: string(s.machine.Current()),
		Channels: len(s.view.Channels()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.realtime != nil {
		resp.Realtime = s.realtime.Alive()
	}
	if n, err := s.db.OutboxLen(ctx); err == nil {
		resp.OutboxLen = n
	}
	return resp, nil
}

// SetAppState moves the app between foreground and background. The outbox
// loop only runs in the foreground.
func (s *SessionService) SetAppState(ctx context.Context, req *SetAppStateRequest) (*StatusResponse, error) {
	st, err := status.Parse(req.State)
	if err != nil {
		return nil, toStatus("set app state", fmt.Errorf("%w: %v", errInvalid, err))
	}
	if err := s.machine.Transition(st); err != nil {
		return nil, toStatus("set app state", fmt.Errorf("%w: %v", errInvalid, err))
	}
	return s.GetStatus(ctx, &emptypb.Empty{})
}

func (s *SessionService) Desc() *grpc.ServiceDesc {
	return &sessionServiceDesc
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary(sessionServiceName, "GetStatus", (*SessionService).GetStatus),
		unary(sessionServiceName, "SetAppState", (*SessionService).SetAppState),
	},
}
