package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// maxEventSize bounds a single websocket frame.
const maxEventSize = 1 << 20

// WSSource receives events from a websocket gateway. The access token is
// sent as a bearer header; after connecting the client announces the user
// whose channels it wants.
type WSSource struct {
	URL           string
	Token         string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	bus    *bus.Bus
	logger *zap.Logger
}

type subscribeFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// NewWSSource creates a websocket source.
func NewWSSource(url, token string, b *bus.Bus, logger *zap.Logger) *WSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSSource{URL: url, Token: token, bus: b, logger: logger}
}

// Subscribe starts reading in the background.
func (s *WSSource) Subscribe(ctx context.Context, userID string, h Handler) (func(), error) {
	if userID == "" {
		return nil, errors.New("subscribe: user id is required")
	}
	if s.URL == "" {
		return nil, errors.New("subscribe: websocket url is required")
	}
	rc := newReconnector(s.ReconnectBase, s.ReconnectMax)
	return run(ctx, "websocket", rc, s.bus, s.logger, func(ctx context.Context, connected func()) error {
		return s.read(ctx, userID, h, connected)
	}), nil
}

func (s *WSSource) read(ctx context.Context, userID string, h Handler, connected func()) error {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if s.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+s.Token)
	}
	conn, _, err := websocket.Dial(ctx, s.URL, opts)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxEventSize)

	if err := wsjson.Write(ctx, conn, subscribeFrame{Type: "subscribe", UserID: userID}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	connected()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		deliver(data, userID, h, s.logger)
	}
}
