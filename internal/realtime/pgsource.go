package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PGSource receives events through Postgres LISTEN/NOTIFY on a dedicated
// connection. The chat schema's triggers notify on every message insert or
// update and every channel update.
type PGSource struct {
	DSN           string
	Channel       string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	bus    *bus.Bus
	logger *zap.Logger
}

// NewPGSource creates a LISTEN/NOTIFY source.
func NewPGSource(dsn, channel string, b *bus.Bus, logger *zap.Logger) *PGSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGSource{DSN: dsn, Channel: channel, bus: b, logger: logger}
}

// Subscribe starts listening in the background.
func (s *PGSource) Subscribe(ctx context.Context, userID string, h Handler) (func(), error) {
	if userID == "" {
		return nil, errors.New("subscribe: user id is required")
	}
	if s.DSN == "" || s.Channel == "" {
		return nil, errors.New("subscribe: database url and channel are required")
	}
	rc := newReconnector(s.ReconnectBase, s.ReconnectMax)
	return run(ctx, "postgres", rc, s.bus, s.logger, func(ctx context.Context, connected func()) error {
		return s.listen(ctx, userID, h, connected)
	}), nil
}

func (s *PGSource) listen(ctx context.Context, userID string, h Handler, connected func()) error {
	conn, err := pgx.Connect(ctx, s.DSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", s.Channel, err)
	}
	connected()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		deliver([]byte(n.Payload), userID, h, s.logger)
	}
}
