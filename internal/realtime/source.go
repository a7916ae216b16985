package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/aushilfapp/chatsync/internal/bus"
	"go.uber.org/zap"
)

// Status is the payload of realtime.status events.
type Status struct {
	Source    string
	Connected bool
	Err       string
}

var errClosed = errors.New("connection closed by server")

// serveFunc holds one connection open, calling connected once it is ready.
// It returns when the connection breaks or ctx is done.
type serveFunc func(ctx context.Context, connected func()) error

// run keeps serve connected until the returned function is called,
// reconnecting with backoff after every break.
func run(ctx context.Context, name string, rc *reconnector, b *bus.Bus, logger *zap.Logger, serve serveFunc) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			err := serve(ctx, func() {
				rc.markConnected()
				logger.Info("realtime connected", zap.String("source", name))
				b.Emit(bus.KindRealtimeStatus, Status{Source: name, Connected: true})
			})
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errClosed
			}
			logger.Warn("realtime connection lost", zap.String("source", name), zap.Error(err))
			b.Emit(bus.KindRealtimeStatus, Status{Source: name, Err: err.Error()})
			if !rc.wait(ctx) {
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// deliver decodes one wire event and hands it to h if userID is a member.
func deliver(data []byte, userID string, h Handler, logger *zap.Logger) {
	evt, err := Decode(data)
	if err != nil {
		logger.Warn("dropping malformed realtime event", zap.Error(err))
		return
	}
	if !evt.HasMember(userID) {
		return
	}
	h(evt)
}
