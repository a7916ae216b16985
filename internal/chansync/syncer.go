// Package chansync keeps the local mirror's channel list and message
// history in step with the remote store and folds the result into the
// view state.
package chansync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/store"
	"go.uber.org/zap"
)

// Remote is the part of the remote access layer the syncer reads from.
type Remote interface {
	FetchChannelPage(ctx context.Context, limit int) ([]remote.Channel, error)
	FetchMessages(ctx context.Context, channelID string, since time.Time, limit int) ([]remote.Message, error)
	PageMessages(ctx context.Context, channelID string, before remote.Cursor, limit int) ([]remote.Message, error)
}

// Options tune the syncer. Zero values take the defaults.
type Options struct {
	Cooldown    time.Duration
	ChannelPage int
	MessagePage int
	Now         func() time.Time
}

func (o *Options) defaults() {
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Second
	}
	if o.ChannelPage <= 0 {
		o.ChannelPage = 50
	}
	if o.MessagePage <= 0 {
		o.MessagePage = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// maxStuckPage bounds the page size used to get past many messages that
// share one timestamp.
const maxStuckPage = 1000

// Syncer pulls channels and messages into the mirror.
type Syncer struct {
	db     *store.DB
	remote Remote
	view   *chatview.View
	id     identity.Provider
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// New creates a syncer.
func New(db *store.DB, r Remote, view *chatview.View, id identity.Provider, b *bus.Bus, logger *zap.Logger, opts Options) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.defaults()
	return &Syncer{
		db:     db,
		remote: r,
		view:   view,
		id:     id,
		bus:    b,
		logger: logger,
		opts:   opts,
	}
}

// Trigger runs a full channel sync unless one is already running or the
// previous one started less than the cooldown ago. Dropped requests are
// not queued. It reports whether a sync ran; sync errors are logged.
func (s *Syncer) Trigger(ctx context.Context) bool {
	s.mu.Lock()
	now := s.opts.Now()
	if s.running || (!s.lastRun.IsZero() && now.Sub(s.lastRun) < s.opts.Cooldown) {
		s.mu.Unlock()
		s.logger.Debug("channel sync dropped", zap.Bool("running", s.running))
		return false
	}
	s.running = true
	s.lastRun = now
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.SyncChannelsOnce(ctx); err != nil {
		s.logger.Warn("channel sync failed", zap.Error(err))
	}
	return true
}

// SyncChannelsOnce fetches the channel page, applies it to the mirror with
// the local category override preserved, and merges the mirror's list into
// the view. It returns the merged list.
func (s *Syncer) SyncChannelsOnce(ctx context.Context) ([]store.Channel, error) {
	if !s.id.HasSession() {
		return nil, remote.ErrNoSession
	}
	page, err := s.remote.FetchChannelPage(ctx, s.opts.ChannelPage)
	if err != nil {
		return nil, fmt.Errorf("fetch channels: %w", err)
	}

	channels := make([]store.Channel, 0, len(page))
	var members []store.Member
	for i := range page {
		channels = append(channels, page[i].ToStore())
		for j := range page[i].Members {
			members = append(members, page[i].Members[j].ToStore())
		}
	}
	if err := s.db.UpsertChannelsPreserving(ctx, channels, members); err != nil {
		return nil, fmt.Errorf("apply channels: %w", err)
	}
	s.logger.Debug("channels synced", zap.Int("channels", len(channels)))
	return s.RefreshView(ctx)
}

// RefreshView re-reads the current user's channels from the mirror and
// merges them into the view.
func (s *Syncer) RefreshView(ctx context.Context) ([]store.Channel, error) {
	me := s.id.UserID()
	if me == "" {
		return nil, remote.ErrNoSession
	}
	local, err := s.db.ListChannels(ctx, me, s.opts.ChannelPage)
	if err != nil {
		return nil, err
	}
	merged := s.view.MergeChannels(local)
	s.bus.Emit(bus.KindChannelsChanged, nil)
	return merged, nil
}

// BackfillMessages catches channelID up with the remote history. Messages
// created at or after since are fetched in ascending pages; a zero since
// resumes from the channel's stored watermark. A channel that was never
// backfilled gets its newest page instead. It returns the number of
// messages applied.
//
// Only backfill and LoadOlderMessages move the watermarks. Messages that
// arrive by realtime or by our own sends may sit past a gap and never
// count as mirrored history.
func (s *Syncer) BackfillMessages(ctx context.Context, channelID string, since time.Time) (int, error) {
	if channelID == "" {
		return 0, errors.New("backfill: channel id is required")
	}
	if since.IsZero() {
		var err error
		if since, err = s.watermark(ctx, channelID); err != nil {
			return 0, err
		}
	}

	if since.IsZero() {
		n, err := s.backfillNewest(ctx, channelID)
		if n > 0 {
			s.afterMessages(ctx, channelID, 0)
		}
		return n, err
	}

	n, newest, err := s.backfillSince(ctx, channelID, since)
	if err != nil {
		return n, err
	}
	if err := s.setWatermark(ctx, channelID, newest); err != nil {
		return n, err
	}
	if n > 0 {
		s.afterMessages(ctx, channelID, 0)
	}
	return n, nil
}

// watermark is the stored backfill checkpoint, zero when there is none.
func (s *Syncer) watermark(ctx context.Context, channelID string) (time.Time, error) {
	v, err := s.db.Checkpoint(ctx, store.BackfillKey(channelID))
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		s.logger.Warn("ignoring malformed backfill checkpoint", zap.String("channel_id", channelID), zap.String("value", v))
		return time.Time{}, nil
	}
	return t, nil
}

func (s *Syncer) setWatermark(ctx context.Context, channelID string, t time.Time) error {
	if t.IsZero() {
		return nil
	}
	return s.db.SetCheckpoint(ctx, store.BackfillKey(channelID), t.UTC().Format(time.RFC3339Nano))
}

// historyCursor is the stored oldest mirrored message; ok is false when
// the channel has no mirrored history yet.
func (s *Syncer) historyCursor(ctx context.Context, channelID string) (cur remote.Cursor, ok bool, err error) {
	v, err := s.db.Checkpoint(ctx, store.HistoryKey(channelID))
	if err != nil || v == "" {
		return remote.Cursor{}, false, err
	}
	at, id, _ := strings.Cut(v, " ")
	t, perr := time.Parse(time.RFC3339Nano, at)
	if perr != nil || id == "" {
		s.logger.Warn("ignoring malformed history checkpoint", zap.String("channel_id", channelID), zap.String("value", v))
		return remote.Cursor{}, false, nil
	}
	return remote.Cursor{CreatedAt: t, ID: id}, true, nil
}

func (s *Syncer) setHistoryCursor(ctx context.Context, channelID string, m remote.Message) error {
	return s.db.SetCheckpoint(ctx, store.HistoryKey(channelID), m.CreatedAt.UTC().Format(time.RFC3339Nano)+" "+m.ID)
}

// backfillNewest mirrors the newest page of a channel. The page is
// contiguous with the head of the history, so it seeds both watermarks.
func (s *Syncer) backfillNewest(ctx context.Context, channelID string) (int, error) {
	page, err := s.remote.PageMessages(ctx, channelID, remote.Cursor{}, s.opts.MessagePage)
	if err != nil {
		return 0, fmt.Errorf("backfill %s: %w", channelID, err)
	}
	if err := s.db.UpsertMessages(ctx, remote.ToStoreMessages(page)); err != nil {
		return 0, err
	}
	if len(page) == 0 {
		return 0, nil
	}
	if err := s.setWatermark(ctx, channelID, page[0].CreatedAt); err != nil {
		return len(page), err
	}
	if _, ok, err := s.historyCursor(ctx, channelID); err != nil || ok {
		return len(page), err
	}
	return len(page), s.setHistoryCursor(ctx, channelID, page[len(page)-1])
}

// backfillSince pages forward from since. The lower bound is inclusive so
// messages sharing the watermark's timestamp are not lost; re-applying
// them is idempotent. A full page that does not move the watermark is
// asked for again with a larger limit.
func (s *Syncer) backfillSince(ctx context.Context, channelID string, since time.Time) (int, time.Time, error) {
	var n int
	newest, limit := since, s.opts.MessagePage
	for {
		page, err := s.remote.FetchMessages(ctx, channelID, newest, limit)
		if err != nil {
			return n, newest, fmt.Errorf("backfill %s: %w", channelID, err)
		}
		if err := s.db.UpsertMessages(ctx, remote.ToStoreMessages(page)); err != nil {
			return n, newest, err
		}
		n += len(page)
		if len(page) == 0 {
			return n, newest, nil
		}
		last := page[len(page)-1].CreatedAt
		switch {
		case len(page) < limit:
			return n, laterOf(newest, last), nil
		case !last.After(newest):
			if limit *= 2; limit > maxStuckPage {
				s.logger.Warn("backfill stuck on one timestamp", zap.String("channel_id", channelID), zap.Time("at", newest))
				return n, newest, nil
			}
		default:
			newest, limit = last, s.opts.MessagePage
		}
	}
}

// LoadOlderMessages fetches up to limit messages strictly older than the
// oldest message of the mirrored history, so repeated calls walk back
// without gaps or repeats. Without mirrored history it starts from the
// newest page. It returns the number fetched; zero means the start of the
// history was reached.
func (s *Syncer) LoadOlderMessages(ctx context.Context, channelID string, limit int) (int, error) {
	if channelID == "" {
		return 0, errors.New("load older: channel id is required")
	}
	if limit <= 0 {
		limit = s.opts.MessagePage
	}
	cursor, ok, err := s.historyCursor(ctx, channelID)
	if err != nil {
		return 0, err
	}
	page, err := s.remote.PageMessages(ctx, channelID, cursor, limit)
	if err != nil {
		return 0, fmt.Errorf("load older %s: %w", channelID, err)
	}
	if err := s.db.UpsertMessages(ctx, remote.ToStoreMessages(page)); err != nil {
		return 0, err
	}
	if len(page) == 0 {
		return 0, nil
	}
	if !ok {
		// A first page from the head also starts the backfill watermark.
		w, err := s.watermark(ctx, channelID)
		if err != nil {
			return len(page), err
		}
		if w.IsZero() {
			if err := s.setWatermark(ctx, channelID, page[0].CreatedAt); err != nil {
				return len(page), err
			}
		}
	}
	if err := s.setHistoryCursor(ctx, channelID, page[len(page)-1]); err != nil {
		return len(page), err
	}
	s.afterMessages(ctx, channelID, len(page))
	return len(page), nil
}

// OpenChannel shows channelID from the mirror at once and then catches it
// up with the remote. Backfill failures are logged; the local copy stays.
func (s *Syncer) OpenChannel(ctx context.Context, channelID string) ([]store.Message, error) {
	if channelID == "" {
		return nil, errors.New("open channel: channel id is required")
	}
	msgs, err := s.db.RecentMessages(ctx, channelID, s.opts.MessagePage)
	if err != nil {
		return nil, err
	}
	s.view.OpenChannel(channelID, msgs)
	s.bus.Emit(bus.KindMessagesChanged, bus.ChannelRef{ChannelID: channelID})

	if _, err := s.BackfillMessages(ctx, channelID, time.Time{}); err != nil {
		s.logger.Warn("backfill failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	return s.view.Messages(), nil
}

// afterMessages refreshes the open channel and tells observers.
func (s *Syncer) afterMessages(ctx context.Context, channelID string, extra int) {
	if _, err := s.view.Reload(ctx, s.db, channelID, extra); err != nil {
		s.logger.Warn("reload view failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	s.bus.Emit(bus.KindMessagesChanged, bus.ChannelRef{ChannelID: channelID})
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
