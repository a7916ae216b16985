package chansync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/store"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeRemote struct {
	mu        sync.Mutex
	channels  []remote.Channel
	messages  map[string][]remote.Message
	fetches   int
	block     chan struct{} // when set, FetchChannelPage waits on it
	started   chan struct{}
	failFetch error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{messages: make(map[string][]remote.Message)}
}

func (f *fakeRemote) FetchChannelPage(ctx context.Context, limit int) ([]remote.Channel, error) {
	f.mu.Lock()
	f.fetches++
	block, started, fail := f.block, f.started, f.failFetch
	out := slices.Clone(f.channels)
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	if fail != nil {
		return nil, fail
	}
	return out, nil
}

func (f *fakeRemote) addMessage(m remote.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append(f.messages[m.ChannelID], m)
	slices.SortFunc(msgs, func(a, b remote.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	f.messages[m.ChannelID] = msgs
}

func (f *fakeRemote) FetchMessages(ctx context.Context, channelID string, since time.Time, limit int) ([]remote.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.Message
	for _, m := range f.messages[channelID] {
		if !m.CreatedAt.Before(since) && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRemote) PageMessages(ctx context.Context, channelID string, before remote.Cursor, limit int) ([]remote.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[channelID]
	var out []remote.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		m := msgs[i]
		if !before.CreatedAt.IsZero() {
			older := m.CreatedAt.Before(before.CreatedAt) ||
				(before.ID != "" && m.CreatedAt.Equal(before.CreatedAt) && m.ID < before.ID)
			if !older {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	db     *store.DB
	remote *fakeRemote
	view   *chatview.View
	bus    *bus.Bus
	clock  *clock
	syncer *Syncer
}

func newFixture(t *testing.T, messagePage int) *fixture {
	t.Helper()
	f := &fixture{
		db:     testDB(t),
		remote: newFakeRemote(),
		view:   chatview.New(),
		bus:    bus.New(),
		clock:  &clock{now: t0},
	}
	f.syncer = New(f.db, f.remote, f.view, &identity.Static{ID: "me", Token: "tok"}, f.bus, nil, Options{
		Cooldown:    5 * time.Second,
		MessagePage: messagePage,
		Now:         f.clock.Now,
	})
	return f
}

func remoteChannel(id string, last *time.Time) remote.Channel {
	return remote.Channel{
		ID:            id,
		CustomType:    "1on1",
		UpdatedAt:     t0,
		LastMessageAt: last,
		Members: []remote.Member{
			{ChannelID: id, UserID: "me", Role: "member", JoinedAt: t0},
			{ChannelID: id, UserID: "you", Role: "member", JoinedAt: t0},
		},
	}
}

func ptr[T any](v T) *T { return &v }

func TestTriggerDropsWithinCooldown(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	if !f.syncer.Trigger(ctx) {
		t.Fatal("first trigger should run")
	}
	f.clock.Advance(2 * time.Second)
	if f.syncer.Trigger(ctx) {
		t.Error("trigger inside the cooldown should be dropped")
	}
	if f.remote.fetches != 1 {
		t.Errorf("fetches = %d, want 1", f.remote.fetches)
	}

	f.clock.Advance(5 * time.Second)
	if !f.syncer.Trigger(ctx) {
		t.Error("trigger after the cooldown should run")
	}
	if f.remote.fetches != 2 {
		t.Errorf("fetches = %d, want 2", f.remote.fetches)
	}
}

func TestTriggerDropsWhileRunning(t *testing.T) {
	f := newFixture(t, 0)
	f.remote.block = make(chan struct{})
	f.remote.started = make(chan struct{})
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- f.syncer.Trigger(ctx) }()
	<-f.remote.started

	// Past the cooldown, but the first sync is still in flight.
	f.clock.Advance(time.Minute)
	if f.syncer.Trigger(ctx) {
		t.Error("second trigger should be dropped while the first runs")
	}
	close(f.remote.block)
	if !<-done {
		t.Error("first trigger should report a run")
	}
	if f.remote.fetches != 1 {
		t.Errorf("fetches = %d, want 1", f.remote.fetches)
	}
}

func TestTriggerSwallowsErrors(t *testing.T) {
	f := newFixture(t, 0)
	f.remote.failFetch = errors.New("network down")

	if !f.syncer.Trigger(context.Background()) {
		t.Fatal("failed sync still counts as a run")
	}
	f.remote.failFetch = nil
	f.clock.Advance(6 * time.Second)
	if !f.syncer.Trigger(context.Background()) {
		t.Error("a failed run must not wedge the guard")
	}
}

func TestSyncPreservesChosenCategory(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.remote.channels = []remote.Channel{remoteChannel("c1", nil)}
	if _, err := f.syncer.SyncChannelsOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.db.SetChosenCategory(ctx, "c1", "garten", t0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		chosen string
	}{
		{"field missing", ""},
		{"unknown category", "raumfahrt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := remoteChannel("c1", nil)
			c.CustomCategoryChosen = tt.chosen
			f.remote.channels = []remote.Channel{c}
			if _, err := f.syncer.SyncChannelsOnce(ctx); err != nil {
				t.Fatal(err)
			}
			got, err := f.db.GetChannel(ctx, "c1")
			if err != nil {
				t.Fatal(err)
			}
			if got.CustomCategoryChosen != "garten" {
				t.Errorf("chosen = %q, want garten", got.CustomCategoryChosen)
			}
		})
	}
}

func TestSyncKeepsViewOnlyChannel(t *testing.T) {
	f := newFixture(t, 0)
	f.view.UpsertChannel(store.Channel{ID: "fresh", UpdatedAt: t0.Add(time.Hour)})
	f.remote.channels = []remote.Channel{remoteChannel("c1", nil)}

	merged, err := f.syncer.SyncChannelsOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(merged))
	for i, c := range merged {
		ids[i] = c.ID
	}
	if !slices.Contains(ids, "fresh") || !slices.Contains(ids, "c1") {
		t.Errorf("merged = %v, want both fresh and c1", ids)
	}
}

func TestSyncOrdersNullsLast(t *testing.T) {
	f := newFixture(t, 0)
	f.remote.channels = []remote.Channel{
		remoteChannel("a", ptr(t0.Add(time.Minute))),
		remoteChannel("c2", nil),
		remoteChannel("b", ptr(t0.Add(time.Hour))),
	}
	merged, err := f.syncer.SyncChannelsOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range merged {
		ids = append(ids, c.ID)
	}
	if want := []string{"b", "a", "c2"}; !slices.Equal(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestSyncEmitsChannelsChanged(t *testing.T) {
	f := newFixture(t, 0)
	events, unsub := f.bus.Subscribe("chat.", 4)
	defer unsub()

	if _, err := f.syncer.SyncChannelsOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-events:
		if evt.Kind != bus.KindChannelsChanged {
			t.Errorf("kind = %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no channels_changed event")
	}
}

func TestSyncRequiresSession(t *testing.T) {
	f := newFixture(t, 0)
	f.syncer.id = &identity.Static{ID: "me"}
	if _, err := f.syncer.SyncChannelsOnce(context.Background()); !errors.Is(err, remote.ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
	if f.remote.fetches != 0 {
		t.Error("no remote call expected without a session")
	}
}

// seedHistory puts n messages on the remote; pairs share a timestamp.
func seedHistory(f *fixture, channelID string, n int) {
	for i := range n {
		f.remote.addMessage(remote.Message{
			ID:        fmt.Sprintf("m%02d", i),
			ChannelID: channelID,
			SenderID:  "you",
			Body:      fmt.Sprintf("msg %d", i),
			CreatedAt: t0.Add(time.Duration(i/2) * time.Minute),
		})
	}
}

func TestLoadOlderWalksHistoryWithoutGaps(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.remote.channels = []remote.Channel{remoteChannel("c1", nil)}
	if _, err := f.syncer.SyncChannelsOnce(ctx); err != nil {
		t.Fatal(err)
	}
	seedHistory(f, "c1", 8)

	msgs, err := f.syncer.OpenChannel(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("opened with %d messages, want newest 3", len(msgs))
	}

	for range 10 {
		n, err := f.syncer.LoadOlderMessages(ctx, "c1", 3)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
	}

	all, err := f.db.ListMessages(ctx, "c1", store.Ascending, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 8 {
		t.Fatalf("got %d messages, want 8", len(all))
	}
	for i, m := range all {
		if want := fmt.Sprintf("m%02d", i); m.ID != want {
			t.Errorf("position %d = %s, want %s", i, m.ID, want)
		}
	}

	shown := f.view.Messages()
	if len(shown) != 8 {
		t.Errorf("view shows %d messages, want 8", len(shown))
	}
}

func TestBackfillCatchesUp(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	seedHistory(f, "c1", 2)

	n, err := f.syncer.BackfillMessages(ctx, "c1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("initial backfill applied %d, want 2", n)
	}

	// Five more arrive while offline, spanning several pages.
	for i := 2; i < 7; i++ {
		f.remote.addMessage(remote.Message{
			ID:        fmt.Sprintf("m%02d", i),
			ChannelID: "c1",
			SenderID:  "you",
			CreatedAt: t0.Add(time.Duration(i) * time.Hour),
		})
	}
	if _, err := f.syncer.BackfillMessages(ctx, "c1", time.Time{}); err != nil {
		t.Fatal(err)
	}
	all, err := f.db.ListMessages(ctx, "c1", store.Ascending, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 7 {
		t.Errorf("got %d messages, want 7", len(all))
	}

	cp, err := f.db.Checkpoint(ctx, store.BackfillKey("c1"))
	if err != nil {
		t.Fatal(err)
	}
	if want := t0.Add(6 * time.Hour).Format(time.RFC3339Nano); cp != want {
		t.Errorf("checkpoint = %q, want %q", cp, want)
	}
}

func TestBackfillPagesPastSharedTimestamp(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	// A full page on one timestamp does not move an inclusive watermark.
	for i := range 3 {
		f.remote.addMessage(remote.Message{ID: fmt.Sprintf("s%d", i), ChannelID: "c1", CreatedAt: t0})
	}
	f.remote.addMessage(remote.Message{ID: "later", ChannelID: "c1", CreatedAt: t0.Add(time.Minute)})

	if _, err := f.syncer.BackfillMessages(ctx, "c1", t0); err != nil {
		t.Fatal(err)
	}
	all, err := f.db.ListMessages(ctx, "c1", store.Ascending, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("got %d messages, want 4", len(all))
	}
}

// Messages that arrived by realtime around a disconnect must not hide the
// message missed in between from either backfill or load-older.
func TestRealtimeMessagesDoNotMaskGaps(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		f.remote.addMessage(remote.Message{
			ID:        fmt.Sprintf("m%d", i),
			ChannelID: "c1",
			SenderID:  "you",
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		})
	}
	// m1 and m3 came in live; m2 was sent while the connection was down.
	for _, i := range []int{0, 2} {
		m := f.remote.messages["c1"][i].ToStore()
		if err := f.db.ApplyIncomingMessage(ctx, &m, nil); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.syncer.OpenChannel(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		n, err := f.syncer.LoadOlderMessages(ctx, "c1", 1)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
	}
	if m, _ := f.db.GetMessage(ctx, "m2"); m == nil {
		t.Fatal("m2 missing after open and load older")
	}

	// Same again at the head: m5 arrives live, m4 was missed.
	for i := 4; i <= 5; i++ {
		f.remote.addMessage(remote.Message{
			ID:        fmt.Sprintf("m%d", i),
			ChannelID: "c1",
			SenderID:  "you",
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		})
	}
	m5 := f.remote.messages["c1"][4].ToStore()
	if err := f.db.ApplyIncomingMessage(ctx, &m5, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.syncer.BackfillMessages(ctx, "c1", time.Time{}); err != nil {
		t.Fatal(err)
	}
	all, err := f.db.ListMessages(ctx, "c1", store.Ascending, 100)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range all {
		ids = append(ids, m.ID)
	}
	if want := []string{"m1", "m2", "m3", "m4", "m5"}; !slices.Equal(ids, want) {
		t.Errorf("mirrored = %v, want %v", ids, want)
	}
}

func TestBackfillRequiresChannel(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.syncer.BackfillMessages(context.Background(), "", time.Time{}); err == nil {
		t.Error("expected error for empty channel id")
	}
	if _, err := f.syncer.LoadOlderMessages(context.Background(), "", 0); err == nil {
		t.Error("expected error for empty channel id")
	}
}
