package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/category"
	"github.com/aushilfapp/chatsync/internal/chansync"
	"github.com/aushilfapp/chatsync/internal/chatinit"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/outbox"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/status"
	"github.com/aushilfapp/chatsync/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
)

// fakeRemote stands in for the remote store behind every service.
type fakeRemote struct {
	mu       sync.Mutex
	channels []remote.Channel
	sendErr  error
	readErr  error
	sent     []string
}

func (f *fakeRemote) FetchChannelPage(context.Context, int) ([]remote.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Channel(nil), f.channels...), nil
}

func (f *fakeRemote) FetchMessages(context.Context, string, time.Time, int) ([]remote.Message, error) {
	return nil, nil
}

func (f *fakeRemote) PageMessages(context.Context, string, remote.Cursor, int) ([]remote.Message, error) {
	return nil, nil
}

func (f *fakeRemote) SendMessage(_ context.Context, _, _, clientID string, _ json.RawMessage) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", time.Time{}, f.sendErr
	}
	f.sent = append(f.sent, clientID)
	return "srv-" + clientID, time.Time{}, nil
}

func (f *fakeRemote) MarkRead(context.Context, string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return time.Time{}, f.readErr
	}
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), nil
}

func (f *fakeRemote) fail(send, read error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr, f.readErr = send, read
}

func (f *fakeRemote) UpdateChannelCategory(_ context.Context, channelID, cat string) (*remote.CategoryUpdate, error) {
	if !category.Valid(cat) {
		return nil, category.ErrInvalid
	}
	return &remote.CategoryUpdate{ID: channelID, Category: cat, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeRemote) Ensure1on1Channel(_ context.Context, partnerID string) (string, error) {
	return "ch-me-" + partnerID, nil
}

func (f *fakeRemote) SetChannelMeta(context.Context, string, remote.ChannelMetaUpdate) error {
	return nil
}

type harness struct {
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	remote  *fakeRemote
	session *SessionClient
	sync    *SyncClient
	chat    *ChatClient
	message *MessageClient
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// Use a short path to stay under the Unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "chatsync-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{db: db, bus: bus.New(), remote: &fakeRemote{}}
	h.machine = status.NewMachine(h.bus)
	id := &identity.Static{ID: "me", Token: "tok"}
	view := chatview.New()

	syncer := chansync.New(db, h.remote, view, id, h.bus, nil, chansync.Options{Cooldown: time.Hour})
	dispatcher := outbox.NewDispatcher(db, h.remote, h.machine, view, syncer, id.UserID, h.bus, nil, outbox.Options{})
	starter := chatinit.New(db, h.remote, dispatcher, view, id, h.bus, nil)

	srv := grpc.NewServer()
	Register(srv,
		NewSessionService("test", h.machine, id, db, view, nil),
		NewSyncService(syncer, dispatcher, id),
		NewChatService(db, view, syncer, starter, h.remote, id, h.bus),
		NewMessageService(db, dispatcher),
	)
	socketPath := filepath.Join(tmpDir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	h.session = NewSessionClient(conn)
	h.sync = NewSyncClient(conn)
	h.chat = NewChatClient(conn)
	h.message = NewMessageClient(conn)
	return h
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if got := grpcstatus.Code(err); got != code {
		t.Errorf("code = %v (%v), want %v", got, err, code)
	}
}

func TestSessionStatusAndAppState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.session.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if resp.Profile != "test" || resp.UserID != "me" || !resp.SignedIn {
		t.Errorf("status = %+v", resp)
	}
	if resp.AppState != string(status.Booting) {
		t.Errorf("app state = %s, want BOOTING", resp.AppState)
	}

	resp, err = h.session.SetAppState(ctx, &SetAppStateRequest{State: "foreground"})
	if err != nil {
		t.Fatalf("SetAppState error = %v", err)
	}
	if resp.AppState != string(status.Foreground) {
		t.Errorf("app state = %s, want FOREGROUND", resp.AppState)
	}

	_, err = h.session.SetAppState(ctx, &SetAppStateRequest{State: "sleepy"})
	wantCode(t, err, codes.InvalidArgument)
}

func TestSendFlushRetryDiscard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sent, err := h.message.SendMessage(ctx, &SendMessageRequest{ChannelID: "c1", Body: "Hallo"})
	if err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}
	list, err := h.message.ListMessages(ctx, &ListMessagesRequest{ChannelID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Messages) != 1 || list.Messages[0].State != string(store.Pending) || list.Messages[0].ClientID != sent.ClientID {
		t.Fatalf("messages = %+v, want one pending", list.Messages)
	}

	h.remote.fail(errors.New("offline"), nil)
	flushed, err := h.sync.FlushOutbox(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if flushed.Sent != 0 || flushed.Failed != 1 {
		t.Errorf("flush = %+v, want one failure", flushed)
	}

	if err := h.message.RetryMessage(ctx, &ClientIDRequest{ClientID: sent.ClientID}); err != nil {
		t.Fatalf("RetryMessage error = %v", err)
	}
	h.remote.fail(nil, nil)
	flushed, err = h.sync.FlushOutbox(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if flushed.Sent != 1 {
		t.Errorf("flush = %+v, want one sent", flushed)
	}
	list, err = h.message.ListMessages(ctx, &ListMessagesRequest{ChannelID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Messages) != 1 || list.Messages[0].ID != "srv-"+sent.ClientID || list.Messages[0].State != string(store.Synced) {
		t.Errorf("messages = %+v, want one synced", list.Messages)
	}

	err = h.message.RetryMessage(ctx, &ClientIDRequest{ClientID: sent.ClientID})
	wantCode(t, err, codes.NotFound)

	second, err := h.message.SendMessage(ctx, &SendMessageRequest{ChannelID: "c1", Body: "noch da?"})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.message.DiscardMessage(ctx, &ClientIDRequest{ClientID: second.ClientID}); err != nil {
		t.Fatalf("DiscardMessage error = %v", err)
	}
	if n, _ := h.db.OutboxLen(ctx); n != 0 {
		t.Errorf("outbox len = %d, want 0", n)
	}
}

func TestSendRequiresFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.message.SendMessage(ctx, &SendMessageRequest{Body: "x"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.message.SendMessage(ctx, &SendMessageRequest{ChannelID: "c1"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.chat.OpenChannel(ctx, &ChannelRequest{})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.sync.LoadOlder(ctx, &LoadOlderRequest{})
	wantCode(t, err, codes.InvalidArgument)
}

func TestInitializeChatListsPartner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := &InitializeChatRequest{
		PostID:   "post-1",
		AuthorID: "anna",
		Category: "garten",
		Vorname:  "Anna",
		Nachname: "Schmidt",
	}
	res, err := h.chat.InitializeChat(ctx, req)
	if err != nil {
		t.Fatalf("InitializeChat error = %v", err)
	}
	if !res.Created || !res.GreetingEnqueued || res.ChannelID != "ch-me-anna" {
		t.Errorf("result = %+v", res)
	}
	again, err := h.chat.InitializeChat(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if again.Created || again.GreetingEnqueued {
		t.Errorf("second result = %+v, want no new channel or greeting", again)
	}

	list, err := h.chat.ListChannels(ctx, &ListChannelsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Channels) != 1 {
		t.Fatalf("got %d channels, want 1", len(list.Channels))
	}
	c := list.Channels[0]
	if c.PartnerName != "Anna Schmidt" || c.DisplayCategory() != "garten" || c.LastMessageAt == nil {
		t.Errorf("channel = %+v", c)
	}

	opened, err := h.chat.OpenChannel(ctx, &ChannelRequest{ChannelID: res.ChannelID})
	if err != nil {
		t.Fatal(err)
	}
	if len(opened.Messages) != 1 || !opened.Messages[0].Initial {
		t.Errorf("opened = %+v, want the greeting", opened.Messages)
	}

	_, err = h.chat.InitializeChat(ctx, &InitializeChatRequest{PostID: "p", AuthorID: "anna", Category: "raumfahrt"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.chat.InitializeChat(ctx, &InitializeChatRequest{PostID: "p", AuthorID: "me"})
	wantCode(t, err, codes.InvalidArgument)
}

func TestSetCategoryAndMarkRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.mu.Lock()
	h.remote.channels = []remote.Channel{{
		ID:             "c1",
		CustomType:     "1on1",
		CustomCategory: "garten",
		UpdatedAt:      time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Members: []remote.Member{
			{ChannelID: "c1", UserID: "me", Role: store.RoleMember},
			{ChannelID: "c1", UserID: "you", Role: store.RoleMember},
		},
	}}
	h.remote.mu.Unlock()

	synced, err := h.sync.SyncChannels(ctx, &SyncChannelsRequest{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if !synced.Ran || synced.Channels != 1 {
		t.Errorf("sync = %+v", synced)
	}

	if _, err := h.chat.SetCategory(ctx, &SetCategoryRequest{ChannelID: "c1", Category: "umzug"}); err != nil {
		t.Fatalf("SetCategory error = %v", err)
	}
	list, err := h.chat.ListChannels(ctx, &ListChannelsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Channels) != 1 || list.Channels[0].DisplayCategory() != "umzug" {
		t.Errorf("channels = %+v, want chosen category umzug", list.Channels)
	}
	_, err = h.chat.SetCategory(ctx, &SetCategoryRequest{ChannelID: "c1", Category: "raumfahrt"})
	wantCode(t, err, codes.InvalidArgument)

	read, err := h.chat.MarkRead(ctx, &ChannelRequest{ChannelID: "c1"})
	if err != nil {
		t.Fatalf("MarkRead error = %v", err)
	}
	members, err := h.db.ListMembers(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		if m.UserID == "me" && !m.LastReadAt.Equal(read.ReadAt) {
			t.Errorf("last_read_at = %v, want %v", m.LastReadAt, read.ReadAt)
		}
	}

	h.remote.fail(nil, remote.ErrForbidden)
	_, err = h.chat.MarkRead(ctx, &ChannelRequest{ChannelID: "c1"})
	wantCode(t, err, codes.PermissionDenied)
}

func TestWatchEventsFiltersByPrefix(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := h.bus.Subscribers()
	w, err := h.chat.WatchEvents(ctx, &WatchRequest{Prefixes: []string{"message."}})
	if err != nil {
		t.Fatal(err)
	}
	for h.bus.Subscribers() == base {
		select {
		case <-ctx.Done():
			t.Fatal("watcher never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.bus.Emit(bus.KindChannelsChanged, nil)
	h.bus.Emit(bus.KindSendFailed, bus.MessageRef{ChannelID: "c1", ClientID: "k1", Err: "offline"})

	env, err := w.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind != bus.KindSendFailed || env.ChannelID != "c1" || env.ClientID != "k1" || env.Error != "offline" {
		t.Errorf("envelope = %+v", env)
	}
	if env.EventID == "" || env.OccurredAt.IsZero() {
		t.Errorf("envelope missing id or time: %+v", env)
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{category.ErrInvalid, codes.InvalidArgument},
		{chatinit.ErrOwnPost, codes.InvalidArgument},
		{store.ErrNotFound, codes.NotFound},
		{remote.ErrNotFound, codes.NotFound},
		{remote.ErrNoSession, codes.FailedPrecondition},
		{remote.ErrForbidden, codes.PermissionDenied},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{fmt.Errorf("fetch: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}), codes.Unavailable},
		{errors.New("disk full"), codes.Internal},
	}
	for _, tt := range tests {
		if got := grpcstatus.Code(toStatus("op", tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if toStatus("op", nil) != nil {
		t.Error("toStatus(nil) should be nil")
	}
}
