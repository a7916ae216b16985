package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/status"
	"github.com/aushilfapp/chatsync/internal/store"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// serverAt is the time the fake remote stamps on every accepted send.
var serverAt = t0.Add(2 * time.Second)

// mockSender records calls and returns configurable results. Like the
// remote procedure, it returns the same server id for a repeated client id.
type mockSender struct {
	mu     sync.Mutex
	calls  []sendCall
	err    error
	failOn map[string]bool
	ids    map[string]string

	rejectChannel map[string]bool
}

type sendCall struct {
	ChannelID string
	Body      string
	ClientID  string
}

func (m *mockSender) SendMessage(_ context.Context, channelID, body, clientID string, _ json.RawMessage) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{ChannelID: channelID, Body: body, ClientID: clientID})
	if m.err != nil {
		return "", time.Time{}, m.err
	}
	if m.failOn[clientID] || m.rejectChannel[channelID] {
		return "", time.Time{}, errors.New("rejected")
	}
	if m.ids == nil {
		m.ids = make(map[string]string)
	}
	id, ok := m.ids[clientID]
	if !ok {
		id = fmt.Sprintf("m-%d", 41+len(m.ids)+1)
		m.ids[clientID] = id
	}
	return id, serverAt, nil
}

func (m *mockSender) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type foreground bool

func (f foreground) IsForeground() bool { return bool(f) }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seqIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("client-%d", n)
	}
}

func newDispatcher(t *testing.T, db *store.DB, s MessageSender, state AppState, b *bus.Bus, view *chatview.View) *Dispatcher {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewDispatcher(db, s, state, view, nil, func() string { return "me" }, b, logger, Options{
		Interval: 50 * time.Millisecond,
		Now:      func() time.Time { return t0 },
		NewID:    seqIDs(),
	})
}

func TestEnqueueStagesPendingMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	view := chatview.New()
	view.OpenChannel("c1", nil)
	d := newDispatcher(t, db, &mockSender{}, foreground(true), b, view)
	ctx := context.Background()

	events, unsub := b.Subscribe("message.enqueued", 10)
	defer unsub()

	clientID, err := d.EnqueueMessage(ctx, "c1", "Hallo!", nil)
	if err != nil {
		t.Fatal(err)
	}
	if clientID != "client-1" {
		t.Errorf("client id = %q, want client-1", clientID)
	}

	m, err := db.GetMessage(ctx, clientID)
	if err != nil || m == nil {
		t.Fatalf("pending message missing: %v", err)
	}
	if m.SyncState != store.Pending || m.SenderID != "" || m.ID != "" {
		t.Errorf("message = %+v, want pending with no sender and no server id", m)
	}
	if n, _ := db.OutboxLen(ctx); n != 1 {
		t.Errorf("outbox len = %d, want 1", n)
	}
	if shown := view.Messages(); len(shown) != 1 || shown[0].ClientID != clientID {
		t.Errorf("view = %+v, want the pending message", shown)
	}

	select {
	case evt := <-events:
		ref, ok := evt.Payload.(bus.MessageRef)
		if !ok || ref.ClientID != clientID || ref.ChannelID != "c1" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.enqueued event")
	}
}

func TestEnqueueRequiresChannel(t *testing.T) {
	d := newDispatcher(t, testDB(t), &mockSender{}, foreground(true), bus.New(), chatview.New())
	if _, err := d.EnqueueMessage(context.Background(), "", "x", nil); err == nil {
		t.Error("expected error for empty channel id")
	}
}

// Offline send fails, the row stays; the next drain delivers it without
// creating a second row.
func TestUploadOfflineThenOnline(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{err: errors.New("network unreachable")}
	d := newDispatcher(t, db, mock, foreground(true), b, chatview.New())
	ctx := context.Background()

	failed, unsubFailed := b.Subscribe(bus.KindSendFailed, 10)
	defer unsubFailed()

	clientID, err := d.EnqueueMessage(ctx, "c1", "Hallo!", nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := d.UploadOutbox(ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Sent != 0 {
		t.Errorf("result = %+v, want 1 failed", res)
	}
	m, _ := db.GetMessage(ctx, clientID)
	if m.SyncState != store.Failed {
		t.Errorf("state = %s, want failed", m.SyncState)
	}
	if n, _ := db.OutboxLen(ctx); n != 1 {
		t.Errorf("outbox len = %d, want 1 after failure", n)
	}
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	mock.setErr(nil)
	res, err = d.UploadOutbox(ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 {
		t.Errorf("result = %+v, want 1 sent", res)
	}

	msgs, err := db.ListMessages(ctx, "c1", store.Ascending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d message rows, want 1", len(msgs))
	}
	got := msgs[0]
	if got.ID != "m-42" || got.SyncState != store.Synced || got.SenderID != "me" || got.ClientID != clientID {
		t.Errorf("message = %+v, want m-42 synced from me", got)
	}
	if !got.CreatedAt.Equal(serverAt) {
		t.Errorf("created_at = %v, want the server's %v", got.CreatedAt, serverAt)
	}
	if n, _ := db.OutboxLen(ctx); n != 0 {
		t.Errorf("outbox len = %d, want 0", n)
	}
}

func TestUploadRepeatedIsExactlyOnce(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	d := newDispatcher(t, db, mock, foreground(true), bus.New(), chatview.New())
	ctx := context.Background()

	for i := range 3 {
		if _, err := d.EnqueueMessage(ctx, "c1", fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatal(err)
		}
	}
	for range 4 {
		if _, err := d.UploadOutbox(ctx, "me"); err != nil {
			t.Fatal(err)
		}
	}
	if n := mock.callCount(); n != 3 {
		t.Errorf("send calls = %d, want 3", n)
	}
	msgs, err := db.ListMessages(ctx, "c1", store.Ascending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d rows, want 3", len(msgs))
	}
	for _, m := range msgs {
		if m.SyncState != store.Synced {
			t.Errorf("%s state = %s, want synced", m.ClientID, m.SyncState)
		}
	}
}

func TestUploadFailureDoesNotStopBatch(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{failOn: map[string]bool{"client-1": true}}
	d := newDispatcher(t, db, mock, foreground(true), bus.New(), chatview.New())
	ctx := context.Background()

	for _, body := range []string{"first", "second"} {
		if _, err := d.EnqueueMessage(ctx, "c1", body, nil); err != nil {
			t.Fatal(err)
		}
	}
	res, err := d.UploadOutbox(ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 sent and 1 failed", res)
	}
	if m, _ := db.GetMessage(ctx, "client-2"); m == nil || m.SyncState != store.Synced {
		t.Errorf("second message = %+v, want synced", m)
	}
}

// A full batch of messages the remote keeps rejecting must not starve a
// message that can be delivered.
func TestUploadReachesPastRejectedBatch(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{rejectChannel: map[string]bool{"blocked": true}}
	d := newDispatcher(t, db, mock, foreground(true), bus.New(), chatview.New())
	ctx := context.Background()

	for i := range d.opts.Batch {
		if _, err := d.EnqueueMessage(ctx, "blocked", fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatal(err)
		}
	}
	good, err := d.EnqueueMessage(ctx, "c1", "Hallo!", nil)
	if err != nil {
		t.Fatal(err)
	}

	for range 3 {
		if _, err := d.UploadOutbox(ctx, "me"); err != nil {
			t.Fatal(err)
		}
	}
	m, _ := db.GetMessage(ctx, good)
	if m == nil || m.SyncState != store.Synced {
		t.Fatalf("deliverable message = %+v, want synced", m)
	}
	if n, _ := db.OutboxLen(ctx); n != d.opts.Batch {
		t.Errorf("outbox len = %d, want the %d rejected entries", n, d.opts.Batch)
	}
}

func TestUploadRequiresUser(t *testing.T) {
	d := newDispatcher(t, testDB(t), &mockSender{}, foreground(true), bus.New(), chatview.New())
	if _, err := d.UploadOutbox(context.Background(), ""); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestRetryAndDiscard(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{err: errors.New("offline")}
	d := newDispatcher(t, db, mock, foreground(true), bus.New(), chatview.New())
	ctx := context.Background()

	keep, _ := d.EnqueueMessage(ctx, "c1", "keep", nil)
	drop, _ := d.EnqueueMessage(ctx, "c1", "drop", nil)
	if _, err := d.UploadOutbox(ctx, "me"); err != nil {
		t.Fatal(err)
	}

	if err := d.Retry(ctx, keep); err != nil {
		t.Fatal(err)
	}
	if m, _ := db.GetMessage(ctx, keep); m.SyncState != store.Pending {
		t.Errorf("retried state = %s, want pending", m.SyncState)
	}
	if err := d.Retry(ctx, keep); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second retry err = %v, want ErrNotFound", err)
	}

	if err := d.Discard(ctx, drop); err != nil {
		t.Fatal(err)
	}
	if m, _ := db.GetMessage(ctx, drop); m != nil {
		t.Errorf("discarded message still present: %+v", m)
	}
	if n, _ := db.OutboxLen(ctx); n != 1 {
		t.Errorf("outbox len = %d, want 1", n)
	}
}

func TestLoopRunsOnlyInForeground(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	machine := status.NewMachine(b)
	mock := &mockSender{}
	d := newDispatcher(t, db, mock, machine, b, chatview.New())
	ctx := context.Background()

	d.Start(ctx)
	defer d.Stop()

	if _, err := d.EnqueueMessage(ctx, "c1", "while booting", nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := mock.callCount(); n != 0 {
		t.Fatalf("sent %d messages before foreground, want 0", n)
	}

	acks, unsub := b.Subscribe(bus.KindSendAck, 10)
	defer unsub()
	if err := machine.Transition(status.Foreground); err != nil {
		t.Fatal(err)
	}
	select {
	case <-acks:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_ack after foreground")
	}

	if err := machine.Transition(status.Background); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := d.EnqueueMessage(ctx, "c1", "while backgrounded", nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := mock.callCount(); n != 1 {
		t.Errorf("sent %d messages, want 1 (background must not drain)", n)
	}
	if n, _ := db.OutboxLen(ctx); n != 1 {
		t.Errorf("outbox len = %d, want 1 while backgrounded", n)
	}
}
