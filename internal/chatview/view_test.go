package chatview

import (
	"context"
	"testing"
	"time"

	"github.com/aushilfapp/chatsync/internal/store"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func ids(cs []store.Channel) []string {
	out := make([]string, len(cs))
	for i := range cs {
		out[i] = cs[i].ID
	}
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestMergeKeepsViewOnlyChannel: a channel created by the init flow stays
// visible while the remote list lags behind.
func TestMergeKeepsViewOnlyChannel(t *testing.T) {
	v := New()
	v.UpsertChannel(store.Channel{ID: "x", UpdatedAt: t0.Add(time.Hour)})

	got := v.MergeChannels([]store.Channel{
		{ID: "a", UpdatedAt: t0, LastMessageAt: t0},
	})
	if !sameIDs(ids(got), []string{"a", "x"}) {
		t.Errorf("merged = %v, want [a x]", ids(got))
	}

	// A second merge with an empty fresh list still keeps both.
	if got := v.MergeChannels(nil); len(got) != 2 {
		t.Errorf("merge with nothing = %v, want both kept", ids(got))
	}
}

func TestMergePrefersNewerCopy(t *testing.T) {
	v := New()
	v.MergeChannels([]store.Channel{{ID: "a", UpdatedAt: t0, LastMessageAt: t0.Add(time.Minute), LastMessageText: "view"}})

	stale := []store.Channel{{ID: "a", UpdatedAt: t0, LastMessageAt: t0, LastMessageText: "stale"}}
	if got := v.MergeChannels(stale); got[0].LastMessageText != "view" {
		t.Errorf("stale fresh row replaced newer view row: %q", got[0].LastMessageText)
	}

	fresh := []store.Channel{{ID: "a", UpdatedAt: t0, LastMessageAt: t0.Add(time.Hour), LastMessageText: "fresh"}}
	if got := v.MergeChannels(fresh); got[0].LastMessageText != "fresh" {
		t.Errorf("newer fresh row ignored: %q", got[0].LastMessageText)
	}

	same := []store.Channel{{ID: "a", UpdatedAt: t0, LastMessageAt: t0.Add(time.Hour), LastMessageText: "fresh", CustomCategoryChosen: "garten"}}
	if got := v.MergeChannels(same); got[0].CustomCategoryChosen != "garten" {
		t.Error("equally recent fresh row should win")
	}
}

func TestMergeSortsNullsLast(t *testing.T) {
	v := New()
	got := v.MergeChannels([]store.Channel{
		{ID: "empty-old", UpdatedAt: t0},
		{ID: "msg-old", UpdatedAt: t0, LastMessageAt: t0},
		{ID: "empty-new", UpdatedAt: t0.Add(time.Hour)},
		{ID: "msg-new", UpdatedAt: t0, LastMessageAt: t0.Add(time.Minute)},
	})
	want := []string{"msg-new", "msg-old", "empty-new", "empty-old"}
	if !sameIDs(ids(got), want) {
		t.Errorf("order = %v, want %v", ids(got), want)
	}
}

func TestChannelsReturnsCopy(t *testing.T) {
	v := New()
	v.UpsertChannel(store.Channel{ID: "a"})
	cs := v.Channels()
	cs[0].ID = "mutated"
	if v.Channels()[0].ID != "a" {
		t.Error("Channels() exposed internal slice")
	}
}

func TestAppendMessage(t *testing.T) {
	v := New()
	if v.AppendMessage(store.Message{ID: "m1", ChannelID: "c1"}) {
		t.Fatal("append without an open channel should be refused")
	}

	v.OpenChannel("c1", []store.Message{
		{ID: "m1", ChannelID: "c1", CreatedAt: t0, SyncState: store.Synced},
		{ClientID: "cl-1", ChannelID: "c1", CreatedAt: t0.Add(time.Minute), SyncState: store.Pending},
	})

	if v.AppendMessage(store.Message{ID: "m1", ChannelID: "c1", CreatedAt: t0, SyncState: store.Synced}) {
		t.Error("duplicate id appended")
	}
	if v.AppendMessage(store.Message{ID: "m9", ChannelID: "other", CreatedAt: t0}) {
		t.Error("message of another channel appended")
	}

	// Server copy of our pending message promotes it.
	if v.AppendMessage(store.Message{ID: "m2", ClientID: "cl-1", ChannelID: "c1", CreatedAt: t0.Add(time.Minute), SyncState: store.Synced}) {
		t.Error("server copy of a pending message appended as new")
	}
	msgs := v.Messages()
	if len(msgs) != 2 || msgs[1].ID != "m2" || msgs[1].SyncState != store.Synced {
		t.Errorf("messages = %+v, want pending promoted to m2", msgs)
	}

	// Out-of-order arrival lands in (created_at, id) position.
	if !v.AppendMessage(store.Message{ID: "m0", ChannelID: "c1", CreatedAt: t0.Add(-time.Minute), SyncState: store.Synced}) {
		t.Fatal("new message refused")
	}
	if got := v.Messages()[0].ID; got != "m0" {
		t.Errorf("first message = %s, want m0", got)
	}
}

func TestReplaceMessagesOnlyWhenOpen(t *testing.T) {
	v := New()
	v.OpenChannel("c1", nil)
	if v.ReplaceMessages("c2", []store.Message{{ID: "x"}}) {
		t.Error("replaced messages of a channel that is not open")
	}
	if !v.ReplaceMessages("c1", []store.Message{{ID: "x", ChannelID: "c1"}}) {
		t.Error("ReplaceMessages on open channel refused")
	}
	v.CloseChannel()
	if v.OpenChannelID() != "" || len(v.Messages()) != 0 {
		t.Error("CloseChannel left state behind")
	}
}

type fakeReader struct {
	limit int
	msgs  []store.Message
}

func (f *fakeReader) RecentMessages(_ context.Context, _ string, limit int) ([]store.Message, error) {
	f.limit = limit
	return f.msgs, nil
}

func TestReload(t *testing.T) {
	v := New()
	r := &fakeReader{msgs: []store.Message{{ID: "m1", ChannelID: "c1"}}}

	changed, err := v.Reload(context.Background(), r, "c1", 0)
	if err != nil || changed {
		t.Fatalf("Reload() on closed view = %v, %v", changed, err)
	}

	v.OpenChannel("c1", nil)
	changed, err = v.Reload(context.Background(), r, "c1", 60)
	if err != nil || !changed {
		t.Fatalf("Reload() = %v, %v; want changed", changed, err)
	}
	if r.limit != 60 {
		t.Errorf("read limit = %d, want 60", r.limit)
	}
	if len(v.Messages()) != 1 {
		t.Errorf("messages = %d, want 1", len(v.Messages()))
	}
}
