package remote

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aushilfapp/chatsync/internal/config"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/google/uuid"
)

// liveClients connects to CHATSYNC_TEST_DATABASE_URL, migrates it and
// returns clients for two fresh users. Skips without a database.
func liveClients(t *testing.T) (a, b *Client) {
	t.Helper()
	url := os.Getenv("CHATSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHATSYNC_TEST_DATABASE_URL not set")
	}
	if _, err := Migrate(url); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	ctx := context.Background()
	pool, err := Connect(ctx, config.Remote{DatabaseURL: url, MaxConns: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	ua := &identity.Static{ID: "u-" + uuid.NewString(), Token: "t"}
	ub := &identity.Static{ID: "u-" + uuid.NewString(), Token: "t"}
	return New(pool, ua, nil), New(pool, ub, nil)
}

func TestLiveEnsureChannelIdempotent(t *testing.T) {
	a, b := liveClients(t)
	ctx := context.Background()

	id1, err := a.Ensure1on1Channel(ctx, b.id.UserID())
	if err != nil {
		t.Fatal(err)
	}
	id2, err := a.Ensure1on1Channel(ctx, b.id.UserID())
	if err != nil {
		t.Fatal(err)
	}
	id3, err := b.Ensure1on1Channel(ctx, a.id.UserID())
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 || id1 != id3 {
		t.Errorf("channel ids = %s, %s, %s; want one channel per pair", id1, id2, id3)
	}

	chans, err := b.FetchChannelPage(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chans) != 1 || len(chans[0].Members) != 2 {
		t.Errorf("partner sees %+v, want one channel with two members", chans)
	}
}

func TestLiveSendIdempotentAndPaging(t *testing.T) {
	a, b := liveClients(t)
	ctx := context.Background()

	ch, err := a.Ensure1on1Channel(ctx, b.id.UserID())
	if err != nil {
		t.Fatal(err)
	}

	first, firstAt, err := a.SendMessage(ctx, ch, "Hallo!", "cl-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	again, againAt, err := a.SendMessage(ctx, ch, "Hallo!", "cl-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if first != again || !firstAt.Equal(againAt) {
		t.Fatalf("retry returned %s@%v, first send %s@%v", again, againAt, first, firstAt)
	}
	for i := range 4 {
		if _, _, err := b.SendMessage(ctx, ch, "msg", uuid.NewString(), nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	all, err := a.FetchMessages(ctx, ch, time.Time{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d messages, want 5", len(all))
	}
	if all[0].ID != first || !all[0].CreatedAt.Equal(firstAt) {
		t.Errorf("first fetched = %s@%v, want the send result %s@%v", all[0].ID, all[0].CreatedAt, first, firstAt)
	}

	seen := map[string]bool{}
	var cursor Cursor
	for {
		page, err := a.PageMessages(ctx, ch, cursor, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			if seen[m.ID] {
				t.Fatalf("message %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		last := page[len(page)-1]
		cursor = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	if len(seen) != 5 {
		t.Errorf("paged %d messages, want 5", len(seen))
	}

	if _, err := a.UpdateChannelCategory(ctx, ch, "garten"); err != nil {
		t.Fatal(err)
	}
	chans, _ := a.FetchChannelPage(ctx, 10)
	if len(chans) != 1 || chans[0].CustomCategoryChosen != "garten" {
		t.Errorf("category not stored: %+v", chans)
	}
}
