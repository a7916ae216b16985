package remote

import (
	"regexp"
	"slices"
	"strings"
	"testing"

	"github.com/aushilfapp/chatsync/internal/category"
	"github.com/aushilfapp/chatsync/internal/remote/migrations"
)

// TestSchemaCategoryDomainMatchesEnum keeps the database CHECK in step with
// the Go category set.
func TestSchemaCategoryDomainMatchesEnum(t *testing.T) {
	data, err := migrations.FS.ReadFile("000001_chat_schema.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	domain := regexp.MustCompile(`(?s)CREATE DOMAIN chat\.category AS text\s+CHECK \(VALUE IN \((.*?)\)\);`).FindSubmatch(data)
	if domain == nil {
		t.Fatal("chat.category domain not found")
	}

	var got []string
	for _, lit := range regexp.MustCompile(`'([^']*)'`).FindAllSubmatch(domain[1], -1) {
		if v := string(lit[1]); v != "" {
			got = append(got, v)
		}
	}
	want := category.Strings()
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("schema categories = %v\nenum categories   = %v", got, want)
	}
}

func TestSchemaNotifiesDefaultChannel(t *testing.T) {
	data, err := migrations.FS.ReadFile("000001_chat_schema.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "notify_event('chat_events')"); n != 2 {
		t.Errorf("notify triggers on chat_events = %d, want 2", n)
	}
}
