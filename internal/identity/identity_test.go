package identity

import (
	"testing"

	"github.com/aushilfapp/chatsync/internal/config"
)

func TestHasSession(t *testing.T) {
	tests := []struct {
		cfg  config.Identity
		want bool
	}{
		{config.Identity{UserID: "u", AccessToken: "t"}, true},
		{config.Identity{UserID: "u"}, false},
		{config.Identity{AccessToken: "t"}, false},
	}
	for _, tt := range tests {
		p := FromConfig(tt.cfg)
		if got := p.HasSession(); got != tt.want {
			t.Errorf("HasSession(%+v) = %v, want %v", tt.cfg, got, tt.want)
		}
		if p.UserID() != tt.cfg.UserID {
			t.Errorf("UserID() = %q, want %q", p.UserID(), tt.cfg.UserID)
		}
	}
}
