// Package identity answers "who am I" for the sync engine. How the user
// signed in is somebody else's concern.
package identity

import "github.com/aushilfapp/chatsync/internal/config"

// Provider supplies the current user.
type Provider interface {
	UserID() string
	HasSession() bool
}

// Static is a Provider with a fixed identity.
type Static struct {
	ID    string
	Token string
}

// FromConfig builds a Static provider from the [identity] table.
func FromConfig(cfg config.Identity) *Static {
	return &Static{ID: cfg.UserID, Token: cfg.AccessToken}
}

// UserID returns the configured user id.
func (s *Static) UserID() string { return s.ID }

// HasSession reports whether both a user id and an access token are set.
func (s *Static) HasSession() bool { return s.ID != "" && s.Token != "" }
