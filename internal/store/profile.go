package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertProfile caches a partner's display data.
func (tx *Tx) UpsertProfile(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return errors.New("upsert profile: user id is required")
	}
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO profiles_local (user_id, vorname, nachname, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			vorname = excluded.vorname,
			nachname = excluded.nachname,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`,
		p.UserID, p.Vorname, p.Nachname, p.AvatarURL, microsNotNull(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

// GetProfile returns the cached profile of userID, or nil.
func (db *DB) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var (
		p       Profile
		updated sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT user_id, vorname, nachname, avatar_url, updated_at
		FROM profiles_local WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Vorname, &p.Nachname, &p.AvatarURL, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	p.UpdatedAt = fromMicros(updated)
	return &p, nil
}

// CreateChannelLocal mirrors a freshly ensured 1:1 channel: the channel
// row, exactly two memberships and the partner's profile snapshot are
// written together. Reports false without writing when the channel is
// already mirrored.
func (db *DB) CreateChannelLocal(ctx context.Context, c *Channel, members []Member, partner *Profile) (bool, error) {
	if len(members) != 2 || members[0].UserID == members[1].UserID {
		return false, fmt.Errorf("channel %s: a 1:1 channel needs two distinct members", c.ID)
	}
	var created bool
	err := db.Tx(ctx, func(tx *Tx) error {
		existing, err := tx.GetChannel(ctx, c.ID)
		if err != nil || existing != nil {
			return err
		}
		if err := tx.UpsertChannel(ctx, c); err != nil {
			return err
		}
		for i := range members {
			members[i].ChannelID = c.ID
		}
		if err := tx.UpsertMembers(ctx, members); err != nil {
			return err
		}
		if partner != nil {
			if err := tx.UpsertProfile(ctx, partner); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	return created, err
}
