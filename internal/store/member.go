package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertMembers inserts or updates memberships. last_read_at never moves
// backwards.
func (tx *Tx) UpsertMembers(ctx context.Context, members []Member) error {
	for _, m := range members {
		if m.ChannelID == "" || m.UserID == "" {
			return errors.New("membership requires channel id and user id")
		}
		role := m.Role
		if role == "" {
			role = RoleMember
		}
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO channel_members_local (channel_id, user_id, role, muted, joined_at, last_read_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(channel_id, user_id) DO UPDATE SET
				role = excluded.role,
				muted = excluded.muted,
				joined_at = CASE WHEN excluded.joined_at = 0 THEN channel_members_local.joined_at
					ELSE excluded.joined_at END,
				last_read_at = CASE
					WHEN channel_members_local.last_read_at IS NULL THEN excluded.last_read_at
					WHEN excluded.last_read_at IS NULL THEN channel_members_local.last_read_at
					ELSE MAX(channel_members_local.last_read_at, excluded.last_read_at) END`,
			m.ChannelID, m.UserID, role, m.Muted, microsNotNull(m.JoinedAt), micros(m.LastReadAt))
		if err != nil {
			return fmt.Errorf("upsert member %s/%s: %w", m.ChannelID, m.UserID, err)
		}
	}
	return nil
}

// EnsureMembers adds bare memberships for userIDs that are not recorded yet.
func (tx *Tx) EnsureMembers(ctx context.Context, channelID string, userIDs []string, joinedAt time.Time) error {
	for _, u := range userIDs {
		if u == "" {
			continue
		}
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO channel_members_local (channel_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(channel_id, user_id) DO NOTHING`,
			channelID, u, RoleMember, microsNotNull(joinedAt))
		if err != nil {
			return fmt.Errorf("ensure member %s/%s: %w", channelID, u, err)
		}
	}
	return nil
}

// UpsertMembers upserts memberships in their own transaction.
func (db *DB) UpsertMembers(ctx context.Context, members []Member) error {
	return db.Tx(ctx, func(tx *Tx) error { return tx.UpsertMembers(ctx, members) })
}

// ListMembers returns the memberships of a channel ordered by user id.
func (db *DB) ListMembers(ctx context.Context, channelID string) ([]Member, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT channel_id, user_id, role, muted, joined_at, last_read_at
		FROM channel_members_local WHERE channel_id = ? ORDER BY user_id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Member
	for rows.Next() {
		var (
			m              Member
			joined, readAt sql.NullInt64
		)
		if err := rows.Scan(&m.ChannelID, &m.UserID, &m.Role, &m.Muted, &joined, &readAt); err != nil {
			return nil, err
		}
		m.JoinedAt = fromMicros(joined)
		m.LastReadAt = fromMicros(readAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkRead moves userID's read marker in channelID forward to at. A marker
// that is already later stays put.
func (db *DB) MarkRead(ctx context.Context, channelID, userID string, at time.Time) error {
	if channelID == "" || userID == "" {
		return errors.New("mark read: channel id and user id are required")
	}
	return db.Tx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE channel_members_local
			SET last_read_at = MAX(COALESCE(last_read_at, 0), ?)
			WHERE channel_id = ? AND user_id = ?`,
			microsNotNull(at), channelID, userID)
		if err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("mark read: %s is not a member of %s: %w", userID, channelID, ErrNotFound)
		}
		return nil
	})
}
