package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aushilfapp/chatsync/internal/meta"
)

const messageColumns = `local_id, COALESCE(id, ''), COALESCE(client_id, ''), channel_id, sender_id, body,
	created_at, edited_at, deleted_at, meta, sync_state`

func scanMessage(r rowScanner) (*Message, error) {
	var (
		m                        Message
		created, edited, deleted sql.NullInt64
		metaRaw, state           string
	)
	if err := r.Scan(&m.LocalID, &m.ID, &m.ClientID, &m.ChannelID, &m.SenderID, &m.Body,
		&created, &edited, &deleted, &metaRaw, &state); err != nil {
		return nil, err
	}
	m.CreatedAt = fromMicros(created)
	m.EditedAt = fromMicros(edited)
	m.DeletedAt = fromMicros(deleted)
	m.Meta = json.RawMessage(metaRaw)
	m.SyncState = SyncState(state)
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpsertMessage writes a message acknowledged by the remote store.
//
// When the message carries the client id of a local row, that row is
// promoted in place: it takes the server id and becomes synced, any stray
// copy already stored under the server id is removed, and the outbox entry
// for the client id is dropped since the server has the message. Otherwise
// the row is upserted by server id.
func (tx *Tx) UpsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		return errors.New("upsert message: server id is required")
	}
	if m.ChannelID == "" {
		return fmt.Errorf("upsert message %s: channel id is required", m.ID)
	}

	if m.ClientID != "" {
		var localID int64
		err := tx.tx.QueryRowContext(ctx,
			`SELECT local_id FROM messages_local WHERE client_id = ?`, m.ClientID).Scan(&localID)
		switch {
		case err == nil:
			return tx.promoteMessage(ctx, localID, m)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("lookup client id %s: %w", m.ClientID, err)
		}
	}

	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO messages_local (id, client_id, channel_id, sender_id, body, created_at, edited_at, deleted_at, meta, sync_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'synced')
		ON CONFLICT(id) DO UPDATE SET
			client_id = COALESCE(messages_local.client_id, excluded.client_id),
			channel_id = excluded.channel_id,
			sender_id = excluded.sender_id,
			body = excluded.body,
			created_at = excluded.created_at,
			edited_at = excluded.edited_at,
			deleted_at = excluded.deleted_at,
			meta = excluded.meta,
			sync_state = 'synced'`,
		m.ID, nullString(m.ClientID), m.ChannelID, m.SenderID, m.Body, microsNotNull(m.CreatedAt),
		micros(m.EditedAt), micros(m.DeletedAt), metaText(m.Meta))
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return nil
}

func (tx *Tx) promoteMessage(ctx context.Context, localID int64, m *Message) error {
	if _, err := tx.tx.ExecContext(ctx,
		`DELETE FROM messages_local WHERE id = ? AND local_id != ?`, m.ID, localID); err != nil {
		return fmt.Errorf("drop duplicate of %s: %w", m.ID, err)
	}
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE messages_local SET
			id = ?, channel_id = ?, sender_id = ?, body = ?, created_at = ?,
			edited_at = ?, deleted_at = ?, meta = ?, sync_state = 'synced'
		WHERE local_id = ?`,
		m.ID, m.ChannelID, m.SenderID, m.Body, microsNotNull(m.CreatedAt),
		micros(m.EditedAt), micros(m.DeletedAt), metaText(m.Meta), localID)
	if err != nil {
		return fmt.Errorf("promote %s to %s: %w", m.ClientID, m.ID, err)
	}
	if _, err := tx.tx.ExecContext(ctx,
		`DELETE FROM outbox_messages WHERE client_id = ?`, m.ClientID); err != nil {
		return fmt.Errorf("drop outbox %s: %w", m.ClientID, err)
	}
	return nil
}

// UpsertMessages writes a batch of remote messages in one transaction.
func (db *DB) UpsertMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return db.Tx(ctx, func(tx *Tx) error {
		for i := range msgs {
			if err := tx.UpsertMessage(ctx, &msgs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyIncomingMessage stores a pushed message and moves its channel's
// last-message summary forward in one transaction. members, when known,
// are recorded for a channel the mirror has not seen before.
func (db *DB) ApplyIncomingMessage(ctx context.Context, m *Message, members []string) error {
	return db.Tx(ctx, func(tx *Tx) error {
		if err := tx.UpsertMessage(ctx, m); err != nil {
			return err
		}
		if err := tx.bumpChannelSummary(ctx, m); err != nil {
			return err
		}
		return tx.EnsureMembers(ctx, m.ChannelID, members, m.CreatedAt)
	})
}

// GetMessage returns a message by server id or client id, or nil.
func (db *DB) GetMessage(ctx context.Context, key string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages_local WHERE id = ? OR client_id = ?`, key, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", key, err)
	}
	return m, nil
}

// ListMessages returns up to limit messages of a channel ordered by
// (created_at, id). Pending messages sort by their client id in place of
// the missing server id. Descending order yields the newest messages.
func (db *DB) ListMessages(ctx context.Context, channelID string, order Order, limit int) ([]Message, error) {
	if channelID == "" {
		return nil, errors.New("list messages: channel id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + messageColumns + ` FROM messages_local WHERE channel_id = ?
		ORDER BY created_at ASC, COALESCE(id, client_id) ASC LIMIT ?`
	if order == Descending {
		query = `SELECT ` + messageColumns + ` FROM messages_local WHERE channel_id = ?
		ORDER BY created_at DESC, COALESCE(id, client_id) DESC LIMIT ?`
	}
	rows, err := db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

// RecentMessages returns the newest limit messages in ascending order.
func (db *DB) RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	msgs, err := db.ListMessages(ctx, channelID, Descending, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func hasInitialMessage(ctx context.Context, q querier, channelID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages_local
		WHERE channel_id = ?
			AND CASE WHEN json_valid(meta) THEN json_extract(meta, '$.custom_type') END = ?`,
		channelID, meta.CustomTypeInitial).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check initial message: %w", err)
	}
	return n > 0, nil
}

// HasInitialMessage reports whether the channel already holds its seeded
// greeting, pending or synced.
func (db *DB) HasInitialMessage(ctx context.Context, channelID string) (bool, error) {
	return hasInitialMessage(ctx, db.DB, channelID)
}
