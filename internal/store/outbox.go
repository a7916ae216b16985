package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func validateOutbox(e *OutboxEntry) error {
	switch {
	case e.ClientID == "":
		return errors.New("enqueue: client id is required")
	case e.ChannelID == "":
		return errors.New("enqueue: channel id is required")
	case e.CreatedAt.IsZero():
		return errors.New("enqueue: created_at is required")
	}
	return nil
}

// EnqueueOutbox stages an outgoing message: the outbox row, its pending
// message row and the optimistic channel summary are written together.
func (tx *Tx) EnqueueOutbox(ctx context.Context, e *OutboxEntry) error {
	if err := validateOutbox(e); err != nil {
		return err
	}
	meta := metaText(e.Meta)
	at := microsNotNull(e.CreatedAt)

	if _, err := tx.tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (client_id, channel_id, body, meta, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ClientID, e.ChannelID, e.Body, meta, at); err != nil {
		return fmt.Errorf("insert outbox %s: %w", e.ClientID, err)
	}
	if _, err := tx.tx.ExecContext(ctx, `
		INSERT INTO messages_local (client_id, channel_id, sender_id, body, created_at, meta, sync_state)
		VALUES (?, ?, '', ?, ?, ?, 'pending')`,
		e.ClientID, e.ChannelID, e.Body, at, meta); err != nil {
		return fmt.Errorf("insert pending message %s: %w", e.ClientID, err)
	}
	return tx.bumpChannelSummary(ctx, &Message{
		ChannelID: e.ChannelID,
		Body:      e.Body,
		CreatedAt: e.CreatedAt,
	})
}

// EnqueueOutbox stages an outgoing message in its own transaction.
func (db *DB) EnqueueOutbox(ctx context.Context, e *OutboxEntry) error {
	return db.Tx(ctx, func(tx *Tx) error { return tx.EnqueueOutbox(ctx, e) })
}

// EnqueueInitialMessage stages e unless the channel already has an initial
// message. The check and the insert share one transaction, so concurrent
// callers seed at most one greeting. Reports whether e was enqueued.
func (db *DB) EnqueueInitialMessage(ctx context.Context, e *OutboxEntry) (bool, error) {
	var enqueued bool
	err := db.Tx(ctx, func(tx *Tx) error {
		exists, err := hasInitialMessage(ctx, tx.tx, e.ChannelID)
		if err != nil || exists {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, e); err != nil {
			return err
		}
		enqueued = true
		return nil
	})
	return enqueued, err
}

// PendingOutbox returns up to limit unacknowledged entries. Entries with
// fewer attempts come first and ties go oldest first, so entries that keep
// failing rotate behind fresh ones instead of filling every batch.
func (db *DB) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT client_id, channel_id, body, meta, created_at, attempts, last_error
		FROM outbox_messages ORDER BY attempts ASC, created_at ASC, client_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			meta    string
			created sql.NullInt64
		)
		if err := rows.Scan(&e.ClientID, &e.ChannelID, &e.Body, &meta, &created, &e.Attempts, &e.LastError); err != nil {
			return nil, err
		}
		e.Meta = json.RawMessage(meta)
		e.CreatedAt = fromMicros(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OutboxLen returns the number of unacknowledged entries.
func (db *DB) OutboxLen(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// AckOutbox records a successful send: the outbox row is deleted and the
// message row with the same client id is promoted in place to carry the
// server id, sender and, when known, the server's timestamp. A copy of the
// message already ingested under the server id (realtime beat the ack) is
// folded into that row.
func (db *DB) AckOutbox(ctx context.Context, clientID, serverID, senderID string, serverAt time.Time) error {
	if clientID == "" || serverID == "" {
		return errors.New("ack outbox: client id and server id are required")
	}
	return db.Tx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM outbox_messages WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("delete outbox %s: %w", clientID, err)
		}
		if _, err := tx.tx.ExecContext(ctx, `
			DELETE FROM messages_local
			WHERE id = ? AND (client_id IS NULL OR client_id != ?)`, serverID, clientID); err != nil {
			return fmt.Errorf("drop duplicate of %s: %w", serverID, err)
		}

		var (
			channelID string
			localAt   int64
		)
		err := tx.tx.QueryRowContext(ctx,
			`SELECT channel_id, created_at FROM messages_local WHERE client_id = ?`,
			clientID).Scan(&channelID, &localAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("ack outbox: message %s: %w", clientID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", clientID, err)
		}
		at := localAt
		if !serverAt.IsZero() {
			at = serverAt.UnixMicro()
		}

		if _, err := tx.tx.ExecContext(ctx, `
			UPDATE messages_local SET id = ?, sender_id = ?, sync_state = 'synced', created_at = ?
			WHERE client_id = ?`, serverID, senderID, at, clientID); err != nil {
			return fmt.Errorf("promote %s: %w", clientID, err)
		}

		// The summary still points at the staged copy when nothing newer
		// arrived since; move it to the server's reading.
		if _, err := tx.tx.ExecContext(ctx, `
			UPDATE channels_local SET last_sender_id = ?, last_message_at = ?
			WHERE id = ? AND last_sender_id = '' AND last_message_at = ?`,
			senderID, at, channelID, localAt); err != nil {
			return fmt.Errorf("fill channel sender: %w", err)
		}
		return nil
	})
}

// FailOutbox marks the message failed and keeps the outbox row for retry.
func (db *DB) FailOutbox(ctx context.Context, clientID, reason string) error {
	return db.Tx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, `
			UPDATE outbox_messages SET attempts = attempts + 1, last_error = ?
			WHERE client_id = ?`, reason, clientID); err != nil {
			return fmt.Errorf("record outbox failure: %w", err)
		}
		if _, err := tx.tx.ExecContext(ctx, `
			UPDATE messages_local SET sync_state = 'failed'
			WHERE client_id = ? AND sync_state = 'pending'`, clientID); err != nil {
			return fmt.Errorf("mark %s failed: %w", clientID, err)
		}
		return nil
	})
}

// RetryFailed puts a failed message back to pending and clears its attempt
// count so it is picked up with the next batch. It reports false when
// there is no failed message with an outbox row for clientID.
func (db *DB) RetryFailed(ctx context.Context, clientID string) (bool, error) {
	var ok bool
	err := db.Tx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE messages_local SET sync_state = 'pending'
			WHERE client_id = ? AND sync_state = 'failed'
				AND EXISTS (SELECT 1 FROM outbox_messages o WHERE o.client_id = messages_local.client_id)`,
			clientID)
		if err != nil {
			return fmt.Errorf("retry %s: %w", clientID, err)
		}
		n, _ := res.RowsAffected()
		if ok = n > 0; !ok {
			return nil
		}
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE outbox_messages SET attempts = 0 WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("reset attempts %s: %w", clientID, err)
		}
		return nil
	})
	return ok, err
}

// DeleteOutbox abandons an unsent message: the outbox row and its pending
// or failed message row are removed together. Acknowledged messages are
// left alone.
func (db *DB) DeleteOutbox(ctx context.Context, clientID string) error {
	return db.Tx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx,
			`DELETE FROM outbox_messages WHERE client_id = ?`, clientID)
		if err != nil {
			return fmt.Errorf("delete outbox %s: %w", clientID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delete outbox %s: %w", clientID, ErrNotFound)
		}
		if _, err := tx.tx.ExecContext(ctx, `
			DELETE FROM messages_local
			WHERE client_id = ? AND sync_state != 'synced'`, clientID); err != nil {
			return fmt.Errorf("delete pending message %s: %w", clientID, err)
		}
		return nil
	})
}
