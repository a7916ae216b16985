package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BackfillKey is the sync_state key of a channel's backfill watermark:
// the newest timestamp up to which the remote history is mirrored.
func BackfillKey(channelID string) string {
	return "backfill:" + channelID
}

// HistoryKey is the sync_state key of the oldest message of a channel's
// mirrored history. Everything between it and the backfill watermark is
// held locally; older history is paged from it.
func HistoryKey(channelID string) string {
	return "history:" + channelID
}

// SetCheckpoint stores a sync watermark.
func (db *DB) SetCheckpoint(ctx context.Context, key, value string) error {
	return db.Tx(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().UnixMicro())
		if err != nil {
			return fmt.Errorf("set checkpoint %s: %w", key, err)
		}
		return nil
	})
}

// Checkpoint returns a stored watermark, or "" when none is recorded.
func (db *DB) Checkpoint(ctx context.Context, key string) (string, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	return v, nil
}
