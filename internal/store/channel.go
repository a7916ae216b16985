package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aushilfapp/chatsync/internal/category"
)

const channelColumns = `id, custom_type, custom_category, custom_category_choosen, updated_at,
	last_message_at, last_message_text, last_sender_id, meta`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(r rowScanner) (*Channel, error) {
	var (
		c                  Channel
		updated, lastMsgAt sql.NullInt64
		meta               string
	)
	if err := r.Scan(&c.ID, &c.CustomType, &c.CustomCategory, &c.CustomCategoryChosen, &updated,
		&lastMsgAt, &c.LastMessageText, &c.LastSenderID, &meta); err != nil {
		return nil, err
	}
	c.UpdatedAt = fromMicros(updated)
	c.LastMessageAt = fromMicros(lastMsgAt)
	c.Meta = json.RawMessage(meta)
	return &c, nil
}

func validateChannel(c *Channel) error {
	if c.ID == "" {
		return errors.New("channel id is required")
	}
	if c.CustomCategory != "" && !category.Valid(c.CustomCategory) {
		return fmt.Errorf("channel %s custom_category %q: %w", c.ID, c.CustomCategory, category.ErrInvalid)
	}
	if c.CustomCategoryChosen != "" && !category.Valid(c.CustomCategoryChosen) {
		return fmt.Errorf("channel %s custom_category_choosen %q: %w", c.ID, c.CustomCategoryChosen, category.ErrInvalid)
	}
	if len(c.Meta) > 0 && !json.Valid(c.Meta) {
		return fmt.Errorf("channel %s meta is not valid JSON", c.ID)
	}
	return nil
}

func getChannel(ctx context.Context, q querier, id string) (*Channel, error) {
	c, err := scanChannel(q.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels_local WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", id, err)
	}
	return c, nil
}

// GetChannel returns a channel by id, or nil if it is not mirrored.
func (db *DB) GetChannel(ctx context.Context, id string) (*Channel, error) {
	return getChannel(ctx, db.DB, id)
}

// GetChannel reads a channel inside the transaction.
func (tx *Tx) GetChannel(ctx context.Context, id string) (*Channel, error) {
	return getChannel(ctx, tx.tx, id)
}

// UpsertChannel replaces the whole row keyed by id. Invalid categories are
// rejected; nothing is written.
func (tx *Tx) UpsertChannel(ctx context.Context, c *Channel) error {
	if err := validateChannel(c); err != nil {
		return err
	}
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO channels_local (`+channelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			custom_type = excluded.custom_type,
			custom_category = excluded.custom_category,
			custom_category_choosen = excluded.custom_category_choosen,
			updated_at = excluded.updated_at,
			last_message_at = excluded.last_message_at,
			last_message_text = excluded.last_message_text,
			last_sender_id = excluded.last_sender_id,
			meta = excluded.meta`,
		c.ID, c.CustomType, c.CustomCategory, c.CustomCategoryChosen, microsNotNull(c.UpdatedAt),
		micros(c.LastMessageAt), c.LastMessageText, c.LastSenderID, metaText(c.Meta))
	if err != nil {
		return fmt.Errorf("upsert channel %s: %w", c.ID, err)
	}
	return nil
}

// UpsertChannelPreserving upserts an incoming channel snapshot without
// regressing locally owned state:
//   - a valid local custom_category_choosen survives an incoming row that
//     lacks it or carries an unrecognized value;
//   - an invalid incoming custom_category is replaced by the local one;
//   - the last-message summary is kept when the local one is newer.
//
// The incoming value is not modified.
func (tx *Tx) UpsertChannelPreserving(ctx context.Context, in *Channel) error {
	if in.ID == "" {
		return errors.New("channel id is required")
	}
	existing, err := tx.GetChannel(ctx, in.ID)
	if err != nil {
		return err
	}
	c := mergeChannel(existing, in)
	return tx.UpsertChannel(ctx, &c)
}

func mergeChannel(existing, in *Channel) Channel {
	c := *in
	var local Channel
	if existing != nil {
		local = *existing
	}

	if !category.Valid(c.CustomCategoryChosen) {
		c.CustomCategoryChosen = ""
		if category.Valid(local.CustomCategoryChosen) {
			c.CustomCategoryChosen = local.CustomCategoryChosen
		}
	}
	if c.CustomCategory != "" && !category.Valid(c.CustomCategory) {
		c.CustomCategory = ""
		if category.Valid(local.CustomCategory) {
			c.CustomCategory = local.CustomCategory
		}
	}
	if existing != nil {
		if local.LastMessageAt.After(c.LastMessageAt) {
			c.LastMessageAt = local.LastMessageAt
			c.LastMessageText = local.LastMessageText
			c.LastSenderID = local.LastSenderID
		}
		c.UpdatedAt = laterOf(c.UpdatedAt, local.UpdatedAt)
		if len(c.Meta) == 0 {
			c.Meta = local.Meta
		}
	}
	return c
}

// UpsertChannel upserts a single channel in its own transaction.
func (db *DB) UpsertChannel(ctx context.Context, c *Channel) error {
	return db.Tx(ctx, func(tx *Tx) error { return tx.UpsertChannel(ctx, c) })
}

// UpsertChannelsPreserving applies a page of remote channels with their
// memberships in one transaction.
func (db *DB) UpsertChannelsPreserving(ctx context.Context, channels []Channel, members []Member) error {
	return db.Tx(ctx, func(tx *Tx) error {
		for i := range channels {
			if err := tx.UpsertChannelPreserving(ctx, &channels[i]); err != nil {
				return err
			}
		}
		return tx.UpsertMembers(ctx, members)
	})
}

// ApplyChannelUpdate applies a pushed channel row with the same
// preservation rules as a sync, recording memberships the mirror lacks.
func (db *DB) ApplyChannelUpdate(ctx context.Context, c *Channel, memberIDs []string) error {
	return db.Tx(ctx, func(tx *Tx) error {
		if err := tx.UpsertChannelPreserving(ctx, c); err != nil {
			return err
		}
		return tx.EnsureMembers(ctx, c.ID, memberIDs, c.UpdatedAt)
	})
}

// ListChannels returns the channels userID belongs to, most recent activity
// first: last_message_at descending with nulls last, then updated_at
// descending.
func (db *DB) ListChannels(ctx context.Context, userID string, limit int) ([]Channel, error) {
	if userID == "" {
		return nil, errors.New("list channels: user id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.custom_type, c.custom_category, c.custom_category_choosen, c.updated_at,
			c.last_message_at, c.last_message_text, c.last_sender_id, c.meta
		FROM channels_local c
		JOIN channel_members_local m ON m.channel_id = c.id AND m.user_id = ?
		ORDER BY c.last_message_at DESC NULLS LAST, c.updated_at DESC, c.id
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetChosenCategory stores the user's category override. An empty value
// clears it.
func (db *DB) SetChosenCategory(ctx context.Context, channelID, cat string, updatedAt time.Time) error {
	if cat != "" && !category.Valid(cat) {
		return fmt.Errorf("set category %q: %w", cat, category.ErrInvalid)
	}
	return db.Tx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE channels_local
			SET custom_category_choosen = ?, updated_at = MAX(updated_at, ?)
			WHERE id = ?`, cat, microsNotNull(updatedAt), channelID)
		if err != nil {
			return fmt.Errorf("set category: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("set category: channel %s: %w", channelID, ErrNotFound)
		}
		return nil
	})
}

// bumpChannelSummary moves the channel's last-message summary forward to
// the given message if it is not older than the current one. Categories
// and meta are not touched. A channel that is not mirrored yet gets a stub
// row which a later sync fills in.
func (tx *Tx) bumpChannelSummary(ctx context.Context, m *Message) error {
	at := microsNotNull(m.CreatedAt)
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO channels_local (id, updated_at, last_message_at, last_message_text, last_sender_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = excluded.last_message_at,
			last_message_text = excluded.last_message_text,
			last_sender_id = excluded.last_sender_id,
			updated_at = MAX(channels_local.updated_at, excluded.updated_at)
		WHERE channels_local.last_message_at IS NULL
			OR channels_local.last_message_at <= excluded.last_message_at`,
		m.ChannelID, at, at, m.Body, m.SenderID)
	if err != nil {
		return fmt.Errorf("bump channel %s summary: %w", m.ChannelID, err)
	}
	return nil
}
