// Package remote is the stateless bridge to the remote chat store: plain
// queries plus the chat.* procedures. It performs no retries and keeps no
// state; callers own the retry policy.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aushilfapp/chatsync/internal/category"
	"github.com/aushilfapp/chatsync/internal/config"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	// ErrNoSession is returned when no user is signed in.
	ErrNoSession = errors.New("remote: no valid session")
	// ErrNotFound is returned when the channel does not exist or the
	// current user is not one of its members.
	ErrNotFound = errors.New("remote: channel not found")
	// ErrForbidden is returned when the server rejects the caller.
	ErrForbidden = errors.New("remote: not a member of the channel")
)

// Querier is the subset of *pgxpool.Pool the client uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client calls the remote store on behalf of the current user.
type Client struct {
	db     Querier
	id     identity.Provider
	logger *zap.Logger
}

// New creates a client.
func New(db Querier, id identity.Provider, logger *zap.Logger) *Client {
	return &Client{db: db, id: id, logger: logging.OrNop(logger)}
}

// Connect opens a connection pool for the [remote] config.
func Connect(ctx context.Context, cfg config.Remote) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("remote.database_url is not set")
	}
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect remote: %w", err)
	}
	return pool, nil
}

func (c *Client) me() (string, error) {
	if c.id == nil || !c.id.HasSession() || c.id.UserID() == "" {
		return "", ErrNoSession
	}
	return c.id.UserID(), nil
}

// mapErr translates server-side exceptions raised by the chat.* procedures.
func mapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501":
			return fmt.Errorf("%s: %w", op, ErrForbidden)
		case "P0002":
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case "23514":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, category.ErrInvalid)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ensure1on1Channel returns the channel between the current user and
// partnerID, creating it on first use. Repeated calls for the same pair
// return the same id.
func (c *Client) Ensure1on1Channel(ctx context.Context, partnerID string) (string, error) {
	me, err := c.me()
	if err != nil {
		return "", err
	}
	if partnerID == "" || partnerID == me {
		return "", fmt.Errorf("ensure channel: invalid partner %q", partnerID)
	}
	var id string
	if err := c.db.QueryRow(ctx, `SELECT chat.ensure_1on1_channel($1, $2)`, me, partnerID).Scan(&id); err != nil {
		return "", mapErr("ensure channel", err)
	}
	return id, nil
}

const channelSelect = `SELECT c.id, c.custom_type, c.custom_category::text, c.custom_category_choosen::text,
	c.updated_at, c.last_message_at, c.last_message_text, c.last_sender_id, c.meta
	FROM chat.channels c`

func scanChannel(row pgx.CollectableRow) (Channel, error) {
	var (
		ch   Channel
		meta []byte
	)
	err := row.Scan(&ch.ID, &ch.CustomType, &ch.CustomCategory, &ch.CustomCategoryChosen,
		&ch.UpdatedAt, &ch.LastMessageAt, &ch.LastMessageText, &ch.LastSenderID, &meta)
	ch.Meta = json.RawMessage(meta)
	return ch, err
}

// FetchChannelPage returns up to limit channels of the current user, most
// recent activity first, each with its memberships.
func (c *Client) FetchChannelPage(ctx context.Context, limit int) ([]Channel, error) {
	me, err := c.me()
	if err != nil {
		return nil, err
	}
	rows, err := c.db.Query(ctx, channelSelect+`
		JOIN chat.channel_members m ON m.channel_id = c.id AND m.user_id = $1
		ORDER BY c.last_message_at DESC NULLS LAST, c.updated_at DESC, c.id
		LIMIT $2`, me, limit)
	if err != nil {
		return nil, mapErr("fetch channels", err)
	}
	channels, err := pgx.CollectRows(rows, scanChannel)
	if err != nil {
		return nil, mapErr("fetch channels", err)
	}
	if len(channels) == 0 {
		return channels, nil
	}

	ids := make([]string, len(channels))
	for i := range channels {
		ids[i] = channels[i].ID
	}
	members, err := c.fetchMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		channels[i].Members = members[channels[i].ID]
	}
	return channels, nil
}

func (c *Client) fetchMembers(ctx context.Context, channelIDs []string) (map[string][]Member, error) {
	rows, err := c.db.Query(ctx, `
		SELECT channel_id, user_id, role, muted, joined_at, last_read_at
		FROM chat.channel_members WHERE channel_id = ANY($1)
		ORDER BY channel_id, user_id`, channelIDs)
	if err != nil {
		return nil, mapErr("fetch members", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Member, error) {
		var m Member
		err := row.Scan(&m.ChannelID, &m.UserID, &m.Role, &m.Muted, &m.JoinedAt, &m.LastReadAt)
		return m, err
	})
	if err != nil {
		return nil, mapErr("fetch members", err)
	}
	out := make(map[string][]Member, len(channelIDs))
	for _, m := range list {
		out[m.ChannelID] = append(out[m.ChannelID], m)
	}
	return out, nil
}

const messageSelect = `SELECT id, channel_id, sender_id, coalesce(client_id, ''), body,
	created_at, edited_at, deleted_at, meta
	FROM chat.messages`

func scanMessage(row pgx.CollectableRow) (Message, error) {
	var (
		m    Message
		meta []byte
	)
	err := row.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.ClientID, &m.Body,
		&m.CreatedAt, &m.EditedAt, &m.DeletedAt, &meta)
	m.Meta = json.RawMessage(meta)
	return m, err
}

func (c *Client) collectMessages(ctx context.Context, op, query string, args ...any) ([]Message, error) {
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return msgs, nil
}

// FetchMessages returns up to limit messages created at or after since,
// ascending. A zero since starts at the beginning of the channel.
func (c *Client) FetchMessages(ctx context.Context, channelID string, since time.Time, limit int) ([]Message, error) {
	if _, err := c.me(); err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, errors.New("fetch messages: channel id is required")
	}
	var sinceArg any
	if !since.IsZero() {
		sinceArg = since
	}
	return c.collectMessages(ctx, "fetch messages", messageSelect+`
		WHERE channel_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at ASC, id COLLATE "C" ASC
		LIMIT $3`, channelID, sinceArg, limit)
}

// PageMessages returns up to limit messages strictly older than before,
// newest first. Ties on created_at are broken by id, so consecutive pages
// neither overlap nor skip.
func (c *Client) PageMessages(ctx context.Context, channelID string, before Cursor, limit int) ([]Message, error) {
	if _, err := c.me(); err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, errors.New("page messages: channel id is required")
	}
	const order = ` ORDER BY created_at DESC, id COLLATE "C" DESC LIMIT `
	switch {
	case before.CreatedAt.IsZero():
		return c.collectMessages(ctx, "page messages", messageSelect+`
			WHERE channel_id = $1`+order+`$2`, channelID, limit)
	case before.ID == "":
		return c.collectMessages(ctx, "page messages", messageSelect+`
			WHERE channel_id = $1 AND created_at < $2`+order+`$3`, channelID, before.CreatedAt, limit)
	default:
		return c.collectMessages(ctx, "page messages", messageSelect+`
			WHERE channel_id = $1
			  AND (created_at < $2 OR (created_at = $2 AND id COLLATE "C" < $3 COLLATE "C"))`+order+`$4`,
			channelID, before.CreatedAt, before.ID, limit)
	}
}

// SendMessage stores a message and returns its server id and server
// timestamp. The server deduplicates on (channel, clientID), so a retry
// after an unknown outcome yields the id and time of the first attempt.
func (c *Client) SendMessage(ctx context.Context, channelID, body, clientID string, meta json.RawMessage) (string, time.Time, error) {
	me, err := c.me()
	if err != nil {
		return "", time.Time{}, err
	}
	if channelID == "" || clientID == "" {
		return "", time.Time{}, errors.New("send message: channel id and client id are required")
	}
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	var (
		id string
		at time.Time
	)
	err = c.db.QueryRow(ctx, `SELECT sent_id, sent_at FROM chat.send_message($1, $2, $3, $4, $5::jsonb)`,
		me, channelID, body, clientID, string(meta)).Scan(&id, &at)
	if err != nil {
		return "", time.Time{}, mapErr("send message", err)
	}
	return id, at.UTC(), nil
}

// MarkRead moves the current user's read marker to now and returns it.
func (c *Client) MarkRead(ctx context.Context, channelID string) (time.Time, error) {
	me, err := c.me()
	if err != nil {
		return time.Time{}, err
	}
	var at time.Time
	if err := c.db.QueryRow(ctx, `SELECT chat.mark_read($1, $2)`, me, channelID).Scan(&at); err != nil {
		return time.Time{}, mapErr("mark read", err)
	}
	return at, nil
}

// UpdateChannelCategory sets the user's category override. Values outside
// the category set are rejected before any request is made.
func (c *Client) UpdateChannelCategory(ctx context.Context, channelID, cat string) (*CategoryUpdate, error) {
	parsed, err := category.Parse(cat)
	if err != nil {
		return nil, err
	}
	me, err := c.me()
	if err != nil {
		return nil, err
	}
	var u CategoryUpdate
	err = c.db.QueryRow(ctx, `SELECT id, category, updated_at FROM chat.update_channel_category($1, $2, $3)`,
		me, channelID, string(parsed)).Scan(&u.ID, &u.Category, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update category %s: %w", channelID, ErrNotFound)
	}
	if err != nil {
		return nil, mapErr("update category", err)
	}
	return &u, nil
}

// SetChannelMeta writes channel type, category and meta.
func (c *Client) SetChannelMeta(ctx context.Context, channelID string, u ChannelMetaUpdate) error {
	if u.Category != "" && !category.Valid(u.Category) {
		return fmt.Errorf("set channel meta: %w: %q", category.ErrInvalid, u.Category)
	}
	meta := u.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	if !json.Valid(meta) {
		return errors.New("set channel meta: meta is not valid JSON")
	}
	me, err := c.me()
	if err != nil {
		return err
	}
	if _, err := c.db.Exec(ctx, `SELECT chat.set_channel_meta($1, $2, $3, $4, $5::jsonb)`,
		me, channelID, u.Type, u.Category, string(meta)); err != nil {
		return mapErr("set channel meta", err)
	}
	return nil
}
