package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.aushilf/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Identity       Identity `toml:"identity"`
	Remote         Remote   `toml:"remote"`
	Realtime       Realtime `toml:"realtime"`
	Sync           Sync     `toml:"sync"`
}

// Identity names the signed-in user. An access token marks a valid session.
type Identity struct {
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

// Remote configures the remote relational store.
type Remote struct {
	DatabaseURL string `toml:"database_url"`
	MaxConns    int32  `toml:"max_conns"`
}

// Realtime selects and configures the push event source.
type Realtime struct {
	Mode         string `toml:"mode"`
	WebsocketURL string `toml:"websocket_url"`
	Channel      string `toml:"channel"`
}

// Realtime modes.
const (
	RealtimePostgres  = "postgres"
	RealtimeWebsocket = "websocket"
	RealtimeOff       = "off"
)

// Sync tunes the outbox loop and the channel/message sync.
type Sync struct {
	OutboxInterval      Duration `toml:"outbox_interval"`
	OutboxBatch         int      `toml:"outbox_batch"`
	ChannelSyncCooldown Duration `toml:"channel_sync_cooldown"`
	ChannelPage         int      `toml:"channel_page"`
	MessagePage         int      `toml:"message_page"`
}

// Duration is a time.Duration that reads and writes as "5s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for any field the file leaves out.
func Default() *Config {
	return &Config{
		Remote:   Remote{MaxConns: 4},
		Realtime: Realtime{Mode: RealtimePostgres, Channel: "chat_events"},
		Sync: Sync{
			OutboxInterval:      Duration{5 * time.Second},
			OutboxBatch:         20,
			ChannelSyncCooldown: Duration{5 * time.Second},
			ChannelPage:         50,
			MessagePage:         50,
		},
	}
}

// Load reads config from the given path on top of Default. Returns error if
// the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Realtime.Mode {
	case RealtimePostgres, RealtimeOff:
	case RealtimeWebsocket:
		if c.Realtime.WebsocketURL == "" {
			return errors.New("realtime.websocket_url is required in websocket mode")
		}
	default:
		return fmt.Errorf("unknown realtime.mode %q", c.Realtime.Mode)
	}
	if c.Sync.OutboxInterval.Duration <= 0 {
		return errors.New("sync.outbox_interval must be positive")
	}
	if c.Sync.OutboxBatch <= 0 || c.Sync.ChannelPage <= 0 || c.Sync.MessagePage <= 0 {
		return errors.New("sync batch and page sizes must be positive")
	}
	if c.Sync.ChannelSyncCooldown.Duration < 0 {
		return errors.New("sync.channel_sync_cooldown must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
