package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Identity.UserID = "u-1"
	cfg.Sync.OutboxInterval = Duration{2 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Identity.UserID != "u-1" {
		t.Errorf("Identity.UserID = %q, want u-1", loaded.Identity.UserID)
	}
	if loaded.Sync.OutboxInterval.Duration != 2*time.Second {
		t.Errorf("OutboxInterval = %v, want 2s", loaded.Sync.OutboxInterval)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "[identity]\nuser_id = \"me\"\n\n[sync]\nchannel_sync_cooldown = \"10s\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.ChannelSyncCooldown.Duration != 10*time.Second {
		t.Errorf("ChannelSyncCooldown = %v, want 10s", cfg.Sync.ChannelSyncCooldown)
	}
	if cfg.Sync.OutboxBatch != 20 {
		t.Errorf("OutboxBatch = %d, want default 20", cfg.Sync.OutboxBatch)
	}
	if cfg.Realtime.Mode != RealtimePostgres || cfg.Realtime.Channel != "chat_events" {
		t.Errorf("Realtime = %+v, want postgres defaults", cfg.Realtime)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad duration", "[sync]\noutbox_interval = \"soon\"\n"},
		{"unknown mode", "[realtime]\nmode = \"carrier-pigeon\"\n"},
		{"websocket without url", "[realtime]\nmode = \"websocket\"\n"},
		{"zero batch", "[sync]\noutbox_batch = 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.data), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Sync.MessagePage != 50 {
		t.Errorf("MessagePage = %d, want 50", cfg.Sync.MessagePage)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
