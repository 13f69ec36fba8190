package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_Is_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 45*time.Second, cfg.RingTimeout())
	require.Equal(t, "127.0.0.1:8080", cfg.Addr())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"bind", func(c *Config) { c.Server.Bind = "not-an-ip" }},
		{"send queue", func(c *Config) { c.Server.SendQueue = 0 }},
		{"frame size", func(c *Config) { c.Server.MaxFrameBytes = 10 }},
		{"empty origin", func(c *Config) { c.Server.AllowedOrigins = []string{" "} }},
		{"dsn", func(c *Config) { c.Storage.DSN = "" }},
		{"ring timeout", func(c *Config) { c.Call.RingTimeoutSec = -1 }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Fills_Missing_Fields_And_Strips_BOM(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "tandem.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"server":{"port":9000},"call":{"ring_timeout_seconds":0}}`)...)
	req.NoError(os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)

	req.NoError(err)
	req.Equal(9000, cfg.Server.Port)
	req.Zero(cfg.Call.RingTimeoutSec)
	req.Equal(Default().Storage.DSN, cfg.Storage.DSN)
	req.Equal(Default().Server.SendQueue, cfg.Server.SendQueue)
}

func TestEnsure_Creates_Then_Loads(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "sub", "tandem.json")

	cfg, created, err := Ensure(path)
	req.NoError(err)
	req.True(created)
	req.Equal(Default(), cfg)

	cfg.Server.Port = 9100
	req.NoError(Save(path, cfg))

	cfg, created, err = Ensure(path)
	req.NoError(err)
	req.False(created)
	req.Equal(9100, cfg.Server.Port)
}

func TestApplyEnv_Overrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("TANDEM_SERVER_PORT", "9443")
	t.Setenv("TANDEM_SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TANDEM_STORAGE_DSN", "postgres://tandem@db/tandem")
	t.Setenv("TANDEM_CALL_RING_TIMEOUT_SECONDS", "30")

	cfg := Default()
	req.NoError(ApplyEnv(&cfg))

	req.Equal(9443, cfg.Server.Port)
	req.Equal([]string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	req.Equal("postgres://tandem@db/tandem", cfg.Storage.DSN)
	req.Equal(30, cfg.Call.RingTimeoutSec)
	req.Equal(Default().Log.Level, cfg.Log.Level)
}

func TestApplyEnv_Invalid_Value(t *testing.T) {
	t.Setenv("TANDEM_SERVER_PORT", "eighty")
	cfg := Default()
	require.Error(t, ApplyEnv(&cfg))
}

func TestWatch_Reloads_On_Change(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "tandem.json")
	req.NoError(Save(path, Default()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c Config) { got <- c }) }()

	// Give the watcher a moment to register before editing
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is skipped
	req.NoError(os.WriteFile(path, []byte(`{"call":{"ring_timeout_seconds":-5}}`), 0o644))
	time.Sleep(300 * time.Millisecond)
	req.Empty(got)

	// A valid edit is delivered
	cfg := Default()
	cfg.Call.RingTimeoutSec = 12
	req.NoError(Save(path, cfg))

	select {
	case c := <-got:
		req.Equal(12, c.Call.RingTimeoutSec)
	case <-time.After(3 * time.Second):
		req.Fail("no reload observed")
	}

	cancel()
	req.NoError(<-done)
}
