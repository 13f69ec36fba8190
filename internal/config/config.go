package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/petervdpas/tandem/internal/util"
)

// EnvPrefix prefixes every environment override, e.g. TANDEM_SERVER_PORT.
const EnvPrefix = "TANDEM"

type Config struct {
	Server  Server  `json:"server"`
	Storage Storage `json:"storage"`
	Call    Call    `json:"call"`
	Log     Log     `json:"log"`
}

type Server struct {
	Bind string `json:"bind"`
	Port int    `json:"port"`

	// Browser origins allowed for CORS and the WebSocket handshake. "*"
	// allows any origin.
	AllowedOrigins []string `json:"allowed_origins" envconfig:"allowed_origins"`

	SendQueue       int   `json:"send_queue" envconfig:"send_queue"`
	MaxFrameBytes   int64 `json:"max_frame_bytes" envconfig:"max_frame_bytes"`
	WriteTimeoutSec int   `json:"write_timeout_seconds" envconfig:"write_timeout_seconds"`
	PingIntervalSec int   `json:"ping_interval_seconds" envconfig:"ping_interval_seconds"`

	// Inbound live events per minute. 0 disables.
	EventsPerMinute       int `json:"events_per_minute" envconfig:"events_per_minute"`
	GlobalEventsPerMinute int `json:"global_events_per_minute" envconfig:"global_events_per_minute"`
}

type Storage struct {
	// SQLite file path (relative to the data dir) or a postgres:// URL.
	DSN string `json:"dsn"`
}

type Call struct {
	// Unanswered calls are declined after this long. 0 disables.
	RingTimeoutSec int `json:"ring_timeout_seconds" envconfig:"ring_timeout_seconds"`
}

type Log struct {
	Level       string `json:"level"`
	Format      string `json:"format"` // "color", "nocolor" or "json"
	BufferLines int    `json:"buffer_lines" envconfig:"buffer_lines"`
}

func Default() Config {
	return Config{
		Server: Server{
			Bind:            "127.0.0.1",
			Port:            8080,
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			SendQueue:       64,
			MaxFrameBytes:   64 << 10,
			WriteTimeoutSec: 10,
			PingIntervalSec: 25,

			EventsPerMinute:       600,
			GlobalEventsPerMinute: 0,
		},
		Storage: Storage{
			DSN: "data/tandem.db",
		},
		Call: Call{
			RingTimeoutSec: 45,
		},
		Log: Log{
			Level:       "info",
			Format:      "nocolor",
			BufferLines: 500,
		},
	}
}

var logLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
	"dpanic": true, "panic": true, "fatal": true,
}

func (c *Config) Validate() error {
	// Server
	if b := strings.TrimSpace(c.Server.Bind); b != "" && b != "localhost" && net.ParseIP(b) == nil {
		return errors.New("server.bind must be an IP address or localhost")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be 0..65535")
	}
	if c.Server.SendQueue <= 0 {
		return errors.New("server.send_queue must be > 0")
	}
	if c.Server.MaxFrameBytes < 1024 {
		return errors.New("server.max_frame_bytes must be >= 1024")
	}
	if c.Server.WriteTimeoutSec <= 0 {
		return errors.New("server.write_timeout_seconds must be > 0")
	}
	if c.Server.PingIntervalSec <= 0 {
		return errors.New("server.ping_interval_seconds must be > 0")
	}
	if c.Server.EventsPerMinute < 0 || c.Server.GlobalEventsPerMinute < 0 {
		return errors.New("server.events_per_minute limits must be >= 0")
	}
	for _, o := range c.Server.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			return errors.New("server.allowed_origins must not contain empty entries")
		}
	}

	// Storage
	if strings.TrimSpace(c.Storage.DSN) == "" {
		return errors.New("storage.dsn is required")
	}

	// Call
	if c.Call.RingTimeoutSec < 0 {
		return errors.New("call.ring_timeout_seconds must be >= 0")
	}

	// Log
	if !logLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	switch c.Log.Format {
	case "color", "nocolor", "json":
	default:
		return fmt.Errorf("log.format %q must be color, nocolor or json", c.Log.Format)
	}
	if c.Log.BufferLines <= 0 {
		return errors.New("log.buffer_lines must be > 0")
	}

	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Bind, fmt.Sprint(c.Server.Port))
}

func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.Call.RingTimeoutSec) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSec) * time.Second
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Server.PingIntervalSec) * time.Second
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overlays TANDEM_* environment variables onto cfg and validates
// the result. Unset variables leave the file value in place.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return cfg.Validate()
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
