package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/openclaw-chat/internal/protocol"
	"github.com/openclaw/openclaw-chat/internal/ratelimit"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Gateway GatewayConfig
	Client  ClientConfig
	Store   StoreConfig
	Log     LogConfig
	Limits  LimitsConfig
}

type GatewayConfig struct {
	URL   string
	Token string
}

// ClientConfig is the descriptor announced in the handshake.
type ClientConfig struct {
	ID       string
	Mode     string
	Version  string
	Platform string
}

// StoreConfig locates the local key-value store. An empty passphrase stores
// device keys unsealed.
type StoreConfig struct {
	Path       string
	Passphrase string
}

type LogConfig struct {
	Level  string
	Format string
}

type LimitsConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// Load reads configuration from file and env. Env var overrides use prefix
// OPENCLAW_. path wins over $OPENCLAW_CONFIG; with neither, the file is looked
// up under ~/.config/openclaw-chat and may be absent.
func Load(path string) (Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	v.SetDefault("gateway.url", "ws://127.0.0.1:18789")
	v.SetDefault("gateway.token", "")
	v.SetDefault("client.id", protocol.ClientIDControlUI)
	v.SetDefault("client.mode", protocol.ClientModeWebchat)
	v.SetDefault("client.version", "dev")
	v.SetDefault("client.platform", "")
	v.SetDefault("store.path", filepath.Join(home, ".local", "share", "openclaw-chat", "state.db"))
	v.SetDefault("store.passphrase", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("limits.requests_per_minute", ratelimit.DefaultRequestsPerMinute)

	v.SetConfigType("toml")

	explicit := path
	if explicit == "" {
		explicit = os.Getenv("OPENCLAW_CONFIG")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.AddConfigPath(filepath.Join(home, ".config", "openclaw-chat"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("OPENCLAW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// a missing default file is fine, a named one is not
		if explicit != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// NewLogger builds the process logger. Format "json" writes one JSON object
// per line; anything else writes human-readable console output.
func (c LogConfig) NewLogger(w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if c.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(c.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", c.Level, err)
		}
		level = parsed
	}

	out := w
	if c.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
