// Package config loads framechat configuration from TOML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/omochice/framechat/pkg/protocol"
)

// Config is the complete configuration of the client and the server.
type Config struct {
	Client ClientConfig `toml:"client"`
	Server ServerConfig `toml:"server"`
	Log    LogConfig    `toml:"log"`
}

// ClientConfig configures the chat client.
type ClientConfig struct {
	// Connect is dialled on startup when set.
	Connect string `toml:"connect"`
	// Username is registered after the startup connect when set.
	Username     string        `toml:"username"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	StopTimeout  time.Duration `toml:"stop_timeout"`
	MaxFrameSize uint32        `toml:"max_frame_size"`
	HistoryFile  string        `toml:"history_file"`
}

// ServerConfig configures the relay server.
type ServerConfig struct {
	Listen string `toml:"listen"`
	// MetricsListen serves /metrics when set.
	MetricsListen  string `toml:"metrics_listen"`
	MaxFrameSize   uint32 `toml:"max_frame_size"`
	Greeting       string `toml:"greeting"`
	OutgoingBuffer int    `toml:"outgoing_buffer"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			DialTimeout:  5 * time.Second,
			StopTimeout:  2 * time.Second,
			MaxFrameSize: protocol.DefaultMaxFrameSize,
			HistoryFile:  defaultHistoryFile(),
		},
		Server: ServerConfig{
			Listen:         ":7000",
			MaxFrameSize:   protocol.DefaultMaxFrameSize,
			Greeting:       "welcome to framechat",
			OutgoingBuffer: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "framechat"), nil
}

// DefaultPath returns the configuration file read when none is given.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func defaultHistoryFile() string {
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}

// Load reads the file at path over the defaults and validates the result.
// An empty path reads DefaultPath, which may be missing.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	if err := LoadFile(cfg, path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFile decodes the TOML file at path into cfg. Keys that match no
// setting are an error.
func LoadFile(cfg *Config, path string) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("failed to load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidationErrors
	invalid := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Client.Connect != "" && !strings.Contains(c.Client.Connect, ":") {
		invalid("client.connect", "%q is not host:port or a ws:// URL", c.Client.Connect)
	}
	if c.Client.DialTimeout <= 0 {
		invalid("client.dial_timeout", "must be positive, got %s", c.Client.DialTimeout)
	}
	if c.Client.StopTimeout <= 0 {
		invalid("client.stop_timeout", "must be positive, got %s", c.Client.StopTimeout)
	}
	if c.Client.MaxFrameSize == 0 {
		invalid("client.max_frame_size", "must be positive")
	}

	if c.Server.Listen == "" {
		invalid("server.listen", "must not be empty")
	}
	if c.Server.MaxFrameSize == 0 {
		invalid("server.max_frame_size", "must be positive")
	}
	if c.Server.OutgoingBuffer <= 0 {
		invalid("server.outgoing_buffer", "must be positive, got %d", c.Server.OutgoingBuffer)
	}

	if _, err := c.Log.level(); err != nil {
		invalid("log.level", "%v", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		invalid("log.format", "must be text or json, got %q", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("unknown level %q", l.Level)
	}
	return level, nil
}

// Logger builds a logger writing to w in the configured format.
func (l LogConfig) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
}
