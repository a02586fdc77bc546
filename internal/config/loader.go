package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// validLogLevels lists the accepted server.log_level values.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// Load builds the effective configuration: defaults, then the optional YAML
// file at path (skipped when path is empty), then environment variables, then
// validation. It is the single entry point used by main.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	FromEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays a YAML document from r onto cfg. Unknown fields are
// rejected so typos fail loudly.
func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// FromEnv overlays recognized environment variables onto cfg. Unset and empty
// variables leave the current value untouched.
func FromEnv(cfg *Config) {
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.LLM.Model, "LLM_REALTIME_MODEL")
	setString(&cfg.LLM.Voice, "LLM_VOICE")
	setString(&cfg.Telephony.AuthToken, "TELEPHONY_AUTH_TOKEN")
	setString(&cfg.Server.PublicURL, "PUBLIC_URL")
	setString(&cfg.Cache.URL, "SESSION_CACHE_URL")
	setString(&cfg.Database.Path, "DATABASE_PATH")
	setString(&cfg.Server.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.ListenAddr = ":" + v
	}
	if v := os.Getenv("MAX_CALL_DURATION_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("MAX_CALL_DURATION_MINUTES is not an integer; keeping current value",
				"value", v, "current", cfg.Call.MaxDurationMinutes)
		} else {
			cfg.Call.MaxDurationMinutes = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key (LLM_API_KEY) is required"))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Database.Path == "" {
		errs = append(errs, errors.New("database.path (DATABASE_PATH) is required"))
	}
	if cfg.Call.MaxDurationMinutes <= 0 {
		errs = append(errs, fmt.Errorf("call.max_duration_minutes %d must be positive", cfg.Call.MaxDurationMinutes))
	}
	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %s",
			cfg.Server.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	if cfg.Server.PublicURL == "" {
		slog.Warn("server.public_url (PUBLIC_URL) is empty; the inbound webhook cannot build a media-stream URL")
	}
	if cfg.Telephony.AuthToken == "" {
		slog.Warn("telephony.auth_token (TELEPHONY_AUTH_TOKEN) is empty; webhook signature verification is unavailable to the edge")
	}

	return errors.Join(errs...)
}

// PublicHost returns the public URL reduced to a bare host[:port], suitable
// for embedding in a wss:// URL.
func (c ServerConfig) PublicHost() string {
	host := c.PublicURL
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "wss://")
	return strings.TrimSuffix(host, "/")
}
