// Package config provides the configuration schema and loader for the
// voice-agent server.
//
// Configuration is environment-first: every key in [FromEnv] overrides the
// corresponding field loaded from an optional YAML file, so a bare deployment
// needs no file at all.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	Call      CallConfig      `yaml:"call"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally reachable base URL used by the inbound-call
	// webhook to build the media-stream WSS URL (host only, no scheme
	// required; an "https://", "http://" or "wss://" prefix and one trailing
	// slash are stripped).
	PublicURL string `yaml:"public_url"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// LLMConfig configures the realtime model socket.
type LLMConfig struct {
	// APIKey is the bearer token for the realtime WebSocket.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier sent as a query parameter.
	Model string `yaml:"model"`

	// Voice selects the voice timbre for synthesized speech.
	Voice string `yaml:"voice"`

	// BaseURL overrides the provider's default endpoint. Leave empty for the
	// built-in default.
	BaseURL string `yaml:"base_url"`
}

// TelephonyConfig configures the inbound telephony surface.
type TelephonyConfig struct {
	// AuthToken is the shared secret for webhook signature verification,
	// performed by the deployment's edge — it is carried here so the webhook
	// handler can expose it to that layer.
	AuthToken string `yaml:"auth_token"`
}

// CacheConfig configures the ephemeral session cache.
type CacheConfig struct {
	// URL is the Redis connection string, e.g. "redis://localhost:6379/0".
	URL string `yaml:"url"`
}

// DatabaseConfig configures the booking store.
type DatabaseConfig struct {
	// Path is the SQLite file holding the appointments relation.
	Path string `yaml:"path"`
}

// CallConfig holds per-call policy.
type CallConfig struct {
	// MaxDurationMinutes is the hard call-duration ceiling. Default 5.
	MaxDurationMinutes int `yaml:"max_duration_minutes"`
}

// MaxDuration returns the call ceiling as a duration.
func (c CallConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMinutes) * time.Minute
}

// Default returns a Config populated with built-in defaults. Loaders overlay
// file and environment values on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   "info",
		},
		LLM: LLMConfig{
			Model: "gpt-4o-realtime-preview",
			Voice: "alloy",
		},
		Cache: CacheConfig{
			URL: "redis://localhost:6379/0",
		},
		Database: DatabaseConfig{
			Path: "appointments.db",
		},
		Call: CallConfig{
			MaxDurationMinutes: 5,
		},
	}
}
