// Package config defines the Voxline YAML configuration schema and loader.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the orchestrator.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog.Level, defaulting to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Pools      PoolsConfig      `yaml:"pools"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Store      StoreConfig      `yaml:"store"`
	Events     EventsConfig     `yaml:"events"`
	Telephony  TelephonyConfig  `yaml:"telephony"`
	Session    SessionConfig    `yaml:"session"`
	Turn       TurnConfig       `yaml:"turn"`
}

// ServerConfig covers the HTTP operational surface.
type ServerConfig struct {
	// ListenAddr is the address for health, status and metrics endpoints.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig names the external speech and LLM providers.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// LLM lists completion providers in fallback order. The first entry is
	// the primary.
	LLM []ProviderEntry `yaml:"llm"`
}

// ProviderEntry configures one external provider.
type ProviderEntry struct {
	// Name identifies the provider implementation (e.g. "deepgram",
	// "elevenlabs", "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. Values like
	// "${OPENAI_API_KEY}" are expanded from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model or voice.
	Model string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// PoolsConfig sizes the speech connection pools.
type PoolsConfig struct {
	STT PoolConfig `yaml:"stt"`
	TTS PoolConfig `yaml:"tts"`
}

// PoolConfig sizes one connection pool.
type PoolConfig struct {
	// Min is the number of connections opened at warm-up.
	Min int `yaml:"min"`

	// Max bounds open connections, idle plus checked out.
	Max int `yaml:"max"`

	// MaxIdle is how long an idle connection survives before the sweep
	// closes it.
	MaxIdle Duration `yaml:"max_idle"`
}

// ClassifierConfig configures the fast intent classifier sidecar.
type ClassifierConfig struct {
	// Endpoint is the classifier base URL. Empty disables the classifier;
	// routing falls through to keyword heuristics and the LLM.
	Endpoint string `yaml:"endpoint"`

	// HealthTTL is how long a health probe result is trusted.
	HealthTTL Duration `yaml:"health_ttl"`

	// RequestTimeout bounds a single classify call.
	RequestTimeout Duration `yaml:"request_timeout"`

	// RetryBudget is the number of classify attempts per utterance.
	RetryBudget int `yaml:"retry_budget"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// PostgresDSN is the database connection string. Empty selects the
	// in-memory store, which loses data on restart.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EventsConfig configures the Kafka event publisher.
type EventsConfig struct {
	// Brokers lists Kafka bootstrap addresses. Empty disables publishing.
	Brokers []string `yaml:"brokers"`

	// Topic is the events topic.
	Topic string `yaml:"topic"`
}

// TelephonyConfig configures the telephony control API used for transfers
// and hangups. Empty BaseURL disables call control.
type TelephonyConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
}

// SessionConfig tunes session lifecycle.
type SessionConfig struct {
	// IdleTTL is how long a session may sit without a turn before eviction.
	IdleTTL Duration `yaml:"idle_ttl"`

	// SweepInterval is how often the eviction sweep runs.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// TurnConfig tunes the turn engine.
type TurnConfig struct {
	// AttemptTimeout bounds one provider attempt, including tool execution
	// and the replay completion.
	AttemptTimeout Duration `yaml:"attempt_timeout"`

	// BreakerThreshold is the consecutive failure count that opens a
	// provider's circuit breaker.
	BreakerThreshold int `yaml:"breaker_threshold"`

	// BreakerCooldown is how long an open breaker rejects before probing.
	BreakerCooldown Duration `yaml:"breaker_cooldown"`
}
