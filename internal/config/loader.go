package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Validate
// warns about unrecognised names rather than failing, so new providers can
// be rolled out without a code change here.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "mock"},
	"tts": {"elevenlabs", "mock"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "mistral", "groq", "deepseek", "mock"},
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in secrets, and validates the result. Unknown fields are
// rejected to catch typos.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets resolves "${VAR}" references in credential fields from the
// environment. Literal values pass through untouched.
func expandSecrets(cfg *Config) {
	cfg.Providers.STT.APIKey = expandEnv(cfg.Providers.STT.APIKey)
	cfg.Providers.TTS.APIKey = expandEnv(cfg.Providers.TTS.APIKey)
	for i := range cfg.Providers.LLM {
		cfg.Providers.LLM[i].APIKey = expandEnv(cfg.Providers.LLM[i].APIKey)
	}
	cfg.Telephony.AuthToken = expandEnv(cfg.Telephony.AuthToken)
	cfg.Store.PostgresDSN = expandEnv(cfg.Store.PostgresDSN)
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, p := range cfg.Providers.LLM {
		validateProviderName("llm", p.Name)
	}

	if len(cfg.Providers.LLM) == 0 {
		errs = append(errs, errors.New("providers.llm must list at least one provider"))
	}
	seen := make(map[string]int, len(cfg.Providers.LLM))
	for i, p := range cfg.Providers.LLM {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm[%d].name is required", i))
			continue
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("providers.llm[%d].name %q is a duplicate of providers.llm[%d]", i, p.Name, prev))
		}
		seen[p.Name] = i
	}

	for _, pool := range []struct {
		name string
		cfg  PoolConfig
	}{
		{"pools.stt", cfg.Pools.STT},
		{"pools.tts", cfg.Pools.TTS},
	} {
		if pool.cfg.Max < 0 {
			errs = append(errs, fmt.Errorf("%s.max must not be negative", pool.name))
		}
		if pool.cfg.Min < 0 {
			errs = append(errs, fmt.Errorf("%s.min must not be negative", pool.name))
		}
		if pool.cfg.Max > 0 && pool.cfg.Min > pool.cfg.Max {
			errs = append(errs, fmt.Errorf("%s.min %d exceeds max %d", pool.name, pool.cfg.Min, pool.cfg.Max))
		}
	}

	if cfg.Classifier.RetryBudget < 0 {
		errs = append(errs, errors.New("classifier.retry_budget must not be negative"))
	}
	if cfg.Turn.BreakerThreshold < 0 {
		errs = append(errs, errors.New("turn.breaker_threshold must not be negative"))
	}

	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; using the in-memory store, data is lost on restart")
	}
	if cfg.Telephony.BaseURL == "" {
		slog.Warn("telephony.base_url is empty; call transfer and hangup are disabled")
	}

	return errors.Join(errs...)
}

// validateProviderName warns about provider names not in
// [ValidProviderNames]. Unknown names are allowed.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name", "kind", kind, "name", name)
	}
}
