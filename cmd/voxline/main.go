// Command voxline is the main entry point for the Voxline agent
// orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxline-ai/voxline/internal/app"
	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/internal/turn"
	"github.com/voxline-ai/voxline/pkg/provider/llm"
	"github.com/voxline-ai/voxline/pkg/provider/llm/anyllm"
	"github.com/voxline-ai/voxline/pkg/provider/llm/openai"
	"github.com/voxline-ai/voxline/pkg/provider/stt/deepgram"
	"github.com/voxline-ai/voxline/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxline: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("voxline starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates the speech and LLM providers named in cfg.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		if entry.Name != "deepgram" {
			return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
		}
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create stt provider: %w", err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		if entry.Name != "elevenlabs" {
			return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
		}
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create tts provider: %w", err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}

	for i, entry := range cfg.Providers.LLM {
		p, err := buildLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q (index %d): %w", entry.Name, i, err)
		}
		ps.LLM = append(ps.LLM, turn.ProviderEntry{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model, "priority", i)
	}

	return ps, nil
}

// buildLLM constructs one completion provider. OpenAI gets the native
// client; everything else goes through the any-llm adapter.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "openai" {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level.Level(),
	}))
}

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
