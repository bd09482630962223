// Package app wires all Voxline subsystems into a running orchestrator.
//
// The App struct owns the full lifecycle: New connects the store, pools,
// router, turn engine and tool executor; Run serves the operational HTTP
// surface and runs the background loops; Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithStore,
// WithTelephony, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/events"
	"github.com/voxline-ai/voxline/internal/health"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/internal/pool"
	"github.com/voxline-ai/voxline/internal/router"
	"github.com/voxline-ai/voxline/internal/session"
	"github.com/voxline-ai/voxline/internal/store"
	"github.com/voxline-ai/voxline/internal/synth"
	"github.com/voxline-ai/voxline/internal/telephony"
	"github.com/voxline-ai/voxline/internal/tools"
	"github.com/voxline-ai/voxline/internal/transcribe"
	"github.com/voxline-ai/voxline/internal/turn"
	"github.com/voxline-ai/voxline/pkg/provider/stt"
	"github.com/voxline-ai/voxline/pkg/provider/tts"
	"github.com/voxline-ai/voxline/pkg/types"
)

// Providers holds the external speech and LLM providers, populated by
// main.go from the config. LLM entries are in fallback order.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider
	LLM []turn.ProviderEntry
}

// App owns all subsystem lifetimes and orchestrates turns.
type App struct {
	cfg       *config.Config
	providers *Providers

	store     store.Store
	directory store.TenantDirectory
	tel       telephony.Controller
	publisher *events.Publisher
	metrics   *observe.Metrics

	sttPool *pool.Pool[stt.Conn]
	ttsPool *pool.Pool[tts.Conn]

	router   *router.Router
	engine   *turn.Engine
	exec     *tools.Executor
	registry *session.Registry

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDirectory injects a tenant directory instead of creating one from
// config.
func WithDirectory(d store.TenantDirectory) Option {
	return func(a *App) { a.directory = d }
}

// WithTelephony injects a telephony controller.
func WithTelephony(c telephony.Controller) Option {
	return func(a *App) { a.tel = c }
}

// WithPublisher injects an event publisher.
func WithPublisher(p *events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics injects a metrics instance, mainly to isolate tests from the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go. Initialisation is synchronous: store
// connection, pool construction, router and engine assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initTelephony(); err != nil {
		return nil, fmt.Errorf("app: init telephony: %w", err)
	}
	a.initPublisher()
	a.initPools()
	if err := a.initRouter(); err != nil {
		return nil, fmt.Errorf("app: init router: %w", err)
	}
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init turn engine: %w", err)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.exec = tools.NewExecutor(a.store, a.tel)
	a.registry = session.NewRegistry(session.RegistryConfig{
		IdleTTL:       cfg.Session.IdleTTL.Std(),
		SweepInterval: cfg.Session.SweepInterval.Std(),
		OnEvict:       a.sessionEvicted,
	})

	return a, nil
}

// initStore connects the Postgres store or falls back to the in-memory one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil && a.directory != nil {
		return nil
	}

	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		if a.store == nil {
			a.store = pg
		}
		if a.directory == nil {
			a.directory = pg
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		return nil
	}

	mem := store.NewMemoryStore()
	if a.store == nil {
		a.store = mem
	}
	if a.directory == nil {
		a.directory = mem
	}
	return nil
}

// initTelephony builds the call control client when configured. a.tel stays
// nil otherwise; the tool executor degrades transfer and hangup gracefully.
func (a *App) initTelephony() error {
	if a.tel != nil || a.cfg.Telephony.BaseURL == "" {
		return nil
	}
	ctrl, err := telephony.NewHTTPController(telephony.HTTPControllerConfig{
		BaseURL: a.cfg.Telephony.BaseURL,
		APIKey:  a.cfg.Telephony.AuthToken,
	})
	if err != nil {
		return err
	}
	a.tel = ctrl
	return nil
}

func (a *App) initPublisher() {
	if a.publisher != nil {
		return
	}
	a.publisher = events.NewPublisher(events.Config{
		Brokers: a.cfg.Events.Brokers,
		Topic:   a.cfg.Events.Topic,
	})
	a.closers = append(a.closers, a.publisher.Close)
}

// defaultStreamConfig is the audio format for telephony media: 8 kHz mu-law
// mono, the narrowband format carriers deliver.
var defaultStreamConfig = stt.StreamConfig{
	SampleRate:     8000,
	Encoding:       "mulaw",
	Channels:       1,
	Language:       "en-US",
	UtteranceEndMs: 1000,
}

// initPools builds the speech connection pools. A nil provider leaves the
// pool nil; chat-only deployments never touch them.
func (a *App) initPools() {
	if a.providers.STT != nil {
		cfg := a.cfg.Pools.STT
		a.sttPool = pool.New(pool.Config{
			Name:    "stt",
			Min:     cfg.Min,
			Max:     cfg.Max,
			MaxIdle: cfg.MaxIdle.Std(),
		}, func(ctx context.Context) (stt.Conn, error) {
			return a.providers.STT.Dial(ctx, defaultStreamConfig)
		})
	}
	if a.providers.TTS != nil {
		cfg := a.cfg.Pools.TTS
		voice := tts.VoiceConfig{
			VoiceID:      optString(a.cfg.Providers.TTS.Options, "voice_id"),
			OutputFormat: optString(a.cfg.Providers.TTS.Options, "output_format"),
		}
		a.ttsPool = pool.New(pool.Config{
			Name:    "tts",
			Min:     cfg.Min,
			Max:     cfg.Max,
			MaxIdle: cfg.MaxIdle.Std(),
		}, func(ctx context.Context) (tts.Conn, error) {
			return a.providers.TTS.Dial(ctx, voice)
		})
	}
}

// initRouter assembles the strategy chain: templates first, then the fast
// classifier when configured, then keyword heuristics.
func (a *App) initRouter() error {
	strategies := []router.Strategy{router.NewTemplates()}
	if a.cfg.Classifier.Endpoint != "" {
		clf, err := router.NewClassifier(router.ClassifierConfig{
			Endpoint:       a.cfg.Classifier.Endpoint,
			HealthTTL:      a.cfg.Classifier.HealthTTL.Std(),
			RequestTimeout: a.cfg.Classifier.RequestTimeout.Std(),
			RetryBudget:    a.cfg.Classifier.RetryBudget,
		})
		if err != nil {
			return err
		}
		strategies = append(strategies, clf)
	}
	strategies = append(strategies, router.NewHeuristic())
	a.router = router.New(strategies...)
	return nil
}

func (a *App) initEngine() error {
	engine, err := turn.New(turn.Config{
		AttemptTimeout:   a.cfg.Turn.AttemptTimeout.Std(),
		BreakerThreshold: a.cfg.Turn.BreakerThreshold,
		BreakerCooldown:  a.cfg.Turn.BreakerCooldown.Std(),
	}, a.providers.LLM...)
	if err != nil {
		return err
	}
	a.engine = engine
	return nil
}

// optString reads a string value from a provider options map.
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// StartCall registers a new voice call session and brings up its audio
// pipelines: a transcription stream and a synthesis stream, each backed by
// the connection pools.
func (a *App) StartCall(ctx context.Context, tenantID, callID string, caller types.CallerInfo) (*session.Session, error) {
	if a.sttPool == nil || a.ttsPool == nil {
		return nil, fmt.Errorf("app: voice calls need stt and tts providers configured")
	}

	tenant, err := a.directory.Lookup(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("app: start call %s: %w", callID, err)
	}

	s, created, err := a.registry.GetOrCreate(callID, func() (*session.Session, error) {
		s := session.New(callID, tenantID, tenant, true)
		s.Caller = caller
		s.Transcriber = transcribe.NewSession(transcribe.Config{
			Pool:   a.sttPool,
			CallID: callID,
			OnClose: func(err error) {
				slog.Error("transcription stream gave up", "call_id", callID, "error", err)
				a.metrics.RecordReconnect(context.Background(), "exhausted")
			},
		})
		s.Synth = synth.NewSession(synth.Config{
			Pool:   a.ttsPool,
			CallID: callID,
			OnFirstAudio: func(elapsed time.Duration) {
				a.metrics.RecordTTS(context.Background(), tenantID, elapsed.Seconds())
			},
		})
		s.Exec = a.exec.Bind(a.sessionContext(s))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return s, nil
	}

	if err := s.Transcriber.Start(ctx); err != nil {
		a.registry.Remove(callID)
		return nil, fmt.Errorf("app: start call %s: %w", callID, err)
	}
	if err := s.Synth.Connect(ctx); err != nil {
		a.registry.Remove(callID)
		return nil, fmt.Errorf("app: start call %s: %w", callID, err)
	}

	go a.runCallTurns(s)

	a.metrics.SessionStarted(ctx, true)
	a.publishLifecycle(ctx, s, events.TypeSessionStarted)
	slog.Info("call started", "call_id", callID, "tenant_id", tenantID)
	return s, nil
}

// runCallTurns consumes the call's transcription stream. Final transcript
// segments accumulate until the provider signals the utterance end, which
// triggers a turn. Speech onset soft-cancels any in-flight synthesis so the
// caller can barge in over the agent. Exits when the stream closes.
func (a *App) runCallTurns(s *session.Session) {
	var (
		pending     []string
		speechStart time.Time
	)
	for ev := range s.Transcriber.Events() {
		switch ev.Type {
		case stt.EventSpeechStarted:
			speechStart = time.Now()
			if s.Synth != nil {
				s.Synth.Cancel()
			}
		case stt.EventTranscript:
			if ev.Transcript.IsFinal && strings.TrimSpace(ev.Transcript.Text) != "" {
				pending = append(pending, ev.Transcript.Text)
			}
		case stt.EventSpeechEnded:
			if len(pending) == 0 {
				continue
			}
			if !speechStart.IsZero() {
				a.metrics.RecordSTT(context.Background(), s.TenantID,
					time.Since(speechStart).Seconds())
				speechStart = time.Time{}
			}
			utterance := strings.Join(pending, " ")
			pending = nil
			if _, err := a.ProcessTurn(context.Background(), s.ID, utterance); err != nil {
				slog.Warn("turn failed", "call_id", s.ID, "error", err)
			}
		}
	}
}

// StartChat registers a new chat session. No audio pipelines are created.
func (a *App) StartChat(ctx context.Context, tenantID, chatID string, caller types.CallerInfo) (*session.Session, error) {
	tenant, err := a.directory.Lookup(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("app: start chat %s: %w", chatID, err)
	}

	s, created, err := a.registry.GetOrCreate(chatID, func() (*session.Session, error) {
		s := session.New(chatID, tenantID, tenant, false)
		s.Caller = caller
		s.Exec = a.exec.Bind(a.sessionContext(s))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		a.metrics.SessionStarted(ctx, false)
		a.publishLifecycle(ctx, s, events.TypeSessionStarted)
		slog.Info("chat started", "chat_id", chatID, "tenant_id", tenantID)
	}
	return s, nil
}

// sessionContext builds the tool executor binding for a session. The
// executor decides from this which tools the session is offered.
func (a *App) sessionContext(s *session.Session) tools.SessionContext {
	return tools.SessionContext{
		TenantID:  s.TenantID,
		SessionID: s.ID,
		Tenant:    s.Tenant,
		Caller:    s.Caller,
		IsCall:    s.IsCall,
	}
}

// EndSession removes the session and tears down its pipelines. Unknown ids
// are a no-op so telephony hangup webhooks can be retried safely.
func (a *App) EndSession(ctx context.Context, sessionID string) {
	s, ok := a.registry.Remove(sessionID)
	if !ok {
		return
	}
	a.metrics.SessionEnded(ctx, s.IsCall)
	a.publishLifecycle(ctx, s, events.TypeSessionEnded)
	slog.Info("session ended", "session_id", sessionID, "tenant_id", s.TenantID)
}

// sessionEvicted handles registry inactivity evictions.
func (a *App) sessionEvicted(s *session.Session) {
	ctx := context.Background()
	a.metrics.SessionEnded(ctx, s.IsCall)
	a.publishLifecycle(ctx, s, events.TypeSessionEnded)
}

func (a *App) publishLifecycle(ctx context.Context, s *session.Session, eventType string) {
	if err := a.publisher.Publish(ctx, events.Event{
		Type:      eventType,
		TenantID:  s.TenantID,
		SessionID: s.ID,
	}); err != nil {
		slog.Warn("lifecycle event publish failed", "type", eventType, "session_id", s.ID, "error", err)
	}
}

// Session looks up an active session.
func (a *App) Session(sessionID string) (*session.Session, bool) {
	return a.registry.Get(sessionID)
}

// Status is the document served on /statusz.
type Status struct {
	Sessions  []session.Info    `json:"sessions"`
	Providers map[string]string `json:"llm_providers"`
	Pools     []pool.Stats      `json:"pools"`
}

// Status reports active sessions, provider breaker states and pool usage.
func (a *App) Status() Status {
	st := Status{
		Sessions:  a.registry.Snapshot(),
		Providers: a.engine.ProviderStates(),
	}
	if a.sttPool != nil {
		st.Pools = append(st.Pools, a.sttPool.Stats())
	}
	if a.ttsPool != nil {
		st.Pools = append(st.Pools, a.ttsPool.Stats())
	}
	return st
}

// Run serves the operational HTTP endpoints and runs the background loops
// (pool sweeps, session eviction) until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	handler := health.New(
		func() any { return a.Status() },
		health.Checker{Name: "store", Check: a.store.Ping},
		health.Checker{Name: "llm", Check: a.checkProviders},
	)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("operational endpoints listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.sttPool != nil {
		a.sttPool.Warm(ctx)
		g.Go(func() error { a.sttPool.Run(ctx); return nil })
	}
	if a.ttsPool != nil {
		a.ttsPool.Warm(ctx)
		g.Go(func() error { a.ttsPool.Run(ctx); return nil })
	}
	g.Go(func() error { a.registry.Run(ctx); return nil })

	return g.Wait()
}

// checkProviders reports ready while at least one LLM provider's breaker
// admits traffic.
func (a *App) checkProviders(context.Context) error {
	states := a.engine.ProviderStates()
	for _, state := range states {
		if state != "open" {
			return nil
		}
	}
	return fmt.Errorf("all %d llm provider breakers are open", len(states))
}

// Shutdown closes all subsystems in reverse-init order.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
