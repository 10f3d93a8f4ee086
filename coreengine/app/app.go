// Package app assembles the engine from Settings. The gRPC server and the CLI
// share it so both run the same pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/outreach/commbus"
	"github.com/jeeves-cluster-organization/outreach/coreengine/agents"
	"github.com/jeeves-cluster-organization/outreach/coreengine/cache"
	"github.com/jeeves-cluster-organization/outreach/coreengine/config"
	"github.com/jeeves-cluster-organization/outreach/coreengine/kernel"
	"github.com/jeeves-cluster-organization/outreach/coreengine/knowledge"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/logging"
	"github.com/jeeves-cluster-organization/outreach/coreengine/runtime"
	"github.com/jeeves-cluster-organization/outreach/coreengine/speech"
	"github.com/jeeves-cluster-organization/outreach/coreengine/tools"
)

const busQueryTimeout = 5 * time.Second

// Options replace collaborators that would otherwise be built from Settings.
type Options struct {
	LLM         llm.Provider
	Embedder    knowledge.Embedder
	Synthesizer speech.Synthesizer
	Store       knowledge.Store

	// Recorder, when set, sees every bus message.
	Recorder *commbus.Recorder

	// Cleanup overrides the background cleanup schedule.
	Cleanup *kernel.CleanupConfig
}

// App is a fully wired engine.
type App struct {
	Settings     *config.Settings
	Logger       logging.Logger
	Bus          *commbus.InMemoryCommBus
	Knowledge    *knowledge.Adapter
	Orchestrator *kernel.Orchestrator
	Runner       *runtime.Runner
	RateLimiter  *kernel.RateLimiter // nil when rate limiting is disabled

	stopCleanup func()
}

// New builds the engine. Collaborators with missing credentials degrade:
// no Gemini key means hash embeddings, no database path means an in-memory
// store, speech stays off without an OpenAI key.
func New(ctx context.Context, settings *config.Settings, logger logging.Logger, opts Options) (*App, error) {
	if settings == nil {
		return nil, errors.New("app: settings are required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	cfg := settings.Outreach
	infra := settings.Infra

	responses := cache.NewResponseCache(cache.Options{
		TTL:        cfg.CacheTTL(),
		MaxEntries: cfg.CacheMaxEntries,
		EvictBatch: cfg.CacheEvictBatch,
	})
	provider, err := buildProvider(settings, opts)
	if err != nil {
		return nil, err
	}
	cached := cache.NewProvider(provider, responses, logger)

	store, err := buildStore(infra, opts)
	if err != nil {
		return nil, err
	}
	embedder, err := buildEmbedder(ctx, infra, opts, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	memory := knowledge.NewAdapter(store, embedder, logger)

	executor := tools.NewToolExecutor()
	research := tools.NewResearch(tools.ResearchConfig{
		SearchURL: infra.SearchURL,
		MaxBytes:  int64(cfg.ScrapeMaxBytes),
		Timeout:   cfg.ResearchTimeoutDuration(),
	})
	if err := research.Register(executor); err != nil {
		_ = memory.Close()
		return nil, fmt.Errorf("app: register research tools: %w", err)
	}

	bus := commbus.NewInMemoryCommBus(busQueryTimeout, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))
	if opts.Recorder != nil {
		bus.AddMiddleware(opts.Recorder)
	}

	stages := kernel.NewStages(agents.Deps{
		LLM:       cached,
		Tools:     executor,
		Knowledge: memory,
		Config:    cfg,
		Logger:    logger,
	})
	orch := kernel.NewOrchestrator(stages, memory, bus, cfg, logger)
	if err := orch.RegisterHandlers(bus); err != nil {
		_ = memory.Close()
		return nil, fmt.Errorf("app: register bus handlers: %w", err)
	}

	runner := runtime.NewRunner(runtime.Deps{
		Pipeline:    orch,
		Router:      stages.Router,
		Bus:         bus,
		Transcripts: memory,
		Speech:      buildSynthesizer(settings, opts, logger),
		Config:      cfg,
		Logger:      logger,
	})

	a := &App{
		Settings:     settings,
		Logger:       logger,
		Bus:          bus,
		Knowledge:    memory,
		Orchestrator: orch,
		Runner:       runner,
	}

	cleanupCfg := kernel.DefaultCleanupConfig()
	if opts.Cleanup != nil {
		cleanupCfg = *opts.Cleanup
	}
	tasks := []kernel.CleanupTask{
		kernel.OrchestratorCleanup(orch, cleanupCfg.RunRetention),
		kernel.PurgeCleanup("response_cache", responses.PurgeExpired),
	}
	if cfg.RateLimitPerMinute > 0 {
		a.RateLimiter = kernel.NewRateLimiter(&kernel.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			RequestsPerHour:   cfg.RateLimitPerMinute * 20,
		})
		tasks = append(tasks, kernel.RateLimiterCleanup(a.RateLimiter))
	}
	a.stopCleanup = kernel.StartCleanupLoop(cleanupCfg, logger, tasks...)

	logger.Info("engine_ready",
		"model", cfg.DefaultModel,
		"store", storeKind(infra, opts),
		"embedder", embedder.Name(),
		"rate_limit_per_minute", cfg.RateLimitPerMinute,
	)
	return a, nil
}

// Close stops background work, waits for abandoned pipeline runs and closes
// the knowledge store.
func (a *App) Close() error {
	if a.stopCleanup != nil {
		a.stopCleanup()
		a.stopCleanup = nil
	}
	a.Runner.Wait()
	return a.Knowledge.Close()
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func buildProvider(settings *config.Settings, opts Options) (llm.Provider, error) {
	if opts.LLM != nil {
		return opts.LLM, nil
	}
	p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:       settings.Infra.OpenAIAPIKey,
		BaseURL:      settings.Infra.OpenAIBaseURL,
		DefaultModel: settings.Outreach.DefaultModel,
		Timeout:      time.Duration(settings.Outreach.LLMTimeout) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return p, nil
}

func buildStore(infra config.InfraConfig, opts Options) (knowledge.Store, error) {
	if opts.Store != nil {
		return opts.Store, nil
	}
	if infra.DatabasePath == "" {
		return knowledge.NewMemoryStore(), nil
	}
	s, err := knowledge.OpenSQLite(infra.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return s, nil
}

func storeKind(infra config.InfraConfig, opts Options) string {
	switch {
	case opts.Store != nil:
		return "custom"
	case infra.DatabasePath == "":
		return "memory"
	default:
		return "sqlite"
	}
}

func buildEmbedder(ctx context.Context, infra config.InfraConfig, opts Options, logger logging.Logger) (knowledge.Embedder, error) {
	if opts.Embedder != nil {
		return opts.Embedder, nil
	}
	if infra.GeminiAPIKey == "" {
		logger.Debug("embedder_fallback", "embedder", "hash", "reason", "no gemini api key")
		return knowledge.NewHashEmbedder(), nil
	}
	e, err := knowledge.NewGenAIEmbedder(ctx, knowledge.GenAIConfig{
		APIKey: infra.GeminiAPIKey,
		Model:  infra.EmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return e, nil
}

// buildSynthesizer returns nil when speech is disabled or unconfigured; the
// runtime then omits audio_ref.
func buildSynthesizer(settings *config.Settings, opts Options, logger logging.Logger) speech.Synthesizer {
	if !settings.Outreach.EnableSpeech {
		return nil
	}
	if opts.Synthesizer != nil {
		return opts.Synthesizer
	}
	s, err := speech.NewOpenAISynthesizer(speech.OpenAIConfig{
		APIKey:  settings.Infra.OpenAIAPIKey,
		BaseURL: settings.Infra.OpenAIBaseURL,
		Model:   settings.Infra.SpeechModel,
		Voice:   settings.Infra.SpeechVoice,
		Dir:     settings.Infra.SpeechDir,
	})
	if err != nil {
		logger.Warn("speech_disabled", "error", err.Error())
		return nil
	}
	return s
}
