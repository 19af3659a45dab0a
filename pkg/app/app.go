// Package app assembles the service from configuration: LLM providers,
// prompts, memory, the agent team, workflows, persistence, and the HTTP
// server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/climatepath/pendo/pkg/agent"
	"github.com/climatepath/pendo/pkg/auth"
	"github.com/climatepath/pendo/pkg/cache"
	"github.com/climatepath/pendo/pkg/config"
	"github.com/climatepath/pendo/pkg/llms"
	"github.com/climatepath/pendo/pkg/memory"
	"github.com/climatepath/pendo/pkg/observability"
	"github.com/climatepath/pendo/pkg/prompts"
	"github.com/climatepath/pendo/pkg/server"
	"github.com/climatepath/pendo/pkg/session"
	"github.com/climatepath/pendo/pkg/store"
	"github.com/climatepath/pendo/pkg/vector"
	"github.com/climatepath/pendo/pkg/workflow"
)

const sessionPurgeInterval = 10 * time.Minute

// App is the fully wired service.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Providers  *llms.ProviderRegistry
	Prompts    *prompts.Registry
	Team       *agent.Team
	Supervisor *agent.Supervisor
	Runner     *workflow.Runner
	Store      store.Store
	Sessions   *session.Tracker
	Cache      *cache.Cache
	Metrics    *observability.Metrics
	Server     *server.Server

	tracerShutdown func(context.Context) error
}

// New wires the service. The returned App owns its resources; call Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.buildProviders(cfg); err != nil {
		return nil, err
	}
	defaultProvider, ok := a.Providers.Get(cfg.DefaultLLM)
	if !ok {
		a.Close()
		return nil, fmt.Errorf("app: default_llm %q is not configured", cfg.DefaultLLM)
	}
	var embedder memory.Embedder
	if cfg.EmbeddingLLM != "" {
		p, ok := a.Providers.Get(cfg.EmbeddingLLM)
		if !ok {
			a.Close()
			return nil, fmt.Errorf("app: embedding_llm %q is not configured", cfg.EmbeddingLLM)
		}
		embedder = p
	}

	a.Prompts = prompts.NewRegistry()
	if err := a.Prompts.Load(cfg.PromptDir); err != nil {
		a.Close()
		return nil, err
	}

	newIndex := func(agentID string) (vector.Index, error) {
		collection := cfg.Vector.Collection
		if collection == "" {
			collection = "pendo"
		}
		return vector.NewIndex(&cfg.Vector, collection+"_"+agentID)
	}
	mem := memory.NewManager(embedder, newIndex, logger)

	if cfg.Observability.MetricsEnabled {
		a.Metrics = observability.NewMetrics()
	}
	deps := agent.Deps{
		Provider: defaultProvider,
		Prompts:  a.Prompts,
		Memory:   mem,
		Logger:   logger,
	}
	// A nil *Metrics must not reach the interface field.
	if a.Metrics != nil {
		deps.Usage = a.Metrics
	}
	team, supervisor, err := agent.BuildTeam(deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Team = team
	a.Supervisor = supervisor

	if err := a.buildStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	supervisorWF, err := workflow.NewSupervisor(supervisor, a.Prompts, a.Store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	empathyWF, err := workflow.NewEmpathy(supervisor, defaultProvider, a.Prompts, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Runner = workflow.NewRunner(supervisorWF, empathyWF, supervisor, a.Store, logger)

	a.Cache, err = cache.New(&cfg.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Runner.SetCache(a.Cache)
	a.Sessions = session.NewTracker(&cfg.Session)

	tracer, shutdown, err := observability.NewTracer(cfg.Observability.TracingEnabled, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tracerShutdown = shutdown
	if cfg.Observability.TracingEnabled {
		a.Runner.SetTracer(tracer)
	}

	validator, err := auth.NewValidator(ctx, &cfg.Auth)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Server = server.New(server.Deps{
		Config:    cfg.Server,
		Runner:    a.Runner,
		Sessions:  a.Sessions,
		Store:     a.Store,
		Cache:     a.Cache,
		Metrics:   a.Metrics,
		Validator: validator,
		Logger:    logger,
	})
	return a, nil
}

func (a *App) buildProviders(cfg *config.Config) error {
	a.Providers = llms.NewProviderRegistry()
	if len(cfg.LLMs) == 0 {
		return fmt.Errorf("app: at least one llm must be configured")
	}
	for name, llmCfg := range cfg.LLMs {
		if _, err := a.Providers.CreateFromConfig(name, llmCfg); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) buildStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Driver == "" || cfg.Store.Driver == "memory" {
		a.Store = store.NewMemoryStore()
		return nil
	}
	s, err := store.OpenSQL(ctx, &cfg.Store)
	if err != nil {
		return err
	}
	a.Store = s
	return nil
}

// Run serves HTTP until ctx is cancelled, purging expired sessions in the
// background.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server.ListenAndServe(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(sessionPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := a.Sessions.Purge(); n > 0 {
					a.Logger.Debug("purged expired sessions", "count", n)
				}
			}
		}
	})
	return g.Wait()
}

// Close releases providers, storage, and the tracer.
func (a *App) Close() error {
	var firstErr error
	if a.Providers != nil {
		if err := a.Providers.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
