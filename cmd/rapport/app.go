package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/rapport/internal/config"
	"github.com/haasonsaas/rapport/internal/contextproc"
	"github.com/haasonsaas/rapport/internal/dialogue"
	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/llm"
	"github.com/haasonsaas/rapport/internal/media"
	"github.com/haasonsaas/rapport/internal/memory"
	"github.com/haasonsaas/rapport/internal/observability"
	"github.com/haasonsaas/rapport/internal/relationship"
	"github.com/haasonsaas/rapport/internal/storage"
	"github.com/haasonsaas/rapport/internal/tools"
	"github.com/haasonsaas/rapport/internal/tools/builtin"
	"github.com/haasonsaas/rapport/pkg/models"
)

// app is the composition root: every component wired from one Config,
// torn down in reverse by Close.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	slogger *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	events  *observability.MemoryEventStore
	record  *observability.EventRecorder

	stores    storage.Stores
	client    llm.Client
	memory    *memory.Manager
	engine    *relationship.Engine
	scheduler *relationship.Scheduler
	registry  *tools.Registry
	discovery *tools.Discovery
	watcher   *tools.Watcher
	invoker   *tools.Invoker
	decider   tools.Decider
	dialogue  *dialogue.Manager

	traceShutdown func(context.Context) error
	metricsSrv    *http.Server
}

// newApp assembles the engine from cfg. Components that need a model
// call fail lazily, so catalog and memory commands work without keys.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.logger = observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	a.slogger = slog.Default()

	// A private registry keeps newApp re-entrant; the exposition
	// endpoint serves it directly.
	reg := prometheus.NewRegistry()
	a.metrics = observability.NewMetricsWith(reg)
	a.events = observability.NewMemoryEventStore(0)
	a.record = observability.NewEventRecorder(a.events, a.logger)

	a.tracer, a.traceShutdown = observability.NewTracer(observability.TraceConfig{
		ServiceName:    traceServiceName(cfg),
		ServiceVersion: version,
		Endpoint:       traceEndpoint(cfg),
		SamplingRate:   cfg.Tracing.SampleRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	stores, err := openStores(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.stores = stores

	a.client, err = llm.New(llm.Config{
		Provider: cfg.Model.Provider,
		Model:    cfg.Model.Name,
		APIKey:   cfg.Model.APIKey,
		BaseURL:  cfg.Model.BaseURL,
	})
	if err != nil {
		a.slogger.Warn("model client unavailable", "error", err)
		a.client = unavailableClient{cause: err}
	}

	a.memory, err = memory.NewManager(memoryConfig(cfg), stores.MemoryItems, a.slogger)
	if err != nil {
		a.closePartial(ctx)
		return nil, fmt.Errorf("memory manager: %w", err)
	}
	if err := a.memory.ReloadAll(ctx); err != nil {
		a.slogger.Warn("memory reload from storage failed", "error", err)
	}
	if path := cfg.Memory.PersistPath; path != "" {
		if err := a.memory.Default().LoadFile(ctx, path); err != nil {
			a.slogger.Warn("memory snapshot load failed", "path", path, "error", err)
		}
	}

	a.engine, err = relationship.NewEngine(relationship.Config{
		Weights: relationship.Weights{
			Interaction:   cfg.Relationship.Weights.Interaction,
			Emotional:     cfg.Relationship.Weights.Emotional,
			Collaboration: cfg.Relationship.Weights.Collaboration,
		},
		SilentThresholdDays:  cfg.Relationship.SilentThresholdDays,
		CoolingThresholdDays: cfg.Relationship.CoolingThresholdDays,
		ActiveMinRounds:      cfg.Relationship.ActiveMinRounds,
		PersistPath:          cfg.Relationship.PersistPath,
	}, stores.Tasks, stores.Relationships, a.slogger)
	if err != nil {
		a.closePartial(ctx)
		return nil, fmt.Errorf("relationship engine: %w", err)
	}
	a.engine.SetMetrics(a.metrics)
	if path := cfg.Relationship.PersistPath; path != "" {
		if err := a.engine.LoadFile(ctx, path); err != nil {
			a.slogger.Warn("relationship snapshot load failed", "path", path, "error", err)
		}
	}

	a.registry = tools.NewRegistry(a.slogger)
	if err := builtin.Register(a.registry, builtin.Deps{Memory: a.memory}); err != nil {
		a.closePartial(ctx)
		return nil, fmt.Errorf("builtin tools: %w", err)
	}
	if roots := cfg.Tools.DiscoveryPaths; len(roots) > 0 {
		a.discovery = tools.NewDiscovery(a.registry, roots, a.slogger)
		if _, err := a.discovery.Scan(); err != nil {
			a.slogger.Warn("tool discovery scan failed", "error", err)
		}
		if cfg.Tools.Watch || cfg.Tools.AutoscanIntervalMS > 0 {
			interval := time.Duration(cfg.Tools.AutoscanIntervalMS) * time.Millisecond
			a.watcher = tools.NewWatcher(a.discovery, interval, cfg.Tools.Watch, a.slogger)
			if err := a.watcher.Start(); err != nil {
				a.slogger.Warn("tool watcher start failed", "error", err)
				a.watcher = nil
			}
		}
	}

	a.invoker = tools.NewInvoker(a.registry, media.NewMaterializer(a.slogger), tools.InvokerConfig{
		Timeout: time.Duration(cfg.Dialogue.ToolTimeoutMS) * time.Millisecond,
	}, a.slogger, a.metrics)
	a.decider = buildDecider(cfg, a.client, a.registry, a.slogger)

	a.dialogue, err = dialogue.NewManager(dialogue.Config{
		SystemPrompt:    cfg.Dialogue.SystemPrompt,
		HistoryLimit:    cfg.Dialogue.HistoryLimit,
		MaxToolCalls:    cfg.Dialogue.MaxToolCalls,
		RetryAttempts:   cfg.Dialogue.RetryAttempts,
		AffectiveTokens: cfg.Dialogue.AffectiveTokens,
		InjectMode:      contextproc.ParseMode(cfg.Context.InjectionPosition),
		Model:           cfg.Model.Name,
		Temperature:     cfg.Model.Temperature,
		MaxTokens:       cfg.Model.MaxTokens,
	}, dialogue.Deps{
		Sessions:      stores.Sessions,
		Turns:         stores.Turns,
		Client:        a.client,
		Decider:       a.decider,
		Invoker:       a.invoker,
		Processor:     contextproc.NewProcessor(a.slogger),
		Injector:      contextproc.NewInjector(injectorConfig(cfg), a.slogger),
		Relationships: a.engine,
		Conversations: a.memory.Conversations(),
		Metrics:       a.metrics,
		Logger:        a.slogger,
	})
	if err != nil {
		a.closePartial(ctx)
		return nil, fmt.Errorf("dialogue manager: %w", err)
	}

	if cfg.Relationship.Scheduler.Enabled {
		a.scheduler = relationship.NewScheduler(a.engine, a.taskExecutor(), relationship.SchedulerConfig{
			PollInterval:   cfg.Relationship.Scheduler.PollInterval,
			MaxConcurrency: cfg.Relationship.Scheduler.MaxConcurrency,
			TaskTimeout:    cfg.Relationship.Scheduler.TaskTimeout,
			SweepSchedule:  cfg.Relationship.Scheduler.SweepSchedule,
		})
		if err := a.scheduler.Start(ctx); err != nil {
			a.slogger.Warn("relationship scheduler start failed", "error", err)
			a.scheduler = nil
		}
	}

	if cfg.Metrics.Enabled {
		if err := a.serveMetrics(reg); err != nil {
			a.slogger.Warn("metrics endpoint unavailable", "addr", cfg.Metrics.Addr, "error", err)
		}
	}

	return a, nil
}

// taskExecutor drafts a short proactive opener for the task's pair and
// files it in the default memory store, where the recall tool surfaces
// it on the next conversation.
func (a *app) taskExecutor() relationship.ExecutorFunc {
	return func(ctx context.Context, task *models.RelationshipTask, rel *models.Relationship) error {
		system := strings.TrimSpace(a.cfg.Dialogue.SystemPrompt)
		if block := a.engine.ContextFor(ctx, rel.AID, rel.BID); block != "" {
			system = strings.TrimSpace(system + "\n\n" + block)
		}
		res, err := a.client.Generate(ctx, &llm.GenerateRequest{
			Model:  a.cfg.Model.Name,
			System: system,
			Messages: []llm.Message{{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("Draft a one-sentence opener for this follow-up: %s. %s", task.Title, task.Description),
			}},
			MaxTokens: 256,
		})
		if err != nil {
			return err
		}
		_, err = a.memory.Default().Add(ctx, res.Text, map[string]any{
			"source":          "relationship_task",
			"template":        task.Template,
			"relationship_id": rel.ID,
		})
		return err
	}
}

func (a *app) serveMetrics(reg *prometheus.Registry) error {
	addr := a.cfg.Metrics.Addr
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.slogger.Warn("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Close flushes snapshots and stops background work. Errors are joined
// so one failed teardown never hides another.
func (a *app) Close(ctx context.Context) error {
	var errsAll []error
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errsAll = append(errsAll, fmt.Errorf("scheduler stop: %w", err))
		}
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errsAll = append(errsAll, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if a.engine != nil && a.cfg.Relationship.PersistPath != "" {
		if err := a.engine.Save(ctx); err != nil {
			errsAll = append(errsAll, fmt.Errorf("relationship save: %w", err))
		}
	}
	if a.memory != nil && a.cfg.Memory.PersistPath != "" {
		if err := a.memory.Default().SaveFile(ctx, a.cfg.Memory.PersistPath); err != nil {
			errsAll = append(errsAll, fmt.Errorf("memory save: %w", err))
		}
	}
	if a.traceShutdown != nil {
		if err := a.traceShutdown(ctx); err != nil {
			errsAll = append(errsAll, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if err := a.stores.Close(); err != nil {
		errsAll = append(errsAll, fmt.Errorf("stores close: %w", err))
	}
	return errors.Join(errsAll...)
}

// closePartial tears down what a failed newApp already built.
func (a *app) closePartial(ctx context.Context) {
	if a.traceShutdown != nil {
		_ = a.traceShutdown(ctx)
	}
	_ = a.stores.Close()
}

func openStores(cfg config.StorageConfig) (storage.Stores, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return storage.NewMemoryStores(), nil
	case "sqlite":
		return storage.NewSQLiteStores(cfg.Path)
	default:
		return storage.Stores{}, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func memoryConfig(cfg *config.Config) memory.Config {
	mc := memory.Config{
		ConversationLimit: cfg.Memory.ConversationLimit,
		Capacity:          cfg.Memory.Capacity,
	}
	if cfg.Embedding.Enabled {
		mc.Embeddings = &memory.EmbeddingsConfig{
			Provider: cfg.Embedding.Provider,
			APIKey:   cfg.Embedding.APIKey,
			BaseURL:  cfg.Embedding.BaseURL,
			Model:    cfg.Embedding.Model,
		}
	}
	return mc
}

func injectorConfig(cfg *config.Config) contextproc.InjectorConfig {
	return contextproc.InjectorConfig{
		Enabled:          cfg.Context.Enabled,
		MaxContextTokens: cfg.Context.MaxContextTokens,
		Priority:         contextproc.Priority(cfg.Context.Priority),
	}
}

func buildDecider(cfg *config.Config, client llm.Client, registry *tools.Registry, logger *slog.Logger) tools.Decider {
	if strings.EqualFold(cfg.Dialogue.ToolDecisionMode, "model") {
		return tools.NewModelDecider(client, cfg.Model.Name, registry, logger)
	}
	return tools.NewRuleDecider(registry, cfg.Tools.MinDecisionLength, logger)
}

func traceServiceName(cfg *config.Config) string {
	if cfg.Tracing.ServiceName != "" {
		return cfg.Tracing.ServiceName
	}
	return "rapport"
}

func traceEndpoint(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.Endpoint
}

// unavailableClient reports a model construction failure at call time,
// so commands that never generate run without model credentials.
type unavailableClient struct{ cause error }

func (u unavailableClient) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	return nil, errs.E(errs.KindUnavailable, "llm.client", u.cause.Error())
}

func (u unavailableClient) Name() string { return "unavailable" }
