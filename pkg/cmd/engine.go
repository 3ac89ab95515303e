package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/dukex/flowpilot/pkg/driver"
	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/llm"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/planner"
	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/router"
	"go.opentelemetry.io/otel/trace"
)

var errNoLanguageModel = errors.New("no language model configured")

// EngineConfig collects the settings shared by the API and worker binaries.
type EngineConfig struct {
	ServiceName       string
	DatabaseURL       string
	QueueURL          string
	EventBus          string
	KafkaBrokers      string
	CataloguePath     string
	CatalogueCacheTTL time.Duration
	PluginsPath       string
	LLM               llm.Config
}

// Engine is the wired set of components a flowpilot process runs on.
type Engine struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Queue       queue.Queue
	Locker      queue.Locker
	Registry    registry.Registry
	Driver      *driver.Driver
	Planner     *planner.Planner
	Tracer      trace.Tracer

	shutdownTracer func(context.Context) error
}

// NewEngine builds every component from cfg. Without a language model the planner
// rejects requests and ai_decision steps fall back to the heuristic interpreter.
func NewEngine(ctx context.Context, logger *slog.Logger, cfg EngineConfig) *Engine {
	e := &Engine{
		Persistence: NewPersistence(ctx, logger, cfg.DatabaseURL),
		EventBus:    NewEventBus(logger, cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName),
		Registry:    NewRegistry(logger, cfg.CataloguePath, cfg.CatalogueCacheTTL),
		Tracer:      otelhelper.Tracer(),
	}

	e.Queue, e.Locker = NewQueue(logger, cfg.QueueURL)

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, cfg.ServiceName)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to set up tracing, continuing without it", "error", err)
		} else {
			e.Tracer, e.shutdownTracer = tracer, shutdown
		}
	}

	var (
		generator   planner.Generator
		interpreter driver.Interpreter = driver.HeuristicInterpreter{}
	)

	if cfg.LLM.Model != "" {
		model, err := llm.NewLanguageModel(ctx, cfg.LLM)
		if err != nil {
			panic(err)
		}

		generator = planner.NewFantasyGenerator(model)
		interpreter = driver.NewFantasyInterpreter(model)
	} else {
		logger.WarnContext(ctx, "No language model configured, planning is disabled")

		generator = planner.GeneratorFunc(func(context.Context, planner.GenerationRequest) (*planner.Draft, error) {
			return nil, errNoLanguageModel
		})
	}

	handlers := NewHandlers(logger, cfg.PluginsPath)

	e.Driver = driver.New(driver.Dependencies{
		Logger:      logger,
		Persistence: e.Persistence,
		Registry:    e.Registry,
		Router: router.New(logger, e.Registry, handlers,
			router.WithSecrets(router.EnvSecrets{}),
			router.WithTracer(e.Tracer),
		),
		Queue:       e.Queue,
		Locker:      e.Locker,
		Publisher:   eventbus.NewPublisher(logger, e.EventBus),
		Interpreter: interpreter,
		Tracer:      e.Tracer,
	})

	e.Planner = planner.New(planner.Dependencies{
		Logger:      logger,
		Persistence: e.Persistence,
		Registry:    e.Registry,
		Generator:   generator,
		Queue:       e.Queue,
		Tracer:      e.Tracer,
	})

	return e
}

// Close releases the queue, event bus, persistence and tracer, logging every failure.
func (e *Engine) Close(ctx context.Context, logger *slog.Logger) {
	if err := e.Queue.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close queue", "error", err)
	}

	if err := e.EventBus.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := e.Persistence.Close(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}

	if e.shutdownTracer != nil {
		if err := e.shutdownTracer(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
		}
	}
}
