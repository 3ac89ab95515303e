// Package router dispatches a resolved capability invocation to the back-end its type names
// and normalizes every outcome into a models.Result.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/router/direct"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeoutSeconds = 30

var (
	// ErrUnsupportedCapability is returned for a capability type without an adapter.
	ErrUnsupportedCapability = errors.New("unsupported capability type")
	// ErrMethodNotAllowed is returned for an outbound call using a method outside the allowed set.
	ErrMethodNotAllowed = errors.New("http method not allowed")
	// ErrCompositeDepth is returned when composite capabilities nest too deeply.
	ErrCompositeDepth = errors.New("composite nesting too deep")
	// ErrTemplate is returned when an outbound or notification template cannot be rendered.
	ErrTemplate = errors.New("capability template error")
)

// ExecutionContext identifies the flow and step an invocation belongs to.
type ExecutionContext struct {
	FlowID      string
	StepID      string
	TenantID    string
	UserID      string
	FlowContext map[string]any
}

// Adapter executes one capability variant.
type Adapter interface {
	Execute(ctx context.Context, capability *models.Capability, params map[string]any, execCtx ExecutionContext) (models.Result, error)
}

// Executor is the router as seen by its callers.
type Executor interface {
	Execute(ctx context.Context, capability *models.Capability, params map[string]any, execCtx ExecutionContext) (models.Result, error)
}

// Router selects an adapter by capability type.
type Router struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	adapters map[models.CapabilityType]Adapter
}

type options struct {
	client  *http.Client
	secrets SecretStore
	tracer  trace.Tracer
}

// Option configures a Router.
type Option func(*options)

// WithHTTPClient sets the client used by outbound and notification adapters.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithSecrets sets the per-tenant secret store visible to outbound templates.
func WithSecrets(secrets SecretStore) Option {
	return func(o *options) {
		o.secrets = secrets
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// New builds a router over the four capability variants. Composite hops are looked up in reg.
func New(logger *slog.Logger, reg registry.Registry, handlers *direct.Handlers, opts ...Option) *Router {
	o := &options{
		client:  &http.Client{},
		secrets: StaticSecrets{},
		tracer:  otelhelper.Tracer(),
	}

	for _, opt := range opts {
		opt(o)
	}

	logger = logger.With("module", "router")

	r := &Router{
		logger: logger,
		tracer: o.tracer,
	}

	r.adapters = map[models.CapabilityType]Adapter{
		models.CapabilityTypeDirect:       &directAdapter{handlers: handlers},
		models.CapabilityTypeOutboundCall: &outboundAdapter{client: o.client, secrets: o.secrets, logger: logger},
		models.CapabilityTypeComposite:    &compositeAdapter{router: r, registry: reg},
		models.CapabilityTypeNotification: &notificationAdapter{client: o.client, logger: logger, now: time.Now},
	}

	return r
}

// Execute runs the capability. A returned error is a configuration defect and must not be
// retried; a Result with Success false is a capability failure that may be retried.
func (r *Router) Execute(
	ctx context.Context,
	capability *models.Capability,
	params map[string]any,
	execCtx ExecutionContext,
) (models.Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "router.execute",
		attribute.String(otelhelper.CapabilityKey, capability.Slug),
		attribute.String(otelhelper.CapabilityTypeKey, string(capability.Type)),
		attribute.String(otelhelper.FlowIDKey, execCtx.FlowID),
		attribute.String(otelhelper.StepIDKey, execCtx.StepID),
	)
	defer span.End()

	err := capability.Validate()
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Result{}, err
	}

	adapter, ok := r.adapters[capability.Type]
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnsupportedCapability, capability.Type)
		otelhelper.SetError(span, err)

		return models.Result{}, err
	}

	if params == nil {
		params = map[string]any{}
	}

	result, err := adapter.Execute(ctx, capability, params, execCtx)
	if err != nil {
		otelhelper.SetError(span, err)
		r.logger.ErrorContext(ctx, "Capability configuration error",
			"capability", capability.Slug, "flow_id", execCtx.FlowID, "error", err)

		return models.Result{}, err
	}

	if !result.Success {
		span.SetAttributes(attribute.Bool("flowpilot.result.success", false))
		r.logger.WarnContext(ctx, "Capability failed",
			"capability", capability.Slug, "flow_id", execCtx.FlowID, "status_code", result.StatusCode, "error", result.Error)
	}

	return result, nil
}

type directAdapter struct {
	handlers *direct.Handlers
}

func (a *directAdapter) Execute(
	ctx context.Context,
	capability *models.Capability,
	params map[string]any,
	execCtx ExecutionContext,
) (models.Result, error) {
	if a.handlers == nil {
		return models.Result{}, fmt.Errorf("%w: %q", direct.ErrHandlerNotFound, capability.HandlerName())
	}

	return a.handlers.Invoke(ctx, capability.HandlerName(), direct.Request{
		Capability: capability,
		Params:     params,
		FlowID:     execCtx.FlowID,
		StepID:     execCtx.StepID,
		TenantID:   execCtx.TenantID,
		UserID:     execCtx.UserID,
	})
}

func timeoutOf(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = defaultTimeoutSeconds
	}

	return time.Duration(seconds) * time.Second
}
