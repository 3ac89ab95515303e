// Package direct dispatches capabilities to handlers registered in-process.
package direct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/flowpilot/pkg/models"
)

var (
	// ErrHandlerNotFound is returned when no handler is registered under the requested name.
	ErrHandlerNotFound = errors.New("direct handler not found")
	// ErrHandlerNameRequired is returned when registering a handler without a name.
	ErrHandlerNameRequired = errors.New("direct handler name is required")
)

// Request is what a handler receives for one invocation.
type Request struct {
	Capability *models.Capability
	Params     map[string]any
	FlowID     string
	StepID     string
	TenantID   string
	UserID     string
}

// Handler executes a direct capability.
type Handler interface {
	Handle(ctx context.Context, req Request) (models.Result, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (models.Result, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (models.Result, error) {
	return f(ctx, req)
}

// Handlers is the registry of direct handlers keyed by handler name.
type Handlers struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlers(logger *slog.Logger) *Handlers {
	return &Handlers{
		logger:   logger.With("module", "direct_handlers"),
		handlers: make(map[string]Handler),
	}
}

// Register adds or replaces the handler under name.
func (h *Handlers) Register(name string, handler Handler) error {
	if name == "" {
		return ErrHandlerNameRequired
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[name] = handler

	return nil
}

func (h *Handlers) Lookup(name string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handler, ok := h.handlers[name]

	return handler, ok
}

// Names lists the registered handler names in order.
func (h *Handlers) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.handlers))
	for name := range h.handlers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Invoke runs the named handler. A missing handler is a configuration error; a handler
// error or panic becomes a failed, retryable Result.
func (h *Handlers) Invoke(ctx context.Context, name string, req Request) (result models.Result, err error) {
	handler, ok := h.Lookup(name)
	if !ok {
		return models.Result{}, fmt.Errorf("%w: %q", ErrHandlerNotFound, name)
	}

	logger := h.logger.With("handler", name, "flow_id", req.FlowID, "step_id", req.StepID)

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorContext(ctx, "Direct handler panicked", "panic", recovered)

			result = models.Failure(fmt.Sprintf("handler %s panicked: %v", name, recovered), 0)
			err = nil
		}
	}()

	result, handlerErr := handler.Handle(ctx, req)
	if handlerErr != nil {
		logger.WarnContext(ctx, "Direct handler failed", "error", handlerErr)

		return models.Failure(handlerErr.Error(), 0), nil
	}

	return result, nil
}
