package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
)

const defaultNotificationSource = "flowpilot"

// NotificationPayload is the body POSTed to a notification webhook.
type NotificationPayload struct {
	Event    string               `json:"event"`
	Data     map[string]any       `json:"data"`
	Metadata NotificationMetadata `json:"metadata"`
}

type NotificationMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	FlowID    string    `json:"flow_id"`
	TenantID  string    `json:"tenant_id"`
	StepID    string    `json:"step_id"`
}

// notificationAdapter delivers once; failures are reported, never retried here.
type notificationAdapter struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func (a *notificationAdapter) Execute(
	ctx context.Context,
	capability *models.Capability,
	params map[string]any,
	execCtx ExecutionContext,
) (models.Result, error) {
	cfg := capability.Notification

	source := cfg.Source
	if source == "" {
		source = defaultNotificationSource
	}

	event, _ := params["event"].(string)
	if event == "" {
		event = capability.Slug
	}

	payload := NotificationPayload{
		Event: event,
		Data:  params,
		Metadata: NotificationMetadata{
			Timestamp: a.now().UTC(),
			Source:    source,
			FlowID:    execCtx.FlowID,
			TenantID:  execCtx.TenantID,
			StepID:    execCtx.StepID,
		},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return models.Result{}, fmt.Errorf("%w: failed to marshal notification: %w", ErrTemplate, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOf(cfg.TimeoutSeconds))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(encoded))
	if err != nil {
		return models.Result{}, fmt.Errorf("%w: failed to create notification request: %w", ErrTemplate, err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return models.Failure(fmt.Sprintf("notification delivery failed: %v", err), 0), nil
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Failure(fmt.Sprintf("notification endpoint returned status %d", resp.StatusCode), resp.StatusCode), nil
	}

	a.logger.InfoContext(ctx, "Notification delivered", "event", event, "flow_id", execCtx.FlowID, "status_code", resp.StatusCode)

	return models.Result{
		Success:    true,
		StatusCode: resp.StatusCode,
		Data: map[string]any{
			"delivered":   true,
			"event":       event,
			"status_code": resp.StatusCode,
		},
	}, nil
}
