package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/template"
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

type outboundAdapter struct {
	client  *http.Client
	secrets SecretStore
	logger  *slog.Logger
}

func (a *outboundAdapter) Execute(
	ctx context.Context,
	capability *models.Capability,
	params map[string]any,
	execCtx ExecutionContext,
) (models.Result, error) {
	cfg := capability.OutboundCall

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	if !allowedMethods[method] {
		return models.Result{}, fmt.Errorf("%w: %s", ErrMethodNotAllowed, cfg.Method)
	}

	secrets, err := a.secrets.Secrets(ctx, execCtx.TenantID)
	if err != nil {
		return models.Failure(fmt.Sprintf("failed to load secrets: %v", err), 0), nil
	}

	data := template.Data{
		Params:   params,
		Secrets:  secrets,
		TenantID: execCtx.TenantID,
		UserID:   execCtx.UserID,
		FlowID:   execCtx.FlowID,
		StepID:   execCtx.StepID,
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOf(cfg.TimeoutSeconds))
	defer cancel()

	req, err := a.buildRequest(ctx, method, cfg, params, data)
	if err != nil {
		return models.Result{}, err
	}

	a.logger.DebugContext(ctx, "Sending outbound call", "method", method, "url", req.URL.Redacted())

	resp, err := a.client.Do(req)
	if err != nil {
		return models.Failure(fmt.Sprintf("http request failed: %v", err), 0), nil
	}

	return a.processResponse(ctx, method, cfg, resp)
}

func (a *outboundAdapter) buildRequest(
	ctx context.Context,
	method string,
	cfg *models.OutboundCallConfig,
	params map[string]any,
	data template.Data,
) (*http.Request, error) {
	url, err := template.RenderWithContext(cfg.URL, data)
	if err != nil {
		return nil, fmt.Errorf("%w: url: %w", ErrTemplate, err)
	}

	body, err := a.buildBody(method, cfg, params, data)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create http request: %w", ErrTemplate, err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range cfg.Headers {
		headerValue, err := template.RenderWithContext(value, data)
		if err != nil {
			return nil, fmt.Errorf("%w: header '%s': %w", ErrTemplate, key, err)
		}

		req.Header.Set(key, headerValue)
	}

	return req, nil
}

// buildBody renders the body template. Without one, write methods send the params as JSON.
func (a *outboundAdapter) buildBody(method string, cfg *models.OutboundCallConfig, params map[string]any, data template.Data) (string, error) {
	if cfg.Body != "" {
		body, err := template.RenderWithContext(cfg.Body, data)
		if err != nil {
			return "", fmt.Errorf("%w: body: %w", ErrTemplate, err)
		}

		return body, nil
	}

	if method == http.MethodGet || method == http.MethodDelete {
		return "", nil
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal params: %w", ErrTemplate, err)
	}

	return string(encoded), nil
}

func (a *outboundAdapter) processResponse(
	ctx context.Context,
	method string,
	cfg *models.OutboundCallConfig,
	resp *http.Response,
) (models.Result, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Failure(fmt.Sprintf("failed to read response body: %v", err), resp.StatusCode), nil
	}

	body := decodeBody(bodyBytes)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result := models.Failure(fmt.Sprintf("outbound call returned status %d: %s", resp.StatusCode, string(bodyBytes)), resp.StatusCode)
		result.Data = body

		return result, nil
	}

	a.logger.DebugContext(ctx, "Outbound call completed", "status_code", resp.StatusCode, "body_length", len(bodyBytes))

	return models.Result{
		Success:     true,
		Data:        body,
		StatusCode:  resp.StatusCode,
		SideEffects: sideEffectsOf(method, cfg.Entity, body),
	}, nil
}

func decodeBody(bodyBytes []byte) any {
	if len(bodyBytes) == 0 {
		return nil
	}

	var body any

	err := json.Unmarshal(bodyBytes, &body)
	if err != nil {
		return string(bodyBytes)
	}

	return body
}

// sideEffectsOf reports the record a write call touched, when the capability names an entity
// and the response carries an id.
func sideEffectsOf(method, entity string, body any) *models.SideEffects {
	if entity == "" {
		return nil
	}

	record, ok := body.(map[string]any)
	if !ok {
		return nil
	}

	if nested, ok := record["data"].(map[string]any); ok {
		record = nested
	}

	id := fmt.Sprint(record["id"])
	if record["id"] == nil || id == "" {
		return nil
	}

	ref := models.EntityRef{Type: entity, ID: id, Label: labelOf(record)}

	switch method {
	case http.MethodPost:
		return &models.SideEffects{Created: []models.EntityRef{ref}}
	case http.MethodPut, http.MethodPatch:
		return &models.SideEffects{Updated: []models.EntityRef{ref}}
	default:
		return nil
	}
}

func labelOf(record map[string]any) string {
	for _, key := range []string{"title", "name", "label"} {
		if s, ok := record[key].(string); ok && s != "" {
			return s
		}
	}

	return ""
}
