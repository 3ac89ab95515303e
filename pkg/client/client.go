// Package client talks to the flowpilot HTTP API. It satisfies the tracker's FlowReader
// and Responder so a terminal can follow a flow from outside the engine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/web"
	"github.com/moogar0880/problems"
)

const defaultTimeout = 30 * time.Second

// APIError is a problem document returned by the API.
type APIError struct {
	Status int
	Type   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Type, e.Detail)
	}

	return fmt.Sprintf("api error %d (%s)", e.Status, e.Type)
}

// Unwrap maps not-found problems onto the persistence sentinels.
func (e *APIError) Unwrap() error {
	switch e.Type {
	case "flow_not_found":
		return persistence.ErrFlowNotFound
	case "step_not_found":
		return persistence.ErrStepNotFound
	}

	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateFlow asks the API to plan a flow for the request.
func (c *Client) CreateFlow(ctx context.Context, req web.CreateFlowRequest) (*models.Flow, error) {
	var flow models.Flow

	err := c.do(ctx, http.MethodPost, "/flows", req, &flow)
	if err != nil {
		return nil, err
	}

	return &flow, nil
}

func (c *Client) GetFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	var flow models.Flow

	err := c.do(ctx, http.MethodGet, "/flows/"+url.PathEscape(flowID), nil, &flow)
	if err != nil {
		return nil, err
	}

	return &flow, nil
}

func (c *Client) Respond(ctx context.Context, flowID, stepID string, response any) (*models.Flow, error) {
	var flow models.Flow

	path := "/flows/" + url.PathEscape(flowID) + "/steps/" + url.PathEscape(stepID) + "/respond"

	err := c.do(ctx, http.MethodPost, path, web.RespondRequest{Response: response}, &flow)
	if err != nil {
		return nil, err
	}

	return &flow, nil
}

func (c *Client) Cancel(ctx context.Context, flowID string) (*models.Flow, error) {
	var flow models.Flow

	err := c.do(ctx, http.MethodPost, "/flows/"+url.PathEscape(flowID)+"/cancel", nil, &flow)
	if err != nil {
		return nil, err
	}

	return &flow, nil
}

// ListFlows returns the user's flows, newest first. Empty status and zero limit use the API defaults.
func (c *Client) ListFlows(ctx context.Context, userID, status string, limit int) ([]*models.Flow, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}

	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/users/" + url.PathEscape(userID) + "/flows"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp web.ListFlowsResponse

	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Flows, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeProblem(resp.StatusCode, payload)
	}

	if out == nil {
		return nil
	}

	err = json.Unmarshal(payload, out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func decodeProblem(status int, payload []byte) error {
	apiErr := &APIError{Status: status}

	var problem problems.Problem
	if err := json.Unmarshal(payload, &problem); err == nil {
		apiErr.Type = problem.Type
		apiErr.Detail = problem.Detail
	}

	if apiErr.Type == "" || apiErr.Type == problems.DefaultURL {
		apiErr.Type = http.StatusText(status)
	}

	return apiErr
}
