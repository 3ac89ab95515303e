package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/flowpilot/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService       *services.Flow
	capabilityService *services.Capability
	validator         *validator.Validate
}

func NewAPIHandlers(
	flowService *services.Flow,
	capabilityService *services.Capability,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		flowService:       flowService,
		capabilityService: capabilityService,
		validator:         validator,
	}
}

// Register mounts every flow and capability route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	f := router.Group("/flows")
	f.Post("/", h.CreateFlow)
	f.Get("/:id", h.GetFlow)
	f.Get("/:id/state", h.GetFlowState)
	f.Get("/:id/logs", h.GetFlowLogs)
	f.Post("/:id/cancel", h.CancelFlow)
	f.Post("/:id/retry", h.RetryFlow)
	f.Post("/:id/pause", h.PauseFlow)
	f.Post("/:id/resume", h.ResumeFlow)
	f.Post("/:id/steps", h.InsertStep)
	f.Delete("/:id/steps/:stepId", h.DeleteStep)
	f.Post("/:id/steps/:stepId/respond", h.RespondToStep)

	router.Get("/users/:userId/flows", h.ListUserFlows)

	c := router.Group("/capabilities")
	c.Get("/", h.ListCapabilities)
	c.Get("/:slug", h.GetCapability)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flowService.Create(c.Context(), services.CreateFlowRequest{
		Request:        req.Request,
		UserID:         req.UserID,
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

// GetFlowState returns the condensed view a client renders: progress, pending prompt and suggestions.
func (h *APIHandlers) GetFlowState(c fiber.Ctx) error {
	state, err := h.flowService.State(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"flow_id":        state.FlowID,
		"status":         state.Status,
		"progress":       fiber.Map{"completed": state.Progress.Completed, "total": state.Progress.Total, "percent": state.Progress.Percent()},
		"pending_prompt": state.PendingPrompt,
		"last_error":     state.LastError,
		"suggestions":    state.Suggestions,
		"settled":        state.Settled(),
	})
}

func (h *APIHandlers) GetFlowLogs(c fiber.Ctx) error {
	entries, err := h.flowService.Logs(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"logs": entries})
}

func (h *APIHandlers) ListUserFlows(c fiber.Ctx) error {
	req := services.ListFlowsRequest{
		UserID:   c.Params("userId"),
		TenantID: c.Query("tenant_id"),
		Status:   c.Query("status"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.Limit = limit
	}

	flows, err := h.flowService.ListByUser(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListFlowsResponse{Flows: flows, TotalCount: len(flows)})
}

func (h *APIHandlers) RespondToStep(c fiber.Ctx) error {
	var req RespondRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	flow, err := h.flowService.Respond(c.Context(), c.Params("id"), c.Params("stepId"), req.Response)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) CancelFlow(c fiber.Ctx) error {
	flow, err := h.flowService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) RetryFlow(c fiber.Ctx) error {
	flow, err := h.flowService.Retry(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) PauseFlow(c fiber.Ctx) error {
	flow, err := h.flowService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ResumeFlow(c fiber.Ctx) error {
	flow, err := h.flowService.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) InsertStep(c fiber.Ctx) error {
	var req InsertStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flowService.InsertStep(c.Context(), c.Params("id"), req.Position, req.Step.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) DeleteStep(c fiber.Ctx) error {
	flow, err := h.flowService.DeleteStep(c.Context(), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ListCapabilities(c fiber.Ctx) error {
	capabilities, err := h.capabilityService.List(c.Context(), c.Query("type"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"capabilities": capabilities,
		"total_count":  len(capabilities),
	})
}

func (h *APIHandlers) GetCapability(c fiber.Ctx) error {
	capability, err := h.capabilityService.Get(c.Context(), c.Params("slug"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(capability)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	registryCheck, regOk := "Capability registry is healthy", true
	if _, err := h.capabilityService.List(c.Context(), ""); err != nil {
		registryCheck, regOk = "Capability registry is unhealthy: "+err.Error(), false
	}

	status := "unhealthy"
	message := "Flowpilot API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Flowpilot API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
