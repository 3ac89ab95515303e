// Package planner turns a free-text request into a persisted flow: one generation call, then
// per-step validation and auto-correction against the capability catalogue.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/resolver"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxTitleLength = 80

type PlanRequest struct {
	Request        string
	UserID         string
	TenantID       string
	ConversationID *string
}

// Dependencies wires a Planner. Every field except Tracer and Corrector is required.
type Dependencies struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	Registry    registry.Registry
	Generator   Generator
	Queue       queue.Queue
	Corrector   *Corrector
	Tracer      trace.Tracer
}

type Planner struct {
	logger    *slog.Logger
	flows     persistence.FlowRepository
	logs      persistence.LogRepository
	registry  registry.Registry
	generator Generator
	queue     queue.Queue
	corrector *Corrector
	tracer    trace.Tracer
	now       func() time.Time
}

func New(deps Dependencies) *Planner {
	p := &Planner{
		logger:    deps.Logger.With("module", "planner"),
		flows:     deps.Persistence.FlowRepository(),
		logs:      deps.Persistence.LogRepository(),
		registry:  deps.Registry,
		generator: deps.Generator,
		queue:     deps.Queue,
		corrector: deps.Corrector,
		tracer:    deps.Tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}

	if p.corrector == nil {
		p.corrector = NewCorrector()
	}

	if p.tracer == nil {
		p.tracer = otelhelper.Tracer()
	}

	return p
}

// pendingLog is an audit entry collected while steps are built and written once the flow exists.
type pendingLog struct {
	step     *models.Step
	logType  models.LogType
	message  string
	actor    models.ActorType
	metadata map[string]any
}

// Plan generates, validates and persists a flow, then schedules its first tick.
// Steps that cannot run are persisted as failed rather than rejected, so the driver halts on them.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "planner.plan", attribute.String(otelhelper.TenantIDKey, req.TenantID))
	defer span.End()

	if strings.TrimSpace(req.Request) == "" {
		return nil, ErrEmptyRequest
	}

	capabilities, err := p.registry.ListCapabilities(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, &PlanningError{Stage: StageCatalogue, Err: err}
	}

	draft, err := p.generator.Generate(ctx, GenerationRequest{Request: req.Request, Capabilities: capabilities})
	if err != nil {
		otelhelper.SetError(span, err)

		stage := StageGenerate
		if isParseError(err) {
			stage = StageParse
		}

		p.logger.ErrorContext(ctx, "Plan generation failed", "tenant_id", req.TenantID, "error", err)

		return nil, &PlanningError{Stage: stage, Err: err}
	}

	if draft == nil || len(draft.Steps) == 0 {
		otelhelper.SetError(span, ErrEmptyPlan)

		return nil, &PlanningError{Stage: StageParse, Err: ErrEmptyPlan}
	}

	bySlug := make(map[string]*models.Capability, len(capabilities))
	for _, capability := range capabilities {
		bySlug[capability.Slug] = capability
	}

	now := p.now()
	flow := &models.Flow{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		ConversationID:  req.ConversationID,
		Title:           titleOf(draft.Title, req.Request),
		OriginalRequest: req.Request,
		Status:          models.FlowStatusPending,
		FlowContext:     map[string]any{},
		MaxRetries:      models.DefaultMaxRetries,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var logs []pendingLog

	for i, drafted := range draft.Steps {
		step, stepLogs := p.buildStep(ctx, flow, i+1, drafted, bySlug)
		flow.Steps = append(flow.Steps, step)
		logs = append(logs, stepLogs...)
	}

	flow.RecountSteps()
	span.SetAttributes(attribute.String(otelhelper.FlowIDKey, flow.ID))

	err = p.flows.Create(ctx, flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, &PlanningError{Stage: StagePersist, Err: err}
	}

	p.appendLog(ctx, flow, pendingLog{
		logType:  models.LogFlowCreated,
		message:  fmt.Sprintf("Planned %d steps", flow.TotalSteps),
		actor:    models.ActorAI,
		metadata: map[string]any{"request": req.Request},
	})

	for _, entry := range logs {
		p.appendLog(ctx, flow, entry)
	}

	err = p.queue.Enqueue(ctx, queue.NewTask(flow.ID, queue.ReasonPlanned))
	if err != nil {
		// The flow is durable; the recovery sweeper schedules it.
		p.logger.ErrorContext(ctx, "Failed to enqueue first tick", "flow_id", flow.ID, "error", err)
	}

	p.logger.InfoContext(ctx, "Flow planned", "flow_id", flow.ID, "steps", flow.TotalSteps, "tenant_id", flow.TenantID)

	return flow, nil
}

func (p *Planner) buildStep(
	ctx context.Context,
	flow *models.Flow,
	position int,
	drafted DraftStep,
	bySlug map[string]*models.Capability,
) (*models.Step, []pendingLog) {
	step := &models.Step{
		ID:             uuid.NewString(),
		FlowID:         flow.ID,
		Position:       position,
		Type:           drafted.Type,
		Name:           drafted.Name,
		Description:    drafted.Description,
		CapabilitySlug: drafted.Capability,
		InputParams:    drafted.InputParams,
		ParamMappings:  drafted.ParamMappings,
		Status:         models.StepStatusPending,
		PromptType:     drafted.PromptType,
		PromptMessage:  drafted.PromptMessage,
		PromptOptions:  drafted.PromptOptions,
		Condition:      drafted.Condition,
		OnSuccessGoto:  drafted.OnSuccessGoto,
		OnFailGoto:     drafted.OnFailGoto,
	}

	var logs []pendingLog

	fail := func(message string) (*models.Step, []pendingLog) {
		step.Status = models.StepStatusFailed
		step.ErrorMessage = message

		p.logger.WarnContext(ctx, "Planned step is invalid", "flow_id", flow.ID, "position", position, "error", message)

		return step, append(logs, pendingLog{step: step, logType: models.LogStepFailed, message: message, actor: models.ActorSystem})
	}

	switch {
	case !step.Type.Valid():
		return fail(fmt.Sprintf("unknown step type %q", step.Type))
	case step.Type == models.StepTypeParallel:
		return fail("parallel steps are not supported")
	}

	if step.Type == models.StepTypeToolCall {
		capability, ok := bySlug[step.CapabilitySlug]
		if !ok {
			return fail(fmt.Sprintf("unknown capability %q", step.CapabilitySlug))
		}

		corrected, err := p.corrector.Correct(capability.InputSchema, step.InputParams, step.ParamMappings)

		for _, correction := range corrected.Corrections {
			p.logger.InfoContext(ctx, "Corrected planned parameter",
				"flow_id", flow.ID, "position", position, "capability", capability.Slug, "correction", correction.String())

			logs = append(logs, pendingLog{
				step:    step,
				logType: models.LogParamCorrected,
				message: correction.String(),
				actor:   models.ActorAI,
				metadata: map[string]any{
					"kind":       string(correction.Kind),
					"param":      correction.Param,
					"target":     correction.Target,
					"capability": capability.Slug,
				},
			})
		}

		step.InputParams = corrected.InputParams
		step.ParamMappings = corrected.ParamMappings

		if err != nil {
			return fail(fmt.Sprintf("%s: %v", capability.Slug, err))
		}
	}

	if step.Type == models.StepTypeUserPrompt && step.PromptMessage == "" {
		step.PromptMessage = step.Name
	}

	err := resolver.CheckReferences(step)
	if err != nil {
		return fail(err.Error())
	}

	return step, logs
}

func (p *Planner) appendLog(ctx context.Context, flow *models.Flow, entry pendingLog) {
	log := &models.LogEntry{
		ID:        uuid.NewString(),
		FlowID:    flow.ID,
		LogType:   entry.logType,
		Message:   entry.message,
		Metadata:  entry.metadata,
		ActorType: entry.actor,
		CreatedAt: p.now(),
	}

	if entry.step != nil {
		stepID := entry.step.ID
		log.StepID = &stepID
	}

	err := p.logs.Append(ctx, log)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to append flow log", "flow_id", flow.ID, "log_type", entry.logType, "error", err)
	}
}

func titleOf(title, request string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(request)
	}

	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}

	return string([]rune(title)[:maxTitleLength-1]) + "…"
}
