package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const flowColumns = `
			id
		  , tenant_id
		  , user_id
		  , conversation_id
		  , title
		  , original_request
		  , status
		  , current_step_id
		  , flow_context
		  , total_steps
		  , completed_steps
		  , retry_count
		  , max_retries
		  , last_error
		  , suggestions
		  , version
		  , created_at
		  , updated_at
		  , completed_at`

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// Create inserts a new flow and its steps at version 1.
func (r *FlowRepository) Create(ctx context.Context, flow *models.Flow) (err error) {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now
	flow.Version = 1

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	flowContext, suggestions, err := marshalFlowDocuments(flow)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flows (id, tenant_id, user_id, conversation_id, title, original_request, status,
			current_step_id, flow_context, total_steps, completed_steps, retry_count, max_retries,
			last_error, suggestions, version, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = tx.ExecContext(ctx, query,
		flow.ID,
		flow.TenantID,
		flow.UserID,
		flow.ConversationID,
		flow.Title,
		flow.OriginalRequest,
		flow.Status,
		flow.CurrentStepID,
		flowContext,
		flow.TotalSteps,
		flow.CompletedSteps,
		flow.RetryCount,
		flow.MaxRetries,
		nullString(flow.LastError),
		suggestions,
		flow.Version,
		flow.CreatedAt,
		flow.UpdatedAt,
		flow.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewFlowError("Create", flow.ID, persistence.ErrFlowAlreadyExists)
		}

		return fmt.Errorf("failed to insert flow: %w", err)
	}

	err = r.insertSteps(ctx, tx, flow)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Save updates a flow and replaces its steps, guarded by the version column.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	flowContext, suggestions, err := marshalFlowDocuments(flow)
	if err != nil {
		return err
	}

	updatedAt := time.Now().UTC()

	query := `
		UPDATE flows SET
			title = $3,
			status = $4,
			current_step_id = $5,
			flow_context = $6,
			total_steps = $7,
			completed_steps = $8,
			retry_count = $9,
			max_retries = $10,
			last_error = $11,
			suggestions = $12,
			updated_at = $13,
			completed_at = $14,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := tx.ExecContext(ctx, query,
		flow.ID,
		flow.Version,
		flow.Title,
		flow.Status,
		flow.CurrentStepID,
		flowContext,
		flow.TotalSteps,
		flow.CompletedSteps,
		flow.RetryCount,
		flow.MaxRetries,
		nullString(flow.LastError),
		suggestions,
		updatedAt,
		flow.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		var exists bool

		err = tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM flows WHERE id = $1)", flow.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check flow existence: %w", err)
		}

		if !exists {
			err = persistence.NewFlowError("Save", flow.ID, persistence.ErrFlowNotFound)

			return err
		}

		err = persistence.NewFlowError("Save", flow.ID, persistence.ErrVersionConflict)

		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM flow_steps WHERE flow_id = $1", flow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	err = r.insertSteps(ctx, tx, flow)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	flow.Version++
	flow.UpdatedAt = updatedAt

	return nil
}

// GetByID returns a flow with its steps ordered by position.
func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+flowColumns+" FROM flows WHERE id = $1", id)

	flow, err := r.scanFlow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	err = r.loadSteps(ctx, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// ListByUser returns a user's flows, newest first.
func (r *FlowRepository) ListByUser(ctx context.Context, opts persistence.ListFlowsOptions) ([]*models.Flow, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	query := "SELECT " + flowColumns + ` FROM flows
		WHERE user_id = $1 AND ($2 = '' OR tenant_id = $2) AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4`

	status := ""
	if opts.Status != nil {
		status = string(*opts.Status)
	}

	return r.queryFlows(ctx, query, opts.UserID, opts.TenantID, status, opts.Limit)
}

// ListStale returns flows in one of statuses last updated before the given time.
func (r *FlowRepository) ListStale(ctx context.Context, statuses []models.FlowStatus, before time.Time) ([]*models.Flow, error) {
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}

	query := "SELECT " + flowColumns + ` FROM flows
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at`

	return r.queryFlows(ctx, query, pq.Array(names), before)
}

func (r *FlowRepository) queryFlows(ctx context.Context, query string, args ...any) ([]*models.Flow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func(ctx context.Context, r *FlowRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	for _, flow := range flows {
		err = r.loadSteps(ctx, flow)
		if err != nil {
			return nil, err
		}
	}

	return flows, nil
}

func (r *FlowRepository) insertSteps(ctx context.Context, tx *sql.Tx, flow *models.Flow) error {
	query := `
		INSERT INTO flow_steps (flow_id, id, position, step_type, name, description, capability_slug,
			input_params, param_mappings, status, result, error_message, prompt_type, prompt_message,
			prompt_options, user_response, escalated_from, condition, on_success_goto, on_fail_goto,
			started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	for _, step := range flow.Steps {
		docs, err := marshalStepDocuments(step)
		if err != nil {
			return fmt.Errorf("failed to marshal step %s: %w", step.ID, err)
		}

		_, err = tx.ExecContext(ctx, query,
			flow.ID,
			step.ID,
			step.Position,
			step.Type,
			nullString(step.Name),
			nullString(step.Description),
			nullString(step.CapabilitySlug),
			docs.inputParams,
			docs.paramMappings,
			step.Status,
			docs.result,
			nullString(step.ErrorMessage),
			nullString(string(step.PromptType)),
			nullString(step.PromptMessage),
			docs.promptOptions,
			docs.userResponse,
			step.EscalatedFrom,
			nullString(step.Condition),
			step.OnSuccessGoto,
			step.OnFailGoto,
			step.StartedAt,
			step.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %s: %w", step.ID, err)
		}
	}

	return nil
}

func (r *FlowRepository) loadSteps(ctx context.Context, flow *models.Flow) error {
	query := `
		SELECT id, position, step_type, name, description, capability_slug, input_params, param_mappings,
			status, result, error_message, prompt_type, prompt_message, prompt_options, user_response,
			escalated_from, condition, on_success_goto, on_fail_goto, started_at, completed_at
		FROM flow_steps
		WHERE flow_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, flow.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps: %w", err)
	}

	defer func(ctx context.Context, r *FlowRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	flow.Steps = make([]*models.Step, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		step.FlowID = flow.ID
		flow.Steps = append(flow.Steps, step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	return nil
}

func (r *FlowRepository) scanFlow(scanner interface{ Scan(dest ...any) error }) (*models.Flow, error) {
	var (
		flow                             models.Flow
		conversationID, currentStepID    sql.NullString
		lastError                        sql.NullString
		flowContextJSON, suggestionsJSON []byte
		completedAt                      sql.NullTime
	)

	err := scanner.Scan(
		&flow.ID,
		&flow.TenantID,
		&flow.UserID,
		&conversationID,
		&flow.Title,
		&flow.OriginalRequest,
		&flow.Status,
		&currentStepID,
		&flowContextJSON,
		&flow.TotalSteps,
		&flow.CompletedSteps,
		&flow.RetryCount,
		&flow.MaxRetries,
		&lastError,
		&suggestionsJSON,
		&flow.Version,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	flow.ConversationID = stringPtr(conversationID)
	flow.CurrentStepID = stringPtr(currentStepID)
	flow.LastError = lastError.String

	if completedAt.Valid {
		flow.CompletedAt = &completedAt.Time
	}

	err = unmarshalIfPresent(flowContextJSON, &flow.FlowContext)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow context: %w", err)
	}

	if flow.FlowContext == nil {
		flow.FlowContext = make(map[string]any)
	}

	err = unmarshalIfPresent(suggestionsJSON, &flow.Suggestions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal suggestions: %w", err)
	}

	return &flow, nil
}

func scanStep(scanner interface{ Scan(dest ...any) error }) (*models.Step, error) {
	var (
		step                                              models.Step
		name, description, capabilitySlug, errorMessage   sql.NullString
		promptType, promptMessage, escalatedFrom, cond    sql.NullString
		inputParams, paramMappings, result, promptOptions []byte
		userResponse                                      []byte
		onSuccessGoto, onFailGoto                         sql.NullInt64
		startedAt, completedAt                            sql.NullTime
	)

	err := scanner.Scan(
		&step.ID,
		&step.Position,
		&step.Type,
		&name,
		&description,
		&capabilitySlug,
		&inputParams,
		&paramMappings,
		&step.Status,
		&result,
		&errorMessage,
		&promptType,
		&promptMessage,
		&promptOptions,
		&userResponse,
		&escalatedFrom,
		&cond,
		&onSuccessGoto,
		&onFailGoto,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	step.Name = name.String
	step.Description = description.String
	step.CapabilitySlug = capabilitySlug.String
	step.ErrorMessage = errorMessage.String
	step.PromptType = models.PromptType(promptType.String)
	step.PromptMessage = promptMessage.String
	step.EscalatedFrom = stringPtr(escalatedFrom)
	step.Condition = cond.String
	step.OnSuccessGoto = intPtr(onSuccessGoto)
	step.OnFailGoto = intPtr(onFailGoto)

	if startedAt.Valid {
		step.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		step.CompletedAt = &completedAt.Time
	}

	for _, doc := range []struct {
		raw    []byte
		target any
	}{
		{inputParams, &step.InputParams},
		{paramMappings, &step.ParamMappings},
		{result, &step.Result},
		{promptOptions, &step.PromptOptions},
		{userResponse, &step.UserResponse},
	} {
		err = unmarshalIfPresent(doc.raw, doc.target)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s: %w", step.ID, err)
		}
	}

	return &step, nil
}

type stepDocuments struct {
	inputParams, paramMappings, result, promptOptions, userResponse any
}

func marshalStepDocuments(step *models.Step) (stepDocuments, error) {
	var (
		docs stepDocuments
		err  error
	)

	if docs.inputParams, err = marshalNullable(step.InputParams, step.InputParams == nil); err != nil {
		return docs, err
	}

	if docs.paramMappings, err = marshalNullable(step.ParamMappings, step.ParamMappings == nil); err != nil {
		return docs, err
	}

	if docs.result, err = marshalNullable(step.Result, step.Result == nil); err != nil {
		return docs, err
	}

	if docs.promptOptions, err = marshalNullable(step.PromptOptions, step.PromptOptions == nil); err != nil {
		return docs, err
	}

	if docs.userResponse, err = marshalNullable(step.UserResponse, step.UserResponse == nil); err != nil {
		return docs, err
	}

	return docs, nil
}

func marshalFlowDocuments(flow *models.Flow) ([]byte, any, error) {
	flowContext := flow.FlowContext
	if flowContext == nil {
		flowContext = map[string]any{}
	}

	contextJSON, err := json.Marshal(flowContext)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal flow context: %w", err)
	}

	suggestionsJSON, err := marshalNullable(flow.Suggestions, flow.Suggestions == nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal suggestions: %w", err)
	}

	return contextJSON, suggestionsJSON, nil
}

// marshalNullable returns a nil interface for absent documents so the column stores SQL NULL.
func marshalNullable(value any, absent bool) (any, error) {
	if absent {
		return nil, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return raw, nil
}

func unmarshalIfPresent(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, target)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}

	return &s.String
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}

	v := int(n.Int64)

	return &v
}
