package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
)

// LogRepository stores the append-only flow audit log.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogRepository creates a new log repository.
func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

func (r *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	metadata, err := marshalNullable(entry.Metadata, entry.Metadata == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal log metadata: %w", err)
	}

	query := `
		INSERT INTO flow_logs (id, flow_id, step_id, log_type, message, metadata, actor_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.FlowID,
		entry.StepID,
		entry.LogType,
		entry.Message,
		metadata,
		entry.ActorType,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (r *LogRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.LogEntry, error) {
	query := `
		SELECT id, flow_id, step_id, log_type, message, metadata, actor_type, created_at
		FROM flow_logs
		WHERE flow_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}

	defer func(ctx context.Context, r *LogRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	entries := make([]*models.LogEntry, 0)

	for rows.Next() {
		var (
			entry    models.LogEntry
			stepID   sql.NullString
			metadata []byte
		)

		err := rows.Scan(&entry.ID, &entry.FlowID, &stepID, &entry.LogType, &entry.Message, &metadata, &entry.ActorType, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entry.StepID = stringPtr(stepID)

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log metadata: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}

	return entries, nil
}
