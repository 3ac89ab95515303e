package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
)

// LogRepository appends audit entries to one JSON-lines file per flow.
type LogRepository struct {
	root string
	mu   sync.Mutex
}

// NewLogRepository creates a new log repository.
func NewLogRepository(root string) *LogRepository {
	return &LogRepository{root: root}
}

func (lr *LogRepository) Append(_ context.Context, entry *models.LogEntry) error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	err := os.MkdirAll(path.Join(lr.root, "logs"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry %s: %w", entry.ID, err)
	}

	file, err := os.OpenFile(lr.logPath(entry.FlowID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log for flow %s: %w", entry.FlowID, err)
	}

	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append log entry for flow %s: %w", entry.FlowID, err)
	}

	return nil
}

func (lr *LogRepository) ListByFlow(_ context.Context, flowID string) ([]*models.LogEntry, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	file, err := os.Open(lr.logPath(flowID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.LogEntry{}, nil
		}

		return nil, fmt.Errorf("failed to open log for flow %s: %w", flowID, err)
	}

	defer func() { _ = file.Close() }()

	entries := make([]*models.LogEntry, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var entry models.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry for flow %s: %w", flowID, err)
		}

		entries = append(entries, &entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log for flow %s: %w", flowID, err)
	}

	return entries, nil
}

func (lr *LogRepository) logPath(flowID string) string {
	return filepath.Clean(path.Join(lr.root, "logs", flowID+".jsonl"))
}
