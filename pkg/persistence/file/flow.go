package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
)

// FlowRepository stores each flow, steps included, as one JSON document.
// Version checks are enforced per process; the file store is meant for a single process.
type FlowRepository struct {
	root string
	mu   sync.Mutex
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

// Create stores a new flow at version 1.
func (fr *FlowRepository) Create(_ context.Context, flow *models.Flow) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if _, err := os.Stat(fr.flowPath(flow.ID)); err == nil {
		return persistence.NewFlowError("Create", flow.ID, persistence.ErrFlowAlreadyExists)
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now
	flow.Version = 1

	return fr.write(flow)
}

// Save replaces a flow if the stored version matches.
func (fr *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	stored, err := fr.read(flow.ID)
	if err != nil {
		return err
	}

	if stored.Version != flow.Version {
		return persistence.NewFlowError("Save", flow.ID, persistence.ErrVersionConflict)
	}

	flow.Version++
	flow.UpdatedAt = time.Now().UTC()

	if err := fr.write(flow); err != nil {
		flow.Version--

		return err
	}

	return nil
}

// GetByID retrieves a flow by its ID from the file system.
func (fr *FlowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	return fr.read(id)
}

// ListByUser returns a user's flows, newest first.
func (fr *FlowRepository) ListByUser(_ context.Context, opts persistence.ListFlowsOptions) ([]*models.Flow, error) {
	all, err := fr.all()
	if err != nil {
		return nil, err
	}

	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	flows := make([]*models.Flow, 0)

	for _, flow := range all {
		if opts.UserID != "" && flow.UserID != opts.UserID {
			continue
		}

		if opts.TenantID != "" && flow.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != nil && flow.Status != *opts.Status {
			continue
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})

	if len(flows) > opts.Limit {
		flows = flows[:opts.Limit]
	}

	return flows, nil
}

// ListStale returns flows in one of statuses not updated since before.
func (fr *FlowRepository) ListStale(_ context.Context, statuses []models.FlowStatus, before time.Time) ([]*models.Flow, error) {
	all, err := fr.all()
	if err != nil {
		return nil, err
	}

	stale := make([]*models.Flow, 0)

	for _, flow := range all {
		if slices.Contains(statuses, flow.Status) && flow.UpdatedAt.Before(before) {
			stale = append(stale, flow)
		}
	}

	return stale, nil
}

func (fr *FlowRepository) all() ([]*models.Flow, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	root := os.DirFS(path.Join(fr.root, "flows"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	flows := make([]*models.Flow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		flow, err := fr.read(file[:len(file)-5])
		if err != nil {
			if persistence.IsFlowNotFound(err) {
				continue
			}

			return nil, err
		}

		flows = append(flows, flow)
	}

	return flows, nil
}

func (fr *FlowRepository) flowPath(id string) string {
	return filepath.Clean(path.Join(fr.root, "flows", id+".json"))
}

func (fr *FlowRepository) read(id string) (*models.Flow, error) {
	body, err := os.ReadFile(fr.flowPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch flow %s: %w", id, err)
	}

	var flow models.Flow

	err = json.Unmarshal(body, &flow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow %s: %w", id, err)
	}

	flow.SortSteps()

	return &flow, nil
}

func (fr *FlowRepository) write(flow *models.Flow) error {
	err := os.MkdirAll(path.Join(fr.root, "flows"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create flows directory: %w", err)
	}

	data, err := json.MarshalIndent(flow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal flow %s: %w", flow.ID, err)
	}

	target := fr.flowPath(flow.ID)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write flow %s: %w", flow.ID, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace flow %s: %w", flow.ID, err)
	}

	return nil
}
