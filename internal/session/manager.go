package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/manash/zenspace/pkg/models"
)

var (
	ErrNoAnalysis       = errors.New("no archived analysis")
	ErrAnalysisNotFound = errors.New("analysis not found")
)

// Manager tracks the archived analysis that new edits attach to.
type Manager struct {
	store   *Store
	dataDir string
	current *Analysis
}

func NewManager(store *Store, dataDir string) *Manager {
	return &Manager{
		store:   store,
		dataDir: dataDir,
	}
}

func (m *Manager) Current() *Analysis {
	return m.current
}

func (m *Manager) HasAnalysis() bool {
	return m.current != nil
}

// Record archives a completed analysis and makes it current.
func (m *Manager) Record(ctx context.Context, a *Analysis) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if err := m.store.CreateAnalysis(ctx, a); err != nil {
		return fmt.Errorf("failed to archive analysis: %w", err)
	}
	m.current = a
	return nil
}

// RecordEdit attaches an edit to the current analysis.
func (m *Manager) RecordEdit(ctx context.Context, e *Edit) error {
	if m.current == nil {
		return ErrNoAnalysis
	}
	e.ID = uuid.New().String()
	e.AnalysisID = m.current.ID
	e.CreatedAt = time.Now()
	if err := m.store.CreateEdit(ctx, e); err != nil {
		return fmt.Errorf("failed to archive edit: %w", err)
	}
	return nil
}

func (m *Manager) Load(ctx context.Context, id string) error {
	a, err := m.store.GetAnalysis(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAnalysisNotFound, err)
	}
	m.current = a
	return nil
}

// Clear forgets the current analysis; the archive is untouched.
func (m *Manager) Clear() {
	m.current = nil
}

func (m *Manager) History(ctx context.Context, limit int) ([]*Analysis, error) {
	return m.store.ListAnalyses(ctx, limit)
}

func (m *Manager) Edits(ctx context.Context) ([]*Edit, error) {
	if m.current == nil {
		return nil, nil
	}
	return m.store.ListEdits(ctx, m.current.ID)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	if m.current != nil && m.current.ID == id {
		m.current = nil
	}
	return m.store.DeleteAnalysis(ctx, id)
}

// ImageDir is the directory holding images of run runID.
func (m *Manager) ImageDir(runID string) string {
	return filepath.Join(m.dataDir, "images", runID)
}

// ImagePath returns a fresh path, without extension, for an image of
// runID. The directory is created.
func (m *Manager) ImagePath(runID, kind string) (string, error) {
	dir := m.ImageDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	return filepath.Join(dir, kind+"-"+uuid.New().String()[:8]), nil
}

// EditPath is ImagePath for an edit of slot.
func (m *Manager) EditPath(runID string, slot models.Slot) (string, error) {
	return m.ImagePath(runID, "edit-"+slot.String())
}

func (m *Manager) LogCost(ctx context.Context, entry *CostEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return m.store.LogCost(ctx, entry)
}

func (m *Manager) GetCostByDateRange(ctx context.Context, start, end time.Time) (*CostSummary, error) {
	return m.store.GetCostByDateRange(ctx, start, end)
}

func (m *Manager) GetCostByModel(ctx context.Context) ([]ModelCostSummary, error) {
	return m.store.GetCostByModel(ctx)
}

func (m *Manager) GetTotalCost(ctx context.Context) (*CostSummary, error) {
	return m.store.GetTotalCost(ctx)
}

func (m *Manager) GetCurrentCost(ctx context.Context) (*CostSummary, error) {
	if m.current == nil {
		return &CostSummary{}, nil
	}
	return m.store.GetRunCost(ctx, m.current.ID)
}
