package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/manash/zenspace/pkg/models"
)

const (
	HomeEnv = "ZENSPACE_HOME"
	DBFile  = "history.db"
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    analysis_model TEXT NOT NULL,
    image_model TEXT NOT NULL,
    north_name TEXT,
    south_name TEXT,
    overall_score REAL NOT NULL,
    potential_score REAL NOT NULL,
    issue_count INTEGER NOT NULL DEFAULT 0,
    report_json TEXT NOT NULL,
    aerial_path TEXT
);

CREATE TABLE IF NOT EXISTS edits (
    id TEXT PRIMARY KEY,
    analysis_id TEXT NOT NULL,
    slot INTEGER NOT NULL,
    instruction TEXT NOT NULL,
    model TEXT NOT NULL,
    image_path TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    metadata_json TEXT,
    FOREIGN KEY (analysis_id) REFERENCES analyses(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS cost_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    model TEXT NOT NULL,
    cost REAL NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    image_count INTEGER NOT NULL DEFAULT 0,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
CREATE INDEX IF NOT EXISTS idx_edits_analysis_id ON edits(analysis_id);
CREATE INDEX IF NOT EXISTS idx_cost_log_timestamp ON cost_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_cost_log_model ON cost_log(model);
CREATE INDEX IF NOT EXISTS idx_cost_log_run_id ON cost_log(run_id);
`

type Store struct {
	db *sql.DB
}

func NewStore() (*Store, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(filepath.Join(dir, DBFile))
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers from parallel batch rooms and keeps
	// per-connection pragmas in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// DataDir is ~/.zenspace unless $ZENSPACE_HOME is set.
func DataDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".zenspace"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const analysisColumns = `id, created_at, analysis_model, image_model, north_name, south_name,
	overall_score, potential_score, issue_count, report_json, aerial_path`

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*Analysis, error) {
	a := &Analysis{}
	var north, south, aerial sql.NullString
	err := row.Scan(&a.ID, &a.CreatedAt, &a.AnalysisModel, &a.ImageModel, &north, &south,
		&a.OverallScore, &a.PotentialScore, &a.IssueCount, &a.ReportJSON, &aerial)
	if err != nil {
		return nil, err
	}
	a.NorthName = north.String
	a.SouthName = south.String
	a.AerialPath = aerial.String
	return a, nil
}

func (s *Store) CreateAnalysis(ctx context.Context, a *Analysis) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (`+analysisColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CreatedAt, a.AnalysisModel, a.ImageModel, nullString(a.NorthName), nullString(a.SouthName),
		a.OverallScore, a.PotentialScore, a.IssueCount, a.ReportJSON, nullString(a.AerialPath))
	return err
}

func (s *Store) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	return scanAnalysis(row)
}

// ListAnalyses returns the newest analyses first. limit <= 0 means all.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]*Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAnalysis(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	return err
}

func (s *Store) CreateEdit(ctx context.Context, e *Edit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edits (id, analysis_id, slot, instruction, model, image_path, created_at, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AnalysisID, int(e.Slot), e.Instruction, e.Model, e.ImagePath, e.CreatedAt, e.Metadata.ToJSON())
	return err
}

func (s *Store) ListEdits(ctx context.Context, analysisID string) ([]*Edit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, analysis_id, slot, instruction, model, image_path, created_at, metadata_json
		 FROM edits WHERE analysis_id = ? ORDER BY created_at ASC`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edits []*Edit
	for rows.Next() {
		e := &Edit{}
		var slot int
		var metadataJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.AnalysisID, &slot, &e.Instruction, &e.Model,
			&e.ImagePath, &e.CreatedAt, &metadataJSON); err != nil {
			return nil, err
		}
		e.Slot = models.Slot(slot)
		e.Metadata = ParseEditMetadata(metadataJSON.String)
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

func (s *Store) CountEdits(ctx context.Context, analysisID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edits WHERE analysis_id = ?`, analysisID).Scan(&count)
	return count, err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// CostEntry is one billed call. RunID may name a run that never reached
// the archive, so it is not a foreign key.
type CostEntry struct {
	RunID        string
	Operation    models.Operation
	Model        string
	Cost         float64
	InputTokens  int
	OutputTokens int
	ImageCount   int
	Timestamp    time.Time
}

type CostSummary struct {
	TotalCost  float64
	ImageCount int
	EntryCount int
	TokenCount int
}

type ModelCostSummary struct {
	Model      string
	TotalCost  float64
	EntryCount int
}

func (s *Store) LogCost(ctx context.Context, entry *CostEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_log (run_id, operation, model, cost, input_tokens, output_tokens, image_count, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, string(entry.Operation), entry.Model, entry.Cost,
		entry.InputTokens, entry.OutputTokens, entry.ImageCount, entry.Timestamp)
	return err
}

const summaryColumns = `COALESCE(SUM(cost), 0), COALESCE(SUM(image_count), 0), COUNT(*),
	COALESCE(SUM(input_tokens + output_tokens), 0)`

func scanSummary(row scanner) (*CostSummary, error) {
	var summary CostSummary
	if err := row.Scan(&summary.TotalCost, &summary.ImageCount, &summary.EntryCount, &summary.TokenCount); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Store) GetCostByDateRange(ctx context.Context, start, end time.Time) (*CostSummary, error) {
	return scanSummary(s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM cost_log WHERE timestamp >= ? AND timestamp < ?`,
		start, end))
}

func (s *Store) GetCostByModel(ctx context.Context) ([]ModelCostSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COALESCE(SUM(cost), 0), COUNT(*)
		 FROM cost_log GROUP BY model ORDER BY model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ModelCostSummary
	for rows.Next() {
		var ms ModelCostSummary
		if err := rows.Scan(&ms.Model, &ms.TotalCost, &ms.EntryCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, ms)
	}
	return summaries, rows.Err()
}

func (s *Store) GetTotalCost(ctx context.Context) (*CostSummary, error) {
	return scanSummary(s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM cost_log`))
}

func (s *Store) GetRunCost(ctx context.Context, runID string) (*CostSummary, error) {
	return scanSummary(s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM cost_log WHERE run_id = ?`, runID))
}
