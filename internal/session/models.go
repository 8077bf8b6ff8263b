package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/manash/zenspace/pkg/models"
)

// Analysis is one completed run: the report plus where its images went.
type Analysis struct {
	ID             string
	CreatedAt      time.Time
	AnalysisModel  string
	ImageModel     string
	NorthName      string
	SouthName      string
	OverallScore   float64
	PotentialScore float64
	IssueCount     int
	ReportJSON     string
	AerialPath     string
}

// NewAnalysis builds an archive record for report produced by run runID.
func NewAnalysis(runID string, report *models.Report) (*Analysis, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return &Analysis{
		ID:             runID,
		OverallScore:   report.OverallScore,
		PotentialScore: report.PotentialScore,
		IssueCount:     len(report.Issues),
		ReportJSON:     string(data),
	}, nil
}

// Report decodes the archived report.
func (a *Analysis) Report() (*models.Report, error) {
	var r models.Report
	if err := json.Unmarshal([]byte(a.ReportJSON), &r); err != nil {
		return nil, fmt.Errorf("failed to decode archived report %s: %w", a.ID, err)
	}
	return &r, nil
}

type Edit struct {
	ID          string
	AnalysisID  string
	Slot        models.Slot
	Instruction string
	Model       string
	ImagePath   string
	CreatedAt   time.Time
	Metadata    EditMetadata
}

type EditMetadata struct {
	MIMEType string  `json:"mime_type,omitempty"`
	Bytes    int     `json:"bytes,omitempty"`
	Cost     float64 `json:"cost,omitempty"`
}

func (m *EditMetadata) ToJSON() string {
	data, _ := json.Marshal(m)
	return string(data)
}

func ParseEditMetadata(data string) EditMetadata {
	var m EditMetadata
	if data != "" {
		json.Unmarshal([]byte(data), &m)
	}
	return m
}
