package contract

import (
	"errors"
	"strings"
	"testing"

	"github.com/manash/zenspace/pkg/models"
)

const validReport = `{
  "overallScore": 62,
  "potentialScore": 88,
  "energyFlow": "Chi enters through the north window and stalls at the bed.",
  "positives": ["Good natural light"],
  "issues": [{"title": "Door misalignment", "description": "The bed faces the door directly.", "severity": "high"}],
  "elementalBalance": {"wood": 30, "fire": 10, "earth": 20, "metal": 15, "water": 25},
  "visualMapPrompt": "top-down render of a rectangular bedroom"
}`

func TestParseReport_Valid(t *testing.T) {
	r, err := ParseReport([]byte(validReport))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}
	if r.OverallScore != 62 {
		t.Errorf("OverallScore = %v, want 62", r.OverallScore)
	}
	if r.PotentialScore != 88 {
		t.Errorf("PotentialScore = %v, want 88", r.PotentialScore)
	}
	if len(r.Issues) != 1 || r.Issues[0].Severity != models.SeverityHigh {
		t.Errorf("Issues = %+v, want one high issue", r.Issues)
	}
	if r.ElementalBalance.Water != 25 {
		t.Errorf("Water = %v, want 25", r.ElementalBalance.Water)
	}
	if r.VisualMapPrompt == "" {
		t.Error("VisualMapPrompt is empty")
	}
}

func TestParseReport_CodeFence(t *testing.T) {
	r, err := ParseReport([]byte("```json\n" + validReport + "\n```"))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}
	if r.OverallScore != 62 {
		t.Errorf("OverallScore = %v, want 62", r.OverallScore)
	}
}

func TestParseReport_EmptyLists(t *testing.T) {
	body := strings.Replace(validReport, `["Good natural light"]`, `[]`, 1)
	body = strings.Replace(body,
		`[{"title": "Door misalignment", "description": "The bed faces the door directly.", "severity": "high"}]`,
		`[]`, 1)
	r, err := ParseReport([]byte(body))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}
	if r.Positives == nil || r.Issues == nil {
		t.Error("empty lists decoded as nil")
	}
}

func TestParseReport_OutOfRangeScoresAccepted(t *testing.T) {
	body := strings.Replace(validReport, `"overallScore": 62`, `"overallScore": 140`, 1)
	r, err := ParseReport([]byte(body))
	if err != nil {
		t.Fatalf("ParseReport() error = %v, scores are not range checked", err)
	}
	if r.OverallScore != 140 {
		t.Errorf("OverallScore = %v, want 140", r.OverallScore)
	}
}

func TestParseReport_MissingFields(t *testing.T) {
	for _, field := range RequiredFields() {
		t.Run(field, func(t *testing.T) {
			body := removeField(t, validReport, field)
			_, err := ParseReport([]byte(body))
			if !errors.Is(err, ErrContractViolation) {
				t.Fatalf("ParseReport() without %s error = %v, want ErrContractViolation", field, err)
			}
			if !strings.Contains(err.Error(), field) {
				t.Errorf("error %q does not name %s", err, field)
			}
		})
	}
}

func TestParseReport_Violations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "Here is your report!"},
		{"array", "[]"},
		{"null", "null"},
		{"empty object", "{}"},
		{"null field", strings.Replace(validReport, `"energyFlow": "Chi enters through the north window and stalls at the bed."`, `"energyFlow": null`, 1)},
		{"score as string", strings.Replace(validReport, `"overallScore": 62`, `"overallScore": "62"`, 1)},
		{"positives as string", strings.Replace(validReport, `["Good natural light"]`, `"Good natural light"`, 1)},
		{"null positive", strings.Replace(validReport, `["Good natural light"]`, `["Good natural light", null]`, 1)},
		{"positive as number", strings.Replace(validReport, `["Good natural light"]`, `[42]`, 1)},
		{"bad severity", strings.Replace(validReport, `"severity": "high"`, `"severity": "critical"`, 1)},
		{"issue missing severity", strings.Replace(validReport, `, "severity": "high"`, ``, 1)},
		{"issue not object", strings.Replace(validReport,
			`[{"title": "Door misalignment", "description": "The bed faces the door directly.", "severity": "high"}]`,
			`["Door misalignment"]`, 1)},
		{"null issue", strings.Replace(validReport,
			`[{"title": "Door misalignment", "description": "The bed faces the door directly.", "severity": "high"}]`,
			`[null]`, 1)},
		{"element missing", strings.Replace(validReport, `, "water": 25`, ``, 1)},
		{"balance as array", strings.Replace(validReport,
			`{"wood": 30, "fire": 10, "earth": 20, "metal": 15, "water": 25}`, `[30, 10, 20, 15, 25]`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReport([]byte(tt.body))
			if !errors.Is(err, ErrContractViolation) {
				t.Errorf("ParseReport() error = %v, want ErrContractViolation", err)
			}
			if r != nil {
				t.Errorf("ParseReport() returned a partial report: %+v", r)
			}
		})
	}
}

func TestAnalysisInstruction(t *testing.T) {
	inst := AnalysisInstruction()
	for _, field := range RequiredFields() {
		if !strings.Contains(inst, field) {
			t.Errorf("instruction does not request %s", field)
		}
	}
	if !strings.Contains(inst, `Do NOT provide solutions`) {
		t.Error("instruction does not forbid remediation text")
	}
}

func TestAerialInstruction(t *testing.T) {
	inst := AerialInstruction("  top-down render of a bedroom  ")
	if !strings.HasPrefix(inst, "ARCHITECTURAL MASTERPIECE") {
		t.Errorf("instruction does not start with the template: %q", inst[:30])
	}
	if !strings.HasSuffix(inst, "top-down render of a bedroom") {
		t.Errorf("instruction does not end with the render prompt: %q", inst)
	}
	if !strings.Contains(inst, "Sha Chi") {
		t.Error("instruction does not request conflict zones")
	}
}

func TestEditInstruction(t *testing.T) {
	got := EditInstruction("add a plant.")
	want := "Apply this Feng Shui improvement to the image: add a plant. Maintain the room's overall structure and lighting quality."
	if got != want {
		t.Errorf("EditInstruction() = %q, want %q", got, want)
	}
}

func removeField(t *testing.T, body, field string) string {
	t.Helper()
	lines := strings.Split(body, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), `"`+field+`"`) {
			continue
		}
		out = append(out, line)
	}
	joined := strings.Join(out, "\n")
	// keep the object valid when the last member was removed
	return strings.Replace(joined, ",\n}", "\n}", 1)
}
