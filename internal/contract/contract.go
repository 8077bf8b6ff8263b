// Package contract holds the instructions sent to the model and the strict
// validation applied to what comes back.
package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/manash/zenspace/pkg/models"
)

var ErrContractViolation = errors.New("response does not match the report contract")

// Field names of the report object, in schema order.
const (
	FieldOverallScore     = "overallScore"
	FieldPotentialScore   = "potentialScore"
	FieldEnergyFlow       = "energyFlow"
	FieldPositives        = "positives"
	FieldIssues           = "issues"
	FieldElementalBalance = "elementalBalance"
	FieldVisualMapPrompt  = "visualMapPrompt"
)

func RequiredFields() []string {
	return []string{
		FieldOverallScore,
		FieldPotentialScore,
		FieldEnergyFlow,
		FieldPositives,
		FieldIssues,
		FieldElementalBalance,
		FieldVisualMapPrompt,
	}
}

func IssueFields() []string {
	return []string{"title", "description", "severity"}
}

func ElementFields() []string {
	return []string{"wood", "fire", "earth", "metal", "water"}
}

const analysisInstruction = `Analyze these 2 images representing the North and South walls of a bedroom.
Perform a professional Feng Shui analysis based on the energy axis created by these two opposing views.

Return a JSON object with:
1. overallScore (0-100): Current harmony score.
2. potentialScore (0-100): Score the room would reach if all hidden issues were corrected (must be significantly higher).
3. energyFlow: Description of the Chi flow between these two walls.
4. positives: List of existing good Feng Shui features.
5. issues: List of detected problems with title, description, and severity (low, medium or high). Do NOT provide solutions or "how-to-fix" instructions.
6. elementalBalance: Percentage distribution of the 5 elements (wood, fire, earth, metal, water).
7. visualMapPrompt: A highly detailed architectural technical description for a 3D top-down aerial render.

All text in the report must be in English.`

const aerialTemplate = `ARCHITECTURAL MASTERPIECE: Realistic, top view, aerial, architecture view of room.
CRITICAL FENG SHUI OVERLAY: Identify major conflict zones (Sha Chi) and mark them with sharp, glowing neon red circles or translucent red caution zones directly on the 3D objects that are misaligned.

ROOM DESCRIPTION:
`

// AnalysisInstruction is sent with both wall photographs.
func AnalysisInstruction() string {
	return analysisInstruction
}

// AerialInstruction appends the report's render description to the fixed template.
func AerialInstruction(visualMapPrompt string) string {
	return aerialTemplate + strings.TrimSpace(visualMapPrompt)
}

func EditInstruction(instruction string) string {
	return fmt.Sprintf("Apply this Feng Shui improvement to the image: %s. Maintain the room's overall structure and lighting quality.",
		strings.TrimRight(strings.TrimSpace(instruction), "."))
}

// ParseReport decodes and validates a report. Any deviation from the
// contract is an ErrContractViolation; no partial report is returned.
func ParseReport(raw []byte) (*models.Report, error) {
	raw = stripFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, violation("malformed JSON: %v", err)
	}
	if err := requirePresent(fields, RequiredFields(), "report"); err != nil {
		return nil, err
	}

	var positives []json.RawMessage
	if err := json.Unmarshal(fields[FieldPositives], &positives); err != nil {
		return nil, violation("field %s: %v", FieldPositives, err)
	}
	for i, p := range positives {
		if isNull(p) {
			return nil, violation("%s[%d] is null", FieldPositives, i)
		}
	}

	var issues []map[string]json.RawMessage
	if err := json.Unmarshal(fields[FieldIssues], &issues); err != nil {
		return nil, violation("field %s: %v", FieldIssues, err)
	}
	for i, issue := range issues {
		if err := requirePresent(issue, IssueFields(), fmt.Sprintf("issues[%d]", i)); err != nil {
			return nil, err
		}
	}

	var balance map[string]json.RawMessage
	if err := json.Unmarshal(fields[FieldElementalBalance], &balance); err != nil {
		return nil, violation("field %s: %v", FieldElementalBalance, err)
	}
	if err := requirePresent(balance, ElementFields(), FieldElementalBalance); err != nil {
		return nil, err
	}

	var report models.Report
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&report); err != nil {
		return nil, violation("wrong field type: %v", err)
	}

	for i, issue := range report.Issues {
		if !issue.Severity.IsValid() {
			return nil, violation("issues[%d].severity %q not in %v", i, issue.Severity, models.ValidSeverities())
		}
	}

	if report.Positives == nil {
		report.Positives = []string{}
	}
	if report.Issues == nil {
		report.Issues = []models.Issue{}
	}
	return &report, nil
}

func requirePresent(fields map[string]json.RawMessage, names []string, where string) error {
	if fields == nil {
		return violation("%s is not an object", where)
	}
	var missing []string
	for _, name := range names {
		v, ok := fields[name]
		if !ok || isNull(v) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return violation("%s missing required field(s): %s", where, strings.Join(missing, ", "))
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// stripFence tolerates a markdown code fence around the JSON body.
func stripFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = bytes.TrimPrefix(s, []byte("```"))
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}
