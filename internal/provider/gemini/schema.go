package gemini

import (
	"google.golang.org/genai"

	"github.com/manash/zenspace/internal/contract"
	"github.com/manash/zenspace/pkg/models"
)

// ReportSchema is the structured-output schema requested from the analysis
// model. Field names come from the contract package so the schema and the
// validator cannot drift.
func ReportSchema() *genai.Schema {
	severities := make([]string, 0, len(models.ValidSeverities()))
	for _, s := range models.ValidSeverities() {
		severities = append(severities, string(s))
	}

	issueProps := map[string]*genai.Schema{
		"title":       {Type: genai.TypeString},
		"description": {Type: genai.TypeString},
		"severity":    {Type: genai.TypeString, Enum: severities},
	}

	elementProps := make(map[string]*genai.Schema, len(contract.ElementFields()))
	for _, name := range contract.ElementFields() {
		elementProps[name] = &genai.Schema{Type: genai.TypeNumber}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			contract.FieldOverallScore:   {Type: genai.TypeNumber},
			contract.FieldPotentialScore: {Type: genai.TypeNumber},
			contract.FieldEnergyFlow:     {Type: genai.TypeString},
			contract.FieldPositives: {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			contract.FieldIssues: {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: issueProps,
					Required:   contract.IssueFields(),
				},
			},
			contract.FieldElementalBalance: {
				Type:       genai.TypeObject,
				Properties: elementProps,
				Required:   contract.ElementFields(),
			},
			contract.FieldVisualMapPrompt: {Type: genai.TypeString},
		},
		Required:         contract.RequiredFields(),
		PropertyOrdering: contract.RequiredFields(),
	}
}
