package models

import (
	"slices"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func ValidSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh}
}

func (s Severity) IsValid() bool {
	return slices.Contains(ValidSeverities(), s)
}

func (s Severity) String() string {
	return string(s)
}

// Issue is a detected problem. It never carries a remedy.
type Issue struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

type ElementalBalance struct {
	Wood  float64 `json:"wood"`
	Fire  float64 `json:"fire"`
	Earth float64 `json:"earth"`
	Metal float64 `json:"metal"`
	Water float64 `json:"water"`
}

type Element struct {
	Name  string
	Value float64
}

// Elements returns the five elements in their traditional order.
func (b ElementalBalance) Elements() []Element {
	return []Element{
		{Name: "wood", Value: b.Wood},
		{Name: "fire", Value: b.Fire},
		{Name: "earth", Value: b.Earth},
		{Name: "metal", Value: b.Metal},
		{Name: "water", Value: b.Water},
	}
}

// Report is the structured result of one analysis call.
type Report struct {
	OverallScore     float64          `json:"overallScore"`
	PotentialScore   float64          `json:"potentialScore"`
	EnergyFlow       string           `json:"energyFlow"`
	Positives        []string         `json:"positives"`
	Issues           []Issue          `json:"issues"`
	ElementalBalance ElementalBalance `json:"elementalBalance"`
	VisualMapPrompt  string           `json:"visualMapPrompt"`
}

func (r *Report) IssuesBySeverity(sev Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate a held report.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.Positives = slices.Clone(r.Positives)
	c.Issues = slices.Clone(r.Issues)
	return &c
}
