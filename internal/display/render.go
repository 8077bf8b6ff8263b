package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/manash/zenspace/internal/analysis"
	"github.com/manash/zenspace/pkg/media"
	"github.com/manash/zenspace/pkg/models"
)

const (
	barWidth   = 20
	billingURL = "https://ai.google.dev/gemini-api/docs/billing"
)

// Render writes the view for the state's phase. It has no side effects
// beyond writing to w.
func Render(w io.Writer, st analysis.State) {
	switch st.Phase {
	case analysis.PhaseUpload:
		RenderUpload(w, st)
	case analysis.PhaseCredentialRequired:
		RenderCredential(w, st)
	case analysis.PhaseAnalyzing:
		RenderAnalyzing(w, st)
	case analysis.PhaseReport:
		RenderReport(w, st)
	}
}

func RenderUpload(w io.Writer, st analysis.State) {
	fmt.Fprintln(w, "ZenSpace - Feng Shui analysis from North and South views")
	fmt.Fprintln(w)
	for _, slot := range models.Slots() {
		img := st.Images[slot]
		if img.Payload == "" {
			fmt.Fprintf(w, "  %-11s  (empty - capture the wall from the center of the room)\n", slot.Label())
			continue
		}
		fmt.Fprintf(w, "  %-11s  %s (%s)\n", slot.Label(), img.Name, payloadSize(img.Payload))
	}
	fmt.Fprintln(w)
	if st.LastErr != nil {
		fmt.Fprintf(w, "Error: %v\n", st.LastErr)
	}
	if st.Ready() {
		fmt.Fprintln(w, "Ready: analyze North & South.")
	} else {
		fmt.Fprintln(w, "Load both walls to analyze.")
	}
}

func RenderCredential(w io.Writer, st analysis.State) {
	fmt.Fprintln(w, "Pro Credentials Needed")
	fmt.Fprintln(w, "The 3D render requires a Gemini API key from a billing-enabled project.")
	fmt.Fprintf(w, "Billing docs: %s\n", billingURL)
	if st.LastErr != nil {
		fmt.Fprintf(w, "Error: %v\n", st.LastErr)
	}
}

func RenderAnalyzing(w io.Writer, st analysis.State) {
	fmt.Fprintln(w, "Analyzing Energy Flow")
	if st.Progress != "" {
		fmt.Fprintln(w, st.Progress)
	}
}

func RenderReport(w io.Writer, st analysis.State) {
	r := st.Report
	if r == nil {
		return
	}

	fmt.Fprintln(w, "Spatial Report - The Zen Axis")
	fmt.Fprintf(w, "Harmony Score: %s/100   Max Potential: %s\n", score(r.OverallScore), score(r.PotentialScore))
	fmt.Fprintln(w)

	if r.EnergyFlow != "" {
		fmt.Fprintln(w, "Energy Flow")
		fmt.Fprintf(w, "  %s\n\n", r.EnergyFlow)
	}

	if len(r.Positives) > 0 {
		fmt.Fprintln(w, "Positives")
		for _, p := range r.Positives {
			fmt.Fprintf(w, "  + %s\n", p)
		}
		fmt.Fprintln(w)
	}

	RenderIssues(w, r)
	RenderElements(w, r.ElementalBalance)

	if st.AerialMap != "" {
		fmt.Fprintf(w, "Architectural view: aerial map ready (%s)\n", payloadSize(st.AerialMap))
	}
	fmt.Fprintf(w, "Unlock the Healing Plan for exact placements to reach %s%% harmony.\n", score(r.PotentialScore))
}

// RenderIssues lists issues, highest severity first.
func RenderIssues(w io.Writer, r *models.Report) {
	fmt.Fprintf(w, "Structural Imbalances (%d)\n", len(r.Issues))
	for i := len(models.ValidSeverities()) - 1; i >= 0; i-- {
		sev := models.ValidSeverities()[i]
		for _, issue := range r.IssuesBySeverity(sev) {
			fmt.Fprintf(w, "  [%s priority] %s\n", sev, issue.Title)
			if issue.Description != "" {
				fmt.Fprintf(w, "      %s\n", issue.Description)
			}
		}
	}
	fmt.Fprintln(w)
}

func RenderElements(w io.Writer, b models.ElementalBalance) {
	fmt.Fprintln(w, "Elemental Profile")
	for _, e := range b.Elements() {
		fmt.Fprintf(w, "  %-6s %s %s%%\n", e.Name, bar(e.Value), score(e.Value))
	}
	fmt.Fprintln(w)
}

func bar(value float64) string {
	filled := int(value / 100 * barWidth)
	filled = max(0, min(barWidth, filled))
	return strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
}

func score(v float64) string {
	return humanize.Ftoa(v)
}

func payloadSize(payload string) string {
	_, data, err := media.DecodeBytes(payload)
	if err != nil {
		return "unreadable"
	}
	return humanize.Bytes(uint64(len(data)))
}
