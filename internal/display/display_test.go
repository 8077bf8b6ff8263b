package display

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manash/zenspace/internal/analysis"
	"github.com/manash/zenspace/pkg/media"
	"github.com/manash/zenspace/pkg/models"
)

func TestDisplayer_Show(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf).WithColumns(60)

	if err := d.Show(media.FromBlob("image/png", testPNG(t))); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "\x1b_G") {
		t.Error("output should contain Kitty escape sequence")
	}
	if !strings.Contains(output, "c=60") {
		t.Error("output should carry the column limit")
	}
}

func TestDisplayer_Show_Malformed(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf).Show("garbage"); !errors.Is(err, media.ErrMalformedPayload) {
		t.Errorf("Show() error = %v, want ErrMalformedPayload", err)
	}
}

func TestDisplayer_ShowFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aerial.jpg")
	os.WriteFile(path, testJPEG(t), 0644)

	var buf bytes.Buffer
	if err := New(&buf).ShowFile(path); err != nil {
		t.Fatalf("ShowFile() error = %v", err)
	}
	if !strings.Contains(buf.String(), "\x1b_G") {
		t.Error("output should contain Kitty escape sequence")
	}

	if err := New(&buf).ShowFile(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("ShowFile() missing file error = nil")
	}
}

func TestIsTerminalSupported(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"kitty term program", map[string]string{"TERM_PROGRAM": "kitty"}, true},
		{"ghostty term program", map[string]string{"TERM_PROGRAM": "ghostty"}, true},
		{"iterm", map[string]string{"TERM_PROGRAM": "iTerm.app"}, true},
		{"kitty window id", map[string]string{"KITTY_WINDOW_ID": "1"}, true},
		{"xterm-kitty", map[string]string{"TERM": "xterm-kitty"}, true},
		{"plain xterm", map[string]string{"TERM": "xterm-256color"}, false},
		{"nothing", map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			if got := IsTerminalSupported(getenv); got != tt.want {
				t.Errorf("IsTerminalSupported() = %v, want %v", got, tt.want)
			}
		})
	}
}

func scenarioReport() *models.Report {
	return &models.Report{
		OverallScore:   62,
		PotentialScore: 88,
		EnergyFlow:     "Chi pools by the window.",
		Positives:      []string{"Good natural light"},
		Issues: []models.Issue{
			{Title: "Cluttered corner", Description: "Stagnant energy.", Severity: models.SeverityLow},
			{Title: "Door misalignment", Description: "Bed faces the door.", Severity: models.SeverityHigh},
		},
		ElementalBalance: models.ElementalBalance{Wood: 30, Fire: 10, Earth: 20, Metal: 15, Water: 25},
		VisualMapPrompt:  "top-down render",
	}
}

func TestRender_Upload(t *testing.T) {
	var st analysis.State
	st.Images[models.North] = models.WallImage{Slot: models.North, Name: "north.jpg", Payload: media.FromBlob("image/jpeg", []byte("abc"))}

	var buf bytes.Buffer
	Render(&buf, st)
	out := buf.String()

	if !strings.Contains(out, "north.jpg (3 B)") {
		t.Errorf("loaded slot not shown:\n%s", out)
	}
	if !strings.Contains(out, "South Wall   (empty") {
		t.Errorf("empty slot not shown:\n%s", out)
	}
	if !strings.Contains(out, "Load both walls") {
		t.Error("upload view should ask for both walls")
	}

	st.Images[models.South] = models.WallImage{Slot: models.South, Name: "south.jpg", Payload: media.FromBlob("image/jpeg", []byte("abc"))}
	st.LastErr = errors.New("analysis failed")
	buf.Reset()
	Render(&buf, st)
	if !strings.Contains(buf.String(), "Ready: analyze North & South.") {
		t.Error("ready state not shown")
	}
	if !strings.Contains(buf.String(), "Error: analysis failed") {
		t.Error("last error not shown")
	}
}

func TestRender_CredentialAndAnalyzing(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, analysis.State{Phase: analysis.PhaseCredentialRequired})
	if !strings.Contains(buf.String(), "Pro Credentials Needed") || !strings.Contains(buf.String(), billingURL) {
		t.Errorf("credential view = %q", buf.String())
	}

	buf.Reset()
	Render(&buf, analysis.State{Phase: analysis.PhaseAnalyzing, Progress: analysis.LabelRendering})
	if !strings.Contains(buf.String(), analysis.LabelRendering) {
		t.Errorf("analyzing view = %q", buf.String())
	}
}

func TestRender_Report(t *testing.T) {
	st := analysis.State{
		Phase:     analysis.PhaseReport,
		Report:    scenarioReport(),
		AerialMap: media.FromBlob("image/png", make([]byte, 2048)),
	}

	var buf bytes.Buffer
	Render(&buf, st)
	out := buf.String()

	for _, want := range []string{
		"Harmony Score: 62/100   Max Potential: 88",
		"+ Good natural light",
		"Structural Imbalances (2)",
		"[high priority] Door misalignment",
		"wood   ######.............. 30%",
		"aerial map ready (2.0 kB)",
		"reach 88% harmony",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	if strings.Index(out, "Door misalignment") > strings.Index(out, "Cluttered corner") {
		t.Error("high severity issues should be listed first")
	}
}

func TestRender_ReportWithoutReport(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, analysis.State{Phase: analysis.PhaseReport})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "...................."},
		{50, "##########.........."},
		{100, "####################"},
		{140, "####################"},
		{-5, "...................."},
	}
	for _, tt := range tests {
		if got := bar(tt.value); got != tt.want {
			t.Errorf("bar(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
