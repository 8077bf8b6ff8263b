package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/manash/zenspace/internal/analysis"
	"github.com/manash/zenspace/internal/display"
	"github.com/manash/zenspace/internal/image"
	"github.com/manash/zenspace/internal/security"
	"github.com/manash/zenspace/internal/session"
	"github.com/manash/zenspace/pkg/models"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func allCommands() []Command {
	return []Command{
		&LoadCommand{},
		&AnalyzeCommand{},
		&KeyCommand{},
		&ReportCommand{},
		&EditCommand{},
		&ShowCommand{},
		&SaveCommand{},
		&ResetCommand{},
		&StatusCommand{},
		&HistoryCommand{},
		&CostCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	for _, cmd := range allCommands() {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// LoadCommand puts a photo into a wall slot
type LoadCommand struct{}

func (c *LoadCommand) Name() string        { return "load" }
func (c *LoadCommand) Aliases() []string   { return []string{"l", "upload"} }
func (c *LoadCommand) Description() string { return "Load a wall photo" }
func (c *LoadCommand) Usage() string       { return "load <north|south> <path>" }

func (c *LoadCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	slot, err := models.ParseSlot(args[0])
	if err != nil {
		return err
	}

	name, raw, err := image.Load(args[1])
	if err != nil {
		return err
	}
	if err := r.controller.SetImage(slot, name, raw); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "%s: %s loaded\n", slot.Label(), name)
	if r.controller.Snapshot().Ready() {
		fmt.Fprintln(r.out, "Both walls loaded - type 'analyze' to begin.")
	}
	return nil
}

// AnalyzeCommand runs the analysis pipeline
type AnalyzeCommand struct{}

func (c *AnalyzeCommand) Name() string        { return "analyze" }
func (c *AnalyzeCommand) Aliases() []string   { return []string{"a", "run"} }
func (c *AnalyzeCommand) Description() string { return "Analyze the loaded North & South photos" }
func (c *AnalyzeCommand) Usage() string       { return "analyze" }

func (c *AnalyzeCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if !r.controller.Snapshot().Ready() {
		return errors.New("load both walls first (load north <path>, load south <path>)")
	}
	return r.finishRun(ctx, r.controller.StartAnalysis(ctx))
}

// KeyCommand requests a credential and resumes the analysis
type KeyCommand struct{}

func (c *KeyCommand) Name() string        { return "key" }
func (c *KeyCommand) Aliases() []string   { return []string{"auth"} }
func (c *KeyCommand) Description() string { return "Enter an API key and resume the analysis" }
func (c *KeyCommand) Usage() string       { return "key" }

func (c *KeyCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if r.controller.Phase() != analysis.PhaseCredentialRequired {
		return errors.New("no credential is needed right now (use 'zenspace keys set' to change the stored key)")
	}
	return r.finishRun(ctx, r.controller.ResumeAfterCredentialGrant(ctx))
}

// finishRun reports the outcome of a pipeline run and archives a success.
func (r *REPL) finishRun(ctx context.Context, runErr error) error {
	st := r.controller.Snapshot()
	if runErr != nil {
		if errors.Is(runErr, analysis.ErrCredential) {
			display.RenderCredential(r.out, st)
			fmt.Fprintln(r.out, "Type 'key' to enter an API key.")
			return nil
		}
		return runErr
	}

	if err := r.archive(ctx, st); err != nil {
		fmt.Fprintf(r.err, "Warning: failed to archive analysis: %v\n", err)
	}

	display.RenderReport(r.out, st)
	if r.showImages {
		if err := r.displayer.Show(st.AerialMap); err != nil {
			fmt.Fprintf(r.err, "Warning: failed to display: %v\n", err)
		}
	}
	return nil
}

func (r *REPL) archive(ctx context.Context, st analysis.State) error {
	if r.sessionMgr == nil {
		return nil
	}
	a, err := session.NewAnalysis(st.RunID, st.Report)
	if err != nil {
		return err
	}
	base, err := r.sessionMgr.ImagePath(st.RunID, "aerial")
	if err != nil {
		return err
	}
	if a.AerialPath, err = r.saver.Save(st.AerialMap, base); err != nil {
		return err
	}
	a.AnalysisModel = r.models.Analysis
	a.ImageModel = r.models.Image
	a.NorthName = st.Images[models.North].Name
	a.SouthName = st.Images[models.South].Name
	if err := r.sessionMgr.Record(ctx, a); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Archived as %s\n", shortID(a.ID))
	return nil
}

// ReportCommand prints the current report
type ReportCommand struct{}

func (c *ReportCommand) Name() string        { return "report" }
func (c *ReportCommand) Aliases() []string   { return []string{"r"} }
func (c *ReportCommand) Description() string { return "Show the current report" }
func (c *ReportCommand) Usage() string       { return "report" }

func (c *ReportCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	st := r.controller.Snapshot()
	if st.Phase != analysis.PhaseReport {
		return errors.New("no report yet - use 'analyze' first")
	}
	display.RenderReport(r.out, st)
	return nil
}

// EditCommand edits one wall photo in place
type EditCommand struct{}

func (c *EditCommand) Name() string        { return "edit" }
func (c *EditCommand) Aliases() []string   { return []string{"e"} }
func (c *EditCommand) Description() string { return "Edit a wall photo with an instruction" }
func (c *EditCommand) Usage() string       { return "edit <north|south> <instruction>" }

func (c *EditCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	slot, err := models.ParseSlot(args[0])
	if err != nil {
		return err
	}
	instruction := strings.Join(args[1:], " ")

	fmt.Fprintf(r.out, "Editing %s...\n", slot.Label())
	if err := r.controller.EditImage(ctx, slot, instruction); err != nil {
		return err
	}

	payload := r.controller.Snapshot().Images[slot].Payload
	if err := r.archiveEdit(ctx, slot, instruction, payload); err != nil {
		fmt.Fprintf(r.err, "Warning: failed to archive edit: %v\n", err)
	}

	fmt.Fprintf(r.out, "%s updated.\n", slot.Label())
	if r.showImages {
		if err := r.displayer.Show(payload); err != nil {
			fmt.Fprintf(r.err, "Warning: failed to display: %v\n", err)
		}
	}
	return nil
}

func (r *REPL) archiveEdit(ctx context.Context, slot models.Slot, instruction, payload string) error {
	if r.sessionMgr == nil || !r.sessionMgr.HasAnalysis() {
		return nil
	}
	base, err := r.sessionMgr.EditPath(r.sessionMgr.Current().ID, slot)
	if err != nil {
		return err
	}
	path, err := r.saver.Save(payload, base)
	if err != nil {
		return err
	}
	var size int
	if info, err := os.Stat(path); err == nil {
		size = int(info.Size())
	}
	return r.sessionMgr.RecordEdit(ctx, &session.Edit{
		Slot:        slot,
		Instruction: instruction,
		Model:       r.models.Edit,
		ImagePath:   path,
		Metadata: session.EditMetadata{
			MIMEType: mimeOf(payload),
			Bytes:    size,
		},
	})
}

// ShowCommand displays an image inline
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display a wall photo or the aerial map" }
func (c *ShowCommand) Usage() string       { return "show <north|south|aerial>" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	_, payload, err := selectPayload(r.controller.Snapshot(), args[0])
	if err != nil {
		return err
	}
	return r.displayer.Show(payload)
}

// SaveCommand writes an image or the report to a file
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s"} }
func (c *SaveCommand) Description() string { return "Save a photo, the aerial map or the report" }
func (c *SaveCommand) Usage() string       { return "save <north|south|aerial|report> [filename]" }

func (c *SaveCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	st := r.controller.Snapshot()
	target := strings.ToLower(args[0])

	var path string
	if len(args) == 2 {
		path = args[1]
		if err := security.ValidateSavePath(path); err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	if target == "report" {
		if st.Report == nil {
			return errors.New("no report yet - use 'analyze' first")
		}
		if path == "" {
			path = image.GenerateFilename("report", time.Now()) + ".json"
		}
		data, err := json.MarshalIndent(st.Report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(r.out, "Saved: %s\n", path)
		return nil
	}

	kind, payload, err := selectPayload(st, target)
	if err != nil {
		return err
	}
	if path == "" {
		path = image.GenerateFilename(kind, time.Now())
	}
	written, err := r.saver.Save(payload, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved: %s\n", written)
	return nil
}

// selectPayload resolves a user target to an image kind and payload.
func selectPayload(st analysis.State, target string) (string, string, error) {
	if strings.EqualFold(target, "aerial") || strings.EqualFold(target, "map") {
		if st.AerialMap == "" {
			return "", "", errors.New("no aerial map yet - use 'analyze' first")
		}
		return "aerial", st.AerialMap, nil
	}
	slot, err := models.ParseSlot(target)
	if err != nil {
		return "", "", err
	}
	if !st.HasImage(slot) {
		return "", "", fmt.Errorf("%s has no photo - use 'load %s <path>'", slot.Label(), slot)
	}
	return slot.String(), st.Images[slot].Payload, nil
}

// ResetCommand clears photos, report and map
type ResetCommand struct{}

func (c *ResetCommand) Name() string        { return "reset" }
func (c *ResetCommand) Aliases() []string   { return []string{"new", "clear"} }
func (c *ResetCommand) Description() string { return "Discard photos and results and start over" }
func (c *ResetCommand) Usage() string       { return "reset" }

func (c *ResetCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.controller.Reset()
	if r.sessionMgr != nil {
		r.sessionMgr.Clear()
	}
	fmt.Fprintln(r.out, "Reset. Load a north and a south wall photo to begin.")
	return nil
}

// StatusCommand renders the current phase
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Aliases() []string   { return []string{"st"} }
func (c *StatusCommand) Description() string { return "Show the current state" }
func (c *StatusCommand) Usage() string       { return "status" }

func (c *StatusCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	st := r.controller.Snapshot()
	fmt.Fprintf(r.out, "Phase: %s\n", st.Phase)
	if st.Phase == analysis.PhaseReport {
		for _, slot := range models.Slots() {
			fmt.Fprintf(r.out, "  %-11s  %s\n", slot.Label(), st.Images[slot].Name)
		}
		if r.sessionMgr != nil && r.sessionMgr.HasAnalysis() {
			fmt.Fprintf(r.out, "Archived as %s\n", shortID(r.sessionMgr.Current().ID))
		}
		return nil
	}
	display.Render(r.out, st)
	return nil
}

// HistoryCommand lists archived analyses
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "List archived analyses" }
func (c *HistoryCommand) Usage() string       { return "history [limit]" }

func (c *HistoryCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.sessionMgr == nil {
		return errors.New("history is not available")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("usage: %s", c.Usage())
		}
		limit = n
	}

	analyses, err := r.sessionMgr.History(ctx, limit)
	if err != nil {
		return err
	}
	if len(analyses) == 0 {
		fmt.Fprintln(r.out, "No analyses archived yet.")
		return nil
	}

	fmt.Fprintf(r.out, "%-8s  %-19s  %-7s  %-9s  %-6s  %s\n", "ID", "Created", "Harmony", "Potential", "Issues", "Photos")
	fmt.Fprintln(r.out, strings.Repeat("-", 78))
	for _, a := range analyses {
		fmt.Fprintf(r.out, "%-8s  %-19s  %-7v  %-9v  %-6d  %s\n",
			shortID(a.ID), session.FormatTimestamp(a.CreatedAt), a.OverallScore, a.PotentialScore,
			a.IssueCount, truncate(a.NorthName+", "+a.SouthName, 30))
	}
	return nil
}

// CostCommand displays cost information
type CostCommand struct{}

func (c *CostCommand) Name() string        { return "cost" }
func (c *CostCommand) Aliases() []string   { return []string{"$"} }
func (c *CostCommand) Description() string { return "View cost summary (today, week, month, total, model, run)" }
func (c *CostCommand) Usage() string       { return "cost <today|week|month|total|model|run>" }

func (c *CostCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.sessionMgr == nil {
		return errors.New("cost tracking is not available")
	}
	if len(args) == 0 {
		return WriteCostSummary(ctx, r.out, r.sessionMgr, "total")
	}
	if strings.EqualFold(args[0], "run") {
		return c.showRun(ctx, r)
	}
	if err := WriteCostSummary(ctx, r.out, r.sessionMgr, strings.ToLower(args[0])); err != nil {
		return fmt.Errorf("%w\nUsage: %s", err, c.Usage())
	}
	return nil
}

func (c *CostCommand) showRun(ctx context.Context, r *REPL) error {
	if !r.sessionMgr.HasAnalysis() {
		fmt.Fprintln(r.out, "No archived analysis.")
		return nil
	}
	summary, err := r.sessionMgr.GetCurrentCost(ctx)
	if err != nil {
		return err
	}
	if summary.EntryCount == 0 {
		fmt.Fprintln(r.out, "No costs recorded for this analysis.")
		return nil
	}
	fmt.Fprintf(r.out, "Analysis cost: $%.4f (%d call(s), %d image(s))\n", summary.TotalCost, summary.EntryCount, summary.ImageCount)
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-22s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "  %-22sUsage: %s\n", "", cmd.Usage())
	}
	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
