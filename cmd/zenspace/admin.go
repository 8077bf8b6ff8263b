package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/zenspace/internal/analysis"
	"github.com/manash/zenspace/internal/cost"
	"github.com/manash/zenspace/internal/credential"
	"github.com/manash/zenspace/internal/display"
	"github.com/manash/zenspace/internal/keys"
	"github.com/manash/zenspace/internal/repl"
	"github.com/manash/zenspace/internal/session"
)

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the stored Gemini API key",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [KEY]",
			Short: "Store an API key (prompts when KEY is omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runKeysSet(app, args)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the key in use, masked, and where it comes from",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runKeysShow(app)
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the stored key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runKeysDelete(app)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the key file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runKeysPath(app)
			},
		},
	)
	return cmd
}

func runKeysSet(app *App, args []string) error {
	store, err := app.NewKeyStore()
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}

	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		if key, err = credential.TerminalPrompt(app.In, app.Err)(context.Background()); err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
	}

	if err := store.Set(credential.ProviderName, key); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Key %s stored in %s\n", keys.MaskKey(strings.TrimSpace(key)), store.Path())
	return nil
}

func runKeysShow(app *App) error {
	store, err := app.NewKeyStore()
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	resolver := &keys.Resolver{
		Store:    store,
		Provider: credential.ProviderName,
		EnvVars:  credential.EnvVars(),
		GetEnv:   app.GetEnv,
	}

	key, source, err := resolver.Resolve(flagAPIKey)
	if errors.Is(err, keys.ErrNoKey) {
		fmt.Fprintln(app.Out, "No API key configured.")
		fmt.Fprintf(app.Out, "Run 'zenspace keys set' or set %s.\n", strings.Join(credential.EnvVars(), " or "))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Key:    %s\n", keys.MaskKey(key))
	fmt.Fprintf(app.Out, "Source: %s\n", source)
	return nil
}

func runKeysDelete(app *App) error {
	store, err := app.NewKeyStore()
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	if err := store.Delete(credential.ProviderName); err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			fmt.Fprintln(app.Out, "No stored key.")
			return nil
		}
		return err
	}
	fmt.Fprintln(app.Out, "Stored key deleted.")
	return nil
}

func runKeysPath(app *App) error {
	store, err := app.NewKeyStore()
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	fmt.Fprintln(app.Out, store.Path())
	return nil
}

// openArchive opens the history database without touching the provider.
func openArchive() (*session.Manager, *session.Store, error) {
	dataDir, err := getDataDir()
	if err != nil {
		return nil, nil, err
	}
	store, err := session.NewStoreWithPath(filepath.Join(dataDir, session.DBFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	return session.NewManager(store, dataDir), store, nil
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(app)
		},
	}
	cmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "number of analyses to list (0 for all)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show ID",
			Short: "Print an archived report and its edits",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHistoryShow(app, args[0])
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete an archived analysis and its images",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHistoryDelete(app, args[0])
			},
		},
	)
	return cmd
}

func runHistory(app *App) error {
	mgr, store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	analyses, err := mgr.History(context.Background(), flagHistoryLimit)
	if err != nil {
		return err
	}
	if len(analyses) == 0 {
		fmt.Fprintln(app.Out, "No analyses archived yet.")
		return nil
	}

	fmt.Fprintf(app.Out, "%-36s  %-19s  %-7s  %-9s  %s\n", "ID", "Created", "Harmony", "Potential", "Photos")
	fmt.Fprintln(app.Out, strings.Repeat("-", 96))
	for _, a := range analyses {
		fmt.Fprintf(app.Out, "%-36s  %-19s  %-7v  %-9v  %s, %s\n",
			a.ID, session.FormatTimestamp(a.CreatedAt), a.OverallScore, a.PotentialScore, a.NorthName, a.SouthName)
	}
	return nil
}

func runHistoryShow(app *App, id string) error {
	ctx := context.Background()
	mgr, store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := mgr.Load(ctx, id); err != nil {
		return err
	}
	a := mgr.Current()
	report, err := a.Report()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Analysis %s (%s)\n", a.ID, humanize.Time(a.CreatedAt))
	fmt.Fprintf(app.Out, "Photos: %s, %s\n\n", a.NorthName, a.SouthName)
	display.RenderReport(app.Out, analysis.State{Phase: analysis.PhaseReport, Report: report})
	if a.AerialPath != "" {
		fmt.Fprintf(app.Out, "Aerial map: %s\n", a.AerialPath)
	}

	edits, err := mgr.Edits(ctx)
	if err != nil {
		return err
	}
	if len(edits) > 0 {
		fmt.Fprintf(app.Out, "\nEdits (%d)\n", len(edits))
		for _, e := range edits {
			fmt.Fprintf(app.Out, "  %s  %-10s  %s -> %s\n", session.FormatTimestamp(e.CreatedAt), e.Slot.Label(), e.Instruction, e.ImagePath)
		}
	}

	if summary, err := mgr.GetCurrentCost(ctx); err == nil && summary.EntryCount > 0 {
		fmt.Fprintf(app.Out, "\nCost: $%.4f (%d call(s))\n", summary.TotalCost, summary.EntryCount)
	}
	return nil
}

func runHistoryDelete(app *App, id string) error {
	ctx := context.Background()
	mgr, store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.GetAnalysis(ctx, id); err != nil {
		return fmt.Errorf("%w: %s", session.ErrAnalysisNotFound, id)
	}
	if err := mgr.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(mgr.ImageDir(id)); err != nil {
		return fmt.Errorf("failed to remove images: %w", err)
	}
	fmt.Fprintf(app.Out, "Deleted %s\n", id)
	return nil
}

func newCostCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cost [today|week|month|total|model]",
		Short: "Show estimated spend from the cost log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCost(app, args)
		},
	}
}

func runCost(app *App, args []string) error {
	period := "total"
	if len(args) > 0 {
		period = strings.ToLower(args[0])
	}

	_, store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	return repl.WriteCostSummary(context.Background(), app.Out, store, period)
}

func newDBCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect or reset the history database",
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show database location, size and statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInfo(app)
		},
	}
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(app)
		},
	}
	resetCmd.Flags().BoolVar(&flagDBBackup, "backup", false, "copy the database aside before deleting it")

	cmd.AddCommand(infoCmd, resetCmd)
	return cmd
}

func dbPath() (string, error) {
	dataDir, err := getDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, session.DBFile), nil
}

func runDBInfo(app *App) error {
	path, err := dbPath()
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Database location: %s\n", path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		fmt.Fprintln(app.Out, "Database does not exist yet.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Database size: %s\n", humanize.Bytes(uint64(info.Size())))

	store, err := session.NewStoreWithPath(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	analyses, err := store.ListAnalyses(ctx, 0)
	if err != nil {
		return err
	}
	total, err := store.GetTotalCost(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(app.Out)
	fmt.Fprintln(app.Out, "Statistics:")
	fmt.Fprintf(app.Out, "  Analyses: %s\n", humanize.Comma(int64(len(analyses))))
	fmt.Fprintf(app.Out, "  Calls: %s\n", humanize.Comma(int64(total.EntryCount)))
	fmt.Fprintf(app.Out, "  Total cost: $%.4f\n", total.TotalCost)
	return nil
}

func runDBReset(app *App) error {
	path, err := dbPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(app.Out, "No database found, nothing to reset.")
		return nil
	}

	if flagDBBackup {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read database: %w", err)
		}
		backup := path + ".backup-" + time.Now().Format("20060102-150405")
		if err := os.WriteFile(backup, data, 0644); err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
		fmt.Fprintf(app.Out, "Backup saved to: %s\n", backup)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete database: %w", err)
	}
	fmt.Fprintln(app.Out, "Database reset.")
	return nil
}

func newPriceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Show or override the prices used for cost estimates",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show built-in prices and local overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPriceShow(app)
		},
	}
	setCmd := &cobra.Command{
		Use:   "set MODEL",
		Short: "Override the per-image or per-token price of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setImage := cmd.Flags().Changed("image")
			setTokens := cmd.Flags().Changed("input") || cmd.Flags().Changed("output")
			return runPriceSet(app, args[0], setImage, setTokens)
		},
	}
	setCmd.Flags().StringVar(&flagPriceSize, "size", "", "image size the --image price applies to (empty for all)")
	setCmd.Flags().Float64Var(&flagPriceImage, "image", 0, "USD per output image")
	setCmd.Flags().Float64Var(&flagPriceInput, "input", 0, "USD per 1M input tokens")
	setCmd.Flags().Float64Var(&flagPriceOutput, "output", 0, "USD per 1M output tokens")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove all local overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPriceReset(app)
		},
	}

	cmd.AddCommand(showCmd, setCmd, resetCmd)
	return cmd
}

func pricingPath() (string, error) {
	dataDir, err := getDataDir()
	if err != nil {
		return "", err
	}
	return cost.PricingPath(dataDir), nil
}

func runPriceShow(app *App) error {
	fmt.Fprintln(app.Out, "Built-in pricing (USD):")
	writePricing(app, cost.BuiltinPricing())

	path, err := pricingPath()
	if err != nil {
		return err
	}
	overrides, err := cost.LoadPricing(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out)
	if overrides == nil {
		fmt.Fprintln(app.Out, "No local overrides.")
		return nil
	}
	fmt.Fprintf(app.Out, "Local overrides (%s, updated %s):\n", path, humanize.Time(overrides.UpdatedAt))
	writePricing(app, overrides)
	return nil
}

func writePricing(app *App, p *cost.LocalPricing) {
	if len(p.Tokens) > 0 {
		fmt.Fprintln(app.Out, "  Per 1M tokens (input / output)")
		for _, model := range slices.Sorted(maps.Keys(p.Tokens)) {
			price := p.Tokens[model]
			fmt.Fprintf(app.Out, "    %-28s  $%.2f / $%.2f\n", model, price.InputPer1M, price.OutputPer1M)
		}
	}
	if len(p.Image) > 0 {
		fmt.Fprintln(app.Out, "  Per image")
		for _, model := range slices.Sorted(maps.Keys(p.Image)) {
			sizes := p.Image[model]
			for _, size := range slices.Sorted(maps.Keys(sizes)) {
				label := size
				if label == "" {
					label = "default"
				}
				fmt.Fprintf(app.Out, "    %-28s  %-7s  $%.4f\n", model, label, sizes[size])
			}
		}
	}
}

func runPriceSet(app *App, model string, setImage, setTokens bool) error {
	if _, ok := app.Registry.Get(model); !ok {
		return fmt.Errorf("unknown model %q: available models: %v", model, app.Registry.List())
	}
	if !setImage && !setTokens {
		return errors.New("nothing to set: use --image, or --input and --output")
	}

	path, err := pricingPath()
	if err != nil {
		return err
	}

	if setImage {
		if flagPriceImage < 0 {
			return fmt.Errorf("invalid --image price %v", flagPriceImage)
		}
		if err := cost.SetImagePrice(path, model, flagPriceSize, flagPriceImage); err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%s image price set to $%.4f\n", model, flagPriceImage)
	}
	if setTokens {
		if flagPriceInput < 0 || flagPriceOutput < 0 {
			return fmt.Errorf("invalid token price %v / %v", flagPriceInput, flagPriceOutput)
		}
		price := cost.TokenPrice{InputPer1M: flagPriceInput, OutputPer1M: flagPriceOutput}
		if err := cost.SetTokenPrice(path, model, price); err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%s token price set to $%.2f / $%.2f per 1M\n", model, flagPriceInput, flagPriceOutput)
	}
	return nil
}

func runPriceReset(app *App) error {
	path, err := pricingPath()
	if err != nil {
		return err
	}
	if err := cost.DeletePricing(path); err != nil {
		return err
	}
	fmt.Fprintln(app.Out, "Pricing overrides removed.")
	return nil
}
