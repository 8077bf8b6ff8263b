package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/manash/zenspace/internal/analysis"
	"github.com/manash/zenspace/internal/batch"
	"github.com/manash/zenspace/internal/cost"
	"github.com/manash/zenspace/internal/credential"
	"github.com/manash/zenspace/internal/display"
	"github.com/manash/zenspace/internal/image"
	"github.com/manash/zenspace/internal/keys"
	"github.com/manash/zenspace/internal/provider"
	"github.com/manash/zenspace/internal/provider/gemini"
	"github.com/manash/zenspace/internal/repl"
	"github.com/manash/zenspace/internal/security"
	"github.com/manash/zenspace/internal/session"
	"github.com/manash/zenspace/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

const defaultImageSize = "2K"

var (
	flagAPIKey        string
	flagVerbose       bool
	flagAnalysisModel string
	flagImageModel    string
	flagEditModel     string
	flagImageSize     string

	flagOutput       string
	flagJSON         bool
	flagShow         bool
	flagBatchOutput  string
	flagParallel     int
	flagStopOnError  bool
	flagDelay        int
	flagHistoryLimit int
	flagDBBackup     bool
	flagPriceSize    string
	flagPriceImage   float64
	flagPriceInput   float64
	flagPriceOutput  float64
)

type App struct {
	In           io.Reader
	Out          io.Writer
	Err          io.Writer
	Registry     *models.ModelRegistry
	GetEnv       func(string) string
	NewProvider  func(cfg *provider.Config, registry *models.ModelRegistry, log zerolog.Logger) (provider.Provider, error)
	NewKeyStore  func() (*keys.Store, error)
	NewSaver     func() *image.Saver
	NewDisplayer func(out io.Writer) *display.Displayer
}

func DefaultApp() *App {
	return &App{
		In:       os.Stdin,
		Out:      os.Stdout,
		Err:      os.Stderr,
		Registry: models.DefaultRegistry(),
		GetEnv:   os.Getenv,
		NewProvider: func(cfg *provider.Config, registry *models.ModelRegistry, log zerolog.Logger) (provider.Provider, error) {
			return gemini.New(cfg, registry, log)
		},
		NewKeyStore:  keys.NewStore,
		NewSaver:     image.NewSaver,
		NewDisplayer: display.New,
	}
}

// getDataDir is swapped out by tests.
var getDataDir = session.DataDir

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := loadDotEnv(".env"); err != nil {
		return err
	}
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

// loadDotEnv loads each file into the environment without overriding
// variables already set. Missing files are skipped.
func loadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zenspace",
		Short: "Feng Shui analysis of a bedroom from its North and South walls",
		Long: `zenspace sends a photo of the North wall and a photo of the South wall of a
bedroom to Gemini and returns a Feng Shui report with an aerial map of the room.

Examples:
  zenspace analyze north.jpg south.jpg
  zenspace analyze north.jpg south.jpg -o out --show
  zenspace batch rooms.txt -p 2
  zenspace interactive`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagAPIKey, "api-key", "", "Gemini API key (defaults to the stored key, then GEMINI_API_KEY)")
	pf.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	pf.StringVar(&flagAnalysisModel, "analysis-model", models.DefaultAnalysisModel, "model that writes the report")
	pf.StringVar(&flagImageModel, "image-model", models.DefaultImageModel, "model that renders the aerial map")
	pf.StringVar(&flagEditModel, "edit-model", models.DefaultEditModel, "model that edits wall photos")
	pf.StringVar(&flagImageSize, "image-size", defaultImageSize, "aerial map size (1K, 2K, 4K) when the image model supports it")

	cmd.AddCommand(
		newAnalyzeCmd(app),
		newInteractiveCmd(app),
		newBatchCmd(app),
		newKeysCmd(app),
		newHistoryCmd(app),
		newCostCmd(app),
		newDBCmd(app),
		newPriceCmd(app),
	)
	return cmd
}

func (app *App) newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: zerolog.SyncWriter(app.Err), TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// validateModels checks the model flags against the registry.
func validateModels(registry *models.ModelRegistry) error {
	for _, m := range []struct {
		name string
		op   models.Operation
	}{
		{flagAnalysisModel, models.OperationAnalyze},
		{flagImageModel, models.OperationSynthesize},
		{flagEditModel, models.OperationEdit},
	} {
		caps, ok := registry.Get(m.name)
		if !ok || !caps.Supports(m.op) {
			return fmt.Errorf("unknown %s model %q: available models: %v", m.op, m.name, registry.ListByOperation(m.op))
		}
	}

	caps, _ := registry.Get(flagImageModel)
	if len(caps.SupportedImageSizes) > 0 && !slices.Contains(caps.SupportedImageSizes, flagImageSize) {
		return fmt.Errorf("invalid image size %q for %s: must be one of %v", flagImageSize, flagImageModel, caps.SupportedImageSizes)
	}
	return nil
}

// deps holds what one command run shares between its controllers.
type deps struct {
	log      zerolog.Logger
	registry *models.ModelRegistry
	cred     *credential.Terminal
	provider provider.Provider
	store    *session.Store
	mgr      *session.Manager
	calc     *cost.Calculator
}

// setup builds the provider, credential source and archive. When in is
// not nil, a missing key may be entered on it.
func (app *App) setup(in io.Reader) (*deps, error) {
	if err := validateModels(app.Registry); err != nil {
		return nil, err
	}
	log := app.newLogger()

	keyStore, err := app.NewKeyStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}
	opts := []credential.Option{
		credential.WithExplicitKey(flagAPIKey),
		credential.WithEnv(app.GetEnv),
		credential.WithLogger(log),
	}
	if in != nil {
		opts = append(opts, credential.WithPrompt(credential.TerminalPrompt(in, app.Err)))
	}
	cred := credential.NewTerminal(keyStore, opts...)

	prov, err := app.NewProvider(&provider.Config{KeyFunc: cred.APIKey}, app.Registry, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	dataDir, err := getDataDir()
	if err != nil {
		return nil, err
	}
	store, err := session.NewStoreWithPath(filepath.Join(dataDir, session.DBFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	pricing, err := cost.LoadPricing(cost.PricingPath(dataDir))
	if err != nil {
		log.Warn().Err(err).Msg("ignoring local pricing overrides")
	}

	return &deps{
		log:      log,
		registry: app.Registry,
		cred:     cred,
		provider: prov,
		store:    store,
		mgr:      session.NewManager(store, dataDir),
		calc:     cost.NewCalculator().WithOverrides(pricing),
	}, nil
}

func (d *deps) Close() {
	d.store.Close()
}

func (d *deps) newController(progress func(string), onUsage func(analysis.UsageEvent)) *analysis.Controller {
	return analysis.New(d.provider, d.cred, analysis.Options{
		AnalysisModel: flagAnalysisModel,
		ImageModel:    flagImageModel,
		EditModel:     flagEditModel,
		ImageSize:     flagImageSize,
		Registry:      d.registry,
		Progress:      progress,
		OnUsage:       onUsage,
		Logger:        d.log,
	})
}

// logCost prices one call, appends it to the cost log and returns the
// price. Safe for concurrent use.
func (d *deps) logCost(ev analysis.UsageEvent) float64 {
	info := d.calc.Calculate(ev.Model, d.imageSize(ev), ev.Usage)
	entry := &session.CostEntry{
		RunID:        ev.RunID,
		Operation:    ev.Operation,
		Model:        ev.Model,
		Cost:         info.Total,
		InputTokens:  ev.Usage.InputTokens,
		OutputTokens: ev.Usage.OutputTokens,
		ImageCount:   ev.Usage.Images,
	}
	if err := d.mgr.LogCost(context.Background(), entry); err != nil {
		d.log.Warn().Err(err).Msg("failed to log cost")
	}
	d.log.Debug().
		Str("run_id", ev.RunID).
		Str("op", string(ev.Operation)).
		Str("model", ev.Model).
		Float64("cost", info.Total).
		Msg("call priced")
	return info.Total
}

func (d *deps) imageSize(ev analysis.UsageEvent) string {
	if ev.Operation != models.OperationSynthesize {
		return ""
	}
	if caps, ok := d.registry.Get(ev.Model); ok && len(caps.SupportedImageSizes) > 0 {
		return flagImageSize
	}
	return ""
}

// record archives a finished run whose aerial map is stored at aerialPath.
func (d *deps) record(ctx context.Context, st analysis.State, aerialPath string) (*session.Analysis, error) {
	a, err := session.NewAnalysis(st.RunID, st.Report)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.Now()
	a.AnalysisModel = flagAnalysisModel
	a.ImageModel = flagImageModel
	a.NorthName = st.Images[models.North].Name
	a.SouthName = st.Images[models.South].Name
	a.AerialPath = aerialPath
	if err := d.store.CreateAnalysis(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to archive analysis: %w", err)
	}
	return a, nil
}

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze NORTH SOUTH",
		Short: "Analyze a room from its North and South wall photos",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(app, args)
		},
	}

	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "also write the aerial map and report to this directory")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&flagShow, "show", false, "display the aerial map in the terminal (Kitty/Ghostty/iTerm2)")
	return cmd
}

func runAnalyze(app *App, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := app.setup(app.In)
	if err != nil {
		return err
	}
	defer d.Close()

	c := d.newController(func(label string) {
		fmt.Fprintln(app.Err, label)
	}, func(ev analysis.UsageEvent) {
		d.logCost(ev)
	})

	for i, slot := range models.Slots() {
		name, raw, err := image.Load(args[i])
		if err != nil {
			return fmt.Errorf("%s: %w", slot.Label(), err)
		}
		if err := c.SetImage(slot, name, raw); err != nil {
			return err
		}
	}

	err = c.StartAnalysis(ctx)
	if errors.Is(err, analysis.ErrCredential) {
		display.RenderCredential(app.Err, c.Snapshot())
		err = c.ResumeAfterCredentialGrant(ctx)
	}
	if err != nil {
		return err
	}

	st := c.Snapshot()
	saver := app.NewSaver()

	base, err := d.mgr.ImagePath(st.RunID, "aerial")
	if err != nil {
		return err
	}
	aerialPath, err := saver.Save(st.AerialMap, base)
	if err != nil {
		return err
	}
	archived, err := d.record(ctx, st, aerialPath)
	if err != nil {
		return err
	}

	var saved []string
	if flagOutput != "" {
		if saved, err = exportRun(saver, flagOutput, st); err != nil {
			return err
		}
	}

	if flagJSON {
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(st.Report)
	}

	display.RenderReport(app.Out, st)
	for _, path := range saved {
		fmt.Fprintf(app.Out, "Saved: %s\n", path)
	}
	if summary, err := d.store.GetRunCost(ctx, st.RunID); err == nil && summary.EntryCount > 0 {
		fmt.Fprintf(app.Out, "Cost: $%.4f\n", summary.TotalCost)
	}
	fmt.Fprintf(app.Out, "Archived as %s\n", archived.ID)

	if flagShow {
		if err := app.NewDisplayer(app.Out).Show(st.AerialMap); err != nil {
			fmt.Fprintf(app.Err, "Warning: failed to display: %v\n", err)
		}
	}
	return nil
}

// exportRun writes the aerial map and the report JSON into dir.
func exportRun(saver *image.Saver, dir string, st analysis.State) ([]string, error) {
	aerial, err := saver.SaveIn(dir, "aerial", st.AerialMap)
	if err != nil {
		return nil, err
	}

	reportPath, err := security.SafeJoin(dir, image.GenerateFilename("report", time.Now())+".json")
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(st.Report, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return []string{aerial, reportPath}, nil
}

func newInteractiveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"i", "repl"},
		Short:   "Load, analyze and edit photos in an interactive session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(app)
		},
	}
}

func runInteractive(app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	in := credential.SharedInput(app.In)
	d, err := app.setup(in)
	if err != nil {
		return err
	}
	defer d.Close()

	c := d.newController(func(label string) {
		fmt.Fprintln(app.Out, label)
	}, func(ev analysis.UsageEvent) {
		d.logCost(ev)
	})

	r := repl.New(&repl.Config{
		In:         in,
		Out:        app.Out,
		Err:        app.Err,
		Controller: c,
		SessionMgr: d.mgr,
		Displayer:  app.NewDisplayer(app.Out),
		Saver:      app.NewSaver(),
		ShowImages: display.IsTerminalSupported(app.GetEnv),
		Models: repl.ModelNames{
			Analysis: flagAnalysisModel,
			Image:    flagImageModel,
			Edit:     flagEditModel,
		},
	})
	return r.Run(ctx)
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Analyze every room listed in a manifest",
		Long: `Analyze every room listed in a manifest file.

Text manifests hold one room per line: NORTH SOUTH [NAME]. Lines starting
with # are ignored. JSON manifests (.json) hold an array of
{"name": ..., "north": ..., "south": ...} objects. Relative photo paths are
resolved against the manifest's directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(app, args[0])
		},
	}

	cmd.Flags().StringVarP(&flagBatchOutput, "output", "o", "zenspace-output", "directory for aerial maps and reports")
	cmd.Flags().IntVarP(&flagParallel, "parallel", "p", 1, "number of rooms analyzed at once")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failed room")
	cmd.Flags().IntVar(&flagDelay, "delay", 0, "delay between rooms in milliseconds (sequential mode)")
	return cmd
}

func runBatch(app *App, manifest string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flagParallel < 1 {
		return fmt.Errorf("invalid --parallel %d: must be at least 1", flagParallel)
	}

	items, err := batch.ParseFile(manifest)
	if err != nil {
		return err
	}

	d, err := app.setup(nil)
	if err != nil {
		return err
	}
	defer d.Close()

	if ok, _ := d.cred.HasCredential(ctx); !ok {
		return fmt.Errorf("API key required: use --api-key, run 'zenspace keys set' or set %s",
			strings.Join(credential.EnvVars(), " or "))
	}

	factory := func(onUsage func(analysis.UsageEvent)) *analysis.Controller {
		return d.newController(nil, onUsage)
	}
	proc := batch.NewProcessor(factory, app.NewSaver(), d.log, app.Out, app.Err)

	fmt.Fprintf(app.Out, "Analyzing %d room(s) into %s\n", len(items), flagBatchOutput)
	results, err := proc.Process(ctx, items, &batch.Options{
		OutputDir:   flagBatchOutput,
		Parallel:    flagParallel,
		StopOnError: flagStopOnError,
		DelayMs:     flagDelay,
		Cost:        d.logCost,
		OnComplete: func(ctx context.Context, item batch.Item, res batch.Result, st analysis.State) {
			if _, err := d.record(ctx, st, res.AerialPath); err != nil {
				d.log.Warn().Int("room", item.Index).Err(err).Msg("room not archived")
			}
		},
	})
	proc.PrintSummary(results)
	return err
}
