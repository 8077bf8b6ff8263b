// Package batch analyzes many rooms from a manifest, one controller per room.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manash/zenspace/internal/analysis"
	"github.com/manash/zenspace/internal/image"
	"github.com/manash/zenspace/internal/security"
	"github.com/manash/zenspace/pkg/models"
)

type Result struct {
	Index      int
	Name       string
	RunID      string
	Report     *models.Report
	AerialPath string
	ReportPath string
	Cost       float64
	Error      error
	Duration   time.Duration
}

// ControllerFactory builds a fresh controller for one room. onUsage must be
// installed as the controller's usage hook.
type ControllerFactory func(onUsage func(analysis.UsageEvent)) *analysis.Controller

type Options struct {
	OutputDir   string
	Parallel    int
	StopOnError bool
	DelayMs     int

	// Cost prices one usage event. Nil leaves Result.Cost at zero.
	Cost func(analysis.UsageEvent) float64
	// OnComplete is called for every successful room. It may be called
	// from several goroutines at once.
	OnComplete func(ctx context.Context, item Item, res Result, st analysis.State)
}

type Processor struct {
	newController ControllerFactory
	saver         *image.Saver
	log           zerolog.Logger
	out           io.Writer
	err           io.Writer
	outMu         sync.Mutex
}

func NewProcessor(factory ControllerFactory, saver *image.Saver, log zerolog.Logger, out, errOut io.Writer) *Processor {
	return &Processor{
		newController: factory,
		saver:         saver,
		log:           log.With().Str("component", "batch").Logger(),
		out:           out,
		err:           errOut,
	}
}

func (p *Processor) printf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) errorf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.err, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	if opts.Parallel <= 1 {
		return p.processSequential(ctx, items, opts)
	}
	return p.processParallel(ctx, items, opts)
}

func (p *Processor) processSequential(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	for i, item := range items {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := p.processItem(ctx, item, opts, i+1, total)
		results[i] = result

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at room %d: %w", i+1, result.Error)
		}

		if opts.DelayMs > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, nil
}

func (p *Processor) processParallel(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		index int
		item  Item
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := min(opts.Parallel, len(items))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				result := p.processItem(ctx, j.item, opts, j.index+1, total)

				mu.Lock()
				results[j.index] = result
				if result.Error != nil && opts.StopOnError && firstErr == nil {
					firstErr = result.Error
					cancel()
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for i, item := range items {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- job{index: i, item: item}:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return results, fmt.Errorf("batch stopped due to error: %w", firstErr)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	name := roomName(item)
	result := Result{
		Index: item.Index,
		Name:  name,
	}

	p.printf("[%d/%d] Analyzing: %s\n", current, total, name)

	c := p.newController(func(ev analysis.UsageEvent) {
		if opts.Cost != nil {
			result.Cost += opts.Cost(ev)
		}
	})

	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		p.errorf("       Error: %v\n", err)
		p.log.Debug().Int("room", item.Index).Err(err).Msg("room failed")
		return result
	}

	for _, wall := range []struct {
		slot models.Slot
		path string
	}{{models.North, item.North}, {models.South, item.South}} {
		fileName, raw, err := image.Load(wall.path)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", wall.slot.Label(), err))
		}
		if err := c.SetImage(wall.slot, fileName, raw); err != nil {
			return fail(err)
		}
	}

	if err := c.StartAnalysis(ctx); err != nil {
		return fail(err)
	}

	st := c.Snapshot()
	result.RunID = st.RunID
	result.Report = st.Report

	prefix := fmt.Sprintf("%03d-%s", item.Index, name)
	aerialPath, err := security.SafeJoin(opts.OutputDir, prefix+"-aerial")
	if err != nil {
		return fail(err)
	}
	if result.AerialPath, err = p.saver.Save(st.AerialMap, aerialPath); err != nil {
		return fail(fmt.Errorf("save failed: %w", err))
	}
	if result.ReportPath, err = writeReport(opts.OutputDir, prefix+"-report.json", st.Report); err != nil {
		return fail(fmt.Errorf("save failed: %w", err))
	}

	result.Duration = time.Since(start)
	p.printf("       Harmony %v/100 (potential %v), %d issues -> %s ($%.4f)\n",
		st.Report.OverallScore, st.Report.PotentialScore, len(st.Report.Issues), result.AerialPath, result.Cost)

	if opts.OnComplete != nil {
		opts.OnComplete(ctx, item, result, st)
	}
	return result
}

func writeReport(dir, name string, report *models.Report) (string, error) {
	path, err := security.SafeJoin(dir, name)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0644)
}

var nameChars = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

func roomName(item Item) string {
	name := item.Name
	if name == "" {
		name = security.Stem(item.North)
	}
	return sanitizeName(name)
}

func sanitizeName(name string) string {
	sanitized := nameChars.ReplaceAllString(name, "")
	sanitized = strings.ToLower(sanitized)
	sanitized = strings.Join(strings.Fields(sanitized), "-")
	sanitized = strings.TrimLeft(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		sanitized = "room"
	}
	if security.ValidateFilename(sanitized) != nil {
		sanitized += "-room"
	}
	return sanitized
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed int
	var totalCost float64
	var errs []Result

	for _, r := range results {
		totalCost += r.Cost
		if r.Error != nil {
			failed++
			errs = append(errs, r)
		} else if r.Report != nil {
			successful++
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d rooms\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	fmt.Fprintf(p.out, "  Total cost: $%.4f\n", totalCost)

	if len(errs) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range errs {
			fmt.Fprintf(p.out, "  [%d] %s: %v\n", e.Index, e.Name, e.Error)
		}
	}
}
