// Package analysis owns the application state and sequences the external
// calls that turn two wall photos into a report and an aerial map.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/manash/zenspace/internal/contract"
	"github.com/manash/zenspace/internal/credential"
	"github.com/manash/zenspace/internal/provider"
	"github.com/manash/zenspace/pkg/media"
	"github.com/manash/zenspace/pkg/models"
)

const (
	defaultAspectRatio = "1:1"
	defaultImageSize   = "2K"
)

// UsageEvent describes one completed external call.
type UsageEvent struct {
	RunID     string
	Operation models.Operation
	Model     string
	Slot      models.Slot
	Usage     models.Usage
}

type Options struct {
	AnalysisModel string
	ImageModel    string
	EditModel     string
	ImageSize     string
	Registry      *models.ModelRegistry

	// Progress receives the label of each call about to run.
	Progress func(label string)
	// OnUsage is called after every successful external call, including
	// calls whose result is later discarded.
	OnUsage func(UsageEvent)
	Logger  zerolog.Logger
}

// State is a copy of the controller state at one instant.
type State struct {
	Phase     Phase
	Images    [models.SlotCount]models.WallImage
	Report    *models.Report
	AerialMap string
	Progress  string
	RunID     string
	LastErr   error
	Editing   [models.SlotCount]bool
}

func (s State) HasImage(slot models.Slot) bool {
	return slot.Valid() && s.Images[slot].Payload != ""
}

func (s State) Ready() bool {
	for _, slot := range models.Slots() {
		if !s.HasImage(slot) {
			return false
		}
	}
	return true
}

// Controller is safe for concurrent use. Its mutex is never held across
// an external call.
type Controller struct {
	provider provider.Provider
	cred     credential.Source
	opts     Options
	log      zerolog.Logger

	mu       sync.Mutex
	phase    Phase
	images   [models.SlotCount]models.WallImage
	report   *models.Report
	aerial   string
	progress string
	lastErr  error

	runID      string
	cancelRun  context.CancelFunc
	starting   bool
	epoch      uint64
	editing    [models.SlotCount]bool
	cancelEdit [models.SlotCount]context.CancelFunc
}

func New(p provider.Provider, cred credential.Source, opts Options) *Controller {
	if opts.AnalysisModel == "" {
		opts.AnalysisModel = models.DefaultAnalysisModel
	}
	if opts.ImageModel == "" {
		opts.ImageModel = models.DefaultImageModel
	}
	if opts.EditModel == "" {
		opts.EditModel = models.DefaultEditModel
	}
	if opts.ImageSize == "" {
		opts.ImageSize = defaultImageSize
	}
	if opts.Registry == nil {
		opts.Registry = models.DefaultRegistry()
	}

	return &Controller{
		provider: p,
		cred:     cred,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "analysis").Logger(),
		phase:    PhaseUpload,
	}
}

// SetImage encodes raw and stores it in slot, replacing any previous photo.
func (c *Controller) SetImage(slot models.Slot, name string, raw []byte) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %w", ErrValidation, models.ErrInvalidSlot)
	}
	payload, err := media.Encode(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", slot.Label(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseAnalyzing:
		return ErrBusy
	case PhaseReport:
		return fmt.Errorf("%w: reset before loading new photos", ErrWrongPhase)
	}
	c.images[slot] = models.WallImage{Slot: slot, Payload: payload, Name: name}
	return nil
}

// StartAnalysis runs the pipeline for the two loaded photos. A missing
// credential moves the controller to PhaseCredentialRequired without any
// external call and returns a Failure of kind ErrCredential.
func (c *Controller) StartAnalysis(ctx context.Context) error {
	c.mu.Lock()
	if !c.readyLocked() {
		c.mu.Unlock()
		return ErrValidation
	}
	if c.phase == PhaseAnalyzing || c.starting {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.editingLocked() {
		c.mu.Unlock()
		return ErrEditInProgress
	}
	c.starting = true
	epoch := c.epoch
	c.mu.Unlock()

	ok, err := c.cred.HasCredential(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("credential check failed, treating as absent")
	}
	if err != nil || !ok {
		return c.requireCredential(epoch, err)
	}
	return c.run(ctx, epoch)
}

// ResumeAfterCredentialGrant asks the credential source for a key and, once
// granted, runs the pipeline without re-checking the photos.
func (c *Controller) ResumeAfterCredentialGrant(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseCredentialRequired {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrWrongPhase, phase)
	}
	if c.starting {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.editingLocked() {
		c.mu.Unlock()
		return ErrEditInProgress
	}
	c.starting = true
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.cred.RequestCredential(ctx); err != nil {
		return c.requireCredential(epoch, err)
	}
	return c.run(ctx, epoch)
}

func (c *Controller) requireCredential(epoch uint64, cause error) error {
	f := &Failure{Kind: ErrCredential, Op: models.OperationAnalyze, cause: cause}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return ErrCancelled
	}
	c.starting = false
	c.phase = PhaseCredentialRequired
	c.lastErr = f
	return f
}

func (c *Controller) run(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return ErrCancelled
	}
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.starting = false
	c.phase = PhaseAnalyzing
	c.runID = runID
	c.cancelRun = cancel
	c.report = nil
	c.aerial = ""
	c.lastErr = nil
	walls := c.images
	c.mu.Unlock()

	log := c.log.With().Str("run_id", runID).Logger()
	log.Info().
		Str("north", walls[models.North].Name).
		Str("south", walls[models.South].Name).
		Msg("analysis started")

	images := make([]models.Image, 0, models.SlotCount)
	for _, w := range walls {
		img, err := media.ToImage(w.Payload)
		if err != nil {
			return c.fail(runID, models.OperationAnalyze, fmt.Errorf("%s: %w", w.Slot.Label(), err))
		}
		images = append(images, img)
	}

	if !c.setProgress(runID, LabelAnalyzing) {
		return ErrCancelled
	}

	areq := models.NewAnalyzeRequest(images, contract.AnalysisInstruction())
	areq.Model = c.opts.AnalysisModel
	aresp, err := c.provider.Analyze(runCtx, areq)
	if err != nil {
		return c.fail(runID, models.OperationAnalyze, err)
	}
	c.emitUsage(UsageEvent{RunID: runID, Operation: models.OperationAnalyze, Model: aresp.Model, Usage: aresp.Usage})

	report, err := contract.ParseReport(aresp.JSON)
	if err != nil {
		return c.fail(runID, models.OperationAnalyze, err)
	}
	log.Debug().
		Float64("overall", report.OverallScore).
		Float64("potential", report.PotentialScore).
		Int("issues", len(report.Issues)).
		Msg("report received")

	if !c.setProgress(runID, LabelRendering) {
		return ErrCancelled
	}

	sreq := models.NewSynthesizeRequest(images, contract.AerialInstruction(report.VisualMapPrompt))
	sreq.Model = c.opts.ImageModel
	sreq.AspectRatio = defaultAspectRatio
	if caps, ok := c.opts.Registry.Get(sreq.Model); ok && len(caps.SupportedImageSizes) > 0 {
		sreq.ImageSize = c.opts.ImageSize
	}
	sresp, err := c.provider.Synthesize(runCtx, sreq)
	if err != nil {
		return c.fail(runID, models.OperationSynthesize, err)
	}
	c.emitUsage(UsageEvent{RunID: runID, Operation: models.OperationSynthesize, Model: sresp.Model, Usage: sresp.Usage})

	aerial := media.FromImage(sresp.Image)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runID != runID {
		log.Debug().Msg("discarding result of a reset run")
		return ErrCancelled
	}
	c.phase = PhaseReport
	c.report = report
	c.aerial = aerial
	c.progress = ""
	c.cancelRun = nil

	log.Info().Float64("overall", report.OverallScore).Msg("analysis complete")
	return nil
}

// fail records a pipeline failure for runID. Results of a run that was
// reset are dropped.
func (c *Controller) fail(runID string, op models.Operation, err error) error {
	f := newFailure(op, err)

	c.mu.Lock()
	if c.runID != runID {
		c.mu.Unlock()
		c.log.Debug().Str("run_id", runID).Err(err).Msg("discarding failure of a reset run")
		return ErrCancelled
	}
	if f.Kind == ErrCredential {
		c.phase = PhaseCredentialRequired
	} else {
		c.phase = PhaseUpload
	}
	c.report = nil
	c.aerial = ""
	c.progress = ""
	c.cancelRun = nil
	c.lastErr = f
	c.mu.Unlock()

	c.log.Warn().
		Str("run_id", runID).
		Str("op", string(op)).
		Str("kind", f.Kind.Error()).
		Err(err).
		Msg("analysis failed")
	return f
}

// EditImage applies instruction to the photo in slot. Failures leave the
// photo and the report untouched.
func (c *Controller) EditImage(ctx context.Context, slot models.Slot, instruction string) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %w", ErrValidation, models.ErrInvalidSlot)
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return fmt.Errorf("%w: %w", ErrValidation, models.ErrEmptyInstruction)
	}

	c.mu.Lock()
	if c.phase != PhaseReport {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: edit in %s", ErrWrongPhase, phase)
	}
	if c.starting {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.editing[slot] {
		c.mu.Unlock()
		return ErrEditInProgress
	}
	editCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.editing[slot] = true
	c.cancelEdit[slot] = cancel
	epoch := c.epoch
	runID := c.runID
	payload := c.images[slot].Payload
	c.mu.Unlock()

	log := c.log.With().Str("run_id", runID).Str("slot", slot.String()).Logger()

	img, err := media.ToImage(payload)
	var resp *models.ImageResponse
	if err == nil {
		req := models.NewEditRequest(img, contract.EditInstruction(instruction))
		req.Model = c.opts.EditModel
		resp, err = c.provider.Edit(editCtx, req)
	}
	if err == nil {
		c.emitUsage(UsageEvent{RunID: runID, Operation: models.OperationEdit, Model: resp.Model, Slot: slot, Usage: resp.Usage})
	}

	var edited string
	if err == nil {
		edited = media.FromImage(resp.Image)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		log.Debug().Msg("discarding edit of a reset session")
		return ErrCancelled
	}
	c.editing[slot] = false
	c.cancelEdit[slot] = nil

	if err != nil {
		f := newFailure(models.OperationEdit, err)
		log.Warn().Str("kind", f.Kind.Error()).Err(err).Msg("edit failed")
		return f
	}
	c.images[slot].Payload = edited
	log.Info().Msg("photo edited")
	return nil
}

// Reset clears all state and returns to PhaseUpload. Any in-flight run or
// edit is cancelled and its eventual result discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelRun != nil {
		c.cancelRun()
	}
	for i, cancel := range c.cancelEdit {
		if cancel != nil {
			cancel()
		}
		c.cancelEdit[i] = nil
	}

	c.epoch++
	c.runID = ""
	c.cancelRun = nil
	c.starting = false
	c.phase = PhaseUpload
	c.images = [models.SlotCount]models.WallImage{}
	c.report = nil
	c.aerial = ""
	c.progress = ""
	c.lastErr = nil
	c.editing = [models.SlotCount]bool{}
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Phase:     c.phase,
		Images:    c.images,
		Report:    c.report.Clone(),
		AerialMap: c.aerial,
		Progress:  c.progress,
		RunID:     c.runID,
		LastErr:   c.lastErr,
		Editing:   c.editing,
	}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// editingLocked reports whether any slot has an edit in flight. A run
// must not start while one could still replace a photo.
func (c *Controller) editingLocked() bool {
	for _, busy := range c.editing {
		if busy {
			return true
		}
	}
	return false
}

func (c *Controller) readyLocked() bool {
	for _, slot := range models.Slots() {
		if c.images[slot].Payload == "" {
			return false
		}
	}
	return true
}

// setProgress records label for runID and reports whether the run is
// still current.
func (c *Controller) setProgress(runID, label string) bool {
	c.mu.Lock()
	if c.runID != runID {
		c.mu.Unlock()
		return false
	}
	c.progress = label
	c.mu.Unlock()

	if c.opts.Progress != nil {
		c.opts.Progress(label)
	}
	return true
}

func (c *Controller) emitUsage(ev UsageEvent) {
	if c.opts.OnUsage != nil {
		c.opts.OnUsage(ev)
	}
}
