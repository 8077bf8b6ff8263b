package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/manash/zenspace/internal/provider"
	"github.com/manash/zenspace/pkg/models"
)

const (
	defaultTimeout = 180 * time.Second
	jsonMIMEType   = "application/json"
)

type Provider struct {
	cfg        *provider.Config
	httpClient *http.Client
	registry   *models.ModelRegistry
	log        zerolog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func New(cfg *provider.Config, registry *models.ModelRegistry, log zerolog.Logger) (*Provider, error) {
	if cfg.APIKey == "" && cfg.KeyFunc == nil {
		return nil, provider.ErrAPIKeyRequired
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	return &Provider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		registry: registry,
		log:      log.With().Str("provider", string(models.ProviderGemini)).Logger(),
		clients:  make(map[string]*genai.Client),
	}, nil
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderGemini
}

func (p *Provider) SupportsModel(model string, op models.Operation) bool {
	caps, ok := p.registry.Get(model)
	if !ok {
		return false
	}
	return caps.Provider == models.ProviderGemini && caps.Supports(op)
}

func (p *Provider) ListModels() []string {
	return p.registry.ListByProvider(models.ProviderGemini)
}

// client returns a genai client bound to the current key. Clients are cached
// per key so a replaced credential gets a fresh client.
func (p *Provider) client(ctx context.Context) (*genai.Client, error) {
	key, err := p.cfg.Key(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL}
	}

	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	p.clients[key] = c
	return c, nil
}

func (p *Provider) capabilities(model string, op models.Operation) (*models.ModelCapabilities, error) {
	caps, ok := p.registry.Get(model)
	if !ok || caps.Provider != models.ProviderGemini {
		return nil, fmt.Errorf("%w: %s", provider.ErrModelNotSupported, model)
	}
	if !caps.Supports(op) {
		return nil, fmt.Errorf("%w: %s cannot %s", provider.ErrModelNotSupported, model, op)
	}
	return caps, nil
}

func (p *Provider) Analyze(ctx context.Context, req *models.AnalyzeRequest) (*models.AnalyzeResponse, error) {
	caps, err := p.capabilities(req.Model, models.OperationAnalyze)
	if err != nil {
		return nil, err
	}
	if err := caps.ValidateAnalyze(req); err != nil {
		return nil, fmt.Errorf("invalid analyze request: %w", err)
	}

	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	parts := imageParts(req.Images)
	parts = append(parts, &genai.Part{Text: req.Instruction})

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: jsonMIMEType,
		ResponseSchema:   ReportSchema(),
	}

	p.log.Debug().
		Str("model", req.Model).
		Int("images", len(req.Images)).
		Int("image_bytes", totalBytes(req.Images)).
		Msg("analyze: sending request")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, req.Model, userContent(parts), config)
	if err != nil {
		return nil, classify(err, provider.ErrAnalysisFailed)
	}

	text := strings.TrimSpace(resp.Text())
	usage := usageOf(resp, 0)

	p.log.Debug().
		Str("model", req.Model).
		Int("response_length", len(text)).
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("analyze: response received")

	if text == "" {
		return nil, fmt.Errorf("%w: empty response (%s)", provider.ErrAnalysisFailed, finishReason(resp))
	}

	return &models.AnalyzeResponse{
		Model: req.Model,
		JSON:  []byte(text),
		Usage: usage,
	}, nil
}

func (p *Provider) Synthesize(ctx context.Context, req *models.SynthesizeRequest) (*models.ImageResponse, error) {
	caps, err := p.capabilities(req.Model, models.OperationSynthesize)
	if err != nil {
		return nil, err
	}
	caps.ApplyDefaults(req)
	if err := caps.ValidateSynthesize(req); err != nil {
		return nil, fmt.Errorf("invalid synthesize request: %w", err)
	}

	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	parts := imageParts(req.Images)
	parts = append(parts, &genai.Part{Text: req.Instruction})

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if req.AspectRatio != "" || req.ImageSize != "" {
		config.ImageConfig = &genai.ImageConfig{
			AspectRatio: req.AspectRatio,
			ImageSize:   req.ImageSize,
		}
	}

	p.log.Debug().
		Str("model", req.Model).
		Str("aspect_ratio", req.AspectRatio).
		Str("image_size", req.ImageSize).
		Int("prompt_length", len(req.Instruction)).
		Msg("synthesize: sending request")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, req.Model, userContent(parts), config)
	if err != nil {
		return nil, classify(err, provider.ErrSynthesisFailed)
	}

	out, err := p.imageResponse(req.Model, resp, start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrSynthesisFailed, err)
	}
	return out, nil
}

func (p *Provider) Edit(ctx context.Context, req *models.EditRequest) (*models.ImageResponse, error) {
	caps, err := p.capabilities(req.Model, models.OperationEdit)
	if err != nil {
		return nil, err
	}
	if err := caps.ValidateEdit(req); err != nil {
		return nil, fmt.Errorf("invalid edit request: %w", err)
	}

	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	parts := imageParts([]models.Image{req.Image})
	parts = append(parts, &genai.Part{Text: req.Instruction})

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	p.log.Debug().
		Str("model", req.Model).
		Int("image_bytes", len(req.Image.Data)).
		Str("image_mime", req.Image.MIMEType).
		Msg("edit: sending request")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, req.Model, userContent(parts), config)
	if err != nil {
		return nil, classify(err, provider.ErrEditFailed)
	}

	out, err := p.imageResponse(req.Model, resp, start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrEditFailed, err)
	}
	return out, nil
}

func (p *Provider) imageResponse(model string, resp *genai.GenerateContentResponse, start time.Time) (*models.ImageResponse, error) {
	img, text, ok := firstImage(resp)

	p.log.Debug().
		Str("model", model).
		Bool("has_image", ok).
		Int("output_bytes", len(img.Data)).
		Str("output_mime", img.MIMEType).
		Dur("duration", time.Since(start)).
		Msg("image response received")

	if !ok {
		return nil, fmt.Errorf("%w (%s): %s", provider.ErrNoImageProduced, finishReason(resp), truncate(text, 200))
	}

	return &models.ImageResponse{
		Model: model,
		Image: img,
		Text:  text,
		Usage: usageOf(resp, 1),
	}, nil
}

func imageParts(images []models.Image) []*genai.Part {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		mimeType := img.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: mimeType,
				Data:     img.Data,
			},
		})
	}
	return parts
}

func userContent(parts []*genai.Part) []*genai.Content {
	return []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
}

// firstImage returns the first non-thought inline image and any text parts.
func firstImage(resp *genai.GenerateContentResponse) (models.Image, string, bool) {
	var text strings.Builder
	var found models.Image
	ok := false
	if resp == nil {
		return found, "", false
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if !ok && part.InlineData != nil && len(part.InlineData.Data) > 0 && !part.Thought {
				found = models.Image{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data}
				ok = true
			}
		}
	}
	if found.MIMEType == "" && ok {
		found.MIMEType = "image/png"
	}
	return found, text.String(), ok
}

func usageOf(resp *genai.GenerateContentResponse, images int) models.Usage {
	u := models.Usage{Images: images}
	if resp != nil && resp.UsageMetadata != nil {
		u.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return u
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		return "no candidates"
	}
	if r := resp.Candidates[0].FinishReason; r != "" {
		return "finish reason " + string(r)
	}
	return "no finish reason"
}

func totalBytes(images []models.Image) int {
	n := 0
	for _, img := range images {
		n += len(img.Data)
	}
	return n
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Messages the service uses when a key cannot be used. Only consulted when
// the error carries no structured status.
var credentialMessages = []string{
	"requested entity was not found",
	"api key not valid",
	"api_key_invalid",
	"api key expired",
}

// classify wraps a transport error with the operation sentinel and, when
// the service refused the key, with provider.ErrCredentialRejected.
func classify(err error, op error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", op, err)
	}

	if apiErr, ok := asAPIError(err); ok {
		if isCredentialAPIError(apiErr) {
			return fmt.Errorf("%w: %w: %s", op, provider.ErrCredentialRejected, apiErr.Message)
		}
		return fmt.Errorf("%w: status %d %s: %s", op, apiErr.Code, apiErr.Status, apiErr.Message)
	}

	msg := strings.ToLower(err.Error())
	for _, m := range credentialMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w: %v", op, provider.ErrCredentialRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", op, err)
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func isCredentialAPIError(e genai.APIError) bool {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	switch e.Status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return true
	}
	for _, d := range e.Details {
		if reason, _ := d["reason"].(string); reason == "API_KEY_INVALID" || reason == "API_KEY_EXPIRED" {
			return true
		}
	}
	msg := strings.ToLower(e.Message)
	if e.Code == http.StatusNotFound && strings.Contains(msg, credentialMessages[0]) {
		return true
	}
	if e.Code == http.StatusBadRequest {
		for _, m := range credentialMessages[1:] {
			if strings.Contains(msg, m) {
				return true
			}
		}
	}
	return false
}
