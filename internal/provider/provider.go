package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/manash/zenspace/pkg/models"
)

var (
	ErrAPIKeyRequired     = errors.New("API key is required")
	ErrCredentialRejected = errors.New("API credential was rejected")
	ErrModelNotSupported  = errors.New("model not supported by provider")
	ErrAnalysisFailed     = errors.New("room analysis failed")
	ErrSynthesisFailed    = errors.New("aerial map generation failed")
	ErrEditFailed         = errors.New("image edit failed")
	ErrNoImageProduced    = errors.New("no image was generated")
)

// Provider is the generative backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() models.ProviderType
	Analyze(ctx context.Context, req *models.AnalyzeRequest) (*models.AnalyzeResponse, error)
	Synthesize(ctx context.Context, req *models.SynthesizeRequest) (*models.ImageResponse, error)
	Edit(ctx context.Context, req *models.EditRequest) (*models.ImageResponse, error)
	SupportsModel(model string, op models.Operation) bool
	ListModels() []string
}

// KeyFunc resolves the API key at call time so a credential granted after
// start-up is picked up without rebuilding the provider.
type KeyFunc func(ctx context.Context) (string, error)

type Config struct {
	APIKey     string
	KeyFunc    KeyFunc
	BaseURL    string
	TimeoutSec int
}

// Key returns the static key if set, otherwise asks KeyFunc.
func (c *Config) Key(ctx context.Context) (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	if c.KeyFunc == nil {
		return "", ErrAPIKeyRequired
	}
	key, err := c.KeyFunc(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAPIKeyRequired, err)
	}
	if key == "" {
		return "", ErrAPIKeyRequired
	}
	return key, nil
}

// IsCredentialError reports whether err means the key is missing or was refused.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrCredentialRejected) || errors.Is(err, ErrAPIKeyRequired)
}
