package models

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	ErrEmptyInstruction         = errors.New("instruction cannot be empty")
	ErrNoImageData              = errors.New("image data is required")
	ErrImageCount               = errors.New("unexpected number of images")
	ErrTooManyImages            = errors.New("too many input images for model")
	ErrOperationNotSupported    = errors.New("operation not supported by model")
	ErrInvalidAspectRatio       = errors.New("invalid aspect ratio for model")
	ErrInvalidImageSize         = errors.New("invalid image size for model")
	ErrImageSizeNotSupported    = errors.New("image size not supported by model")
	ErrStructuredOutputRequired = errors.New("model does not support structured JSON output")
	ErrInvalidSlot              = errors.New("invalid wall slot")
)

type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
)

// Operation names one of the three external call shapes.
type Operation string

const (
	OperationAnalyze    Operation = "analyze"
	OperationSynthesize Operation = "synthesize"
	OperationEdit       Operation = "edit"
)

func (o Operation) String() string {
	return string(o)
}

const (
	DefaultAnalysisModel = "gemini-3-pro-preview"
	DefaultImageModel    = "gemini-3-pro-image-preview"
	DefaultEditModel     = "gemini-2.5-flash-image"
)

// Slot is the positional index of a wall photograph.
type Slot int

const (
	North Slot = 0
	South Slot = 1
)

// SlotCount is the number of photographs an analysis needs.
const SlotCount = 2

func Slots() []Slot {
	return []Slot{North, South}
}

func (s Slot) Valid() bool {
	return s == North || s == South
}

func (s Slot) String() string {
	switch s {
	case North:
		return "north"
	case South:
		return "south"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Label is the display name of the wall.
func (s Slot) Label() string {
	switch s {
	case North:
		return "North Wall"
	case South:
		return "South Wall"
	default:
		return s.String()
	}
}

func ParseSlot(v string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "north", "n", "0":
		return North, nil
	case "south", "s", "1":
		return South, nil
	default:
		return 0, fmt.Errorf("%w: %q (use north or south)", ErrInvalidSlot, v)
	}
}

// WallImage is one user-supplied photograph held in a slot.
type WallImage struct {
	Slot    Slot
	Payload string
	Name    string
}

// Image is a decoded image ready for transmission.
type Image struct {
	MIMEType string
	Data     []byte
}

type AnalyzeRequest struct {
	Model       string
	Images      []Image
	Instruction string
}

func NewAnalyzeRequest(images []Image, instruction string) *AnalyzeRequest {
	return &AnalyzeRequest{
		Model:       DefaultAnalysisModel,
		Images:      images,
		Instruction: instruction,
	}
}

func (r *AnalyzeRequest) Validate() error {
	if len(r.Images) != SlotCount {
		return fmt.Errorf("%w: want %d, got %d", ErrImageCount, SlotCount, len(r.Images))
	}
	for i, img := range r.Images {
		if len(img.Data) == 0 {
			return fmt.Errorf("%w: image %d", ErrNoImageData, i)
		}
	}
	if strings.TrimSpace(r.Instruction) == "" {
		return ErrEmptyInstruction
	}
	return nil
}

type SynthesizeRequest struct {
	Model       string
	Images      []Image
	Instruction string
	AspectRatio string
	ImageSize   string
}

func NewSynthesizeRequest(images []Image, instruction string) *SynthesizeRequest {
	return &SynthesizeRequest{
		Model:       DefaultImageModel,
		Images:      images,
		Instruction: instruction,
	}
}

func (r *SynthesizeRequest) Validate() error {
	if len(r.Images) == 0 {
		return ErrNoImageData
	}
	for i, img := range r.Images {
		if len(img.Data) == 0 {
			return fmt.Errorf("%w: image %d", ErrNoImageData, i)
		}
	}
	if strings.TrimSpace(r.Instruction) == "" {
		return ErrEmptyInstruction
	}
	return nil
}

type EditRequest struct {
	Model       string
	Image       Image
	Instruction string
}

func NewEditRequest(image Image, instruction string) *EditRequest {
	return &EditRequest{
		Model:       DefaultEditModel,
		Image:       image,
		Instruction: instruction,
	}
}

func (r *EditRequest) Validate() error {
	if len(r.Image.Data) == 0 {
		return ErrNoImageData
	}
	if strings.TrimSpace(r.Instruction) == "" {
		return ErrEmptyInstruction
	}
	return nil
}

// Usage is what the service reports it consumed for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Images       int
}

type CostInfo struct {
	Input    float64
	Output   float64
	Total    float64
	Currency string
}

// AnalyzeResponse carries the raw JSON text returned by the analysis call.
type AnalyzeResponse struct {
	Model string
	JSON  []byte
	Usage Usage
	Cost  *CostInfo
}

type ImageResponse struct {
	Model string
	Image Image
	Text  string
	Usage Usage
	Cost  *CostInfo
}

type ModelCapabilities struct {
	Name                  string
	Provider              ProviderType
	Operations            []Operation
	SupportsJSON          bool
	MaxInputImages        int
	SupportedAspectRatios []string
	SupportedImageSizes   []string
	DefaultAspectRatio    string
	DefaultImageSize      string
}

func (c *ModelCapabilities) Supports(op Operation) bool {
	return slices.Contains(c.Operations, op)
}

func (c *ModelCapabilities) check(op Operation, images int) error {
	if !c.Supports(op) {
		return fmt.Errorf("%w: %s cannot %s", ErrOperationNotSupported, c.Name, op)
	}
	if c.MaxInputImages > 0 && images > c.MaxInputImages {
		return fmt.Errorf("%w: max %d, got %d", ErrTooManyImages, c.MaxInputImages, images)
	}
	return nil
}

func (c *ModelCapabilities) ValidateAnalyze(req *AnalyzeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := c.check(OperationAnalyze, len(req.Images)); err != nil {
		return err
	}
	if !c.SupportsJSON {
		return fmt.Errorf("%w: %s", ErrStructuredOutputRequired, c.Name)
	}
	return nil
}

func (c *ModelCapabilities) ApplyDefaults(req *SynthesizeRequest) {
	if req.Model == "" {
		req.Model = c.Name
	}
	if req.AspectRatio == "" {
		req.AspectRatio = c.DefaultAspectRatio
	}
	if req.ImageSize == "" {
		req.ImageSize = c.DefaultImageSize
	}
}

func (c *ModelCapabilities) ValidateSynthesize(req *SynthesizeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := c.check(OperationSynthesize, len(req.Images)); err != nil {
		return err
	}
	if req.AspectRatio != "" && !slices.Contains(c.SupportedAspectRatios, req.AspectRatio) {
		return fmt.Errorf("%w: %q not in %v", ErrInvalidAspectRatio, req.AspectRatio, c.SupportedAspectRatios)
	}
	if req.ImageSize != "" {
		if len(c.SupportedImageSizes) == 0 {
			return fmt.Errorf("%w: %s", ErrImageSizeNotSupported, c.Name)
		}
		if !slices.Contains(c.SupportedImageSizes, req.ImageSize) {
			return fmt.Errorf("%w: %q not in %v", ErrInvalidImageSize, req.ImageSize, c.SupportedImageSizes)
		}
	}
	return nil
}

func (c *ModelCapabilities) ValidateEdit(req *EditRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return c.check(OperationEdit, 1)
}

type ModelRegistry struct {
	models map[string]*ModelCapabilities
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelCapabilities),
	}
}

func (r *ModelRegistry) Register(caps *ModelCapabilities) {
	r.models[caps.Name] = caps
}

func (r *ModelRegistry) Get(name string) (*ModelCapabilities, bool) {
	caps, ok := r.models[name]
	return caps, ok
}

func (r *ModelRegistry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ModelRegistry) ListByOperation(op Operation) []string {
	var names []string
	for name, caps := range r.models {
		if caps.Supports(op) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *ModelRegistry) ListByProvider(provider ProviderType) []string {
	var names []string
	for name, caps := range r.models {
		if caps.Provider == provider {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

var geminiAspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelCapabilities{
		Name:           "gemini-3-pro-preview",
		Provider:       ProviderGemini,
		Operations:     []Operation{OperationAnalyze},
		SupportsJSON:   true,
		MaxInputImages: 14,
	})

	r.Register(&ModelCapabilities{
		Name:           "gemini-2.5-pro",
		Provider:       ProviderGemini,
		Operations:     []Operation{OperationAnalyze},
		SupportsJSON:   true,
		MaxInputImages: 14,
	})

	r.Register(&ModelCapabilities{
		Name:           "gemini-2.5-flash",
		Provider:       ProviderGemini,
		Operations:     []Operation{OperationAnalyze},
		SupportsJSON:   true,
		MaxInputImages: 14,
	})

	r.Register(&ModelCapabilities{
		Name:                  "gemini-3-pro-image-preview",
		Provider:              ProviderGemini,
		Operations:            []Operation{OperationSynthesize, OperationEdit},
		MaxInputImages:        14,
		SupportedAspectRatios: geminiAspectRatios,
		SupportedImageSizes:   []string{"1K", "2K", "4K"},
		DefaultAspectRatio:    "1:1",
		DefaultImageSize:      "2K",
	})

	r.Register(&ModelCapabilities{
		Name:                  "gemini-2.5-flash-image",
		Provider:              ProviderGemini,
		Operations:            []Operation{OperationSynthesize, OperationEdit},
		MaxInputImages:        3,
		SupportedAspectRatios: geminiAspectRatios,
		DefaultAspectRatio:    "1:1",
	})

	return r
}
