package models

import (
	"errors"
	"testing"
)

func testImages(n int) []Image {
	images := make([]Image, n)
	for i := range images {
		images[i] = Image{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8, byte(i)}}
	}
	return images
}

func TestParseSlot(t *testing.T) {
	tests := []struct {
		in      string
		want    Slot
		wantErr bool
	}{
		{"north", North, false},
		{"N", North, false},
		{"0", North, false},
		{" South ", South, false},
		{"s", South, false},
		{"1", South, false},
		{"east", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSlot(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSlot) {
					t.Errorf("ParseSlot(%q) error = %v, want ErrInvalidSlot", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSlot(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseSlot(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlot_Label(t *testing.T) {
	if North.Label() != "North Wall" {
		t.Errorf("North.Label() = %q", North.Label())
	}
	if South.Label() != "South Wall" {
		t.Errorf("South.Label() = %q", South.Label())
	}
	if Slot(7).Valid() {
		t.Error("Slot(7).Valid() = true, want false")
	}
}

func TestAnalyzeRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *AnalyzeRequest
		wantErr error
	}{
		{"valid", NewAnalyzeRequest(testImages(2), "analyze"), nil},
		{"one image", NewAnalyzeRequest(testImages(1), "analyze"), ErrImageCount},
		{"three images", NewAnalyzeRequest(testImages(3), "analyze"), ErrImageCount},
		{"empty image", NewAnalyzeRequest([]Image{{Data: []byte{1}}, {}}, "analyze"), ErrNoImageData},
		{"empty instruction", NewAnalyzeRequest(testImages(2), "  "), ErrEmptyInstruction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEditRequest_Validate(t *testing.T) {
	req := NewEditRequest(testImages(1)[0], "add a plant")
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if req.Model != DefaultEditModel {
		t.Errorf("Model = %q, want %q", req.Model, DefaultEditModel)
	}

	req.Instruction = ""
	if err := req.Validate(); !errors.Is(err, ErrEmptyInstruction) {
		t.Errorf("Validate() error = %v, want ErrEmptyInstruction", err)
	}

	req = NewEditRequest(Image{}, "add a plant")
	if err := req.Validate(); !errors.Is(err, ErrNoImageData) {
		t.Errorf("Validate() error = %v, want ErrNoImageData", err)
	}
}

func TestModelCapabilities_ValidateAnalyze(t *testing.T) {
	r := DefaultRegistry()

	caps, _ := r.Get(DefaultAnalysisModel)
	if err := caps.ValidateAnalyze(NewAnalyzeRequest(testImages(2), "x")); err != nil {
		t.Errorf("ValidateAnalyze() error = %v", err)
	}

	imageCaps, _ := r.Get(DefaultImageModel)
	err := imageCaps.ValidateAnalyze(NewAnalyzeRequest(testImages(2), "x"))
	if !errors.Is(err, ErrOperationNotSupported) {
		t.Errorf("ValidateAnalyze() on image model error = %v, want ErrOperationNotSupported", err)
	}

	noJSON := &ModelCapabilities{Name: "plain", Operations: []Operation{OperationAnalyze}}
	if err := noJSON.ValidateAnalyze(NewAnalyzeRequest(testImages(2), "x")); !errors.Is(err, ErrStructuredOutputRequired) {
		t.Errorf("ValidateAnalyze() error = %v, want ErrStructuredOutputRequired", err)
	}
}

func TestModelCapabilities_ValidateSynthesize(t *testing.T) {
	r := DefaultRegistry()
	pro, _ := r.Get("gemini-3-pro-image-preview")
	flash, _ := r.Get("gemini-2.5-flash-image")

	tests := []struct {
		name    string
		caps    *ModelCapabilities
		aspect  string
		size    string
		images  int
		wantErr error
	}{
		{"pro defaults", pro, "", "", 2, nil},
		{"pro 4K wide", pro, "16:9", "4K", 2, nil},
		{"pro bad size", pro, "1:1", "8K", 2, ErrInvalidImageSize},
		{"pro bad aspect", pro, "7:3", "2K", 2, ErrInvalidAspectRatio},
		{"flash rejects size", flash, "1:1", "2K", 2, ErrImageSizeNotSupported},
		{"flash too many images", flash, "1:1", "", 4, ErrTooManyImages},
		{"no images", pro, "", "", 0, ErrNoImageData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewSynthesizeRequest(testImages(tt.images), "render")
			req.Model = tt.caps.Name
			req.AspectRatio = tt.aspect
			req.ImageSize = tt.size
			err := tt.caps.ValidateSynthesize(req)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSynthesize() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSynthesize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestModelCapabilities_ApplyDefaults(t *testing.T) {
	caps, _ := DefaultRegistry().Get(DefaultImageModel)
	req := &SynthesizeRequest{Images: testImages(2), Instruction: "render"}
	caps.ApplyDefaults(req)

	if req.Model != DefaultImageModel {
		t.Errorf("Model = %q, want %q", req.Model, DefaultImageModel)
	}
	if req.AspectRatio != "1:1" {
		t.Errorf("AspectRatio = %q, want 1:1", req.AspectRatio)
	}
	if req.ImageSize != "2K" {
		t.Errorf("ImageSize = %q, want 2K", req.ImageSize)
	}

	req = &SynthesizeRequest{AspectRatio: "16:9", ImageSize: "4K"}
	caps.ApplyDefaults(req)
	if req.AspectRatio != "16:9" || req.ImageSize != "4K" {
		t.Errorf("ApplyDefaults overwrote explicit values: %+v", req)
	}
}

func TestModelRegistry(t *testing.T) {
	r := DefaultRegistry()

	analyzers := r.ListByOperation(OperationAnalyze)
	if len(analyzers) != 3 {
		t.Errorf("ListByOperation(analyze) = %v, want 3 models", analyzers)
	}

	editors := r.ListByOperation(OperationEdit)
	want := []string{"gemini-2.5-flash-image", "gemini-3-pro-image-preview"}
	if len(editors) != len(want) {
		t.Fatalf("ListByOperation(edit) = %v, want %v", editors, want)
	}
	for i := range want {
		if editors[i] != want[i] {
			t.Errorf("ListByOperation(edit)[%d] = %q, want %q", i, editors[i], want[i])
		}
	}

	if got := len(r.ListByProvider(ProviderGemini)); got != len(r.List()) {
		t.Errorf("ListByProvider(gemini) = %d, want %d", got, len(r.List()))
	}

	if _, ok := r.Get("dall-e-3"); ok {
		t.Error("Get(dall-e-3) found a model, want none")
	}
}

func TestDefaultModelsRegistered(t *testing.T) {
	r := DefaultRegistry()
	for name, op := range map[string]Operation{
		DefaultAnalysisModel: OperationAnalyze,
		DefaultImageModel:    OperationSynthesize,
		DefaultEditModel:     OperationEdit,
	} {
		caps, ok := r.Get(name)
		if !ok {
			t.Errorf("default model %s not registered", name)
			continue
		}
		if !caps.Supports(op) {
			t.Errorf("%s does not support %s", name, op)
		}
	}
}
