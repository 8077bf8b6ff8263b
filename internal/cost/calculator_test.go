package cost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/manash/zenspace/pkg/models"
)

func TestNewCalculator(t *testing.T) {
	calc := NewCalculator()
	if calc == nil {
		t.Error("NewCalculator() returned nil")
	}
}

func TestCalculator_Calculate_Tokens(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name       string
		model      string
		usage      models.Usage
		wantInput  float64
		wantOutput float64
	}{
		{"3 pro", "gemini-3-pro-preview", models.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 2.00, 12.00},
		{"3 pro small", "gemini-3-pro-preview", models.Usage{InputTokens: 2500, OutputTokens: 800}, 0.005, 0.0096},
		{"2.5 pro", "gemini-2.5-pro", models.Usage{InputTokens: 1_000_000, OutputTokens: 500_000}, 1.25, 5.00},
		{"2.5 flash", "gemini-2.5-flash", models.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 0.30, 2.50},
		{"no usage", "gemini-3-pro-preview", models.Usage{}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := calc.Calculate(tt.model, "", tt.usage)
			if !floatEquals(result.Input, tt.wantInput) {
				t.Errorf("Input = %.4f, want %.4f", result.Input, tt.wantInput)
			}
			if !floatEquals(result.Output, tt.wantOutput) {
				t.Errorf("Output = %.4f, want %.4f", result.Output, tt.wantOutput)
			}
			if !floatEquals(result.Total, tt.wantInput+tt.wantOutput) {
				t.Errorf("Total = %.4f", result.Total)
			}
			if result.Currency != CurrencyUSD {
				t.Errorf("Currency = %s, want %s", result.Currency, CurrencyUSD)
			}
		})
	}
}

func TestCalculator_Calculate_Images(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name       string
		model      string
		size       string
		images     int
		wantOutput float64
	}{
		{"pro 2K", "gemini-3-pro-image-preview", "2K", 1, 0.134},
		{"pro 1K", "gemini-3-pro-image-preview", "1K", 1, 0.134},
		{"pro 4K", "gemini-3-pro-image-preview", "4K", 1, 0.24},
		{"pro default size", "gemini-3-pro-image-preview", "", 1, 0.134},
		{"flash", "gemini-2.5-flash-image", "", 1, 0.039},
		{"flash ignores size", "gemini-2.5-flash-image", "2K", 2, 0.078},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := models.Usage{OutputTokens: 1290, Images: tt.images}
			result := calc.Calculate(tt.model, tt.size, usage)
			if !floatEquals(result.Output, tt.wantOutput) {
				t.Errorf("Output = %.4f, want %.4f", result.Output, tt.wantOutput)
			}
		})
	}
}

func TestCalculator_Calculate_ImageInputTokens(t *testing.T) {
	calc := NewCalculator()

	result := calc.Calculate("gemini-3-pro-image-preview", "2K", models.Usage{InputTokens: 500_000, Images: 1})
	if !floatEquals(result.Input, 1.00) {
		t.Errorf("Input = %.4f, want 1.00", result.Input)
	}
	if !floatEquals(result.Total, 1.134) {
		t.Errorf("Total = %.4f, want 1.134", result.Total)
	}
}

func TestCalculator_Calculate_UnknownModel(t *testing.T) {
	calc := NewCalculator()

	result := calc.Calculate("mystery-model", "", models.Usage{InputTokens: 1000, OutputTokens: 1000, Images: 1})
	if result.Total != 0 {
		t.Errorf("Total = %v, want 0", result.Total)
	}
}

func TestCalculator_WithOverrides(t *testing.T) {
	pricing := &LocalPricing{
		Tokens: map[string]TokenPrice{"gemini-3-pro-preview": {InputPer1M: 4, OutputPer1M: 18}},
		Image:  map[string]map[string]float64{"gemini-2.5-flash-image": {"": 0.05}},
	}
	calc := NewCalculator().WithOverrides(pricing)

	tokens := calc.Calculate("gemini-3-pro-preview", "", models.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	if !floatEquals(tokens.Total, 22) {
		t.Errorf("override token Total = %.4f, want 22", tokens.Total)
	}

	img := calc.Calculate("gemini-2.5-flash-image", "", models.Usage{Images: 1})
	if !floatEquals(img.Output, 0.05) {
		t.Errorf("override image Output = %.4f, want 0.05", img.Output)
	}

	builtin := calc.Calculate("gemini-3-pro-image-preview", "4K", models.Usage{Images: 1})
	if !floatEquals(builtin.Output, 0.24) {
		t.Errorf("non-overridden Output = %.4f, want 0.24", builtin.Output)
	}
}

func TestGetImagePrice(t *testing.T) {
	if _, ok := GetImagePrice("gemini-3-pro-preview", "2K"); ok {
		t.Error("text model should have no image price")
	}
	if price, ok := GetImagePrice("gemini-3-pro-image-preview", "8K"); !ok || !floatEquals(price, 0.134) {
		t.Errorf("unknown size should fall back to the default, got %v %v", price, ok)
	}
}

func TestPricingFile(t *testing.T) {
	path := PricingPath(t.TempDir())

	pricing, err := LoadPricing(path)
	if err != nil || pricing != nil {
		t.Fatalf("LoadPricing(missing) = %v, %v; want nil, nil", pricing, err)
	}

	if err := SetImagePrice(path, "gemini-3-pro-image-preview", "4K", 0.3); err != nil {
		t.Fatalf("SetImagePrice() error = %v", err)
	}
	if err := SetTokenPrice(path, "gemini-2.5-pro", TokenPrice{InputPer1M: 1, OutputPer1M: 8}); err != nil {
		t.Fatalf("SetTokenPrice() error = %v", err)
	}

	pricing, err = LoadPricing(path)
	if err != nil {
		t.Fatalf("LoadPricing() error = %v", err)
	}
	if pricing.Source != "manual" || pricing.UpdatedAt.IsZero() {
		t.Errorf("pricing metadata = %q %v", pricing.Source, pricing.UpdatedAt)
	}
	if got := pricing.Image["gemini-3-pro-image-preview"]["4K"]; got != 0.3 {
		t.Errorf("image override = %v, want 0.3", got)
	}
	if got := pricing.Tokens["gemini-2.5-pro"].OutputPer1M; got != 8 {
		t.Errorf("token override = %v, want 8", got)
	}

	if err := DeletePricing(path); err != nil {
		t.Fatalf("DeletePricing() error = %v", err)
	}
	if err := DeletePricing(path); err != nil {
		t.Errorf("DeletePricing() twice error = %v", err)
	}
}

func TestBuiltinPricing(t *testing.T) {
	p := BuiltinPricing()
	if p.Source != "builtin" {
		t.Errorf("Source = %q", p.Source)
	}
	if p.Tokens[models.DefaultAnalysisModel].InputPer1M != 2.00 {
		t.Errorf("Tokens[%s] = %+v", models.DefaultAnalysisModel, p.Tokens[models.DefaultAnalysisModel])
	}

	p.Image[models.DefaultImageModel]["4K"] = 99
	if price, _ := GetImagePrice(models.DefaultImageModel, "4K"); price != 0.24 {
		t.Errorf("BuiltinPricing() shares its maps: 4K price = %v", price)
	}
}

func TestLoadPricing_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	if err := SavePricing(path, &LocalPricing{}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "{not json")

	if _, err := LoadPricing(path); err == nil {
		t.Error("LoadPricing() should fail on malformed JSON")
	}
}

func floatEquals(a, b float64) bool {
	const epsilon = 0.0001
	return (a-b) < epsilon && (b-a) < epsilon
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
