package cost

import "maps"

// Gemini API pricing (USD), standard tier.
// Source: https://ai.google.dev/gemini-api/docs/pricing

// TokenPrice is USD per one million tokens.
type TokenPrice struct {
	InputPer1M  float64 `json:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m"`
}

var tokenPricing = map[string]TokenPrice{
	"gemini-3-pro-preview":       {InputPer1M: 2.00, OutputPer1M: 12.00},
	"gemini-2.5-pro":             {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-2.5-flash":           {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-3-pro-image-preview": {InputPer1M: 2.00, OutputPer1M: 12.00},
	"gemini-2.5-flash-image":     {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// imagePricing is USD per output image, keyed by model then image size.
// The empty size is the model's only or default size.
var imagePricing = map[string]map[string]float64{
	"gemini-3-pro-image-preview": {
		"":   0.134,
		"1K": 0.134,
		"2K": 0.134,
		"4K": 0.24,
	},
	"gemini-2.5-flash-image": {
		"": 0.039,
	},
}

func GetTokenPrice(model string) (TokenPrice, bool) {
	price, ok := tokenPricing[model]
	return price, ok
}

func GetImagePrice(model, size string) (float64, bool) {
	sizes, ok := imagePricing[model]
	if !ok {
		return 0, false
	}
	if price, ok := sizes[size]; ok {
		return price, true
	}
	price, ok := sizes[""]
	return price, ok
}

// BuiltinPricing returns a copy of the built-in tables in override form.
func BuiltinPricing() *LocalPricing {
	p := &LocalPricing{
		Source: "builtin",
		Tokens: make(map[string]TokenPrice, len(tokenPricing)),
		Image:  make(map[string]map[string]float64, len(imagePricing)),
	}
	for model, price := range tokenPricing {
		p.Tokens[model] = price
	}
	for model, sizes := range imagePricing {
		p.Image[model] = maps.Clone(sizes)
	}
	return p
}
