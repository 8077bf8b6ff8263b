package cost

import "github.com/manash/zenspace/pkg/models"

const (
	CurrencyUSD = "USD"
)

type Calculator struct {
	overrides *LocalPricing
}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// WithOverrides makes locally stored prices take precedence over the
// built-in table. A nil pricing is ignored.
func (c *Calculator) WithOverrides(p *LocalPricing) *Calculator {
	c.overrides = p
	return c
}

// Calculate estimates one call. Calls that return images are billed per
// image for output; their output tokens are not billed again.
func (c *Calculator) Calculate(model, size string, usage models.Usage) *models.CostInfo {
	price := c.tokenPrice(model)
	input := (float64(usage.InputTokens) / 1_000_000) * price.InputPer1M

	var output float64
	if usage.Images > 0 {
		output = c.imagePrice(model, size) * float64(usage.Images)
	} else {
		output = (float64(usage.OutputTokens) / 1_000_000) * price.OutputPer1M
	}

	return &models.CostInfo{
		Input:    input,
		Output:   output,
		Total:    input + output,
		Currency: CurrencyUSD,
	}
}

func (c *Calculator) tokenPrice(model string) TokenPrice {
	if price, ok := c.overrides.tokenPrice(model); ok {
		return price
	}
	if price, ok := GetTokenPrice(model); ok {
		return price
	}
	return TokenPrice{}
}

func (c *Calculator) imagePrice(model, size string) float64 {
	if price, ok := c.overrides.imagePrice(model, size); ok {
		return price
	}
	if price, ok := GetImagePrice(model, size); ok {
		return price
	}
	return 0
}
