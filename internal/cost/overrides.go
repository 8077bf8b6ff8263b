package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PricingFile is the name of the override file inside the data directory.
const PricingFile = "pricing.json"

// LocalPricing holds user-maintained prices that replace the built-in table.
type LocalPricing struct {
	UpdatedAt time.Time                     `json:"updated_at"`
	Source    string                        `json:"source"`
	Tokens    map[string]TokenPrice         `json:"tokens,omitempty"`
	Image     map[string]map[string]float64 `json:"image,omitempty"`
}

func PricingPath(dataDir string) string {
	return filepath.Join(dataDir, PricingFile)
}

func SavePricing(path string, pricing *LocalPricing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create pricing directory: %w", err)
	}

	data, err := json.MarshalIndent(pricing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pricing: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write pricing file: %w", err)
	}
	return nil
}

// LoadPricing returns nil, nil when no override file exists.
func LoadPricing(path string) (*LocalPricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var pricing LocalPricing
	if err := json.Unmarshal(data, &pricing); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	return &pricing, nil
}

func DeletePricing(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete pricing file: %w", err)
	}
	return nil
}

// SetImagePrice stores a per-image override. An empty size applies to every
// size of model without its own entry.
func SetImagePrice(path, model, size string, price float64) error {
	pricing, err := loadOrNew(path)
	if err != nil {
		return err
	}
	if pricing.Image[model] == nil {
		pricing.Image[model] = make(map[string]float64)
	}
	pricing.Image[model][size] = price
	pricing.UpdatedAt = time.Now()
	return SavePricing(path, pricing)
}

func SetTokenPrice(path, model string, price TokenPrice) error {
	pricing, err := loadOrNew(path)
	if err != nil {
		return err
	}
	pricing.Tokens[model] = price
	pricing.UpdatedAt = time.Now()
	return SavePricing(path, pricing)
}

func loadOrNew(path string) (*LocalPricing, error) {
	pricing, err := LoadPricing(path)
	if err != nil {
		return nil, err
	}
	if pricing == nil {
		pricing = &LocalPricing{}
	}
	pricing.Source = "manual"
	if pricing.Tokens == nil {
		pricing.Tokens = make(map[string]TokenPrice)
	}
	if pricing.Image == nil {
		pricing.Image = make(map[string]map[string]float64)
	}
	return pricing, nil
}

func (p *LocalPricing) tokenPrice(model string) (TokenPrice, bool) {
	if p == nil {
		return TokenPrice{}, false
	}
	price, ok := p.Tokens[model]
	return price, ok
}

func (p *LocalPricing) imagePrice(model, size string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	sizes, ok := p.Image[model]
	if !ok {
		return 0, false
	}
	if price, ok := sizes[size]; ok {
		return price, true
	}
	price, ok := sizes[""]
	return price, ok
}
