package app

import (
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"pricewatch/internal/catalog"
)

// seedItem is the YAML shape of one catalog entry in a seed file.
// Pointer fields distinguish absent from zero.
type seedItem struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title"`
	CurrentPrice   *float64 `yaml:"current_price"`
	BuyBoxPrice    *float64 `yaml:"buy_box_price"`
	LowestPrice    *float64 `yaml:"lowest_price"`
	AffiliateURL   string   `yaml:"affiliate_url"`
	ImageURL       string   `yaml:"image_url"`
	PublishEnabled *bool    `yaml:"publish_enabled"`
}

// LoadSeed reads a YAML list of catalog items for App.Seed. Publishing
// defaults to enabled when the key is absent.
func LoadSeed(path string) ([]catalog.Item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []seedItem
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}

	items := make([]catalog.Item, 0, len(raw))
	for i, si := range raw {
		if strings.TrimSpace(si.ID) == "" {
			return nil, fmt.Errorf("seed %s: item %d has no id", path, i)
		}
		it := catalog.Item{
			ID:             si.ID,
			Title:          si.Title,
			CurrentPrice:   seedPrice(si.CurrentPrice),
			BuyBoxPrice:    seedPrice(si.BuyBoxPrice),
			LowestPrice:    seedPrice(si.LowestPrice),
			AffiliateURL:   si.AffiliateURL,
			ImageURL:       si.ImageURL,
			PublishEnabled: si.PublishEnabled == nil || *si.PublishEnabled,
		}
		items = append(items, it)
	}
	return items, nil
}

func seedPrice(v *float64) catalog.Price {
	if v == nil || *v < 0 {
		return catalog.Price{}
	}
	return catalog.NewPrice(*v)
}
