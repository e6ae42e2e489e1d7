package market

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"papertrade-core/pkg/db"
)

// TickerSpec represents a tradable instrument entry in YAML.
type TickerSpec struct {
	Symbol     string  `yaml:"symbol"`
	Name       string  `yaml:"name"`
	AssetType  string  `yaml:"asset_type"`
	StartPrice float64 `yaml:"start_price"`
}

// TickerFile represents the top-level YAML structure.
type TickerFile struct {
	Tickers []TickerSpec `yaml:"tickers"`
}

// LoadTickers reads the instrument universe from a YAML file.
func LoadTickers(path string) ([]TickerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file TickerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	for i := range file.Tickers {
		file.Tickers[i].Symbol = strings.ToUpper(strings.TrimSpace(file.Tickers[i].Symbol))
		if file.Tickers[i].Symbol == "" {
			return nil, fmt.Errorf("ticker entry %d has no symbol", i)
		}
		if file.Tickers[i].AssetType == "" {
			file.Tickers[i].AssetType = "EQUITY"
		}
	}
	return file.Tickers, nil
}

// SyncTickersToDB upserts the instrument universe into the database.
func SyncTickersToDB(ctx context.Context, database *db.Database, specs []TickerSpec) error {
	for _, spec := range specs {
		err := database.UpsertTicker(ctx, db.Ticker{
			Symbol:    spec.Symbol,
			Name:      spec.Name,
			AssetType: spec.AssetType,
		})
		if err != nil {
			return fmt.Errorf("sync ticker %s: %w", spec.Symbol, err)
		}
	}
	return nil
}
