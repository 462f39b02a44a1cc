package cmd

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// bookFile is the YAML layout of a book:
//
//	exposures:
//	  - symbol: BTCUSDT
//	    sector: L1
//	    value_usd: 7000
type bookFile struct {
	Exposures []types.AssetExposure `yaml:"exposures"`
}

// loadBook reads a book keyed by symbol. Repeated symbols are summed.
func loadBook(path string) (map[string]types.AssetExposure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read book %s: %w", path, err)
	}
	var f bookFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse book %s: %w", path, err)
	}

	book := make(map[string]types.AssetExposure, len(f.Exposures))
	for _, e := range f.Exposures {
		e.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
		if e.Symbol == "" {
			return nil, fmt.Errorf("book %s: exposure without symbol", path)
		}
		if prev, ok := book[e.Symbol]; ok {
			e.ValueUSD += prev.ValueUSD
			if e.Sector == "" {
				e.Sector = prev.Sector
			}
		}
		book[e.Symbol] = e
	}
	return book, nil
}
