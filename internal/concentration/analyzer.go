package concentration

import (
	"fmt"
	"math"
	"sort"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const component = "concentration"

// UnclassifiedSector is used for exposures with no sector in either the
// exposure record or the sector table.
const UnclassifiedSector = "UNCLASSIFIED"

// RiskLevel is the concentration band of a book.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Config holds the concentration limits.
type Config struct {
	MaxSectorFraction         float64 `json:"max_sector_fraction" yaml:"max_sector_fraction"`
	MaxSameSectorPairFraction float64 `json:"max_same_sector_pair_fraction" yaml:"max_same_sector_pair_fraction"`
	// HHI lower bounds (inclusive) for MEDIUM, HIGH and CRITICAL
	MediumHHI   float64 `json:"medium_hhi" yaml:"medium_hhi"`
	HighHHI     float64 `json:"high_hhi" yaml:"high_hhi"`
	CriticalHHI float64 `json:"critical_hhi" yaml:"critical_hhi"`
}

// DefaultConfig returns the default concentration limits
func DefaultConfig() Config {
	return Config{
		MaxSectorFraction:         0.40,
		MaxSameSectorPairFraction: 0.30,
		MediumHHI:                 0.25,
		HighHHI:                   0.40,
		CriticalHHI:               0.60,
	}
}

// Validate checks fractions are in (0,1] and HHI bands increase.
func (c Config) Validate() error {
	if c.MaxSectorFraction <= 0 || c.MaxSectorFraction > 1 {
		return rerrors.NewConfigurationError(component, "max_sector_fraction", "must be in (0, 1]")
	}
	if c.MaxSameSectorPairFraction <= 0 || c.MaxSameSectorPairFraction > 1 {
		return rerrors.NewConfigurationError(component, "max_same_sector_pair_fraction", "must be in (0, 1]")
	}
	if !(0 < c.MediumHHI && c.MediumHHI < c.HighHHI && c.HighHHI < c.CriticalHHI && c.CriticalHHI <= 1) {
		return rerrors.NewConfigurationError(component, "hhi_bands", "must be strictly increasing within (0, 1]")
	}
	return nil
}

// Level maps an HHI value to its band.
func (c Config) Level(hhi float64) RiskLevel {
	switch {
	case hhi >= c.CriticalHHI:
		return RiskLevelCritical
	case hhi >= c.HighHHI:
		return RiskLevelHigh
	case hhi >= c.MediumHHI:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// SectorShare is the combined exposure of one sector.
type SectorShare struct {
	Sector   string
	ValueUSD float64
	Share    float64
	Symbols  []string
}

// SectorViolation flags a sector above MaxSectorFraction.
type SectorViolation struct {
	Sector string
	Share  float64
	Limit  float64
}

// CorrelationViolation flags two symbols in one sector whose combined share
// exceeds MaxSameSectorPairFraction.
type CorrelationViolation struct {
	SymbolA       string
	SymbolB       string
	Sector        string
	CombinedShare float64
	Limit         float64
}

// ConcentrationReport is the result of analyzing a book.
type ConcentrationReport struct {
	TotalValueUSD float64
	HHI           float64
	// EmptyBook is set when the book has no value; HHI is then 0 and carries no information.
	EmptyBook             bool
	PositionCount         int // distinct non-zero exposures
	RiskLevel             RiskLevel
	Shares                map[string]float64 // symbol -> share of book
	Sectors               []SectorShare
	SectorViolations      []SectorViolation
	CorrelationViolations []CorrelationViolation
	Recommendations       []string
}

// WarningsForSector returns the advisory lines that concern sector.
func (r ConcentrationReport) WarningsForSector(sector string) []string {
	if sector == "" {
		sector = UnclassifiedSector
	}
	var warnings []string
	for _, v := range r.SectorViolations {
		if v.Sector == sector {
			warnings = append(warnings, fmt.Sprintf("Sector %s is %.1f%% of the book (limit %.1f%%)",
				v.Sector, v.Share*100, v.Limit*100))
		}
	}
	for _, v := range r.CorrelationViolations {
		if v.Sector == sector {
			warnings = append(warnings, fmt.Sprintf("Correlated pair %s/%s in %s holds %.1f%% of the book (limit %.1f%%)",
				v.SymbolA, v.SymbolB, v.Sector, v.CombinedShare*100, v.Limit*100))
		}
	}
	if r.RiskLevel == RiskLevelHigh || r.RiskLevel == RiskLevelCritical {
		warnings = append(warnings, fmt.Sprintf("Book concentration %s (HHI %.3f)", r.RiskLevel, r.HHI))
	}
	return warnings
}

// Analyzer computes concentration reports. It is stateless apart from its
// read-only configuration and sector table.
type Analyzer struct {
	config  Config
	sectors map[string]string
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithSectors sets the symbol -> sector table. Table entries take precedence
// over the sector carried by each exposure.
func WithSectors(table map[string]string) Option {
	return func(a *Analyzer) {
		a.sectors = make(map[string]string, len(table))
		for k, v := range table {
			a.sectors[k] = v
		}
	}
}

// NewAnalyzer creates an analyzer with the given limits.
func NewAnalyzer(config Config, opts ...Option) (*Analyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{config: config}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the analyzer limits.
func (a *Analyzer) Config() Config {
	return a.config
}

func (a *Analyzer) sectorOf(key string, e types.AssetExposure) string {
	if s, ok := a.sectors[key]; ok && s != "" {
		return s
	}
	if e.Sector != "" {
		return e.Sector
	}
	return UnclassifiedSector
}

// Analyze computes HHI, sector shares and correlated-pair violations.
func (a *Analyzer) Analyze(exposures map[string]types.AssetExposure) (ConcentrationReport, error) {
	report := ConcentrationReport{
		Shares:                make(map[string]float64),
		Sectors:               make([]SectorShare, 0),
		SectorViolations:      make([]SectorViolation, 0),
		CorrelationViolations: make([]CorrelationViolation, 0),
		Recommendations:       make([]string, 0),
	}

	symbols := make([]string, 0, len(exposures))
	for symbol, e := range exposures {
		if math.IsNaN(e.ValueUSD) || math.IsInf(e.ValueUSD, 0) || e.ValueUSD < 0 {
			return ConcentrationReport{}, rerrors.NewInvalidInput(component, "analyze",
				fmt.Sprintf("exposure for %s must be a non-negative number, got %v", symbol, e.ValueUSD), nil)
		}
		if e.ValueUSD == 0 {
			continue
		}
		symbols = append(symbols, symbol)
		report.TotalValueUSD += e.ValueUSD
	}
	sort.Strings(symbols)
	report.PositionCount = len(symbols)

	if report.TotalValueUSD == 0 {
		report.EmptyBook = true
		report.RiskLevel = RiskLevelLow
		return report, nil
	}

	bySector := make(map[string]*SectorShare)
	sectorOf := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		e := exposures[symbol]
		share := e.ValueUSD / report.TotalValueUSD
		report.Shares[symbol] = share
		report.HHI += share * share

		sector := a.sectorOf(symbol, e)
		sectorOf[symbol] = sector
		s, ok := bySector[sector]
		if !ok {
			s = &SectorShare{Sector: sector}
			bySector[sector] = s
		}
		s.ValueUSD += e.ValueUSD
		s.Share += share
		s.Symbols = append(s.Symbols, symbol)
	}
	// float rounding can leave a single-asset book at 0.9999999999999998 or 1.0000000000000002
	report.HHI = math.Min(report.HHI, 1)
	report.RiskLevel = a.config.Level(report.HHI)

	sectorNames := make([]string, 0, len(bySector))
	for name := range bySector {
		sectorNames = append(sectorNames, name)
	}
	sort.Strings(sectorNames)
	for _, name := range sectorNames {
		s := bySector[name]
		report.Sectors = append(report.Sectors, *s)
		if s.Share > a.config.MaxSectorFraction {
			report.SectorViolations = append(report.SectorViolations, SectorViolation{
				Sector: name,
				Share:  s.Share,
				Limit:  a.config.MaxSectorFraction,
			})
		}
	}

	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			si, sj := symbols[i], symbols[j]
			if sectorOf[si] != sectorOf[sj] {
				continue
			}
			combined := report.Shares[si] + report.Shares[sj]
			if combined > a.config.MaxSameSectorPairFraction {
				report.CorrelationViolations = append(report.CorrelationViolations, CorrelationViolation{
					SymbolA:       si,
					SymbolB:       sj,
					Sector:        sectorOf[si],
					CombinedShare: combined,
					Limit:         a.config.MaxSameSectorPairFraction,
				})
			}
		}
	}

	report.Recommendations = a.recommend(report, symbols)
	return report, nil
}

func (a *Analyzer) recommend(r ConcentrationReport, symbols []string) []string {
	recs := make([]string, 0)
	for _, v := range r.SectorViolations {
		recs = append(recs, fmt.Sprintf("Reduce exposure to sector %s below %.0f%% (currently %.1f%%)",
			v.Sector, v.Limit*100, v.Share*100))
	}
	for _, v := range r.CorrelationViolations {
		recs = append(recs, fmt.Sprintf("Reduce combined exposure to %s and %s (%s) below %.0f%% (currently %.1f%%)",
			v.SymbolA, v.SymbolB, v.Sector, v.Limit*100, v.CombinedShare*100))
	}

	if r.RiskLevel != RiskLevelHigh && r.RiskLevel != RiskLevelCritical {
		return recs
	}

	largest := ""
	for _, s := range symbols {
		if largest == "" || r.Shares[s] > r.Shares[largest] {
			largest = s
		}
	}
	recs = append(recs, fmt.Sprintf("Trim %s (%.1f%% of the book) to bring HHI %.3f below %.2f",
		largest, r.Shares[largest]*100, r.HHI, a.config.HighHHI))
	if len(symbols) < 4 {
		recs = append(recs, fmt.Sprintf("Diversify: the book holds only %d asset(s)", len(symbols)))
	}
	return recs
}
