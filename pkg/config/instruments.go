package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instrument is one tradable symbol as written in instruments.yaml.
type Instrument struct {
	Symbol       string  `yaml:"symbol"`
	Step         float64 `yaml:"step"`
	Capital      float64 `yaml:"capital"`
	Lot          float64 `yaml:"lot"`
	QtyPrecision int32   `yaml:"qty_precision"`
}

// InstrumentsFile is the top-level YAML structure.
type InstrumentsFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// DefaultInstruments is the INR stock-perpetual table used when no file exists.
func DefaultInstruments() []Instrument {
	return []Instrument{
		{Symbol: "HOODINR", Step: 0.08},
		{Symbol: "MSTRINR", Step: 0.05},
		{Symbol: "INTCINR", Step: 0.13},
		{Symbol: "AMZNINR", Step: 0.03},
		{Symbol: "CRCLINR", Step: 0.10},
		{Symbol: "COININR", Step: 0.04},
		{Symbol: "PLTRINR", Step: 0.05},
		{Symbol: "TSLAINR", Step: 0.15},
	}
}

// LoadInstruments reads the instrument table; a missing file yields the defaults.
func LoadInstruments(path string) ([]Instrument, error) {
	if path == "" {
		return DefaultInstruments(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultInstruments(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read instruments: %w", err)
	}
	return ParseInstruments(data)
}

// ParseInstruments decodes and normalizes an instruments document.
func ParseInstruments(data []byte) ([]Instrument, error) {
	var file InstrumentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse instruments: %w", err)
	}
	seen := make(map[string]bool, len(file.Instruments))
	out := make([]Instrument, 0, len(file.Instruments))
	for _, inst := range file.Instruments {
		inst.Symbol = strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if inst.Symbol == "" {
			return nil, errors.New("parse instruments: empty symbol")
		}
		if seen[inst.Symbol] {
			return nil, fmt.Errorf("parse instruments: duplicate symbol %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		out = append(out, inst)
	}
	return out, nil
}

// FilterInstruments keeps only allowed symbols; an empty allow-list keeps all.
func FilterInstruments(all []Instrument, allow []string) []Instrument {
	if len(allow) == 0 {
		return all
	}
	keep := make(map[string]bool, len(allow))
	for _, s := range allow {
		keep[s] = true
	}
	out := make([]Instrument, 0, len(allow))
	for _, inst := range all {
		if keep[inst.Symbol] {
			out = append(out, inst)
		}
	}
	return out
}
