package config

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Profile is a TOML strategy profile overriding the backtest section.
// Only the keys present in the file are applied.
//
//	[backtest]
//	top_n = 20
//	allocation = "equal"
type Profile struct {
	Backtest struct {
		MinBreadth      *int    `toml:"min_breadth"`
		TopN            *int    `toml:"top_n"`
		StartingCash    *string `toml:"starting_cash"`
		Allocation      *string `toml:"allocation"`
		Valuation       *string `toml:"valuation"`
		PrefetchWorkers *int    `toml:"prefetch_workers"`
	} `toml:"backtest"`
	Benchmark *string `toml:"benchmark"`
}

// LoadProfile reads a TOML profile from disk
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// Apply overrides cfg with the profile values and re-validates the backtest section.
func (p *Profile) Apply(cfg *Config) error {
	b := &cfg.Backtest
	if v := p.Backtest.MinBreadth; v != nil {
		b.MinBreadth = *v
	}
	if v := p.Backtest.TopN; v != nil {
		b.TopN = *v
	}
	if v := p.Backtest.StartingCash; v != nil {
		b.StartingCash = *v
	}
	if v := p.Backtest.Allocation; v != nil {
		b.Allocation = *v
	}
	if v := p.Backtest.Valuation; v != nil {
		b.Valuation = *v
	}
	if v := p.Backtest.PrefetchWorkers; v != nil {
		b.PrefetchWorkers = *v
	}
	if p.Benchmark != nil {
		cfg.BenchmarkSymbol = *p.Benchmark
	}
	return b.Validate()
}
