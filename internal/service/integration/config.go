package integration

import (
	"errors"

	"github.com/tessera-labs/tessera/internal/platform/env"
)

// SweepConfig bounds the working set of a reconciliation sweep.
type SweepConfig struct {
	PageSize    int
	Concurrency int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{PageSize: 100, Concurrency: 4}
}

func SweepConfigFromEnv() (SweepConfig, error) {
	def := DefaultSweepConfig()
	pageSize, err := env.Int("SWEEP_PAGE_SIZE", def.PageSize)
	if err != nil {
		return SweepConfig{}, err
	}
	concurrency, err := env.Int("SWEEP_CONCURRENCY", def.Concurrency)
	if err != nil {
		return SweepConfig{}, err
	}
	cfg := SweepConfig{PageSize: pageSize, Concurrency: concurrency}
	if err := cfg.Validate(); err != nil {
		return SweepConfig{}, err
	}
	return cfg, nil
}

func (c SweepConfig) Validate() error {
	if c.PageSize < 1 {
		return errors.New("SWEEP_PAGE_SIZE must be >= 1")
	}
	if c.Concurrency < 1 {
		return errors.New("SWEEP_CONCURRENCY must be >= 1")
	}
	return nil
}
