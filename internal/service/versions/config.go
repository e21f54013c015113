package versions

import (
	"errors"

	"github.com/tessera-labs/tessera/internal/platform/env"
)

type Config struct {
	// HistoryWindow bounds how many recent assignments are inspected per lookup.
	HistoryWindow int
	// CollisionRetries is the number of re-derivations after the first attempt.
	CollisionRetries int
}

func DefaultConfig() Config {
	return Config{HistoryWindow: 10, CollisionRetries: 5}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	window, err := env.Int("VERSION_HISTORY_WINDOW", def.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	retries, err := env.Int("VERSION_COLLISION_RETRIES", def.CollisionRetries)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{HistoryWindow: window, CollisionRetries: retries}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.HistoryWindow < 1 {
		return errors.New("VERSION_HISTORY_WINDOW must be >= 1")
	}
	if c.CollisionRetries < 0 {
		return errors.New("VERSION_COLLISION_RETRIES must be >= 0")
	}
	return nil
}
