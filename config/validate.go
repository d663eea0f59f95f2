package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Feed.Endpoint == "" {
		return errors.New("feed.endpoint is required (or PRICER_FEED_ENDPOINT)")
	}
	if cfg.Feed.ReadTimeoutMs < 0 || cfg.Feed.PingIntervalMs < 0 || cfg.Feed.RetryBackoffMs < 0 || cfg.Feed.StaleAfterMs < 0 {
		return errors.New("feed timeouts must be >= 0")
	}
	if cfg.Feed.MaxRetries < 0 {
		return errors.New("feed.maxRetries must be >= 0")
	}
	if len(cfg.Markets) == 0 {
		return errors.New("markets config is required")
	}
	ids := make([]string, 0, len(cfg.Markets))
	for id := range cfg.Markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := validateMarket(id, cfg.Markets[id]); err != nil {
			return err
		}
	}
	if err := validateTrading(cfg.Trading); err != nil {
		return err
	}
	if id := cfg.Trading.MarketID; id != "" {
		if _, ok := cfg.Markets[id]; !ok {
			return fmt.Errorf("trading.marketId %s not found in markets", id)
		}
	}
	for id, seed := range cfg.Trading.Positions {
		if _, ok := cfg.Markets[id]; !ok {
			return fmt.Errorf("trading.positions %s not found in markets", id)
		}
		if _, _, err := seed.Values(); err != nil {
			return fmt.Errorf("trading.positions %s: %w", id, err)
		}
	}
	return nil
}
