package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// ConfigStore persists the singleton ScraperConfig in scraper_config.
type ConfigStore struct {
	db   querier
	seed scrape.ScraperConfig
}

// NewConfigStore returns a ConfigStore. seed is written on first Load when
// the table is empty.
func NewConfigStore(db querier, seed scrape.ScraperConfig) *ConfigStore {
	return &ConfigStore{db: db, seed: seed}
}

const selectConfigSQL = `
SELECT category_url, page_cursor, history_interval_seconds, watcher_interval_seconds, delay_min, delay_max
FROM scraper_config WHERE id = 1`

const upsertConfigSQL = `
INSERT INTO scraper_config (id, category_url, page_cursor, history_interval_seconds, watcher_interval_seconds, delay_min, delay_max, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6, now())
ON CONFLICT (id) DO UPDATE SET
	category_url = EXCLUDED.category_url,
	page_cursor = EXCLUDED.page_cursor,
	history_interval_seconds = EXCLUDED.history_interval_seconds,
	watcher_interval_seconds = EXCLUDED.watcher_interval_seconds,
	delay_min = EXCLUDED.delay_min,
	delay_max = EXCLUDED.delay_max,
	updated_at = now()`

// Load returns the stored configuration, seeding it if absent.
func (s *ConfigStore) Load(ctx context.Context) (scrape.ScraperConfig, error) {
	var cfg scrape.ScraperConfig
	err := s.db.QueryRow(ctx, selectConfigSQL).Scan(
		&cfg.CategoryURL,
		&cfg.Cursor,
		&cfg.HistoryIntervalSeconds,
		&cfg.WatcherIntervalSeconds,
		&cfg.DelayMin,
		&cfg.DelayMax,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.Save(ctx, s.seed); err != nil {
			return scrape.ScraperConfig{}, err
		}
		return s.seed, nil
	}
	if err != nil {
		return scrape.ScraperConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Save upserts the configuration row.
func (s *ConfigStore) Save(ctx context.Context, cfg scrape.ScraperConfig) error {
	_, err := s.db.Exec(ctx, upsertConfigSQL,
		cfg.CategoryURL,
		cfg.Cursor,
		cfg.HistoryIntervalSeconds,
		cfg.WatcherIntervalSeconds,
		cfg.DelayMin,
		cfg.DelayMax,
	)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
