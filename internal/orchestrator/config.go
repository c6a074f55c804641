package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// configCell is the single owner of the live ScraperConfig. Loops read it
// fresh on every run; every write goes through the store first.
type configCell struct {
	mu    sync.Mutex
	cfg   scrape.ScraperConfig
	store scrape.ConfigStore
}

func (c *configCell) get() scrape.ScraperConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// update applies fn to a copy, persists the result and swaps it in. The
// cell is unchanged when fn or the save fails.
func (c *configCell) update(ctx context.Context, fn func(scrape.ScraperConfig) (scrape.ScraperConfig, error)) (scrape.ScraperConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := fn(c.cfg)
	if err != nil {
		return c.cfg, err
	}
	if err := c.store.Save(ctx, next); err != nil {
		return c.cfg, fmt.Errorf("save config: %w", err)
	}
	c.cfg = next
	return next, nil
}

// ShowConfig returns the live configuration.
func (o *Orchestrator) ShowConfig() scrape.ScraperConfig {
	return o.config.get()
}

// SetConfig sets one field from its string form, validates and persists the
// result. The cursor may only move forward.
func (o *Orchestrator) SetConfig(ctx context.Context, field, value string) (scrape.ScraperConfig, error) {
	return o.updateConfig(ctx, func(cur scrape.ScraperConfig) (scrape.ScraperConfig, error) {
		return cur.WithField(field, value)
	})
}

// ReplaceConfig validates and persists a whole configuration.
func (o *Orchestrator) ReplaceConfig(ctx context.Context, next scrape.ScraperConfig) (scrape.ScraperConfig, error) {
	return o.updateConfig(ctx, func(scrape.ScraperConfig) (scrape.ScraperConfig, error) {
		return next, nil
	})
}

func (o *Orchestrator) updateConfig(
	ctx context.Context,
	edit func(scrape.ScraperConfig) (scrape.ScraperConfig, error),
) (scrape.ScraperConfig, error) {
	cfg, err := o.config.update(ctx, func(cur scrape.ScraperConfig) (scrape.ScraperConfig, error) {
		next, err := edit(cur)
		if err != nil {
			return cur, err
		}
		if next.Cursor < cur.Cursor {
			return cur, &scrape.ValidationError{
				Fields: []string{fmt.Sprintf("cursor must not decrease (current %d)", cur.Cursor)},
			}
		}
		if err := next.Validate(); err != nil {
			return cur, err
		}
		return next, nil
	})
	if err != nil {
		return cfg, err
	}
	o.recorder.SetCursor(cfg.Cursor)
	o.logger.Info("config updated",
		zap.String("category_url", cfg.CategoryURL),
		zap.Int("cursor", cfg.Cursor),
		zap.Int("history_interval_s", cfg.HistoryIntervalSeconds),
		zap.Int("watcher_interval_s", cfg.WatcherIntervalSeconds),
	)
	return cfg, nil
}

// advanceCursor moves the cursor past a completed history page. The cursor
// becomes max(cursor, page+1), so an operator who already moved it ahead is
// not overridden.
func (o *Orchestrator) advanceCursor(ctx context.Context, job scrape.Job) {
	cfg, err := o.config.update(ctx, func(cur scrape.ScraperConfig) (scrape.ScraperConfig, error) {
		next := cur
		if job.PageNum+1 > next.Cursor {
			next.Cursor = job.PageNum + 1
		}
		return next, nil
	})
	if err != nil {
		o.logger.Error("cursor advance failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	o.recorder.SetCursor(cfg.Cursor)
	o.logger.Info("cursor advanced", zap.String("job_id", job.ID), zap.Int("cursor", cfg.Cursor))
}
