package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// ConfigStore holds the singleton ScraperConfig in memory.
type ConfigStore struct {
	mu    sync.RWMutex
	cfg   scrape.ScraperConfig
	saves int
}

// NewConfigStore seeds the store with an initial configuration.
func NewConfigStore(seed scrape.ScraperConfig) *ConfigStore {
	return &ConfigStore{cfg: seed}
}

// Load returns the stored configuration.
func (s *ConfigStore) Load(context.Context) (scrape.ScraperConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, nil
}

// Save replaces the stored configuration.
func (s *ConfigStore) Save(_ context.Context, cfg scrape.ScraperConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *ConfigStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
