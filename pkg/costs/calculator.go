// Package costs derives reporting cost figures from token counts. Costs are
// attached to usage journal entries for billing visibility; they are never
// consulted by admission.
package costs

import (
	"sync"

	"tollgate-hq/tollgate/pkg/config"
)

// Calculator converts token counts into cost figures using per-1000-token
// rates keyed by operation kind. It is safe for concurrent use and supports
// hot reload of the rate table.
type Calculator struct {
	config *config.CostsConfig
	mu     sync.RWMutex
}

// NewCalculator creates a cost calculator with the given configuration.
func NewCalculator(cfg *config.CostsConfig) *Calculator {
	return &Calculator{
		config: cfg,
	}
}

// Cost returns the derived cost for a token count and operation kind, in the
// configured currency.
func (c *Calculator) Cost(tokens int64, kind string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if tokens <= 0 {
		return 0
	}

	rate := c.config.DefaultRatePer1K
	if r, ok := c.config.RatesPer1K[kind]; ok {
		rate = r
	}

	return float64(tokens) / 1000.0 * rate
}

// Currency returns the configured reporting currency code.
func (c *Calculator) Currency() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Currency
}

// UpdateConfig swaps the rate table. Used for config hot reload.
func (c *Calculator) UpdateConfig(cfg *config.CostsConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = cfg
}
