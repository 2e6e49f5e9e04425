package game

import (
	"context"
	"sync"

	"bourse/internal/store"
)

// Company is a tradable synthetic stock within one game. A price of exactly
// zero marks it liquidated: permanently out of trading and pricing.
type Company struct {
	reg *Registry
	mu  sync.Mutex
	rec store.CompanyRecord
}

func (c *Company) snapshot() store.CompanyRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

func (c *Company) ID() int64       { return c.snapshot().ID }
func (c *Company) GameID() int64   { return c.snapshot().GameID }
func (c *Company) Name() string    { return c.snapshot().Name }
func (c *Company) Ticker() string  { return c.snapshot().Ticker }
func (c *Company) Price() float64  { return c.snapshot().Price }
func (c *Company) Effect() float64 { return c.snapshot().Effect }

func (c *Company) IsLiquidated() bool { return c.snapshot().Price == 0 }

func (c *Company) reload(ctx context.Context) error {
	rec, err := c.reg.store.Company(ctx, c.ID())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rec = rec
	c.mu.Unlock()
	return nil
}

func (c *Company) update(ctx context.Context, mutate func(*store.CompanyRecord)) error {
	rec := c.snapshot()
	mutate(&rec)
	if err := c.reg.store.UpdateCompany(ctx, rec); err != nil {
		return err
	}
	return c.reload(ctx)
}

// SetPriceAndEffect persists the settlement result in one write.
func (c *Company) SetPriceAndEffect(ctx context.Context, price, effect float64) error {
	return c.update(ctx, func(rec *store.CompanyRecord) {
		rec.Price = price
		rec.Effect = effect
	})
}

// Liquidate forces the price to zero. There is no way back: companies are
// never deleted, only excluded this way.
func (c *Company) Liquidate(ctx context.Context) error {
	if c.IsLiquidated() {
		return nil
	}
	c.reg.log.Info("liquidate company", "company_id", c.ID(), "ticker", c.Ticker())
	return c.update(ctx, func(rec *store.CompanyRecord) { rec.Price = 0 })
}
