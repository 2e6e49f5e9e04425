package game

import (
	"context"

	"bourse/internal/store"
)

// RunLiquidations reads the liquidation flag for each live company and zeroes
// the flagged ones. Feed failures for one company do not stop the pass.
func (g *Game) RunLiquidations(ctx context.Context) error {
	companies, err := g.Companies(ctx)
	if err != nil {
		return err
	}
	link := g.ConfigLink()
	for _, c := range companies {
		if c.IsLiquidated() {
			continue
		}
		flagged, err := g.reg.feed.Liquidated(ctx, link, c.Ticker())
		if err != nil {
			g.reg.log.Error("read liquidation flag", "game_id", g.ID(), "ticker", c.Ticker(), "err", err)
			continue
		}
		if !flagged {
			continue
		}
		if err := c.Liquidate(ctx); err != nil {
			g.reg.log.Error("liquidate company", "game_id", g.ID(), "ticker", c.Ticker(), "err", err)
		}
	}
	return nil
}

// UpdatePrices applies the daily pricing rule to every live company:
//
//	new = round2(old * (100 - sold*sellFactor + bought*buyFactor) / 100 + effectDelta)
//
// where sold and bought are today's traded quantities and effectDelta is the
// change in the sheet's manual effect value since the previous settlement.
// A result at or below zero liquidates the company. Every surviving price is
// appended to the company history.
func (g *Game) UpdatePrices(ctx context.Context) error {
	companies, err := g.Companies(ctx)
	if err != nil {
		return err
	}
	day := g.Today()
	link := g.ConfigLink()
	sellFactor := g.SellFactor()
	buyFactor := g.BuyFactor()
	for _, c := range companies {
		if c.IsLiquidated() {
			continue
		}
		sold, err := g.reg.store.SharesTraded(ctx, c.ID(), day, store.DealSell)
		if err != nil {
			return err
		}
		bought, err := g.reg.store.SharesTraded(ctx, c.ID(), day, store.DealBuy)
		if err != nil {
			return err
		}
		effect, err := g.reg.feed.Effect(ctx, link, c.Ticker())
		if err != nil {
			g.reg.log.Error("read effect", "game_id", g.ID(), "ticker", c.Ticker(), "err", err)
			effect = c.Effect()
		}
		old := c.Price()
		price := round2(old*(100-float64(sold)*sellFactor+float64(bought)*buyFactor)/100 + (effect - c.Effect()))
		if price <= 0 {
			if err := c.Liquidate(ctx); err != nil {
				g.reg.log.Error("liquidate at zero price", "game_id", g.ID(), "ticker", c.Ticker(), "err", err)
			}
			continue
		}
		if err := c.SetPriceAndEffect(ctx, price, effect); err != nil {
			return err
		}
		if err := g.reg.store.AppendCompanyHistory(ctx, c.ID(), day, price); err != nil {
			return err
		}
		g.reg.log.Info("price updated", "game_id", g.ID(), "ticker", c.Ticker(),
			"old", old, "new", price, "sold", sold, "bought", bought)
	}
	return nil
}

// GrantExtraCash reads the sheet's one-shot bonus, credits it to every
// game-user and resets the cell so the grant cannot repeat tomorrow.
func (g *Game) GrantExtraCash(ctx context.Context) error {
	link := g.ConfigLink()
	amount, err := g.reg.feed.ExtraCash(ctx, link)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return nil
	}
	users, err := g.GameUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := u.setCash(ctx, u.Cash()+amount); err != nil {
			return err
		}
	}
	g.reg.log.Info("extra cash granted", "game_id", g.ID(), "amount", amount, "users", len(users))
	return g.reg.feed.ResetExtraCash(ctx, link)
}
