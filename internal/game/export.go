package game

import (
	"context"

	"bourse/internal/sheet"
	"bourse/internal/store"
)

const dayFormat = "2006-01-02"

// ExportTradingVolume appends one volume row per live company for today.
func (g *Game) ExportTradingVolume(ctx context.Context) error {
	companies, err := g.Companies(ctx)
	if err != nil {
		return err
	}
	day := g.Today()
	link := g.ConfigLink()
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
		err = g.reg.feed.AppendTradingVolume(ctx, link, sheet.VolumeRow{
			Day:    day.Format(dayFormat),
			Ticker: c.Ticker(),
			Sold:   sold,
			Bought: bought,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ExportCompanyPrices appends today's closing price per live company.
func (g *Game) ExportCompanyPrices(ctx context.Context) error {
	companies, err := g.Companies(ctx)
	if err != nil {
		return err
	}
	day := g.Today().Format(dayFormat)
	link := g.ConfigLink()
	for _, c := range companies {
		if c.IsLiquidated() {
			continue
		}
		err = g.reg.feed.AppendCompanyPrice(ctx, link, sheet.PriceRow{
			Day:    day,
			Ticker: c.Ticker(),
			Price:  c.Price(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ExportPortfolios appends each player's total portfolio size, valued at the
// freshly settled prices.
func (g *Game) ExportPortfolios(ctx context.Context) error {
	users, err := g.GameUsers(ctx)
	if err != nil {
		return err
	}
	day := g.Today().Format(dayFormat)
	link := g.ConfigLink()
	for _, u := range users {
		size, err := u.PortfolioSize(ctx)
		if err != nil {
			return err
		}
		err = g.reg.feed.AppendPortfolio(ctx, link, sheet.PortfolioRow{
			Day:      day,
			Nickname: u.Nickname(),
			Size:     size,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// JobAfterClose is the daily settlement pipeline. The market closes first so
// no deal can slip in between volume counting and repricing; the registry is
// flushed so the pass works from storage, not from instances that predate the
// close. Each later step logs its failure and the pipeline keeps going: a
// broken export must not block the price update, and vice versa the next
// steps still run after a failed one.
func (g *Game) JobAfterClose(ctx context.Context) error {
	if err := g.CloseMarket(ctx); err != nil {
		return err
	}
	g.reg.InvalidateAll()
	if err := g.reload(ctx); err != nil {
		return err
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"liquidations", g.RunLiquidations},
		{"update prices", g.UpdatePrices},
		{"grant extra cash", g.GrantExtraCash},
		{"export trading volume", g.ExportTradingVolume},
		{"export company prices", g.ExportCompanyPrices},
		{"export portfolios", g.ExportPortfolios},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			g.reg.log.Error("settlement step failed", "game_id", g.ID(), "step", step.name, "err", err)
		}
	}
	return nil
}
