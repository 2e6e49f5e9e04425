package game

import (
	"context"

	"bourse/internal/store"
)

// Buy validates and executes a purchase: quantity shares of company at the
// current price, paid from the buyer's cash. Validation and execution run
// under the buyer's deal lock so interleaved deals cannot both pass the
// funds and concentration checks on the same stale reads.
func (g *Game) Buy(ctx context.Context, buyer *GameUser, company *Company, quantity int) ([]*Share, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if company.IsLiquidated() {
		return nil, ErrCompanyLiquidated
	}
	if !g.IsMarketOpen() {
		return nil, ErrMarketClosed
	}

	lock := g.reg.userLock(buyer.ID())
	lock.Lock()
	defer lock.Unlock()

	cost := company.Price() * float64(quantity)
	if cost > buyer.Cash() {
		return nil, ErrInsufficientFunds
	}

	// The cap is checked against the buyer's total wealth before the
	// deduction: current holding plus the deal, over the pre-deal portfolio.
	portfolio, err := buyer.PortfolioSize(ctx)
	if err != nil {
		return nil, err
	}
	holding, err := buyer.HoldingValue(ctx, company.ID())
	if err != nil {
		return nil, err
	}
	if (holding+cost)/portfolio > g.MaxPercentage()/100 {
		return nil, ErrConcentrationExceeded
	}

	if err := buyer.setCash(ctx, buyer.Cash()-cost); err != nil {
		return nil, err
	}

	shares := make([]*Share, 0, quantity)
	for i := 0; i < quantity; i++ {
		id, err := g.reg.store.CreateShare(ctx, company.ID(), buyer.ID())
		if err != nil {
			return shares, err
		}
		sh, err := g.reg.Share(ctx, id)
		if err != nil {
			return shares, err
		}
		shares = append(shares, sh)
	}

	_, err = g.reg.store.AppendTransaction(ctx, store.TransactionRecord{
		Day:       g.Today(),
		ActorID:   buyer.ID(),
		Type:      store.DealBuy,
		CompanyID: company.ID(),
		Quantity:  quantity,
	})
	if err != nil {
		return shares, err
	}
	return shares, nil
}

// Sell executes a sale at the current price. The quantity is clamped to what
// the seller actually holds; asking for more than that sells everything and
// is not an error. Returns the executed quantity.
func (g *Game) Sell(ctx context.Context, seller *GameUser, company *Company, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	if company.IsLiquidated() {
		return 0, ErrCompanyLiquidated
	}
	if !g.IsMarketOpen() {
		return 0, ErrMarketClosed
	}

	lock := g.reg.userLock(seller.ID())
	lock.Lock()
	defer lock.Unlock()

	held, err := g.reg.store.ShareIDs(ctx, seller.ID(), company.ID())
	if err != nil {
		return 0, err
	}
	if quantity > len(held) {
		quantity = len(held)
	}

	for _, id := range held[:quantity] {
		if err := g.reg.store.DeleteShare(ctx, id); err != nil {
			return 0, err
		}
		g.reg.forgetShare(id)
	}

	proceeds := company.Price() * float64(quantity)
	if err := seller.setCash(ctx, seller.Cash()+proceeds); err != nil {
		return 0, err
	}

	_, err = g.reg.store.AppendTransaction(ctx, store.TransactionRecord{
		Day:       g.Today(),
		ActorID:   seller.ID(),
		Type:      store.DealSell,
		CompanyID: company.ID(),
		Quantity:  quantity,
	})
	if err != nil {
		return quantity, err
	}
	return quantity, nil
}
