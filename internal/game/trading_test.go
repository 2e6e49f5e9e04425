package game

import (
	"context"
	"errors"
	"testing"

	"bourse/internal/store"
)

func TestBuyDebitsCashAndCreatesShares(t *testing.T) {
	svc, st, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 1000)
	ctx := context.Background()

	shares, err := g.Buy(ctx, gu, c, 3)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if len(shares) != 3 {
		t.Fatalf("got %d shares, want 3", len(shares))
	}
	if gu.Cash() != 700 {
		t.Fatalf("cash = %v, want 700", gu.Cash())
	}
	count, err := gu.HoldingCount(ctx, c.ID())
	if err != nil {
		t.Fatalf("holding count: %v", err)
	}
	if count != 3 {
		t.Fatalf("holding = %d, want 3", count)
	}
	if n := st.TransactionCount(gu.ID()); n != 1 {
		t.Fatalf("transactions = %d, want a single BUY record", n)
	}
	bought, err := st.SharesTraded(ctx, c.ID(), g.Today(), store.DealBuy)
	if err != nil {
		t.Fatalf("shares traded: %v", err)
	}
	if bought != 3 {
		t.Fatalf("bought volume = %d, want 3", bought)
	}
}

func TestBuyRejectsInsufficientFunds(t *testing.T) {
	svc, st, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 250)
	ctx := context.Background()

	if _, err := g.Buy(ctx, gu, c, 3); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if gu.Cash() != 250 {
		t.Fatalf("cash changed on rejected deal: %v", gu.Cash())
	}
	count, _ := gu.HoldingCount(ctx, c.ID())
	if count != 0 {
		t.Fatalf("shares created on rejected deal: %d", count)
	}
	if n := st.TransactionCount(gu.ID()); n != 0 {
		t.Fatalf("transaction recorded on rejected deal: %d", n)
	}
}

func TestBuyRejectsConcentration(t *testing.T) {
	svc, _, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 1000)
	ctx := context.Background()

	if err := g.update(ctx, func(rec *store.GameRecord) { rec.MaxPercentage = 50 }); err != nil {
		t.Fatalf("set max percentage: %v", err)
	}

	// 600 of a 1000 portfolio is 60%, over the 50% cap.
	if _, err := g.Buy(ctx, gu, c, 6); !errors.Is(err, ErrConcentrationExceeded) {
		t.Fatalf("expected ErrConcentrationExceeded, got %v", err)
	}
	// 500 of 1000 is exactly the cap, allowed.
	if _, err := g.Buy(ctx, gu, c, 5); err != nil {
		t.Fatalf("buy at the cap: %v", err)
	}
}

func TestBuyRejectsClosedMarket(t *testing.T) {
	svc, _, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 1000)
	ctx := context.Background()

	if err := g.CloseMarket(ctx); err != nil {
		t.Fatalf("close market: %v", err)
	}
	if _, err := g.Buy(ctx, gu, c, 1); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
	if _, err := g.Sell(ctx, gu, c, 1); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestBuyRejectsLiquidatedCompany(t *testing.T) {
	svc, _, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 1000)
	ctx := context.Background()

	if err := c.Liquidate(ctx); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if _, err := g.Buy(ctx, gu, c, 1); !errors.Is(err, ErrCompanyLiquidated) {
		t.Fatalf("expected ErrCompanyLiquidated, got %v", err)
	}
}

func TestBuyRejectsNonPositiveQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 1000)
	ctx := context.Background()

	if _, err := g.Buy(ctx, gu, c, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := g.Buy(ctx, gu, c, -2); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestSellCreditsCashAndDeletesShares(t *testing.T) {
	svc, _, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 1000)
	ctx := context.Background()

	if _, err := g.Buy(ctx, gu, c, 4); err != nil {
		t.Fatalf("buy: %v", err)
	}
	sold, err := g.Sell(ctx, gu, c, 2)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sold != 2 {
		t.Fatalf("sold = %d, want 2", sold)
	}
	if gu.Cash() != 800 {
		t.Fatalf("cash = %v, want 800", gu.Cash())
	}
	count, _ := gu.HoldingCount(ctx, c.ID())
	if count != 2 {
		t.Fatalf("holding = %d, want 2", count)
	}
}

func TestSellClampsToHeldQuantity(t *testing.T) {
	svc, st, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 1000)
	ctx := context.Background()

	if _, err := g.Buy(ctx, gu, c, 2); err != nil {
		t.Fatalf("buy: %v", err)
	}
	sold, err := g.Sell(ctx, gu, c, 50)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sold != 2 {
		t.Fatalf("sold = %d, want clamp to 2", sold)
	}
	if gu.Cash() != 1000 {
		t.Fatalf("cash = %v, want 1000", gu.Cash())
	}
	soldVolume, err := st.SharesTraded(ctx, c.ID(), g.Today(), store.DealSell)
	if err != nil {
		t.Fatalf("shares traded: %v", err)
	}
	if soldVolume != 2 {
		t.Fatalf("recorded sell volume = %d, want the executed 2", soldVolume)
	}
}

func TestConcurrentBuysCannotOverspend(t *testing.T) {
	svc, _, _ := newTestService(t)
	g, c, gu := newRunningGame(t, svc, 100, 1000)
	ctx := context.Background()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := g.Buy(ctx, gu, c, 6)
			done <- err
		}()
	}
	var failures int
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Fatalf("unexpected error: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("one of two 600-cost buys must fail on 1000 cash, failures = %d", failures)
	}
	if gu.Cash() != 400 {
		t.Fatalf("cash = %v, want 400", gu.Cash())
	}
}
