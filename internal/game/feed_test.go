package game

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"bourse/internal/sheet"
	"bourse/internal/store"
	"bourse/internal/store/memstore"
)

// fakeFeed is an in-memory sheet.Feed. Error fields inject failures per call
// family; append targets record what the engine exported.
type fakeFeed struct {
	mu sync.Mutex

	title      string
	ready      bool
	values     sheet.BaseValues
	valuesErr  error
	companies  []sheet.CompanyRow
	effects    map[string]float64
	effectErr  error
	liquidated map[string]bool
	liqErr     error
	ttDay      time.Time
	ttOpen     bool
	extraCash  float64
	faq        []sheet.QA

	joinKey       string
	registrations []sheet.Registration
	volumes       []sheet.VolumeRow
	prices        []sheet.PriceRow
	portfolios    []sheet.PortfolioRow
	volumeErr     error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		title:      "Test Market",
		effects:    make(map[string]float64),
		liquidated: make(map[string]bool),
	}
}

func (f *fakeFeed) Validate(ctx context.Context, link string) error { return nil }

func (f *fakeFeed) Title(ctx context.Context, link string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, nil
}

func (f *fakeFeed) Ready(ctx context.Context, link string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready, nil
}

func (f *fakeFeed) BaseValues(ctx context.Context, link string) (sheet.BaseValues, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.valuesErr != nil {
		return sheet.BaseValues{}, f.valuesErr
	}
	return f.values, nil
}

func (f *fakeFeed) Companies(ctx context.Context, link string) ([]sheet.CompanyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companies, nil
}

func (f *fakeFeed) Effect(ctx context.Context, link, ticker string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.effectErr != nil {
		return 0, f.effectErr
	}
	return f.effects[ticker], nil
}

func (f *fakeFeed) Liquidated(ctx context.Context, link, ticker string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.liqErr != nil {
		return false, f.liqErr
	}
	return f.liquidated[ticker], nil
}

func (f *fakeFeed) Timetable(ctx context.Context, link string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttDay, f.ttOpen, nil
}

func (f *fakeFeed) ExtraCash(ctx context.Context, link string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extraCash, nil
}

func (f *fakeFeed) FAQ(ctx context.Context, link string) ([]sheet.QA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faq, nil
}

func (f *fakeFeed) WriteJoinKey(ctx context.Context, link, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinKey = key
	return nil
}

func (f *fakeFeed) ResetExtraCash(ctx context.Context, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extraCash = 0
	return nil
}

func (f *fakeFeed) AppendRegistration(ctx context.Context, link string, row sheet.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, row)
	return nil
}

func (f *fakeFeed) AppendTradingVolume(ctx context.Context, link string, row sheet.VolumeRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumeErr != nil {
		return f.volumeErr
	}
	f.volumes = append(f.volumes, row)
	return nil
}

func (f *fakeFeed) AppendCompanyPrice(ctx context.Context, link string, row sheet.PriceRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices = append(f.prices, row)
	return nil
}

func (f *fakeFeed) AppendPortfolio(ctx context.Context, link string, row sheet.PortfolioRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolios = append(f.portfolios, row)
	return nil
}

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memstore.Store, *fakeFeed) {
	t.Helper()
	st := memstore.New()
	feed := newFakeFeed()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(st, feed, 0, logger)
	svc.SetClock(func() time.Time { return testNow })
	return svc, st, feed
}

// newRunningGame builds a configured game with an open market, one company at
// the given price and one joined player holding the given cash.
func newRunningGame(t *testing.T, svc *Service, price, cash float64) (*Game, *Company, *GameUser) {
	t.Helper()
	ctx := context.Background()

	g, err := svc.CreateGame(ctx)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	err = g.update(ctx, func(rec *store.GameRecord) {
		rec.JoinKey = "TESTKEY"
		rec.ConfigLink = "sheet-1"
		rec.StartDay = store.Day(testNow.AddDate(0, 0, -1))
		rec.EndDay = store.Day(testNow.AddDate(0, 0, 7))
		rec.OpenTime = "10:00"
		rec.CloseTime = "18:00"
		rec.MarketOpen = true
		rec.StartPrice = price
		rec.StartCash = cash
		rec.MaxPercentage = 100
		rec.SellFactor = 1
		rec.BuyFactor = 1
	})
	if err != nil {
		t.Fatalf("configure game: %v", err)
	}

	companyID, err := svc.reg.store.CreateCompany(ctx, store.CompanyRecord{
		GameID: g.ID(),
		Name:   "Acme",
		Ticker: "ACME",
		Price:  price,
	})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	c, err := svc.Company(ctx, companyID)
	if err != nil {
		t.Fatalf("load company: %v", err)
	}

	if _, err := svc.EnsureIdentity(ctx, 1001, "tester"); err != nil {
		t.Fatalf("ensure identity: %v", err)
	}
	gu, err := svc.Join(ctx, 1001, "TESTKEY")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return g, c, gu
}
