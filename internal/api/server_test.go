package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bourse/internal/config"
	"bourse/internal/game"
	"bourse/internal/sheet"
	"bourse/internal/store/memstore"
)

// stubFeed satisfies sheet.Feed with canned answers; the write-backs are
// swallowed. Only the config-load path matters to the API tests.
type stubFeed struct {
	ready     bool
	values    sheet.BaseValues
	companies []sheet.CompanyRow
}

func (f *stubFeed) Validate(ctx context.Context, link string) error        { return nil }
func (f *stubFeed) Title(ctx context.Context, link string) (string, error) { return "Stub Game", nil }
func (f *stubFeed) Ready(ctx context.Context, link string) (bool, error)   { return f.ready, nil }
func (f *stubFeed) BaseValues(ctx context.Context, link string) (sheet.BaseValues, error) {
	return f.values, nil
}
func (f *stubFeed) Companies(ctx context.Context, link string) ([]sheet.CompanyRow, error) {
	return f.companies, nil
}
func (f *stubFeed) Effect(ctx context.Context, link, ticker string) (float64, error) { return 0, nil }
func (f *stubFeed) Liquidated(ctx context.Context, link, ticker string) (bool, error) {
	return false, nil
}
func (f *stubFeed) Timetable(ctx context.Context, link string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (f *stubFeed) ExtraCash(ctx context.Context, link string) (float64, error) { return 0, nil }
func (f *stubFeed) FAQ(ctx context.Context, link string) ([]sheet.QA, error)    { return nil, nil }
func (f *stubFeed) WriteJoinKey(ctx context.Context, link, key string) error    { return nil }
func (f *stubFeed) ResetExtraCash(ctx context.Context, link string) error       { return nil }
func (f *stubFeed) AppendRegistration(ctx context.Context, link string, row sheet.Registration) error {
	return nil
}
func (f *stubFeed) AppendTradingVolume(ctx context.Context, link string, row sheet.VolumeRow) error {
	return nil
}
func (f *stubFeed) AppendCompanyPrice(ctx context.Context, link string, row sheet.PriceRow) error {
	return nil
}
func (f *stubFeed) AppendPortfolio(ctx context.Context, link string, row sheet.PortfolioRow) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *game.Service, *stubFeed) {
	t.Helper()
	feed := &stubFeed{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(memstore.New(), feed, 0, logger)
	server := New(config.APIConfig{}, logger, svc)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, svc, feed
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func register(t *testing.T, ts *httptest.Server, identityID int64) string {
	t.Helper()
	resp, out := doJSON(t, http.MethodPost, ts.URL+"/v1/auth/register", "", map[string]any{
		"identity_id":  identityID,
		"display_name": "tester",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	token, _ := out["token"].(string)
	if token == "" {
		t.Fatalf("no token issued")
	}
	return token
}

// seedGame configures a running game through the same path the scheduler
// uses, so the cached aggregates stay in step with storage.
func seedGame(t *testing.T, svc *game.Service, feed *stubFeed) *game.Game {
	t.Helper()
	ctx := context.Background()
	feed.ready = true
	feed.values = sheet.BaseValues{
		StartDay:      time.Now().UTC().AddDate(0, 0, -1),
		EndDay:        time.Now().UTC().AddDate(0, 0, 7),
		OpenTime:      "10:00",
		CloseTime:     "18:00",
		StartPrice:    100,
		StartCash:     1000,
		MaxPercentage: 100,
		SellFactor:    1,
		BuyFactor:     1,
	}
	feed.companies = []sheet.CompanyRow{{Name: "Acme", Ticker: "ACME"}}

	g, err := svc.CreateGame(ctx)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	if err := svc.SetConfigLink(ctx, g.ID(), "sheet-1"); err != nil {
		t.Fatalf("config link: %v", err)
	}
	loaded, err := svc.ForceConfigReload(ctx, g.ID())
	if err != nil || !loaded {
		t.Fatalf("config reload: loaded=%v err=%v", loaded, err)
	}
	if err := g.LoadRoster(ctx); err != nil {
		t.Fatalf("load roster: %v", err)
	}
	if err := g.OpenMarket(ctx); err != nil {
		t.Fatalf("open market: %v", err)
	}
	return g
}

func TestAuthRequired(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/me", "bogus-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for an unknown token", resp.StatusCode)
	}
}

func TestBlockedIdentityRejected(t *testing.T) {
	ts, svc, _ := newTestServer(t)
	token := register(t, ts, 11)
	if err := svc.Ban(context.Background(), 11); err != nil {
		t.Fatalf("ban: %v", err)
	}
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/me", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a blocked identity", resp.StatusCode)
	}
}

func TestAdminSubtreeRequiresSuperadmin(t *testing.T) {
	ts, svc, _ := newTestServer(t)
	token := register(t, ts, 21)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/admin/games", token, map[string]any{})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without superadmin", resp.StatusCode)
	}

	if err := svc.PromoteSuperadmin(context.Background(), 21); err != nil {
		t.Fatalf("promote: %v", err)
	}
	resp, out := doJSON(t, http.MethodPost, ts.URL+"/v1/admin/games", token, map[string]any{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 for superadmin", resp.StatusCode)
	}
	if _, ok := out["id"]; !ok {
		t.Fatalf("no game id in response")
	}
}

func TestJoinBuySellFlow(t *testing.T) {
	ts, svc, feed := newTestServer(t)
	g := seedGame(t, svc, feed)
	token := register(t, ts, 31)

	resp, out := doJSON(t, http.MethodPost, ts.URL+"/v1/join", token, map[string]any{
		"join_key": g.JoinKey(),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("join status = %d: %v", resp.StatusCode, out)
	}
	if out["cash"].(float64) != 1000 {
		t.Fatalf("join cash = %v, want 1000", out["cash"])
	}

	resp, out = doJSON(t, http.MethodPost, ts.URL+"/v1/deals/buy", token, map[string]any{
		"ticker":   "acme",
		"quantity": 3,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy status = %d: %v", resp.StatusCode, out)
	}
	if out["cash"].(float64) != 700 {
		t.Fatalf("cash after buy = %v, want 700", out["cash"])
	}

	resp, out = doJSON(t, http.MethodPost, ts.URL+"/v1/deals/sell", token, map[string]any{
		"ticker":   "ACME",
		"quantity": 5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sell status = %d: %v", resp.StatusCode, out)
	}
	if out["quantity"].(float64) != 3 {
		t.Fatalf("sold = %v, want clamp to 3", out["quantity"])
	}

	resp, out = doJSON(t, http.MethodGet, ts.URL+"/v1/portfolio", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("portfolio status = %d", resp.StatusCode)
	}
	if out["cash"].(float64) != 1000 {
		t.Fatalf("final cash = %v, want 1000", out["cash"])
	}
}

// Settlement closes the market through the same registry the handlers read,
// so a trade right after it must be refused, not served from a stale game.
func TestSettlementClosesMarket(t *testing.T) {
	ts, svc, feed := newTestServer(t)
	g := seedGame(t, svc, feed)
	token := register(t, ts, 51)

	if resp, out := doJSON(t, http.MethodPost, ts.URL+"/v1/join", token, map[string]any{
		"join_key": g.JoinKey(),
	}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("join status = %d: %v", resp.StatusCode, out)
	}
	resp, out := doJSON(t, http.MethodPost, ts.URL+"/v1/deals/buy", token, map[string]any{
		"ticker":   "ACME",
		"quantity": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy status = %d: %v", resp.StatusCode, out)
	}

	if err := svc.ForceSettlement(context.Background(), g.ID()); err != nil {
		t.Fatalf("settlement: %v", err)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/deals/buy", token, map[string]any{
		"ticker":   "ACME",
		"quantity": 1,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("buy after settlement status = %d, want 409", resp.StatusCode)
	}
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	ts, svc, feed := newTestServer(t)
	g := seedGame(t, svc, feed)
	token := register(t, ts, 41)

	// Wrong join key: 404.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/join", token, map[string]any{
		"join_key": "WRONG",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown join key status = %d, want 404", resp.StatusCode)
	}

	if _, out := doJSON(t, http.MethodPost, ts.URL+"/v1/join", token, map[string]any{"join_key": g.JoinKey()}); out["error"] != nil {
		t.Fatalf("join failed: %v", out["error"])
	}

	// Closed market: 409.
	if err := g.CloseMarket(context.Background()); err != nil {
		t.Fatalf("close market: %v", err)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/deals/buy", token, map[string]any{
		"ticker":   "ACME",
		"quantity": 1,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("closed market status = %d, want 409", resp.StatusCode)
	}

	// Unknown ticker: 404.
	if err := g.OpenMarket(context.Background()); err != nil {
		t.Fatalf("open market: %v", err)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/deals/buy", token, map[string]any{
		"ticker":   "NOPE",
		"quantity": 1,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown ticker status = %d, want 404", resp.StatusCode)
	}
}
