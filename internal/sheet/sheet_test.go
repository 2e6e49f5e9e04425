package sheet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func baseRaw() map[string]string {
	return map[string]string{
		"timezone":       "3",
		"start_day":      "2026-03-02",
		"end_day":        "2026-03-20",
		"open_time":      "10:00",
		"close_time":     "18:00",
		"start_price":    "100",
		"start_cash":     "10000",
		"max_percentage": "35",
		"sell_factor":    "1,5",
		"buy_factor":     "0.5",
		"extra_cash":     "250",
		"admin_contact":  "@operator",
		"chart_link":     "https://example.test/chart",
	}
}

func TestParseBaseValues(t *testing.T) {
	got, err := ParseBaseValues(baseRaw())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Timezone != 3 {
		t.Fatalf("timezone = %d, want 3", got.Timezone)
	}
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC); !got.StartDay.Equal(want) {
		t.Fatalf("start day = %v, want %v", got.StartDay, want)
	}
	// Comma decimals come straight from spreadsheet locales.
	if got.SellFactor != 1.5 {
		t.Fatalf("sell factor = %v, want 1.5", got.SellFactor)
	}
	if got.BuyFactor != 0.5 {
		t.Fatalf("buy factor = %v, want 0.5", got.BuyFactor)
	}
	if got.ExtraCash != 250 {
		t.Fatalf("extra cash = %v, want 250", got.ExtraCash)
	}
	if got.OpenTime != "10:00" || got.CloseTime != "18:00" {
		t.Fatalf("times = %q/%q", got.OpenTime, got.CloseTime)
	}
}

func TestParseBaseValuesOptionalFields(t *testing.T) {
	raw := baseRaw()
	delete(raw, "end_day")
	delete(raw, "extra_cash")
	got, err := ParseBaseValues(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.EndDay.IsZero() {
		t.Fatalf("end day = %v, want zero when absent", got.EndDay)
	}
	if got.ExtraCash != 0 {
		t.Fatalf("extra cash = %v, want 0 when absent", got.ExtraCash)
	}
}

func TestParseBaseValuesRejectsMalformed(t *testing.T) {
	for _, key := range []string{"timezone", "start_day", "open_time", "start_price"} {
		raw := baseRaw()
		raw[key] = "nonsense"
		if _, err := ParseBaseValues(raw); err == nil {
			t.Fatalf("malformed %s accepted", key)
		}
	}
}

func TestClientWrapsFailuresAsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	if _, err := c.Ready(context.Background(), "sheet-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on non-2xx, got %v", err)
	}

	srv.Close()
	if _, err := c.Ready(context.Background(), "sheet-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on transport failure, got %v", err)
	}
}

func TestClientSendsLinkAndAuth(t *testing.T) {
	var gotLink, gotAuth, gotTicker string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLink = r.URL.Query().Get("link")
		gotTicker = r.URL.Query().Get("ticker")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"effect": 2.5}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	effect, err := c.Effect(context.Background(), "sheet-9", "ACME")
	if err != nil {
		t.Fatalf("effect: %v", err)
	}
	if effect != 2.5 {
		t.Fatalf("effect = %v, want 2.5", effect)
	}
	if gotLink != "sheet-9" {
		t.Fatalf("link = %q, want sheet-9", gotLink)
	}
	if gotTicker != "ACME" {
		t.Fatalf("ticker = %q, want ACME", gotTicker)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}
