// Package sheet is the configuration/reporting feed contract: named values
// read from a per-game sheet plus append-only tabular writes back to it.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable wraps transport and non-2xx failures of the feed. Callers
// treat it as retryable: scheduled jobs log it and try again on the next tick.
var ErrUnavailable = errors.New("sheet: feed unavailable")

const (
	dayFormat  = "2006-01-02"
	timeFormat = "15:04"
)

type BaseValues struct {
	Timezone      int
	StartDay      time.Time
	EndDay        time.Time // zero = not set
	OpenTime      string    // "HH:MM"
	CloseTime     string    // "HH:MM"
	StartPrice    float64
	StartCash     float64
	MaxPercentage float64
	SellFactor    float64
	BuyFactor     float64
	ExtraCash     float64
	AdminContact  string
	ChartLink     string
}

type CompanyRow struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Registration struct {
	LastName    string `json:"last_name"`
	FirstName   string `json:"first_name"`
	Nickname    string `json:"nickname"`
	DisplayName string `json:"display_name"`
}

type VolumeRow struct {
	Day    string `json:"day"`
	Ticker string `json:"ticker"`
	Sold   int    `json:"sold"`
	Bought int    `json:"bought"`
}

type PriceRow struct {
	Day    string  `json:"day"`
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
}

type PortfolioRow struct {
	Day      string  `json:"day"`
	Nickname string  `json:"nickname"`
	Size     float64 `json:"size"`
}

// Feed is consumed by the engine; every call is keyed by the game's
// configuration link.
type Feed interface {
	// Validate checks that the link exposes the expected schema. Pure check.
	Validate(ctx context.Context, link string) error
	Title(ctx context.Context, link string) (string, error)
	// Ready reports whether the sheet operator has marked the base values
	// as ready to load.
	Ready(ctx context.Context, link string) (bool, error)
	BaseValues(ctx context.Context, link string) (BaseValues, error)
	Companies(ctx context.Context, link string) ([]CompanyRow, error)
	Effect(ctx context.Context, link, ticker string) (float64, error)
	Liquidated(ctx context.Context, link, ticker string) (bool, error)
	// Timetable returns today's scheduled trading day and open flag.
	Timetable(ctx context.Context, link string) (time.Time, bool, error)
	ExtraCash(ctx context.Context, link string) (float64, error)
	FAQ(ctx context.Context, link string) ([]QA, error)

	WriteJoinKey(ctx context.Context, link, key string) error
	ResetExtraCash(ctx context.Context, link string) error
	AppendRegistration(ctx context.Context, link string, row Registration) error
	AppendTradingVolume(ctx context.Context, link string, row VolumeRow) error
	AppendCompanyPrice(ctx context.Context, link string, row PriceRow) error
	AppendPortfolio(ctx context.Context, link string, row PortfolioRow) error
}

// ParseBaseValues converts the raw named-value cells into typed base values.
// Any malformed cell fails the whole load; the caller leaves the game
// unconfigured and retries after the operator fixes the sheet.
func ParseBaseValues(raw map[string]string) (BaseValues, error) {
	var out BaseValues
	var err error

	if out.Timezone, err = parseInt(raw, "timezone"); err != nil {
		return out, err
	}
	if out.StartDay, err = parseDay(raw, "start_day"); err != nil {
		return out, err
	}
	if v := strings.TrimSpace(raw["end_day"]); v != "" {
		if out.EndDay, err = parseDay(raw, "end_day"); err != nil {
			return out, err
		}
	}
	if out.OpenTime, err = parseClock(raw, "open_time"); err != nil {
		return out, err
	}
	if out.CloseTime, err = parseClock(raw, "close_time"); err != nil {
		return out, err
	}
	if out.StartPrice, err = parseFloat(raw, "start_price"); err != nil {
		return out, err
	}
	if out.StartCash, err = parseFloat(raw, "start_cash"); err != nil {
		return out, err
	}
	if out.MaxPercentage, err = parseFloat(raw, "max_percentage"); err != nil {
		return out, err
	}
	if out.SellFactor, err = parseFloat(raw, "sell_factor"); err != nil {
		return out, err
	}
	if out.BuyFactor, err = parseFloat(raw, "buy_factor"); err != nil {
		return out, err
	}
	if v := strings.TrimSpace(raw["extra_cash"]); v != "" {
		if out.ExtraCash, err = parseFloat(raw, "extra_cash"); err != nil {
			return out, err
		}
	}
	out.AdminContact = strings.TrimSpace(raw["admin_contact"])
	out.ChartLink = strings.TrimSpace(raw["chart_link"])
	return out, nil
}

func parseInt(raw map[string]string, key string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw[key]))
	if err != nil {
		return 0, fmt.Errorf("base value %s: %w", key, err)
	}
	return v, nil
}

func parseFloat(raw map[string]string, key string) (float64, error) {
	v, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(raw[key]), ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("base value %s: %w", key, err)
	}
	return v, nil
}

func parseDay(raw map[string]string, key string) (time.Time, error) {
	v, err := time.Parse(dayFormat, strings.TrimSpace(raw[key]))
	if err != nil {
		return time.Time{}, fmt.Errorf("base value %s: %w", key, err)
	}
	return v, nil
}

func parseClock(raw map[string]string, key string) (string, error) {
	v := strings.TrimSpace(raw[key])
	if _, err := time.Parse(timeFormat, v); err != nil {
		return "", fmt.Errorf("base value %s: %w", key, err)
	}
	return v, nil
}
