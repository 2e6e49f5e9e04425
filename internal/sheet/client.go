package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the sheet-bridge service, a thin REST facade over the
// operator's spreadsheets. The per-game link is passed on every request.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *Client) Validate(ctx context.Context, link string) error {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.getJSON(ctx, "/v1/sheet/validate", link, nil, &out); err != nil {
		return err
	}
	if !out.Valid {
		return fmt.Errorf("sheet: link does not expose the expected schema")
	}
	return nil
}

func (c *Client) Title(ctx context.Context, link string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	if err := c.getJSON(ctx, "/v1/sheet/title", link, nil, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

func (c *Client) Ready(ctx context.Context, link string) (bool, error) {
	var out struct {
		Ready bool `json:"ready"`
	}
	if err := c.getJSON(ctx, "/v1/sheet/ready", link, nil, &out); err != nil {
		return false, err
	}
	return out.Ready, nil
}

func (c *Client) BaseValues(ctx context.Context, link string) (BaseValues, error) {
	var out struct {
		Values map[string]string `json:"values"`
	}
	if err := c.getJSON(ctx, "/v1/sheet/base-values", link, nil, &out); err != nil {
		return BaseValues{}, err
	}
	return ParseBaseValues(out.Values)
}

func (c *Client) Companies(ctx context.Context, link string) ([]CompanyRow, error) {
	var out struct {
		Companies []CompanyRow `json:"companies"`
	}
	if err := c.getJSON(ctx, "/v1/sheet/companies", link, nil, &out); err != nil {
		return nil, err
	}
	return out.Companies, nil
}

func (c *Client) Effect(ctx context.Context, link, ticker string) (float64, error) {
	var out struct {
		Effect float64 `json:"effect"`
	}
	q := url.Values{"ticker": {ticker}}
	if err := c.getJSON(ctx, "/v1/sheet/effect", link, q, &out); err != nil {
		return 0, err
	}
	return out.Effect, nil
}

func (c *Client) Liquidated(ctx context.Context, link, ticker string) (bool, error) {
	var out struct {
		Liquidated bool `json:"liquidated"`
	}
	q := url.Values{"ticker": {ticker}}
	if err := c.getJSON(ctx, "/v1/sheet/liquidated", link, q, &out); err != nil {
		return false, err
	}
	return out.Liquidated, nil
}

func (c *Client) Timetable(ctx context.Context, link string) (time.Time, bool, error) {
	var out struct {
		Day  string `json:"day"`
		Open bool   `json:"open"`
	}
	if err := c.getJSON(ctx, "/v1/sheet/timetable", link, nil, &out); err != nil {
		return time.Time{}, false, err
	}
	day, err := time.Parse(dayFormat, out.Day)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("timetable day: %w", err)
	}
	return day, out.Open, nil
}

func (c *Client) ExtraCash(ctx context.Context, link string) (float64, error) {
	var out struct {
		ExtraCash float64 `json:"extra_cash"`
	}
	if err := c.getJSON(ctx, "/v1/sheet/extra-cash", link, nil, &out); err != nil {
		return 0, err
	}
	return out.ExtraCash, nil
}

func (c *Client) FAQ(ctx context.Context, link string) ([]QA, error) {
	var out struct {
		FAQ []QA `json:"faq"`
	}
	if err := c.getJSON(ctx, "/v1/sheet/faq", link, nil, &out); err != nil {
		return nil, err
	}
	return out.FAQ, nil
}

func (c *Client) WriteJoinKey(ctx context.Context, link, key string) error {
	return c.postJSON(ctx, "/v1/sheet/join-key", link, map[string]string{"join_key": key})
}

func (c *Client) ResetExtraCash(ctx context.Context, link string) error {
	return c.postJSON(ctx, "/v1/sheet/extra-cash/reset", link, map[string]string{})
}

func (c *Client) AppendRegistration(ctx context.Context, link string, row Registration) error {
	return c.postJSON(ctx, "/v1/sheet/registrations", link, row)
}

func (c *Client) AppendTradingVolume(ctx context.Context, link string, row VolumeRow) error {
	return c.postJSON(ctx, "/v1/sheet/trading-volume", link, row)
}

func (c *Client) AppendCompanyPrice(ctx context.Context, link string, row PriceRow) error {
	return c.postJSON(ctx, "/v1/sheet/company-prices", link, row)
}

func (c *Client) AppendPortfolio(ctx context.Context, link string, row PortfolioRow) error {
	return c.postJSON(ctx, "/v1/sheet/portfolios", link, row)
}

func (c *Client) getJSON(ctx context.Context, path, link string, extra url.Values, out any) error {
	q := url.Values{"link": {link}}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path, link string, in any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path+"?"+url.Values{"link": {link}}.Encode(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
