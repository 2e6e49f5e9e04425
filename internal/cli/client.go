package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Register(ctx context.Context, identityID int64, displayName string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"identity_id":  identityID,
		"display_name": displayName,
	}, &out)
	return out, err
}

func (c *Client) Join(ctx context.Context, token, joinKey string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/join", token, map[string]any{
		"join_key": joinKey,
	}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", token, nil, &out)
	return out, err
}

func (c *Client) UpdateProfile(ctx context.Context, token string, fields map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPatch, "/v1/profile", token, fields, &out)
	return out, err
}

func (c *Client) Market(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", token, nil, &out)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/portfolio", token, nil, &out)
	return out, err
}

func (c *Client) Buy(ctx context.Context, token, ticker string, quantity int) (map[string]any, error) {
	return c.deal(ctx, token, "/v1/deals/buy", ticker, quantity)
}

func (c *Client) Sell(ctx context.Context, token, ticker string, quantity int) (map[string]any, error) {
	return c.deal(ctx, token, "/v1/deals/sell", ticker, quantity)
}

func (c *Client) deal(ctx context.Context, token, path, ticker string, quantity int) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, path, token, map[string]any{
		"ticker":   ticker,
		"quantity": quantity,
	}, &out)
	return out, err
}

func (c *Client) FAQ(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/faq", token, nil, &out)
	return out, err
}

func (c *Client) ListGames(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/games", token, nil, &out)
	return out, err
}

func (c *Client) CreateGame(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/games", token, map[string]any{}, &out)
	return out, err
}

func (c *Client) SetConfigLink(ctx context.Context, token string, gameID int64, link string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/games/%d/config-link", gameID), token, map[string]any{
		"link": link,
	}, &out)
	return out, err
}

func (c *Client) ReloadConfig(ctx context.Context, token string, gameID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/games/%d/config-reload", gameID), token, map[string]any{}, &out)
	return out, err
}

func (c *Client) SetRegistration(ctx context.Context, token string, gameID int64, open bool) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/games/%d/registration", gameID), token, map[string]any{
		"open": open,
	}, &out)
	return out, err
}

func (c *Client) SetMarket(ctx context.Context, token string, gameID int64, open bool) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/games/%d/market", gameID), token, map[string]any{
		"open": open,
	}, &out)
	return out, err
}

func (c *Client) Settle(ctx context.Context, token string, gameID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/games/%d/settle", gameID), token, map[string]any{}, &out)
	return out, err
}

func (c *Client) Promote(ctx context.Context, token string, identityID int64) (map[string]any, error) {
	return c.identityAction(ctx, token, identityID, "promote")
}

func (c *Client) BanIdentity(ctx context.Context, token string, identityID int64) (map[string]any, error) {
	return c.identityAction(ctx, token, identityID, "ban")
}

func (c *Client) UnbanIdentity(ctx context.Context, token string, identityID int64) (map[string]any, error) {
	return c.identityAction(ctx, token, identityID, "unban")
}

func (c *Client) identityAction(ctx context.Context, token string, identityID int64, action string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/identities/%d/%s", identityID, action), token, map[string]any{}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
