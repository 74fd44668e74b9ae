// Package backend talks to the MortalCoin game backend: REST endpoints for
// fight discovery and signature grants, and a websocket stream for push
// notifications.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// Client is the REST client for the game backend. It authenticates with the
// configured identity token, holds the resulting JWT pair, and transparently
// refreshes the access token on 401 responses.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	userID       string
}

// NewClient creates a backend REST client. No network calls are made until
// the first request.
func NewClient(cfg config.BackendConfig, logger *slog.Logger) *Client {
	timeout := cfg.HTTPTimeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "backend")),
	}
}

// Authenticate exchanges the identity token for a JWT pair and resolves the
// bot's backend user id. Safe to call repeatedly; a valid session is reused.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	have := c.accessToken != "" && c.userID != ""
	c.mu.Unlock()
	if have {
		return nil
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v1/users/auth/", map[string]any{"token": c.authToken}, false)
	if err != nil {
		return fmt.Errorf("backend: auth: %w", err)
	}

	var authResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &authResp); err != nil {
		return fmt.Errorf("backend: decode auth response: %w", err)
	}
	if authResp.AccessToken == "" {
		return fmt.Errorf("backend: auth response missing access_token: %w", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.accessToken = authResp.AccessToken
	c.refreshToken = authResp.RefreshToken
	c.mu.Unlock()

	meBody, err := c.do(ctx, http.MethodGet, "/api/v1/users/me/", nil, true)
	if err != nil {
		return fmt.Errorf("backend: fetch user info: %w", err)
	}
	var me struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(meBody, &me); err != nil {
		return fmt.Errorf("backend: decode user info: %w", err)
	}

	c.mu.Lock()
	c.userID = me.ID.String()
	c.mu.Unlock()

	c.logger.Info("authenticated", slog.String("user_id", me.ID.String()))
	return nil
}

// AccessToken returns the current JWT access token, authenticating first if
// needed. The websocket client uses it for its auth handshake.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, nil
}

// refresh trades the refresh token for a new access token. On failure the
// session is dropped so the next request re-authenticates from scratch.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	rt := c.refreshToken
	c.mu.Unlock()
	if rt == "" {
		return domain.ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/users/auth/refresh/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+rt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return fmt.Errorf("refresh failed (HTTP %d): %w", resp.StatusCode, domain.ErrUnauthorized)
	}

	var refreshResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &refreshResp); err != nil || refreshResp.AccessToken == "" {
		return fmt.Errorf("refresh response missing access_token: %w", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.accessToken = refreshResp.AccessToken
	c.mu.Unlock()

	c.logger.Debug("access token refreshed")
	return nil
}

// do builds, sends, and reads an HTTP request. Authenticated requests that
// come back 401 trigger one token refresh and one retry.
func (c *Client) do(ctx context.Context, method, path string, body any, auth bool) ([]byte, error) {
	respBody, status, err := c.doOnce(ctx, method, path, body, auth)
	if auth && status == http.StatusUnauthorized {
		if rerr := c.refresh(ctx); rerr == nil {
			respBody, status, err = c.doOnce(ctx, method, path, body, auth)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := checkHTTPStatus(status, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, auth bool) ([]byte, int, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		c.mu.Lock()
		token := c.accessToken
		c.mu.Unlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// get is like do but appends query parameters.
func (c *Client) get(ctx context.Context, path string, params url.Values, auth bool) ([]byte, error) {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, auth)
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
