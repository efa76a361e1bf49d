// Package fleetapi is a small, reusable HTTP client for the remote fleet
// directory: login, token refresh, available-tag lookup, and best-effort
// vehicle-hours updates. It mirrors the teacher's pkg/smartconnect client
// in shape — a routes map, a Config, a session holding short-lived tokens,
// and a single doRequest helper — trimmed of the broker-specific routes
// and replaced with the fleet endpoints this system actually calls.
package fleetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var routes = map[string]string{
	"login":                "/api/v1/auth/login",
	"tags.by_tank":         "/api/v1/tanks/%d/tags",
	"vehicle.hours.update": "/api/v1/vehicles/%s/hours",
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration // default 7s, matching the teacher's smartconnect default
}

// Client talks to the fleet directory's HTTP API. One Client instance is
// safe for concurrent use; it serializes its own token refresh.
type Client struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client

	mu         sync.Mutex
	token      string
	tokenUntil time.Time
}

// tokenTTL is the remote API's advertised token lifetime (spec §6:
// "valid ~5 minutes"); refreshAt is when this client proactively renews.
const (
	tokenTTL  = 5 * time.Minute
	refreshAt = 4*time.Minute + 30*time.Second
)

// New constructs a Client. It does not perform I/O.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 7 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ErrAuth reports a login failure — fatal to initialization only (spec §7.4).
var ErrAuth = errors.New("fleetapi: authentication failed")

// Login authenticates and caches the resulting token.
func (c *Client) Login(ctx context.Context) error {
	body, status, err := c.doRequest(ctx, http.MethodPost, "login", "", map[string]any{
		"username": c.username,
		"password": c.password,
	}, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAuth, status)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return fmt.Errorf("%w: malformed login response", ErrAuth)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.tokenUntil = time.Now().Add(tokenTTL)
	c.mu.Unlock()
	return nil
}

// ensureToken logs in, or proactively refreshes a token close to expiry.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	needsLogin := c.token == "" || time.Now().After(c.tokenUntil.Add(-tokenTTL+refreshAt))
	c.mu.Unlock()
	if needsLogin {
		return c.Login(ctx)
	}
	return nil
}

// TagRecord is one entry in the permitted-tag set for a tank.
type TagRecord struct {
	Tag                 string  `json:"tag"`
	FleetNumber         string  `json:"fleetNumber"`
	TankCapacityLiters  float64 `json:"tankCapacityLiters"`
	CurrentMachineHours float64 `json:"currentMachineHours"`
}

// GetAvailableTagsByTankID returns every vehicle currently permitted to
// draw fuel from tankID.
func (c *Client) GetAvailableTagsByTankID(ctx context.Context, tankID int) ([]TagRecord, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	path := fmt.Sprintf(routes["tags.by_tank"], tankID)
	body, status, err := c.doRequest(ctx, http.MethodGet, "", path, nil, true)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fleetapi: tags.by_tank: status %d", status)
	}
	var out struct {
		Tags []TagRecord `json:"tags"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("fleetapi: malformed tags response: %w", err)
	}
	return out.Tags, nil
}

// UpdateVehicleHours persists the vehicle's latest machine hours. Per
// spec §9, this call is best-effort: callers should log a failure and
// never let it affect refill completion.
func (c *Client) UpdateVehicleHours(ctx context.Context, tag string, hours float64) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	path := fmt.Sprintf(routes["vehicle.hours.update"], tag)
	_, status, err := c.doRequest(ctx, http.MethodPost, "", path, map[string]any{
		"currentMachineHours": hours,
	}, true)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("fleetapi: vehicle.hours.update: status %d", status)
	}
	return nil
}

// doRequest issues one HTTP call. Exactly one of route/explicitPath is
// used: route looks up routes[route]; explicitPath is already a full
// path (used where the route embeds a parameter via fmt.Sprintf).
func (c *Client) doRequest(ctx context.Context, method, route, explicitPath string, params map[string]any, authed bool) ([]byte, int, error) {
	path := explicitPath
	if route != "" {
		p, ok := routes[route]
		if !ok {
			return nil, 0, fmt.Errorf("fleetapi: unknown route %q", route)
		}
		path = p
	}

	var body io.Reader
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if authed {
		c.mu.Lock()
		token := c.token
		c.mu.Unlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fleetapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}
