// Package gameapi adapts the daemon's executors to the remote game HTTP
// API. The ship/route/market domain itself is out of scope; this package
// exposes only the narrow surface C2's executors and the health monitor
// need to drive and observe ships.
package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/internal/infrastructure/config"
)

// ShipNav is the subset of a ship's navigation state the daemon needs.
type ShipNav struct {
	Status         string    `json:"status"`
	SystemSymbol   string    `json:"systemSymbol"`
	WaypointSymbol string    `json:"waypointSymbol"`
	ArrivalAt      time.Time `json:"arrivalAt,omitempty"`
}

const (
	navInTransit = "IN_TRANSIT"
)

// Client is a rate-limited, circuit-broken HTTP client for the remote game
// API. One Client is shared by every executor in the daemon process.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	breaker     *CircuitBreaker
	clock       shared.Clock

	baseURL     string
	token       string
	maxRetries  int
	backoffBase time.Duration
}

// New builds a Client from the daemon's API configuration. token is the
// single game-API bearer token used for every request; per-agent
// authentication is out of scope (see Non-goals: authentication).
func New(cfg config.APIConfig, token string, clock shared.Clock) *Client {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	requests := cfg.RateLimit.Requests
	if requests <= 0 {
		requests = 2
	}
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = requests
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(requests), burst),
		breaker:     NewCircuitBreaker(5, 60*time.Second, clock),
		clock:       clock,
		baseURL:     cfg.BaseURL,
		token:       token,
		maxRetries:  cfg.Retry.MaxAttempts,
		backoffBase: cfg.Retry.BackoffBase,
	}
}

// GetShipNav fetches a ship's current navigation status.
func (c *Client) GetShipNav(ctx context.Context, shipSymbol string) (*ShipNav, error) {
	var response struct {
		Data struct {
			Nav struct {
				SystemSymbol   string `json:"systemSymbol"`
				WaypointSymbol string `json:"waypointSymbol"`
				Status         string `json:"status"`
				Route          *struct {
					Arrival string `json:"arrival"`
				} `json:"route,omitempty"`
			} `json:"nav"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/my/ships/%s", shipSymbol), nil, &response); err != nil {
		return nil, err
	}
	nav := &ShipNav{
		Status:         response.Data.Nav.Status,
		SystemSymbol:   response.Data.Nav.SystemSymbol,
		WaypointSymbol: response.Data.Nav.WaypointSymbol,
	}
	if response.Data.Nav.Route != nil {
		if t, err := time.Parse(time.RFC3339, response.Data.Nav.Route.Arrival); err == nil {
			nav.ArrivalAt = t
		}
	}
	return nav, nil
}

// InTransitSince implements daemon.ShipStatusProvider. For a ship in
// transit it returns the route's scheduled arrival time, not its departure
// time (the navigation response parsed here carries no departure time).
func (c *Client) InTransitSince(ctx context.Context, shipSymbol string) (time.Time, bool, bool) {
	nav, err := c.GetShipNav(ctx, shipSymbol)
	if err != nil {
		return time.Time{}, false, false
	}
	if nav.Status != navInTransit {
		return time.Time{}, false, true
	}
	return nav.ArrivalAt, true, true
}

// NavigateShip requests a ship move to destination, returning its new arrival time.
func (c *Client) NavigateShip(ctx context.Context, shipSymbol, destination string) (time.Time, error) {
	var response struct {
		Data struct {
			Nav struct {
				Route struct {
					Arrival string `json:"arrival"`
				} `json:"route"`
			} `json:"nav"`
		} `json:"data"`
	}
	body := map[string]string{"waypointSymbol": destination}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/my/ships/%s/navigate", shipSymbol), body, &response); err != nil {
		return time.Time{}, err
	}
	arrival, _ := time.Parse(time.RFC3339, response.Data.Nav.Route.Arrival)
	return arrival, nil
}

// OrbitShip puts a ship into orbit.
func (c *Client) OrbitShip(ctx context.Context, shipSymbol string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/my/ships/%s/orbit", shipSymbol), nil, nil)
}

// DockShip docks a ship.
func (c *Client) DockShip(ctx context.Context, shipSymbol string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/my/ships/%s/dock", shipSymbol), nil, nil)
}

// RefuelShip refuels a ship, optionally for a specific number of units.
func (c *Client) RefuelShip(ctx context.Context, shipSymbol string, units *int) error {
	var body map[string]int
	if units != nil {
		body = map[string]int{"units": *units}
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/my/ships/%s/refuel", shipSymbol), body, nil)
}

// PurchaseShip buys a ship of the given type at a shipyard waypoint.
func (c *Client) PurchaseShip(ctx context.Context, shipType, waypointSymbol string) (string, error) {
	var response struct {
		Data struct {
			Ship struct {
				Symbol string `json:"symbol"`
			} `json:"ship"`
		} `json:"data"`
	}
	body := map[string]string{"shipType": shipType, "waypointSymbol": waypointSymbol}
	if err := c.do(ctx, http.MethodPost, "/my/ships", body, &response); err != nil {
		return "", err
	}
	return response.Data.Ship.Symbol, nil
}

type retryableError struct{ message string }

func (e *retryableError) Error() string { return e.message }

// do executes one logical request behind the rate limiter and circuit
// breaker, retrying retryable failures with exponential backoff. Backoff
// sleeps are context-aware so a cancelled container unwinds promptly
// instead of riding out the full delay.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	url := c.baseURL + path

	return c.breaker.Call(func() error {
		var lastErr error
		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}

			var reqBody io.Reader
			if body != nil {
				encoded, err := json.Marshal(body)
				if err != nil {
					return fmt.Errorf("encode request: %w", err)
				}
				reqBody = bytes.NewReader(encoded)
			}

			req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.token)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				lastErr = &retryableError{message: fmt.Sprintf("network error: %v", err)}
				if !c.backoffOrStop(ctx, attempt, &lastErr) {
					break
				}
				continue
			}

			respBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return fmt.Errorf("read response: %w", readErr)
			}

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode >= 500 {
				lastErr = &retryableError{message: fmt.Sprintf("retryable status %d", resp.StatusCode)}
				if !c.backoffOrStop(ctx, attempt, &lastErr) {
					break
				}
				continue
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("game API error (status %d): %s", resp.StatusCode, string(respBody))
			}

			if result != nil {
				if err := json.Unmarshal(respBody, result); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}

		if lastErr != nil {
			return fmt.Errorf("max retries exceeded: %w", lastErr)
		}
		return fmt.Errorf("max retries exceeded")
	})
}

// backoffOrStop sleeps an exponential backoff before the next retry
// attempt, returning false if ctx is already done or attempt was the last
// one (caller should stop retrying in either case).
func (c *Client) backoffOrStop(ctx context.Context, attempt int, lastErr *error) bool {
	if attempt >= c.maxRetries {
		return false
	}
	delay := c.backoffBase * time.Duration(int64(1)<<uint(attempt))
	if err := shared.SleepContext(ctx, c.clock, delay); err != nil {
		*lastErr = fmt.Errorf("context cancelled: %w", err)
		return false
	}
	return true
}
