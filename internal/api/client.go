package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unklstewy/mountcore/internal/mount"
)

// Client calls a mountd API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status returns the latest snapshot.
func (c *Client) Status(ctx context.Context) (mount.Snapshot, error) {
	var snap mount.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &snap)
	return snap, err
}

// Slew starts a slew.
func (c *Client) Slew(ctx context.Context, req SlewRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/slew", req, nil)
}

// Abort stops every motion.
func (c *Client) Abort(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/abort", nil, nil)
}

// Park starts a slew to the named park position.
func (c *Client) Park(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/park", ParkRequest{Name: name}, nil)
}

// Home starts a slew to the home position.
func (c *Client) Home(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/home", nil, nil)
}

// Unpark clears the parked state.
func (c *Client) Unpark(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/unpark", nil, nil)
}

// SetTracking turns tracking on or off.
func (c *Client) SetTracking(ctx context.Context, on bool) error {
	return c.do(ctx, http.MethodPut, "/api/v1/tracking", TrackingRequest{Enabled: &on}, nil)
}

// Press starts a hand controller move.
func (c *Client) Press(ctx context.Context, direction string, speed int) error {
	return c.do(ctx, http.MethodPost, "/api/v1/handpad/press", HandpadRequest{Direction: direction, Speed: speed}, nil)
}

// Release stops a hand controller move.
func (c *Client) Release(ctx context.Context, direction string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/handpad/release", HandpadRequest{Direction: direction}, nil)
}

// Pulse starts a guide pulse.
func (c *Client) Pulse(ctx context.Context, direction string, d time.Duration) error {
	return c.do(ctx, http.MethodPost, "/api/v1/pulse", PulseRequest{Direction: direction, DurationMs: int(d / time.Millisecond)}, nil)
}

// Watch dials the snapshot stream.
func (c *Client) Watch(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u, err)
	}
	return conn, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
