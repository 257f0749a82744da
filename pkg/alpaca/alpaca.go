// Package alpaca is an ASCOM Alpaca telescope client used to drive a
// physical mount over HTTP.
// Reference: https://ascom-standards.org/Developer/Alpaca.htm
package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/mountcore/pkg/config"
)

// ErrNotConnected is returned by commands sent before Connect.
var ErrNotConnected = errors.New("telescope not connected")

// Axis numbers of the MoveAxis endpoint.
const (
	AxisPrimary   = 0
	AxisSecondary = 1
)

// Guide directions of the PulseGuide endpoint.
const (
	GuideNorth = 0
	GuideSouth = 1
	GuideEast  = 2
	GuideWest  = 3
)

// Client is an ASCOM Alpaca telescope client. Every request waits on a
// limiter so a tight control loop cannot flood the server.
type Client struct {
	config     config.AlpacaConfig
	httpClient *http.Client
	limiter    *rate.Limiter

	connected atomic.Bool

	mu    sync.Mutex
	txnID int
}

// NewClient creates a new Alpaca telescope client from configuration.
func NewClient(cfg config.AlpacaConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	if cfg.ClientID == 0 {
		cfg.ClientID = 1
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Config returns the client configuration.
func (c *Client) Config() config.AlpacaConfig {
	return c.config
}

// Connected reports whether Connect succeeded and Disconnect was not called.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect establishes a connection to the telescope.
// Implements: PUT /api/v1/telescope/{device_number}/connected
func (c *Client) Connect(ctx context.Context) error {
	params := url.Values{}
	params.Add("Connected", "true")

	resp, err := c.put(ctx, "connected", params)
	if err != nil {
		return fmt.Errorf("failed to connect to telescope: %w", err)
	}
	if err := resp.Error(); err != nil {
		return err
	}

	c.connected.Store(true)
	return nil
}

// Disconnect closes the connection to the telescope.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.connected.Load() {
		return nil
	}

	params := url.Values{}
	params.Add("Connected", "false")

	resp, err := c.put(ctx, "connected", params)
	if err != nil {
		return fmt.Errorf("failed to disconnect from telescope: %w", err)
	}

	c.connected.Store(false)
	return resp.Error()
}

// SlewToAltAzAsync starts a slew of both axes and returns immediately.
// Implements: PUT /api/v1/telescope/{device_number}/slewtoaltazasync
func (c *Client) SlewToAltAzAsync(ctx context.Context, altitude, azimuth float64) error {
	params := url.Values{}
	params.Add("Azimuth", strconv.FormatFloat(azimuth, 'f', 6, 64))
	params.Add("Altitude", strconv.FormatFloat(altitude, 'f', 6, 64))
	return c.command(ctx, "slewtoaltazasync", params)
}

// AbortSlew immediately stops any telescope motion.
func (c *Client) AbortSlew(ctx context.Context) error {
	return c.command(ctx, "abortslew", url.Values{})
}

// MoveAxis moves one axis at a constant rate in degrees per second.
// A rate of 0 stops the axis.
// Implements: PUT /api/v1/telescope/{device_number}/moveaxis
func (c *Client) MoveAxis(ctx context.Context, axis int, rateDeg float64) error {
	if axis != AxisPrimary && axis != AxisSecondary {
		return fmt.Errorf("invalid axis %d: must be 0 (primary) or 1 (secondary)", axis)
	}
	if max := c.config.MaxAxisRate; max > 0 && (rateDeg > max || rateDeg < -max) {
		return fmt.Errorf("rate %.4f exceeds maximum axis rate %.2f deg/sec", rateDeg, max)
	}

	params := url.Values{}
	params.Add("Axis", strconv.Itoa(axis))
	params.Add("Rate", strconv.FormatFloat(rateDeg, 'f', 8, 64))
	return c.command(ctx, "moveaxis", params)
}

// StopAxes sets both axis rates to 0.
func (c *Client) StopAxes(ctx context.Context) error {
	if err := c.MoveAxis(ctx, AxisPrimary, 0); err != nil {
		return fmt.Errorf("failed to stop primary axis: %w", err)
	}
	if err := c.MoveAxis(ctx, AxisSecondary, 0); err != nil {
		return fmt.Errorf("failed to stop secondary axis: %w", err)
	}
	return nil
}

// PulseGuide moves in a direction at the guide rate for duration.
// Implements: PUT /api/v1/telescope/{device_number}/pulseguide
func (c *Client) PulseGuide(ctx context.Context, direction int, duration time.Duration) error {
	if direction < GuideNorth || direction > GuideWest {
		return fmt.Errorf("invalid guide direction %d", direction)
	}
	params := url.Values{}
	params.Add("Direction", strconv.Itoa(direction))
	params.Add("Duration", strconv.FormatInt(duration.Milliseconds(), 10))
	return c.command(ctx, "pulseguide", params)
}

// SetTracking enables or disables tracking on the server.
func (c *Client) SetTracking(ctx context.Context, enabled bool) error {
	params := url.Values{}
	params.Add("Tracking", strconv.FormatBool(enabled))
	return c.command(ctx, "tracking", params)
}

// Altitude returns the secondary axis position in degrees.
func (c *Client) Altitude(ctx context.Context) (float64, error) {
	return c.getFloat64(ctx, "altitude")
}

// Azimuth returns the primary axis position in degrees.
func (c *Client) Azimuth(ctx context.Context) (float64, error) {
	return c.getFloat64(ctx, "azimuth")
}

// IsSlewing reports whether a slew is in progress.
func (c *Client) IsSlewing(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "slewing")
}

// IsPulseGuiding reports whether a pulse guide is in progress.
func (c *Client) IsPulseGuiding(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "ispulseguiding")
}

// Status is a snapshot of the server's view of the telescope.
type Status struct {
	Altitude     float64 `json:"altitude"`
	Azimuth      float64 `json:"azimuth"`
	Slewing      bool    `json:"slewing"`
	Tracking     bool    `json:"tracking"`
	PulseGuiding bool    `json:"pulseGuiding"`
}

// Status reads position and motion flags in one call.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	var err error
	if s.Altitude, err = c.Altitude(ctx); err != nil {
		return nil, err
	}
	if s.Azimuth, err = c.Azimuth(ctx); err != nil {
		return nil, err
	}
	if s.Slewing, err = c.IsSlewing(ctx); err != nil {
		return nil, err
	}
	if s.Tracking, err = c.getBool(ctx, "tracking"); err != nil {
		return nil, err
	}
	if s.PulseGuiding, err = c.IsPulseGuiding(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}

// Capabilities are the features the mount controller relies on.
type Capabilities struct {
	Description      string `json:"description"`
	DriverInfo       string `json:"driverInfo"`
	InterfaceVersion int    `json:"interfaceVersion"`
	CanMoveAxis      bool   `json:"canMoveAxis"`
	CanPulseGuide    bool   `json:"canPulseGuide"`
	CanSlewAltAz     bool   `json:"canSlewAltAzAsync"`
	CanSetTracking   bool   `json:"canSetTracking"`
}

// Capabilities reads the capability flags. Descriptive fields that the
// server does not implement are left empty.
func (c *Client) Capabilities(ctx context.Context) (*Capabilities, error) {
	description, _ := c.getString(ctx, "description")
	driverInfo, _ := c.getString(ctx, "driverinfo")
	interfaceVersion, _ := c.getInt(ctx, "interfaceversion")

	caps := &Capabilities{
		Description:      description,
		DriverInfo:       driverInfo,
		InterfaceVersion: interfaceVersion,
	}

	var err error
	if caps.CanMoveAxis, err = c.getBool(ctx, "canmoveaxis?Axis=0"); err != nil {
		return nil, err
	}
	if caps.CanPulseGuide, err = c.getBool(ctx, "canpulseguide"); err != nil {
		return nil, err
	}
	if caps.CanSlewAltAz, err = c.getBool(ctx, "canslewaltazasync"); err != nil {
		return nil, err
	}
	if caps.CanSetTracking, err = c.getBool(ctx, "cansettracking"); err != nil {
		return nil, err
	}
	return caps, nil
}

// command sends a PUT that only reports success or failure.
func (c *Client) command(ctx context.Context, endpoint string, params url.Values) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	resp, err := c.put(ctx, endpoint, params)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", endpoint, err)
	}
	return resp.Error()
}

func (c *Client) getBool(ctx context.Context, endpoint string) (bool, error) {
	resp, err := c.getValue(ctx, endpoint)
	if err != nil {
		return false, err
	}
	value, ok := resp.Value.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected response type for %s: %T", endpoint, resp.Value)
	}
	return value, nil
}

func (c *Client) getFloat64(ctx context.Context, endpoint string) (float64, error) {
	resp, err := c.getValue(ctx, endpoint)
	if err != nil {
		return 0, err
	}
	value, ok := resp.Value.(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected response type for %s: %T", endpoint, resp.Value)
	}
	return value, nil
}

func (c *Client) getString(ctx context.Context, endpoint string) (string, error) {
	resp, err := c.getValue(ctx, endpoint)
	if err != nil {
		return "", err
	}
	value, ok := resp.Value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected response type for %s: %T", endpoint, resp.Value)
	}
	return value, nil
}

func (c *Client) getInt(ctx context.Context, endpoint string) (int, error) {
	v, err := c.getFloat64(ctx, endpoint)
	return int(v), err
}

// getValue performs a GET and checks the Alpaca error fields.
func (c *Client) getValue(ctx context.Context, endpoint string) (*alpacaResponse, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", endpoint, err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp, nil
}

// nextTransactionID returns a unique transaction ID for each API call.
// Alpaca requires transaction IDs to fit in a 32-bit unsigned integer.
func (c *Client) nextTransactionID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txnID = c.txnID%2147483647 + 1
	return c.txnID
}

func (c *Client) endpointURL(endpoint string) string {
	return fmt.Sprintf("%s/api/v1/telescope/%d/%s",
		strings.TrimRight(c.config.BaseURL, "/"), c.config.DeviceNumber, endpoint)
}

// get performs an HTTP GET request to an Alpaca endpoint. endpoint may carry
// its own query parameters.
func (c *Client) get(ctx context.Context, endpoint string) (*alpacaResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	path, query, _ := strings.Cut(endpoint, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint query %q: %w", endpoint, err)
	}
	params.Add("ClientID", strconv.Itoa(c.config.ClientID))
	params.Add("ClientTransactionID", strconv.Itoa(c.nextTransactionID()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL(path)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// put performs an HTTP PUT request with a form-encoded body.
func (c *Client) put(ctx context.Context, endpoint string, params url.Values) (*alpacaResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params.Set("ClientID", strconv.Itoa(c.config.ClientID))
	params.Set("ClientTransactionID", strconv.Itoa(c.nextTransactionID()))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpointURL(endpoint), strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*alpacaResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("alpaca http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var alpacaResp alpacaResponse
	if err := parseAlpacaResponse(resp.Body, &alpacaResp); err != nil {
		return nil, err
	}
	return &alpacaResp, nil
}

// alpacaResponse represents the standard Alpaca API response format.
type alpacaResponse struct {
	// Value contains the response data (type varies by endpoint)
	Value interface{} `json:"Value"`

	ClientTransactionID int `json:"ClientTransactionID"`
	ServerTransactionID int `json:"ServerTransactionID"`

	// ErrorNumber is non-zero if an error occurred
	ErrorNumber  int    `json:"ErrorNumber"`
	ErrorMessage string `json:"ErrorMessage"`
}

// Error returns an error if the Alpaca response indicates failure.
func (r *alpacaResponse) Error() error {
	if r.ErrorNumber != 0 {
		return &Error{Number: r.ErrorNumber, Message: r.ErrorMessage}
	}
	return nil
}

// Error is a device error reported by the Alpaca server.
type Error struct {
	Number  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("alpaca error %d: %s", e.Number, e.Message)
}

func parseAlpacaResponse(body io.Reader, resp *alpacaResponse) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
