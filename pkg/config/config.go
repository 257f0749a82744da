package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/pec"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

// ErrUnsupportedMount is returned by Validate for alignment mode and mount
// kind combinations the controller cannot drive.
var ErrUnsupportedMount = coordinates.ErrUnsupportedMount

// Config represents the complete mount controller configuration.
type Config struct {
	Server        ServerConfig    `json:"server"`
	Database      DatabaseConfig  `json:"database"`
	Alpaca        AlpacaConfig    `json:"alpaca"`
	Observer      ObserverConfig  `json:"observer"`
	Mount         MountConfig     `json:"mount"`
	Limits        LimitsConfig    `json:"limits"`
	PEC           PECConfig       `json:"pec"`
	Alignment     AlignmentConfig `json:"alignment"`
	ParkPositions []ParkPosition  `json:"park_positions"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// AllowedOrigins for CORS on the control API
	AllowedOrigins []string `json:"allowed_origins"`

	TLSEnabled  bool   `json:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`
}

// DatabaseConfig contains database connection settings. The database only
// stores park positions; leave Host empty to keep them in this file.
type DatabaseConfig struct {
	// Driver is the database driver (postgres)
	Driver string `json:"driver"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	MaxOpenConns int `json:"max_open_conns"`
	MaxIdleConns int `json:"max_idle_conns"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// AlpacaConfig contains ASCOM Alpaca telescope settings used by the
// physical mount device.
type AlpacaConfig struct {
	// BaseURL is the Alpaca server address (e.g., "http://192.168.1.100:11111")
	BaseURL string `json:"base_url"`

	// DeviceNumber is the Alpaca device number (typically 0)
	DeviceNumber int `json:"device_number"`

	// ClientID identifies this controller to the Alpaca server
	ClientID int `json:"client_id"`

	// RequestsPerSecond limits the command rate sent to the server
	RequestsPerSecond float64 `json:"requests_per_second"`

	// TimeoutSeconds is the HTTP timeout of a single request
	TimeoutSeconds int `json:"timeout_seconds"`

	// MaxAxisRate is the fastest MoveAxis rate the device accepts, degrees per second
	MaxAxisRate float64 `json:"max_axis_rate"`
}

// ObserverConfig contains the observer's geographic location.
// The hemisphere, and with it every axis sign convention, follows from Latitude.
type ObserverConfig struct {
	Name string `json:"name"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180, east positive)
	Longitude float64 `json:"longitude"`

	// Elevation in meters above sea level
	Elevation float64 `json:"elevation"`

	TimeZone string `json:"timezone"`
}

// MountConfig describes the mount and its motion constants.
type MountConfig struct {
	// AlignmentMode is "altaz", "polar" or "germanpolar"
	AlignmentMode string `json:"alignment_mode"`

	// Kind is "simulator" or "physical"
	Kind string `json:"kind"`

	// StepsPerRev and WormTeeth of the primary axis, used by PEC
	StepsPerRev int `json:"steps_per_rev"`
	WormTeeth   int `json:"worm_teeth"`

	// TrackingRate is sidereal, lunar, solar or king
	TrackingRate string `json:"tracking_rate"`

	// CustomGearing adds CustomRateOffset (arc sec/s) to the tracking rate
	CustomGearing    bool    `json:"custom_gearing"`
	CustomRateOffset float64 `json:"custom_rate_offset"`

	// GuideRateRa and GuideRateDec are fractions of sidereal
	GuideRateRa  float64 `json:"guide_rate_ra"`
	GuideRateDec float64 `json:"guide_rate_dec"`

	// MaxSlewRate in degrees per second clamps every commanded rate
	MaxSlewRate float64 `json:"max_slew_rate"`

	// SimulatorSlewSpeed is how fast the simulator moves during GoTo, degrees per second
	SimulatorSlewSpeed float64 `json:"simulator_slew_speed"`

	// HandControllerSpeeds are speeds 1 to 8 as multiples of sidereal
	HandControllerSpeeds [8]float64 `json:"hc_speeds"`

	// HandControllerMode is "axes" or "guiding"
	HandControllerMode string `json:"hc_mode"`

	// Backlash in arc seconds per axis, applied on direction reversal
	BacklashRa      float64 `json:"backlash_ra"`
	BacklashDec     float64 `json:"backlash_dec"`
	AntiBacklashRa  bool    `json:"anti_backlash_ra"`
	AntiBacklashDec bool    `json:"anti_backlash_dec"`

	// DecPulseBacklash in arc seconds is added to the first pulse after a
	// declination guide reversal
	DecPulseBacklash float64 `json:"dec_pulse_backlash"`

	// SettleSeconds is the delay after a coarse slew
	SettleSeconds float64 `json:"settle_seconds"`

	// Slew timeouts of the coarse phase
	SimulatorSlewTimeoutSeconds int `json:"simulator_slew_timeout_seconds"`
	PhysicalSlewTimeoutSeconds  int `json:"physical_slew_timeout_seconds"`

	// PollIntervalMs is the axis stopped polling interval
	PollIntervalMs int `json:"poll_interval_ms"`

	// LoopIntervalMs is the control loop tick period
	LoopIntervalMs int `json:"loop_interval_ms"`

	// Precision phase constants
	PrecisionArcSeconds float64 `json:"precision_arcseconds"`
	PrecisionIterations int     `json:"precision_iterations"`
	PrimaryDamping      float64 `json:"primary_damping"`
	SecondaryDamping    float64 `json:"secondary_damping"`

	// AltAzTrackingIntervalMs is the Alt-Az tracking recomputation period
	AltAzTrackingIntervalMs int `json:"altaz_tracking_interval_ms"`

	// AltAzTrackingMode is "predictor" or "rate"
	AltAzTrackingMode string `json:"altaz_tracking_mode"`
}

// LimitsConfig holds the axis limits and the actions they trigger.
type LimitsConfig struct {
	MinAltitude      float64 `json:"min_altitude"`
	MaxAltitude      float64 `json:"max_altitude"`
	AzimuthSlewLimit float64 `json:"azimuth_slew_limit"`
	HourAngleLimit   float64 `json:"hour_angle_limit"`
	TrackingMargin   float64 `json:"tracking_margin"`

	HorizonLimit    bool    `json:"horizon_limit"`
	HorizonAltitude float64 `json:"horizon_altitude"`

	// StopTracking turns tracking off when a limit trips
	StopTracking bool `json:"stop_tracking"`

	// ParkOnLimit parks to ParkName when a limit trips
	ParkOnLimit bool   `json:"park_on_limit"`
	ParkName    string `json:"park_name"`

	// SunAvoidanceDegrees refuses slews closer to the sun. 0 disables.
	SunAvoidanceDegrees float64 `json:"sun_avoidance_degrees"`
}

// PECConfig configures periodic error correction.
type PECConfig struct {
	Enabled bool `json:"enabled"`

	// Mode is "wormperiod" or "full360"
	Mode     string `json:"mode"`
	BinCount int    `json:"bin_count"`

	// File is loaded at startup when set
	File string `json:"file"`
}

// AlignmentConfig configures the pointing model collaborator.
type AlignmentConfig struct {
	Enabled bool `json:"enabled"`

	// MaxDeltaMultiple of the model's largest known delta beyond which a synced
	// value is discarded
	MaxDeltaMultiple float64 `json:"max_delta_multiple"`
}

// ParkPosition is a named mount position in app axes.
type ParkPosition struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so a partial file keeps sane values
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults: a German
// equatorial simulator in the northern hemisphere.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Port:         5432,
			Database:     "mountcore",
			Username:     "mountcore",
			SSLMode:      "disable",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		Alpaca: AlpacaConfig{
			BaseURL:           "http://localhost:11111",
			DeviceNumber:      0,
			ClientID:          1,
			RequestsPerSecond: 20,
			TimeoutSeconds:    10,
			MaxAxisRate:       4.0,
		},
		Observer: ObserverConfig{
			Name:      "Primary Observer",
			Latitude:  45.0,
			Longitude: 0.0,
			TimeZone:  "UTC",
		},
		Mount: MountConfig{
			AlignmentMode:               "germanpolar",
			Kind:                        "simulator",
			StepsPerRev:                 9024000,
			WormTeeth:                   180,
			TrackingRate:                "sidereal",
			GuideRateRa:                 0.5,
			GuideRateDec:                0.5,
			MaxSlewRate:                 4.0,
			SimulatorSlewSpeed:          8.0,
			HandControllerSpeeds:        tracking.DefaultHandControllerSpeeds,
			HandControllerMode:          "axes",
			SimulatorSlewTimeoutSeconds: 120,
			PhysicalSlewTimeoutSeconds:  240,
			PollIntervalMs:              50,
			LoopIntervalMs:              100,
			PrecisionArcSeconds:         2.0,
			PrecisionIterations:         5,
			PrimaryDamping:              0.25,
			SecondaryDamping:            0.1,
			AltAzTrackingIntervalMs:     1000,
			AltAzTrackingMode:           "predictor",
		},
		Limits: LimitsConfig{
			MinAltitude:      -5.0,
			MaxAltitude:      90.0,
			AzimuthSlewLimit: 10.0,
			HourAngleLimit:   15.0,
			TrackingMargin:   5.0,
			HorizonAltitude:  0.0,
			StopTracking:     true,
			ParkName:         "home",
		},
		PEC: PECConfig{
			Mode:     "wormperiod",
			BinCount: pec.DefaultBinCount,
		},
		Alignment: AlignmentConfig{
			MaxDeltaMultiple: 2.0,
		},
		ParkPositions: []ParkPosition{
			{Name: "home", X: 90, Y: 90},
		},
	}
}

// Validate checks the configuration can drive a mount.
func (c *Config) Validate() error {
	mode, err := c.Mount.Mode()
	if err != nil {
		return err
	}
	kind, err := c.Mount.MountKind()
	if err != nil {
		return err
	}
	if _, err := coordinates.NewConvention(mode, kind, c.Hemisphere()); err != nil {
		return err
	}
	if _, err := tracking.ParseTrackingRate(c.Mount.TrackingRate); err != nil {
		return err
	}
	if c.Observer.Latitude < -90 || c.Observer.Latitude > 90 {
		return fmt.Errorf("latitude %.4f out of range", c.Observer.Latitude)
	}
	if c.Mount.PrecisionIterations < 0 {
		return fmt.Errorf("precision_iterations must not be negative")
	}
	if c.Mount.MaxSlewRate <= 0 {
		return fmt.Errorf("max_slew_rate must be positive")
	}
	switch c.Mount.AltAzTrackingMode {
	case "", "predictor", "rate":
	default:
		return fmt.Errorf("unknown altaz_tracking_mode %q", c.Mount.AltAzTrackingMode)
	}
	switch c.Mount.HandControllerMode {
	case "", "axes", "guiding":
	default:
		return fmt.Errorf("unknown hc_mode %q", c.Mount.HandControllerMode)
	}
	if c.PEC.Enabled {
		if _, err := c.PECParams(); err != nil {
			return err
		}
	}
	seen := make(map[string]bool)
	for _, p := range c.ParkPositions {
		if p.Name == "" {
			return fmt.Errorf("park position without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate park position %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Hemisphere derives the hemisphere from the observer latitude.
func (c *Config) Hemisphere() coordinates.Hemisphere {
	return coordinates.HemisphereFromLatitude(c.Observer.Latitude)
}

// Convention builds the axis convention for the configured mount.
func (c *Config) Convention() (coordinates.Convention, error) {
	mode, err := c.Mount.Mode()
	if err != nil {
		return nil, err
	}
	kind, err := c.Mount.MountKind()
	if err != nil {
		return nil, err
	}
	return coordinates.NewConvention(mode, kind, c.Hemisphere())
}

// AxisLimits converts the limits section for the limit guard.
func (c *Config) AxisLimits() tracking.AxisLimits {
	mode, _ := c.Mount.Mode()
	return tracking.AxisLimits{
		Mode:             mode,
		MinAltitude:      c.Limits.MinAltitude,
		MaxAltitude:      c.Limits.MaxAltitude,
		AzimuthSlewLimit: c.Limits.AzimuthSlewLimit,
		HourAngleLimit:   c.Limits.HourAngleLimit,
		TrackingMargin:   c.Limits.TrackingMargin,
		HorizonLimit:     c.Limits.HorizonLimit,
		HorizonAltitude:  c.Limits.HorizonAltitude,
	}
}

// PECParams derives the PEC parameters from the mount gearing.
func (c *Config) PECParams() (pec.Params, error) {
	mode, err := pec.ParseMode(c.PEC.Mode)
	if err != nil {
		return pec.Params{}, err
	}
	return pec.NewParams(mode, c.Mount.StepsPerRev, c.Mount.WormTeeth, c.PEC.BinCount)
}

// ObserverLocation returns the observer location.
func (c *Config) ObserverLocation() coordinates.Observer {
	return coordinates.Observer{
		Location: coordinates.Geographic{
			Latitude:  c.Observer.Latitude,
			Longitude: c.Observer.Longitude,
			Altitude:  c.Observer.Elevation,
		},
		Timezone: c.Observer.TimeZone,
	}
}

// Mode parses the alignment mode.
func (m MountConfig) Mode() (coordinates.AlignmentMode, error) {
	return coordinates.ParseAlignmentMode(m.AlignmentMode)
}

// MountKind parses the mount kind.
func (m MountConfig) MountKind() (coordinates.MountKind, error) {
	return coordinates.ParseMountKind(m.Kind)
}

// SlewTimeout returns the coarse slew timeout for the mount kind.
func (m MountConfig) SlewTimeout() time.Duration {
	kind, _ := m.MountKind()
	if kind == coordinates.Physical {
		return seconds(m.PhysicalSlewTimeoutSeconds, 240)
	}
	return seconds(m.SimulatorSlewTimeoutSeconds, 120)
}

// PollInterval returns the axis stopped polling interval.
func (m MountConfig) PollInterval() time.Duration {
	return millis(m.PollIntervalMs, 50)
}

// LoopInterval returns the control loop period.
func (m MountConfig) LoopInterval() time.Duration {
	return millis(m.LoopIntervalMs, 100)
}

// AltAzTrackingInterval returns the Alt-Az tracking recomputation period.
func (m MountConfig) AltAzTrackingInterval() time.Duration {
	return millis(m.AltAzTrackingIntervalMs, 1000)
}

// SettleTime returns the post slew settle delay.
func (m MountConfig) SettleTime() time.Duration {
	return time.Duration(m.SettleSeconds * float64(time.Second))
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

func millis(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("MOUNTCORE_PORT"); port != "" {
		c.Server.Port = port
	}
	if dbPassword := os.Getenv("MOUNTCORE_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if alpacaURL := os.Getenv("MOUNTCORE_ALPACA_URL"); alpacaURL != "" {
		c.Alpaca.BaseURL = alpacaURL
	}
	if lat := os.Getenv("MOUNTCORE_LATITUDE"); lat != "" {
		if v, err := strconv.ParseFloat(lat, 64); err == nil {
			c.Observer.Latitude = v
		}
	}
	if lon := os.Getenv("MOUNTCORE_LONGITUDE"); lon != "" {
		if v, err := strconv.ParseFloat(lon, 64); err == nil {
			c.Observer.Longitude = v
		}
	}
}
