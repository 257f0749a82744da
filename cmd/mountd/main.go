// mountd runs the mount controller and serves its operator API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unklstewy/mountcore/internal/api"
	"github.com/unklstewy/mountcore/internal/db"
	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/internal/metrics"
	"github.com/unklstewy/mountcore/internal/mount"
	"github.com/unklstewy/mountcore/pkg/alpaca"
	"github.com/unklstewy/mountcore/pkg/config"
	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/hardware"
	"github.com/unklstewy/mountcore/pkg/pec"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Mount: %s %s, observer %.4f, %.4f",
		cfg.Mount.AlignmentMode, cfg.Mount.Kind, cfg.Observer.Latitude, cfg.Observer.Longitude)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("mountd: %v", err)
	}
	log.Println("mountd stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewFromEnv()

	collector, err := metrics.NewMountCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	dev, err := newDevice(cfg, logger)
	if err != nil {
		return err
	}
	queue := hardware.NewQueue(dev, logger)
	if err := queue.Start(ctx); err != nil {
		return err
	}
	defer queue.Stop(context.Background())

	opts := mount.Options{
		Config:  cfg,
		Queue:   queue,
		Logger:  logger,
		Metrics: collector,
	}
	if cfg.Alignment.Enabled {
		opts.Alignment = mount.NewOffsetModel()
	}
	if cfg.Database.Enabled() {
		store, err := openParkStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		go store.keepAlive(ctx, time.Minute)
		opts.Parks = store
	}

	ctrl, err := mount.New(opts)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	if cfg.PEC.File != "" {
		if err := loadPEC(ctx, ctrl, cfg); err != nil {
			log.Printf("PEC file not loaded: %v", err)
		}
	}

	srv := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.New(api.Options{
			Mount:          ctrl,
			Logger:         logger,
			Metrics:        collector.Handler(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", srv.Addr)
		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var result error
	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case err := <-runErr:
		result = fmt.Errorf("control loop stopped: %w", err)
	case err := <-serveErr:
		result = fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.AbortSlew(shutdownCtx); err != nil && !errors.Is(err, mount.ErrNotRunning) {
		log.Printf("Abort on shutdown failed: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	return result
}

// newDevice builds the configured hardware device. The simulator starts at
// the home position.
func newDevice(cfg *config.Config, logger logging.Logger) (hardware.Device, error) {
	conv, err := cfg.Convention()
	if err != nil {
		return nil, err
	}
	if conv.Kind() == coordinates.Physical {
		if err := hardware.CheckAlpacaMode(conv.Mode()); err != nil {
			return nil, err
		}
		log.Printf("Using Alpaca mount at %s (device %d)", cfg.Alpaca.BaseURL, cfg.Alpaca.DeviceNumber)
		return hardware.NewAlpacaDevice(alpaca.NewClient(cfg.Alpaca), logger), nil
	}

	home := coordinates.Axes{90, 90}
	if conv.Mode() == coordinates.AltAz {
		home = coordinates.Axes{0, 0}
	}
	for _, p := range cfg.ParkPositions {
		if p.Name == "home" {
			home = coordinates.Axes{p.X, p.Y}
		}
	}
	log.Println("Using simulated mount")
	return hardware.NewSimulator(conv.AppToMount(home), cfg.Mount.SimulatorSlewSpeed), nil
}

func openParkStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (*parkStore, error) {
	conn, err := db.ReconnectWithRetry(ctx, logger, cfg.Database, 5, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := conn.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	mode := strings.ToLower(cfg.Mount.AlignmentMode)
	repo := db.NewParkRepository(conn, mode)
	n, err := repo.Seed(ctx, cfg.ParkPositions)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Printf("Park positions in database (%d seeded from config)", n)

	return newParkStore(conn, cfg.Database, mode, logger), nil
}

// loadPEC waits for the control loop and installs the configured PEC file.
func loadPEC(ctx context.Context, ctrl *mount.Controller, cfg *config.Config) error {
	deadline := time.Now().Add(5 * time.Second)
	for !ctrl.Running() {
		if time.Now().After(deadline) {
			return mount.ErrNotRunning
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	if err := ctrl.LoadPEC(ctx, cfg.PEC.File, pec.Replace); err != nil {
		return err
	}
	if cfg.PEC.Enabled {
		return ctrl.EnablePEC(ctx, true)
	}
	return nil
}
