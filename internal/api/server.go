// Package api serves the operator HTTP interface of the mount controller.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/internal/mount"
	"github.com/unklstewy/mountcore/pkg/hardware"
	"github.com/unklstewy/mountcore/pkg/pec"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

// Mount is the part of the controller the API drives.
type Mount interface {
	Status() mount.Snapshot
	Subscribe() (<-chan mount.Snapshot, func())

	StartSlew(t mount.Target) error
	AbortSlew(ctx context.Context) error
	SyncToRaDec(ctx context.Context, ra, dec float64) error
	MoveAxis(ctx context.Context, axis int, rate float64) error

	Unpark(ctx context.Context)
	ListParks(ctx context.Context) ([]mount.ParkPosition, error)
	SavePark(ctx context.Context, name string) (mount.ParkPosition, error)

	SetTracking(ctx context.Context, on bool) error
	SetTrackingRate(ctx context.Context, rate tracking.TrackingRate) error

	PulseGuide(ctx context.Context, dir tracking.GuideDirection, d time.Duration, rate float64) error
	HandpadPress(ctx context.Context, dir tracking.GuideDirection, speed int) error
	HandpadRelease(ctx context.Context, dir tracking.GuideDirection) error

	LoadPEC(ctx context.Context, path string, mode pec.MergeMode) error
	EnablePEC(ctx context.Context, on bool) error
}

// Options configures a Server.
type Options struct {
	Mount  Mount
	Logger logging.Logger

	// Metrics is served on /metrics when set
	Metrics http.Handler

	// AllowedOrigins for CORS, defaults to all
	AllowedOrigins []string
}

// Server routes HTTP requests to the mount.
type Server struct {
	mount    Mount
	log      logging.Logger
	router   *chi.Mux
	upgrader websocket.Upgrader
}

// New creates a Server and sets up its routes.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		mount:  opts.Mount,
		log:    log,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes(opts)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes(opts Options) {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/slew", s.handleSlew)
		r.Post("/abort", s.handleAbort)
		r.Post("/sync", s.handleSync)
		r.Post("/moveaxis", s.handleMoveAxis)

		r.Get("/parks", s.handleListParks)
		r.Post("/parks", s.handleSavePark)
		r.Post("/park", s.handlePark)
		r.Post("/home", s.handleHome)
		r.Post("/unpark", s.handleUnpark)

		r.Put("/tracking", s.handleTracking)

		r.Post("/pulse", s.handlePulse)
		r.Post("/handpad/press", s.handleHandpadPress)
		r.Post("/handpad/release", s.handleHandpadRelease)

		r.Post("/pec/load", s.handlePECLoad)
		r.Put("/pec", s.handlePECEnable)
	})
}

// requestLogger tags each request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, log := logging.WithRequestLogger(r.Context(), s.log)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		log.Debug(ctx, "request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)))
	})
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mount.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, mount.ErrParkNotFound):
		return http.StatusNotFound
	case errors.Is(err, mount.ErrSunAvoidance),
		errors.Is(err, pec.ErrHeaderMismatch),
		errors.Is(err, pec.ErrUnsafeFactor),
		errors.Is(err, pec.ErrBinMissing),
		errors.Is(err, pec.ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mount.ErrParked),
		errors.Is(err, mount.ErrNotAlignedMode),
		errors.Is(err, mount.ErrNoPECTable),
		errors.Is(err, mount.ErrNotTracking):
		return http.StatusConflict
	case errors.Is(err, mount.ErrNotRunning),
		errors.Is(err, hardware.ErrQueueStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, hardware.ErrDeviceFault):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logging.String("path", r.URL.Path),
			logging.String("request_id", logging.RequestID(r.Context())),
			logging.Err(err))
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}
