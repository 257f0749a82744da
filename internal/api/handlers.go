package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/internal/mount"
	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/pec"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	Success bool `json:"success"`
}

// SlewRequest selects a slew target. Type is radec, altaz or axes.
type SlewRequest struct {
	Type string  `json:"type"`
	Ra   float64 `json:"ra,omitempty"`
	Dec  float64 `json:"dec,omitempty"`
	Alt  float64 `json:"alt,omitempty"`
	Az   float64 `json:"az,omitempty"`
	X    float64 `json:"x,omitempty"`
	Y    float64 `json:"y,omitempty"`
}

// Target converts the request to a slew target.
func (req SlewRequest) Target() (mount.Target, error) {
	switch req.Type {
	case "", "radec":
		return mount.RaDecTarget(req.Ra, req.Dec), nil
	case "altaz":
		return mount.AltAzTarget(req.Az, req.Alt), nil
	case "axes":
		return mount.AxesTarget(coordinates.Axes{req.X, req.Y}), nil
	}
	return mount.Target{}, fmt.Errorf("unknown slew type %q", req.Type)
}

// SyncRequest is the body of /sync.
type SyncRequest struct {
	Ra  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// MoveAxisRequest is the body of /moveaxis. Rate is in degrees per second.
type MoveAxisRequest struct {
	Axis int     `json:"axis"`
	Rate float64 `json:"rate"`
}

// ParkRequest names a park position. An empty name parks at the
// configured default.
type ParkRequest struct {
	Name string `json:"name"`
}

// TrackingRequest changes tracking. Nil fields are left alone.
type TrackingRequest struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Rate    string `json:"rate,omitempty"`
}

// PulseRequest is the body of /pulse. A zero rate uses the configured guide
// rate.
type PulseRequest struct {
	Direction  string  `json:"direction"`
	DurationMs int     `json:"durationMs"`
	Rate       float64 `json:"rate,omitempty"`
}

// HandpadRequest is the body of /handpad/press and /handpad/release.
type HandpadRequest struct {
	Direction string `json:"direction"`
	Speed     int    `json:"speed,omitempty"`
}

// PECLoadRequest is the body of /pec/load.
type PECLoadRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// PECEnableRequest is the body of PUT /pec.
type PECEnableRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.mount.Status()
	if snap.MountError != "" {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: snap.MountError})
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.mount.Status())
}

func (s *Server) handleSlew(w http.ResponseWriter, r *http.Request) {
	var req SlewRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := req.Target()
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.mount.StartSlew(t); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, okResponse{Success: true})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.mount.AbortSlew(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.mount.SyncToRaDec(r.Context(), req.Ra, req.Dec); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handleMoveAxis(w http.ResponseWriter, r *http.Request) {
	var req MoveAxisRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.mount.MoveAxis(r.Context(), req.Axis, req.Rate); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handleListParks(w http.ResponseWriter, r *http.Request) {
	parks, err := s.mount.ListParks(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if parks == nil {
		parks = []mount.ParkPosition{}
	}
	respondJSON(w, http.StatusOK, parks)
}

func (s *Server) handleSavePark(w http.ResponseWriter, r *http.Request) {
	var req ParkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "park name is required"})
		return
	}
	p, err := s.mount.SavePark(r.Context(), req.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePark(w http.ResponseWriter, r *http.Request) {
	var req ParkRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if err := s.mount.StartSlew(mount.ParkTarget(req.Name)); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, okResponse{Success: true})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if err := s.mount.StartSlew(mount.HomeTarget()); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, okResponse{Success: true})
}

func (s *Server) handleUnpark(w http.ResponseWriter, r *http.Request) {
	s.mount.Unpark(r.Context())
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	var req TrackingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Rate != "" {
		rate, err := tracking.ParseTrackingRate(req.Rate)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if err := s.mount.SetTrackingRate(r.Context(), rate); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := s.mount.SetTracking(r.Context(), *req.Enabled); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, s.mount.Status())
}

// handlePulse starts a pulse and returns before it ends. The pulse outlives
// the request.
func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	var req PulseRequest
	if !decode(w, r, &req) {
		return
	}
	dir, err := tracking.ParseGuideDirection(req.Direction)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.DurationMs <= 0 {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "durationMs must be positive"})
		return
	}
	d := time.Duration(req.DurationMs) * time.Millisecond

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.mount.PulseGuide(ctx, dir, d, req.Rate); err != nil {
			s.log.Warn(ctx, "pulse guide failed", logging.String("direction", dir.String()), logging.Err(err))
		}
	}()
	respondJSON(w, http.StatusAccepted, okResponse{Success: true})
}

func (s *Server) handleHandpadPress(w http.ResponseWriter, r *http.Request) {
	var req HandpadRequest
	if !decode(w, r, &req) {
		return
	}
	dir, err := tracking.ParseGuideDirection(req.Direction)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.mount.HandpadPress(r.Context(), dir, req.Speed); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handleHandpadRelease(w http.ResponseWriter, r *http.Request) {
	var req HandpadRequest
	if !decode(w, r, &req) {
		return
	}
	dir, err := tracking.ParseGuideDirection(req.Direction)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.mount.HandpadRelease(r.Context(), dir); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handlePECLoad(w http.ResponseWriter, r *http.Request) {
	var req PECLoadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "path is required"})
		return
	}
	mode := pec.Replace
	if req.Mode != "" {
		m, err := pec.ParseMergeMode(req.Mode)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		mode = m
	}
	if err := s.mount.LoadPEC(r.Context(), req.Path, mode); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handlePECEnable(w http.ResponseWriter, r *http.Request) {
	var req PECEnableRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.mount.EnablePEC(r.Context(), req.Enabled); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true})
}

// decode reads a JSON body into v and answers 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
