package statusapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-client/internal/auth"
	"github.com/example/ride-client/internal/booking"
	"github.com/example/ride-client/internal/history"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/pipeline"
)

// BookingService is the slice of the booking coordinator the API exposes.
type BookingService interface {
	CalculateFare(ctx context.Context, pickup, dropoff models.LocationPoint, rideType models.RideType) (models.FareEstimate, error)
	BookRide(ctx context.Context, pickup, dropoff models.LocationPoint, paymentMethod string, rideType models.RideType) (models.Booking, error)
}

// RideService is the slice of the orchestrator the API exposes.
type RideService interface {
	Start(b models.Booking, routePath *models.RoutePath)
	Cancel(ctx context.Context) error
	Snapshot() (models.RideSnapshot, bool)
}

// AuthService covers the interactive login/logout entry points.
type AuthService interface {
	SetTokens(ctx context.Context, pair models.TokenPair) error
	Clear(ctx context.Context) error
}

// Router fetches the display route for a fresh booking.
type Router interface {
	GetRoute(ctx context.Context, pickup, dropoff models.LocationPoint) models.RoutePath
}

// Server is the local observable surface of the ride client: a small HTTP
// API plus a websocket stream of ride snapshots.
type Server struct {
	Bookings BookingService
	Rides    RideService
	Auth     AuthService
	Routes   Router
	History  history.Store

	logger    *slog.Logger
	broadcast *Broadcaster
	mux       *mux.Router
}

func NewServer(bookings BookingService, rides RideService, authSvc AuthService, routes Router, hist history.Store, logger *slog.Logger) *Server {
	s := &Server{
		Bookings:  bookings,
		Rides:     rides,
		Auth:      authSvc,
		Routes:    routes,
		History:   hist,
		logger:    logger,
		broadcast: NewBroadcaster(logger),
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// Broadcast pushes a snapshot to all connected websocket observers. Wire it
// to the orchestrator's OnChange hook.
func (s *Server) Broadcast(snap models.RideSnapshot) {
	s.broadcast.Publish(snap)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/ride/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/ride/cancel", s.handleRideCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/ride/snapshot", s.handleSnapshot).Methods("GET")
	s.mux.HandleFunc("/api/v1/ride/history", s.handleHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/fare/estimate", s.handleFareEstimate).Methods("POST")
	s.mux.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods("POST")
	s.mux.HandleFunc("/api/v1/auth/logout", s.handleLogout).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type rideRequestBody struct {
	Pickup        models.LocationPoint `json:"pickup"`
	Dropoff       models.LocationPoint `json:"dropoff"`
	PaymentMethod string               `json:"payment_method"`
	RideType      models.RideType      `json:"ride_type"`
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var body rideRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.RideType == "" {
		body.RideType = models.RideTypeStandard
	}
	if body.PaymentMethod == "" {
		body.PaymentMethod = "cash"
	}

	b, err := s.Bookings.BookRide(r.Context(), body.Pickup, body.Dropoff, body.PaymentMethod, body.RideType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rp := s.Routes.GetRoute(r.Context(), body.Pickup, body.Dropoff)
	s.Rides.Start(b, &rp)

	writeJSON(w, http.StatusCreated, map[string]any{
		"ride_id":   b.RideID,
		"start_otp": b.StartOTP,
		"fare":      b.Fare,
		"route":     rp,
	})
}

func (s *Server) handleRideCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Rides.Cancel(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Rides.Snapshot()
	if !ok {
		http.Error(w, "no active ride", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.History.ListRides(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": records})
}

type fareRequestBody struct {
	Pickup   models.LocationPoint `json:"pickup"`
	Dropoff  models.LocationPoint `json:"dropoff"`
	RideType models.RideType      `json:"ride_type"`
}

func (s *Server) handleFareEstimate(w http.ResponseWriter, r *http.Request) {
	var body fareRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.RideType == "" {
		body.RideType = models.RideTypeStandard
	}
	est, err := s.Bookings.CalculateFare(r.Context(), body.Pickup, body.Dropoff, body.RideType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var pair models.TokenPair
	if err := json.NewDecoder(r.Body).Decode(&pair); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		http.Error(w, "both tokens required", http.StatusBadRequest)
		return
	}
	if err := s.Auth.SetTokens(r.Context(), pair); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Auth.Clear(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.broadcast.Add(conn)
	// late joiners get the current state right away
	if snap, ok := s.Rides.Snapshot(); ok {
		s.broadcast.SendTo(conn, snap)
	}
}

// writeError maps the core's typed failures onto status codes. Auth
// failures stay 401 without any forced-logout side effect; that policy
// belongs to whoever is driving this API.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var rejected *booking.RejectedError
	var authErr *auth.AuthError
	var netErr *pipeline.NetworkError
	var statusErr *pipeline.StatusError
	switch {
	case errors.As(err, &rejected):
		http.Error(w, rejected.Reason, http.StatusUnprocessableEntity)
	case errors.As(err, &authErr):
		http.Error(w, authErr.Error(), http.StatusUnauthorized)
	case errors.As(err, &netErr):
		http.Error(w, netErr.Error(), http.StatusBadGateway)
	case errors.As(err, &statusErr):
		http.Error(w, statusErr.Body, statusErr.Code)
	default:
		s.logger.Error("request_failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
