// Package api exposes the booking service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"kladovka/internal/access"
	"kladovka/internal/booking"
	"kladovka/internal/database"
	"kladovka/internal/seam"
)

// DeviceLister returns the vendor device inventory.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]seam.Device, error)
}

// Config carries the API surface settings.
type Config struct {
	Addr        string
	AdminAPIKey string
	LockAPIKey  string

	// Requests per minute and burst for the per-identity limiter.
	RequestsPerMinute int
	Burst             int
}

// HTTPServer serves the booking and lock endpoints.
type HTTPServer struct {
	cfg      Config
	db       *database.DB
	bookings *booking.Service
	devices  DeviceLister
	log      zerolog.Logger

	limiter *identityLimiter
	srv     *http.Server
}

// NewHTTPServer wires the routes.
func NewHTTPServer(
	cfg Config,
	db *database.DB,
	bookings *booking.Service,
	devices DeviceLister,
	logger *zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		cfg:      cfg,
		db:       db,
		bookings: bookings,
		devices:  devices,
		log:      logger.With().Str("component", "api").Logger(),
		limiter:  newIdentityLimiter(cfg.RequestsPerMinute, cfg.Burst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/boxes", s.withMiddleware("boxes", s.requireAdmin(s.handleBoxes)))
	mux.HandleFunc("/api/v1/boxes/available", s.withMiddleware("boxes_available", s.handleAvailableBoxes))
	mux.HandleFunc("/api/v1/boxes/status", s.withMiddleware("boxes_status", s.requireAdmin(s.handleBoxesStatus)))
	mux.HandleFunc("/api/v1/boxes/import", s.withMiddleware("boxes_import", s.requireAdmin(s.handleImportBoxes)))
	mux.HandleFunc("/api/v1/boxes/", s.withMiddleware("box", s.requireAdmin(s.handleBoxByID)))
	mux.HandleFunc("/api/v1/bookings", s.withMiddleware("bookings", s.handleBookings))
	mux.HandleFunc("/api/v1/bookings/my", s.withMiddleware("bookings_my", s.handleMyBookings))
	mux.HandleFunc("/api/v1/bookings/", s.withMiddleware("booking", s.requireAdmin(s.handleBookingByID)))
	mux.HandleFunc("/api/v1/cleanup/run", s.withMiddleware("cleanup_run", s.requireAdmin(s.handleCleanupRun)))
	mux.HandleFunc("/api/v1/locks/validate", s.withMiddleware("locks_validate", s.requireLockKey(s.handleValidateCode)))
	mux.HandleFunc("/api/v1/locks/devices", s.withMiddleware("locks_devices", s.requireLockKey(s.handleLockDevices)))

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server started")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info().Msg("HTTP server stopped")
		return nil
	}
}

// Handler returns the routed handler, used directly in tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.srv.Handler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// mapError translates engine errors into HTTP answers.
func (s *HTTPServer) mapError(w http.ResponseWriter, err error) {
	var booked *booking.BoxBookedError
	var apiErr *seam.APIError
	switch {
	case errors.Is(err, database.ErrBoxNotFound):
		writeError(w, http.StatusNotFound, "box not found")
	case errors.Is(err, database.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, database.ErrDuplicate):
		writeError(w, http.StatusConflict, "id already exists")
	case errors.As(err, &booked):
		writeError(w, http.StatusConflict, booked.Error())
	case errors.Is(err, access.ErrNoDevices):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNoTariff):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, seam.ErrNoAPIKey), errors.As(err, &apiErr):
		s.log.Error().Err(err).Msg("vendor call failed")
		writeError(w, http.StatusBadGateway, "lock vendor unavailable")
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
