package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"kladovka/internal/booking"
	"kladovka/internal/database"
	"kladovka/internal/models"
)

// PublicBooking is the customer-facing shape of a booking. Device IDs
// and vendor code handles stay internal.
type PublicBooking struct {
	ID         string    `json:"id"`
	BoxID      string    `json:"box_id"`
	BoxName    *string   `json:"box_name"`
	UserName   string    `json:"user_name"`
	CreatedAt  time.Time `json:"created_at"`
	ValidUntil time.Time `json:"valid_until"`
	AccessCode string    `json:"access_code"`

	PricingMode    string  `json:"pricing_mode"`
	UnitLabel      string  `json:"unit_label"`
	BilledUnits    int     `json:"billed_units"`
	PriceForPeriod float64 `json:"price_for_period"`
}

func (s *HTTPServer) publicBooking(ctx context.Context, b models.Booking) PublicBooking {
	pub := PublicBooking{
		ID:             b.ID,
		BoxID:          b.BoxID,
		UserName:       b.UserName,
		CreatedAt:      b.CreatedAt,
		ValidUntil:     b.ValidUntil,
		AccessCode:     b.AccessCode,
		PricingMode:    b.PricingMode,
		UnitLabel:      b.UnitLabel,
		BilledUnits:    b.BilledUnits,
		PriceForPeriod: b.PriceForPeriod,
	}
	// Бокс могли переименовать или убрать импортом, имя опционально.
	if box, err := s.db.GetBox(ctx, b.BoxID); err == nil {
		pub.BoxName = &box.Name
	}
	return pub
}

// handleBookings creates bookings and lists them for operators.
// POST /api/v1/bookings creates, GET is the admin listing with filters.
func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateBooking(w, r)
	case http.MethodGet:
		s.handleListBookings(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	admin := s.isAdmin(r)
	if !admin && userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req booking.CreateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BoxID == "" {
		writeError(w, http.StatusBadRequest, "box_id is required")
		return
	}
	if req.UserName == "" {
		writeError(w, http.StatusBadRequest, "user_name is required")
		return
	}
	// Обычный клиент бронирует только от своего имени.
	if !admin {
		req.UserID = userID
	}

	b, err := s.bookings.Create(r.Context(), req)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.publicBooking(r.Context(), *b))
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	if !s.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := database.BookingFilter{
		BoxID:    q.Get("box_id"),
		UserName: q.Get("user_name"),
		UserID:   q.Get("user_id"),
	}
	if raw := q.Get("active_only"); raw != "" {
		active := raw == "true" || raw == "1"
		filter.ActiveOnly = &active
	}

	list, err := s.db.ListBookings(r.Context(), filter)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

// handleMyBookings lists the caller's own bookings in the public shape.
// GET /api/v1/bookings/my?active_only=true|false (absent = all)
func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	filter := database.BookingFilter{UserID: userID}
	if raw := r.URL.Query().Get("active_only"); raw != "" {
		active := raw == "true" || raw == "1"
		filter.ActiveOnly = &active
	}

	list, err := s.db.ListBookings(r.Context(), filter)
	if err != nil {
		s.mapError(w, err)
		return
	}
	pub := make([]PublicBooking, 0, len(list))
	for _, b := range list {
		pub = append(pub, s.publicBooking(r.Context(), b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": pub})
}

// handleBookingByID removes a booking and revokes its access codes.
// DELETE /api/v1/bookings/{id}
func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/bookings/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "booking id is required")
		return
	}

	deleted, err := s.bookings.Delete(r.Context(), id)
	if err != nil {
		s.mapError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "booking_id": id})
}

// handleCleanupRun triggers an expired-code sweep outside the regular
// schedule.
// POST /api/v1/cleanup/run
func (s *HTTPServer) handleCleanupRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.bookings.CleanupExpired(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
