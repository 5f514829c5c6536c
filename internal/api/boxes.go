package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kladovka/internal/booking"
	"kladovka/internal/config"
	"kladovka/internal/database"
	"kladovka/internal/models"
)

// maxImportBytes bounds an uploaded inventory spreadsheet.
const maxImportBytes = 10 << 20

// handleBoxes serves the box inventory.
// GET /api/v1/boxes lists every box, POST creates one.
func (s *HTTPServer) handleBoxes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		boxes, err := s.db.ListBoxes(r.Context())
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"boxes": boxes})

	case http.MethodPost:
		var box models.Box
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&box); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if box.ID == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if !box.HasTariff() {
			s.mapError(w, booking.ErrNoTariff)
			return
		}
		if box.Name == "" {
			box.Name = box.ID
		}

		created, err := s.db.CreateBox(r.Context(), box)
		if err != nil {
			s.mapError(w, err)
			return
		}

		s.auditBox(r, box.ID, "created")
		s.log.Info().Str("box_id", box.ID).Msg("box created")
		writeJSON(w, http.StatusCreated, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleBoxByID reads or updates a single box.
// GET /api/v1/boxes/{id}, PATCH /api/v1/boxes/{id}
func (s *HTTPServer) handleBoxByID(w http.ResponseWriter, r *http.Request) {
	boxID := strings.TrimPrefix(r.URL.Path, "/api/v1/boxes/")
	if boxID == "" || strings.Contains(boxID, "/") {
		writeError(w, http.StatusBadRequest, "box id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		box, err := s.db.GetBox(r.Context(), boxID)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, box)

	case http.MethodPatch:
		var upd models.BoxUpdate
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&upd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		box, err := s.db.UpdateBox(r.Context(), boxID, upd)
		if err != nil {
			s.mapError(w, err)
			return
		}

		s.auditBox(r, boxID, "updated")
		s.log.Info().Str("box_id", boxID).Msg("box updated")
		writeJSON(w, http.StatusOK, box)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAvailableBoxes lists boxes free for a rental window with their
// price quotes.
// GET /api/v1/boxes/available?start=RFC3339&duration_minutes=N
func (s *HTTPServer) handleAvailableBoxes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var start time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start; expected RFC3339")
			return
		}
		start = parsed
	}

	minutes := 60
	if raw := r.URL.Query().Get("duration_minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid duration_minutes")
			return
		}
		minutes = parsed
	}

	quotes, err := s.bookings.Available(r.Context(), start, minutes)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boxes": quotes})
}

// BoxStatus is one row of the occupancy report.
type BoxStatus struct {
	BoxID          string          `json:"box_id"`
	Name           string          `json:"name"`
	SizeM2         float64         `json:"size_m2"`
	DeviceID       string          `json:"device_id"`
	Status         string          `json:"status"`
	OccupiedUntil  *time.Time      `json:"occupied_until"`
	CurrentBooking *BookingSummary `json:"current_booking"`
}

// BookingSummary is the active booking attached to an occupied box.
type BookingSummary struct {
	BookingID  string    `json:"booking_id"`
	UserName   string    `json:"user_name"`
	ValidUntil time.Time `json:"valid_until"`
	AccessCode string    `json:"access_code"`
}

// handleBoxesStatus reports every box as free or occupied, with the
// active booking for the occupied ones.
// GET /api/v1/boxes/status
func (s *HTTPServer) handleBoxesStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := time.Now().UTC()
	statuses := []BoxStatus{}
	for _, box := range s.db.CachedBoxes() {
		st := BoxStatus{
			BoxID:    box.ID,
			Name:     box.Name,
			SizeM2:   box.SizeM2,
			DeviceID: box.DeviceID,
			Status:   "free",
		}

		active, err := s.bookings.ActiveForBox(r.Context(), box.ID, now)
		switch {
		case err == nil:
			st.Status = "occupied"
			st.OccupiedUntil = &active.ValidUntil
			st.CurrentBooking = &BookingSummary{
				BookingID:  active.ID,
				UserName:   active.UserName,
				ValidUntil: active.ValidUntil,
				AccessCode: active.AccessCode,
			}
		case !errors.Is(err, database.ErrBookingNotFound):
			s.mapError(w, err)
			return
		}

		statuses = append(statuses, st)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"boxes":      statuses,
		"updated_at": s.db.BoxesCacheTime(),
	})
}

// handleImportBoxes ingests an xlsx inventory snapshot from the request
// body and upserts it into the boxes table.
// POST /api/v1/boxes/import
func (s *HTTPServer) handleImportBoxes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	boxes, err := config.ParseBoxesXLSX(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid spreadsheet: "+err.Error())
		return
	}

	imported, err := s.db.SyncBoxes(r.Context(), boxes)
	if err != nil {
		s.mapError(w, err)
		return
	}

	s.auditBox(r, "inventory", "imported")
	s.log.Info().Int("boxes", imported).Msg("inventory imported from spreadsheet")
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported})
}

// auditBox records a box mutation. Сбой аудита не отменяет саму
// операцию, поэтому только логируем.
func (s *HTTPServer) auditBox(r *http.Request, boxID, action string) {
	actor := r.Header.Get("X-User-ID")
	if actor == "" {
		actor = "admin"
	}
	if err := s.db.RecordAudit(r.Context(), database.AuditEntityBox, boxID, action, actor, ""); err != nil {
		s.log.Warn().Err(err).Str("box_id", boxID).Msg("audit write failed")
	}
}
