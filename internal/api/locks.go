package api

import (
	"encoding/json"
	"net/http"
)

// ValidateCodeRequest is what a lock controller sends when somebody
// punches a code on a keypad.
type ValidateCodeRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"device_id,omitempty"`
}

// handleValidateCode checks a PIN entered on a lock.
// POST /api/v1/locks/validate
func (s *HTTPServer) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ValidateCodeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	result, err := s.bookings.ValidateCode(r.Context(), req.Code, req.DeviceID)
	if err != nil {
		s.mapError(w, err)
		return
	}

	// Невалидный код отдаем обычным ответом, а не ошибкой HTTP.
	writeJSON(w, http.StatusOK, result)
}

// handleLockDevices lists the vendor device inventory for controllers.
// GET /api/v1/locks/devices
func (s *HTTPServer) handleLockDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}
