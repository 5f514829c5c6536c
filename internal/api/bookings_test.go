package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kladovka/internal/access"
	"kladovka/internal/booking"
	"kladovka/internal/models"
	"kladovka/internal/seam"
)

func TestCreateBooking_AsUser(t *testing.T) {
	env := newTestServer(t)
	seedBox(t, env.db, "A-01", "lock-a01")

	env.gateway.On("IssueSharedCode",
		mock.Anything, []string{"ent-1", "lock-a01"}, mock.Anything, mock.Anything,
	).Return(issueResult("482915", "ac-ent1",
		access.DeviceHandle{DeviceID: "ent-1", AccessCodeID: "ac-ent1"},
		access.DeviceHandle{DeviceID: "lock-a01", AccessCodeID: "ac-box"},
	), nil).Once()

	w := env.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"box_id":           "A-01",
		"user_name":        "Петров",
		"duration_minutes": 120,
		// Пользователь не может бронировать от чужого имени.
		"user_id": "someone-else",
	}, map[string]string{"X-User-ID": "user-7"})
	require.Equal(t, http.StatusCreated, w.Code)

	var b PublicBooking
	decodeJSON(t, w, &b)
	assert.Equal(t, "A-01", b.BoxID)
	assert.Equal(t, "Петров", b.UserName)
	assert.Equal(t, "482915", b.AccessCode)
	require.NotNil(t, b.BoxName)
	assert.Equal(t, "Бокс A-01", *b.BoxName)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), b.ValidUntil, time.Minute)

	// Внутренние идентификаторы замков наружу не уходят.
	assert.NotContains(t, w.Body.String(), "device_id")
	assert.NotContains(t, w.Body.String(), "seam_access_code_id")

	// Привязка к пользователю сохраняется, хоть и не отдаётся клиенту.
	stored, err := env.db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, "user-7", *stored.UserID)

	env.gateway.AssertExpectations(t)
}

func TestCreateBooking_AdminKeepsBodyUserID(t *testing.T) {
	env := newTestServer(t)
	seedBox(t, env.db, "A-01", "lock-a01")

	env.gateway.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("111111", "ac-1"), nil).Once()

	w := env.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"box_id":           "A-01",
		"user_name":        "Оператор",
		"duration_minutes": 60,
		"user_id":          "client-42",
	}, adminHeaders())
	require.Equal(t, http.StatusCreated, w.Code)

	var b PublicBooking
	decodeJSON(t, w, &b)
	stored, err := env.db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, "client-42", *stored.UserID)
}

func TestCreateBooking_Anonymous(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"box_id":    "A-01",
		"user_name": "Петров",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateBooking_Validation(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name     string
		body     map[string]any
		contains string
	}{
		{"missing box_id", map[string]any{"user_name": "Петров"}, "box_id"},
		{"missing user_name", map[string]any{"box_id": "A-01"}, "user_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/bookings", tt.body,
				map[string]string{"X-User-ID": "user-7"})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}
}

func TestCreateBooking_UnknownBox(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"box_id":    "ghost",
		"user_name": "Петров",
	}, map[string]string{"X-User-ID": "user-7"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBooking_Conflict(t *testing.T) {
	env := newTestServer(t)
	seedBox(t, env.db, "A-01", "lock-a01")

	env.gateway.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("111111", "ac-1"), nil).Once()

	w := env.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"box_id":           "A-01",
		"user_name":        "Первый",
		"duration_minutes": 60,
	}, map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"box_id":           "A-01",
		"user_name":        "Второй",
		"duration_minutes": 60,
	}, map[string]string{"X-User-ID": "user-2"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already booked")

	// Второй вызов вендора не случился.
	env.gateway.AssertNumberOfCalls(t, "IssueSharedCode", 1)
}

func TestCreateBooking_VendorDown(t *testing.T) {
	env := newTestServer(t)
	seedBox(t, env.db, "A-01", "lock-a01")

	env.gateway.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &seam.APIError{Status: 503, Body: "maintenance"}).Once()

	w := env.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"box_id":    "A-01",
		"user_name": "Петров",
	}, map[string]string{"X-User-ID": "user-7"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "lock vendor unavailable")
}

func TestListBookings(t *testing.T) {
	env := newTestServer(t)
	seedBox(t, env.db, "A-01", "lock-a01")
	seedBox(t, env.db, "A-02", "lock-a02")

	now := time.Now().UTC()
	seed := func(boxID, userName string, until time.Time) {
		t.Helper()
		require.NoError(t, env.db.CreateBooking(context.Background(), &models.Booking{
			ID:         uuid.NewString(),
			UserName:   userName,
			BoxID:      boxID,
			AccessCode: "111111",
			CreatedAt:  now.Add(-time.Hour),
			ValidUntil: until,
		}))
	}
	seed("A-01", "Иванов", now.Add(time.Hour))
	seed("A-02", "Петров", now.Add(time.Hour))
	seed("A-02", "Сидоров", now.Add(-time.Minute))

	var resp struct {
		Bookings []models.Booking `json:"bookings"`
	}

	w := env.do(t, http.MethodGet, "/api/v1/bookings", nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	assert.Len(t, resp.Bookings, 3)

	w = env.do(t, http.MethodGet, "/api/v1/bookings?box_id=A-02", nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	assert.Len(t, resp.Bookings, 2)

	w = env.do(t, http.MethodGet, "/api/v1/bookings?box_id=A-02&active_only=true", nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	require.Len(t, resp.Bookings, 1)
	assert.Equal(t, "Петров", resp.Bookings[0].UserName)

	// Фильтр по имени регистронезависимый.
	w = env.do(t, http.MethodGet, "/api/v1/bookings?user_name=иванов", nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	require.Len(t, resp.Bookings, 1)
	assert.Equal(t, "A-01", resp.Bookings[0].BoxID)
}

func TestListBookings_NeedsAdmin(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/bookings", nil,
		map[string]string{"X-User-ID": "user-7"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMyBookings(t *testing.T) {
	env := newTestServer(t)
	seedBox(t, env.db, "A-01", "lock-a01")

	now := time.Now().UTC()
	seed := func(userID string, until time.Time) {
		t.Helper()
		uid := userID
		require.NoError(t, env.db.CreateBooking(context.Background(), &models.Booking{
			ID:         uuid.NewString(),
			UserName:   "Клиент " + userID,
			BoxID:      "A-01",
			AccessCode: "111111",
			CreatedAt:  now.Add(-time.Hour),
			ValidUntil: until,
			UserID:     &uid,
		}))
	}
	seed("user-1", now.Add(time.Hour))
	seed("user-1", now.Add(-time.Minute))
	seed("user-2", now.Add(time.Hour))

	var resp struct {
		Bookings []PublicBooking `json:"bookings"`
	}

	w := env.do(t, http.MethodGet, "/api/v1/bookings/my", nil,
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	assert.Len(t, resp.Bookings, 2)

	w = env.do(t, http.MethodGet, "/api/v1/bookings/my?active_only=true", nil,
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	require.Len(t, resp.Bookings, 1)
	assert.True(t, resp.Bookings[0].ValidUntil.After(now))

	w = env.do(t, http.MethodGet, "/api/v1/bookings/my?active_only=false", nil,
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	require.Len(t, resp.Bookings, 1)
	assert.True(t, resp.Bookings[0].ValidUntil.Before(now))

	w = env.do(t, http.MethodGet, "/api/v1/bookings/my", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeleteBooking(t *testing.T) {
	env := newTestServer(t)
	seedBox(t, env.db, "A-01", "lock-a01")

	env.gateway.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("111111", "ac-1",
			access.DeviceHandle{DeviceID: "ent-1", AccessCodeID: "ac-1"},
			access.DeviceHandle{DeviceID: "lock-a01", AccessCodeID: "ac-2"},
		), nil).Once()
	env.gateway.On("RevokeCode", mock.Anything, "ac-1").Return(nil).Once()
	env.gateway.On("RevokeCode", mock.Anything, "ac-2").Return(nil).Once()

	w := env.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"box_id":           "A-01",
		"user_name":        "Петров",
		"duration_minutes": 60,
	}, adminHeaders())
	require.Equal(t, http.StatusCreated, w.Code)

	var b PublicBooking
	decodeJSON(t, w, &b)

	w = env.do(t, http.MethodDelete, "/api/v1/bookings/"+b.ID, nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
	assert.Contains(t, w.Body.String(), b.ID)

	// Запись удалена, бокс снова можно бронировать.
	_, err := env.db.GetBooking(context.Background(), b.ID)
	assert.Error(t, err)

	env.gateway.AssertExpectations(t)
}

func TestDeleteBooking_NotFound(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodDelete, "/api/v1/bookings/"+uuid.NewString(), nil, adminHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCleanupRun(t *testing.T) {
	env := newTestServer(t)
	seedBox(t, env.db, "A-01", "lock-a01")

	primary := "ac-old"
	require.NoError(t, env.db.CreateBooking(context.Background(), &models.Booking{
		ID:                     uuid.NewString(),
		UserName:               "Просроченный",
		BoxID:                  "A-01",
		AccessCode:             "111111",
		CreatedAt:              time.Now().UTC().Add(-2 * time.Hour),
		ValidUntil:             time.Now().UTC().Add(-time.Hour),
		SeamAccessCodeID:       &primary,
		ExtraSeamAccessCodeIDs: []string{"ac-extra"},
	}))

	env.gateway.On("RevokeCode", mock.Anything, "ac-old").Return(nil).Once()
	env.gateway.On("RevokeCode", mock.Anything, "ac-extra").Return(nil).Once()

	w := env.do(t, http.MethodPost, "/api/v1/cleanup/run", nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)

	var stats booking.CleanupStats
	decodeJSON(t, w, &stats)
	assert.Equal(t, 1, stats.Checked)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.PrimaryDeleted)
	assert.Equal(t, 1, stats.ExtraDeleted)

	env.gateway.AssertExpectations(t)
}
