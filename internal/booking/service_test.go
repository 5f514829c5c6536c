package booking

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kladovka/internal/access"
	"kladovka/internal/database"
	"kladovka/internal/models"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) IssueSharedCode(ctx context.Context, deviceIDs []string, start, end time.Time) (*access.IssueResult, error) {
	args := m.Called(ctx, deviceIDs, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*access.IssueResult), args.Error(1)
}

func (m *mockGateway) RevokeCode(ctx context.Context, accessCodeID string) error {
	args := m.Called(ctx, accessCodeID)
	return args.Error(0)
}

func testStore(t *testing.T) *database.DB {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "kladovka.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestService(t *testing.T, db *database.DB, gw AccessGateway, entrances []string) *Service {
	t.Helper()

	logger := zerolog.Nop()
	return NewService(db, gw, entrances, nil, nil, &logger)
}

func seedBox(t *testing.T, db *database.DB, id, deviceID string) models.Box {
	t.Helper()

	box := models.Box{
		ID:         id,
		Name:       "Бокс " + id,
		SizeM2:     10,
		DeviceID:   deviceID,
		AllowDaily: true,
	}
	_, err := db.CreateBox(context.Background(), box)
	require.NoError(t, err)
	return box
}

func issueResult(code, primaryHandle string, extras ...access.DeviceHandle) *access.IssueResult {
	return &access.IssueResult{
		Code:          code,
		PrimaryHandle: primaryHandle,
		Extra:         extras,
	}
}

func TestCreate_InstallsCodeAcrossDevices(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, []string{"ent-1", "ent-2", "lock-a01"}, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-ent1",
			access.DeviceHandle{DeviceID: "ent-2", AccessCodeID: "ac-ent2"},
			access.DeviceHandle{DeviceID: "lock-a01", AccessCodeID: "ac-box"},
		), nil).Once()

	svc := newTestService(t, db, gw, []string{"ent-1", "ent-2"})
	b, err := svc.Create(context.Background(), CreateRequest{
		BoxID:           "A-01",
		UserName:        "Анна",
		DurationMinutes: 120,
		UserID:          "tg-100",
	})
	require.NoError(t, err)
	gw.AssertExpectations(t)

	assert.Equal(t, "483921", b.AccessCode)
	assert.Equal(t, "lock-a01", b.DeviceID, "the box primary device is snapshotted")
	// Первым кодируется вход, поэтому primary handle принадлежит входной двери
	require.NotNil(t, b.SeamAccessCodeID)
	assert.Equal(t, "ac-ent1", *b.SeamAccessCodeID)
	assert.Equal(t, []string{"ent-1", "ent-2"}, b.ExtraDeviceIDs)
	assert.Equal(t, []string{"ac-ent2", "ac-box"}, b.ExtraSeamAccessCodeIDs)

	assert.Equal(t, "hourly", b.PricingMode)
	assert.Equal(t, 2, b.BilledUnits)
	assert.Equal(t, 10.0, b.PriceForPeriod, "2h * 0.5/m2/h * 10m2")
	assert.WithinDuration(t, b.CreatedAt.Add(2*time.Hour), b.ValidUntil, time.Second)

	stored, err := db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ExtraSeamAccessCodeIDs, stored.ExtraSeamAccessCodeIDs)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, "tg-100", *stored.UserID)
}

func TestCreate_NoEntrancesConfigured(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, []string{"lock-a01"}, mock.Anything, mock.Anything).
		Return(issueResult("771040", "ac-box"), nil).Once()

	svc := newTestService(t, db, gw, nil)
	b, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Борис", DurationMinutes: 60})
	require.NoError(t, err)

	require.NotNil(t, b.SeamAccessCodeID)
	assert.Equal(t, "ac-box", *b.SeamAccessCodeID)
	assert.Empty(t, b.ExtraDeviceIDs)
	assert.Empty(t, b.ExtraSeamAccessCodeIDs)
}

func TestCreate_DeduplicatesBoxDevice(t *testing.T) {
	db := testStore(t)
	// Примарный замок бокса совпадает со входной дверью
	seedBox(t, db, "A-01", "ent-1")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, []string{"ent-1", "ent-2"}, mock.Anything, mock.Anything).
		Return(issueResult("112233", "ac-ent1",
			access.DeviceHandle{DeviceID: "ent-2", AccessCodeID: "ac-ent2"},
		), nil).Once()

	svc := newTestService(t, db, gw, []string{"ent-1", "ent-2"})
	b, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Вера", DurationMinutes: 60})
	require.NoError(t, err)
	gw.AssertExpectations(t)

	assert.Equal(t, []string{"ent-2"}, b.ExtraDeviceIDs)
	assert.Equal(t, []string{"ac-ent2"}, b.ExtraSeamAccessCodeIDs)
}

func TestCreate_BoxNotFound(t *testing.T) {
	db := testStore(t)
	gw := new(mockGateway)

	svc := newTestService(t, db, gw, nil)
	_, err := svc.Create(context.Background(), CreateRequest{BoxID: "ghost", UserName: "Анна", DurationMinutes: 60})
	assert.ErrorIs(t, err, database.ErrBoxNotFound)
	gw.AssertNumberOfCalls(t, "IssueSharedCode", 0)
}

func TestCreate_BoxAlreadyBooked(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-1"), nil).Once()

	svc := newTestService(t, db, gw, nil)
	first, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 120})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Борис", DurationMinutes: 60})
	var booked *BoxBookedError
	require.ErrorAs(t, err, &booked)
	assert.Equal(t, "A-01", booked.BoxID)
	assert.True(t, booked.Until.Equal(first.ValidUntil))
	assert.Contains(t, err.Error(), "A-01")

	gw.AssertNumberOfCalls(t, "IssueSharedCode", 1)
}

func TestCreate_ExpiredBookingDoesNotBlock(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	// Старая бронь, закончившаяся час назад
	old := models.Booking{
		ID:         uuid.NewString(),
		UserName:   "Анна",
		BoxID:      "A-01",
		DeviceID:   "lock-a01",
		AccessCode: "000000",
		CreatedAt:  time.Now().UTC().Add(-3 * time.Hour),
		ValidUntil: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, db.CreateBooking(context.Background(), &old))

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-1"), nil).Once()

	svc := newTestService(t, db, gw, nil)
	_, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Борис", DurationMinutes: 60})
	assert.NoError(t, err)
}

func TestCreate_NoDevicesAnywhere(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "")

	gw := new(mockGateway)
	svc := newTestService(t, db, gw, nil)

	_, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	assert.ErrorIs(t, err, access.ErrNoDevices)
	gw.AssertNumberOfCalls(t, "IssueSharedCode", 0)
}

func TestCreate_VendorFailureNothingPersisted(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("device offline")).Once()

	svc := newTestService(t, db, gw, nil)
	_, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A-01")

	bookings, err := db.ListBookings(context.Background(), database.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestCreate_PersistFailureRollsBackCodes(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-1",
			access.DeviceHandle{DeviceID: "lock-a01", AccessCodeID: "ac-2"},
		), nil).Once()
	gw.On("RevokeCode", mock.Anything, "ac-1").Return(nil).Once()
	gw.On("RevokeCode", mock.Anything, "ac-2").Return(nil).Once()

	store := &failingStore{Store: db}
	logger := zerolog.Nop()
	svc := NewService(store, gw, []string{"ent-1"}, nil, nil, &logger)

	_, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	require.Error(t, err)
	gw.AssertExpectations(t)
}

type failingStore struct {
	Store
}

func (f *failingStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	return errors.New("disk full")
}

func TestCreate_PartialExtraFailureStillPersists(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	res := issueResult("483921", "ac-ent1",
		access.DeviceHandle{DeviceID: "lock-a01", AccessCodeID: "ac-box"},
	)
	res.Failed = []access.DeviceFailure{{DeviceID: "ent-2", Err: errors.New("offline")}}
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(res, nil).Once()

	svc := newTestService(t, db, gw, []string{"ent-1", "ent-2"})
	b, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	require.NoError(t, err, "a booking with a working box lock is still usable")

	// Списки расходятся: устройств два, а код встал только на одно
	assert.Len(t, b.ExtraDeviceIDs, 2)
	assert.Len(t, b.ExtraSeamAccessCodeIDs, 1)

	stored, err := db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ac-box"}, stored.ExtraSeamAccessCodeIDs)
}

func TestCreate_ZeroDurationClampedToMinute(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-1"), nil).Once()

	svc := newTestService(t, db, gw, nil)
	b, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 0})
	require.NoError(t, err)

	assert.WithinDuration(t, b.CreatedAt.Add(time.Minute), b.ValidUntil, time.Second)
	assert.Equal(t, 1, b.BilledUnits)
}

func TestDelete(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-ent1",
			access.DeviceHandle{DeviceID: "lock-a01", AccessCodeID: "ac-box"},
		), nil).Once()
	gw.On("RevokeCode", mock.Anything, "ac-ent1").Return(nil).Once()
	gw.On("RevokeCode", mock.Anything, "ac-box").Return(nil).Once()

	svc := newTestService(t, db, gw, []string{"ent-1"})
	b, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	require.NoError(t, err)

	deleted, err := svc.Delete(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	gw.AssertExpectations(t)

	_, err = db.GetBooking(context.Background(), b.ID)
	assert.ErrorIs(t, err, database.ErrBookingNotFound)
}

func TestDelete_UnknownBookingNoVendorCalls(t *testing.T) {
	db := testStore(t)
	gw := new(mockGateway)

	svc := newTestService(t, db, gw, nil)
	deleted, err := svc.Delete(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, deleted)
	gw.AssertNumberOfCalls(t, "RevokeCode", 0)
}

func TestDelete_RevokeFailureStillRemovesRecord(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-1"), nil).Once()
	gw.On("RevokeCode", mock.Anything, "ac-1").Return(errors.New("already gone")).Once()

	svc := newTestService(t, db, gw, nil)
	b, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	require.NoError(t, err)

	deleted, err := svc.Delete(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = db.GetBooking(context.Background(), b.ID)
	assert.ErrorIs(t, err, database.ErrBookingNotFound)
}

func TestAvailable(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")
	seedBox(t, db, "B-02", "lock-b02")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-1"), nil).Once()

	svc := newTestService(t, db, gw, nil)
	_, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 120})
	require.NoError(t, err)

	quotes, err := svc.Available(context.Background(), time.Time{}, 60)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "B-02", quotes[0].Box.ID)
	assert.Equal(t, "daily", quotes[0].Quote.Mode)
	assert.Equal(t, 80.0, quotes[0].Quote.PriceForPeriod, "1d * 8.0/m2/d * 10m2")
}

func TestAvailable_FutureWindowLooserThanCreateGuard(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-1"), nil).Once()

	svc := newTestService(t, db, gw, nil)
	_, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	require.NoError(t, err)

	// Окно целиком за пределами текущей брони: в списке свободных бокс
	// есть, а немедленное создание всё равно отклоняется
	future := time.Now().UTC().Add(2 * time.Hour)
	quotes, err := svc.Available(context.Background(), future, 60)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "A-01", quotes[0].Box.ID)

	_, err = svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Борис", DurationMinutes: 60})
	var booked *BoxBookedError
	assert.ErrorAs(t, err, &booked)
}

func TestActiveForBox(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-1"), nil).Once()

	svc := newTestService(t, db, gw, nil)
	b, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	require.NoError(t, err)

	got, err := svc.ActiveForBox(context.Background(), "A-01", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = svc.ActiveForBox(context.Background(), "A-01", time.Now().UTC().Add(2*time.Hour))
	assert.ErrorIs(t, err, database.ErrBookingNotFound)
}

func TestValidateCode(t *testing.T) {
	db := testStore(t)
	seedBox(t, db, "A-01", "lock-a01")

	gw := new(mockGateway)
	gw.On("IssueSharedCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(issueResult("483921", "ac-ent1",
			access.DeviceHandle{DeviceID: "lock-a01", AccessCodeID: "ac-box"},
		), nil).Once()

	svc := newTestService(t, db, gw, []string{"ent-1"})
	b, err := svc.Create(context.Background(), CreateRequest{BoxID: "A-01", UserName: "Анна", DurationMinutes: 60})
	require.NoError(t, err)

	t.Run("no device check", func(t *testing.T) {
		v, err := svc.ValidateCode(context.Background(), "483921", "")
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Equal(t, b.ID, v.BookingID)
		assert.Equal(t, "A-01", v.BoxID)
		assert.Equal(t, "Анна", v.UserName)
		require.NotNil(t, v.ValidUntil)
		assert.True(t, v.ValidUntil.Equal(b.ValidUntil))
	})

	t.Run("box lock", func(t *testing.T) {
		v, err := svc.ValidateCode(context.Background(), "483921", "lock-a01")
		require.NoError(t, err)
		assert.True(t, v.Valid)
	})

	t.Run("entrance door", func(t *testing.T) {
		v, err := svc.ValidateCode(context.Background(), "483921", "ent-1")
		require.NoError(t, err)
		assert.True(t, v.Valid)
	})

	t.Run("foreign device", func(t *testing.T) {
		v, err := svc.ValidateCode(context.Background(), "483921", "lock-z99")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Empty(t, v.BoxID)
	})

	t.Run("unknown code", func(t *testing.T) {
		v, err := svc.ValidateCode(context.Background(), "999999", "")
		require.NoError(t, err)
		assert.False(t, v.Valid)
	})
}

func TestValidateCode_ExpiredCode(t *testing.T) {
	db := testStore(t)

	expired := models.Booking{
		ID:         uuid.NewString(),
		UserName:   "Анна",
		BoxID:      "A-01",
		DeviceID:   "lock-a01",
		AccessCode: "483921",
		CreatedAt:  time.Now().UTC().Add(-2 * time.Hour),
		ValidUntil: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, db.CreateBooking(context.Background(), &expired))

	svc := newTestService(t, db, new(mockGateway), nil)
	v, err := svc.ValidateCode(context.Background(), "483921", "")
	require.NoError(t, err)
	assert.False(t, v.Valid)
}
