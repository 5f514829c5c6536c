// Package booking drives the rental lifecycle: occupancy checks,
// pricing, access code issuance and the expired booking sweep.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kladovka/internal/access"
	"kladovka/internal/database"
	"kladovka/internal/events"
	"kladovka/internal/metrics"
	"kladovka/internal/models"
	"kladovka/internal/notify"
	"kladovka/internal/pricing"
)

// CreateRequest carries the input of a booking creation.
type CreateRequest struct {
	BoxID           string `json:"box_id"`
	UserName        string `json:"user_name"`
	DurationMinutes int    `json:"duration_minutes"`
	UserID          string `json:"user_id,omitempty"`
}

// BoxQuote pairs a free box with the price of the requested window.
type BoxQuote struct {
	Box   models.Box    `json:"box"`
	Quote pricing.Quote `json:"quote"`
}

// CodeValidation is the answer to a lock controller asking about a code.
type CodeValidation struct {
	Valid      bool       `json:"valid"`
	BookingID  string     `json:"booking_id,omitempty"`
	BoxID      string     `json:"box_id,omitempty"`
	UserName   string     `json:"user_name,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Service implements the booking lifecycle on top of the store and the
// device access gateway.
type Service struct {
	store     Store
	gateway   AccessGateway
	entrances []string
	notifier  *notify.Notifier
	bus       *events.EventBus
	logger    zerolog.Logger

	locks boxLocks
}

// NewService creates the booking engine. entranceIDs is the ordered
// list of shared entrance devices every booking code is installed on;
// notifier and bus may be nil.
func NewService(
	store Store,
	gateway AccessGateway,
	entranceIDs []string,
	notifier *notify.Notifier,
	bus *events.EventBus,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		entrances: entranceIDs,
		notifier:  notifier,
		bus:       bus,
		logger:    logger.With().Str("component", "booking").Logger(),
	}
}

// Create books a box for [now, now+duration). One vendor code is
// installed on the entrance devices and the box lock; a hard failure on
// the first device aborts the booking with nothing persisted.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	lock := s.locks.forBox(req.BoxID)
	lock.Lock()
	defer lock.Unlock()

	box, err := s.store.GetBox(ctx, req.BoxID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	existing, err := s.store.ConflictingBooking(ctx, req.BoxID, now)
	if err != nil {
		return nil, fmt.Errorf("checking box occupancy: %w", err)
	}
	if existing != nil {
		return nil, &BoxBookedError{BoxID: req.BoxID, Until: existing.ValidUntil}
	}

	minutes := req.DurationMinutes
	if minutes < 1 {
		minutes = 1
	}
	validUntil := now.Add(time.Duration(minutes) * time.Minute)
	quote := pricing.ForBox(*box, req.DurationMinutes)

	devices := s.deviceList(box.DeviceID)
	if len(devices) == 0 {
		return nil, access.ErrNoDevices
	}

	issued, err := s.gateway.IssueSharedCode(ctx, devices, now, validUntil)
	if err != nil {
		return nil, fmt.Errorf("issuing access code for box %s: %w", req.BoxID, err)
	}

	// The code always lands on the entrances first, so the stored
	// primary handle belongs to the first issuance device, not
	// necessarily to the box lock. Validation never reads the handle
	// alignment; cleanup reclaims handles by value.
	extraDevices := make([]string, 0, len(devices))
	for _, id := range devices {
		if id != box.DeviceID {
			extraDevices = append(extraDevices, id)
		}
	}
	extraHandles := make([]string, 0, len(issued.Extra))
	for _, h := range issued.Extra {
		extraHandles = append(extraHandles, h.AccessCodeID)
	}
	if len(extraHandles) != len(extraDevices) {
		s.logger.Error().
			Str("box_id", box.ID).
			Int("extra_devices", len(extraDevices)).
			Int("extra_handles", len(extraHandles)).
			Msg("extra device and code handle counts diverge")
		s.notifier.Alert("Бокс %s: код не установлен на %d из %d устройств",
			box.ID, len(issued.Failed), len(devices))
	}

	primaryHandle := issued.PrimaryHandle
	b := &models.Booking{
		ID:                     uuid.NewString(),
		UserName:               req.UserName,
		BoxID:                  box.ID,
		DeviceID:               box.DeviceID,
		ExtraDeviceIDs:         extraDevices,
		AccessCode:             issued.Code,
		SeamAccessCodeID:       &primaryHandle,
		ExtraSeamAccessCodeIDs: extraHandles,
		CreatedAt:              now,
		ValidUntil:             validUntil,
		PricingMode:            quote.Mode,
		UnitLabel:              quote.UnitLabel,
		BilledUnits:            quote.BilledUnits,
		PriceForPeriod:         quote.PriceForPeriod,
	}
	if req.UserID != "" {
		userID := req.UserID
		b.UserID = &userID
	}

	if err := s.store.CreateBooking(ctx, b); err != nil {
		// Коды уже установлены на замках, снимаем их обратно
		s.revokeIssued(ctx, issued)
		return nil, fmt.Errorf("persisting booking: %w", err)
	}

	s.audit(ctx, database.AuditEntityBooking, b.ID, "created", req.UserName,
		fmt.Sprintf("box %s until %s", b.BoxID, b.ValidUntil.Format(time.RFC3339)))
	metrics.IncBookingCreated(quote.Mode)
	s.publish(events.TypeBookingCreated, b)

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("box_id", b.BoxID).
		Str("pricing_mode", b.PricingMode).
		Float64("price", b.PriceForPeriod).
		Time("valid_until", b.ValidUntil).
		Msg("booking created")

	return b, nil
}

// Delete removes a booking ahead of its expiry. It reports false when
// the booking is unknown; no vendor calls are made in that case.
// Revocation is best-effort: the record goes away even when a lock
// refuses to release its code.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	b, err := s.store.GetBooking(ctx, id)
	if errors.Is(err, database.ErrBookingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.revokeHandles(ctx, b)

	if err := s.store.DeleteBooking(ctx, id); err != nil {
		if errors.Is(err, database.ErrBookingNotFound) {
			return false, nil
		}
		return false, err
	}

	s.audit(ctx, database.AuditEntityBooking, b.ID, "deleted", "", "box "+b.BoxID)
	metrics.IncBookingDeleted()
	s.publish(events.TypeBookingDeleted, b)

	s.logger.Info().Str("booking_id", id).Str("box_id", b.BoxID).Msg("booking deleted")
	return true, nil
}

// Available lists boxes free for the whole window [start, start+duration)
// together with a price quote. A zero start means now.
func (s *Service) Available(ctx context.Context, start time.Time, durationMinutes int) ([]BoxQuote, error) {
	if start.IsZero() {
		start = time.Now().UTC()
	}
	minutes := durationMinutes
	if minutes < 1 {
		minutes = 1
	}
	end := start.Add(time.Duration(minutes) * time.Minute)

	overlapping, err := s.store.OverlappingBookings(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing overlapping bookings: %w", err)
	}
	busy := make(map[string]struct{}, len(overlapping))
	for _, b := range overlapping {
		busy[b.BoxID] = struct{}{}
	}

	var out []BoxQuote
	for _, box := range s.store.CachedBoxes() {
		if _, ok := busy[box.ID]; ok {
			continue
		}
		out = append(out, BoxQuote{Box: box, Quote: pricing.ForBox(box, durationMinutes)})
	}
	return out, nil
}

// ActiveForBox returns the booking covering the box at the given
// instant, boundaries inclusive. A zero instant means now.
func (s *Service) ActiveForBox(ctx context.Context, boxID string, at time.Time) (*models.Booking, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.store.ActiveBookingForBox(ctx, boxID, at)
}

// ValidateCode answers a lock controller: is this code good right now,
// and on this device? An unknown or expired code is not an error, just
// invalid.
func (s *Service) ValidateCode(ctx context.Context, code, deviceID string) (CodeValidation, error) {
	b, err := s.store.GetBookingByCode(ctx, code, time.Now().UTC())
	if errors.Is(err, database.ErrBookingNotFound) {
		return CodeValidation{}, nil
	}
	if err != nil {
		return CodeValidation{}, err
	}

	if deviceID != "" && !b.CoversDevice(deviceID) {
		return CodeValidation{}, nil
	}

	validUntil := b.ValidUntil
	return CodeValidation{
		Valid:      true,
		BookingID:  b.ID,
		BoxID:      b.BoxID,
		UserName:   b.UserName,
		ValidUntil: &validUntil,
	}, nil
}

// deviceList builds the issuance order: entrance devices as configured,
// box primary last, first occurrence wins on duplicates.
func (s *Service) deviceList(primary string) []string {
	candidates := make([]string, 0, len(s.entrances)+1)
	candidates = append(candidates, s.entrances...)
	candidates = append(candidates, primary)

	seen := make(map[string]struct{}, len(candidates))
	devices := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		devices = append(devices, id)
	}
	return devices
}

// revokeHandles reclaims every vendor handle a booking carries.
func (s *Service) revokeHandles(ctx context.Context, b *models.Booking) {
	if b.SeamAccessCodeID != nil {
		if err := s.gateway.RevokeCode(ctx, *b.SeamAccessCodeID); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("failed to revoke primary access code")
		}
	}
	for _, handle := range b.ExtraSeamAccessCodeIDs {
		if err := s.gateway.RevokeCode(ctx, handle); err != nil {
			s.logger.Error().Err(err).
				Str("booking_id", b.ID).
				Str("access_code_id", handle).
				Msg("failed to revoke extra access code")
		}
	}
}

// revokeIssued rolls back a fresh issuance that could not be persisted.
func (s *Service) revokeIssued(ctx context.Context, issued *access.IssueResult) {
	if err := s.gateway.RevokeCode(ctx, issued.PrimaryHandle); err != nil {
		s.logger.Error().Err(err).Msg("failed to roll back primary access code")
	}
	for _, h := range issued.Extra {
		if err := s.gateway.RevokeCode(ctx, h.AccessCodeID); err != nil {
			s.logger.Error().Err(err).Str("access_code_id", h.AccessCodeID).Msg("failed to roll back extra access code")
		}
	}
}

func (s *Service) audit(ctx context.Context, entityType, entityID, action, actor, detail string) {
	if err := s.store.RecordAudit(ctx, entityType, entityID, action, actor, detail); err != nil {
		s.logger.Warn().Err(err).Str("entity_id", entityID).Msg("failed to record audit entry")
	}
}

func (s *Service) publish(eventType string, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.New(eventType, payload))
}

// boxLocks hands out one mutex per box id so concurrent create calls
// for the same box serialize while different boxes proceed in parallel.
type boxLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *boxLocks) forBox(boxID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[boxID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[boxID] = m
	}
	return m
}
