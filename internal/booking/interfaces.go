package booking

import (
	"context"
	"time"

	"kladovka/internal/access"
	"kladovka/internal/models"
)

// BoxStore is the slice of the box registry the engine reads.
type BoxStore interface {
	GetBox(ctx context.Context, id string) (*models.Box, error)
	CachedBoxes() []models.Box
}

// BookingStore provides booking persistence for the engine.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	DeleteBooking(ctx context.Context, id string) error

	// ConflictingBooking returns the booking still blocking the box at
	// now, or nil when the box is free.
	ConflictingBooking(ctx context.Context, boxID string, now time.Time) (*models.Booking, error)
	ActiveBookingForBox(ctx context.Context, boxID string, at time.Time) (*models.Booking, error)
	GetBookingByCode(ctx context.Context, code string, now time.Time) (*models.Booking, error)
	ExpiredBookings(ctx context.Context, now time.Time) ([]models.Booking, error)
	OverlappingBookings(ctx context.Context, start, end time.Time) ([]models.Booking, error)
	ClearBookingHandles(ctx context.Context, id string) error
}

// AuditLog records mutations; failures are advisory.
type AuditLog interface {
	RecordAudit(ctx context.Context, entityType, entityID, action, actor, detail string) error
}

// Store bundles everything the engine needs from storage. *database.DB
// satisfies it.
type Store interface {
	BoxStore
	BookingStore
	AuditLog
}

// AccessGateway installs and reclaims vendor access codes.
type AccessGateway interface {
	IssueSharedCode(ctx context.Context, deviceIDs []string, start, end time.Time) (*access.IssueResult, error)
	RevokeCode(ctx context.Context, accessCodeID string) error
}
