package booking

import (
	"context"
	"fmt"
	"time"

	"kladovka/internal/events"
	"kladovka/internal/metrics"
)

// CleanupStats summarizes one expired booking sweep.
type CleanupStats struct {
	Checked        int `json:"expired_bookings_checked"`
	Updated        int `json:"bookings_updated"`
	PrimaryDeleted int `json:"primary_codes_deleted"`
	ExtraDeleted   int `json:"extra_codes_deleted"`
}

// CleanupExpired reclaims vendor access codes from bookings whose
// window has passed. Expired records stay in the store as history,
// only their code handles are removed. Every handle is revoked
// independently; the deleted counters count vendor successes, but the
// handles come off the record either way so a dead handle can't wedge
// the sweep forever.
func (s *Service) CleanupExpired(ctx context.Context) (CleanupStats, error) {
	now := time.Now().UTC()
	expired, err := s.store.ExpiredBookings(ctx, now)
	if err != nil {
		return CleanupStats{}, fmt.Errorf("listing expired bookings: %w", err)
	}

	stats := CleanupStats{Checked: len(expired)}
	for i := range expired {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		b := &expired[i]
		if !b.HasVendorCodes() {
			continue
		}

		if b.SeamAccessCodeID != nil {
			if err := s.gateway.RevokeCode(ctx, *b.SeamAccessCodeID); err != nil {
				s.logger.Error().Err(err).
					Str("booking_id", b.ID).
					Msg("failed to revoke expired primary code")
			} else {
				stats.PrimaryDeleted++
			}
		}
		for _, handle := range b.ExtraSeamAccessCodeIDs {
			if err := s.gateway.RevokeCode(ctx, handle); err != nil {
				s.logger.Error().Err(err).
					Str("booking_id", b.ID).
					Str("access_code_id", handle).
					Msg("failed to revoke expired extra code")
			} else {
				stats.ExtraDeleted++
			}
		}

		if err := s.store.ClearBookingHandles(ctx, b.ID); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("failed to clear code handles")
			continue
		}
		stats.Updated++
	}

	metrics.IncCleanupRun()
	metrics.AddCleanupCodesDeleted(stats.PrimaryDeleted + stats.ExtraDeleted)

	if stats.Updated > 0 {
		s.publish(events.TypeCleanupCompleted, stats)
	}

	s.logger.Info().
		Int("checked", stats.Checked).
		Int("updated", stats.Updated).
		Int("primary_deleted", stats.PrimaryDeleted).
		Int("extra_deleted", stats.ExtraDeleted).
		Msg("expired booking cleanup finished")

	return stats, nil
}
