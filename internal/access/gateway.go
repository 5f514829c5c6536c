// Package access issues and revokes shared access codes across sets of
// physical devices.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kladovka/internal/metrics"
	"kladovka/internal/seam"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoDevices is returned when an issue request carries no devices at all.
var ErrNoDevices = errors.New("no devices to set an access code on")

// VendorClient is the slice of the lock vendor API the gateway needs.
type VendorClient interface {
	CreateAccessCode(ctx context.Context, deviceID string, startsAt, endsAt time.Time, code string) (*seam.AccessCode, error)
	DeleteAccessCode(ctx context.Context, accessCodeID string) error
	ListDevices(ctx context.Context) ([]seam.Device, error)
}

// DeviceHandle pairs a device with the vendor handle of the code set on it.
type DeviceHandle struct {
	DeviceID     string `json:"device_id"`
	AccessCodeID string `json:"access_code_id"`
}

// DeviceFailure records a device that did not get the code.
type DeviceFailure struct {
	DeviceID string `json:"device_id"`
	Err      error  `json:"-"`
}

// IssueResult is the outcome of a shared-code issuance. Failed devices
// are reported, not raised: a booking with a working box lock is still
// usable when an entrance door refused the code.
type IssueResult struct {
	Code          string
	PrimaryHandle string
	Extra         []DeviceHandle
	Failed        []DeviceFailure
}

const (
	createAttempts = 2
	retryDelay     = 500 * time.Millisecond
)

// Gateway orchestrates one shared code across an ordered device set.
type Gateway struct {
	vendor VendorClient
	logger zerolog.Logger

	redis      *redis.Client
	cacheTTL   time.Duration
	retryDelay time.Duration
}

// NewGateway creates a device access gateway.
func NewGateway(vendor VendorClient, logger zerolog.Logger) *Gateway {
	return &Gateway{
		vendor:     vendor,
		logger:     logger.With().Str("component", "access").Logger(),
		retryDelay: retryDelay,
	}
}

// UseRedisCache configures optional Redis caching for the device list.
func (g *Gateway) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	g.redis = redisClient
	g.cacheTTL = ttl
}

// IssueSharedCode sets one code on every device for the given window.
// The vendor generates the code on the first device; the same code is
// then set verbatim on the rest. A failure on the first device aborts,
// failures on the others are collected in the result.
func (g *Gateway) IssueSharedCode(ctx context.Context, deviceIDs []string, start, end time.Time) (*IssueResult, error) {
	if len(deviceIDs) == 0 {
		return nil, ErrNoDevices
	}

	primary := deviceIDs[0]
	first, err := g.createWithRetry(ctx, primary, start, end, "")
	if err != nil {
		metrics.IncCodeIssued("error")
		return nil, fmt.Errorf("creating access code on device %s: %w", primary, err)
	}
	metrics.IncCodeIssued("ok")

	result := &IssueResult{
		Code:          first.Code,
		PrimaryHandle: first.AccessCodeID,
	}

	for _, deviceID := range deviceIDs[1:] {
		ac, err := g.createWithRetry(ctx, deviceID, start, end, first.Code)
		if err != nil {
			g.logger.Error().Err(err).
				Str("device_id", deviceID).
				Msg("failed to set shared code on extra device")
			metrics.IncCodeIssued("error")
			result.Failed = append(result.Failed, DeviceFailure{DeviceID: deviceID, Err: err})
			continue
		}
		metrics.IncCodeIssued("ok")
		result.Extra = append(result.Extra, DeviceHandle{
			DeviceID:     deviceID,
			AccessCodeID: ac.AccessCodeID,
		})
	}

	g.logger.Info().
		Str("primary_device", primary).
		Int("extra_devices", len(result.Extra)).
		Int("failed_devices", len(result.Failed)).
		Msg("shared access code issued")

	return result, nil
}

// RevokeCode deletes one code by its vendor handle. Callers revoke
// handles one by one so a single dead handle can't block the rest.
func (g *Gateway) RevokeCode(ctx context.Context, accessCodeID string) error {
	if err := g.vendor.DeleteAccessCode(ctx, accessCodeID); err != nil {
		metrics.IncCodeRevoked("error")
		return fmt.Errorf("deleting access code %s: %w", accessCodeID, err)
	}

	metrics.IncCodeRevoked("ok")
	g.logger.Info().Str("access_code_id", accessCodeID).Msg("access code revoked")
	return nil
}

// ListDevices returns the vendor's device inventory, cached in Redis
// when caching is configured.
func (g *Gateway) ListDevices(ctx context.Context) ([]seam.Device, error) {
	cacheKey := "seam:devices"

	var devices []seam.Device
	if g.readCache(ctx, cacheKey, &devices) {
		return devices, nil
	}

	devices, err := g.vendor.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	g.writeCache(ctx, cacheKey, devices)
	return devices, nil
}

func (g *Gateway) readCache(ctx context.Context, key string, out any) bool {
	if g.redis == nil || g.cacheTTL <= 0 {
		return false
	}
	val, err := g.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (g *Gateway) writeCache(ctx context.Context, key string, val any) {
	if g.redis == nil || g.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = g.redis.Set(ctx, key, data, g.cacheTTL).Err()
}

func (g *Gateway) createWithRetry(ctx context.Context, deviceID string, start, end time.Time, code string) (*seam.AccessCode, error) {
	var lastErr error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		ac, err := g.vendor.CreateAccessCode(ctx, deviceID, start, end, code)
		if err == nil {
			return ac, nil
		}
		lastErr = err

		if !isTransient(err) || attempt == createAttempts {
			break
		}

		g.logger.Warn().Err(err).
			Str("device_id", deviceID).
			Int("attempt", attempt).
			Msg("vendor call failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.retryDelay):
		}
	}
	return nil, lastErr
}

// isTransient reports whether a vendor error is worth one more attempt.
// Missing credentials and vendor-side rejections are final.
func isTransient(err error) bool {
	if errors.Is(err, seam.ErrNoAPIKey) {
		return false
	}
	var apiErr *seam.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	// Network-level failure.
	return true
}
