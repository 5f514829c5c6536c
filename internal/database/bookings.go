package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kladovka/internal/models"
)

const bookingColumns = `id, user_name, box_id, device_id, extra_device_ids,
	       access_code, seam_access_code_id, extra_seam_access_code_ids,
	       user_id, pricing_mode, unit_label, billed_units, price_for_period,
	       created_at, valid_until`

// BookingFilter narrows ListBookings. Zero values mean "no filter".
// ActiveOnly true keeps bookings still valid at Now, false keeps expired
// ones. Now defaults to the current time.
type BookingFilter struct {
	BoxID      string
	UserName   string
	UserID     string
	ActiveOnly *bool
	Now        time.Time
}

// CreateBooking inserts a booking record.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO bookings (
			id, user_name, box_id, device_id, extra_device_ids,
			access_code, seam_access_code_id, extra_seam_access_code_ids,
			user_id, pricing_mode, unit_label, billed_units, price_for_period,
			created_at, valid_until
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserName, b.BoxID, b.DeviceID, marshalIDs(b.ExtraDeviceIDs),
		b.AccessCode, nullString(b.SeamAccessCodeID), marshalIDs(b.ExtraSeamAccessCodeIDs),
		nullString(b.UserID), b.PricingMode, b.UnitLabel, b.BilledUnits, b.PriceForPeriod,
		b.CreatedAt, b.ValidUntil,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetBooking returns a booking by id.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBooking removes a booking record.
func (db *DB) DeleteBooking(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// ListBookings returns bookings in insertion order, narrowed by f.
func (db *DB) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, error) {
	var conds []string
	var args []interface{}

	if f.BoxID != "" {
		conds = append(conds, "box_id = ?")
		args = append(args, f.BoxID)
	}
	if f.UserName != "" {
		conds = append(conds, "LOWER(user_name) = LOWER(?)")
		args = append(args, f.UserName)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ActiveOnly != nil {
		now := f.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		if *f.ActiveOnly {
			conds = append(conds, "valid_until >= ?")
		} else {
			conds = append(conds, "valid_until < ?")
		}
		args = append(args, now)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

// ActiveBookingForBox returns the first booking covering the box at the
// given instant, boundaries inclusive.
func (db *DB) ActiveBookingForBox(ctx context.Context, boxID string, at time.Time) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE box_id = ? AND created_at <= ? AND valid_until >= ?
		ORDER BY rowid LIMIT 1`,
		boxID, at, at,
	)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ConflictingBooking returns the first booking that still blocks the box
// (valid_until strictly after now), or nil when the box is free.
func (db *DB) ConflictingBooking(ctx context.Context, boxID string, now time.Time) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE box_id = ? AND valid_until > ?
		ORDER BY rowid LIMIT 1`,
		boxID, now,
	)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByCode returns the first still-valid booking carrying the code.
func (db *DB) GetBookingByCode(ctx context.Context, code string, now time.Time) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE access_code = ? AND valid_until >= ?
		ORDER BY rowid LIMIT 1`,
		code, now,
	)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ExpiredBookings returns every booking whose window ended before now.
func (db *DB) ExpiredBookings(ctx context.Context, now time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE valid_until < ?
		ORDER BY rowid`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

// OverlappingBookings returns bookings whose window intersects
// [start, end) using the half-open interval test.
func (db *DB) OverlappingBookings(ctx context.Context, start, end time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE valid_until > ? AND created_at < ?
		ORDER BY rowid`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

// ClearBookingHandles nulls the vendor code handles of a booking after
// the codes were reclaimed. The record itself stays.
func (db *DB) ClearBookingHandles(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET seam_access_code_id = NULL, extra_seam_access_code_ids = '[]'
		WHERE id = ?`,
		id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var b models.Booking
	var extraDevices, extraCodes string
	var seamID, userID sql.NullString
	err := row.Scan(
		&b.ID, &b.UserName, &b.BoxID, &b.DeviceID, &extraDevices,
		&b.AccessCode, &seamID, &extraCodes,
		&userID, &b.PricingMode, &b.UnitLabel, &b.BilledUnits, &b.PriceForPeriod,
		&b.CreatedAt, &b.ValidUntil,
	)
	if err != nil {
		return models.Booking{}, err
	}
	b.ExtraDeviceIDs = unmarshalIDs(extraDevices)
	b.ExtraSeamAccessCodeIDs = unmarshalIDs(extraCodes)
	b.SeamAccessCodeID = stringPtr(seamID)
	b.UserID = stringPtr(userID)
	return b, nil
}

// marshalIDs stores a string list as a JSON array column.
func marshalIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalIDs(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
