package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"kladovka/internal/models"
)

const boxColumns = `id, name, size_m2, device_id,
	       allow_hourly, allow_daily, allow_monthly,
	       price_per_hour, price_per_day, price_per_31days,
	       created_at, updated_at`

// CreateBox inserts a new box. Returns ErrDuplicate if the id is taken.
func (db *DB) CreateBox(ctx context.Context, box models.Box) (*models.Box, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM boxes WHERE id = ?", box.ID,
	).Scan(&existingID)
	if err == nil {
		return nil, ErrDuplicate
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing: %w", err)
	}

	now := time.Now().UTC()
	if box.CreatedAt.IsZero() {
		box.CreatedAt = now
	}
	box.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO boxes (
			id, name, size_m2, device_id,
			allow_hourly, allow_daily, allow_monthly,
			price_per_hour, price_per_day, price_per_31days,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		box.ID, box.Name, box.SizeM2, box.DeviceID,
		box.AllowHourly, box.AllowDaily, box.AllowMonthly,
		nullFloat(box.PricePerHour), nullFloat(box.PricePerDay), nullFloat(box.PricePer31Days),
		box.CreatedAt, box.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert box: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	// Refresh cache
	_ = db.LoadBoxes(ctx)
	return &box, nil
}

// UpdateBox applies the non-nil fields of upd to an existing box.
func (db *DB) UpdateBox(ctx context.Context, boxID string, upd models.BoxUpdate) (*models.Box, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+boxColumns+` FROM boxes WHERE id = ?`, boxID)
	box, err := scanBox(row)
	if err == sql.ErrNoRows {
		return nil, ErrBoxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get box: %w", err)
	}

	upd.ApplyTo(&box)
	box.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE boxes SET
			name = ?, size_m2 = ?, device_id = ?,
			allow_hourly = ?, allow_daily = ?, allow_monthly = ?,
			price_per_hour = ?, price_per_day = ?, price_per_31days = ?,
			updated_at = ?
		WHERE id = ?`,
		box.Name, box.SizeM2, box.DeviceID,
		box.AllowHourly, box.AllowDaily, box.AllowMonthly,
		nullFloat(box.PricePerHour), nullFloat(box.PricePerDay), nullFloat(box.PricePer31Days),
		box.UpdatedAt, box.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update box: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	_ = db.LoadBoxes(ctx)
	return &box, nil
}

// GetBox returns a single box by id.
func (db *DB) GetBox(ctx context.Context, boxID string) (*models.Box, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+boxColumns+` FROM boxes WHERE id = ?`, boxID)
	box, err := scanBox(row)
	if err == sql.ErrNoRows {
		return nil, ErrBoxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &box, nil
}

// ListBoxes returns all boxes ordered by id.
func (db *DB) ListBoxes(ctx context.Context) ([]models.Box, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+boxColumns+` FROM boxes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boxes []models.Box
	for rows.Next() {
		box, err := scanBox(rows)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
	}
	return boxes, rows.Err()
}

// LoadBoxes reads all boxes into the in-memory cache.
func (db *DB) LoadBoxes(ctx context.Context) error {
	boxes, err := db.ListBoxes(ctx)
	if err != nil {
		return fmt.Errorf("load boxes: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.boxesCache = make(map[string]models.Box, len(boxes))
	for _, b := range boxes {
		db.boxesCache[b.ID] = b
	}
	db.cacheTime = time.Now()
	return nil
}

// CachedBoxes returns a copy of the cached boxes ordered by id.
func (db *DB) CachedBoxes() []models.Box {
	db.mu.RLock()
	defer db.mu.RUnlock()

	boxes := make([]models.Box, 0, len(db.boxesCache))
	for _, b := range db.boxesCache {
		boxes = append(boxes, b)
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].ID < boxes[j].ID })
	return boxes
}

// BoxesCacheTime returns when the box cache was last refreshed.
func (db *DB) BoxesCacheTime() time.Time {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.cacheTime
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBox(row rowScanner) (models.Box, error) {
	var b models.Box
	var perHour, perDay, per31 sql.NullFloat64
	err := row.Scan(
		&b.ID, &b.Name, &b.SizeM2, &b.DeviceID,
		&b.AllowHourly, &b.AllowDaily, &b.AllowMonthly,
		&perHour, &perDay, &per31,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return models.Box{}, err
	}
	b.PricePerHour = floatPtr(perHour)
	b.PricePerDay = floatPtr(perDay)
	b.PricePer31Days = floatPtr(per31)
	return b, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
