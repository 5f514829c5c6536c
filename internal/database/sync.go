package database

import (
	"context"
	"fmt"
	"time"

	"kladovka/internal/models"
)

// SyncBoxes applies an inventory snapshot to the boxes table. Existing
// rows are updated in place, new ones inserted. Boxes missing from the
// snapshot are kept: admin-created boxes must survive an inventory
// reload. Returns the number of boxes written.
func (db *DB) SyncBoxes(ctx context.Context, boxes []models.Box) (int, error) {
	now := time.Now().UTC()
	synced := 0

	for _, box := range boxes {
		// Preserve created_at if the box already exists.
		_, err := db.ExecContext(ctx, `
			INSERT INTO boxes (
				id, name, size_m2, device_id,
				allow_hourly, allow_daily, allow_monthly,
				price_per_hour, price_per_day, price_per_31days,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM boxes WHERE id = ?), ?), ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				size_m2 = excluded.size_m2,
				device_id = excluded.device_id,
				allow_hourly = excluded.allow_hourly,
				allow_daily = excluded.allow_daily,
				allow_monthly = excluded.allow_monthly,
				price_per_hour = excluded.price_per_hour,
				price_per_day = excluded.price_per_day,
				price_per_31days = excluded.price_per_31days,
				updated_at = excluded.updated_at`,
			box.ID, box.Name, box.SizeM2, box.DeviceID,
			box.AllowHourly, box.AllowDaily, box.AllowMonthly,
			nullFloat(box.PricePerHour), nullFloat(box.PricePerDay), nullFloat(box.PricePer31Days),
			box.ID, now, now,
		)
		if err != nil {
			return synced, fmt.Errorf("sync box %s: %w", box.ID, err)
		}
		synced++
	}

	if err := db.LoadBoxes(ctx); err != nil {
		return synced, err
	}

	if db.logger != nil {
		db.logger.Info().Int("boxes", synced).Msg("Box inventory synced")
	}
	return synced, nil
}
