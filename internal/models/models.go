package models

import "time"

// Box represents a rentable storage unit bound to one primary lock device.
type Box struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	SizeM2   float64 `json:"size_m2"`
	DeviceID string  `json:"device_id"`

	// Enabled billing modes. At least one must be set when a box is
	// created through the API; old records may have none.
	AllowHourly  bool `json:"allow_hourly"`
	AllowDaily   bool `json:"allow_daily"`
	AllowMonthly bool `json:"allow_monthly"`

	// Absolute prices per billing unit. Nil means "use the size-based
	// default rate" (see pricing package).
	PricePerHour   *float64 `json:"price_per_hour,omitempty"`
	PricePerDay    *float64 `json:"price_per_day,omitempty"`
	PricePer31Days *float64 `json:"price_per_31days,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTariff reports whether at least one billing mode is enabled.
func (b *Box) HasTariff() bool {
	return b.AllowHourly || b.AllowDaily || b.AllowMonthly
}

// Booking represents a reservation of one box for a contiguous time window.
// The same access code is installed on the box lock and on every extra
// device (entrance doors); ExtraSeamAccessCodeIDs is positionally aligned
// with ExtraDeviceIDs.
type Booking struct {
	ID       string `json:"id"`
	UserName string `json:"user_name"`
	BoxID    string `json:"box_id"`

	// DeviceID is a snapshot of the box's primary device at creation
	// time. A later device change on the box must not touch existing
	// bookings.
	DeviceID       string   `json:"device_id"`
	ExtraDeviceIDs []string `json:"extra_device_ids"`

	AccessCode             string   `json:"access_code"`
	SeamAccessCodeID       *string  `json:"seam_access_code_id"`
	ExtraSeamAccessCodeIDs []string `json:"extra_seam_access_code_ids"`

	CreatedAt  time.Time `json:"created_at"`
	ValidUntil time.Time `json:"valid_until"`

	UserID *string `json:"user_id,omitempty"`

	// Pricing snapshot, frozen at creation.
	PricingMode    string  `json:"pricing_mode"`
	UnitLabel      string  `json:"unit_label"`
	BilledUnits    int     `json:"billed_units"`
	PriceForPeriod float64 `json:"price_for_period"`
}

// IsActiveAt reports whether the booking covers the given instant,
// boundaries inclusive.
func (b *Booking) IsActiveAt(at time.Time) bool {
	return !at.Before(b.CreatedAt) && !at.After(b.ValidUntil)
}

// IsExpired reports whether the booking's window has fully passed.
func (b *Booking) IsExpired(now time.Time) bool {
	return b.ValidUntil.Before(now)
}

// Overlaps reports whether the booking's [created_at, valid_until)
// window intersects [start, end). Touching boundaries do not count as
// overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.ValidUntil.After(start) && b.CreatedAt.Before(end)
}

// CoversDevice reports whether the booking's code was installed on the
// given device (primary lock or one of the extras).
func (b *Booking) CoversDevice(deviceID string) bool {
	if b.DeviceID == deviceID {
		return true
	}
	for _, id := range b.ExtraDeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// HasVendorCodes reports whether any vendor-side access code handle is
// still attached to the booking.
func (b *Booking) HasVendorCodes() bool {
	return b.SeamAccessCodeID != nil || len(b.ExtraSeamAccessCodeIDs) > 0
}

// BoxUpdate carries the fields of a partial box update. Nil fields are
// left unchanged; prices cannot be cleared back to the size-based
// defaults through an update.
type BoxUpdate struct {
	Name     *string  `json:"name,omitempty"`
	SizeM2   *float64 `json:"size_m2,omitempty"`
	DeviceID *string  `json:"device_id,omitempty"`

	AllowHourly  *bool `json:"allow_hourly,omitempty"`
	AllowDaily   *bool `json:"allow_daily,omitempty"`
	AllowMonthly *bool `json:"allow_monthly,omitempty"`

	PricePerHour   *float64 `json:"price_per_hour,omitempty"`
	PricePerDay    *float64 `json:"price_per_day,omitempty"`
	PricePer31Days *float64 `json:"price_per_31days,omitempty"`
}

// ApplyTo merges the provided fields into box.
func (u BoxUpdate) ApplyTo(box *Box) {
	if u.Name != nil {
		box.Name = *u.Name
	}
	if u.SizeM2 != nil {
		box.SizeM2 = *u.SizeM2
	}
	if u.DeviceID != nil {
		box.DeviceID = *u.DeviceID
	}
	if u.AllowHourly != nil {
		box.AllowHourly = *u.AllowHourly
	}
	if u.AllowDaily != nil {
		box.AllowDaily = *u.AllowDaily
	}
	if u.AllowMonthly != nil {
		box.AllowMonthly = *u.AllowMonthly
	}
	if u.PricePerHour != nil {
		box.PricePerHour = u.PricePerHour
	}
	if u.PricePerDay != nil {
		box.PricePerDay = u.PricePerDay
	}
	if u.PricePer31Days != nil {
		box.PricePer31Days = u.PricePer31Days
	}
}
