// Package pricing computes the price of a box rental for a requested
// duration under the hourly / daily / monthly billing modes.
package pricing

import (
	"math"

	"kladovka/internal/models"
)

// Billing modes.
const (
	ModeHourly  = "hourly"
	ModeDaily   = "daily"
	ModeMonthly = "monthly"
)

// Unit labels reported alongside billed unit counts.
const (
	UnitHour  = "hour"
	UnitDay   = "day"
	UnitMonth = "month"
)

// Default rates applied when a box carries no explicit price for an
// enabled mode. All defaults scale with box size; a "month" is billed
// as 31 days.
const (
	DefaultRatePerM2Hour = 0.5
	DefaultRatePerM2Day  = 8.0
)

const (
	minutesPerHour  = 60
	minutesPerDay   = 60 * 24
	minutesPerMonth = 60 * 24 * 31
)

// Tariff is the billing configuration of a box. Nil prices fall back to
// the size-proportional defaults above.
type Tariff struct {
	SizeM2 float64

	AllowHourly  bool
	AllowDaily   bool
	AllowMonthly bool

	PricePerHour   *float64
	PricePerDay    *float64
	PricePer31Days *float64
}

// Quote is the outcome of a price computation. It is frozen into the
// booking record at creation time.
type Quote struct {
	Mode           string  `json:"pricing_mode"`
	UnitLabel      string  `json:"unit_label"`
	BilledUnits    int     `json:"billed_units"`
	PriceForPeriod float64 `json:"price_for_period"`
}

// BoxTariff extracts the tariff configuration from a box record.
func BoxTariff(b models.Box) Tariff {
	return Tariff{
		SizeM2:         b.SizeM2,
		AllowHourly:    b.AllowHourly,
		AllowDaily:     b.AllowDaily,
		AllowMonthly:   b.AllowMonthly,
		PricePerHour:   b.PricePerHour,
		PricePerDay:    b.PricePerDay,
		PricePer31Days: b.PricePer31Days,
	}
}

// ForBox computes the quote for a box and duration.
func ForBox(b models.Box, durationMinutes int) Quote {
	return Compute(BoxTariff(b), durationMinutes)
}

// Compute picks the cheapest enabled billing mode for the duration.
// Durations are billed in whole units (ceiling division, minimum one
// unit). When no mode is enabled at all the box is billed as daily at
// the default rate. When two candidates tie exactly the earlier one in
// hourly/daily/monthly order wins; callers must not rely on the
// tie-break. Totals are rounded to two decimals, halves away from zero.
func Compute(t Tariff, durationMinutes int) Quote {
	if durationMinutes < 1 {
		durationMinutes = 1
	}

	hours := ceilDiv(durationMinutes, minutesPerHour)
	days := ceilDiv(durationMinutes, minutesPerDay)
	months := ceilDiv(durationMinutes, minutesPerMonth)

	defaultPerHour := DefaultRatePerM2Hour * t.SizeM2
	defaultPerDay := DefaultRatePerM2Day * t.SizeM2
	defaultPer31Days := defaultPerDay * 31

	perHour := rateOrDefault(t.PricePerHour, defaultPerHour)
	perDay := rateOrDefault(t.PricePerDay, defaultPerDay)
	per31Days := rateOrDefault(t.PricePer31Days, defaultPer31Days)

	var candidates []Quote

	if t.AllowHourly {
		candidates = append(candidates, Quote{
			Mode:           ModeHourly,
			UnitLabel:      UnitHour,
			BilledUnits:    hours,
			PriceForPeriod: perHour * float64(hours),
		})
	}
	if t.AllowDaily {
		candidates = append(candidates, Quote{
			Mode:           ModeDaily,
			UnitLabel:      UnitDay,
			BilledUnits:    days,
			PriceForPeriod: perDay * float64(days),
		})
	}
	if t.AllowMonthly {
		candidates = append(candidates, Quote{
			Mode:           ModeMonthly,
			UnitLabel:      UnitMonth,
			BilledUnits:    months,
			PriceForPeriod: per31Days * float64(months),
		})
	}

	// Boxes with no enabled mode are billed as daily at the default
	// rate, ignoring any configured daily price.
	if len(candidates) == 0 {
		return Quote{
			Mode:           ModeDaily,
			UnitLabel:      UnitDay,
			BilledUnits:    days,
			PriceForPeriod: round2(defaultPerDay * float64(days)),
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.PriceForPeriod < best.PriceForPeriod {
			best = c
		}
	}
	best.PriceForPeriod = round2(best.PriceForPeriod)
	return best
}

func ceilDiv(minutes, unit int) int {
	return (minutes + unit - 1) / unit
}

func rateOrDefault(rate *float64, def float64) float64 {
	if rate != nil {
		return *rate
	}
	return def
}

// round2 rounds to two decimals, halves away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
