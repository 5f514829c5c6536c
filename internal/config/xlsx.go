package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"kladovka/internal/models"
)

// ParseBoxesXLSX reads a box inventory spreadsheet. The first sheet
// must carry a header row; columns are matched by name, order doesn't
// matter. Only 'id' is mandatory, the rest defaults like the YAML
// inventory does.
func ParseBoxesXLSX(r io.Reader) ([]models.Box, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("spreadsheet has no data rows")
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["id"]; !ok {
		return nil, fmt.Errorf("spreadsheet is missing an 'id' column")
	}

	var boxes []models.Box
	for i, row := range rows[1:] {
		rowNum := i + 2

		id := cellValue(row, cols, "id")
		if id == "" {
			continue
		}

		box := models.Box{
			ID:       id,
			Name:     cellValue(row, cols, "name"),
			DeviceID: cellValue(row, cols, "device_id"),
		}
		if box.Name == "" {
			box.Name = id
		}

		box.SizeM2, err = parseSize(cellValue(row, cols, "size_m2"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}

		if box.AllowHourly, err = parseFlag(cellValue(row, cols, "allow_hourly"), false); err != nil {
			return nil, fmt.Errorf("row %d: allow_hourly: %w", rowNum, err)
		}
		if box.AllowDaily, err = parseFlag(cellValue(row, cols, "allow_daily"), true); err != nil {
			return nil, fmt.Errorf("row %d: allow_daily: %w", rowNum, err)
		}
		if box.AllowMonthly, err = parseFlag(cellValue(row, cols, "allow_monthly"), false); err != nil {
			return nil, fmt.Errorf("row %d: allow_monthly: %w", rowNum, err)
		}

		if box.PricePerHour, err = parsePrice(cellValue(row, cols, "price_per_hour")); err != nil {
			return nil, fmt.Errorf("row %d: price_per_hour: %w", rowNum, err)
		}
		if box.PricePerDay, err = parsePrice(cellValue(row, cols, "price_per_day")); err != nil {
			return nil, fmt.Errorf("row %d: price_per_day: %w", rowNum, err)
		}
		if box.PricePer31Days, err = parsePrice(cellValue(row, cols, "price_per_31days")); err != nil {
			return nil, fmt.Errorf("row %d: price_per_31days: %w", rowNum, err)
		}

		boxes = append(boxes, box)
	}

	if len(boxes) == 0 {
		return nil, fmt.Errorf("spreadsheet contains no boxes")
	}
	return boxes, nil
}

func cellValue(row []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseSize(raw string) (float64, error) {
	if raw == "" {
		return 1.0, nil
	}
	size, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size_m2 '%s'", raw)
	}
	if size < 0 {
		return 0, fmt.Errorf("size_m2 cannot be negative")
	}
	return size, nil
}

func parseFlag(raw string, def bool) (bool, error) {
	switch strings.ToLower(raw) {
	case "":
		return def, nil
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean '%s'", raw)
}

func parsePrice(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price '%s'", raw)
	}
	if price < 0 {
		return nil, fmt.Errorf("price cannot be negative")
	}
	return &price, nil
}
