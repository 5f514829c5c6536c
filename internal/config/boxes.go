package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kladovka/internal/models"
)

// BoxConfig is one box entry of the inventory file. Absent allow flags
// fall back the same way old inventory records do: daily on, the rest
// off.
type BoxConfig struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	SizeM2   float64 `yaml:"size_m2"`
	DeviceID string  `yaml:"device_id"`

	AllowHourly  *bool `yaml:"allow_hourly,omitempty"`
	AllowDaily   *bool `yaml:"allow_daily,omitempty"`
	AllowMonthly *bool `yaml:"allow_monthly,omitempty"`

	PricePerHour   *float64 `yaml:"price_per_hour,omitempty"`
	PricePerDay    *float64 `yaml:"price_per_day,omitempty"`
	PricePer31Days *float64 `yaml:"price_per_31days,omitempty"`
}

// BoxesConfig is the root of boxes.yaml.
type BoxesConfig struct {
	Boxes []BoxConfig `yaml:"boxes"`
}

// LoadBoxesConfig loads and validates the box inventory from a YAML file.
func LoadBoxesConfig(path string) (*BoxesConfig, error) {
	if path == "" {
		path = "configs/boxes.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boxes config: %w", err)
	}

	var cfg BoxesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse boxes config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate boxes config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the inventory for errors.
func (c *BoxesConfig) Validate() error {
	if len(c.Boxes) == 0 {
		return fmt.Errorf("no boxes defined")
	}

	ids := make(map[string]bool)
	for i, box := range c.Boxes {
		if box.ID == "" {
			return fmt.Errorf("box[%d]: id is required", i)
		}
		if ids[box.ID] {
			return fmt.Errorf("box[%d]: duplicate id '%s'", i, box.ID)
		}
		ids[box.ID] = true

		if box.SizeM2 < 0 {
			return fmt.Errorf("box[%d]: size_m2 cannot be negative", i)
		}

		for name, price := range map[string]*float64{
			"price_per_hour":   box.PricePerHour,
			"price_per_day":    box.PricePerDay,
			"price_per_31days": box.PricePer31Days,
		} {
			if price != nil && *price < 0 {
				return fmt.Errorf("box[%d]: %s cannot be negative", i, name)
			}
		}
	}
	return nil
}

// applyDefaults fills the gaps old inventory files leave.
func (c *BoxesConfig) applyDefaults() {
	for i := range c.Boxes {
		if c.Boxes[i].Name == "" {
			c.Boxes[i].Name = c.Boxes[i].ID
		}
		if c.Boxes[i].SizeM2 == 0 {
			c.Boxes[i].SizeM2 = 1.0
		}
	}
}

// Models converts the inventory into box records.
func (c *BoxesConfig) Models() []models.Box {
	boxes := make([]models.Box, 0, len(c.Boxes))
	for _, box := range c.Boxes {
		boxes = append(boxes, models.Box{
			ID:             box.ID,
			Name:           box.Name,
			SizeM2:         box.SizeM2,
			DeviceID:       box.DeviceID,
			AllowHourly:    boolOrDefault(box.AllowHourly, false),
			AllowDaily:     boolOrDefault(box.AllowDaily, true),
			AllowMonthly:   boolOrDefault(box.AllowMonthly, false),
			PricePerHour:   box.PricePerHour,
			PricePerDay:    box.PricePerDay,
			PricePer31Days: box.PricePer31Days,
		})
	}
	return boxes
}

// String returns a summary of the inventory.
func (c *BoxesConfig) String() string {
	return fmt.Sprintf("BoxesConfig: %d boxes", len(c.Boxes))
}

func boolOrDefault(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}
