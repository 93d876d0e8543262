package market

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aipoopers/zonemarket/pkg/model"
)

const (
	DefaultBaseRate     = 20.0
	DefaultGrowthFactor = 1.1
)

// Table holds the pricing parameters: the zone set, a base rate per zone and
// the growth factor applied per poop.
type Table struct {
	zones        []model.ZoneID
	base         map[model.ZoneID]float64
	defaultBase  float64
	growthFactor float64
}

// tableFile is the on-disk YAML shape.
//
//	growth_factor: 1.1
//	base_rate: 20
//	zones:
//	  - name: Blue
//	    base_rate: 10
//	  - name: Purple
type tableFile struct {
	GrowthFactor float64 `yaml:"growth_factor"`
	BaseRate     float64 `yaml:"base_rate"`
	Zones        []struct {
		Name     string  `yaml:"name"`
		BaseRate float64 `yaml:"base_rate"`
	} `yaml:"zones"`
}

// NewTable builds a table with a uniform base rate. Per-zone overrides may be
// added with WithBase.
func NewTable(zones []model.ZoneID, baseRate, growthFactor float64) (*Table, error) {
	if len(zones) == 0 {
		return nil, errors.New("rate table needs at least one zone")
	}
	if baseRate <= 0 {
		return nil, fmt.Errorf("base rate must be positive, got %v", baseRate)
	}
	if growthFactor <= 0 {
		return nil, fmt.Errorf("growth factor must be positive, got %v", growthFactor)
	}

	t := &Table{
		base:         make(map[model.ZoneID]float64, len(zones)),
		defaultBase:  baseRate,
		growthFactor: growthFactor,
	}
	for _, z := range zones {
		if _, dup := t.base[z]; dup {
			return nil, fmt.Errorf("zone %s listed twice", z)
		}
		t.zones = append(t.zones, z)
		t.base[z] = baseRate
	}
	return t, nil
}

// DefaultTable is the four standard zones at base 20 and growth 1.1.
func DefaultTable() *Table {
	t, _ := NewTable(model.DefaultZones, DefaultBaseRate, DefaultGrowthFactor)
	return t
}

// WithBase overrides the base rate of one zone.
func (t *Table) WithBase(zone model.ZoneID, rate float64) error {
	if _, ok := t.base[zone]; !ok {
		return fmt.Errorf("zone %s not in table", zone)
	}
	if rate <= 0 {
		return fmt.Errorf("zone %s: base rate must be positive, got %v", zone, rate)
	}
	t.base[zone] = rate
	return nil
}

// LoadTable reads a YAML rate table. Missing growth_factor or base_rate fall back to
// the defaults; a zone without base_rate inherits the table-wide one.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate table: %w", err)
	}

	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rate table %s: %w", path, err)
	}
	if f.GrowthFactor == 0 {
		f.GrowthFactor = DefaultGrowthFactor
	}
	if f.BaseRate == 0 {
		f.BaseRate = DefaultBaseRate
	}

	zones := make([]model.ZoneID, 0, len(f.Zones))
	for _, z := range f.Zones {
		zones = append(zones, model.ZoneID(z.Name))
	}
	t, err := NewTable(zones, f.BaseRate, f.GrowthFactor)
	if err != nil {
		return nil, fmt.Errorf("rate table %s: %w", path, err)
	}
	for _, z := range f.Zones {
		if z.BaseRate == 0 {
			continue
		}
		if err := t.WithBase(model.ZoneID(z.Name), z.BaseRate); err != nil {
			return nil, fmt.Errorf("rate table %s: %w", path, err)
		}
	}
	return t, nil
}

// Zones returns the configured zones in table order.
func (t *Table) Zones() []model.ZoneID {
	return append([]model.ZoneID(nil), t.zones...)
}

// Has reports whether zone is configured.
func (t *Table) Has(zone model.ZoneID) bool {
	_, ok := t.base[zone]
	return ok
}

// Base returns the rate of zone at count zero. Zones outside the table use the
// table-wide base rate.
func (t *Table) Base(zone model.ZoneID) float64 {
	if b, ok := t.base[zone]; ok {
		return b
	}
	return t.defaultBase
}

// GrowthFactor is the per-poop multiplier.
func (t *Table) GrowthFactor() float64 { return t.growthFactor }

// ComputeRate is base(zone) * growthFactor^count, saturating at model.MaxRate
// once the product overflows.
func (t *Table) ComputeRate(zone model.ZoneID, count int) float64 {
	return model.Saturate(t.Base(zone) * math.Pow(t.growthFactor, float64(count)))
}
