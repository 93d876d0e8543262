package model

import (
	"encoding/json"
	"fmt"
)

// IdentifierColumns are the text columns that name a row in the hosted tables.
var IdentifierColumns = []string{"Player", "Field"}

// Row is one record of the hosted economy tables. The same shape serves player
// ledgers, the market count row and the food signal row; zone columns hold
// holdings, counts or food values depending on which row it is.
type Row struct {
	ID     int64
	Column string // identifier column, "Player" or "Field"
	Name   string
	Dollar float64
	Values map[ZoneID]float64
}

// NewRow returns a row with zeroed values for zones.
func NewRow(column, name string, dollar float64, zones []ZoneID) Row {
	r := Row{Column: column, Name: name, Dollar: dollar, Values: make(map[ZoneID]float64, len(zones))}
	for _, z := range zones {
		r.Values[z] = 0
	}
	return r
}

func (r Row) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Values)+3)
	if r.ID != 0 {
		m["id"] = r.ID
	}
	if r.Column != "" {
		m[r.Column] = r.Name
	}
	m["Dollar"] = r.Dollar
	for z, v := range r.Values {
		m[string(z)] = v
	}
	return json.Marshal(m)
}

func (r *Row) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Row{Values: make(map[ZoneID]float64)}
	for key, val := range raw {
		if string(val) == "null" {
			continue
		}
		switch {
		case key == "id":
			if err := json.Unmarshal(val, &r.ID); err != nil {
				return fmt.Errorf("row id: %w", err)
			}
		case isIdentifierColumn(key):
			if err := json.Unmarshal(val, &r.Name); err != nil {
				return fmt.Errorf("row %s: %w", key, err)
			}
			r.Column = key
		case key == "Dollar":
			if err := json.Unmarshal(val, &r.Dollar); err != nil {
				return fmt.Errorf("row Dollar: %w", err)
			}
		default:
			var f float64
			if err := json.Unmarshal(val, &f); err != nil {
				// timestamps and other bookkeeping columns
				continue
			}
			r.Values[ZoneID(key)] = f
		}
	}
	return nil
}

func isIdentifierColumn(key string) bool {
	for _, c := range IdentifierColumns {
		if c == key {
			return true
		}
	}
	return false
}

// Counts reads the zone columns as cumulative counts. Negative or fractional
// values mean the row does not hold counts.
func (r Row) Counts(zones []ZoneID) (Counts, error) {
	out := make(Counts, len(zones))
	for _, z := range zones {
		v := r.Values[z]
		if v < 0 || v != float64(int64(v)) {
			return nil, fmt.Errorf("zone %s: %v is not a count", z, v)
		}
		out[z] = int(v)
	}
	return out, nil
}

// CountsPatch renders counts as a partial row update body.
func CountsPatch(counts Counts) map[string]any {
	m := make(map[string]any, len(counts))
	for z, n := range counts {
		m[string(z)] = n
	}
	return m
}
