package model

import (
	"math"
	"sort"
	"strings"
)

// ZoneID names a colored region of the play field.
type ZoneID string

const (
	ZoneBlue   ZoneID = "Blue"
	ZonePurple ZoneID = "Purple"
	ZoneYellow ZoneID = "Yellow"
	ZoneGreen  ZoneID = "Green"
)

// DefaultZones is the zone set used when no rate table is configured.
var DefaultZones = []ZoneID{ZoneBlue, ZonePurple, ZoneYellow, ZoneGreen}

// ParseZone trims s and matches it case-insensitively against known.
func ParseZone(s string, known []ZoneID) (ZoneID, bool) {
	s = strings.TrimSpace(s)
	for _, z := range known {
		if strings.EqualFold(string(z), s) {
			return z, true
		}
	}
	return "", false
}

// ZoneIDs converts plain strings, dropping empties.
func ZoneIDs(names []string) []ZoneID {
	out := make([]ZoneID, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, ZoneID(n))
		}
	}
	return out
}

// Counts maps each zone to its cumulative poop count.
type Counts map[ZoneID]int

// Clone returns an independent copy.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for z, n := range c {
		out[z] = n
	}
	return out
}

// Zones returns the zone keys sorted by name.
func (c Counts) Zones() []ZoneID {
	zones := make([]ZoneID, 0, len(c))
	for z := range c {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i] < zones[j] })
	return zones
}

// MaxRate caps every quoted rate and valuation. base*growth^count overflows
// float64 after a few thousand poops; saturating keeps rates encodable.
const MaxRate = math.MaxFloat64

// Saturate clamps v to [0, MaxRate]. NaN reads as 0.
func Saturate(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > MaxRate:
		return MaxRate
	}
	return v
}

// Rates maps each zone to its current exchange rate in dollars per token.
// A zero entry means the rate is not known yet.
type Rates map[ZoneID]float64

// Clone returns an independent copy.
func (r Rates) Clone() Rates {
	out := make(Rates, len(r))
	for z, v := range r {
		out[z] = v
	}
	return out
}

// Initialized reports whether every zone carries a usable rate.
func (r Rates) Initialized() bool {
	if len(r) == 0 {
		return false
	}
	for _, v := range r {
		if v <= 0 {
			return false
		}
	}
	return true
}
