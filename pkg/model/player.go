package model

// Player is a trader's ledger: a dollar balance plus token holdings per zone.
// Balance and holdings never go negative.
type Player struct {
	ID       int64              `json:"id"`
	Name     string             `json:"name"`
	Dollar   float64            `json:"dollar"`
	Holdings map[ZoneID]float64 `json:"holdings"`
}

// PlayerFromRow converts a hosted row into a player.
func PlayerFromRow(r Row, zones []ZoneID) Player {
	p := Player{ID: r.ID, Name: r.Name, Dollar: r.Dollar, Holdings: make(map[ZoneID]float64, len(zones))}
	for _, z := range zones {
		p.Holdings[z] = r.Values[z]
	}
	return p
}

// Row converts the player back into a hosted row under column.
func (p Player) Row(column string) Row {
	r := Row{ID: p.ID, Column: column, Name: p.Name, Dollar: p.Dollar, Values: make(map[ZoneID]float64, len(p.Holdings))}
	for z, v := range p.Holdings {
		r.Values[z] = v
	}
	return r
}

// Wealth values the player's holdings at rates and adds the dollar balance,
// saturating at MaxRate.
func (p Player) Wealth(rates Rates) float64 {
	total := p.Dollar
	for z, qty := range p.Holdings {
		total += qty * rates[z]
	}
	return Saturate(total)
}
