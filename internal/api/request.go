package api

import (
	"time"

	"github.com/aipoopers/zonemarket/internal/leaderboard"
	"github.com/aipoopers/zonemarket/pkg/model"
)

type RegisterRequest struct {
	Name string `json:"name" form:"name"`
}

// TradeRequest buys or sells Quantity tokens of Zone. An omitted quantity means one token.
type TradeRequest struct {
	Zone     string   `json:"zone" form:"zone"`
	Quantity *float64 `json:"quantity,omitempty" form:"quantity"`
}

func (r TradeRequest) Qty() float64 {
	if r.Quantity == nil {
		return 1
	}
	return *r.Quantity
}

type RatesResponse struct {
	Initialized bool         `json:"initialized"`
	Rates       model.Rates  `json:"rates"`
	Counts      model.Counts `json:"counts"`
}

type RateResponse struct {
	Zone        model.ZoneID `json:"zone"`
	Rate        float64      `json:"rate"`
	Count       int          `json:"count"`
	Initialized bool         `json:"initialized"`
}

type PoopResponse struct {
	Zones []model.ZoneID `json:"zones"`
	Rates model.Rates    `json:"rates"`
}

type PlayerResponse struct {
	Player model.Player `json:"player"`
	Wealth float64      `json:"wealth"`
}

type LeaderboardResponse struct {
	Entries   []leaderboard.Entry `json:"entries"`
	UpdatedAt *time.Time          `json:"updated_at"`
}
