package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/metrics"
	"github.com/aipoopers/zonemarket/internal/store"
	"github.com/aipoopers/zonemarket/pkg/model"
)

var (
	ErrInvalidName          = errors.New("invalid player name")
	ErrUnknownPlayer        = errors.New("unknown player")
	ErrUnknownZone          = errors.New("unknown zone")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrRateUnavailable      = errors.New("market rates not initialized")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	maxNameLen = 64
	// balances are kept to micro-dollar precision
	precision = 6
)

// RateSource quotes the current rate of a zone; 0 means not yet known.
type RateSource interface {
	Rate(zone model.ZoneID) float64
}

// Trade is the outcome of a successful buy or sell.
type Trade struct {
	Player   model.Player `json:"player"`
	Side     string       `json:"side"`
	Zone     model.ZoneID `json:"zone"`
	Quantity float64      `json:"quantity"`
	Price    float64      `json:"price"`
	Total    float64      `json:"total"`
}

// Config holds the ledger's fixed parameters.
type Config struct {
	StartingDollars float64
	Zones           []model.ZoneID
	ReservedNames   []string
}

// Ledger registers players and settles their trades against the current rates.
// Trades are serialized so concurrent orders for one player cannot overdraw it.
type Ledger struct {
	logger *zap.Logger
	store  store.PlayerStore
	rates  RateSource
	cfg    Config

	mu sync.Mutex
}

func New(logger *zap.Logger, st store.PlayerStore, rates RateSource, cfg Config) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Zones) == 0 {
		cfg.Zones = model.DefaultZones
	}
	return &Ledger{logger: logger, store: st, rates: rates, cfg: cfg}
}

// Register returns the named player, creating it with the starting balance if needed.
// created reports whether a new ledger was opened.
func (l *Ledger) Register(ctx context.Context, name string) (p *model.Player, created bool, err error) {
	name, err = l.validName(name)
	if err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, err = l.store.GetPlayer(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if p != nil {
		return p, false, nil
	}

	p, err = l.store.CreatePlayer(ctx, name, l.cfg.StartingDollars)
	if err != nil {
		return nil, false, err
	}
	l.logger.Info("ledger.player_registered", zap.String("player", name), zap.Float64("dollars", p.Dollar))
	return p, true, nil
}

// Get returns the named player or ErrUnknownPlayer.
func (l *Ledger) Get(ctx context.Context, name string) (*model.Player, error) {
	name, err := l.validName(name)
	if err != nil {
		return nil, err
	}
	p, err := l.store.GetPlayer(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	return p, nil
}

// Buy pays qty * rate(zone) dollars for qty tokens of zone.
func (l *Ledger) Buy(ctx context.Context, name string, zone model.ZoneID, qty float64) (*Trade, error) {
	return l.trade(ctx, SideBuy, name, zone, qty)
}

// Sell receives qty * rate(zone) dollars for qty tokens of zone.
func (l *Ledger) Sell(ctx context.Context, name string, zone model.ZoneID, qty float64) (*Trade, error) {
	return l.trade(ctx, SideSell, name, zone, qty)
}

func (l *Ledger) trade(ctx context.Context, side, name string, zone model.ZoneID, qty float64) (*Trade, error) {
	t, err := l.settle(ctx, side, name, zone, qty)
	if err != nil {
		metrics.IncTrade(side, resultLabel(err))
		l.logger.Info("ledger.trade_rejected",
			zap.String("side", side),
			zap.String("player", name),
			zap.String("zone", string(zone)),
			zap.Float64("quantity", qty),
			zap.Error(err))
		return nil, err
	}
	metrics.IncTrade(side, "ok")
	l.logger.Info("ledger.trade_settled",
		zap.String("side", side),
		zap.String("player", t.Player.Name),
		zap.String("zone", string(zone)),
		zap.Float64("quantity", qty),
		zap.Float64("price", t.Price),
		zap.Float64("dollars", t.Player.Dollar))
	return t, nil
}

func (l *Ledger) settle(ctx context.Context, side, name string, zone model.ZoneID, qty float64) (*Trade, error) {
	name, err := l.validName(name)
	if err != nil {
		return nil, err
	}
	if !l.knownZone(zone) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, zone)
	}
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// a saturated rate no longer prices anything
	rate := l.rates.Rate(zone)
	if math.IsNaN(rate) || rate <= 0 || rate >= model.MaxRate {
		return nil, ErrRateUnavailable
	}

	p, err := l.store.GetPlayer(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	if p.Holdings == nil {
		p.Holdings = make(map[model.ZoneID]float64)
	}

	price := decimal.NewFromFloat(rate)
	quantity := decimal.NewFromFloat(qty)
	total := price.Mul(quantity).Round(precision)
	dollars := decimal.NewFromFloat(p.Dollar)
	held := decimal.NewFromFloat(p.Holdings[zone])

	switch side {
	case SideBuy:
		if dollars.LessThan(total) {
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total.StringFixed(2), dollars.StringFixed(2))
		}
		dollars = dollars.Sub(total)
		held = held.Add(quantity)
	case SideSell:
		if held.LessThan(quantity) {
			return nil, fmt.Errorf("%w: have %s %s", ErrInsufficientHoldings, held.String(), zone)
		}
		dollars = dollars.Add(total)
		held = held.Sub(quantity)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	newDollars := dollars.Round(precision).InexactFloat64()
	newHeld := held.InexactFloat64()
	if math.IsInf(newDollars, 0) || math.IsInf(newHeld, 0) {
		return nil, fmt.Errorf("%w: balance out of range", ErrInvalidQuantity)
	}
	p.Dollar = newDollars
	p.Holdings[zone] = newHeld
	if err := l.store.UpdatePlayer(ctx, *p); err != nil {
		return nil, err
	}

	return &Trade{
		Player:   *p,
		Side:     side,
		Zone:     zone,
		Quantity: qty,
		Price:    rate,
		Total:    total.InexactFloat64(),
	}, nil
}

func (l *Ledger) validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return "", ErrInvalidName
	}
	for _, r := range l.cfg.ReservedNames {
		if strings.EqualFold(name, r) {
			return "", fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
		}
	}
	return name, nil
}

func (l *Ledger) knownZone(zone model.ZoneID) bool {
	for _, z := range l.cfg.Zones {
		if z == zone {
			return true
		}
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, ErrRateUnavailable):
		return "rate_unavailable"
	case errors.Is(err, ErrUnknownPlayer), errors.Is(err, ErrUnknownZone),
		errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidQuantity):
		return "invalid"
	default:
		return "error"
	}
}
