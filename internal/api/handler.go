package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/backend"
	"github.com/aipoopers/zonemarket/internal/engine"
	"github.com/aipoopers/zonemarket/internal/leaderboard"
	"github.com/aipoopers/zonemarket/internal/ledger"
	"github.com/aipoopers/zonemarket/internal/store"
	"github.com/aipoopers/zonemarket/pkg/model"
)

// Market is the read side of the pricer.
type Market interface {
	Rates() model.Rates
	Rate(zone model.ZoneID) float64
	Counts() model.Counts
	Initialized() bool
}

// Events applies engine events.
type Events interface {
	Zone(name string) (model.ZoneID, error)
	Enter(name string) (model.ZoneID, error)
	Exit(name string) (model.ZoneID, error)
	Poop(ctx context.Context) []model.ZoneID
}

type Resetter interface {
	Reset(ctx context.Context) error
}

// Ledger settles player registrations and trades.
type Ledger interface {
	Register(ctx context.Context, name string) (*model.Player, bool, error)
	Get(ctx context.Context, name string) (*model.Player, error)
	Buy(ctx context.Context, name string, zone model.ZoneID, qty float64) (*ledger.Trade, error)
	Sell(ctx context.Context, name string, zone model.ZoneID, qty float64) (*ledger.Trade, error)
}

type Leaderboard interface {
	Entries() ([]leaderboard.Entry, time.Time)
}

// Handler serves the market HTTP API.
type Handler struct {
	logger      *zap.Logger
	market      Market
	events      Events
	resetter    Resetter
	ledger      Ledger
	leaderboard Leaderboard
}

func NewHandler(logger *zap.Logger, market Market, events Events, resetter Resetter, ledger Ledger, board Leaderboard) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:      logger,
		market:      market,
		events:      events,
		resetter:    resetter,
		ledger:      ledger,
		leaderboard: board,
	}
}

// GetRates returns every zone's rate and count. Rates are 0 until initialized.
func (h *Handler) GetRates(c *fiber.Ctx) error {
	return c.JSON(RatesResponse{
		Initialized: h.market.Initialized(),
		Rates:       h.market.Rates(),
		Counts:      h.market.Counts(),
	})
}

func (h *Handler) GetRate(c *fiber.Ctx) error {
	z, err := h.events.Zone(c.Params("zone"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(RateResponse{
		Zone:        z,
		Rate:        h.market.Rate(z),
		Count:       h.market.Counts()[z],
		Initialized: h.market.Initialized(),
	})
}

func (h *Handler) EnterZone(c *fiber.Ctx) error {
	z, err := h.events.Enter(c.Params("zone"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"zone": z, "occupied": true})
}

func (h *Handler) ExitZone(c *fiber.Ctx) error {
	z, err := h.events.Exit(c.Params("zone"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"zone": z, "occupied": false})
}

// RecordPoop fires one poop event. Nothing occupied is not an error.
func (h *Handler) RecordPoop(c *fiber.Ctx) error {
	zones := h.events.Poop(c.UserContext())
	if zones == nil {
		zones = []model.ZoneID{}
	}
	return c.JSON(PoopResponse{Zones: zones, Rates: h.market.Rates()})
}

func (h *Handler) Reset(c *fiber.Ctx) error {
	if err := h.resetter.Reset(c.UserContext()); err != nil {
		h.logger.Error("api.reset_failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"status": "partial",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok", "rates": h.market.Rates()})
}

func (h *Handler) RegisterPlayer(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	p, created, err := h.ledger.Register(c.UserContext(), req.Name)
	if err != nil {
		return h.ledgerError(c, "api.register_failed", err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(PlayerResponse{Player: *p, Wealth: p.Wealth(h.market.Rates())})
}

func (h *Handler) GetPlayer(c *fiber.Ctx) error {
	p, err := h.ledger.Get(c.UserContext(), c.Params("name"))
	if err != nil {
		return h.ledgerError(c, "api.get_player_failed", err)
	}
	return c.JSON(PlayerResponse{Player: *p, Wealth: p.Wealth(h.market.Rates())})
}

func (h *Handler) Buy(c *fiber.Ctx) error {
	return h.trade(c, ledger.SideBuy)
}

func (h *Handler) Sell(c *fiber.Ctx) error {
	return h.trade(c, ledger.SideSell)
}

func (h *Handler) trade(c *fiber.Ctx, side string) error {
	var req TradeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	z, err := h.events.Zone(req.Zone)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	qty := req.Qty()
	name := c.Params("name")
	var t *ledger.Trade
	if side == ledger.SideBuy {
		t, err = h.ledger.Buy(c.UserContext(), name, z, qty)
	} else {
		t, err = h.ledger.Sell(c.UserContext(), name, z, qty)
	}
	if err != nil {
		return h.ledgerError(c, "api.trade_failed", err)
	}
	return c.JSON(t)
}

func (h *Handler) GetLeaderboard(c *fiber.Ctx) error {
	entries, updated := h.leaderboard.Entries()
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	resp := LeaderboardResponse{Entries: entries}
	if !updated.IsZero() {
		resp.UpdatedAt = &updated
	}
	return c.JSON(resp)
}

func (h *Handler) ledgerError(c *fiber.Ctx, event string, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error(event, zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidName),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrUnknownZone),
		errors.Is(err, engine.ErrUnknownZone),
		errors.Is(err, store.ErrReservedName):
		return fiber.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownPlayer):
		return fiber.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings):
		return fiber.StatusConflict
	case errors.Is(err, ledger.ErrRateUnavailable),
		errors.Is(err, backend.ErrMissingCredentials):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusBadGateway
	}
}
