package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/engine"
	"github.com/aipoopers/zonemarket/internal/leaderboard"
	"github.com/aipoopers/zonemarket/internal/ledger"
	"github.com/aipoopers/zonemarket/internal/market"
	"github.com/aipoopers/zonemarket/internal/zone"
	"github.com/aipoopers/zonemarket/pkg/model"
)

// --- Fakes ---

type seededStore struct {
	counts model.Counts
}

func (s *seededStore) LoadCounts(ctx context.Context) (model.Counts, error) { return s.counts.Clone(), nil }
func (s *seededStore) SaveCounts(ctx context.Context, c model.Counts) error { return nil }

type mockLedger struct {
	registerFn func(ctx context.Context, name string) (*model.Player, bool, error)
	getFn      func(ctx context.Context, name string) (*model.Player, error)
	tradeFn    func(ctx context.Context, side, name string, zone model.ZoneID, qty float64) (*ledger.Trade, error)
}

func (m *mockLedger) Register(ctx context.Context, name string) (*model.Player, bool, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, name)
	}
	return nil, false, fmt.Errorf("not implemented")
}

func (m *mockLedger) Get(ctx context.Context, name string) (*model.Player, error) {
	if m.getFn != nil {
		return m.getFn(ctx, name)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockLedger) Buy(ctx context.Context, name string, zone model.ZoneID, qty float64) (*ledger.Trade, error) {
	if m.tradeFn != nil {
		return m.tradeFn(ctx, ledger.SideBuy, name, zone, qty)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockLedger) Sell(ctx context.Context, name string, zone model.ZoneID, qty float64) (*ledger.Trade, error) {
	if m.tradeFn != nil {
		return m.tradeFn(ctx, ledger.SideSell, name, zone, qty)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockResetter struct {
	calls int
	err   error
}

func (m *mockResetter) Reset(ctx context.Context) error {
	m.calls++
	return m.err
}

type staticBoard struct {
	entries []leaderboard.Entry
	at      time.Time
}

func (b staticBoard) Entries() ([]leaderboard.Entry, time.Time) { return b.entries, b.at }

type failingCheck struct{}

func (failingCheck) HealthCheck(ctx context.Context) error { return errors.New("redis ping failed") }

// --- Test Helpers ---

type testEnv struct {
	app      *fiber.App
	pricer   *market.Pricer
	agg      *zone.Aggregator
	ledger   *mockLedger
	resetter *mockResetter
}

func newTestEnv(t *testing.T, synced bool, checks map[string]HealthChecker) *testEnv {
	t.Helper()
	pricer := market.NewPricer(zap.NewNop(), market.DefaultTable(), &seededStore{counts: model.Counts{model.ZoneBlue: 1}}, time.Second)
	if synced {
		require.NoError(t, pricer.Sync(context.Background()))
	}
	agg := zone.NewAggregator(zap.NewNop(), pricer, zone.PolicyPerZone)
	dispatcher := engine.NewDispatcher(zap.NewNop(), agg, model.DefaultZones, nil)

	env := &testEnv{
		pricer:   pricer,
		agg:      agg,
		ledger:   &mockLedger{},
		resetter: &mockResetter{},
	}
	board := staticBoard{
		entries: []leaderboard.Entry{{Rank: 1, Name: "alice", Dollar: 100, Wealth: 144}},
		at:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	app := fiber.New()
	h := NewHandler(zap.NewNop(), pricer, dispatcher, env.resetter, env.ledger, board)
	RegisterRoutes(app, h, checks)
	env.app = app
	return env
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// --- Rates ---

func TestGetRates_BeforeSync(t *testing.T) {
	env := newTestEnv(t, false, nil)

	resp, body := doRequest(t, env.app, http.MethodGet, "/api/v1/rates", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out RatesResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Initialized)
	assert.Zero(t, out.Rates[model.ZoneBlue])
}

func TestGetRates_AfterSync(t *testing.T) {
	env := newTestEnv(t, true, nil)

	resp, body := doRequest(t, env.app, http.MethodGet, "/api/v1/rates", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out RatesResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Initialized)
	assert.InDelta(t, 22.0, out.Rates[model.ZoneBlue], 1e-9)
	assert.InDelta(t, 20.0, out.Rates[model.ZoneGreen], 1e-9)
	assert.Equal(t, 1, out.Counts[model.ZoneBlue])
}

func TestGetRate_SingleZone(t *testing.T) {
	env := newTestEnv(t, true, nil)

	resp, body := doRequest(t, env.app, http.MethodGet, "/api/v1/rates/blue", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out RateResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, model.ZoneBlue, out.Zone)
	assert.InDelta(t, 22.0, out.Rate, 1e-9)
	assert.Equal(t, 1, out.Count)

	resp, _ = doRequest(t, env.app, http.MethodGet, "/api/v1/rates/Red", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

// --- Engine events ---

func TestEnterPoopExit(t *testing.T) {
	env := newTestEnv(t, true, nil)

	resp, _ := doRequest(t, env.app, http.MethodPost, "/api/v1/zones/Blue/enter", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, env.app, http.MethodPost, "/api/v1/events/poop", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out PoopResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, []model.ZoneID{model.ZoneBlue}, out.Zones)
	assert.InDelta(t, 24.2, out.Rates[model.ZoneBlue], 1e-9)

	resp, _ = doRequest(t, env.app, http.MethodPost, "/api/v1/zones/Blue/exit", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	_, body = doRequest(t, env.app, http.MethodPost, "/api/v1/events/poop", "")
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Empty(t, out.Zones, "no zone occupied means nothing is credited")
	assert.Equal(t, 2, env.pricer.Counts()[model.ZoneBlue])
}

func TestEnterZone_Unknown(t *testing.T) {
	env := newTestEnv(t, true, nil)

	resp, body := doRequest(t, env.app, http.MethodPost, "/api/v1/zones/Red/enter", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "unknown zone")
	assert.Empty(t, env.agg.Occupied())
}

func TestReset(t *testing.T) {
	env := newTestEnv(t, true, nil)

	resp, _ := doRequest(t, env.app, http.MethodPost, "/api/v1/reset", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.resetter.calls)

	env.resetter.err = errors.New("food reset: boom")
	resp, body := doRequest(t, env.app, http.MethodPost, "/api/v1/reset", "")
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "partial")
}

// --- Players ---

func TestRegisterPlayer(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.ledger.registerFn = func(ctx context.Context, name string) (*model.Player, bool, error) {
		if name == "alice" {
			return &model.Player{Name: "alice", Dollar: 100, Holdings: map[model.ZoneID]float64{model.ZoneBlue: 2}}, true, nil
		}
		return &model.Player{Name: name, Dollar: 50}, false, nil
	}

	resp, body := doRequest(t, env.app, http.MethodPost, "/api/v1/players", `{"name":"alice"}`)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var out PlayerResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "alice", out.Player.Name)
	assert.InDelta(t, 144.0, out.Wealth, 1e-9)

	resp, _ = doRequest(t, env.app, http.MethodPost, "/api/v1/players", `{"name":"bob"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "existing players are returned, not recreated")
}

func TestRegisterPlayer_Errors(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.ledger.registerFn = func(ctx context.Context, name string) (*model.Player, bool, error) {
		return nil, false, ledger.ErrInvalidName
	}

	resp, _ := doRequest(t, env.app, http.MethodPost, "/api/v1/players", "{invalid")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, env.app, http.MethodPost, "/api/v1/players", `{"name":""}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetPlayer_NotFound(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.ledger.getFn = func(ctx context.Context, name string) (*model.Player, error) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownPlayer, name)
	}

	resp, _ := doRequest(t, env.app, http.MethodGet, "/api/v1/players/ghost", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestTrade(t *testing.T) {
	env := newTestEnv(t, true, nil)
	var gotSide string
	var gotQty float64
	env.ledger.tradeFn = func(ctx context.Context, side, name string, z model.ZoneID, qty float64) (*ledger.Trade, error) {
		gotSide, gotQty = side, qty
		return &ledger.Trade{Player: model.Player{Name: name}, Side: side, Zone: z, Quantity: qty, Price: 22, Total: 22 * qty}, nil
	}

	resp, body := doRequest(t, env.app, http.MethodPost, "/api/v1/players/alice/buy", `{"zone":"blue"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, ledger.SideBuy, gotSide)
	assert.Equal(t, 1.0, gotQty, "omitted quantity trades one token")

	var trade ledger.Trade
	require.NoError(t, json.Unmarshal(body, &trade))
	assert.Equal(t, model.ZoneBlue, trade.Zone)

	resp, _ = doRequest(t, env.app, http.MethodPost, "/api/v1/players/alice/sell", `{"zone":"Blue","quantity":2.5}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, ledger.SideSell, gotSide)
	assert.Equal(t, 2.5, gotQty)
}

func TestTrade_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid quantity", ledger.ErrInvalidQuantity, fiber.StatusBadRequest},
		{"unknown player", ledger.ErrUnknownPlayer, fiber.StatusNotFound},
		{"insufficient funds", ledger.ErrInsufficientFunds, fiber.StatusConflict},
		{"insufficient holdings", ledger.ErrInsufficientHoldings, fiber.StatusConflict},
		{"rates not ready", ledger.ErrRateUnavailable, fiber.StatusServiceUnavailable},
		{"backend down", errors.New("connection refused"), fiber.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, true, nil)
			env.ledger.tradeFn = func(ctx context.Context, side, name string, z model.ZoneID, qty float64) (*ledger.Trade, error) {
				return nil, fmt.Errorf("trade: %w", tc.err)
			}
			resp, _ := doRequest(t, env.app, http.MethodPost, "/api/v1/players/alice/buy", `{"zone":"Blue","quantity":1}`)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestTrade_UnknownZone(t *testing.T) {
	env := newTestEnv(t, true, nil)
	called := false
	env.ledger.tradeFn = func(ctx context.Context, side, name string, z model.ZoneID, qty float64) (*ledger.Trade, error) {
		called = true
		return nil, nil
	}

	resp, _ := doRequest(t, env.app, http.MethodPost, "/api/v1/players/alice/buy", `{"zone":"Red"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.False(t, called)
}

// --- Leaderboard & health ---

func TestGetLeaderboard(t *testing.T) {
	env := newTestEnv(t, true, nil)

	resp, body := doRequest(t, env.app, http.MethodGet, "/api/v1/leaderboard", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out LeaderboardResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "alice", out.Entries[0].Name)
	require.NotNil(t, out.UpdatedAt)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false, nil)
	resp, body := doRequest(t, env.app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "not initialized")

	env = newTestEnv(t, true, nil)
	resp, _ = doRequest(t, env.app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	env = newTestEnv(t, true, map[string]HealthChecker{"cache": failingCheck{}})
	resp, body = doRequest(t, env.app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "redis ping failed")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)
	resp, _ := doRequest(t, env.app, http.MethodGet, "/metrics", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

// --- Overflow and non-finite input ---

type singlePlayer struct {
	p model.Player
}

func (s *singlePlayer) GetPlayer(ctx context.Context, name string) (*model.Player, error) {
	if name != s.p.Name {
		return nil, nil
	}
	p := s.p
	return &p, nil
}

func (s *singlePlayer) CreatePlayer(ctx context.Context, name string, dollars float64) (*model.Player, error) {
	s.p = model.Player{Name: name, Dollar: dollars, Holdings: map[model.ZoneID]float64{}}
	return &s.p, nil
}

func (s *singlePlayer) UpdatePlayer(ctx context.Context, p model.Player) error {
	s.p = p
	return nil
}

func (s *singlePlayer) ListPlayers(ctx context.Context) ([]model.Player, error) {
	return []model.Player{s.p}, nil
}

func (s *singlePlayer) ResetPlayers(ctx context.Context, dollars float64) error { return nil }

func TestTrade_NonFiniteFormQuantityIsRejected(t *testing.T) {
	pricer := market.NewPricer(zap.NewNop(), market.DefaultTable(), &seededStore{counts: model.Counts{}}, time.Second)
	require.NoError(t, pricer.Sync(context.Background()))
	agg := zone.NewAggregator(zap.NewNop(), pricer, zone.PolicyPerZone)
	dispatcher := engine.NewDispatcher(zap.NewNop(), agg, model.DefaultZones, nil)

	players := &singlePlayer{p: model.Player{Name: "alice", Dollar: 100, Holdings: map[model.ZoneID]float64{}}}
	led := ledger.New(zap.NewNop(), players, pricer, ledger.Config{StartingDollars: 100, Zones: model.DefaultZones})

	app := fiber.New()
	RegisterRoutes(app, NewHandler(zap.NewNop(), pricer, dispatcher, &mockResetter{}, led, staticBoard{}), nil)

	for _, qty := range []string{"NaN", "Inf", "-Inf"} {
		form := url.Values{"zone": {"Blue"}, "quantity": {qty}}
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/players/alice/buy", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "quantity %s", qty)
	}
	assert.Equal(t, 100.0, players.p.Dollar)
}

func TestGetRates_LongGameStillEncodes(t *testing.T) {
	pricer := market.NewPricer(zap.NewNop(), market.DefaultTable(), &seededStore{counts: model.Counts{model.ZoneBlue: 7420}}, time.Second)
	require.NoError(t, pricer.Sync(context.Background()))
	agg := zone.NewAggregator(zap.NewNop(), pricer, zone.PolicyPerZone)
	dispatcher := engine.NewDispatcher(zap.NewNop(), agg, model.DefaultZones, nil)

	app := fiber.New()
	RegisterRoutes(app, NewHandler(zap.NewNop(), pricer, dispatcher, &mockResetter{}, &mockLedger{}, staticBoard{}), nil)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/rates", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out RatesResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, model.MaxRate, out.Rates[model.ZoneBlue])
	assert.Equal(t, 7420, out.Counts[model.ZoneBlue])
}
