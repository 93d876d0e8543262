package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/backend"
	"github.com/aipoopers/zonemarket/pkg/model"
)

// RESTConfig names the hosted tables and sentinel rows.
type RESTConfig struct {
	PlayersTable string // player ledgers plus the market sentinel row
	PlayerColumn string
	SystemTable  string // food signal row
	SystemColumn string
	MarketRow    string
	FoodRow      string
	Zones        []model.ZoneID
}

// RESTStore keeps everything in the hosted overloaded tables: the market row
// (PlayerColumn = MarketRow) holds counts in its zone columns, the food row in the
// system table holds food values, and every other player row is a ledger.
type RESTStore struct {
	logger *zap.Logger
	client *backend.Client
	cfg    RESTConfig

	mu       sync.Mutex
	marketID int64
	foodID   int64
}

// NewRESTStore returns a store over client.
func NewRESTStore(logger *zap.Logger, client *backend.Client, cfg RESTConfig) *RESTStore {
	if len(cfg.Zones) == 0 {
		cfg.Zones = model.DefaultZones
	}
	return &RESTStore{logger: logger, client: client, cfg: cfg}
}

// LoadCounts reads the market row, creating it with zero counts when absent.
func (s *RESTStore) LoadCounts(ctx context.Context) (model.Counts, error) {
	row, err := s.fetchOrCreate(ctx, s.cfg.PlayersTable, s.cfg.PlayerColumn, s.cfg.MarketRow)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.marketID = row.ID
	s.mu.Unlock()

	counts, err := row.Counts(s.cfg.Zones)
	if err != nil {
		return nil, fmt.Errorf("%w: market row: %v", backend.ErrMalformedResponse, err)
	}
	return counts, nil
}

// SaveCounts patches the zone columns of the market row.
func (s *RESTStore) SaveCounts(ctx context.Context, counts model.Counts) error {
	s.mu.Lock()
	id := s.marketID
	s.mu.Unlock()

	if id == 0 {
		row, err := s.fetchOrCreate(ctx, s.cfg.PlayersTable, s.cfg.PlayerColumn, s.cfg.MarketRow)
		if err != nil {
			return err
		}
		id = row.ID
		s.mu.Lock()
		s.marketID = id
		s.mu.Unlock()
	}

	filters := []backend.Filter{backend.Eq("id", strconv.FormatInt(id, 10))}
	if err := s.client.Update(ctx, s.cfg.PlayersTable, filters, model.CountsPatch(counts)); err != nil {
		return fmt.Errorf("save counts: %w", err)
	}
	return nil
}

func (s *RESTStore) GetPlayer(ctx context.Context, name string) (*model.Player, error) {
	if s.reserved(name) {
		return nil, ErrReservedName
	}
	var rows []model.Row
	if err := s.client.Select(ctx, s.cfg.PlayersTable, []backend.Filter{backend.Eq(s.cfg.PlayerColumn, name)}, &rows); err != nil {
		return nil, fmt.Errorf("get player %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p := model.PlayerFromRow(rows[0], s.cfg.Zones)
	return &p, nil
}

func (s *RESTStore) CreatePlayer(ctx context.Context, name string, dollars float64) (*model.Player, error) {
	if s.reserved(name) {
		return nil, ErrReservedName
	}
	var created []model.Row
	row := model.NewRow(s.cfg.PlayerColumn, name, dollars, s.cfg.Zones)
	if err := s.client.Insert(ctx, s.cfg.PlayersTable, row, &created); err != nil {
		return nil, fmt.Errorf("create player %s: %w", name, err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("%w: insert of player %s returned no row", backend.ErrMalformedResponse, name)
	}
	p := model.PlayerFromRow(created[0], s.cfg.Zones)
	s.logger.Info("store.player_created", zap.String("player", name), zap.Int64("id", p.ID))
	return &p, nil
}

func (s *RESTStore) UpdatePlayer(ctx context.Context, p model.Player) error {
	filter := backend.Eq(s.cfg.PlayerColumn, p.Name)
	if p.ID != 0 {
		filter = backend.Eq("id", strconv.FormatInt(p.ID, 10))
	}
	patch := map[string]any{"Dollar": p.Dollar}
	for _, z := range s.cfg.Zones {
		patch[string(z)] = p.Holdings[z]
	}
	if err := s.client.Update(ctx, s.cfg.PlayersTable, []backend.Filter{filter}, patch); err != nil {
		return fmt.Errorf("update player %s: %w", p.Name, err)
	}
	return nil
}

// ListPlayers returns every ledger row, excluding the sentinel rows.
func (s *RESTStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	var rows []model.Row
	if err := s.client.Select(ctx, s.cfg.PlayersTable, s.playerFilters(), &rows); err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	players := make([]model.Player, 0, len(rows))
	for _, r := range rows {
		if s.reserved(r.Name) {
			continue
		}
		players = append(players, model.PlayerFromRow(r, s.cfg.Zones))
	}
	return players, nil
}

func (s *RESTStore) ResetPlayers(ctx context.Context, dollars float64) error {
	patch := map[string]any{"Dollar": dollars}
	for _, z := range s.cfg.Zones {
		patch[string(z)] = 0
	}
	if err := s.client.Update(ctx, s.cfg.PlayersTable, s.playerFilters(), patch); err != nil {
		return fmt.Errorf("reset players: %w", err)
	}
	return nil
}

func (s *RESTStore) EnsureFood(ctx context.Context) error {
	row, err := s.fetchOrCreate(ctx, s.cfg.SystemTable, s.cfg.SystemColumn, s.cfg.FoodRow)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.foodID = row.ID
	s.mu.Unlock()
	return nil
}

// GetFood reads the food row. A missing row reads as all zeros.
func (s *RESTStore) GetFood(ctx context.Context) (map[model.ZoneID]float64, error) {
	var rows []model.Row
	if err := s.client.Select(ctx, s.cfg.SystemTable, []backend.Filter{backend.Eq(s.cfg.SystemColumn, s.cfg.FoodRow)}, &rows); err != nil {
		return nil, fmt.Errorf("get food: %w", err)
	}
	values := make(map[model.ZoneID]float64, len(s.cfg.Zones))
	for _, z := range s.cfg.Zones {
		values[z] = 0
	}
	if len(rows) == 0 {
		return values, nil
	}
	for _, z := range s.cfg.Zones {
		values[z] = rows[0].Values[z]
	}
	return values, nil
}

func (s *RESTStore) ResetFood(ctx context.Context) error {
	patch := make(map[string]any, len(s.cfg.Zones))
	for _, z := range s.cfg.Zones {
		patch[string(z)] = 0
	}
	filters := []backend.Filter{backend.Eq(s.cfg.SystemColumn, s.cfg.FoodRow)}
	if err := s.client.Update(ctx, s.cfg.SystemTable, filters, patch); err != nil {
		return fmt.Errorf("reset food: %w", err)
	}
	return nil
}

// HealthCheck reads the market row.
func (s *RESTStore) HealthCheck(ctx context.Context) error {
	var rows []model.Row
	return s.client.Select(ctx, s.cfg.PlayersTable, []backend.Filter{backend.Eq(s.cfg.PlayerColumn, s.cfg.MarketRow)}, &rows)
}

func (s *RESTStore) Close() error { return nil }

func (s *RESTStore) fetchOrCreate(ctx context.Context, table, column, name string) (model.Row, error) {
	var rows []model.Row
	if err := s.client.Select(ctx, table, []backend.Filter{backend.Eq(column, name)}, &rows); err != nil {
		return model.Row{}, fmt.Errorf("fetch %s row: %w", name, err)
	}
	if len(rows) > 0 {
		return rows[0], nil
	}

	s.logger.Info("store.row_missing_creating", zap.String("table", table), zap.String("row", name))
	var created []model.Row
	if err := s.client.Insert(ctx, table, model.NewRow(column, name, 0, s.cfg.Zones), &created); err != nil {
		return model.Row{}, fmt.Errorf("create %s row: %w", name, err)
	}
	if len(created) == 0 {
		return model.Row{}, fmt.Errorf("%w: insert of %s row returned no row", backend.ErrMalformedResponse, name)
	}
	return created[0], nil
}

func (s *RESTStore) playerFilters() []backend.Filter {
	return []backend.Filter{
		backend.Neq(s.cfg.PlayerColumn, s.cfg.MarketRow),
		backend.Neq(s.cfg.PlayerColumn, s.cfg.FoodRow),
	}
}

func (s *RESTStore) reserved(name string) bool {
	return name == s.cfg.MarketRow || name == s.cfg.FoodRow
}
