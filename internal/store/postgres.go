package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/pkg/model"
)

// Schema splits the hosted overloaded table into one table per concern.
const Schema = `
CREATE SCHEMA IF NOT EXISTS zonemarket;

CREATE TABLE IF NOT EXISTS zonemarket.zone_counts (
	zone       TEXT PRIMARY KEY,
	count      INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS zonemarket.players (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	dollar     DOUBLE PRECISION NOT NULL CHECK (dollar >= 0),
	holdings   JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS zonemarket.food_signals (
	zone       TEXT PRIMARY KEY,
	value      DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGPoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// PGStore keeps counts, players and food signals in their own Postgres tables.
type PGStore struct {
	db     DB
	pool   *pgxpool.Pool
	zones  []model.ZoneID
	logger *zap.Logger
}

// NewPG connects to pgURL and creates the schema if needed.
func NewPG(ctx context.Context, pgURL string, poolCfg PGPoolConfig, zones []model.ZoneID, logger *zap.Logger) (*PGStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pgURL == "" {
		return nil, errors.New("postgres url is empty")
	}
	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	s := NewPGWithDB(pool, zones, logger)
	s.pool = pool
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPGWithDB wraps an existing connection.
func NewPGWithDB(db DB, zones []model.ZoneID, logger *zap.Logger) *PGStore {
	if len(zones) == 0 {
		zones = model.DefaultZones
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGStore{db: db, zones: zones, logger: logger}
}

// EnsureSchema creates the tables and seeds a zero row for every zone.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		s.logger.Error("store.pg.schema_failed", zap.Error(err))
		return fmt.Errorf("create schema: %w", err)
	}
	for _, z := range s.zones {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO zonemarket.zone_counts (zone, count) VALUES ($1, 0)
			ON CONFLICT (zone) DO NOTHING;
		`, string(z)); err != nil {
			return fmt.Errorf("seed zone %s: %w", z, err)
		}
	}
	return nil
}

func (s *PGStore) LoadCounts(ctx context.Context) (model.Counts, error) {
	rows, err := s.db.Query(ctx, `SELECT zone, count FROM zonemarket.zone_counts;`)
	if err != nil {
		return nil, fmt.Errorf("load counts: %w", err)
	}
	defer rows.Close()

	counts := make(model.Counts, len(s.zones))
	for _, z := range s.zones {
		counts[z] = 0
	}
	for rows.Next() {
		var zone string
		var n int
		if err := rows.Scan(&zone, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.ZoneID(zone)] = n
	}
	return counts, rows.Err()
}

// SaveCounts upserts every zone in a single statement.
func (s *PGStore) SaveCounts(ctx context.Context, counts model.Counts) error {
	zones := counts.Zones()
	names := make([]string, len(zones))
	values := make([]int32, len(zones))
	for i, z := range zones {
		names[i] = string(z)
		values[i] = int32(counts[z])
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO zonemarket.zone_counts (zone, count, updated_at)
		SELECT zone, count, NOW() FROM unnest($1::text[], $2::int4[]) AS t(zone, count)
		ON CONFLICT (zone) DO UPDATE SET count = EXCLUDED.count, updated_at = EXCLUDED.updated_at;
	`, names, values)
	if err != nil {
		s.logger.Error("store.pg.save_counts_failed", zap.Error(err))
		return fmt.Errorf("save counts: %w", err)
	}
	return nil
}

func (s *PGStore) GetPlayer(ctx context.Context, name string) (*model.Player, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, dollar, holdings FROM zonemarket.players WHERE name = $1;
	`, name)
	p, err := s.scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", name, err)
	}
	return p, nil
}

func (s *PGStore) CreatePlayer(ctx context.Context, name string, dollars float64) (*model.Player, error) {
	holdings := make(map[model.ZoneID]float64, len(s.zones))
	for _, z := range s.zones {
		holdings[z] = 0
	}
	data, err := json.Marshal(holdings)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO zonemarket.players (name, dollar, holdings) VALUES ($1, $2, $3::jsonb)
		RETURNING id, name, dollar, holdings;
	`, name, dollars, string(data))
	p, err := s.scanPlayer(row)
	if err != nil {
		s.logger.Error("store.pg.create_player_failed", zap.String("player", name), zap.Error(err))
		return nil, fmt.Errorf("create player %s: %w", name, err)
	}
	return p, nil
}

func (s *PGStore) UpdatePlayer(ctx context.Context, p model.Player) error {
	data, err := json.Marshal(p.Holdings)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		UPDATE zonemarket.players SET dollar = $2, holdings = $3::jsonb, updated_at = NOW()
		WHERE name = $1;
	`, p.Name, p.Dollar, string(data))
	if err != nil {
		s.logger.Error("store.pg.update_player_failed", zap.String("player", p.Name), zap.Error(err))
		return fmt.Errorf("update player %s: %w", p.Name, err)
	}
	return nil
}

func (s *PGStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, dollar, holdings FROM zonemarket.players ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		p, err := s.scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (s *PGStore) ResetPlayers(ctx context.Context, dollars float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE zonemarket.players SET dollar = $1, holdings = '{}'::jsonb, updated_at = NOW();
	`, dollars)
	if err != nil {
		return fmt.Errorf("reset players: %w", err)
	}
	return nil
}

func (s *PGStore) EnsureFood(ctx context.Context) error {
	for _, z := range s.zones {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO zonemarket.food_signals (zone, value) VALUES ($1, 0)
			ON CONFLICT (zone) DO NOTHING;
		`, string(z)); err != nil {
			return fmt.Errorf("ensure food %s: %w", z, err)
		}
	}
	return nil
}

func (s *PGStore) GetFood(ctx context.Context) (map[model.ZoneID]float64, error) {
	rows, err := s.db.Query(ctx, `SELECT zone, value FROM zonemarket.food_signals;`)
	if err != nil {
		return nil, fmt.Errorf("get food: %w", err)
	}
	defer rows.Close()

	values := make(map[model.ZoneID]float64, len(s.zones))
	for _, z := range s.zones {
		values[z] = 0
	}
	for rows.Next() {
		var zone string
		var v float64
		if err := rows.Scan(&zone, &v); err != nil {
			return nil, fmt.Errorf("scan food: %w", err)
		}
		values[model.ZoneID(zone)] = v
	}
	return values, rows.Err()
}

func (s *PGStore) ResetFood(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `UPDATE zonemarket.food_signals SET value = 0, updated_at = NOW();`); err != nil {
		return fmt.Errorf("reset food: %w", err)
	}
	return nil
}

func (s *PGStore) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *PGStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *PGStore) scanPlayer(row scanner) (*model.Player, error) {
	var (
		p   model.Player
		raw []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Dollar, &raw); err != nil {
		return nil, err
	}
	p.Holdings = make(map[model.ZoneID]float64, len(s.zones))
	for _, z := range s.zones {
		p.Holdings[z] = 0
	}
	if len(raw) > 0 {
		var h map[model.ZoneID]float64
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("decode holdings of %s: %w", p.Name, err)
		}
		for z, v := range h {
			p.Holdings[z] = v
		}
	}
	return &p, nil
}
