package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/pkg/model"
)

// --- fake pgx plumbing ---

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs   []execCall
	execErr error
	rows    [][]any // returned by Query
	row     []any   // returned by QueryRow; nil means no rows
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("OK"), f.execErr
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &fakeRows{data: f.rows, idx: -1}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{values: f.row}
}

type fakeRow struct{ values []any }

func (r fakeRow) Scan(dest ...any) error {
	if r.values == nil {
		return pgx.ErrNoRows
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	data [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}
func (r *fakeRows) Scan(dest ...any) error { return assign(r.data[r.idx], dest) }
func (r *fakeRows) Values() ([]any, error) { return r.data[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(values), len(dest))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *float64:
			*d = v.(float64)
		case *[]byte:
			*d = []byte(v.(string))
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

// --- tests ---

func TestPGStore_EnsureSchemaSeedsZones(t *testing.T) {
	db := &fakeDB{}
	s := NewPGWithDB(db, model.DefaultZones, zap.NewNop())

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, db.execs, 1+len(model.DefaultZones))
	assert.Contains(t, db.execs[0].sql, "zonemarket.zone_counts")
	assert.Contains(t, db.execs[0].sql, "zonemarket.players")
	assert.Contains(t, db.execs[0].sql, "zonemarket.food_signals")
	assert.Equal(t, []any{"Blue"}, db.execs[1].args)
}

func TestPGStore_EnsureSchemaFailure(t *testing.T) {
	db := &fakeDB{execErr: errors.New("permission denied")}
	s := NewPGWithDB(db, nil, zap.NewNop())
	assert.Error(t, s.EnsureSchema(context.Background()))
}

func TestPGStore_LoadCountsFillsMissingZones(t *testing.T) {
	db := &fakeDB{rows: [][]any{{"Blue", 3}, {"Green", 1}}}
	s := NewPGWithDB(db, model.DefaultZones, zap.NewNop())

	counts, err := s.LoadCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Counts{model.ZoneBlue: 3, model.ZonePurple: 0, model.ZoneYellow: 0, model.ZoneGreen: 1}, counts)
}

func TestPGStore_SaveCountsSingleStatement(t *testing.T) {
	db := &fakeDB{}
	s := NewPGWithDB(db, model.DefaultZones, zap.NewNop())

	err := s.SaveCounts(context.Background(), model.Counts{model.ZoneGreen: 2, model.ZoneBlue: 5})
	require.NoError(t, err)
	require.Len(t, db.execs, 1)
	assert.True(t, strings.Contains(db.execs[0].sql, "unnest"))
	assert.Equal(t, []string{"Blue", "Green"}, db.execs[0].args[0])
	assert.Equal(t, []int32{5, 2}, db.execs[0].args[1])
}

func TestPGStore_GetPlayer(t *testing.T) {
	db := &fakeDB{row: []any{int64(3), "alice", 64.0, `{"Blue": 2}`}}
	s := NewPGWithDB(db, model.DefaultZones, zap.NewNop())

	p, err := s.GetPlayer(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.EqualValues(t, 3, p.ID)
	assert.Equal(t, 2.0, p.Holdings[model.ZoneBlue])
	assert.Equal(t, 0.0, p.Holdings[model.ZoneGreen])
	assert.Len(t, p.Holdings, 4)
}

func TestPGStore_GetPlayerMissing(t *testing.T) {
	s := NewPGWithDB(&fakeDB{}, model.DefaultZones, zap.NewNop())

	p, err := s.GetPlayer(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPGStore_ListPlayersAndFood(t *testing.T) {
	db := &fakeDB{rows: [][]any{
		{int64(1), "alice", 10.0, `{}`},
		{int64(2), "bob", 20.0, `{"Purple": 1.5}`},
	}}
	s := NewPGWithDB(db, model.DefaultZones, zap.NewNop())

	players, err := s.ListPlayers(context.Background())
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, 1.5, players[1].Holdings[model.ZonePurple])

	db.rows = [][]any{{"Yellow", 2.0}}
	food, err := s.GetFood(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, food[model.ZoneYellow])
	assert.Equal(t, 0.0, food[model.ZoneBlue])
}

func TestPGStore_UpdatePlayerEncodesHoldings(t *testing.T) {
	db := &fakeDB{}
	s := NewPGWithDB(db, model.DefaultZones, zap.NewNop())

	err := s.UpdatePlayer(context.Background(), model.Player{
		Name: "alice", Dollar: 42, Holdings: map[model.ZoneID]float64{model.ZoneBlue: 1},
	})
	require.NoError(t, err)
	require.Len(t, db.execs, 1)
	assert.Equal(t, "alice", db.execs[0].args[0])
	assert.JSONEq(t, `{"Blue":1}`, db.execs[0].args[2].(string))
}

func TestNewPG_RejectsBadURL(t *testing.T) {
	_, err := NewPG(context.Background(), "", PGPoolConfig{}, nil, nil)
	assert.Error(t, err)

	_, err = NewPG(context.Background(), "postgres://%zz", PGPoolConfig{}, nil, nil)
	assert.Error(t, err)
}
