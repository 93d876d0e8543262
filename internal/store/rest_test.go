package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/backend"
	"github.com/aipoopers/zonemarket/pkg/model"
)

// fakeBackend is a minimal in-memory PostgREST: eq/neq filters, insert with
// representation, and filtered patches.
type fakeBackend struct {
	mu       sync.Mutex
	tables   map[string][]map[string]any
	nextID   int
	requests []string
	failGets bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tables: map[string][]map[string]any{}, nextID: 1}
}

func (f *fakeBackend) seed(table string, row map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row["id"] = float64(f.nextID)
	f.nextID++
	f.tables[table] = append(f.tables[table], row)
}

func (f *fakeBackend) rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.tables[table]...)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	f.requests = append(f.requests, r.Method+" "+table+"?"+r.URL.RawQuery)

	match := func(row map[string]any) bool {
		for col, conds := range r.URL.Query() {
			if col == "select" {
				continue
			}
			for _, cond := range conds {
				op, val, _ := strings.Cut(cond, ".")
				got := fmt.Sprintf("%v", row[col])
				if (op == "eq" && got != val) || (op == "neq" && got == val) {
					return false
				}
			}
		}
		return true
	}

	switch r.Method {
	case http.MethodGet:
		if f.failGets {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"bad filter"}`))
			return
		}
		out := []map[string]any{}
		for _, row := range f.tables[table] {
			if match(row) {
				out = append(out, row)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		var row map[string]any
		_ = json.NewDecoder(r.Body).Decode(&row)
		row["id"] = float64(f.nextID)
		f.nextID++
		f.tables[table] = append(f.tables[table], row)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode([]map[string]any{row})
	case http.MethodPatch:
		var patch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&patch)
		for _, row := range f.tables[table] {
			if match(row) {
				for k, v := range patch {
					row[k] = v
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newRESTStore(t *testing.T, fb *fakeBackend) *RESTStore {
	t.Helper()
	server := httptest.NewServer(fb)
	t.Cleanup(server.Close)

	client := backend.NewClient(zap.NewNop(), nil, server.URL, 2*time.Second, 0, backend.StaticKey("test-key"))
	return NewRESTStore(zap.NewNop(), client, RESTConfig{
		PlayersTable: "AiPoopers",
		PlayerColumn: "Player",
		SystemTable:  "AiPoopersSystem",
		SystemColumn: "Field",
		MarketRow:    "Market",
		FoodRow:      "Food",
		Zones:        model.DefaultZones,
	})
}

func TestRESTStore_LoadCountsCreatesMarketRow(t *testing.T) {
	fb := newFakeBackend()
	s := newRESTStore(t, fb)

	counts, err := s.LoadCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Counts{model.ZoneBlue: 0, model.ZonePurple: 0, model.ZoneYellow: 0, model.ZoneGreen: 0}, counts)

	rows := fb.rows("AiPoopers")
	require.Len(t, rows, 1)
	assert.Equal(t, "Market", rows[0]["Player"])
}

func TestRESTStore_SaveCountsPatchesMarketRowByID(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("AiPoopers", map[string]any{"Player": "alice", "Dollar": 100.0, "Blue": 0.0})
	fb.seed("AiPoopers", map[string]any{"Player": "Market", "Dollar": 0.0, "Blue": 1.0, "Purple": 0.0, "Yellow": 0.0, "Green": 0.0})
	s := newRESTStore(t, fb)

	counts, err := s.LoadCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.ZoneBlue])

	counts[model.ZoneBlue] = 4
	require.NoError(t, s.SaveCounts(context.Background(), counts))

	rows := fb.rows("AiPoopers")
	assert.Equal(t, 0.0, rows[0]["Blue"], "player rows are untouched")
	assert.Equal(t, 4.0, rows[1]["Blue"])
	assert.Contains(t, fb.requests, "PATCH AiPoopers?id=eq.2")
}

func TestRESTStore_SaveBeforeLoadFindsRow(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("AiPoopers", map[string]any{"Player": "Market", "Dollar": 0.0, "Blue": 0.0})
	s := newRESTStore(t, fb)

	require.NoError(t, s.SaveCounts(context.Background(), model.Counts{model.ZoneGreen: 2}))
	assert.Equal(t, 2.0, fb.rows("AiPoopers")[0]["Green"])
}

func TestRESTStore_MalformedCounts(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("AiPoopers", map[string]any{"Player": "Market", "Dollar": 0.0, "Blue": 1.5})
	s := newRESTStore(t, fb)

	_, err := s.LoadCounts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrMalformedResponse))
}

func TestRESTStore_PlayerLifecycle(t *testing.T) {
	fb := newFakeBackend()
	s := newRESTStore(t, fb)
	ctx := context.Background()

	p, err := s.GetPlayer(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = s.CreatePlayer(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.Dollar)
	assert.NotZero(t, p.ID)

	p.Dollar = 78
	p.Holdings[model.ZoneBlue] = 1
	require.NoError(t, s.UpdatePlayer(ctx, *p))

	got, err := s.GetPlayer(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 78.0, got.Dollar)
	assert.Equal(t, 1.0, got.Holdings[model.ZoneBlue])
}

func TestRESTStore_ReservedNames(t *testing.T) {
	s := newRESTStore(t, newFakeBackend())

	_, err := s.CreatePlayer(context.Background(), "Market", 100)
	assert.ErrorIs(t, err, ErrReservedName)

	_, err = s.GetPlayer(context.Background(), "Food")
	assert.ErrorIs(t, err, ErrReservedName)
}

func TestRESTStore_ListAndResetPlayersSkipSentinels(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("AiPoopers", map[string]any{"Player": "Market", "Dollar": 1000000.0, "Blue": 3.0})
	fb.seed("AiPoopers", map[string]any{"Player": "alice", "Dollar": 40.0, "Blue": 2.0})
	fb.seed("AiPoopers", map[string]any{"Player": "bob", "Dollar": 150.0, "Green": 1.0})
	s := newRESTStore(t, fb)
	ctx := context.Background()

	players, err := s.ListPlayers(ctx)
	require.NoError(t, err)
	require.Len(t, players, 2)

	require.NoError(t, s.ResetPlayers(ctx, 100))

	rows := fb.rows("AiPoopers")
	assert.Equal(t, 1000000.0, rows[0]["Dollar"], "market row keeps its values")
	assert.Equal(t, 3.0, rows[0]["Blue"])
	for _, row := range rows[1:] {
		assert.Equal(t, 100.0, row["Dollar"])
		assert.Equal(t, 0.0, row["Blue"])
		assert.Equal(t, 0.0, row["Green"])
	}
}

func TestRESTStore_Food(t *testing.T) {
	fb := newFakeBackend()
	s := newRESTStore(t, fb)
	ctx := context.Background()

	values, err := s.GetFood(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, values[model.ZoneBlue], "missing row reads as zeros")

	require.NoError(t, s.EnsureFood(ctx))
	require.Len(t, fb.rows("AiPoopersSystem"), 1)
	require.NoError(t, s.EnsureFood(ctx))
	require.Len(t, fb.rows("AiPoopersSystem"), 1, "ensure is idempotent")

	fb.mu.Lock()
	fb.tables["AiPoopersSystem"][0]["Yellow"] = 3.0
	fb.mu.Unlock()

	values, err = s.GetFood(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, values[model.ZoneYellow])

	require.NoError(t, s.ResetFood(ctx))
	assert.Equal(t, 0.0, fb.rows("AiPoopersSystem")[0]["Yellow"])
}

func TestRESTStore_HealthCheckSurfacesStatusError(t *testing.T) {
	fb := newFakeBackend()
	fb.failGets = true
	s := newRESTStore(t, fb)

	err := s.HealthCheck(context.Background())
	var se *backend.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
}
