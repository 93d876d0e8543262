package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/backend"
	"github.com/aipoopers/zonemarket/internal/market"
	"github.com/aipoopers/zonemarket/internal/rate"
	"github.com/aipoopers/zonemarket/internal/store"
	"github.com/aipoopers/zonemarket/pkg/config"
	"github.com/aipoopers/zonemarket/pkg/model"
	"github.com/aipoopers/zonemarket/pkg/secrets"
	"github.com/aipoopers/zonemarket/pkg/utils"
)

// buildTable loads the rate table from ZONES_FILE, or builds a uniform one from env.
func buildTable(cfg *config.Config) (*market.Table, error) {
	if cfg.ZonesFile != "" {
		return market.LoadTable(cfg.ZonesFile)
	}
	return market.NewTable(model.ZoneIDs(cfg.Zones), cfg.BaseRate, cfg.GrowthFactor)
}

// buildCredentials picks where the backend API key comes from.
func buildCredentials(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.CredentialSource, error) {
	var provider secrets.Provider
	var secret string

	switch strings.ToLower(cfg.CredentialsSource) {
	case "file", "":
		provider = secrets.NewFileProvider(filepath.Dir(cfg.CredentialsPath))
		secret = filepath.Base(cfg.CredentialsPath)
	case "aws":
		p, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("aws secrets provider: %w", err)
		}
		provider = p
		secret = cfg.AWSSecretName
	case "none":
		return backend.StaticKey(""), nil
	default:
		return nil, fmt.Errorf("unknown credentials source %q", cfg.CredentialsSource)
	}

	cache := secrets.NewCache[string](cfg.SecretCacheTTL)
	return secrets.NewKeyResolver(logger, provider, secret, cfg.CredentialsKey, cache), nil
}

// buildStore opens the configured persistence backend.
func buildStore(ctx context.Context, cfg *config.Config, zones []model.ZoneID, logger *zap.Logger) (store.Store, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "postgres", "pg":
		logger.Info("store.postgres", zap.String("dsn", utils.MaskDSN(cfg.DatabaseURL)))
		return store.NewPG(ctx, cfg.DatabaseURL, store.PGPoolConfig{
			MaxConns:        int32(cfg.PGMaxConns),
			MinConns:        int32(cfg.PGMinConns),
			MaxConnLifetime: cfg.PGMaxConnLifetime,
		}, zones, logger)
	case "rest", "":
		creds, err := buildCredentials(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rateMgr := rate.NewManager(rate.Config{
			RequestsPerSecond: cfg.BackendRPS,
			Burst:             cfg.BackendBurst,
		})
		client := backend.NewClient(logger, rateMgr, cfg.BackendURL, cfg.BackendTimeout, cfg.BackendRetryMax, creds)
		logger.Info("store.rest", zap.String("url", cfg.BackendURL), zap.String("table", cfg.PlayersTable))
		return store.NewRESTStore(logger, client, store.RESTConfig{
			PlayersTable: cfg.PlayersTable,
			PlayerColumn: cfg.PlayerColumn,
			SystemTable:  cfg.SystemTable,
			SystemColumn: cfg.SystemColumn,
			MarketRow:    cfg.MarketRow,
			FoodRow:      cfg.FoodRow,
			Zones:        zones,
		}), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// reservedNames are the sentinel rows that share the players table.
func reservedNames(cfg *config.Config) []string {
	return []string{cfg.MarketRow, cfg.FoodRow}
}
