package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aipoopers/zonemarket/internal/game"
	"github.com/aipoopers/zonemarket/internal/market"
	"github.com/aipoopers/zonemarket/internal/zone"
	"github.com/aipoopers/zonemarket/pkg/config"
	"github.com/aipoopers/zonemarket/pkg/logger"
)

var flagResetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset zone counts, food signals and player ledgers",
	Long: `Zero every zone count, clear the food signals and return every player
to the starting balance with no holdings. Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&flagResetYes, "yes", false, "Confirm the reset")
}

func runReset(cmd *cobra.Command, _ []string) error {
	if !flagResetYes {
		return errors.New("refusing to reset without --yes")
	}

	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	log := logger.L()

	table, err := buildTable(cfg)
	if err != nil {
		return fmt.Errorf("rate table: %w", err)
	}
	st, err := buildStore(cmd.Context(), cfg, table.Zones(), log)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	pricer := market.NewPricer(log, table, st, cfg.FlushInterval)
	agg := zone.NewAggregator(log, pricer, zone.PolicyPerZone)
	resetter := game.NewResetter(log, agg, pricer, st, st, cfg.StartingDollars)
	if err := resetter.Reset(cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "market reset")
	return nil
}
