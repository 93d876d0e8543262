package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aipoopers/zonemarket/pkg/config"
	"github.com/aipoopers/zonemarket/pkg/logger"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Print the persisted zone counts and their rates",
	Long: `Read the market row from the configured store and print each zone's
count and the rate it implies. Nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runRates,
}

func runRates(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, "warn")
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

	counts, err := st.LoadCounts(cmd.Context())
	if err != nil {
		return fmt.Errorf("load counts: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ZONE\tCOUNT\tRATE")
	for _, z := range table.Zones() {
		fmt.Fprintf(w, "%s\t%d\t%.4f\n", z, counts[z], table.ComputeRate(z, counts[z]))
	}
	return w.Flush()
}
