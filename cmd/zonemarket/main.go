// zonemarket runs the zone token market: it counts poop events per zone,
// prices each zone's token from its count and settles player trades.
//
// Usage:
//
//	zonemarket serve    - Run the market service
//	zonemarket rates    - Print the persisted counts and the rates they imply
//	zonemarket reset    - Reset counts, food signals and player ledgers
//
// Configuration is read from the environment and an optional .env file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zonemarket",
	Short: "Zone token market for AI Poopers",
	Long: `zonemarket aggregates poop events per play-field zone, prices each
zone's token as base * growth^count and keeps the player ledgers.

Examples:
  zonemarket serve
  zonemarket rates
  zonemarket reset --yes`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ratesCmd)
	rootCmd.AddCommand(resetCmd)
}
