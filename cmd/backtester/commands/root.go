package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	dataFile string
	verbose  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "backtester",
	Short: "Portfolio strategy backtester",
	Long: `Backtester CLI

Simulates ranking strategies over daily closing prices, searches
parameter grids and serves both over a REST API.

Usage:
  go run ./cmd/backtester [command]

Examples:
  go run ./cmd/backtester api
  go run ./cmd/backtester data download --tickers AAPL,MSFT --start 2020-01-01 --end 2023-12-31
  go run ./cmd/backtester backtest --strategy momentum --start 2021-01-01 --end 2023-12-31
  go run ./cmd/backtester optimize --request request.json`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dataFile, "data", "", "price CSV file (default from DATA_DIR/DATA_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
