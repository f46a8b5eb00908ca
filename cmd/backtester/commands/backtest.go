package commands

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpaton/backtester/internal/backtest"
	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/portfolio"
	"github.com/mpaton/backtester/internal/strategy"
	"github.com/mpaton/backtester/pkg/config"
	"github.com/mpaton/backtester/pkg/logger"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a single backtest",
	Long: `Simulates one strategy over the local price file and prints the
result as JSON.

Example:
  go run ./cmd/backtester backtest --strategy momentum --start 2021-01-01 --end 2023-12-31
  go run ./cmd/backtester backtest --strategy scoring --n-tickers 10 --stop-loss 10 --smart-stop-loss`,
	RunE: runBacktest,
}

var (
	btStrategy   string
	btNTickers   int
	btRebalance  int
	btUnit       string
	btLookback   int
	btFilterNeg  bool
	btSeed       int64
	btStart      string
	btEnd        string
	btCapital    float64
	btStopLoss   float64
	btSmartStop  bool
	btFee        bool
	btFeeType    string
	btFeeValue   float64
	btTax        bool
	btTaxRate    float64
	btMargin     bool
	btSizing     string
	btOutputFile string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	// Flags
	backtestCmd.Flags().StringVar(&btStrategy, "strategy", "momentum", "strategy (random|momentum|scoring)")
	backtestCmd.Flags().IntVar(&btNTickers, "n-tickers", 5, "number of tickers to hold")
	backtestCmd.Flags().IntVar(&btRebalance, "rebalance", 1, "rebalance period")
	backtestCmd.Flags().StringVar(&btUnit, "rebalance-unit", strategy.UnitMonths, "rebalance unit (days|weeks|months)")
	backtestCmd.Flags().IntVar(&btLookback, "lookback", 30, "momentum lookback days")
	backtestCmd.Flags().BoolVar(&btFilterNeg, "filter-negative", false, "skip tickers with negative momentum")
	backtestCmd.Flags().Int64Var(&btSeed, "seed", 0, "random strategy seed (0 = time based)")
	backtestCmd.Flags().StringVar(&btStart, "start", "", "start date (YYYY-MM-DD)")
	backtestCmd.Flags().StringVar(&btEnd, "end", "", "end date (YYYY-MM-DD)")
	backtestCmd.Flags().Float64Var(&btCapital, "capital", 10000, "initial capital")
	backtestCmd.Flags().Float64Var(&btStopLoss, "stop-loss", 0, "stop loss percent (0 disables)")
	backtestCmd.Flags().BoolVar(&btSmartStop, "smart-stop-loss", false, "replace stopped positions with ranked candidates")
	backtestCmd.Flags().BoolVar(&btFee, "fee", false, "enable transaction fees")
	backtestCmd.Flags().StringVar(&btFeeType, "fee-type", portfolio.FeePercentage, "fee type (percentage|fixed)")
	backtestCmd.Flags().Float64Var(&btFeeValue, "fee-value", 0, "fee value (percent or flat amount)")
	backtestCmd.Flags().BoolVar(&btTax, "tax", false, "enable annual capital gains tax")
	backtestCmd.Flags().Float64Var(&btTaxRate, "tax-rate", 0, "tax rate percent")
	backtestCmd.Flags().BoolVar(&btMargin, "margin", false, "allow one extra share on margin")
	backtestCmd.Flags().StringVar(&btSizing, "sizing", portfolio.SizingEqual, "position sizing (equal|var)")
	backtestCmd.Flags().StringVarP(&btOutputFile, "output", "o", "", "write result JSON to file instead of stdout")

	backtestCmd.MarkFlagRequired("start")
	backtestCmd.MarkFlagRequired("end")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newCommandLogger(cfg)

	start, err := time.Parse("2006-01-02", btStart)
	if err != nil {
		return fmt.Errorf("invalid --start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", btEnd)
	if err != nil {
		return fmt.Errorf("invalid --end date: %w", err)
	}

	table, err := loadPriceTable(cfg)
	if err != nil {
		return err
	}

	strat, err := buildCLIStrategy(table)
	if err != nil {
		return err
	}

	engine := backtest.NewEngine(table, log)
	result, err := engine.Run(strat, backtest.Config{
		InitialCapital: btCapital,
		StartDate:      start,
		EndDate:        end,
		StopLossPct:    btStopLoss / 100,
		SmartStopLoss:  btSmartStop,
		FeeEnabled:     btFee,
		FeeType:        btFeeType,
		FeeValue:       btFeeValue,
		TaxEnabled:     btTax,
		TaxRatePct:     btTaxRate,
		MarginEnabled:  btMargin,
		SizingMethod:   btSizing,
	})
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if btOutputFile != "" {
		if err := os.WriteFile(btOutputFile, payload, 0o644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		fmt.Printf("Result written to %s\n", btOutputFile)
	} else {
		fmt.Println(string(payload))
	}

	fmt.Printf("\nFinal Value: $%.2f | Total Return: %.2f%% | CAGR: %.2f%% | Max DD: %.2f%%\n",
		result.FinalValue, result.TotalReturn*100, result.CAGR*100, result.MaxDrawdown*100)
	return nil
}

// buildCLIStrategy constructs the strategy selected by flags.
func buildCLIStrategy(table *marketdata.Table) (strategy.Strategy, error) {
	switch btStrategy {
	case "random":
		seed := btSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return strategy.NewRandom(btNTickers, btRebalance, btUnit, rand.New(rand.NewSource(seed))), nil
	case "momentum":
		return strategy.NewMomentum(btNTickers, btRebalance, btUnit, table, btLookback, btFilterNeg), nil
	case "scoring":
		return strategy.NewScoring(btNTickers, btRebalance, btUnit, table), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (valid: random, momentum, scoring)", btStrategy)
	}
}

// loadPriceTable reads the price file named by the --data flag or config.
func loadPriceTable(cfg *config.Config) (*marketdata.Table, error) {
	path := dataFile
	if path == "" {
		path = cfg.Data.PriceFile()
	}

	table, err := marketdata.ReadCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("load price file %s: %w", path, err)
	}
	return table, nil
}

// newCommandLogger builds a logger honoring the --verbose flag.
func newCommandLogger(cfg *config.Config) *logger.Logger {
	if verbose {
		cfg.LogLevel = "debug"
	}
	return logger.New(cfg)
}
