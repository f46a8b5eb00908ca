package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpaton/backtester/internal/optimize"
	"github.com/mpaton/backtester/pkg/config"
)

// optimizeCmd represents the optimize command
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run a parameter search",
	Long: `Runs a grid, train/test or walk-forward search described by a
request JSON file and saves a report.

Example:
  go run ./cmd/backtester optimize --request request.json
  go run ./cmd/backtester optimize --request request.json --brokers brokers.yaml`,
	RunE: runOptimize,
}

var (
	optRequestFile string
	optBrokersFile string
	optResultsDir  string
)

func init() {
	rootCmd.AddCommand(optimizeCmd)

	// Flags
	optimizeCmd.Flags().StringVar(&optRequestFile, "request", "", "request JSON file")
	optimizeCmd.Flags().StringVar(&optBrokersFile, "brokers", "", "broker presets YAML (default built-in)")
	optimizeCmd.Flags().StringVar(&optResultsDir, "results-dir", "", "report directory (default from RESULTS_DIR)")

	optimizeCmd.MarkFlagRequired("request")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newCommandLogger(cfg)

	payload, err := os.ReadFile(optRequestFile)
	if err != nil {
		return fmt.Errorf("read request file: %w", err)
	}
	var req optimize.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parse request file: %w", err)
	}

	table, err := loadPriceTable(cfg)
	if err != nil {
		return err
	}

	brokers, err := optimize.LoadBrokers(optBrokersFile)
	if err != nil {
		return fmt.Errorf("load brokers: %w", err)
	}

	optimizer := optimize.New(table, brokers, log)

	// Print progress while the search runs
	updates, cancel := optimizer.Tracker().Subscribe()
	defer cancel()
	go func() {
		for update := range updates {
			if update.Total > 0 {
				fmt.Printf("\rProgress: %d/%d", update.Completed, update.Total)
			}
			if update.Done {
				fmt.Println()
				return
			}
		}
	}()

	result, err := optimizer.Run(req)
	if err != nil {
		return err
	}

	resultsDir := optResultsDir
	if resultsDir == "" {
		resultsDir = cfg.Data.ResultsDir
	}

	_, path, err := optimize.SaveReport(resultsDir, req, result)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	fmt.Printf("Report saved: %s\n", path)
	return nil
}
