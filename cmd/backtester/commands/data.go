package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/pkg/config"
	"github.com/mpaton/backtester/pkg/httputil"
)

// dataCmd represents the data command
var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage the local price file",
}

// dataDownloadCmd represents the data download command
var dataDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download daily closing prices",
	Long: `Downloads daily closes for the given tickers, aligns them on a
business-day index and writes the price CSV.

Example:
  go run ./cmd/backtester data download --tickers AAPL,MSFT,GOOG --start 2020-01-01 --end 2023-12-31`,
	RunE: runDataDownload,
}

// dataCheckCmd represents the data check command
var dataCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show price file status",
	RunE:  runDataCheck,
}

var (
	dlTickers string
	dlStart   string
	dlEnd     string
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataDownloadCmd)
	dataCmd.AddCommand(dataCheckCmd)

	// Flags
	dataDownloadCmd.Flags().StringVar(&dlTickers, "tickers", "", "comma-separated ticker list")
	dataDownloadCmd.Flags().StringVar(&dlStart, "start", "", "start date (YYYY-MM-DD)")
	dataDownloadCmd.Flags().StringVar(&dlEnd, "end", "", "end date (YYYY-MM-DD)")

	dataDownloadCmd.MarkFlagRequired("tickers")
	dataDownloadCmd.MarkFlagRequired("start")
	dataDownloadCmd.MarkFlagRequired("end")
}

func runDataDownload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newCommandLogger(cfg)

	start, err := time.Parse("2006-01-02", dlStart)
	if err != nil {
		return fmt.Errorf("invalid --start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", dlEnd)
	if err != nil {
		return fmt.Errorf("invalid --end date: %w", err)
	}

	var tickers []string
	for _, t := range strings.Split(dlTickers, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tickers = append(tickers, strings.ToUpper(t))
		}
	}
	if len(tickers) == 0 {
		return fmt.Errorf("no tickers given")
	}

	httpClient := httputil.New(log).WithRateLimit(cfg.Data.RateLimit, cfg.Data.RateBurst)
	downloader := marketdata.NewDownloader(httpClient, log)

	fmt.Printf("Downloading %d tickers from %s to %s...\n", len(tickers), dlStart, dlEnd)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	table, err := downloader.Download(ctx, tickers, start, end)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	path := dataFile
	if path == "" {
		path = cfg.Data.PriceFile()
	}
	if err := marketdata.WriteCSVFile(path, table); err != nil {
		return fmt.Errorf("write price file: %w", err)
	}

	fmt.Printf("Saved %d rows x %d tickers to %s\n", table.Len(), len(table.Tickers()), path)
	return nil
}

func runDataCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	table, err := loadPriceTable(cfg)
	if err != nil {
		return err
	}

	dates := table.Dates()
	fmt.Printf("Rows:    %d\n", table.Len())
	fmt.Printf("Range:   %s to %s\n", dates[0].Format("2006-01-02"), dates[len(dates)-1].Format("2006-01-02"))
	fmt.Printf("Tickers: %s\n", strings.Join(table.Tickers(), ", "))
	return nil
}
