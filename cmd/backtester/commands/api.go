package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mpaton/backtester/internal/api"
	"github.com/mpaton/backtester/internal/api/handlers"
	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/optimize"
	"github.com/mpaton/backtester/pkg/config"
	"github.com/mpaton/backtester/pkg/database"
	"github.com/mpaton/backtester/pkg/httputil"
	"github.com/mpaton/backtester/pkg/logger"
	"github.com/mpaton/backtester/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Starts the REST API server.

Endpoints:
  GET  /health                 - Health check
  GET  /api/data               - Price file status
  POST /api/data/download      - Refresh price data
  POST /api/backtest           - Run a single backtest
  POST /api/optimize           - Run a parameter search
  GET  /api/optimize/progress  - Search progress (websocket)
  POST /api/results/save       - Save an optimization report
  POST /api/results/parse      - Re-load a saved report

Example:
  go run ./cmd/backtester api
  go run ./cmd/backtester api --port 8002`,
	RunE: runAPIServer,
}

var (
	apiPort     string
	brokersFile string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port")
	apiCmd.Flags().StringVar(&brokersFile, "brokers", "", "broker presets YAML (default built-in)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Backtester API Server ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override port if flag is set
	if apiPort != "" {
		cfg.Port = apiPort
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Initializing API server")

	// 3. Connect to optional backing services
	var repo *marketdata.Repository
	if cfg.Database.URL != "" {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		repo = marketdata.NewRepository(db, log)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		log.Info("Connected to database")
	}

	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	cache := redis.NewCache(redisClient, "backtester")

	// 4. Create HTTP client and data access
	httpClient := httputil.New(log).WithRateLimit(cfg.Data.RateLimit, cfg.Data.RateBurst)
	downloader := marketdata.NewDownloader(httpClient, log)
	loader := marketdata.NewLoader(cfg.Data.PriceFile(), log)

	// 5. Load broker presets
	brokers, err := optimize.LoadBrokers(brokersFile)
	if err != nil {
		return fmt.Errorf("load brokers: %w", err)
	}

	// 6. Create handlers
	dataHandler := handlers.NewDataHandler(loader, downloader, repo, cfg.Data.PriceFile(), log)
	backtestHandler := handlers.NewBacktestHandler(loader, cache, log)
	optimizeHandler := handlers.NewOptimizeHandler(loader, brokers, log)
	resultsHandler := handlers.NewResultsHandler(cfg.Data.ResultsDir, log)

	// 7. Create router and server
	router := api.NewRouter(dataHandler, backtestHandler, optimizeHandler, resultsHandler, log)
	server := api.New(cfg, log, router)

	// 8. Schedule price refreshes if configured
	if cfg.Data.RefreshCron != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Data.RefreshCron, func() {
			refreshPrices(loader, downloader, repo, cfg.Data.PriceFile(), log)
		})
		if err != nil {
			return fmt.Errorf("schedule data refresh: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()

		log.WithFields(map[string]interface{}{
			"cron": cfg.Data.RefreshCron,
		}).Info("Scheduled price refresh")
	}

	// 9. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("API server started successfully")
	fmt.Printf("\nServer running on http://localhost:%s\n", cfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

// refreshPrices re-downloads the current table's tickers through today and
// rewrites the price file.
func refreshPrices(loader *marketdata.Loader, downloader *marketdata.Downloader, repo *marketdata.Repository, path string, log *logger.Logger) {
	table, err := loader.Load()
	if err != nil {
		log.WithError(err).Warn("Refresh skipped, price file unavailable")
		return
	}

	dates := table.Dates()
	start := dates[0]
	end := time.Now().UTC().Truncate(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fresh, err := downloader.Download(ctx, table.Tickers(), start, end)
	if err != nil {
		log.WithError(err).Error("Scheduled price refresh failed")
		return
	}

	if err := marketdata.WriteCSVFile(path, fresh); err != nil {
		log.WithError(err).Error("Failed to write refreshed price file")
		return
	}
	loader.Invalidate()

	if repo != nil {
		if err := repo.SaveTable(ctx, fresh); err != nil {
			log.WithError(err).Warn("Failed to persist refreshed prices")
		}
	}

	log.WithFields(map[string]interface{}{
		"rows":    fresh.Len(),
		"tickers": len(fresh.Tickers()),
	}).Info("Price data refreshed on schedule")
}
