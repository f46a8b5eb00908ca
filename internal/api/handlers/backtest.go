package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/mpaton/backtester/internal/backtest"
	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/portfolio"
	"github.com/mpaton/backtester/internal/strategy"
	"github.com/mpaton/backtester/pkg/logger"
	"github.com/mpaton/backtester/pkg/redis"
)

// BacktestHandler runs single simulations. Completed runs are cached by
// request hash so repeated UI calls with identical parameters are free.
type BacktestHandler struct {
	loader *marketdata.Loader
	cache  *redis.Cache
	logger *logger.Logger
}

// NewBacktestHandler creates a backtest handler.
func NewBacktestHandler(loader *marketdata.Loader, cache *redis.Cache, log *logger.Logger) *BacktestHandler {
	return &BacktestHandler{
		loader: loader,
		cache:  cache,
		logger: log,
	}
}

// BacktestRequest is the body of POST /api/backtest.
type BacktestRequest struct {
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	InitialCapital float64 `json:"initial_capital"`

	Strategy        string `json:"strategy"`
	NTickers        int    `json:"n_tickers"`
	RebalancePeriod int    `json:"rebalance_period"`
	RebalanceUnit   string `json:"rebalance_unit"`

	MomentumLookbackDays   int  `json:"momentum_lookback_days,omitempty"`
	FilterNegativeMomentum bool `json:"filter_negative_momentum,omitempty"`
	RandomSeed             int64 `json:"random_seed,omitempty"`

	StopLossPct   *float64 `json:"stop_loss_pct,omitempty"`
	SmartStopLoss bool     `json:"smart_stop_loss,omitempty"`

	FeeEnabled bool    `json:"fee_enabled"`
	FeeType    string  `json:"fee_type,omitempty"`
	FeeValue   float64 `json:"fee_value,omitempty"`

	TaxEnabled bool    `json:"tax_enabled"`
	TaxRatePct float64 `json:"tax_rate_pct,omitempty"`

	MarginEnabled bool   `json:"margin_enabled"`
	SizingMethod  string `json:"sizing_method,omitempty"`
}

func (req *BacktestRequest) applyDefaults() {
	if req.InitialCapital == 0 {
		req.InitialCapital = 10000
	}
	if req.NTickers == 0 {
		req.NTickers = 5
	}
	if req.RebalancePeriod == 0 {
		req.RebalancePeriod = 1
	}
	if req.RebalanceUnit == "" {
		req.RebalanceUnit = strategy.UnitMonths
	}
	if req.MomentumLookbackDays == 0 {
		req.MomentumLookbackDays = 30
	}
	if req.FeeType == "" {
		req.FeeType = portfolio.FeePercentage
	}
	if req.SizingMethod == "" {
		req.SizingMethod = portfolio.SizingEqual
	}
}

// Run handles POST /api/backtest
func (h *BacktestHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.applyDefaults()

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'start_date' format (expected YYYY-MM-DD)")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'end_date' format (expected YYYY-MM-DD)")
		return
	}

	table, err := h.loader.Load()
	if err != nil {
		h.logger.WithError(err).Error("Failed to load price file")
		respondError(w, http.StatusInternalServerError, "Price data unavailable")
		return
	}

	// random selection without a seed is not reproducible, so skip the cache
	cacheable := req.Strategy != "random" || req.RandomSeed != 0
	key := requestHash(req)

	if cacheable {
		var cached backtest.Result
		if hit, err := h.cache.Get(r.Context(), key, &cached); err == nil && hit {
			h.logger.WithFields(map[string]interface{}{"key": key}).Debug("Backtest cache hit")
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	strat, err := buildStrategy(req, table)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := backtest.Config{
		InitialCapital: req.InitialCapital,
		StartDate:      start,
		EndDate:        end,
		SmartStopLoss:  req.SmartStopLoss,
		FeeEnabled:     req.FeeEnabled,
		FeeType:        req.FeeType,
		FeeValue:       req.FeeValue,
		TaxEnabled:     req.TaxEnabled,
		TaxRatePct:     req.TaxRatePct,
		MarginEnabled:  req.MarginEnabled,
		SizingMethod:   req.SizingMethod,
	}
	if req.StopLossPct != nil {
		cfg.StopLossPct = *req.StopLossPct / 100
	}

	engine := backtest.NewEngine(table, h.logger)
	result, err := engine.Run(strat, cfg)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if cacheable {
		if err := h.cache.Set(r.Context(), key, result, redis.TTLLong); err != nil {
			h.logger.WithError(err).Warn("Failed to cache backtest result")
		}
	}

	respondJSON(w, http.StatusOK, result)
}

// buildStrategy constructs the requested ranking strategy.
func buildStrategy(req BacktestRequest, table *marketdata.Table) (strategy.Strategy, error) {
	switch req.Strategy {
	case "random":
		seed := req.RandomSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return strategy.NewRandom(req.NTickers, req.RebalancePeriod, req.RebalanceUnit, rand.New(rand.NewSource(seed))), nil
	case "momentum":
		return strategy.NewMomentum(req.NTickers, req.RebalancePeriod, req.RebalanceUnit, table, req.MomentumLookbackDays, req.FilterNegativeMomentum), nil
	case "scoring":
		return strategy.NewScoring(req.NTickers, req.RebalancePeriod, req.RebalanceUnit, table), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (valid: random, momentum, scoring)", req.Strategy)
	}
}

// requestHash derives a stable cache key from the normalized request.
func requestHash(req BacktestRequest) string {
	payload, _ := json.Marshal(req)
	sum := sha256.Sum256(payload)
	return "backtest:" + hex.EncodeToString(sum[:])
}
