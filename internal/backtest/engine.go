package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/portfolio"
	"github.com/mpaton/backtester/internal/strategy"
	"github.com/mpaton/backtester/pkg/logger"
)

// Config holds the parameters of one simulation run.
type Config struct {
	InitialCapital float64   `json:"initial_capital"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`

	StopLossPct   float64 `json:"stop_loss_pct"`
	SmartStopLoss bool    `json:"smart_stop_loss"`

	FeeEnabled bool    `json:"fee_enabled"`
	FeeType    string  `json:"fee_type"`
	FeeValue   float64 `json:"fee_value"`

	TaxEnabled bool    `json:"tax_enabled"`
	TaxRatePct float64 `json:"tax_rate_pct"`

	MarginEnabled bool   `json:"margin_enabled"`
	SizingMethod  string `json:"sizing_method"`
}

// Result is the complete output of one run.
type Result struct {
	RunID    string `json:"run_id"`
	Strategy string `json:"strategy"`
	Metrics

	History []portfolio.Snapshot `json:"history"`
	Events  []portfolio.Event    `json:"rebalance_history"`
}

// Engine runs day-by-day simulations over a price table. The table is the
// full available history; each run clips its own trading window but risk
// sizing may look back before it.
type Engine struct {
	table  *marketdata.Table
	logger *logger.Logger
}

// NewEngine creates an engine over the full price history.
func NewEngine(table *marketdata.Table, log *logger.Logger) *Engine {
	return &Engine{
		table:  table,
		logger: log,
	}
}

// Run simulates the strategy over the configured date range. Each trading
// day applies, in order: stop-loss, tax settlement, rebalance, margin
// interest, valuation. Configuration problems surface before the first day.
func (e *Engine) Run(strat strategy.Strategy, cfg Config) (*Result, error) {
	from, to, err := e.table.Range(cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("backtest window invalid: %w", err)
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", cfg.InitialCapital)
	}

	runID := ulid.Make().String()
	e.logger.WithFields(map[string]interface{}{
		"run_id":   runID,
		"strategy": strat.Name(),
		"start":    cfg.StartDate.Format("2006-01-02"),
		"end":      cfg.EndDate.Format("2006-01-02"),
		"capital":  cfg.InitialCapital,
	}).Info("Backtest started")

	acct := portfolio.NewAccount(portfolio.Config{
		InitialCapital: cfg.InitialCapital,
		FeeEnabled:     cfg.FeeEnabled,
		FeeType:        cfg.FeeType,
		FeeValue:       cfg.FeeValue,
		TaxEnabled:     cfg.TaxEnabled,
		TaxRatePct:     cfg.TaxRatePct,
		MarginEnabled:  cfg.MarginEnabled,
		SizingMethod:   cfg.SizingMethod,
	})

	var lastRebalance time.Time
	var prevPrices map[string]float64
	dates := e.table.Dates()

	for row := from; row <= to; row++ {
		date := dates[row]
		prices := e.table.Row(row)

		if cfg.StopLossPct > 0 && prevPrices != nil {
			e.applyStopLoss(acct, strat, cfg, date, prices, prevPrices)
		}

		if acct.NeedsTaxSettlement(date) {
			acct.SettleAnnualTax(date)
			e.logger.WithFields(map[string]interface{}{
				"run_id": runID,
				"date":   date.Format("2006-01-02"),
			}).Debug("Annual tax settled")
		}

		if strat.ShouldRebalance(date, lastRebalance) {
			targets := strat.Select(availableTickers(prices), date)

			var risk map[string]float64
			if cfg.SizingMethod == portfolio.SizingVaR {
				risk = varMap(e.table, targets, row)
			}

			acct.Rebalance(toTargets(targets), prices, date, risk)
			lastRebalance = date
		}

		acct.AccrueMarginInterest()
		acct.RecordSnapshot(date, prices)
		prevPrices = prices
	}

	metrics := ComputeMetrics(acct.History())
	e.logger.WithFields(map[string]interface{}{
		"run_id":       runID,
		"final_value":  metrics.FinalValue,
		"total_return": metrics.TotalReturn,
		"cagr":         metrics.CAGR,
	}).Info("Backtest completed")

	return &Result{
		RunID:    runID,
		Strategy: strat.Name(),
		Metrics:  metrics,
		History:  acct.History(),
		Events:   acct.Events(),
	}, nil
}

// applyStopLoss sells held tickers whose previous close broke the stop
// threshold. In smart mode, tickers still ranked in today's selection are
// spared, and each sale's proceeds buy the best-ranked unheld candidate.
func (e *Engine) applyStopLoss(acct *portfolio.Account, strat strategy.Strategy, cfg Config, date time.Time, prices, prevPrices map[string]float64) {
	candidates := acct.StopLossCandidates(prevPrices, cfg.StopLossPct)
	if len(candidates) == 0 {
		return
	}

	var ranked []strategy.Candidate
	topSet := make(map[string]bool)
	if cfg.SmartStopLoss {
		ranked = strat.Select(availableTickers(prices), date)
		for _, c := range ranked {
			topSet[c.Ticker] = true
		}
	}

	sold := make(map[string]portfolio.SaleRecord)
	var bought []portfolio.PurchaseRecord

	for _, ticker := range candidates {
		if cfg.SmartStopLoss && topSet[ticker] {
			continue
		}
		price, ok := prices[ticker]
		if !ok {
			continue
		}

		record := acct.Sell(ticker, price)
		if record == nil {
			continue
		}
		sold[ticker] = *record

		if !cfg.SmartStopLoss {
			continue
		}
		for _, candidate := range ranked {
			if acct.Holds(candidate.Ticker) || candidate.Ticker == ticker {
				continue
			}
			if buyPrice, priced := prices[candidate.Ticker]; priced {
				if buy := acct.Buy(candidate.Ticker, record.Revenue, buyPrice, candidate.Score, nil); buy != nil {
					bought = append(bought, *buy)
				}
			}
			break
		}
	}

	if len(sold) == 0 && len(bought) == 0 {
		return
	}

	eventType := portfolio.EventStopLoss
	if cfg.SmartStopLoss {
		eventType = portfolio.EventStopLossSmart
	}
	acct.AppendEvent(portfolio.Event{
		Date:   portfolio.Day(date),
		Type:   eventType,
		Sold:   sold,
		Bought: bought,
		Cash:   acct.Cash(),
	})
}

// availableTickers returns the tickers priced today, sorted for
// deterministic strategy input.
func availableTickers(prices map[string]float64) []string {
	tickers := make([]string, 0, len(prices))
	for t := range prices {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

func toTargets(candidates []strategy.Candidate) []portfolio.Target {
	targets := make([]portfolio.Target, len(candidates))
	for i, c := range candidates {
		targets[i] = portfolio.Target{Ticker: c.Ticker, Score: c.Score}
	}
	return targets
}
