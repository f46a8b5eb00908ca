package optimize

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/mpaton/backtester/internal/backtest"
	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/portfolio"
	"github.com/mpaton/backtester/internal/strategy"
	"github.com/mpaton/backtester/pkg/logger"
)

// Optimizer drives brute-force parameter searches. Trials are independent
// whole backtests sharing only the read-only price table, so they run
// concurrently on a worker pool while each stays internally sequential.
type Optimizer struct {
	table   *marketdata.Table
	engine  *backtest.Engine
	brokers map[string]Broker
	logger  *logger.Logger
	tracker *Tracker
	workers int
}

// New creates an optimizer over the full price history.
func New(table *marketdata.Table, brokers map[string]Broker, log *logger.Logger) *Optimizer {
	return &Optimizer{
		table:   table,
		engine:  backtest.NewEngine(table, log),
		brokers: brokers,
		logger:  log,
		tracker: NewTracker(),
		workers: runtime.NumCPU(),
	}
}

// Tracker exposes the progress tracker for subscribers.
func (o *Optimizer) Tracker() *Tracker {
	return o.tracker
}

// Run dispatches the request to the matching search mode.
func (o *Optimizer) Run(req Request) (interface{}, error) {
	switch {
	case req.EnableWalkForward:
		return o.RunWalkForward(req)
	case req.EnableTrainTest:
		return o.RunTrainTest(req)
	default:
		return o.RunGrid(req)
	}
}

// combo is one point of the parameter grid.
type combo struct {
	broker          string
	nTickers        int
	rebalanceMonths int
	stopLossPct     *float64
	strategy        string
	sizing          string
	lookbackDays    int
	filterNegative  bool
}

// combos expands the request's ranges into the full grid. The momentum
// lookback and negative filter only vary for the momentum strategy.
func (o *Optimizer) combos(req *Request) []combo {
	stopLossValues := []*float64{nil}
	if req.StopLossRange != nil {
		stopLossValues = nil
		for _, v := range req.StopLossRange.Floats() {
			v := v
			stopLossValues = append(stopLossValues, &v)
		}
	}

	var grid []combo
	for _, broker := range req.Brokers {
		for _, nTickers := range req.NTickersRange.Ints() {
			for _, rebalance := range req.RebalancePeriodRange.Ints() {
				for _, stopLoss := range stopLossValues {
					for _, strategyName := range req.Strategies {
						for _, sizing := range req.SizingMethods {
							lookbacks := []int{defaultMomentumLookback}
							filters := []bool{false}
							if strategyName == "momentum" {
								lookbacks = req.MomentumLookbackRange.Ints()
								filters = req.filterValues()
							}

							for _, lookback := range lookbacks {
								for _, filter := range filters {
									grid = append(grid, combo{
										broker:          broker,
										nTickers:        nTickers,
										rebalanceMonths: rebalance,
										stopLossPct:     stopLoss,
										strategy:        strategyName,
										sizing:          sizing,
										lookbackDays:    lookback,
										filterNegative:  filter,
									})
								}
							}
						}
					}
				}
			}
		}
	}
	return grid
}

// GridResult is the output of a plain grid search.
type GridResult struct {
	TotalTests     int           `json:"total_tests"`
	CompletedTests int           `json:"completed_tests"`
	Results        []TrialResult `json:"results"`
}

// RunGrid runs every parameter combination over the request's date range
// and ranks the results. Failed trials are skipped, not fatal.
func (o *Optimizer) RunGrid(req Request) (*GridResult, error) {
	start, err := parseDate(req.StartDate, "start_date")
	if err != nil {
		return nil, err
	}
	end, err := parseDate(req.EndDate, "end_date")
	if err != nil {
		return nil, err
	}
	for _, sizing := range req.SizingMethods {
		if !validSizingMethods[sizing] {
			return nil, fmt.Errorf("unknown sizing method %q", sizing)
		}
	}

	grid := o.combos(&req)
	scoring := req.scoring()

	o.logger.WithFields(map[string]interface{}{
		"combinations": len(grid),
		"workers":      o.workers,
	}).Info("Grid search started")

	o.tracker.Start(len(grid))

	results := make([]*TrialResult, len(grid))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				trial, err := o.runTrial(grid[idx], start, end, req.MarginEnabled, trialInitialCapital, scoring)
				if err != nil {
					o.logger.WithError(err).WithFields(map[string]interface{}{
						"test_number": idx + 1,
					}).Warn("Trial failed")
				} else {
					trial.TestNumber = idx + 1
					results[idx] = trial
				}
				o.tracker.Increment()
			}
		}()
	}

	for idx := range grid {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	o.tracker.Finish()

	completed := make([]TrialResult, 0, len(results))
	for _, trial := range results {
		if trial != nil {
			completed = append(completed, *trial)
		}
	}

	sort.SliceStable(completed, func(i, j int) bool {
		if completed[i].Score != completed[j].Score {
			return completed[i].Score > completed[j].Score
		}
		if completed[i].CAGR != completed[j].CAGR {
			return completed[i].CAGR > completed[j].CAGR
		}
		return completed[i].MaxDrawdown > completed[j].MaxDrawdown
	})

	o.logger.WithFields(map[string]interface{}{
		"completed": len(completed),
		"total":     len(grid),
	}).Info("Grid search completed")

	return &GridResult{
		TotalTests:     len(grid),
		CompletedTests: len(completed),
		Results:        completed,
	}, nil
}

// runTrial executes one backtest for a grid point.
func (o *Optimizer) runTrial(c combo, start, end time.Time, margin bool, capital float64, scoring ScoringConfig) (*TrialResult, error) {
	broker, ok := o.brokers[c.broker]
	if !ok {
		return nil, fmt.Errorf("unknown broker %q", c.broker)
	}

	var strat strategy.Strategy
	switch c.strategy {
	case "momentum":
		strat = strategy.NewMomentum(c.nTickers, c.rebalanceMonths, strategy.UnitMonths, o.table, c.lookbackDays, c.filterNegative)
	case "scoring":
		strat = strategy.NewScoring(c.nTickers, c.rebalanceMonths, strategy.UnitMonths, o.table)
	default:
		return nil, fmt.Errorf("unsupported strategy %q", c.strategy)
	}

	cfg := backtest.Config{
		InitialCapital: capital,
		StartDate:      start,
		EndDate:        end,
		FeeEnabled:     broker.FeeEnabled,
		FeeType:        broker.FeeType,
		FeeValue:       broker.FeeValue,
		TaxEnabled:     broker.TaxEnabled,
		TaxRatePct:     broker.TaxRatePct,
		MarginEnabled:  margin,
		SizingMethod:   c.sizing,
	}
	if c.stopLossPct != nil {
		cfg.StopLossPct = *c.stopLossPct / 100
	}

	result, err := o.engine.Run(strat, cfg)
	if err != nil {
		return nil, err
	}

	trial := &TrialResult{
		Broker:          c.broker,
		NTickers:        c.nTickers,
		RebalancePeriod: c.rebalanceMonths,
		StopLossPct:     c.stopLossPct,
		Strategy:        c.strategy,
		SizingMethod:    c.sizing,
		MarginEnabled:   margin,
		CAGR:            result.CAGR,
		MaxDrawdown:     result.MaxDrawdown,
		FinalValue:      result.FinalValue,
		TotalReturn:     result.TotalReturn,
		Score:           singleScore(result.CAGR, result.MaxDrawdown, scoring),
	}
	if c.strategy == "momentum" {
		trial.MomentumLookbackDays = c.lookbackDays
		trial.FilterNegativeMomentum = c.filterNegative
	}
	return trial, nil
}

// comboFromTrial reconstructs a grid point so a train-period winner can be
// re-run over a different date span.
func comboFromTrial(t TrialResult) combo {
	lookback := t.MomentumLookbackDays
	if lookback == 0 {
		lookback = defaultMomentumLookback
	}
	return combo{
		broker:          t.Broker,
		nTickers:        t.NTickers,
		rebalanceMonths: t.RebalancePeriod,
		stopLossPct:     t.StopLossPct,
		strategy:        t.Strategy,
		sizing:          t.SizingMethod,
		lookbackDays:    lookback,
		filterNegative:  t.FilterNegativeMomentum,
	}
}

// Sizing method names accepted in requests.
var validSizingMethods = map[string]bool{
	portfolio.SizingEqual: true,
	portfolio.SizingVaR:   true,
}
