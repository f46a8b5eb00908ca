package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/portfolio"
	"github.com/mpaton/backtester/internal/strategy"
	"github.com/mpaton/backtester/pkg/logger"
)

// scripted returns pre-set candidates per date and rebalances on a fixed
// day interval, so engine behavior can be tested without ranking logic.
type scripted struct {
	targets       map[string][]strategy.Candidate
	rebalanceDays int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Select(available []string, date time.Time) []strategy.Candidate {
	return s.targets[date.Format("2006-01-02")]
}

func (s *scripted) ShouldRebalance(date, lastRebalance time.Time) bool {
	if lastRebalance.IsZero() {
		return true
	}
	return int(date.Sub(lastRebalance).Hours()/24) >= s.rebalanceDays
}

func weekdays(start time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	for d := start; len(days) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}

func newTestEngine(t *testing.T, days []time.Time, closes map[string][]float64) *Engine {
	t.Helper()
	table, err := marketdata.NewTable(days, closes)
	require.NoError(t, err)
	return NewEngine(table, logger.NewNop())
}

func TestRunBuyThenSellOut(t *testing.T) {
	days := weekdays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), 2)
	engine := newTestEngine(t, days, map[string][]float64{
		"AAPL": {100, 110},
	})

	strat := &scripted{
		targets: map[string][]strategy.Candidate{
			days[0].Format("2006-01-02"): {{Ticker: "AAPL", Score: 50}},
			days[1].Format("2006-01-02"): {},
		},
		rebalanceDays: 1,
	}

	result, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      days[0],
		EndDate:        days[1],
		SizingMethod:   portfolio.SizingEqual,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)

	// day 1: 100 shares at 100, cash 0; day 2: sold at 110
	require.Len(t, result.History, 2)
	assert.InDelta(t, 10000, result.History[0].TotalValue, 1e-9)
	assert.InDelta(t, 11000, result.History[1].TotalValue, 1e-9)
	assert.InDelta(t, 11000, result.History[1].Cash, 1e-9)

	require.Len(t, result.Events, 2)
	sale := result.Events[1].Sold["AAPL"]
	assert.InDelta(t, 11000, sale.Revenue, 1e-9)
	assert.InDelta(t, 1000, sale.Profit, 1e-9)
}

func TestRunRejectsBadConfig(t *testing.T) {
	days := weekdays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), 2)
	engine := newTestEngine(t, days, map[string][]float64{"AAPL": {100, 110}})
	strat := &scripted{rebalanceDays: 1}

	_, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2030, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)

	_, err = engine.Run(strat, Config{
		InitialCapital: 0,
		StartDate:      days[0],
		EndDate:        days[1],
	})
	assert.Error(t, err)
}

func TestRunStopLossSellsOnBrokenThreshold(t *testing.T) {
	days := weekdays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), 3)
	engine := newTestEngine(t, days, map[string][]float64{
		"AAPL": {100, 89, 88},
	})

	strat := &scripted{
		targets: map[string][]strategy.Candidate{
			days[0].Format("2006-01-02"): {{Ticker: "AAPL", Score: 50}},
		},
		rebalanceDays: 1000,
	}

	result, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      days[0],
		EndDate:        days[2],
		StopLossPct:    0.10,
		SizingMethod:   portfolio.SizingEqual,
	})
	require.NoError(t, err)

	// day 2's close of 89 is below 100*(1-0.10), so day 3 sells at 88
	var stopLoss *portfolio.Event
	for i := range result.Events {
		if result.Events[i].Type == portfolio.EventStopLoss {
			stopLoss = &result.Events[i]
		}
	}
	require.NotNil(t, stopLoss)
	assert.Contains(t, stopLoss.Sold, "AAPL")
	assert.InDelta(t, 100*88, stopLoss.Sold["AAPL"].Revenue, 1e-9)
}

func TestRunStopLossNotTriggeredAboveThreshold(t *testing.T) {
	days := weekdays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), 3)
	engine := newTestEngine(t, days, map[string][]float64{
		"AAPL": {100, 91, 91},
	})

	strat := &scripted{
		targets: map[string][]strategy.Candidate{
			days[0].Format("2006-01-02"): {{Ticker: "AAPL", Score: 50}},
		},
		rebalanceDays: 1000,
	}

	result, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      days[0],
		EndDate:        days[2],
		StopLossPct:    0.10,
		SizingMethod:   portfolio.SizingEqual,
	})
	require.NoError(t, err)

	for _, event := range result.Events {
		assert.NotEqual(t, portfolio.EventStopLoss, event.Type)
	}
}

func TestRunSmartStopLossBuysReplacement(t *testing.T) {
	days := weekdays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), 3)
	engine := newTestEngine(t, days, map[string][]float64{
		"LOSER":  {100, 80, 80},
		"WINNER": {50, 55, 60},
	})

	day3 := days[2].Format("2006-01-02")
	strat := &scripted{
		targets: map[string][]strategy.Candidate{
			days[0].Format("2006-01-02"): {{Ticker: "LOSER", Score: 50}},
			// on the stop-loss day the strategy ranks only WINNER,
			// so LOSER is not spared and WINNER replaces it
			day3: {{Ticker: "WINNER", Score: 70}},
		},
		rebalanceDays: 1000,
	}

	result, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      days[0],
		EndDate:        days[2],
		StopLossPct:    0.10,
		SmartStopLoss:  true,
		SizingMethod:   portfolio.SizingEqual,
	})
	require.NoError(t, err)

	var smart *portfolio.Event
	for i := range result.Events {
		if result.Events[i].Type == portfolio.EventStopLossSmart {
			smart = &result.Events[i]
		}
	}
	require.NotNil(t, smart)
	assert.Contains(t, smart.Sold, "LOSER")
	require.Len(t, smart.Bought, 1)
	assert.Equal(t, "WINNER", smart.Bought[0].Ticker)
}

func TestRunSmartStopLossSparesTopRanked(t *testing.T) {
	days := weekdays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), 3)
	engine := newTestEngine(t, days, map[string][]float64{
		"DIPPER": {100, 80, 85},
	})

	strat := &scripted{
		targets: map[string][]strategy.Candidate{
			days[0].Format("2006-01-02"): {{Ticker: "DIPPER", Score: 50}},
			// still top ranked on the stop-loss day
			days[2].Format("2006-01-02"): {{Ticker: "DIPPER", Score: 60}},
		},
		rebalanceDays: 1000,
	}

	result, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      days[0],
		EndDate:        days[2],
		StopLossPct:    0.10,
		SmartStopLoss:  true,
		SizingMethod:   portfolio.SizingEqual,
	})
	require.NoError(t, err)

	for _, event := range result.Events {
		assert.NotEqual(t, portfolio.EventStopLossSmart, event.Type)
	}
	// position survived the whole run
	assert.InDelta(t, 100*85, result.History[2].TotalValue, 1e-9)
}

func TestRunSettlesTaxOnFirstJanuaryDay(t *testing.T) {
	start := time.Date(2020, 12, 28, 0, 0, 0, 0, time.UTC)
	days := weekdays(start, 6) // spans the new year
	engine := newTestEngine(t, days, map[string][]float64{
		"AAPL": {100, 120, 120, 120, 120, 120},
	})

	day2 := days[1].Format("2006-01-02")
	strat := &scripted{
		targets: map[string][]strategy.Candidate{
			days[0].Format("2006-01-02"): {{Ticker: "AAPL", Score: 50}},
			day2:                         {},
		},
		rebalanceDays: 1,
	}

	result, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      days[0],
		EndDate:        days[5],
		TaxEnabled:     true,
		TaxRatePct:     19,
		SizingMethod:   portfolio.SizingEqual,
	})
	require.NoError(t, err)

	var settlements []portfolio.Event
	for _, event := range result.Events {
		if event.Type == portfolio.EventTaxSettlement {
			settlements = append(settlements, event)
		}
	}
	require.Len(t, settlements, 1, "tax settles exactly once per year")
	assert.InDelta(t, 2000, settlements[0].AnnualPnL, 1e-9)
	assert.InDelta(t, 2000*0.19, settlements[0].Tax, 1e-9)
}

func TestRunAccruesMarginInterest(t *testing.T) {
	days := weekdays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), 2)
	engine := newTestEngine(t, days, map[string][]float64{
		"AAPL": {100, 100},
	})

	strat := &scripted{
		targets: map[string][]strategy.Candidate{
			days[0].Format("2006-01-02"): {{Ticker: "AAPL", Score: 50}},
		},
		rebalanceDays: 1000,
	}

	result, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      days[0],
		EndDate:        days[1],
		MarginEnabled:  true,
		SizingMethod:   portfolio.SizingEqual,
	})
	require.NoError(t, err)

	// margin buys 101 shares for 10100, leaving cash at -100 plus
	// two days of accrued interest
	require.Len(t, result.History, 2)
	assert.Less(t, result.History[1].Cash, -100.0)
	assert.Greater(t, result.History[1].Cash, -101.0)
}

func TestRunSkipsUnpricedDays(t *testing.T) {
	days := weekdays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), 3)
	engine := newTestEngine(t, days, map[string][]float64{
		"AAPL": {100, marketdata.Missing, 105},
	})

	strat := &scripted{
		targets: map[string][]strategy.Candidate{
			days[0].Format("2006-01-02"): {{Ticker: "AAPL", Score: 50}},
		},
		rebalanceDays: 1000,
	}

	result, err := engine.Run(strat, Config{
		InitialCapital: 10000,
		StartDate:      days[0],
		EndDate:        days[2],
		SizingMethod:   portfolio.SizingEqual,
	})
	require.NoError(t, err)

	// the unpriced middle day values cash only, then the position
	// marks to market again
	require.Len(t, result.History, 3)
	assert.InDelta(t, 10000, result.History[0].TotalValue, 1e-9)
	assert.InDelta(t, 0, result.History[1].TotalValue, 1e-9)
	assert.InDelta(t, 100*105, result.History[2].TotalValue, 1e-9)
}
