package optimize

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/pkg/logger"
)

// steadyTable builds a multi-year table of gently trending prices so grid
// trials produce stable, positive results.
func steadyTable(t *testing.T) *marketdata.Table {
	t.Helper()

	var days []time.Time
	for d := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC); len(days) < 900; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
	}

	closes := make(map[string][]float64)
	for ticker, drift := range map[string]float64{"AAA": 0.0006, "BBB": 0.0004, "CCC": 0.0002} {
		series := make([]float64, len(days))
		series[0] = 100
		for i := 1; i < len(series); i++ {
			series[i] = series[i-1] * (1 + drift)
		}
		closes[ticker] = series
	}

	table, err := marketdata.NewTable(days, closes)
	require.NoError(t, err)
	return table
}

func testOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	return New(steadyTable(t), DefaultBrokers(), logger.NewNop())
}

func baseRequest() Request {
	return Request{
		Tickers:               []string{"AAA", "BBB", "CCC"},
		StartDate:             "2019-01-01",
		EndDate:               "2020-12-31",
		Brokers:               []string{"bossa"},
		NTickersRange:         Range{Min: 2, Max: 2, Step: 1},
		RebalancePeriodRange:  Range{Min: 1, Max: 2, Step: 1},
		MomentumLookbackRange: Range{Min: 20, Max: 20, Step: 10},
		Strategies:            []string{"momentum", "scoring"},
		SizingMethods:         []string{"equal"},
	}
}

func TestDefaultBrokerPresets(t *testing.T) {
	brokers := DefaultBrokers()

	bossa := brokers["bossa"]
	assert.True(t, bossa.FeeEnabled)
	assert.Equal(t, 0.29, bossa.FeeValue)
	assert.False(t, bossa.TaxEnabled)

	ib := brokers["interactive_brokers"]
	assert.Equal(t, 1.0, ib.FeeValue)
	assert.True(t, ib.TaxEnabled)
	assert.Equal(t, 19.0, ib.TaxRatePct)
}

func TestLoadBrokersOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brokers.yaml")
	content := `degiro:
  fee_enabled: true
  fee_type: fixed
  fee_value: 2.5
  tax_enabled: false
  tax_rate_pct: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	brokers, err := LoadBrokers(path)
	require.NoError(t, err)

	assert.Contains(t, brokers, "bossa")
	assert.Contains(t, brokers, "degiro")
	assert.Equal(t, 2.5, brokers["degiro"].FeeValue)
}

func TestLoadBrokersRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brokers.yaml")
	content := `degiro:
  fee_enabled: true
  fee_type: fixed
  fee_value: 2.5
  surprise_field: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadBrokers(path)
	assert.Error(t, err)
}

func TestLoadBrokersRejectsBadFeeType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brokers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x:\n  fee_type: flat\n"), 0o644))

	_, err := LoadBrokers(path)
	assert.Error(t, err)
}

func TestRangeExpansion(t *testing.T) {
	assert.Equal(t, []int{2, 4, 6}, Range{Min: 2, Max: 6, Step: 2}.Ints())
	assert.Equal(t, []float64{5, 7.5, 10}, Range{Min: 5, Max: 10, Step: 2.5}.Floats())
}

func TestBandScore(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"below band", -0.1, 0},
		{"at lower bound", 0.0, 0},
		{"midpoint", 0.5, 35},
		{"above band", 1.5, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, bandScore(tt.value, 0, 1.0, 70), 1e-9)
		})
	}
}

func TestTrainTestScoreUsesSeparateBands(t *testing.T) {
	cfg := DefaultScoringConfig()

	// default config weights only the test period
	score := trainTestScore(0.5, -0.4, 0.5, -0.25, cfg)
	expected := bandScore(0.5, 0, 1.0, 70) + bandScore(-0.25, -0.50, 0, 30)
	assert.InDelta(t, expected, score, 1e-9)
}

func TestComboExpansion(t *testing.T) {
	o := testOptimizer(t)
	req := baseRequest()
	req.StopLossRange = &Range{Min: 5, Max: 10, Step: 5}
	req.FilterNegativeValues = []bool{false, true}
	req.MomentumLookbackRange = Range{Min: 20, Max: 40, Step: 20}

	grid := o.combos(&req)

	// brokers(1) x n(1) x rebalance(2) x stoploss(2) x sizing(1) x
	// (momentum: lookback(2) x filter(2) = 4, scoring: 1) = 2*2*5 = 20
	assert.Len(t, grid, 20)

	for _, c := range grid {
		if c.strategy == "scoring" {
			assert.Equal(t, defaultMomentumLookback, c.lookbackDays)
			assert.False(t, c.filterNegative)
		}
	}
}

func TestRunGridRanksResults(t *testing.T) {
	o := testOptimizer(t)

	result, err := o.RunGrid(baseRequest())
	require.NoError(t, err)

	// 1 broker x 1 n x 2 rebalance x 1 sizing x (momentum 1 + scoring 1)
	assert.Equal(t, 4, result.TotalTests)
	assert.Equal(t, 4, result.CompletedTests)
	require.Len(t, result.Results, 4)

	for i := 1; i < len(result.Results); i++ {
		assert.GreaterOrEqual(t, result.Results[i-1].Score, result.Results[i].Score)
	}
	for _, trial := range result.Results {
		assert.Greater(t, trial.FinalValue, 0.0)
		assert.NotZero(t, trial.TestNumber)
	}
}

func TestRunGridRejectsUnknownSizing(t *testing.T) {
	o := testOptimizer(t)
	req := baseRequest()
	req.SizingMethods = []string{"kelly"}

	_, err := o.RunGrid(req)
	assert.Error(t, err)
}

func TestRunGridTracksProgress(t *testing.T) {
	o := testOptimizer(t)

	_, err := o.RunGrid(baseRequest())
	require.NoError(t, err)

	snapshot := o.Tracker().Snapshot()
	assert.Equal(t, 4, snapshot.Total)
	assert.Equal(t, 4, snapshot.Completed)
	assert.True(t, snapshot.Done)
}

func TestTrainTestWindowDates(t *testing.T) {
	trainStart := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	trainEnd, testStart, testEnd := trainTestWindow(trainStart, 12, 3)

	assert.Equal(t, "2019-12-31", trainEnd.Format("2006-01-02"))
	assert.Equal(t, "2020-01-01", testStart.Format("2006-01-02"))
	assert.Equal(t, "2020-03-31", testEnd.Format("2006-01-02"))
}

func TestRunTrainTest(t *testing.T) {
	o := testOptimizer(t)
	req := baseRequest()
	req.EnableTrainTest = true
	req.TrainStartDate = "2018-06-01"
	req.TrainMonths = 12
	req.TestMonths = 3
	req.TopNForTest = 2

	result, err := o.RunTrainTest(req)
	require.NoError(t, err)

	assert.True(t, result.TrainTestMode)
	assert.Equal(t, "2018-06-01", result.TrainPeriod.Start)
	assert.Equal(t, "2019-05-31", result.TrainPeriod.End)
	assert.Equal(t, "2019-06-01", result.TestPeriod.Start)

	assert.Len(t, result.TrainResults, 2)
	assert.Len(t, result.TestResults, 2)
	assert.Len(t, result.Scores, 2)
	assert.Len(t, result.AllTrainResults, 4)

	for i := 1; i < len(result.AllScores); i++ {
		assert.GreaterOrEqual(t, result.AllScores[i-1], result.AllScores[i])
	}
}

func TestRunTrainTestRequiresMonths(t *testing.T) {
	o := testOptimizer(t)
	req := baseRequest()
	req.EnableTrainTest = true

	_, err := o.RunTrainTest(req)
	assert.Error(t, err)
}

func TestRunWalkForward(t *testing.T) {
	o := testOptimizer(t)
	req := baseRequest()
	req.EnableWalkForward = true
	req.WalkForwardStart = "2018-03-01"
	req.WalkForwardEnd = "2020-06-30"
	req.WalkForwardStepMonths = 6
	req.TrainMonths = 12
	req.TestMonths = 3
	req.TopNForTest = 2

	result, err := o.RunWalkForward(req)
	require.NoError(t, err)

	assert.True(t, result.WalkForwardMode)
	assert.GreaterOrEqual(t, result.TotalWindows, 2)

	for i, window := range result.Windows {
		assert.Equal(t, i+1, window.WindowNumber)
		require.NotNil(t, window.PortfolioState)
		assert.Empty(t, window.PortfolioState.Error)
		assert.Greater(t, window.PortfolioState.FinalCapital, 0.0)
	}

	require.NotNil(t, result.PortfolioSummary)
	assert.Equal(t, float64(trialInitialCapital), result.PortfolioSummary.InitialCapital)
	assert.Greater(t, result.PortfolioSummary.FinalCapital, 0.0)
}

func TestRunDispatchesByMode(t *testing.T) {
	o := testOptimizer(t)

	result, err := o.Run(baseRequest())
	require.NoError(t, err)
	_, ok := result.(*GridResult)
	assert.True(t, ok)
}

func TestReportRoundTrip(t *testing.T) {
	o := testOptimizer(t)
	req := baseRequest()

	gridResult, err := o.RunGrid(req)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, req, gridResult))

	content := buf.String()
	assert.Contains(t, content, "Optimization Results")
	assert.Contains(t, content, "bossa")
	assert.Contains(t, content, jsonMarker)

	payload, err := ParseReport(content)
	require.NoError(t, err)

	var recovered GridResult
	require.NoError(t, json.Unmarshal(payload, &recovered))
	assert.Equal(t, gridResult.TotalTests, recovered.TotalTests)
	assert.Len(t, recovered.Results, len(gridResult.Results))
}

func TestParseReportRejectsMissingFooter(t *testing.T) {
	_, err := ParseReport("just some text")
	assert.Error(t, err)
}

func TestSaveReportWritesFile(t *testing.T) {
	o := testOptimizer(t)
	req := baseRequest()

	gridResult, err := o.RunGrid(req)
	require.NoError(t, err)

	dir := t.TempDir()
	name, path, err := SaveReport(dir, req, gridResult)
	require.NoError(t, err)

	assert.Contains(t, name, "optimization_results_")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), jsonMarker)
}

func TestTrackerSubscribers(t *testing.T) {
	tracker := NewTracker()
	ch, cancel := tracker.Subscribe()
	defer cancel()

	tracker.Start(2)
	tracker.Increment()
	tracker.Increment()
	tracker.Finish()

	var last Update
	for {
		select {
		case u := <-ch:
			last = u
			if u.Done {
				assert.Equal(t, 2, last.Completed)
				assert.Equal(t, 2, last.Total)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no done update received")
		}
	}
}
