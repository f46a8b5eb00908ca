package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpaton/backtester/internal/backtest"
	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/optimize"
	"github.com/mpaton/backtester/pkg/config"
	"github.com/mpaton/backtester/pkg/logger"
	"github.com/mpaton/backtester/pkg/redis"
)

// writePriceFile builds a two-year price CSV and returns its path.
func writePriceFile(t *testing.T) string {
	t.Helper()

	var days []time.Time
	for d := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC); len(days) < 520; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
	}

	closes := make(map[string][]float64)
	for ticker, drift := range map[string]float64{"AAA": 0.0006, "BBB": 0.0003} {
		series := make([]float64, len(days))
		series[0] = 100
		for i := 1; i < len(series); i++ {
			series[i] = series[i-1] * (1 + drift)
		}
		closes[ticker] = series
	}

	table, err := marketdata.NewTable(days, closes)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, marketdata.WriteCSVFile(path, table))
	return path
}

func testLoader(t *testing.T) *marketdata.Loader {
	t.Helper()
	return marketdata.NewLoader(writePriceFile(t), logger.NewNop())
}

// noopCache builds a cache over a disabled client, so Get always misses.
func noopCache(t *testing.T) *redis.Cache {
	t.Helper()
	client, err := redis.New(&config.Config{})
	require.NoError(t, err)
	return redis.NewCache(client, "test")
}

func postJSON(t *testing.T, handler http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestDataStatus(t *testing.T) {
	h := NewDataHandler(testLoader(t), nil, nil, "", logger.NewNop())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Exists)
	assert.Equal(t, 520, status.Rows)
	assert.Equal(t, []string{"AAA", "BBB"}, status.Tickers)
	assert.Equal(t, "2020-01-01", status.StartDate)
}

func TestDataStatusMissingFile(t *testing.T) {
	loader := marketdata.NewLoader(filepath.Join(t.TempDir(), "absent.csv"), logger.NewNop())
	h := NewDataHandler(loader, nil, nil, "", logger.NewNop())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Exists)
	assert.Zero(t, status.Rows)
}

func TestDataDownloadRejectsBadRequest(t *testing.T) {
	h := NewDataHandler(testLoader(t), nil, nil, "", logger.NewNop())

	rec := postJSON(t, h.Download, DownloadRequest{StartDate: "2020-01-01", EndDate: "2020-06-30"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h.Download, DownloadRequest{Tickers: []string{"AAA"}, StartDate: "not-a-date", EndDate: "2020-06-30"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBacktestRun(t *testing.T) {
	h := NewBacktestHandler(testLoader(t), noopCache(t), logger.NewNop())

	rec := postJSON(t, h.Run, BacktestRequest{
		StartDate: "2020-07-01",
		EndDate:   "2021-12-30",
		Strategy:  "momentum",
		NTickers:  2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result backtest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "momentum", result.Strategy)
	assert.NotEmpty(t, result.RunID)
	assert.Greater(t, result.FinalValue, 0.0)
	assert.NotEmpty(t, result.History)
}

func TestBacktestRejectsUnknownStrategy(t *testing.T) {
	h := NewBacktestHandler(testLoader(t), noopCache(t), logger.NewNop())

	rec := postJSON(t, h.Run, BacktestRequest{
		StartDate: "2020-07-01",
		EndDate:   "2021-12-30",
		Strategy:  "oracle",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBacktestRejectsBadDates(t *testing.T) {
	h := NewBacktestHandler(testLoader(t), noopCache(t), logger.NewNop())

	rec := postJSON(t, h.Run, BacktestRequest{
		StartDate: "July 2020",
		EndDate:   "2021-12-30",
		Strategy:  "momentum",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestHashIsStable(t *testing.T) {
	a := BacktestRequest{StartDate: "2020-07-01", EndDate: "2021-12-30", Strategy: "momentum"}
	b := a
	assert.Equal(t, requestHash(a), requestHash(b))

	b.NTickers = 3
	assert.NotEqual(t, requestHash(a), requestHash(b))
}

func TestOptimizeRun(t *testing.T) {
	h := NewOptimizeHandler(testLoader(t), optimize.DefaultBrokers(), logger.NewNop())

	rec := postJSON(t, h.Run, optimize.Request{
		Tickers:               []string{"AAA", "BBB"},
		StartDate:             "2020-07-01",
		EndDate:               "2021-12-30",
		Brokers:               []string{"bossa"},
		NTickersRange:         optimize.Range{Min: 2, Max: 2, Step: 1},
		RebalancePeriodRange:  optimize.Range{Min: 1, Max: 1, Step: 1},
		MomentumLookbackRange: optimize.Range{Min: 20, Max: 20, Step: 10},
		Strategies:            []string{"momentum"},
		SizingMethods:         []string{"equal"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result optimize.GridResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.TotalTests)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "bossa", result.Results[0].Broker)
}

func TestOptimizeProgressWithoutRun(t *testing.T) {
	h := NewOptimizeHandler(testLoader(t), optimize.DefaultBrokers(), logger.NewNop())

	rec := httptest.NewRecorder()
	h.Progress(rec, httptest.NewRequest(http.MethodGet, "/api/optimize/progress", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsSaveAndParse(t *testing.T) {
	dir := t.TempDir()
	h := NewResultsHandler(dir, logger.NewNop())

	grid := optimize.GridResult{
		TotalTests:     1,
		CompletedTests: 1,
		Results: []optimize.TrialResult{{
			TestNumber: 1, Broker: "bossa", NTickers: 2, RebalancePeriod: 1,
			Strategy: "momentum", SizingMethod: "equal",
			CAGR: 0.12, MaxDrawdown: -0.08, FinalValue: 11200, Score: 40,
		}},
	}
	raw, err := json.Marshal(grid)
	require.NoError(t, err)

	rec := postJSON(t, h.Save, SaveRequest{
		Params:  optimize.Request{Brokers: []string{"bossa"}, Strategies: []string{"momentum"}},
		Results: raw,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var saved map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.NotEmpty(t, saved["filename"])

	content, err := os.ReadFile(saved["path"])
	require.NoError(t, err)

	rec = postJSON(t, h.Parse, ParseRequest{FileContent: string(content)})
	require.Equal(t, http.StatusOK, rec.Code)

	var parsed struct {
		Status  string              `json:"status"`
		Results optimize.GridResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, "ok", parsed.Status)
	assert.Equal(t, grid.TotalTests, parsed.Results.TotalTests)
	require.Len(t, parsed.Results.Results, 1)
	assert.Equal(t, "bossa", parsed.Results.Results[0].Broker)
}

func TestResultsSaveRejectsEmptyResults(t *testing.T) {
	h := NewResultsHandler(t.TempDir(), logger.NewNop())

	rec := postJSON(t, h.Save, SaveRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResultsParseRejectsMissingFooter(t *testing.T) {
	h := NewResultsHandler(t.TempDir(), logger.NewNop())

	rec := postJSON(t, h.Parse, ParseRequest{FileContent: "not a report"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeResultByMode(t *testing.T) {
	wf, err := decodeResult(json.RawMessage(`{"walk_forward_mode":true,"total_windows":2}`))
	require.NoError(t, err)
	assert.IsType(t, &optimize.WalkForwardResult{}, wf)

	tt, err := decodeResult(json.RawMessage(`{"train_test_mode":true}`))
	require.NoError(t, err)
	assert.IsType(t, &optimize.TrainTestResult{}, tt)

	grid, err := decodeResult(json.RawMessage(`{"total_tests":4}`))
	require.NoError(t, err)
	assert.IsType(t, &optimize.GridResult{}, grid)
}
