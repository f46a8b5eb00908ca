package optimize

import (
	"fmt"
	"math"
	"time"
)

// Window labels the four dates of one walk-forward slice.
type Window struct {
	TrainStart string `json:"train_start"`
	TrainEnd   string `json:"train_end"`
	TestStart  string `json:"test_start"`
	TestEnd    string `json:"test_end"`
}

// PortfolioState records the live simulation that follows one window,
// trading the window's winning parameters with carried-over capital.
type PortfolioState struct {
	SimStartDate   string       `json:"sim_start_date,omitempty"`
	SimEndDate     string       `json:"sim_end_date,omitempty"`
	BestParams     *TrialResult `json:"best_params,omitempty"`
	InitialCapital float64      `json:"initial_capital,omitempty"`
	FinalCapital   float64      `json:"final_capital,omitempty"`
	TotalReturnPct float64      `json:"total_return_pct"`
	MaxDrawdownPct float64      `json:"max_drawdown_pct"`
	Error          string       `json:"error,omitempty"`
}

// WindowResult is one walk-forward slice with its top-ranked combinations.
type WindowResult struct {
	WindowNumber   int             `json:"window_number"`
	Window         Window          `json:"window"`
	TrainResults   []TrialResult   `json:"train_results"`
	TestResults    []TrialResult   `json:"test_results"`
	Scores         []float64       `json:"scores"`
	PortfolioState *PortfolioState `json:"portfolio_state,omitempty"`
}

// PortfolioSummary aggregates the carried-capital simulation across all
// windows.
type PortfolioSummary struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGR           float64 `json:"cagr"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
}

// WalkForwardResult is the output of a walk-forward optimization.
type WalkForwardResult struct {
	WalkForwardMode   bool              `json:"walk_forward_mode"`
	TotalWindows      int               `json:"total_windows"`
	Windows           []WindowResult    `json:"windows"`
	TrainPeriodMonths int               `json:"train_period_months"`
	TestPeriodMonths  int               `json:"test_period_months"`
	StepMonths        int               `json:"step_months"`
	PortfolioSummary  *PortfolioSummary `json:"portfolio_summary,omitempty"`
}

// RunWalkForward slides a train/test window across the date range. After
// each window the winning parameters trade one more rebalance period with
// the capital carried from earlier windows, approximating live use of the
// optimizer. With dynamic stepping the next window advances by the
// winner's rebalance period instead of the fixed step.
func (o *Optimizer) RunWalkForward(req Request) (*WalkForwardResult, error) {
	if req.TrainMonths <= 0 || req.TestMonths <= 0 {
		return nil, fmt.Errorf("walk-forward requires train_months and test_months")
	}
	currentStart, err := parseDate(req.WalkForwardStart, "walk_forward_start")
	if err != nil {
		return nil, err
	}
	overallEnd, err := parseDate(req.WalkForwardEnd, "walk_forward_end")
	if err != nil {
		return nil, err
	}

	stepMonths := req.WalkForwardStepMonths
	if stepMonths <= 0 {
		stepMonths = defaultStepMonths
	}

	dates := o.table.Dates()
	if len(dates) == 0 {
		return nil, fmt.Errorf("price table is empty")
	}
	lastAvailable := dates[len(dates)-1]

	currentCapital := float64(trialInitialCapital)
	var windows []WindowResult

	for windowIndex := 0; ; windowIndex++ {
		trainEnd, testStart, testEnd := trainTestWindow(currentStart, req.TrainMonths, req.TestMonths)
		if testEnd.After(overallEnd) {
			break
		}

		window := Window{
			TrainStart: currentStart.Format("2006-01-02"),
			TrainEnd:   trainEnd.Format("2006-01-02"),
			TestStart:  testStart.Format("2006-01-02"),
			TestEnd:    testEnd.Format("2006-01-02"),
		}

		windowReq := req
		windowReq.EnableWalkForward = false
		windowReq.EnableTrainTest = true
		windowReq.TrainStartDate = window.TrainStart

		ttResult, err := o.RunTrainTest(windowReq)
		if err != nil {
			return nil, fmt.Errorf("window %d failed: %w", windowIndex+1, err)
		}

		result := WindowResult{
			WindowNumber: windowIndex + 1,
			Window:       window,
			TrainResults: ttResult.TrainResults,
			TestResults:  ttResult.TestResults,
			Scores:       ttResult.Scores,
		}

		nextStep := stepMonths
		if len(ttResult.AllScores) > 0 {
			best := ttResult.AllTrainResults[0]

			if req.WalkForwardDynamicStep && best.RebalancePeriod > 0 {
				nextStep = best.RebalancePeriod
			}

			result.PortfolioState = o.simulateWindow(best, testEnd, lastAvailable, currentCapital, req.MarginEnabled)
			if result.PortfolioState.Error == "" {
				currentCapital = result.PortfolioState.FinalCapital
			}
		}

		windows = append(windows, result)
		currentStart = currentStart.AddDate(0, nextStep, 0)
	}

	out := &WalkForwardResult{
		WalkForwardMode:   true,
		TotalWindows:      len(windows),
		Windows:           windows,
		TrainPeriodMonths: req.TrainMonths,
		TestPeriodMonths:  req.TestMonths,
		StepMonths:        stepMonths,
		PortfolioSummary:  summarize(windows, currentCapital),
	}
	return out, nil
}

// simulateWindow trades the winning parameters over the rebalance period
// that follows the test window, carrying the running capital.
func (o *Optimizer) simulateWindow(best TrialResult, testEnd, lastAvailable time.Time, capital float64, margin bool) *PortfolioState {
	simStart := testEnd.AddDate(0, 0, 1)
	if simStart.After(lastAvailable) {
		return &PortfolioState{
			Error: fmt.Sprintf("simulation start %s is beyond available data", simStart.Format("2006-01-02")),
		}
	}

	rebalanceMonths := best.RebalancePeriod
	if rebalanceMonths <= 0 {
		rebalanceMonths = 1
	}
	simEnd := simStart.AddDate(0, rebalanceMonths, 0)
	if simEnd.After(lastAvailable) {
		simEnd = lastAvailable
	}

	trial, err := o.runTrial(comboFromTrial(best), simStart, simEnd, margin, capital, DefaultScoringConfig())
	if err != nil {
		return &PortfolioState{Error: err.Error()}
	}

	return &PortfolioState{
		SimStartDate:   simStart.Format("2006-01-02"),
		SimEndDate:     simEnd.Format("2006-01-02"),
		BestParams:     &best,
		InitialCapital: capital,
		FinalCapital:   trial.FinalValue,
		TotalReturnPct: trial.TotalReturn * 100,
		MaxDrawdownPct: trial.MaxDrawdown * 100,
	}
}

// summarize computes the across-window portfolio performance from the
// first and last successful simulations.
func summarize(windows []WindowResult, finalCapital float64) *PortfolioSummary {
	var startDate, endDate string
	for _, w := range windows {
		if w.PortfolioState != nil && w.PortfolioState.SimStartDate != "" {
			startDate = w.PortfolioState.SimStartDate
			break
		}
	}
	for i := len(windows) - 1; i >= 0; i-- {
		if windows[i].PortfolioState != nil && windows[i].PortfolioState.SimEndDate != "" {
			endDate = windows[i].PortfolioState.SimEndDate
			break
		}
	}
	if startDate == "" || endDate == "" {
		return nil
	}

	start, _ := time.Parse("2006-01-02", startDate)
	end, _ := time.Parse("2006-01-02", endDate)
	years := end.Sub(start).Hours() / 24 / 365.25

	cagr := 0.0
	if years > 0 && finalCapital > 0 {
		cagr = (math.Pow(finalCapital/trialInitialCapital, 1/years) - 1) * 100
	}

	return &PortfolioSummary{
		InitialCapital: trialInitialCapital,
		FinalCapital:   finalCapital,
		TotalReturnPct: (finalCapital - trialInitialCapital) / trialInitialCapital * 100,
		CAGR:           cagr,
		StartDate:      startDate,
		EndDate:        endDate,
	}
}
