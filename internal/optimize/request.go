package optimize

import (
	"fmt"
	"math"
	"time"
)

const (
	// Every optimization trial starts from the same fixed capital so
	// results are comparable across parameter combinations.
	trialInitialCapital = 10000

	defaultTopNForTest     = 10
	defaultStepMonths      = 6
	defaultMomentumLookback = 30
)

// Range describes an inclusive parameter sweep.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Ints expands the range into integer steps.
func (r Range) Ints() []int {
	var values []int
	for v := int(r.Min); v <= int(r.Max); v += int(r.Step) {
		values = append(values, v)
	}
	return values
}

// Floats expands the range into float steps, rounded to two decimals.
func (r Range) Floats() []float64 {
	var values []float64
	for v := r.Min; v <= r.Max+1e-9; v += r.Step {
		values = append(values, math.Round(v*100)/100)
	}
	return values
}

// ScoringConfig weights CAGR and drawdown bands when ranking trial results.
// Train and test periods carry separate bands so out-of-sample performance
// can dominate the combined score.
type ScoringConfig struct {
	CAGRMin    float64 `json:"cagr_min"`
	CAGRMax    float64 `json:"cagr_max"`
	CAGRWeight float64 `json:"cagr_weight"`
	DDMin      float64 `json:"dd_min"`
	DDMax      float64 `json:"dd_max"`
	DDWeight   float64 `json:"dd_weight"`

	TestCAGRMin    float64 `json:"test_cagr_min"`
	TestCAGRMax    float64 `json:"test_cagr_max"`
	TestCAGRWeight float64 `json:"test_cagr_weight"`
	TestDDMin      float64 `json:"test_dd_min"`
	TestDDMax      float64 `json:"test_dd_max"`
	TestDDWeight   float64 `json:"test_dd_weight"`
}

// DefaultScoringConfig weights out-of-sample CAGR 70/30 against
// out-of-sample drawdown and ignores in-sample metrics.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		CAGRMin: 0, CAGRMax: 1.0, CAGRWeight: 0,
		DDMin: -0.50, DDMax: 0, DDWeight: 0,
		TestCAGRMin: 0, TestCAGRMax: 1.0, TestCAGRWeight: 70,
		TestDDMin: -0.50, TestDDMax: 0, TestDDWeight: 30,
	}
}

// Request describes one optimization job.
type Request struct {
	Tickers   []string `json:"tickers"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`

	Brokers               []string `json:"brokers"`
	NTickersRange         Range    `json:"n_tickers_range"`
	StopLossRange         *Range   `json:"stop_loss_range,omitempty"`
	RebalancePeriodRange  Range    `json:"rebalance_period_range"`
	MomentumLookbackRange Range    `json:"momentum_lookback_range"`
	FilterNegativeValues  []bool   `json:"filter_negative_momentum"`
	MarginEnabled         bool     `json:"margin_enabled"`
	Strategies            []string `json:"strategies"`
	SizingMethods         []string `json:"sizing_methods"`

	EnableTrainTest bool   `json:"enable_train_test"`
	TrainStartDate  string `json:"train_start_date,omitempty"`
	TrainMonths     int    `json:"train_months,omitempty"`
	TestMonths      int    `json:"test_months,omitempty"`
	TopNForTest     int    `json:"top_n_for_test,omitempty"`

	Scoring *ScoringConfig `json:"scoring_config,omitempty"`

	EnableWalkForward      bool   `json:"enable_walk_forward"`
	WalkForwardStart       string `json:"walk_forward_start,omitempty"`
	WalkForwardEnd         string `json:"walk_forward_end,omitempty"`
	WalkForwardStepMonths  int    `json:"walk_forward_step_months,omitempty"`
	WalkForwardDynamicStep bool   `json:"walk_forward_dynamic_step"`
}

// scoring returns the configured bands or defaults.
func (r *Request) scoring() ScoringConfig {
	if r.Scoring != nil {
		return *r.Scoring
	}
	return DefaultScoringConfig()
}

// topN returns the configured display cutoff or its default.
func (r *Request) topN() int {
	if r.TopNForTest > 0 {
		return r.TopNForTest
	}
	return defaultTopNForTest
}

// filterValues returns the negative-momentum filter sweep, defaulting to
// filter disabled.
func (r *Request) filterValues() []bool {
	if len(r.FilterNegativeValues) > 0 {
		return r.FilterNegativeValues
	}
	return []bool{false}
}

func parseDate(value, field string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return t, nil
}

// TrialResult is the outcome of one parameter combination.
type TrialResult struct {
	TestNumber      int      `json:"test_number,omitempty"`
	Broker          string   `json:"broker"`
	NTickers        int      `json:"n_tickers"`
	RebalancePeriod int      `json:"rebalance_period"`
	StopLossPct     *float64 `json:"stop_loss_pct,omitempty"`
	Strategy        string   `json:"strategy"`
	SizingMethod    string   `json:"sizing_method"`
	MarginEnabled   bool     `json:"margin_enabled"`

	MomentumLookbackDays   int  `json:"momentum_lookback_days,omitempty"`
	FilterNegativeMomentum bool `json:"filter_negative_momentum,omitempty"`

	CAGR        float64 `json:"cagr"`
	MaxDrawdown float64 `json:"max_drawdown"`
	FinalValue  float64 `json:"final_value"`
	TotalReturn float64 `json:"total_return"`
	Score       float64 `json:"score"`
}

// Period is a labeled date span.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}
