package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mpaton/backtester/internal/portfolio"
)

const tradingDaysPerYear = 252

// Metrics summarizes one run's valuation history.
type Metrics struct {
	TotalReturn    float64            `json:"total_return"`
	CAGR           float64            `json:"cagr"`
	MaxDrawdown    float64            `json:"max_drawdown"`
	FinalValue     float64            `json:"final_value"`
	Volatility     float64            `json:"volatility"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
	MonthlyReturns map[string]float64 `json:"monthly_returns"`
}

// ComputeMetrics derives summary statistics from the valuation history.
// Degenerate inputs (empty history, zero time span, zero start value)
// produce zero values rather than errors.
func ComputeMetrics(history []portfolio.Snapshot) Metrics {
	if len(history) == 0 {
		return Metrics{MonthlyReturns: map[string]float64{}}
	}

	startValue := history[0].TotalValue
	endValue := history[len(history)-1].TotalValue

	totalReturn := 0.0
	if startValue != 0 {
		totalReturn = (endValue - startValue) / startValue
	}

	days := history[len(history)-1].Date.Time().Sub(history[0].Date.Time()).Hours() / 24
	years := days / 365.25
	cagr := 0.0
	if years > 0 && startValue > 0 && endValue > 0 {
		cagr = math.Pow(endValue/startValue, 1/years) - 1
	}

	dailyReturns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].TotalValue
		if prev != 0 {
			dailyReturns = append(dailyReturns, (history[i].TotalValue-prev)/prev)
		}
	}

	volatility := 0.0
	sharpe := 0.0
	if len(dailyReturns) > 1 {
		mean := stat.Mean(dailyReturns, nil)
		stddev := stat.StdDev(dailyReturns, nil)
		volatility = stddev * math.Sqrt(tradingDaysPerYear)
		if stddev > 0 {
			sharpe = mean / stddev * math.Sqrt(tradingDaysPerYear)
		}
	}

	return Metrics{
		TotalReturn:    totalReturn,
		CAGR:           cagr,
		MaxDrawdown:    maxDrawdown(history),
		FinalValue:     endValue,
		Volatility:     volatility,
		SharpeRatio:    sharpe,
		MonthlyReturns: monthlyReturns(history),
	}
}

// maxDrawdown returns the deepest peak-to-trough decline as a negative
// fraction, 0 when the value never fell below a prior peak.
func maxDrawdown(history []portfolio.Snapshot) float64 {
	peak := history[0].TotalValue
	worst := 0.0
	for _, snap := range history {
		if snap.TotalValue > peak {
			peak = snap.TotalValue
		}
		if peak > 0 {
			if dd := (snap.TotalValue - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// monthlyReturns compounds daily returns per calendar month, keyed YYYY-MM.
func monthlyReturns(history []portfolio.Snapshot) map[string]float64 {
	compounded := make(map[string]float64)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].TotalValue
		if prev == 0 {
			continue
		}
		dailyReturn := (history[i].TotalValue - prev) / prev

		month := history[i].Date.Time().Format("2006-01")
		growth, seen := compounded[month]
		if !seen {
			growth = 1
		}
		compounded[month] = growth * (1 + dailyReturn)
	}

	returns := make(map[string]float64, len(compounded))
	for month, growth := range compounded {
		returns[month] = growth - 1
	}
	return returns
}
