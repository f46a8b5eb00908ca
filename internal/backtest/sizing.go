package backtest

import (
	"math"
	"sort"

	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/strategy"
)

// varLookbackRows is the trailing window for the Value-at-Risk proxy,
// roughly one trading year.
const varLookbackRows = 252

// varMap computes the 5th-percentile daily return per target ticker over a
// trailing window ending at the given row of the full table. The window is
// deliberately not clipped to the run's start date, so early rebalances can
// look back before the simulation window. Tickers with too little history
// are omitted.
func varMap(table *marketdata.Table, targets []strategy.Candidate, row int) map[string]float64 {
	start := row - varLookbackRows
	if start < 0 {
		start = 0
	}

	out := make(map[string]float64, len(targets))
	for _, target := range targets {
		var closes []float64
		for i := start; i <= row; i++ {
			if p, ok := table.PriceAt(target.Ticker, i); ok {
				closes = append(closes, p)
			}
		}
		if len(closes) < 2 {
			continue
		}

		returns := make([]float64, 0, len(closes)-1)
		for i := 1; i < len(closes); i++ {
			if closes[i-1] != 0 {
				returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
			}
		}
		if len(returns) == 0 {
			continue
		}

		out[target.Ticker] = percentile(returns, 5)
	}
	return out
}

// percentile returns the p-th percentile of values using linear
// interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	weight := idx - float64(lower)

	if lower+1 < len(sorted) {
		return sorted[lower]*(1-weight) + sorted[lower+1]*weight
	}
	return sorted[lower]
}
