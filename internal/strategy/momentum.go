package strategy

import (
	"sort"
	"time"

	"github.com/mpaton/backtester/internal/marketdata"
)

// Momentum ranks tickers by their trailing return measured over each
// ticker's own valid observations. Gaps in one ticker's history do not
// shift the lookback of another.
type Momentum struct {
	nTickers       int
	clock          rebalanceClock
	table          *marketdata.Table
	lookbackDays   int
	filterNegative bool
}

// NewMomentum creates a momentum strategy over the full price history.
func NewMomentum(nTickers, rebalancePeriod int, rebalanceUnit string, table *marketdata.Table, lookbackDays int, filterNegative bool) *Momentum {
	return &Momentum{
		nTickers:       nTickers,
		clock:          rebalanceClock{period: rebalancePeriod, unit: rebalanceUnit},
		table:          table,
		lookbackDays:   lookbackDays,
		filterNegative: filterNegative,
	}
}

func (s *Momentum) Name() string {
	return "momentum"
}

func (s *Momentum) Select(available []string, date time.Time) []Candidate {
	row, ok := s.table.RowIndex(date)
	if !ok {
		return nil
	}

	type ranked struct {
		ticker string
		score  float64
		ret    float64
	}

	var scored []ranked
	for _, ticker := range available {
		series := s.table.ValidSeries(ticker, row)
		if len(series) < s.lookbackDays+1 {
			continue
		}

		recent := series[len(series)-1]
		past := series[len(series)-1-s.lookbackDays]
		if past <= 0 {
			continue
		}

		ret := (recent - past) / past
		if s.filterNegative && ret < 0 {
			continue
		}

		score := ret * 50
		if score < 0 {
			score = 0
		} else if score > 90 {
			score = 90
		}

		scored = append(scored, ranked{ticker: ticker, score: score, ret: ret})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].ret > scored[j].ret
	})

	if len(scored) > s.nTickers {
		scored = scored[:s.nTickers]
	}

	candidates := make([]Candidate, len(scored))
	for i, r := range scored {
		candidates[i] = Candidate{Ticker: r.ticker, Score: r.score}
	}
	return candidates
}

func (s *Momentum) ShouldRebalance(date, lastRebalance time.Time) bool {
	return s.clock.shouldRebalance(date, lastRebalance)
}
