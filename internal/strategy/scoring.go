package strategy

import (
	"sort"
	"time"

	"github.com/mpaton/backtester/internal/marketdata"
)

// smaWindow is the trailing observation count for the trend bonus.
const smaWindow = 200

// scoringBand maps a trailing return over a row offset onto a 0-30 point
// scale, linear between the bounds and clamped outside them.
type scoringBand struct {
	offset int
	lower  float64
	upper  float64
}

var scoringBands = []scoringBand{
	{offset: 20, lower: 0.03, upper: 0.15},
	{offset: 40, lower: 0.03, upper: 0.20},
	{offset: 60, lower: 0.03, upper: 0.25},
}

// Scoring ranks tickers by a composite of three banded return sub-scores
// (20/40/60 trading-day lookbacks, 0-30 points each) plus a flat 30-point
// bonus when the current price sits above its 200-observation moving
// average. Maximum score 120.
type Scoring struct {
	nTickers int
	clock    rebalanceClock
	table    *marketdata.Table
}

// NewScoring creates a scoring strategy over the full price history.
// The table should be forward filled so row offsets line up across tickers.
func NewScoring(nTickers, rebalancePeriod int, rebalanceUnit string, table *marketdata.Table) *Scoring {
	return &Scoring{
		nTickers: nTickers,
		clock:    rebalanceClock{period: rebalancePeriod, unit: rebalanceUnit},
		table:    table,
	}
}

func (s *Scoring) Name() string {
	return "scoring"
}

func (s *Scoring) Select(available []string, date time.Time) []Candidate {
	row, ok := s.table.RowIndex(date)
	if !ok {
		return nil
	}

	var scored []Candidate
	for _, ticker := range available {
		current, valid := s.table.PriceAt(ticker, row)
		if !valid {
			continue
		}

		total := 0.0
		for _, band := range scoringBands {
			total += s.bandScore(ticker, row, current, band)
		}
		total += s.trendBonus(ticker, row, current)

		scored = append(scored, Candidate{Ticker: ticker, Score: total})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > s.nTickers {
		scored = scored[:s.nTickers]
	}
	return scored
}

// bandScore scores one trailing return: 0 below the lower bound, 30 above
// the upper, linear in between.
func (s *Scoring) bandScore(ticker string, row int, current float64, band scoringBand) float64 {
	past, ok := s.table.PriceAt(ticker, row-band.offset)
	if !ok || past <= 0 {
		return 0
	}

	ret := (current - past) / past
	switch {
	case ret < band.lower:
		return 0
	case ret > band.upper:
		return 30
	default:
		return 30 * (ret - band.lower) / (band.upper - band.lower)
	}
}

// trendBonus awards 30 points when the current price exceeds the mean of
// the trailing 200 observations. Requires a full window; missing values
// inside the window are ignored.
func (s *Scoring) trendBonus(ticker string, row int, current float64) float64 {
	if row < smaWindow-1 {
		return 0
	}

	sum := 0.0
	count := 0
	for i := row - smaWindow + 1; i <= row; i++ {
		if p, ok := s.table.PriceAt(ticker, i); ok {
			sum += p
			count++
		}
	}
	if count == 0 {
		return 0
	}

	if current > sum/float64(count) {
		return 30
	}
	return 0
}

func (s *Scoring) ShouldRebalance(date, lastRebalance time.Time) bool {
	return s.clock.shouldRebalance(date, lastRebalance)
}
