package strategy

import (
	"time"
)

// Candidate is one ranked ticker produced by a strategy.
type Candidate struct {
	Ticker string  `json:"ticker"`
	Score  float64 `json:"score"`
}

// Strategy ranks tickers on a date and decides when to rebalance.
// Select receives only tickers with a valid price on that date and returns
// them in descending priority. ShouldRebalance receives the zero time when
// no rebalance has happened yet.
type Strategy interface {
	Name() string
	Select(available []string, date time.Time) []Candidate
	ShouldRebalance(date, lastRebalance time.Time) bool
}

// Rebalance period units.
const (
	UnitDays   = "days"
	UnitWeeks  = "weeks"
	UnitMonths = "months"
)

// rebalanceClock implements the shared elapsed-time rule: the first day
// always rebalances; after that a fixed number of calendar days must pass,
// with weeks as 7 days and months approximated as 30 days.
type rebalanceClock struct {
	period int
	unit   string
}

func (c rebalanceClock) shouldRebalance(date, lastRebalance time.Time) bool {
	if lastRebalance.IsZero() {
		return true
	}

	daysDiff := int(date.Sub(lastRebalance).Hours() / 24)

	switch c.unit {
	case UnitDays:
		return daysDiff >= c.period
	case UnitWeeks:
		return daysDiff >= c.period*7
	default:
		return daysDiff >= c.period*30
	}
}
