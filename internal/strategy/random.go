package strategy

import (
	"math/rand"
	"time"
)

// Random picks an unweighted random sample of tickers. Every candidate
// carries a zero score. Useful as a baseline against ranked strategies.
type Random struct {
	nTickers int
	clock    rebalanceClock
	rng      *rand.Rand
}

// NewRandom creates a random-selection strategy. The rand source is
// injected so runs can be reproduced.
func NewRandom(nTickers, rebalancePeriod int, rebalanceUnit string, rng *rand.Rand) *Random {
	return &Random{
		nTickers: nTickers,
		clock:    rebalanceClock{period: rebalancePeriod, unit: rebalanceUnit},
		rng:      rng,
	}
}

func (s *Random) Name() string {
	return "random"
}

func (s *Random) Select(available []string, date time.Time) []Candidate {
	if len(available) <= s.nTickers {
		candidates := make([]Candidate, len(available))
		for i, ticker := range available {
			candidates[i] = Candidate{Ticker: ticker}
		}
		return candidates
	}

	candidates := make([]Candidate, 0, s.nTickers)
	for _, i := range s.rng.Perm(len(available))[:s.nTickers] {
		candidates = append(candidates, Candidate{Ticker: available[i]})
	}
	return candidates
}

func (s *Random) ShouldRebalance(date, lastRebalance time.Time) bool {
	return s.clock.shouldRebalance(date, lastRebalance)
}
