package portfolio

import (
	"math"
	"sort"
	"time"
)

// Fee models.
const (
	FeePercentage = "percentage"
	FeeFixed      = "fixed"
)

// Sizing methods for rebalance allocations.
const (
	SizingEqual = "equal"
	SizingVaR   = "var"
)

const marginInterestRateAnnual = 0.03

// Config holds the account's trading rules for one simulation run.
type Config struct {
	InitialCapital float64
	FeeEnabled     bool
	FeeType        string
	FeeValue       float64
	TaxEnabled     bool
	TaxRatePct     float64
	MarginEnabled  bool
	SizingMethod   string
}

// Target is one ticker the strategy wants held, with its ranking score.
type Target struct {
	Ticker string
	Score  float64
}

// Account owns the cash balance, open positions and tax state of one
// simulation run. It is mutated only by the loop driving that run and is
// never shared between runs.
//
// The three position maps always carry identical key sets.
type Account struct {
	cfg Config

	cash        float64
	holdings    map[string]int
	costBasis   map[string]float64
	entryPrices map[string]float64

	annualRealizedPnL float64
	lossCarryforward  []LossCarry
	lastTaxYear       int

	history  []Snapshot
	eventLog []Event
}

// NewAccount creates an account funded with the configured initial capital.
func NewAccount(cfg Config) *Account {
	return &Account{
		cfg:         cfg,
		cash:        cfg.InitialCapital,
		holdings:    make(map[string]int),
		costBasis:   make(map[string]float64),
		entryPrices: make(map[string]float64),
	}
}

// Cash returns the current cash balance. Negative only under margin.
func (a *Account) Cash() float64 {
	return a.cash
}

// Holds reports whether the ticker has an open position.
func (a *Account) Holds(ticker string) bool {
	_, ok := a.holdings[ticker]
	return ok
}

// Quantity returns the held share count for a ticker, 0 if unheld.
func (a *Account) Quantity(ticker string) int {
	return a.holdings[ticker]
}

// HeldTickers returns the open positions in sorted order.
func (a *Account) HeldTickers() []string {
	tickers := make([]string, 0, len(a.holdings))
	for t := range a.holdings {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// History returns the daily valuation snapshots in chronological order.
func (a *Account) History() []Snapshot {
	return a.history
}

// Events returns the event log in chronological order.
func (a *Account) Events() []Event {
	return a.eventLog
}

// fee computes the transaction fee on a trade amount.
func (a *Account) fee(amount float64) float64 {
	if !a.cfg.FeeEnabled {
		return 0
	}
	if a.cfg.FeeType == FeeFixed {
		return a.cfg.FeeValue
	}
	return amount * (a.cfg.FeeValue / 100)
}

// TotalValue returns cash plus the mark-to-market value of every holding
// with a price in the given map.
func (a *Account) TotalValue(prices map[string]float64) float64 {
	value := a.cash
	for ticker, quantity := range a.holdings {
		if price, ok := prices[ticker]; ok {
			value += float64(quantity) * price
		}
	}
	return value
}

// Sell closes the ticker's position at the given price. Selling an unheld
// ticker is a no-op and returns nil.
func (a *Account) Sell(ticker string, price float64) *SaleRecord {
	quantity, held := a.holdings[ticker]
	if !held {
		return nil
	}

	revenue := float64(quantity) * price
	fee := a.fee(revenue)

	cost := a.costBasis[ticker]
	pnl := revenue - cost - fee
	pnlPct := 0.0
	if cost > 0 {
		pnlPct = pnl / cost
	}

	if a.cfg.TaxEnabled {
		a.annualRealizedPnL += pnl
	}

	a.cash += revenue - fee
	delete(a.holdings, ticker)
	delete(a.costBasis, ticker)
	delete(a.entryPrices, ticker)

	return &SaleRecord{
		Revenue:   revenue,
		Profit:    pnl,
		ReturnPct: pnlPct,
		Fee:       fee,
	}
}

// Buy opens a whole-share position sized from the dollar allocation. Under
// margin one extra share beyond the allocation is always added, which may
// drive cash negative. Non-positive prices and zero quantities are no-ops.
func (a *Account) Buy(ticker string, allocation, price, score float64, varValue *float64) *PurchaseRecord {
	if price <= 0 {
		return nil
	}

	quantity := int(math.Floor(allocation / price))
	if a.cfg.MarginEnabled {
		quantity++
	}
	if quantity <= 0 {
		return nil
	}

	actualCost := float64(quantity) * price
	fee := a.fee(actualCost)

	a.holdings[ticker] = quantity
	a.costBasis[ticker] = actualCost
	a.entryPrices[ticker] = price
	a.cash -= actualCost + fee

	return &PurchaseRecord{
		Ticker:   ticker,
		Quantity: quantity,
		Price:    price,
		Score:    score,
		Fee:      fee,
		VaR:      varValue,
	}
}

// StopLossCandidates returns held tickers whose trigger price has fallen
// below the entry price by more than the stop-loss fraction. Trigger prices
// are the previous day's closes.
func (a *Account) StopLossCandidates(triggerPrices map[string]float64, stopLossPct float64) []string {
	if stopLossPct <= 0 {
		return nil
	}

	var candidates []string
	for ticker := range a.holdings {
		trigger, ok := triggerPrices[ticker]
		if !ok {
			continue
		}
		entry := a.entryPrices[ticker]
		if entry > 0 && trigger < entry*(1-stopLossPct) {
			candidates = append(candidates, ticker)
		}
	}
	sort.Strings(candidates)
	return candidates
}

// Rebalance sells held tickers absent from the target set, then buys target
// tickers not yet held, splitting available cash per the sizing method.
// varMap supplies per-ticker Value-at-Risk for inverse-risk sizing.
// A single rebalance event is appended.
func (a *Account) Rebalance(targets []Target, prices map[string]float64, date time.Time, varMap map[string]float64) {
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t.Ticker] = true
	}

	sold := make(map[string]SaleRecord)
	for _, ticker := range a.HeldTickers() {
		if targetSet[ticker] {
			continue
		}
		price, ok := prices[ticker]
		if !ok {
			continue
		}
		if record := a.Sell(ticker, price); record != nil {
			sold[ticker] = *record
		}
	}

	var toBuy []Target
	for _, t := range targets {
		if !a.Holds(t.Ticker) {
			toBuy = append(toBuy, t)
		}
	}

	var bought []PurchaseRecord
	if len(toBuy) > 0 {
		allocations := a.allocate(toBuy, varMap)
		for _, t := range toBuy {
			price, ok := prices[t.Ticker]
			if !ok {
				continue
			}
			var varValue *float64
			if v, hasVar := varMap[t.Ticker]; hasVar {
				v := v
				varValue = &v
			}
			if record := a.Buy(t.Ticker, allocations[t.Ticker], price, t.Score, varValue); record != nil {
				bought = append(bought, *record)
			}
		}
	}

	a.eventLog = append(a.eventLog, Event{
		Date:   Day(date),
		Type:   EventRebalance,
		Sold:   sold,
		Bought: bought,
		Cash:   a.cash,
	})
}

// allocate splits available cash across the buy list. Inverse-VaR weighting
// assigns weight 1/|VaR| per ticker, with a 5% fallback VaR for missing or
// near-zero values; otherwise the split is equal.
func (a *Account) allocate(toBuy []Target, varMap map[string]float64) map[string]float64 {
	allocations := make(map[string]float64, len(toBuy))

	if a.cfg.SizingMethod == SizingVaR && len(varMap) > 0 {
		weights := make(map[string]float64, len(toBuy))
		totalWeight := 0.0
		for _, t := range toBuy {
			weight := 1.0 / 0.05
			if v, ok := varMap[t.Ticker]; ok && math.Abs(v) > 0.0001 {
				weight = 1.0 / math.Abs(v)
			}
			weights[t.Ticker] = weight
			totalWeight += weight
		}

		if totalWeight > 0 {
			for ticker, weight := range weights {
				allocations[ticker] = a.cash * (weight / totalWeight)
			}
			return allocations
		}
	}

	for _, t := range toBuy {
		allocations[t.Ticker] = a.cash / float64(len(toBuy))
	}
	return allocations
}

// AppendEvent records an externally assembled event, such as a stop-loss
// day built by the simulation loop.
func (a *Account) AppendEvent(event Event) {
	a.eventLog = append(a.eventLog, event)
}

// AccrueMarginInterest charges one day of interest on a negative cash
// balance at 3% annually.
func (a *Account) AccrueMarginInterest() {
	if a.cfg.MarginEnabled && a.cash < 0 {
		dailyRate := marginInterestRateAnnual / 365.25
		a.cash -= math.Abs(a.cash) * dailyRate
	}
}

// RecordSnapshot appends the day's valuation to the history.
func (a *Account) RecordSnapshot(date time.Time, prices map[string]float64) {
	a.history = append(a.history, Snapshot{
		Date:       Day(date),
		TotalValue: a.TotalValue(prices),
		Cash:       a.cash,
	})
}
