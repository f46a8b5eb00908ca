package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Missing is the explicit absence marker for closing prices.
var Missing = math.NaN()

// IsMissing reports whether a price value is the absence marker.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

const dateLayout = "2006-01-02"

// Table is a date-ordered, business-day-complete table of daily closing
// prices per ticker. Missing values are represented as NaN. A Table is
// immutable after construction and safe for concurrent reads.
type Table struct {
	dates   []time.Time
	rowIdx  map[string]int
	tickers []string
	closes  map[string][]float64
}

// NewTable builds a table from ascending dates and per-ticker close series.
// Every series must have exactly one value per date.
func NewTable(dates []time.Time, closes map[string][]float64) (*Table, error) {
	if len(closes) == 0 {
		return nil, fmt.Errorf("price table has no close-price series")
	}

	tickers := make([]string, 0, len(closes))
	for ticker, series := range closes {
		if len(series) != len(dates) {
			return nil, fmt.Errorf("ticker %s: %d prices for %d dates", ticker, len(series), len(dates))
		}
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	rowIdx := make(map[string]int, len(dates))
	for i, d := range dates {
		rowIdx[d.Format(dateLayout)] = i
	}

	return &Table{
		dates:   dates,
		rowIdx:  rowIdx,
		tickers: tickers,
		closes:  closes,
	}, nil
}

// Dates returns the ordered trading dates.
func (t *Table) Dates() []time.Time {
	return t.dates
}

// Tickers returns the tickers in sorted order.
func (t *Table) Tickers() []string {
	return t.tickers
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.dates)
}

// RowIndex returns the row position of a date.
func (t *Table) RowIndex(date time.Time) (int, bool) {
	i, ok := t.rowIdx[date.Format(dateLayout)]
	return i, ok
}

// PriceAt returns the close for a ticker at a row position.
// ok is false for unknown tickers and missing values.
func (t *Table) PriceAt(ticker string, row int) (float64, bool) {
	series, exists := t.closes[ticker]
	if !exists || row < 0 || row >= len(series) {
		return 0, false
	}
	if IsMissing(series[row]) {
		return 0, false
	}
	return series[row], true
}

// Price returns the close for a ticker on a date.
func (t *Table) Price(ticker string, date time.Time) (float64, bool) {
	row, ok := t.RowIndex(date)
	if !ok {
		return 0, false
	}
	return t.PriceAt(ticker, row)
}

// Row returns the valid prices for all tickers at a row position.
// Tickers with a missing value are omitted.
func (t *Table) Row(row int) map[string]float64 {
	prices := make(map[string]float64, len(t.tickers))
	for _, ticker := range t.tickers {
		if p, ok := t.PriceAt(ticker, row); ok {
			prices[ticker] = p
		}
	}
	return prices
}

// Range returns the row span [from, to] covered by the date range.
// Both bounds are inclusive; an empty span is an error.
func (t *Table) Range(start, end time.Time) (int, int, error) {
	from := sort.Search(len(t.dates), func(i int) bool {
		return !t.dates[i].Before(start)
	})
	to := sort.Search(len(t.dates), func(i int) bool {
		return t.dates[i].After(end)
	}) - 1

	if from > to || from >= len(t.dates) {
		return 0, 0, fmt.Errorf("no trading days between %s and %s",
			start.Format(dateLayout), end.Format(dateLayout))
	}
	return from, to, nil
}

// ValidSeries returns the ticker's non-missing closes for rows [0, uptoRow],
// preserving date order. Used by strategies that count valid observations.
func (t *Table) ValidSeries(ticker string, uptoRow int) []float64 {
	series, exists := t.closes[ticker]
	if !exists {
		return nil
	}
	if uptoRow >= len(series) {
		uptoRow = len(series) - 1
	}

	valid := make([]float64, 0, uptoRow+1)
	for i := 0; i <= uptoRow; i++ {
		if !IsMissing(series[i]) {
			valid = append(valid, series[i])
		}
	}
	return valid
}

// ForwardFill returns a copy of the table with every missing value replaced
// by the most recent prior close of the same ticker. Leading gaps stay
// missing.
func (t *Table) ForwardFill() *Table {
	filled := make(map[string]float64, len(t.tickers))
	closes := make(map[string][]float64, len(t.tickers))
	for _, ticker := range t.tickers {
		src := t.closes[ticker]
		dst := make([]float64, len(src))
		for i, v := range src {
			if IsMissing(v) {
				if last, ok := filled[ticker]; ok {
					v = last
				}
			} else {
				filled[ticker] = v
			}
			dst[i] = v
		}
		closes[ticker] = dst
	}

	out, _ := NewTable(t.dates, closes)
	return out
}

// BusinessDays returns every weekday between start and end inclusive.
func BusinessDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days
}
