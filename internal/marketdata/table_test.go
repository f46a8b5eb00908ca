package marketdata

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleDates() []time.Time {
	return []time.Time{
		day(2020, 1, 2),
		day(2020, 1, 3),
		day(2020, 1, 6),
		day(2020, 1, 7),
	}
}

func TestNewTableValidation(t *testing.T) {
	dates := sampleDates()

	_, err := NewTable(dates, map[string][]float64{})
	assert.Error(t, err)

	_, err = NewTable(dates, map[string][]float64{"AAPL": {100, 101}})
	assert.Error(t, err)

	table, err := NewTable(dates, map[string][]float64{"AAPL": {100, 101, 102, 103}})
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())
	assert.Equal(t, []string{"AAPL"}, table.Tickers())
}

func TestPriceLookup(t *testing.T) {
	table, err := NewTable(sampleDates(), map[string][]float64{
		"AAPL": {100, math.NaN(), 102, 103},
	})
	require.NoError(t, err)

	p, ok := table.Price("AAPL", day(2020, 1, 2))
	assert.True(t, ok)
	assert.Equal(t, 100.0, p)

	_, ok = table.Price("AAPL", day(2020, 1, 3))
	assert.False(t, ok, "missing value reports not ok")

	_, ok = table.Price("AAPL", day(2020, 1, 4))
	assert.False(t, ok, "non-trading date reports not ok")

	_, ok = table.Price("MSFT", day(2020, 1, 2))
	assert.False(t, ok, "unknown ticker reports not ok")
}

func TestRowOmitsMissingValues(t *testing.T) {
	table, err := NewTable(sampleDates(), map[string][]float64{
		"AAPL": {100, math.NaN(), 102, 103},
		"MSFT": {200, 201, 202, 203},
	})
	require.NoError(t, err)

	row := table.Row(1)
	assert.Equal(t, map[string]float64{"MSFT": 201}, row)
}

func TestRangeClipsInclusive(t *testing.T) {
	table, err := NewTable(sampleDates(), map[string][]float64{
		"AAPL": {100, 101, 102, 103},
	})
	require.NoError(t, err)

	from, to, err := table.Range(day(2020, 1, 3), day(2020, 1, 6))
	require.NoError(t, err)
	assert.Equal(t, 1, from)
	assert.Equal(t, 2, to)

	// bounds that fall between trading days snap inward
	from, to, err = table.Range(day(2020, 1, 4), day(2020, 1, 8))
	require.NoError(t, err)
	assert.Equal(t, 2, from)
	assert.Equal(t, 3, to)

	_, _, err = table.Range(day(2021, 1, 1), day(2021, 2, 1))
	assert.Error(t, err)
}

func TestValidSeriesSkipsGaps(t *testing.T) {
	table, err := NewTable(sampleDates(), map[string][]float64{
		"AAPL": {100, math.NaN(), 102, 103},
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{100, 102, 103}, table.ValidSeries("AAPL", 3))
	assert.Equal(t, []float64{100}, table.ValidSeries("AAPL", 1))
	assert.Empty(t, table.ValidSeries("MSFT", 3))
}

func TestForwardFill(t *testing.T) {
	table, err := NewTable(sampleDates(), map[string][]float64{
		"AAPL": {math.NaN(), 101, math.NaN(), math.NaN()},
	})
	require.NoError(t, err)

	filled := table.ForwardFill()

	_, ok := filled.PriceAt("AAPL", 0)
	assert.False(t, ok, "leading gap stays missing")

	for row, expected := range map[int]float64{1: 101, 2: 101, 3: 101} {
		p, ok := filled.PriceAt("AAPL", row)
		require.True(t, ok)
		assert.Equal(t, expected, p)
	}
}

func TestBusinessDaysSkipsWeekends(t *testing.T) {
	// Thu Jan 2 through Tue Jan 7, 2020
	days := BusinessDays(day(2020, 1, 2), day(2020, 1, 7))

	require.Len(t, days, 4)
	for _, d := range days {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
	}
}
