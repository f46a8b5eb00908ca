package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mpaton/backtester/pkg/httputil"
	"github.com/mpaton/backtester/pkg/logger"
)

const stooqBaseURL = "https://stooq.com/q/d/l/"

// Downloader fetches daily closing prices from the Stooq CSV endpoint and
// assembles them into a business-day price table.
type Downloader struct {
	client *httputil.Client
	logger *logger.Logger
}

// NewDownloader creates a downloader. Requests are rate limited so bulk
// refreshes stay within the provider's tolerance.
func NewDownloader(client *httputil.Client, log *logger.Logger) *Downloader {
	return &Downloader{
		client: client,
		logger: log,
	}
}

// Download fetches closes for every ticker over the date range, aligns them
// on a shared weekday index and forward fills gaps.
func (d *Downloader) Download(ctx context.Context, tickers []string, start, end time.Time) (*Table, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers to download")
	}

	days := BusinessDays(start, end)
	if len(days) == 0 {
		return nil, fmt.Errorf("no business days between %s and %s",
			start.Format(dateLayout), end.Format(dateLayout))
	}

	rowIdx := make(map[string]int, len(days))
	for i, day := range days {
		rowIdx[day.Format(dateLayout)] = i
	}

	closes := make(map[string][]float64, len(tickers))
	for _, ticker := range tickers {
		series := make([]float64, len(days))
		for i := range series {
			series[i] = Missing
		}

		fetched, err := d.fetchTicker(ctx, ticker, start, end)
		if err != nil {
			return nil, fmt.Errorf("download failed for %s: %w", ticker, err)
		}

		matched := 0
		for date, close := range fetched {
			if i, ok := rowIdx[date]; ok {
				series[i] = close
				matched++
			}
		}

		d.logger.WithFields(map[string]interface{}{
			"ticker": ticker,
			"rows":   matched,
		}).Debug("Ticker history fetched")

		closes[ticker] = series
	}

	table, err := NewTable(days, closes)
	if err != nil {
		return nil, err
	}
	return table.ForwardFill(), nil
}

// fetchTicker retrieves one ticker's daily history as date -> close.
func (d *Downloader) fetchTicker(ctx context.Context, ticker string, start, end time.Time) (map[string]float64, error) {
	query := url.Values{}
	query.Set("s", stooqSymbol(ticker))
	query.Set("i", "d")
	query.Set("d1", start.Format("20060102"))
	query.Set("d2", end.Format("20060102"))

	resp, err := d.client.Get(ctx, stooqBaseURL+"?"+query.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return parseStooqCSV(resp.Body)
}

// parseStooqCSV parses the provider's Date,Open,High,Low,Close[,Volume]
// daily history format.
func parseStooqCSV(r io.Reader) (map[string]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("empty history response: %w", err)
	}

	closeCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "Close") {
			closeCol = i
			break
		}
	}
	if closeCol < 0 {
		return nil, fmt.Errorf("history response has no Close column")
	}

	closes := make(map[string]float64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed history row: %w", err)
		}
		if closeCol >= len(record) || record[closeCol] == "" {
			continue
		}

		close, err := strconv.ParseFloat(record[closeCol], 64)
		if err != nil {
			continue
		}
		closes[record[0]] = close
	}

	return closes, nil
}

// stooqSymbol maps plain US tickers to the provider's symbol form.
func stooqSymbol(ticker string) string {
	lower := strings.ToLower(ticker)
	if strings.Contains(lower, ".") {
		return lower
	}
	return lower + ".us"
}
