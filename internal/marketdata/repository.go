package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/mpaton/backtester/pkg/database"
	"github.com/mpaton/backtester/pkg/logger"
)

// Repository persists daily closes to Postgres so refreshed downloads
// survive restarts and can be re-exported to the price file.
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository creates a price repository.
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log,
	}
}

// EnsureSchema creates the daily price table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS daily_prices (
			ticker     TEXT NOT NULL,
			trade_date DATE NOT NULL,
			close      DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (ticker, trade_date)
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure price schema: %w", err)
	}
	return nil
}

// SaveTable upserts every valid close in the table.
func (r *Repository) SaveTable(ctx context.Context, t *Table) error {
	saved := 0
	for row, date := range t.Dates() {
		for _, ticker := range t.Tickers() {
			close, ok := t.PriceAt(ticker, row)
			if !ok {
				continue
			}

			_, err := r.db.Pool.Exec(ctx, `
				INSERT INTO daily_prices (ticker, trade_date, close, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (ticker, trade_date)
				DO UPDATE SET close = EXCLUDED.close, updated_at = now()`,
				ticker, date, close)
			if err != nil {
				return fmt.Errorf("failed to save price %s/%s: %w",
					ticker, date.Format(dateLayout), err)
			}
			saved++
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"rows": saved,
	}).Info("Price table saved to database")
	return nil
}

// LoadTable reads closes for the tickers over the date range and aligns
// them on a weekday index.
func (r *Repository) LoadTable(ctx context.Context, tickers []string, start, end time.Time) (*Table, error) {
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
		closes[ticker] = series
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT ticker, trade_date, close
		FROM daily_prices
		WHERE ticker = ANY($1) AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date`,
		tickers, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ticker string
		var date time.Time
		var close float64
		if err := rows.Scan(&ticker, &date, &close); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}

		series, knownTicker := closes[ticker]
		i, knownDate := rowIdx[date.Format(dateLayout)]
		if knownTicker && knownDate {
			series[i] = close
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("price query failed: %w", err)
	}

	return NewTable(days, closes)
}

// LatestDate returns the most recent stored trading date, or zero when the
// table is empty.
func (r *Repository) LatestDate(ctx context.Context) (time.Time, error) {
	var latest *time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT max(trade_date) FROM daily_prices`).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest price date: %w", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return *latest, nil
}
