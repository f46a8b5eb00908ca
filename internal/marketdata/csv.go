package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ReadCSV parses a wide-format price file: a Date column followed by one
// closing-price column per ticker. Empty cells become missing values.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read price file header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("price file has no close-price columns")
	}

	tickers := header[1:]
	var dates []time.Time
	columns := make([][]float64, len(tickers))

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read price row: %w", err)
		}

		date, err := time.Parse(dateLayout, record[0])
		if err != nil {
			return nil, fmt.Errorf("invalid date %q in price file: %w", record[0], err)
		}
		dates = append(dates, date)

		for i := range tickers {
			value := Missing
			if i+1 < len(record) && record[i+1] != "" {
				v, err := strconv.ParseFloat(record[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("invalid price %q for %s: %w", record[i+1], tickers[i], err)
				}
				value = v
			}
			columns[i] = append(columns[i], value)
		}
	}

	closes := make(map[string][]float64, len(tickers))
	for i, ticker := range tickers {
		closes[ticker] = columns[i]
	}

	return NewTable(dates, closes)
}

// ReadCSVFile parses a wide-format price file from disk.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// WriteCSV writes a table in the wide format ReadCSV accepts.
// Missing values are written as empty cells.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)

	header := append([]string{"Date"}, t.Tickers()...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write price file header: %w", err)
	}

	for row, date := range t.Dates() {
		record := make([]string, 0, len(header))
		record = append(record, date.Format(dateLayout))
		for _, ticker := range t.Tickers() {
			if p, ok := t.PriceAt(ticker, row); ok {
				record = append(record, strconv.FormatFloat(p, 'f', -1, 64))
			} else {
				record = append(record, "")
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write price row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes a table to disk atomically.
func WriteCSVFile(path string, t *Table) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create price file: %w", err)
	}

	if err := WriteCSV(f, t); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
