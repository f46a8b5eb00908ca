package marketdata

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mpaton/backtester/pkg/logger"
)

// Loader reads the price file and caches the parsed table in memory.
// The cache is keyed on the file's modification time, so a refreshed
// download is picked up on the next Load without a restart.
type Loader struct {
	path   string
	logger *logger.Logger

	mu     sync.Mutex
	cached *Table
	mtime  time.Time
}

// NewLoader creates a loader for a price file path.
func NewLoader(path string, log *logger.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: log,
	}
}

// Load returns the parsed price table, re-reading the file only when its
// modification time has changed since the last call.
func (l *Loader) Load() (*Table, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("price file unavailable: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && info.ModTime().Equal(l.mtime) {
		return l.cached, nil
	}

	table, err := ReadCSVFile(l.path)
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(map[string]interface{}{
		"path":    l.path,
		"rows":    table.Len(),
		"tickers": len(table.Tickers()),
	}).Info("Price file loaded")

	l.cached = table
	l.mtime = info.ModTime()
	return table, nil
}

// Invalidate drops the cached table so the next Load re-reads the file.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cached = nil
	l.mtime = time.Time{}
}

// Exists reports whether the price file is present on disk.
func (l *Loader) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}
