package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/pkg/logger"
)

// DataHandler serves the local price file: status queries and refreshes
// from the remote provider.
type DataHandler struct {
	loader     *marketdata.Loader
	downloader *marketdata.Downloader
	repo       *marketdata.Repository // optional, nil disables persistence
	pricePath  string
	logger     *logger.Logger
}

// NewDataHandler creates a data handler. repo may be nil.
func NewDataHandler(loader *marketdata.Loader, downloader *marketdata.Downloader, repo *marketdata.Repository, pricePath string, log *logger.Logger) *DataHandler {
	return &DataHandler{
		loader:     loader,
		downloader: downloader,
		repo:       repo,
		pricePath:  pricePath,
		logger:     log,
	}
}

// StatusResponse summarizes the local price file.
type StatusResponse struct {
	Exists    bool     `json:"exists"`
	Rows      int      `json:"rows,omitempty"`
	Tickers   []string `json:"tickers,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
}

// GetStatus handles GET /api/data
func (h *DataHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if !h.loader.Exists() {
		respondJSON(w, http.StatusOK, StatusResponse{Exists: false})
		return
	}

	table, err := h.loader.Load()
	if err != nil {
		h.logger.WithError(err).Error("Failed to load price file")
		respondError(w, http.StatusInternalServerError, "Failed to load price file")
		return
	}

	dates := table.Dates()
	respondJSON(w, http.StatusOK, StatusResponse{
		Exists:    true,
		Rows:      table.Len(),
		Tickers:   table.Tickers(),
		StartDate: dates[0].Format("2006-01-02"),
		EndDate:   dates[len(dates)-1].Format("2006-01-02"),
	})
}

// DownloadRequest is the body of POST /api/data/download.
type DownloadRequest struct {
	Tickers   []string `json:"tickers"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

// DownloadResponse reports a completed refresh.
type DownloadResponse struct {
	Status  string   `json:"status"`
	Rows    int      `json:"rows"`
	Tickers []string `json:"tickers"`
}

// Download handles POST /api/data/download
func (h *DataHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Tickers) == 0 {
		respondError(w, http.StatusBadRequest, "tickers is required")
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'start_date' format (expected YYYY-MM-DD)")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'end_date' format (expected YYYY-MM-DD)")
		return
	}

	table, err := h.downloader.Download(r.Context(), req.Tickers, start, end)
	if err != nil {
		h.logger.WithError(err).Error("Price download failed")
		respondError(w, http.StatusBadGateway, "Price download failed")
		return
	}

	if err := marketdata.WriteCSVFile(h.pricePath, table); err != nil {
		h.logger.WithError(err).Error("Failed to write price file")
		respondError(w, http.StatusInternalServerError, "Failed to write price file")
		return
	}
	h.loader.Invalidate()

	if h.repo != nil {
		if err := h.repo.SaveTable(r.Context(), table); err != nil {
			// the CSV is the source of truth; persistence failures are non-fatal
			h.logger.WithError(err).Warn("Failed to persist prices to database")
		}
	}

	h.logger.WithFields(map[string]interface{}{
		"tickers": len(req.Tickers),
		"rows":    table.Len(),
	}).Info("Price data refreshed")

	respondJSON(w, http.StatusOK, DownloadResponse{
		Status:  "ok",
		Rows:    table.Len(),
		Tickers: table.Tickers(),
	})
}
