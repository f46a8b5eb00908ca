package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mpaton/backtester/internal/optimize"
	"github.com/mpaton/backtester/pkg/logger"
)

// ResultsHandler saves optimization reports to disk and re-loads them.
type ResultsHandler struct {
	resultsDir string
	logger     *logger.Logger
}

// NewResultsHandler creates a results handler.
func NewResultsHandler(resultsDir string, log *logger.Logger) *ResultsHandler {
	return &ResultsHandler{
		resultsDir: resultsDir,
		logger:     log,
	}
}

// SaveRequest is the body of POST /api/results/save.
type SaveRequest struct {
	Params  optimize.Request `json:"params"`
	Results json.RawMessage  `json:"results"`
}

// Save handles POST /api/results/save
func (h *ResultsHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Results) == 0 {
		respondError(w, http.StatusBadRequest, "results is required")
		return
	}

	result, err := decodeResult(req.Results)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, path, err := optimize.SaveReport(h.resultsDir, req.Params, result)
	if err != nil {
		h.logger.WithError(err).Error("Failed to save report")
		respondError(w, http.StatusInternalServerError, "Failed to save report")
		return
	}

	h.logger.WithFields(map[string]interface{}{"file": name}).Info("Report saved")
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"filename": name,
		"path":     path,
	})
}

// ParseRequest is the body of POST /api/results/parse.
type ParseRequest struct {
	FileContent string `json:"file_content"`
}

// Parse handles POST /api/results/parse
func (h *ResultsHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payload, err := optimize.ParseReport(req.FileContent)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"results": payload,
	})
}

// decodeResult recovers the concrete result type from its JSON form by
// probing the mode flags the optimizer writes.
func decodeResult(raw json.RawMessage) (interface{}, error) {
	var probe struct {
		WalkForwardMode bool `json:"walk_forward_mode"`
		TrainTestMode   bool `json:"train_test_mode"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	switch {
	case probe.WalkForwardMode:
		var result optimize.WalkForwardResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}
		return &result, nil
	case probe.TrainTestMode:
		var result optimize.TrainTestResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}
		return &result, nil
	default:
		var result optimize.GridResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}
}
