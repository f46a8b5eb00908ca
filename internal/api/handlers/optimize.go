package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mpaton/backtester/internal/marketdata"
	"github.com/mpaton/backtester/internal/optimize"
	"github.com/mpaton/backtester/pkg/logger"
)

// OptimizeHandler runs parameter searches and streams their progress over
// a websocket. One search runs at a time; its tracker stays available to
// progress subscribers until the next search starts.
type OptimizeHandler struct {
	loader  *marketdata.Loader
	brokers map[string]optimize.Broker
	logger  *logger.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	tracker *optimize.Tracker
	running bool
}

// NewOptimizeHandler creates an optimize handler.
func NewOptimizeHandler(loader *marketdata.Loader, brokers map[string]optimize.Broker, log *logger.Logger) *OptimizeHandler {
	return &OptimizeHandler{
		loader:  loader,
		brokers: brokers,
		logger:  log,
		upgrader: websocket.Upgrader{
			// the API is same-host only; the frontend dev server needs this
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run handles POST /api/optimize
func (h *OptimizeHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req optimize.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	table, err := h.loader.Load()
	if err != nil {
		h.logger.WithError(err).Error("Failed to load price file")
		respondError(w, http.StatusInternalServerError, "Price data unavailable")
		return
	}

	optimizer := optimize.New(table, h.brokers, h.logger)

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		respondError(w, http.StatusConflict, "An optimization is already running")
		return
	}
	h.running = true
	h.tracker = optimizer.Tracker()
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	result, err := optimizer.Run(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Progress handles GET /api/optimize/progress, upgrading to a websocket
// that pushes tracker updates until the search finishes or the client
// disconnects.
func (h *OptimizeHandler) Progress(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	tracker := h.tracker
	h.mu.Unlock()

	if tracker == nil {
		respondError(w, http.StatusNotFound, "No optimization in progress")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := tracker.Subscribe()
	defer cancel()

	snapshot := tracker.Snapshot()
	if err := conn.WriteJSON(snapshot); err != nil || snapshot.Done {
		return
	}

	for update := range updates {
		if err := conn.WriteJSON(update); err != nil {
			return
		}
		if update.Done {
			return
		}
	}
}
