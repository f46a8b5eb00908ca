package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mpaton/backtester/internal/api/handlers"
	"github.com/mpaton/backtester/pkg/logger"
)

// NewRouter creates and configures the HTTP router
func NewRouter(
	dataHandler *handlers.DataHandler,
	backtestHandler *handlers.BacktestHandler,
	optimizeHandler *handlers.OptimizeHandler,
	resultsHandler *handlers.ResultsHandler,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// API v1
	api := r.PathPrefix("/api").Subrouter()

	// Data endpoints
	api.HandleFunc("/data", dataHandler.GetStatus).Methods("GET")
	api.HandleFunc("/data/download", dataHandler.Download).Methods("POST")

	// Simulation endpoints
	api.HandleFunc("/backtest", backtestHandler.Run).Methods("POST")
	api.HandleFunc("/optimize", optimizeHandler.Run).Methods("POST")
	api.HandleFunc("/optimize/progress", optimizeHandler.Progress).Methods("GET")

	// Report endpoints
	api.HandleFunc("/results/save", resultsHandler.Save).Methods("POST")
	api.HandleFunc("/results/parse", resultsHandler.Parse).Methods("POST")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "backtester-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
