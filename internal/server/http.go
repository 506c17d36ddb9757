package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cap-mahdi/stream-backend/internal/audio"
	"github.com/cap-mahdi/stream-backend/internal/broadcast"
	"github.com/cap-mahdi/stream-backend/internal/config"
	"github.com/cap-mahdi/stream-backend/internal/metrics"
)

// HTTPServer serves the live audio stream and the monitoring API
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	broadcaster *broadcast.Broadcaster
	preparer    *audio.Preparer // nil when the prepare variant is disabled
	metrics     *metrics.Metrics
	startTime   time.Time
}

// NewHTTPServer creates the HTTP server with all routes configured
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	b *broadcast.Broadcaster, preparer *audio.Preparer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		broadcaster: b,
		preparer:    preparer,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: cfg.Server.GetReadTimeout(),
		IdleTimeout: cfg.Server.GetIdleTimeout(),
		// No WriteTimeout: the stream endpoint never completes.
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Live broadcast stream
	mux.HandleFunc("/radio", h.withMetrics("/radio", h.handleRadio))

	// Asset and preparation status
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code while
// still exposing http.Flusher to streaming handlers
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleRadio implements the /radio endpoint: an unbounded chunked audio
// stream that only the client's disconnect terminates.
func (h *HTTPServer) handleRadio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// When the prepare variant is enabled, wait (bounded) for the payload to
	// become available instead of hanging the request indefinitely.
	if h.preparer != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.config.Audio.GetReadyTimeout())
		err := h.preparer.WaitReady(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				h.logger.Warn("Listener timed out waiting for audio preparation")
			}
			http.Error(w, "Audio stream is not ready", http.StatusServiceUnavailable)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Proxies and clients must not buffer or range-request the stream.
	w.Header().Set("Content-Type", h.broadcaster.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	session := h.broadcaster.NewSession()
	defer session.Close()

	for {
		chunk, err := session.Next(r.Context())
		if err != nil {
			// Client disconnect, server shutdown, or closed queue; all are
			// normal termination paths.
			return
		}

		if _, err := w.Write(chunk); err != nil {
			return
		}
		flusher.Flush()
	}
}

// StatusResponse is the payload of the /status endpoint
type StatusResponse struct {
	FilePath              string  `json:"file_path"`
	FileSizeBytes         int64   `json:"file_size_bytes"`
	ContentType           string  `json:"content_type"`
	PrepareEnabled        bool    `json:"prepare_enabled"`
	Ready                 bool    `json:"ready"`
	AssetDurationSeconds  float64 `json:"asset_duration_seconds,omitempty"`
	PaddedDurationSeconds float64 `json:"padded_duration_seconds,omitempty"`
	PaddingSeconds        float64 `json:"padding_seconds,omitempty"`
	SampleRate            int     `json:"sample_rate,omitempty"`
	ActiveListeners       int     `json:"active_listeners"`
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := StatusResponse{
		FilePath:        h.config.Audio.FilePath,
		ContentType:     h.broadcaster.ContentType(),
		PrepareEnabled:  h.preparer != nil,
		ActiveListeners: h.broadcaster.Registry().Len(),
	}

	if h.preparer != nil {
		info := h.preparer.Info()
		status.FileSizeBytes = info.FileSize
		status.Ready = info.Ready
		status.AssetDurationSeconds = info.AssetDuration.Seconds()
		status.PaddedDurationSeconds = info.PaddedDuration.Seconds()
		status.PaddingSeconds = info.Padding.Seconds()
		status.SampleRate = info.SampleRate
	} else {
		status.Ready = true
		if stat, err := os.Stat(h.config.Audio.FilePath); err == nil {
			status.FileSizeBytes = stat.Size()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	stats := h.broadcaster.Stats()

	prepared := true
	if h.preparer != nil {
		prepared = h.preparer.Info().Ready
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name": "radio-broadcast-service",
		},
		"components": map[string]interface{}{
			"broadcaster": map[string]interface{}{
				"status":           "running",
				"chunks_broadcast": stats.ChunksBroadcast,
				"loops_completed":  stats.LoopsCompleted,
				"active_listeners": stats.ActiveListeners,
			},
			"preparation": map[string]interface{}{
				"enabled": h.preparer != nil,
				"ready":   prepared,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"broadcast": h.broadcaster.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":    h.config.Server.Port,
			"address": h.config.Server.Address,
		},
		"audio": map[string]interface{}{
			"file_path":        h.config.Audio.FilePath,
			"chunk_size":       h.config.Audio.ChunkSize,
			"chunk_delay_ms":   h.config.Audio.ChunkDelayMs,
			"queue_capacity":   h.config.Audio.QueueCapacity,
			"prepare":          h.config.Audio.Prepare,
			"pad_to_seconds":   h.config.Audio.PadToSeconds,
			"ready_timeout_ms": h.config.Audio.ReadyTimeoutMs,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Radio Broadcast Service",
		"endpoints": map[string]interface{}{
			"GET /radio":   "Live audio broadcast stream",
			"GET /status":  "Asset and preparation status",
			"GET /health":  "Service health check",
			"GET /stats":   "Broadcast statistics",
			"GET /config":  "Service configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
