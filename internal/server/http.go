package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bailey0002/viseme-sync/internal/blendshape"
	"github.com/bailey0002/viseme-sync/internal/config"
	"github.com/bailey0002/viseme-sync/internal/metrics"
	"github.com/bailey0002/viseme-sync/internal/producer"
	"github.com/bailey0002/viseme-sync/internal/session"
	"github.com/bailey0002/viseme-sync/internal/stream"
)

// maxSubmissionBytes caps a single audio upload.
const maxSubmissionBytes = 64 << 20 // 64MB

// HTTPServer provides the audio submission and streaming API
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	store       *session.Store
	reaper      *session.Reaper
	frames      producer.Producer
	coordinator *stream.Coordinator
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader

	// Server state
	startTime   time.Time
	activeConns atomic.Int64
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, store *session.Store,
	reaper *session.Reaper, frames producer.Producer, coordinator *stream.Coordinator,
	m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		store:       store,
		reaper:      reaper,
		frames:      frames,
		coordinator: coordinator,
		metrics:     m,
		startTime:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; auth is out of
			// scope for this service.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:     mux,
		ReadTimeout: cfg.HTTP.GetReadTimeout(),
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: frame streams legitimately outlive any fixed bound
		// and websocket connections manage their own deadlines.
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Audio submission endpoints
	mux.HandleFunc("/process", h.withMetrics("/process", h.handleProcess))
	mux.HandleFunc("/process-sync", h.withMetrics("/process-sync", h.handleProcessSync))

	// Frame streaming endpoint
	mux.HandleFunc("/ws/", h.handleStream)

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

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

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
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
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// ActiveStreamCount returns the number of live streaming connections
func (h *HTTPServer) ActiveStreamCount() int {
	return int(h.activeConns.Load())
}

// writeJSON encodes v as a JSON response
func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends a JSON error body with the given status
func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// readAudio extracts the submitted audio bytes from either a multipart form
// ("audio" field) or a raw request body.
func (h *HTTPServer) readAudio(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxSubmissionBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("audio")
		if err != nil {
			return nil, fmt.Errorf("missing 'audio' form field: %w", err)
		}
		defer file.Close()

		return io.ReadAll(file)
	}

	return io.ReadAll(r.Body)
}

// processResponse is the body returned by a successful /process call
type processResponse struct {
	SessionID             string  `json:"session_id"`
	FrameCount            int     `json:"frame_count"`
	DurationSeconds       float64 `json:"duration_seconds"`
	FrameRate             int     `json:"frame_rate"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// handleProcess implements POST /process: run the audio through the frame
// producer, store the result, and hand back a session id for streaming.
func (h *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.metrics.RecordSubmission()

	audioData, err := h.readAudio(r)
	if err != nil {
		h.metrics.RecordSubmissionRejected()
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read audio: %v", err))
		return
	}

	if len(audioData) < h.config.Audio.MinSubmissionBytes {
		h.metrics.RecordSubmissionRejected()
		h.writeError(w, http.StatusBadRequest, "Audio file too small")
		return
	}

	sessionID := h.store.Create()
	h.metrics.RecordSessionCreated()
	h.metrics.SetActiveSessions(h.store.Count())

	h.logger.Info("Processing audio submission",
		slog.String("session_id", sessionID),
		slog.Int("bytes", len(audioData)),
	)

	processStart := time.Now()
	frames, err := h.frames.Produce(r.Context(), audioData, h.config.Audio.SampleRate)
	processingTime := time.Since(processStart)

	if err != nil {
		h.metrics.RecordSubmissionFailed()

		// Store the failure so later subscribers see it instead of
		// re-running the producer.
		if serr := h.store.SetError(sessionID, err.Error()); serr != nil {
			h.logger.Warn("Failed to mark session errored",
				slog.String("session_id", sessionID),
				slog.String("error", serr.Error()),
			)
		}

		h.logger.Error("Frame production failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)

		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.store.SetReady(sessionID, frames); err != nil {
		h.logger.Error("Failed to store frames",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		h.writeError(w, http.StatusInternalServerError, "failed to store session")
		return
	}

	h.metrics.RecordProcessing(processingTime.Seconds(), len(frames))

	h.logger.Info("Audio processed",
		slog.String("session_id", sessionID),
		slog.Int("frame_count", len(frames)),
		slog.Duration("processing_time", processingTime),
	)

	h.writeJSON(w, http.StatusOK, processResponse{
		SessionID:             sessionID,
		FrameCount:            len(frames),
		DurationSeconds:       blendshape.Duration(frames),
		FrameRate:             h.config.Animation.FrameRate,
		ProcessingTimeSeconds: processingTime.Seconds(),
	})
}

// handleProcessSync implements POST /process-sync: identical validation, but
// the full frame sequence is returned inline and no session is stored. The
// client owns the timing.
func (h *HTTPServer) handleProcessSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.metrics.RecordSubmission()

	audioData, err := h.readAudio(r)
	if err != nil {
		h.metrics.RecordSubmissionRejected()
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read audio: %v", err))
		return
	}

	if len(audioData) < h.config.Audio.MinSubmissionBytes {
		h.metrics.RecordSubmissionRejected()
		h.writeError(w, http.StatusBadRequest, "Audio file too small")
		return
	}

	processStart := time.Now()
	frames, err := h.frames.Produce(r.Context(), audioData, h.config.Audio.SampleRate)
	if err != nil {
		h.metrics.RecordSubmissionFailed()
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.metrics.RecordProcessing(time.Since(processStart).Seconds(), len(frames))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"frame_rate":  h.config.Animation.FrameRate,
		"frame_count": len(frames),
		"frames":      frames,
	})
}

// handleStream implements GET /ws/{session_id}: upgrade to a websocket and
// run the stream coordinator for the connection's lifetime.
func (h *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	h.activeConns.Add(1)
	defer h.activeConns.Add(-1)

	h.logger.Info("Stream connection opened",
		slog.String("session_id", sessionID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if err := h.coordinator.Run(r.Context(), conn, sessionID); err != nil {
		h.logger.Info("Stream connection closed with error",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	h.metrics.SetActiveSessions(h.store.Count())
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "viseme-sync",
			"version": "1.0.0",
		},
		"producer": map[string]interface{}{
			"mode":       h.frames.Name(),
			"frame_rate": h.config.Animation.FrameRate,
			"model":      h.config.Animation.Model,
		},
		"components": map[string]interface{}{
			"session_store": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.store.Count(),
			},
			"reaper": map[string]interface{}{
				"status":            "running",
				"pending_evictions": h.reaper.PendingEvictions(),
			},
			"streaming": map[string]interface{}{
				"status":             "running",
				"active_connections": h.ActiveStreamCount(),
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
		},
		"audio": map[string]interface{}{
			"sample_rate":          h.config.Audio.SampleRate,
			"min_submission_bytes": h.config.Audio.MinSubmissionBytes,
		},
		"animation": map[string]interface{}{
			"frame_rate":       h.config.Animation.FrameRate,
			"model":            h.config.Animation.Model,
			"emotion_strength": h.config.Animation.EmotionStrength,
			"smoothing":        h.config.Animation.Smoothing,
		},
		"backend": map[string]interface{}{
			"enabled":  h.config.Backend.Enabled,
			"endpoint": h.config.Backend.Endpoint,
			"timeout":  h.config.Backend.Timeout,
			// Note: API key is intentionally omitted for security
		},
		"stream": map[string]interface{}{
			"session_wait_timeout": h.config.Stream.SessionWaitTimeout,
			"start_timeout":        h.config.Stream.StartTimeout,
			"retention_delay":      h.config.Stream.RetentionDelay,
			"max_session_age":      h.config.Stream.MaxSessionAge,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
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
		"sessions": map[string]interface{}{
			"active_count":      h.store.Count(),
			"pending_evictions": h.reaper.PendingEvictions(),
		},
		"streaming": map[string]interface{}{
			"active_connections": h.ActiveStreamCount(),
		},
		"producer": map[string]interface{}{
			"mode": h.frames.Name(),
		},
	}

	if backend, ok := h.frames.(*producer.Backend); ok {
		stats["backend"] = backend.GetStats()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.store.Snapshot()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements the /sessions/{session_id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sess, err := h.store.Get(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, session.Info{
		ID:              sess.ID,
		CreatedAt:       sess.CreatedAt,
		Status:          sess.Status,
		FrameCount:      len(sess.Frames),
		DurationSeconds: blendshape.Duration(sess.Frames),
		Err:             sess.Err,
	})
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
		"service": "Viseme Sync Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /process":              "Submit audio, returns a session id for streaming",
			"POST /process-sync":         "Submit audio, returns all frames inline",
			"GET /ws/{session_id}":       "WebSocket frame stream, paced to real time",
			"GET /health":                "Service health check",
			"GET /config":                "Get service configuration",
			"GET /stats":                 "Get service statistics",
			"GET /sessions":              "List all live sessions",
			"GET /sessions/{session_id}": "Get detailed session information",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
