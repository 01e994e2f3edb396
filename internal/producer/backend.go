package producer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bailey0002/viseme-sync/internal/audio"
	"github.com/bailey0002/viseme-sync/internal/blendshape"
	"github.com/bailey0002/viseme-sync/internal/config"
)

// Backend is an HTTP client for a remote blendshape inference service. Audio
// is uploaded as multipart form data and the service answers with the full
// frame sequence. Requests are rate limited by a concurrency semaphore and
// retried with exponential backoff.
type Backend struct {
	config     config.BackendConfig
	animation  config.AnimationConfig
	httpClient *http.Client
	semaphore  chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// inferenceResponse is the JSON body returned by the inference service
type inferenceResponse struct {
	Model      string             `json:"model,omitempty"`
	FrameRate  int                `json:"frame_rate"`
	FrameCount int                `json:"frame_count"`
	Frames     []blendshape.Frame `json:"frames"`
}

// BackendStats represents backend client statistics
type BackendStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewBackend creates a new inference backend client
func NewBackend(cfg config.BackendConfig, animation config.AnimationConfig) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 2
	}

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}

	httpClient := &http.Client{
		Timeout: cfg.GetTimeout(),
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Backend{
		config:     cfg,
		animation:  animation,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Name identifies the implementation.
func (b *Backend) Name() string { return "backend" }

// Ping probes the inference service health endpoint
func (b *Backend) Ping(ctx context.Context) error {
	url := strings.TrimSuffix(b.config.Endpoint, "/") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	if b.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}

	return nil
}

// Produce uploads audio for inference and returns the resulting frames
func (b *Backend) Produce(ctx context.Context, audioData []byte, sampleRate int) ([]blendshape.Frame, error) {
	if len(audioData) == 0 {
		return nil, fmt.Errorf("empty audio data")
	}

	// Acquire semaphore for rate limiting
	select {
	case b.semaphore <- struct{}{}:
		defer func() { <-b.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	b.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if attempt > 0 {
			b.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		frames, err := b.doRequest(ctx, audioData, sampleRate)
		if err == nil {
			b.incrementSuccessRequests()
			b.updateAvgResponseTime(time.Since(startTime))
			return frames, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	b.incrementFailedRequests()
	return nil, fmt.Errorf("inference failed after %d attempts: %w", b.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the inference service
func (b *Backend) doRequest(ctx context.Context, audioData []byte, sampleRate int) ([]blendshape.Frame, error) {
	body, contentType, err := b.createMultipartRequest(audioData, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	url := strings.TrimSuffix(b.config.Endpoint, "/") + "/infer"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if b.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var inferResp inferenceResponse
	if err := json.Unmarshal(respBody, &inferResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	// The service must hand back a well-formed sequence; a malformed one is a
	// backend fault, not something to repair silently.
	if err := blendshape.ValidateSequence(inferResp.Frames); err != nil {
		return nil, fmt.Errorf("inference service returned invalid frame sequence: %w", err)
	}

	return inferResp.Frames, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (b *Backend) createMultipartRequest(audioData []byte, sampleRate int) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(ensureWAV(audioData, sampleRate)); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"sample_rate":      fmt.Sprintf("%d", sampleRate),
		"frame_rate":       fmt.Sprintf("%d", b.animation.FrameRate),
		"model":            b.animation.Model,
		"emotion_strength": fmt.Sprintf("%.2f", b.animation.EmotionStrength),
		"smoothing":        fmt.Sprintf("%.2f", b.animation.Smoothing),
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// ensureWAV wraps raw PCM-16 mono in a WAV container so the inference service
// always receives a self-describing file. WAV submissions pass through as-is.
func ensureWAV(audioData []byte, sampleRate int) []byte {
	if audio.IsWAV(audioData) {
		return audioData
	}

	samples := make([]int16, len(audioData)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(audioData[i*2:]))
	}

	encoded, err := audio.Encode(samples, sampleRate)
	if err != nil {
		return audioData
	}
	return encoded
}

// isRetryableError determines if an error is retryable
func isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable
	if strings.Contains(errStr, "HTTP error 5") || strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network/connection errors are typically retryable
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// Statistics methods
func (b *Backend) incrementTotalRequests() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRequests++
}

func (b *Backend) incrementSuccessRequests() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successRequests++
}

func (b *Backend) incrementFailedRequests() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failedRequests++
}

func (b *Backend) incrementTotalRetries() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRetries++
}

func (b *Backend) updateAvgResponseTime(responseTime time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Simple moving average
	if b.avgResponseTime == 0 {
		b.avgResponseTime = responseTime
	} else {
		b.avgResponseTime = (b.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current backend client statistics
func (b *Backend) GetStats() BackendStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	successRate := float64(0)
	if b.totalRequests > 0 {
		successRate = float64(b.successRequests) / float64(b.totalRequests) * 100
	}

	return BackendStats{
		TotalRequests:   b.totalRequests,
		SuccessRequests: b.successRequests,
		FailedRequests:  b.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    b.totalRetries,
		AvgResponseTime: b.avgResponseTime,
		ActiveRequests:  len(b.semaphore),
	}
}
