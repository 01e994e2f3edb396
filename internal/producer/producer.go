package producer

import (
	"context"
	"log/slog"
	"time"

	"github.com/bailey0002/viseme-sync/internal/blendshape"
	"github.com/bailey0002/viseme-sync/internal/config"
)

// Producer turns raw audio into an ordered blendshape frame sequence.
// Implementations must return frames with contiguous indexes from 0 and
// timestamps i/frameRate, every frame carrying all 52 channels in [0, 1].
type Producer interface {
	// Produce converts raw audio bytes at the given sample rate into frames.
	Produce(ctx context.Context, audioData []byte, sampleRate int) ([]blendshape.Frame, error)

	// Name identifies the active implementation ("backend" or "synthetic").
	Name() string
}

// Select picks the process-wide producer at startup. When the inference
// backend is enabled and answers a health probe, it wins; otherwise the
// synthetic generator is used. The decision is made once, not per request.
func Select(cfg *config.Config, logger *slog.Logger) Producer {
	if !cfg.Backend.Enabled {
		logger.Info("Inference backend disabled, using synthetic producer")
		return NewSynthetic(cfg.Animation, time.Now().UnixNano())
	}

	backend, err := NewBackend(cfg.Backend, cfg.Animation)
	if err != nil {
		logger.Warn("Failed to create backend producer, falling back to synthetic",
			slog.String("error", err.Error()),
		)
		return NewSynthetic(cfg.Animation, time.Now().UnixNano())
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := backend.Ping(probeCtx); err != nil {
		logger.Warn("Inference backend unreachable, falling back to synthetic",
			slog.String("endpoint", cfg.Backend.Endpoint),
			slog.String("error", err.Error()),
		)
		return NewSynthetic(cfg.Animation, time.Now().UnixNano())
	}

	logger.Info("Inference backend active",
		slog.String("endpoint", cfg.Backend.Endpoint),
		slog.String("model", cfg.Animation.Model),
	)
	return backend
}
