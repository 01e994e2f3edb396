package producer

import (
	"context"
	"math"
	"testing"

	"github.com/bailey0002/viseme-sync/internal/blendshape"
	"github.com/bailey0002/viseme-sync/internal/config"
)

func testAnimationConfig() config.AnimationConfig {
	return config.AnimationConfig{
		FrameRate:       30,
		Model:           "james",
		EmotionStrength: 0.6,
		Smoothing:       0.3,
	}
}

func TestSyntheticProduce(t *testing.T) {
	s := NewSynthetic(testAnimationConfig(), 42)

	// 2 seconds of raw PCM-16 mono at 16kHz
	audioData := make([]byte, 64000)

	frames, err := s.Produce(context.Background(), audioData, 16000)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	if len(frames) != 60 {
		t.Errorf("Expected 60 frames for 2s at 30fps, got %d", len(frames))
	}

	if err := blendshape.ValidateSequence(frames); err != nil {
		t.Errorf("Synthetic output failed sequence validation: %v", err)
	}
}

func TestSyntheticTimestampStep(t *testing.T) {
	s := NewSynthetic(testAnimationConfig(), 1)

	frames, err := s.Produce(context.Background(), make([]byte, 32000), 16000)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	step := 1.0 / 30
	for i := 1; i < len(frames); i++ {
		gap := frames[i].Timestamp - frames[i-1].Timestamp
		if math.Abs(gap-step) > 1e-9 {
			t.Fatalf("Frame %d: timestamp step %f, expected %f", i, gap, step)
		}
	}

	if frames[0].Timestamp != 0 {
		t.Errorf("First timestamp must be 0, got %f", frames[0].Timestamp)
	}
}

func TestSyntheticMinimumDuration(t *testing.T) {
	s := NewSynthetic(testAnimationConfig(), 7)

	// Tiny submission still animates for at least one second.
	frames, err := s.Produce(context.Background(), make([]byte, 1200), 16000)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	if len(frames) != 30 {
		t.Errorf("Expected 30-frame floor, got %d", len(frames))
	}
}

func TestSyntheticEmptyAudio(t *testing.T) {
	s := NewSynthetic(testAnimationConfig(), 7)

	if _, err := s.Produce(context.Background(), nil, 16000); err == nil {
		t.Error("Expected error for empty audio")
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	audioData := make([]byte, 32000)

	a, err := NewSynthetic(testAnimationConfig(), 99).Produce(context.Background(), audioData, 16000)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	b, err := NewSynthetic(testAnimationConfig(), 99).Produce(context.Background(), audioData, 16000)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("Frame counts differ: %d vs %d", len(a), len(b))
	}

	for i := range a {
		if a[i].Weights["jawOpen"] != b[i].Weights["jawOpen"] {
			t.Fatalf("Frame %d differs for identical seed", i)
		}
	}
}

func TestSyntheticBlinkCycle(t *testing.T) {
	s := NewSynthetic(testAnimationConfig(), 5)

	frames, err := s.Produce(context.Background(), make([]byte, 128000), 16000) // 4 seconds
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	if frames[0].Weights["eyeBlinkLeft"] != 1 {
		t.Error("Expected blink at frame 0")
	}

	if frames[45].Weights["eyeBlinkLeft"] != 0 {
		t.Error("Expected open eyes at frame 45")
	}

	if frames[90].Weights["eyeBlinkRight"] != 1 {
		t.Error("Expected blink at frame 90")
	}
}

func TestSyntheticCancellation(t *testing.T) {
	s := NewSynthetic(testAnimationConfig(), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Produce(ctx, make([]byte, 32000), 16000); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
