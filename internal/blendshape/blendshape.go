package blendshape

import (
	"fmt"
	"math"
)

// Channels is the fixed ARKit blendshape vocabulary (52 channels). Every frame
// carries a weight for every channel, in this order. The vocabulary is
// invariant across all frames and sessions.
var Channels = []string{
	// Eye
	"eyeBlinkLeft", "eyeBlinkRight",
	"eyeLookDownLeft", "eyeLookDownRight", "eyeLookInLeft", "eyeLookInRight",
	"eyeLookOutLeft", "eyeLookOutRight", "eyeLookUpLeft", "eyeLookUpRight",
	"eyeSquintLeft", "eyeSquintRight", "eyeWideLeft", "eyeWideRight",
	// Brow
	"browDownLeft", "browDownRight", "browInnerUp", "browOuterUpLeft", "browOuterUpRight",
	// Cheek
	"cheekPuff", "cheekSquintLeft", "cheekSquintRight",
	// Nose
	"noseSneerLeft", "noseSneerRight",
	// Jaw
	"jawForward", "jawLeft", "jawRight", "jawOpen",
	// Mouth
	"mouthClose", "mouthFunnel", "mouthPucker", "mouthLeft", "mouthRight",
	"mouthSmileLeft", "mouthSmileRight", "mouthFrownLeft", "mouthFrownRight",
	"mouthDimpleLeft", "mouthDimpleRight", "mouthStretchLeft", "mouthStretchRight",
	"mouthRollLower", "mouthRollUpper", "mouthShrugLower", "mouthShrugUpper",
	"mouthPressLeft", "mouthPressRight", "mouthLowerDownLeft", "mouthLowerDownRight",
	"mouthUpperUpLeft", "mouthUpperUpRight",
	// Tongue
	"tongueOut",
}

// channelIndex maps channel name to its position in Channels.
var channelIndex = func() map[string]int {
	m := make(map[string]int, len(Channels))
	for i, name := range Channels {
		m[name] = i
	}
	return m
}()

// IsChannel reports whether name is part of the blendshape vocabulary.
func IsChannel(name string) bool {
	_, ok := channelIndex[name]
	return ok
}

// Frame is one time-stamped set of channel weights. The JSON shape matches the
// wire format consumed by avatar clients.
type Frame struct {
	Index     int                `json:"frame"`
	Timestamp float64            `json:"timestamp"` // seconds from stream start
	Weights   map[string]float64 `json:"blendshapes"`
}

// Clamp01 clamps v into [0, 1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NewFrame builds a frame at the given index and timestamp from a partial
// weight map. Missing channels default to 0, values are clamped to [0, 1], and
// an out-of-vocabulary key is rejected.
func NewFrame(index int, timestamp float64, weights map[string]float64) (Frame, error) {
	if index < 0 {
		return Frame{}, fmt.Errorf("frame index must be non-negative, got %d", index)
	}
	if timestamp < 0 || math.IsNaN(timestamp) {
		return Frame{}, fmt.Errorf("frame timestamp must be non-negative, got %f", timestamp)
	}

	for name := range weights {
		if !IsChannel(name) {
			return Frame{}, fmt.Errorf("unknown blendshape channel %q", name)
		}
	}

	full := make(map[string]float64, len(Channels))
	for _, name := range Channels {
		full[name] = Clamp01(weights[name])
	}

	return Frame{Index: index, Timestamp: timestamp, Weights: full}, nil
}

// Validate checks a single frame for well-formedness: non-negative index and
// timestamp, full channel coverage, no out-of-vocabulary channels, weights in
// [0, 1].
func (f Frame) Validate() error {
	if f.Index < 0 {
		return fmt.Errorf("frame index must be non-negative, got %d", f.Index)
	}
	if f.Timestamp < 0 || math.IsNaN(f.Timestamp) {
		return fmt.Errorf("frame %d: timestamp must be non-negative, got %f", f.Index, f.Timestamp)
	}
	if len(f.Weights) != len(Channels) {
		return fmt.Errorf("frame %d: expected %d channels, got %d", f.Index, len(Channels), len(f.Weights))
	}
	for name, v := range f.Weights {
		if !IsChannel(name) {
			return fmt.Errorf("frame %d: unknown blendshape channel %q", f.Index, name)
		}
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("frame %d: channel %q weight %f outside [0, 1]", f.Index, name, v)
		}
	}
	return nil
}

// ValidateSequence checks a full frame sequence: indexes contiguous from 0,
// timestamps strictly increasing starting at 0, every frame well-formed. An
// empty sequence is valid.
func ValidateSequence(frames []Frame) error {
	for i, f := range frames {
		if err := f.Validate(); err != nil {
			return err
		}
		if f.Index != i {
			return fmt.Errorf("frame at position %d has index %d, expected %d", i, f.Index, i)
		}
		if i == 0 {
			if f.Timestamp != 0 {
				return fmt.Errorf("first frame timestamp must be 0, got %f", f.Timestamp)
			}
			continue
		}
		if f.Timestamp <= frames[i-1].Timestamp {
			return fmt.Errorf("frame %d: timestamp %f not greater than previous %f",
				f.Index, f.Timestamp, frames[i-1].Timestamp)
		}
	}
	return nil
}

// Duration returns the timestamp of the final frame, which is the playback
// duration of the sequence. Zero for an empty sequence.
func Duration(frames []Frame) float64 {
	if len(frames) == 0 {
		return 0
	}
	return frames[len(frames)-1].Timestamp
}
