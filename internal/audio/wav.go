package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// Info describes a decoded WAV header
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	NumSamples int // samples per channel
}

// IsWAV reports whether data starts with a RIFF/WAVE signature
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// DecodeInfo parses the header of a PCM WAV buffer without touching the
// sample data. Only canonical headers (fmt chunk immediately followed by the
// data chunk) are supported.
func DecodeInfo(data []byte) (Info, error) {
	if len(data) < 44 {
		return Info{}, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	buf := bytes.NewReader(data)
	var header WAVHeader

	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return Info{}, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return Info{}, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(header.Format[:]) != "WAVE" {
		return Info{}, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(header.Subchunk1ID[:]) != "fmt " {
		return Info{}, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return Info{}, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if header.AudioFormat != 1 {
		return Info{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.NumChannels < 1 {
		return Info{}, fmt.Errorf("invalid channel count: %d", header.NumChannels)
	}

	if header.BitsPerSample == 0 || header.BitsPerSample%8 != 0 {
		return Info{}, fmt.Errorf("invalid bit depth: %d", header.BitsPerSample)
	}

	if header.SampleRate == 0 {
		return Info{}, fmt.Errorf("invalid sample rate: 0")
	}

	bytesPerSample := int(header.BitsPerSample) / 8 * int(header.NumChannels)
	numSamples := int(header.Subchunk2Size) / bytesPerSample

	return Info{
		SampleRate: int(header.SampleRate),
		Channels:   int(header.NumChannels),
		BitDepth:   int(header.BitsPerSample),
		NumSamples: numSamples,
	}, nil
}

// Encode encodes PCM-16 mono samples into WAV format
func Encode(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2) // 2 bytes per sample

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// EstimateDuration returns the playback duration in seconds for a submitted
// audio buffer. WAV submissions are measured from the header; anything else is
// treated as raw PCM-16 mono at the given sample rate.
func EstimateDuration(data []byte, sampleRate int) float64 {
	if info, err := DecodeInfo(data); err == nil {
		return float64(info.NumSamples) / float64(info.SampleRate)
	}

	if sampleRate <= 0 {
		return 0
	}

	return float64(len(data)) / float64(sampleRate*2)
}
