package stream

import (
	"encoding/json"
	"testing"

	"github.com/bailey0002/viseme-sync/internal/blendshape"
)

func TestParseStartCommand(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid start", `{"action":"start"}`, false},
		{"wrong action", `{"action":"stop"}`, true},
		{"empty action", `{"action":""}`, true},
		{"missing action", `{}`, true},
		{"malformed json", `{"action":`, true},
		{"plain text", `start`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseStartCommand([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseStartCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameMessageEncoding(t *testing.T) {
	frame, err := blendshape.NewFrame(3, 0.1, map[string]float64{"jawOpen": 0.4})
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}

	data, err := json.Marshal(FrameMessage(frame))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			Index       int                `json:"frame"`
			Timestamp   float64            `json:"timestamp"`
			Blendshapes map[string]float64 `json:"blendshapes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Type != "frame" {
		t.Errorf("Expected type frame, got %q", decoded.Type)
	}

	if decoded.Data.Index != 3 {
		t.Errorf("Expected frame index 3, got %d", decoded.Data.Index)
	}

	if len(decoded.Data.Blendshapes) != len(blendshape.Channels) {
		t.Errorf("Expected %d channels, got %d", len(blendshape.Channels), len(decoded.Data.Blendshapes))
	}

	if decoded.Data.Blendshapes["jawOpen"] != 0.4 {
		t.Errorf("Expected jawOpen 0.4, got %f", decoded.Data.Blendshapes["jawOpen"])
	}
}

func TestCompleteMessageOmitsData(t *testing.T) {
	data, err := json.Marshal(CompleteMessage())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["type"] != "complete" {
		t.Errorf("Expected type complete, got %v", decoded["type"])
	}

	if _, ok := decoded["data"]; ok {
		t.Error("Complete message should omit the data field")
	}

	if _, ok := decoded["message"]; ok {
		t.Error("Complete message should omit the message field")
	}
}

func TestErrorMessage(t *testing.T) {
	data, err := json.Marshal(ErrorMessage("Session not found"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["type"] != "error" {
		t.Errorf("Expected type error, got %v", decoded["type"])
	}

	if decoded["message"] != "Session not found" {
		t.Errorf("Expected error message, got %v", decoded["message"])
	}
}
