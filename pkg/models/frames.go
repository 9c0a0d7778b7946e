package models

import "encoding/json"

// Message types published by workers on their frames/<stream-id> channel.
const (
	MessageTypeFrame  = "frame"
	MessageTypeStatus = "stream_status"
)

// FrameMessage is the JSON payload a worker publishes for each preview
// frame. Status messages reuse the same envelope with Type "stream_status"
// and only the identity, timestamp, status and error fields populated.
type FrameMessage struct {
	Type       string `json:"type"`
	StreamID   string `json:"stream_id"`
	StreamName string `json:"stream_name,omitempty"`
	Timestamp  int64  `json:"timestamp"`

	Width              int     `json:"width,omitempty"`
	Height             int     `json:"height,omitempty"`
	FPS                float64 `json:"fps,omitempty"`
	AvgMagnitude       float64 `json:"avg_magnitude,omitempty"`
	MaxMagnitude       float64 `json:"max_magnitude,omitempty"`
	DirectionDegrees   float64 `json:"direction_degrees,omitempty"`
	DirectionCoherence float64 `json:"direction_coherence,omitempty"`
	VectorCount        int     `json:"vector_count,omitempty"`

	Vectors []FlowVector    `json:"vectors,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`

	FrameB64 string `json:"frame_b64,omitempty"`

	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FlowVector is a single sampled optical-flow vector.
type FlowVector struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	U   float64 `json:"u"`
	V   float64 `json:"v"`
	Mag float64 `json:"mag"`
}
