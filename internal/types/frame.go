package types

import "time"

// Frame represents a single video frame
type Frame struct {
	// Seq is the monotonic sequence number assigned by the stream provider
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the pixel data (raw RGB24 or an encoded image)
	Data []byte
	// SourceStream identifies the source ("webcam-0", "rtsp-front", ...)
	SourceStream string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// IsEmpty reports whether the frame carries no usable image data.
func (f *Frame) IsEmpty() bool {
	return f == nil || len(f.Data) == 0
}

// StreamStats contains stream statistics
type StreamStats struct {
	FrameCount   uint64
	FPSTarget    float64
	FPSReal      float64
	LatencyMS    int64
	SourceStream string
	Resolution   string
	Reconnects   uint32
	BytesRead    uint64
	IsConnected  bool
	Errors       uint64
}
