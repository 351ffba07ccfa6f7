package types

// Detection is a single detected object with its confidence score.
type Detection struct {
	// Label is the detected class (e.g., "pistol", "knife")
	Label string `json:"label"`
	// Confidence is the detection confidence score [0.0, 1.0]
	Confidence float64 `json:"confidence"`
	// BBox is the bounding box in pixel coordinates (optional, zero if the
	// detector does not report geometry)
	BBox BBox `json:"bbox"`
}

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// DetectionResult is the outcome of running the detector on one frame.
//
// Contract: per-frame detector failures never surface as errors; the
// implementation returns the original frame with empty detections. An
// error from Detect means the detector itself is down, not that a frame
// was bad.
type DetectionResult struct {
	// Annotated is the frame to present (bounding boxes drawn by the
	// detector). Falls back to the input frame when annotation failed.
	Annotated Frame
	// Labels are the detected classes, in detector output order
	Labels []string
	// Scores are the confidence scores, index-aligned with Labels
	Scores []float64
	// HasDetection is true when at least one detection passed the
	// confidence threshold
	HasDetection bool
	// LatencyMS is the detector processing time for this frame
	LatencyMS float64
}
