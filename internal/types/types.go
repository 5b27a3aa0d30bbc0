package types

import "time"

// FrameTask represents a single captured frame handed to the recognition loop
type FrameTask struct {
	Index      int       // 1-based position in the source stream
	Data       []byte    // Raw JPEG bytes
	CapturedAt time.Time // When the frame was read off the pipe
}

// MatchEvent is what `watch` reports when the recognized identity changes
type MatchEvent struct {
	Frame  int       `json:"frame"`
	Status string    `json:"status"` // no_face, unmatched, matched
	Label  string    `json:"label,omitempty"`
	Score  float64   `json:"score"`
	At     time.Time `json:"at"`
}
