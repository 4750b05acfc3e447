package video

import "time"

// StoredVideo is the durable record written once an analysis finishes.
// DuplicateOf links a confirmed duplicate to the video it matched; it is
// a lookup relation, not ownership.
type StoredVideo struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	UploadTime  time.Time `json:"upload_time"`
	DuplicateOf *int64    `json:"duplicate_of,omitempty"`
	Cuts        []float64 `json:"cuts"`
}

// CutSet is the projection the duplicate index scans: one row per
// stored video with its full cut list.
type CutSet struct {
	VideoID  int64
	Filename string
	Cuts     []float64
}
