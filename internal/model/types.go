package model

import "time"

// LabelUnknown is the sentinel label assigned to a face whose nearest
// roster identity is farther than the configured match threshold.
const LabelUnknown = "unknown"

type RecordStatus string

const (
	StatusUnverified RecordStatus = "unverified"
	StatusVerified   RecordStatus = "verified"
	StatusRejected   RecordStatus = "rejected"
)

// Embedding is a fixed-dimension face descriptor produced by the
// external recognizer. The dimension is whatever the recognizer emits;
// all embeddings in one roster must share it.
type Embedding []float32

type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is one located face in a frame, as returned by the recognizer.
type Detection struct {
	Box       BoundingBox `json:"box"`
	Embedding Embedding   `json:"embedding"`
}

// MatchResult pairs a detection with the nearest roster label.
// Label is LabelUnknown when no identity is within the threshold.
type MatchResult struct {
	Box      BoundingBox `json:"box"`
	Label    string      `json:"label"`
	Distance float64     `json:"distance"`
}

func (m MatchResult) Unknown() bool {
	return m.Label == LabelUnknown
}

// Identity is one roster entry: a unique trimmed label and at least one
// successfully embedded reference image.
type Identity struct {
	Label      string
	Embeddings []Embedding
}

// IdentityDocument is the raw remote document an identity is built from.
// Legacy documents carry a single Image instead of Images.
type IdentityDocument struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Images      []string  `json:"images"`
	Image       string    `json:"image,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// ImageURLs merges the legacy single-image field into the image list.
func (d IdentityDocument) ImageURLs() []string {
	urls := make([]string, 0, len(d.Images)+1)
	urls = append(urls, d.Images...)
	if d.Image != "" {
		urls = append(urls, d.Image)
	}
	return urls
}

// Frame is one captured camera frame. Raw holds the encoded bytes as
// grabbed from the source (JPEG for snapshot cameras).
type Frame struct {
	Raw        []byte
	CapturedAt time.Time
}

// UnknownFaceRecord is the locally persisted audit record written when
// the debouncer confirms an unknown presence.
type UnknownFaceRecord struct {
	ID         string       `json:"id"`
	ImageData  string       `json:"image_data"`
	DetectedAt time.Time    `json:"detected_at"`
	Status     RecordStatus `json:"status"`
}

// AlertEvent is published once per confirmed unknown-presence cycle.
type AlertEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	RecordID   string    `json:"record_id,omitempty"`
	Image      []byte    `json:"image,omitempty"`
	MatchCount int       `json:"match_count"`
}
