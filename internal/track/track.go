// Package track defines the face-tracking contract consumed by the
// composite pipeline. Detection itself is an external capability (a
// landmark model running elsewhere); the pipeline only needs the latest
// face box and a status, delivered asynchronously at whatever cadence the
// detector manages.
package track

// Status describes what the detector currently knows about the face.
type Status string

const (
	// StatusLoading — detector still warming up; draw no overlay.
	StatusLoading Status = "loading"
	// StatusTracking — Box is a live detection.
	StatusTracking Status = "tracking"
	// StatusNoFace — detector ran but found no face; hold the last box
	// briefly before falling back.
	StatusNoFace Status = "no-face"
	// StatusFallback — detector gave up; use the fixed fallback position.
	StatusFallback Status = "fallback"
)

// Box is a face region as fractions of the frame size, so it is resolution
// independent.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the box center in fractional coordinates.
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// State is one tracking update. Box is meaningful only when Status is
// StatusTracking.
type State struct {
	Status Status `json:"status"`
	Box    Box    `json:"box"`
}

// Provider delivers tracking updates. Implementations wrap a real detector;
// tests use Synthetic.
type Provider interface {
	// Subscribe returns a channel of states and a cancel func. The channel
	// closes when the provider shuts down or cancel is called.
	Subscribe() (<-chan State, func())
}
