// Package facerec wraps the external face-recognition service. The
// service owns the models and the embedding math; this package only
// speaks its HTTP contract.
package facerec

import (
	"context"
	"errors"

	"borderwatch/internal/model"
)

// ErrNoFace is returned when an image contains no detectable face.
var ErrNoFace = errors.New("no face detected")

// ErrNotLoaded is returned while the recognizer's models are still
// loading. Readiness is a precondition for the detection loop, not a
// recoverable mid-cycle state.
var ErrNotLoaded = errors.New("recognition models not loaded")

// Recognizer is the external face-recognition capability. Every call
// honors the context deadline; a timed-out call counts as a failure of
// that one item, never of the subsystem.
type Recognizer interface {
	// Ready reports whether the remote models are loaded.
	Ready(ctx context.Context) error

	// LocateFaces finds every face in a captured frame and returns one
	// detection per face, in the service's own order.
	LocateFaces(ctx context.Context, frame model.Frame) ([]model.Detection, error)

	// EmbedImage fetches one reference image and returns the embedding
	// of the single face in it, or ErrNoFace.
	EmbedImage(ctx context.Context, imageURL string) (model.Embedding, error)
}
