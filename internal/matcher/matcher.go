package matcher

import (
	"context"
	"errors"

	"github.com/coder/hnsw"

	"borderwatch/internal/model"
)

// ErrNotReady is returned by MatchFrame before the first roster build
// has completed. Callers should treat it as "try again next tick".
var ErrNotReady = errors.New("matcher not ready")

const maxNeighbors = 16

// Matcher answers nearest-identity queries over all pooled roster
// embeddings. It is immutable after construction; roster updates build
// a fresh Matcher and swap the reference.
type Matcher struct {
	graph      *hnsw.Graph[int]
	labels     map[int]string
	embeddings map[int]model.Embedding
	threshold  float64
	identities int
}

// New builds a matcher from the surviving roster identities. Every
// embedding of every identity becomes one graph node so any reference
// image may match. Threshold is the maximum cosine distance for a
// positive match.
func New(identities []model.Identity, threshold float64) *Matcher {
	g := hnsw.NewGraph[int]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance

	m := &Matcher{
		graph:      g,
		labels:     make(map[int]string),
		embeddings: make(map[int]model.Embedding),
		threshold:  threshold,
	}
	next := 0
	for _, ident := range identities {
		added := false
		for _, emb := range ident.Embeddings {
			if len(emb) == 0 {
				continue
			}
			g.Add(hnsw.MakeNode(next, emb))
			m.labels[next] = ident.Label
			m.embeddings[next] = emb
			next++
			added = true
		}
		if added {
			m.identities++
		}
	}
	return m
}

// Threshold reports the configured match distance cutoff.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Identities reports how many roster identities contributed embeddings.
func (m *Matcher) Identities() int { return m.identities }

// Best returns the nearest identity label and its exact cosine
// distance. A query farther than the threshold from every identity is
// labeled model.LabelUnknown.
func (m *Matcher) Best(query model.Embedding) (string, float64) {
	if len(m.labels) == 0 || len(query) == 0 {
		return model.LabelUnknown, 2.0
	}
	neighbors := m.graph.Search(query, 1)
	if len(neighbors) == 0 {
		return model.LabelUnknown, 2.0
	}
	n := neighbors[0]
	// Recompute the exact distance; the graph's internal metric is an
	// approximation over float32.
	dist := cosineDistance(query, m.embeddings[n.Key])
	if dist > m.threshold {
		return model.LabelUnknown, dist
	}
	return m.labels[n.Key], dist
}

// Locator is the face-locating slice of the external recognizer.
type Locator interface {
	LocateFaces(ctx context.Context, frame model.Frame) ([]model.Detection, error)
}

// MatchFrame locates every face in the frame and labels each with its
// nearest roster identity. Results preserve the recognizer's per-frame
// face order, one result per detection.
func MatchFrame(ctx context.Context, frame model.Frame, loc Locator, m *Matcher) ([]model.MatchResult, error) {
	if m == nil {
		return nil, ErrNotReady
	}
	detections, err := loc.LocateFaces(ctx, frame)
	if err != nil {
		return nil, err
	}
	results := make([]model.MatchResult, 0, len(detections))
	for _, d := range detections {
		label, dist := m.Best(d.Embedding)
		results = append(results, model.MatchResult{
			Box:      d.Box,
			Label:    label,
			Distance: dist,
		})
	}
	return results, nil
}
