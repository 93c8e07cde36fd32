package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"borderwatch/internal/facerec"
	"borderwatch/internal/model"
)

type fakeSource struct {
	mu      sync.Mutex
	docs    []model.IdentityDocument
	loadErr error
	changes chan struct{}
}

func newFakeSource(docs ...model.IdentityDocument) *fakeSource {
	return &fakeSource{docs: docs, changes: make(chan struct{}, 1)}
}

func (f *fakeSource) Load(ctx context.Context) ([]model.IdentityDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([]model.IdentityDocument, len(f.docs))
	copy(out, f.docs)
	return out, nil
}

func (f *fakeSource) Append(ctx context.Context, doc model.IdentityDocument) error {
	f.mu.Lock()
	f.docs = append(f.docs, doc)
	f.mu.Unlock()
	select {
	case f.changes <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeSource) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	return f.changes, nil
}

func (f *fakeSource) Close() error { return nil }

// fakeRecognizer embeds by URL lookup; missing URLs fail.
type fakeRecognizer struct {
	embeddings map[string]model.Embedding
}

func (f *fakeRecognizer) Ready(ctx context.Context) error { return nil }

func (f *fakeRecognizer) LocateFaces(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	return nil, nil
}

func (f *fakeRecognizer) EmbedImage(ctx context.Context, url string) (model.Embedding, error) {
	if emb, ok := f.embeddings[url]; ok {
		return emb, nil
	}
	return nil, facerec.ErrNoFace
}

func TestRebuildBuildsMatcherFromDocuments(t *testing.T) {
	source := newFakeSource(
		model.IdentityDocument{Title: "Alice", Images: []string{"a1", "a2"}},
		model.IdentityDocument{Title: "Bob", Images: []string{"b1"}},
	)
	rec := &fakeRecognizer{embeddings: map[string]model.Embedding{
		"a1": {1, 0}, "a2": {0.9, 0.1}, "b1": {0, 1},
	}}
	s := NewSyncer(source, rec, nil, SyncerOptions{MatchThreshold: 0.5})

	if s.Current() != nil {
		t.Fatal("matcher present before first rebuild")
	}
	if err := s.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	m := s.Current()
	if m == nil {
		t.Fatal("no matcher after rebuild")
	}
	if m.Identities() != 2 {
		t.Fatalf("Identities() = %d, want 2", m.Identities())
	}
	if label, _ := m.Best(model.Embedding{1, 0}); label != "Alice" {
		t.Fatalf("Best() = %q, want Alice", label)
	}
}

func TestRebuildDropsUnusableDocuments(t *testing.T) {
	source := newFakeSource(
		model.IdentityDocument{Title: "  ", Images: []string{"x"}},            // no label
		model.IdentityDocument{Title: "Ghost", Images: []string{"missing"}},   // no embeddable image
		model.IdentityDocument{Title: "Carol", Images: []string{"bad", "c1"}}, // one of two images fails
	)
	rec := &fakeRecognizer{embeddings: map[string]model.Embedding{
		"c1": {0, 1}, "x": {1, 1},
	}}
	s := NewSyncer(source, rec, nil, SyncerOptions{MatchThreshold: 0.5})
	if err := s.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	m := s.Current()
	if m.Identities() != 1 {
		t.Fatalf("Identities() = %d, want only Carol", m.Identities())
	}
	if label, _ := m.Best(model.Embedding{0, 1}); label != "Carol" {
		t.Fatalf("Best() = %q, want Carol", label)
	}
}

func TestRebuildHonorsLegacyImageField(t *testing.T) {
	source := newFakeSource(
		model.IdentityDocument{Title: "Dave", Image: "d1"},
	)
	rec := &fakeRecognizer{embeddings: map[string]model.Embedding{"d1": {1, 0}}}
	s := NewSyncer(source, rec, nil, SyncerOptions{MatchThreshold: 0.5})
	if err := s.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if label, _ := s.Current().Best(model.Embedding{1, 0}); label != "Dave" {
		t.Fatalf("Best() = %q, want Dave", label)
	}
}

func TestRebuildLoadErrorKeepsOldMatcher(t *testing.T) {
	source := newFakeSource(model.IdentityDocument{Title: "Alice", Images: []string{"a1"}})
	rec := &fakeRecognizer{embeddings: map[string]model.Embedding{"a1": {1, 0}}}
	s := NewSyncer(source, rec, nil, SyncerOptions{MatchThreshold: 0.5})
	if err := s.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	old := s.Current()

	source.mu.Lock()
	source.loadErr = errors.New("connection reset")
	source.mu.Unlock()
	if err := s.Rebuild(context.Background()); err == nil {
		t.Fatal("expected rebuild error")
	}
	if s.Current() != old {
		t.Fatal("failed rebuild replaced the matcher")
	}
}

// Concurrent readers must only ever observe a complete matcher: either
// the previous one or the fully rebuilt one, never an in-between.
func TestConcurrentReadersSeeWholeMatchers(t *testing.T) {
	source := newFakeSource(
		model.IdentityDocument{Title: "Alice", Images: []string{"a1"}},
		model.IdentityDocument{Title: "Bob", Images: []string{"b1"}},
	)
	rec := &fakeRecognizer{embeddings: map[string]model.Embedding{
		"a1": {1, 0}, "b1": {0, 1},
	}}
	s := NewSyncer(source, rec, nil, SyncerOptions{MatchThreshold: 0.5})
	if err := s.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				m := s.Current()
				if m == nil {
					t.Error("reader observed nil matcher after first build")
					return
				}
				if n := m.Identities(); n != 1 && n != 2 {
					t.Errorf("reader observed partial matcher with %d identities", n)
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		docs := []model.IdentityDocument{{Title: "Alice", Images: []string{"a1"}}}
		if i%2 == 0 {
			docs = append(docs, model.IdentityDocument{Title: "Bob", Images: []string{"b1"}})
		}
		source.mu.Lock()
		source.docs = docs
		source.mu.Unlock()
		if err := s.Rebuild(context.Background()); err != nil {
			t.Fatalf("Rebuild() error = %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestRunRebuildsOnChangeNotification(t *testing.T) {
	source := newFakeSource(model.IdentityDocument{Title: "Alice", Images: []string{"a1"}})
	rec := &fakeRecognizer{embeddings: map[string]model.Embedding{
		"a1": {1, 0}, "b1": {0, 1},
	}}
	s := NewSyncer(source, rec, nil, SyncerOptions{MatchThreshold: 0.5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		m := s.Current()
		return m != nil && m.Identities() == 1
	})

	_ = source.Append(context.Background(), model.IdentityDocument{Title: "Bob", Images: []string{"b1"}})

	waitFor(t, func() bool {
		m := s.Current()
		return m != nil && m.Identities() == 2
	})

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}

func TestRunSurfacesLostSubscription(t *testing.T) {
	source := newFakeSource(model.IdentityDocument{Title: "Alice", Images: []string{"a1"}})
	rec := &fakeRecognizer{embeddings: map[string]model.Embedding{"a1": {1, 0}}}
	s := NewSyncer(source, rec, nil, SyncerOptions{MatchThreshold: 0.5})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitFor(t, func() bool { return s.Current() != nil })
	close(source.changes)

	select {
	case err := <-done:
		if !errors.Is(err, ErrSubscriptionLost) {
			t.Fatalf("Run() = %v, want ErrSubscriptionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after subscription loss")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
