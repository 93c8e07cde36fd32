package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"borderwatch/internal/alerts"
	"borderwatch/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   []model.UnknownFaceRecord
	saveErr error
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func (f *fakeStore) SaveRecord(ctx context.Context, rec model.UnknownFaceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeStore) GetRecord(ctx context.Context, id string) (model.UnknownFaceRecord, error) {
	return model.UnknownFaceRecord{}, errors.New("not implemented")
}

func (f *fakeStore) ListRecords(ctx context.Context, limit int) ([]model.UnknownFaceRecord, error) {
	return nil, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, status model.RecordStatus) error {
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.AlertEvent
}

func (f *fakePublisher) Publish(ctx context.Context, ev model.AlertEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func jpegFrame(t *testing.T, width, height int, ts time.Time) model.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test frame: %v", err)
	}
	return model.Frame{Raw: buf.Bytes(), CapturedAt: ts}
}

func TestFirePersistsRecordAndNotifies(t *testing.T) {
	store := &fakeStore{}
	bus := alerts.NewBus()
	recent := alerts.NewStore(10)
	ext := &fakePublisher{}
	sink := NewSink(nil, store, bus, recent, ext, 800)

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := jpegFrame(t, 320, 240, ts)
	results := []model.MatchResult{
		{Label: "Alice"},
		{Label: model.LabelUnknown},
	}
	sink.Fire(context.Background(), frame, results)

	if len(store.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(store.saved))
	}
	rec := store.saved[0]
	if rec.Status != model.StatusUnverified {
		t.Fatalf("record status = %s, want unverified", rec.Status)
	}
	if !rec.DetectedAt.Equal(ts) {
		t.Fatalf("record DetectedAt = %v, want frame time", rec.DetectedAt)
	}
	if decoded, err := base64.StdEncoding.DecodeString(rec.ImageData); err != nil || !bytes.Equal(decoded, frame.Raw) {
		t.Fatal("record image does not round-trip to the frame bytes")
	}

	var ev model.AlertEvent
	select {
	case ev = <-ch:
	default:
		t.Fatal("no event on the bus")
	}
	if ev.RecordID != rec.ID {
		t.Fatalf("event RecordID = %s, want %s", ev.RecordID, rec.ID)
	}
	if ev.MatchCount != 2 {
		t.Fatalf("event MatchCount = %d, want 2", ev.MatchCount)
	}
	if !bytes.Equal(ev.Image, frame.Raw) {
		t.Fatal("event image differs from the frame")
	}

	if got := recent.List(0); len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("recent store = %v", got)
	}
	if len(ext.events) != 1 || ext.events[0].ID != ev.ID {
		t.Fatalf("external publisher got %v", ext.events)
	}
}

// Persistence failing must not silence the alert.
func TestFirePersistFailureStillNotifies(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full")}
	bus := alerts.NewBus()
	sink := NewSink(nil, store, bus, nil, nil, 800)

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	frame := jpegFrame(t, 100, 100, time.Now())
	sink.Fire(context.Background(), frame, []model.MatchResult{{Label: model.LabelUnknown}})

	select {
	case ev := <-ch:
		if ev.RecordID != "" {
			t.Fatalf("event carries record id %s for an unsaved record", ev.RecordID)
		}
		if len(ev.Image) == 0 {
			t.Fatal("event lost its image")
		}
	default:
		t.Fatal("no event after persist failure")
	}
}

// An empty frame cannot produce a snapshot; the alert goes out anyway.
func TestFireEmptyFrameAlertsWithoutImage(t *testing.T) {
	store := &fakeStore{}
	bus := alerts.NewBus()
	sink := NewSink(nil, store, bus, nil, nil, 800)

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	sink.Fire(context.Background(), model.Frame{CapturedAt: time.Now()}, nil)

	if len(store.saved) != 0 {
		t.Fatal("saved a record for an empty frame")
	}
	select {
	case ev := <-ch:
		if len(ev.Image) != 0 || ev.RecordID != "" {
			t.Fatalf("expected bare event, got %+v", ev)
		}
	default:
		t.Fatal("no event for empty frame")
	}
}

func TestEncodeSnapshotDownscalesWideFrames(t *testing.T) {
	sink := NewSink(nil, &fakeStore{}, alerts.NewBus(), nil, nil, 100)

	frame := jpegFrame(t, 400, 200, time.Now())
	out, err := sink.encodeSnapshot(frame)
	if err != nil {
		t.Fatalf("encodeSnapshot() error = %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if w := img.Bounds().Dx(); w != 100 {
		t.Fatalf("snapshot width = %d, want 100", w)
	}
	if h := img.Bounds().Dy(); h != 50 {
		t.Fatalf("snapshot height = %d, want 50", h)
	}
}

func TestEncodeSnapshotKeepsNarrowFramesVerbatim(t *testing.T) {
	sink := NewSink(nil, &fakeStore{}, alerts.NewBus(), nil, nil, 800)

	frame := jpegFrame(t, 320, 240, time.Now())
	out, err := sink.encodeSnapshot(frame)
	if err != nil {
		t.Fatalf("encodeSnapshot() error = %v", err)
	}
	if !bytes.Equal(out, frame.Raw) {
		t.Fatal("narrow frame was re-encoded")
	}
}

// A frame that is not a decodable image is stored as-is.
func TestEncodeSnapshotUndecodableKeptVerbatim(t *testing.T) {
	sink := NewSink(nil, &fakeStore{}, alerts.NewBus(), nil, nil, 100)

	raw := []byte("not an image at all")
	out, err := sink.encodeSnapshot(model.Frame{Raw: raw})
	if err != nil {
		t.Fatalf("encodeSnapshot() error = %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatal("undecodable frame was altered")
	}
}
