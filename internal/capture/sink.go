// Package capture implements the alert sink: snapshot encoding, local
// persistence and notification fan-out for confirmed unknown faces.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"borderwatch/internal/alerts"
	"borderwatch/internal/model"
	"borderwatch/internal/storage"
)

const jpegQuality = 80

// Publisher fans an alert out to an external channel (Kafka). Delivery
// is fire-and-forget; errors are the publisher's to log.
type Publisher interface {
	Publish(ctx context.Context, ev model.AlertEvent)
}

// Sink persists one snapshot record and raises one notification per
// confirmed unknown-presence cycle. Capture or persistence failures
// never abort the notification.
type Sink struct {
	logger   *slog.Logger
	store    storage.Store
	bus      *alerts.Bus
	recent   *alerts.Store
	external Publisher
	maxWidth int
}

func NewSink(logger *slog.Logger, store storage.Store, bus *alerts.Bus, recent *alerts.Store, external Publisher, maxWidth int) *Sink {
	return &Sink{
		logger:   logger,
		store:    store,
		bus:      bus,
		recent:   recent,
		external: external,
		maxWidth: maxWidth,
	}
}

func (s *Sink) Fire(ctx context.Context, frame model.Frame, results []model.MatchResult) {
	ev := model.AlertEvent{
		ID:         uuid.NewString(),
		Timestamp:  frame.CapturedAt,
		MatchCount: len(results),
	}

	img, err := s.encodeSnapshot(frame)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("snapshot capture failed, alerting without image", "err", err)
		}
	} else {
		ev.Image = img
		rec := model.UnknownFaceRecord{
			ID:         fmt.Sprintf("ufr-%d", frame.CapturedAt.UnixNano()),
			ImageData:  base64.StdEncoding.EncodeToString(img),
			DetectedAt: frame.CapturedAt,
			Status:     model.StatusUnverified,
		}
		if err := s.store.SaveRecord(ctx, rec); err != nil {
			if s.logger != nil {
				s.logger.Warn("snapshot persist failed, skipping record", "err", err)
			}
		} else {
			ev.RecordID = rec.ID
		}
	}

	if s.recent != nil {
		s.recent.Add(ev)
	}
	s.bus.Publish(ev)
	if s.external != nil {
		s.external.Publish(ctx, ev)
	}
}

// encodeSnapshot re-encodes the frame as JPEG, downscaled when wider
// than the configured limit. A frame that cannot be decoded is kept
// verbatim; the record is still usable for review.
func (s *Sink) encodeSnapshot(frame model.Frame) ([]byte, error) {
	if len(frame.Raw) == 0 {
		return nil, errors.New("empty frame")
	}
	src, _, err := image.Decode(bytes.NewReader(frame.Raw))
	if err != nil {
		return frame.Raw, nil
	}
	bounds := src.Bounds()
	if s.maxWidth <= 0 || bounds.Dx() <= s.maxWidth {
		return frame.Raw, nil
	}

	scale := float64(s.maxWidth) / float64(bounds.Dx())
	h := int(float64(bounds.Dy()) * scale)
	dst := image.NewRGBA(image.Rect(0, 0, s.maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
