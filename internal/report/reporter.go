package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"borderwatch/internal/model"
	"borderwatch/internal/roster"
	"borderwatch/internal/storage"
)

// MediaUploader is the media-host slice used by the workflows.
type MediaUploader interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
}

// AlertMailer is the email slice used by the disallow workflow.
type AlertMailer interface {
	SendIntruderAlert(ctx context.Context, imageURL string, detectedAt time.Time) error
}

// Reporter runs the operator decisions over a stored unknown-face
// record: disallow (report by email) or save (enroll as an identity).
type Reporter struct {
	logger   *slog.Logger
	store    storage.Store
	source   roster.Source
	uploader MediaUploader
	mailer   AlertMailer
}

func NewReporter(logger *slog.Logger, store storage.Store, source roster.Source, uploader MediaUploader, mailer AlertMailer) *Reporter {
	return &Reporter{
		logger:   logger,
		store:    store,
		source:   source,
		uploader: uploader,
		mailer:   mailer,
	}
}

// ReportIntruder uploads the record's snapshot and sends one alert
// email carrying the hosted URL and detection time. Failures surface
// to the caller; nothing is retried. On success the record is marked
// rejected.
func (r *Reporter) ReportIntruder(ctx context.Context, recordID string) error {
	rec, err := r.store.GetRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	img, err := base64.StdEncoding.DecodeString(rec.ImageData)
	if err != nil {
		return fmt.Errorf("report: decode snapshot: %w", err)
	}
	url, err := r.uploader.Upload(ctx, rec.ID+".jpg", img)
	if err != nil {
		return fmt.Errorf("report: upload snapshot: %w", err)
	}
	if err := r.mailer.SendIntruderAlert(ctx, url, rec.DetectedAt); err != nil {
		return fmt.Errorf("report: send email: %w", err)
	}
	if err := r.store.UpdateStatus(ctx, rec.ID, model.StatusRejected); err != nil && r.logger != nil {
		r.logger.Warn("report: status update failed", "record_id", rec.ID, "err", err)
	}
	if r.logger != nil {
		r.logger.Info("intruder reported", "record_id", rec.ID, "image_url", url)
	}
	return nil
}

// Enroll uploads the given images and appends one identity document to
// the roster source. The roster subscription picks the change up and
// rebuilds the matcher; no local state is touched here. When the
// enrollment originates from a stored record, that record is marked
// verified.
func (r *Reporter) Enroll(ctx context.Context, title, description string, images [][]byte, recordID string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("enroll: empty title")
	}
	if len(images) == 0 {
		return fmt.Errorf("enroll: image file missing")
	}
	urls := make([]string, 0, len(images))
	for i, img := range images {
		url, err := r.uploader.Upload(ctx, fmt.Sprintf("%s-%d.jpg", sanitizeName(title), i), img)
		if err != nil {
			return fmt.Errorf("enroll: upload image %d: %w", i, err)
		}
		urls = append(urls, url)
	}
	doc := model.IdentityDocument{
		Title:       title,
		Description: description,
		Images:      urls,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.source.Append(ctx, doc); err != nil {
		return fmt.Errorf("enroll: append identity: %w", err)
	}
	if recordID != "" {
		if err := r.store.UpdateStatus(ctx, recordID, model.StatusVerified); err != nil && r.logger != nil {
			r.logger.Warn("enroll: status update failed", "record_id", recordID, "err", err)
		}
	}
	if r.logger != nil {
		r.logger.Info("identity enrolled", "title", title, "images", len(urls))
	}
	return nil
}

func sanitizeName(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
}
