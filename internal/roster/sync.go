package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"borderwatch/internal/facerec"
	"borderwatch/internal/matcher"
	"borderwatch/internal/model"
)

// ErrSubscriptionLost is returned by Run when the change subscription
// fails past its reconnect budget.
var ErrSubscriptionLost = errors.New("roster subscription lost")

// Syncer keeps the in-memory roster fresh. Every upstream change
// triggers a full re-fetch and a wholesale matcher rebuild; the new
// matcher replaces the old one atomically so match cycles never
// observe a half-built roster.
type Syncer struct {
	source       Source
	rec          facerec.Recognizer
	logger       *slog.Logger
	threshold    float64
	embedTimeout time.Duration
	resync       time.Duration

	current atomic.Pointer[matcher.Matcher]
}

type SyncerOptions struct {
	MatchThreshold float64
	EmbedTimeout   time.Duration
	ResyncInterval time.Duration
}

func NewSyncer(source Source, rec facerec.Recognizer, logger *slog.Logger, opts SyncerOptions) *Syncer {
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = 0.5
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 10 * time.Second
	}
	return &Syncer{
		source:       source,
		rec:          rec,
		logger:       logger,
		threshold:    opts.MatchThreshold,
		embedTimeout: opts.EmbedTimeout,
		resync:       opts.ResyncInterval,
	}
}

// Current returns the latest fully built matcher, or nil before the
// first rebuild completes.
func (s *Syncer) Current() *matcher.Matcher {
	return s.current.Load()
}

// Rebuild re-fetches every identity document, embeds its reference
// images and swaps in a fresh matcher. Per-image embedding failures
// are logged and skipped; only a source-level failure aborts.
func (s *Syncer) Rebuild(ctx context.Context) error {
	docs, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("roster load: %w", err)
	}
	identities := s.buildIdentities(ctx, docs)
	if len(identities) == 0 && s.logger != nil {
		s.logger.Warn("roster rebuild produced no usable identities", "documents", len(docs))
	}
	m := matcher.New(identities, s.threshold)
	s.current.Store(m)
	if s.logger != nil {
		s.logger.Info("roster rebuilt",
			"documents", len(docs),
			"identities", m.Identities(),
		)
	}
	return nil
}

func (s *Syncer) buildIdentities(ctx context.Context, docs []model.IdentityDocument) []model.Identity {
	byLabel := make(map[string]int)
	var identities []model.Identity
	for _, doc := range docs {
		label := strings.TrimSpace(doc.Title)
		if label == "" {
			if s.logger != nil {
				s.logger.Warn("roster: document without title, dropped")
			}
			continue
		}
		var embeddings []model.Embedding
		for _, url := range doc.ImageURLs() {
			emb, err := s.embedOne(ctx, url)
			if err != nil {
				if ctx.Err() != nil {
					return identities
				}
				if s.logger != nil {
					s.logger.Warn("roster: image embed failed, skipped",
						"label", label, "image", url, "err", err)
				}
				continue
			}
			embeddings = append(embeddings, emb)
		}
		if len(embeddings) == 0 {
			if s.logger != nil {
				s.logger.Warn("roster: no usable embeddings, identity dropped", "label", label)
			}
			continue
		}
		if idx, ok := byLabel[label]; ok {
			// Labels are unique per roster; duplicate documents pool
			// their embeddings under the first occurrence.
			identities[idx].Embeddings = append(identities[idx].Embeddings, embeddings...)
			continue
		}
		byLabel[label] = len(identities)
		identities = append(identities, model.Identity{Label: label, Embeddings: embeddings})
	}
	return identities
}

func (s *Syncer) embedOne(ctx context.Context, url string) (model.Embedding, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()
	return s.rec.EmbedImage(embedCtx, url)
}

// Run performs the initial rebuild, then rebuilds on every change
// notification until the context is cancelled. A lost subscription is
// a fatal subsystem error, surfaced to the caller rather than retried
// silently.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.Rebuild(ctx); err != nil {
		return err
	}
	changes, err := s.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("roster subscribe: %w", err)
	}

	var resyncC <-chan time.Time
	if s.resync > 0 {
		ticker := time.NewTicker(s.resync)
		defer ticker.Stop()
		resyncC = ticker.C
	}

	for {
		select {
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionLost
			}
			if err := s.Rebuild(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Keep serving the previous matcher; the periodic
				// resync will try again.
				if s.logger != nil {
					s.logger.Error("roster rebuild failed", "err", err)
				}
			}
		case <-resyncC:
			if err := s.Rebuild(ctx); err != nil && s.logger != nil {
				s.logger.Error("roster resync failed", "err", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
