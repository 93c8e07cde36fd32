// Package session owns the process-scoped detection session: it wires
// the camera, recognizer, roster sync, detection engine, sinks and API
// into one unit with explicit start and teardown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"borderwatch/internal/alerts"
	"borderwatch/internal/api"
	"borderwatch/internal/camera"
	"borderwatch/internal/capture"
	"borderwatch/internal/config"
	"borderwatch/internal/detect"
	"borderwatch/internal/facerec"
	"borderwatch/internal/logging"
	"borderwatch/internal/notify"
	"borderwatch/internal/report"
	"borderwatch/internal/roster"
	"borderwatch/internal/storage"
)

const readinessPollInterval = 2 * time.Second

type Session struct {
	logger *slog.Logger
	cfg    *config.Manager

	recognizer *facerec.Client
	source     roster.Source
	syncer     *roster.Syncer
	camera     camera.Source
	store      storage.Store
	bus        *alerts.Bus
	recent     *alerts.Store
	kafka      *notify.KafkaPublisher
	engine     *detect.Engine
	reporter   *report.Reporter
	apiServer  *http.Server
	version    string
}

// New wires a session from configuration. Nothing starts running until
// Run is called.
func New(ctx context.Context, cfgMgr *config.Manager, logger *slog.Logger, version string) (*Session, error) {
	cfg := cfgMgr.Get()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("session: storage: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("session: storage init: %w", err)
	}

	source, err := roster.NewPostgres(ctx, cfg.Roster, logging.ForComponent(logger, "roster"))
	if err != nil {
		return nil, fmt.Errorf("session: roster source: %w", err)
	}

	recognizer := facerec.NewClient(cfg.Recognizer.BaseURL, cfg.Recognizer.Timeout)
	syncer := roster.NewSyncer(source, recognizer, logging.ForComponent(logger, "roster"), roster.SyncerOptions{
		MatchThreshold: cfg.Recognizer.MatchThreshold,
		EmbedTimeout:   cfg.Roster.EmbedTimeout,
		ResyncInterval: cfg.Roster.ResyncInterval,
	})

	bus := alerts.NewBus()
	recent := alerts.NewStore(cfg.Alerts.StoreLimit)

	var kafkaPub *notify.KafkaPublisher
	var external capture.Publisher
	if cfg.Notify.Kafka.Enabled {
		kafkaPub = notify.NewKafkaPublisher(cfg.Notify.Kafka, logging.ForComponent(logger, "notify"))
		external = kafkaPub
	}

	sink := capture.NewSink(
		logging.ForComponent(logger, "capture"),
		store, bus, recent, external,
		cfg.Detection.MaxSnapshotWidth,
	)

	cam := camera.NewSnapshotSource(cfg.Camera.SnapshotURL, cfg.Camera.Timeout)
	engine := detect.NewEngine(
		logging.ForComponent(logger, "detect"),
		cam, recognizer, syncer,
		detect.NewDebouncer(cfg.Detection.UnknownThreshold),
		sink,
		cfg.Camera.Interval,
	)

	uploader := report.NewUploader(cfg.Report.UploadURL, cfg.Report.UploadPreset, 30*time.Second)
	mailer := report.NewMailer(cfg.Report.Email, 15*time.Second)
	reporter := report.NewReporter(logging.ForComponent(logger, "report"), store, source, uploader, mailer)

	return &Session{
		logger:     logger,
		cfg:        cfgMgr,
		recognizer: recognizer,
		source:     source,
		syncer:     syncer,
		camera:     cam,
		store:      store,
		bus:        bus,
		recent:     recent,
		kafka:      kafkaPub,
		engine:     engine,
		reporter:   reporter,
		version:    version,
	}, nil
}

// Bus exposes the in-process alert channel for additional consumers.
func (s *Session) Bus() *alerts.Bus { return s.bus }

// Run blocks until the context is cancelled or a subsystem fails
// fatally. The recognizer readiness gate and the first roster build
// complete before the detection loop starts.
func (s *Session) Run(ctx context.Context) error {
	if err := s.awaitRecognizer(ctx); err != nil {
		return err
	}

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- s.syncer.Run(ctx)
	}()

	s.apiServer = api.Start(ctx, s.cfg, s.engine, s.syncer, s.recent, s.store, s.reporter,
		logging.ForComponent(s.logger, "api"), s.version)

	go s.engine.Run(ctx)
	if s.logger != nil {
		s.logger.Info("detection session started",
			"interval", s.cfg.Get().Camera.Interval,
			"unknown_threshold", s.cfg.Get().Detection.UnknownThreshold,
		)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-syncErr:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("roster sync: %w", err)
		}
		return err
	}
}

func (s *Session) awaitRecognizer(ctx context.Context) error {
	for {
		checkCtx, cancel := context.WithTimeout(ctx, readinessPollInterval)
		err := s.recognizer.Ready(checkCtx)
		cancel()
		if err == nil {
			if s.logger != nil {
				s.logger.Info("recognizer models loaded")
			}
			return nil
		}
		if s.logger != nil {
			s.logger.Info("waiting for recognizer", "err", err)
		}
		select {
		case <-time.After(readinessPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the camera, subscription and stores. In-flight remote
// calls are abandoned, not awaited; teardown never blocks on them.
func (s *Session) Close() {
	if s.camera != nil {
		_ = s.camera.Close()
	}
	if s.source != nil {
		_ = s.source.Close()
	}
	if s.kafka != nil {
		_ = s.kafka.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.logger != nil {
		s.logger.Info("detection session closed")
	}
}
