package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"borderwatch/internal/config"
	"borderwatch/internal/model"
)

const maxListenRetries = 5

// PostgresSource stores identity documents in a Postgres table and
// surfaces changes through LISTEN/NOTIFY. A row trigger fires the
// notification so writers outside this process are observed too.
type PostgresSource struct {
	pool    *pgxpool.Pool
	dsn     string
	table   string
	channel string
	logger  *slog.Logger
}

func NewPostgres(ctx context.Context, cfg config.RosterConfig, logger *slog.Logger) (*PostgresSource, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("roster: empty dsn")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	s := &PostgresSource{
		pool:    pool,
		dsn:     cfg.DSN,
		table:   cfg.Table,
		channel: cfg.NotifyChannel,
		logger:  logger,
	}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSource) init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			images JSONB NOT NULL DEFAULT '[]',
			image TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s_notify() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('%s', TG_OP);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`, s.table, s.channel),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_changed ON %s`, s.table, s.table),
		fmt.Sprintf(`CREATE TRIGGER %s_changed
			AFTER INSERT OR UPDATE OR DELETE ON %s
			FOR EACH STATEMENT EXECUTE FUNCTION %s_notify()`, s.table, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("roster init: %w", err)
		}
	}
	return nil
}

func (s *PostgresSource) Load(ctx context.Context) ([]model.IdentityDocument, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT title, COALESCE(description, ''), images, COALESCE(image, ''), created_at FROM %s ORDER BY id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.IdentityDocument
	for rows.Next() {
		var doc model.IdentityDocument
		var imagesJSON []byte
		if err := rows.Scan(&doc.Title, &doc.Description, &imagesJSON, &doc.Image, &doc.Timestamp); err != nil {
			return nil, err
		}
		if len(imagesJSON) > 0 {
			if err := json.Unmarshal(imagesJSON, &doc.Images); err != nil {
				if s.logger != nil {
					s.logger.Warn("roster: bad images field, skipping", "title", doc.Title, "err", err)
				}
				continue
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresSource) Append(ctx context.Context, doc model.IdentityDocument) error {
	images, err := json.Marshal(doc.Images)
	if err != nil {
		return err
	}
	ts := doc.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (title, description, images, created_at) VALUES ($1, $2, $3, $4)`, s.table),
		doc.Title, doc.Description, images, ts)
	return err
}

// Subscribe opens a dedicated listening connection. Notifications are
// coalesced into a buffered signal channel; the channel is closed after
// repeated reconnect failures, which the syncer treats as fatal.
func (s *PostgresSource) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer func() {
			if conn != nil {
				_ = conn.Close(context.Background())
			}
		}()
		retries := 0
		for {
			if ctx.Err() != nil {
				return
			}
			if conn == nil {
				retries++
				if retries > maxListenRetries {
					if s.logger != nil {
						s.logger.Error("roster: subscription lost, giving up")
					}
					return
				}
				select {
				case <-time.After(time.Duration(retries) * time.Second):
				case <-ctx.Done():
					return
				}
				next, err := s.listen(ctx)
				if err != nil {
					if s.logger != nil {
						s.logger.Warn("roster: reconnect failed", "attempt", retries, "err", err)
					}
					continue
				}
				conn = next
			}
			if _, err := conn.WaitForNotification(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if s.logger != nil {
					s.logger.Warn("roster: notification wait failed", "err", err)
				}
				_ = conn.Close(context.Background())
				conn = nil
				continue
			}
			retries = 0
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, nil
}

func (s *PostgresSource) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+s.channel); err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}
	return conn, nil
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
