package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"borderwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/borderwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS unknown_faces (
			id TEXT PRIMARY KEY,
			image_data TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unknown_faces_detected_at ON unknown_faces(detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveRecord(ctx context.Context, rec model.UnknownFaceRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unknown_faces (id, image_data, detected_at, status) VALUES ($1, $2, $3, $4)`,
		rec.ID,
		rec.ImageData,
		rec.DetectedAt.UTC(),
		string(rec.Status),
	)
	return err
}

func (s *postgresStore) GetRecord(ctx context.Context, id string) (model.UnknownFaceRecord, error) {
	var rec model.UnknownFaceRecord
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, image_data, detected_at, status FROM unknown_faces WHERE id = $1`, id).
		Scan(&rec.ID, &rec.ImageData, &rec.DetectedAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Status = model.RecordStatus(status)
	return rec, nil
}

func (s *postgresStore) ListRecords(ctx context.Context, limit int) ([]model.UnknownFaceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, image_data, detected_at, status FROM unknown_faces ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UnknownFaceRecord
	for rows.Next() {
		var rec model.UnknownFaceRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.ImageData, &rec.DetectedAt, &status); err != nil {
			return nil, err
		}
		rec.Status = model.RecordStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpdateStatus(ctx context.Context, id string, status model.RecordStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE unknown_faces SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
