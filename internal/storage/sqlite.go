package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"borderwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:borderwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS unknown_faces (
			id TEXT PRIMARY KEY,
			image_data TEXT NOT NULL,
			detected_at TEXT NOT NULL,
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

func (s *sqliteStore) SaveRecord(ctx context.Context, rec model.UnknownFaceRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unknown_faces (id, image_data, detected_at, status) VALUES (?, ?, ?, ?)`,
		rec.ID,
		rec.ImageData,
		rec.DetectedAt.UTC().Format(time.RFC3339Nano),
		string(rec.Status),
	)
	return err
}

func (s *sqliteStore) GetRecord(ctx context.Context, id string) (model.UnknownFaceRecord, error) {
	var rec model.UnknownFaceRecord
	var detectedAt, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, image_data, detected_at, status FROM unknown_faces WHERE id = ?`, id).
		Scan(&rec.ID, &rec.ImageData, &detectedAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.DetectedAt, _ = time.Parse(time.RFC3339Nano, detectedAt)
	rec.Status = model.RecordStatus(status)
	return rec, nil
}

func (s *sqliteStore) ListRecords(ctx context.Context, limit int) ([]model.UnknownFaceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, image_data, detected_at, status FROM unknown_faces ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UnknownFaceRecord
	for rows.Next() {
		var rec model.UnknownFaceRecord
		var detectedAt, status string
		if err := rows.Scan(&rec.ID, &rec.ImageData, &detectedAt, &status); err != nil {
			return nil, err
		}
		rec.DetectedAt, _ = time.Parse(time.RFC3339Nano, detectedAt)
		rec.Status = model.RecordStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, id string, status model.RecordStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE unknown_faces SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
