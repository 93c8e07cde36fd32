package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"borderwatch/internal/config"
	"borderwatch/internal/model"
)

// ErrNotFound is returned when no record exists under the given id.
var ErrNotFound = errors.New("record not found")

// Store is the local durable home of unknown-face records. Records
// survive process restarts independently of any remote write.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveRecord(ctx context.Context, rec model.UnknownFaceRecord) error
	GetRecord(ctx context.Context, id string) (model.UnknownFaceRecord, error)
	ListRecords(ctx context.Context, limit int) ([]model.UnknownFaceRecord, error)
	UpdateStatus(ctx context.Context, id string, status model.RecordStatus) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
