package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/canvasdb/internal/db"
	"github.com/rpattn/canvasdb/internal/domain"
)

// TableRepository defines the interface for user tables and their records.
// Lookups of a missing table wrap domain.ErrNotFound.
type TableRepository interface {
	Create(ctx context.Context, table domain.Table) (domain.Table, error)
	GetTable(ctx context.Context, name string) (domain.Table, error)
	List(ctx context.Context) ([]domain.Table, error)
	GetRecords(ctx context.Context, tableName string) (domain.RecordSet, error)
	ListRecords(ctx context.Context, tableName string) ([]domain.StoredRecord, error)
	InsertRecord(ctx context.Context, tableName string, data map[string]any) (domain.StoredRecord, error)
	// UpdateRecord replaces the data of a record and validates it again.
	UpdateRecord(ctx context.Context, tableName string, id int64, data map[string]any) (domain.StoredRecord, error)
	DeleteRecord(ctx context.Context, tableName string, id int64) error
	// Delete drops the table with its fields and records.
	Delete(ctx context.Context, name string) error
	// AddField appends a field. Existing records are not checked against it.
	AddField(ctx context.Context, tableName string, field domain.Field) (domain.Field, error)
	UpdateField(ctx context.Context, tableName, fieldName string, update domain.FieldUpdate) (domain.Field, error)
	// DeleteField removes the definition only; record data keeps the key.
	DeleteField(ctx context.Context, tableName, fieldName string) error
	Counts(ctx context.Context) (tables, records int64, err error)
}

// CanvasRepository defines the interface for canvas operations
type CanvasRepository interface {
	Create(ctx context.Context, canvas domain.Canvas) (domain.Canvas, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Canvas, error)
	GetByName(ctx context.Context, name string) (domain.Canvas, error)
	List(ctx context.Context) ([]domain.Canvas, error)
	Update(ctx context.Context, canvas domain.Canvas) (domain.Canvas, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
}

// ViewRepository stores materialized views. Views are append-only.
type ViewRepository interface {
	Create(ctx context.Context, view domain.View) (domain.View, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.View, error)
	List(ctx context.Context) ([]domain.View, error)
	ListByCanvas(ctx context.Context, canvasID uuid.UUID) ([]domain.View, error)
	Count(ctx context.Context) (int64, error)
}

// Store groups the repositories backing one deployment.
type Store struct {
	Tables   TableRepository
	Canvases CanvasRepository
	Views    ViewRepository
}

// NewPostgresStore wires the Postgres repositories onto one connection.
func NewPostgresStore(conn *db.Connection) Store {
	return Store{
		Tables:   NewTableRepository(conn),
		Canvases: NewCanvasRepository(conn.Pool),
		Views:    NewViewRepository(conn.Pool),
	}
}

// Stats counts tables, records, canvases and views.
func (s Store) Stats(ctx context.Context) (domain.Stats, error) {
	var (
		stats domain.Stats
		err   error
	)
	if stats.Tables, stats.Records, err = s.Tables.Counts(ctx); err != nil {
		return domain.Stats{}, fmt.Errorf("count tables: %w", err)
	}
	if stats.Canvases, err = s.Canvases.Count(ctx); err != nil {
		return domain.Stats{}, fmt.Errorf("count canvases: %w", err)
	}
	if stats.Views, err = s.Views.Count(ctx); err != nil {
		return domain.Stats{}, fmt.Errorf("count views: %w", err)
	}
	return stats, nil
}
