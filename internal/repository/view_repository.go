package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpattn/canvasdb/internal/db"
	"github.com/rpattn/canvasdb/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const viewColumns = `id, name, canvas_id, data, columns, warnings, created_at`

// viewRepository implements ViewRepository on Postgres
type viewRepository struct {
	db db.DBTX
}

// NewViewRepository creates a new view repository
func NewViewRepository(exec db.DBTX) ViewRepository {
	return &viewRepository{db: exec}
}

// Create appends a view in a single INSERT
func (r *viewRepository) Create(ctx context.Context, view domain.View) (domain.View, error) {
	if view.ID == uuid.Nil {
		view.ID = uuid.New()
	}
	data, err := json.Marshal(view.Data)
	if err != nil {
		return domain.View{}, fmt.Errorf("marshal view data: %w", err)
	}
	columns, err := json.Marshal(nonNilStrings(view.Columns))
	if err != nil {
		return domain.View{}, fmt.Errorf("marshal view columns: %w", err)
	}
	warnings, err := json.Marshal(nonNilStrings(view.Warnings))
	if err != nil {
		return domain.View{}, fmt.Errorf("marshal view warnings: %w", err)
	}

	row := r.db.QueryRow(
		ctx,
		`INSERT INTO views (id, name, canvas_id, data, columns, warnings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+viewColumns,
		view.ID,
		view.Name,
		view.CanvasID,
		data,
		columns,
		warnings,
		view.CreatedAt,
	)
	created, err := scanView(row)
	if err != nil {
		return domain.View{}, fmt.Errorf("failed to create view: %w", err)
	}
	return created, nil
}

// GetByID retrieves a view by ID
func (r *viewRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.View, error) {
	view, err := scanView(r.db.QueryRow(ctx, `SELECT `+viewColumns+` FROM views WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.View{}, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
		}
		return domain.View{}, fmt.Errorf("failed to get view: %w", err)
	}
	return view, nil
}

// List retrieves all views, newest first
func (r *viewRepository) List(ctx context.Context) ([]domain.View, error) {
	return r.list(ctx, `SELECT `+viewColumns+` FROM views ORDER BY created_at DESC, id`)
}

// ListByCanvas retrieves the views produced by one canvas, newest first
func (r *viewRepository) ListByCanvas(ctx context.Context, canvasID uuid.UUID) ([]domain.View, error) {
	return r.list(ctx, `SELECT `+viewColumns+` FROM views WHERE canvas_id = $1 ORDER BY created_at DESC, id`, canvasID)
}

func (r *viewRepository) list(ctx context.Context, query string, args ...any) ([]domain.View, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	defer rows.Close()

	views := []domain.View{}
	for rows.Next() {
		view, scanErr := scanView(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan view: %w", scanErr)
		}
		views = append(views, view)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate views: %w", rowsErr)
	}
	return views, nil
}

func (r *viewRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM views`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count views: %w", err)
	}
	return count, nil
}

func scanView(row pgx.Row) (domain.View, error) {
	var (
		view     domain.View
		data     []byte
		columns  []byte
		warnings []byte
	)
	if err := row.Scan(&view.ID, &view.Name, &view.CanvasID, &data, &columns, &warnings, &view.CreatedAt); err != nil {
		return domain.View{}, err
	}
	if err := json.Unmarshal(data, &view.Data); err != nil {
		return domain.View{}, fmt.Errorf("decode view data: %w", err)
	}
	if err := json.Unmarshal(columns, &view.Columns); err != nil {
		return domain.View{}, fmt.Errorf("decode view columns: %w", err)
	}
	if err := json.Unmarshal(warnings, &view.Warnings); err != nil {
		return domain.View{}, fmt.Errorf("decode view warnings: %w", err)
	}
	// Stored column order wins over the order recovered from JSON objects.
	if len(view.Columns) > 0 {
		view.Data.Columns = append([]string{}, view.Columns...)
	}
	if len(view.Warnings) == 0 {
		view.Warnings = nil
	}
	return view, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
