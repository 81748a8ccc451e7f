package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/canvasdb/internal/db"
	"github.com/rpattn/canvasdb/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const canvasColumns = `id, name, description, nodes, edges, created_at, updated_at`

// canvasRepository implements CanvasRepository on Postgres
type canvasRepository struct {
	db db.DBTX
}

// NewCanvasRepository creates a new canvas repository
func NewCanvasRepository(exec db.DBTX) CanvasRepository {
	return &canvasRepository{db: exec}
}

// Create stores a new canvas. A zero id is replaced with a fresh one.
func (r *canvasRepository) Create(ctx context.Context, canvas domain.Canvas) (domain.Canvas, error) {
	if strings.TrimSpace(canvas.Name) == "" {
		return domain.Canvas{}, fmt.Errorf("canvas name is required: %w", domain.ErrInvalid)
	}
	if canvas.ID == uuid.Nil {
		canvas.ID = uuid.New()
	}
	nodes, edges, err := encodeGraph(canvas)
	if err != nil {
		return domain.Canvas{}, err
	}

	row := r.db.QueryRow(
		ctx,
		`INSERT INTO canvases (id, name, description, nodes, edges)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+canvasColumns,
		canvas.ID,
		canvas.Name,
		canvas.Description,
		nodes,
		edges,
	)
	created, err := scanCanvas(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Canvas{}, fmt.Errorf("canvas %s: %w", canvas.ID, domain.ErrConflict)
		}
		return domain.Canvas{}, fmt.Errorf("failed to create canvas: %w", err)
	}
	return created, nil
}

// GetByID retrieves a canvas by ID
func (r *canvasRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Canvas, error) {
	row := r.db.QueryRow(ctx, `SELECT `+canvasColumns+` FROM canvases WHERE id = $1`, id)
	canvas, err := scanCanvas(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Canvas{}, fmt.Errorf("canvas %s: %w", id, domain.ErrNotFound)
		}
		return domain.Canvas{}, fmt.Errorf("failed to get canvas: %w", err)
	}
	return canvas, nil
}

// GetByName retrieves the oldest canvas with the given name
func (r *canvasRepository) GetByName(ctx context.Context, name string) (domain.Canvas, error) {
	row := r.db.QueryRow(
		ctx,
		`SELECT `+canvasColumns+` FROM canvases WHERE name = $1 ORDER BY created_at, id LIMIT 1`,
		name,
	)
	canvas, err := scanCanvas(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Canvas{}, fmt.Errorf("canvas %q: %w", name, domain.ErrNotFound)
		}
		return domain.Canvas{}, fmt.Errorf("failed to get canvas by name: %w", err)
	}
	return canvas, nil
}

// List retrieves all canvases, oldest first
func (r *canvasRepository) List(ctx context.Context) ([]domain.Canvas, error) {
	rows, err := r.db.Query(ctx, `SELECT `+canvasColumns+` FROM canvases ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list canvases: %w", err)
	}
	defer rows.Close()

	canvases := []domain.Canvas{}
	for rows.Next() {
		canvas, scanErr := scanCanvas(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan canvas: %w", scanErr)
		}
		canvases = append(canvases, canvas)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate canvases: %w", rowsErr)
	}
	return canvases, nil
}

// Update replaces the canvas name, description and graph
func (r *canvasRepository) Update(ctx context.Context, canvas domain.Canvas) (domain.Canvas, error) {
	if strings.TrimSpace(canvas.Name) == "" {
		return domain.Canvas{}, fmt.Errorf("canvas name is required: %w", domain.ErrInvalid)
	}
	nodes, edges, err := encodeGraph(canvas)
	if err != nil {
		return domain.Canvas{}, err
	}

	row := r.db.QueryRow(
		ctx,
		`UPDATE canvases
		 SET name = $2, description = $3, nodes = $4, edges = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING `+canvasColumns,
		canvas.ID,
		canvas.Name,
		canvas.Description,
		nodes,
		edges,
	)
	updated, err := scanCanvas(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Canvas{}, fmt.Errorf("canvas %s: %w", canvas.ID, domain.ErrNotFound)
		}
		return domain.Canvas{}, fmt.Errorf("failed to update canvas: %w", err)
	}
	return updated, nil
}

// Delete removes a canvas and, through the foreign key, its views
func (r *canvasRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM canvases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete canvas: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("canvas %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *canvasRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM canvases`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count canvases: %w", err)
	}
	return count, nil
}

func encodeGraph(canvas domain.Canvas) ([]byte, []byte, error) {
	nodes, err := domain.CanvasNodesToJSON(canvas.Nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := domain.CanvasEdgesToJSON(canvas.Edges)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal edges: %w", err)
	}
	return nodes, edges, nil
}

func scanCanvas(row pgx.Row) (domain.Canvas, error) {
	var (
		canvas    domain.Canvas
		nodes     []byte
		edges     []byte
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&canvas.ID, &canvas.Name, &canvas.Description, &nodes, &edges, &canvas.CreatedAt, &updatedAt); err != nil {
		return domain.Canvas{}, err
	}
	var err error
	if canvas.Nodes, err = domain.CanvasNodesFromJSON(nodes); err != nil {
		return domain.Canvas{}, fmt.Errorf("decode nodes: %w", err)
	}
	if canvas.Edges, err = domain.CanvasEdgesFromJSON(edges); err != nil {
		return domain.Canvas{}, fmt.Errorf("decode edges: %w", err)
	}
	canvas.UpdatedAt = timestamptzPtr(updatedAt)
	return canvas, nil
}
