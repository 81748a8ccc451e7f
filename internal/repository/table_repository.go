package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/canvasdb/internal/db"
	"github.com/rpattn/canvasdb/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// tableRepository implements TableRepository on Postgres
type tableRepository struct {
	conn *db.Connection
}

// NewTableRepository creates a new table repository
func NewTableRepository(conn *db.Connection) TableRepository {
	return &tableRepository{conn: conn}
}

// Create inserts a table and its field definitions in one transaction
func (r *tableRepository) Create(ctx context.Context, table domain.Table) (domain.Table, error) {
	if err := validateTable(table); err != nil {
		return domain.Table{}, err
	}

	created := table
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var updatedAt pgtype.Timestamptz
		err := tx.QueryRow(
			ctx,
			`INSERT INTO tables (name, display_name, description)
			 VALUES ($1, $2, $3)
			 RETURNING id, created_at, updated_at`,
			table.Name,
			displayNameOr(table.DisplayName, table.Name),
			table.Description,
		).Scan(&created.ID, &created.CreatedAt, &updatedAt)
		if err != nil {
			return fmt.Errorf("insert table: %w", err)
		}
		created.DisplayName = displayNameOr(table.DisplayName, table.Name)
		created.UpdatedAt = timestamptzPtr(updatedAt)

		created.Fields = make([]domain.Field, 0, len(table.Fields))
		for position, field := range table.Fields {
			options, err := marshalOptions(field.Options)
			if err != nil {
				return fmt.Errorf("marshal options of field %s: %w", field.Name, err)
			}
			field.DisplayName = displayNameOr(field.DisplayName, field.Name)
			if err := tx.QueryRow(
				ctx,
				`INSERT INTO fields (table_id, name, display_name, field_type, options, required, position)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 RETURNING id`,
				created.ID,
				field.Name,
				field.DisplayName,
				string(field.Type),
				options,
				field.Required,
				position,
			).Scan(&field.ID); err != nil {
				return fmt.Errorf("insert field %s: %w", field.Name, err)
			}
			created.Fields = append(created.Fields, field)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Table{}, fmt.Errorf("table %q: %w", table.Name, domain.ErrConflict)
		}
		return domain.Table{}, fmt.Errorf("failed to create table: %w", err)
	}
	return created, nil
}

// GetTable retrieves a table and its fields by name
func (r *tableRepository) GetTable(ctx context.Context, name string) (domain.Table, error) {
	var (
		table     domain.Table
		updatedAt pgtype.Timestamptz
	)
	err := r.conn.Pool.QueryRow(
		ctx,
		`SELECT id, name, display_name, description, created_at, updated_at
		 FROM tables WHERE name = $1`,
		name,
	).Scan(&table.ID, &table.Name, &table.DisplayName, &table.Description, &table.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Table{}, fmt.Errorf("table %q: %w", name, domain.ErrNotFound)
		}
		return domain.Table{}, fmt.Errorf("failed to get table: %w", err)
	}
	table.UpdatedAt = timestamptzPtr(updatedAt)

	fields, err := r.listFields(ctx, table.ID)
	if err != nil {
		return domain.Table{}, err
	}
	table.Fields = fields
	return table, nil
}

// List retrieves all tables ordered by name
func (r *tableRepository) List(ctx context.Context) ([]domain.Table, error) {
	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT name FROM tables ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan tables: %w", err)
	}

	tables := make([]domain.Table, 0, len(names))
	for _, name := range names {
		table, err := r.GetTable(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// GetRecords returns the table's rows as a pipeline record set
func (r *tableRepository) GetRecords(ctx context.Context, tableName string) (domain.RecordSet, error) {
	rows, err := r.ListRecords(ctx, tableName)
	if err != nil {
		return domain.RecordSet{}, err
	}
	return domain.RecordSetFromStored(rows), nil
}

// ListRecords returns every stored row of the table in insertion order
func (r *tableRepository) ListRecords(ctx context.Context, tableName string) ([]domain.StoredRecord, error) {
	table, err := r.GetTable(ctx, tableName)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT id, table_id, data, created_at, updated_at
		 FROM records WHERE table_id = $1
		 ORDER BY id`,
		table.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []domain.StoredRecord{}
	for rows.Next() {
		var (
			record    domain.StoredRecord
			data      []byte
			updatedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(&record.ID, &record.TableID, &data, &record.CreatedAt, &updatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan record: %w", scanErr)
		}
		if err := json.Unmarshal(data, &record.Data); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", record.ID, err)
		}
		record.UpdatedAt = timestamptzPtr(updatedAt)
		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", rowsErr)
	}
	return records, nil
}

// InsertRecord appends a row to the table
func (r *tableRepository) InsertRecord(ctx context.Context, tableName string, data map[string]any) (domain.StoredRecord, error) {
	table, err := r.GetTable(ctx, tableName)
	if err != nil {
		return domain.StoredRecord{}, err
	}
	if err := validateRecord(table, data); err != nil {
		return domain.StoredRecord{}, err
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return domain.StoredRecord{}, fmt.Errorf("encode record: %w", err)
	}

	record := domain.StoredRecord{TableID: table.ID, Data: copyData(data)}
	err = r.conn.Pool.QueryRow(
		ctx,
		`INSERT INTO records (table_id, data) VALUES ($1, $2)
		 RETURNING id, created_at`,
		table.ID,
		encoded,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return domain.StoredRecord{}, fmt.Errorf("failed to insert record: %w", err)
	}
	return record, nil
}

// UpdateRecord replaces a record's data
func (r *tableRepository) UpdateRecord(ctx context.Context, tableName string, id int64, data map[string]any) (domain.StoredRecord, error) {
	table, err := r.GetTable(ctx, tableName)
	if err != nil {
		return domain.StoredRecord{}, err
	}
	if err := validateRecord(table, data); err != nil {
		return domain.StoredRecord{}, err
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return domain.StoredRecord{}, fmt.Errorf("encode record: %w", err)
	}

	record := domain.StoredRecord{ID: id, TableID: table.ID, Data: copyData(data)}
	var updatedAt pgtype.Timestamptz
	err = r.conn.Pool.QueryRow(
		ctx,
		`UPDATE records SET data = $3, updated_at = now()
		 WHERE id = $1 AND table_id = $2
		 RETURNING created_at, updated_at`,
		id,
		table.ID,
		encoded,
	).Scan(&record.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredRecord{}, fmt.Errorf("record %d of table %q: %w", id, tableName, domain.ErrNotFound)
		}
		return domain.StoredRecord{}, fmt.Errorf("failed to update record: %w", err)
	}
	record.UpdatedAt = timestamptzPtr(updatedAt)
	return record, nil
}

// DeleteRecord removes one record of the named table
func (r *tableRepository) DeleteRecord(ctx context.Context, tableName string, id int64) error {
	tag, err := r.conn.Pool.Exec(
		ctx,
		`DELETE FROM records r USING tables t
		 WHERE r.table_id = t.id AND t.name = $1 AND r.id = $2`,
		tableName,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d of table %q: %w", id, tableName, domain.ErrNotFound)
	}
	return nil
}

// Delete drops a table; fields and records go with it through the foreign keys
func (r *tableRepository) Delete(ctx context.Context, name string) error {
	tag, err := r.conn.Pool.Exec(ctx, `DELETE FROM tables WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("table %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

// AddField appends a field after the existing ones
func (r *tableRepository) AddField(ctx context.Context, tableName string, field domain.Field) (domain.Field, error) {
	if err := validateField(field); err != nil {
		return domain.Field{}, err
	}
	options, err := marshalOptions(field.Options)
	if err != nil {
		return domain.Field{}, fmt.Errorf("marshal options of field %s: %w", field.Name, err)
	}
	field.DisplayName = displayNameOr(field.DisplayName, field.Name)

	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var tableID int64
		err := tx.QueryRow(
			ctx,
			`UPDATE tables SET updated_at = now() WHERE name = $1 RETURNING id`,
			tableName,
		).Scan(&tableID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("table %q: %w", tableName, domain.ErrNotFound)
			}
			return fmt.Errorf("touch table: %w", err)
		}
		return tx.QueryRow(
			ctx,
			`INSERT INTO fields (table_id, name, display_name, field_type, options, required, position)
			 VALUES ($1, $2, $3, $4, $5, $6,
			         (SELECT COALESCE(MAX(position) + 1, 0) FROM fields WHERE table_id = $1))
			 RETURNING id`,
			tableID,
			field.Name,
			field.DisplayName,
			string(field.Type),
			options,
			field.Required,
		).Scan(&field.ID)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Field{}, fmt.Errorf("field %q of table %q: %w", field.Name, tableName, domain.ErrConflict)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Field{}, err
		}
		return domain.Field{}, fmt.Errorf("failed to add field: %w", err)
	}
	return field, nil
}

// UpdateField changes the display name or required flag of a field
func (r *tableRepository) UpdateField(ctx context.Context, tableName, fieldName string, update domain.FieldUpdate) (domain.Field, error) {
	if err := validateFieldUpdate(update); err != nil {
		return domain.Field{}, err
	}
	var (
		field     domain.Field
		fieldType string
		options   []byte
	)
	err := r.conn.Pool.QueryRow(
		ctx,
		`UPDATE fields f
		 SET display_name = COALESCE($3, f.display_name),
		     required = COALESCE($4, f.required)
		 FROM tables t
		 WHERE f.table_id = t.id AND t.name = $1 AND f.name = $2
		 RETURNING f.id, f.name, f.display_name, f.field_type, f.options, f.required`,
		tableName,
		fieldName,
		update.DisplayName,
		update.Required,
	).Scan(&field.ID, &field.Name, &field.DisplayName, &fieldType, &options, &field.Required)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Field{}, fmt.Errorf("field %q of table %q: %w", fieldName, tableName, domain.ErrNotFound)
		}
		return domain.Field{}, fmt.Errorf("failed to update field: %w", err)
	}
	field.Type = domain.FieldType(fieldType)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &field.Options); err != nil {
			return domain.Field{}, fmt.Errorf("decode options of field %s: %w", field.Name, err)
		}
	}
	return field, nil
}

// DeleteField removes a field definition
func (r *tableRepository) DeleteField(ctx context.Context, tableName, fieldName string) error {
	tag, err := r.conn.Pool.Exec(
		ctx,
		`DELETE FROM fields f USING tables t
		 WHERE f.table_id = t.id AND t.name = $1 AND f.name = $2`,
		tableName,
		fieldName,
	)
	if err != nil {
		return fmt.Errorf("failed to delete field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("field %q of table %q: %w", fieldName, tableName, domain.ErrNotFound)
	}
	return nil
}

// Counts returns the number of tables and of records across all tables
func (r *tableRepository) Counts(ctx context.Context) (tables, records int64, err error) {
	err = r.conn.Pool.QueryRow(
		ctx,
		`SELECT (SELECT COUNT(*) FROM tables), (SELECT COUNT(*) FROM records)`,
	).Scan(&tables, &records)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count tables: %w", err)
	}
	return tables, records, nil
}

func (r *tableRepository) listFields(ctx context.Context, tableID int64) ([]domain.Field, error) {
	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT id, name, display_name, field_type, options, required
		 FROM fields WHERE table_id = $1
		 ORDER BY position, id`,
		tableID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer rows.Close()

	fields := []domain.Field{}
	for rows.Next() {
		var (
			field     domain.Field
			fieldType string
			options   []byte
		)
		if scanErr := rows.Scan(&field.ID, &field.Name, &field.DisplayName, &fieldType, &options, &field.Required); scanErr != nil {
			return nil, fmt.Errorf("failed to scan field: %w", scanErr)
		}
		field.Type = domain.FieldType(fieldType)
		if len(options) > 0 {
			if err := json.Unmarshal(options, &field.Options); err != nil {
				return nil, fmt.Errorf("decode options of field %s: %w", field.Name, err)
			}
		}
		fields = append(fields, field)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate fields: %w", rowsErr)
	}
	return fields, nil
}

func marshalOptions(options map[string]any) ([]byte, error) {
	if len(options) == 0 {
		return nil, nil
	}
	return json.Marshal(options)
}

func timestamptzPtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	value := ts.Time
	return &value
}

func displayNameOr(displayName, name string) string {
	if strings.TrimSpace(displayName) != "" {
		return displayName
	}
	return name
}
