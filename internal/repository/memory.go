package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/canvasdb/internal/domain"
)

// NewMemoryStore returns process-local repositories. Every read and write
// copies, so callers never share state with the store.
func NewMemoryStore() Store {
	clock := time.Now
	canvases := &memoryCanvasRepository{canvases: make(map[uuid.UUID]domain.Canvas), now: clock}
	views := &memoryViewRepository{views: make(map[uuid.UUID]domain.View), canvases: canvases, now: clock}
	canvases.onDelete = views.deleteByCanvas
	return Store{
		Tables:   &memoryTableRepository{tables: make(map[string]*memoryTable), now: clock},
		Canvases: canvases,
		Views:    views,
	}
}

type memoryTable struct {
	table   domain.Table
	records []domain.StoredRecord
}

type memoryTableRepository struct {
	mu       sync.RWMutex
	tables   map[string]*memoryTable
	nextID   int64
	recordID int64
	now      func() time.Time
}

func (r *memoryTableRepository) Create(_ context.Context, table domain.Table) (domain.Table, error) {
	if err := validateTable(table); err != nil {
		return domain.Table{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[table.Name]; exists {
		return domain.Table{}, fmt.Errorf("table %q: %w", table.Name, domain.ErrConflict)
	}
	r.nextID++
	created := cloneTable(table)
	created.ID = r.nextID
	created.DisplayName = displayNameOr(table.DisplayName, table.Name)
	created.CreatedAt = r.now().UTC()
	created.UpdatedAt = nil
	for i := range created.Fields {
		created.Fields[i].ID = int64(i + 1)
		created.Fields[i].DisplayName = displayNameOr(created.Fields[i].DisplayName, created.Fields[i].Name)
	}
	r.tables[table.Name] = &memoryTable{table: created}
	return cloneTable(created), nil
}

func (r *memoryTableRepository) GetTable(_ context.Context, name string) (domain.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tables[name]
	if !ok {
		return domain.Table{}, fmt.Errorf("table %q: %w", name, domain.ErrNotFound)
	}
	return cloneTable(entry.table), nil
}

func (r *memoryTableRepository) List(_ context.Context) ([]domain.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tables := make([]domain.Table, 0, len(r.tables))
	for _, entry := range r.tables {
		tables = append(tables, cloneTable(entry.table))
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

func (r *memoryTableRepository) GetRecords(ctx context.Context, tableName string) (domain.RecordSet, error) {
	rows, err := r.ListRecords(ctx, tableName)
	if err != nil {
		return domain.RecordSet{}, err
	}
	return domain.RecordSetFromStored(rows), nil
}

func (r *memoryTableRepository) ListRecords(_ context.Context, tableName string) ([]domain.StoredRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", tableName, domain.ErrNotFound)
	}
	records := make([]domain.StoredRecord, 0, len(entry.records))
	for _, record := range entry.records {
		record.Data = copyData(record.Data)
		records = append(records, record)
	}
	return records, nil
}

func (r *memoryTableRepository) InsertRecord(_ context.Context, tableName string, data map[string]any) (domain.StoredRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tables[tableName]
	if !ok {
		return domain.StoredRecord{}, fmt.Errorf("table %q: %w", tableName, domain.ErrNotFound)
	}
	if err := validateRecord(entry.table, data); err != nil {
		return domain.StoredRecord{}, err
	}
	r.recordID++
	record := domain.StoredRecord{
		ID:        r.recordID,
		TableID:   entry.table.ID,
		Data:      copyData(data),
		CreatedAt: r.now().UTC(),
	}
	entry.records = append(entry.records, record)

	record.Data = copyData(record.Data)
	return record, nil
}

func (r *memoryTableRepository) UpdateRecord(_ context.Context, tableName string, id int64, data map[string]any) (domain.StoredRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tables[tableName]
	if !ok {
		return domain.StoredRecord{}, fmt.Errorf("table %q: %w", tableName, domain.ErrNotFound)
	}
	at := entry.recordIndex(id)
	if at < 0 {
		return domain.StoredRecord{}, fmt.Errorf("record %d of table %q: %w", id, tableName, domain.ErrNotFound)
	}
	if err := validateRecord(entry.table, data); err != nil {
		return domain.StoredRecord{}, err
	}
	now := r.now().UTC()
	record := entry.records[at]
	record.Data = copyData(data)
	record.UpdatedAt = &now
	entry.records[at] = record

	record.Data = copyData(record.Data)
	return record, nil
}

func (r *memoryTableRepository) DeleteRecord(_ context.Context, tableName string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tables[tableName]
	if !ok {
		return fmt.Errorf("table %q: %w", tableName, domain.ErrNotFound)
	}
	at := entry.recordIndex(id)
	if at < 0 {
		return fmt.Errorf("record %d of table %q: %w", id, tableName, domain.ErrNotFound)
	}
	entry.records = append(entry.records[:at], entry.records[at+1:]...)
	return nil
}

func (r *memoryTableRepository) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tables[name]; !ok {
		return fmt.Errorf("table %q: %w", name, domain.ErrNotFound)
	}
	delete(r.tables, name)
	return nil
}

func (r *memoryTableRepository) AddField(_ context.Context, tableName string, field domain.Field) (domain.Field, error) {
	if err := validateField(field); err != nil {
		return domain.Field{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tables[tableName]
	if !ok {
		return domain.Field{}, fmt.Errorf("table %q: %w", tableName, domain.ErrNotFound)
	}
	var lastID int64
	for _, existing := range entry.table.Fields {
		if existing.Name == field.Name {
			return domain.Field{}, fmt.Errorf("field %q of table %q: %w", field.Name, tableName, domain.ErrConflict)
		}
		lastID = max(lastID, existing.ID)
	}
	added := cloneTable(domain.Table{Fields: []domain.Field{field}}).Fields[0]
	added.ID = lastID + 1
	added.DisplayName = displayNameOr(added.DisplayName, added.Name)
	now := r.now().UTC()
	entry.table.Fields = append(entry.table.Fields, added)
	entry.table.UpdatedAt = &now
	return cloneTable(domain.Table{Fields: []domain.Field{added}}).Fields[0], nil
}

func (r *memoryTableRepository) UpdateField(_ context.Context, tableName, fieldName string, update domain.FieldUpdate) (domain.Field, error) {
	if err := validateFieldUpdate(update); err != nil {
		return domain.Field{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tables[tableName]
	if !ok {
		return domain.Field{}, fmt.Errorf("table %q: %w", tableName, domain.ErrNotFound)
	}
	for i := range entry.table.Fields {
		field := &entry.table.Fields[i]
		if field.Name != fieldName {
			continue
		}
		if update.DisplayName != nil {
			field.DisplayName = *update.DisplayName
		}
		if update.Required != nil {
			field.Required = *update.Required
		}
		return cloneTable(domain.Table{Fields: []domain.Field{*field}}).Fields[0], nil
	}
	return domain.Field{}, fmt.Errorf("field %q of table %q: %w", fieldName, tableName, domain.ErrNotFound)
}

func (r *memoryTableRepository) DeleteField(_ context.Context, tableName, fieldName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tables[tableName]
	if !ok {
		return fmt.Errorf("table %q: %w", tableName, domain.ErrNotFound)
	}
	for i, field := range entry.table.Fields {
		if field.Name == fieldName {
			entry.table.Fields = append(entry.table.Fields[:i], entry.table.Fields[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("field %q of table %q: %w", fieldName, tableName, domain.ErrNotFound)
}

func (r *memoryTableRepository) Counts(context.Context) (tables, records int64, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.tables {
		records += int64(len(entry.records))
	}
	return int64(len(r.tables)), records, nil
}

func (t *memoryTable) recordIndex(id int64) int {
	for i, record := range t.records {
		if record.ID == id {
			return i
		}
	}
	return -1
}

type memoryCanvasRepository struct {
	mu       sync.RWMutex
	canvases map[uuid.UUID]domain.Canvas
	now      func() time.Time
	onDelete func(uuid.UUID)
}

func (r *memoryCanvasRepository) Create(_ context.Context, canvas domain.Canvas) (domain.Canvas, error) {
	if strings.TrimSpace(canvas.Name) == "" {
		return domain.Canvas{}, fmt.Errorf("canvas name is required: %w", domain.ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if canvas.ID == uuid.Nil {
		canvas.ID = uuid.New()
	}
	if _, exists := r.canvases[canvas.ID]; exists {
		return domain.Canvas{}, fmt.Errorf("canvas %s: %w", canvas.ID, domain.ErrConflict)
	}
	created := cloneCanvas(canvas)
	created.CreatedAt = r.now().UTC()
	created.UpdatedAt = nil
	r.canvases[created.ID] = created
	return cloneCanvas(created), nil
}

func (r *memoryCanvasRepository) GetByID(_ context.Context, id uuid.UUID) (domain.Canvas, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canvas, ok := r.canvases[id]
	if !ok {
		return domain.Canvas{}, fmt.Errorf("canvas %s: %w", id, domain.ErrNotFound)
	}
	return cloneCanvas(canvas), nil
}

func (r *memoryCanvasRepository) GetByName(ctx context.Context, name string) (domain.Canvas, error) {
	canvases, err := r.List(ctx)
	if err != nil {
		return domain.Canvas{}, err
	}
	for _, canvas := range canvases {
		if canvas.Name == name {
			return canvas, nil
		}
	}
	return domain.Canvas{}, fmt.Errorf("canvas %q: %w", name, domain.ErrNotFound)
}

func (r *memoryCanvasRepository) List(_ context.Context) ([]domain.Canvas, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canvases := make([]domain.Canvas, 0, len(r.canvases))
	for _, canvas := range r.canvases {
		canvases = append(canvases, cloneCanvas(canvas))
	}
	sort.Slice(canvases, func(i, j int) bool {
		if !canvases[i].CreatedAt.Equal(canvases[j].CreatedAt) {
			return canvases[i].CreatedAt.Before(canvases[j].CreatedAt)
		}
		return canvases[i].ID.String() < canvases[j].ID.String()
	})
	return canvases, nil
}

func (r *memoryCanvasRepository) Update(_ context.Context, canvas domain.Canvas) (domain.Canvas, error) {
	if strings.TrimSpace(canvas.Name) == "" {
		return domain.Canvas{}, fmt.Errorf("canvas name is required: %w", domain.ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.canvases[canvas.ID]
	if !ok {
		return domain.Canvas{}, fmt.Errorf("canvas %s: %w", canvas.ID, domain.ErrNotFound)
	}
	updated := cloneCanvas(canvas)
	updated.CreatedAt = existing.CreatedAt
	now := r.now().UTC()
	updated.UpdatedAt = &now
	r.canvases[updated.ID] = updated
	return cloneCanvas(updated), nil
}

// Delete removes the canvas together with its views, like the foreign key
// cascade in Postgres. Locks are always taken canvas first, then views.
func (r *memoryCanvasRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.canvases[id]; !ok {
		return fmt.Errorf("canvas %s: %w", id, domain.ErrNotFound)
	}
	delete(r.canvases, id)
	if r.onDelete != nil {
		r.onDelete(id)
	}
	return nil
}

func (r *memoryCanvasRepository) Count(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.canvases)), nil
}

type memoryViewRepository struct {
	mu       sync.RWMutex
	views    map[uuid.UUID]domain.View
	order    []uuid.UUID
	canvases *memoryCanvasRepository
	now      func() time.Time
}

func (r *memoryViewRepository) Create(_ context.Context, view domain.View) (domain.View, error) {
	// The canvas lock is held until the view is stored so a concurrent
	// Delete cannot cascade in between.
	if r.canvases != nil {
		r.canvases.mu.RLock()
		defer r.canvases.mu.RUnlock()
		if _, ok := r.canvases.canvases[view.CanvasID]; !ok {
			return domain.View{}, fmt.Errorf("canvas %s: %w", view.CanvasID, domain.ErrNotFound)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if view.ID == uuid.Nil {
		view.ID = uuid.New()
	}
	if _, exists := r.views[view.ID]; exists {
		return domain.View{}, fmt.Errorf("view %s: %w", view.ID, domain.ErrConflict)
	}
	if view.CreatedAt.IsZero() {
		view.CreatedAt = r.now().UTC()
	}
	stored := cloneView(view)
	r.views[stored.ID] = stored
	r.order = append(r.order, stored.ID)
	return cloneView(stored), nil
}

func (r *memoryViewRepository) GetByID(_ context.Context, id uuid.UUID) (domain.View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	view, ok := r.views[id]
	if !ok {
		return domain.View{}, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
	}
	return cloneView(view), nil
}

func (r *memoryViewRepository) List(_ context.Context) ([]domain.View, error) {
	return r.collect(func(domain.View) bool { return true }), nil
}

func (r *memoryViewRepository) ListByCanvas(_ context.Context, canvasID uuid.UUID) ([]domain.View, error) {
	return r.collect(func(view domain.View) bool { return view.CanvasID == canvasID }), nil
}

func (r *memoryViewRepository) deleteByCanvas(canvasID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0]
	for _, id := range r.order {
		if r.views[id].CanvasID == canvasID {
			delete(r.views, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *memoryViewRepository) Count(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.views)), nil
}

// collect returns matching views newest first.
func (r *memoryViewRepository) collect(match func(domain.View) bool) []domain.View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := []domain.View{}
	for i := len(r.order) - 1; i >= 0; i-- {
		view := r.views[r.order[i]]
		if match(view) {
			views = append(views, cloneView(view))
		}
	}
	return views
}

func cloneTable(table domain.Table) domain.Table {
	cloned := table
	cloned.Fields = make([]domain.Field, len(table.Fields))
	for i, field := range table.Fields {
		if field.Options != nil {
			field.Options = copyData(field.Options)
		}
		cloned.Fields[i] = field
	}
	return cloned
}

func cloneCanvas(canvas domain.Canvas) domain.Canvas {
	cloned := canvas
	cloned.Nodes = make([]domain.Node, len(canvas.Nodes))
	for i, node := range canvas.Nodes {
		cloned.Nodes[i] = cloneNode(node)
	}
	cloned.Edges = append([]domain.Edge{}, canvas.Edges...)
	return cloned
}

func cloneNode(node domain.Node) domain.Node {
	if node.Position != nil {
		position := *node.Position
		node.Position = &position
	}
	if node.Table != nil {
		config := *node.Table
		node.Table = &config
	}
	if node.Filter != nil {
		config := *node.Filter
		node.Filter = &config
	}
	if node.Join != nil {
		config := *node.Join
		node.Join = &config
	}
	if node.Webhook != nil {
		config := *node.Webhook
		node.Webhook = &config
	}
	return node
}

func cloneView(view domain.View) domain.View {
	cloned := view
	cloned.Data = view.Data.Clone()
	cloned.Columns = append([]string{}, view.Columns...)
	if view.Warnings != nil {
		cloned.Warnings = append([]string{}, view.Warnings...)
	}
	return cloned
}
