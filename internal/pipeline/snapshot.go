package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/canvasdb/internal/domain"
)

const snapshotFetchConcurrency = 4

// snapshot reads each table at most once per run. The dataloader cache is
// scoped to the run, so every node referencing a table sees the same rows.
type snapshot struct {
	loader *dataloader.Loader
}

func newSnapshot(store TableStore, wait time.Duration) *snapshot {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		var group errgroup.Group
		group.SetLimit(snapshotFetchConcurrency)
		for i, key := range keys {
			i, name := i, key.String()
			group.Go(func() error {
				set, err := readTable(ctx, store, name)
				results[i] = &dataloader.Result{Data: set, Error: err}
				return nil
			})
		}
		_ = group.Wait()
		return results
	}
	return &snapshot{loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))}
}

func readTable(ctx context.Context, store TableStore, name string) (domain.RecordSet, error) {
	table, err := store.GetTable(ctx, name)
	if err != nil {
		return domain.RecordSet{}, fmt.Errorf("get table %s: %w", name, err)
	}
	set, err := store.GetRecords(ctx, name)
	if err != nil {
		return domain.RecordSet{}, fmt.Errorf("get records of %s: %w", name, err)
	}
	set.Columns = schemaColumns(table, set.Columns)
	return set, nil
}

// schemaColumns orders columns as id, declared fields, then anything else
// observed in the data.
func schemaColumns(table domain.Table, observed []string) []string {
	declared := make([]string, 0, len(table.Fields)+1)
	declared = append(declared, "id")
	for _, field := range table.Fields {
		declared = append(declared, field.Name)
	}
	present := make(map[string]struct{}, len(observed))
	for _, column := range observed {
		present[column] = struct{}{}
	}
	ordered := make([]string, 0, len(observed))
	for _, column := range declared {
		if _, ok := present[column]; ok {
			ordered = append(ordered, column)
		}
	}
	return mergeColumns(ordered, observed)
}

// Prefetch loads every named table in a single batch.
func (s *snapshot) Prefetch(ctx context.Context, names []string) {
	if len(names) == 0 {
		return
	}
	thunk := s.loader.LoadMany(ctx, dataloader.NewKeysFromStrings(names))
	// Failures are cached and reported by the node that reads the table.
	_, _ = thunk()
}

// Table returns a private copy of the named table's rows.
func (s *snapshot) Table(ctx context.Context, nodeID, name string) (domain.RecordSet, error) {
	thunk := s.loader.Load(ctx, dataloader.StringKey(name))
	data, err := thunk()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RecordSet{}, &domain.UnknownTableError{NodeID: nodeID, Table: name}
		}
		return domain.RecordSet{}, fmt.Errorf("load table %s: %w", name, err)
	}
	set, ok := data.(domain.RecordSet)
	if !ok {
		return domain.RecordSet{}, fmt.Errorf("load table %s: unexpected snapshot value %T", name, data)
	}
	return set.Clone(), nil
}
