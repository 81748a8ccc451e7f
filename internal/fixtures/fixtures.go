// Package fixtures loads tables, records and canvases from YAML files and
// seeds them into a repository.Store.
package fixtures

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/canvasdb/internal/domain"
	"github.com/rpattn/canvasdb/internal/repository"
)

//go:embed demo.yaml
var demoYAML []byte

// Fixture is the file format.
type Fixture struct {
	Tables   []TableFixture  `yaml:"tables"`
	Canvases []CanvasFixture `yaml:"canvases"`
}

type TableFixture struct {
	Name        string           `yaml:"name"`
	DisplayName string           `yaml:"display_name"`
	Description string           `yaml:"description"`
	Fields      []domain.Field   `yaml:"fields"`
	Records     []map[string]any `yaml:"records"`
}

type CanvasFixture struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Nodes       []NodeFixture `yaml:"nodes"`
	Edges       []domain.Edge `yaml:"edges"`
}

// NodeFixture uses the graph editor's node layout: a type name plus a free
// form data object.
type NodeFixture struct {
	ID       string           `yaml:"id" json:"id"`
	Type     string           `yaml:"type" json:"type"`
	Position *domain.Position `yaml:"position,omitempty" json:"position,omitempty"`
	Data     map[string]any   `yaml:"data" json:"data"`
}

// Demo returns the bundled demo fixture.
func Demo() (Fixture, error) {
	return Decode(bytes.NewReader(demoYAML))
}

// LoadFile reads a fixture file. An empty path selects the demo fixture.
func LoadFile(path string) (Fixture, error) {
	if path == "" {
		return Demo()
	}
	f, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a YAML fixture. Unknown keys are rejected.
func Decode(r io.Reader) (Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fixture Fixture
	if err := dec.Decode(&fixture); err != nil {
		if errors.Is(err, io.EOF) {
			return Fixture{}, nil
		}
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return fixture, nil
}

// Canvas converts the fixture into a domain canvas, decoding nodes the same
// way the API does.
func (c CanvasFixture) Canvas() (domain.Canvas, error) {
	raw, err := json.Marshal(c.Nodes)
	if err != nil {
		return domain.Canvas{}, fmt.Errorf("encode nodes of canvas %q: %w", c.Name, err)
	}
	nodes, err := domain.CanvasNodesFromJSON(raw)
	if err != nil {
		return domain.Canvas{}, fmt.Errorf("decode nodes of canvas %q: %w", c.Name, err)
	}
	edges := c.Edges
	if edges == nil {
		edges = []domain.Edge{}
	}
	return domain.Canvas{
		Name:        c.Name,
		Description: c.Description,
		Nodes:       nodes,
		Edges:       edges,
	}, nil
}

// Result counts what Seed created.
type Result struct {
	Tables   int
	Records  int
	Canvases []domain.Canvas
	Skipped  []string
}

// Seed creates the fixture's tables, records and canvases. Tables and
// canvases that already exist by name are left alone, so seeding twice is
// harmless.
func Seed(ctx context.Context, store repository.Store, fixture Fixture, logger zerolog.Logger) (Result, error) {
	var result Result

	for _, tf := range fixture.Tables {
		_, err := store.Tables.GetTable(ctx, tf.Name)
		switch {
		case err == nil:
			result.Skipped = append(result.Skipped, "table "+tf.Name)
			logger.Debug().Str("table", tf.Name).Msg("table exists, skipping")
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return result, fmt.Errorf("check table %s: %w", tf.Name, err)
		}

		if _, err := store.Tables.Create(ctx, domain.Table{
			Name:        tf.Name,
			DisplayName: tf.DisplayName,
			Description: tf.Description,
			Fields:      tf.Fields,
		}); err != nil {
			return result, fmt.Errorf("create table %s: %w", tf.Name, err)
		}
		result.Tables++

		for i, data := range tf.Records {
			if _, err := store.Tables.InsertRecord(ctx, tf.Name, data); err != nil {
				return result, fmt.Errorf("insert record %d into %s: %w", i+1, tf.Name, err)
			}
			result.Records++
		}
		logger.Info().Str("table", tf.Name).Int("records", len(tf.Records)).Msg("table seeded")
	}

	for _, cf := range fixture.Canvases {
		existing, err := store.Canvases.GetByName(ctx, cf.Name)
		switch {
		case err == nil:
			result.Skipped = append(result.Skipped, "canvas "+cf.Name)
			result.Canvases = append(result.Canvases, existing)
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return result, fmt.Errorf("check canvas %s: %w", cf.Name, err)
		}

		canvas, err := cf.Canvas()
		if err != nil {
			return result, err
		}
		created, err := store.Canvases.Create(ctx, canvas)
		if err != nil {
			return result, fmt.Errorf("create canvas %s: %w", cf.Name, err)
		}
		result.Canvases = append(result.Canvases, created)
		logger.Info().Str("canvas", created.Name).Str("canvas_id", created.ID.String()).Msg("canvas seeded")
	}

	return result, nil
}
