package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/canvasdb/internal/domain"
	"github.com/rpattn/canvasdb/internal/fixtures"
	"github.com/rpattn/canvasdb/internal/pipeline"
	"github.com/rpattn/canvasdb/internal/repository"
)

// stubDoer answers every webhook with status, or fails with err when set.
type stubDoer struct {
	mu     sync.Mutex
	status int
	err    error
	bodies []string
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	d.mu.Lock()
	d.bodies = append(d.bodies, string(body))
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{StatusCode: d.status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

type testEnv struct {
	store   repository.Store
	doer    *stubDoer
	handler http.Handler
	demo    domain.Canvas
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	fixture, err := fixtures.Demo()
	require.NoError(t, err)
	seeded, err := fixtures.Seed(context.Background(), store, fixture, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, seeded.Canvases, 1)

	registry := prometheus.NewRegistry()
	doer := &stubDoer{status: http.StatusOK}
	executor := pipeline.NewExecutor(store.Tables, store.Canvases, store.Views,
		pipeline.WithWebhookSender(pipeline.NewWebhookSender(doer)),
		pipeline.WithMetrics(pipeline.NewMetrics(registry)),
	)
	server := NewServer(store, executor,
		WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &testEnv{store: store, doer: doer, handler: server.Handler(), demo: seeded.Canvases[0]}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestTables(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/tables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Table](t, rec), 4)

	rec = env.do(t, http.MethodPost, "/api/tables", map[string]any{
		"name": "orders",
		"fields": []map[string]any{
			{"name": "product_id", "field_type": "number", "required": true},
			{"name": "note", "field_type": "text"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.Table](t, rec)
	assert.Equal(t, "orders", created.Name)
	assert.Len(t, created.Fields, 2)

	rec = env.do(t, http.MethodPost, "/api/tables", map[string]any{"name": "orders"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeConflict, decodeBody[errorBody](t, rec).Error.Code)

	rec = env.do(t, http.MethodPost, "/api/tables", map[string]any{"name": "bad name"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/tables/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/tables/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeBody[errorBody](t, rec).Error.Code)
}

func TestRecords(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/t/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decodeBody[[]domain.StoredRecord](t, rec)

	rec = env.do(t, http.MethodPost, "/api/t/products", map[string]any{
		"data": map[string]any{"name": "Scarf", "base_sku": "SCF"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inserted := decodeBody[domain.StoredRecord](t, rec)
	assert.NotZero(t, inserted.ID)

	rec = env.do(t, http.MethodGet, "/api/t/products", nil)
	assert.Len(t, decodeBody[[]domain.StoredRecord](t, rec), len(before)+1)

	rec = env.do(t, http.MethodPost, "/api/t/products", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/t/products", `{"data":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/t/missing", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecords_UpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/t/products", map[string]any{
		"data": map[string]any{"name": "Scarf", "base_sku": "SCF"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inserted := decodeBody[domain.StoredRecord](t, rec)
	path := fmt.Sprintf("/api/t/products/%d", inserted.ID)

	rec = env.do(t, http.MethodPatch, path, map[string]any{
		"data": map[string]any{"name": "Wool Scarf", "base_sku": "SCF"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[domain.StoredRecord](t, rec)
	assert.Equal(t, inserted.ID, updated.ID)
	assert.Equal(t, "Wool Scarf", updated.Data["name"])
	assert.NotNil(t, updated.UpdatedAt)

	rec = env.do(t, http.MethodPatch, path, map[string]any{"data": map[string]any{"name": "No SKU"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/t/products/999999", map[string]any{
		"data": map[string]any{"name": "x", "base_sku": "x"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/t/products", nil)
	for _, record := range decodeBody[[]domain.StoredRecord](t, rec) {
		assert.NotEqual(t, inserted.ID, record.ID)
	}

	rec = env.do(t, http.MethodDelete, "/api/t/products/abc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "non-numeric ids do not match the route")
}

func TestTableFieldsAndDelete(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/tables/products/fields", map[string]any{
		"name": "season", "field_type": "select", "options": map[string]any{"choices": []string{"summer", "winter"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	field := decodeBody[domain.Field](t, rec)
	assert.Equal(t, "season", field.DisplayName)
	assert.Equal(t, domain.FieldTypeSelect, field.Type)

	rec = env.do(t, http.MethodPost, "/api/tables/products/fields", map[string]any{"name": "season", "field_type": "text"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/tables/products/fields", map[string]any{"name": "season2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/tables/products/fields/season", map[string]any{"display_name": "Season", "required": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	field = decodeBody[domain.Field](t, rec)
	assert.Equal(t, "Season", field.DisplayName)
	assert.True(t, field.Required)

	rec = env.do(t, http.MethodPatch, "/api/tables/products/fields/nope", map[string]any{"required": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/tables/products/fields/season", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/tables/products", nil)
	_, ok := decodeBody[domain.Table](t, rec).FieldByName("season")
	assert.False(t, ok)

	rec = env.do(t, http.MethodDelete, "/api/tables/products", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/t/products", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/tables/products", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decodeBody[domain.Stats](t, rec)
	assert.Equal(t, int64(4), before.Tables)
	assert.Equal(t, int64(1), before.Canvases)
	assert.Positive(t, before.Records)

	rec = env.do(t, http.MethodPost, "/api/t/products", map[string]any{
		"data": map[string]any{"name": "Scarf", "base_sku": "SCF"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/canvases/execute", map[string]any{"canvas_id": env.demo.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/stats", nil)
	after := decodeBody[domain.Stats](t, rec)
	assert.Equal(t, before.Records+1, after.Records)
	assert.Equal(t, before.Views+1, after.Views)
}

func TestImportThenJoin(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "orders.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("product_id,qty\n1,2\n3,1\n9,4\n"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/t/orders/import", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	canvas, err := env.store.Canvases.Create(context.Background(), domain.Canvas{
		Name: "orders with products",
		Nodes: []domain.Node{
			{ID: "orders", Kind: domain.NodeKindTable, Table: &domain.TableNodeConfig{TableName: "orders"}},
			{ID: "join", Kind: domain.NodeKindJoin, Join: &domain.JoinNodeConfig{
				JoinTable: "products", JoinField: "product_id", TargetField: "id",
			}},
		},
		Edges: []domain.Edge{{Source: "orders", Target: "join"}},
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/canvases/"+canvas.ID.String()+"/dry-run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[dryRunResponse](t, rec)
	joined := resp.Outputs["join"]
	require.Equal(t, 2, joined.Len())
	assert.Equal(t, "T-Shirt", joined.Records[0]["name"])
	assert.Equal(t, "Sneakers", joined.Records[1]["name"])
}

func TestCanvasLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/canvases", `{
		"name": "Cheap products",
		"nodes": [
			{"id": "t1", "type": "tableNode", "position": {"x": 0, "y": 0}, "data": {"tableName": "products"}},
			{"id": "f1", "type": "filterNode", "data": {"condition": "price < 30"}}
		],
		"edges": [{"id": "e1", "source": "t1", "target": "f1", "sourceHandle": "out", "animated": true}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	canvas := decodeBody[domain.Canvas](t, rec)
	require.NotEqual(t, uuid.Nil, canvas.ID)
	require.Len(t, canvas.Nodes, 2)
	assert.Equal(t, domain.NodeKindFilter, canvas.Nodes[1].Kind)

	path := "/api/canvases/" + canvas.ID.String()

	rec = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, path, map[string]any{"name": "Budget products"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[domain.Canvas](t, rec)
	assert.Equal(t, "Budget products", updated.Name)
	assert.Len(t, updated.Nodes, 2)
	assert.NotNil(t, updated.UpdatedAt)

	rec = env.do(t, http.MethodPatch, path, map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/canvases", nil)
	assert.Len(t, decodeBody[[]domain.Canvas](t, rec), 2)

	rec = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/canvases/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecute_DemoCanvas(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/canvases/execute", map[string]any{
		"canvas_id": env.demo.ID.String(),
		"view_name": "Stock check",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[executeResponse](t, rec)
	assert.Equal(t, "Stock check", resp.View.Name)
	assert.Equal(t, env.demo.ID, resp.View.CanvasID)
	assert.Equal(t, 3, resp.View.Data.Len())
	assert.Empty(t, resp.Warnings)
	require.Len(t, env.doer.bodies, 1)
	assert.True(t, strings.HasPrefix(env.doer.bodies[0], "["))

	rec = env.do(t, http.MethodGet, "/api/view/"+resp.View.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decodeBody[domain.View](t, rec)
	assert.Equal(t, resp.View.Data.Len(), stored.Data.Len())

	rec = env.do(t, http.MethodGet, "/api/view/"+resp.View.ID.String()+"/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 4)
}

func TestExecute_WebhookFailureIsWarning(t *testing.T) {
	env := newTestEnv(t)
	env.doer.err = errors.New("connection refused")

	rec := env.do(t, http.MethodPost, "/api/canvases/execute", map[string]any{"canvas_id": env.demo.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[executeResponse](t, rec)
	assert.Equal(t, 3, resp.View.Data.Len())
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, domain.CodeWebhookDelivery, resp.Warnings[0].Code)
	assert.Equal(t, "webhook-1", resp.Warnings[0].NodeID)
	assert.True(t, strings.HasPrefix(resp.View.Name, env.demo.Name+" @ "))
}

func TestExecute_Errors(t *testing.T) {
	env := newTestEnv(t)

	cyclic, err := env.store.Canvases.Create(context.Background(), domain.Canvas{
		Name: "loop",
		Nodes: []domain.Node{
			{ID: "a", Kind: domain.NodeKindFilter, Filter: &domain.FilterNodeConfig{Condition: "x > 1"}},
			{ID: "b", Kind: domain.NodeKindFilter, Filter: &domain.FilterNodeConfig{Condition: "x > 1"}},
		},
		Edges: []domain.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/canvases/execute", map[string]any{"canvas_id": cyclic.ID.String()})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.CodeCyclicGraph, decodeBody[errorBody](t, rec).Error.Code)

	views, err := env.store.Views.ListByCanvas(context.Background(), cyclic.ID)
	require.NoError(t, err)
	assert.Empty(t, views)

	rec = env.do(t, http.MethodPost, "/api/canvases/execute", map[string]any{"canvas_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/canvases/execute", map[string]any{"canvas_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/canvases/execute", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDryRun_PersistsNothing(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/canvases/"+env.demo.ID.String()+"/dry-run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[dryRunResponse](t, rec)
	assert.Equal(t, []string{"table-1", "filter-1", "webhook-1"}, resp.Order)
	assert.Equal(t, []string{"webhook-1"}, resp.Terminals)
	assert.Equal(t, 3, resp.Outputs["filter-1"].Len())

	views, err := env.store.Views.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestViews_ListByCanvas(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/canvases/execute", map[string]any{"canvas_id": env.demo.ID.String()})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/views?canvas_id="+env.demo.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.View](t, rec), 2)

	rec = env.do(t, http.MethodGet, "/api/views?canvas_id="+uuid.NewString(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]domain.View](t, rec))

	rec = env.do(t, http.MethodGet, "/api/views?canvas_id=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/view/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/canvases/execute", map[string]any{"canvas_id": env.demo.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pipeline_runs_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.UnknownTableError{NodeID: "t", Table: "x"}, http.StatusUnprocessableEntity, domain.CodeUnknownTable},
		{errors.Join(domain.ErrNotFound, &domain.MissingInputError{NodeID: "f"}), http.StatusUnprocessableEntity, domain.CodeMissingInput},
		{domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{domain.ErrConflict, http.StatusConflict, CodeConflict},
		{invalid("bad"), http.StatusBadRequest, CodeBadRequest},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestFileRoutes_JSONErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/view/"+uuid.NewString()+"/export", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeBody[errorBody](t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/api/view/not-a-uuid/export?format=csv", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeBadRequest, decodeBody[errorBody](t, rec).Error.Code)

	rec = env.do(t, http.MethodPost, "/api/t/orders/import", "not multipart")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeBadRequest, decodeBody[errorBody](t, rec).Error.Code)
}
