package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/canvasdb/internal/domain"
)

type mockViewGetter struct {
	views map[uuid.UUID]domain.View
}

func (m *mockViewGetter) GetByID(ctx context.Context, id uuid.UUID) (domain.View, error) {
	view, ok := m.views[id]
	if !ok {
		return domain.View{}, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
	}
	return view, nil
}

func sampleView() domain.View {
	return domain.View{
		ID:   uuid.New(),
		Name: "Demo Canvas @ 2026-10-18T12:00:00Z",
		Data: domain.NewRecordSet([]domain.Record{
			{"id": int64(1), "sku": "TS-RED-S", "available": float64(12.5)},
			{"id": int64(2), "sku": "JN-BLU-32", "available": nil, "note": "back, \"soon\""},
		}),
		Columns:   []string{"id", "sku", "available", "note"},
		CreatedAt: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
}

func TestRender_CSV(t *testing.T) {
	view := sampleView()
	file, err := NewService(nil).Render(view, FormatCSV)
	if err != nil {
		t.Fatalf("render csv: %v", err)
	}
	if file.Name != "demo-canvas-2026-10-18t12-00-00z-20261018-120000.csv" {
		t.Fatalf("unexpected file name %q", file.Name)
	}

	rows, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	want := [][]string{
		{"id", "sku", "available", "note"},
		{"1", "TS-RED-S", "12.5", ""},
		{"2", "JN-BLU-32", "", "back, \"soon\""},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i := range want {
		if strings.Join(rows[i], "|") != strings.Join(want[i], "|") {
			t.Fatalf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestRender_XLSX(t *testing.T) {
	view := sampleView()
	file, err := NewService(nil, WithSheetName("Inventory")).Render(view, FormatXLSX)
	if err != nil {
		t.Fatalf("render xlsx: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(file.Data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Inventory")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][1] != "sku" || rows[1][1] != "TS-RED-S" || rows[1][2] != "12.5" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatCSV {
		t.Fatalf("empty format should default to csv")
	}
	if f, err := ParseFormat("XLSX"); err != nil || f != FormatXLSX {
		t.Fatalf("expected xlsx, got %q, %v", f, err)
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSanitizeFileComponent(t *testing.T) {
	tests := map[string]string{
		"  Stock Check ": "stock-check",
		"a//b":           "a-b",
		"***":            "view",
		"ok_name-1":      "ok_name-1",
	}
	for input, want := range tests {
		if got := sanitizeFileComponent(input); got != want {
			t.Errorf("sanitizeFileComponent(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestHTTPHandler(t *testing.T) {
	view := sampleView()
	service := NewService(&mockViewGetter{views: map[uuid.UUID]domain.View{view.ID: view}})

	router := mux.NewRouter()
	router.Handle("/api/view/{id}/export", NewHTTPHandler(service))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/view/"+view.ID.String()+"/export?format=csv", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), ".csv") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/view/"+uuid.NewString()+"/export", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/view/not-a-uuid/export", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/view/"+view.ID.String()+"/export?format=pdf", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad format, got %d", rec.Code)
	}
}

func TestHTTPHandler_ErrorWriter(t *testing.T) {
	service := NewService(&mockViewGetter{views: map[uuid.UUID]domain.View{}})
	var got error
	router := mux.NewRouter()
	router.Handle("/api/view/{id}/export", NewHTTPHandler(service, WithErrorWriter(func(w http.ResponseWriter, _ *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/view/"+uuid.NewString()+"/export?format=pdf", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected custom writer status, got %d", rec.Code)
	}
	if !errors.Is(got, domain.ErrInvalid) || !errors.Is(got, ErrUnsupportedFormat) {
		t.Fatalf("expected invalid format error, got %v", got)
	}
}
