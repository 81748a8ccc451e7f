package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rpattn/canvasdb/internal/domain"
)

type createTableRequest struct {
	Name        string         `json:"name" validate:"required,max=63"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description"`
	Fields      []domain.Field `json:"fields"`
}

type insertRecordRequest struct {
	Data map[string]any `json:"data" validate:"required"`
}

type addFieldRequest struct {
	Name        string           `json:"name" validate:"required,max=63"`
	DisplayName string           `json:"display_name"`
	Type        domain.FieldType `json:"field_type" validate:"required"`
	Options     map[string]any   `json:"options"`
	Required    bool             `json:"required"`
}

type updateFieldRequest struct {
	DisplayName *string `json:"display_name"`
	Required    *bool   `json:"required"`
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.Tables.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tables == nil {
		tables = []domain.Table{}
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	table, err := s.store.Tables.Create(r.Context(), domain.Table{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Fields:      req.Fields,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, table)
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	table, err := s.store.Tables.GetTable(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Tables.ListRecords(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.StoredRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleInsertRecord(w http.ResponseWriter, r *http.Request) {
	var req insertRecordRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.store.Tables.InsertRecord(r.Context(), mux.Vars(r)["name"], req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Tables.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddField(w http.ResponseWriter, r *http.Request) {
	var req addFieldRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	field, err := s.store.Tables.AddField(r.Context(), mux.Vars(r)["name"], domain.Field{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Type:        req.Type,
		Options:     req.Options,
		Required:    req.Required,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, field)
}

func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var req updateFieldRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	field, err := s.store.Tables.UpdateField(r.Context(), vars["name"], vars["field"], domain.FieldUpdate{
		DisplayName: req.DisplayName,
		Required:    req.Required,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, field)
}

func (s *Server) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.Tables.DeleteField(r.Context(), vars["name"], vars["field"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateRecord replaces the record's data with the body's "data" object.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req insertRecordRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.store.Tables.UpdateRecord(r.Context(), mux.Vars(r)["name"], id, req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.Tables.DeleteRecord(r.Context(), mux.Vars(r)["name"], id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func recordID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["record_id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("invalid record identifier %q", raw)
	}
	return id, nil
}
