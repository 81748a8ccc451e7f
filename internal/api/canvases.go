package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rpattn/canvasdb/internal/domain"
)

type createCanvasRequest struct {
	Name        string        `json:"name" validate:"required,max=200"`
	Description string        `json:"description"`
	Nodes       []domain.Node `json:"nodes"`
	Edges       []domain.Edge `json:"edges"`
}

// updateCanvasRequest replaces only the fields present in the body.
type updateCanvasRequest struct {
	Name        *string        `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string        `json:"description"`
	Nodes       *[]domain.Node `json:"nodes"`
	Edges       *[]domain.Edge `json:"edges"`
}

type executeRequest struct {
	CanvasID string `json:"canvas_id" validate:"required,uuid"`
	ViewName string `json:"view_name" validate:"max=200"`
}

type warningJSON struct {
	Code       string `json:"code"`
	NodeID     string `json:"node_id"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
}

type executeResponse struct {
	View     domain.View   `json:"view"`
	Warnings []warningJSON `json:"warnings"`
}

type dryRunResponse struct {
	Order     []string                    `json:"order"`
	Terminals []string                    `json:"terminals"`
	Outputs   map[string]domain.RecordSet `json:"outputs"`
	Warnings  []warningJSON               `json:"warnings"`
}

func warningsJSON(warnings []*domain.WebhookDeliveryError) []warningJSON {
	out := make([]warningJSON, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, warningJSON{
			Code:       w.Code(),
			NodeID:     w.NodeID,
			URL:        w.URL,
			StatusCode: w.StatusCode,
			Message:    w.Error(),
		})
	}
	return out
}

func orEmpty[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}

func (s *Server) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	canvases, err := s.store.Canvases.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(canvases))
}

func (s *Server) handleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	var req createCanvasRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	canvas, err := s.store.Canvases.Create(r.Context(), domain.Canvas{
		Name:        req.Name,
		Description: req.Description,
		Nodes:       orEmpty(req.Nodes),
		Edges:       orEmpty(req.Edges),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, canvas)
}

func (s *Server) handleGetCanvas(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	canvas, err := s.store.Canvases.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, canvas)
}

func (s *Server) handleUpdateCanvas(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateCanvasRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	canvas, err := s.store.Canvases.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name != nil {
		canvas.Name = *req.Name
	}
	if req.Description != nil {
		canvas.Description = *req.Description
	}
	if req.Nodes != nil {
		canvas.Nodes = orEmpty(*req.Nodes)
	}
	if req.Edges != nil {
		canvas.Edges = orEmpty(*req.Edges)
	}

	updated, err := s.store.Canvases.Update(r.Context(), canvas)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCanvas(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.Canvases.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecute runs a stored canvas and appends the resulting view. Webhook
// failures do not fail the request; they come back as warnings.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	canvasID, err := uuid.Parse(req.CanvasID)
	if err != nil {
		writeError(w, r, invalid("invalid canvas_id %q", req.CanvasID))
		return
	}
	result, err := s.executor.Execute(r.Context(), canvasID, req.ViewName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, executeResponse{
		View:     result.View,
		Warnings: warningsJSON(result.Warnings),
	})
}

// handleDryRun executes the stored canvas without persisting a view and
// returns every node's output.
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	canvas, err := s.store.Canvases.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := s.executor.Run(r.Context(), canvas)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dryRunResponse{
		Order:     orEmpty(run.Order),
		Terminals: orEmpty(run.Terminals),
		Outputs:   run.Outputs,
		Warnings:  warningsJSON(run.Warnings),
	})
}
