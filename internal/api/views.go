package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rpattn/canvasdb/internal/domain"
)

// handleListViews lists views newest first, optionally for one canvas.
func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	var (
		views []domain.View
		err   error
	)
	if raw := r.URL.Query().Get("canvas_id"); raw != "" {
		canvasID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			writeError(w, r, invalid("invalid canvas_id %q", raw))
			return
		}
		views, err = s.store.Views.ListByCanvas(r.Context(), canvasID)
	} else {
		views, err = s.store.Views.List(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(views))
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.store.Views.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
