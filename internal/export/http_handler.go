package export

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/rpattn/canvasdb/internal/domain"
)

// ErrorWriter renders a failed export. Errors wrap domain.ErrInvalid for bad
// requests and domain.ErrNotFound for unknown views.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type Handler struct {
	service  *Service
	writeErr ErrorWriter
}

type HandlerOption func(*Handler)

// WithErrorWriter replaces the plain-text error responses.
func WithErrorWriter(fn ErrorWriter) HandlerOption {
	return func(h *Handler) {
		if fn != nil {
			h.writeErr = fn
		}
	}
}

// NewHTTPHandler serves GET .../{id}/export?format=csv|xlsx. The route must
// define an "id" variable.
func NewHTTPHandler(service *Service, opts ...HandlerOption) http.Handler {
	h := &Handler{service: service, writeErr: plainError}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	file, err := h.export(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	http.ServeContent(w, r, file.Name, file.ModTime, bytes.NewReader(file.Data))
}

func (h *Handler) export(r *http.Request) (File, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return File{}, fmt.Errorf("invalid view identifier %q: %w", raw, domain.ErrInvalid)
	}
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		return File{}, fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}
	return h.service.ExportView(r.Context(), id, format)
}

func plainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("view export failed")
		http.Error(w, "export failed", http.StatusInternalServerError)
	}
}
