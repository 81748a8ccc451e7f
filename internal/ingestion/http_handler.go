package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/rpattn/canvasdb/internal/domain"
)

const maxUploadBytes = 32 << 20

// ErrorWriter renders a failed upload. Errors wrap domain.ErrInvalid for bad
// input and domain.ErrConflict when the table cannot be created.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Handler exposes Import as a multipart upload endpoint.
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

// NewHTTPHandler serves POST .../{name}/import with the file in the "file"
// form field. The route must define a "name" variable.
func NewHTTPHandler(service *Service, opts ...HandlerOption) http.Handler {
	h := &Handler{service: service, writeErr: plainError}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	req, err := uploadRequest(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if file, ok := req.Data.(interface{ Close() error }); ok {
		defer file.Close()
	}

	summary, err := h.service.Import(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	status := http.StatusOK
	if summary.TableCreated {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(summary)
}

// uploadRequest reads the multipart form into a Request.
func uploadRequest(r *http.Request) (Request, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return Request{}, fmt.Errorf("invalid form data: %v: %w", err, domain.ErrInvalid)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return Request{}, fmt.Errorf("form field \"file\" is required: %w", domain.ErrInvalid)
	}

	req := Request{
		TableName:   mux.Vars(r)["name"],
		DisplayName: strings.TrimSpace(r.FormValue("display_name")),
		Description: strings.TrimSpace(r.FormValue("description")),
		FileName:    header.Filename,
		Data:        file,
	}
	if raw := strings.TrimSpace(r.FormValue("header_row")); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			_ = file.Close()
			return Request{}, fmt.Errorf("header_row %q is not an integer: %w", raw, domain.ErrInvalid)
		}
		req.HeaderRowIndex = &index
	}
	return req, nil
}

func plainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("table", mux.Vars(r)["name"]).Msg("import failed")
		http.Error(w, "import failed", http.StatusInternalServerError)
	}
}
