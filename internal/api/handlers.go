package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/newtab-sections/internal/logging"
	"github.com/shehryarbajwa/newtab-sections/internal/registry"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

var log = logging.ForComponent(logging.CompHTTP)

const maxActionBody = 64 << 10

// Sections is the registry surface the HTTP handlers need
type Sections interface {
	List(enabledOnly bool) []*models.Section
	Get(id string) (*models.Section, error)
	Enable(id string) error
	Disable(id string) error
	Dispatch(action string, payload any)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sections Sections
}

// NewHandler creates a new HTTP handler
func NewHandler(sections Sections) *Handler {
	return &Handler{
		sections: sections,
	}
}

// ListSections handles GET /v1/sections
func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	writeJSON(w, http.StatusOK, h.sections.List(!all))
}

// GetSection handles GET /v1/sections/{id}
func (h *Handler) GetSection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	section, err := h.sections.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, section)
}

// EnableSection handles POST /v1/sections/{id}/enable
func (h *Handler) EnableSection(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

// DisableSection handles POST /v1/sections/{id}/disable
func (h *Handler) DisableSection(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := mux.Vars(r)["id"]

	var err error
	if enabled {
		err = h.sections.Enable(id)
	} else {
		err = h.sections.Disable(id)
	}
	if errors.Is(err, registry.ErrSectionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Info("section_toggled", slog.String("section", id), slog.Bool("enabled", enabled))
	w.WriteHeader(http.StatusNoContent)
}

// DispatchAction handles POST /v1/actions/{name}. A JSON body, if present,
// becomes the action payload.
func (h *Handler) DispatchAction(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var payload any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
	if err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	h.sections.Dispatch(name, payload)
	w.WriteHeader(http.StatusAccepted)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("response_encode_failed", slog.String("error", err.Error()))
	}
}
