package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/platform/httpx"
)

// Handler exposes the catalog definition-intake endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/capabilities", func(r chi.Router) {
		r.Put("/", h.defineCapability)
		r.Post("/placeholders", h.createPlaceholder)
		r.Get("/", h.listCapabilities)
		r.Delete("/{id}", h.deleteCapability)
	})
	r.Route("/capability-sets", func(r chi.Router) {
		r.Put("/", h.defineSet)
		r.Get("/", h.listSets)
		r.Delete("/{id}", h.deleteSet)
	})
}

func (h *Handler) defineCapability(w http.ResponseWriter, r *http.Request) {
	var req DefineCapabilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	capability, err := h.service.DefineCapability(r.Context(), req.toDefinition())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, capability)
}

func (h *Handler) createPlaceholder(w http.ResponseWriter, r *http.Request) {
	var req PlaceholderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	capability, err := h.service.CreateCapabilityPlaceholder(r.Context(), req.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, capability)
}

// listCapabilities returns capabilities filtered by the comma-separated
// names query parameter, or every capability when no filter is given.
func (h *Handler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	var names []string
	if raw := r.URL.Query().Get("names"); raw != "" {
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	caps, err := h.service.Capabilities(r.Context(), names)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if caps == nil {
		caps = []Capability{}
	}
	httpx.JSON(w, http.StatusOK, caps)
}

func (h *Handler) deleteCapability(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid capability ID", err.Error())
		return
	}
	if err := h.service.DeleteCapability(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) defineSet(w http.ResponseWriter, r *http.Request) {
	var req DefineSetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	set, err := h.service.DefineSet(r.Context(), SetDefinition{Name: req.Name, CapabilityIDs: req.CapabilityIDs})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}

func (h *Handler) listSets(w http.ResponseWriter, r *http.Request) {
	var ids []uuid.UUID
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := uuid.Parse(strings.TrimSpace(part))
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid set ID", err.Error())
				return
			}
			ids = append(ids, id)
		}
	}
	sets, err := h.service.CapabilitySets(r.Context(), ids)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if sets == nil {
		sets = []CapabilitySet{}
	}
	httpx.JSON(w, http.StatusOK, sets)
}

func (h *Handler) deleteSet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid set ID", err.Error())
		return
	}
	if err := h.service.DeleteSet(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrAlreadyExists):
		httpx.Problem(w, http.StatusConflict, "Already exists", err.Error())
	default:
		h.logger.Error("catalog request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}
