package assignment

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/authz"
	"github.com/meridian-platform/capsync/internal/endpoints"
	"github.com/meridian-platform/capsync/internal/platform/httpx"
)

// Expander resolves the effective endpoint list of a principal, usually
// backed by the permission cache.
type Expander interface {
	Permissions(ctx context.Context, pk PrincipalKind, principalID uuid.UUID) ([]endpoints.Endpoint, error)
}

// Handler exposes the assignment endpoints for both principal kinds and
// both target kinds.
type Handler struct {
	logger    *slog.Logger
	services  map[PrincipalKind]map[TargetKind]*Service
	expander  Expander
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, services map[PrincipalKind]map[TargetKind]*Service, expander Expander) *Handler {
	return &Handler{
		logger:    logger,
		services:  services,
		expander:  expander,
		validator: validator.New(),
	}
}

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, mount := range []struct {
		prefix string
		param  string
		pk     PrincipalKind
	}{
		{prefix: "/roles", param: "roleID", pk: PrincipalRole},
		{prefix: "/users", param: "userID", pk: PrincipalUser},
	} {
		mount := mount
		r.Route(mount.prefix+"/{"+mount.param+"}", func(r chi.Router) {
			for _, target := range []struct {
				segment string
				tk      TargetKind
			}{
				{segment: "capabilities", tk: TargetCapability},
				{segment: "capability-sets", tk: TargetCapabilitySet},
			} {
				svc := h.services[mount.pk][target.tk]
				r.Route("/"+target.segment, func(r chi.Router) {
					r.Post("/", h.create(svc, mount.param))
					r.Put("/", h.update(svc, mount.param))
					r.Get("/", h.list(svc, mount.param))
					r.Delete("/", h.deleteAll(svc, mount.param))
					r.Delete("/{targetID}", h.deleteOne(svc, mount.param))
				})
			}
			r.Get("/permissions", h.permissions(mount.pk, mount.param))
		})
	}
}

func (h *Handler) create(svc *Service, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := h.principalID(w, r, param)
		if !ok {
			return
		}
		var req CreateRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
			return
		}
		rows, err := svc.Create(r.Context(), principalID, req.TargetIDs, req.Safe)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, toResponses(rows))
	}
}

func (h *Handler) update(svc *Service, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := h.principalID(w, r, param)
		if !ok {
			return
		}
		var req UpdateRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
			return
		}
		rows, err := svc.Update(r.Context(), principalID, req.TargetIDs)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toResponses(rows))
	}
}

func (h *Handler) list(svc *Service, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := h.principalID(w, r, param)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset < 0 {
			offset = 0
		}
		rows, total, err := svc.Find(r.Context(), principalID, limit, offset)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, ListResponse{
			Items:  toResponses(rows),
			Total:  total,
			Limit:  limit,
			Offset: offset,
		})
	}
}

func (h *Handler) deleteAll(svc *Service, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := h.principalID(w, r, param)
		if !ok {
			return
		}
		if err := svc.DeleteAll(r.Context(), principalID); err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.NoContent(w)
	}
}

func (h *Handler) deleteOne(svc *Service, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := h.principalID(w, r, param)
		if !ok {
			return
		}
		targetID, err := uuid.Parse(chi.URLParam(r, "targetID"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid target ID", err.Error())
			return
		}
		if err := svc.Delete(r.Context(), principalID, targetID); err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.NoContent(w)
	}
}

func (h *Handler) permissions(pk PrincipalKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := h.principalID(w, r, param)
		if !ok {
			return
		}
		eps, err := h.expander.Permissions(r.Context(), pk, principalID)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if eps == nil {
			eps = []endpoints.Endpoint{}
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"endpoints": eps})
	}
}

func (h *Handler) principalID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid principal ID", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var remote *authz.RemoteError
	switch {
	case errors.Is(err, ErrInvalidArgument):
		httpx.Problem(w, http.StatusBadRequest, "Invalid argument", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrAlreadyExists):
		httpx.Problem(w, http.StatusConflict, "Already assigned", err.Error())
	case errors.As(err, &remote):
		h.logger.Error("authorization server call failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Authorization server unavailable", remote.Message)
	default:
		h.logger.Error("assignment request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}
