package merge

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-platform/capsync/internal/platform/httpx"
)

// Handler exposes the capability-name migration endpoint. The route is
// operator-only and guarded by a bcrypt-hashed admin token.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	adminTokenHash string
	validator      *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, adminTokenHash string) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		adminTokenHash: adminTokenHash,
		validator:      validator.New(),
	}
}

// MountRoutes registers migration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireAdminToken)
		r.Post("/migrations/capability-names", h.migrate)
	})
}

// MigrateRequest repoints assignments from one capability name to
// another.
type MigrateRequest struct {
	OldName string `json:"old_name" validate:"required,max=200"`
	NewName string `json:"new_name" validate:"required,max=200"`
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request) {
	var req MigrateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	err := h.service.Migrate(r.Context(), req.OldName, req.NewName)
	if err != nil {
		var migErr *MigrationError
		switch {
		case errors.Is(err, ErrInvalidArgument):
			httpx.Problem(w, http.StatusBadRequest, "Invalid argument", err.Error())
		case errors.As(err, &migErr):
			h.logger.Error("capability migration partially failed",
				slog.String("old_name", req.OldName),
				slog.String("new_name", req.NewName),
				slog.Int("failed_principals", len(migErr.Failed)),
				slog.Any("error", err))
			httpx.JSON(w, http.StatusMultiStatus, map[string]any{
				"status":            "partial",
				"failed_principals": migErr.Failed,
				"detail":            "rerun the migration to retry failed principals",
			})
		default:
			h.logger.Error("capability migration failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "complete"})
}

func (h *Handler) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || h.adminTokenHash == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "admin token required")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(h.adminTokenHash), []byte(token)); err != nil {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "admin token rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}
