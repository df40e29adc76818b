package assignment

import (
	"time"

	"github.com/google/uuid"
)

// CreateRequest assigns a batch of targets to one principal.
type CreateRequest struct {
	TargetIDs []uuid.UUID `json:"target_ids" validate:"required,min=1,dive,required"`
	// Safe skips targets the principal already holds instead of
	// failing the whole batch.
	Safe bool `json:"safe"`
}

// UpdateRequest replaces the principal's assignments of one target
// kind with exactly the listed targets.
type UpdateRequest struct {
	TargetIDs []uuid.UUID `json:"target_ids" validate:"dive,required"`
}

// AssignmentResponse is the wire form of one assignment row.
type AssignmentResponse struct {
	PrincipalKind string    `json:"principal_kind"`
	TargetKind    string    `json:"target_kind"`
	PrincipalID   uuid.UUID `json:"principal_id"`
	TargetID      uuid.UUID `json:"target_id"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     string    `json:"created_at"`
	UpdatedBy     string    `json:"updated_by"`
	UpdatedAt     string    `json:"updated_at"`
}

// ListResponse is a paged set of assignments.
type ListResponse struct {
	Items  []AssignmentResponse `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

func toResponse(a Assignment) AssignmentResponse {
	return AssignmentResponse{
		PrincipalKind: string(a.PrincipalKind),
		TargetKind:    string(a.TargetKind),
		PrincipalID:   a.PrincipalID,
		TargetID:      a.TargetID,
		CreatedBy:     a.CreatedBy,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedBy:     a.UpdatedBy,
		UpdatedAt:     a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toResponses(rows []Assignment) []AssignmentResponse {
	out := make([]AssignmentResponse, 0, len(rows))
	for _, a := range rows {
		out = append(out, toResponse(a))
	}
	return out
}
