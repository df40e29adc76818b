package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-platform/capsync/internal/endpoints"
	"github.com/meridian-platform/capsync/internal/platform/db"
)

var (
	// ErrNotFound indicates the capability or capability-set does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrAlreadyExists indicates a definition with the same name exists.
	ErrAlreadyExists = errors.New("catalog: already exists")
)

// Repository provides access to the capability and capability-set
// definitions. Lookups exclude placeholder (dummy) records unless the
// method name says otherwise.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	CapabilityByID(ctx context.Context, id uuid.UUID) (*Capability, error)
	CapabilityByName(ctx context.Context, name string) (*Capability, error)
	CapabilityByNameAny(ctx context.Context, name string) (*Capability, error)
	CapabilitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]Capability, error)
	CapabilitiesByNames(ctx context.Context, names []string) ([]Capability, error)
	MissingCapabilityIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	InsertCapability(ctx context.Context, c Capability) error
	UpdateCapability(ctx context.Context, c Capability) error
	DeleteCapability(ctx context.Context, id uuid.UUID) error

	SetByID(ctx context.Context, id uuid.UUID) (*CapabilitySet, error)
	SetByName(ctx context.Context, name string) (*CapabilitySet, error)
	SetByNameAny(ctx context.Context, name string) (*CapabilitySet, error)
	SetsByIDs(ctx context.Context, ids []uuid.UUID) ([]CapabilitySet, error)
	MissingSetIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	InsertSet(ctx context.Context, s CapabilitySet) error
	UpdateSetMembers(ctx context.Context, s CapabilitySet) error
	DeleteSet(ctx context.Context, id uuid.UUID) error
	SetsContainingCapability(ctx context.Context, capabilityID uuid.UUID) ([]CapabilitySet, error)
	RemoveCapabilityFromSets(ctx context.Context, capabilityID uuid.UUID) error

	// TargetEndpoints implementation consumed by the endpoint resolver.
	CapabilityEndpoints(ctx context.Context, ids []uuid.UUID) ([]endpoints.Endpoint, error)
	CapabilitySetEndpoints(ctx context.Context, ids []uuid.UUID) ([]endpoints.Endpoint, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed catalog repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
