package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-platform/capsync/internal/endpoints"
)

const capabilityColumns = `id::text, name, permission_name, dummy, endpoints, created_at, updated_at`

func scanCapability(row pgx.Row) (*Capability, error) {
	var (
		c       Capability
		id      string
		rawEPs  []byte
	)
	if err := row.Scan(&id, &c.Name, &c.PermissionName, &c.Dummy, &rawEPs, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse capability id: %w", err)
	}
	c.ID = parsed
	if len(rawEPs) > 0 {
		if err := json.Unmarshal(rawEPs, &c.Endpoints); err != nil {
			return nil, fmt.Errorf("catalog: decode endpoints: %w", err)
		}
	}
	return &c, nil
}

func (r *repository) CapabilityByID(ctx context.Context, id uuid.UUID) (*Capability, error) {
	query := `SELECT ` + capabilityColumns + ` FROM capabilities WHERE id = $1::uuid AND NOT dummy`
	return scanCapability(r.db.QueryRow(ctx, query, id.String()))
}

func (r *repository) CapabilityByName(ctx context.Context, name string) (*Capability, error) {
	query := `SELECT ` + capabilityColumns + ` FROM capabilities WHERE name = $1 AND NOT dummy`
	return scanCapability(r.db.QueryRow(ctx, query, name))
}

// CapabilityByNameAny also matches placeholder records; the definition
// intake path uses it to replace a placeholder in place.
func (r *repository) CapabilityByNameAny(ctx context.Context, name string) (*Capability, error) {
	query := `SELECT ` + capabilityColumns + ` FROM capabilities WHERE name = $1`
	return scanCapability(r.db.QueryRow(ctx, query, name))
}

func (r *repository) capabilitiesWhere(ctx context.Context, clause string, args ...any) ([]Capability, error) {
	query := `SELECT ` + capabilityColumns + ` FROM capabilities WHERE ` + clause + ` AND NOT dummy ORDER BY name`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Capability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *repository) CapabilitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]Capability, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.capabilitiesWhere(ctx, `id = ANY($1::uuid[])`, uuidStrings(ids))
}

// CapabilitiesByNames returns every non-placeholder capability when the
// filter is empty.
func (r *repository) CapabilitiesByNames(ctx context.Context, names []string) ([]Capability, error) {
	if len(names) == 0 {
		return r.capabilitiesWhere(ctx, `TRUE`)
	}
	return r.capabilitiesWhere(ctx, `name = ANY($1::text[])`, names)
}

func (r *repository) MissingCapabilityIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return r.missingIDs(ctx, `capabilities`, ids)
}

func (r *repository) MissingSetIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return r.missingIDs(ctx, `capability_sets`, ids)
}

func (r *repository) missingIDs(ctx context.Context, table string, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT candidate::text FROM unnest($1::uuid[]) AS candidate
		WHERE NOT EXISTS (SELECT 1 FROM ` + table + ` t WHERE t.id = candidate AND NOT t.dummy)`
	rows, err := r.db.Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var missing []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

func (r *repository) InsertCapability(ctx context.Context, c Capability) error {
	eps, err := json.Marshal(c.Endpoints)
	if err != nil {
		return fmt.Errorf("catalog: encode endpoints: %w", err)
	}
	const query = `INSERT INTO capabilities (id, name, permission_name, dummy, endpoints, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5::jsonb, now(), now())`
	if _, err := r.db.Exec(ctx, query, c.ID.String(), c.Name, c.PermissionName, c.Dummy, eps); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: capability %s", ErrAlreadyExists, c.Name)
		}
		return err
	}
	return nil
}

func (r *repository) UpdateCapability(ctx context.Context, c Capability) error {
	eps, err := json.Marshal(c.Endpoints)
	if err != nil {
		return fmt.Errorf("catalog: encode endpoints: %w", err)
	}
	const query = `UPDATE capabilities
		SET permission_name = $2, dummy = $3, endpoints = $4::jsonb, updated_at = now()
		WHERE id = $1::uuid`
	tag, err := r.db.Exec(ctx, query, c.ID.String(), c.PermissionName, c.Dummy, eps)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: capability %s", ErrNotFound, c.ID)
	}
	return nil
}

func (r *repository) DeleteCapability(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM capabilities WHERE id = $1::uuid`
	_, err := r.db.Exec(ctx, query, id.String())
	return err
}

const setColumns = `id::text, name, dummy, created_at, updated_at`

func (r *repository) setsWhere(ctx context.Context, clause string, args ...any) ([]CapabilitySet, error) {
	query := `SELECT ` + setColumns + ` FROM capability_sets WHERE ` + clause + ` ORDER BY name`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []CapabilitySet
	for rows.Next() {
		var (
			s  CapabilitySet
			id string
		)
		if err := rows.Scan(&id, &s.Name, &s.Dummy, &s.CreatedAt, &s.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("catalog: parse set id: %w", err)
		}
		s.ID = parsed
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		members, err := r.setMembers(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].CapabilityIDs = members
	}
	return out, nil
}

func (r *repository) setMembers(ctx context.Context, setID uuid.UUID) ([]uuid.UUID, error) {
	const query = `SELECT capability_id::text FROM capability_set_members WHERE set_id = $1::uuid ORDER BY position`
	rows, err := r.db.Query(ctx, query, setID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (r *repository) setWhereOne(ctx context.Context, clause string, arg any) (*CapabilitySet, error) {
	sets, err := r.setsWhere(ctx, clause, arg)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, ErrNotFound
	}
	return &sets[0], nil
}

func (r *repository) SetByID(ctx context.Context, id uuid.UUID) (*CapabilitySet, error) {
	return r.setWhereOne(ctx, `id = $1::uuid AND NOT dummy`, id.String())
}

func (r *repository) SetByName(ctx context.Context, name string) (*CapabilitySet, error) {
	return r.setWhereOne(ctx, `name = $1 AND NOT dummy`, name)
}

// SetByNameAny also matches placeholder records.
func (r *repository) SetByNameAny(ctx context.Context, name string) (*CapabilitySet, error) {
	return r.setWhereOne(ctx, `name = $1`, name)
}

// SetsByIDs returns every non-placeholder set when the filter is empty.
func (r *repository) SetsByIDs(ctx context.Context, ids []uuid.UUID) ([]CapabilitySet, error) {
	if len(ids) == 0 {
		return r.setsWhere(ctx, `NOT dummy`)
	}
	return r.setsWhere(ctx, `id = ANY($1::uuid[]) AND NOT dummy`, uuidStrings(ids))
}

func (r *repository) InsertSet(ctx context.Context, s CapabilitySet) error {
	const query = `INSERT INTO capability_sets (id, name, dummy, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, now(), now())`
	if _, err := r.db.Exec(ctx, query, s.ID.String(), s.Name, s.Dummy); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: capability set %s", ErrAlreadyExists, s.Name)
		}
		return err
	}
	return r.replaceMembers(ctx, s)
}

func (r *repository) UpdateSetMembers(ctx context.Context, s CapabilitySet) error {
	const query = `UPDATE capability_sets SET dummy = $2, updated_at = now() WHERE id = $1::uuid`
	tag, err := r.db.Exec(ctx, query, s.ID.String(), s.Dummy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: capability set %s", ErrNotFound, s.ID)
	}
	return r.replaceMembers(ctx, s)
}

func (r *repository) replaceMembers(ctx context.Context, s CapabilitySet) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM capability_set_members WHERE set_id = $1::uuid`, s.ID.String()); err != nil {
		return err
	}
	const insert = `INSERT INTO capability_set_members (set_id, capability_id, position)
		VALUES ($1::uuid, $2::uuid, $3) ON CONFLICT DO NOTHING`
	for i, member := range s.CapabilityIDs {
		if _, err := r.db.Exec(ctx, insert, s.ID.String(), member.String(), i); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) DeleteSet(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM capability_set_members WHERE set_id = $1::uuid`, id.String()); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM capability_sets WHERE id = $1::uuid`, id.String())
	return err
}

func (r *repository) SetsContainingCapability(ctx context.Context, capabilityID uuid.UUID) ([]CapabilitySet, error) {
	return r.setsWhere(ctx, `id IN (SELECT set_id FROM capability_set_members WHERE capability_id = $1::uuid)`, capabilityID.String())
}

func (r *repository) RemoveCapabilityFromSets(ctx context.Context, capabilityID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM capability_set_members WHERE capability_id = $1::uuid`, capabilityID.String())
	return err
}

func (r *repository) CapabilityEndpoints(ctx context.Context, ids []uuid.UUID) ([]endpoints.Endpoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT endpoints FROM capabilities WHERE id = ANY($1::uuid[])`
	return r.collectEndpoints(ctx, query, uuidStrings(ids))
}

func (r *repository) CapabilitySetEndpoints(ctx context.Context, ids []uuid.UUID) ([]endpoints.Endpoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT c.endpoints FROM capabilities c
		JOIN capability_set_members m ON m.capability_id = c.id
		WHERE m.set_id = ANY($1::uuid[])`
	return r.collectEndpoints(ctx, query, uuidStrings(ids))
}

func (r *repository) collectEndpoints(ctx context.Context, query string, args ...any) ([]endpoints.Endpoint, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []endpoints.Endpoint
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		var eps []endpoints.Endpoint
		if err := json.Unmarshal(raw, &eps); err != nil {
			return nil, fmt.Errorf("catalog: decode endpoints: %w", err)
		}
		out = append(out, eps...)
	}
	return out, rows.Err()
}
