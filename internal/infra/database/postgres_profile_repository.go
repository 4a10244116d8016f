package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fitclub_comms/internal/domain/profile"

	"github.com/lib/pq"
)

// PostgresProfileRepository reads the profiles table maintained by the auth service.
type PostgresProfileRepository struct {
	db *sql.DB
}

func NewPostgresProfileRepository(db *sql.DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

const profileColumns = `id, org_id, full_name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(push_token, ''), role, tags, is_active, created_at, updated_at`

func scanProfile(row rowScanner) (*profile.Profile, error) {
	p := &profile.Profile{}
	err := row.Scan(&p.ID, &p.OrgID, &p.FullName, &p.Email, &p.Phone, &p.PushToken, &p.Role, pq.Array(&p.Tags), &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresProfileRepository) GetByID(ctx context.Context, id string) (*profile.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, profile.ErrNotFound
		}
		return nil, fmt.Errorf("error getting profile by ID: %w", err)
	}
	return p, nil
}

func (r *PostgresProfileRepository) ListActive(ctx context.Context, orgID string) ([]*profile.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE org_id = $1 AND is_active = TRUE ORDER BY id`
	return r.list(ctx, "active profiles", query, orgID)
}

func (r *PostgresProfileRepository) ListByIDs(ctx context.Context, orgID string, ids []string) ([]*profile.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE org_id = $1 AND id = ANY($2) ORDER BY id`
	return r.list(ctx, "profiles by IDs", query, orgID, pq.Array(ids))
}

func (r *PostgresProfileRepository) ListByRoles(ctx context.Context, orgID string, rawRoles []string) ([]*profile.Profile, error) {
	if len(rawRoles) == 0 {
		return nil, nil
	}
	query := `SELECT ` + profileColumns + ` FROM profiles
               WHERE org_id = $1 AND is_active = TRUE AND lower(btrim(role)) = ANY($2)
               ORDER BY id`
	return r.list(ctx, "profiles by roles", query, orgID, pq.Array(lowered(rawRoles)))
}

func (r *PostgresProfileRepository) ListByTags(ctx context.Context, orgID string, tags []string) ([]*profile.Profile, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	query := `SELECT ` + profileColumns + ` FROM profiles
               WHERE org_id = $1 AND is_active = TRUE
                 AND EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE lower(btrim(t)) = ANY($2))
               ORDER BY id`
	return r.list(ctx, "profiles by tags", query, orgID, pq.Array(lowered(tags)))
}

func (r *PostgresProfileRepository) list(ctx context.Context, what, query string, args ...any) ([]*profile.Profile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", what, err)
	}
	defer rows.Close()

	var profiles []*profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profile rows: %w", err)
	}
	return profiles, nil
}

func lowered(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
