package profiles

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Profile is a tradesperson's public directory entry. One per user.
type Profile struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	BusinessName    string    `json:"business_name"`
	Slug            string    `json:"slug"`
	Bio             string    `json:"bio,omitempty"`
	Trades          []string  `json:"trades"`
	Postcode        string    `json:"postcode,omitempty"`
	YearsExperience int       `json:"years_experience"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type UpsertParams struct {
	UserID          uuid.UUID
	BusinessName    string
	Slug            string
	Bio             string
	Trades          []string
	Postcode        string
	YearsExperience int
}

// Upsert creates the profile on first write and updates it after. The
// slug is only assigned on insert so published links stay stable.
func (r *Repository) Upsert(ctx context.Context, p UpsertParams) (*Profile, error) {
	var out Profile
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tradesperson_profiles (
			user_id, business_name, slug, bio, trades, postcode, years_experience
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			bio = EXCLUDED.bio,
			trades = EXCLUDED.trades,
			postcode = EXCLUDED.postcode,
			years_experience = EXCLUDED.years_experience,
			updated_at = now()
		RETURNING id, user_id, business_name, slug, bio, trades, postcode, years_experience
	`, p.UserID, p.BusinessName, p.Slug, p.Bio, p.Trades, p.Postcode, p.YearsExperience)
	if err := row.Scan(&out.ID, &out.UserID, &out.BusinessName, &out.Slug, &out.Bio,
		&out.Trades, &out.Postcode, &out.YearsExperience); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Profile, error) {
	var out Profile
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, business_name, slug, bio, trades, postcode, years_experience
		FROM tradesperson_profiles WHERE slug = $1
	`, slug)
	if err := row.Scan(&out.ID, &out.UserID, &out.BusinessName, &out.Slug, &out.Bio,
		&out.Trades, &out.Postcode, &out.YearsExperience); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns directory entries, optionally filtered to a trade.
func (r *Repository) List(ctx context.Context, trade string) ([]*Profile, error) {
	query := `
		SELECT id, user_id, business_name, slug, bio, trades, postcode, years_experience
		FROM tradesperson_profiles ORDER BY business_name ASC`
	args := []any{}
	if trade != "" {
		query = `
		SELECT id, user_id, business_name, slug, bio, trades, postcode, years_experience
		FROM tradesperson_profiles WHERE $1 = ANY(trades) ORDER BY business_name ASC`
		args = append(args, trade)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.UserID, &p.BusinessName, &p.Slug, &p.Bio,
			&p.Trades, &p.Postcode, &p.YearsExperience); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}
