package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

type gainRepository struct {
	pool *pgxpool.Pool
}

func NewGainRepository(pool *pgxpool.Pool) repository.GainRepository {
	return &gainRepository{pool: pool}
}

var _ repository.GainRepository = (*gainRepository)(nil)

const gainColumns = `
	id,
	name,
	description,
	value::float8,
	quantity,
	remaining_quantity,
	is_active,
	created_at,
	updated_at
`

func (r *gainRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Gain, error) {
	query := `SELECT ` + gainColumns + ` FROM gains WHERE id = $1`

	gain, err := scanGain(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return gain, nil
}

func (r *gainRepository) List(ctx context.Context, activeOnly bool) ([]*model.Gain, error) {
	query := `SELECT ` + gainColumns + ` FROM gains`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY value DESC, name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	gains := make([]*model.Gain, 0, 8)
	for rows.Next() {
		gain, err := scanGain(rows)
		if err != nil {
			return nil, err
		}
		gains = append(gains, gain)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return gains, nil
}

func (r *gainRepository) Create(ctx context.Context, gain *model.Gain) error {
	if gain.ID == uuid.Nil {
		gain.ID = uuid.New()
	}
	now := time.Now().UTC()
	if gain.CreatedAt.IsZero() {
		gain.CreatedAt = now
	}
	gain.UpdatedAt = gain.CreatedAt

	query := `
		INSERT INTO gains (
			id, name, description, value, quantity,
			remaining_quantity, is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(
		ctx,
		query,
		gain.ID,
		gain.Name,
		gain.Description,
		gain.Value,
		gain.Quantity,
		gain.RemainingQuantity,
		gain.IsActive,
		gain.CreatedAt,
		gain.UpdatedAt,
	)
	return translateWriteError(err)
}

// Update writes the editable fields. Quantity changes shift remaining_quantity by the same
// delta inside the statement so concurrent redemptions are not lost.
func (r *gainRepository) Update(ctx context.Context, gain *model.Gain) error {
	query := `
		UPDATE gains
		SET name = $2,
			description = $3,
			value = $4,
			remaining_quantity = remaining_quantity + ($5 - quantity),
			quantity = $5,
			is_active = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + gainColumns

	updated, err := scanGain(r.pool.QueryRow(
		ctx,
		query,
		gain.ID,
		gain.Name,
		gain.Description,
		gain.Value,
		gain.Quantity,
		gain.IsActive,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return translateWriteError(err)
	}

	*gain = *updated
	return nil
}

func scanGain(src scanTarget) (*model.Gain, error) {
	gain := &model.Gain{}
	err := src.Scan(
		&gain.ID,
		&gain.Name,
		&gain.Description,
		&gain.Value,
		&gain.Quantity,
		&gain.RemainingQuantity,
		&gain.IsActive,
		&gain.CreatedAt,
		&gain.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return gain, nil
}
