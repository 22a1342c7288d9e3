package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

type codeRepository struct {
	pool *pgxpool.Pool
}

func NewCodeRepository(pool *pgxpool.Pool) repository.CodeRepository {
	return &codeRepository{pool: pool}
}

var _ repository.CodeRepository = (*codeRepository)(nil)

const codeColumns = `
	id,
	code,
	gain_id,
	batch_id,
	is_used,
	used_by,
	used_at,
	delivered_by,
	delivered_at,
	created_by,
	created_at
`

func (r *codeRepository) FindByCode(ctx context.Context, code string) (*model.Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes WHERE code = $1`
	item, err := scanCode(r.pool.QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *codeRepository) ExistingCodes(ctx context.Context, candidates []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(candidates) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT code FROM codes WHERE code = ANY($1)`, candidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out[code] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *codeRepository) BatchCreate(ctx context.Context, codes []*model.Code) error {
	if len(codes) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		INSERT INTO codes (
			id, code, gain_id, batch_id, is_used,
			created_by, created_at
		)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6)
	`

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, item := range codes {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}

		batch.Queue(
			query,
			item.ID,
			item.Code,
			item.GainID,
			item.BatchID,
			item.CreatedBy,
			item.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range codes {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return translateWriteError(err)
		}
	}
	if err := results.Close(); err != nil {
		return translateWriteError(err)
	}

	return tx.Commit(ctx)
}

// Redeem locks the code row, flips is_used and takes one unit from the gain stock in a
// single transaction. Any failure rolls the whole redemption back.
func (r *codeRepository) Redeem(ctx context.Context, code string, userID uuid.UUID, at time.Time) (*model.Redemption, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin redeem tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := scanCode(tx.QueryRow(
		ctx,
		`SELECT `+codeColumns+` FROM codes WHERE code = $1 FOR UPDATE`,
		code,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock code: %w", err)
	}
	if item.IsUsed {
		return nil, repository.ErrAlreadyUsed
	}

	tag, err := tx.Exec(
		ctx,
		`UPDATE codes SET is_used = TRUE, used_by = $2, used_at = $3 WHERE id = $1 AND is_used = FALSE`,
		item.ID,
		userID,
		at,
	)
	if err != nil {
		return nil, fmt.Errorf("mark code used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, repository.ErrAlreadyUsed
	}

	gain, err := scanGain(tx.QueryRow(
		ctx,
		`UPDATE gains
		SET remaining_quantity = remaining_quantity - 1,
			updated_at = $2
		WHERE id = $1 AND remaining_quantity > 0
		RETURNING `+gainColumns,
		item.GainID,
		at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrStockExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("decrement gain stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit redeem tx: %w", err)
	}

	item.IsUsed = true
	item.UsedBy = &userID
	usedAt := at
	item.UsedAt = &usedAt

	return &model.Redemption{Code: item, Gain: gain}, nil
}

func (r *codeRepository) MarkDelivered(ctx context.Context, code string, employeeID uuid.UUID, at time.Time) (*model.Code, error) {
	query := `
		UPDATE codes
		SET delivered_by = $2,
			delivered_at = $3
		WHERE code = $1 AND is_used = TRUE AND delivered_at IS NULL
		RETURNING ` + codeColumns

	item, err := scanCode(r.pool.QueryRow(ctx, query, code, employeeID, at))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	current, err := r.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !current.IsUsed {
		return nil, repository.ErrNotRedeemed
	}
	return nil, repository.ErrAlreadyDelivered
}

func (r *codeRepository) CountUsedBy(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM codes WHERE used_by = $1`, userID).Scan(&total)
	return total, err
}

func (r *codeRepository) List(ctx context.Context, filter repository.CodeListFilter) ([]*model.Code, error) {
	where := codeListWhere(filter)
	suffix, args, limit := where.paged(filter.Pagination)

	rows, err := r.pool.Query(ctx,
		"SELECT "+codeColumns+" FROM codes"+where.String()+" ORDER BY COALESCE(used_at, created_at) DESC, code ASC"+suffix,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, limit, scanCode)
}

func (r *codeRepository) Count(ctx context.Context, filter repository.CodeListFilter) (int64, error) {
	return countWhere(ctx, r.pool, "codes", codeListWhere(filter))
}

func (r *codeRepository) Stats(ctx context.Context) (*model.CodeStats, error) {
	stats := &model.CodeStats{Gains: make([]model.GainStats, 0, 8)}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_used),
			COUNT(*) FILTER (WHERE delivered_at IS NOT NULL),
			COUNT(DISTINCT used_by)
		FROM codes
	`).Scan(&stats.TotalCodes, &stats.UsedCodes, &stats.DeliveredCodes, &stats.Participants)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT
			g.id,
			g.name,
			g.quantity,
			g.remaining_quantity,
			COUNT(c.id),
			COUNT(c.id) FILTER (WHERE c.is_used),
			COUNT(c.id) FILTER (WHERE c.delivered_at IS NOT NULL)
		FROM gains g
		LEFT JOIN codes c ON c.gain_id = g.id
		GROUP BY g.id
		ORDER BY g.value DESC, g.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item model.GainStats
		if err := rows.Scan(
			&item.GainID,
			&item.Name,
			&item.Quantity,
			&item.Remaining,
			&item.CodesIssued,
			&item.Redeemed,
			&item.Delivered,
		); err != nil {
			return nil, err
		}
		stats.Gains = append(stats.Gains, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

func codeListWhere(filter repository.CodeListFilter) *whereClause {
	where := &whereClause{}
	if filter.GainID != nil {
		where.add("gain_id = ?", *filter.GainID)
	}
	if filter.UsedBy != nil {
		where.add("used_by = ?", *filter.UsedBy)
	}
	if filter.IsUsed != nil {
		where.add("is_used = ?", *filter.IsUsed)
	}
	if filter.Delivered != nil {
		if *filter.Delivered {
			where.addRaw("delivered_at IS NOT NULL")
		} else {
			where.addRaw("delivered_at IS NULL")
		}
	}
	if filter.Keyword != nil {
		where.add("code LIKE ?", containsPattern(strings.ToUpper(*filter.Keyword)))
	}
	return where
}

func scanCode(src scanTarget) (*model.Code, error) {
	item := &model.Code{}
	err := src.Scan(
		&item.ID,
		&item.Code,
		&item.GainID,
		&item.BatchID,
		&item.IsUsed,
		&item.UsedBy,
		&item.UsedAt,
		&item.DeliveredBy,
		&item.DeliveredAt,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}
