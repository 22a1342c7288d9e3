package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

const auditSelect = `
	SELECT id, user_id, action, resource_type, resource_id,
		old_value, new_value, ip_address, user_agent, created_at
	FROM audit_logs`

type auditRepository struct {
	pool *pgxpool.Pool
}

var _ repository.AuditRepository = (*auditRepository)(nil)

// NewAuditRepository stores the append-only audit trail. Entries are never updated.
func NewAuditRepository(pool *pgxpool.Pool) repository.AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	before, err := encodeJSONMap(entry.OldValue)
	if err != nil {
		return err
	}
	after, err := encodeJSONMap(entry.NewValue)
	if err != nil {
		return err
	}

	return r.pool.QueryRow(ctx, `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, old_value, new_value, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
		before, after, entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	).Scan(&entry.ID)
}

func (r *auditRepository) List(ctx context.Context, filter repository.AuditListFilter) ([]*model.AuditLog, error) {
	where := auditWhere(filter)
	suffix, args, limit := where.paged(filter.Pagination)

	rows, err := r.pool.Query(ctx, auditSelect+where.String()+" ORDER BY created_at DESC, id DESC"+suffix, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, limit, scanAuditLog)
}

func (r *auditRepository) Count(ctx context.Context, filter repository.AuditListFilter) (int64, error) {
	return countWhere(ctx, r.pool, "audit_logs", auditWhere(filter))
}

func auditWhere(filter repository.AuditListFilter) *whereClause {
	where := &whereClause{}
	if filter.UserID != nil {
		where.add("user_id = ?", *filter.UserID)
	}
	if filter.Action != nil {
		if family, ok := strings.CutSuffix(*filter.Action, ".*"); ok {
			where.add("action LIKE ?", family+".%")
		} else {
			where.add("action = ?", *filter.Action)
		}
	}
	if filter.ResourceType != nil {
		where.add("resource_type = ?", *filter.ResourceType)
	}
	if filter.ResourceID != nil {
		where.add("resource_id = ?", *filter.ResourceID)
	}
	if filter.StartTime != nil {
		where.add("created_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		where.add("created_at <= ?", *filter.EndTime)
	}
	return where
}

func scanAuditLog(src scanTarget) (*model.AuditLog, error) {
	entry := &model.AuditLog{}
	var before, after []byte
	if err := src.Scan(
		&entry.ID, &entry.UserID, &entry.Action, &entry.ResourceType, &entry.ResourceID,
		&before, &after, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if entry.OldValue, err = decodeJSONMap(before); err != nil {
		return nil, err
	}
	if entry.NewValue, err = decodeJSONMap(after); err != nil {
		return nil, err
	}
	return entry, nil
}
