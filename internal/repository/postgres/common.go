package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"thetiptop/internal/repository"
)

var ErrNotFound = repository.ErrNotFound

const uniqueViolation = "23505"

type scanTarget interface {
	Scan(dest ...any) error
}

func normalizePagination(page repository.Pagination) (int32, int32) {
	limit := page.Limit
	offset := page.Offset

	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// whereClause accumulates AND-ed list filters with positional arguments.
type whereClause struct {
	conds []string
	args  []any
}

// add appends cond; every "?" in it refers to arg.
func (w *whereClause) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *whereClause) addRaw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// paged returns the LIMIT/OFFSET suffix, the arguments including them, and the limit.
func (w *whereClause) paged(p repository.Pagination) (string, []any, int32) {
	limit, offset := normalizePagination(p)
	args := make([]any, 0, len(w.args)+2)
	args = append(args, w.args...)
	args = append(args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args, limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern builds a LIKE operand matching the keyword literally anywhere in the column.
func containsPattern(keyword string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(keyword)) + "%"
}

func countWhere(ctx context.Context, pool *pgxpool.Pool, table string, where *whereClause) (int64, error) {
	var total int64
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+where.String(), where.args...).Scan(&total)
	return total, err
}

func collectRows[T any](rows pgx.Rows, capacity int32, scan func(scanTarget) (*T, error)) ([]*T, error) {
	defer rows.Close()

	items := make([]*T, 0, capacity)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func decodeJSONMap(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func encodeJSONMap(value map[string]interface{}) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}

func ensureAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// translateWriteError maps unique violations to repository.ErrDuplicate.
func translateWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Join(repository.ErrDuplicate, err)
	}
	return err
}
