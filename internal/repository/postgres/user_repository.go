package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return &userRepository{pool: pool}
}

var _ repository.UserRepository = (*userRepository)(nil)

const userColumns = `
	id,
	email,
	password_hash,
	first_name,
	last_name,
	role,
	status,
	email_verified,
	email_verified_at,
	oauth_provider,
	oauth_subject,
	created_at,
	updated_at
`

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return r.findOne(ctx, query, strings.TrimSpace(email))
}

func (r *userRepository) FindByOAuth(ctx context.Context, provider, subject string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE oauth_provider = $1 AND oauth_subject = $2`
	return r.findOne(ctx, query, provider, subject)
}

func (r *userRepository) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	query := `
		INSERT INTO users (
			id, email, password_hash, first_name, last_name,
			role, status, email_verified, email_verified_at,
			oauth_provider, oauth_subject, created_at, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)
	`

	_, err := r.pool.Exec(
		ctx,
		query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role,
		user.Status,
		user.EmailVerified,
		user.EmailVerifiedAt,
		user.OAuthProvider,
		user.OAuthSubject,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return translateWriteError(err)
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE users
		SET email = $2,
			password_hash = $3,
			first_name = $4,
			last_name = $5,
			role = $6,
			status = $7,
			email_verified = $8,
			email_verified_at = $9,
			oauth_provider = $10,
			oauth_subject = $11,
			updated_at = $12
		WHERE id = $1
	`

	tag, err := r.pool.Exec(
		ctx,
		query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role,
		user.Status,
		user.EmailVerified,
		user.EmailVerifiedAt,
		user.OAuthProvider,
		user.OAuthSubject,
		user.UpdatedAt,
	)
	if err != nil {
		return translateWriteError(err)
	}
	return ensureAffected(tag)
}

func (r *userRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE users
		SET email_verified = TRUE,
			email_verified_at = COALESCE(email_verified_at, $2),
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *userRepository) List(ctx context.Context, filter repository.UserListFilter) ([]*model.User, error) {
	where := userListWhere(filter)
	suffix, args, limit := where.paged(filter.Pagination)

	rows, err := r.pool.Query(ctx, "SELECT "+userColumns+" FROM users"+where.String()+" ORDER BY created_at DESC"+suffix, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, limit, scanUser)
}

func (r *userRepository) Count(ctx context.Context, filter repository.UserListFilter) (int64, error) {
	return countWhere(ctx, r.pool, "users", userListWhere(filter))
}

func userListWhere(filter repository.UserListFilter) *whereClause {
	where := &whereClause{}
	if filter.Role != nil {
		where.add("role = ?", *filter.Role)
	}
	if filter.Status != nil {
		where.add("status = ?", *filter.Status)
	}
	if filter.Keyword != nil {
		where.add("(email ILIKE ? OR first_name ILIKE ? OR last_name ILIKE ?)", containsPattern(*filter.Keyword))
	}
	return where
}

func scanUser(src scanTarget) (*model.User, error) {
	user := &model.User{}
	err := src.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.Status,
		&user.EmailVerified,
		&user.EmailVerifiedAt,
		&user.OAuthProvider,
		&user.OAuthSubject,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return user, nil
}
