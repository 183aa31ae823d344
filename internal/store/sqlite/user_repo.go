package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dmserver/internal/domain"
)

type UserRepo struct {
	db        *sql.DB
	opTimeout time.Duration
}

func NewUserRepo(db *sql.DB, opTimeout time.Duration) *UserRepo {
	return &UserRepo{db: db, opTimeout: opTimeout}
}

var _ domain.UserRepository = (*UserRepo)(nil)

const userColumns = `id, username, email, hashed_password, is_active, status, created_at, last_seen`

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, hashed_password, is_active, status, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.HashedPassword, true, string(domain.UserOffline), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert user: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", storeErr(err))
	}
	u.IsActive = true
	u.Status = domain.UserOffline
	u.CreatedAt = now
	u.LastSeen = now
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active = 1
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", storeErr(err))
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active = 1 AND status = 'online'
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", storeErr(err))
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (r *UserRepo) SetPresence(ctx context.Context, id string, status domain.UserStatus, lastSeen time.Time) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE users SET status = ?, last_seen = ? WHERE id = ?
	`, string(status), lastSeen, id); err != nil {
		return fmt.Errorf("set presence: %w", storeErr(err))
	}
	return nil
}

func (r *UserRepo) getBy(ctx context.Context, query string, arg any) (*domain.User, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	u := &domain.User{}
	var status string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.HashedPassword,
		&u.IsActive,
		&status,
		&u.CreatedAt,
		&u.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", storeErr(err))
	}
	u.Status = domain.UserStatus(status)
	return u, nil
}

func collectUsers(rows *sql.Rows) ([]*domain.User, error) {
	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		var status string
		if err := rows.Scan(
			&u.ID,
			&u.Username,
			&u.Email,
			&u.HashedPassword,
			&u.IsActive,
			&status,
			&u.CreatedAt,
			&u.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", storeErr(err))
		}
		u.Status = domain.UserStatus(status)
		users = append(users, u)
	}
	return users, rows.Err()
}
