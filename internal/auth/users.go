package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	IsAdmin      bool      `json:"isAdmin"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type UserRepo struct{ DB *pgxpool.Pool }

const userCols = `id::text, email, name, is_admin, password_hash, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (r *UserRepo) Create(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := r.DB.QueryRow(ctx, `INSERT INTO users(id, email, name, password_hash, is_admin)
		VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
		u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.IsAdmin).Scan(&u.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	u.Email = strings.ToLower(u.Email)
	return u, err
}

func (r *UserRepo) ByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.DB.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email=$1`, strings.ToLower(email)))
}

func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	_, err := r.DB.Exec(ctx, `UPDATE users SET password_hash=$2, updated_at=now() WHERE id=$1`, id, hash)
	return err
}
