package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetUser(ctx context.Context, identifier string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT identifier, state, created_at, updated_at
FROM conversation_users
WHERE identifier = $1
`, identifier)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUserNotFound, "get user", fmt.Errorf("identifier=%s", identifier))
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user. A concurrent insert of the same identifier
// yields domain.ErrConflict and leaves the existing row untouched.
func (r *UserRepository) CreateUser(ctx context.Context, identifier string, initial domain.State) (*domain.User, error) {
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
INSERT INTO conversation_users (identifier, state, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (identifier) DO NOTHING
RETURNING identifier, state, created_at, updated_at
`, identifier, string(initial), now)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrConflict, "create user", fmt.Errorf("identifier=%s", identifier))
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// SetState moves the user from expected to next in a single statement.
func (r *UserRepository) SetState(ctx context.Context, identifier string, expected, next domain.State) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE conversation_users
SET state = $3, updated_at = $4
WHERE identifier = $1 AND state = $2
RETURNING identifier, state, created_at, updated_at
`, identifier, string(expected), string(next), time.Now().UTC())

	user, err := scanUser(row)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update user state: %w", err)
	}

	current, getErr := r.GetUser(ctx, identifier)
	if getErr != nil {
		return nil, getErr
	}
	return nil, domain.WrapError(
		domain.ErrStateMismatch,
		"set state",
		fmt.Errorf("identifier=%s expected=%s stored=%s", identifier, expected, current.State),
	)
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var state string
	if err := row.Scan(&user.Identifier, &state, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.State = domain.State(state)
	return &user, nil
}
