package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, username, password, role, name, countries, permissions, must_change_password, created_at`

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM cms_users WHERE username=$1
	`, username)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM cms_users WHERE id=$1
	`, userID)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	var countries, permissions []byte
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.Name, &countries, &permissions, &user.MustChangePassword, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if err := decodeDoc(countries, &user.Countries, "user countries"); err != nil {
		return User{}, err
	}
	if err := decodeDoc(permissions, &user.Permissions, "user permissions"); err != nil {
		return User{}, err
	}
	if user.Countries == nil {
		user.Countries = []string{}
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM cms_users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		var countries, permissions []byte
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.Name, &countries, &permissions, &user.MustChangePassword, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if err := decodeDoc(countries, &user.Countries, "user countries"); err != nil {
			return nil, err
		}
		if err := decodeDoc(permissions, &user.Permissions, "user permissions"); err != nil {
			return nil, err
		}
		if user.Countries == nil {
			user.Countries = []string{}
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// CreateUser inserts a CMS account. The conflict guard makes the default
// admin bootstrap idempotent: creating the same username twice neither
// duplicates nor fails.
func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	countries, err := encodeDoc(user.Countries)
	if err != nil {
		return err
	}
	permissions, err := encodeDoc(user.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cms_users (id, username, password, role, name, countries, permissions, must_change_password)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (username) DO NOTHING
	`, user.ID, user.Username, user.PasswordHash, user.Role, user.Name, countries, permissions, user.MustChangePassword)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID string, user User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	countries, err := encodeDoc(user.Countries)
	if err != nil {
		return err
	}
	permissions, err := encodeDoc(user.Permissions)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE cms_users SET role=$2, name=$3, countries=$4, permissions=$5
		WHERE id=$1
	`, userID, user.Role, user.Name, countries, permissions)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string, mustChange bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE cms_users SET password=$2, must_change_password=$3 WHERE id=$1
	`, userID, passwordHash, mustChange)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cms_users WHERE id=$1
	`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(result)
}

// --- Refresh sessions (Postgres-backed variant, used when Redis is not configured) ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
