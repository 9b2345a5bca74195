package database

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"family-gallery/internal/logging"
)

// DefaultSessionDuration is the length of time a session remains valid
// unless the caller asks for something else.
const DefaultSessionDuration = 7 * 24 * time.Hour

// MinPasswordLength is the shortest password CreateUser and UpdatePassword accept.
const MinPasswordLength = 8

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrSessionInvalid     = errors.New("session invalid or expired")
)

// bcryptCost is lowered by tests.
var bcryptCost = bcrypt.DefaultCost

const userColumns = "id, email, display_name, password_hash, role, created_at, updated_at"

func scanUser(row rowScanner) (*User, error) {
	var u User
	var role string
	var created, updated int64
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &role, &created, &updated); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.UpdatedAt = time.Unix(updated, 0).UTC()
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser adds an account. Emails are unique case-insensitively.
func (d *Database) CreateUser(ctx context.Context, email, displayName, password string, role Role) (*User, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_user", start, err) }()

	email = normalizeEmail(email)
	displayName = strings.TrimSpace(displayName)
	if email == "" || displayName == "" {
		err = errors.New("email and display name are required")
		return nil, err
	}
	if role != RoleAdmin && role != RoleMember {
		err = fmt.Errorf("unknown role %q", role)
		return nil, err
	}
	if len(password) < MinPasswordLength {
		err = ErrPasswordTooShort
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Truncate(time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, email, displayName, string(hash), string(role), now.Unix(), now.Unix())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			err = ErrUserExists
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	logging.Info("Created %s user %s", role, email)
	return &User{
		ID:           id,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetUser returns the user with the given ID.
func (d *Database) GetUser(ctx context.Context, id string) (*User, error) {
	return d.getUserWhere(ctx, "get_user", "id = ?", id)
}

// GetUserByEmail returns the user with the given email.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return d.getUserWhere(ctx, "get_user_by_email", "email = ?", normalizeEmail(email))
}

func (d *Database) getUserWhere(ctx context.Context, op, cond string, arg any) (*User, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var u *User
	u, err = scanUser(d.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+cond, arg))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns every account ordered by email.
func (d *Database) ListUsers(ctx context.Context) ([]User, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_users", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY email")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u *User
		if u, err = scanUser(rows); err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	err = rows.Err()
	return users, err
}

// HasUsers reports whether at least one account exists.
func (d *Database) HasUsers(ctx context.Context) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Authenticate checks an email and password pair. Unknown emails and wrong
// passwords both return ErrInvalidCredentials.
func (d *Database) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := d.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// UpdatePassword replaces a user's password and revokes their sessions.
func (d *Database) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_password", start, err) }()

	if len(newPassword) < MinPasswordLength {
		err = ErrPasswordTooShort
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result sql.Result
	result, err = tx.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		string(hash), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	var n int64
	if n, err = result.RowsAffected(); err != nil {
		return err
	}
	if n == 0 {
		err = ErrNotFound
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	err = tx.Commit()
	return err
}

// CreateSession issues a new session token for userID. The raw token is only
// returned here; the database keeps its SHA-256 hash.
func (d *Database) CreateSession(ctx context.Context, userID string, duration time.Duration) (*Session, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_session", start, err) }()

	if duration <= 0 {
		duration = DefaultSessionDuration
	}

	tokenBytes := make([]byte, 32)
	if _, err = rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	now := time.Now().UTC().Truncate(time.Second)
	expiresAt := now.Add(duration)

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx,
		"INSERT INTO sessions (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		hashToken(token), userID, expiresAt.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// ValidateSession returns the user owning token if the session is unexpired.
func (d *Database) ValidateSession(ctx context.Context, token string) (*User, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("validate_session", start, err) }()

	if token == "" {
		err = ErrSessionInvalid
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var u *User
	u, err = scanUser(d.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.role, u.created_at, u.updated_at
		FROM sessions s
		INNER JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ? AND s.expires_at > ?`,
		hashToken(token), time.Now().Unix()))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrSessionInvalid
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
	return u, nil
}

// DeleteSession removes a session. Unknown tokens are ignored.
func (d *Database) DeleteSession(ctx context.Context, token string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_session", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", hashToken(token))
	return err
}

// CleanExpiredSessions removes expired sessions and returns how many were deleted.
func (d *Database) CleanExpiredSessions(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("clean_expired_sessions", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
