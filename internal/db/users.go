package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func (s *Store) CreateUser(username, email, passwordHash string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO users(username, email, password_hash) VALUES (?, ?, ?)`,
		strings.TrimSpace(username), normalizeEmail(email), passwordHash)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user id: %w", err)
	}
	return id, nil
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	var lockedUntil, lastLoginAt sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.LoginAttempts,
		&lockedUntil, &u.LastLoginIP, &lastLoginAt, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.AccountLockedUntil = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

const userColumns = `id, username, email, password_hash, login_attempts, account_locked_until, last_login_ip, last_login_at, created_at`

func (s *Store) GetUserByEmail(email string) (User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
	return s.scanUser(row)
}

func (s *Store) GetUserByID(id int64) (User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return s.scanUser(row)
}

func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		var u User
		var lockedUntil, lastLoginAt sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.LoginAttempts,
			&lockedUntil, &u.LastLoginIP, &lastLoginAt, &u.CreatedAt); err != nil {
			return nil, err
		}
		if lockedUntil.Valid {
			t := lockedUntil.Time
			u.AccountLockedUntil = &t
		}
		if lastLoginAt.Valid {
			t := lastLoginAt.Time
			u.LastLoginAt = &t
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) DeleteUser(email string) error {
	res, err := s.db.Exec(`DELETE FROM users WHERE email = ?`, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordFailedLogin increments the failure counter and, once the counter
// reaches lockAfter, sets the lock expiry. Returns the updated counter and the
// lock expiry when one was set.
func (s *Store) RecordFailedLogin(userID int64, ip string, lockAfter int, lockFor time.Duration) (int, *time.Time, error) {
	var attempts int
	err := s.db.QueryRow(`SELECT login_attempts FROM users WHERE id = ?`, userID).Scan(&attempts)
	if err != nil {
		return 0, nil, fmt.Errorf("read login attempts: %w", err)
	}
	attempts++
	var lockedUntil *time.Time
	if attempts >= lockAfter {
		t := time.Now().UTC().Add(lockFor)
		lockedUntil = &t
	}
	_, err = s.db.Exec(`UPDATE users SET login_attempts = ?, account_locked_until = ?, last_login_ip = ? WHERE id = ?`,
		attempts, lockedUntil, ip, userID)
	if err != nil {
		return 0, nil, fmt.Errorf("record failed login: %w", err)
	}
	return attempts, lockedUntil, nil
}

// ResetLoginState clears failure counters after a successful login.
func (s *Store) ResetLoginState(userID int64, ip string) error {
	_, err := s.db.Exec(`UPDATE users SET login_attempts = 0, account_locked_until = NULL, last_login_ip = ?, last_login_at = ? WHERE id = ?`,
		ip, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}
	return nil
}
