package db

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) CreateSession(sess Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions(token, user_id, csrf_token, ip, user_agent, expires_at, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		sess.Token, sess.UserID, sess.CSRFToken, sess.IP, sess.UserAgent, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns the session for token; an expired session is deleted and
// reported as sql.ErrNoRows.
func (s *Store) GetSession(token string) (Session, error) {
	var sess Session
	err := s.db.QueryRow(`SELECT token, user_id, csrf_token, ip, user_agent, expires_at, created_at, last_seen_at
		FROM sessions WHERE token = ?`, token).
		Scan(&sess.Token, &sess.UserID, &sess.CSRFToken, &sess.IP, &sess.UserAgent,
			&sess.ExpiresAt, &sess.CreatedAt, &sess.LastSeenAt)
	if err != nil {
		return Session{}, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteSession(token)
		return Session{}, sql.ErrNoRows
	}
	return sess, nil
}

func (s *Store) TouchSession(token string, expiresAt time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET expires_at = ?, last_seen_at = CURRENT_TIMESTAMP WHERE token = ?`, expiresAt, token)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) PurgeExpiredSessions() error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	return nil
}
