package db

import (
	"fmt"
	"time"
)

func (s *Store) InsertSecurityLog(l SecurityLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO security_logs(user_id, event_type, action, details, ip_address, user_agent, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UserID, l.EventType, l.Action, l.Details, l.IPAddress, l.UserAgent, l.Severity, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert security log: %w", err)
	}
	return nil
}

func (s *Store) ListSecurityLogs(userID int64, limit int) ([]SecurityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, user_id, event_type, action, details, ip_address, user_agent, severity, created_at
		FROM security_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list security logs: %w", err)
	}
	defer rows.Close()

	logs := make([]SecurityLog, 0, limit)
	for rows.Next() {
		var l SecurityLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.EventType, &l.Action, &l.Details,
			&l.IPAddress, &l.UserAgent, &l.Severity, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountSecurityLogs counts events for a user since the given time, optionally
// narrowed by event type and severity (empty string matches all).
func (s *Store) CountSecurityLogs(userID int64, eventType, severity string, since time.Time) (int, error) {
	query := `SELECT COUNT(1) FROM security_logs WHERE user_id = ? AND created_at > ?`
	args := []any{userID, since}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, severity)
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count security logs: %w", err)
	}
	return n, nil
}
