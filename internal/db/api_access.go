package db

import (
	"fmt"
	"time"
)

func (s *Store) InsertAPIAccessLog(l APIAccessLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO api_access_logs(user_id, endpoint, method, status_code, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.UserID, l.Endpoint, l.Method, l.StatusCode, l.ResponseTimeMS, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api access log: %w", err)
	}
	return nil
}

func (s *Store) ListAPIAccessLogs(userID int64, limit int) ([]APIAccessLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, user_id, endpoint, method, status_code, response_time_ms, created_at
		FROM api_access_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list api access logs: %w", err)
	}
	defer rows.Close()

	out := make([]APIAccessLog, 0, limit)
	for rows.Next() {
		var l APIAccessLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Endpoint, &l.Method, &l.StatusCode, &l.ResponseTimeMS, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
