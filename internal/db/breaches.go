package db

import (
	"fmt"
	"time"
)

const BreachStatusOpen = "OPEN"

func (s *Store) InsertBreach(b Breach) (int64, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.Status == "" {
		b.Status = BreachStatusOpen
	}
	res, err := s.db.Exec(`INSERT INTO security_breaches(user_id, breach_type, details, ip_address, user_agent, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.UserID, b.Type, b.Details, b.IPAddress, b.UserAgent, b.CreatedAt, b.Status)
	if err != nil {
		return 0, fmt.Errorf("insert breach: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("breach id: %w", err)
	}
	return id, nil
}

func (s *Store) ListBreaches(userID int64, limit int) ([]Breach, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, user_id, breach_type, details, ip_address, user_agent, created_at, status
		FROM security_breaches WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list breaches: %w", err)
	}
	defer rows.Close()

	out := make([]Breach, 0, limit)
	for rows.Next() {
		var b Breach
		if err := rows.Scan(&b.ID, &b.UserID, &b.Type, &b.Details, &b.IPAddress,
			&b.UserAgent, &b.CreatedAt, &b.Status); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
