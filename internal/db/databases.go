package db

import (
	"database/sql"
	"fmt"
	"strings"
)

func (s *Store) CreateDatabase(userID int64, name string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO databases(user_id, name) VALUES (?, ?)`, userID, strings.TrimSpace(name))
	if err != nil {
		return 0, fmt.Errorf("create database: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("database id: %w", err)
	}
	return id, nil
}

// GetDatabase returns the record regardless of owner; ownership decisions
// belong to the gateway, which needs the true owner id.
func (s *Store) GetDatabase(id int64) (Database, error) {
	var d Database
	err := s.db.QueryRow(`SELECT id, user_id, name, created_at FROM databases WHERE id = ?`, id).
		Scan(&d.ID, &d.UserID, &d.Name, &d.CreatedAt)
	if err != nil {
		return Database{}, err
	}
	return d, nil
}

func (s *Store) ListDatabases(userID int64) ([]Database, error) {
	rows, err := s.db.Query(`SELECT id, user_id, name, created_at FROM databases WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	out := make([]Database, 0)
	for rows.Next() {
		var d Database
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDatabase(id int64) error {
	res, err := s.db.Exec(`DELETE FROM databases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete database: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
