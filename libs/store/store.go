package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a call id has no record.
var ErrNotFound = errors.New("call not found")

// Call is the server-side record of an issued web call. The access token is
// never stored.
type Call struct {
	ID          string    `json:"call_id"`
	AgentID     string    `json:"agent_id"`
	Provisioner string    `json:"provisioner"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store struct {
	DB *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY under load
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (id TEXT PRIMARY KEY, agent_id TEXT NOT NULL, provisioner TEXT, created_at INTEGER);`,
		`CREATE INDEX IF NOT EXISTS calls_agent_id ON calls(agent_id);`,
	}
	for _, q := range stmts {
		if _, err := s.DB.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RecordCall stores a newly issued call.
func (s *Store) RecordCall(ctx context.Context, c Call) error {
	if c.ID == "" || c.AgentID == "" {
		return errors.New("call id and agent id required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO calls(id, agent_id, provisioner, created_at) VALUES(?,?,?,?)`,
		c.ID, c.AgentID, c.Provisioner, c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert call %s: %w", c.ID, err)
	}
	return nil
}

// GetCall returns the record for callID or ErrNotFound.
func (s *Store) GetCall(ctx context.Context, callID string) (*Call, error) {
	var (
		c       Call
		prov    sql.NullString
		created int64
	)
	row := s.DB.QueryRowContext(ctx, `SELECT id, agent_id, provisioner, created_at FROM calls WHERE id = ?`, callID)
	if err := row.Scan(&c.ID, &c.AgentID, &prov, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Provisioner = prov.String
	c.CreatedAt = time.UnixMilli(created)
	return &c, nil
}
