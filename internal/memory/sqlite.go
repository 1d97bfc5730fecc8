package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps memories in a local SQLite file and ranks them in
// process.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path. ":memory:" keeps it in
// memory.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) init(ctx context.Context) error {
	stmts := []string{
		"PRAGMA busy_timeout = 5000;",
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			is_bot INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			model TEXT NOT NULL,
			embedding BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_ts ON memories(timestamp);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, content, is_bot, timestamp, model, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Content, r.IsBot, r.Timestamp, r.Model, encodeVector(r.Embedding),
	)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Search(ctx context.Context, q Search) ([]Message, error) {
	query := `SELECT id, user_id, content, is_bot, timestamp, embedding FROM memories WHERE model = ?`
	args := []any{q.Model}
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var cands []scored
	for rows.Next() {
		var m Message
		var blob []byte
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.IsBot, &m.Timestamp, &blob); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("memory %s: %w", m.ID, err)
		}
		cands = append(cands, scored{msg: m, score: cosine(q.Vector, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(cands, q.Limit), nil
}

func (s *SQLiteStorage) Recent(ctx context.Context, limit int, f Filter) ([]Message, error) {
	var where []string
	var args []any
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.IsBot != nil {
		where = append(where, "is_bot = ?")
		args = append(args, *f.IsBot)
	}
	query := `SELECT id, user_id, content, is_bot, timestamp FROM memories`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("browsing memories: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.IsBot, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Users(ctx context.Context) ([]UserInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, COUNT(*) FROM memories GROUP BY user_id ORDER BY COUNT(*) DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	out := []UserInfo{}
	for rows.Next() {
		var u UserInfo
		if err := rows.Scan(&u.UserID, &u.MemoryCount); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting memories: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) Clear(ctx context.Context) (int, error) {
	return s.exec(ctx, `DELETE FROM memories`)
}

func (s *SQLiteStorage) DeleteBefore(ctx context.Context, unix int64) (int, error) {
	return s.exec(ctx, `DELETE FROM memories WHERE timestamp < ?`, unix)
}

func (s *SQLiteStorage) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
