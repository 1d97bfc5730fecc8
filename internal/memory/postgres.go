package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage keeps memories in PostgreSQL and ranks them with the
// pgvector cosine distance operator.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStorage{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memories (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			is_bot BOOLEAN NOT NULL,
			ts BIGINT NOT NULL,
			model TEXT NOT NULL,
			embedding vector NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_ts ON memories (ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Insert(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memories (id, user_id, content, is_bot, ts, model, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::vector)`,
		r.ID, r.UserID, r.Content, r.IsBot, r.Timestamp, r.Model, vectorLiteral(r.Embedding),
	)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Search(ctx context.Context, q Search) ([]Message, error) {
	query := `SELECT id::text, user_id, content, is_bot, ts, 1 - (embedding <=> $1::vector)
		FROM memories WHERE model = $2`
	args := []any{vectorLiteral(q.Vector), q.Model}
	if q.UserID != "" {
		query += ` AND user_id = $3`
		args = append(args, q.UserID)
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1::vector LIMIT %d`, max(q.Limit, 1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	return collect(rows, true)
}

func (s *PostgresStorage) Recent(ctx context.Context, limit int, f Filter) ([]Message, error) {
	var where []string
	var args []any
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.IsBot != nil {
		args = append(args, *f.IsBot)
		where = append(where, fmt.Sprintf("is_bot = $%d", len(args)))
	}
	query := `SELECT id::text, user_id, content, is_bot, ts FROM memories`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("browsing memories: %w", err)
	}
	return collect(rows, false)
}

func collect(rows pgx.Rows, similarity bool) ([]Message, error) {
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var m Message
		dest := []any{&m.ID, &m.UserID, &m.Content, &m.IsBot, &m.Timestamp}
		var sim float64
		if similarity {
			dest = append(dest, &sim)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		if similarity {
			s := float32(sim)
			m.Similarity = &s
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) Users(ctx context.Context) ([]UserInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, COUNT(*) FROM memories GROUP BY user_id ORDER BY COUNT(*) DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	out := []UserInfo{}
	for rows.Next() {
		var u UserInfo
		var n int64
		if err := rows.Scan(&u.UserID, &n); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.MemoryCount = int(n)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting memories: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStorage) Clear(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories`)
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStorage) DeleteBefore(ctx context.Context, unix int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE ts < $1`, unix)
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral renders v in pgvector's text form, e.g. "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
