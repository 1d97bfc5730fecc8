package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Record is a memory as persisted, with its embedding.
type Record struct {
	ID        string
	UserID    string
	Content   string
	IsBot     bool
	Timestamp int64
	Model     string
	Embedding []float32
}

// Filter narrows BrowseRecent. Nil fields match everything.
type Filter struct {
	UserID *string
	IsBot  *bool
}

// Search selects the candidates for a similarity query. An empty UserID
// searches all users.
type Search struct {
	Model  string
	Vector []float32
	UserID string
	Limit  int
}

// Storage persists memories. Implementations rank by cosine similarity
// among records embedded with the same model.
type Storage interface {
	Insert(ctx context.Context, r Record) error
	Search(ctx context.Context, s Search) ([]Message, error)
	Recent(ctx context.Context, limit int, f Filter) ([]Message, error)
	Users(ctx context.Context) ([]UserInfo, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
	DeleteBefore(ctx context.Context, unix int64) (int, error)
	Close() error
}

// OpenStorage opens the named driver.
func OpenStorage(ctx context.Context, driver, dsn string) (Storage, error) {
	switch driver {
	case "sqlite", "":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown memory store %q", driver)
	}
}

type scored struct {
	msg   Message
	score float32
}

// rank keeps the limit best candidates, highest similarity first.
func rank(cands []scored, limit int) []Message {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]Message, len(cands))
	for i, c := range cands {
		s := c.score
		out[i] = c.msg
		out[i].Similarity = &s
	}
	return out
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
