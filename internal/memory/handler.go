package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/alexsjones/sidekick/internal/wire"
)

const defaultLimit = 5

// Handler answers memory requests inside the sidecar process.
type Handler struct {
	storage  Storage
	opts     EmbedderOptions
	embedder Embedder
	log      logr.Logger
	now      func() time.Time
}

// NewHandler creates a handler over storage. model is loaded eagerly; an
// empty model leaves the handler without one until load_model.
func NewHandler(storage Storage, model string, opts EmbedderOptions, log logr.Logger) (*Handler, error) {
	h := &Handler{storage: storage, opts: opts, log: log, now: time.Now}
	if model != "" {
		e, err := NewEmbedder(model, opts)
		if err != nil {
			return nil, err
		}
		h.embedder = e
	}
	return h, nil
}

// Handle implements sidecar.HandlerFunc.
func (h *Handler) Handle(ctx context.Context, req wire.Message) (wire.Message, error) {
	switch r := req.(type) {
	case *Store:
		return h.store(ctx, r)
	case *Query:
		if r.UserID == "" {
			return nil, errors.New("user_id is required")
		}
		return h.search(ctx, r.Query, r.UserID, r.Limit)
	case *QueryAll:
		return h.search(ctx, r.Query, "", r.Limit)
	case *BrowseRecent:
		msgs, err := h.storage.Recent(ctx, limitOr(r.Limit, 20), Filter{UserID: r.UserID, IsBot: r.IsBot})
		if err != nil {
			return nil, err
		}
		return &Results{Messages: msgs}, nil
	case *ListUsers:
		users, err := h.storage.Users(ctx)
		if err != nil {
			return nil, err
		}
		return &Users{Users: users}, nil
	case *CountRequest:
		n, err := h.storage.Count(ctx)
		if err != nil {
			return nil, err
		}
		return &Count{Total: n}, nil
	case *ClearAll:
		n, err := h.storage.Clear(ctx)
		if err != nil {
			return nil, err
		}
		h.log.Info("cleared all memories", "deleted", n)
		return &Cleared{Deleted: n}, nil
	case *Cleanup:
		return h.cleanup(ctx, r.TTLDays)
	case *StatusRequest:
		st := &Status{Ready: true, ModelLoaded: h.embedder != nil}
		if h.embedder != nil {
			st.CurrentModelID = h.embedder.ID()
		}
		return st, nil
	case *ListModels:
		return &Models{Models: h.catalog()}, nil
	case *LoadModel:
		return h.loadModel(r.ModelID)
	case *GetCurrentModel:
		cm := &CurrentModel{}
		if h.embedder != nil {
			cm.ModelID = h.embedder.ID()
		}
		return cm, nil
	case *wire.Shutdown:
		return &wire.Ok{Message: "Shutting down"}, nil
	}
	return nil, fmt.Errorf("unsupported request %q", req.MessageType())
}

func (h *Handler) store(ctx context.Context, r *Store) (wire.Message, error) {
	if strings.TrimSpace(r.Content) == "" {
		return nil, errors.New("content is empty")
	}
	if r.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	vec, err := h.embed(ctx, r.Content)
	if err != nil {
		return nil, err
	}
	ts := r.Timestamp
	if ts == 0 {
		ts = h.now().Unix()
	}
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    r.UserID,
		Content:   r.Content,
		IsBot:     r.IsBot,
		Timestamp: ts,
		Model:     h.embedder.ID(),
		Embedding: vec,
	}
	if err := h.storage.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return &Stored{ID: rec.ID}, nil
}

func (h *Handler) search(ctx context.Context, text, userID string, limit int) (wire.Message, error) {
	vec, err := h.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	msgs, err := h.storage.Search(ctx, Search{
		Model:  h.embedder.ID(),
		Vector: vec,
		UserID: userID,
		Limit:  limitOr(limit, defaultLimit),
	})
	if err != nil {
		return nil, err
	}
	return &Results{Messages: msgs}, nil
}

func (h *Handler) embed(ctx context.Context, text string) ([]float32, error) {
	if h.embedder == nil {
		return nil, errors.New("No embedding model loaded")
	}
	return h.embedder.Embed(ctx, text)
}

func (h *Handler) cleanup(ctx context.Context, ttlDays int) (wire.Message, error) {
	if ttlDays <= 0 {
		return nil, errors.New("ttl_days must be positive")
	}
	cutoff := h.now().Add(-time.Duration(ttlDays) * 24 * time.Hour).Unix()
	n, err := h.storage.DeleteBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	h.log.Info("cleaned up old memories", "ttlDays", ttlDays, "deleted", n)
	return &CleanupDone{Deleted: n}, nil
}

func (h *Handler) catalog() []ModelInfo {
	out := Catalog(h.opts)
	for i := range out {
		out[i].IsLoaded = h.embedder != nil && out[i].ID == h.embedder.ID()
	}
	return out
}

func (h *Handler) loadModel(id string) (wire.Message, error) {
	if h.embedder != nil && h.embedder.ID() == id {
		return &ModelLoaded{ModelID: id}, nil
	}
	e, err := NewEmbedder(id, h.opts)
	if err != nil {
		return nil, err
	}
	h.embedder = e
	h.log.Info("embedding model loaded", "model", id, "dimension", e.Dimension())
	return &ModelLoaded{ModelID: id}, nil
}

func limitOr(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}
