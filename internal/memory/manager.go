// Package memory is the vector memory sidecar: protocol, embedders, storage
// drivers, the child request handler and the parent-side Manager.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

// Manager owns the memory sidecar. A model selected with LoadModel is
// restored after a respawn.
type Manager struct {
	sup *sidecar.Supervisor

	// modelID is only touched under the supervisor lock.
	modelID string
}

// NewManager creates a manager. The sidecar starts on first use.
func NewManager(cfg sidecar.Config, settle time.Duration, opts ...sidecar.Option) *Manager {
	m := &Manager{}
	opts = append([]sidecar.Option{
		sidecar.WithReplay(m.replay),
		sidecar.WithSettleDelay(settle),
	}, opts...)
	m.sup = sidecar.NewSupervisor(cfg, Protocol, opts...)
	return m
}

// Supervisor exposes the underlying supervisor.
func (m *Manager) Supervisor() *sidecar.Supervisor { return m.sup }

func (m *Manager) replay(ctx context.Context, h sidecar.Handle) error {
	if m.modelID == "" {
		return nil
	}
	resp, err := h.Send(ctx, &LoadModel{ModelID: m.modelID})
	if err != nil {
		return fmt.Errorf("reloading embedding model %s: %w", m.modelID, err)
	}
	if _, err := sidecar.Expect[*ModelLoaded](m.sup.Name(), resp); err != nil {
		if sidecar.IsApplication(err) {
			// The child keeps its default model.
			m.modelID = ""
		}
		return err
	}
	return nil
}

func call[T wire.Message](ctx context.Context, m *Manager, req wire.Message) (T, error) {
	resp, err := m.sup.Call(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return sidecar.Expect[T](m.sup.Name(), resp)
}

// Store saves content and returns its id.
func (m *Manager) Store(ctx context.Context, userID, content string, isBot bool) (string, error) {
	res, err := call[*Stored](ctx, m, &Store{UserID: userID, Content: content, IsBot: isBot})
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

// Remember stores content only when IsContentWorthStoring accepts it. It
// reports whether anything was stored.
func (m *Manager) Remember(ctx context.Context, userID, content string, isBot bool) (bool, error) {
	if !IsContentWorthStoring(content) {
		return false, nil
	}
	_, err := m.Store(ctx, userID, content, isBot)
	return err == nil, err
}

// Query returns userID's memories most similar to text.
func (m *Manager) Query(ctx context.Context, userID, text string, limit int) ([]Message, error) {
	return m.results(ctx, &Query{UserID: userID, Query: text, Limit: limit})
}

// QueryAll searches every user's memories.
func (m *Manager) QueryAll(ctx context.Context, text string, limit int) ([]Message, error) {
	return m.results(ctx, &QueryAll{Query: text, Limit: limit})
}

// BrowseRecent lists the newest memories matching f.
func (m *Manager) BrowseRecent(ctx context.Context, limit int, f Filter) ([]Message, error) {
	return m.results(ctx, &BrowseRecent{Limit: limit, UserID: f.UserID, IsBot: f.IsBot})
}

func (m *Manager) results(ctx context.Context, req wire.Message) ([]Message, error) {
	res, err := call[*Results](ctx, m, req)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// ListUsers returns every user with a memory count.
func (m *Manager) ListUsers(ctx context.Context) ([]UserInfo, error) {
	res, err := call[*Users](ctx, m, &ListUsers{})
	if err != nil {
		return nil, err
	}
	return res.Users, nil
}

// Count returns the number of stored memories.
func (m *Manager) Count(ctx context.Context) (int, error) {
	res, err := call[*Count](ctx, m, &CountRequest{})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// ClearAll deletes every memory.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	res, err := call[*Cleared](ctx, m, &ClearAll{})
	if err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

// Cleanup deletes memories older than ttlDays.
func (m *Manager) Cleanup(ctx context.Context, ttlDays int) (int, error) {
	res, err := call[*CleanupDone](ctx, m, &Cleanup{TTLDays: ttlDays})
	if err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

// Status reports readiness and the active embedding model.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	return call[*Status](ctx, m, &StatusRequest{})
}

// ListModels returns the embedding models the sidecar offers.
func (m *Manager) ListModels(ctx context.Context) ([]ModelInfo, error) {
	res, err := call[*Models](ctx, m, &ListModels{})
	if err != nil {
		return nil, err
	}
	return res.Models, nil
}

// LoadModel switches the embedding model and remembers it for replay.
func (m *Manager) LoadModel(ctx context.Context, id string) error {
	return m.sup.Do(ctx, "load_model", func(ctx context.Context, h sidecar.Handle) error {
		resp, err := h.Send(ctx, &LoadModel{ModelID: id})
		if err != nil {
			return err
		}
		if _, err := sidecar.Expect[*ModelLoaded](m.sup.Name(), resp); err != nil {
			return err
		}
		m.modelID = id
		return nil
	})
}

// CurrentModel returns the active embedding model id, or "".
func (m *Manager) CurrentModel(ctx context.Context) (string, error) {
	res, err := call[*CurrentModel](ctx, m, &GetCurrentModel{})
	if err != nil {
		return "", err
	}
	return res.ModelID, nil
}

// Shutdown stops the sidecar.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.sup.Shutdown(ctx)
}
