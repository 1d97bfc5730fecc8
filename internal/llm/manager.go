// Package llm is the inference sidecar: its protocol, the request handler
// that runs in the child, and the Manager the parent uses to reach it.
package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

// Manager owns the inference sidecar. The loaded model path is restored
// after a respawn.
type Manager struct {
	sup *sidecar.Supervisor

	// modelPath is only touched under the supervisor lock.
	modelPath string
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

// replay reloads the remembered model. A model the new child refuses is
// forgotten, so the manager reports what the child actually has.
func (m *Manager) replay(ctx context.Context, h sidecar.Handle) error {
	if m.modelPath == "" {
		return nil
	}
	resp, err := h.Send(ctx, &Load{ModelPath: m.modelPath})
	if err != nil {
		return fmt.Errorf("reloading %s: %w", m.modelPath, err)
	}
	if _, err := sidecar.ExpectOk(m.sup.Name(), resp); err != nil {
		if sidecar.IsApplication(err) {
			m.modelPath = ""
		}
		return err
	}
	return nil
}

// LoadModel loads the model file at path. A missing file is rejected before
// the sidecar is started.
func (m *Manager) LoadModel(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &sidecar.Error{
			Sidecar: m.sup.Name(),
			Op:      "load",
			Kind:    sidecar.KindApplication,
			Err:     fmt.Errorf("Model file not found: %s", path),
		}
	}
	return m.sup.Do(ctx, "load", func(ctx context.Context, h sidecar.Handle) error {
		resp, err := h.Send(ctx, &Load{ModelPath: path})
		if err != nil {
			return err
		}
		if _, err := sidecar.ExpectOk(m.sup.Name(), resp); err != nil {
			return err
		}
		m.modelPath = path
		return nil
	})
}

// UnloadModel releases the model. It does not start a sidecar that is not
// running.
func (m *Manager) UnloadModel(ctx context.Context) error {
	ran, err := m.sup.IfRunning(ctx, func(ctx context.Context, h sidecar.Handle) error {
		resp, err := h.Send(ctx, &Unload{})
		if err != nil {
			return err
		}
		if _, err := sidecar.ExpectOk(m.sup.Name(), resp); err != nil {
			return err
		}
		m.modelPath = ""
		return nil
	})
	if !ran {
		m.sup.Locked(func(bool) { m.modelPath = "" })
	}
	return err
}

// Chat runs a single-turn chat completion.
func (m *Manager) Chat(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	return m.text(ctx, &Chat{SystemPrompt: systemPrompt, UserMessage: userMessage, MaxTokens: maxTokens})
}

// Generate completes a raw prompt.
func (m *Manager) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return m.text(ctx, &Generate{Prompt: prompt, MaxTokens: maxTokens})
}

func (m *Manager) text(ctx context.Context, req wire.Message) (string, error) {
	resp, err := m.sup.Call(ctx, req)
	if err != nil {
		return "", err
	}
	res, err := sidecar.Expect[*Result](m.sup.Name(), resp)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Status asks the sidecar what it has loaded.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	resp, err := m.sup.Call(ctx, &StatusRequest{})
	if err != nil {
		return nil, err
	}
	return sidecar.Expect[*Status](m.sup.Name(), resp)
}

// ModelPath returns the path that will be restored after a crash, or "".
func (m *Manager) ModelPath() string {
	var p string
	m.sup.Locked(func(bool) { p = m.modelPath })
	return p
}

// IsLoaded reports whether a model is loaded in a running sidecar.
func (m *Manager) IsLoaded() bool {
	var loaded bool
	m.sup.Locked(func(running bool) { loaded = running && m.modelPath != "" })
	return loaded
}

// Shutdown stops the sidecar. The loaded path is kept so a later call
// reloads it.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.sup.Shutdown(ctx)
}
