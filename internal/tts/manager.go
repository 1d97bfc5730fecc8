// Package tts is the speech sidecar: its protocol, the request handler that
// runs in the child, and the Manager the parent uses to reach it.
package tts

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alexsjones/sidekick/internal/sidecar"
)

// Manager owns the speech sidecar. The loaded voice is restored after a
// respawn; the output device is kept by the manager and sent with every
// Speak.
type Manager struct {
	sup *sidecar.Supervisor

	// Only touched under the supervisor lock.
	modelPath    string
	outputDevice string
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
	if m.modelPath == "" {
		return nil
	}
	resp, err := h.Send(ctx, &Load{ModelPath: m.modelPath})
	if err != nil {
		return fmt.Errorf("reloading voice %s: %w", m.modelPath, err)
	}
	if _, err := sidecar.ExpectOk(m.sup.Name(), resp); err != nil {
		if sidecar.IsApplication(err) {
			m.modelPath = ""
		}
		return err
	}
	return nil
}

// LoadModel loads the voice profile at path. A missing file is rejected
// before the sidecar is started.
func (m *Manager) LoadModel(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &sidecar.Error{
			Sidecar: m.sup.Name(),
			Op:      "load",
			Kind:    sidecar.KindApplication,
			Err:     fmt.Errorf("Voice file does not exist: %s", path),
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

// UnloadModel releases the voice without starting a sidecar that is not
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

// SetOutputDevice selects the device Speak plays on. Empty means the
// default device.
func (m *Manager) SetOutputDevice(device string) {
	m.sup.Locked(func(bool) { m.outputDevice = device })
}

// OutputDevice returns the selected output device.
func (m *Manager) OutputDevice() string {
	var d string
	m.sup.Locked(func(bool) { d = m.outputDevice })
	return d
}

// Speak synthesizes text and plays it at volume, blocking until playback
// ends.
func (m *Manager) Speak(ctx context.Context, text string, volume float64) error {
	return m.sup.Do(ctx, "speak", func(ctx context.Context, h sidecar.Handle) error {
		resp, err := h.Send(ctx, &Speak{Text: text, OutputDevice: m.outputDevice, Volume: &volume})
		if err != nil {
			return err
		}
		_, err = sidecar.ExpectOk(m.sup.Name(), resp)
		return err
	})
}

// Synthesize returns the samples for text and their sample rate.
func (m *Manager) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	resp, err := m.sup.Call(ctx, &Synthesize{Text: text})
	if err != nil {
		return nil, 0, err
	}
	audio, err := sidecar.Expect[*Audio](m.sup.Name(), resp)
	if err != nil {
		return nil, 0, err
	}
	samples, err := DecodeSamples(audio.AudioBase64)
	if err != nil {
		return nil, 0, &sidecar.Error{Sidecar: m.sup.Name(), Op: "synthesize", Kind: sidecar.KindProtocol, Err: err}
	}
	return samples, audio.SampleRate, nil
}

// ListDevices returns the output device names.
func (m *Manager) ListDevices(ctx context.Context) ([]string, error) {
	resp, err := m.sup.Call(ctx, &ListDevices{})
	if err != nil {
		return nil, err
	}
	d, err := sidecar.Expect[*Devices](m.sup.Name(), resp)
	if err != nil {
		return nil, err
	}
	return d.Devices, nil
}

// Status asks the sidecar which voice it has loaded.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	resp, err := m.sup.Call(ctx, &StatusRequest{})
	if err != nil {
		return nil, err
	}
	return sidecar.Expect[*Status](m.sup.Name(), resp)
}

// ModelPath returns the voice that will be restored after a crash, or "".
func (m *Manager) ModelPath() string {
	var p string
	m.sup.Locked(func(bool) { p = m.modelPath })
	return p
}

// IsLoaded reports whether a voice is loaded in a running sidecar.
func (m *Manager) IsLoaded() bool {
	var loaded bool
	m.sup.Locked(func(running bool) { loaded = running && m.modelPath != "" })
	return loaded
}

// SampleRate is the rate of audio returned by Synthesize.
func (m *Manager) SampleRate() int { return SampleRate }

// Shutdown stops the sidecar. The voice is kept so a later call reloads it.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.sup.Shutdown(ctx)
}
