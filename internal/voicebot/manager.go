// Package voicebot is the chat bot sidecar. The child joins voice channels
// through a Gateway and pushes per-user utterances as events; the parent's
// Manager demultiplexes those events from replies and restores the bot's
// connection after a crash.
package voicebot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

// Manager owns the bot sidecar.
type Manager struct {
	sup    *sidecar.Supervisor
	events chan wire.Message

	// Replay state, only touched under the supervisor lock.
	token     string
	connected bool
	guildID   string
	channelID string
	listening bool
}

// NewManager creates a manager whose events are buffered up to eventBuffer.
// The sidecar starts on first use.
func NewManager(cfg sidecar.Config, settle time.Duration, eventBuffer int, opts ...sidecar.Option) *Manager {
	if eventBuffer <= 0 {
		eventBuffer = sidecar.DefaultEventBuffer
	}
	m := &Manager{events: make(chan wire.Message, eventBuffer)}
	opts = append([]sidecar.Option{
		sidecar.WithEvents(m.events),
		sidecar.WithReplay(m.replay),
		sidecar.WithSettleDelay(settle),
	}, opts...)
	m.sup = sidecar.NewSupervisor(cfg, Protocol, opts...)
	return m
}

// Supervisor exposes the underlying supervisor.
func (m *Manager) Supervisor() *sidecar.Supervisor { return m.sup }

// replay reconnects, rejoins the voice channel and re-enables listening, in
// that order, stopping at the first failure. Whatever the new child rejects
// is forgotten along with everything that depends on it.
func (m *Manager) replay(ctx context.Context, h sidecar.Handle) error {
	if !m.connected || m.token == "" {
		return nil
	}
	if err := m.sendOk(ctx, h, &Connect{Token: m.token}); err != nil {
		if sidecar.IsApplication(err) {
			m.connected, m.guildID, m.channelID, m.listening = false, "", "", false
		}
		return fmt.Errorf("reconnecting: %w", err)
	}
	if m.guildID == "" || m.channelID == "" {
		return nil
	}
	if err := m.sendOk(ctx, h, &JoinVoice{GuildID: m.guildID, ChannelID: m.channelID}); err != nil {
		if sidecar.IsApplication(err) {
			m.guildID, m.channelID, m.listening = "", "", false
		}
		return fmt.Errorf("rejoining voice: %w", err)
	}
	if !m.listening {
		return nil
	}
	if err := m.sendOk(ctx, h, &EnableListening{}); err != nil {
		if sidecar.IsApplication(err) {
			m.listening = false
		}
		return fmt.Errorf("re-enabling listening: %w", err)
	}
	return nil
}

func (m *Manager) sendOk(ctx context.Context, h sidecar.Handle, req wire.Message) error {
	resp, err := h.Send(ctx, req)
	if err != nil {
		return err
	}
	_, err = sidecar.ExpectOk(m.sup.Name(), resp)
	return err
}

// do sends req with respawn and retry, then runs onOk under the lock.
func (m *Manager) do(ctx context.Context, req wire.Message, onOk func()) error {
	return m.sup.Do(ctx, req.MessageType(), func(ctx context.Context, h sidecar.Handle) error {
		if err := m.sendOk(ctx, h, req); err != nil {
			return err
		}
		if onOk != nil {
			onOk()
		}
		return nil
	})
}

// ifRunning sends req only to a live sidecar and runs reset under the lock
// either way.
func (m *Manager) ifRunning(ctx context.Context, req wire.Message, reset func()) error {
	ran, err := m.sup.IfRunning(ctx, func(ctx context.Context, h sidecar.Handle) error {
		if err := m.sendOk(ctx, h, req); err != nil {
			return err
		}
		reset()
		return nil
	})
	if !ran {
		m.sup.Locked(func(bool) { reset() })
	}
	return err
}

// SetToken stores the bot token used by Connect and by replay.
func (m *Manager) SetToken(token string) {
	m.sup.Locked(func(bool) { m.token = token })
}

// Token returns the stored bot token.
func (m *Manager) Token() string {
	var t string
	m.sup.Locked(func(bool) { t = m.token })
	return t
}

// Connect logs the bot in with the stored token.
func (m *Manager) Connect(ctx context.Context) error {
	token := m.Token()
	if token == "" {
		return &sidecar.Error{Sidecar: m.sup.Name(), Op: "connect", Kind: sidecar.KindApplication, Err: errors.New("No bot token set")}
	}
	return m.do(ctx, &Connect{Token: token}, func() { m.connected = true })
}

// Disconnect logs the bot out and forgets all connection state.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.ifRunning(ctx, &Disconnect{}, func() {
		m.connected, m.guildID, m.channelID, m.listening = false, "", "", false
	})
}

// JoinVoice joins a voice channel.
func (m *Manager) JoinVoice(ctx context.Context, guildID, channelID string) error {
	return m.do(ctx, &JoinVoice{GuildID: guildID, ChannelID: channelID}, func() {
		if m.guildID != guildID || m.channelID != channelID {
			m.listening = false
		}
		m.guildID, m.channelID = guildID, channelID
	})
}

// LeaveVoice leaves the voice channel in guildID.
func (m *Manager) LeaveVoice(ctx context.Context, guildID string) error {
	return m.ifRunning(ctx, &LeaveVoice{GuildID: guildID}, func() {
		m.guildID, m.channelID, m.listening = "", "", false
	})
}

// EnableListening starts voice events.
func (m *Manager) EnableListening(ctx context.Context) error {
	return m.do(ctx, &EnableListening{}, func() { m.listening = true })
}

// DisableListening stops voice events.
func (m *Manager) DisableListening(ctx context.Context) error {
	return m.ifRunning(ctx, &DisableListening{}, func() { m.listening = false })
}

// Guilds lists the guilds the bot is in.
func (m *Manager) Guilds(ctx context.Context) ([]Guild, error) {
	resp, err := m.sup.Call(ctx, &GetGuilds{})
	if err != nil {
		return nil, err
	}
	g, err := sidecar.Expect[*Guilds](m.sup.Name(), resp)
	if err != nil {
		return nil, err
	}
	return g.Guilds, nil
}

// Channels lists a guild's voice and text channels.
func (m *Manager) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	resp, err := m.sup.Call(ctx, &GetChannels{GuildID: guildID})
	if err != nil {
		return nil, err
	}
	c, err := sidecar.Expect[*Channels](m.sup.Name(), resp)
	if err != nil {
		return nil, err
	}
	return c.Channels, nil
}

// Status returns the bot's state. A sidecar that is not running, or that
// dies while answering, reports the zero state.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	var st Status
	_, err := m.sup.IfRunning(ctx, func(ctx context.Context, h sidecar.Handle) error {
		resp, err := h.Send(ctx, &StatusRequest{})
		if err != nil {
			return err
		}
		s, err := sidecar.Expect[*Status](m.sup.Name(), resp)
		if err != nil {
			return err
		}
		st = *s
		return nil
	})
	if sidecar.IsCrash(err) {
		return Status{}, nil
	}
	return st, err
}

// PlayAudio plays base64-encoded Opus frames in the joined channel.
func (m *Manager) PlayAudio(ctx context.Context, audioBase64 string) error {
	return m.do(ctx, &PlayAudio{AudioBase64: audioBase64, SampleRate: SampleRate, Codec: CodecOpus}, nil)
}

// PlayFrames plays raw Opus packets.
func (m *Manager) PlayFrames(ctx context.Context, frames [][]byte) error {
	return m.PlayAudio(ctx, EncodeFrames(frames))
}

// Events returns the channel voice events are delivered on. It is never
// closed and survives respawns.
func (m *Manager) Events() <-chan wire.Message { return m.events }

// TryRecvEvent returns a pending event without blocking.
func (m *Manager) TryRecvEvent() (wire.Message, bool) {
	select {
	case ev := <-m.events:
		return ev, true
	default:
		return nil, false
	}
}

// RecvEvent waits for the next event or until ctx is done.
func (m *Manager) RecvEvent(ctx context.Context) (wire.Message, error) {
	select {
	case ev := <-m.events:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops the sidecar. Connection state is kept so the next call
// restores it.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.sup.Shutdown(ctx)
}
