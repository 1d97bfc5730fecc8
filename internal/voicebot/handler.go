package voicebot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

var (
	errNotConnected = errors.New("Not connected to Discord")
	errNotInVoice   = errors.New("Not in a voice channel")
)

// Handler answers bot requests inside the sidecar process. Requests arrive
// one at a time from the serve loop; events are emitted by the listener
// goroutine.
type Handler struct {
	gateway Gateway
	emit    func(wire.Message) error
	silence time.Duration
	log     logr.Logger

	connected bool
	voice     Voice
	guildID   string
	channelID string
	listener  *listener
}

// NewHandler creates a handler that drives gateway and pushes events through
// emit. silence is the utterance timeout; zero uses DefaultSilenceTimeout.
func NewHandler(gateway Gateway, emit func(wire.Message) error, silence time.Duration, log logr.Logger) *Handler {
	return &Handler{gateway: gateway, emit: emit, silence: silence, log: log}
}

// Handle implements sidecar.HandlerFunc.
func (h *Handler) Handle(ctx context.Context, req wire.Message) (wire.Message, error) {
	switch r := req.(type) {
	case *Connect:
		return h.connect(r.Token)
	case *Disconnect:
		h.teardown()
		return &wire.Ok{Message: "Disconnected"}, nil
	case *JoinVoice:
		return h.joinVoice(r.GuildID, r.ChannelID)
	case *LeaveVoice:
		if h.voice == nil {
			return &wire.Ok{Message: "Not in a voice channel"}, nil
		}
		if r.GuildID != "" && r.GuildID != h.guildID {
			return nil, fmt.Errorf("Not in a voice channel in guild %s", r.GuildID)
		}
		h.leaveVoice()
		return &wire.Ok{Message: "Left voice channel"}, nil
	case *GetGuilds:
		if !h.connected {
			return nil, errNotConnected
		}
		guilds, err := h.gateway.Guilds()
		if err != nil {
			return nil, err
		}
		return &Guilds{Guilds: guilds}, nil
	case *GetChannels:
		if !h.connected {
			return nil, errNotConnected
		}
		channels, err := h.gateway.Channels(r.GuildID)
		if err != nil {
			return nil, err
		}
		return &Channels{Channels: channels}, nil
	case *StatusRequest:
		return h.status(), nil
	case *EnableListening:
		if h.voice == nil {
			return nil, errNotInVoice
		}
		if h.listener == nil {
			h.listener = startListener(h.voice.Packets(), h.emit, h.silence, h.log)
		}
		return &wire.Ok{Message: "Listening"}, nil
	case *DisableListening:
		h.stopListening()
		return &wire.Ok{Message: "Stopped listening"}, nil
	case *PlayAudio:
		return h.play(ctx, r)
	case *wire.Shutdown:
		h.teardown()
		return &wire.Ok{Message: "Shutting down"}, nil
	}
	return nil, fmt.Errorf("unsupported request %q", req.MessageType())
}

func (h *Handler) connect(token string) (wire.Message, error) {
	if h.connected {
		return &wire.Ok{Message: "Already connected"}, nil
	}
	if token == "" {
		return nil, errors.New("No bot token provided")
	}
	if err := h.gateway.Open(token); err != nil {
		return nil, fmt.Errorf("connecting to Discord: %w", err)
	}
	h.connected = true
	h.log.Info("connected to Discord")
	return &wire.Ok{Message: "Connected"}, nil
}

func (h *Handler) joinVoice(guildID, channelID string) (wire.Message, error) {
	if !h.connected {
		return nil, errNotConnected
	}
	if h.voice != nil {
		if h.guildID == guildID && h.channelID == channelID {
			return &wire.Ok{Message: "Already in voice channel"}, nil
		}
		h.leaveVoice()
	}
	v, err := h.gateway.JoinVoice(guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("joining voice channel: %w", err)
	}
	h.voice, h.guildID, h.channelID = v, guildID, channelID
	h.log.Info("joined voice channel", "guild", guildID, "channel", channelID)
	return &wire.Ok{Message: "Joined voice channel"}, nil
}

func (h *Handler) stopListening() {
	if h.listener != nil {
		h.listener.Stop()
		h.listener = nil
	}
}

func (h *Handler) leaveVoice() {
	h.stopListening()
	if h.voice != nil {
		if err := h.voice.Disconnect(); err != nil {
			h.log.Error(err, "failed to leave voice channel")
		}
	}
	h.voice, h.guildID, h.channelID = nil, "", ""
}

func (h *Handler) teardown() {
	h.leaveVoice()
	if h.connected {
		if err := h.gateway.Close(); err != nil {
			h.log.Error(err, "failed to close Discord session")
		}
		h.connected = false
	}
}

func (h *Handler) status() *Status {
	st := &Status{
		Connected: h.connected,
		InVoice:   h.voice != nil,
		Listening: h.listener != nil,
	}
	if h.voice != nil {
		st.GuildName, st.ChannelName = h.gateway.Names(h.guildID, h.channelID)
	}
	return st
}

func (h *Handler) play(ctx context.Context, r *PlayAudio) (wire.Message, error) {
	if h.voice == nil {
		return nil, errNotInVoice
	}
	if r.Codec != CodecOpus {
		return nil, fmt.Errorf("unsupported codec %q, want %q", r.Codec, CodecOpus)
	}
	if r.SampleRate != 0 && r.SampleRate != SampleRate {
		return nil, fmt.Errorf("unsupported sample rate %d, want %d", r.SampleRate, SampleRate)
	}
	frames, err := DecodeFrames(r.AudioBase64)
	if err != nil {
		return nil, err
	}

	if err := h.voice.Speaking(true); err != nil {
		return nil, fmt.Errorf("setting speaking state: %w", err)
	}
	defer func() {
		if err := h.voice.Speaking(false); err != nil {
			h.log.Error(err, "failed to clear speaking state")
		}
	}()
	for _, f := range frames {
		if err := h.voice.Send(ctx, f); err != nil {
			return nil, fmt.Errorf("sending audio: %w", err)
		}
	}
	return &wire.Ok{Message: fmt.Sprintf("Played %d frames", len(frames))}, nil
}
