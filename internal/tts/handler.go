package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

// ErrNoVoice is returned for synthesis before a voice is loaded.
var ErrNoVoice = errors.New("No TTS model loaded")

// Handler answers speech requests inside the sidecar process.
type Handler struct {
	backend Backend
	player  Player
	log     logr.Logger

	modelPath string
	voice     *Voice
}

// NewHandler creates a handler that synthesizes through backend and plays
// through player.
func NewHandler(backend Backend, player Player, log logr.Logger) *Handler {
	return &Handler{backend: backend, player: player, log: log}
}

// Handle implements sidecar.HandlerFunc.
func (h *Handler) Handle(ctx context.Context, req wire.Message) (wire.Message, error) {
	switch r := req.(type) {
	case *Load:
		return h.load(r.ModelPath)
	case *Unload:
		h.modelPath, h.voice = "", nil
		return &wire.Ok{Message: "Model unloaded"}, nil
	case *Speak:
		return h.speak(ctx, r)
	case *Synthesize:
		samples, err := h.synthesize(ctx, r.Text)
		if err != nil {
			return nil, err
		}
		return &Audio{AudioBase64: EncodeSamples(samples), SampleRate: SampleRate}, nil
	case *ListDevices:
		devices, err := h.player.Devices(ctx)
		if err != nil {
			return nil, err
		}
		return &Devices{Devices: devices}, nil
	case *StatusRequest:
		return &Status{Loaded: h.voice != nil, ModelPath: h.modelPath}, nil
	case *wire.Shutdown:
		return &wire.Ok{Message: "Shutting down"}, nil
	}
	return nil, fmt.Errorf("unsupported request %q", req.MessageType())
}

func (h *Handler) load(path string) (wire.Message, error) {
	if path == "" {
		return nil, errors.New("model_path is required")
	}
	if path == h.modelPath && h.voice != nil {
		return &wire.Ok{Message: "Model already loaded"}, nil
	}
	v, err := LoadVoice(path)
	if err != nil {
		return nil, err
	}
	h.modelPath, h.voice = path, v
	h.log.Info("voice loaded", "path", path, "model", v.Model, "voice", v.Name)
	return &wire.Ok{Message: "Model loaded"}, nil
}

func (h *Handler) synthesize(ctx context.Context, text string) ([]float32, error) {
	if h.voice == nil {
		return nil, ErrNoVoice
	}
	if text == "" {
		return nil, errors.New("text is required")
	}
	return h.backend.Synthesize(ctx, h.voice, text)
}

func (h *Handler) speak(ctx context.Context, r *Speak) (wire.Message, error) {
	samples, err := h.synthesize(ctx, r.Text)
	if err != nil {
		return nil, err
	}
	volume := 1.0
	if r.Volume != nil {
		volume = *r.Volume
	}
	if volume < 0 {
		return nil, fmt.Errorf("volume %.2f must not be negative", volume)
	}
	h.log.V(1).Info("speaking", "chars", len(r.Text), "device", r.OutputDevice)
	if err := h.player.Play(ctx, samples, SampleRate, r.OutputDevice, volume); err != nil {
		return nil, err
	}
	return &wire.Ok{Message: "Speech complete"}, nil
}
