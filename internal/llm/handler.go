package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

// ErrNoModel is returned for completions before a model is loaded.
var ErrNoModel = errors.New("No model loaded")

// Handler answers inference requests inside the sidecar process.
type Handler struct {
	backend   Backend
	log       logr.Logger
	modelPath string
}

// NewHandler creates a handler that completes through backend.
func NewHandler(backend Backend, log logr.Logger) *Handler {
	return &Handler{backend: backend, log: log}
}

// Handle implements sidecar.HandlerFunc.
func (h *Handler) Handle(ctx context.Context, req wire.Message) (wire.Message, error) {
	switch r := req.(type) {
	case *Load:
		return h.load(r.ModelPath)
	case *Unload:
		h.modelPath = ""
		return &wire.Ok{Message: "Model unloaded"}, nil
	case *Chat:
		return h.complete(ctx, Completion{System: r.SystemPrompt, Prompt: r.UserMessage, MaxTokens: r.MaxTokens})
	case *Generate:
		return h.complete(ctx, Completion{Prompt: r.Prompt, MaxTokens: r.MaxTokens})
	case *StatusRequest:
		return &Status{Loaded: h.modelPath != "", ModelPath: h.modelPath}, nil
	case *wire.Shutdown:
		return &wire.Ok{Message: "Shutting down"}, nil
	}
	return nil, fmt.Errorf("unsupported request %q", req.MessageType())
}

func (h *Handler) load(path string) (wire.Message, error) {
	if path == "" {
		return nil, errors.New("model_path is required")
	}
	if path == h.modelPath {
		return &wire.Ok{Message: "Model already loaded"}, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("Model file not found: %s", path)
	}
	h.modelPath = path
	h.log.Info("model loaded", "path", path, "model", ModelName(path))
	return &wire.Ok{Message: "Model loaded"}, nil
}

func (h *Handler) complete(ctx context.Context, c Completion) (wire.Message, error) {
	if h.modelPath == "" {
		return nil, ErrNoModel
	}
	c.Model = ModelName(h.modelPath)
	text, err := h.backend.Complete(ctx, c)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text}, nil
}
