package llm

import (
	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

// Load asks the sidecar to load the model at ModelPath.
type Load struct {
	ModelPath string `json:"model_path"`
}

func (Load) MessageType() string { return "load" }

// Unload releases the loaded model.
type Unload struct{}

func (Unload) MessageType() string { return "unload" }

// Chat runs a single-turn chat completion.
type Chat struct {
	SystemPrompt string `json:"system_prompt"`
	UserMessage  string `json:"user_message"`
	MaxTokens    int    `json:"max_tokens"`
}

func (Chat) MessageType() string { return "chat" }

// Generate completes a raw prompt.
type Generate struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

func (Generate) MessageType() string { return "generate" }

// StatusRequest asks for the loaded model.
type StatusRequest struct{}

func (StatusRequest) MessageType() string { return "status" }

// Result carries generated text.
type Result struct {
	Text string `json:"text"`
}

func (Result) MessageType() string { return "result" }

// Status reports whether a model is loaded and which one.
type Status struct {
	Loaded    bool   `json:"loaded"`
	ModelPath string `json:"model_path,omitempty"`
}

func (Status) MessageType() string { return "status" }

// Requests decodes what the parent sends.
var Requests = wire.NewTable("llm request",
	func() wire.Message { return new(Load) },
	func() wire.Message { return new(Unload) },
	func() wire.Message { return new(Chat) },
	func() wire.Message { return new(Generate) },
	func() wire.Message { return new(StatusRequest) },
	func() wire.Message { return new(wire.Shutdown) },
)

// Responses decodes what the sidecar sends back.
var Responses = wire.NewTable("llm response",
	func() wire.Message { return new(wire.Ok) },
	func() wire.Message { return new(wire.Error) },
	func() wire.Message { return new(Result) },
	func() wire.Message { return new(Status) },
)

// Protocol is the inference sidecar's framing. It has no events.
var Protocol = sidecar.Protocol{Responses: Responses}
