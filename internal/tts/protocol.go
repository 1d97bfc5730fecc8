package tts

import (
	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

// Load asks the sidecar to load the voice at ModelPath.
type Load struct {
	ModelPath string `json:"model_path"`
}

func (Load) MessageType() string { return "load" }

// Unload releases the loaded voice.
type Unload struct{}

func (Unload) MessageType() string { return "unload" }

// Speak synthesizes Text and plays it on OutputDevice, or the default device
// when empty. A missing Volume means full volume.
type Speak struct {
	Text         string   `json:"text"`
	OutputDevice string   `json:"output_device,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
}

func (Speak) MessageType() string { return "speak" }

// Synthesize returns the audio for Text without playing it.
type Synthesize struct {
	Text string `json:"text"`
}

func (Synthesize) MessageType() string { return "synthesize" }

// ListDevices asks for the names of the output devices.
type ListDevices struct{}

func (ListDevices) MessageType() string { return "list_devices" }

// StatusRequest asks for the loaded voice.
type StatusRequest struct{}

func (StatusRequest) MessageType() string { return "status" }

// Devices lists output device names.
type Devices struct {
	Devices []string `json:"devices"`
}

func (Devices) MessageType() string { return "devices" }

// Status reports whether a voice is loaded and which one.
type Status struct {
	Loaded    bool   `json:"loaded"`
	ModelPath string `json:"model_path,omitempty"`
}

func (Status) MessageType() string { return "status" }

// Audio carries mono float32 little-endian PCM, base64 encoded.
type Audio struct {
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate"`
}

func (Audio) MessageType() string { return "audio" }

// Requests decodes what the parent sends.
var Requests = wire.NewTable("tts request",
	func() wire.Message { return new(Load) },
	func() wire.Message { return new(Unload) },
	func() wire.Message { return new(Speak) },
	func() wire.Message { return new(Synthesize) },
	func() wire.Message { return new(ListDevices) },
	func() wire.Message { return new(StatusRequest) },
	func() wire.Message { return new(wire.Shutdown) },
)

// Responses decodes what the sidecar sends back.
var Responses = wire.NewTable("tts response",
	func() wire.Message { return new(wire.Ok) },
	func() wire.Message { return new(wire.Error) },
	func() wire.Message { return new(Devices) },
	func() wire.Message { return new(Status) },
	func() wire.Message { return new(Audio) },
)

// Protocol is the speech sidecar's framing. It has no events.
var Protocol = sidecar.Protocol{Responses: Responses}
