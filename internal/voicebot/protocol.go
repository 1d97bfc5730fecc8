package voicebot

import (
	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

// Guild is a server the bot is a member of.
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel is a guild channel. Kind is "voice" or "text".
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Connect logs the bot in.
type Connect struct {
	Token string `json:"token"`
}

func (Connect) MessageType() string { return "connect" }

type Disconnect struct{}

func (Disconnect) MessageType() string { return "disconnect" }

// JoinVoice joins a voice channel.
type JoinVoice struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

func (JoinVoice) MessageType() string { return "join_voice" }

type LeaveVoice struct {
	GuildID string `json:"guild_id"`
}

func (LeaveVoice) MessageType() string { return "leave_voice" }

type GetGuilds struct{}

func (GetGuilds) MessageType() string { return "get_guilds" }

type GetChannels struct {
	GuildID string `json:"guild_id"`
}

func (GetChannels) MessageType() string { return "get_channels" }

type StatusRequest struct{}

func (StatusRequest) MessageType() string { return "status" }

// EnableListening starts pushing voice events for the joined channel.
type EnableListening struct{}

func (EnableListening) MessageType() string { return "enable_listening" }

type DisableListening struct{}

func (DisableListening) MessageType() string { return "disable_listening" }

// PlayAudio sends encoded audio to the joined voice channel.
type PlayAudio struct {
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate"`
	Codec       string `json:"codec"`
}

func (PlayAudio) MessageType() string { return "play_audio" }

// Status is the bot's connection state.
type Status struct {
	Connected   bool   `json:"connected"`
	InVoice     bool   `json:"in_voice"`
	Listening   bool   `json:"listening"`
	GuildName   string `json:"guild_name,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
}

func (Status) MessageType() string { return "status" }

type Guilds struct {
	Guilds []Guild `json:"guilds"`
}

func (Guilds) MessageType() string { return "guilds" }

type Channels struct {
	Channels []Channel `json:"channels"`
}

func (Channels) MessageType() string { return "channels" }

// UserAudio is an event carrying one utterance, flushed after the user
// went silent.
type UserAudio struct {
	UserID      string `json:"user_id"`
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate"`
	Codec       string `json:"codec"`
}

func (UserAudio) MessageType() string { return "user_audio" }

// UserStartedSpeaking is an event sent on the first packet of an utterance.
type UserStartedSpeaking struct {
	UserID string `json:"user_id"`
}

func (UserStartedSpeaking) MessageType() string { return "user_started_speaking" }

// UserStoppedSpeaking is an event sent after the utterance's UserAudio.
type UserStoppedSpeaking struct {
	UserID string `json:"user_id"`
}

func (UserStoppedSpeaking) MessageType() string { return "user_stopped_speaking" }

// Requests decodes what the parent sends.
var Requests = wire.NewTable("bot request",
	func() wire.Message { return new(Connect) },
	func() wire.Message { return new(Disconnect) },
	func() wire.Message { return new(JoinVoice) },
	func() wire.Message { return new(LeaveVoice) },
	func() wire.Message { return new(GetGuilds) },
	func() wire.Message { return new(GetChannels) },
	func() wire.Message { return new(StatusRequest) },
	func() wire.Message { return new(EnableListening) },
	func() wire.Message { return new(DisableListening) },
	func() wire.Message { return new(PlayAudio) },
	func() wire.Message { return new(wire.Shutdown) },
)

// Responses decodes replies and events from the sidecar.
var Responses = wire.NewTable("bot response",
	func() wire.Message { return new(wire.Ok) },
	func() wire.Message { return new(wire.Error) },
	func() wire.Message { return new(Status) },
	func() wire.Message { return new(Guilds) },
	func() wire.Message { return new(Channels) },
	func() wire.Message { return new(UserAudio) },
	func() wire.Message { return new(UserStartedSpeaking) },
	func() wire.Message { return new(UserStoppedSpeaking) },
)

// IsEvent reports whether m is pushed by the sidecar rather than sent as a
// reply.
func IsEvent(m wire.Message) bool {
	switch m.(type) {
	case *UserAudio, *UserStartedSpeaking, *UserStoppedSpeaking:
		return true
	}
	return false
}

// Protocol is the bot sidecar's framing.
var Protocol = sidecar.Protocol{Responses: Responses, IsEvent: IsEvent}
