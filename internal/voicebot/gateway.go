package voicebot

import "context"

// Packet is one received Opus packet attributed to a user.
type Packet struct {
	UserID string
	Opus   []byte
}

// Gateway is the chat service the sidecar drives.
type Gateway interface {
	Open(token string) error
	Close() error
	Guilds() ([]Guild, error)
	Channels(guildID string) ([]Channel, error)
	JoinVoice(guildID, channelID string) (Voice, error)
	// Names resolves display names for status replies.
	Names(guildID, channelID string) (guild, channel string)
}

// Voice is a joined voice channel.
type Voice interface {
	// Packets yields received audio. It is closed when the connection ends.
	Packets() <-chan Packet
	Speaking(on bool) error
	Send(ctx context.Context, opus []byte) error
	Disconnect() error
}
