package voicebot

import (
	"context"
	"errors"
	"sync"
)

// fakeGateway is an in-memory Gateway. Audio played into a fakeVoice is
// looped back as packets from user "echo". The token "revoked" is refused.
type fakeGateway struct {
	mu      sync.Mutex
	token   string
	opened  int
	voice   *fakeVoice
	openErr error
}

func (g *fakeGateway) Open(token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openErr != nil {
		return g.openErr
	}
	if token == "revoked" {
		return errors.New("401 Unauthorized")
	}
	g.token = token
	g.opened++
	return nil
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
	return nil
}

func (g *fakeGateway) Guilds() ([]Guild, error) {
	return []Guild{{ID: "g1", Name: "Guild One"}}, nil
}

func (g *fakeGateway) Channels(guildID string) ([]Channel, error) {
	if guildID != "g1" {
		return nil, errors.New("unknown guild")
	}
	return []Channel{{ID: "c1", Name: "General", Kind: "voice"}, {ID: "c2", Name: "chat", Kind: "text"}}, nil
}

func (g *fakeGateway) JoinVoice(guildID, channelID string) (Voice, error) {
	if guildID != "g1" || channelID != "c1" {
		return nil, errors.New("unknown voice channel")
	}
	v := &fakeVoice{packets: make(chan Packet, 64)}
	g.mu.Lock()
	g.voice = v
	g.mu.Unlock()
	return v, nil
}

func (g *fakeGateway) Names(guildID, channelID string) (string, string) {
	return "Guild One", "General"
}

type fakeVoice struct {
	mu       sync.Mutex
	packets  chan Packet
	closed   bool
	speaking []bool
	sent     [][]byte
}

func (v *fakeVoice) Packets() <-chan Packet { return v.packets }

func (v *fakeVoice) Speaking(on bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = append(v.speaking, on)
	return nil
}

func (v *fakeVoice) Send(_ context.Context, opus []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errNotInVoice
	}
	v.sent = append(v.sent, opus)
	v.packets <- Packet{UserID: "echo", Opus: opus}
	return nil
}

func (v *fakeVoice) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		close(v.packets)
	}
	return nil
}
