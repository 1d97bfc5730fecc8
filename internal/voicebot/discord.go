package voicebot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordGateway implements Gateway with discordgo.
type DiscordGateway struct {
	session *discordgo.Session
}

// NewDiscordGateway returns an unconnected gateway.
func NewDiscordGateway() *DiscordGateway {
	return &DiscordGateway{}
}

func (g *DiscordGateway) Open(token string) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := dg.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	g.session = dg
	return nil
}

func (g *DiscordGateway) Close() error {
	if g.session == nil {
		return nil
	}
	err := g.session.Close()
	g.session = nil
	return err
}

func (g *DiscordGateway) Guilds() ([]Guild, error) {
	if g.session == nil {
		return nil, errNotConnected
	}
	out := []Guild{}
	for _, gd := range g.session.State.Guilds {
		out = append(out, Guild{ID: gd.ID, Name: gd.Name})
	}
	return out, nil
}

func (g *DiscordGateway) Channels(guildID string) ([]Channel, error) {
	if g.session == nil {
		return nil, errNotConnected
	}
	chans, err := g.session.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	out := []Channel{}
	for _, c := range chans {
		switch c.Type {
		case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
			out = append(out, Channel{ID: c.ID, Name: c.Name, Kind: "voice"})
		case discordgo.ChannelTypeGuildText:
			out = append(out, Channel{ID: c.ID, Name: c.Name, Kind: "text"})
		}
	}
	return out, nil
}

func (g *DiscordGateway) Names(guildID, channelID string) (string, string) {
	if g.session == nil {
		return "", ""
	}
	var guild, channel string
	if gd, err := g.session.State.Guild(guildID); err == nil {
		guild = gd.Name
	}
	if c, err := g.session.State.Channel(channelID); err == nil {
		channel = c.Name
	}
	return guild, channel
}

func (g *DiscordGateway) JoinVoice(guildID, channelID string) (Voice, error) {
	if g.session == nil {
		return nil, errNotConnected
	}
	vc, err := g.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, err
	}
	v := &discordVoice{
		vc:      vc,
		ssrc:    map[uint32]string{},
		packets: make(chan Packet, 64),
		done:    make(chan struct{}),
	}
	vc.AddHandler(v.speakingUpdate)
	go v.receive()
	return v, nil
}

// discordVoice maps SSRCs to user ids using speaking updates and forwards
// received Opus packets.
type discordVoice struct {
	vc *discordgo.VoiceConnection

	mu   sync.Mutex
	ssrc map[uint32]string

	packets chan Packet
	done    chan struct{}
	once    sync.Once
}

func (v *discordVoice) speakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	v.mu.Lock()
	v.ssrc[uint32(vs.SSRC)] = vs.UserID
	v.mu.Unlock()
}

func (v *discordVoice) userFor(ssrc uint32) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.ssrc[ssrc]; ok {
		return id
	}
	return "ssrc:" + strconv.FormatUint(uint64(ssrc), 10)
}

func (v *discordVoice) receive() {
	defer close(v.packets)
	for {
		select {
		case <-v.done:
			return
		case p, ok := <-v.vc.OpusRecv:
			if !ok {
				return
			}
			if p == nil || len(p.Opus) == 0 {
				continue
			}
			select {
			case v.packets <- Packet{UserID: v.userFor(p.SSRC), Opus: p.Opus}:
			case <-v.done:
				return
			}
		}
	}
}

func (v *discordVoice) Packets() <-chan Packet { return v.packets }

func (v *discordVoice) Speaking(on bool) error { return v.vc.Speaking(on) }

func (v *discordVoice) Send(ctx context.Context, opus []byte) error {
	t := time.NewTimer(time.Second)
	defer t.Stop()
	select {
	case v.vc.OpusSend <- opus:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return errors.New("voice send timed out")
	case <-v.done:
		return errNotInVoice
	}
}

func (v *discordVoice) Disconnect() error {
	var err error
	v.once.Do(func() {
		close(v.done)
		err = v.vc.Disconnect()
	})
	return err
}
