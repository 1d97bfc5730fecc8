package voicebot

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

// DefaultSilenceTimeout ends an utterance when a user sends no audio for
// this long.
const DefaultSilenceTimeout = 1500 * time.Millisecond

type utterance struct {
	frames   [][]byte
	lastSeen time.Time
}

// listener groups received packets into per-user utterances and pushes them
// as events. A single goroutine owns all state.
type listener struct {
	packets <-chan Packet
	emit    func(wire.Message) error
	silence time.Duration
	log     logr.Logger

	stop chan struct{}
	done chan struct{}
}

func startListener(packets <-chan Packet, emit func(wire.Message) error, silence time.Duration, log logr.Logger) *listener {
	if silence <= 0 {
		silence = DefaultSilenceTimeout
	}
	l := &listener{
		packets: packets,
		emit:    emit,
		silence: silence,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *listener) run() {
	defer close(l.done)

	active := map[string]*utterance{}
	tick := time.NewTicker(l.silence / 4)
	defer tick.Stop()

	flushAll := func() {
		for user, u := range active {
			l.flush(user, u)
			delete(active, user)
		}
	}

	for {
		select {
		case <-l.stop:
			flushAll()
			return
		case p, ok := <-l.packets:
			if !ok {
				flushAll()
				return
			}
			u := active[p.UserID]
			if u == nil {
				u = &utterance{}
				active[p.UserID] = u
				l.send(&UserStartedSpeaking{UserID: p.UserID})
			}
			u.frames = append(u.frames, p.Opus)
			u.lastSeen = time.Now()
		case now := <-tick.C:
			for user, u := range active {
				if now.Sub(u.lastSeen) >= l.silence {
					l.flush(user, u)
					delete(active, user)
				}
			}
		}
	}
}

func (l *listener) flush(user string, u *utterance) {
	l.send(&UserAudio{
		UserID:      user,
		AudioBase64: EncodeFrames(u.frames),
		SampleRate:  SampleRate,
		Codec:       CodecOpus,
	})
	l.send(&UserStoppedSpeaking{UserID: user})
}

func (l *listener) send(m wire.Message) {
	if err := l.emit(m); err != nil {
		l.log.Error(err, "failed to emit event", "type", m.MessageType())
	}
}

// Stop flushes pending utterances and waits for the goroutine to exit.
func (l *listener) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
}
