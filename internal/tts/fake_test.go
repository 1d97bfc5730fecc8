package tts

import (
	"context"
	"errors"
	"sync"
)

// toneBackend returns one sample per character of text so tests can check
// what was synthesized.
type toneBackend struct {
	mu     sync.Mutex
	voices []Voice
}

func (b *toneBackend) Synthesize(_ context.Context, v *Voice, text string) ([]float32, error) {
	b.mu.Lock()
	b.voices = append(b.voices, *v)
	b.mu.Unlock()
	if text == "fail" {
		return nil, errors.New("Failed to synthesize: backend unavailable")
	}
	out := make([]float32, len(text))
	for i := range out {
		out[i] = 0.5
	}
	return out, nil
}

type played struct {
	samples int
	rate    int
	device  string
	volume  float64
}

// fakePlayer records playback instead of making sound.
type fakePlayer struct {
	mu      sync.Mutex
	devices []string
	played  []played
}

func (p *fakePlayer) Devices(context.Context) ([]string, error) {
	return p.devices, nil
}

func (p *fakePlayer) Play(_ context.Context, samples []float32, rate int, device string, volume float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, played{samples: len(samples), rate: rate, device: device, volume: volume})
	return nil
}
