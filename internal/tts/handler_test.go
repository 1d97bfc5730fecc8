package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

func voiceFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHandlerRequiresVoice(t *testing.T) {
	h := NewHandler(&toneBackend{}, &fakePlayer{}, logr.Discard())
	for _, req := range []wire.Message{&Speak{Text: "hi"}, &Synthesize{Text: "hi"}} {
		_, err := h.Handle(context.Background(), req)
		if !errors.Is(err, ErrNoVoice) {
			t.Errorf("%s without voice: err = %v", req.MessageType(), err)
		}
	}
}

func TestHandlerLoad(t *testing.T) {
	path := voiceFile(t, "amy.yaml", "voice: coral\nspeed: 1.25\n")
	h := NewHandler(&toneBackend{}, &fakePlayer{}, logr.Discard())
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr string
	}{
		{"missing", filepath.Join(t.TempDir(), "nope.yaml"), "", "Voice file does not exist"},
		{"empty", "", "", "model_path is required"},
		{"bad speed", voiceFile(t, "fast.yaml", "speed: 9\n"), "", "outside 0.25-4.0"},
		{"load", path, "Model loaded", ""},
		{"again", path, "Model already loaded", ""},
	}
	for _, tt := range tests {
		resp, err := h.Handle(ctx, &Load{ModelPath: tt.path})
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("%s: err = %v, want %q", tt.name, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if ok := resp.(*wire.Ok); ok.Message != tt.want {
			t.Errorf("%s: message = %q, want %q", tt.name, ok.Message, tt.want)
		}
	}

	resp, _ := h.Handle(ctx, &StatusRequest{})
	if st := resp.(*Status); !st.Loaded || st.ModelPath != path {
		t.Errorf("status = %+v", st)
	}
	if h.voice.Name != "coral" || h.voice.Model != DefaultModel || h.voice.Speed != 1.25 {
		t.Errorf("voice = %+v", h.voice)
	}

	if _, err := h.Handle(ctx, &Unload{}); err != nil {
		t.Fatal(err)
	}
	resp, _ = h.Handle(ctx, &StatusRequest{})
	if st := resp.(*Status); st.Loaded || st.ModelPath != "" {
		t.Errorf("status after unload = %+v", st)
	}
}

func TestHandlerSpeakAndSynthesize(t *testing.T) {
	backend := &toneBackend{}
	player := &fakePlayer{devices: []string{"default", "hw:CARD=USB,DEV=0"}}
	h := NewHandler(backend, player, logr.Discard())
	ctx := context.Background()
	if _, err := h.Handle(ctx, &Load{ModelPath: voiceFile(t, "v.yaml", "model: tts-1\n")}); err != nil {
		t.Fatal(err)
	}

	half := 0.5
	if _, err := h.Handle(ctx, &Speak{Text: "hello", OutputDevice: "USB", Volume: &half}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if _, err := h.Handle(ctx, &Speak{Text: "hi"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	want := []played{
		{samples: 5, rate: SampleRate, device: "USB", volume: 0.5},
		{samples: 2, rate: SampleRate, device: "", volume: 1},
	}
	if len(player.played) != len(want) {
		t.Fatalf("played = %+v", player.played)
	}
	for i := range want {
		if player.played[i] != want[i] {
			t.Errorf("played[%d] = %+v, want %+v", i, player.played[i], want[i])
		}
	}

	resp, err := h.Handle(ctx, &Synthesize{Text: "abc"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	audio := resp.(*Audio)
	samples, err := DecodeSamples(audio.AudioBase64)
	if err != nil {
		t.Fatal(err)
	}
	if audio.SampleRate != SampleRate || len(samples) != 3 || samples[0] != 0.5 {
		t.Errorf("audio = %d samples at %d Hz", len(samples), audio.SampleRate)
	}
	if backend.voices[0].Model != "tts-1" || backend.voices[0].Name != DefaultVoice {
		t.Errorf("voice = %+v", backend.voices[0])
	}

	if _, err := h.Handle(ctx, &Synthesize{Text: "fail"}); err == nil || !strings.Contains(err.Error(), "backend unavailable") {
		t.Errorf("backend error = %v", err)
	}
	negative := -1.0
	if _, err := h.Handle(ctx, &Speak{Text: "x", Volume: &negative}); err == nil {
		t.Error("negative volume accepted")
	}

	resp, err = h.Handle(ctx, &ListDevices{})
	if err != nil {
		t.Fatal(err)
	}
	if d := resp.(*Devices); len(d.Devices) != 2 {
		t.Errorf("devices = %v", d.Devices)
	}
}
