package tts

import (
	"encoding/binary"
	"testing"
)

func TestPCM16RoundTrip(t *testing.T) {
	pcm := make([]byte, 8)
	for i, v := range []int16{0, 16384, -32768, 32767} {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}
	samples := PCM16ToSamples(append(pcm, 0x7f))
	want := []float32{0, 0.5, -1, 32767.0 / 32768}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples", len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, samples[i], want[i])
		}
	}

	out := SamplesToPCM16([]float32{0.5, 1, -1, 0.9}, 2)
	got := make([]int16, 4)
	for i := range got {
		got[i] = int16(binary.LittleEndian.Uint16(out[2*i:]))
	}
	if got[0] != 32767 || got[1] != 32767 || got[2] != -32768 || got[3] != 32767 {
		t.Errorf("scaled and clipped = %v", got)
	}
}

func TestEncodeSamples(t *testing.T) {
	in := []float32{0, 0.25, -0.75}
	decoded, err := DecodeSamples(EncodeSamples(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if decoded[i] != in[i] {
			t.Errorf("sample %d = %v", i, decoded[i])
		}
	}
	if _, err := DecodeSamples("AAAA"); err == nil {
		t.Error("three bytes decoded as samples")
	}
	if _, err := DecodeSamples("%%%"); err == nil {
		t.Error("bad base64 accepted")
	}
}

func TestMatchDevice(t *testing.T) {
	devices := parseDeviceList([]byte("null\n    Discard all samples\ndefault\n    Default ALSA Output\nhw:CARD=USB,DEV=0\n    USB Audio\n"))
	if len(devices) != 2 || devices[0] != "default" {
		t.Fatalf("devices = %v", devices)
	}

	tests := []struct {
		want  string
		match string
		ok    bool
	}{
		{"USB", "hw:CARD=USB,DEV=0", true},
		{"default", "default", true},
		{"plughw:CARD=USB,DEV=0", "hw:CARD=USB,DEV=0", true},
		{"hdmi", "", false},
	}
	for _, tt := range tests {
		got, ok := MatchDevice(devices, tt.want)
		if got != tt.match || ok != tt.ok {
			t.Errorf("MatchDevice(%q) = %q, %v", tt.want, got, ok)
		}
	}
}
