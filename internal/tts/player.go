package tts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// Player plays audio on the host's output devices.
type Player interface {
	Devices(ctx context.Context) ([]string, error)
	Play(ctx context.Context, samples []float32, rate int, device string, volume float64) error
}

// AplayPlayer plays through ALSA's aplay.
type AplayPlayer struct {
	// Bin is the aplay executable; empty means "aplay" from PATH.
	Bin string
	Log logr.Logger
}

func (p *AplayPlayer) bin() string {
	if p.Bin == "" {
		return "aplay"
	}
	return p.Bin
}

// Devices lists the PCM names aplay -L reports, without the null device.
func (p *AplayPlayer) Devices(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, p.bin(), "-L").Output()
	if err != nil {
		return nil, fmt.Errorf("Failed to enumerate devices: %w", err)
	}
	return parseDeviceList(out), nil
}

func parseDeviceList(out []byte) []string {
	var names []string
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		line := s.Text()
		if line == "" || line[0] == ' ' || line[0] == '\t' || line == "null" {
			continue
		}
		names = append(names, line)
	}
	return names
}

// Play blocks until the audio has been played. A device that matches none
// of Devices falls back to the default device.
func (p *AplayPlayer) Play(ctx context.Context, samples []float32, rate int, device string, volume float64) error {
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", strconv.Itoa(rate)}
	if device != "" {
		devices, err := p.Devices(ctx)
		if err != nil {
			return err
		}
		if name, ok := MatchDevice(devices, device); ok {
			args = append(args, "-D", name)
		} else {
			p.Log.Info("output device not found, using default", "device", device)
		}
	}
	args = append(args, "-")

	cmd := exec.CommandContext(ctx, p.bin(), args...)
	cmd.Stdin = bytes.NewReader(SamplesToPCM16(samples, volume))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playing audio: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// MatchDevice finds the first device whose name contains want, or is
// contained in it.
func MatchDevice(devices []string, want string) (string, bool) {
	for _, d := range devices {
		if strings.Contains(d, want) || strings.Contains(want, d) {
			return d, true
		}
	}
	return "", false
}
