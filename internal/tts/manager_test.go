package tts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/sidecar"
)

const helperEnv = "SIDEKICK_TEST_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "tts" {
		player := &fakePlayer{devices: []string{"default", "hw:CARD=USB,DEV=0"}}
		srv := sidecar.NewServer(Requests, NewHandler(&toneBackend{}, player, logr.Discard()).Handle, os.Stdout, logr.Discard())
		if err := srv.Serve(context.Background(), os.Stdin, "TTS sidecar ready"); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(sidecar.Config{
		Name:            "tts",
		Path:            os.Args[0],
		Env:             []string{helperEnv + "=tts"},
		ReadyTimeout:    5 * time.Second,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}, 10*time.Millisecond)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func killSidecar(t *testing.T, pid int) {
	t.Helper()
	p, err := os.FindProcess(pid)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}
}

func TestManagerReloadsVoiceAfterCrash(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	path := voiceFile(t, "amy.yaml", "voice: sage\n")

	if err := m.LoadModel(ctx, path); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	m.SetOutputDevice("USB")

	pid := m.Supervisor().PID()
	killSidecar(t, pid)

	if err := m.Speak(ctx, "hello", 0.8); err != nil {
		t.Fatalf("Speak after kill: %v", err)
	}
	if m.Supervisor().PID() == pid {
		t.Error("expected a new sidecar process")
	}
	st, err := m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Loaded || st.ModelPath != path {
		t.Errorf("status after respawn = %+v", st)
	}
	if m.OutputDevice() != "USB" {
		t.Errorf("output device = %q", m.OutputDevice())
	}

	samples, rate, err := m.Synthesize(ctx, "four")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(samples) != 4 || rate != m.SampleRate() {
		t.Errorf("got %d samples at %d Hz", len(samples), rate)
	}
}

func TestManagerForgetsVoiceRejectedAfterCrash(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	path := voiceFile(t, "amy.yaml", "voice: sage\n")
	if err := m.LoadModel(ctx, path); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	killSidecar(t, m.Supervisor().PID())
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status after kill: %v", err)
	}
	if st.Loaded {
		t.Errorf("status = %+v", st)
	}
	if m.IsLoaded() || m.ModelPath() != "" {
		t.Errorf("manager still remembers %q", m.ModelPath())
	}
	if err := m.Speak(ctx, "hi", 1); !sidecar.IsApplication(err) {
		t.Errorf("Speak without voice: err = %v, want application error", err)
	}
}

func TestManagerLoadMissingVoiceDoesNotSpawn(t *testing.T) {
	m := newTestManager(t)
	err := m.LoadModel(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if !sidecar.IsApplication(err) {
		t.Fatalf("err = %v, want application error", err)
	}
	if m.Supervisor().Running() {
		t.Error("sidecar started for a missing voice")
	}
	if err := m.UnloadModel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Supervisor().Running() {
		t.Error("unload started the sidecar")
	}
}

func TestManagerListDevices(t *testing.T) {
	m := newTestManager(t)
	devices, err := m.ListDevices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 || devices[1] != "hw:CARD=USB,DEV=0" {
		t.Errorf("devices = %v", devices)
	}
}
