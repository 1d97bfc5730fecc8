package voicebot

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

const helperEnv = "SIDEKICK_TEST_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "bot" {
		var srv *sidecar.Server
		h := NewHandler(&fakeGateway{}, func(m wire.Message) error { return srv.Emit(m) }, 100*time.Millisecond, logr.Discard())
		srv = sidecar.NewServer(Requests, h.Handle, os.Stdout, logr.Discard())
		if err := srv.Serve(context.Background(), os.Stdin, "bot sidecar ready"); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(sidecar.Config{
		Name:            "bot",
		Path:            os.Args[0],
		Env:             []string{helperEnv + "=bot"},
		ReadyTimeout:    5 * time.Second,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}, 10*time.Millisecond, 16)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManagerRestoresVoiceAfterCrash(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.SetToken("tok")
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.JoinVoice(ctx, "g1", "c1"); err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}
	if err := m.EnableListening(ctx); err != nil {
		t.Fatalf("EnableListening: %v", err)
	}

	pid := m.Supervisor().PID()
	p, err := os.FindProcess(pid)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}

	guilds, err := m.Guilds(ctx)
	if err != nil {
		t.Fatalf("Guilds after kill: %v", err)
	}
	if len(guilds) != 1 || guilds[0].Name != "Guild One" {
		t.Errorf("guilds = %+v", guilds)
	}
	if m.Supervisor().PID() == pid {
		t.Error("expected a new sidecar process")
	}

	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := Status{Connected: true, InVoice: true, Listening: true, GuildName: "Guild One", ChannelName: "General"}
	if st != want {
		t.Errorf("status = %+v, want %+v", st, want)
	}
}

func TestManagerDeliversEvents(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.SetToken("tok")
	for _, step := range []func(context.Context) error{
		m.Connect,
		func(ctx context.Context) error { return m.JoinVoice(ctx, "g1", "c1") },
		m.EnableListening,
	} {
		if err := step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.PlayFrames(ctx, [][]byte{{1, 2}, {3}, {4, 5, 6}}); err != nil {
		t.Fatalf("PlayFrames: %v", err)
	}

	wantTypes := []string{"user_started_speaking", "user_audio", "user_stopped_speaking"}
	for i, want := range wantTypes {
		ev, err := m.RecvEvent(ctx)
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if ev.MessageType() != want {
			t.Fatalf("event %d = %s, want %s", i, ev.MessageType(), want)
		}
		if a, ok := ev.(*UserAudio); ok {
			frames, err := DecodeFrames(a.AudioBase64)
			if err != nil || len(frames) != 3 {
				t.Errorf("frames = %v, err %v", frames, err)
			}
		}
	}
	if ev, ok := m.TryRecvEvent(); ok {
		t.Errorf("unexpected event %s", ev.MessageType())
	}
}

func TestManagerStatusWithoutSidecar(t *testing.T) {
	m := newTestManager(t)
	st, err := m.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st != (Status{}) {
		t.Errorf("status = %+v", st)
	}
	if m.Supervisor().Running() {
		t.Error("status started the sidecar")
	}
	if err := m.LeaveVoice(context.Background(), "g1"); err != nil {
		t.Errorf("LeaveVoice: %v", err)
	}
}

func TestManagerConnectRequiresToken(t *testing.T) {
	m := newTestManager(t)
	if err := m.Connect(context.Background()); !sidecar.IsApplication(err) {
		t.Fatalf("err = %v, want application error", err)
	}

	m.SetToken("tok")
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := m.Channels(context.Background(), "nope")
	if !sidecar.IsApplication(err) {
		t.Fatalf("err = %v, want application error", err)
	}
	if sidecar.IsCrash(err) {
		t.Error("application error classified as a crash")
	}
}

func TestManagerForgetsRejectedConnectionAfterCrash(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.SetToken("tok")
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.JoinVoice(ctx, "g1", "c1"); err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}

	m.SetToken("revoked")
	p, err := os.FindProcess(m.Supervisor().PID())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}

	_, err = m.Guilds(ctx)
	if !sidecar.IsApplication(err) {
		t.Fatalf("Guilds after rejected reconnect: err = %v, want application error", err)
	}

	var connected bool
	var guildID string
	m.Supervisor().Locked(func(bool) { connected, guildID = m.connected, m.guildID })
	if connected || guildID != "" {
		t.Errorf("manager still remembers connected=%v guild=%q", connected, guildID)
	}
	st, err := m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Connected || st.InVoice {
		t.Errorf("status = %+v", st)
	}
}

func TestManagerStatusAfterKillIsZero(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.SetToken("tok")
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p, err := os.FindProcess(m.Supervisor().PID())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}

	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st != (Status{}) {
		t.Errorf("status = %+v, want zero", st)
	}
}
