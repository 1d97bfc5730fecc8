package llm

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
	if os.Getenv(helperEnv) == "llm" {
		srv := sidecar.NewServer(Requests, NewHandler(&echoBackend{}, logr.Discard()).Handle, os.Stdout, logr.Discard())
		if err := srv.Serve(context.Background(), os.Stdin, "llm sidecar ready"); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(sidecar.Config{
		Name:            "llm",
		Path:            os.Args[0],
		Env:             []string{helperEnv + "=llm"},
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

func TestManagerReloadsModelAfterCrash(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "m.bin")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.LoadModel(ctx, path); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	before, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !before.Loaded || before.ModelPath != path {
		t.Fatalf("status = %+v", before)
	}

	pid := m.Supervisor().PID()
	killSidecar(t, pid)

	after, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status after kill: %v", err)
	}
	if *after != *before {
		t.Errorf("status after respawn = %+v, want %+v", after, before)
	}
	if m.Supervisor().PID() == pid {
		t.Error("expected a new sidecar process")
	}

	text, err := m.Generate(ctx, "hi", 8)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "m: hi" {
		t.Errorf("text = %q", text)
	}
}

func TestManagerRejectsMissingModelWithoutSpawning(t *testing.T) {
	m := newTestManager(t)
	err := m.LoadModel(context.Background(), filepath.Join(t.TempDir(), "missing.gguf"))
	if !sidecar.IsApplication(err) {
		t.Fatalf("err = %v, want application error", err)
	}
	if m.Supervisor().Running() {
		t.Error("sidecar started for a missing model")
	}
}

func TestManagerChatWithoutModel(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Chat(context.Background(), "", "hello", 0)
	if err == nil || err.Error() != "No model loaded" {
		t.Fatalf("err = %v", err)
	}
	pid := m.Supervisor().PID()
	if _, err := m.Status(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Supervisor().PID() != pid {
		t.Error("application error replaced the sidecar")
	}
}

func TestManagerUnloadDoesNotSpawn(t *testing.T) {
	m := newTestManager(t)
	if err := m.UnloadModel(context.Background()); err != nil {
		t.Fatalf("UnloadModel: %v", err)
	}
	if m.Supervisor().Running() {
		t.Error("unload started the sidecar")
	}
	if m.IsLoaded() || m.ModelPath() != "" {
		t.Error("unexpected model state")
	}
}

func TestManagerForgetsModelRejectedAfterCrash(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "m.bin")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
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
		t.Errorf("status = %+v, want nothing loaded", st)
	}
	if m.IsLoaded() || m.ModelPath() != "" {
		t.Errorf("manager still remembers %q after the reload was rejected", m.ModelPath())
	}
}
