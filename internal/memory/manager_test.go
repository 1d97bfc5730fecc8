package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/sidecar"
)

const (
	helperEnv = "SIDEKICK_TEST_HELPER"
	dsnEnv    = "SIDEKICK_TEST_DSN"
)

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "memory" {
		os.Exit(runSidecar())
	}
	os.Exit(m.Run())
}

func runSidecar() int {
	ctx := context.Background()
	storage, err := OpenSQLite(ctx, os.Getenv(dsnEnv))
	if err != nil {
		return 1
	}
	defer storage.Close()
	h, err := NewHandler(storage, DefaultModel, EmbedderOptions{}, logr.Discard())
	if err != nil {
		return 1
	}
	srv := sidecar.NewServer(Requests, h.Handle, os.Stdout, logr.Discard())
	if err := srv.Serve(ctx, os.Stdin, "memory sidecar ready"); err != nil {
		return 1
	}
	return 0
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "memory.db")
	m := NewManager(sidecar.Config{
		Name:            "memory",
		Path:            os.Args[0],
		Env:             []string{helperEnv + "=memory", dsnEnv + "=" + dsn},
		ReadyTimeout:    5 * time.Second,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}, 10*time.Millisecond)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManagerRestoresModelAfterCrash(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.LoadModel(ctx, "hash-1024"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if _, err := m.Store(ctx, "alice", "my sister lives in Porto", false); err != nil {
		t.Fatalf("Store: %v", err)
	}

	pid := m.Supervisor().PID()
	p, _ := os.FindProcess(pid)
	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}

	id, err := m.CurrentModel(ctx)
	if err != nil {
		t.Fatalf("CurrentModel after kill: %v", err)
	}
	if id != "hash-1024" {
		t.Errorf("model after respawn = %q, want hash-1024", id)
	}
	if m.Supervisor().PID() == pid {
		t.Error("expected a new sidecar process")
	}

	res, err := m.Query(ctx, "alice", "where does my sister live", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 1 {
		t.Errorf("results = %+v", res)
	}
}

func TestManagerRemember(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	stored, err := m.Remember(ctx, "bob", "ok thanks", false)
	if err != nil || stored {
		t.Fatalf("Remember(filler) = %v, %v", stored, err)
	}
	if m.Supervisor().Running() {
		t.Error("filtered content started the sidecar")
	}
	stored, err = m.Remember(ctx, "bob", "I am allergic to peanuts and shellfish", false)
	if err != nil || !stored {
		t.Fatalf("Remember = %v, %v", stored, err)
	}
	n, err := m.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestManagerApplicationError(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	err := m.LoadModel(ctx, "does-not-exist")
	if !sidecar.IsApplication(err) {
		t.Fatalf("err = %v, want application error", err)
	}
	pid := m.Supervisor().PID()
	st, err := m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentModelID != DefaultModel {
		t.Errorf("status = %+v", st)
	}
	if m.Supervisor().PID() != pid {
		t.Error("application error replaced the sidecar")
	}
}
