package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/alexsjones/sidekick/internal/wire"
)

func spawnConn(t *testing.T, cfg Config) *Conn {
	t.Helper()
	c, err := Spawn(context.Background(), cfg, simpleProto)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() { c.Kill() })
	return c
}

func TestConnPairsRepliesWithRequests(t *testing.T) {
	c := spawnConn(t, helperConfig(t, "serve"))
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		text := fmt.Sprintf("payload-%d", i)
		resp, err := c.Send(ctx, &echoReq{Seq: i, Text: text})
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		echo, err := Expect[*echoResp]("test", resp)
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if echo.Seq != i || echo.Text != text {
			t.Fatalf("Send %d got %+v", i, echo)
		}
	}
}

func TestConnSpawnFailures(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		timeout time.Duration
		want    string
	}{
		{"ready error", "readyerror", 5 * time.Second, "backend failed to initialize"},
		{"ready timeout", "noready", 200 * time.Millisecond, "no reply within"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := helperConfig(t, tt.mode)
			cfg.ReadyTimeout = tt.timeout

			start := time.Now()
			_, err := Spawn(context.Background(), cfg, simpleProto)
			if err == nil {
				t.Fatal("expected spawn error")
			}
			if KindOf(err) != KindSpawn {
				t.Errorf("kind = %v, want spawn", KindOf(err))
			}
			if IsCrash(err) {
				t.Error("spawn errors must not be classified as crashes")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if time.Since(start) > 4*time.Second {
				t.Errorf("spawn took %s", time.Since(start))
			}
		})
	}
}

func TestConnMissingExecutable(t *testing.T) {
	cfg := helperConfig(t, "serve")
	cfg.Path = "/nonexistent/sidecar"
	_, err := Spawn(context.Background(), cfg, simpleProto)
	if KindOf(err) != KindSpawn {
		t.Fatalf("err = %v, want spawn error", err)
	}
}

func TestConnApplicationErrorKeepsProcess(t *testing.T) {
	c := spawnConn(t, helperConfig(t, "serve"))
	pid := c.PID()

	resp, err := c.Send(context.Background(), &failReq{Message: "model not found"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, err = ExpectOk("test", resp)
	if !IsApplication(err) {
		t.Fatalf("err = %v, want application error", err)
	}
	if err.Error() != "model not found" {
		t.Errorf("message = %q, want verbatim child message", err.Error())
	}
	if !c.Alive() || c.PID() != pid {
		t.Error("application error must not affect the process")
	}
}

func TestConnCrashKinds(t *testing.T) {
	tests := []struct {
		name string
		req  wire.Message
		want Kind
	}{
		{"process exits", &crashReq{}, KindTransport},
		{"reply timeout", &hangReq{}, KindTimeout},
		{"malformed reply", &garbleReq{}, KindProtocol},
		{"empty line", &blankReq{}, KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := helperConfig(t, "serve")
			cfg.RequestTimeout = 300 * time.Millisecond
			c := spawnConn(t, cfg)

			_, err := c.Send(context.Background(), tt.req)
			if KindOf(err) != tt.want {
				t.Fatalf("err = %v (kind %v), want %v", err, KindOf(err), tt.want)
			}
			if !IsCrash(err) {
				t.Error("expected crash classification")
			}
			if c.Alive() {
				t.Error("handle must be dead after a crash error")
			}
		})
	}
}

func TestConnContextCancel(t *testing.T) {
	c := spawnConn(t, helperConfig(t, "serve"))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, &hangReq{})
	if KindOf(err) != KindTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped deadline", err)
	}
}

func TestConnShutdownIsIdempotent(t *testing.T) {
	c := spawnConn(t, helperConfig(t, "serve"))
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if c.Alive() {
		t.Error("alive after shutdown")
	}
	done := make(chan error, 1)
	go func() { done <- c.Shutdown(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("second Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Shutdown blocked")
	}
}

func TestConnSendAfterExternalKill(t *testing.T) {
	c := spawnConn(t, helperConfig(t, "serve"))
	killPID(t, c.PID())
	waitDead(t, c)

	_, err := c.Send(context.Background(), &statusReq{})
	if !IsCrash(err) {
		t.Fatalf("err = %v, want crash", err)
	}
}

func TestConnRecordsExitStatus(t *testing.T) {
	crashed := spawnConn(t, helperConfig(t, "serve"))
	if _, err := crashed.Send(context.Background(), &crashReq{}); !IsCrash(err) {
		t.Fatalf("err = %v, want crash", err)
	}
	select {
	case <-crashed.proc.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
	var exitErr *exec.ExitError
	if err := crashed.proc.exitErr(); !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("exitErr = %v, want exit status 3", err)
	}

	clean := spawnConn(t, helperConfig(t, "serve"))
	if err := clean.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := clean.proc.exitErr(); err != nil {
		t.Errorf("exitErr after shutdown = %v", err)
	}
}
