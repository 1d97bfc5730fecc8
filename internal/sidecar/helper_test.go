package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

// The test binary doubles as a fake sidecar when helperEnv is set.
const helperEnv = "SIDEKICK_TEST_HELPER"

type echoReq struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

func (echoReq) MessageType() string { return "echo" }

type failReq struct {
	Message string `json:"message"`
}

func (failReq) MessageType() string { return "fail" }

type crashReq struct{}

func (crashReq) MessageType() string { return "crash" }

type hangReq struct{}

func (hangReq) MessageType() string { return "hang" }

type garbleReq struct{}

func (garbleReq) MessageType() string { return "garble" }

type blankReq struct{}

func (blankReq) MessageType() string { return "blank" }

type emitReq struct {
	Count int  `json:"count"`
	After bool `json:"after"`
}

func (emitReq) MessageType() string { return "emit" }

type loadReq struct {
	Path string `json:"path"`
}

func (loadReq) MessageType() string { return "load" }

type statusReq struct{}

func (statusReq) MessageType() string { return "status" }

type echoResp struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

func (echoResp) MessageType() string { return "echo" }

type statusResp struct {
	Loaded bool   `json:"loaded"`
	Path   string `json:"path"`
}

func (statusResp) MessageType() string { return "status" }

type tickEvent struct {
	N int `json:"n"`
}

func (tickEvent) MessageType() string { return "tick" }

var testRequests = wire.NewTable("test-requests",
	func() wire.Message { return new(echoReq) },
	func() wire.Message { return new(failReq) },
	func() wire.Message { return new(crashReq) },
	func() wire.Message { return new(hangReq) },
	func() wire.Message { return new(garbleReq) },
	func() wire.Message { return new(blankReq) },
	func() wire.Message { return new(emitReq) },
	func() wire.Message { return new(loadReq) },
	func() wire.Message { return new(statusReq) },
	func() wire.Message { return new(wire.Shutdown) },
)

var testResponses = wire.NewTable("test-responses",
	func() wire.Message { return new(wire.Ok) },
	func() wire.Message { return new(wire.Error) },
	func() wire.Message { return new(echoResp) },
	func() wire.Message { return new(statusResp) },
	func() wire.Message { return new(tickEvent) },
)

func isTick(m wire.Message) bool {
	_, ok := m.(*tickEvent)
	return ok
}

var simpleProto = Protocol{Responses: testResponses}

var demuxProto = Protocol{Responses: testResponses, IsEvent: isTick}

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func runHelper(mode string) int {
	switch mode {
	case "noready":
		time.Sleep(time.Minute)
		return 0
	case "readyerror":
		fmt.Fprintln(os.Stdout, `{"type":"error","message":"backend failed to initialize"}`)
		return 1
	}

	var srv *Server
	var loaded string
	handle := func(ctx context.Context, req wire.Message) (wire.Message, error) {
		switch r := req.(type) {
		case *echoReq:
			return &echoResp{Seq: r.Seq, Text: r.Text}, nil
		case *failReq:
			return nil, errors.New(r.Message)
		case *crashReq:
			os.Exit(3)
		case *hangReq:
			time.Sleep(time.Minute)
		case *garbleReq:
			fmt.Fprintln(os.Stdout, "this is not json")
			time.Sleep(time.Minute)
		case *blankReq:
			fmt.Fprintln(os.Stdout)
			time.Sleep(time.Minute)
		case *emitReq:
			if r.After {
				// Reply first, then push events from another goroutine.
				go func() {
					time.Sleep(20 * time.Millisecond)
					for i := 0; i < r.Count; i++ {
						_ = srv.Emit(&tickEvent{N: i})
					}
				}()
				return &wire.Ok{Message: "emitting"}, nil
			}
			for i := 0; i < r.Count; i++ {
				_ = srv.Emit(&tickEvent{N: i})
			}
			return &wire.Ok{Message: "emitted"}, nil
		case *loadReq:
			loaded = r.Path
			return &wire.Ok{Message: "Model loaded"}, nil
		case *statusReq:
			return &statusResp{Loaded: loaded != "", Path: loaded}, nil
		case *wire.Shutdown:
			return &wire.Ok{Message: "Shutting down"}, nil
		}
		return nil, fmt.Errorf("unhandled %s", req.MessageType())
	}
	srv = NewServer(testRequests, handle, os.Stdout, logr.Discard())
	if err := srv.Serve(context.Background(), os.Stdin, "test sidecar ready"); err != nil {
		return 1
	}
	return 0
}

func helperConfig(t *testing.T, mode string) Config {
	t.Helper()
	return Config{
		Name:            "test",
		Path:            os.Args[0],
		Env:             []string{helperEnv + "=" + mode},
		ReadyTimeout:    5 * time.Second,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}
}

func killPID(t *testing.T, pid int) {
	t.Helper()
	p, err := os.FindProcess(pid)
	if err != nil {
		t.Fatalf("finding process %d: %v", pid, err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("killing process %d: %v", pid, err)
	}
}

func waitDead(t *testing.T, h Handle) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("handle still alive after kill")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
