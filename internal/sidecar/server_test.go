package sidecar

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

func runServer(t *testing.T, input string, handle HandlerFunc) []wire.Message {
	t.Helper()
	var out bytes.Buffer
	srv := NewServer(testRequests, handle, &out, logr.Discard())
	if err := srv.Serve(context.Background(), strings.NewReader(input), "ready"); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var msgs []wire.Message
	s := wire.NewScanner(&out)
	for s.Scan() {
		m, err := testResponses.Decode(s.Bytes())
		if err != nil {
			t.Fatalf("decoding %q: %v", s.Text(), err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestServerLoop(t *testing.T) {
	handle := func(_ context.Context, req wire.Message) (wire.Message, error) {
		switch r := req.(type) {
		case *echoReq:
			if r.Seq < 0 {
				panic("negative sequence")
			}
			return &echoResp{Seq: r.Seq}, nil
		case *wire.Shutdown:
			return &wire.Ok{Message: "Shutting down"}, nil
		}
		return nil, nil
	}

	input := strings.Join([]string{
		`{"type":"echo","seq":1}`,
		``,
		`{not json`,
		`{"type":"teleport"}`,
		`{"type":"echo","seq":-1}`,
		`{"type":"status"}`,
		`{"type":"shutdown"}`,
		`{"type":"echo","seq":2}`,
	}, "\n") + "\n"

	msgs := runServer(t, input, handle)

	wantTypes := []string{"ok", "echo", "error", "error", "error", "error", "ok"}
	if len(msgs) != len(wantTypes) {
		t.Fatalf("got %d replies, want %d: %v", len(msgs), len(wantTypes), msgs)
	}
	for i, want := range wantTypes {
		if got := msgs[i].MessageType(); got != want {
			t.Errorf("reply %d type = %s, want %s", i, got, want)
		}
	}
	if ready := msgs[0].(*wire.Ok); ready.Message != "ready" {
		t.Errorf("ready message = %q", ready.Message)
	}
	if e := msgs[3].(*wire.Error); !strings.Contains(e.Message, "teleport") {
		t.Errorf("unknown type error = %q", e.Message)
	}
	if e := msgs[4].(*wire.Error); !strings.Contains(e.Message, "negative sequence") {
		t.Errorf("panic error = %q", e.Message)
	}
}

func TestServerHandlerError(t *testing.T) {
	handle := func(context.Context, wire.Message) (wire.Message, error) {
		return nil, errString("file not found")
	}
	msgs := runServer(t, `{"type":"status"}`+"\n", handle)
	if len(msgs) != 2 {
		t.Fatalf("got %d replies", len(msgs))
	}
	if e, ok := msgs[1].(*wire.Error); !ok || e.Message != "file not found" {
		t.Errorf("reply = %#v", msgs[1])
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		kind  Kind
		crash bool
	}{
		{KindSpawn, false},
		{KindTransport, true},
		{KindProtocol, true},
		{KindTimeout, true},
		{KindApplication, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := &Error{Sidecar: "x", Kind: tt.kind, Err: errString("boom")}
			if IsCrash(err) != tt.crash {
				t.Errorf("IsCrash = %v, want %v", IsCrash(err), tt.crash)
			}
		})
	}
	if IsCrash(errString("Broken pipe")) {
		t.Error("untyped errors must never be classified as crashes")
	}
}

func TestExpectUnexpectedVariant(t *testing.T) {
	_, err := Expect[*echoResp]("test", &wire.Ok{Message: "hi"})
	if KindOf(err) != KindProtocol {
		t.Fatalf("err = %v, want protocol", err)
	}
	_, err = Expect[*echoResp]("test", &wire.Error{Message: "nope"})
	if !IsApplication(err) || err.Error() != "nope" {
		t.Fatalf("err = %v, want application 'nope'", err)
	}
}

func TestServerStopsWhenIdleContextIsCancelled(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()

	var out bytes.Buffer
	srv := NewServer(testRequests, func(context.Context, wire.Message) (wire.Message, error) {
		return &wire.Ok{}, nil
	}, &out, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, in, "ready") }()

	// No request ever arrives.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept waiting for input after cancel")
	}
	if !strings.Contains(out.String(), `"ready"`) {
		t.Errorf("output = %q", out.String())
	}
}
