package sidecar

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

// HandlerFunc executes one decoded request and returns exactly one reply.
// Returning an error sends it to the parent as an error envelope.
type HandlerFunc func(ctx context.Context, req wire.Message) (wire.Message, error)

// Server is the loop that runs inside a sidecar process. It reads requests
// from the parent, dispatches them, and writes one reply per request.
type Server struct {
	requests *wire.Table
	handle   HandlerFunc
	out      *wire.Writer
	log      logr.Logger
}

// NewServer creates a server that decodes requests with requests and writes
// replies to out.
func NewServer(requests *wire.Table, handle HandlerFunc, out io.Writer, log logr.Logger) *Server {
	return &Server{
		requests: requests,
		handle:   handle,
		out:      wire.NewWriter(out),
		log:      log,
	}
}

// Emit writes an unsolicited message. It is safe to call from any goroutine.
func (s *Server) Emit(m wire.Message) error {
	return s.out.Write(m)
}

// Fail reports a startup failure to the parent. The caller exits non-zero
// afterwards.
func (s *Server) Fail(err error) {
	_ = s.out.Write(&wire.Error{Message: err.Error()})
}

// Serve announces readiness and processes requests until a shutdown request,
// EOF on in, or ctx cancellation. Cancellation is noticed while waiting for
// a request too.
func (s *Server) Serve(ctx context.Context, in io.Reader, ready string) error {
	if err := s.out.Write(&wire.Ok{Message: ready}); err != nil {
		return fmt.Errorf("writing ready: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	lines, readErr := readLines(in, done)

	for {
		var line []byte
		select {
		case <-ctx.Done():
			s.log.Info("context cancelled, exiting")
			return nil
		case l, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("reading requests: %w", err)
				}
				s.log.Info("stdin closed, exiting")
				return nil
			}
			line = l
		}
		if ctx.Err() != nil {
			return nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		req, err := s.requests.Decode(line)
		if err != nil {
			s.log.Info("rejecting request", "error", err.Error())
			if werr := s.out.Write(&wire.Error{Message: fmt.Sprintf("invalid request: %v", err)}); werr != nil {
				return fmt.Errorf("writing reply: %w", werr)
			}
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := s.out.Write(resp); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
		if req.MessageType() == (wire.Shutdown{}).MessageType() {
			s.log.Info("shutdown requested")
			return nil
		}
	}
}

// readLines scans in on its own goroutine. The scan error, possibly nil, is
// sent on the second channel before lines is closed. A pending read on in is
// abandoned once done closes.
func readLines(in io.Reader, done <-chan struct{}) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := wire.NewScanner(in)
		for scanner.Scan() {
			line := bytes.Clone(scanner.Bytes())
			select {
			case lines <- line:
			case <-done:
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

// dispatch runs the handler, turning errors and panics into error envelopes.
func (s *Server) dispatch(ctx context.Context, req wire.Message) (resp wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Errorf("%v", r), "handler panicked", "type", req.MessageType())
			resp = &wire.Error{Message: fmt.Sprintf("internal error handling %s: %v", req.MessageType(), r)}
		}
	}()

	resp, err := s.handle(ctx, req)
	if err != nil {
		return &wire.Error{Message: err.Error()}
	}
	if resp == nil {
		return &wire.Error{Message: fmt.Sprintf("no reply for %s", req.MessageType())}
	}
	return resp
}
