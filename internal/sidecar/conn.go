package sidecar

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/alexsjones/sidekick/internal/wire"
)

// Handle is a live connection to one sidecar process. Callers must not
// issue concurrent Sends; the Supervisor serializes them.
type Handle interface {
	// Send writes req and waits for its reply.
	Send(ctx context.Context, req wire.Message) (wire.Message, error)
	// Alive reports, without blocking, whether the handle can still be used.
	Alive() bool
	// PID returns the child's process id.
	PID() int
	// Shutdown asks the child to exit, waits a bounded time, then kills it.
	Shutdown(ctx context.Context) error
	// Kill terminates the child immediately.
	Kill()
}

// Conn is the synchronous handle: the calling goroutine writes a request and
// reads the next line as its reply.
type Conn struct {
	cfg     Config
	proto   Protocol
	proc    *process
	scanner *bufio.Scanner

	broken atomic.Bool
	closed atomic.Bool
}

var _ Handle = (*Conn)(nil)

// Spawn starts the sidecar and waits for its ready Ok.
func Spawn(ctx context.Context, cfg Config, proto Protocol) (*Conn, error) {
	cfg = cfg.withDefaults()
	proc, err := startProcess(cfg)
	if err != nil {
		return nil, &Error{Sidecar: cfg.Name, Kind: KindSpawn, Err: err}
	}
	c := &Conn{
		cfg:     cfg,
		proto:   proto,
		proc:    proc,
		scanner: wire.NewScanner(proc.stdout),
	}

	resp, err := c.roundTrip(ctx, "ready", nil, cfg.ReadyTimeout)
	if err == nil {
		_, err = ExpectOk(cfg.Name, resp)
	}
	if err != nil {
		c.Kill()
		return nil, &Error{Sidecar: cfg.Name, Op: "ready", Kind: KindSpawn, Err: err}
	}
	cfg.Log.V(1).Info("sidecar ready", "pid", proc.pid())
	return c, nil
}

func (c *Conn) Send(ctx context.Context, req wire.Message) (wire.Message, error) {
	op := req.MessageType()
	if !c.Alive() {
		return nil, &Error{Sidecar: c.cfg.Name, Op: op, Kind: KindTransport, Err: fmt.Errorf("process is not running")}
	}
	line, err := wire.Marshal(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.roundTrip(ctx, op, line, c.cfg.RequestTimeout)
	c.cfg.Metrics.Request(c.cfg.Name, op, time.Since(start), err)
	return resp, err
}

// roundTrip writes line (if any) and reads one reply. A watchdog kills the
// child when the deadline passes so the blocked read returns.
func (c *Conn) roundTrip(ctx context.Context, op string, line []byte, timeout time.Duration) (wire.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var fired atomic.Bool
	stop := context.AfterFunc(ctx, func() {
		fired.Store(true)
		c.proc.kill()
	})
	defer stop()

	fail := func(kind Kind, err error) (wire.Message, error) {
		c.broken.Store(true)
		if fired.Load() {
			kind, err = KindTimeout, fmt.Errorf("no reply within %s: %w", timeout, context.Cause(ctx))
		}
		return nil, &Error{Sidecar: c.cfg.Name, Op: op, Kind: kind, Err: err}
	}

	if line != nil {
		if err := c.proc.write(line); err != nil {
			return fail(KindTransport, fmt.Errorf("writing request: %w", err))
		}
	}

	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		return fail(KindTransport, fmt.Errorf("reading reply: %w", err))
	}
	raw := c.scanner.Bytes()
	if len(bytes.TrimSpace(raw)) == 0 {
		return fail(KindTransport, wire.ErrEmptyLine)
	}
	msg, err := c.proto.Responses.Decode(raw)
	if err != nil {
		c.proc.kill()
		return fail(KindProtocol, err)
	}
	return msg, nil
}

func (c *Conn) Alive() bool {
	return !c.broken.Load() && !c.closed.Load() && c.proc.alive()
}

func (c *Conn) PID() int { return c.proc.pid() }

func (c *Conn) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !c.broken.Load() && c.proc.alive() {
		line, _ := wire.Marshal(&wire.Shutdown{})
		if _, err := c.roundTrip(ctx, "shutdown", line, c.cfg.ShutdownTimeout); err != nil {
			c.cfg.Log.Info("shutdown request failed", "error", err.Error())
		}
	}
	return c.finish()
}

func (c *Conn) finish() error {
	if !c.proc.release(c.cfg.ShutdownTimeout) {
		return fmt.Errorf("%s sidecar did not exit within %s, killed", c.cfg.Name, c.cfg.ShutdownTimeout)
	}
	return nil
}

func (c *Conn) Kill() {
	c.closed.Store(true)
	c.proc.kill()
	c.proc.release(c.cfg.ShutdownTimeout)
}
