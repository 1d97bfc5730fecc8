package sidecar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexsjones/sidekick/internal/wire"
)

// DemuxConn is the handle for sidecars that push unsolicited events. A
// single reader goroutine owns the child's stdout and routes each line either
// to the events channel or to the responses channel that the one in-flight
// Send waits on.
type DemuxConn struct {
	cfg   Config
	proto Protocol
	proc  *process

	responses chan wire.Message
	events    chan<- wire.Message

	// done is closed when the reader exits; readErr is set before that.
	done     chan struct{}
	readErr  error
	failOnce sync.Once

	dead   atomic.Bool
	closed atomic.Bool
}

var _ Handle = (*DemuxConn)(nil)

// SpawnDemux starts the sidecar, launches its reader and waits for the ready
// Ok. Events are delivered to events without blocking; when it is full the
// event is dropped.
func SpawnDemux(ctx context.Context, cfg Config, proto Protocol, events chan<- wire.Message) (*DemuxConn, error) {
	cfg = cfg.withDefaults()
	if proto.IsEvent == nil {
		proto.IsEvent = func(wire.Message) bool { return false }
	}
	proc, err := startProcess(cfg)
	if err != nil {
		return nil, &Error{Sidecar: cfg.Name, Kind: KindSpawn, Err: err}
	}
	c := &DemuxConn{
		cfg:       cfg,
		proto:     proto,
		proc:      proc,
		responses: make(chan wire.Message, 1),
		events:    events,
		done:      make(chan struct{}),
	}
	go c.readLoop()

	resp, err := c.await(ctx, "ready", cfg.ReadyTimeout)
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

func (c *DemuxConn) readLoop() {
	defer close(c.done)

	scanner := wire.NewScanner(c.proc.stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			c.fail(KindTransport, wire.ErrEmptyLine)
			return
		}
		msg, err := c.proto.Responses.Decode(line)
		if err != nil {
			c.fail(KindProtocol, err)
			return
		}

		if c.proto.IsEvent(msg) {
			c.deliver(msg)
			continue
		}

		select {
		case c.responses <- msg:
		default:
			c.fail(KindProtocol, fmt.Errorf("unsolicited %q reply", msg.MessageType()))
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.fail(KindTransport, fmt.Errorf("reading reply: %w", err))
}

func (c *DemuxConn) deliver(ev wire.Message) {
	select {
	case c.events <- ev:
		c.cfg.Metrics.Event(c.cfg.Name, ev.MessageType(), false)
	default:
		c.cfg.Log.Info("Event channel full, dropping event", "type", ev.MessageType())
		c.cfg.Metrics.Event(c.cfg.Name, ev.MessageType(), true)
	}
}

// fail records the first terminal error and marks the handle dead. Protocol
// violations also kill the child since its stream can no longer be trusted.
func (c *DemuxConn) fail(kind Kind, err error) {
	c.failOnce.Do(func() {
		c.readErr = &Error{Sidecar: c.cfg.Name, Kind: kind, Err: err}
		c.dead.Store(true)
		if kind == KindProtocol {
			c.proc.kill()
		}
	})
}

func (c *DemuxConn) Send(ctx context.Context, req wire.Message) (wire.Message, error) {
	op := req.MessageType()
	if !c.Alive() {
		return nil, c.deadErr(op)
	}
	line, err := wire.Marshal(req)
	if err != nil {
		return nil, err
	}

	select {
	case stale := <-c.responses:
		c.fail(KindProtocol, fmt.Errorf("unsolicited %q reply", stale.MessageType()))
		return nil, c.deadErr(op)
	default:
	}

	start := time.Now()
	resp, err := c.exchange(ctx, op, line)
	c.cfg.Metrics.Request(c.cfg.Name, op, time.Since(start), err)
	return resp, err
}

func (c *DemuxConn) exchange(ctx context.Context, op string, line []byte) (wire.Message, error) {
	if err := c.proc.write(line); err != nil {
		c.dead.Store(true)
		return nil, &Error{Sidecar: c.cfg.Name, Op: op, Kind: KindTransport, Err: fmt.Errorf("writing request: %w", err)}
	}
	return c.await(ctx, op, c.cfg.RequestTimeout)
}

// await waits for the next response. A timeout kills the child: the stream
// can no longer be matched to requests.
func (c *DemuxConn) await(ctx context.Context, op string, timeout time.Duration) (wire.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case msg := <-c.responses:
		return msg, nil
	case <-c.done:
		select {
		case msg := <-c.responses:
			return msg, nil
		default:
		}
		return nil, c.deadErr(op)
	case <-ctx.Done():
		c.dead.Store(true)
		c.proc.kill()
		return nil, &Error{Sidecar: c.cfg.Name, Op: op, Kind: KindTimeout, Err: fmt.Errorf("no reply within %s: %w", timeout, context.Cause(ctx))}
	}
}

// deadErr returns the reader's terminal error once it has exited, or a
// generic transport error.
func (c *DemuxConn) deadErr(op string) error {
	select {
	case <-c.done:
		if se, ok := c.readErr.(*Error); ok {
			e := *se
			e.Op = op
			return &e
		}
	default:
	}
	return &Error{Sidecar: c.cfg.Name, Op: op, Kind: KindTransport, Err: fmt.Errorf("process is not running")}
}

func (c *DemuxConn) Alive() bool {
	return !c.dead.Load() && !c.closed.Load() && c.proc.alive()
}

func (c *DemuxConn) PID() int { return c.proc.pid() }

func (c *DemuxConn) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !c.dead.Load() && c.proc.alive() {
		line, _ := wire.Marshal(&wire.Shutdown{})
		if err := c.proc.write(line); err != nil {
			c.cfg.Log.Info("shutdown request failed", "error", err.Error())
		} else if _, err := c.await(ctx, "shutdown", c.cfg.ShutdownTimeout); err != nil {
			c.cfg.Log.Info("shutdown request failed", "error", err.Error())
		}
	}
	exited := c.proc.release(c.cfg.ShutdownTimeout)
	<-c.done
	if !exited {
		return fmt.Errorf("%s sidecar did not exit within %s, killed", c.cfg.Name, c.cfg.ShutdownTimeout)
	}
	return nil
}

func (c *DemuxConn) Kill() {
	c.closed.Store(true)
	c.dead.Store(true)
	c.proc.kill()
	c.proc.release(c.cfg.ShutdownTimeout)
	<-c.done
}
