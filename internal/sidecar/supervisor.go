// Package sidecar runs native backends in child processes and talks to them
// over the wire protocol. It provides the two handle variants, the child-side
// serve loop, and the Supervisor that respawns crashed children.
package sidecar

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alexsjones/sidekick/internal/wire"
)

// SpawnFunc starts a new handle.
type SpawnFunc func(ctx context.Context) (Handle, error)

// ReplayFunc restores setup state on a freshly spawned handle. It runs with
// the supervisor lock held and must talk to the sidecar only through h.
type ReplayFunc func(ctx context.Context, h Handle) error

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithReplay sets the function that restores state after a respawn.
func WithReplay(fn ReplayFunc) Option {
	return func(s *Supervisor) { s.replay = fn }
}

// WithSettleDelay sets how long to wait after a replay before the retried
// request is sent.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Supervisor) { s.settle = d }
}

// WithEvents makes the supervisor spawn event-demultiplexing handles that
// push events onto ch.
func WithEvents(ch chan<- wire.Message) Option {
	return func(s *Supervisor) { s.events = ch }
}

// WithSpawnFunc replaces process spawning. Used to supervise handles that are
// not backed by Spawn/SpawnDemux.
func WithSpawnFunc(fn SpawnFunc) Option {
	return func(s *Supervisor) { s.spawn = fn }
}

// Supervisor owns at most one handle to a sidecar. It spawns lazily, replaces
// dead handles, and retries a request exactly once when it fails in a way
// that means the child crashed. All operations are serialized.
type Supervisor struct {
	cfg     Config
	proto   Protocol
	spawn   SpawnFunc
	replay  ReplayFunc
	settle  time.Duration
	events  chan<- wire.Message
	log     logr.Logger
	metrics Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	handle Handle
	spawns int
}

// NewSupervisor creates a supervisor. No process is started until the first
// call.
func NewSupervisor(cfg Config, proto Protocol, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:     cfg,
		proto:   proto,
		log:     cfg.Log,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer("sidekick/sidecar"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.spawn == nil {
		s.spawn = s.spawnProcess
	}
	return s
}

func (s *Supervisor) spawnProcess(ctx context.Context) (Handle, error) {
	if s.events != nil {
		return SpawnDemux(ctx, s.cfg, s.proto, s.events)
	}
	return Spawn(ctx, s.cfg, s.proto)
}

// Name returns the sidecar name.
func (s *Supervisor) Name() string { return s.cfg.Name }

// Do runs fn against a live handle. If fn fails with a crash error the handle
// is discarded, a new one is spawned and replayed, and fn runs once more. The
// result of the second attempt is final.
func (s *Supervisor) Do(ctx context.Context, op string, fn func(ctx context.Context, h Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "sidecar."+op, trace.WithAttributes(
		attribute.String("sidecar.name", s.cfg.Name),
		attribute.String("sidecar.op", op),
	))
	defer span.End()

	err := s.attempt(ctx, op, fn)
	if IsCrash(err) && ctx.Err() == nil {
		s.log.Info("sidecar appears to have crashed, respawning", "op", op, "error", err.Error())
		span.AddEvent("respawn")
		s.discardLocked()
		err = s.attempt(ctx, op, fn)
	}
	if err != nil {
		if IsCrash(err) {
			s.discardLocked()
		}
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return err
}

func (s *Supervisor) attempt(ctx context.Context, op string, fn func(ctx context.Context, h Handle) error) error {
	h, err := s.ensureLocked(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, h)
}

// Call sends req on a live handle with the same retry policy as Do.
func (s *Supervisor) Call(ctx context.Context, req wire.Message) (wire.Message, error) {
	var resp wire.Message
	err := s.Do(ctx, req.MessageType(), func(ctx context.Context, h Handle) error {
		var err error
		resp, err = h.Send(ctx, req)
		return err
	})
	return resp, err
}

// IfRunning runs fn only when a live handle already exists. It never spawns
// and never retries. It reports whether fn ran.
func (s *Supervisor) IfRunning(ctx context.Context, fn func(ctx context.Context, h Handle) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil || !s.handle.Alive() {
		return false, nil
	}
	err := fn(ctx, s.handle)
	if IsCrash(err) {
		s.discardLocked()
	}
	return true, err
}

// Locked runs fn with the supervisor lock held, passing whether a live handle
// exists. Use it to read replay state.
func (s *Supervisor) Locked(fn func(running bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.handle != nil && s.handle.Alive())
}

// Running reports whether a live handle exists.
func (s *Supervisor) Running() bool {
	var running bool
	s.Locked(func(r bool) { running = r })
	return running
}

// PID returns the child's pid, or 0 when no handle exists.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}

// Shutdown stops the current handle, if any. Calling it again is a no-op.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	s.log.Info("shutting down sidecar", "pid", h.PID())
	return h.Shutdown(ctx)
}

// ensureLocked returns the live handle, spawning and replaying a new one if
// needed.
func (s *Supervisor) ensureLocked(ctx context.Context) (Handle, error) {
	if s.handle != nil {
		if s.handle.Alive() {
			return s.handle, nil
		}
		s.log.Info("sidecar is no longer running", "pid", s.handle.PID())
		s.discardLocked()
	}

	h, err := s.spawn(ctx)
	if err != nil {
		return nil, err
	}
	respawn := s.spawns > 0
	s.spawns++
	s.handle = h
	s.metrics.Spawned(s.cfg.Name, respawn)
	s.log.Info("sidecar started", "pid", h.PID(), "respawn", respawn)

	if respawn && s.replay != nil {
		if err := s.replay(ctx, h); err != nil {
			s.log.Error(err, "failed to restore sidecar state after respawn")
			if IsCrash(err) {
				s.discardLocked()
				return nil, err
			}
		} else if s.settle > 0 {
			if err := sleepCtx(ctx, s.settle); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

func (s *Supervisor) discardLocked() {
	if s.handle == nil {
		return
	}
	s.handle.Kill()
	s.handle = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
