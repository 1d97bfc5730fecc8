package sidecar

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/wire"
)

// StderrPolicy decides where a child's stderr goes.
type StderrPolicy string

const (
	// StderrSuppress discards the child's stderr.
	StderrSuppress StderrPolicy = "suppress"
	// StderrInherit shares the parent's stderr.
	StderrInherit StderrPolicy = "inherit"
	// StderrLog forwards each stderr line to the parent's logger.
	StderrLog StderrPolicy = "log"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultReadyTimeout    = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultEventBuffer     = 256
)

// Config describes how to launch one sidecar.
type Config struct {
	// Name identifies the sidecar in logs, metrics and errors.
	Name string
	// Path is the sidecar executable.
	Path string
	Args []string
	// Env is appended to the parent's environment.
	Env    []string
	Stderr StderrPolicy

	ReadyTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Log     logr.Logger
	Metrics Metrics
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "sidecar"
	}
	if c.Stderr == "" {
		c.Stderr = StderrSuppress
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Log.GetSink() == nil {
		c.Log = logr.Discard()
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics()
	}
	return c
}

// Protocol is the parent's view of one sidecar kind.
type Protocol struct {
	// Responses decodes every line the child may write.
	Responses *wire.Table
	// IsEvent marks unsolicited variants. Nil means the sidecar never pushes
	// events and the simple synchronous handle is used.
	IsEvent func(wire.Message) bool
}

// process owns one child and its pipes.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File

	log     logr.Logger
	exited  chan struct{}
	waitErr error

	killOnce sync.Once
}

func startProcess(cfg Config) (*process, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("no executable configured")
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.WaitDelay = cfg.ShutdownTimeout

	switch cfg.Stderr {
	case StderrInherit:
		cmd.Stderr = os.Stderr
	case StderrLog:
		cmd.Stderr = &logWriter{log: cfg.Log.WithValues("stream", "stderr")}
	default:
		cmd.Stderr = nil
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	// The stdout pipe is created here rather than with StdoutPipe so that
	// cmd.Wait, which runs as soon as the child exits, never closes it before
	// the reader has drained the last lines.
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", cfg.Path, err)
	}
	pw.Close()

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: pr,
		log:    cfg.Log,
		exited: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// write sends one envelope line in a single write.
func (p *process) write(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := p.stdin.Write(buf)
	return err
}

func (p *process) kill() {
	p.killOnce.Do(func() {
		if p.alive() {
			_ = p.cmd.Process.Kill()
		}
	})
}

// waitExit blocks until the child exits or d elapses.
func (p *process) waitExit(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.exited:
		return true
	case <-t.C:
		return false
	}
}

// exitErr returns the result of waiting for the child. It is nil while the
// child runs and after a clean exit.
func (p *process) exitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

// release closes stdin, waits up to d for the child to exit, kills it if it
// has not, and closes the stdout pipe. It reports whether the child exited
// on its own.
func (p *process) release(d time.Duration) bool {
	_ = p.stdin.Close()
	exited := p.waitExit(d)
	if !exited {
		p.kill()
		p.waitExit(d)
	}
	_ = p.stdout.Close()
	if err := p.exitErr(); err != nil {
		p.log.V(1).Info("sidecar exited", "pid", p.pid(), "status", err.Error())
	}
	return exited
}

// logWriter turns child stderr output into log lines.
type logWriter struct {
	log logr.Logger
	mu  sync.Mutex
	buf []byte
}

func (w *logWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.log.Info(string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}
