package sidecar

import (
	"errors"
	"fmt"

	"github.com/alexsjones/sidekick/internal/wire"
)

// Kind classifies a sidecar failure.
type Kind int

const (
	// KindSpawn means the process could not be started or failed its ready
	// handshake.
	KindSpawn Kind = iota + 1
	// KindTransport means a pipe closed, a write or read failed, or the child
	// sent an empty line.
	KindTransport
	// KindProtocol means the child sent something that is not a valid
	// envelope, or a variant that is not a legal reply.
	KindProtocol
	// KindTimeout means no reply arrived within the bounded wait.
	KindTimeout
	// KindApplication means the child answered with an error envelope.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindApplication:
		return "application"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by handles and supervisors.
type Error struct {
	Sidecar string
	Op      string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	// Application errors are surfaced to callers verbatim.
	if e.Kind == KindApplication {
		return e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s sidecar %s error: %v", e.Sidecar, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s sidecar %s %s error: %v", e.Sidecar, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCrash reports whether err means the sidecar can no longer be trusted and
// must be replaced.
func IsCrash(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindTransport, KindProtocol, KindTimeout:
		return true
	}
	return false
}

// KindOf returns the kind of err, or zero if err is not a sidecar error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsApplication reports whether err is an error envelope returned by the child.
func IsApplication(err error) bool {
	return KindOf(err) == KindApplication
}

// Expect checks that resp is a T. An error envelope becomes a KindApplication
// error; any other variant is a KindProtocol error because the stream is out of
// step with the request.
func Expect[T wire.Message](name string, resp wire.Message) (T, error) {
	var zero T
	if v, ok := resp.(T); ok {
		return v, nil
	}
	if e, ok := resp.(*wire.Error); ok {
		return zero, &Error{Sidecar: name, Kind: KindApplication, Err: e}
	}
	got := "<nil>"
	if resp != nil {
		got = resp.MessageType()
	}
	return zero, &Error{Sidecar: name, Kind: KindProtocol, Err: fmt.Errorf("unexpected %q reply, want %T", got, zero)}
}

// ExpectOk is Expect for the common ok acknowledgement.
func ExpectOk(name string, resp wire.Message) (string, error) {
	ok, err := Expect[*wire.Ok](name, resp)
	if err != nil {
		return "", err
	}
	return ok.Message, nil
}
