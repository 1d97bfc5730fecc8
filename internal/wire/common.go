package wire

// Variants shared by every sidecar kind.

// Ok acknowledges a request. It is also the ready handshake.
type Ok struct {
	Message string `json:"message"`
}

func (Ok) MessageType() string { return "ok" }

// Error reports an application-level failure inside the sidecar.
type Error struct {
	Message string `json:"message"`
}

func (Error) MessageType() string { return "error" }

func (e *Error) Error() string { return e.Message }

// Shutdown asks the sidecar to answer Ok and exit.
type Shutdown struct{}

func (Shutdown) MessageType() string { return "shutdown" }
