// Package wire implements the line-delimited JSON envelope spoken between the
// sidekick parent process and its sidecars.
//
// Every message is a single JSON object terminated by '\n'. The object carries
// a "type" field naming its variant; the remaining fields belong to that
// variant. Each sidecar kind declares its closed set of request and response
// variants as a Table.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MaxLineSize bounds a single envelope. Audio payloads travel base64-encoded,
// so lines can be large.
const MaxLineSize = 10 * 1024 * 1024

var (
	// ErrUnknownType is returned when a line names a variant that is not part
	// of the table it is decoded against.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMissingType is returned when a line has no "type" field.
	ErrMissingType = errors.New("message has no type")

	// ErrEmptyLine is returned for a zero-length line.
	ErrEmptyLine = errors.New("empty line")
)

// Message is one variant of a tagged union.
type Message interface {
	MessageType() string
}

// Marshal encodes m as a single-line JSON object with the "type" field first.
// The result carries no trailing newline.
func Marshal(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", m.MessageType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("marshalling %s: variant must encode as a JSON object", m.MessageType())
	}
	tag, err := json.Marshal(m.MessageType())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(bytes.TrimSpace(body[1:len(body)-1])) > 0 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// PeekType returns the "type" field of an encoded envelope.
func PeekType(line []byte) (string, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return "", ErrEmptyLine
	}
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	if head.Type == nil {
		return "", ErrMissingType
	}
	return *head.Type, nil
}

// Table is a closed set of message variants keyed by their type tag. It is
// built once and never mutated.
type Table struct {
	name      string
	factories map[string]func() Message
}

// NewTable builds a table from constructors returning fresh, addressable
// variants (normally pointers to zero structs). Duplicate tags panic, since
// they can only come from a programming error.
func NewTable(name string, factories ...func() Message) *Table {
	t := &Table{name: name, factories: make(map[string]func() Message, len(factories))}
	for _, f := range factories {
		tag := f().MessageType()
		if _, dup := t.factories[tag]; dup {
			panic(fmt.Sprintf("wire: duplicate type %q in table %s", tag, name))
		}
		t.factories[tag] = f
	}
	return t
}

// Decode parses one envelope into the variant its tag selects.
func (t *Table) Decode(line []byte) (Message, error) {
	tag, err := PeekType(line)
	if err != nil {
		return nil, err
	}
	f, ok := t.factories[tag]
	if !ok {
		return nil, fmt.Errorf("%w %q for %s", ErrUnknownType, tag, t.name)
	}
	m := f()
	if err := json.Unmarshal(line, m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", tag, err)
	}
	return m, nil
}

// Types lists the tags in the table, sorted.
func (t *Table) Types() []string {
	out := make([]string, 0, len(t.factories))
	for tag := range t.factories {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Has reports whether tag belongs to the table.
func (t *Table) Has(tag string) bool {
	_, ok := t.factories[tag]
	return ok
}

// Writer writes envelopes one per line, flushing after each. It is safe for
// concurrent use so a sidecar can push events while answering requests.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write encodes m, appends '\n' and flushes.
func (w *Writer) Write(m Message) error {
	line, err := Marshal(m)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// NewScanner returns a line scanner sized for MaxLineSize envelopes.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return s
}
