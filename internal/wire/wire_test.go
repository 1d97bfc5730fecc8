package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type ping struct {
	Seq  int    `json:"seq"`
	Note string `json:"note,omitempty"`
}

func (ping) MessageType() string { return "ping" }

var testTable = NewTable("test",
	func() Message { return new(Ok) },
	func() Message { return new(Error) },
	func() Message { return new(Shutdown) },
	func() Message { return new(ping) },
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"ok with message", &Ok{Message: "ready"}, `{"type":"ok","message":"ready"}`},
		{"no fields", &Shutdown{}, `{"type":"shutdown"}`},
		{"omitempty fields", &ping{Seq: 3}, `{"type":"ping","seq":3}`},
		{"newline escaped", &Error{Message: "a\nb"}, `{"type":"error","message":"a\nb"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal = %s, want %s", got, tt.want)
			}
			if bytes.ContainsRune(got, '\n') {
				t.Errorf("encoded line contains a raw newline: %q", got)
			}
		})
	}
}

func TestTableDecode(t *testing.T) {
	line, err := Marshal(&ping{Seq: 7, Note: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := testTable.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, ok := msg.(*ping)
	if !ok {
		t.Fatalf("Decode returned %T, want *ping", msg)
	}
	if p.Seq != 7 || p.Note != "hi" {
		t.Errorf("decoded %+v", p)
	}
}

func TestTableDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"empty", "", ErrEmptyLine},
		{"whitespace", "   ", ErrEmptyLine},
		{"no type", `{"message":"x"}`, ErrMissingType},
		{"unknown type", `{"type":"explode"}`, ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testTable.Decode([]byte(tt.line))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode(%q) error = %v, want %v", tt.line, err, tt.wantErr)
			}
		})
	}

	if _, err := testTable.Decode([]byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestNewTableDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate tag")
		}
	}()
	NewTable("dup", func() Message { return new(Ok) }, func() Message { return new(Ok) })
}

func TestWriterAndScanner(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < 3; i++ {
		if err := w.Write(&ping{Seq: i}); err != nil {
			t.Fatal(err)
		}
	}

	s := NewScanner(strings.NewReader(buf.String()))
	seq := 0
	for s.Scan() {
		msg, err := testTable.Decode(s.Bytes())
		if err != nil {
			t.Fatalf("line %d: %v", seq, err)
		}
		if got := msg.(*ping).Seq; got != seq {
			t.Errorf("line %d: seq = %d", seq, got)
		}
		seq++
	}
	if seq != 3 {
		t.Errorf("scanned %d lines, want 3", seq)
	}
}

func TestTypes(t *testing.T) {
	got := strings.Join(testTable.Types(), ",")
	if got != "error,ok,ping,shutdown" {
		t.Errorf("Types = %s", got)
	}
	if !testTable.Has("ping") || testTable.Has("pong") {
		t.Error("Has mismatch")
	}
}
