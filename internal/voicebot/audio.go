package voicebot

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// CodecOpus is the only codec carried over the protocol: a sequence of
	// Opus packets, each prefixed with its big-endian uint16 length.
	CodecOpus = "opus"

	// SampleRate is Discord's voice sample rate.
	SampleRate = 48000
)

// EncodeFrames packs Opus packets and base64-encodes the result.
func EncodeFrames(frames [][]byte) string {
	size := 0
	for _, f := range frames {
		size += 2 + len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range frames {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(f)))
		buf = append(buf, f...)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeFrames reverses EncodeFrames.
func DecodeFrames(s string) ([][]byte, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding audio: %w", err)
	}
	var frames [][]byte
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, errors.New("truncated frame header")
		}
		n := int(binary.BigEndian.Uint16(buf))
		buf = buf[2:]
		if len(buf) < n {
			return nil, fmt.Errorf("frame of %d bytes truncated to %d", n, len(buf))
		}
		frames = append(frames, buf[:n])
		buf = buf[n:]
	}
	return frames, nil
}
