package tts

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// PCM16ToSamples converts signed 16-bit little-endian PCM to samples in
// [-1, 1]. A trailing odd byte is ignored.
func PCM16ToSamples(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	return out
}

// SamplesToPCM16 scales samples by volume and converts them to signed 16-bit
// little-endian PCM, clipping at full scale.
func SamplesToPCM16(samples []float32, volume float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * volume * 32767)
		v = math.Max(-32768, math.Min(32767, v))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// EncodeSamples packs samples as float32 little-endian and base64 encodes
// them.
func EncodeSamples(samples []float32) string {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeSamples reverses EncodeSamples.
func DecodeSamples(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding audio: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("audio length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}
