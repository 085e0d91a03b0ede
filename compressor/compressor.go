// Package compressor defines the interface the store expects of the
// compression codec that sits above it. The codec itself is explicitly out
// of scope for the store (spec treats it as "a pure function" called by
// upper layers before a payload is handed to append_chunk), but a real
// implementation is provided here so the interface has something to plug
// into, the way rclone treats its compression backends as swappable.
package compressor

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compressor compresses and decompresses payloads before they reach the
// store's append/read operations. It is never called by the store itself.
type Compressor interface {
	Compress(payload []byte) ([]byte, error)
	Decompress(payload []byte) ([]byte, error)
}

// Zstd is a Compressor backed by github.com/klauspost/compress/zstd.
type Zstd struct {
	level zstd.EncoderLevel
}

// NewZstd returns a Zstd compressor at the given level. A zero value level
// selects the library's default.
func NewZstd(level zstd.EncoderLevel) *Zstd {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return &Zstd{level: level}
}

func (z *Zstd) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (z *Zstd) Decompress(payload []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
