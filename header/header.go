// Package header implements encoding and backward-scanning discovery of
// database header records: MD5-signed payloads written at block boundaries
// that serve as a store file's commit points.
package header

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"blockfile/block"
)

const (
	// lengthFieldSize is the width of the header's length word.
	lengthFieldSize = 4
	// maxSignedLen is the largest signed payload (md5 ++ payload) length
	// representable in the header's 32-bit length field.
	maxSignedLen = 1<<32 - 1
)

// ErrTooLarge is returned by Build when the signed payload does not fit in
// the header format's 32-bit length field.
var ErrTooLarge = errors.New("header: payload too large")

// ErrNoValidHeader is returned by Scan when no block in the file holds a
// header record whose MD5 signature validates.
var ErrNoValidHeader = errors.New("header: no valid header found")

// Build returns the complete bytes to write at the current end of file
// (eof) to record a new header for payload: zero padding (if eof does not
// already sit on a block boundary) advancing to the next block boundary,
// then a block whose first byte is block.HeaderPrefix, whose next 4 bytes
// are the big-endian length of md5(payload)++payload, followed by that
// signed payload block-framed from intra-block offset 5.
func Build(eof int64, payload []byte) ([]byte, error) {
	sum := md5.Sum(payload)
	signed := make([]byte, 0, len(sum)+len(payload))
	signed = append(signed, sum[:]...)
	signed = append(signed, payload...)

	if len(signed) > maxSignedLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(signed))
	}

	blockOffset := int(eof % block.Size)
	var padding []byte
	if blockOffset != 0 {
		padding = make([]byte, block.Size-blockOffset)
	}

	lengthField := make([]byte, lengthFieldSize)
	binary.BigEndian.PutUint32(lengthField, uint32(len(signed)))

	out := make([]byte, 0, len(padding)+1+len(lengthField)+len(signed)+len(signed)/block.Size+2)
	out = append(out, padding...)
	out = append(out, block.HeaderPrefix)
	out = append(out, block.Frame(1, lengthField, signed)...)
	return out, nil
}

// Scan searches for the most recent valid header in a file of the given
// size, scanning blocks backward from the block containing eof. It returns
// the header's user payload (the signed payload with its MD5 prefix
// stripped), or ErrNoValidHeader if no block validates.
func Scan(r io.ReaderAt, eof int64) ([]byte, error) {
	lastBlock := eof / block.Size
	for b := lastBlock; b >= 0; b-- {
		payload, ok := loadHeaderAt(r, b)
		if ok {
			return payload, nil
		}
	}
	return nil, ErrNoValidHeader
}

// loadHeaderAt attempts to parse and validate a header record starting at
// block b. The second return value is false on any failure: short read,
// wrong prefix byte, malformed length, or MD5 mismatch.
func loadHeaderAt(r io.ReaderAt, b int64) ([]byte, bool) {
	blockStart := b * block.Size

	buf := make([]byte, block.Size)
	n, err := r.ReadAt(buf, blockStart)
	if n < 1 {
		_ = err
		return nil, false
	}
	buf = buf[:n]

	if len(buf) < 1 || buf[0] != block.HeaderPrefix {
		return nil, false
	}
	if len(buf) < 1+lengthFieldSize {
		return nil, false
	}

	signedLen := int(binary.BigEndian.Uint32(buf[1 : 1+lengthFieldSize]))
	fullSpan := 1 + block.RawReadLen(1, lengthFieldSize+signedLen)

	if fullSpan > len(buf) {
		extra := make([]byte, fullSpan-len(buf))
		m, err := r.ReadAt(extra, blockStart+int64(len(buf)))
		if err != nil && err != io.EOF {
			return nil, false
		}
		if m < len(extra) {
			return nil, false
		}
		buf = append(buf, extra...)
	} else {
		buf = buf[:fullSpan]
	}

	raw := buf[1+lengthFieldSize : fullSpan]
	signed := block.Unframe(1+lengthFieldSize, raw)
	if len(signed) != signedLen || signedLen < md5.Size {
		return nil, false
	}

	sum := signed[:md5.Size]
	payload := signed[md5.Size:]
	got := md5.Sum(payload)
	if string(got[:]) != string(sum) {
		return nil, false
	}

	return payload, true
}
