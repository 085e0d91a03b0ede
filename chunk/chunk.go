// Package chunk implements the variable-length, tagged-length-prefixed
// payload encoding used for every record a store file appends other than
// header records. Chunk encoding is pure: it never touches a file. The
// store package is responsible for block-framing the bytes this package
// produces and for issuing the reads this package's Parse functions
// consume.
package chunk

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the length of the tagged-length header word.
	HeaderSize = 4

	// MD5Size is the length of an embedded MD5 digest.
	MD5Size = md5.Size

	// maxPayloadLen is the largest payload length representable in the
	// 31-bit length field.
	maxPayloadLen = 1<<31 - 1

	md5FlagMask = uint32(1) << 31
)

// ErrTooLarge is returned by Encode when the payload length does not fit in
// the chunk format's 31-bit length field.
var ErrTooLarge = errors.New("chunk: payload too large")

// Encode returns the unframed on-disk bytes for payload: a 4-byte tagged
// length header, an optional 16-byte MD5 digest, then the payload itself.
// The caller (store) is responsible for block-framing the result before it
// is written.
func Encode(payload []byte, withMD5 bool) ([]byte, error) {
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	header := uint32(len(payload))
	extra := 0
	if withMD5 {
		header |= md5FlagMask
		extra = MD5Size
	}

	out := make([]byte, HeaderSize+extra+len(payload))
	binary.BigEndian.PutUint32(out[:HeaderSize], header)
	if withMD5 {
		sum := md5.Sum(payload)
		copy(out[HeaderSize:HeaderSize+MD5Size], sum[:])
	}
	copy(out[HeaderSize+extra:], payload)
	return out, nil
}

// Header is the parsed form of a chunk's 4-byte tagged-length word.
type Header struct {
	HasMD5 bool
	Length uint32
}

// ParseHeader decodes the 4-byte tagged-length word at the start of raw.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, fmt.Errorf("chunk: short header, got %d bytes", len(raw))
	}
	word := binary.BigEndian.Uint32(raw[:HeaderSize])
	return Header{
		HasMD5: word&md5FlagMask != 0,
		Length: word &^ md5FlagMask,
	}, nil
}

// BodyLen is the number of bytes that follow the 4-byte header for a chunk
// with this Header: the optional MD5 plus the payload.
func (h Header) BodyLen() int {
	n := int(h.Length)
	if h.HasMD5 {
		n += MD5Size
	}
	return n
}

// SplitBody separates a header's body (as produced by BodyLen bytes read
// after the header) into its optional MD5 digest and payload.
func SplitBody(h Header, body []byte) (payload []byte, sum []byte, err error) {
	if len(body) != h.BodyLen() {
		return nil, nil, fmt.Errorf("chunk: expected body of %d bytes, got %d", h.BodyLen(), len(body))
	}
	if !h.HasMD5 {
		return body, nil, nil
	}
	return body[MD5Size:], body[:MD5Size], nil
}
