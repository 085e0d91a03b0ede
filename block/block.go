// Package block implements the 4KiB block framing scheme shared by every
// chunk and header written to a store file.
//
// Every block on disk is 4096 bytes aligned on a 4096 byte boundary. Byte 0
// of a block is a one-byte prefix that is not part of any payload: 0x00
// marks a data block, 0x01 marks a block that begins a header record.
// Readers and writers must transparently splice and strip these prefix
// bytes whenever a payload crosses a block boundary. The functions here are
// pure: no I/O, no global state, so they can be exhaustively property
// tested and reused by the header scanner.
package block

const (
	// Size is the fixed block size in bytes.
	Size = 4096

	// DataPrefix marks a block that continues ordinary chunk data.
	DataPrefix byte = 0x00

	// HeaderPrefix marks a block that begins a header record.
	HeaderPrefix byte = 0x01
)

// Frame splices block-prefix bytes into payload as it is written starting
// at the given intra-block offset (0 <= blockOffset < Size), returning the
// exact bytes that must land on disk. The payload is given as a sequence of
// byte segments so callers (the chunk and header codecs) can build a frame
// out of scattered pieces without an intermediate copy.
func Frame(blockOffset int, segments ...[]byte) []byte {
	if blockOffset < 0 || blockOffset >= Size {
		panic("block: blockOffset out of range")
	}

	total := 0
	for _, s := range segments {
		total += len(s)
	}
	out := make([]byte, 0, total+total/Size+2)

	off := blockOffset
	for _, seg := range segments {
		for len(seg) > 0 {
			if off == 0 {
				out = append(out, DataPrefix)
				off = 1
				continue
			}
			room := Size - off
			if room > len(seg) {
				room = len(seg)
			}
			out = append(out, seg[:room]...)
			seg = seg[room:]
			off += room
			if off == Size {
				off = 0
			}
		}
	}
	return out
}

// Unframe strips the prefix bytes from raw bytes that were read starting at
// blockOffset, recovering the original payload bytes.
func Unframe(blockOffset int, raw []byte) []byte {
	if blockOffset < 0 || blockOffset >= Size {
		panic("block: blockOffset out of range")
	}

	out := make([]byte, 0, len(raw))
	off := blockOffset
	i := 0
	for i < len(raw) {
		if off == 0 {
			// Discard the prefix byte at this block boundary.
			i++
			off = 1
			continue
		}
		room := Size - off
		if room > len(raw)-i {
			room = len(raw) - i
		}
		out = append(out, raw[i:i+room]...)
		i += room
		off += room
		if off == Size {
			off = 0
		}
	}
	return out
}

// RawReadLen returns the number of raw bytes that must be read starting at
// blockOffset to recover exactly payloadLen payload bytes, accounting for
// the prefix byte inserted at every block boundary crossed.
func RawReadLen(blockOffset int, payloadLen int) int {
	if blockOffset < 0 || blockOffset >= Size {
		panic("block: blockOffset out of range")
	}
	if payloadLen == 0 {
		// Frame never emits a boundary prefix for an empty payload, at any
		// offset, so there is nothing to read back either.
		return 0
	}
	if blockOffset == 0 {
		return RawReadLen(1, payloadLen) + 1
	}

	remaining := Size - blockOffset
	if payloadLen <= remaining {
		return payloadLen
	}
	overflow := payloadLen - remaining
	extraBlocks := (overflow + Size - 1 - 1) / (Size - 1)
	return payloadLen + extraBlocks
}
