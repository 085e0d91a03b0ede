package store

import (
	"errors"
	"fmt"

	"blockfile/chunk"
	"blockfile/header"
)

// Sentinel errors returned by Store methods. Wrap with fmt.Errorf and
// match with errors.Is, in the style of the journal engine this package
// generalizes.
var (
	// ErrNotFound is returned by Open when a file is expected to already
	// exist (no create option) but does not.
	ErrNotFound = errors.New("store: file not found")

	// ErrAlreadyExists is returned by Open when create is requested
	// without overwrite against a non-empty file.
	ErrAlreadyExists = errors.New("store: file already exists")

	// ErrClosed is returned by any operation submitted after Close.
	ErrClosed = errors.New("store: file actor is closed")

	// ErrChunkTooLarge is returned when a chunk payload does not fit the
	// 31-bit length field. Alias of chunk.ErrTooLarge.
	ErrChunkTooLarge = chunk.ErrTooLarge

	// ErrHeaderTooLarge is returned when a header's signed payload does
	// not fit the 32-bit length field. Alias of header.ErrTooLarge.
	ErrHeaderTooLarge = header.ErrTooLarge

	// ErrNoValidHeader is returned by ReadHeader when backward scanning
	// exhausts the file without finding a validating header.
	ErrNoValidHeader = header.ErrNoValidHeader
)

// CorruptionError is returned by PreadChunk when a chunk's embedded MD5
// does not match its payload. The file actor terminates itself after
// returning this error; the Store becomes unusable.
type CorruptionError struct {
	Path string
	Pos  int64
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("store: file corruption in %s at position %d", e.Path, e.Pos)
}
