// Package store implements the file actor: a long-lived owner of one open
// store file that serializes every read and write against it, maintains
// the authoritative end-of-file cursor, and exposes the high-level
// block-framed append-only log operations described in the spec this
// package implements.
package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"blockfile/block"
	"blockfile/chunk"
	"blockfile/header"
	"blockfile/metrics"
	"blockfile/observer"
)

// task is one unit of work queued to the actor's mailbox. run executes on
// the actor goroutine and may freely touch actor state; it returns true to
// signal that the actor should tear itself down after this task.
type task struct {
	run func() (stop bool)
}

// Store is a single open file's actor. All exported methods are safe to
// call concurrently: every file operation enqueues a task and waits for it
// to execute, so operations on one Store are strictly serialized by its
// mailbox exactly as spec section 5 requires. Path, Filesystem, Observe
// and Forget do not go through the mailbox.
type Store struct {
	path  string
	isSys bool

	fs   afero.Fs
	file afero.File
	eof  int64

	logger    *logrus.Logger
	metrics   *metrics.Store
	observers *observer.Tracker

	mailbox chan task
	closed  chan struct{}
	once    sync.Once

	ownerCtx     context.Context
	initialWait  time.Duration
	monitorCheck time.Duration
}

// AppendChunk appends payload as a chunk with no embedded MD5, returning
// the position it was written at and the number of bytes physically
// written (including framing and the chunk header).
func (s *Store) AppendChunk(ctx context.Context, payload []byte) (pos int64, written int, err error) {
	return s.appendEncoded(ctx, "append_chunk", func() ([]byte, error) {
		return chunk.Encode(payload, false)
	})
}

// AppendChunkMD5 appends payload as a chunk with an embedded MD5 digest,
// verified automatically on every PreadChunk of the resulting position.
func (s *Store) AppendChunkMD5(ctx context.Context, payload []byte) (pos int64, written int, err error) {
	return s.appendEncoded(ctx, "append_chunk_md5", func() ([]byte, error) {
		return chunk.Encode(payload, true)
	})
}

// AppendRaw appends bytes that have already been through chunk.Encode,
// without re-encoding them.
func (s *Store) AppendRaw(ctx context.Context, encoded []byte) (pos int64, written int, err error) {
	return s.appendEncoded(ctx, "append_raw", func() ([]byte, error) {
		return encoded, nil
	})
}

func (s *Store) appendEncoded(ctx context.Context, op string, encode func() ([]byte, error)) (pos int64, written int, err error) {
	type result struct {
		pos     int64
		written int
		err     error
	}
	resCh := make(chan result, 1)

	t := task{run: func() bool {
		encoded, encErr := encode()
		if encErr != nil {
			resCh <- result{err: encErr}
			return false
		}
		p, n, wErr := s.doAppendRaw(encoded)
		s.observe(op, wErr)
		resCh <- result{pos: p, written: n, err: wErr}
		return false
	}}

	if err := s.submit(ctx, t); err != nil {
		return 0, 0, err
	}
	r := <-resCh
	return r.pos, r.written, r.err
}

func (s *Store) doAppendRaw(encoded []byte) (pos int64, written int, err error) {
	blockOffset := int(s.eof % block.Size)
	framed := block.Frame(blockOffset, encoded)

	n, err := s.file.WriteAt(framed, s.eof)
	if err != nil {
		// Per the spec's open question, we write at the authoritative eof
		// (not OS append semantics) so a short write never moves eof: the
		// next append overwrites exactly the stray bytes left behind.
		return s.eof, n, fmt.Errorf("store: write: %w", err)
	}

	pos = s.eof
	s.eof += int64(n)
	if s.metrics != nil {
		s.metrics.BytesMoved.WithLabelValues("write").Add(float64(n))
	}
	return pos, n, nil
}

// PreadChunk reads the chunk whose encoding starts at the absolute byte
// position pos, verifying its embedded MD5 if present.
func (s *Store) PreadChunk(ctx context.Context, pos int64) (payload []byte, sum []byte, err error) {
	type result struct {
		payload []byte
		sum     []byte
		err     error
	}
	resCh := make(chan result, 1)

	t := task{run: func() bool {
		p, digest, rErr := s.doPreadChunk(pos)
		s.observe("pread_chunk", rErr)
		resCh <- result{payload: p, sum: digest, err: rErr}
		_, corrupt := rErr.(*CorruptionError)
		return corrupt
	}}

	if err := s.submit(ctx, t); err != nil {
		return nil, nil, err
	}
	r := <-resCh
	return r.payload, r.sum, r.err
}

func (s *Store) doPreadChunk(pos int64) ([]byte, []byte, error) {
	blockOffset := int(pos % block.Size)

	headerRawLen := block.RawReadLen(blockOffset, chunk.HeaderSize)

	// Read-ahead optimization from spec section 4.2: try to fetch two
	// blocks worth of raw bytes up front so small chunks need one I/O
	// call instead of two. Falls back to the minimal header-only probe
	// on any failure; the result is bit-identical either way.
	attempt := 2*block.Size - blockOffset
	raw := make([]byte, attempt)
	n, rErr := s.file.ReadAt(raw, pos)
	if n < headerRawLen {
		raw = make([]byte, headerRawLen)
		n, rErr = s.file.ReadAt(raw, pos)
		if n < headerRawLen {
			return nil, nil, fmt.Errorf("store: pread: %w", errOrShort(rErr))
		}
	}
	raw = raw[:n]

	h, err := chunk.ParseHeader(block.Unframe(blockOffset, raw[:headerRawLen]))
	if err != nil {
		return nil, nil, fmt.Errorf("store: pread: %w", err)
	}

	totalRawLen := block.RawReadLen(blockOffset, chunk.HeaderSize+h.BodyLen())
	if len(raw) < totalRawLen {
		extra := make([]byte, totalRawLen-len(raw))
		m, exErr := s.file.ReadAt(extra, pos+int64(len(raw)))
		if m < len(extra) {
			return nil, nil, fmt.Errorf("store: pread: %w", errOrShort(exErr))
		}
		raw = append(raw, extra...)
	} else {
		raw = raw[:totalRawLen]
	}

	unframed := block.Unframe(blockOffset, raw)
	payload, sum, err := chunk.SplitBody(h, unframed[chunk.HeaderSize:])
	if err != nil {
		return nil, nil, fmt.Errorf("store: pread: %w", err)
	}

	if sum != nil {
		got := md5.Sum(payload)
		if !bytes.Equal(got[:], sum) {
			if s.logger != nil {
				s.logger.WithFields(logrus.Fields{"file": s.path, "pos": pos}).
					Error("file corruption detected")
			}
			if s.metrics != nil {
				s.metrics.Corruption.WithLabelValues(s.path).Inc()
			}
			return nil, nil, &CorruptionError{Path: s.path, Pos: pos}
		}
	}

	if s.metrics != nil {
		s.metrics.BytesMoved.WithLabelValues("read").Add(float64(len(raw)))
	}
	return payload, sum, nil
}

// WriteHeader writes a new MD5-signed header record at the current end of
// file, becoming the file's new commit point.
func (s *Store) WriteHeader(ctx context.Context, payload []byte) error {
	type result struct{ err error }
	resCh := make(chan result, 1)

	t := task{run: func() bool {
		record, err := header.Build(s.eof, payload)
		if err != nil {
			resCh <- result{err}
			return false
		}
		n, err := s.file.WriteAt(record, s.eof)
		if err != nil {
			resCh <- result{fmt.Errorf("store: write header: %w", err)}
			return false
		}
		s.eof += int64(n)
		if s.metrics != nil {
			s.metrics.Operations.WithLabelValues("write_header", "ok").Inc()
			s.metrics.BytesMoved.WithLabelValues("write").Add(float64(n))
		}
		resCh <- result{nil}
		return false
	}}

	if err := s.submit(ctx, t); err != nil {
		return err
	}
	return (<-resCh).err
}

// ReadHeader returns the most recent valid header record, scanning blocks
// backward from the current end of file. Returns ErrNoValidHeader if none
// validates.
func (s *Store) ReadHeader(ctx context.Context) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	resCh := make(chan result, 1)

	t := task{run: func() bool {
		payload, err := header.Scan(s.file, s.eof)
		resCh <- result{payload, err}
		return false
	}}

	if err := s.submit(ctx, t); err != nil {
		return nil, err
	}
	r := <-resCh
	return r.payload, r.err
}

// Truncate shrinks the file's logical size to pos; any headers or chunks
// beyond pos are discarded.
func (s *Store) Truncate(pos int64) error {
	resCh := make(chan error, 1)
	t := task{run: func() bool {
		err := s.file.Truncate(pos)
		if err == nil {
			s.eof = pos
		}
		resCh <- err
		return false
	}}
	if err := s.submitBlocking(t); err != nil {
		return err
	}
	return <-resCh
}

// Sync flushes the file to stable storage.
func (s *Store) Sync() error {
	resCh := make(chan error, 1)
	t := task{run: func() bool {
		resCh <- s.file.Sync()
		return false
	}}
	if err := s.submitBlocking(t); err != nil {
		return err
	}
	return <-resCh
}

// Bytes returns the file's current physical size, equal to the actor's
// authoritative eof cursor.
func (s *Store) Bytes() (int64, error) {
	resCh := make(chan int64, 1)
	t := task{run: func() bool {
		resCh <- s.eof
		return false
	}}
	if err := s.submitBlocking(t); err != nil {
		return 0, err
	}
	return <-resCh, nil
}

// Path returns the filesystem path this Store was opened against, useful
// for handing the file to deletestage once it has been closed.
func (s *Store) Path() string { return s.path }

// Filesystem returns the afero.Fs this Store was opened against.
func (s *Store) Filesystem() afero.Fs { return s.fs }

// Close stops the actor and closes the underlying file descriptor. Safe to
// call more than once.
func (s *Store) Close() error {
	resCh := make(chan error, 1)
	t := task{run: func() bool {
		resCh <- nil
		return true
	}}
	if err := s.submitBlocking(t); err != nil {
		if err == ErrClosed {
			return nil
		}
		return err
	}
	return <-resCh
}

// Observe registers id as holding a live interest in this file, delaying
// idle-close until it is forgotten or its registration expires.
func (s *Store) Observe(id string, isStats bool) {
	s.observers.Observe(id, isStats)
}

// Forget removes id's interest registration immediately.
func (s *Store) Forget(id string) {
	s.observers.Forget(id)
}

func (s *Store) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.Operations.WithLabelValues(op, outcome).Inc()
}

// submit enqueues t, honoring ctx only while waiting to be accepted onto
// the mailbox: once accepted, the task always runs to completion, since a
// cancelled-but-already-running write must not leave eof inconsistent.
func (s *Store) submit(ctx context.Context, t task) error {
	select {
	case s.mailbox <- t:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submitBlocking enqueues t with no submission-side timeout, for the
// operations the spec says wait indefinitely.
func (s *Store) submitBlocking(t task) error {
	select {
	case s.mailbox <- t:
		return nil
	case <-s.closed:
		return ErrClosed
	}
}

func errOrShort(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("short read")
}
