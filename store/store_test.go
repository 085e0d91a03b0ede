package store_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"blockfile/block"
	"blockfile/header"
	"blockfile/store"
)

func openFresh(t *testing.T, fs afero.Fs, path string) *store.Store {
	t.Helper()
	s, err := store.Open(fs, path, store.Create())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTripNoMD5(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openFresh(t, fs, "/db/data")
	ctx := context.Background()

	payloads := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0x5A}, 4090),
		bytes.Repeat([]byte{0x5A}, 1<<20),
	}
	for _, p := range payloads {
		pos, _, err := s.AppendChunk(ctx, p)
		require.NoError(t, err)

		got, sum, err := s.PreadChunk(ctx, pos)
		require.NoError(t, err)
		require.Nil(t, sum)
		require.Equal(t, p, got)
	}
}

func TestRoundTripMD5(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openFresh(t, fs, "/db/data")
	ctx := context.Background()

	payload := []byte("checksummed payload")
	pos, _, err := s.AppendChunkMD5(ctx, payload)
	require.NoError(t, err)

	got, sum, err := s.PreadChunk(ctx, pos)
	require.NoError(t, err)
	want := md5.Sum(payload)
	require.Equal(t, want[:], sum)
	require.Equal(t, payload, got)
}

func TestBlockBoundaryInvariance(t *testing.T) {
	startEOFs := []int64{0, 1, 4095, 4096, 4097, 8191, 8192}
	payload := bytes.Repeat([]byte{0x42}, 777)

	for _, startEOF := range startEOFs {
		fs := afero.NewMemMapFs()

		// Pre-fill the file with startEOF zero bytes: Open takes its eof
		// from the existing file size, so the next append begins at the
		// desired eof. (A raw append would not do, since it is block-framed
		// and writes more bytes than it is given.)
		require.NoError(t, afero.WriteFile(fs, "/db/data", make([]byte, startEOF), 0o644))
		s, err := store.Open(fs, "/db/data")
		require.NoError(t, err)

		pos, _, err := s.AppendChunk(context.Background(), payload)
		require.NoError(t, err)
		require.Equal(t, startEOF, pos)

		got, sum, err := s.PreadChunk(context.Background(), pos)
		require.NoError(t, err)
		require.Nil(t, sum)
		require.Equal(t, payload, got)

		require.NoError(t, s.Close())
	}
}

func TestFramingSizeLaw(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openFresh(t, fs, "/db/data")
	ctx := context.Background()

	for _, n := range []int{0, 3, 4090, 4096, 9000} {
		before, err := s.Bytes()
		require.NoError(t, err)

		payload := bytes.Repeat([]byte{0x11}, n)
		pos, written, err := s.AppendChunk(ctx, payload)
		require.NoError(t, err)
		require.Equal(t, before, pos)

		off := int(before % block.Size)
		encodedLen := 4 + n
		require.Equal(t, block.RawReadLen(off, encodedLen), written)

		after, err := s.Bytes()
		require.NoError(t, err)
		require.Equal(t, before+int64(written), after)
	}
}

func TestHeaderRecovery(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openFresh(t, fs, "/db/data")
	ctx := context.Background()

	require.NoError(t, s.WriteHeader(ctx, []byte("h1")))

	_, _, err := s.AppendChunk(ctx, bytes.Repeat([]byte{0x01}, 1<<20))
	require.NoError(t, err)
	afterChunk, err := s.Bytes()
	require.NoError(t, err)

	require.NoError(t, s.WriteHeader(ctx, []byte("h2")))
	h2End, err := s.Bytes()
	require.NoError(t, err)

	require.NoError(t, s.WriteHeader(ctx, []byte("h3")))

	payload, err := s.ReadHeader(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("h3"), payload)

	require.NoError(t, s.Truncate(h2End))
	payload, err = s.ReadHeader(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("h2"), payload)

	require.NoError(t, s.Truncate(afterChunk))
	payload, err = s.ReadHeader(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("h1"), payload)

	require.NoError(t, s.Truncate(0))
	_, err = s.ReadHeader(ctx)
	require.ErrorIs(t, err, header.ErrNoValidHeader)
}

func TestHeaderRecoveryNoValidHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openFresh(t, fs, "/db/data")
	ctx := context.Background()

	require.NoError(t, s.WriteHeader(ctx, []byte("only")))
	require.NoError(t, s.Truncate(0))

	_, err := s.ReadHeader(ctx)
	require.ErrorIs(t, err, header.ErrNoValidHeader)
}

func TestCorruptionDetection(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.Open(fs, "/db/data", store.Create())
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAA}, 5000)
	pos, _, err := s.AppendChunkMD5(context.Background(), payload)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Flip a byte inside the payload region, well past the 4-byte header
	// and the 16-byte MD5.
	f, err := fs.OpenFile("/db/data", os.O_RDWR, 0)
	require.NoError(t, err)
	buf := make([]byte, 1)
	target := pos + 4 + 16 + 20
	_, err = f.ReadAt(buf, target)
	require.NoError(t, err)
	buf[0] ^= 0xFF
	_, err = f.WriteAt(buf, target)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2, err := store.Open(fs, "/db/data")
	require.NoError(t, err)
	defer s2.Close()

	_, _, err = s2.PreadChunk(context.Background(), pos)
	require.Error(t, err)
	var corruptErr *store.CorruptionError
	require.ErrorAs(t, err, &corruptErr)
}

func TestOpenReadOnlyNonExistentNoLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := store.Open(fs, "/missing/db", store.ReadOnly(), store.NoLogIfMissing())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenCreateOverwriteResetsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openFresh(t, fs, "/db/data")
	_, _, err := s.AppendChunk(context.Background(), []byte("data"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := store.Open(fs, "/db/data", store.Create(), store.Overwrite())
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.Bytes()
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = s2.ReadHeader(context.Background())
	require.ErrorIs(t, err, header.ErrNoValidHeader)
}

func TestOpenCreateWithoutOverwriteFailsOnExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openFresh(t, fs, "/db/data")
	_, _, err := s.AppendChunk(context.Background(), []byte("data"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = store.Open(fs, "/db/data", store.Create())
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openFresh(t, fs, "/db/data")

	const n = 50
	positions := make([]int64, n)
	sizes := make([]int, n)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			payload := bytes.Repeat([]byte{byte(i)}, i+1)
			pos, written, err := s.AppendChunk(ctx, payload)
			positions[i] = pos
			sizes[i] = written
			return err
		})
	}
	require.NoError(t, g.Wait())

	type interval struct{ start, end int64 }
	intervals := make([]interval, n)
	for i := range intervals {
		intervals[i] = interval{positions[i], positions[i] + int64(sizes[i])}
	}
	// No two intervals may overlap, and their union must be contiguous
	// from 0 to the final eof.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			overlap := intervals[i].start < intervals[j].end && intervals[j].start < intervals[i].end
			require.Falsef(t, overlap, "interval %d overlaps %d", i, j)
		}
	}

	end, err := s.Bytes()
	require.NoError(t, err)

	covered := make([]bool, end)
	for _, iv := range intervals {
		for p := iv.start; p < iv.end; p++ {
			covered[p] = true
		}
	}
	for p, c := range covered {
		require.Truef(t, c, "byte %d not covered by any append", p)
	}
}

func TestIdleCloseWithNoObservers(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.Open(fs, "/db/data", store.Create(),
		store.WithIdleSchedule(10*time.Millisecond, 10*time.Millisecond))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := s.Bytes()
		return err == store.ErrClosed
	}, time.Second, 5*time.Millisecond)
}

func TestOwnerDeathTriggersIdleCheck(t *testing.T) {
	fs := afero.NewMemMapFs()
	ownerCtx, cancel := context.WithCancel(context.Background())

	s, err := store.Open(fs, "/db/data", store.Create(),
		store.WithOwner(ownerCtx),
		store.WithIdleSchedule(time.Hour, time.Hour))
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		_, err := s.Bytes()
		return err == store.ErrClosed
	}, time.Second, 5*time.Millisecond)
}
