// Package deletestage implements the two file-removal policies the spec
// describes as an external collaborator to the file store: recovery-
// preserving rename, and staged delete through a root-level .delete
// directory. Both are pure filesystem operations triggered by upper
// layers; neither touches a live store.Store.
package deletestage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// timestampFormat produces the "YYYYMMDD.HHMMSS" suffix spec section 4.6
// calls for.
const timestampFormat = "20060102.150405"

// Stager removes files using one of the two policies below, against an
// afero.Fs so tests can exercise it without touching a real disk.
type Stager struct {
	fs   afero.Fs
	root string
}

// New returns a Stager rooted at root. It does not create the .delete
// directory; call Init for that.
func New(fs afero.Fs, root string) *Stager {
	return &Stager{fs: fs, root: root}
}

func (s *Stager) deleteDir() string {
	return filepath.Join(s.root, ".delete")
}

// Init ensures the staged-delete directory exists and asynchronously
// removes any stale entries left over from a previous run.
func (s *Stager) Init() error {
	if err := s.fs.MkdirAll(s.deleteDir(), 0o755); err != nil {
		return fmt.Errorf("deletestage: init: %w", err)
	}
	go s.sweepStale()
	return nil
}

func (s *Stager) sweepStale() {
	entries, err := afero.ReadDir(s.fs, s.deleteDir())
	if err != nil {
		return
	}
	for _, e := range entries {
		_ = s.fs.RemoveAll(filepath.Join(s.deleteDir(), e.Name()))
	}
}

// RecoveryPreservingRename renames path into a sibling with a
// ".YYYYMMDD.HHMMSS.deleted<ext>" suffix and sets its mtime to now, leaving
// the bytes recoverable on disk rather than removing them outright.
func (s *Stager) RecoveryPreservingRename(path string, now time.Time) (string, error) {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	dest := fmt.Sprintf("%s.%s.deleted%s", base, now.UTC().Format(timestampFormat), ext)

	if err := s.fs.Rename(path, dest); err != nil {
		return "", fmt.Errorf("deletestage: rename: %w", err)
	}
	if err := s.fs.Chtimes(dest, now, now); err != nil {
		return "", fmt.Errorf("deletestage: chtimes: %w", err)
	}
	return dest, nil
}

// Async controls whether StagedDelete removes the staged file in the
// background or waits for the removal to complete.
type Async bool

const (
	Sync  Async = false
	Defer Async = true
)

// StagedDelete renames path into <root>/.delete/<uuid>, then removes it
// either synchronously or in a background goroutine depending on async.
func (s *Stager) StagedDelete(path string, async Async) error {
	dest := filepath.Join(s.deleteDir(), uuid.NewString())
	if err := s.fs.Rename(path, dest); err != nil {
		return fmt.Errorf("deletestage: rename: %w", err)
	}

	if async == Defer {
		go func() {
			_ = s.fs.RemoveAll(dest)
		}()
		return nil
	}
	if err := s.fs.RemoveAll(dest); err != nil {
		return fmt.Errorf("deletestage: remove: %w", err)
	}
	return nil
}
