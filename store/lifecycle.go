package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"blockfile/observer"
)

// Open opens a store file at path against fs, applying opts, and starts its
// actor goroutine. The returned Store is usable immediately; its idle-close
// timer begins counting down from this call.
func Open(fs afero.Fs, path string, opts ...OpenOption) (*Store, error) {
	cfg := &openConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logrus.StandardLogger()
	}
	if cfg.ownerCtx == nil {
		cfg.ownerCtx = context.Background()
	}
	if cfg.initialWait == 0 {
		cfg.initialWait = InitialWait
	}
	if cfg.monitorCheck == 0 {
		cfg.monitorCheck = MonitorCheck
	}
	if cfg.observers == nil {
		cfg.observers = observer.New(cfg.initialWait, cfg.monitorCheck)
	}

	file, eof, err := openFile(fs, path, cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:         path,
		isSys:        cfg.sys,
		fs:           fs,
		file:         file,
		eof:          eof,
		logger:       cfg.logger,
		metrics:      cfg.metrics,
		observers:    cfg.observers,
		mailbox:      make(chan task),
		closed:       make(chan struct{}),
		ownerCtx:     cfg.ownerCtx,
		initialWait:  cfg.initialWait,
		monitorCheck: cfg.monitorCheck,
	}

	if s.metrics != nil && !s.isSys {
		s.metrics.OpenFiles.Inc()
	}

	go s.run()
	return s, nil
}

// openFile implements spec section 4.5's algorithm.
func openFile(fs afero.Fs, path string, cfg *openConfig) (afero.File, int64, error) {
	if cfg.create {
		if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, 0, fmt.Errorf("store: mkdir: %w", err)
		}

		f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, 0, fmt.Errorf("store: open: %w", err)
		}

		stat, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, 0, fmt.Errorf("store: stat: %w", err)
		}

		size := stat.Size()
		if size > 0 && !cfg.overwrite {
			_ = f.Close()
			return nil, 0, ErrAlreadyExists
		}
		if size > 0 && cfg.overwrite {
			if err := f.Truncate(0); err != nil {
				_ = f.Close()
				return nil, 0, fmt.Errorf("store: truncate: %w", err)
			}
			if err := f.Sync(); err != nil {
				_ = f.Close()
				return nil, 0, fmt.Errorf("store: sync: %w", err)
			}
			size = 0
		}
		return f, size, nil
	}

	probe, err := fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if !cfg.noLogIfMissing {
				cfg.logger.WithField("file", path).Warn("store: file not found")
			}
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("store: open: %w", err)
	}
	_ = probe.Close()

	mode := os.O_RDWR
	if cfg.readOnly {
		mode = os.O_RDONLY
	}
	f, err := fs.OpenFile(path, mode, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("store: open: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("store: stat: %w", err)
	}
	return f, stat.Size(), nil
}

// run is the actor's mailbox loop. Every request is fully processed before
// the next is read, which is the store's sole synchronization mechanism.
func (s *Store) run() {
	idleTimer := time.NewTimer(s.initialWait)
	defer idleTimer.Stop()

	for {
		select {
		case t := <-s.mailbox:
			if stop := t.run(); stop {
				s.teardown()
				return
			}

		case <-idleTimer.C:
			if s.observers.IsIdle() {
				s.teardown()
				return
			}
			idleTimer.Reset(s.monitorCheck)

		case <-s.ownerCtx.Done():
			if s.observers.IsIdle() {
				s.teardown()
				return
			}
			// Owner death is a one-shot trigger: arm a channel that never
			// fires again so this case does not spin.
			s.ownerCtx = context.Background()
		}
	}
}

func (s *Store) teardown() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.file.Close()
		if s.metrics != nil && !s.isSys {
			s.metrics.OpenFiles.Dec()
		}
	})
}
