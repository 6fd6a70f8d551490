package location

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source hands out the current catalog. Implementations may swap the catalog at any time;
// callers must not cache the result across user actions.
type Source interface {
	Catalog() *Catalog
}

// StaticSource always returns the same catalog.
type StaticSource struct {
	catalog *Catalog
}

// NewStaticSource wraps a catalog. A nil catalog uses Default().
func NewStaticSource(c *Catalog) *StaticSource {
	if c == nil {
		c = Default()
	}
	return &StaticSource{catalog: c}
}

// Catalog implements Source.
func (s *StaticSource) Catalog() *Catalog { return s.catalog }

// FileSource serves a catalog loaded from disk and reloads it when the file changes.
type FileSource struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	current  atomic.Pointer[Catalog]

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onReload func(*Catalog)
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*FileSource)

// WithDebounce sets how long the watcher waits for writes to settle before reloading.
func WithDebounce(d time.Duration) FileSourceOption {
	return func(s *FileSource) { s.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FileSourceOption {
	return func(s *FileSource) { s.logger = logger }
}

// WithReloadHook registers a callback run after each successful reload.
func WithReloadHook(fn func(*Catalog)) FileSourceOption {
	return func(s *FileSource) { s.onReload = fn }
}

// NewFileSource loads the catalog at path. The file must parse on first load.
func NewFileSource(path string, opts ...FileSourceOption) (*FileSource, error) {
	s := &FileSource{
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(c)
	return s, nil
}

// Catalog implements Source.
func (s *FileSource) Catalog() *Catalog { return s.current.Load() }

// Watch starts reloading the catalog on file changes until ctx is done or Close is called.
// The parent directory is watched so that editors replacing the file by rename are seen.
func (s *FileSource) Watch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return fmt.Errorf("catalog watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = fsw

	go s.processEvents(ctx, fsw)

	s.logger.Info("Location catalog watcher started", "path", s.path)
	return nil
}

// Close stops the watcher.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

// processEvents collects changes to the catalog file and reloads once they settle.
func (s *FileSource) processEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()

	target := filepath.Clean(s.path)
	pending := false

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = true
				s.logger.Debug("Catalog change detected", "op", event.Op.String())
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.Error("Catalog watcher error", "error", err)

		case <-ticker.C:
			if pending {
				pending = false
				s.reload()
			}
		}
	}
}

func (s *FileSource) reload() {
	c, err := LoadFile(s.path)
	if err != nil {
		// Keep serving the last good catalog
		s.logger.Warn("Catalog reload failed", "path", s.path, "error", err)
		return
	}
	s.current.Store(c)
	s.logger.Info("Catalog reloaded", "path", s.path, "provinces", len(c.provinces))
	if s.onReload != nil {
		s.onReload(c)
	}
}
