// Package preview stores previewable copies of staged files.
//
// A Registry implements staging.Previewer. Acquire writes the file's bytes to
// an afero filesystem under a fresh id and returns a handle whose URL the web
// layer serves; Release deletes the bytes so the URL stops resolving. The
// filesystem is in-memory unless a directory is configured.
package preview

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/JonMunkholm/filestage/internal/staging"
)

// ErrNotFound is returned for an id that was never acquired or has already
// been released.
var ErrNotFound = errors.New("preview not found")

// DefaultURLPrefix is the path handles are served under.
const DefaultURLPrefix = "/preview/"

// Object is an open preview. The caller must close File.
type Object struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
	ModTime  time.Time
	File     afero.File
}

type meta struct {
	name     string
	mimeType string
	size     int64
	created  time.Time
}

// Registry tracks live preview handles. It is safe for concurrent use.
type Registry struct {
	fs        afero.Fs
	urlPrefix string
	now       func() time.Time
	logger    *slog.Logger

	mu    sync.RWMutex
	items map[string]meta
}

// Option configures a Registry.
type Option func(*Registry)

// WithURLPrefix sets the path prefix used in handle URLs.
func WithURLPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.urlPrefix = prefix
		}
	}
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewFs returns the filesystem previews are written to: an OS directory when
// dir is set, memory otherwise.
func NewFs(dir string) (afero.Fs, error) {
	if dir == "" {
		return afero.NewMemMapFs(), nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return afero.NewBasePathFs(afero.NewOsFs(), dir), nil
}

// New creates a registry on fs.
func New(fs afero.Fs, opts ...Option) *Registry {
	r := &Registry{
		fs:        fs,
		urlPrefix: DefaultURLPrefix,
		now:       time.Now,
		logger:    slog.Default(),
		items:     make(map[string]meta),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire stores f's content and returns a handle to it.
func (r *Registry) Acquire(f staging.RawFile) (staging.Handle, error) {
	id := uuid.NewString()

	if err := afero.WriteFile(r.fs, blobPath(id), f.Content, 0o600); err != nil {
		return staging.Handle{}, fmt.Errorf("write preview: %w", err)
	}

	r.mu.Lock()
	r.items[id] = meta{
		name:     f.Name,
		mimeType: f.MimeType,
		size:     int64(len(f.Content)),
		created:  r.now(),
	}
	r.mu.Unlock()

	return staging.Handle{ID: id, URL: r.urlPrefix + id}, nil
}

// Release deletes the content behind h. Releasing an unknown or already
// released handle returns ErrNotFound.
func (r *Registry) Release(h staging.Handle) error {
	r.mu.Lock()
	_, ok := r.items[h.ID]
	delete(r.items, h.ID)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("release %q: %w", h.ID, ErrNotFound)
	}
	if err := r.fs.Remove(blobPath(h.ID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove preview: %w", err)
	}
	return nil
}

// Open returns the live preview for id.
func (r *Registry) Open(id string) (*Object, error) {
	r.mu.RLock()
	m, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	f, err := r.fs.Open(blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			// Released between the lookup and the open.
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open preview: %w", err)
	}

	return &Object{
		ID:       id,
		Name:     m.name,
		MimeType: m.mimeType,
		Size:     m.size,
		ModTime:  m.created,
		File:     f,
	}, nil
}

// ReadAll returns the bytes behind id.
func (r *Registry) ReadAll(id string) ([]byte, error) {
	obj, err := r.Open(id)
	if err != nil {
		return nil, err
	}
	defer obj.File.Close()
	return io.ReadAll(obj.File)
}

// Live returns the number of handles acquired and not yet released.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Close deletes every remaining preview. Stores should have released their
// handles already; anything left is logged.
func (r *Registry) Close() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	r.items = make(map[string]meta)
	r.mu.Unlock()

	if len(ids) > 0 {
		r.logger.Warn("releasing leftover previews", "count", len(ids))
	}

	var errs []error
	for _, id := range ids {
		if err := r.fs.Remove(blobPath(id)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func blobPath(id string) string {
	return path.Join("/", id+".blob")
}
