package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

const ext = ".json"

// Options configures a Store. The zero value is usable.
type Options struct {
	// LockTimeout bounds the wait for a key lock. 0 waits until the context is
	// done.
	LockTimeout time.Duration
	// CrossProcess additionally holds an advisory flock on <file>.lock during
	// each operation. The lock file, and missing parent directories, are
	// created by the first write or by a read of an existing document. Only
	// effective on unix.
	CrossProcess bool
	// FileMode is the permission of written documents. Defaults to 0o600.
	FileMode os.FileMode
	// Logger receives decode diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics receives the store counters. Defaults to a private set.
	Metrics *metrics.Set
}

// Store is a directory of JSON documents with one lock per key.
//
// A Store must be created with New and is safe for concurrent use. Create a
// single Store per directory and share it; two Stores on the same directory
// only exclude each other when CrossProcess is set.
type Store struct {
	dir   string
	opts  Options
	locks *xsync.MapOf[string, *keyLock]
	set   *metrics.Set
}

// keyLock is the registry entry for a key.
type keyLock struct {
	sem  *semaphore.Weighted
	path string
}

// New creates the directory if needed and returns a Store rooted at it.
func New(dir string, opts *Options) (*Store, error) {
	if dir == "" {
		return nil, errors.New("docstore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directory
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	s := &Store{dir: dir, locks: xsync.NewMapOf[string, *keyLock]()}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.FileMode == 0 {
		s.opts.FileMode = 0o600
	}
	s.set = s.opts.Metrics
	if s.set == nil {
		s.set = metrics.NewSet()
	}
	return s, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Metrics returns the metric set the store reports to.
func (s *Store) Metrics() *metrics.Set {
	return s.set
}

// Path returns the file backing key.
func (s *Store) Path(key string) (string, error) {
	_, path, err := s.resolve(key)
	return path, err
}

// Keys returns the keys that have been accessed through this Store, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.locks.Size())
	s.locks.Range(func(k string, _ *keyLock) bool {
		keys = append(keys, k)
		return true
	})
	slices.Sort(keys)
	return keys
}

// List returns the keys of all documents present on disk, sorted. Hidden
// files and directories are skipped.
func (s *Store) List() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != s.dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(name, ext) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, strings.TrimSuffix(filepath.ToSlash(rel), ext))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	slices.Sort(keys)
	return keys, nil
}

// resolve normalizes key and returns its registry name and file path.
//
// "mappings", "mappings.json" and "./mappings" all name the same document.
func (s *Store) resolve(key string) (string, string, error) {
	if key == "" || strings.ContainsRune(key, 0) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if !filepath.IsLocal(clean) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	name := strings.TrimSuffix(filepath.ToSlash(clean), ext)
	if name == "" || name == "." {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return name, filepath.Join(s.dir, filepath.FromSlash(name)+ext), nil
}

// withLock runs fn while holding the lock for key.
//
// With CrossProcess, readOnly operations on a missing document skip the flock
// so that reading a key never creates files.
func (s *Store) withLock(ctx context.Context, key string, readOnly bool, fn func(name, path string) error) error {
	name, path, err := s.resolve(key)
	if err != nil {
		return err
	}
	kl, _ := s.locks.LoadOrCompute(name, func() *keyLock {
		return &keyLock{sem: semaphore.NewWeighted(1), path: path}
	})

	start := time.Now()
	actx := ctx
	if s.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
	}
	if err := kl.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.counter("docstore_lock_timeouts_total", name).Inc()
		return fmt.Errorf("%w: %s after %s", ErrBusy, name, s.opts.LockTimeout)
	}
	defer kl.sem.Release(1)
	s.set.GetOrCreateHistogram("docstore_lock_wait_seconds").UpdateDuration(start)

	if s.opts.CrossProcess && !(readOnly && !exists(kl.path)) {
		unlock, err := lockFile(kl.path + ".lock")
		if err != nil {
			return err
		}
		defer unlock()
	}
	return fn(name, kl.path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func (s *Store) logger() *slog.Logger {
	if s.opts.Logger != nil {
		return s.opts.Logger
	}
	return slog.Default()
}

func (s *Store) counter(metric, name string) *metrics.Counter {
	return s.set.GetOrCreateCounter(fmt.Sprintf(`%s{key=%q}`, metric, name))
}

// read decodes the document at path into a fresh T. The caller holds the lock.
//
// decodeErr is set, and def returned, when the file exists but did not decode.
func read[T any](ctx context.Context, s *Store, name, path string, def T) (v T, decodeErr, err error) {
	s.counter("docstore_loads_total", name).Inc()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is resolved inside the store directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return def, nil, nil
		}
		return def, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		s.counter("docstore_decode_failures_total", name).Inc()
		s.logger().WarnContext(ctx, "Document failed to decode", "key", name, "path", path, "size", len(data), "err", err)
		return def, err, nil
	}
	return v, nil, nil
}

// write encodes v and atomically replaces path. The caller holds the lock.
func (s *Store) write(name, path string, v any) error {
	start := time.Now()
	data, err := encode(v)
	if err == nil {
		err = writeAtomic(path, data, s.opts.FileMode)
	}
	if err != nil {
		s.counter("docstore_write_failures_total", name).Inc()
		return fmt.Errorf("%w %s: %w", ErrWriteFailed, name, err)
	}
	s.counter("docstore_saves_total", name).Inc()
	s.set.GetOrCreateHistogram("docstore_save_duration_seconds").UpdateDuration(start)
	return nil
}

// Load returns the document stored under key decoded as T.
//
// def is returned when the document does not exist or does not decode as T;
// nothing is written in either case. An error is returned only for an invalid
// key, when the lock cannot be acquired, or when the file exists but cannot be
// read. The result never aliases def unless def itself is returned.
func Load[T any](ctx context.Context, s *Store, key string, def T) (T, error) {
	out := def
	err := s.withLock(ctx, key, true, func(name, path string) error {
		v, _, err := read(ctx, s, name, path, def)
		out = v
		return err
	})
	return out, err
}

// LoadStrict is Load except that a document that exists but does not decode
// as T is an error wrapping ErrCorrupt. Use it for documents where falling
// back to def would lose data.
func LoadStrict[T any](ctx context.Context, s *Store, key string, def T) (T, error) {
	out := def
	err := s.withLock(ctx, key, true, func(name, path string) error {
		v, decodeErr, err := read(ctx, s, name, path, def)
		if err != nil {
			return err
		}
		if decodeErr != nil {
			return fmt.Errorf("%w %s: %w", ErrCorrupt, name, decodeErr)
		}
		out = v
		return nil
	})
	return out, err
}

// Save replaces the document stored under key with doc.
//
// Missing parent directories are created. The previous document stays intact
// if the save fails.
func Save[T any](ctx context.Context, s *Store, key string, doc T) error {
	return s.withLock(ctx, key, false, func(name, path string) error {
		return s.write(name, path, doc)
	})
}

// Update loads the document under key, passes it to fn and saves the result,
// holding the key lock throughout.
//
// fn receives def when the document is missing or does not decode; def is not
// copied. When fn returns an error nothing is written and that error is
// returned unchanged. A document that did not decode is renamed to
// <file>.corrupt before being replaced.
func Update[T any](ctx context.Context, s *Store, key string, def T, fn func(doc *T) error) error {
	return s.withLock(ctx, key, false, func(name, path string) error {
		doc, decodeErr, err := read(ctx, s, name, path, def)
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		if decodeErr != nil {
			if err := os.Rename(path, path+".corrupt"); err != nil {
				return fmt.Errorf("%w %s: failed to preserve corrupt document: %w", ErrWriteFailed, name, err)
			}
			s.logger().WarnContext(ctx, "Preserved corrupt document", "key", name, "path", path+".corrupt")
		}
		return s.write(name, path, doc)
	})
}

// Status describes a document on disk.
type Status struct {
	Key    string
	Path   string
	Exists bool
	Size   int64
	// Err is the decode error, nil when the file holds valid JSON.
	Err error
}

// Stat reports whether the document under key exists and is valid JSON.
func (s *Store) Stat(ctx context.Context, key string) (Status, error) {
	var st Status
	err := s.withLock(ctx, key, true, func(name, path string) error {
		st.Key = name
		st.Path = path
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is resolved inside the store directory
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		st.Exists = true
		st.Size = int64(len(data))
		var v json.RawMessage
		st.Err = json.Unmarshal(data, &v)
		return nil
	})
	return st, err
}
