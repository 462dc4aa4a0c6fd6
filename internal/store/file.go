package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const lockRetryDelay = 10 * time.Millisecond

// FileStore keeps every key in a single JSON document. The daemon and the
// CLI commands may share one document from different processes: each write
// holds an exclusive lock on a sibling ".lock" file for the whole
// read-modify-write, and lands through a uniquely named temporary file that
// is renamed over the document.
type FileStore struct {
	fs   afero.Fs
	path string
	lock docLock

	mu sync.Mutex
}

// NewFileStore returns a store backed by path on fs. A nil fs means the OS
// filesystem. The parent directory is created if needed.
func NewFileStore(fs afero.Fs, path string) (*FileStore, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{fs: fs, path: path, lock: newDocLock(fs, path)}, nil
}

// Get implements Store. Readers never see a partial document because
// writers only ever rename complete files into place.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

// Set implements Store.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.lock(ctx); err != nil {
		return fmt.Errorf("failed to lock state document: %w", err)
	}
	defer s.lock.unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc[key] = string(value)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state document: %w", err)
	}
	return s.replace(data)
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// replace writes data to a fresh temporary file in the document's directory
// and renames it over the document.
func (s *FileStore) replace(data []byte) error {
	tmp, err := afero.TempFile(s.fs, filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	name := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(name)
		return fmt.Errorf("failed to write state document: %w", err)
	}
	if err := s.fs.Rename(name, s.path); err != nil {
		_ = s.fs.Remove(name)
		return fmt.Errorf("failed to replace state document: %w", err)
	}
	return nil
}

// load reads the document; a missing file is an empty document.
func (s *FileStore) load() (map[string]string, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state document: %w", err)
	}

	doc := make(map[string]string)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("state document %s is corrupt: %w", s.path, err)
	}
	return doc, nil
}

// docLock serializes writers of one document.
type docLock interface {
	lock(ctx context.Context) error
	unlock() error
}

// newDocLock returns an advisory file lock for documents on the OS
// filesystem and a process-wide lock for in-memory filesystems.
func newDocLock(fs afero.Fs, path string) docLock {
	if _, ok := fs.(*afero.OsFs); ok {
		return &flockLock{f: flock.New(path + ".lock")}
	}
	ch, _ := memLocks.LoadOrStore(path, make(chan struct{}, 1))
	return memLock(ch.(chan struct{}))
}

type flockLock struct {
	f *flock.Flock
}

func (l *flockLock) lock(ctx context.Context) error {
	locked, err := l.f.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("lock %s not acquired", l.f.Path())
	}
	return nil
}

func (l *flockLock) unlock() error { return l.f.Unlock() }

// memLocks holds one lock per document path for non-OS filesystems.
var memLocks sync.Map

type memLock chan struct{}

func (l memLock) lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l memLock) unlock() error {
	<-l
	return nil
}
