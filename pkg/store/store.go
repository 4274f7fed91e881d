package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	dirPerm       = 0o755
	filePerm      = 0o644
	hashPrefix    = "sha256:"
	lockDir       = ".locks"
	lockSuffix    = ".lock"
	lockRetry     = 100 * time.Millisecond
	partialPrefix = ".partial-"
	maxNameLen    = 255
)

// Store is one cache root, typically a single entry of a source or patch
// search path.
type Store interface {
	// Root returns the absolute directory the store is rooted at.
	Root() string
	// Path returns the absolute filesystem path for the given segments
	// joined under the store root. Does not create or verify the path.
	Path(segments ...string) string
	// Exists reports whether the path at the given segments exists.
	Exists(segments ...string) (bool, error)
	// IsDir reports whether the path at the given segments is a directory.
	IsDir(segments ...string) bool
	// EnsureDir creates the directory at segments (starting at store root),
	// including parents.
	EnsureDir(segments ...string) error
	// Remove deletes the entire tree at segments.
	Remove(segments ...string) error
	// WriteAtomic streams r into the file at segments. The content is
	// written under a temporary name in the same directory and renamed
	// into place, so the final path is either absent or complete.
	WriteAtomic(r io.Reader, segments ...string) (int64, error)
	// Lock takes an advisory lock for the path at segments, waiting until
	// it is free or ctx is done. The lock file lives in a .locks directory
	// beside the path. The returned func releases it.
	Lock(ctx context.Context, segments ...string) (func(), error)
	// HashFile computes a "sha256:<hex>" digest of the file at segments.
	HashFile(segments ...string) (string, error)
}

func New(root string) Store {
	return &store{root: root}
}

type store struct {
	root string
}

var _ Store = &store{}

func (s *store) Root() string {
	return s.root
}

func (s *store) Path(segments ...string) string {
	return filepath.Join(append([]string{s.root}, segments...)...)
}

func (s *store) Exists(segments ...string) (bool, error) {
	_, err := os.Stat(s.Path(segments...))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *store) IsDir(segments ...string) bool {
	info, err := os.Stat(s.Path(segments...))
	return err == nil && info.IsDir()
}

func (s *store) EnsureDir(segments ...string) error {
	return os.MkdirAll(s.Path(segments...), dirPerm)
}

func (s *store) Remove(segments ...string) error {
	return os.RemoveAll(s.Path(segments...))
}

func (s *store) WriteAtomic(r io.Reader, segments ...string) (int64, error) {
	dest := s.Path(segments...)
	dir := filepath.Dir(dest)

	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return n, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return n, err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return n, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

func (s *store) Lock(ctx context.Context, segments ...string) (func(), error) {
	target := s.Path(segments...)
	dir := filepath.Join(filepath.Dir(target), lockDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, lockName(filepath.Base(target)))
	fileLock := flock.New(path)

	locked, err := fileLock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("locking %s: lock not acquired", path)
	}
	return func() { fileLock.Unlock() }, nil
}

// lockName names the lock file for base, falling back to a digest of base
// when base plus the suffix would be too long for a directory entry.
func lockName(base string) string {
	if len(base)+len(lockSuffix) <= maxNameLen {
		return base + lockSuffix
	}
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:]) + lockSuffix
}

func (s *store) HashFile(segments ...string) (string, error) {
	f, err := os.Open(s.Path(segments...))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
