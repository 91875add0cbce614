package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const tempDirName = ".tmp"

// FilesystemStore keeps blobs as files below a base directory. Temporary
// blobs live in a subdirectory of the same filesystem so Commit is a rename.
type FilesystemStore struct {
	basePath string
}

// NewFilesystemStore creates the base and temp directories if needed.
func NewFilesystemStore(basePath string) (*FilesystemStore, error) {
	if err := os.MkdirAll(filepath.Join(basePath, tempDirName), 0o755); err != nil {
		return nil, errors.Wrap(err, "could not create blob directory")
	}
	return &FilesystemStore{basePath: basePath}, nil
}

func (s *FilesystemStore) path(key string) (string, error) {
	// Rooting the key before cleaning keeps it inside basePath.
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" {
		return "", errors.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.basePath, clean), nil
}

// WriteTemp writes r to a new file in the temp directory.
func (s *FilesystemStore) WriteTemp(ctx context.Context, r io.Reader) (*TempBlob, error) {
	key := tempDirName + "/" + uuid.NewString()
	p := filepath.Join(s.basePath, key)

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "could not create temporary file")
	}
	cr := newCountingReader(ctx, r)
	_, err = io.Copy(f, cr)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(p)
		return nil, errors.Wrap(err, "failed to write uploaded file")
	}
	return &TempBlob{Key: key, Size: cr.bytes}, nil
}

// Commit renames the temporary file to its final key.
func (s *FilesystemStore) Commit(ctx context.Context, tmp *TempBlob, finalKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.path(tmp.Key)
	if err != nil {
		return err
	}
	dst, err := s.path(finalKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "could not create blob directory")
	}
	return errors.Wrapf(os.Rename(src, dst), "could not move %s to %s", tmp.Key, finalKey)
}

// DeleteIfExists removes the file stored under key.
func (s *FilesystemStore) DeleteIfExists(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "could not delete %s", key)
	}
	return nil
}

// Read opens the file stored under key.
func (s *FilesystemStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", key)
	}
	return f, nil
}

// PurgeTemp removes temporary files last modified before olderThan.
func (s *FilesystemStore) PurgeTemp(ctx context.Context, olderThan time.Time) (int, error) {
	dir := filepath.Join(s.basePath, tempDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrap(err, "could not list temporary files")
	}
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := e.Info()
		if err != nil || e.IsDir() || !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, errors.Wrapf(err, "could not delete temporary file %s", e.Name())
		}
		removed++
	}
	return removed, nil
}
