package storage

import (
	"context"
	"io"
	fspkg "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type fs struct {
	workspace string
}

// NewFileSystem returns a new File System backend.
func NewFileSystem(workspace string) Backend {
	return &fs{
		workspace: workspace,
	}
}

func (b *fs) Name() string {
	return "file_system"
}

func (b *fs) Reader(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	rc, err := os.Open(b.path(bucket, key))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not open file")
	}
	return rc, nil
}

func (b *fs) Writer(_ context.Context, bucket, key string) (io.WriteCloser, error) {
	b.mkdirAllWithFilename(bucket, key)

	path := b.path(bucket, key)
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, errors.Wrap(err, "could not create file")
	}
	return &fileWriter{File: f, path: path}, nil
}

func (b *fs) Exist(bucket, key string) bool {
	_, err := os.Stat(b.path(bucket, key))
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	return true // ignoring error
}

func (b *fs) Remove(_ context.Context, bucket, key string) error {
	if !b.Exist(bucket, key) {
		return errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
	}

	err := os.RemoveAll(b.path(bucket, key))
	if err != nil {
		return errors.Wrap(err, "could not delete file")
	}
	return nil
}

func (b *fs) Cleanup() error {
	// Find empty directories.
	//
	stats := map[string]int{}
	err := filepath.Walk(b.workspace, func(path string, info fspkg.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path == b.workspace {
				return nil
			}
			stats[path] += 0
			return nil
		}

		if strings.HasSuffix(path, ".DS_Store") {
			return nil
		}

		trimmedpath := strings.Replace(path, b.workspace, "", 1)
		base := b.workspace

		for _, segment := range strings.Split(filepath.Dir(trimmedpath), string(os.PathSeparator)) {
			base = filepath.Join(base, segment)
			if base == b.workspace || !strings.HasPrefix(base, b.workspace) {
				continue
			}
			stats[base]++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "cleanup")
	}

	// Remove empty directories.
	//
	for dirname, count := range stats {
		if count == 0 {
			os.RemoveAll(dirname)
		}
	}
	return nil
}

// path returns the filesystem path of the blob, key traversal outside the bucket is neutralized.
func (b *fs) path(bucket, key string) string {
	return filepath.Join(b.workspace, filepath.Clean("/"+bucket), filepath.Clean("/"+key))
}

func (b *fs) mkdirAllWithFilename(bucket, key string) {
	dir := filepath.Dir(b.path(bucket, key))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.MkdirAll(dir, 0755)
	}
}

// A fileWriter writes the blob in a temporary file renamed on Close.
type fileWriter struct {
	*os.File
	path string
}

func (w *fileWriter) Close() error {
	if err := w.File.Close(); err != nil {
		os.Remove(w.Name())
		return errors.Wrap(err, "could not write file")
	}
	return errors.Wrap(os.Rename(w.Name(), w.path), "could not commit file")
}

func (w *fileWriter) CloseWithError(error) error {
	w.File.Close()
	return errors.Wrap(os.Remove(w.Name()), "could not discard file")
}
