package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/segmentio/ksuid"
)

type Filesystem struct {
	baseDir string
}

type FilesystemConfig struct {
	BaseDirectory string `json:"baseDir"`
}

func NewFilesystem(cfg FilesystemConfig) (*Filesystem, error) {
	if cfg.BaseDirectory == "" {
		return nil, errors.New("base directory is required")
	}

	// Create base directory if it doesn't exist
	if err := os.MkdirAll(cfg.BaseDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Filesystem{
		baseDir: cfg.BaseDirectory,
	}, nil
}

// getPath constructs the full filesystem path for a key. Absolute keys are
// used as given.
func (fs *Filesystem) getPath(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(fs.baseDir, key)
}

func (fs *Filesystem) GetObject(_ context.Context, in GetObjectInput) (io.ReadCloser, error) {
	file, err := os.Open(fs.getPath(in.Key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, in.Key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (fs *Filesystem) StatObject(_ context.Context, in StatObjectInput) (bool, error) {
	st, err := os.Stat(fs.getPath(in.Key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file: %w", err)
	}
	if st.IsDir() {
		return false, fmt.Errorf("%s is a directory", in.Key)
	}
	return true, nil
}

// PutObject writes the data to a temporary file next to the destination and
// renames it into place once it is fully synced. With NoReplace the temporary
// file is hard linked instead, so an existing destination is left untouched.
func (fs *Filesystem) PutObject(_ context.Context, in PutObjectInput) error {
	path := fs.getPath(in.Key)

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory structure: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), ksuid.New().String()))
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err = io.Copy(file, in.Data); err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write data: %w", err)
	}

	if in.NoReplace {
		// link fails if path exists, unlike rename
		err = os.Link(tmp, path)
		os.Remove(tmp)
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExist, in.Key)
		}
		if err != nil {
			return fmt.Errorf("failed to link %s into place: %w", path, err)
		}
		return nil
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
