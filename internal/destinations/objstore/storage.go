package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotExist is returned (wrapped) by GetObject when the key is missing.
var ErrNotExist = errors.New("object does not exist")

// ErrExist is returned (wrapped) by PutObject with NoReplace when the key is
// already taken.
var ErrExist = errors.New("object already exists")

type GetObjectInput struct {
	Key string
}

type PutObjectInput struct {
	Key  string
	Data io.Reader
	// NoReplace makes the write fail with ErrExist instead of replacing an
	// existing object. The check and the write are a single step.
	NoReplace bool
}

type StatObjectInput struct {
	Key string
}

// BlobLike is implemented by every backend records can be persisted to.
// PutObject must not expose a partially written object to readers.
type BlobLike interface {
	GetObject(ctx context.Context, in GetObjectInput) (io.ReadCloser, error)
	PutObject(ctx context.Context, in PutObjectInput) error
	StatObject(ctx context.Context, in StatObjectInput) (bool, error)
}

// ObjStorageManager is a high level wrapper around a BlobLike backend.
type ObjStorageManager struct {
	svc BlobLike
}

func New(objstr BlobLike) (*ObjStorageManager, error) {
	if objstr == nil {
		return nil, errors.New("objstore: nil backend")
	}
	return &ObjStorageManager{svc: objstr}, nil
}

func (m *ObjStorageManager) ReadAll(ctx context.Context, key string) ([]byte, error) {
	readCloser, err := m.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(readCloser)
	if err != nil {
		readCloser.Close()
		return nil, fmt.Errorf("object read error (%s): %w", key, err)
	}
	err = readCloser.Close()
	if err != nil {
		return nil, fmt.Errorf("object close error (%s): %w", key, err)
	}
	return buf.Bytes(), nil
}

// Read returns an io.ReadCloser for the given key that must be closed by the
// caller.
func (m *ObjStorageManager) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := m.svc.GetObject(ctx, GetObjectInput{Key: key})
	if err != nil {
		return nil, fmt.Errorf("GetObject error (%s): %w", key, err)
	}
	return result, nil
}

// Store stores the data for the given key.
// data will be read until io.EOF is returned from Read().
func (m *ObjStorageManager) Store(ctx context.Context, key string, data io.Reader) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	return m.svc.PutObject(ctx, PutObjectInput{
		Key:  key,
		Data: data,
	})
}

// Create stores data under key only if nothing is stored there yet. It
// returns an error wrapping ErrExist otherwise.
func (m *ObjStorageManager) Create(ctx context.Context, key string, data io.Reader) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	return m.svc.PutObject(ctx, PutObjectInput{
		Key:       key,
		Data:      data,
		NoReplace: true,
	})
}

// Exists reports whether an object is stored under key.
func (m *ObjStorageManager) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := m.svc.StatObject(ctx, StatObjectInput{Key: key})
	if err != nil {
		return false, fmt.Errorf("StatObject error (%s): %w", key, err)
	}
	return ok, nil
}
