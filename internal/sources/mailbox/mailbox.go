package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/runreveal/kawa"
)

// Message is one raw notification read from the mailbox directory.
type Message struct {
	Name string
	Raw  []byte
}

type Option func(*Source)

// WithExtension only reads files with the given suffix (e.g. ".eml").
func WithExtension(ext string) Option {
	return func(s *Source) {
		s.extension = ext
	}
}

func WithPath(path string) Option {
	return func(s *Source) {
		s.path = path
	}
}

// ReadError is returned by Recv when a single message file could not be
// read. The source stays usable and the next Recv moves on to the next file.
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("mailbox: reading %s: %s", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

var _ kawa.Source[Message] = (*Source)(nil)

// Source reads a directory of message files, one message per file, in
// directory listing order. Recv returns io.EOF once every file was read.
// Errors other than *ReadError concern the whole directory.
type Source struct {
	path      string
	extension string

	files  []string
	next   int
	listed bool
}

func New(opts ...Option) *Source {
	s := &Source{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) list() error {
	if s.path == "" {
		return fmt.Errorf("mailbox: path is required")
	}
	st, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}
	if !st.IsDir() {
		return errors.New("mailbox: path is not a directory")
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fname := filepath.Join(s.path, entry.Name())
		if s.extension != "" && !strings.HasSuffix(fname, s.extension) {
			slog.Debug(fmt.Sprintf("skipping file without given extension (%s): %s", s.extension, fname))
			continue
		}
		s.files = append(s.files, fname)
	}
	slog.Info(fmt.Sprintf("found %d message files in %s", len(s.files), s.path))
	s.listed = true
	return nil
}

// Len returns the number of files in the mailbox, listing it if needed.
func (s *Source) Len() (int, error) {
	if !s.listed {
		if err := s.list(); err != nil {
			return 0, err
		}
	}
	return len(s.files), nil
}

func (s *Source) Recv(ctx context.Context) (kawa.Message[Message], func(), error) {
	if err := ctx.Err(); err != nil {
		return kawa.Message[Message]{}, nil, err
	}
	if !s.listed {
		if err := s.list(); err != nil {
			return kawa.Message[Message]{}, nil, err
		}
	}
	if s.next >= len(s.files) {
		return kawa.Message[Message]{}, nil, io.EOF
	}

	fname := s.files[s.next]
	s.next++
	raw, err := os.ReadFile(fname)
	if err != nil {
		slog.Error(fmt.Sprintf("skipping unreadable message %s: %s", fname, err))
		return kawa.Message[Message]{}, nil, &ReadError{Name: fname, Err: err}
	}
	return kawa.Message[Message]{
		Key:   fname,
		Value: Message{Name: fname, Raw: raw},
	}, func() {}, nil
}
