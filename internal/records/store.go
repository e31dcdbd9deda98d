// Package records keeps per-source collections of hits. Events are staged in
// memory during a batch and written out once per location with Flush.
package records

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/runreveal/canaryhits/internal/destinations/objstore"
	"github.com/runreveal/canaryhits/internal/types"
)

// Extension is appended to every location.
const Extension = ".csv"

// ErrProtected is returned by Flush when the location already holds a
// collection and override was not requested.
var ErrProtected = errors.New("record collection already exists")

// PersistError reports a failed write. The events stay staged.
type PersistError struct {
	Location string
	Events   int
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %d events to %s: %s", e.Events, e.Location, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Naming maps a source id to a location: <prefix><source id>.csv.
type Naming struct {
	Prefix string
}

var pathSeparators = strings.NewReplacer("/", "_", `\`, "_")

// Location returns the location for sourceID. Path separators inside the
// source id are replaced so a source id can never leave the prefix.
func (n Naming) Location(sourceID string) string {
	return n.Prefix + pathSeparators.Replace(sourceID) + Extension
}

type Option func(*Store)

// WithOverride allows Flush to replace existing collections.
func WithOverride(override bool) Option {
	return func(s *Store) {
		s.override = override
	}
}

// Store is not safe for concurrent use.
type Store struct {
	objs     *objstore.ObjStorageManager
	override bool

	staged map[string][]types.Event
	order  []string
}

func New(blob objstore.BlobLike, opts ...Option) (*Store, error) {
	objs, err := objstore.New(blob)
	if err != nil {
		return nil, err
	}
	s := &Store{
		objs:   objs,
		staged: make(map[string][]types.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Override() bool {
	return s.override
}

// Protected reports whether location already holds a collection that must
// not be replaced. It is always false when override was requested.
func (s *Store) Protected(ctx context.Context, location string) (bool, error) {
	if s.override {
		return false, nil
	}
	return s.objs.Exists(ctx, location)
}

// Append stages ev under location. Nothing is written until Flush.
func (s *Store) Append(location string, ev types.Event) {
	if !slices.Contains(s.order, location) {
		s.order = append(s.order, location)
	}
	s.staged[location] = append(s.staged[location], ev)
}

// Staged returns the locations with staged events, in the order they were
// first appended to.
func (s *Store) Staged() []string {
	out := make([]string, 0, len(s.order))
	for _, loc := range s.order {
		if len(s.staged[loc]) > 0 {
			out = append(out, loc)
		}
	}
	return out
}

// Pending returns the number of staged events for location.
func (s *Store) Pending(location string) int {
	return len(s.staged[location])
}

// Flush writes every staged event for location as one object, replacing prior
// content only when override was requested or none existed. On success the
// staged events are released and the location is returned for reading back.
func (s *Store) Flush(ctx context.Context, location string) (string, error) {
	events := s.staged[location]
	if len(events) == 0 {
		return "", fmt.Errorf("flush %s: nothing staged", location)
	}

	if !s.override {
		exists, err := s.objs.Exists(ctx, location)
		if err != nil {
			return "", &PersistError{Location: location, Events: len(events), Err: err}
		}
		if exists {
			return "", &PersistError{Location: location, Events: len(events), Err: ErrProtected}
		}
	}

	var buf bytes.Buffer
	if err := Encode(&buf, events); err != nil {
		return "", &PersistError{Location: location, Events: len(events), Err: err}
	}
	var err error
	if s.override {
		err = s.objs.Store(ctx, location, &buf)
	} else {
		// a collection created since the check above still wins
		err = s.objs.Create(ctx, location, &buf)
		if errors.Is(err, objstore.ErrExist) {
			err = ErrProtected
		}
	}
	if err != nil {
		return "", &PersistError{Location: location, Events: len(events), Err: err}
	}

	slog.Debug(fmt.Sprintf("flushed %d events to %s", len(events), location))
	delete(s.staged, location)
	return location, nil
}

// ReadAll returns the events stored at location in their original order.
func (s *Store) ReadAll(ctx context.Context, location string) ([]types.Event, error) {
	rc, err := s.objs.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	events, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return events, nil
}
