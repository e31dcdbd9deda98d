// Package reconcile runs one batch of raw messages through classification,
// protection checks, enrichment and staging, then flushes every touched
// record collection.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/runreveal/canaryhits/internal/classify"
	"github.com/runreveal/canaryhits/internal/records"
	"github.com/runreveal/canaryhits/internal/sources/mailbox"
	"github.com/runreveal/canaryhits/internal/types"
	"github.com/runreveal/kawa"
	"github.com/segmentio/ksuid"
)

type Classifier interface {
	Classify(raw []byte) classify.Result
}

type Enricher interface {
	IsKnownRelay(ctx context.Context, ip string) (bool, error)
	LookupGeo(ctx context.Context, ip string) types.GeoInfo
}

// Written is a location that was created or replaced by this run.
type Written struct {
	Location string
	Events   int
}

// Blocked is a protected location and the number of hits that were not
// written to it.
type Blocked struct {
	Location string
	Hits     int
}

// Failure is a single message that could not be read, enriched or checked.
// Location is empty when the message was never classified.
type Failure struct {
	Message  string
	Location string
	Err      error
}

type Result struct {
	RunID    string
	Received int
	// Skipped counts messages that were not token hits or lacked a required
	// field.
	Skipped         int
	Written         []Written
	Blocked         []Blocked
	Failures        []Failure
	PersistFailures []*records.PersistError
}

// Locations returns every location holding data relevant to this batch:
// written ones first, then blocked ones.
func (r *Result) Locations() []string {
	out := make([]string, 0, len(r.Written)+len(r.Blocked))
	for _, w := range r.Written {
		out = append(out, w.Location)
	}
	for _, b := range r.Blocked {
		out = append(out, b.Location)
	}
	return out
}

type Option func(*Engine)

func WithNaming(n records.Naming) Option {
	return func(e *Engine) {
		e.naming = n
	}
}

type Engine struct {
	classifier Classifier
	enricher   Enricher
	store      *records.Store
	naming     records.Naming
}

func New(c Classifier, enricher Enricher, store *records.Store, opts ...Option) *Engine {
	e := &Engine{
		classifier: c,
		enricher:   enricher,
		store:      store,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// batch holds the per-run bookkeeping.
type batch struct {
	res       *Result
	protected map[string]bool
	blocked   map[string]int
	order     []string
}

// Run consumes src until io.EOF, processing one message at a time, and then
// flushes every location that received at least one event. A message that
// cannot be read is reported as a Failure; any other error from src aborts
// the batch before anything is flushed.
func (e *Engine) Run(ctx context.Context, src kawa.Source[mailbox.Message]) (*Result, error) {
	b := &batch{
		res:       &Result{RunID: ksuid.New().String()},
		protected: make(map[string]bool),
		blocked:   make(map[string]int),
	}
	slog.Info(fmt.Sprintf("run %s: starting batch", b.res.RunID))

	for {
		msg, ack, err := src.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		var rerr *mailbox.ReadError
		if errors.As(err, &rerr) {
			b.res.Received++
			b.fail(rerr.Name, "", rerr.Err)
			continue
		}
		if err != nil {
			return b.res, fmt.Errorf("run %s: receive: %w", b.res.RunID, err)
		}
		b.res.Received++
		e.process(ctx, b, msg.Value)
		if ack != nil {
			ack()
		}
	}

	for _, loc := range b.order {
		b.res.Blocked = append(b.res.Blocked, Blocked{Location: loc, Hits: b.blocked[loc]})
	}
	e.flush(ctx, b.res)

	slog.Info(fmt.Sprintf("run %s: %d messages, %d skipped, %d written, %d blocked, %d failed",
		b.res.RunID, b.res.Received, b.res.Skipped, len(b.res.Written), len(b.res.Blocked),
		len(b.res.Failures)+len(b.res.PersistFailures)))
	return b.res, nil
}

func (e *Engine) process(ctx context.Context, b *batch, msg mailbox.Message) {
	cls := e.classifier.Classify(msg.Raw)
	if !cls.OK() {
		slog.Debug(fmt.Sprintf("%s: skipped (%s: %s)", msg.Name, cls.Kind, cls.Reason))
		b.res.Skipped++
		return
	}
	loc := e.naming.Location(cls.SourceID)

	// Protection is decided before any lookup is issued for this message.
	protected, ok := b.protected[loc]
	if !ok {
		var err error
		protected, err = e.store.Protected(ctx, loc)
		if err != nil {
			b.fail(msg.Name, loc, err)
			return
		}
		b.protected[loc] = protected
	}
	if protected {
		if _, seen := b.blocked[loc]; !seen {
			b.order = append(b.order, loc)
		}
		b.blocked[loc]++
		slog.Debug(fmt.Sprintf("%s: %s already exists, not enriching", msg.Name, loc))
		return
	}

	ev := cls.Event()
	relay, err := e.enricher.IsKnownRelay(ctx, ev.SrcIP)
	if err != nil {
		b.fail(msg.Name, loc, err)
		return
	}
	ev.IsRelay = relay
	ev.Geo = e.enricher.LookupGeo(ctx, ev.SrcIP)

	e.store.Append(loc, ev)
}

func (b *batch) fail(name, loc string, err error) {
	slog.Warn(fmt.Sprintf("%s: %s", name, err))
	b.res.Failures = append(b.res.Failures, Failure{Message: name, Location: loc, Err: err})
}

func (e *Engine) flush(ctx context.Context, res *Result) {
	for _, loc := range e.store.Staged() {
		n := e.store.Pending(loc)
		if _, err := e.store.Flush(ctx, loc); err != nil {
			var perr *records.PersistError
			if !errors.As(err, &perr) {
				perr = &records.PersistError{Location: loc, Events: n, Err: err}
			}
			slog.Error(perr.Error())
			res.PersistFailures = append(res.PersistFailures, perr)
			continue
		}
		res.Written = append(res.Written, Written{Location: loc, Events: n})
	}
}
