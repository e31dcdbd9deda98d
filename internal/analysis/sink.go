// Package analysis summarizes persisted record collections.
package analysis

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/runreveal/canaryhits/internal/types"
)

// Collection is a named, ordered set of events, usually one record file.
type Collection struct {
	Name   string
	Events []types.Event
}

// Sink consumes the final set of collections produced or named by a run.
type Sink interface {
	Consume(ctx context.Context, collections []Collection) error
}

type Reader interface {
	ReadAll(ctx context.Context, location string) ([]types.Event, error)
}

// Collect reads each location into a Collection, skipping duplicate names.
func Collect(ctx context.Context, r Reader, locations []string) ([]Collection, error) {
	seen := make(map[string]bool, len(locations))
	var out []Collection
	for _, loc := range locations {
		if seen[loc] {
			continue
		}
		seen[loc] = true
		events, err := r.ReadAll(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", loc, err)
		}
		out = append(out, Collection{Name: loc, Events: events})
	}
	return out, nil
}

var (
	titleColor  = color.New(color.FgCyan, color.Bold)
	headerColor = color.New(color.FgWhite, color.Bold)
)

var _ Sink = (*Report)(nil)

// Report renders every chart of every collection as a text table.
type Report struct {
	w io.Writer
}

func NewReport(w io.Writer) *Report {
	return &Report{w: w}
}

func (r *Report) Consume(ctx context.Context, collections []Collection) error {
	for _, c := range collections {
		if err := ctx.Err(); err != nil {
			return err
		}
		titleColor.Fprintf(r.w, "%s (%d hits)\n", c.Name, len(c.Events))
		if len(c.Events) == 0 {
			fmt.Fprintln(r.w)
			continue
		}
		for _, chart := range Buckets(c.Events) {
			r.render(chart)
		}
	}
	return nil
}

func (r *Report) render(chart Chart) {
	width := len(chart.Title)
	for _, b := range chart.Buckets {
		if len(b.Key) > width {
			width = len(b.Key)
		}
	}
	headerColor.Fprintf(r.w, "  %-*s  %s\n", width, chart.Title, "hits")
	fmt.Fprintf(r.w, "  %s  %s\n", strings.Repeat("-", width), strings.Repeat("-", 4))
	for _, b := range chart.Buckets {
		fmt.Fprintf(r.w, "  %-*s  %d\n", width, b.Key, b.Count)
	}
	fmt.Fprintln(r.w)
}
