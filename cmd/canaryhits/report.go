package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/runreveal/canaryhits/internal/reconcile"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
)

func printRunReport(w io.Writer, res *reconcile.Result) {
	infoColor.Fprintf(w, "run %s: %d messages read, %d not token hits\n", res.RunID, res.Received, res.Skipped)
	for _, wr := range res.Written {
		successColor.Fprintf(w, "✓ wrote %s (%d hits)\n", wr.Location, wr.Events)
	}
	for _, b := range res.Blocked {
		warnColor.Fprintf(w, "⚠ %s already exists, %d hits not written (use --force to replace it)\n", b.Location, b.Hits)
	}
	for _, f := range res.Failures {
		errorColor.Fprintf(w, "✗ %s: %v\n", f.Message, f.Err)
	}
	for _, p := range res.PersistFailures {
		errorColor.Fprintf(w, "✗ %d hits for %s not saved: %v\n", p.Events, p.Location, p.Err)
	}
	if len(res.Written)+len(res.Blocked)+len(res.Failures)+len(res.PersistFailures) == 0 {
		fmt.Fprintln(w, "no token hits found")
	}
}
