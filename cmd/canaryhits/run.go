package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/runreveal/canaryhits/internal/analysis"
	"github.com/runreveal/canaryhits/internal/classify"
	"github.com/runreveal/canaryhits/internal/enrich"
	"github.com/runreveal/canaryhits/internal/reconcile"
	"github.com/runreveal/canaryhits/internal/records"
	"github.com/runreveal/canaryhits/internal/sources/mailbox"
)

var errNoWork = errors.New("either --input or --output is required")

// run ingests cfg.Input, if set, and then summarizes every record file the
// run touched plus the explicitly named outputs.
func run(ctx context.Context, cfg Config, outputs []string, out io.Writer) error {
	if cfg.Input == "" && len(outputs) == 0 {
		return errNoWork
	}
	s, err := cfg.parse()
	if err != nil {
		return err
	}
	blob, err := cfg.blobStore()
	if err != nil {
		return fmt.Errorf("configuring record store: %w", err)
	}
	store, err := records.New(blob, records.WithOverride(cfg.Force))
	if err != nil {
		return err
	}

	var locations []string
	var persistErr error
	if cfg.Input != "" {
		res, err := ingest(ctx, cfg, s, store)
		if err != nil {
			return err
		}
		printRunReport(out, res)
		locations = res.Locations()
		if n := len(res.PersistFailures); n > 0 {
			persistErr = fmt.Errorf("%d record files could not be written", n)
		}
	}
	locations = append(locations, outputs...)

	if cfg.SkipAnalysis || len(locations) == 0 {
		return persistErr
	}
	collections, err := analysis.Collect(ctx, store, locations)
	if err != nil {
		return errors.Join(persistErr, err)
	}
	if err := analysis.NewReport(out).Consume(ctx, collections); err != nil {
		return errors.Join(persistErr, err)
	}
	return persistErr
}

func ingest(ctx context.Context, cfg Config, s settings, store *records.Store) (*reconcile.Result, error) {
	cache, err := enrich.NewCache(
		enrich.NewExitList(cfg.ExitListURL, s.timeout),
		enrich.NewIPInfo(cfg.IPInfoURL, cfg.IPInfoToken, s.timeout),
		enrich.WithTimeout(s.timeout),
		enrich.WithGeoMemo(cfg.GeoCacheSize),
	)
	if err != nil {
		return nil, err
	}
	if cfg.IPInfoToken == "" {
		slog.Warn("no ipinfo token configured, geolocation may be rate limited")
	}

	engine := reconcile.New(
		classify.New(classify.WithAddressPolicy(s.policy)),
		cache,
		store,
		reconcile.WithNaming(records.Naming{Prefix: cfg.Prefix}),
	)
	src := mailbox.New(
		mailbox.WithPath(cfg.Input),
		mailbox.WithExtension(cfg.Extension),
	)
	return engine.Run(ctx, src)
}
