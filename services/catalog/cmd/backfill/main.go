// Command backfill runs one catalog backfill to completion and exits.
//
// Usage:
//
//	STREAMING_API_KEY=... DATABASE_URL=postgres://... go run ./services/catalog/cmd/backfill -country in -pages 5 -services hotstar,netflix
package main

import (
	"context"
	"errors"
	"flag"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/madhav-relish/streaming/internal/platform/config"
	"github.com/madhav-relish/streaming/internal/platform/db"
	"github.com/madhav-relish/streaming/internal/platform/logging"
	"github.com/madhav-relish/streaming/internal/platform/run"
	"github.com/madhav-relish/streaming/services/catalog/internal/backfill"
	catalogconfig "github.com/madhav-relish/streaming/services/catalog/internal/config"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
	"github.com/madhav-relish/streaming/services/catalog/internal/store"
	"github.com/madhav-relish/streaming/services/catalog/internal/upstream"
)

var (
	country  = flag.String("country", "", "region to backfill (default DEFAULT_REGION)")
	pages    = flag.Int("pages", backfill.DefaultMaxPages, "pages per kind")
	services = flag.String("services", "", "comma-separated provider keys; empty means all")
	every    = flag.Duration("progress", 10*time.Second, "progress log interval")
)

func main() {
	flag.Parse()

	app, err := config.Load("catalog-backfill")
	if err != nil {
		panic(err)
	}
	log, err := logging.New(logging.Options{Level: app.LogLevel, Format: app.LogFormat, Service: app.ServiceName})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := catalogconfig.Load()
	if err != nil {
		log.Error("config", zap.Error(err))
		run.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is required for a backfill")
		run.Exit(1)
	}

	code := run.New(log).WithSignals(func(ctx context.Context) error {
		return backfillOnce(ctx, log, cfg)
	})
	run.Exit(code)
}

func backfillOnce(ctx context.Context, log *zap.Logger, cfg catalogconfig.CatalogConfig) error {
	reg := providers.Default()
	if cfg.ProvidersFile != "" {
		var err error
		if reg, err = providers.LoadFile(cfg.ProvidersFile); err != nil {
			return err
		}
	}

	var filter []string
	for _, s := range strings.Split(*services, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s == "" {
			continue
		}
		if !reg.Known(s) {
			return errors.New("unknown provider: " + s)
		}
		filter = append(filter, s)
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return err
	}
	defer pool.Close()
	st := store.NewPostgres(pool, log)
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	client := upstream.New(upstream.Options{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		APIHost: cfg.Upstream.APIHost,
		RPS:     cfg.Upstream.RPS,
		Timeout: cfg.Upstream.Timeout,
		Retry:   upstream.DefaultRetryConfig(),
	})

	opts := backfill.Options{
		BatchSize:  cfg.Backfill.BatchSize,
		BatchDelay: cfg.Backfill.BatchDelay,
		Timeout:    cfg.Backfill.Timeout,
	}
	if cfg.RedisURL != "" {
		locker := backfill.NewRedisLocker(cfg.RedisURL)
		defer func() { _ = locker.Close() }()
		opts.Locker = locker
	}
	job := backfill.New(log, client, st, reg, opts)

	region := *country
	if region == "" {
		region = cfg.DefaultRegion
	}
	if _, err := job.Start(ctx, backfill.Request{Region: region, MaxPages: *pages, Providers: filter, ActorID: "cli"}); err != nil {
		return err
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		waitCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-ticker.C:
				cancel()
			case <-waitCtx.Done():
			}
		}()
		werr := job.Wait(waitCtx)
		cancel()

		p := job.Snapshot()
		if werr == nil {
			if p.Status == backfill.StatusError && p.Error != nil {
				return errors.New(*p.Error)
			}
			log.Info("backfill done", zap.Int("processed", p.ProcessedItems), zap.Int("total", p.TotalItems))
			return nil
		}
		if ctx.Err() != nil {
			job.Cancel()
			drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = job.Wait(drainCtx)
			drainCancel()
			return nil
		}
		log.Info("backfill progress",
			zap.Int("processed", p.ProcessedItems), zap.Int("total", p.TotalItems),
			zap.Int("page", p.CurrentPage), zap.Int("pages", p.TotalPages))
	}
}
