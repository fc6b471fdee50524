package main

import (
	"context"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/madhav-relish/streaming/internal/platform/auth"
	"github.com/madhav-relish/streaming/internal/platform/config"
	"github.com/madhav-relish/streaming/internal/platform/db"
	"github.com/madhav-relish/streaming/internal/platform/events"
	"github.com/madhav-relish/streaming/internal/platform/httpserver"
	"github.com/madhav-relish/streaming/internal/platform/logging"
	"github.com/madhav-relish/streaming/internal/platform/natsconn"
	"github.com/madhav-relish/streaming/internal/platform/run"
	"github.com/madhav-relish/streaming/internal/platform/telemetry"
	"github.com/madhav-relish/streaming/services/catalog/internal/backfill"
	"github.com/madhav-relish/streaming/services/catalog/internal/catalog"
	catalogconfig "github.com/madhav-relish/streaming/services/catalog/internal/config"
	"github.com/madhav-relish/streaming/services/catalog/internal/handlers"
	"github.com/madhav-relish/streaming/services/catalog/internal/metrics"
	"github.com/madhav-relish/streaming/services/catalog/internal/outbox"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
	"github.com/madhav-relish/streaming/services/catalog/internal/queue"
	"github.com/madhav-relish/streaming/services/catalog/internal/store"
	"github.com/madhav-relish/streaming/services/catalog/internal/upstream"
)

func main() {
	app, err := config.Load("catalog")
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

	code := run.New(log).WithSignals(func(ctx context.Context) error {
		return serve(ctx, log, app, cfg)
	})
	run.Exit(code)
}

func serve(ctx context.Context, log *zap.Logger, app config.AppConfig, cfg catalogconfig.CatalogConfig) error {
	shutdownTracing, err := telemetry.Init(ctx, log, app.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	reg := providers.Default()
	if cfg.ProvidersFile != "" {
		if reg, err = providers.LoadFile(cfg.ProvidersFile); err != nil {
			return err
		}
	}

	// store
	var (
		st    store.Store
		pool  *pgxpool.Pool
		ready func() error
	)
	if cfg.DatabaseURL != "" {
		pool, err = db.Open(ctx, cfg.DatabaseURL, db.Options{})
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := store.NewPostgres(pool, log)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		st, ready = pg, db.Ready(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory(log, nil)
	}

	// messaging
	var js nats.JetStreamContext
	if cfg.NATSURL != "" {
		nc, stream, err := natsconn.JetStream(natsconn.Options{URL: cfg.NATSURL, Name: app.ServiceName, Logger: log})
		if err != nil {
			return err
		}
		defer nc.Close()
		js = stream
		if err := outbox.EnsureStream(js); err != nil {
			return err
		}
		if err := queue.EnsureStream(js); err != nil {
			return err
		}
	} else if pool != nil {
		log.Warn("NATS_URL not set, outbox rows stay unpublished")
	}

	client := upstream.New(upstream.Options{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		APIHost: cfg.Upstream.APIHost,
		RPS:     cfg.Upstream.RPS,
		Timeout: cfg.Upstream.Timeout,
		Retry:   upstream.DefaultRetryConfig(),
	})

	svcOpts := catalog.Options{Region: cfg.DefaultRegion, Window: cfg.FreshnessWindow}
	if js != nil {
		svcOpts.Queue = queue.NewEnqueuer(js)
	}
	svc := catalog.New(log, st, client, reg, svcOpts)

	jobOpts := backfill.Options{
		BatchSize:  cfg.Backfill.BatchSize,
		BatchDelay: cfg.Backfill.BatchDelay,
		Timeout:    cfg.Backfill.Timeout,
		Events:     events.New(js, log),
	}
	if cfg.RedisURL != "" {
		locker := backfill.NewRedisLocker(cfg.RedisURL)
		defer func() { _ = locker.Close() }()
		jobOpts.Locker = locker
	}
	job := backfill.New(log, client, st, reg, jobOpts)

	// http
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(promReg)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger:    log,
		ReadyFunc: ready,
		Metrics:   promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		Observe: func(method, route string, status int, elapsed time.Duration) {
			metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
		},
	})
	handlers.Register(r, handlers.Deps{
		Log:      log,
		Catalog:  svc,
		Backfill: job,
		Verifier: auth.JWTVerifier{Secret: []byte(cfg.JWTSecret), Leeway: 30 * time.Second},
	})

	srv := httpserver.New(httpserver.Options{
		Addr:    app.HTTP.Addr,
		Logger:  log,
		Handler: otelhttp.NewHandler(r, app.ServiceName),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, app.HTTP.ShutdownTimeout) })
	if js != nil {
		worker, err := queue.NewWorker(log, js, svc)
		if err != nil {
			return err
		}
		g.Go(func() error { return worker.Run(gctx) })
		if pool != nil {
			relay := outbox.NewRelay(log, pool, js)
			g.Go(func() error { return relay.Run(gctx) })
		}
	}

	err = g.Wait()

	if job.Cancel() {
		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = job.Wait(waitCtx)
		cancel()
	}
	svc.Wait()
	return err
}
