// Package backfill walks the availability API's popularity ranking and fills
// the store. At most one job runs at a time.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/madhav-relish/streaming/internal/platform/events"
	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/metrics"
	"github.com/madhav-relish/streaming/services/catalog/internal/normalize"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
	"github.com/madhav-relish/streaming/services/catalog/internal/ratelimit"
	"github.com/madhav-relish/streaming/services/catalog/internal/upstream"
)

var (
	// ErrAlreadyRunning rejects a start while a job is in flight. It comes
	// back together with the running job's snapshot.
	ErrAlreadyRunning = errors.New("backfill already running")
	// ErrRunningElsewhere is an ErrAlreadyRunning where the job belongs to
	// another instance, so there is no local progress to report.
	ErrRunningElsewhere = fmt.Errorf("%w on another instance", ErrAlreadyRunning)
)

const (
	DefaultMaxPages   = 10
	DefaultBatchSize  = 20
	DefaultBatchDelay = time.Second
	DefaultTimeout    = 2 * time.Hour

	orderBy = "popularity_1year"
)

// Persister stores one normalized title.
type Persister interface {
	UpsertTitle(ctx context.Context, t domain.Title, region string) (domain.Title, error)
}

type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	Timeout    time.Duration
	PageSize   int
	Locker     Locker
	Events     *events.Publisher
	Now        func() time.Time
}

type Request struct {
	Region    string
	MaxPages  int
	Providers []string
	// ActorID is the admin who asked for the job, carried on events.
	ActorID string
}

type StartResult struct {
	Started  bool     `json:"started"`
	Snapshot Progress `json:"progress"`
}

// Registry resolves upstream provider ids and expands a provider filter.
type Registry interface {
	normalize.Resolver
	Select(region string, keys ...string) providers.Selection
}

type Controller struct {
	log      *zap.Logger
	upstream upstream.Provider
	store    Persister
	registry Registry
	opts     Options

	mu       sync.Mutex
	starting bool
	progress Progress
	estimate map[domain.Kind]int
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(log *zap.Logger, up upstream.Provider, st Persister, reg Registry, opts Options) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = upstream.DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		log:      log,
		upstream: up,
		store:    st,
		registry: reg,
		opts:     opts,
		progress: Progress{Status: StatusIdle, LastUpdated: opts.Now()},
		done:     done,
	}
}

// Snapshot returns a copy of the current progress.
func (c *Controller) Snapshot() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress.clone()
}

// Start launches a job unless one is running. The job is detached from ctx;
// use Cancel to stop it.
func (c *Controller) Start(ctx context.Context, req Request) (StartResult, error) {
	req = c.normalizeRequest(req)

	c.mu.Lock()
	if c.starting || c.progress.Status == StatusRunning {
		defer c.mu.Unlock()
		return StartResult{Snapshot: c.progress.clone()}, ErrAlreadyRunning
	}
	if c.opts.Locker != nil {
		// mu is released around the lock round-trip. starting keeps a second
		// local Start out until it returns.
		c.starting = true
		c.mu.Unlock()
		ok, err := c.opts.Locker.TryLock(ctx, c.opts.Timeout)
		c.mu.Lock()
		c.starting = false
		if err != nil {
			defer c.mu.Unlock()
			return StartResult{Snapshot: c.progress.clone()}, fmt.Errorf("backfill lock: %w", err)
		}
		if !ok {
			defer c.mu.Unlock()
			snap := c.progress.clone()
			snap.Status = StatusRunningElsewhere
			return StartResult{Snapshot: snap}, ErrRunningElsewhere
		}
	}
	defer c.mu.Unlock()

	now := c.opts.Now()
	perKind := req.MaxPages * c.opts.PageSize
	c.estimate = map[domain.Kind]int{domain.KindMovie: perKind, domain.KindSeries: perKind}
	c.progress = Progress{
		Status:      StatusRunning,
		StartTime:   &now,
		TotalItems:  perKind * 2,
		TotalPages:  req.MaxPages * 2,
		LastUpdated: now,
		Region:      req.Region,
		Services:    Services(req.Providers),
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(jobCtx, cancel, c.done, req)

	metrics.BackfillRunning.Set(1)
	c.log.Info("backfill started",
		zap.String("region", req.Region), zap.Int("max_pages", req.MaxPages), zap.Strings("providers", req.Providers))
	c.opts.Events.Publish(events.SubjectBackfillStarted, "backfill_started", req.ActorID, map[string]any{
		"region":    req.Region,
		"max_pages": req.MaxPages,
		"providers": req.Providers,
	})
	return StartResult{Started: true, Snapshot: c.progress.clone()}, nil
}

// Cancel stops the running job, if any. The job settles as an error.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress.Status != StatusRunning || c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Wait blocks until the current job settles or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) normalizeRequest(req Request) Request {
	req.Region = strings.ToLower(strings.TrimSpace(req.Region))
	if req.Region == "" {
		req.Region = "in"
	}
	if req.MaxPages <= 0 {
		req.MaxPages = DefaultMaxPages
	}
	var ps []string
	for _, p := range req.Providers {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && p != "all" {
			ps = append(ps, p)
		}
	}
	req.Providers = ps
	return req
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, req Request) {
	defer close(done)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.subJob(gctx, domain.KindMovie, req, 0) })
	g.Go(func() error { return c.subJob(gctx, domain.KindSeries, req, req.MaxPages) })
	err := g.Wait()

	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("backfill timed out after %s", c.opts.Timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		err = errors.New("backfill cancelled")
	}
	c.finish(req, err)
}

func (c *Controller) finish(req Request, err error) {
	if c.opts.Locker != nil {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if uerr := c.opts.Locker.Unlock(unlockCtx); uerr != nil {
			c.log.Warn("backfill unlock failed", zap.Error(uerr))
		}
		cancel()
	}

	c.mu.Lock()
	now := c.opts.Now()
	c.progress.EndTime = &now
	c.progress.LastUpdated = now
	if err != nil {
		msg := err.Error()
		c.progress.Status = StatusError
		c.progress.Error = &msg
	} else {
		c.progress.Status = StatusCompleted
	}
	snap := c.progress.clone()
	c.mu.Unlock()

	metrics.BackfillRunning.Set(0)

	props := map[string]any{
		"region":          req.Region,
		"processed_items": snap.ProcessedItems,
		"total_items":     snap.TotalItems,
	}
	if err != nil {
		c.log.Error("backfill failed", zap.Int("processed", snap.ProcessedItems), zap.Error(err))
		props["error"] = err.Error()
		c.opts.Events.Publish(events.SubjectBackfillFailed, "backfill_failed", req.ActorID, props)
		return
	}
	c.log.Info("backfill completed", zap.Int("processed", snap.ProcessedItems), zap.Int("total", snap.TotalItems))
	c.opts.Events.Publish(events.SubjectBackfillCompleted, "backfill_completed", req.ActorID, props)
}

// subJob walks one kind's pages in batches. Item failures are logged and
// skipped; only upstream or cancellation errors end it.
func (c *Controller) subJob(ctx context.Context, kind domain.Kind, req Request, pageOffset int) error {
	pacer := ratelimit.Every(c.opts.BatchDelay)
	defer pacer.Stop()

	seq := c.upstream.SearchByFiltersPaged(ctx, upstream.FilterQuery{
		Country: req.Region,
		Kind:    string(kind),
		OrderBy: orderBy,
		Limit:   c.opts.PageSize,
	}, req.MaxPages)

	batch := make([]upstream.RawShow, 0, c.opts.BatchSize)
	seen := 0
	for raw, err := range seq {
		if err != nil {
			return fmt.Errorf("%s pages: %w", kind, err)
		}
		batch = append(batch, raw)
		seen++
		if len(batch) < c.opts.BatchSize {
			continue
		}
		c.flush(ctx, kind, req, batch, seen, pageOffset)
		batch = batch[:0]
		// The delay runs from the end of the flush, not from the last tick.
		pacer.Reset()
		if err := pacer.Wait(ctx); err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		c.flush(ctx, kind, req, batch, seen, pageOffset)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.estimate[kind] = seen
	c.refreshTotal()
	c.mu.Unlock()
	return nil
}

func (c *Controller) flush(ctx context.Context, kind domain.Kind, req Request, batch []upstream.RawShow, seen, pageOffset int) {
	sel := c.registry.Select(req.Region, req.Providers...)
	persisted := 0
	for _, raw := range batch {
		if !sel.Empty() && !normalize.Offers(raw, req.Region, sel) {
			metrics.BackfillItemsTotal.WithLabelValues(string(kind), "filtered").Inc()
			continue
		}
		t, _, err := normalize.Title(raw, normalize.KindOf(raw, kind), req.Region, c.registry)
		if err != nil {
			metrics.BackfillItemsTotal.WithLabelValues(string(kind), "failed").Inc()
			c.log.Warn("backfill item invalid", zap.String("id", raw.ID), zap.Error(err))
			continue
		}
		if _, err := c.store.UpsertTitle(ctx, t, req.Region); err != nil {
			metrics.BackfillItemsTotal.WithLabelValues(string(kind), "failed").Inc()
			c.log.Warn("backfill item persist failed", zap.String("title_id", t.ID), zap.Error(err))
			continue
		}
		metrics.BackfillItemsTotal.WithLabelValues(string(kind), "persisted").Inc()
		persisted++
	}

	page := (seen+c.opts.PageSize-1)/c.opts.PageSize + pageOffset

	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.ProcessedItems += persisted
	if seen > c.estimate[kind] {
		c.estimate[kind] = seen
	}
	c.refreshTotal()
	if page > c.progress.CurrentPage {
		c.progress.CurrentPage = page
	}
	c.progress.LastUpdated = c.opts.Now()
}

// refreshTotal must be called with mu held.
func (c *Controller) refreshTotal() {
	c.progress.TotalItems = c.estimate[domain.KindMovie] + c.estimate[domain.KindSeries]
}
