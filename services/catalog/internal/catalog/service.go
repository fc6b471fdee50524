// Package catalog is the read path: every endpoint goes through the store
// first and falls back to the availability API when the store is stale.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/madhav-relish/streaming/services/catalog/internal/cacheaside"
	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/metrics"
	"github.com/madhav-relish/streaming/services/catalog/internal/normalize"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
	"github.com/madhav-relish/streaming/services/catalog/internal/store"
	"github.com/madhav-relish/streaming/services/catalog/internal/upstream"
)

// DefaultEstimate is reported by Pagination when nothing is stored yet.
const DefaultEstimate = 500

const (
	popularOrder       = "popularity_1year"
	searchPersistLimit = 4
	searchPersistTTL   = 2 * time.Minute
)

var (
	ErrNotFound        = errors.New("title not found")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyQuery      = errors.New("search query required")
)

// RefreshQueue schedules an out-of-band refresh of one title.
type RefreshQueue interface {
	EnqueueRefresh(ctx context.Context, kind domain.Kind, id, region string) error
}

type Options struct {
	// Region is used when a caller leaves the region empty. Defaults to "in".
	Region string
	Window time.Duration
	Now    func() time.Time
	Queue  RefreshQueue
}

type Service struct {
	log      *zap.Logger
	store    store.Store
	upstream upstream.Provider
	registry *providers.Registry
	queue    RefreshQueue
	window   time.Duration
	now      func() time.Time

	defaultRegion string

	bg sync.WaitGroup
}

func New(log *zap.Logger, st store.Store, up upstream.Provider, reg *providers.Registry, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Window <= 0 {
		opts.Window = store.FreshnessWindow
	}
	if opts.Region == "" {
		opts.Region = "in"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		log:      log,
		store:    st,
		upstream: up,
		registry: reg,
		queue:    opts.Queue,
		window:   opts.Window,
		now:      opts.Now,

		defaultRegion: strings.ToLower(opts.Region),
	}
}

// Registry exposes the provider table the service resolves against.
func (s *Service) Registry() *providers.Registry { return s.registry }

// Wait blocks until background search persistence has drained.
func (s *Service) Wait() { s.bg.Wait() }

// ── get by id ──────────────────────────────────────────────────────────────

// GetTitle serves a fresh stored title, refreshes a stale or missing one, and
// falls back to the stale copy when the refresh fails.
func (s *Service) GetTitle(ctx context.Context, kind domain.Kind, id, region string) (cacheaside.Result[domain.Title], error) {
	id = NormalizeID(id)
	region = s.region(region)

	res, err := cacheaside.Fetch(ctx, cacheaside.Plan[domain.Title]{
		Load: func(ctx context.Context) (domain.Title, bool, error) {
			t, err := s.store.GetTitle(ctx, kind, id, region)
			if errors.Is(err, store.ErrNotFound) {
				return domain.Title{}, false, nil
			}
			return t, err == nil, err
		},
		Enough: func(t domain.Title) bool {
			return store.IsFresh(t.UpdatedAt, s.now(), s.window)
		},
		Upstream: func(ctx context.Context) (domain.Title, error) {
			return s.fetchTitle(ctx, kind, id, region)
		},
		Persist: func(ctx context.Context, t domain.Title) (domain.Title, error) {
			return s.store.UpsertTitle(ctx, t, region)
		},
	})
	s.observe("get_title", res.Outcome)

	switch res.Outcome {
	case cacheaside.Degraded:
		s.log.Warn("serving stale title",
			zap.String("kind", string(kind)), zap.String("id", id), zap.String("region", region), zap.Error(res.Cause))
		if upstream.IsRetryable(res.Cause) {
			s.enqueueRefresh(ctx, kind, id, region)
		}
	case cacheaside.Failed:
		if errors.Is(err, upstream.ErrNotFound) {
			return res, ErrNotFound
		}
		return res, err
	}
	return res, nil
}

// RefreshTitle always goes upstream and persists the result.
func (s *Service) RefreshTitle(ctx context.Context, kind domain.Kind, id, region string) (domain.Title, error) {
	id = NormalizeID(id)
	region = s.region(region)
	t, err := s.fetchTitle(ctx, kind, id, region)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return domain.Title{}, ErrNotFound
		}
		return domain.Title{}, err
	}
	return s.store.UpsertTitle(ctx, t, region)
}

func (s *Service) fetchTitle(ctx context.Context, kind domain.Kind, id, region string) (domain.Title, error) {
	raw, err := s.upstream.GetShow(ctx, id, region)
	if err != nil {
		return domain.Title{}, err
	}
	t, err := s.normalize(raw, kind, region)
	if err != nil {
		return domain.Title{}, err
	}
	// The path id wins over whatever upstream echoes back.
	t.ID = id
	return t, nil
}

func (s *Service) enqueueRefresh(ctx context.Context, kind domain.Kind, id, region string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueRefresh(context.WithoutCancel(ctx), kind, id, region); err != nil {
		s.log.Warn("enqueue refresh failed", zap.String("id", id), zap.Error(err))
	}
}

// ── lists ──────────────────────────────────────────────────────────────────

// ListPopular lists fresh stored titles by vote count and tops up from the
// upstream popularity ranking when fewer than limit are stored. If upstream
// fails, stored titles past the freshness window are served instead.
func (s *Service) ListPopular(ctx context.Context, kind domain.Kind, region string, page, limit int) (cacheaside.Result[[]domain.Title], error) {
	region = s.region(region)
	page, limit = clampPage(page, limit)
	offset := (page - 1) * limit

	q := store.ListQuery{Kind: kind, Region: region, OrderBy: store.OrderVoteCount, Limit: limit, Offset: offset}
	res, err := cacheaside.Fetch(ctx, cacheaside.Plan[[]domain.Title]{
		Load:   s.loadList(q, true),
		Stale:  s.loadList(q, false),
		Enough: func(ts []domain.Title) bool { return len(ts) >= limit },
		Upstream: func(ctx context.Context) ([]domain.Title, error) {
			p, err := s.upstream.SearchByFilters(ctx, upstream.FilterQuery{
				Country: region,
				Kind:    string(kind),
				OrderBy: popularOrder,
				Limit:   limit,
				Offset:  offset,
			})
			if err != nil {
				return nil, err
			}
			return s.normalizeAll(p.Shows, kind, region), nil
		},
		Persist: func(ctx context.Context, ts []domain.Title) ([]domain.Title, error) {
			return s.persistAll(ctx, ts, region)
		},
	})
	s.observe("list_popular", res.Outcome)
	return s.settleList(res, err, "list_popular")
}

// ListByProvider lists titles available on provider in region. Upstream has
// no provider filter, so a broad popularity page is filtered and paged here.
// A provider that is an alias in region lists its target's titles.
func (s *Service) ListByProvider(ctx context.Context, provider string, kind domain.Kind, region string, page, limit int) (cacheaside.Result[[]domain.Title], error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.registry.Known(provider) {
		return cacheaside.Result[[]domain.Title]{Value: []domain.Title{}, Outcome: cacheaside.Failed}, ErrUnknownProvider
	}
	region = s.region(region)
	page, limit = clampPage(page, limit)
	offset := (page - 1) * limit
	sel := s.registry.Select(region, provider)

	q := store.ListQuery{Kind: kind, Region: region, Provider: sel.Keys()[0], OrderBy: store.OrderVoteAverage, Limit: limit, Offset: offset}
	res, err := cacheaside.Fetch(ctx, cacheaside.Plan[[]domain.Title]{
		Load:   s.loadList(q, true),
		Stale:  s.loadList(q, false),
		Enough: func(ts []domain.Title) bool { return len(ts) >= limit },
		Upstream: func(ctx context.Context) ([]domain.Title, error) {
			p, err := s.upstream.SearchByFilters(ctx, upstream.FilterQuery{
				Country: region,
				Kind:    string(kind),
				OrderBy: popularOrder,
			})
			if err != nil {
				return nil, err
			}
			raws := make([]upstream.RawShow, 0, len(p.Shows))
			for _, raw := range p.Shows {
				if normalize.Offers(raw, region, sel) {
					raws = append(raws, raw)
				}
			}
			return pageOf(s.normalizeAll(raws, kind, region), offset, limit), nil
		},
		Persist: func(ctx context.Context, ts []domain.Title) ([]domain.Title, error) {
			return s.persistAll(ctx, ts, region)
		},
	})
	s.observe("list_by_provider", res.Outcome)
	return s.settleList(res, err, "list_by_provider")
}

// loadList reads q from the store. A fresh load only sees titles refreshed
// within the freshness window.
func (s *Service) loadList(q store.ListQuery, fresh bool) func(context.Context) ([]domain.Title, bool, error) {
	return func(ctx context.Context) ([]domain.Title, bool, error) {
		if fresh {
			q.UpdatedAfter = s.now().Add(-s.window)
		}
		ts, err := s.store.ListTitles(ctx, q)
		return ts, len(ts) > 0, err
	}
}

// settleList turns a failed list into an empty one. The error is still
// returned so the caller can log it.
func (s *Service) settleList(res cacheaside.Result[[]domain.Title], err error, op string) (cacheaside.Result[[]domain.Title], error) {
	if res.Outcome == cacheaside.Degraded {
		s.log.Warn("serving partial list", zap.String("op", op), zap.Int("count", len(res.Value)), zap.Error(res.Cause))
	}
	if res.Value == nil {
		res.Value = []domain.Title{}
	}
	return res, err
}

// ── search ─────────────────────────────────────────────────────────────────

type SearchResult struct {
	Results      []domain.Title `json:"results"`
	Page         int            `json:"page"`
	TotalResults int            `json:"totalResults"`
	TotalPages   int            `json:"totalPages"`
}

// Search always asks upstream. Upstream failure yields an empty result, and
// results are stored in the background without holding up the response.
func (s *Service) Search(ctx context.Context, query string, kind domain.Kind, region string, page, limit int) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{}, ErrEmptyQuery
	}
	region = s.region(region)
	page, limit = clampPage(page, limit)

	p, err := s.upstream.SearchByTitle(ctx, upstream.TitleQuery{
		Country: region,
		Title:   query,
		Kind:    string(kind),
		Limit:   limit,
		Offset:  (page - 1) * limit,
	})
	if err != nil {
		s.observe("search", cacheaside.Failed)
		s.log.Warn("search upstream failed, returning empty result", zap.String("query", query), zap.Error(err))
		return SearchResult{Results: []domain.Title{}, Page: page}, nil
	}
	s.observe("search", cacheaside.Refreshed)

	fallback := kind
	if fallback == "" {
		fallback = domain.KindMovie
	}
	results := make([]domain.Title, 0, len(p.Shows))
	for _, raw := range p.Shows {
		t, err := s.normalize(raw, normalize.KindOf(raw, fallback), region)
		if err != nil {
			continue
		}
		results = append(results, t)
	}

	s.persistInBackground(ctx, results, region)

	return SearchResult{
		Results:      results,
		Page:         page,
		TotalResults: len(results),
		TotalPages:   (len(results) + limit - 1) / limit,
	}, nil
}

func (s *Service) persistInBackground(ctx context.Context, ts []domain.Title, region string) {
	if len(ts) == 0 {
		return
	}
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), searchPersistTTL)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer cancel()
		var g errgroup.Group
		g.SetLimit(searchPersistLimit)
		for _, t := range ts {
			g.Go(func() error {
				if _, err := s.store.UpsertTitle(bgCtx, t, region); err != nil {
					s.log.Warn("search result persist failed", zap.String("title_id", t.ID), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// ── pagination ─────────────────────────────────────────────────────────────

type PageInfo struct {
	TotalItems int  `json:"totalItems"`
	TotalPages int  `json:"totalPages"`
	Estimated  bool `json:"estimated"`
}

// Pagination counts stored titles for region. An empty store reports
// DefaultEstimate so clients still render paging.
func (s *Service) Pagination(ctx context.Context, kind domain.Kind, region string, limit int) (PageInfo, error) {
	_, limit = clampPage(1, limit)
	n, err := s.store.CountTitles(ctx, kind, s.region(region))
	if err != nil {
		return PageInfo{}, err
	}
	info := PageInfo{TotalItems: n}
	if n == 0 {
		info.TotalItems = DefaultEstimate
		info.Estimated = true
	}
	info.TotalPages = (info.TotalItems + limit - 1) / limit
	return info, nil
}

// ── helpers ────────────────────────────────────────────────────────────────

func (s *Service) normalize(raw upstream.RawShow, kind domain.Kind, region string) (domain.Title, error) {
	t, skips, err := normalize.Title(raw, kind, region, s.registry)
	for _, sk := range skips {
		metrics.NormalizationSkipsTotal.WithLabelValues(sk.Reason).Inc()
		if sk.Reason == normalize.SkipBlankLink {
			s.log.Warn("skipping streaming option with blank link",
				zap.String("title_id", raw.IMDbID), zap.String("provider", sk.Provider))
		}
	}
	if err != nil {
		metrics.NormalizationSkipsTotal.WithLabelValues("invalid_show").Inc()
		s.log.Warn("dropping invalid upstream show", zap.String("id", raw.ID), zap.Error(err))
	}
	return t, err
}

func (s *Service) normalizeAll(raws []upstream.RawShow, kind domain.Kind, region string) []domain.Title {
	out := make([]domain.Title, 0, len(raws))
	for _, raw := range raws {
		t, err := s.normalize(raw, normalize.KindOf(raw, kind), region)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// persistAll stores each title, skipping the ones that fail. It errors only
// when there was something to store and nothing made it.
func (s *Service) persistAll(ctx context.Context, ts []domain.Title, region string) ([]domain.Title, error) {
	out := make([]domain.Title, 0, len(ts))
	var lastErr error
	for _, t := range ts {
		saved, err := s.store.UpsertTitle(ctx, t, region)
		if err != nil {
			lastErr = err
			s.log.Warn("persist title failed", zap.String("title_id", t.ID), zap.Error(err))
			continue
		}
		out = append(out, saved)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func (s *Service) observe(endpoint string, o cacheaside.Outcome) {
	metrics.CacheOutcomesTotal.WithLabelValues(endpoint, string(o)).Inc()
}

func (s *Service) region(r string) string {
	r = strings.ToLower(strings.TrimSpace(r))
	if r == "" {
		return s.defaultRegion
	}
	return r
}

// NormalizeID adds the "tt" prefix to bare IMDb ids.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id != "" && !strings.HasPrefix(id, "tt") {
		return "tt" + id
	}
	return id
}

func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = upstream.DefaultPageSize
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func pageOf(ts []domain.Title, offset, limit int) []domain.Title {
	if offset >= len(ts) {
		return []domain.Title{}
	}
	end := min(offset+limit, len(ts))
	return ts[offset:end]
}
