// Package handlers exposes the catalog over HTTP.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/madhav-relish/streaming/internal/platform/auth"
	"github.com/madhav-relish/streaming/services/catalog/internal/backfill"
	"github.com/madhav-relish/streaming/services/catalog/internal/cacheaside"
	"github.com/madhav-relish/streaming/services/catalog/internal/catalog"
	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
)

// Catalog is the read side the handlers need; *catalog.Service implements it.
type Catalog interface {
	GetTitle(ctx context.Context, kind domain.Kind, id, region string) (cacheaside.Result[domain.Title], error)
	ListPopular(ctx context.Context, kind domain.Kind, region string, page, limit int) (cacheaside.Result[[]domain.Title], error)
	ListByProvider(ctx context.Context, provider string, kind domain.Kind, region string, page, limit int) (cacheaside.Result[[]domain.Title], error)
	Search(ctx context.Context, query string, kind domain.Kind, region string, page, limit int) (catalog.SearchResult, error)
	Pagination(ctx context.Context, kind domain.Kind, region string, limit int) (catalog.PageInfo, error)
	Registry() *providers.Registry
}

// Backfill is the admin job surface; *backfill.Controller implements it.
type Backfill interface {
	Start(ctx context.Context, req backfill.Request) (backfill.StartResult, error)
	Snapshot() backfill.Progress
	Cancel() bool
}

type Deps struct {
	Log      *zap.Logger
	Catalog  Catalog
	Backfill Backfill
	// Verifier guards /v1/admin. Admin routes are not mounted without a secret.
	Verifier auth.JWTVerifier
}

// Register mounts every /v1 route on r.
func Register(r chi.Router, d Deps) {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/titles/{kind}/count", GetPagination(d.Catalog))
		r.Get("/titles/{kind}/{id}", GetTitle(d.Catalog, d.Log))
		r.Get("/movies", ListPopular(d.Catalog, domain.KindMovie, d.Log))
		r.Get("/series", ListPopular(d.Catalog, domain.KindSeries, d.Log))
		r.Get("/providers", ListProviders(d.Catalog.Registry()))
		r.Get("/providers/{provider}", ListByProvider(d.Catalog, d.Log))
		r.Get("/search", Search(d.Catalog))

		if d.Backfill == nil {
			return
		}
		if len(d.Verifier.Secret) == 0 {
			d.Log.Warn("JWT_SECRET not set, admin routes disabled")
			return
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireUser(d.Verifier))
			r.Use(auth.RequireAdmin)
			r.Get("/backfill", GetBackfill(d.Backfill))
			r.Post("/backfill", StartBackfill(d.Backfill, d.Catalog.Registry()))
			r.Delete("/backfill", CancelBackfill(d.Backfill))
		})
	})
}

func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func setCacheHeader(w http.ResponseWriter, o cacheaside.Outcome) {
	if o != "" {
		w.Header().Set("X-Cache", strings.ToUpper(string(o)))
	}
}

// kindParam reads a kind; empty is allowed when optional.
func kindParam(raw string, optional bool) (domain.Kind, bool) {
	if strings.TrimSpace(raw) == "" && optional {
		return "", true
	}
	k, err := domain.ParseKind(raw)
	return k, err == nil
}
