package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/madhav-relish/streaming/internal/platform/api"
	"github.com/madhav-relish/streaming/services/catalog/internal/catalog"
	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
	"github.com/madhav-relish/streaming/services/catalog/internal/store"
)

type listResponse struct {
	Results []domain.Title `json:"results"`
	Page    int            `json:"page"`
	Count   int            `json:"count"`
}

type providerResponse struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Homepage string `json:"homepage,omitempty"`
}

// GetTitle handles GET /v1/titles/{kind}/{id}
func GetTitle(svc Catalog, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		kind, ok := kindParam(chi.URLParam(r, "kind"), false)
		if !ok {
			api.Fail(w, r, api.BadRequest("INVALID_KIND", "kind must be movie or series"))
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "id"))
		if id == "" {
			api.Fail(w, r, api.BadRequest("MISSING_ID", "id is required"))
			return
		}

		res, err := svc.GetTitle(r.Context(), kind, id, r.URL.Query().Get("country"))
		setCacheHeader(w, res.Outcome)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				api.Fail(w, r, api.NotFound("NOT_FOUND", "title not found"))
				return
			}
			log.Error("get title failed", zap.String("id", id), zap.Error(err))
			if code := store.CodeOf(err); code != "" {
				api.Fail(w, r, api.Unavailable("STORE_UNAVAILABLE", "title could not be loaded").With("storeCode", code))
				return
			}
			api.Fail(w, r, api.BadGateway("UPSTREAM_UNAVAILABLE", "title could not be loaded"))
			return
		}
		api.WriteJSON(w, http.StatusOK, res.Value)
	}
}

// ListPopular handles GET /v1/movies and GET /v1/series. A failed refresh
// with nothing stored is still a 200 with an empty list.
func ListPopular(svc Catalog, kind domain.Kind, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := parseIntDefault(q.Get("page"), 1)
		limit := parseIntDefault(q.Get("limit"), 20)

		res, err := svc.ListPopular(r.Context(), kind, q.Get("country"), page, limit)
		if err != nil {
			log.Warn("list popular empty", zap.String("kind", string(kind)), zap.Error(err))
		}
		setCacheHeader(w, res.Outcome)
		api.WriteJSON(w, http.StatusOK, listResponse{Results: res.Value, Page: max(page, 1), Count: len(res.Value)})
	}
}

// ListProviders handles GET /v1/providers
func ListProviders(reg *providers.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		all := reg.All()
		out := make([]providerResponse, 0, len(all))
		for _, p := range all {
			out = append(out, providerResponse{Key: p.Key, Name: reg.DisplayName(p.Key), Homepage: p.Homepage})
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"providers": out})
	}
}

// ListByProvider handles GET /v1/providers/{provider}
func ListByProvider(svc Catalog, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		kind := domain.KindMovie
		if raw := q.Get("type"); raw != "" {
			k, ok := kindParam(raw, false)
			if !ok {
				api.Fail(w, r, api.BadRequest("INVALID_KIND", "type must be movie or series"))
				return
			}
			kind = k
		}
		page := parseIntDefault(q.Get("page"), 1)
		limit := parseIntDefault(q.Get("limit"), 20)
		provider := chi.URLParam(r, "provider")

		res, err := svc.ListByProvider(r.Context(), provider, kind, q.Get("country"), page, limit)
		if errors.Is(err, catalog.ErrUnknownProvider) {
			api.Fail(w, r, api.NotFound("UNKNOWN_PROVIDER", "unknown provider"))
			return
		}
		if err != nil {
			log.Warn("list by provider empty", zap.String("provider", provider), zap.Error(err))
		}
		setCacheHeader(w, res.Outcome)
		api.WriteJSON(w, http.StatusOK, listResponse{Results: res.Value, Page: max(page, 1), Count: len(res.Value)})
	}
}

// Search handles GET /v1/search
func Search(svc Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		kind, ok := kindParam(q.Get("type"), true)
		if !ok {
			api.Fail(w, r, api.BadRequest("INVALID_KIND", "type must be movie or series"))
			return
		}
		res, err := svc.Search(r.Context(), q.Get("q"), kind, q.Get("country"),
			parseIntDefault(q.Get("page"), 1), parseIntDefault(q.Get("limit"), 20))
		if errors.Is(err, catalog.ErrEmptyQuery) {
			api.Fail(w, r, api.BadRequest("MISSING_QUERY", "q is required"))
			return
		}
		if err != nil {
			api.Fail(w, r, api.Internal())
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// GetPagination handles GET /v1/titles/{kind}/count
func GetPagination(svc Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(chi.URLParam(r, "kind"), false)
		if !ok {
			api.Fail(w, r, api.BadRequest("INVALID_KIND", "kind must be movie or series"))
			return
		}
		q := r.URL.Query()
		info, err := svc.Pagination(r.Context(), kind, q.Get("country"), parseIntDefault(q.Get("limit"), 20))
		if err != nil {
			api.Fail(w, r, api.Internal())
			return
		}
		api.WriteJSON(w, http.StatusOK, info)
	}
}
