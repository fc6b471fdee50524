package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/madhav-relish/streaming/internal/platform/auth"
	"github.com/madhav-relish/streaming/internal/platform/httpserver"
	"github.com/madhav-relish/streaming/services/catalog/internal/backfill"
	"github.com/madhav-relish/streaming/services/catalog/internal/cacheaside"
	"github.com/madhav-relish/streaming/services/catalog/internal/catalog"
	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
	"github.com/madhav-relish/streaming/services/catalog/internal/store"
)

type stubCatalog struct {
	title     cacheaside.Result[domain.Title]
	titleErr  error
	list      cacheaside.Result[[]domain.Title]
	listErr   error
	search    catalog.SearchResult
	searchErr error
	info      catalog.PageInfo
	gotRegion string
	gotKind   domain.Kind
	gotPage   int
	gotLimit  int
	gotProv   string
	gotQuery  string
}

func (s *stubCatalog) GetTitle(_ context.Context, kind domain.Kind, _, region string) (cacheaside.Result[domain.Title], error) {
	s.gotKind, s.gotRegion = kind, region
	return s.title, s.titleErr
}

func (s *stubCatalog) ListPopular(_ context.Context, kind domain.Kind, region string, page, limit int) (cacheaside.Result[[]domain.Title], error) {
	s.gotKind, s.gotRegion, s.gotPage, s.gotLimit = kind, region, page, limit
	return s.list, s.listErr
}

func (s *stubCatalog) ListByProvider(_ context.Context, provider string, kind domain.Kind, region string, page, limit int) (cacheaside.Result[[]domain.Title], error) {
	s.gotProv = provider
	return s.ListPopular(context.Background(), kind, region, page, limit)
}

func (s *stubCatalog) Search(_ context.Context, q string, kind domain.Kind, _ string, _, _ int) (catalog.SearchResult, error) {
	s.gotQuery, s.gotKind = q, kind
	if strings.TrimSpace(q) == "" {
		return catalog.SearchResult{}, catalog.ErrEmptyQuery
	}
	return s.search, s.searchErr
}

func (s *stubCatalog) Pagination(context.Context, domain.Kind, string, int) (catalog.PageInfo, error) {
	return s.info, nil
}

func (s *stubCatalog) Registry() *providers.Registry { return providers.Default() }

type stubBackfill struct {
	running  bool
	req      backfill.Request
	startErr error
}

func (s *stubBackfill) Start(_ context.Context, req backfill.Request) (backfill.StartResult, error) {
	switch {
	case errors.Is(s.startErr, backfill.ErrRunningElsewhere):
		return backfill.StartResult{Snapshot: backfill.Progress{Status: backfill.StatusRunningElsewhere}}, s.startErr
	case errors.Is(s.startErr, backfill.ErrAlreadyRunning):
		return backfill.StartResult{Snapshot: backfill.Progress{Status: backfill.StatusRunning}}, s.startErr
	case s.startErr != nil:
		return backfill.StartResult{}, s.startErr
	}
	if s.running {
		return backfill.StartResult{Snapshot: s.Snapshot()}, backfill.ErrAlreadyRunning
	}
	s.running, s.req = true, req
	return backfill.StartResult{Started: true, Snapshot: s.Snapshot()}, nil
}

func (s *stubBackfill) Snapshot() backfill.Progress {
	if s.running {
		return backfill.Progress{Status: backfill.StatusRunning}
	}
	return backfill.Progress{Status: backfill.StatusIdle}
}

func (s *stubBackfill) Cancel() bool {
	was := s.running
	s.running = false
	return was
}

var secret = []byte("handlers-test-secret-0123456789ab")

func token(t *testing.T, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	})
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newRouter(c *stubCatalog, b *stubBackfill) chi.Router {
	r := chi.NewRouter()
	httpserver.SetupRouter(r)
	d := Deps{Catalog: c, Verifier: auth.JWTVerifier{Secret: secret}}
	if b != nil {
		d.Backfill = b
	}
	Register(r, d)
	return r
}

func do(r http.Handler, method, url, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestGetTitle_OK(t *testing.T) {
	c := &stubCatalog{title: cacheaside.Result[domain.Title]{
		Value:   domain.Title{ID: "tt0111161", Kind: domain.KindMovie, Title: "The Shawshank Redemption"},
		Outcome: cacheaside.Hit,
	}}
	rr := do(newRouter(c, nil), http.MethodGet, "/v1/titles/movie/tt0111161?country=in", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("X-Cache = %q", rr.Header().Get("X-Cache"))
	}
	var got domain.Title
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "tt0111161" || c.gotRegion != "in" {
		t.Fatalf("got %+v region=%q", got, c.gotRegion)
	}
}

func TestGetTitle_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		err  error
		code int
		api  string
	}{
		{"bad kind", "/v1/titles/podcast/tt1", nil, http.StatusBadRequest, "INVALID_KIND"},
		{"not found", "/v1/titles/series/tt404", catalog.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"upstream down", "/v1/titles/movie/tt1", errors.New("503"), http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
		{"store down", "/v1/titles/movie/tt1",
			&store.Error{Code: store.CodeDatabase, Op: "upsert_title", Err: errors.New("conn reset")},
			http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"store and upstream down", "/v1/titles/movie/tt1",
			errors.Join(errors.New("503"), &store.Error{Code: store.CodeDatabase, Op: "get_title", Err: errors.New("conn reset")}),
			http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubCatalog{titleErr: tt.err, title: cacheaside.Result[domain.Title]{Outcome: cacheaside.Failed}}
			rr := do(newRouter(c, nil), http.MethodGet, tt.url, "")
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
			if code := errorCode(t, rr); code != tt.api {
				t.Fatalf("error code = %q, want %q", code, tt.api)
			}
		})
	}
}

func TestListPopular_EmptyOnFailure(t *testing.T) {
	c := &stubCatalog{
		list:    cacheaside.Result[[]domain.Title]{Value: []domain.Title{}, Outcome: cacheaside.Failed},
		listErr: errors.New("upstream down"),
	}
	rr := do(newRouter(c, nil), http.MethodGet, "/v1/series?page=2&limit=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Cache") != "FAILED" {
		t.Fatalf("X-Cache = %q", rr.Header().Get("X-Cache"))
	}
	if c.gotKind != domain.KindSeries || c.gotPage != 2 || c.gotLimit != 10 {
		t.Fatalf("kind=%s page=%d limit=%d", c.gotKind, c.gotPage, c.gotLimit)
	}
	if !strings.Contains(rr.Body.String(), `"results":[]`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestListByProvider(t *testing.T) {
	c := &stubCatalog{list: cacheaside.Result[[]domain.Title]{Value: []domain.Title{{ID: "tt1"}}, Outcome: cacheaside.Refreshed}}
	rr := do(newRouter(c, nil), http.MethodGet, "/v1/providers/hotstar?type=tv&country=in", "")
	if rr.Code != http.StatusOK || c.gotProv != "hotstar" || c.gotKind != domain.KindSeries {
		t.Fatalf("code=%d prov=%q kind=%q", rr.Code, c.gotProv, c.gotKind)
	}

	c.listErr = catalog.ErrUnknownProvider
	rr = do(newRouter(c, nil), http.MethodGet, "/v1/providers/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListProviders(t *testing.T) {
	rr := do(newRouter(&stubCatalog{}, nil), http.MethodGet, "/v1/providers", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"key":"hotstar"`) {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSearch(t *testing.T) {
	c := &stubCatalog{search: catalog.SearchResult{Results: []domain.Title{}, Page: 1}}
	if rr := do(newRouter(c, nil), http.MethodGet, "/v1/search?q=", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty q, got %d", rr.Code)
	}
	rr := do(newRouter(c, nil), http.MethodGet, "/v1/search?q=inception&type=movie", "")
	if rr.Code != http.StatusOK || c.gotQuery != "inception" || c.gotKind != domain.KindMovie {
		t.Fatalf("code=%d q=%q kind=%q", rr.Code, c.gotQuery, c.gotKind)
	}
}

func TestPagination(t *testing.T) {
	c := &stubCatalog{info: catalog.PageInfo{TotalItems: 500, TotalPages: 25, Estimated: true}}
	rr := do(newRouter(c, nil), http.MethodGet, "/v1/titles/movie/count", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"estimated":true`) {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	r := newRouter(&stubCatalog{}, &stubBackfill{})
	if rr := do(r, http.MethodGet, "/v1/admin/backfill", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr := do(r, http.MethodGet, "/v1/admin/backfill", token(t, "user")); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr := do(r, http.MethodGet, "/v1/admin/backfill", token(t, "admin")); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAdmin_StartConflictCancel(t *testing.T) {
	b := &stubBackfill{}
	r := newRouter(&stubCatalog{}, b)
	admin := token(t, "admin")

	rr := do(r, http.MethodPost, "/v1/admin/backfill?country=in&maxPages=3&services=hotstar,%20Netflix", admin)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if b.req.MaxPages != 3 || b.req.Region != "in" || len(b.req.Providers) != 2 || b.req.Providers[1] != "netflix" || b.req.ActorID != "admin-1" {
		t.Fatalf("req = %+v", b.req)
	}

	rr = do(r, http.MethodPost, "/v1/admin/backfill", admin)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"running"`) {
		t.Fatalf("conflict should carry the snapshot: %s", rr.Body.String())
	}

	rr = do(r, http.MethodDelete, "/v1/admin/backfill", admin)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"cancelled":true`) {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdmin_StartValidation(t *testing.T) {
	r := newRouter(&stubCatalog{}, &stubBackfill{})
	admin := token(t, "admin")
	for _, url := range []string{
		"/v1/admin/backfill?maxPages=0",
		"/v1/admin/backfill?maxPages=1000",
		"/v1/admin/backfill?services=hotstar,bogus",
	} {
		if rr := do(r, http.MethodPost, url, admin); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, rr.Code)
		}
	}

	r = newRouter(&stubCatalog{}, &stubBackfill{startErr: errors.New("redis: connection refused")})
	if rr := do(r, http.MethodPost, "/v1/admin/backfill", admin); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAdmin_StartRunningElsewhere(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status string
	}{
		{"local", backfill.ErrAlreadyRunning, "BACKFILL_RUNNING", `"status":"running"`},
		{"other instance", backfill.ErrRunningElsewhere, "BACKFILL_RUNNING_ELSEWHERE", `"status":"running_elsewhere"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &stubBackfill{startErr: tt.err}
			rr := do(newRouter(&stubCatalog{}, b), http.MethodPost, "/v1/admin/backfill", token(t, "admin"))
			if rr.Code != http.StatusConflict {
				t.Fatalf("expected 409, got %d", rr.Code)
			}
			body := rr.Body.String()
			if !strings.Contains(body, `"code":"`+tt.code+`"`) || !strings.Contains(body, tt.status) {
				t.Fatalf("body = %s", body)
			}
		})
	}
}

func TestAdmin_NotMountedWithoutSecret(t *testing.T) {
	r := chi.NewRouter()
	Register(r, Deps{Catalog: &stubCatalog{}, Backfill: &stubBackfill{}})
	if rr := do(r, http.MethodGet, "/v1/admin/backfill", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
