package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL: srv.URL,
		APIKey:  "k",
		Retry:   RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	})
}

func TestGetShow_PrefixesIDAndSendsHeaders(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shows/tt0111161" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-RapidAPI-Key") != "k" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("X-RapidAPI-Host") != defaultHost {
			t.Errorf("host header = %q", r.Header.Get("X-RapidAPI-Host"))
		}
		if r.URL.Query().Get("country") != "in" {
			t.Errorf("country = %q", r.URL.Query().Get("country"))
		}
		_, _ = w.Write([]byte(`{"imdbId":"tt0111161","title":"The Shawshank Redemption","releaseYear":1994,"rating":93}`))
	})

	s, err := c.GetShow(context.Background(), "0111161", "IN")
	if err != nil {
		t.Fatalf("GetShow: %v", err)
	}
	if s.IMDbID != "tt0111161" || s.ReleaseYear != 1994 {
		t.Fatalf("unexpected show: %+v", s)
	}
	if s.Rating == nil || *s.Rating != 93 {
		t.Fatalf("rating = %v", s.Rating)
	}
}

func TestGetShow_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})

	_, err := c.GetShow(context.Background(), "tt1", "us")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestGet_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"shows":[{"imdbId":"tt1","title":"A"}],"hasMore":false}`))
	})

	p, err := c.SearchByFilters(context.Background(), FilterQuery{Country: "in", Kind: "movie"})
	if err != nil {
		t.Fatalf("SearchByFilters: %v", err)
	}
	if len(p.Shows) != 1 || calls.Load() != 3 {
		t.Fatalf("shows=%d calls=%d", len(p.Shows), calls.Load())
	}
}

func TestGet_RateLimitedExhaustsAsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.SearchByFilters(context.Background(), FilterQuery{Country: "in"})
	if !IsRetryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var te *TransientError
	if !errors.As(err, &te) || te.Status != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %v", err)
	}
}

func TestGet_BadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.SearchByFilters(context.Background(), FilterQuery{Country: "in"})
	if err == nil || IsRetryable(err) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestSearchByTitle_AcceptsBareArray(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("title") != "inception" {
			t.Errorf("title = %q", r.URL.Query().Get("title"))
		}
		_, _ = w.Write([]byte(`[{"imdbId":"tt1375666","title":"Inception"}]`))
	})

	p, err := c.SearchByTitle(context.Background(), TitleQuery{Country: "us", Title: "inception"})
	if err != nil {
		t.Fatalf("SearchByTitle: %v", err)
	}
	if len(p.Shows) != 1 || p.Shows[0].Title != "Inception" {
		t.Fatalf("unexpected page: %+v", p)
	}
}

func TestSearchByFiltersPaged_FollowsCursor(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"shows":[{"imdbId":"tt1","title":"A"}],"hasMore":true,"nextCursor":"c2"}`))
		case "c2":
			_, _ = w.Write([]byte(`{"shows":[{"imdbId":"tt2","title":"B"}],"hasMore":false}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})

	var ids []string
	for s, err := range c.SearchByFiltersPaged(context.Background(), FilterQuery{Country: "in"}, 5) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, s.IMDbID)
	}
	if len(ids) != 2 || ids[0] != "tt1" || ids[1] != "tt2" {
		t.Fatalf("ids = %v", ids)
	}
}
