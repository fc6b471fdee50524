package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/madhav-relish/streaming/services/catalog/internal/metrics"
)

const (
	defaultBaseURL = "https://streaming-availability.p.rapidapi.com"
	defaultHost    = "streaming-availability.p.rapidapi.com"
	userAgent      = "streaming-catalog/1.0"
	maxBodyBytes   = 8 << 20
)

type Options struct {
	BaseURL string
	APIKey  string
	APIHost string
	RPS     float64
	Timeout time.Duration
	Retry   RetryConfig
}

// Client talks to the streaming-availability API.
type Client struct {
	baseURL    string
	apiKey     string
	apiHost    string
	retry      RetryConfig
	httpClient *http.Client
}

var _ Provider = (*Client)(nil)

func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	host := strings.TrimSpace(opts.APIHost)
	if host == "" {
		host = defaultHost
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := opts.Retry
	if rc.MaxAttempts == 0 {
		rc = DefaultRetryConfig()
	}

	transport := otelhttp.NewTransport(&throttledTransport{
		limiter: newLimiter(opts.RPS),
		next:    http.DefaultTransport,
	})

	return &Client{
		baseURL:    base,
		apiKey:     opts.APIKey,
		apiHost:    host,
		retry:      rc,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// GetShow fetches one show by IMDb id. Bare numeric ids get the "tt" prefix.
func (c *Client) GetShow(ctx context.Context, id, country string) (RawShow, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return RawShow{}, fmt.Errorf("upstream get_show: id required")
	}
	if !strings.HasPrefix(id, "tt") {
		id = "tt" + id
	}
	v := url.Values{}
	v.Set("series_granularity", "show")
	v.Set("output_language", "en")
	if country != "" {
		v.Set("country", strings.ToLower(country))
	}

	var out RawShow
	err := c.get(ctx, "get_show", "/shows/"+url.PathEscape(id), v, func(b []byte) error {
		return json.Unmarshal(b, &out)
	})
	if err != nil {
		return RawShow{}, err
	}
	return out, nil
}

func (c *Client) SearchByFilters(ctx context.Context, q FilterQuery) (Page, error) {
	v := url.Values{}
	v.Set("country", strings.ToLower(q.Country))
	v.Set("series_granularity", "show")
	v.Set("output_language", "en")
	if q.Kind != "" {
		v.Set("show_type", q.Kind)
	}
	if q.Keyword != "" {
		v.Set("keyword", q.Keyword)
	}
	if q.Genre != "" {
		v.Set("genres", q.Genre)
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "popularity_1year"
	}
	v.Set("order_by", orderBy)
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}

	var out Page
	err := c.get(ctx, "search_filters", "/shows/search/filters", v, func(b []byte) error {
		return json.Unmarshal(b, &out)
	})
	if err != nil {
		return Page{}, err
	}
	return out, nil
}

// SearchByTitle accepts both a bare array and a {"shows": [...]} envelope.
func (c *Client) SearchByTitle(ctx context.Context, q TitleQuery) (Page, error) {
	v := url.Values{}
	v.Set("country", strings.ToLower(q.Country))
	v.Set("title", q.Title)
	v.Set("series_granularity", "show")
	v.Set("output_language", "en")
	if q.Kind != "" {
		v.Set("show_type", q.Kind)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}

	var out Page
	err := c.get(ctx, "search_title", "/shows/search/title", v, func(b []byte) error {
		trimmed := bytes.TrimSpace(b)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			return json.Unmarshal(trimmed, &out.Shows)
		}
		return json.Unmarshal(trimmed, &out)
	})
	if err != nil {
		return Page{}, err
	}
	return out, nil
}

func (c *Client) SearchByFiltersPaged(ctx context.Context, q FilterQuery, maxPages int) iter.Seq2[RawShow, error] {
	return Paginate(ctx, c.SearchByFilters, q, maxPages)
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, decode func([]byte) error) error {
	start := time.Now()
	err := retry(ctx, c.retry, func() error {
		return c.do(ctx, op, path, query, decode)
	})
	metrics.UpstreamRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.UpstreamRequestsTotal.WithLabelValues(op, outcomeOf(err)).Inc()
	return err
}

func (c *Client) do(ctx context.Context, op, path string, query url.Values, decode func([]byte) error) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.apiHost)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classifyTransport(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("body=%q", snippet(b))}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("upstream %s: status %d body=%q", op, resp.StatusCode, snippet(b))
	}

	if err := decode(b); err != nil {
		return fmt.Errorf("upstream %s: decode error: %w body=%q", op, err, snippet(b))
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case IsRetryable(err):
		return "transient"
	default:
		return "error"
	}
}

func snippet(b []byte) string {
	return string(b[:min(len(b), 200)])
}
