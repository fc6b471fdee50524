package upstream

import (
	"net/http"

	"golang.org/x/time/rate"
)

// throttledTransport waits on a shared limiter before each round trip so
// every caller of the client shares one request budget.
type throttledTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
