// Package natsconn dials NATS for the catalog's JetStream users (event
// relay, lifecycle events, refresh queue). Connection failures at startup
// are returned, not retried, so the process fails fast.
package natsconn

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Options zero values are filled from NATS_URL, NATS_MAX_RECONNECTS and
// NATS_RECONNECT_WAIT, then from built-in defaults.
type Options struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Logger        *zap.Logger
}

const (
	defaultMaxReconnects = 5
	defaultReconnectWait = 2 * time.Second
)

func (o Options) withDefaults(getenv func(string) string) Options {
	if o.URL == "" {
		o.URL = strings.TrimSpace(getenv("NATS_URL"))
	}
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = defaultMaxReconnects
		if n, err := strconv.Atoi(strings.TrimSpace(getenv("NATS_MAX_RECONNECTS"))); err == nil && n >= 0 {
			o.MaxReconnects = n
		}
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = defaultReconnectWait
		if d, err := time.ParseDuration(strings.TrimSpace(getenv("NATS_RECONNECT_WAIT"))); err == nil && d > 0 {
			o.ReconnectWait = d
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o Options) natsOptions() []nats.Option {
	log := o.Logger.With(zap.String("nats_url", o.URL))
	return []nats.Option{
		nats.Name(o.Name),
		nats.MaxReconnects(o.MaxReconnects),
		nats.ReconnectWait(o.ReconnectWait),
		nats.RetryOnFailedConnect(false),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("server", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Warn("nats async error", fields...)
		}),
	}
}

// Connect dials NATS once with the reconnect policy in opts.
func Connect(opts Options) (*nats.Conn, error) {
	opts = opts.withDefaults(os.Getenv)
	nc, err := nats.Connect(opts.URL, opts.natsOptions()...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}

// JetStream connects and opens a JetStream context. The caller closes the
// connection.
func JetStream(opts Options) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := Connect(opts)
	if err != nil {
		return nil, nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
