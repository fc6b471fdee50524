// Package run owns process lifecycle: signal handling and exit codes.
package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type Runner struct {
	Logger *zap.Logger
	// DrainTimeout caps how long start may take to return after a signal.
	DrainTimeout time.Duration
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log, DrainTimeout: 30 * time.Second}
}

// WithSignals runs start with a context cancelled on SIGINT/SIGTERM and
// returns the process exit code. start is expected to return once its
// context is done.
func (r *Runner) WithSignals(start func(ctx context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.run(ctx, start)
}

func (r *Runner) run(ctx context.Context, start func(ctx context.Context) error) int {
	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
		select {
		case err = <-errCh:
		case <-time.After(r.DrainTimeout):
			r.Logger.Error("shutdown timed out", zap.Duration("timeout", r.DrainTimeout))
			return 1
		}
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		return 0
	}
	r.Logger.Error("service exited with error", zap.Error(err))
	return 1
}

func Exit(code int) {
	os.Exit(code)
}
