package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/madhav-relish/streaming/services/catalog/internal/catalog"
	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/metrics"
)

// Refresher performs one forced upstream refresh.
type Refresher interface {
	RefreshTitle(ctx context.Context, kind domain.Kind, id, region string) (domain.Title, error)
}

type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Worker struct {
	Log       *zap.Logger
	JS        nats.JetStreamContext
	Refresher Refresher

	MaxDeliver  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	HandlerWait time.Duration

	dlq publisher
}

func NewWorker(log *zap.Logger, js nats.JetStreamContext, r Refresher) (*Worker, error) {
	if js == nil {
		return nil, errors.New("refresh worker needs a JetStream context")
	}
	return &Worker{
		Log:         log,
		JS:          js,
		Refresher:   r,
		MaxDeliver:  5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Minute,
		HandlerWait: 30 * time.Second,
		dlq:         js,
	}, nil
}

// EnsureStream creates the work-queue stream or widens its subjects.
func EnsureStream(js nats.JetStreamContext) error {
	info, err := js.StreamInfo(StreamName)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == subjectSpace {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = []string{subjectSpace}
		_, err := js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectSpace},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		MaxAge:     24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	return err
}

func (w *Worker) Run(ctx context.Context) error {
	if err := EnsureStream(w.JS); err != nil {
		return err
	}
	sub, err := w.JS.PullSubscribe(SubjectRefreshTitle, durableName, nats.ManualAck())
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	w.Log.Info("refresh consumer started", zap.String("subject", SubjectRefreshTitle))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, m := range msgs {
			w.handleMsg(ctx, m)
		}
	}
}

type action int

const (
	actAck action = iota
	actRetry
	actDeadLetter
)

type verdict struct {
	action action
	delay  time.Duration
	reason string
}

func (w *Worker) handleMsg(ctx context.Context, m *nats.Msg) {
	attempt := uint64(1)
	if md, err := m.Metadata(); err == nil && md != nil {
		attempt = md.NumDelivered
	}

	v := w.process(ctx, m.Data, attempt)
	switch v.action {
	case actRetry:
		_ = m.NakWithDelay(v.delay)
	case actDeadLetter:
		if err := w.publishDLQ(m.Data, v.reason); err != nil {
			w.Log.Error("refresh dead-letter publish failed", zap.Error(err))
			_ = m.NakWithDelay(w.MaxDelay)
			return
		}
		_ = m.Ack()
	default:
		_ = m.Ack()
	}
}

// process runs one delivery and decides what to do with the message.
func (w *Worker) process(ctx context.Context, data []byte, attempt uint64) verdict {
	var job RefreshJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.Log.Warn("bad refresh payload", zap.Error(err))
		metrics.RefreshJobsTotal.WithLabelValues("bad_payload").Inc()
		return verdict{action: actAck}
	}
	if err := job.validate(); err != nil {
		w.Log.Warn("bad refresh job", zap.String("id", job.ID), zap.Error(err))
		metrics.RefreshJobsTotal.WithLabelValues("bad_payload").Inc()
		return verdict{action: actAck}
	}

	hctx := ctx
	if w.HandlerWait > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, w.HandlerWait)
		defer cancel()
	}

	_, err := w.Refresher.RefreshTitle(hctx, job.Kind, job.ID, job.Region)
	switch {
	case err == nil:
		metrics.RefreshJobsTotal.WithLabelValues("ok").Inc()
		return verdict{action: actAck}
	case errors.Is(err, catalog.ErrNotFound):
		w.Log.Info("refresh target gone upstream", zap.String("id", job.ID))
		metrics.RefreshJobsTotal.WithLabelValues("not_found").Inc()
		return verdict{action: actAck}
	}

	if w.MaxDeliver > 0 && int(attempt) >= w.MaxDeliver {
		w.Log.Warn("refresh giving up", zap.String("id", job.ID), zap.Uint64("attempt", attempt), zap.Error(err))
		metrics.RefreshJobsTotal.WithLabelValues("dead_letter").Inc()
		return verdict{action: actDeadLetter, reason: fmt.Sprintf("max deliveries exceeded: %d: %v", attempt, err)}
	}
	w.Log.Warn("refresh failed", zap.String("id", job.ID), zap.Uint64("attempt", attempt), zap.Error(err))
	metrics.RefreshJobsTotal.WithLabelValues("retry").Inc()
	return verdict{action: actRetry, delay: redeliveryDelay(attempt, w.BaseDelay, w.MaxDelay)}
}

func (w *Worker) publishDLQ(data []byte, reason string) error {
	msg := map[string]any{"subject": SubjectRefreshTitle, "reason": reason, "payload": json.RawMessage(data)}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.dlq.Publish(SubjectDeadLetter, b)
	return err
}
