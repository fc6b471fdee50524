// Package outbox relays catalog_outbox rows, written in the same transaction
// as the title they describe, to JetStream.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const StreamName = "CATALOG_EVENTS"

// Subjects of the event stream. catalog.refresh.> belongs to the refresh
// work queue and must stay out of this list.
var Subjects = []string{"catalog.title.>", "catalog.backfill.>"}

type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Relay struct {
	Log          *zap.Logger
	DB           *pgxpool.Pool
	JS           nats.JetStreamContext
	BatchSize    int
	PollInterval time.Duration

	pub publisher
}

type row struct {
	ID        string
	EventType string
	Payload   json.RawMessage
}

func NewRelay(log *zap.Logger, db *pgxpool.Pool, js nats.JetStreamContext) *Relay {
	return &Relay{
		Log:          log,
		DB:           db,
		JS:           js,
		BatchSize:    100,
		PollInterval: 2 * time.Second,
		pub:          js,
	}
}

// EnsureStream creates the event stream or adds missing subjects to it.
func EnsureStream(js nats.JetStreamContext) error {
	info, err := js.StreamInfo(StreamName)
	if err == nil {
		merged, changed := mergeSubjects(info.Config.Subjects, Subjects)
		if !changed {
			return nil
		}
		cfg := info.Config
		cfg.Subjects = merged
		_, err := js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   Subjects,
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	return err
}

func mergeSubjects(have, want []string) ([]string, bool) {
	out := slices.Clone(have)
	changed := false
	for _, s := range want {
		if !slices.Contains(out, s) {
			out = append(out, s)
			changed = true
		}
	}
	return out, changed
}

func (r *Relay) Run(ctx context.Context) error {
	if err := EnsureStream(r.JS); err != nil {
		return err
	}

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := r.flushOnce(ctx)
				if err != nil {
					r.Log.Warn("outbox flush failed", zap.Error(err))
					break
				}
				if n < r.BatchSize {
					break
				}
			}
		}
	}
}

// flushOnce publishes one locked batch and marks it sent. Rows stay locked
// by FOR UPDATE SKIP LOCKED so several replicas can relay concurrently.
func (r *Relay) flushOnce(ctx context.Context) (int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id::text, event_type, payload
FROM catalog_outbox
WHERE published_at IS NULL
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`, r.BatchSize)
	if err != nil {
		return 0, err
	}
	items, err := pgx.CollectRows(rows, func(rs pgx.CollectableRow) (row, error) {
		var it row
		err := rs.Scan(&it.ID, &it.EventType, &it.Payload)
		return it, err
	})
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	sent, err := r.publish(ctx, items)
	if len(sent) > 0 {
		if _, uerr := tx.Exec(ctx, `UPDATE catalog_outbox SET published_at = now() WHERE id::text = ANY($1)`, sent); uerr != nil {
			return 0, uerr
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			return 0, cerr
		}
	}
	return len(sent), err
}

// publish stops at the first failure so ordering within a batch holds. The
// row id doubles as the JetStream message id, which makes a re-send after a
// lost commit a duplicate the server drops.
func (r *Relay) publish(ctx context.Context, items []row) ([]string, error) {
	sent := make([]string, 0, len(items))
	for _, it := range items {
		if _, err := r.pub.Publish(it.EventType, it.Payload, nats.Context(ctx), nats.MsgId(it.ID)); err != nil {
			return sent, err
		}
		sent = append(sent, it.ID)
	}
	return sent, nil
}
