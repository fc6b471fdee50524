package queue

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
)

// Enqueuer publishes refresh jobs. It satisfies catalog.RefreshQueue.
type Enqueuer struct {
	js publisher
}

func NewEnqueuer(js nats.JetStreamContext) *Enqueuer {
	return &Enqueuer{js: js}
}

func (e *Enqueuer) EnqueueRefresh(ctx context.Context, kind domain.Kind, id, region string) error {
	job := RefreshJob{Kind: kind, ID: id, Region: region}
	if err := job.validate(); err != nil {
		return err
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = e.js.Publish(SubjectRefreshTitle, b, nats.Context(ctx), nats.MsgId(job.dedupID()))
	return err
}
