package outbox

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/nats-io/nats.go"
)

type stubPub struct {
	failOn string
	ids    []string
	subs   []string
}

func (s *stubPub) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if string(data) == s.failOn {
		return nil, errors.New("nats: timeout")
	}
	s.subs = append(s.subs, subj)
	return &nats.PubAck{Stream: StreamName}, nil
}

func TestPublishStopsAtFirstFailure(t *testing.T) {
	pub := &stubPub{failOn: `{"n":2}`}
	r := &Relay{pub: pub}
	items := []row{
		{ID: "a", EventType: "catalog.title.upserted", Payload: []byte(`{"n":1}`)},
		{ID: "b", EventType: "catalog.title.upserted", Payload: []byte(`{"n":2}`)},
		{ID: "c", EventType: "catalog.title.upserted", Payload: []byte(`{"n":3}`)},
	}
	sent, err := r.publish(context.Background(), items)
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if !slices.Equal(sent, []string{"a"}) {
		t.Fatalf("sent = %v", sent)
	}
}

func TestMergeSubjects(t *testing.T) {
	got, changed := mergeSubjects([]string{"catalog.title.>"}, Subjects)
	if !changed || !slices.Equal(got, []string{"catalog.title.>", "catalog.backfill.>"}) {
		t.Fatalf("got %v changed=%v", got, changed)
	}
	if _, changed := mergeSubjects(Subjects, Subjects); changed {
		t.Fatalf("no-op merge reported a change")
	}
	for _, s := range Subjects {
		if s == "catalog.>" || s == "catalog.refresh.>" {
			t.Fatalf("event stream must not capture refresh jobs: %s", s)
		}
	}
}
