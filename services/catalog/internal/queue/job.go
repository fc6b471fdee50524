// Package queue moves title refreshes off the request path. Readers that had
// to serve stale data enqueue a job; the worker retries it with backoff.
package queue

import (
	"fmt"
	"strings"

	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
)

const (
	StreamName   = "CATALOG_REFRESH"
	subjectSpace = "catalog.refresh.>"

	SubjectRefreshTitle = "catalog.refresh.title"
	SubjectDeadLetter   = "catalog.refresh.dlq"

	durableName = "catalog_refresh"
)

// RefreshJob is the payload on SubjectRefreshTitle.
type RefreshJob struct {
	Kind   domain.Kind `json:"kind"`
	ID     string      `json:"id"`
	Region string      `json:"region"`
}

func (j RefreshJob) validate() error {
	if j.Kind != domain.KindMovie && j.Kind != domain.KindSeries {
		return fmt.Errorf("invalid kind %q", j.Kind)
	}
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("missing id")
	}
	return nil
}

// dedupID collapses repeated enqueues of the same title within the stream's
// duplicate window.
func (j RefreshJob) dedupID() string {
	return fmt.Sprintf("%s:%s:%s", j.Kind, j.ID, strings.ToLower(j.Region))
}
