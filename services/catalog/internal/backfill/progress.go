package backfill

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	// StatusRunningElsewhere is only reported on a rejected start: another
	// instance holds the cross-process lock.
	StatusRunningElsewhere Status = "running_elsewhere"
)

// Services is the provider filter of a job. Empty means every provider and
// is reported as "all".
type Services []string

func (s Services) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return json.Marshal("all")
	}
	return json.Marshal([]string(s))
}

// Progress is the polled snapshot of the current or last job.
type Progress struct {
	Status         Status     `json:"status"`
	StartTime      *time.Time `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`
	TotalItems     int        `json:"totalItems"`
	ProcessedItems int        `json:"processedItems"`
	CurrentPage    int        `json:"currentPage"`
	TotalPages     int        `json:"totalPages"`
	Error          *string    `json:"error"`
	LastUpdated    time.Time  `json:"lastUpdated"`
	Region         string     `json:"region,omitempty"`
	Services       Services   `json:"services"`
}

func (p Progress) clone() Progress {
	out := p
	if p.StartTime != nil {
		t := *p.StartTime
		out.StartTime = &t
	}
	if p.EndTime != nil {
		t := *p.EndTime
		out.EndTime = &t
	}
	if p.Error != nil {
		e := *p.Error
		out.Error = &e
	}
	if p.Services != nil {
		out.Services = append(Services(nil), p.Services...)
	}
	return out
}
