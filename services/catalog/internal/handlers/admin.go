package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/madhav-relish/streaming/internal/platform/api"
	"github.com/madhav-relish/streaming/internal/platform/auth"
	"github.com/madhav-relish/streaming/services/catalog/internal/backfill"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
)

const maxBackfillPages = 200

// GetBackfill handles GET /v1/admin/backfill
func GetBackfill(job Backfill) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		api.WriteJSON(w, http.StatusOK, job.Snapshot())
	}
}

// StartBackfill handles POST /v1/admin/backfill?country&maxPages&services=a,b
func StartBackfill(job Backfill, reg *providers.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		maxPages := parseIntDefault(q.Get("maxPages"), backfill.DefaultMaxPages)
		if maxPages < 1 || maxPages > maxBackfillPages {
			api.Fail(w, r, api.BadRequest("INVALID_MAX_PAGES", "maxPages must be between 1 and 200").
				With("maxPages", q.Get("maxPages")))
			return
		}

		var services []string
		for _, s := range strings.Split(q.Get("services"), ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" || s == "all" {
				continue
			}
			if !reg.Known(s) {
				api.Fail(w, r, api.BadRequest("UNKNOWN_PROVIDER", "unknown provider in services").With("provider", s))
				return
			}
			services = append(services, s)
		}

		actor, _ := auth.UserIDFromContext(r.Context())
		res, err := job.Start(r.Context(), backfill.Request{
			Region:    q.Get("country"),
			MaxPages:  maxPages,
			Providers: services,
			ActorID:   actor,
		})
		switch {
		case errors.Is(err, backfill.ErrRunningElsewhere):
			api.Fail(w, r, api.Conflict("BACKFILL_RUNNING_ELSEWHERE", "a backfill is running on another instance").
				With("progress", res.Snapshot))
		case errors.Is(err, backfill.ErrAlreadyRunning):
			api.Fail(w, r, api.Conflict("BACKFILL_RUNNING", "a backfill is already running").
				With("progress", res.Snapshot))
		case err != nil:
			api.Fail(w, r, api.Unavailable("BACKFILL_UNAVAILABLE", err.Error()))
		default:
			api.WriteJSON(w, http.StatusAccepted, res)
		}
	}
}

// CancelBackfill handles DELETE /v1/admin/backfill
func CancelBackfill(job Backfill) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		cancelled := job.Cancel()
		api.WriteJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled, "progress": job.Snapshot()})
	}
}
