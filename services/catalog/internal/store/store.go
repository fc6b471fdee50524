package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
)

// FreshnessWindow is how long a stored title is served without a refresh.
const FreshnessWindow = 24 * time.Hour

const eventTitleUpserted = "catalog.title.upserted"

// Error codes surfaced to callers.
const (
	CodeConstraint     = "DATABASE_CONSTRAINT_ERROR"
	CodeRecordNotFound = "DATABASE_RECORD_NOT_FOUND"
	CodeDatabase       = "DATABASE_ERROR"
)

// ErrNotFound is wrapped by every *Error with CodeRecordNotFound.
var ErrNotFound = errors.New("store: record not found")

var errMissingID = errors.New("title id required")

// Error tags a persistence failure with a machine-readable code so callers
// can decide between serving stale data and propagating.
type Error struct {
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of a store error, or "" for anything else.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func notFound(op string) error {
	return &Error{Code: CodeRecordNotFound, Op: op, Err: ErrNotFound}
}

// Order selects the list ordering.
type Order string

const (
	OrderVoteCount   Order = "vote_count"
	OrderVoteAverage Order = "vote_average"
)

// ListQuery selects titles that have at least one streaming option in Region
// (on Provider, when set). Zero UpdatedAfter disables the freshness filter and
// zero Limit means no limit.
type ListQuery struct {
	Kind         domain.Kind
	Region       string
	Provider     string
	UpdatedAfter time.Time
	OrderBy      Order
	Limit        int
	Offset       int
}

// Store is the persistence port for titles. Returned titles carry only the
// streaming options of the requested region.
type Store interface {
	GetTitle(ctx context.Context, kind domain.Kind, id, region string) (domain.Title, error)
	ListTitles(ctx context.Context, q ListQuery) ([]domain.Title, error)
	UpsertTitle(ctx context.Context, t domain.Title, region string) (domain.Title, error)
	CountTitles(ctx context.Context, kind domain.Kind, region string) (int, error)
}

// IsFresh reports whether updatedAt falls inside window ending at now.
func IsFresh(updatedAt, now time.Time, window time.Duration) bool {
	return updatedAt.After(now.Add(-window))
}

// Merge folds incoming over prior. Vote count is never blanked by a missing
// value, and every other field keeps the prior value when incoming lacks it.
func Merge(prior, incoming domain.Title) domain.Title {
	out := prior
	out.ID = incoming.ID
	out.Kind = incoming.Kind
	if strings.TrimSpace(incoming.Title) != "" {
		out.Title = incoming.Title
	}
	out.Overview = orPrior(incoming.Overview, prior.Overview)
	out.PosterPath = orPrior(incoming.PosterPath, prior.PosterPath)
	out.BackdropPath = orPrior(incoming.BackdropPath, prior.BackdropPath)
	out.ReleaseDate = orPrior(incoming.ReleaseDate, prior.ReleaseDate)
	out.RuntimeMinutes = orPrior(incoming.RuntimeMinutes, prior.RuntimeMinutes)
	out.FirstAirDate = orPrior(incoming.FirstAirDate, prior.FirstAirDate)
	out.LastAirDate = orPrior(incoming.LastAirDate, prior.LastAirDate)
	if incoming.NumberOfSeasons > 0 {
		out.NumberOfSeasons = incoming.NumberOfSeasons
	}
	if incoming.NumberOfEpisodes > 0 {
		out.NumberOfEpisodes = incoming.NumberOfEpisodes
	}
	out.VoteAverage = orPrior(incoming.VoteAverage, prior.VoteAverage)
	out.VoteCount = orPrior(incoming.VoteCount, prior.VoteCount)
	return out
}

func orPrior[T any](incoming, prior *T) *T {
	if incoming != nil {
		return incoming
	}
	return prior
}

// regionOptions returns the options to store for region: blank URLs dropped,
// one per provider, first wins.
func regionOptions(opts []domain.StreamingOption, region string) (kept []domain.StreamingOption, blank int) {
	seen := make(map[string]struct{}, len(opts))
	kept = make([]domain.StreamingOption, 0, len(opts))
	for _, o := range opts {
		if strings.TrimSpace(o.URL) == "" {
			blank++
			continue
		}
		if _, dup := seen[o.Provider]; dup {
			continue
		}
		seen[o.Provider] = struct{}{}
		o.Region = region
		o.URL = strings.TrimSpace(o.URL)
		if o.Type == "" {
			o.Type = domain.OptionSubscription
		}
		kept = append(kept, o)
	}
	return kept, blank
}

func normRegion(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
