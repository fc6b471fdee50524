package upstream

import (
	"errors"
	"strings"
)

// DefaultPageSize is used when a query does not set Limit.
const DefaultPageSize = 20

// RawShow is the typed ingestion boundary for one upstream show. Nothing
// past the normalizer sees this shape.
type RawShow struct {
	ShowType     string                 `json:"showType,omitempty"`
	ID           string                 `json:"id,omitempty"`
	IMDbID       string                 `json:"imdbId"`
	Title        string                 `json:"title"`
	Overview     string                 `json:"overview,omitempty"`
	ReleaseYear  int                    `json:"releaseYear,omitempty"`
	FirstAirYear int                    `json:"firstAirYear,omitempty"`
	LastAirYear  int                    `json:"lastAirYear,omitempty"`
	Genres       []RawGenre             `json:"genres,omitempty"`
	Rating       *float64               `json:"rating,omitempty"`
	VoteCount    *int                   `json:"voteCount,omitempty"`
	TMDbVotes    *int                   `json:"tmdbVotes,omitempty"`
	Runtime      *int                   `json:"runtime,omitempty"`
	SeasonCount  int                    `json:"seasonCount,omitempty"`
	EpisodeCount int                    `json:"episodeCount,omitempty"`
	ImageSet     *ImageSet              `json:"imageSet,omitempty"`
	Streaming    map[string][]RawOption `json:"streamingOptions,omitempty"`
}

type RawGenre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ImageSet groups size-keyed image URLs ("w480" -> url).
type ImageSet struct {
	VerticalPoster     map[string]string `json:"verticalPoster,omitempty"`
	HorizontalPoster   map[string]string `json:"horizontalPoster,omitempty"`
	VerticalBackdrop   map[string]string `json:"verticalBackdrop,omitempty"`
	HorizontalBackdrop map[string]string `json:"horizontalBackdrop,omitempty"`
}

type RawService struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type RawOption struct {
	Service RawService `json:"service"`
	Type    string     `json:"type,omitempty"`
	Link    string     `json:"link"`
}

var ErrInvalidShow = errors.New("upstream: show without imdb id or title")

// Validate enforces the fields the catalog cannot do without.
func (s RawShow) Validate() error {
	if strings.TrimSpace(s.IMDbID) == "" || strings.TrimSpace(s.Title) == "" {
		return ErrInvalidShow
	}
	return nil
}

// Page is one upstream result page. HasMore is nil when upstream did not say.
type Page struct {
	Shows      []RawShow `json:"shows"`
	HasMore    *bool     `json:"hasMore,omitempty"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// FilterQuery mirrors the upstream filter search parameters.
type FilterQuery struct {
	Country string
	Kind    string // "movie", "series" or empty for both
	Keyword string
	Genre   string
	OrderBy string
	Limit   int
	Offset  int
	Cursor  string
}

type TitleQuery struct {
	Country string
	Title   string
	Kind    string
	Limit   int
	Offset  int
}
