// Package domain holds the canonical catalog entities shared by the
// normalizer, the store and the read paths.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the two title shapes.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
)

// ParseKind accepts "movie", "series" and the "tv" alias used by the UI.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return KindMovie, nil
	case "series", "tv", "tv-shows", "show":
		return KindSeries, nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// OptionType is the monetization model of a streaming option.
type OptionType string

const (
	OptionSubscription OptionType = "SUBSCRIPTION"
	OptionRent         OptionType = "RENT"
	OptionBuy          OptionType = "BUY"
	OptionFree         OptionType = "FREE"
	OptionAds          OptionType = "ADS"
)

// Genre identity is its name; ID is whatever row id the store settled on.
type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StreamingOption says the title is watchable on Provider in Region.
type StreamingOption struct {
	Provider string     `json:"provider"`
	Region   string     `json:"region"`
	URL      string     `json:"url"`
	Type     OptionType `json:"type"`
}

// Title is a movie or a series. Movie-only and series-only fields are left
// at their zero value for the other kind.
type Title struct {
	ID           string  `json:"id"`
	Kind         Kind    `json:"kind"`
	Title        string  `json:"title"`
	Overview     *string `json:"overview,omitempty"`
	PosterPath   *string `json:"posterPath,omitempty"`
	BackdropPath *string `json:"backdropPath,omitempty"`

	// Movie
	ReleaseDate    *time.Time `json:"releaseDate,omitempty"`
	RuntimeMinutes *int       `json:"runtimeMinutes,omitempty"`

	// Series
	FirstAirDate     *time.Time `json:"firstAirDate,omitempty"`
	LastAirDate      *time.Time `json:"lastAirDate,omitempty"`
	NumberOfSeasons  int        `json:"numberOfSeasons"`
	NumberOfEpisodes int        `json:"numberOfEpisodes"`

	VoteAverage *float64 `json:"voteAverage,omitempty"`
	VoteCount   *int     `json:"voteCount,omitempty"`

	Genres           []Genre           `json:"genres"`
	StreamingOptions []StreamingOption `json:"streamingOptions"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// YearDate is how a year-only upstream date is stored.
func YearDate(year int) *time.Time {
	if year <= 0 {
		return nil
	}
	d := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &d
}
