// Package normalize maps upstream shows onto catalog titles. Nothing here
// does I/O.
package normalize

import (
	"strings"

	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/upstream"
)

var (
	posterSizes   = []string{"w780", "w500", "w480", "w342", "w240", "w154", "w92", "original"}
	backdropSizes = []string{"w1080", "w1440", "w780", "w720", "w500", "w360", "w240", "original"}
)

// Resolver maps an upstream provider id to a catalog provider key.
type Resolver interface {
	Resolve(upstreamID, region string) string
}

// Matcher selects upstream service ids.
type Matcher interface {
	Matches(upstreamID string) bool
}

// Offers reports whether raw has an option in region whose service m selects.
func Offers(raw upstream.RawShow, region string, m Matcher) bool {
	for _, o := range raw.Streaming[strings.ToLower(strings.TrimSpace(region))] {
		if m.Matches(o.Service.ID) {
			return true
		}
	}
	return false
}

// Skip reasons reported by StreamingOptions.
const (
	SkipBlankLink = "blank_link"
	SkipNoService = "missing_service"
	SkipDuplicate = "duplicate_provider"
)

// Skip records one upstream option that did not make it into the output.
type Skip struct {
	Provider string
	Reason   string
}

// Images picks the best poster and backdrop sizes available.
func Images(raw upstream.RawShow) (poster, backdrop *string) {
	if raw.ImageSet == nil {
		return nil, nil
	}
	poster = pick(raw.ImageSet.VerticalPoster, posterSizes)
	backdrop = pick(raw.ImageSet.HorizontalBackdrop, backdropSizes)
	if backdrop == nil {
		backdrop = pick(raw.ImageSet.HorizontalPoster, backdropSizes)
	}
	if backdrop == nil {
		backdrop = pick(raw.ImageSet.VerticalBackdrop, backdropSizes)
	}
	return poster, backdrop
}

func pick(bag map[string]string, order []string) *string {
	for _, size := range order {
		if u := strings.TrimSpace(bag[size]); u != "" {
			return &u
		}
	}
	return nil
}

// StreamingOptions returns the options for region in upstream order with one
// option per provider. The first option for a provider wins.
func StreamingOptions(raw upstream.RawShow, region string, reg Resolver) ([]domain.StreamingOption, []Skip) {
	region = strings.ToLower(strings.TrimSpace(region))
	opts := raw.Streaming[region]
	if len(opts) == 0 {
		return []domain.StreamingOption{}, nil
	}

	out := make([]domain.StreamingOption, 0, len(opts))
	var skips []Skip
	seen := make(map[string]struct{}, len(opts))
	for _, o := range opts {
		id := strings.TrimSpace(o.Service.ID)
		if id == "" {
			skips = append(skips, Skip{Reason: SkipNoService})
			continue
		}
		provider := reg.Resolve(id, region)
		link := strings.TrimSpace(o.Link)
		if link == "" {
			skips = append(skips, Skip{Provider: provider, Reason: SkipBlankLink})
			continue
		}
		if _, dup := seen[provider]; dup {
			skips = append(skips, Skip{Provider: provider, Reason: SkipDuplicate})
			continue
		}
		seen[provider] = struct{}{}
		out = append(out, domain.StreamingOption{
			Provider: provider,
			Region:   region,
			URL:      link,
			Type:     OptionType(o.Type),
		})
	}
	return out, skips
}

// OptionType upper-cases the upstream type. "addon" is sold as a
// subscription; anything empty or unknown is a subscription.
func OptionType(s string) domain.OptionType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RENT":
		return domain.OptionRent
	case "BUY":
		return domain.OptionBuy
	case "FREE":
		return domain.OptionFree
	case "ADS":
		return domain.OptionAds
	default:
		return domain.OptionSubscription
	}
}

// KindOf reads showType and falls back when upstream left it out.
func KindOf(raw upstream.RawShow, fallback domain.Kind) domain.Kind {
	switch strings.ToLower(strings.TrimSpace(raw.ShowType)) {
	case "movie":
		return domain.KindMovie
	case "series":
		return domain.KindSeries
	default:
		return fallback
	}
}

// Title builds the canonical title for region. Shows without an IMDb id or
// title are rejected.
func Title(raw upstream.RawShow, kind domain.Kind, region string, reg Resolver) (domain.Title, []Skip, error) {
	if err := raw.Validate(); err != nil {
		return domain.Title{}, nil, err
	}

	t := domain.Title{
		ID:       strings.TrimSpace(raw.IMDbID),
		Kind:     kind,
		Title:    strings.TrimSpace(raw.Title),
		Overview: nonEmpty(raw.Overview),
		Genres:   genres(raw.Genres),
	}
	t.PosterPath, t.BackdropPath = Images(raw)

	switch kind {
	case domain.KindSeries:
		first := raw.FirstAirYear
		if first == 0 {
			first = raw.ReleaseYear
		}
		t.FirstAirDate = domain.YearDate(first)
		t.LastAirDate = domain.YearDate(raw.LastAirYear)
		t.NumberOfSeasons = raw.SeasonCount
		t.NumberOfEpisodes = raw.EpisodeCount
	default:
		t.ReleaseDate = domain.YearDate(raw.ReleaseYear)
		if raw.Runtime != nil && *raw.Runtime > 0 {
			rt := *raw.Runtime
			t.RuntimeMinutes = &rt
		}
	}

	if raw.Rating != nil {
		r := *raw.Rating
		if r > 10 {
			r /= 10
		}
		t.VoteAverage = &r
	}
	switch {
	case raw.VoteCount != nil:
		vc := *raw.VoteCount
		t.VoteCount = &vc
	case raw.TMDbVotes != nil:
		vc := *raw.TMDbVotes
		t.VoteCount = &vc
	}

	var skips []Skip
	t.StreamingOptions, skips = StreamingOptions(raw, region, reg)
	return t, skips, nil
}

func genres(in []upstream.RawGenre) []domain.Genre {
	out := make([]domain.Genre, 0, len(in))
	for _, g := range in {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			continue
		}
		out = append(out, domain.Genre{ID: strings.TrimSpace(g.ID), Name: name})
	}
	return out
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
