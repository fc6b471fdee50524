package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/providers"
	"github.com/madhav-relish/streaming/services/catalog/internal/upstream"
)

func ptrF(f float64) *float64 { return &f }
func ptrI(i int) *int         { return &i }

func opt(service, link, typ string) upstream.RawOption {
	return upstream.RawOption{Service: upstream.RawService{ID: service}, Link: link, Type: typ}
}

func TestTitle_Shawshank(t *testing.T) {
	raw := upstream.RawShow{
		ShowType:    "movie",
		IMDbID:      "tt0111161",
		Title:       "The Shawshank Redemption",
		Overview:    "Two imprisoned men bond.",
		ReleaseYear: 1994,
		Rating:      ptrF(93),
		Runtime:     ptrI(142),
		Genres:      []upstream.RawGenre{{ID: "drama", Name: "Drama"}},
		ImageSet: &upstream.ImageSet{
			VerticalPoster:     map[string]string{"w240": "p240", "w480": "p480"},
			HorizontalBackdrop: map[string]string{"w720": "b720", "original": "borig"},
		},
		Streaming: map[string][]upstream.RawOption{
			"in": {opt("netflix", "https://netflix.com/title/1", "subscription")},
		},
	}

	got, skips, err := Title(raw, KindOf(raw, domain.KindSeries), "in", providers.Default())
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if len(skips) != 0 {
		t.Fatalf("unexpected skips: %+v", skips)
	}
	if got.Kind != domain.KindMovie || got.ID != "tt0111161" {
		t.Fatalf("kind/id = %s/%s", got.Kind, got.ID)
	}
	want := time.Date(1994, 1, 1, 0, 0, 0, 0, time.UTC)
	if got.ReleaseDate == nil || !got.ReleaseDate.Equal(want) {
		t.Fatalf("release date = %v", got.ReleaseDate)
	}
	if got.VoteAverage == nil || *got.VoteAverage != 9.3 {
		t.Fatalf("vote average = %v", got.VoteAverage)
	}
	if got.VoteCount != nil {
		t.Fatalf("vote count should stay nil, got %d", *got.VoteCount)
	}
	if got.RuntimeMinutes == nil || *got.RuntimeMinutes != 142 {
		t.Fatalf("runtime = %v", got.RuntimeMinutes)
	}
	if got.PosterPath == nil || *got.PosterPath != "p480" {
		t.Fatalf("poster = %v", got.PosterPath)
	}
	if got.BackdropPath == nil || *got.BackdropPath != "b720" {
		t.Fatalf("backdrop = %v", got.BackdropPath)
	}
	if len(got.StreamingOptions) != 1 || got.StreamingOptions[0].Type != domain.OptionSubscription {
		t.Fatalf("options = %+v", got.StreamingOptions)
	}
	if len(got.Genres) != 1 || got.Genres[0].Name != "Drama" {
		t.Fatalf("genres = %+v", got.Genres)
	}
}

func TestTitle_SeriesFields(t *testing.T) {
	raw := upstream.RawShow{
		ShowType:     "series",
		IMDbID:       "tt0903747",
		Title:        "Breaking Bad",
		FirstAirYear: 2008,
		LastAirYear:  2013,
		SeasonCount:  5,
		EpisodeCount: 62,
		Rating:       ptrF(9.5),
		VoteCount:    ptrI(2000),
	}
	got, _, err := Title(raw, domain.KindSeries, "us", providers.Default())
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if got.FirstAirDate == nil || got.FirstAirDate.Year() != 2008 || got.LastAirDate.Year() != 2013 {
		t.Fatalf("air dates = %v %v", got.FirstAirDate, got.LastAirDate)
	}
	if got.NumberOfSeasons != 5 || got.NumberOfEpisodes != 62 {
		t.Fatalf("counts = %d/%d", got.NumberOfSeasons, got.NumberOfEpisodes)
	}
	if *got.VoteAverage != 9.5 || *got.VoteCount != 2000 {
		t.Fatalf("votes = %v/%v", *got.VoteAverage, *got.VoteCount)
	}
	if got.ReleaseDate != nil {
		t.Fatalf("series should not carry a release date")
	}
	if len(got.StreamingOptions) != 0 {
		t.Fatalf("expected no options for missing region")
	}
}

func TestTitle_RejectsMissingID(t *testing.T) {
	_, _, err := Title(upstream.RawShow{Title: "x"}, domain.KindMovie, "in", providers.Default())
	if !errors.Is(err, upstream.ErrInvalidShow) {
		t.Fatalf("expected ErrInvalidShow, got %v", err)
	}
}

func TestStreamingOptions_DedupBlankAndAlias(t *testing.T) {
	raw := upstream.RawShow{Streaming: map[string][]upstream.RawOption{
		"in": {
			opt("netflix", "   ", "subscription"),
			opt("netflix", "https://a", "rent"),
			opt("netflix", "https://b", "buy"),
			opt("disney", "https://hotstar", "addon"),
			opt("", "https://nobody", "free"),
			opt("zee5", "https://zee5", "ads"),
		},
	}}

	got, skips := StreamingOptions(raw, "IN", providers.Default())
	if len(got) != 3 {
		t.Fatalf("expected 3 options, got %+v", got)
	}
	if got[0].Provider != "netflix" || got[0].URL != "https://a" || got[0].Type != domain.OptionRent {
		t.Fatalf("first netflix option should win: %+v", got[0])
	}
	if got[1].Provider != "hotstar" || got[1].Type != domain.OptionSubscription {
		t.Fatalf("disney should map to hotstar in india: %+v", got[1])
	}
	if got[2].Provider != "zee5" || got[2].Type != domain.OptionAds || got[2].Region != "in" {
		t.Fatalf("zee5 option = %+v", got[2])
	}

	reasons := map[string]int{}
	for _, s := range skips {
		reasons[s.Reason]++
	}
	if reasons[SkipBlankLink] != 1 || reasons[SkipDuplicate] != 1 || reasons[SkipNoService] != 1 {
		t.Fatalf("skips = %+v", skips)
	}
}

func TestStreamingOptions_DisneyOutsideIndia(t *testing.T) {
	raw := upstream.RawShow{Streaming: map[string][]upstream.RawOption{
		"us": {opt("disney", "https://disney", "subscription")},
	}}
	got, _ := StreamingOptions(raw, "us", providers.Default())
	if len(got) != 1 || got[0].Provider != "disney" {
		t.Fatalf("options = %+v", got)
	}
}

func TestImages_MissingSizes(t *testing.T) {
	p, b := Images(upstream.RawShow{})
	if p != nil || b != nil {
		t.Fatalf("expected nil images")
	}
	p, b = Images(upstream.RawShow{ImageSet: &upstream.ImageSet{
		VerticalPoster: map[string]string{"original": "po"},
	}})
	if p == nil || *p != "po" || b != nil {
		t.Fatalf("poster=%v backdrop=%v", p, b)
	}
}

func TestImages_BackdropFallbacks(t *testing.T) {
	tests := []struct {
		name string
		set  upstream.ImageSet
		want string
	}{
		{"horizontal backdrop first", upstream.ImageSet{
			HorizontalBackdrop: map[string]string{"w1080": "hb"},
			HorizontalPoster:   map[string]string{"w1080": "hp"},
		}, "hb"},
		{"horizontal poster before vertical backdrop", upstream.ImageSet{
			HorizontalPoster: map[string]string{"w720": "hp"},
			VerticalBackdrop: map[string]string{"w1080": "vb"},
		}, "hp"},
		{"vertical backdrop last", upstream.ImageSet{
			VerticalBackdrop: map[string]string{"original": "vb"},
		}, "vb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := tt.set
			_, b := Images(upstream.RawShow{ImageSet: &set})
			if b == nil || *b != tt.want {
				t.Fatalf("backdrop = %v, want %q", b, tt.want)
			}
		})
	}
}

func TestOffers(t *testing.T) {
	raw := upstream.RawShow{Streaming: map[string][]upstream.RawOption{
		"in": {{Service: upstream.RawService{ID: "disney"}, Link: "https://x"}},
		"us": {{Service: upstream.RawService{ID: "netflix"}, Link: "https://y"}},
	}}
	reg := providers.Default()
	tests := []struct {
		name   string
		region string
		keys   []string
		want   bool
	}{
		{"hotstar covers disney in india", "in", []string{"hotstar"}, true},
		{"disney request resolves in india", "IN", []string{"disney"}, true},
		{"other region ignored", "in", []string{"netflix"}, false},
		{"region without options", "gb", []string{"netflix"}, false},
		{"us netflix", "us", []string{"netflix"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Offers(raw, tt.region, reg.Select(tt.region, tt.keys...)); got != tt.want {
				t.Fatalf("Offers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOptionType(t *testing.T) {
	cases := map[string]domain.OptionType{
		"":             domain.OptionSubscription,
		"subscription": domain.OptionSubscription,
		"addon":        domain.OptionSubscription,
		"rent":         domain.OptionRent,
		"Buy":          domain.OptionBuy,
		"free":         domain.OptionFree,
		"ADS":          domain.OptionAds,
	}
	for in, want := range cases {
		if got := OptionType(in); got != want {
			t.Errorf("OptionType(%q) = %s, want %s", in, got, want)
		}
	}
}
