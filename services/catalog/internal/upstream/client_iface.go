package upstream

import (
	"context"
	"iter"
)

// Provider is the port for the streaming-availability API.
type Provider interface {
	GetShow(ctx context.Context, id, country string) (RawShow, error)
	SearchByFilters(ctx context.Context, q FilterQuery) (Page, error)
	SearchByTitle(ctx context.Context, q TitleQuery) (Page, error)
	// SearchByFiltersPaged walks up to maxPages pages lazily. A fetch error
	// is yielded once and ends the sequence.
	SearchByFiltersPaged(ctx context.Context, q FilterQuery, maxPages int) iter.Seq2[RawShow, error]
}
