package upstream

import (
	"context"
	"iter"
)

// PageFunc fetches a single filter page.
type PageFunc func(ctx context.Context, q FilterQuery) (Page, error)

// Paginate turns a page fetcher into a finite show sequence. Each call to the
// returned sequence starts again from q. Pages advance by cursor when upstream
// returns one and by offset otherwise.
func Paginate(ctx context.Context, fetch PageFunc, q FilterQuery, maxPages int) iter.Seq2[RawShow, error] {
	return func(yield func(RawShow, error) bool) {
		if maxPages <= 0 {
			return
		}
		cur := q
		if cur.Limit <= 0 {
			cur.Limit = DefaultPageSize
		}
		for page := 0; page < maxPages; page++ {
			if err := ctx.Err(); err != nil {
				yield(RawShow{}, err)
				return
			}
			p, err := fetch(ctx, cur)
			if err != nil {
				yield(RawShow{}, err)
				return
			}
			for _, s := range p.Shows {
				if !yield(s, nil) {
					return
				}
			}
			if !hasMore(p, cur.Limit) {
				return
			}
			if p.NextCursor != "" {
				cur.Cursor = p.NextCursor
			} else {
				cur.Offset += cur.Limit
			}
		}
	}
}

func hasMore(p Page, limit int) bool {
	if len(p.Shows) == 0 {
		return false
	}
	if p.HasMore != nil {
		return *p.HasMore
	}
	return p.NextCursor != "" || len(p.Shows) >= limit
}
