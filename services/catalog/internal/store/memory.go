package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
)

type titleKey struct {
	kind domain.Kind
	id   string
}

type memTitle struct {
	title    domain.Title // without genres and options
	genreIDs []string
	options  map[string][]domain.StreamingOption // region -> options
}

// Memory is a development-only in-memory Store, used when no database is
// configured and in tests.
type Memory struct {
	log *zap.Logger
	now func() time.Time

	mu          sync.RWMutex
	titles      map[titleKey]*memTitle
	genreByName map[string]string // name -> id
	genreByID   map[string]string // id -> name
}

var _ Store = (*Memory)(nil)

// NewMemory builds an empty store. now stamps UpdatedAt; nil means wall time.
func NewMemory(log *zap.Logger, now func() time.Time) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Memory{
		log:         log,
		now:         now,
		titles:      make(map[titleKey]*memTitle),
		genreByName: make(map[string]string),
		genreByID:   make(map[string]string),
	}
}

func (s *Memory) GetTitle(_ context.Context, kind domain.Kind, id, region string) (domain.Title, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.titles[titleKey{kind, id}]
	if !ok {
		return domain.Title{}, notFound("get_title")
	}
	return s.view(rec, normRegion(region)), nil
}

func (s *Memory) ListTitles(_ context.Context, q ListQuery) ([]domain.Title, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	region := normRegion(q.Region)
	provider := strings.ToLower(strings.TrimSpace(q.Provider))

	var out []domain.Title
	for k, rec := range s.titles {
		if q.Kind != "" && k.kind != q.Kind {
			continue
		}
		if !q.UpdatedAfter.IsZero() && !rec.title.UpdatedAt.After(q.UpdatedAfter) {
			continue
		}
		if !hasOption(rec.options[region], provider) {
			continue
		}
		out = append(out, s.view(rec, region))
	}

	sortTitles(out, q.OrderBy)

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []domain.Title{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if out == nil {
		out = []domain.Title{}
	}
	return out, nil
}

func (s *Memory) CountTitles(_ context.Context, kind domain.Kind, region string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	region = normRegion(region)
	n := 0
	for k, rec := range s.titles {
		if k.kind == kind && len(rec.options[region]) > 0 {
			n++
		}
	}
	return n, nil
}

func (s *Memory) UpsertTitle(_ context.Context, t domain.Title, region string) (domain.Title, error) {
	if strings.TrimSpace(t.ID) == "" {
		return domain.Title{}, &Error{Code: CodeConstraint, Op: "upsert_title", Err: errMissingID}
	}
	region = normRegion(region)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := titleKey{t.Kind, t.ID}
	rec, ok := s.titles[key]
	if !ok {
		rec = &memTitle{options: make(map[string][]domain.StreamingOption)}
		s.titles[key] = rec
	}

	merged := Merge(rec.title, t)
	merged.Genres = nil
	merged.StreamingOptions = nil
	merged.UpdatedAt = s.now()
	rec.title = merged

	for _, g := range t.Genres {
		id := s.linkGenre(g)
		if !slices.Contains(rec.genreIDs, id) {
			rec.genreIDs = append(rec.genreIDs, id)
		}
	}

	kept, blank := regionOptions(t.StreamingOptions, region)
	if blank > 0 {
		s.log.Warn("skipping streaming options with blank url",
			zap.String("title_id", t.ID), zap.String("region", region), zap.Int("count", blank))
	}
	rec.options[region] = kept

	return s.view(rec, region), nil
}

// linkGenre resolves a genre by name first, then by id. An id already held
// by another name gets a fresh one.
func (s *Memory) linkGenre(g domain.Genre) string {
	if id, ok := s.genreByName[g.Name]; ok {
		return id
	}
	id := strings.TrimSpace(g.ID)
	if id == "" {
		id = uuid.NewString()
	} else if _, taken := s.genreByID[id]; taken {
		id = uuid.NewString()
	}
	s.genreByName[g.Name] = id
	s.genreByID[id] = g.Name
	return id
}

func (s *Memory) view(rec *memTitle, region string) domain.Title {
	t := rec.title
	t.Genres = make([]domain.Genre, 0, len(rec.genreIDs))
	for _, id := range rec.genreIDs {
		t.Genres = append(t.Genres, domain.Genre{ID: id, Name: s.genreByID[id]})
	}
	opts := rec.options[region]
	t.StreamingOptions = make([]domain.StreamingOption, len(opts))
	copy(t.StreamingOptions, opts)
	return t
}

func hasOption(opts []domain.StreamingOption, provider string) bool {
	if provider == "" {
		return len(opts) > 0
	}
	for _, o := range opts {
		if o.Provider == provider {
			return true
		}
	}
	return false
}

func sortTitles(ts []domain.Title, order Order) {
	sort.SliceStable(ts, func(i, j int) bool {
		var a, b float64
		var an, bn bool
		switch order {
		case OrderVoteAverage:
			an, bn = ts[i].VoteAverage != nil, ts[j].VoteAverage != nil
			if an {
				a = *ts[i].VoteAverage
			}
			if bn {
				b = *ts[j].VoteAverage
			}
		default:
			an, bn = ts[i].VoteCount != nil, ts[j].VoteCount != nil
			if an {
				a = float64(*ts[i].VoteCount)
			}
			if bn {
				b = float64(*ts[j].VoteCount)
			}
		}
		// nulls last
		if an != bn {
			return an
		}
		if a != b {
			return a > b
		}
		return ts[i].ID < ts[j].ID
	})
}
