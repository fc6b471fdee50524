package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/madhav-relish/streaming/services/catalog/internal/domain"
	"github.com/madhav-relish/streaming/services/catalog/internal/metrics"
	"github.com/madhav-relish/streaming/services/catalog/migrations"
)

// Postgres is the production Store.
type Postgres struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *pgxpool.Pool, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{db: db, log: log}
}

// EnsureSchema applies the embedded schema.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, migrations.Init); err != nil {
		return classify("ensure_schema", err)
	}
	return nil
}

const titleColumns = `t.id, t.kind, t.title, t.overview, t.poster_path, t.backdrop_path,
t.release_date, t.runtime_minutes, t.first_air_date, t.last_air_date,
t.number_of_seasons, t.number_of_episodes, t.vote_average, t.vote_count, t.updated_at`

// ── reads ──────────────────────────────────────────────────────────────────

func (s *Postgres) GetTitle(ctx context.Context, kind domain.Kind, id, region string) (domain.Title, error) {
	return s.getTitle(ctx, s.db, kind, id, normRegion(region))
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Postgres) getTitle(ctx context.Context, q querier, kind domain.Kind, id, region string) (domain.Title, error) {
	row := q.QueryRow(ctx, `SELECT `+titleColumns+` FROM titles t WHERE t.kind=$1 AND t.id=$2`, string(kind), id)
	t, err := scanTitle(row)
	if err != nil {
		return domain.Title{}, classify("get_title", err)
	}
	titles := []domain.Title{t}
	if err := s.attach(ctx, q, titles, region); err != nil {
		return domain.Title{}, err
	}
	return titles[0], nil
}

func (s *Postgres) ListTitles(ctx context.Context, q ListQuery) ([]domain.Title, error) {
	region := normRegion(q.Region)
	provider := strings.ToLower(strings.TrimSpace(q.Provider))

	var updatedAfter *time.Time
	if !q.UpdatedAfter.IsZero() {
		ua := q.UpdatedAfter
		updatedAfter = &ua
	}
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}

	order := "t.vote_count DESC NULLS LAST"
	if q.OrderBy == OrderVoteAverage {
		order = "t.vote_average DESC NULLS LAST"
	}

	rows, err := s.db.Query(ctx, `
SELECT `+titleColumns+`
FROM titles t
WHERE ($1 = '' OR t.kind = $1)
  AND EXISTS (
    SELECT 1 FROM streaming_options o
    WHERE o.kind = t.kind AND o.title_id = t.id AND o.region = $2
      AND ($3 = '' OR o.provider = $3)
  )
  AND ($4::timestamptz IS NULL OR t.updated_at > $4)
ORDER BY `+order+`, t.id
LIMIT $5 OFFSET $6`,
		string(q.Kind), region, provider, updatedAfter, limit, max(q.Offset, 0))
	if err != nil {
		return nil, classify("list_titles", err)
	}
	out, err := collectTitles(rows)
	if err != nil {
		return nil, classify("list_titles", err)
	}
	if err := s.attach(ctx, s.db, out, region); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) CountTitles(ctx context.Context, kind domain.Kind, region string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT count(*) FROM titles t
WHERE t.kind = $1
  AND EXISTS (SELECT 1 FROM streaming_options o WHERE o.kind = t.kind AND o.title_id = t.id AND o.region = $2)`,
		string(kind), normRegion(region)).Scan(&n)
	if err != nil {
		return 0, classify("count_titles", err)
	}
	return n, nil
}

// attach loads genres and the region's streaming options for titles in place.
func (s *Postgres) attach(ctx context.Context, q querier, titles []domain.Title, region string) error {
	if len(titles) == 0 {
		return nil
	}
	kinds := make([]string, len(titles))
	ids := make([]string, len(titles))
	idx := make(map[titleKey]int, len(titles))
	for i := range titles {
		kinds[i] = string(titles[i].Kind)
		ids[i] = titles[i].ID
		idx[titleKey{titles[i].Kind, titles[i].ID}] = i
		titles[i].Genres = []domain.Genre{}
		titles[i].StreamingOptions = []domain.StreamingOption{}
	}

	rows, err := q.Query(ctx, `
SELECT tg.kind, tg.title_id, g.id, g.name
FROM title_genres tg
JOIN genres g ON g.id = tg.genre_id
JOIN unnest($1::text[], $2::text[]) AS k(kind, id) ON k.kind = tg.kind AND k.id = tg.title_id
ORDER BY g.name`, kinds, ids)
	if err != nil {
		return classify("load_genres", err)
	}
	for rows.Next() {
		var kind, titleID string
		var g domain.Genre
		if err := rows.Scan(&kind, &titleID, &g.ID, &g.Name); err != nil {
			rows.Close()
			return classify("load_genres", err)
		}
		if i, ok := idx[titleKey{domain.Kind(kind), titleID}]; ok {
			titles[i].Genres = append(titles[i].Genres, g)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify("load_genres", err)
	}

	rows, err = q.Query(ctx, `
SELECT o.kind, o.title_id, o.provider, o.region, o.url, o.type
FROM streaming_options o
JOIN unnest($1::text[], $2::text[]) AS k(kind, id) ON k.kind = o.kind AND k.id = o.title_id
WHERE o.region = $3
ORDER BY o.position`, kinds, ids, region)
	if err != nil {
		return classify("load_options", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, titleID, typ string
		var o domain.StreamingOption
		if err := rows.Scan(&kind, &titleID, &o.Provider, &o.Region, &o.URL, &typ); err != nil {
			return classify("load_options", err)
		}
		o.Type = domain.OptionType(typ)
		if i, ok := idx[titleKey{domain.Kind(kind), titleID}]; ok {
			titles[i].StreamingOptions = append(titles[i].StreamingOptions, o)
		}
	}
	if err := rows.Err(); err != nil {
		return classify("load_options", err)
	}
	return nil
}

// ── writes ─────────────────────────────────────────────────────────────────

// UpsertTitle merges t over the stored row, links genres, replaces the
// region's options and queues an outbox event, all in one transaction.
func (s *Postgres) UpsertTitle(ctx context.Context, t domain.Title, region string) (domain.Title, error) {
	if strings.TrimSpace(t.ID) == "" {
		return domain.Title{}, &Error{Code: CodeConstraint, Op: "upsert_title", Err: errMissingID}
	}
	region = normRegion(region)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Title{}, classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// COALESCE keeps prior values where the incoming field is missing.
	if _, err := tx.Exec(ctx, `
INSERT INTO titles (id, kind, title, overview, poster_path, backdrop_path,
  release_date, runtime_minutes, first_air_date, last_air_date,
  number_of_seasons, number_of_episodes, vote_average, vote_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
ON CONFLICT (kind, id) DO UPDATE SET
  title              = COALESCE(NULLIF(EXCLUDED.title, ''), titles.title),
  overview           = COALESCE(EXCLUDED.overview, titles.overview),
  poster_path        = COALESCE(EXCLUDED.poster_path, titles.poster_path),
  backdrop_path      = COALESCE(EXCLUDED.backdrop_path, titles.backdrop_path),
  release_date       = COALESCE(EXCLUDED.release_date, titles.release_date),
  runtime_minutes    = COALESCE(EXCLUDED.runtime_minutes, titles.runtime_minutes),
  first_air_date     = COALESCE(EXCLUDED.first_air_date, titles.first_air_date),
  last_air_date      = COALESCE(EXCLUDED.last_air_date, titles.last_air_date),
  number_of_seasons  = CASE WHEN EXCLUDED.number_of_seasons > 0 THEN EXCLUDED.number_of_seasons ELSE titles.number_of_seasons END,
  number_of_episodes = CASE WHEN EXCLUDED.number_of_episodes > 0 THEN EXCLUDED.number_of_episodes ELSE titles.number_of_episodes END,
  vote_average       = COALESCE(EXCLUDED.vote_average, titles.vote_average),
  vote_count         = COALESCE(EXCLUDED.vote_count, titles.vote_count),
  updated_at         = EXCLUDED.updated_at`,
		t.ID, string(t.Kind), t.Title, t.Overview, t.PosterPath, t.BackdropPath,
		t.ReleaseDate, t.RuntimeMinutes, t.FirstAirDate, t.LastAirDate,
		t.NumberOfSeasons, t.NumberOfEpisodes, t.VoteAverage, t.VoteCount, now,
	); err != nil {
		return domain.Title{}, classify("upsert_title", err)
	}

	for _, g := range t.Genres {
		if err := s.linkGenre(ctx, tx, t, g); err != nil {
			metrics.GenreLinkFailuresTotal.Inc()
			s.log.Warn("genre link failed",
				zap.String("title_id", t.ID), zap.String("genre", g.Name), zap.Error(err))
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM streaming_options WHERE kind=$1 AND title_id=$2 AND region=$3`,
		string(t.Kind), t.ID, region,
	); err != nil {
		return domain.Title{}, classify("replace_options", err)
	}
	kept, blank := regionOptions(t.StreamingOptions, region)
	if blank > 0 {
		s.log.Warn("skipping streaming options with blank url",
			zap.String("title_id", t.ID), zap.String("region", region), zap.Int("count", blank))
	}
	for i, o := range kept {
		if _, err := tx.Exec(ctx, `
INSERT INTO streaming_options (id, kind, title_id, provider, region, url, type, position)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			uuid.New(), string(t.Kind), t.ID, o.Provider, region, o.URL, string(o.Type), i,
		); err != nil {
			return domain.Title{}, classify("replace_options", err)
		}
	}

	if err := insertOutboxEvent(ctx, tx, map[string]any{
		"kind":    t.Kind,
		"id":      t.ID,
		"region":  region,
		"options": len(kept),
	}); err != nil {
		return domain.Title{}, classify("outbox", err)
	}

	out, err := s.getTitle(ctx, tx, t.Kind, t.ID, region)
	if err != nil {
		return domain.Title{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Title{}, classify("commit", err)
	}
	return out, nil
}

// linkGenre runs inside a savepoint so one bad genre never aborts the title.
// Name wins over upstream id; an id held by another name gets a fresh uuid.
func (s *Postgres) linkGenre(ctx context.Context, tx pgx.Tx, t domain.Title, g domain.Genre) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	genreID, err := resolveGenre(ctx, sp, g)
	if err != nil {
		return err
	}
	if _, err := sp.Exec(ctx, `
INSERT INTO title_genres (kind, title_id, genre_id) VALUES ($1,$2,$3)
ON CONFLICT DO NOTHING`, string(t.Kind), t.ID, genreID); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

func resolveGenre(ctx context.Context, tx pgx.Tx, g domain.Genre) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM genres WHERE name=$1`, g.Name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	id = strings.TrimSpace(g.ID)
	if id != "" {
		var holder string
		err := tx.QueryRow(ctx, `SELECT name FROM genres WHERE id=$1`, id).Scan(&holder)
		switch {
		case err == nil:
			id = uuid.NewString()
		case !errors.Is(err, pgx.ErrNoRows):
			return "", err
		}
	} else {
		id = uuid.NewString()
	}

	// A concurrent writer may have inserted the same name in the meantime.
	err = tx.QueryRow(ctx, `
INSERT INTO genres (id, name) VALUES ($1,$2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, id, g.Name).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ── helpers ────────────────────────────────────────────────────────────────

func scanTitle(row pgx.Row) (domain.Title, error) {
	var t domain.Title
	var kind string
	err := row.Scan(&t.ID, &kind, &t.Title, &t.Overview, &t.PosterPath, &t.BackdropPath,
		&t.ReleaseDate, &t.RuntimeMinutes, &t.FirstAirDate, &t.LastAirDate,
		&t.NumberOfSeasons, &t.NumberOfEpisodes, &t.VoteAverage, &t.VoteCount, &t.UpdatedAt)
	t.Kind = domain.Kind(kind)
	return t, err
}

func collectTitles(rows pgx.Rows) ([]domain.Title, error) {
	defer rows.Close()
	out := []domain.Title{}
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO catalog_outbox (id, event_type, payload) VALUES ($1,$2,$3)`,
		uuid.New(), eventTitleUpserted, b,
	)
	return err
}

// classify maps pgx errors onto store error codes.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &Error{Code: CodeConstraint, Op: op, Err: fmt.Errorf("%s: %w", pgErr.ConstraintName, err)}
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Code: CodeDatabase, Op: op, Err: err}
}
