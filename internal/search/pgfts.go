package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The tsvectors are built inline with the 'simple' configuration: the corpus
// is multilingual, so stemming against any one language would be wrong more
// often than right.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, reads are already in
// snapshot fallback and search degrades with everything else.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across terminology and velum_articles
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	langFilter := ""
	if q.Lang != "" {
		langFilter = fmt.Sprintf(" AND lang = $%d", argN)
		args = append(args, q.Lang)
		argN++
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultTerm {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'term'::text AS type, term_id AS id, lang, term AS title,
				ts_headline('simple', definition, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				category,
				ts_rank(to_tsvector('simple', term || ' ' || definition), %s) AS rank
			FROM terminology
			WHERE to_tsvector('simple', term || ' ' || definition) @@ %s%s`,
			tsQuery, tsQuery, tsQuery, langFilter))
	}

	if q.FilterType == "" || q.FilterType == ResultArticle {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'article'::text AS type, article_id AS id, lang, title,
				ts_headline('simple', abstract, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS category,
				ts_rank(to_tsvector('simple', title || ' ' || subtitle || ' ' || abstract || ' ' || author), %s) AS rank
			FROM velum_articles
			WHERE to_tsvector('simple', title || ' ' || subtitle || ' ' || abstract || ' ' || author) @@ %s%s`,
			tsQuery, tsQuery, tsQuery, langFilter))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))
	dataSQL := fmt.Sprintf(`SELECT type, id, lang, title, snippet, category
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Lang, &r.Title, &r.Snippet, &r.Category); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TermRecord, []ArticleRecord, error) {
	termRows, err := p.db.QueryContext(ctx, `
		SELECT term_id, lang, term, definition, category FROM terminology
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load terms: %w", err)
	}
	defer termRows.Close()

	terms := make([]TermRecord, 0)
	for termRows.Next() {
		var t TermRecord
		if err := termRows.Scan(&t.ID, &t.Lang, &t.Term, &t.Definition, &t.Category); err != nil {
			return nil, nil, fmt.Errorf("scan term: %w", err)
		}
		t.UID = RecordUID(t.ID, t.Lang)
		terms = append(terms, t)
	}
	if err := termRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate terms: %w", err)
	}

	articleRows, err := p.db.QueryContext(ctx, `
		SELECT article_id, lang, title, subtitle, abstract, author FROM velum_articles
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load articles: %w", err)
	}
	defer articleRows.Close()

	articles := make([]ArticleRecord, 0)
	for articleRows.Next() {
		var a ArticleRecord
		if err := articleRows.Scan(&a.ID, &a.Lang, &a.Title, &a.Subtitle, &a.Abstract, &a.Author); err != nil {
			return nil, nil, fmt.Errorf("scan article: %w", err)
		}
		a.UID = RecordUID(a.ID, a.Lang)
		articles = append(articles, a)
	}
	if err := articleRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate articles: %w", err)
	}

	return terms, articles, nil
}
