package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// queryTimeout bounds every single query so a stalled connection surfaces as
// a retryable error instead of a hang.
const queryTimeout = 5 * time.Second

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

// --- Countries ---

func (s *PostgresStore) ListCountries(ctx context.Context, lang string) ([]Country, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, lang FROM countries
		WHERE lang=$1
		ORDER BY name
	`, lang)
	if err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	defer rows.Close()

	items := make([]Country, 0)
	for rows.Next() {
		var item Country
		if err := rows.Scan(&item.ID, &item.Code, &item.Name, &item.Lang); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate countries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCountry(ctx context.Context, code, lang string) (Country, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var item Country
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, lang FROM countries WHERE code=$1 AND lang=$2
	`, code, lang).Scan(&item.ID, &item.Code, &item.Name, &item.Lang)
	if errors.Is(err, sql.ErrNoRows) {
		return Country{}, ErrNotFound
	}
	if err != nil {
		return Country{}, fmt.Errorf("get country: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListSections(ctx context.Context, countryID int64) ([]Section, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT section_id, label FROM sections
		WHERE country_id=$1
		ORDER BY sort_order
	`, countryID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	items := make([]Section, 0)
	for rows.Next() {
		var item Section
		if err := rows.Scan(&item.ID, &item.Label); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return items, nil
}

// --- Description ---

func (s *PostgresStore) GetDescription(ctx context.Context, countryID int64) (Description, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var desc Description
	var chapters []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT title, chapters FROM descriptions WHERE country_id=$1
	`, countryID).Scan(&desc.Title, &chapters)
	if errors.Is(err, sql.ErrNoRows) {
		return Description{}, ErrNotFound
	}
	if err != nil {
		return Description{}, fmt.Errorf("get description: %w", err)
	}
	if err := decodeDoc(chapters, &desc.Chapters, "description chapters"); err != nil {
		return Description{}, err
	}
	return desc, nil
}

func (s *PostgresStore) UpsertDescription(ctx context.Context, countryID int64, desc Description) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	chapters, err := encodeDoc(desc.Chapters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO descriptions (country_id, title, chapters)
		VALUES ($1, $2, $3)
		ON CONFLICT (country_id) DO UPDATE SET title=EXCLUDED.title, chapters=EXCLUDED.chapters
	`, countryID, desc.Title, chapters)
	if err != nil {
		return fmt.Errorf("upsert description: %w", err)
	}
	return nil
}

// --- Timeline ---

func (s *PostgresStore) ListTimeline(ctx context.Context, countryID int64) ([]TimelineSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, date, year, month, title, summary, image
		FROM timeline_events
		WHERE country_id=$1
		ORDER BY year DESC, month DESC, date DESC
	`, countryID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	items := make([]TimelineSummary, 0)
	for rows.Next() {
		var item TimelineSummary
		if err := rows.Scan(&item.ID, &item.Date, &item.Year, &item.Month, &item.Title, &item.Summary, &item.Image); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTimelineEvent(ctx context.Context, countryID int64, eventID string) (TimelineEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var event TimelineEvent
	var paragraphs, blocks, sources []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, date, year, month, title, summary, image, video, paragraphs, content_blocks, sources
		FROM timeline_events
		WHERE country_id=$1 AND event_id=$2
	`, countryID, eventID).Scan(
		&event.ID, &event.Date, &event.Year, &event.Month, &event.Title,
		&event.Summary, &event.Image, &event.Video, &paragraphs, &blocks, &sources,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return TimelineEvent{}, ErrNotFound
	}
	if err != nil {
		return TimelineEvent{}, fmt.Errorf("get timeline event: %w", err)
	}
	if err := decodeDoc(paragraphs, &event.Paragraphs, "timeline paragraphs"); err != nil {
		return TimelineEvent{}, err
	}
	if err := decodeDoc(blocks, &event.ContentBlocks, "timeline content blocks"); err != nil {
		return TimelineEvent{}, err
	}
	if err := decodeDoc(sources, &event.Sources, "timeline sources"); err != nil {
		return TimelineEvent{}, err
	}
	return event, nil
}

func (s *PostgresStore) InsertTimelineEvent(ctx context.Context, countryID int64, event TimelineEvent) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	paragraphs, err := encodeDoc(event.Paragraphs)
	if err != nil {
		return err
	}
	blocks, err := encodeDoc(event.ContentBlocks)
	if err != nil {
		return err
	}
	sources, err := encodeDoc(event.Sources)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timeline_events (country_id, event_id, date, year, month, title, summary, image, video, paragraphs, content_blocks, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, countryID, event.ID, event.Date, event.Year, event.Month, event.Title, event.Summary, event.Image, event.Video, paragraphs, blocks, sources)
	if err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTimelineEvent(ctx context.Context, countryID int64, eventID string, event TimelineEvent) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	paragraphs, err := encodeDoc(event.Paragraphs)
	if err != nil {
		return err
	}
	blocks, err := encodeDoc(event.ContentBlocks)
	if err != nil {
		return err
	}
	sources, err := encodeDoc(event.Sources)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE timeline_events
		SET date=$3, year=$4, month=$5, title=$6, summary=$7, image=$8, video=$9, paragraphs=$10, content_blocks=$11, sources=$12
		WHERE country_id=$1 AND event_id=$2
	`, countryID, eventID, event.Date, event.Year, event.Month, event.Title, event.Summary, event.Image, event.Video, paragraphs, blocks, sources)
	if err != nil {
		return fmt.Errorf("update timeline event: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteTimelineEvent(ctx context.Context, countryID int64, eventID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM timeline_events WHERE country_id=$1 AND event_id=$2
	`, countryID, eventID)
	if err != nil {
		return fmt.Errorf("delete timeline event: %w", err)
	}
	return requireRow(result)
}

// --- Fototeca ---

func (s *PostgresStore) ListFototeca(ctx context.Context, countryID int64) ([]FototecaItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, title, description, date, type, url
		FROM fototeca
		WHERE country_id=$1
		ORDER BY date DESC
	`, countryID)
	if err != nil {
		return nil, fmt.Errorf("list fototeca: %w", err)
	}
	defer rows.Close()

	items := make([]FototecaItem, 0)
	for rows.Next() {
		var item FototecaItem
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Date, &item.Type, &item.URL); err != nil {
			return nil, fmt.Errorf("scan fototeca item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fototeca: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFototecaItem(ctx context.Context, countryID int64, itemID string) (FototecaItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var item FototecaItem
	err := s.db.QueryRowContext(ctx, `
		SELECT item_id, title, description, date, type, url
		FROM fototeca
		WHERE country_id=$1 AND item_id=$2
	`, countryID, itemID).Scan(&item.ID, &item.Title, &item.Description, &item.Date, &item.Type, &item.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return FototecaItem{}, ErrNotFound
	}
	if err != nil {
		return FototecaItem{}, fmt.Errorf("get fototeca item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertFototecaItem(ctx context.Context, countryID int64, item FototecaItem) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fototeca (item_id, country_id, title, description, date, type, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, countryID, item.Title, item.Description, item.Date, item.Type, item.URL)
	if err != nil {
		return fmt.Errorf("insert fototeca item: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateFototecaItem(ctx context.Context, countryID int64, itemID string, item FototecaItem) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE fototeca SET title=$3, description=$4, date=$5, type=$6, url=$7
		WHERE country_id=$1 AND item_id=$2
	`, countryID, itemID, item.Title, item.Description, item.Date, item.Type, item.URL)
	if err != nil {
		return fmt.Errorf("update fototeca item: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteFototecaItem(ctx context.Context, countryID int64, itemID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM fototeca WHERE country_id=$1 AND item_id=$2
	`, countryID, itemID)
	if err != nil {
		return fmt.Errorf("delete fototeca item: %w", err)
	}
	return requireRow(result)
}

// --- Velum articles ---

func (s *PostgresStore) ListArticles(ctx context.Context, lang string) ([]ArticleSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT article_id, title, subtitle, author, author_image, cover_image, date, abstract, keywords
		FROM velum_articles
		WHERE lang=$1
		ORDER BY date DESC
	`, lang)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]ArticleSummary, 0)
	for rows.Next() {
		var item ArticleSummary
		var keywords []byte
		if err := rows.Scan(&item.ID, &item.Title, &item.Subtitle, &item.Author, &item.AuthorImage, &item.CoverImage, &item.Date, &item.Abstract, &keywords); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if err := decodeDoc(keywords, &item.Keywords, "article keywords"); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, articleID, lang string) (Article, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var item Article
	var keywords, sections, bibliography []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT article_id, lang, title, subtitle, author, author_image, cover_image, date, abstract, keywords, sections, bibliography
		FROM velum_articles
		WHERE article_id=$1 AND lang=$2
	`, articleID, lang).Scan(
		&item.ID, &item.Lang, &item.Title, &item.Subtitle, &item.Author, &item.AuthorImage,
		&item.CoverImage, &item.Date, &item.Abstract, &keywords, &sections, &bibliography,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, ErrNotFound
	}
	if err != nil {
		return Article{}, fmt.Errorf("get article: %w", err)
	}
	if err := decodeDoc(keywords, &item.Keywords, "article keywords"); err != nil {
		return Article{}, err
	}
	if err := decodeDoc(sections, &item.Sections, "article sections"); err != nil {
		return Article{}, err
	}
	if err := decodeDoc(bibliography, &item.Bibliography, "article bibliography"); err != nil {
		return Article{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertArticle(ctx context.Context, item Article) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	keywords, err := encodeDoc(item.Keywords)
	if err != nil {
		return err
	}
	sections, err := encodeDoc(item.Sections)
	if err != nil {
		return err
	}
	bibliography, err := encodeDoc(item.Bibliography)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO velum_articles (article_id, lang, title, subtitle, author, author_image, cover_image, date, abstract, keywords, sections, bibliography)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID, item.Lang, item.Title, item.Subtitle, item.Author, item.AuthorImage, item.CoverImage, item.Date, item.Abstract, keywords, sections, bibliography)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, articleID string, item Article) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	keywords, err := encodeDoc(item.Keywords)
	if err != nil {
		return err
	}
	sections, err := encodeDoc(item.Sections)
	if err != nil {
		return err
	}
	bibliography, err := encodeDoc(item.Bibliography)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE velum_articles
		SET title=$3, subtitle=$4, author=$5, author_image=$6, cover_image=$7, date=$8, abstract=$9, keywords=$10, sections=$11, bibliography=$12
		WHERE article_id=$1 AND lang=$2
	`, articleID, item.Lang, item.Title, item.Subtitle, item.Author, item.AuthorImage, item.CoverImage, item.Date, item.Abstract, keywords, sections, bibliography)
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, articleID, lang string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM velum_articles WHERE article_id=$1 AND lang=$2
	`, articleID, lang)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	return requireRow(result)
}

// --- Terminology ---

func (s *PostgresStore) ListTerms(ctx context.Context, lang string) ([]Term, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT term_id, lang, term, definition, category, related_terms, sources
		FROM terminology
		WHERE lang=$1
		ORDER BY term
	`, lang)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	defer rows.Close()
	return scanTerms(rows)
}

func (s *PostgresStore) ListTermsByCategoryLetter(ctx context.Context, lang, category, letter string) ([]Term, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT term_id, lang, term, definition, category, related_terms, sources
		FROM terminology
		WHERE lang=$1 AND category=$2 AND LOWER(LEFT(term, 1))=$3
		ORDER BY term
	`, lang, category, letter)
	if err != nil {
		return nil, fmt.Errorf("list terms by category: %w", err)
	}
	defer rows.Close()
	return scanTerms(rows)
}

func scanTerms(rows *sql.Rows) ([]Term, error) {
	items := make([]Term, 0)
	for rows.Next() {
		var item Term
		var related, sources []byte
		if err := rows.Scan(&item.ID, &item.Lang, &item.Term, &item.Definition, &item.Category, &related, &sources); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		if err := decodeDoc(related, &item.RelatedTerms, "term related terms"); err != nil {
			return nil, err
		}
		if err := decodeDoc(sources, &item.Sources, "term sources"); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terms: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTermHeadings(ctx context.Context, lang string) ([]TermHeading, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT term, category FROM terminology WHERE lang=$1 ORDER BY term
	`, lang)
	if err != nil {
		return nil, fmt.Errorf("list term headings: %w", err)
	}
	defer rows.Close()

	items := make([]TermHeading, 0)
	for rows.Next() {
		var item TermHeading
		if err := rows.Scan(&item.Term, &item.Category); err != nil {
			return nil, fmt.Errorf("scan term heading: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate term headings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTerm(ctx context.Context, termID, lang string) (Term, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var item Term
	var related, sources []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT term_id, lang, term, definition, category, related_terms, sources
		FROM terminology
		WHERE term_id=$1 AND lang=$2
	`, termID, lang).Scan(&item.ID, &item.Lang, &item.Term, &item.Definition, &item.Category, &related, &sources)
	if errors.Is(err, sql.ErrNoRows) {
		return Term{}, ErrNotFound
	}
	if err != nil {
		return Term{}, fmt.Errorf("get term: %w", err)
	}
	if err := decodeDoc(related, &item.RelatedTerms, "term related terms"); err != nil {
		return Term{}, err
	}
	if err := decodeDoc(sources, &item.Sources, "term sources"); err != nil {
		return Term{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertTerm(ctx context.Context, item Term) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	related, err := encodeDoc(item.RelatedTerms)
	if err != nil {
		return err
	}
	sources, err := encodeDoc(item.Sources)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO terminology (term_id, lang, term, definition, category, related_terms, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.Lang, item.Term, item.Definition, item.Category, related, sources)
	if err != nil {
		return fmt.Errorf("insert term: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTerm(ctx context.Context, termID string, item Term) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	related, err := encodeDoc(item.RelatedTerms)
	if err != nil {
		return err
	}
	sources, err := encodeDoc(item.Sources)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE terminology
		SET term=$3, definition=$4, category=$5, related_terms=$6, sources=$7
		WHERE term_id=$1 AND lang=$2
	`, termID, item.Lang, item.Term, item.Definition, item.Category, related, sources)
	if err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteTerm(ctx context.Context, termID, lang string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM terminology WHERE term_id=$1 AND lang=$2
	`, termID, lang)
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
