package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across chapters and communication_log
// using plainto_tsquery and ts_rank, with ts_headline for snippets. The
// communication sub-query matches the expression of its GIN index.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultChapter {
		chapterVector := "to_tsvector('english', c.author_name || ' ' || c.notes || ' ' || c.report_state || ' ' || c.chapter_type)"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'chapter'::text AS type, c.id, c.author_name AS title,
				ts_headline('english', coalesce(c.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id AS chapter_id, ''::text AS channel,
				ts_rank(%s, %s) AS rank
			FROM chapters c
			WHERE %s @@ %s`, tsQuery, chapterVector, tsQuery, chapterVector, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultCommunication {
		commVector := "to_tsvector('english', l.subject || ' ' || l.body || ' ' || l.recipient)"
		commWhere := fmt.Sprintf("%s @@ %s", commVector, tsQuery)
		if q.FilterChapterID != "" {
			commWhere += fmt.Sprintf(" AND l.chapter_id = $%d", argN)
			args = append(args, q.FilterChapterID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'communication'::text AS type, l.id, l.subject AS title,
				ts_headline('english', coalesce(l.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				l.chapter_id, l.channel,
				ts_rank(%s, %s) AS rank
			FROM communication_log l
			WHERE %s`, tsQuery, commVector, tsQuery, commWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, chapter_id, channel
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "), limit, offset)

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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ChapterID, &r.Channel); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ChapterRecord, []CommunicationRecord, error) {
	chapterRows, err := p.db.QueryContext(ctx, `
		SELECT id, report_state, chapter_type, author_name, current_step, notes
		FROM chapters
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load chapters: %w", err)
	}
	defer chapterRows.Close()

	chapters := make([]ChapterRecord, 0)
	for chapterRows.Next() {
		var c ChapterRecord
		if err := chapterRows.Scan(&c.ID, &c.ReportState, &c.ChapterType, &c.AuthorName, &c.CurrentStep, &c.Notes); err != nil {
			return nil, nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	if err := chapterRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate chapters: %w", err)
	}

	commRows, err := p.db.QueryContext(ctx, `
		SELECT id, chapter_id, channel, recipient, subject, body
		FROM communication_log
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load communications: %w", err)
	}
	defer commRows.Close()

	entries := make([]CommunicationRecord, 0)
	for commRows.Next() {
		var c CommunicationRecord
		if err := commRows.Scan(&c.ID, &c.ChapterID, &c.Channel, &c.Recipient, &c.Subject, &c.Body); err != nil {
			return nil, nil, fmt.Errorf("scan communication: %w", err)
		}
		entries = append(entries, c)
	}
	if err := commRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate communications: %w", err)
	}

	return chapters, entries, nil
}
