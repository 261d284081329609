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

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across approved activities and posts
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultActivity {
		actWhere := "a.fts @@ " + tsQuery + " AND a.status = 'approved'"
		if q.FilterCategory != "" {
			actWhere += fmt.Sprintf(" AND a.category = $%d", argN)
			args = append(args, q.FilterCategory)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'activity'::text AS type, a.id, a.title,
				ts_headline('english', coalesce(a.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.owner_id, u.handle, a.category, a.status,
				ts_rank(a.fts, %s) AS rank
			FROM civic_activities a
			JOIN users u ON u.id = a.owner_id
			WHERE %s`, tsQuery, tsQuery, actWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultPost {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, ''::text AS title,
				ts_headline('english', coalesce(p.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.author_id, u.handle, ''::text AS category, ''::text AS status,
				ts_rank(p.fts, %s) AS rank
			FROM posts p
			JOIN users u ON u.id = p.author_id
			WHERE p.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, owner_id, handle, category, status
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.OwnerID, &r.Handle, &r.Category, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ActivityRecord, []PostRecord, error) {
	actRows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.description, COALESCE(a.location, ''), a.category, a.status, a.owner_id, u.handle
		FROM civic_activities a
		JOIN users u ON u.id = a.owner_id
		WHERE a.status = 'approved'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load activities: %w", err)
	}
	defer actRows.Close()

	activities := make([]ActivityRecord, 0)
	for actRows.Next() {
		var a ActivityRecord
		if err := actRows.Scan(&a.ID, &a.Title, &a.Description, &a.Location, &a.Category, &a.Status, &a.OwnerID, &a.OwnerHandle); err != nil {
			return nil, nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	if err := actRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate activities: %w", err)
	}

	postRows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.body, p.author_id, u.handle
		FROM posts p
		JOIN users u ON u.id = p.author_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var post PostRecord
		if err := postRows.Scan(&post.ID, &post.Body, &post.AuthorID, &post.AuthorHandle); err != nil {
			return nil, nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	return activities, posts, nil
}
