package search

import (
	"context"
	"database/sql"
	"time"
)

// PgFTS is the Postgres full-text fallback used when Meilisearch is down.
// It searches thread names and pin comment bodies with tsquery matching.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS { return &PgFTS{db: db} }

// Healthy always reports true; the database is a hard dependency anyway.
func (p *PgFTS) Healthy() bool { return true }

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		SELECT t.id, t.project_id, t.name, COALESCE(t.image_filename, ''),
		       COALESCE((
		           SELECT c.body FROM pin_comments c
		           WHERE c.thread_id = t.id
		             AND to_tsvector('simple', c.body) @@ plainto_tsquery('simple', $1)
		           ORDER BY c.ord LIMIT 1
		       ), '')
		FROM threads t
		WHERE ($2 = '' OR t.project_id = $2)
		  AND (
		      to_tsvector('simple', t.name) @@ plainto_tsquery('simple', $1)
		      OR EXISTS (
		          SELECT 1 FROM pin_comments c
		          WHERE c.thread_id = t.id
		            AND to_tsvector('simple', c.body) @@ plainto_tsquery('simple', $1)
		      )
		  )
		ORDER BY t.name
		LIMIT $3`

	rows, err := p.db.QueryContext(ctx, query, q.Text, q.ProjectID, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.ThreadName, &r.ImageFilename, &r.Snippet); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, len(out), rows.Err()
}
