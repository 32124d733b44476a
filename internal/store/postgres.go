package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertProject(ctx context.Context, projectID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE projects.name END
	`, projectID, name)
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, last_extracted_at, created_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.LastExtractedAt, &item.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, last_extracted_at, created_at
		FROM projects
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.LastExtractedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// ReplaceThreads swaps a project's thread snapshot atomically. Each
// extraction run produces a fresh snapshot; stale threads, comments and
// attachments from the previous run are dropped in the same transaction.
func (s *PostgresStore) ReplaceThreads(ctx context.Context, projectID string, threads []Thread) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace threads: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE project_id=$1`, projectID); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}

	for _, thread := range threads {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO threads (id, project_id, name, matched, image_path, image_filename, image_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, thread.ID, projectID, thread.Name, thread.Matched, thread.ImagePath, thread.ImageFilename, thread.ImageIndex); err != nil {
			return fmt.Errorf("insert thread %q: %w", thread.Name, err)
		}
		for _, comment := range thread.Comments {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pin_comments (id, thread_id, ord, pin_number, author, body, translated_body)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, comment.ID, thread.ID, comment.Ord, comment.PinNumber, comment.Author, comment.Body, comment.TranslatedBody); err != nil {
				return fmt.Errorf("insert pin comment: %w", err)
			}
			for _, attachment := range comment.Attachments {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO attachments (id, comment_id, url)
					VALUES ($1, $2, $3)
				`, attachment.ID, comment.ID, attachment.URL); err != nil {
					return fmt.Errorf("insert attachment: %w", err)
				}
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE projects SET last_extracted_at=NOW() WHERE id=$1`, projectID); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace threads: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, projectID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, matched, image_path, image_filename, image_index, created_at
		FROM threads
		WHERE project_id=$1
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]Thread, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var item Thread
		if err := rows.Scan(
			&item.ID,
			&item.ProjectID,
			&item.Name,
			&item.Matched,
			&item.ImagePath,
			&item.ImageFilename,
			&item.ImageIndex,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		byID[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	comments, err := s.listProjectComments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, comment := range comments {
		if pos, ok := byID[comment.ThreadID]; ok {
			items[pos].Comments = append(items[pos].Comments, comment)
		}
	}
	return items, nil
}

func (s *PostgresStore) listProjectComments(ctx context.Context, projectID string) ([]PinComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.thread_id, c.ord, c.pin_number, c.author, c.body, COALESCE(c.translated_body, ''), c.created_at
		FROM pin_comments c
		JOIN threads t ON t.id = c.thread_id
		WHERE t.project_id=$1
		ORDER BY c.thread_id ASC, c.ord ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pin comments: %w", err)
	}
	defer rows.Close()

	items := make([]PinComment, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var item PinComment
		if err := rows.Scan(
			&item.ID,
			&item.ThreadID,
			&item.Ord,
			&item.PinNumber,
			&item.Author,
			&item.Body,
			&item.TranslatedBody,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pin comment: %w", err)
		}
		byID[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pin comments: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	attachmentRows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.comment_id, a.url, a.created_at
		FROM attachments a
		JOIN pin_comments c ON c.id = a.comment_id
		JOIN threads t ON t.id = c.thread_id
		WHERE t.project_id=$1
		ORDER BY a.created_at ASC, a.id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer attachmentRows.Close()

	for attachmentRows.Next() {
		var item Attachment
		if err := attachmentRows.Scan(&item.ID, &item.CommentID, &item.URL, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		if pos, ok := byID[item.CommentID]; ok {
			items[pos].Attachments = append(items[pos].Attachments, item)
		}
	}
	if err := attachmentRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	var item Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, matched, image_path, image_filename, image_index, created_at
		FROM threads
		WHERE id=$1
	`, threadID).Scan(
		&item.ID,
		&item.ProjectID,
		&item.Name,
		&item.Matched,
		&item.ImagePath,
		&item.ImageFilename,
		&item.ImageIndex,
		&item.CreatedAt,
	)
	if err != nil {
		return Thread{}, err
	}

	comments, err := s.listProjectComments(ctx, item.ProjectID)
	if err != nil {
		return Thread{}, err
	}
	for _, comment := range comments {
		if comment.ThreadID == item.ID {
			item.Comments = append(item.Comments, comment)
		}
	}
	return item, nil
}

func (s *PostgresStore) InsertExtractionSession(ctx context.Context, session ExtractionSession) error {
	unmatched := session.Unmatched
	if unmatched == nil {
		unmatched = []string{}
	}
	encoded, err := json.Marshal(unmatched)
	if err != nil {
		return fmt.Errorf("marshal unmatched names: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_sessions (id, project_id, status, expected, matched, unmatched, attempts, attempt_limit, detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)
	`, session.ID, session.ProjectID, session.Status, session.Expected, session.Matched,
		string(encoded), session.Attempts, session.Limit, session.Detail, session.StartedAt, session.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert extraction session: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExtractionSessions(ctx context.Context, projectID string, limit int) ([]ExtractionSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, status, expected, matched, unmatched, attempts, attempt_limit, detail, started_at, finished_at
		FROM extraction_sessions
		WHERE project_id=$1
		ORDER BY started_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list extraction sessions: %w", err)
	}
	defer rows.Close()

	items := make([]ExtractionSession, 0)
	for rows.Next() {
		var item ExtractionSession
		var unmatchedRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.ProjectID,
			&item.Status,
			&item.Expected,
			&item.Matched,
			&unmatchedRaw,
			&item.Attempts,
			&item.Limit,
			&item.Detail,
			&item.StartedAt,
			&item.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan extraction session: %w", err)
		}
		_ = json.Unmarshal(unmatchedRaw, &item.Unmatched)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extraction sessions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertErrorEvent(ctx context.Context, event ErrorEvent) error {
	matched := event.Matched
	if matched == nil {
		matched = []string{}
	}
	unmatched := event.Unmatched
	if unmatched == nil {
		unmatched = []string{}
	}
	encodedMatched, err := json.Marshal(matched)
	if err != nil {
		return fmt.Errorf("marshal matched names: %w", err)
	}
	encodedUnmatched, err := json.Marshal(unmatched)
	if err != nil {
		return fmt.Errorf("marshal unmatched names: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO error_log (operation, project_id, matched, unmatched, attempts, attempt_limit, detail)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, $7)
	`, event.Operation, event.ProjectID, string(encodedMatched), string(encodedUnmatched), event.Attempts, event.Limit, event.Detail)
	if err != nil {
		return fmt.Errorf("insert error event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListErrorEvents(ctx context.Context, limit int) ([]ErrorEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, project_id, matched, unmatched, attempts, attempt_limit, detail, created_at
		FROM error_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list error events: %w", err)
	}
	defer rows.Close()

	items := make([]ErrorEvent, 0)
	for rows.Next() {
		var item ErrorEvent
		var matchedRaw, unmatchedRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Operation,
			&item.ProjectID,
			&matchedRaw,
			&unmatchedRaw,
			&item.Attempts,
			&item.Limit,
			&item.Detail,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan error event: %w", err)
		}
		_ = json.Unmarshal(matchedRaw, &item.Matched)
		_ = json.Unmarshal(unmatchedRaw, &item.Unmatched)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error events: %w", err)
	}
	return items, nil
}

// IsNotFound reports whether err is the driver's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
