package store

import "time"

type Project struct {
	ID              string
	Name            string
	LastExtractedAt *time.Time
	CreatedAt       time.Time
}

// Thread is one comment thread extracted from the annotation tool. The
// image fields are populated only when Matched is true.
type Thread struct {
	ID            string
	ProjectID     string
	Name          string
	Matched       bool
	ImagePath     string
	ImageFilename string
	ImageIndex    int
	CreatedAt     time.Time
	Comments      []PinComment
}

type PinComment struct {
	ID             string
	ThreadID       string
	Ord            int
	PinNumber      int
	Author         string
	Body           string
	TranslatedBody string
	CreatedAt      time.Time
	Attachments    []Attachment
}

type Attachment struct {
	ID        string
	CommentID string
	URL       string
	CreatedAt time.Time
}

// ExtractionSession is one recorded extraction run for a project.
type ExtractionSession struct {
	ID         string
	ProjectID  string
	Status     string
	Expected   int
	Matched    int
	Unmatched  []string
	Attempts   int
	Limit      int
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ErrorEvent is one row in the error_log table, the persistence side of
// the matcher's observability sink.
type ErrorEvent struct {
	ID        int64
	Operation string
	ProjectID string
	Matched   []string
	Unmatched []string
	Attempts  int
	Limit     int
	Detail    string
	CreatedAt time.Time
}

const (
	SessionComplete   = "complete"
	SessionIncomplete = "incomplete"
	SessionFailed     = "failed"
)
