package extract

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"redline/internal/browser"
	"redline/internal/matcher"
	"redline/internal/search"
	"redline/internal/store"
	"redline/internal/util"
)

// Store is the slice of the persistence layer one extraction run needs.
type Store interface {
	UpsertProject(ctx context.Context, projectID, name string) error
	ReplaceThreads(ctx context.Context, projectID string, threads []store.Thread) error
	InsertExtractionSession(ctx context.Context, session store.ExtractionSession) error
	InsertErrorEvent(ctx context.Context, event store.ErrorEvent) error
}

// Uploader stores captured viewer screenshots.
type Uploader interface {
	PutScreenshot(ctx context.Context, projectID, filename string, data []byte) (string, error)
}

// Translator produces a translated rendition of a comment body.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Indexer receives thread records for full-text search, best-effort.
type Indexer interface {
	IndexThreads(records []search.ThreadRecord)
}

// page is what one run needs from the annotation tool: a logged-in tab on
// the project canvas plus the screenshot viewer.
type page interface {
	Login() error
	OpenProject(projectID string) error
	ExtractSidebar() ([]matcher.ThreadDescriptor, error)
	OpenViewer() (matcher.PageDriver, error)
	CaptureCurrentImage() ([]byte, error)
	Close()
}

// browserPage adapts browser.Session to the page interface.
type browserPage struct {
	session *browser.Session
}

func (p browserPage) Login() error                                      { return p.session.Login() }
func (p browserPage) OpenProject(projectID string) error                { return p.session.OpenProject(projectID) }
func (p browserPage) ExtractSidebar() ([]matcher.ThreadDescriptor, error) { return p.session.ExtractSidebar() }
func (p browserPage) OpenViewer() (matcher.PageDriver, error)           { return p.session.OpenViewer() }
func (p browserPage) CaptureCurrentImage() ([]byte, error)              { return p.session.CaptureCurrentImage() }
func (p browserPage) Close()                                            { p.session.Close() }

// Service runs full extraction passes: scrape the sidebar, match threads to
// viewer images, persist the result and record what went wrong.
type Service struct {
	store        Store
	uploader     Uploader
	translator   Translator
	indexer      Indexer
	safetyFactor int
	logger       *log.Logger

	newPage func(ctx context.Context) (page, error)
}

// NewService wires an extraction service against a live browser. uploader,
// translator and indexer may be nil; those steps are then skipped.
func NewService(st Store, browserCfg browser.Config, uploader Uploader, translator Translator, indexer Indexer, safetyFactor int) *Service {
	return &Service{
		store:        st,
		uploader:     uploader,
		translator:   translator,
		indexer:      indexer,
		safetyFactor: safetyFactor,
		logger:       log.Default(),
		newPage: func(ctx context.Context) (page, error) {
			session, err := browser.NewSession(ctx, browserCfg)
			if err != nil {
				return nil, err
			}
			return browserPage{session: session}, nil
		},
	}
}

// WithLogger replaces the run logger.
func (s *Service) WithLogger(logger *log.Logger) *Service {
	s.logger = logger
	return s
}

// ExtractProject performs one extraction run for the project. A session row
// is recorded for every run, including ones that die before matching starts.
// The returned error reflects run failure; an incomplete match is not an
// error, it is recorded and the partial result is kept.
func (s *Service) ExtractProject(ctx context.Context, projectID string) error {
	started := time.Now()

	if err := s.store.UpsertProject(ctx, projectID, ""); err != nil {
		return err
	}

	pg, err := s.newPage(ctx)
	if err != nil {
		s.recordAborted(ctx, projectID, started, fmt.Sprintf("start browser: %v", err))
		return fmt.Errorf("start browser: %w", err)
	}
	defer pg.Close()

	if err := pg.Login(); err != nil {
		s.recordAborted(ctx, projectID, started, err.Error())
		return err
	}
	if err := pg.OpenProject(projectID); err != nil {
		s.recordAborted(ctx, projectID, started, err.Error())
		return err
	}

	threads, err := pg.ExtractSidebar()
	if err != nil {
		s.recordAborted(ctx, projectID, started, err.Error())
		return err
	}
	s.logger.Printf("extract project=%s threads=%d", projectID, len(threads))

	if len(threads) == 0 {
		if err := s.store.ReplaceThreads(ctx, projectID, nil); err != nil {
			return err
		}
		return s.recordSession(ctx, projectID, started, &matcher.Session{})
	}

	driver, err := pg.OpenViewer()
	if err != nil {
		s.recordAborted(ctx, projectID, started, err.Error())
		return err
	}

	var shots *captureDriver
	if s.uploader != nil {
		shots = &captureDriver{inner: driver, capture: pg.CaptureCurrentImage, taken: map[int][]byte{}}
		driver = shots
	}

	session := matcher.Run(ctx, threads, driver, matcher.Options{
		SafetyFactor: s.safetyFactor,
		Sink:         &storeSink{store: s.store, projectID: projectID, logger: s.logger},
		Logger:       s.logger,
	})

	rows := s.buildThreads(ctx, projectID, threads, session, shots)
	if err := s.store.ReplaceThreads(ctx, projectID, rows); err != nil {
		return fmt.Errorf("persist threads: %w", err)
	}
	s.index(projectID, rows)

	if err := s.recordSession(ctx, projectID, started, session); err != nil {
		return err
	}
	if session.Failed {
		return fmt.Errorf("extraction failed: %s", session.FailureDetail)
	}
	return nil
}

// buildThreads turns sidebar descriptors plus match results into store rows.
// Every sidebar thread produces a row; unmatched ones simply have no image.
func (s *Service) buildThreads(ctx context.Context, projectID string, threads []matcher.ThreadDescriptor, session *matcher.Session, shots *captureDriver) []store.Thread {
	byName := make(map[string]matcher.Match, len(session.Matched))
	for _, m := range session.Matched {
		byName[m.ThreadName] = m
	}

	rows := make([]store.Thread, 0, len(threads))
	for _, t := range threads {
		row := store.Thread{
			ID:        util.NewID("th"),
			ProjectID: projectID,
			Name:      t.Name,
		}
		if m, ok := byName[t.Name]; ok {
			row.Matched = true
			row.ImageFilename = m.ImageFilename
			row.ImageIndex = m.ImageIndex
			row.ImagePath = s.uploadShot(ctx, projectID, m, shots)
		}
		for _, c := range t.PinComments {
			row.Comments = append(row.Comments, s.buildComment(ctx, row.ID, c))
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *Service) buildComment(ctx context.Context, threadID string, c matcher.PinComment) store.PinComment {
	comment := store.PinComment{
		ID:        util.NewID("cmt"),
		ThreadID:  threadID,
		Ord:       c.Index,
		PinNumber: c.PinNumber,
		Author:    c.Author,
		Body:      c.Body,
	}
	if s.translator != nil {
		translated, err := s.translator.Translate(ctx, c.Body)
		if err != nil {
			s.logger.Printf("translate comment: %v", err)
		} else {
			comment.TranslatedBody = translated
		}
	}
	for _, url := range c.AttachmentURLs {
		comment.Attachments = append(comment.Attachments, store.Attachment{
			ID:        util.NewID("att"),
			CommentID: comment.ID,
			URL:       url,
		})
	}
	return comment
}

func (s *Service) uploadShot(ctx context.Context, projectID string, m matcher.Match, shots *captureDriver) string {
	if s.uploader == nil || shots == nil {
		return ""
	}
	data, ok := shots.taken[m.ImageIndex]
	if !ok {
		return ""
	}
	key, err := s.uploader.PutScreenshot(ctx, projectID, m.ImageFilename, data)
	if err != nil {
		s.logger.Printf("upload screenshot %s: %v", m.ImageFilename, err)
		return ""
	}
	return key
}

func (s *Service) index(projectID string, rows []store.Thread) {
	if s.indexer == nil {
		return
	}
	records := make([]search.ThreadRecord, 0, len(rows))
	for _, row := range rows {
		var bodies []string
		for _, c := range row.Comments {
			bodies = append(bodies, c.Body)
		}
		records = append(records, search.ThreadRecord{
			ID:            row.ID,
			ProjectID:     projectID,
			Name:          row.Name,
			Body:          strings.Join(bodies, "\n"),
			ImageFilename: row.ImageFilename,
		})
	}
	s.indexer.IndexThreads(records)
}

func (s *Service) recordSession(ctx context.Context, projectID string, started time.Time, session *matcher.Session) error {
	status := store.SessionComplete
	switch {
	case session.Failed:
		status = store.SessionFailed
	case session.Incomplete:
		status = store.SessionIncomplete
	}
	row := store.ExtractionSession{
		ID:         util.NewID("run"),
		ProjectID:  projectID,
		Status:     status,
		Expected:   session.Expected,
		Matched:    len(session.Matched),
		Unmatched:  session.Unmatched,
		Attempts:   session.Attempts,
		Limit:      session.Limit,
		Detail:     session.FailureDetail,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err := s.store.InsertExtractionSession(detached(ctx), row); err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// recordAborted writes a failed session for a run that died before matching.
func (s *Service) recordAborted(ctx context.Context, projectID string, started time.Time, detail string) {
	row := store.ExtractionSession{
		ID:         util.NewID("run"),
		ProjectID:  projectID,
		Status:     store.SessionFailed,
		Detail:     detail,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err := s.store.InsertExtractionSession(detached(ctx), row); err != nil {
		s.logger.Printf("record aborted session: %v", err)
	}
}

// detached keeps values but survives cancellation, so failure bookkeeping
// still lands when the run context is already dead.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
