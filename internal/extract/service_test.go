package extract

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"redline/internal/matcher"
	"redline/internal/search"
	"redline/internal/store"
)

type fakeDriver struct {
	names []string
	pos   int
}

func (d *fakeDriver) ReadCurrentImageName(ctx context.Context) (string, error) {
	if d.pos >= len(d.names) {
		return "", errors.New("past end")
	}
	return d.names[d.pos], nil
}

func (d *fakeDriver) AdvanceToNext(ctx context.Context) error {
	if d.pos+1 >= len(d.names) {
		return matcher.ErrNoNextImage
	}
	d.pos++
	return nil
}

type fatalDriver struct{}

func (fatalDriver) ReadCurrentImageName(ctx context.Context) (string, error) {
	return "", matcher.Fatal(errors.New("tab crashed"))
}
func (fatalDriver) AdvanceToNext(ctx context.Context) error { return nil }

type fakePage struct {
	threads    []matcher.ThreadDescriptor
	driver     matcher.PageDriver
	sidebarErr error
	loginErr   error
	closed     bool
}

func (p *fakePage) Login() error                   { return p.loginErr }
func (p *fakePage) OpenProject(projectID string) error { return nil }
func (p *fakePage) ExtractSidebar() ([]matcher.ThreadDescriptor, error) {
	return p.threads, p.sidebarErr
}
func (p *fakePage) OpenViewer() (matcher.PageDriver, error) { return p.driver, nil }
func (p *fakePage) CaptureCurrentImage() ([]byte, error)    { return []byte("png"), nil }
func (p *fakePage) Close()                                  { p.closed = true }

type fakeStore struct {
	threads  []store.Thread
	sessions []store.ExtractionSession
	events   []store.ErrorEvent
}

func (s *fakeStore) UpsertProject(ctx context.Context, projectID, name string) error { return nil }
func (s *fakeStore) ReplaceThreads(ctx context.Context, projectID string, threads []store.Thread) error {
	s.threads = threads
	return nil
}
func (s *fakeStore) InsertExtractionSession(ctx context.Context, session store.ExtractionSession) error {
	s.sessions = append(s.sessions, session)
	return nil
}
func (s *fakeStore) InsertErrorEvent(ctx context.Context, event store.ErrorEvent) error {
	s.events = append(s.events, event)
	return nil
}

type fakeUploader struct{ keys []string }

func (u *fakeUploader) PutScreenshot(ctx context.Context, projectID, filename string, data []byte) (string, error) {
	key := projectID + "/" + filename
	u.keys = append(u.keys, key)
	return key, nil
}

type upperTranslator struct{}

func (upperTranslator) Translate(ctx context.Context, text string) (string, error) {
	return strings.ToUpper(text), nil
}

type fakeIndexer struct{ records []search.ThreadRecord }

func (i *fakeIndexer) IndexThreads(records []search.ThreadRecord) { i.records = records }

func descriptor(name string, bodies ...string) matcher.ThreadDescriptor {
	t := matcher.ThreadDescriptor{Name: name}
	for i, body := range bodies {
		t.PinComments = append(t.PinComments, matcher.PinComment{
			Index:          i,
			PinNumber:      i + 1,
			Author:         "reviewer",
			Body:           body,
			AttachmentURLs: []string{"https://cdn.example.com/a.png"},
		})
	}
	return t
}

func testService(st Store, pg page, uploader Uploader, translator Translator, indexer Indexer) *Service {
	s := &Service{
		store:        st,
		uploader:     uploader,
		translator:   translator,
		indexer:      indexer,
		safetyFactor: matcher.DefaultSafetyFactor,
		logger:       log.New(io.Discard, "", 0),
		newPage:      func(ctx context.Context) (page, error) { return pg, nil },
	}
	return s
}

func TestExtractProjectComplete(t *testing.T) {
	st := &fakeStore{}
	uploader := &fakeUploader{}
	indexer := &fakeIndexer{}
	pg := &fakePage{
		threads: []matcher.ThreadDescriptor{
			descriptor("Header", "logo is cut off"),
			descriptor("Footer", "links misaligned"),
		},
		driver: &fakeDriver{names: []string{"01_header.png", "02_footer.png"}},
	}
	svc := testService(st, pg, uploader, upperTranslator{}, indexer)

	if err := svc.ExtractProject(context.Background(), "proj_1"); err != nil {
		t.Fatalf("ExtractProject: %v", err)
	}
	if !pg.closed {
		t.Fatal("page not closed")
	}
	if len(st.threads) != 2 {
		t.Fatalf("persisted %d threads, want 2", len(st.threads))
	}
	for _, row := range st.threads {
		if !row.Matched {
			t.Fatalf("thread %q not matched", row.Name)
		}
		if row.ImagePath == "" {
			t.Fatalf("thread %q has no image path", row.Name)
		}
		if len(row.Comments) != 1 {
			t.Fatalf("thread %q has %d comments", row.Name, len(row.Comments))
		}
		c := row.Comments[0]
		if c.TranslatedBody != strings.ToUpper(c.Body) {
			t.Fatalf("comment not translated: %+v", c)
		}
		if len(c.Attachments) != 1 {
			t.Fatalf("comment has %d attachments", len(c.Attachments))
		}
	}
	if len(uploader.keys) != 2 {
		t.Fatalf("uploaded %d screenshots, want 2", len(uploader.keys))
	}
	if len(indexer.records) != 2 {
		t.Fatalf("indexed %d records, want 2", len(indexer.records))
	}
	if len(st.sessions) != 1 || st.sessions[0].Status != store.SessionComplete {
		t.Fatalf("sessions = %+v", st.sessions)
	}
	if len(st.events) != 0 {
		t.Fatalf("unexpected error events: %+v", st.events)
	}
}

func TestExtractProjectIncomplete(t *testing.T) {
	st := &fakeStore{}
	pg := &fakePage{
		threads: []matcher.ThreadDescriptor{
			descriptor("Header", "logo"),
			descriptor("Missing", "never shown"),
		},
		driver: &fakeDriver{names: []string{"01_header.png"}},
	}
	svc := testService(st, pg, nil, nil, nil)

	if err := svc.ExtractProject(context.Background(), "proj_1"); err != nil {
		t.Fatalf("incomplete run should not be an error, got %v", err)
	}
	if len(st.threads) != 2 {
		t.Fatalf("persisted %d threads, want 2", len(st.threads))
	}
	var unmatched *store.Thread
	for i := range st.threads {
		if st.threads[i].Name == "Missing" {
			unmatched = &st.threads[i]
		}
	}
	if unmatched == nil || unmatched.Matched {
		t.Fatalf("Missing should be persisted unmatched: %+v", st.threads)
	}
	if len(st.sessions) != 1 || st.sessions[0].Status != store.SessionIncomplete {
		t.Fatalf("sessions = %+v", st.sessions)
	}
	if len(st.events) != 1 || st.events[0].Operation != matcher.OpIncompleteMatch {
		t.Fatalf("events = %+v", st.events)
	}
	if st.events[0].ProjectID != "proj_1" {
		t.Fatalf("event project = %q", st.events[0].ProjectID)
	}
}

func TestExtractProjectFatalViewer(t *testing.T) {
	st := &fakeStore{}
	pg := &fakePage{
		threads: []matcher.ThreadDescriptor{descriptor("Header", "logo")},
		driver:  fatalDriver{},
	}
	svc := testService(st, pg, nil, nil, nil)

	if err := svc.ExtractProject(context.Background(), "proj_1"); err == nil {
		t.Fatal("expected error for failed run")
	}
	// Threads still land in the store without images.
	if len(st.threads) != 1 || st.threads[0].Matched {
		t.Fatalf("threads = %+v", st.threads)
	}
	if len(st.sessions) != 1 || st.sessions[0].Status != store.SessionFailed {
		t.Fatalf("sessions = %+v", st.sessions)
	}
	if len(st.events) != 1 || st.events[0].Operation != matcher.OpFatalMatchError {
		t.Fatalf("events = %+v", st.events)
	}
}

func TestExtractProjectSidebarFailure(t *testing.T) {
	st := &fakeStore{}
	pg := &fakePage{sidebarErr: errors.New("sidebar selector missing")}
	svc := testService(st, pg, nil, nil, nil)

	if err := svc.ExtractProject(context.Background(), "proj_1"); err == nil {
		t.Fatal("expected error")
	}
	if st.threads != nil {
		t.Fatalf("threads should not be touched: %+v", st.threads)
	}
	if len(st.sessions) != 1 || st.sessions[0].Status != store.SessionFailed {
		t.Fatalf("sessions = %+v", st.sessions)
	}
	if st.sessions[0].Detail == "" {
		t.Fatal("aborted session should carry a detail")
	}
}

func TestExtractProjectEmptySidebar(t *testing.T) {
	st := &fakeStore{}
	pg := &fakePage{driver: &fakeDriver{names: []string{"unused.png"}}}
	svc := testService(st, pg, nil, nil, nil)

	if err := svc.ExtractProject(context.Background(), "proj_1"); err != nil {
		t.Fatalf("ExtractProject: %v", err)
	}
	if len(st.sessions) != 1 || st.sessions[0].Status != store.SessionComplete {
		t.Fatalf("sessions = %+v", st.sessions)
	}
	if st.sessions[0].Expected != 0 {
		t.Fatalf("expected = %d", st.sessions[0].Expected)
	}
}

func TestCaptureDriverCapturesOncePerImage(t *testing.T) {
	captures := 0
	d := &captureDriver{
		inner:   &fakeDriver{names: []string{"a.png", "b.png"}},
		capture: func() ([]byte, error) { captures++; return []byte("png"), nil },
		taken:   map[int][]byte{},
	}
	ctx := context.Background()
	if _, err := d.ReadCurrentImageName(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadCurrentImageName(ctx); err != nil {
		t.Fatal(err)
	}
	if captures != 1 {
		t.Fatalf("captures = %d, want 1", captures)
	}
	if err := d.AdvanceToNext(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadCurrentImageName(ctx); err != nil {
		t.Fatal(err)
	}
	if captures != 2 {
		t.Fatalf("captures = %d, want 2", captures)
	}
	if len(d.taken) != 2 {
		t.Fatalf("taken = %d images", len(d.taken))
	}
}
