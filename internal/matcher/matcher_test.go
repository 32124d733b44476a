package matcher

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
)

// fakeViewer replays a fixed sequence of image names. After the sequence it
// either loops on the final name forever or signals end-of-sequence.
type fakeViewer struct {
	names      []string
	pos        int
	endless    bool
	advanceErr error
	failAfter  int // advance calls before advanceErr fires; -1 = never
	advances   int
	readErrAt  map[int]error
}

func (v *fakeViewer) ReadCurrentImageName(ctx context.Context) (string, error) {
	if err, ok := v.readErrAt[v.pos]; ok {
		return "", err
	}
	if v.pos >= len(v.names) {
		return v.names[len(v.names)-1], nil
	}
	return v.names[v.pos], nil
}

func (v *fakeViewer) AdvanceToNext(ctx context.Context) error {
	v.advances++
	if v.advanceErr != nil && v.advances > v.failAfter {
		return v.advanceErr
	}
	if v.pos+1 >= len(v.names) && !v.endless {
		return ErrNoNextImage
	}
	v.pos++
	return nil
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Report(ctx context.Context, event Event) {
	s.events = append(s.events, event)
}

func (s *recordingSink) byOp(op string) *Event {
	for i := range s.events {
		if s.events[i].Op == op {
			return &s.events[i]
		}
	}
	return nil
}

func quietOpts(sink Sink) Options {
	return Options{Sink: sink, Logger: log.New(io.Discard, "", 0)}
}

func descriptors(names ...string) []ThreadDescriptor {
	threads := make([]ThreadDescriptor, len(names))
	for i, name := range names {
		threads[i] = ThreadDescriptor{Name: name}
	}
	return threads
}

func TestRunExactMatchScenario(t *testing.T) {
	viewer := &fakeViewer{names: []string{"header-issue.png", "01-other.png", "footer-bug.jpg"}}
	session := Run(context.Background(), descriptors("Header Issue", "Footer Bug"), viewer, quietOpts(nil))

	if !session.Complete() {
		t.Fatalf("expected complete session, got incomplete=%v failed=%v", session.Incomplete, session.Failed)
	}
	if len(session.Matched) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(session.Matched))
	}
	if m := session.Matched[0]; m.ThreadName != "Header Issue" || m.ImageIndex != 0 || m.ImageFilename != "header-issue.png" {
		t.Errorf("unexpected first match: %+v", m)
	}
	if m := session.Matched[1]; m.ThreadName != "Footer Bug" || m.ImageIndex != 2 {
		t.Errorf("unexpected second match: %+v", m)
	}
	if len(session.Unmatched) != 0 {
		t.Errorf("expected no unmatched threads, got %v", session.Unmatched)
	}
}

func TestRunUnmatchedThreadScenario(t *testing.T) {
	sink := &recordingSink{}
	viewer := &fakeViewer{names: []string{"a.png", "b.png"}}
	session := Run(context.Background(), descriptors("A", "B", "C"), viewer, quietOpts(sink))

	if !session.Incomplete {
		t.Fatal("expected incomplete session")
	}
	if session.Failed {
		t.Fatal("clean end-of-sequence must not mark the session failed")
	}
	if got := session.MatchedNames(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("matched = %v, want [A B]", got)
	}
	if len(session.Unmatched) != 1 || session.Unmatched[0] != "C" {
		t.Errorf("unmatched = %v, want [C]", session.Unmatched)
	}
	if sink.byOp(OpIncompleteMatch) == nil {
		t.Error("expected an incomplete-match event")
	}
	if sink.byOp(OpNavigationError) != nil {
		t.Error("clean end-of-sequence must not report a navigation-error")
	}
}

func TestRunSafetyLimitScenario(t *testing.T) {
	sink := &recordingSink{}
	viewer := &fakeViewer{
		names:   []string{"x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8"},
		endless: true,
	}
	session := Run(context.Background(), descriptors("Header Issue", "Footer Bug"), viewer, Options{
		SafetyFactor: 3,
		Sink:         sink,
		Logger:       log.New(io.Discard, "", 0),
	})

	if session.Attempts != 6 {
		t.Fatalf("expected exactly 6 attempts (K=3 x 2 threads), got %d", session.Attempts)
	}
	if !session.Incomplete || len(session.Unmatched) != 2 {
		t.Fatalf("expected both threads unmatched, got %v", session.Unmatched)
	}
	event := sink.byOp(OpIncompleteMatch)
	if event == nil {
		t.Fatal("expected an incomplete-match event")
	}
	if event.Attempts != 6 || event.Limit != 6 {
		t.Errorf("event attempts/limit = %d/%d, want 6/6", event.Attempts, event.Limit)
	}
}

func TestRunNavigationFailureScenario(t *testing.T) {
	sink := &recordingSink{}
	viewer := &fakeViewer{
		names:      []string{"header-issue.png", "x1", "x2"},
		advanceErr: errors.New("next button not found"),
		failAfter:  1,
	}
	session := Run(context.Background(), descriptors("Header Issue", "Footer Bug"), viewer, quietOpts(sink))

	if got := session.MatchedNames(); len(got) != 1 || got[0] != "Header Issue" {
		t.Fatalf("matched = %v, want [Header Issue]", got)
	}
	if len(session.Unmatched) != 1 || session.Unmatched[0] != "Footer Bug" {
		t.Errorf("unmatched = %v, want [Footer Bug]", session.Unmatched)
	}
	if session.Failed {
		t.Error("a navigation fault is non-fatal")
	}
	nav := sink.byOp(OpNavigationError)
	if nav == nil {
		t.Fatal("expected a navigation-error event")
	}
	if nav.Detail != "next button not found" {
		t.Errorf("navigation-error detail = %q", nav.Detail)
	}
	if sink.byOp(OpIncompleteMatch) == nil {
		t.Error("expected an incomplete-match event as well")
	}
}

func TestRunFatalDriverError(t *testing.T) {
	sink := &recordingSink{}
	viewer := &fakeViewer{
		names:      []string{"header-issue.png", "x1"},
		advanceErr: Fatal(errors.New("target closed")),
		failAfter:  1,
	}
	session := Run(context.Background(), descriptors("Header Issue", "Footer Bug"), viewer, quietOpts(sink))

	if !session.Failed {
		t.Fatal("expected failed session")
	}
	if got := session.MatchedNames(); len(got) != 1 {
		t.Errorf("matched = %v, want the one match made before the fault", got)
	}
	event := sink.byOp(OpFatalMatchError)
	if event == nil {
		t.Fatal("expected a fatal-match-error event")
	}
	if len(event.Unmatched) != 1 || event.Unmatched[0] != "Footer Bug" {
		t.Errorf("fatal event unmatched = %v", event.Unmatched)
	}
}

func TestRunUnreadableNameIsSkipped(t *testing.T) {
	viewer := &fakeViewer{
		names:     []string{"x0", "footer-bug.png"},
		readErrAt: map[int]error{0: errors.New("title element missing")},
	}
	session := Run(context.Background(), descriptors("Footer Bug"), viewer, quietOpts(nil))

	if !session.Complete() {
		t.Fatalf("unreadable name must not abort the pass: %+v", session)
	}
	if session.Matched[0].ImageIndex != 1 {
		t.Errorf("match index = %d, want 1", session.Matched[0].ImageIndex)
	}
}

func TestRunPanicBecomesFailedSession(t *testing.T) {
	sink := &recordingSink{}
	session := Run(context.Background(), descriptors("A"), panickyViewer{}, quietOpts(sink))

	if !session.Failed {
		t.Fatal("expected failed session from a panicking driver")
	}
	if sink.byOp(OpFatalMatchError) == nil {
		t.Error("expected a fatal-match-error event")
	}
}

type panickyViewer struct{}

func (panickyViewer) ReadCurrentImageName(ctx context.Context) (string, error) {
	panic("tab crashed")
}
func (panickyViewer) AdvanceToNext(ctx context.Context) error { return nil }

func TestRunTotalityAndAtMostOneMatch(t *testing.T) {
	viewer := &fakeViewer{
		names:   []string{"nav.png", "nav.png", "nav.png", "hero.png"},
		endless: true,
	}
	session := Run(context.Background(), descriptors("Nav", "Hero", ""), viewer, quietOpts(nil))

	if got := len(session.Matched) + len(session.Unmatched); got != 3 {
		t.Fatalf("matched + unmatched = %d, want thread count 3", got)
	}
	seen := map[string]int{}
	indexes := map[int]bool{}
	for _, m := range session.Matched {
		seen[m.ThreadName]++
		if indexes[m.ImageIndex] {
			t.Errorf("image index %d used for two threads", m.ImageIndex)
		}
		indexes[m.ImageIndex] = true
	}
	for name, n := range seen {
		if n > 1 {
			t.Errorf("thread %q matched %d times", name, n)
		}
	}
	// The unnamed thread can never match and must be reported unmatched.
	found := false
	for _, name := range session.Unmatched {
		if name == "" {
			found = true
		}
	}
	if !found {
		t.Error("unnamed thread missing from unmatched list")
	}
}

func TestRunSubstringTieBreakPrefersLongestName(t *testing.T) {
	viewer := &fakeViewer{names: []string{"checkout-button-overlap-final.png"}}
	threads := descriptors("Button", "Checkout Button Overlap")
	session := Run(context.Background(), threads, viewer, quietOpts(nil))

	if len(session.Matched) != 1 {
		t.Fatalf("expected 1 match, got %d", len(session.Matched))
	}
	if session.Matched[0].ThreadName != "Checkout Button Overlap" {
		t.Errorf("tie-break picked %q, want the longest substring match", session.Matched[0].ThreadName)
	}
}

func TestRunExactBeatsSubstring(t *testing.T) {
	viewer := &fakeViewer{names: []string{"nav.png"}}
	threads := descriptors("Nav Overflow On Small Screens", "Nav")
	session := Run(context.Background(), threads, viewer, quietOpts(nil))

	if len(session.Matched) != 1 || session.Matched[0].ThreadName != "Nav" {
		t.Fatalf("expected exact match to win, got %+v", session.Matched)
	}
}

func TestRunStopsEarlyOnceAllMatched(t *testing.T) {
	viewer := &fakeViewer{names: []string{"a.png", "b.png", "c.png"}, endless: true}
	session := Run(context.Background(), descriptors("A"), viewer, quietOpts(nil))

	if !session.Complete() {
		t.Fatal("expected complete session")
	}
	if viewer.advances != 0 {
		t.Errorf("matcher advanced %d times after matching everything", viewer.advances)
	}
	if session.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", session.Attempts)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	viewer := &fakeViewer{names: []string{"a.png"}}
	session := Run(ctx, descriptors("A"), viewer, quietOpts(nil))

	if !session.Failed {
		t.Fatal("expected failed session on cancelled context")
	}
	if session.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", session.Attempts)
	}
}
