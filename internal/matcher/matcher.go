// Package matcher associates annotated screenshots from the tool's paginated
// full-screen viewer with the comment threads extracted from its sidebar.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// DefaultSafetyFactor bounds a matching pass at this multiple of the thread
// count when Options.SafetyFactor is unset. Viewers usually contain images
// beyond the threads of interest, so the bound leaves room for skips.
const DefaultSafetyFactor = 4

// ErrNoNextImage is returned by a PageDriver when the viewer has reached the
// end of its image sequence. It finalizes the pass quietly; any other advance
// error is treated as a navigation fault.
var ErrNoNextImage = errors.New("no next image")

// PageDriver is the viewer automation surface the matcher drives. It is a
// single shared interactive session: calls must be strictly sequential and
// navigation is forward-only.
type PageDriver interface {
	// ReadCurrentImageName extracts the identifying text for the image the
	// viewer currently displays.
	ReadCurrentImageName(ctx context.Context) (string, error)
	// AdvanceToNext moves the viewer forward exactly one image.
	AdvanceToNext(ctx context.Context) error
}

// FatalError marks a driver failure that leaves the viewer unusable
// (connection lost, tab crashed). The matcher aborts the pass on it.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "viewer unusable: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps a driver error so the matcher treats it as unrecoverable.
func Fatal(err error) error { return &FatalError{Err: err} }

// PinComment is one comment in a thread, snapshotted from the sidebar
// before matching begins.
type PinComment struct {
	ID             string
	Index          int
	PinNumber      int
	Author         string
	Body           string
	TranslatedBody string
	AttachmentURLs []string
}

// ThreadDescriptor is one comment thread found in the sidebar. Name is the
// matching key; the image fields are attached by the caller after a
// successful match.
type ThreadDescriptor struct {
	Name        string
	PinComments []PinComment

	ImagePath     string
	ImageFilename string
	ImageIndex    int
}

// Match records one thread successfully associated with a viewer image.
type Match struct {
	ThreadName    string
	ImageFilename string
	ImageIndex    int
}

// Session is the outcome of one matching pass. Run always returns one,
// whatever happened to the viewer.
type Session struct {
	Expected  int
	Matched   []Match
	Unmatched []string
	Attempts  int
	Limit     int

	// Incomplete is set when at least one thread could not be matched.
	Incomplete bool
	// Failed is set when the viewer became unusable mid-pass.
	Failed        bool
	FailureDetail string
}

// Complete reports whether every thread was matched.
func (s *Session) Complete() bool { return !s.Incomplete && !s.Failed }

// MatchedNames returns thread names in match order.
func (s *Session) MatchedNames() []string {
	names := make([]string, 0, len(s.Matched))
	for _, m := range s.Matched {
		names = append(names, m.ThreadName)
	}
	return names
}

// Event operation names reported to the Sink.
const (
	OpNavigationError = "navigation-error"
	OpIncompleteMatch = "incomplete-match"
	OpFatalMatchError = "fatal-match-error"
)

// Event is one structured failure report.
type Event struct {
	Op        string
	Matched   []string
	Unmatched []string
	Attempts  int
	Limit     int
	Detail    string
}

// Sink receives structured failure events. A nil sink drops them.
type Sink interface {
	Report(ctx context.Context, event Event)
}

// Options tune a matching pass.
type Options struct {
	// SafetyFactor is K in the attempt bound K * len(threads).
	SafetyFactor int
	// Sink receives navigation-error / incomplete-match / fatal-match-error
	// events. Optional.
	Sink Sink
	// Logger receives debug traces. Defaults to the process logger.
	Logger *log.Logger
}

type candidate struct {
	name    string
	key     string
	matched bool
}

// Run walks the viewer forward, matching each displayed image against the
// remaining threads. It never returns an error or panics past its boundary:
// every failure path becomes a field on the returned Session plus a sink
// event.
func Run(ctx context.Context, threads []ThreadDescriptor, viewer PageDriver, opts Options) (session *Session) {
	k := opts.SafetyFactor
	if k <= 0 {
		k = DefaultSafetyFactor
	}
	logf := log.Printf
	if opts.Logger != nil {
		logf = opts.Logger.Printf
	}

	session = &Session{
		Expected: len(threads),
		Limit:    k * len(threads),
		Matched:  make([]Match, 0, len(threads)),
	}

	cands := make([]candidate, len(threads))
	remaining := 0
	for i, t := range threads {
		cands[i] = candidate{name: t.Name, key: Normalize(t.Name)}
		if cands[i].key == "" {
			// Unnamed threads cannot be matched; recorded as unmatched
			// at finalization.
			continue
		}
		remaining++
	}

	defer func() {
		// The driver runs arbitrary browser automation; a panic from it
		// must not escape past the matcher's boundary.
		if r := recover(); r != nil {
			session.Failed = true
			session.FailureDetail = fmt.Sprintf("panic during matching: %v", r)
			finalize(ctx, session, cands, opts.Sink, logf)
		}
	}()

	index := 0
	for remaining > 0 && session.Attempts < session.Limit {
		if err := ctx.Err(); err != nil {
			session.Failed = true
			session.FailureDetail = fmt.Sprintf("context ended at index %d: %v", index, err)
			break
		}

		session.Attempts++

		name, err := viewer.ReadCurrentImageName(ctx)
		switch {
		case err != nil:
			var fatal *FatalError
			if errors.As(err, &fatal) {
				session.Failed = true
				session.FailureDetail = fmt.Sprintf("read image name at index %d: %v", index, err)
				break
			}
			// Unreadable name is the same as "not relevant": skip and
			// advance.
			logf("matcher: image name unreadable at index %d, skipping: %v", index, err)
		default:
			if pick := bestMatch(cands, Normalize(name)); pick >= 0 {
				cands[pick].matched = true
				remaining--
				session.Matched = append(session.Matched, Match{
					ThreadName:    cands[pick].name,
					ImageFilename: strings.TrimSpace(name),
					ImageIndex:    index,
				})
			}
		}
		if session.Failed || remaining == 0 || session.Attempts >= session.Limit {
			break
		}

		if err := viewer.AdvanceToNext(ctx); err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				session.Failed = true
				session.FailureDetail = fmt.Sprintf("advance from index %d: %v", index, err)
				break
			}
			if errors.Is(err, ErrNoNextImage) {
				logf("matcher: viewer ended after index %d (%d/%d matched)", index, len(session.Matched), session.Expected)
				break
			}
			logf("matcher: navigation failed at index %d: %v", index, err)
			report(ctx, opts.Sink, Event{
				Op:        OpNavigationError,
				Matched:   session.MatchedNames(),
				Unmatched: unmatchedNames(cands),
				Attempts:  session.Attempts,
				Limit:     session.Limit,
				Detail:    err.Error(),
			})
			break
		}
		index++
	}

	finalize(ctx, session, cands, opts.Sink, logf)
	return session
}

// bestMatch returns the index of the strongest unmatched candidate for the
// normalized image key, or -1. Exact match wins over substring; among
// substring matches the longest candidate key wins; equal lengths keep
// sidebar order.
func bestMatch(cands []candidate, imageKey string) int {
	best := -1
	bestScore := scoreNone
	for i := range cands {
		if cands[i].matched {
			continue
		}
		score := scoreMatch(cands[i].key, imageKey)
		if score == scoreNone {
			continue
		}
		if score > bestScore {
			best, bestScore = i, score
			if score == scoreExact {
				return best
			}
			continue
		}
		if score == scoreSubstring && len(cands[i].key) > len(cands[best].key) {
			best = i
		}
	}
	return best
}

func unmatchedNames(cands []candidate) []string {
	names := make([]string, 0)
	for _, c := range cands {
		if !c.matched {
			names = append(names, c.name)
		}
	}
	return names
}

func finalize(ctx context.Context, session *Session, cands []candidate, sink Sink, logf func(string, ...any)) {
	session.Unmatched = unmatchedNames(cands)
	if len(session.Unmatched) == 0 && !session.Failed {
		return
	}
	session.Incomplete = len(session.Unmatched) > 0

	if session.Failed {
		logf("matcher: pass failed after %d/%d attempts: %s", session.Attempts, session.Limit, session.FailureDetail)
		report(ctx, sink, Event{
			Op:        OpFatalMatchError,
			Matched:   session.MatchedNames(),
			Unmatched: session.Unmatched,
			Attempts:  session.Attempts,
			Limit:     session.Limit,
			Detail:    session.FailureDetail,
		})
		return
	}

	logf("matcher: incomplete pass, %d of %d threads unmatched after %d attempts",
		len(session.Unmatched), session.Expected, session.Attempts)
	report(ctx, sink, Event{
		Op:        OpIncompleteMatch,
		Matched:   session.MatchedNames(),
		Unmatched: session.Unmatched,
		Attempts:  session.Attempts,
		Limit:     session.Limit,
	})
}

func report(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	sink.Report(ctx, event)
}
