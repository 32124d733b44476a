// Package browser drives the third-party annotation tool in headless
// Chromium: login, comment-sidebar extraction, and the paginated
// full-screen screenshot viewer.
package browser

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"redline/internal/matcher"
)

var ErrChromiumMissing = fmt.Errorf("chromium not installed")

// Config locates the annotation tool and the DOM the extractor depends on.
// Selectors are configuration because the tool ships UI changes without
// notice.
type Config struct {
	BaseURL  string
	Email    string
	Password string

	LoginEmailSelector    string
	LoginPasswordSelector string
	LoginSubmitSelector   string
	CanvasSelector        string

	SidebarThreadSelector string
	ViewerOpenSelector    string
	ViewerTitleSelector   string
	ViewerNextSelector    string
	ViewerImageSelector   string

	PageLoadTimeout time.Duration
}

// Session is one isolated headless Chromium tab. Matching passes must not
// share a session: viewer position is per-tab state.
type Session struct {
	cfg         Config
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// NewSession launches headless Chromium. Chrome options mirror what the
// container environment requires.
func NewSession(parent context.Context, cfg Config) (*Session, error) {
	if _, err := exec.LookPath("chromium-browser"); err != nil {
		if _, fallbackErr := exec.LookPath("chromium"); fallbackErr != nil {
			return nil, ErrChromiumMissing
		}
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("window-size", "1920,1080"),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	session := &Session{
		cfg:         cfg,
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	// Pin the viewport so captured screenshots are the same size no matter
	// what display the container pretends to have.
	err := session.run(chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetDeviceMetricsOverride(1920, 1080, 1.0, false).Do(ctx)
	}))
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	return session, nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	s.cancelTab()
	s.cancelAlloc()
}

func (s *Session) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PageLoadTimeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// Login signs into the annotation tool and waits for the project canvas.
func (s *Session) Login() error {
	err := s.run(
		chromedp.Navigate(s.cfg.BaseURL+"/login"),
		chromedp.WaitVisible(s.cfg.LoginEmailSelector, chromedp.ByQuery),
		chromedp.SendKeys(s.cfg.LoginEmailSelector, s.cfg.Email, chromedp.ByQuery),
		chromedp.SendKeys(s.cfg.LoginPasswordSelector, s.cfg.Password, chromedp.ByQuery),
		chromedp.Click(s.cfg.LoginSubmitSelector, chromedp.ByQuery),
		chromedp.WaitVisible(s.cfg.CanvasSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("login to %s: %w", s.cfg.BaseURL, err)
	}
	return nil
}

// OpenProject navigates to a project's review canvas.
func (s *Session) OpenProject(projectID string) error {
	err := s.run(
		chromedp.Navigate(s.cfg.BaseURL+"/projects/"+projectID),
		chromedp.WaitVisible(s.cfg.CanvasSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("open project %s: %w", projectID, err)
	}
	return nil
}

// sidebarThread is the JSON shape produced by the sidebar scrape script.
type sidebarThread struct {
	Name     string `json:"name"`
	Comments []struct {
		ID          string   `json:"id"`
		Pin         int      `json:"pin"`
		Author      string   `json:"author"`
		Body        string   `json:"body"`
		Attachments []string `json:"attachments"`
	} `json:"comments"`
}

// ExtractSidebar scrapes the comment sidebar into an ordered, immutable
// thread snapshot. The ordering is the sidebar's own top-to-bottom order.
func (s *Session) ExtractSidebar() ([]matcher.ThreadDescriptor, error) {
	script := fmt.Sprintf(`(() => {
		const threads = [];
		document.querySelectorAll(%q).forEach(el => {
			const comments = [];
			el.querySelectorAll('[data-comment-id]').forEach(c => {
				comments.push({
					id: c.getAttribute('data-comment-id') || '',
					pin: parseInt(c.getAttribute('data-pin') || '0', 10),
					author: (c.querySelector('.author')?.textContent || '').trim(),
					body: (c.querySelector('.body')?.textContent || '').trim(),
					attachments: Array.from(c.querySelectorAll('a[data-attachment]')).map(a => a.href),
				});
			});
			threads.push({
				name: (el.querySelector('.thread-name')?.textContent || '').trim(),
				comments: comments,
			});
		});
		return threads;
	})()`, s.cfg.SidebarThreadSelector)

	var raw []sidebarThread
	err := s.run(
		chromedp.WaitVisible(s.cfg.SidebarThreadSelector, chromedp.ByQuery),
		chromedp.Evaluate(script, &raw),
	)
	if err != nil {
		return nil, fmt.Errorf("extract sidebar: %w", err)
	}

	threads := make([]matcher.ThreadDescriptor, 0, len(raw))
	for _, t := range raw {
		descriptor := matcher.ThreadDescriptor{Name: t.Name}
		for i, c := range t.Comments {
			descriptor.PinComments = append(descriptor.PinComments, matcher.PinComment{
				ID:             c.ID,
				Index:          i,
				PinNumber:      c.Pin,
				Author:         c.Author,
				Body:           c.Body,
				AttachmentURLs: c.Attachments,
			})
		}
		threads = append(threads, descriptor)
	}
	return threads, nil
}

// OpenViewer opens the full-screen screenshot viewer at its first image and
// returns the page driver for it.
func (s *Session) OpenViewer() (*Viewer, error) {
	err := s.run(
		chromedp.Click(s.cfg.ViewerOpenSelector, chromedp.ByQuery),
		chromedp.WaitVisible(s.cfg.ViewerTitleSelector, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("open viewer: %w", err)
	}
	return &Viewer{session: s}, nil
}

// CaptureCurrentImage screenshots the image the viewer currently displays.
func (s *Session) CaptureCurrentImage() ([]byte, error) {
	var buf []byte
	err := s.run(
		chromedp.Screenshot(s.cfg.ViewerImageSelector, &buf, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("capture viewer image: %w", err)
	}
	return buf, nil
}

func trimName(name string) string {
	return strings.TrimSpace(name)
}
