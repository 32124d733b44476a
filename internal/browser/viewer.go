package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"redline/internal/matcher"
)

const (
	readTimeout    = 5 * time.Second
	advanceTimeout = 10 * time.Second
	advancePoll    = 250 * time.Millisecond
)

// Viewer adapts the tool's full-screen screenshot viewer to
// matcher.PageDriver. Navigation is forward-only; the viewer has no
// reliable back control and the matcher never needs one.
type Viewer struct {
	session *Session
}

// ReadCurrentImageName extracts the displayed image's title/filename text.
// A dead tab is fatal; a missing or empty title element is an ordinary
// failure the matcher skips past.
func (v *Viewer) ReadCurrentImageName(ctx context.Context) (string, error) {
	if err := v.session.ctx.Err(); err != nil {
		return "", matcher.Fatal(fmt.Errorf("browser session ended: %w", err))
	}

	runCtx, cancel := context.WithTimeout(v.session.ctx, readTimeout)
	defer cancel()

	var name string
	err := chromedp.Run(runCtx,
		chromedp.Text(v.session.cfg.ViewerTitleSelector, &name, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		if v.session.ctx.Err() != nil {
			return "", matcher.Fatal(fmt.Errorf("read image name: %w", err))
		}
		return "", fmt.Errorf("read image name: %w", err)
	}
	name = trimName(name)
	if name == "" {
		return "", fmt.Errorf("viewer title element is empty")
	}
	return name, nil
}

// AdvanceToNext clicks the next-image control and waits for the displayed
// name to change. An unchanged name after the timeout means the viewer has
// no further image.
func (v *Viewer) AdvanceToNext(ctx context.Context) error {
	if err := v.session.ctx.Err(); err != nil {
		return matcher.Fatal(fmt.Errorf("browser session ended: %w", err))
	}

	runCtx, cancel := context.WithTimeout(v.session.ctx, advanceTimeout)
	defer cancel()

	var before string
	_ = chromedp.Run(runCtx,
		chromedp.Text(v.session.cfg.ViewerTitleSelector, &before, chromedp.ByQuery),
	)
	before = trimName(before)

	if err := chromedp.Run(runCtx, chromedp.Click(v.session.cfg.ViewerNextSelector, chromedp.ByQuery)); err != nil {
		if v.session.ctx.Err() != nil {
			return matcher.Fatal(fmt.Errorf("click next: %w", err))
		}
		return fmt.Errorf("click next: %w", err)
	}

	// The viewer swaps images in place; poll the title until it differs
	// from the one we left.
	ticker := time.NewTicker(advancePoll)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			if v.session.ctx.Err() != nil {
				return matcher.Fatal(fmt.Errorf("advance: %w", v.session.ctx.Err()))
			}
			return matcher.ErrNoNextImage
		case <-ticker.C:
			var after string
			if err := chromedp.Run(runCtx,
				chromedp.Text(v.session.cfg.ViewerTitleSelector, &after, chromedp.ByQuery),
			); err != nil {
				continue
			}
			if after = trimName(after); after != "" && after != before {
				return nil
			}
		}
	}
}
