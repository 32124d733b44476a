package extract

import (
	"context"

	"redline/internal/matcher"
)

// captureDriver wraps the viewer driver and screenshots each image the first
// time it is read, keyed by viewer position. Capture failures are silent;
// a thread row without an image path is still a valid match.
type captureDriver struct {
	inner   matcher.PageDriver
	capture func() ([]byte, error)
	index   int
	taken   map[int][]byte
}

func (d *captureDriver) ReadCurrentImageName(ctx context.Context) (string, error) {
	name, err := d.inner.ReadCurrentImageName(ctx)
	if err != nil {
		return name, err
	}
	if _, ok := d.taken[d.index]; !ok {
		if data, cerr := d.capture(); cerr == nil {
			d.taken[d.index] = data
		}
	}
	return name, nil
}

func (d *captureDriver) AdvanceToNext(ctx context.Context) error {
	if err := d.inner.AdvanceToNext(ctx); err != nil {
		return err
	}
	d.index++
	return nil
}
