package extract

import (
	"context"
	"log"

	"redline/internal/matcher"
	"redline/internal/store"
)

// storeSink persists matcher failure events to the error log.
type storeSink struct {
	store     Store
	projectID string
	logger    *log.Logger
}

func (s *storeSink) Report(ctx context.Context, event matcher.Event) {
	row := store.ErrorEvent{
		Operation: event.Op,
		ProjectID: s.projectID,
		Matched:   event.Matched,
		Unmatched: event.Unmatched,
		Attempts:  event.Attempts,
		Limit:     event.Limit,
		Detail:    event.Detail,
	}
	if err := s.store.InsertErrorEvent(detached(ctx), row); err != nil {
		s.logger.Printf("record %s event: %v", event.Op, err)
	}
}
