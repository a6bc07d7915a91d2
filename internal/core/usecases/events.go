package usecases

import (
	"context"
	"log/slog"
	"time"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/core/ports"
)

// publishLookup reports a finished lookup. A nil publisher is allowed and
// publish failures never change the caller's result.
func publishLookup(ctx context.Context, events ports.EventPublisher, kind, outcome string, start time.Time, results int) {
	if events == nil {
		return
	}
	event := domain.LookupEvent{
		Kind:       kind,
		Outcome:    outcome,
		DurationMS: time.Since(start).Milliseconds(),
		Results:    results,
		At:         time.Now().UTC(),
	}
	if err := events.PublishLookup(ctx, event); err != nil {
		slog.Warn("publish lookup event failed", "kind", kind, "error", err)
	}
}

// outcomeOf maps a usecase error onto a lookup outcome.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return domain.OutcomeOK
	case isNotFound(err):
		return domain.OutcomeNotFound
	default:
		return domain.OutcomeFailed
	}
}
