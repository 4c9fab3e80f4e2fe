package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orbas1/gigvora-automatch/internal/observability"
	"github.com/orbas1/gigvora-automatch/internal/state"
)

const sweeperActor = "system/sweeper"

// SweepExpired expires every notified entry whose offer window closed
// before now and advances each affected queue. Entries resolved by a
// concurrent response between the scan and the sweep are skipped.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.sweep_expired")
	defer span.End()

	stale, err := e.store.ListExpiredNotifiedEntries(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, entry := range stale {
		_, err := e.ResolveEntry(ctx, entry.ID, state.EntryExpired, ResolutionContext{
			ActorID:     sweeperActor,
			ReasonCode:  "offer_ttl_expired",
			ReasonLabel: "Offer expired before a response arrived",
		})
		if err != nil {
			if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
				continue
			}
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		observability.Default.IncCounter("automatch_entries_expired_total", nil, float64(expired))
	}
	span.SetAttributes(attribute.Int("expired", expired))
	return expired, nil
}
