package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orbas1/gigvora-automatch/internal/observability"
	"github.com/orbas1/gigvora-automatch/internal/state"
)

// ResolutionContext carries who resolved an entry and the optional
// marketplace feedback attached to the response.
type ResolutionContext struct {
	ActorID         string
	Rating          float64
	CompletionValue float64
	ReasonCode      string
	ReasonLabel     string
	Notes           string
	Metadata        map[string]string
}

// ResolveEntry moves a notified entry to a terminal status under the
// work item's lock. Acceptance fences out every sibling; decline,
// expire and forced reassignment advance the queue to the next pending
// entry. A replay of the same resolution by the same actor returns the
// stored entry without emitting anything.
//
// On failure the returned entry is the current authoritative record so
// callers can surface real state instead of their stale view.
func (e *Engine) ResolveEntry(ctx context.Context, entryID, target string, rctx ResolutionContext) (state.QueueEntryRecord, error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.resolve_entry",
		attribute.String("entry.id", entryID),
		attribute.String("target", target),
	)
	defer span.End()

	if strings.TrimSpace(entryID) == "" {
		return state.QueueEntryRecord{}, fmt.Errorf("%w: entry id is required", ErrValidation)
	}
	if strings.TrimSpace(rctx.ActorID) == "" {
		return state.QueueEntryRecord{}, fmt.Errorf("%w: actor id is required", ErrValidation)
	}
	if !IsTerminalStatus(target) {
		return state.QueueEntryRecord{}, fmt.Errorf("%w: %q is not a terminal status", ErrValidation, target)
	}

	pre, ok, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return state.QueueEntryRecord{}, err
	}
	if !ok {
		return state.QueueEntryRecord{}, fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}

	var (
		result    state.QueueEntryRecord
		toNotify  *state.QueueEntryRecord
		exhausted bool
		replayed  bool
	)
	err = e.store.InWorkItemTx(ctx, pre.WorkItemID, func(ctx context.Context, tx state.Tx) error {
		entry, ok, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
		}
		result = entry

		if IsTerminalStatus(entry.Status) {
			if entry.Status == target && entry.ResolvedBy == rctx.ActorID {
				replayed = true
				return nil
			}
			return fmt.Errorf("%w: entry %s is already %s", ErrAlreadyResolved, entry.ID, entry.Status)
		}
		if !canTransition(entry.Status, target) {
			return fmt.Errorf("%w: cannot move entry from %s to %s", ErrValidation, entry.Status, target)
		}

		now := time.Now().UTC()
		if target == state.EntryAccepted {
			siblings, err := tx.ListEntriesByWorkItem(ctx, entry.WorkItemID)
			if err != nil {
				return err
			}
			for _, sib := range siblings {
				if sib.ID != entry.ID && sib.Status == state.EntryAccepted {
					return fmt.Errorf("%w: entry %s already accepted for work item %s", ErrConflictingAssignment, sib.ID, entry.WorkItemID)
				}
			}
			applyResolution(&entry, target, rctx, now)
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return err
			}
			for _, sib := range siblings {
				if sib.ID == entry.ID || IsTerminalStatus(sib.Status) {
					continue
				}
				sib.Status = state.EntryReassigned
				sib.ResolvedAt = now
				sib.ResolvedBy = systemActor
				sib.ReasonCode = "sibling_accepted"
				sib.ReasonLabel = "Another worker accepted this work item"
				if err := tx.UpdateEntry(ctx, sib); err != nil {
					return err
				}
				if err := tx.AppendEvent(ctx, state.AssignmentEventRecord{
					EventType:  state.EventEntryReassigned,
					Actor:      systemActor,
					WorkerID:   sib.WorkerID,
					WorkItemID: sib.WorkItemID,
					EntryID:    sib.ID,
					Details:    fmt.Sprintf("accepted_entry=%s", entry.ID),
				}); err != nil {
					return err
				}
			}
			if err := e.applyAcceptMetrics(ctx, tx, entry, rctx, now); err != nil {
				return err
			}
		} else {
			applyResolution(&entry, target, rctx, now)
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return err
			}
			next, done, err := e.advanceLocked(ctx, tx, entry.WorkItemID, entry.BuildID)
			if err != nil {
				return err
			}
			toNotify = next
			exhausted = done
		}

		if err := tx.AppendEvent(ctx, state.AssignmentEventRecord{
			EventType:  state.EventEntryResolved,
			Actor:      rctx.ActorID,
			WorkerID:   entry.WorkerID,
			WorkItemID: entry.WorkItemID,
			EntryID:    entry.ID,
			Details:    fmt.Sprintf("status=%s reason=%s", target, rctx.ReasonCode),
		}); err != nil {
			return err
		}
		result = entry
		return nil
	})
	if err != nil {
		return result, err
	}

	if replayed {
		return result, nil
	}
	observability.Default.IncCounter("automatch_resolutions_total", map[string]string{"status": target}, 1)
	if toNotify != nil {
		e.handoffOffer(ctx, *toNotify)
	}
	if exhausted {
		if nerr := e.notifier.QueueExhausted(ctx, result.WorkItemID); nerr != nil {
			observability.Default.IncCounter("automatch_notify_errors_total", nil, 1)
		}
	}
	return result, nil
}

func applyResolution(entry *state.QueueEntryRecord, target string, rctx ResolutionContext, now time.Time) {
	entry.Status = target
	entry.ResolvedAt = now
	entry.ResolvedBy = rctx.ActorID
	entry.ReasonCode = rctx.ReasonCode
	entry.ReasonLabel = rctx.ReasonLabel
	entry.Notes = rctx.Notes
	if len(rctx.Metadata) > 0 {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]string, len(rctx.Metadata))
		}
		for k, v := range rctx.Metadata {
			entry.Metadata[k] = v
		}
	}
}

// applyAcceptMetrics folds the acceptance into the worker's rolling
// statistics so the next build ranks them on fresh data.
func (e *Engine) applyAcceptMetrics(ctx context.Context, tx state.Tx, entry state.QueueEntryRecord, rctx ResolutionContext, now time.Time) error {
	value := 0.0
	if build, ok, err := tx.GetBuild(ctx, entry.BuildID); err != nil {
		return err
	} else if ok {
		value = build.WorkItemValue
	}

	metric, ok, err := tx.GetMetric(ctx, entry.WorkerID)
	if err != nil {
		return err
	}
	if !ok {
		metric = state.WorkerMetricRecord{WorkerID: entry.WorkerID, TenureStart: now}
	}
	if value > 0 {
		metric.AvgAssignedValue = (metric.AvgAssignedValue*float64(metric.TotalAssigned) + value) / float64(metric.TotalAssigned+1)
	}
	metric.TotalAssigned++
	metric.LastAssignedAt = now
	if rctx.CompletionValue > 0 {
		metric.TotalCompleted++
		metric.LastCompletedAt = now
	}
	if metric.TotalAssigned > 0 {
		metric.CompletionRate = float64(metric.TotalCompleted) / float64(metric.TotalAssigned)
	}
	if rctx.Rating > 0 {
		if metric.Rating <= 0 {
			metric.Rating = rctx.Rating
		} else {
			metric.Rating = (metric.Rating*3 + rctx.Rating) / 4
		}
	}
	metric.UpdatedAt = now
	return tx.UpsertMetric(ctx, metric)
}
