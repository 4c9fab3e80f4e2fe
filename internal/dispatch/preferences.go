package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orbas1/gigvora-automatch/internal/state"
)

// PreferencePatch carries the fields a preference update wants to
// change. Nil pointers leave the stored value untouched.
type PreferencePatch struct {
	Enabled            *bool
	MinBudget          *float64
	MaxBudget          *float64
	ConcurrencyCap     *int
	ExcludedCategories *[]string
}

func (e *Engine) GetPreference(ctx context.Context, workerID string) (state.WorkerPreferenceRecord, bool, error) {
	return e.store.GetPreference(ctx, workerID)
}

// UpdatePreference applies a partial update to the worker's automatch
// preferences, creating the record on first use. Toggling the enabled
// flag is recorded in the audit log.
func (e *Engine) UpdatePreference(ctx context.Context, workerID string, patch PreferencePatch, actor string) (state.WorkerPreferenceRecord, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return state.WorkerPreferenceRecord{}, fmt.Errorf("%w: worker id is required", ErrValidation)
	}
	if actor == "" {
		actor = workerID
	}

	now := time.Now().UTC()
	pref, existed, err := e.store.GetPreference(ctx, workerID)
	if err != nil {
		return state.WorkerPreferenceRecord{}, err
	}
	if !existed {
		pref = state.WorkerPreferenceRecord{
			WorkerID:  workerID,
			Enabled:   true,
			CreatedAt: now,
		}
	}
	wasEnabled := !existed || pref.Enabled

	if patch.Enabled != nil {
		pref.Enabled = *patch.Enabled
	}
	if patch.MinBudget != nil {
		if *patch.MinBudget < 0 {
			return pref, fmt.Errorf("%w: min budget cannot be negative", ErrValidation)
		}
		pref.MinBudget = *patch.MinBudget
	}
	if patch.MaxBudget != nil {
		if *patch.MaxBudget < 0 {
			return pref, fmt.Errorf("%w: max budget cannot be negative", ErrValidation)
		}
		pref.MaxBudget = *patch.MaxBudget
	}
	if pref.MinBudget > 0 && pref.MaxBudget > 0 && pref.MinBudget > pref.MaxBudget {
		return pref, fmt.Errorf("%w: min budget %.2f exceeds max budget %.2f", ErrValidation, pref.MinBudget, pref.MaxBudget)
	}
	if patch.ConcurrencyCap != nil {
		if *patch.ConcurrencyCap < 0 {
			return pref, fmt.Errorf("%w: concurrency cap cannot be negative", ErrValidation)
		}
		pref.ConcurrencyCap = *patch.ConcurrencyCap
	}
	if patch.ExcludedCategories != nil {
		cleaned := make([]string, 0, len(*patch.ExcludedCategories))
		for _, c := range *patch.ExcludedCategories {
			c = strings.TrimSpace(c)
			if c != "" {
				cleaned = append(cleaned, c)
			}
		}
		pref.ExcludedCategories = cleaned
	}
	pref.UpdatedBy = actor
	pref.UpdatedAt = now

	if err := e.store.UpsertPreference(ctx, pref); err != nil {
		return pref, err
	}
	if wasEnabled != pref.Enabled {
		eventType := state.EventAutoMatchDisabled
		if pref.Enabled {
			eventType = state.EventAutoMatchEnabled
		}
		if err := e.store.AppendEvent(ctx, state.AssignmentEventRecord{
			EventType: eventType,
			Actor:     actor,
			WorkerID:  workerID,
		}); err != nil {
			return pref, err
		}
	}
	return pref, nil
}
