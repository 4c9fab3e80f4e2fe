package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orbas1/gigvora-automatch/internal/guardrail"
	"github.com/orbas1/gigvora-automatch/internal/notify"
	"github.com/orbas1/gigvora-automatch/internal/observability"
	"github.com/orbas1/gigvora-automatch/internal/scoring"
	"github.com/orbas1/gigvora-automatch/internal/state"
)

const systemActor = "system/dispatcher"

type Options struct {
	// OfferTTL bounds how long a notified entry may sit unanswered
	// before the sweep expires it.
	OfferTTL time.Duration
	// MaxCandidates caps how many candidates a single build ranks.
	// Zero means unbounded.
	MaxCandidates int
	Scorer        *scoring.Engine
	Guardrails    *guardrail.Engine
	Notifier      notify.Notifier
}

// WorkItemRef is the marketplace's read-only view of an open work item.
type WorkItemRef struct {
	ID        string
	Value     float64
	Category  string
	CreatedAt time.Time
}

type SkippedCandidate struct {
	WorkerID   string
	ReasonCode string
}

type BuildResult struct {
	Build    state.QueueBuildRecord
	Entries  []state.QueueEntryRecord
	Skipped  []SkippedCandidate
	Notified *state.QueueEntryRecord
}

type Engine struct {
	store      state.Store
	scorer     *scoring.Engine
	guardrails *guardrail.Engine
	notifier   notify.Notifier
	offerTTL   time.Duration
	maxRanked  int
}

func NewEngine(store state.Store, opts Options) *Engine {
	ttl := opts.OfferTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = scoring.NewEngine(scoring.Options{})
	}
	guardrails := opts.Guardrails
	if guardrails == nil {
		guardrails = guardrail.NewAllowAll()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Engine{
		store:      store,
		scorer:     scorer,
		guardrails: guardrails,
		notifier:   notifier,
		offerTTL:   ttl,
		maxRanked:  opts.MaxCandidates,
	}
}

func NewInMemoryEngine() *Engine {
	return NewEngine(state.NewMemoryStore(), Options{Notifier: notify.NewMemoryNotifier()})
}

func (e *Engine) Store() state.Store {
	return e.store
}

type rankedCandidate struct {
	workerID string
	result   scoring.Result
}

// BuildQueue ranks the eligible candidates for an open work item and
// persists the ordered offer queue. Repeated builds with identical
// metrics and preferences produce identical orderings.
func (e *Engine) BuildQueue(ctx context.Context, item WorkItemRef, candidates []string) (*BuildResult, error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.build_queue",
		attribute.String("work_item.id", item.ID),
		attribute.Int("candidates", len(candidates)),
	)
	defer span.End()

	if strings.TrimSpace(item.ID) == "" {
		return nil, fmt.Errorf("%w: work item id is required", ErrValidation)
	}
	if item.Value <= 0 {
		return nil, fmt.Errorf("%w: work item value must be positive", ErrValidation)
	}

	// Provisional generation for failed-build records only; the real
	// build recomputes it under the work item lock.
	prior, hasPrior, err := e.store.GetLatestBuildByWorkItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	generation := 1
	if hasPrior {
		generation = prior.Generation + 1
	}

	now := time.Now().UTC()
	ranked := make([]rankedCandidate, 0, len(candidates))
	skipped := make([]SkippedCandidate, 0)
	seen := make(map[string]struct{}, len(candidates))
	for _, workerID := range candidates {
		workerID = strings.TrimSpace(workerID)
		if workerID == "" {
			continue
		}
		if _, dup := seen[workerID]; dup {
			continue
		}
		seen[workerID] = struct{}{}

		pref, hasPref, err := e.store.GetPreference(ctx, workerID)
		if err != nil {
			return nil, err
		}
		active, err := e.store.CountEntriesByWorkerStatus(ctx, workerID, []string{state.EntryNotified, state.EntryAccepted})
		if err != nil {
			return nil, err
		}
		decision := e.guardrails.EvaluateCandidate(guardrail.CandidateInput{
			WorkerID:           workerID,
			HasPreference:      hasPref,
			Enabled:            pref.Enabled,
			MinBudget:          pref.MinBudget,
			MaxBudget:          pref.MaxBudget,
			ConcurrencyCap:     pref.ConcurrencyCap,
			ExcludedCategories: pref.ExcludedCategories,
			ActiveEntries:      active,
			ItemValue:          item.Value,
			ItemCategory:       item.Category,
		})
		if !decision.Allowed {
			skipped = append(skipped, SkippedCandidate{WorkerID: workerID, ReasonCode: decision.ReasonCode})
			continue
		}

		metric, _, err := e.store.GetMetric(ctx, workerID)
		if err != nil {
			return nil, err
		}
		result, err := e.scorer.Score(scoring.Metric{
			LastAssignedAt:   metric.LastAssignedAt,
			LastCompletedAt:  metric.LastCompletedAt,
			TotalAssigned:    metric.TotalAssigned,
			TotalCompleted:   metric.TotalCompleted,
			Rating:           metric.Rating,
			CompletionRate:   metric.CompletionRate,
			AvgAssignedValue: metric.AvgAssignedValue,
		}, item.Value, metric.TenureStart, now)
		if err != nil {
			return nil, e.failBuild(ctx, item, generation, fmt.Errorf("score worker %s: %w", workerID, err))
		}
		ranked = append(ranked, rankedCandidate{workerID: workerID, result: result})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].result.Score != ranked[j].result.Score {
			return ranked[i].result.Score > ranked[j].result.Score
		}
		if ranked[i].result.Confidence != ranked[j].result.Confidence {
			return ranked[i].result.Confidence > ranked[j].result.Confidence
		}
		return ranked[i].workerID < ranked[j].workerID
	})
	if e.maxRanked > 0 && len(ranked) > e.maxRanked {
		ranked = ranked[:e.maxRanked]
	}

	build := state.QueueBuildRecord{
		ID:            uuid.NewString(),
		WorkItemID:    item.ID,
		WorkItemValue: item.Value,
		Category:      item.Category,
		EntryCount:    len(ranked),
		CreatedAt:     now,
	}
	entries := make([]state.QueueEntryRecord, 0, len(ranked))
	for i, c := range ranked {
		entries = append(entries, state.QueueEntryRecord{
			ID:         uuid.NewString(),
			BuildID:    build.ID,
			WorkItemID: item.ID,
			WorkerID:   c.workerID,
			Rank:       i + 1,
			Score:      c.result.Score,
			Confidence: c.result.Confidence,
			Status:     state.EntryPending,
			Metadata: map[string]string{
				"priorityBucket": fmt.Sprintf("%d", c.result.PriorityBucket),
			},
			CreatedAt: now,
		})
	}

	// The active-queue check, build creation, and rank-1 promotion all
	// run under the work item lock: two concurrent builds for the same
	// item cannot both persist. Offers are handed off after commit.
	var notified *state.QueueEntryRecord
	err = e.store.InWorkItemTx(ctx, item.ID, func(ctx context.Context, tx state.Tx) error {
		existing, err := tx.ListEntriesByWorkItem(ctx, item.ID)
		if err != nil {
			return err
		}
		for _, entry := range existing {
			switch entry.Status {
			case state.EntryPending, state.EntryNotified, state.EntryAccepted:
				return fmt.Errorf("%w: entry %s is %s", ErrActiveQueueExists, entry.ID, entry.Status)
			}
		}
		latest, hasLatest, err := tx.GetLatestBuildByWorkItem(ctx, item.ID)
		if err != nil {
			return err
		}
		build.Generation = 1
		if hasLatest {
			build.Generation = latest.Generation + 1
		}

		if len(entries) == 0 {
			build.Status = state.BuildExhausted
			build.Message = "no eligible candidates"
			return tx.CreateBuildWithEntries(ctx, build, nil, state.AssignmentEventRecord{
				EventType:  state.EventQueueExhausted,
				Actor:      systemActor,
				WorkItemID: item.ID,
				Details:    fmt.Sprintf("build_id=%s generation=%d candidates=%d skipped=%d", build.ID, build.Generation, len(candidates), len(skipped)),
			})
		}

		build.Status = state.BuildGenerated
		eventType := state.EventQueueGenerated
		if hasLatest {
			build.Status = state.BuildRegenerated
			eventType = state.EventQueueRegenerated
		}
		if err := tx.CreateBuildWithEntries(ctx, build, entries, state.AssignmentEventRecord{
			EventType:  eventType,
			Actor:      systemActor,
			WorkItemID: item.ID,
			Details:    fmt.Sprintf("build_id=%s generation=%d entries=%d skipped=%d", build.ID, build.Generation, len(entries), len(skipped)),
		}); err != nil {
			return err
		}
		promoted, _, err := e.advanceLocked(ctx, tx, item.ID, build.ID)
		if err != nil {
			return err
		}
		notified = promoted
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.Default.IncCounter("automatch_builds_total", map[string]string{"status": build.Status}, 1)
	if build.Status == state.BuildExhausted {
		if err := e.notifier.QueueExhausted(ctx, item.ID); err != nil {
			observability.Default.IncCounter("automatch_notify_errors_total", nil, 1)
		}
		return &BuildResult{Build: build, Skipped: skipped}, nil
	}
	if notified != nil {
		e.handoffOffer(ctx, *notified)
		for i := range entries {
			if entries[i].ID == notified.ID {
				entries[i] = *notified
			}
		}
	}
	span.SetAttributes(attribute.Int("entries", len(entries)), attribute.Int("skipped", len(skipped)))
	return &BuildResult{Build: build, Entries: entries, Skipped: skipped, Notified: notified}, nil
}

// failBuild records a failed generation attempt. Nothing else from the
// attempt is persisted: a partial scoring error aborts the whole build.
func (e *Engine) failBuild(ctx context.Context, item WorkItemRef, generation int, cause error) error {
	build := state.QueueBuildRecord{
		ID:            uuid.NewString(),
		WorkItemID:    item.ID,
		WorkItemValue: item.Value,
		Category:      item.Category,
		Status:        state.BuildFailed,
		Generation:    generation,
		Message:       cause.Error(),
	}
	if err := e.store.CreateBuildWithEntries(ctx, build, nil, state.AssignmentEventRecord{
		EventType:  state.EventQueueFailed,
		Actor:      systemActor,
		WorkItemID: item.ID,
		Details:    fmt.Sprintf("build_id=%s generation=%d error=%s", build.ID, generation, cause.Error()),
	}); err != nil {
		return fmt.Errorf("record failed build: %v (build error: %w)", err, cause)
	}
	observability.Default.IncCounter("automatch_builds_total", map[string]string{"status": state.BuildFailed}, 1)
	return fmt.Errorf("queue build failed: %w", cause)
}

// advanceLocked promotes the next pending entry of the build to
// notified, or marks the build exhausted when none remain and no entry
// was accepted. Caller must hold the work item lock.
func (e *Engine) advanceLocked(ctx context.Context, tx state.Tx, workItemID, buildID string) (*state.QueueEntryRecord, bool, error) {
	entries, err := tx.ListEntriesByWorkItem(ctx, workItemID)
	if err != nil {
		return nil, false, err
	}
	var next *state.QueueEntryRecord
	for i := range entries {
		entry := entries[i]
		if entry.BuildID != buildID {
			continue
		}
		if entry.Status == state.EntryAccepted || entry.Status == state.EntryNotified {
			return nil, false, nil
		}
		if entry.Status != state.EntryPending {
			continue
		}
		if next == nil || entry.Rank < next.Rank {
			next = &entries[i]
		}
	}
	now := time.Now().UTC()
	if next == nil {
		build, ok, err := tx.GetBuild(ctx, buildID)
		if err != nil {
			return nil, false, err
		}
		if !ok || build.Status == state.BuildExhausted {
			return nil, false, nil
		}
		build.Status = state.BuildExhausted
		build.Message = "all entries resolved without acceptance"
		if err := tx.UpdateBuild(ctx, build); err != nil {
			return nil, false, err
		}
		if err := tx.AppendEvent(ctx, state.AssignmentEventRecord{
			EventType:  state.EventQueueExhausted,
			Actor:      systemActor,
			WorkItemID: workItemID,
			Details:    fmt.Sprintf("build_id=%s generation=%d", build.ID, build.Generation),
		}); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	next.Status = state.EntryNotified
	next.NotifiedAt = now
	next.ExpiresAt = now.Add(e.offerTTL)
	if err := tx.UpdateEntry(ctx, *next); err != nil {
		return nil, false, err
	}
	if err := tx.AppendEvent(ctx, state.AssignmentEventRecord{
		EventType:  state.EventEntryNotified,
		Actor:      systemActor,
		WorkerID:   next.WorkerID,
		WorkItemID: workItemID,
		EntryID:    next.ID,
		Details:    fmt.Sprintf("rank=%d expires_at=%s", next.Rank, next.ExpiresAt.Format(time.RFC3339)),
	}); err != nil {
		return nil, false, err
	}
	return next, false, nil
}

func (e *Engine) handoffOffer(ctx context.Context, entry state.QueueEntryRecord) {
	err := e.notifier.OfferNotified(ctx, notify.Offer{
		EntryID:    entry.ID,
		WorkItemID: entry.WorkItemID,
		WorkerID:   entry.WorkerID,
		Rank:       entry.Rank,
		ExpiresAt:  entry.ExpiresAt,
	})
	if err != nil {
		observability.Default.IncCounter("automatch_notify_errors_total", nil, 1)
	}
}

func (e *Engine) GetEntry(ctx context.Context, entryID string) (state.QueueEntryRecord, bool, error) {
	return e.store.GetEntry(ctx, entryID)
}

func (e *Engine) GetBuild(ctx context.Context, buildID string) (state.QueueBuildRecord, bool, error) {
	return e.store.GetBuild(ctx, buildID)
}

func (e *Engine) LatestBuild(ctx context.Context, workItemID string) (state.QueueBuildRecord, bool, error) {
	return e.store.GetLatestBuildByWorkItem(ctx, workItemID)
}

// ListMatches returns a page of the worker's queue entries filtered by
// status, newest first, along with the unpaged total.
func (e *Engine) ListMatches(ctx context.Context, workerID string, statuses []string, offset, limit int) ([]state.QueueEntryRecord, int, error) {
	for _, s := range statuses {
		if !IsValidStatus(s) {
			return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, s)
		}
	}
	return e.store.ListEntriesByWorker(ctx, workerID, statuses, offset, limit)
}

type Overview struct {
	WorkerID      string
	StatusCounts  map[string]int
	ActiveEntries []state.QueueEntryRecord
	Metric        *state.WorkerMetricRecord
	Preference    *state.WorkerPreferenceRecord
}

func (e *Engine) WorkerOverview(ctx context.Context, workerID string) (Overview, error) {
	entries, _, err := e.store.ListEntriesByWorker(ctx, workerID, nil, 0, 0)
	if err != nil {
		return Overview{}, err
	}
	counts := make(map[string]int, len(EntryStatuses))
	active := make([]state.QueueEntryRecord, 0, 4)
	for _, entry := range entries {
		counts[entry.Status]++
		switch entry.Status {
		case state.EntryPending, state.EntryNotified, state.EntryAccepted:
			active = append(active, entry)
		}
	}
	out := Overview{WorkerID: workerID, StatusCounts: counts, ActiveEntries: active}
	if metric, ok, err := e.store.GetMetric(ctx, workerID); err != nil {
		return Overview{}, err
	} else if ok {
		out.Metric = &metric
	}
	if pref, ok, err := e.store.GetPreference(ctx, workerID); err != nil {
		return Overview{}, err
	} else if ok {
		out.Preference = &pref
	}
	return out, nil
}

// UpsertWorkerMetric seeds or replaces a worker's rolling statistics.
// Used by the marketplace sync job and by operators backfilling data.
func (e *Engine) UpsertWorkerMetric(ctx context.Context, metric state.WorkerMetricRecord) error {
	if strings.TrimSpace(metric.WorkerID) == "" {
		return fmt.Errorf("%w: worker id is required", ErrValidation)
	}
	return e.store.UpsertMetric(ctx, metric)
}

func (e *Engine) ListEvents(ctx context.Context, query state.EventQuery) ([]state.AssignmentEventRecord, error) {
	return e.store.ListEvents(ctx, query)
}

func (e *Engine) AppendEvent(ctx context.Context, event state.AssignmentEventRecord) error {
	return e.store.AppendEvent(ctx, event)
}
