package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu          sync.Mutex
	builds      map[string]QueueBuildRecord
	entries     map[string]QueueEntryRecord
	byWorkItem  map[string][]string
	metrics     map[string]WorkerMetricRecord
	prefs       map[string]WorkerPreferenceRecord
	events      []AssignmentEventRecord
	nextEventID int64

	lockMu    sync.Mutex
	itemLocks map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		builds:      make(map[string]QueueBuildRecord),
		entries:     make(map[string]QueueEntryRecord),
		byWorkItem:  make(map[string][]string),
		metrics:     make(map[string]WorkerMetricRecord),
		prefs:       make(map[string]WorkerPreferenceRecord),
		events:      make([]AssignmentEventRecord, 0, 128),
		nextEventID: 1,
		itemLocks:   make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) CreateBuildWithEntries(_ context.Context, build QueueBuildRecord, entries []QueueEntryRecord, event AssignmentEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if build.CreatedAt.IsZero() {
		build.CreatedAt = now
	}
	build.UpdatedAt = now
	if _, exists := m.builds[build.ID]; exists {
		return fmt.Errorf("build %s already exists", build.ID)
	}
	m.builds[build.ID] = build
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		m.entries[e.ID] = e
		m.byWorkItem[e.WorkItemID] = append(m.byWorkItem[e.WorkItemID], e.ID)
	}
	m.appendEventLocked(event)
	return nil
}

func (m *MemoryStore) GetBuild(_ context.Context, buildID string) (QueueBuildRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[buildID]
	return b, ok, nil
}

func (m *MemoryStore) GetLatestBuildByWorkItem(_ context.Context, workItemID string) (QueueBuildRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest QueueBuildRecord
	found := false
	for _, b := range m.builds {
		if b.WorkItemID != workItemID {
			continue
		}
		if !found || b.Generation > latest.Generation {
			latest = b
			found = true
		}
	}
	return latest, found, nil
}

func (m *MemoryStore) GetEntry(_ context.Context, entryID string) (QueueEntryRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	return e, ok, nil
}

func (m *MemoryStore) ListEntriesByWorkItem(_ context.Context, workItemID string) ([]QueueEntryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listByWorkItemLocked(workItemID), nil
}

func (m *MemoryStore) listByWorkItemLocked(workItemID string) []QueueEntryRecord {
	ids := m.byWorkItem[workItemID]
	out := make([]QueueEntryRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.entries[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Rank < out[j].Rank
	})
	return out
}

func (m *MemoryStore) ListEntriesByWorker(_ context.Context, workerID string, statuses []string, offset, limit int) ([]QueueEntryRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := statusSet(statuses)
	filtered := make([]QueueEntryRecord, 0, 16)
	for _, e := range m.entries {
		if e.WorkerID != workerID {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[e.Status]; !ok {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	// Newest first for the worker-facing endpoint.
	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		}
		return filtered[i].ID > filtered[j].ID
	})
	total := len(filtered)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	page := filtered[offset:]
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}
	out := make([]QueueEntryRecord, len(page))
	copy(out, page)
	return out, total, nil
}

func (m *MemoryStore) CountEntriesByWorkerStatus(_ context.Context, workerID string, statuses []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := statusSet(statuses)
	n := 0
	for _, e := range m.entries {
		if e.WorkerID != workerID {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[e.Status]; !ok {
				continue
			}
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) ListExpiredNotifiedEntries(_ context.Context, now time.Time) ([]QueueEntryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueEntryRecord, 0)
	for _, e := range m.entries {
		if e.Status != EntryNotified {
			continue
		}
		if e.ExpiresAt.IsZero() || !e.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *MemoryStore) GetMetric(_ context.Context, workerID string) (WorkerMetricRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.metrics[workerID]
	return rec, ok, nil
}

func (m *MemoryStore) UpsertMetric(_ context.Context, metric WorkerMetricRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric.UpdatedAt = time.Now().UTC()
	m.metrics[metric.WorkerID] = metric
	return nil
}

func (m *MemoryStore) GetPreference(_ context.Context, workerID string) (WorkerPreferenceRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[workerID]
	return p, ok, nil
}

func (m *MemoryStore) UpsertPreference(_ context.Context, pref WorkerPreferenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.prefs[pref.WorkerID]; ok {
		pref.CreatedAt = existing.CreatedAt
	} else if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now
	m.prefs[pref.WorkerID] = pref
	return nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, event AssignmentEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEventLocked(event)
	return nil
}

func (m *MemoryStore) appendEventLocked(event AssignmentEventRecord) {
	if event.EventType == "" {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(m.events) > 0 {
		event.PrevHash = m.events[len(m.events)-1].EventHash
	}
	event.EventHash = computeEventHash(event)
	event.ID = m.nextEventID
	m.nextEventID++
	m.events = append(m.events, event)
}

func (m *MemoryStore) ListEvents(_ context.Context, query EventQuery) ([]AssignmentEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := query.Limit
	offset := query.Offset
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	filtered := make([]AssignmentEventRecord, 0, len(m.events))
	for _, e := range m.events {
		if query.EventType != "" && e.EventType != query.EventType {
			continue
		}
		if query.Actor != "" && e.Actor != query.Actor {
			continue
		}
		if query.WorkerID != "" && e.WorkerID != query.WorkerID {
			continue
		}
		if query.WorkItemID != "" && e.WorkItemID != query.WorkItemID {
			continue
		}
		if !query.From.IsZero() && e.CreatedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && e.CreatedAt.After(query.To) {
			continue
		}
		filtered = append(filtered, e)
	}
	// Newest first before paging, matching the SQL store's ORDER BY id
	// DESC LIMIT/OFFSET.
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}
	if offset > len(filtered) {
		offset = len(filtered)
	}
	items := filtered[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	out := make([]AssignmentEventRecord, len(items))
	copy(out, items)
	return out, nil
}

func (m *MemoryStore) InWorkItemTx(ctx context.Context, workItemID string, fn func(ctx context.Context, tx Tx) error) error {
	lock := m.lockForWorkItem(workItemID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memoryTx{
		store:   m,
		entries: make(map[string]QueueEntryRecord),
		builds:  make(map[string]QueueBuildRecord),
		metrics: make(map[string]WorkerMetricRecord),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) lockForWorkItem(workItemID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.itemLocks[workItemID]
	if !ok {
		lock = &sync.Mutex{}
		m.itemLocks[workItemID] = lock
	}
	return lock
}

// memoryTx stages writes so a failed resolution leaves the store
// untouched, mirroring the rollback semantics of the SQL store.
type memoryTx struct {
	store   *MemoryStore
	entries map[string]QueueEntryRecord
	builds  map[string]QueueBuildRecord
	metrics map[string]WorkerMetricRecord
	events  []AssignmentEventRecord
}

func (t *memoryTx) GetEntry(ctx context.Context, entryID string) (QueueEntryRecord, bool, error) {
	if e, ok := t.entries[entryID]; ok {
		return e, true, nil
	}
	return t.store.GetEntry(ctx, entryID)
}

func (t *memoryTx) ListEntriesByWorkItem(ctx context.Context, workItemID string) ([]QueueEntryRecord, error) {
	base, err := t.store.ListEntriesByWorkItem(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(base))
	for i, e := range base {
		seen[e.ID] = struct{}{}
		if staged, ok := t.entries[e.ID]; ok {
			base[i] = staged
		}
	}
	for _, staged := range t.entries {
		if staged.WorkItemID != workItemID {
			continue
		}
		if _, ok := seen[staged.ID]; ok {
			continue
		}
		base = append(base, staged)
	}
	sort.Slice(base, func(i, j int) bool {
		if !base[i].CreatedAt.Equal(base[j].CreatedAt) {
			return base[i].CreatedAt.Before(base[j].CreatedAt)
		}
		return base[i].Rank < base[j].Rank
	})
	return base, nil
}

func (t *memoryTx) UpdateEntry(_ context.Context, entry QueueEntryRecord) error {
	if _, staged := t.entries[entry.ID]; !staged {
		t.store.mu.Lock()
		_, exists := t.store.entries[entry.ID]
		t.store.mu.Unlock()
		if !exists {
			return fmt.Errorf("entry %s not found", entry.ID)
		}
	}
	t.entries[entry.ID] = entry
	return nil
}

func (t *memoryTx) CreateBuildWithEntries(_ context.Context, build QueueBuildRecord, entries []QueueEntryRecord, event AssignmentEventRecord) error {
	if _, ok := t.builds[build.ID]; ok {
		return fmt.Errorf("build %s already exists", build.ID)
	}
	t.store.mu.Lock()
	_, exists := t.store.builds[build.ID]
	t.store.mu.Unlock()
	if exists {
		return fmt.Errorf("build %s already exists", build.ID)
	}
	t.builds[build.ID] = build
	for _, e := range entries {
		t.entries[e.ID] = e
	}
	t.events = append(t.events, event)
	return nil
}

func (t *memoryTx) GetBuild(ctx context.Context, buildID string) (QueueBuildRecord, bool, error) {
	if b, ok := t.builds[buildID]; ok {
		return b, true, nil
	}
	return t.store.GetBuild(ctx, buildID)
}

func (t *memoryTx) GetLatestBuildByWorkItem(ctx context.Context, workItemID string) (QueueBuildRecord, bool, error) {
	latest, found, err := t.store.GetLatestBuildByWorkItem(ctx, workItemID)
	if err != nil {
		return QueueBuildRecord{}, false, err
	}
	for _, b := range t.builds {
		if b.WorkItemID != workItemID {
			continue
		}
		if !found || b.Generation > latest.Generation {
			latest = b
			found = true
		}
	}
	return latest, found, nil
}

func (t *memoryTx) UpdateBuild(_ context.Context, build QueueBuildRecord) error {
	if _, staged := t.builds[build.ID]; !staged {
		t.store.mu.Lock()
		_, exists := t.store.builds[build.ID]
		t.store.mu.Unlock()
		if !exists {
			return fmt.Errorf("build %s not found", build.ID)
		}
	}
	t.builds[build.ID] = build
	return nil
}

func (t *memoryTx) GetMetric(ctx context.Context, workerID string) (WorkerMetricRecord, bool, error) {
	if m, ok := t.metrics[workerID]; ok {
		return m, true, nil
	}
	return t.store.GetMetric(ctx, workerID)
}

func (t *memoryTx) UpsertMetric(_ context.Context, metric WorkerMetricRecord) error {
	t.metrics[metric.WorkerID] = metric
	return nil
}

func (t *memoryTx) AppendEvent(_ context.Context, event AssignmentEventRecord) error {
	t.events = append(t.events, event)
	return nil
}

func (t *memoryTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	now := time.Now().UTC()
	for id, e := range t.entries {
		if _, existed := t.store.entries[id]; !existed {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			t.store.byWorkItem[e.WorkItemID] = append(t.store.byWorkItem[e.WorkItemID], id)
		}
		e.UpdatedAt = now
		t.store.entries[id] = e
	}
	for id, b := range t.builds {
		if _, existed := t.store.builds[id]; !existed && b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		b.UpdatedAt = now
		t.store.builds[id] = b
	}
	for id, m := range t.metrics {
		m.UpdatedAt = now
		t.store.metrics[id] = m
	}
	for _, ev := range t.events {
		t.store.appendEventLocked(ev)
	}
}

func statusSet(statuses []string) map[string]struct{} {
	if len(statuses) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func computeEventHash(event AssignmentEventRecord) string {
	payload := map[string]any{
		"event_type":   event.EventType,
		"actor":        event.Actor,
		"worker_id":    event.WorkerID,
		"work_item_id": event.WorkItemID,
		"entry_id":     event.EntryID,
		"prev_hash":    event.PrevHash,
		"details":      event.Details,
		"created_at":   event.CreatedAt.UnixNano(),
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
