package state

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func seedBuild(t *testing.T, s *MemoryStore, workItemID string, workers ...string) ([]QueueEntryRecord, QueueBuildRecord) {
	t.Helper()
	build := QueueBuildRecord{
		ID:            "build-" + workItemID,
		WorkItemID:    workItemID,
		WorkItemValue: 100,
		Status:        BuildGenerated,
		Generation:    1,
		EntryCount:    len(workers),
	}
	entries := make([]QueueEntryRecord, 0, len(workers))
	for i, w := range workers {
		entries = append(entries, QueueEntryRecord{
			ID:         fmt.Sprintf("entry-%s-%d", workItemID, i+1),
			BuildID:    build.ID,
			WorkItemID: workItemID,
			WorkerID:   w,
			Rank:       i + 1,
			Status:     EntryPending,
		})
	}
	err := s.CreateBuildWithEntries(context.Background(), build, entries, AssignmentEventRecord{
		EventType:  EventQueueGenerated,
		Actor:      "system/dispatcher",
		WorkItemID: workItemID,
	})
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	return entries, build
}

func TestMemoryStoreEventHashChain(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.AppendEvent(ctx, AssignmentEventRecord{
			EventType: EventEntryResolved,
			Actor:     fmt.Sprintf("actor-%d", i),
			WorkerID:  "w-1",
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := s.ListEvents(ctx, EventQuery{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Newest first: events[2] is the chain head.
	if events[2].PrevHash != "" {
		t.Fatalf("first event must have empty prev hash, got %q", events[2].PrevHash)
	}
	for i := 2; i > 0; i-- {
		cur, next := events[i], events[i-1]
		if cur.EventHash == "" {
			t.Fatalf("event %d missing hash", cur.ID)
		}
		if next.PrevHash != cur.EventHash {
			t.Fatalf("chain broken between %d and %d", cur.ID, next.ID)
		}
		if got := computeEventHash(next); got != next.EventHash {
			t.Fatalf("stored hash does not recompute for event %d", next.ID)
		}
	}
}

func TestMemoryStoreTxRollbackDiscardsWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	entries, _ := seedBuild(t, s, "wi-rollback", "w-1", "w-2")

	boom := errors.New("boom")
	err := s.InWorkItemTx(ctx, "wi-rollback", func(ctx context.Context, tx Tx) error {
		entry, _, err := tx.GetEntry(ctx, entries[0].ID)
		if err != nil {
			return err
		}
		entry.Status = EntryNotified
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpsertMetric(ctx, WorkerMetricRecord{WorkerID: "w-1", TotalAssigned: 99}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, AssignmentEventRecord{EventType: EventEntryNotified, Actor: "test"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error returned, got %v", err)
	}

	entry, _, err := s.GetEntry(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Status != EntryPending {
		t.Fatalf("rollback leaked entry update: %s", entry.Status)
	}
	if _, found, _ := s.GetMetric(ctx, "w-1"); found {
		t.Fatalf("rollback leaked metric upsert")
	}
	events, err := s.ListEvents(ctx, EventQuery{EventType: EventEntryNotified})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("rollback leaked audit event")
	}
}

func TestMemoryStoreTxCommitAppliesAtomically(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	entries, build := seedBuild(t, s, "wi-commit", "w-1")

	err := s.InWorkItemTx(ctx, "wi-commit", func(ctx context.Context, tx Tx) error {
		entry, _, err := tx.GetEntry(ctx, entries[0].ID)
		if err != nil {
			return err
		}
		entry.Status = EntryNotified
		entry.NotifiedAt = time.Now().UTC()
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		b, _, err := tx.GetBuild(ctx, build.ID)
		if err != nil {
			return err
		}
		b.Status = BuildExhausted
		if err := tx.UpdateBuild(ctx, b); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, AssignmentEventRecord{EventType: EventEntryNotified, Actor: "test", EntryID: entry.ID})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	entry, _, _ := s.GetEntry(ctx, entries[0].ID)
	if entry.Status != EntryNotified {
		t.Fatalf("entry update not committed: %s", entry.Status)
	}
	b, _, _ := s.GetBuild(ctx, build.ID)
	if b.Status != BuildExhausted {
		t.Fatalf("build update not committed: %s", b.Status)
	}
	events, _ := s.ListEvents(ctx, EventQuery{EventType: EventEntryNotified})
	if len(events) != 1 {
		t.Fatalf("expected committed event, got %d", len(events))
	}
}

func TestMemoryStoreListEntriesByWorkerFilterAndPage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedBuild(t, s, fmt.Sprintf("wi-%d", i), "w-page")
	}

	all, total, err := s.ListEntriesByWorker(ctx, "w-page", nil, 0, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Fatalf("expected 5 entries, got total=%d page=%d", total, len(all))
	}

	page, total, err := s.ListEntriesByWorker(ctx, "w-page", nil, 2, 2)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected page of 2 with total 5, got total=%d page=%d", total, len(page))
	}

	none, total, err := s.ListEntriesByWorker(ctx, "w-page", []string{EntryAccepted}, 0, 10)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if total != 0 || len(none) != 0 {
		t.Fatalf("expected no accepted entries, got %d", len(none))
	}

	pending, _, err := s.ListEntriesByWorker(ctx, "w-page", []string{EntryPending}, 0, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("expected 5 pending entries, got %d", len(pending))
	}
}

func TestMemoryStoreListExpiredNotifiedEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	entries, _ := seedBuild(t, s, "wi-exp", "w-1", "w-2")

	now := time.Now().UTC()
	err := s.InWorkItemTx(ctx, "wi-exp", func(ctx context.Context, tx Tx) error {
		stale := entries[0]
		stale.Status = EntryNotified
		stale.ExpiresAt = now.Add(-time.Minute)
		if err := tx.UpdateEntry(ctx, stale); err != nil {
			return err
		}
		live := entries[1]
		live.Status = EntryNotified
		live.ExpiresAt = now.Add(time.Hour)
		return tx.UpdateEntry(ctx, live)
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	expired, err := s.ListExpiredNotifiedEntries(ctx, now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != entries[0].ID {
		t.Fatalf("expected only the stale entry, got %+v", expired)
	}
}

func TestMemoryStoreEventFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.AppendEvent(ctx, AssignmentEventRecord{EventType: EventQueueGenerated, Actor: "system/dispatcher", WorkItemID: "wi-a"})
	_ = s.AppendEvent(ctx, AssignmentEventRecord{EventType: EventEntryResolved, Actor: "w-1", WorkItemID: "wi-a", WorkerID: "w-1"})
	_ = s.AppendEvent(ctx, AssignmentEventRecord{EventType: EventEntryResolved, Actor: "w-2", WorkItemID: "wi-b", WorkerID: "w-2"})

	byType, err := s.ListEvents(ctx, EventQuery{EventType: EventEntryResolved})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("expected 2 resolved events, got %d", len(byType))
	}
	byItem, err := s.ListEvents(ctx, EventQuery{WorkItemID: "wi-a"})
	if err != nil {
		t.Fatalf("list by item: %v", err)
	}
	if len(byItem) != 2 {
		t.Fatalf("expected 2 events for wi-a, got %d", len(byItem))
	}
	byWorker, err := s.ListEvents(ctx, EventQuery{WorkerID: "w-2"})
	if err != nil {
		t.Fatalf("list by worker: %v", err)
	}
	if len(byWorker) != 1 || byWorker[0].Actor != "w-2" {
		t.Fatalf("expected one w-2 event, got %+v", byWorker)
	}
}

func TestMemoryStoreTxCreateBuildStagedUntilCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	build := QueueBuildRecord{ID: "build-tx", WorkItemID: "wi-tx", WorkItemValue: 100, Status: BuildGenerated, Generation: 1, EntryCount: 1}
	entry := QueueEntryRecord{ID: "entry-tx", BuildID: build.ID, WorkItemID: "wi-tx", WorkerID: "w-1", Rank: 1, Status: EntryPending}
	event := AssignmentEventRecord{EventType: EventQueueGenerated, Actor: "system/dispatcher", WorkItemID: "wi-tx"}

	boom := errors.New("abort")
	err := s.InWorkItemTx(ctx, "wi-tx", func(ctx context.Context, tx Tx) error {
		if err := tx.CreateBuildWithEntries(ctx, build, []QueueEntryRecord{entry}, event); err != nil {
			return err
		}
		// Staged rows are visible and mutable inside the transaction.
		listed, err := tx.ListEntriesByWorkItem(ctx, "wi-tx")
		if err != nil {
			return err
		}
		if len(listed) != 1 || listed[0].ID != entry.ID {
			t.Fatalf("staged entry not visible in tx: %+v", listed)
		}
		staged := listed[0]
		staged.Status = EntryNotified
		if err := tx.UpdateEntry(ctx, staged); err != nil {
			return err
		}
		if _, found, err := tx.GetLatestBuildByWorkItem(ctx, "wi-tx"); err != nil || !found {
			t.Fatalf("staged build not visible in tx: found=%v err=%v", found, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected staged error, got %v", err)
	}
	if _, found, _ := s.GetBuild(ctx, build.ID); found {
		t.Fatalf("rolled-back build must not persist")
	}
	if listed, _ := s.ListEntriesByWorkItem(ctx, "wi-tx"); len(listed) != 0 {
		t.Fatalf("rolled-back entries must not persist: %+v", listed)
	}

	err = s.InWorkItemTx(ctx, "wi-tx", func(ctx context.Context, tx Tx) error {
		return tx.CreateBuildWithEntries(ctx, build, []QueueEntryRecord{entry}, event)
	})
	if err != nil {
		t.Fatalf("commit tx: %v", err)
	}
	if _, found, _ := s.GetBuild(ctx, build.ID); !found {
		t.Fatalf("committed build missing")
	}
	listed, err := s.ListEntriesByWorkItem(ctx, "wi-tx")
	if err != nil || len(listed) != 1 || listed[0].ID != entry.ID {
		t.Fatalf("committed entry missing: %+v err=%v", listed, err)
	}
}

func TestMemoryStoreEventPagingNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_ = s.AppendEvent(ctx, AssignmentEventRecord{
			EventType: EventEntryNotified,
			Actor:     "system/dispatcher",
			EntryID:   fmt.Sprintf("e-%d", i),
		})
	}

	// Offset applies in newest-first order, like the SQL store's
	// ORDER BY id DESC.
	page, err := s.ListEvents(ctx, EventQuery{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page))
	}
	if page[0].EntryID != "e-4" || page[1].EntryID != "e-3" {
		t.Fatalf("expected [e-4 e-3], got [%s %s]", page[0].EntryID, page[1].EntryID)
	}

	all, err := s.ListEvents(ctx, EventQuery{Limit: 10})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if all[0].EntryID != "e-5" || all[len(all)-1].EntryID != "e-1" {
		t.Fatalf("expected newest first, got %s .. %s", all[0].EntryID, all[len(all)-1].EntryID)
	}
}

func TestMemoryStoreRejectsDuplicateBuild(t *testing.T) {
	s := NewMemoryStore()
	_, build := seedBuild(t, s, "wi-dup", "w-1")
	err := s.CreateBuildWithEntries(context.Background(), build, nil, AssignmentEventRecord{EventType: EventQueueGenerated, Actor: "x"})
	if err == nil {
		t.Fatalf("expected duplicate build rejection")
	}
}
