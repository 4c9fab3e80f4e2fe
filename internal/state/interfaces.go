package state

import (
	"context"
	"time"
)

// Store is the persistence boundary for the dispatcher. Entry status is
// never mutated through the plain Store: queue creation and every
// status transition go through InWorkItemTx so that conflicting builds
// and resolutions for the same work item are serialized.
type Store interface {
	CreateBuildWithEntries(ctx context.Context, build QueueBuildRecord, entries []QueueEntryRecord, event AssignmentEventRecord) error
	GetBuild(ctx context.Context, buildID string) (QueueBuildRecord, bool, error)
	GetLatestBuildByWorkItem(ctx context.Context, workItemID string) (QueueBuildRecord, bool, error)

	GetEntry(ctx context.Context, entryID string) (QueueEntryRecord, bool, error)
	ListEntriesByWorkItem(ctx context.Context, workItemID string) ([]QueueEntryRecord, error)
	ListEntriesByWorker(ctx context.Context, workerID string, statuses []string, offset, limit int) ([]QueueEntryRecord, int, error)
	CountEntriesByWorkerStatus(ctx context.Context, workerID string, statuses []string) (int, error)
	ListExpiredNotifiedEntries(ctx context.Context, now time.Time) ([]QueueEntryRecord, error)

	GetMetric(ctx context.Context, workerID string) (WorkerMetricRecord, bool, error)
	UpsertMetric(ctx context.Context, metric WorkerMetricRecord) error

	GetPreference(ctx context.Context, workerID string) (WorkerPreferenceRecord, bool, error)
	UpsertPreference(ctx context.Context, pref WorkerPreferenceRecord) error

	AppendEvent(ctx context.Context, event AssignmentEventRecord) error
	ListEvents(ctx context.Context, query EventQuery) ([]AssignmentEventRecord, error)

	// InWorkItemTx runs fn with exclusive access to the work item's
	// queue entries. All writes made through the Tx become visible
	// atomically when fn returns nil and are discarded when it returns
	// an error.
	InWorkItemTx(ctx context.Context, workItemID string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view handed to resolution callbacks. Audit
// writes share the transaction, so no state change can commit without
// its event record.
type Tx interface {
	GetEntry(ctx context.Context, entryID string) (QueueEntryRecord, bool, error)
	ListEntriesByWorkItem(ctx context.Context, workItemID string) ([]QueueEntryRecord, error)
	UpdateEntry(ctx context.Context, entry QueueEntryRecord) error

	CreateBuildWithEntries(ctx context.Context, build QueueBuildRecord, entries []QueueEntryRecord, event AssignmentEventRecord) error
	GetBuild(ctx context.Context, buildID string) (QueueBuildRecord, bool, error)
	GetLatestBuildByWorkItem(ctx context.Context, workItemID string) (QueueBuildRecord, bool, error)
	UpdateBuild(ctx context.Context, build QueueBuildRecord) error

	GetMetric(ctx context.Context, workerID string) (WorkerMetricRecord, bool, error)
	UpsertMetric(ctx context.Context, metric WorkerMetricRecord) error

	AppendEvent(ctx context.Context, event AssignmentEventRecord) error
}
