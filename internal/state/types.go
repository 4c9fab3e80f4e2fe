package state

import "time"

// Queue entry statuses. The offer lifecycle is pending -> notified ->
// {accepted | declined | expired}, plus notified -> reassigned for
// administrator-forced handoffs. accepted, declined, expired and
// reassigned are terminal.
const (
	EntryPending    = "pending"
	EntryNotified   = "notified"
	EntryAccepted   = "accepted"
	EntryDeclined   = "declined"
	EntryReassigned = "reassigned"
	EntryExpired    = "expired"
)

// Queue build statuses.
const (
	BuildGenerated   = "generated"
	BuildRegenerated = "regenerated"
	BuildExhausted   = "exhausted"
	BuildFailed      = "failed"
)

// Assignment event types. The set is open: rows written by newer
// revisions may carry values not listed here and readers must preserve
// them rather than reject them.
const (
	EventAutoMatchEnabled  = "automatch_enabled"
	EventAutoMatchDisabled = "automatch_disabled"
	EventQueueGenerated    = "queue_generated"
	EventQueueRegenerated  = "queue_regenerated"
	EventQueueExhausted    = "queue_exhausted"
	EventQueueFailed       = "queue_failed"
	EventEntryNotified     = "entry_notified"
	EventEntryResolved     = "entry_resolved"
	EventEntryReassigned   = "entry_reassigned"
	EventEventsArchived    = "events_archived"
)

// IsKnownEventType reports whether the value is one this revision
// emits. Callers must not use it to reject stored rows.
func IsKnownEventType(v string) bool {
	switch v {
	case EventAutoMatchEnabled, EventAutoMatchDisabled,
		EventQueueGenerated, EventQueueRegenerated, EventQueueExhausted, EventQueueFailed,
		EventEntryNotified, EventEntryResolved, EventEntryReassigned,
		EventEventsArchived:
		return true
	default:
		return false
	}
}

type QueueBuildRecord struct {
	ID            string
	WorkItemID    string
	WorkItemValue float64
	Category      string
	Status        string
	Generation    int
	EntryCount    int
	Message       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type QueueEntryRecord struct {
	ID          string
	BuildID     string
	WorkItemID  string
	WorkerID    string
	Rank        int
	Score       float64
	Confidence  float64
	Status      string
	NotifiedAt  time.Time
	ExpiresAt   time.Time
	ResolvedAt  time.Time
	ResolvedBy  string
	ReasonCode  string
	ReasonLabel string
	Notes       string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WorkerMetricRecord struct {
	WorkerID         string
	LastAssignedAt   time.Time
	LastCompletedAt  time.Time
	TotalAssigned    int
	TotalCompleted   int
	Rating           float64
	CompletionRate   float64
	AvgAssignedValue float64
	TenureStart      time.Time
	UpdatedAt        time.Time
}

type WorkerPreferenceRecord struct {
	WorkerID           string
	Enabled            bool
	MinBudget          float64
	MaxBudget          float64
	ConcurrencyCap     int
	ExcludedCategories []string
	UpdatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type AssignmentEventRecord struct {
	ID         int64
	EventType  string
	Actor      string
	WorkerID   string
	WorkItemID string
	EntryID    string
	PrevHash   string
	EventHash  string
	Details    string
	CreatedAt  time.Time
}

type EventQuery struct {
	Limit      int
	Offset     int
	EventType  string
	Actor      string
	WorkerID   string
	WorkItemID string
	From       time.Time
	To         time.Time
}
