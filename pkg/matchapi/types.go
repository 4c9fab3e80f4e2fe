// Package matchapi holds the wire types of the auto-match HTTP API.
package matchapi

type QueueEntry struct {
	ID          string            `json:"id"`
	BuildID     string            `json:"build_id"`
	WorkItemID  string            `json:"work_item_id"`
	WorkerID    string            `json:"worker_id"`
	Rank        int               `json:"rank"`
	Score       float64           `json:"score"`
	Confidence  float64           `json:"confidence"`
	Status      string            `json:"status"`
	NotifiedAt  string            `json:"notified_at,omitempty"`
	ExpiresAt   string            `json:"expires_at,omitempty"`
	ResolvedAt  string            `json:"resolved_at,omitempty"`
	ResolvedBy  string            `json:"resolved_by,omitempty"`
	ReasonCode  string            `json:"reason_code,omitempty"`
	ReasonLabel string            `json:"reason_label,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

type QueueBuild struct {
	ID            string  `json:"id"`
	WorkItemID    string  `json:"work_item_id"`
	WorkItemValue float64 `json:"work_item_value"`
	Category      string  `json:"category,omitempty"`
	Status        string  `json:"status"`
	Generation    int     `json:"generation"`
	EntryCount    int     `json:"entry_count"`
	Message       string  `json:"message,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

type WorkerMetric struct {
	WorkerID         string  `json:"worker_id"`
	LastAssignedAt   string  `json:"last_assigned_at,omitempty"`
	LastCompletedAt  string  `json:"last_completed_at,omitempty"`
	TotalAssigned    int     `json:"total_assigned"`
	TotalCompleted   int     `json:"total_completed"`
	Rating           float64 `json:"rating,omitempty"`
	CompletionRate   float64 `json:"completion_rate,omitempty"`
	AvgAssignedValue float64 `json:"avg_assigned_value,omitempty"`
	TenureStart      string  `json:"tenure_start,omitempty"`
}

type Preferences struct {
	WorkerID           string   `json:"worker_id"`
	Enabled            bool     `json:"enabled"`
	MinBudget          float64  `json:"min_budget,omitempty"`
	MaxBudget          float64  `json:"max_budget,omitempty"`
	ConcurrencyCap     int      `json:"concurrency_cap,omitempty"`
	ExcludedCategories []string `json:"excluded_categories,omitempty"`
	UpdatedBy          string   `json:"updated_by,omitempty"`
	UpdatedAt          string   `json:"updated_at,omitempty"`
}

// UpdatePreferencesRequest is a partial update: nil fields keep the
// stored value.
type UpdatePreferencesRequest struct {
	Enabled            *bool     `json:"enabled,omitempty"`
	MinBudget          *float64  `json:"min_budget,omitempty"`
	MaxBudget          *float64  `json:"max_budget,omitempty"`
	ConcurrencyCap     *int      `json:"concurrency_cap,omitempty"`
	ExcludedCategories *[]string `json:"excluded_categories,omitempty"`
}

type OverviewResponse struct {
	WorkerID      string         `json:"worker_id"`
	StatusCounts  map[string]int `json:"status_counts"`
	ActiveEntries []QueueEntry   `json:"active_entries"`
	Metric        *WorkerMetric  `json:"metric,omitempty"`
	Preferences   *Preferences   `json:"preferences,omitempty"`
}

type MatchesResponse struct {
	WorkerID string       `json:"worker_id"`
	Total    int          `json:"total"`
	Offset   int          `json:"offset,omitempty"`
	Limit    int          `json:"limit,omitempty"`
	Entries  []QueueEntry `json:"entries"`
}

type RespondRequest struct {
	Status          string            `json:"status"`
	Rating          float64           `json:"rating,omitempty"`
	CompletionValue float64           `json:"completion_value,omitempty"`
	ReasonCode      string            `json:"reason_code,omitempty"`
	ReasonLabel     string            `json:"reason_label,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type RespondResponse struct {
	Entry QueueEntry `json:"entry"`
	Error string     `json:"error,omitempty"`
}

type BuildQueueRequest struct {
	WorkItemValue float64  `json:"work_item_value"`
	Category      string   `json:"category,omitempty"`
	Candidates    []string `json:"candidates"`
}

type SkippedCandidate struct {
	WorkerID   string `json:"worker_id"`
	ReasonCode string `json:"reason_code"`
}

type BuildQueueResponse struct {
	Build    QueueBuild         `json:"build"`
	Entries  []QueueEntry       `json:"entries,omitempty"`
	Skipped  []SkippedCandidate `json:"skipped,omitempty"`
	Notified *QueueEntry        `json:"notified,omitempty"`
}

type SweepResponse struct {
	Expired int `json:"expired"`
}

type AssignmentEvent struct {
	ID         int64  `json:"id"`
	EventType  string `json:"event_type"`
	Actor      string `json:"actor"`
	WorkerID   string `json:"worker_id,omitempty"`
	WorkItemID string `json:"work_item_id,omitempty"`
	EntryID    string `json:"entry_id,omitempty"`
	PrevHash   string `json:"prev_hash,omitempty"`
	EventHash  string `json:"event_hash,omitempty"`
	Details    string `json:"details,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type EventsResponse struct {
	Total  int               `json:"total"`
	Events []AssignmentEvent `json:"events"`
}

type ArchiveEventsResponse struct {
	ObjectURI string `json:"object_uri"`
	Archived  int    `json:"archived"`
}

type UpsertMetricRequest struct {
	WorkerID         string  `json:"worker_id"`
	LastAssignedAt   string  `json:"last_assigned_at,omitempty"`
	LastCompletedAt  string  `json:"last_completed_at,omitempty"`
	TotalAssigned    int     `json:"total_assigned"`
	TotalCompleted   int     `json:"total_completed"`
	Rating           float64 `json:"rating,omitempty"`
	CompletionRate   float64 `json:"completion_rate,omitempty"`
	AvgAssignedValue float64 `json:"avg_assigned_value,omitempty"`
	TenureStart      string  `json:"tenure_start,omitempty"`
}
