package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orbas1/gigvora-automatch/internal/archive"
	"github.com/orbas1/gigvora-automatch/internal/dispatch"
	"github.com/orbas1/gigvora-automatch/internal/observability"
	"github.com/orbas1/gigvora-automatch/internal/state"
	"github.com/orbas1/gigvora-automatch/pkg/matchapi"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

type Server struct {
	engine   *dispatch.Engine
	auth     *authorizer
	limiter  *respondLimiter
	archiver *archive.Exporter
}

func NewServer(engine *dispatch.Engine, archiver *archive.Exporter) *Server {
	return &Server{
		engine:   engine,
		auth:     newAuthorizerFromEnv(),
		limiter:  newRespondLimiterFromEnv(),
		archiver: archiver,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/auto-match/workers/", s.handleWorkerSubresource)
	mux.HandleFunc("/v1/auto-match/entries/", s.handleEntrySubresource)
	mux.HandleFunc("/v1/auto-match/work-items/", s.handleWorkItemSubresource)
	mux.HandleFunc("/v1/auto-match/sweep", s.handleSweep)
	mux.HandleFunc("/v1/admin/workers/", s.handleAdminWorkerSubresource)
	mux.HandleFunc("/v1/admin/events", s.handleEvents)
	mux.HandleFunc("/v1/admin/events/archive", s.handleArchiveEvents)
	return withTracing(withLogging(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "metrics", "operator"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "metrics", "operator"); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

// handleWorkerSubresource routes
// /v1/auto-match/workers/{workerId}/{overview|matches|preferences}.
func (s *Server) handleWorkerSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/auto-match/workers/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	workerID := parts[0]
	p, ok := s.requireWorker(w, r, workerID)
	if !ok {
		return
	}
	switch parts[1] {
	case "overview":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleOverview(w, r, workerID)
	case "matches":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleMatches(w, r, workerID)
	case "preferences":
		switch r.Method {
		case http.MethodGet:
			s.handleGetPreferences(w, r, workerID)
		case http.MethodPut, http.MethodPatch:
			s.handleUpdatePreferences(w, r, workerID, p)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request, workerID string) {
	overview, err := s.engine.WorkerOverview(r.Context(), workerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := matchapi.OverviewResponse{
		WorkerID:      overview.WorkerID,
		StatusCounts:  overview.StatusCounts,
		ActiveEntries: toWireEntries(overview.ActiveEntries),
	}
	if overview.Metric != nil {
		m := toWireMetric(*overview.Metric)
		resp.Metric = &m
	}
	if overview.Preference != nil {
		p := toWirePreferences(*overview.Preference)
		resp.Preferences = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request, workerID string) {
	q := r.URL.Query()
	var statuses []string
	for _, key := range []string{"statuses", "status"} {
		for _, raw := range q[key] {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part != "" {
					statuses = append(statuses, part)
				}
			}
		}
	}
	if len(statuses) == 0 && q.Get("includeHistorical") != "true" {
		statuses = []string{state.EntryPending, state.EntryNotified, state.EntryAccepted}
	}
	limit := parseQueryInt(q.Get("limit"), parseQueryInt(q.Get("pageSize"), defaultPageSize))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := parseQueryInt(q.Get("offset"), 0)
	if page := parseQueryInt(q.Get("page"), 0); page > 1 {
		offset = (page - 1) * limit
	}
	if offset < 0 {
		offset = 0
	}
	entries, total, err := s.engine.ListMatches(r.Context(), workerID, statuses, offset, limit)
	if err != nil {
		if errors.Is(err, dispatch.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matchapi.MatchesResponse{
		WorkerID: workerID,
		Total:    total,
		Offset:   offset,
		Limit:    limit,
		Entries:  toWireEntries(entries),
	})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request, workerID string) {
	pref, found, err := s.engine.GetPreference(r.Context(), workerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		pref = state.WorkerPreferenceRecord{WorkerID: workerID, Enabled: true}
	}
	writeJSON(w, http.StatusOK, toWirePreferences(pref))
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request, workerID string, p principal) {
	var req matchapi.UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	actor := workerID
	if p.hasScope("admin") || p.hasScope("operator") {
		actor = p.id
	}
	pref, err := s.engine.UpdatePreference(r.Context(), workerID, dispatch.PreferencePatch{
		Enabled:            req.Enabled,
		MinBudget:          req.MinBudget,
		MaxBudget:          req.MaxBudget,
		ConcurrencyCap:     req.ConcurrencyCap,
		ExcludedCategories: req.ExcludedCategories,
	}, actor)
	if err != nil {
		if errors.Is(err, dispatch.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toWirePreferences(pref))
}

// handleEntrySubresource routes /v1/auto-match/entries/{entryId}/respond.
func (s *Server) handleEntrySubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/auto-match/entries/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "respond" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleRespond(w, r, parts[0])
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request, entryID string) {
	var req matchapi.RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))

	entry, found, err := s.engine.GetEntry(r.Context(), entryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	p, ok := s.requireWorker(w, r, entry.WorkerID)
	if !ok {
		return
	}
	actor := entry.WorkerID
	if p.hasScope("admin") || p.hasScope("operator") {
		actor = p.id
	}
	if !s.limiter.allow(actor, time.Now().UTC()) {
		writeError(w, http.StatusTooManyRequests, "respond rate limit exceeded")
		return
	}

	resolved, err := s.engine.ResolveEntry(r.Context(), entryID, req.Status, dispatch.ResolutionContext{
		ActorID:         actor,
		Rating:          req.Rating,
		CompletionValue: req.CompletionValue,
		ReasonCode:      req.ReasonCode,
		ReasonLabel:     req.ReasonLabel,
		Notes:           req.Notes,
		Metadata:        req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, dispatch.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, dispatch.ErrAlreadyResolved), errors.Is(err, dispatch.ErrConflictingAssignment):
			// 409 carries the authoritative entry so the caller can
			// reconcile instead of retrying blind.
			writeJSON(w, http.StatusConflict, matchapi.RespondResponse{
				Entry: toWireEntry(resolved),
				Error: err.Error(),
			})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, matchapi.RespondResponse{Entry: toWireEntry(resolved)})
}

// handleWorkItemSubresource routes
// /v1/auto-match/work-items/{workItemId}/queue.
func (s *Server) handleWorkItemSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/auto-match/work-items/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "queue" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	workItemID := parts[0]
	switch r.Method {
	case http.MethodPost:
		if _, ok := s.requireScopes(w, r, "operator"); !ok {
			return
		}
		s.handleBuildQueue(w, r, workItemID)
	case http.MethodGet:
		if _, ok := s.requireScopes(w, r, "operator", "metrics"); !ok {
			return
		}
		s.handleGetQueue(w, r, workItemID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleBuildQueue(w http.ResponseWriter, r *http.Request, workItemID string) {
	var req matchapi.BuildQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.engine.BuildQueue(r.Context(), dispatch.WorkItemRef{
		ID:       workItemID,
		Value:    req.WorkItemValue,
		Category: req.Category,
	}, req.Candidates)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, dispatch.ErrActiveQueueExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	resp := matchapi.BuildQueueResponse{
		Build:   toWireBuild(result.Build),
		Entries: toWireEntries(result.Entries),
	}
	for _, sk := range result.Skipped {
		resp.Skipped = append(resp.Skipped, matchapi.SkippedCandidate{WorkerID: sk.WorkerID, ReasonCode: sk.ReasonCode})
	}
	if result.Notified != nil {
		e := toWireEntry(*result.Notified)
		resp.Notified = &e
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request, workItemID string) {
	build, found, err := s.engine.LatestBuild(r.Context(), workItemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no queue for work item")
		return
	}
	entries, err := s.engine.Store().ListEntriesByWorkItem(r.Context(), workItemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	current := make([]state.QueueEntryRecord, 0, len(entries))
	for _, e := range entries {
		if e.BuildID == build.ID {
			current = append(current, e)
		}
	}
	writeJSON(w, http.StatusOK, matchapi.BuildQueueResponse{
		Build:   toWireBuild(build),
		Entries: toWireEntries(current),
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "operator"); !ok {
		return
	}
	expired, err := s.engine.SweepExpired(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matchapi.SweepResponse{Expired: expired})
}

// handleAdminWorkerSubresource routes
// /v1/admin/workers/{workerId}/metrics for metric backfill.
func (s *Server) handleAdminWorkerSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/workers/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "metrics" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "operator", "admin"); !ok {
		return
	}
	var req matchapi.UpsertMetricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	metric := state.WorkerMetricRecord{
		WorkerID:         parts[0],
		TotalAssigned:    req.TotalAssigned,
		TotalCompleted:   req.TotalCompleted,
		Rating:           req.Rating,
		CompletionRate:   req.CompletionRate,
		AvgAssignedValue: req.AvgAssignedValue,
		UpdatedAt:        time.Now().UTC(),
	}
	var err error
	if metric.LastAssignedAt, err = parseOptionalTime(req.LastAssignedAt); err != nil {
		writeError(w, http.StatusBadRequest, "last_assigned_at must be RFC3339")
		return
	}
	if metric.LastCompletedAt, err = parseOptionalTime(req.LastCompletedAt); err != nil {
		writeError(w, http.StatusBadRequest, "last_completed_at must be RFC3339")
		return
	}
	if metric.TenureStart, err = parseOptionalTime(req.TenureStart); err != nil {
		writeError(w, http.StatusBadRequest, "tenure_start must be RFC3339")
		return
	}
	if err := s.engine.UpsertWorkerMetric(r.Context(), metric); err != nil {
		if errors.Is(err, dispatch.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toWireMetric(metric))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "admin", "operator"); !ok {
		return
	}
	q := r.URL.Query()
	limit := parseQueryInt(q.Get("limit"), 100)
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	from, to, err := parseTimeRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.engine.ListEvents(r.Context(), state.EventQuery{
		EventType:  strings.TrimSpace(q.Get("event_type")),
		Actor:      strings.TrimSpace(q.Get("actor")),
		WorkerID:   strings.TrimSpace(q.Get("worker_id")),
		WorkItemID: strings.TrimSpace(q.Get("work_item_id")),
		From:       from,
		To:         to,
		Limit:      limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if q.Get("format") == "csv" {
		body, err := archive.RenderCSV(events)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}
	resp := matchapi.EventsResponse{Total: len(events), Events: make([]matchapi.AssignmentEvent, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, toWireEvent(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArchiveEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, ok := s.requireScopes(w, r, "admin")
	if !ok {
		return
	}
	if s.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "event archival is not configured")
		return
	}
	q := r.URL.Query()
	from, to, err := parseTimeRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.engine.ListEvents(r.Context(), state.EventQuery{From: from, To: to})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no events in range")
		return
	}
	now := time.Now().UTC()
	uri, err := s.archiver.ArchiveEvents(r.Context(), events, now)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := s.engine.AppendEvent(r.Context(), state.AssignmentEventRecord{
		EventType: state.EventEventsArchived,
		Actor:     p.id,
		Details:   "object_uri=" + uri,
	}); err != nil {
		log.Printf("archive marker persist failed: %v", err)
	}
	writeJSON(w, http.StatusOK, matchapi.ArchiveEventsResponse{ObjectURI: uri, Archived: len(events)})
}

func (s *Server) requireScopes(w http.ResponseWriter, r *http.Request, scopes ...string) (principal, bool) {
	p, status, msg := s.auth.authorize(r, scopes...)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return principal{}, false
	}
	return p, true
}

// requireWorker authorizes worker-scoped routes: the worker's own
// token, a platform token, or an admin/operator token.
func (s *Server) requireWorker(w http.ResponseWriter, r *http.Request, workerID string) (principal, bool) {
	p, status, msg := s.auth.authorize(r)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return principal{}, false
	}
	if s.auth.open() {
		return p, true
	}
	if !p.canActForWorker(workerID) {
		writeError(w, http.StatusForbidden, "token cannot act for worker "+workerID)
		return principal{}, false
	}
	return p, true
}

func parseQueryInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseOptionalTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseTimeRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from, err := parseOptionalTime(fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("time filters must be RFC3339")
	}
	to, err := parseOptionalTime(toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("time filters must be RFC3339")
	}
	return from, to, nil
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toWireEntry(e state.QueueEntryRecord) matchapi.QueueEntry {
	return matchapi.QueueEntry{
		ID:          e.ID,
		BuildID:     e.BuildID,
		WorkItemID:  e.WorkItemID,
		WorkerID:    e.WorkerID,
		Rank:        e.Rank,
		Score:       e.Score,
		Confidence:  e.Confidence,
		Status:      e.Status,
		NotifiedAt:  fmtTime(e.NotifiedAt),
		ExpiresAt:   fmtTime(e.ExpiresAt),
		ResolvedAt:  fmtTime(e.ResolvedAt),
		ResolvedBy:  e.ResolvedBy,
		ReasonCode:  e.ReasonCode,
		ReasonLabel: e.ReasonLabel,
		Notes:       e.Notes,
		Metadata:    e.Metadata,
		CreatedAt:   fmtTime(e.CreatedAt),
	}
}

func toWireEntries(in []state.QueueEntryRecord) []matchapi.QueueEntry {
	out := make([]matchapi.QueueEntry, 0, len(in))
	for _, e := range in {
		out = append(out, toWireEntry(e))
	}
	return out
}

func toWireBuild(b state.QueueBuildRecord) matchapi.QueueBuild {
	return matchapi.QueueBuild{
		ID:            b.ID,
		WorkItemID:    b.WorkItemID,
		WorkItemValue: b.WorkItemValue,
		Category:      b.Category,
		Status:        b.Status,
		Generation:    b.Generation,
		EntryCount:    b.EntryCount,
		Message:       b.Message,
		CreatedAt:     fmtTime(b.CreatedAt),
		UpdatedAt:     fmtTime(b.UpdatedAt),
	}
}

func toWireMetric(m state.WorkerMetricRecord) matchapi.WorkerMetric {
	return matchapi.WorkerMetric{
		WorkerID:         m.WorkerID,
		LastAssignedAt:   fmtTime(m.LastAssignedAt),
		LastCompletedAt:  fmtTime(m.LastCompletedAt),
		TotalAssigned:    m.TotalAssigned,
		TotalCompleted:   m.TotalCompleted,
		Rating:           m.Rating,
		CompletionRate:   m.CompletionRate,
		AvgAssignedValue: m.AvgAssignedValue,
		TenureStart:      fmtTime(m.TenureStart),
	}
}

func toWirePreferences(p state.WorkerPreferenceRecord) matchapi.Preferences {
	return matchapi.Preferences{
		WorkerID:           p.WorkerID,
		Enabled:            p.Enabled,
		MinBudget:          p.MinBudget,
		MaxBudget:          p.MaxBudget,
		ConcurrencyCap:     p.ConcurrencyCap,
		ExcludedCategories: p.ExcludedCategories,
		UpdatedBy:          p.UpdatedBy,
		UpdatedAt:          fmtTime(p.UpdatedAt),
	}
}

func toWireEvent(ev state.AssignmentEventRecord) matchapi.AssignmentEvent {
	return matchapi.AssignmentEvent{
		ID:         ev.ID,
		EventType:  ev.EventType,
		Actor:      ev.Actor,
		WorkerID:   ev.WorkerID,
		WorkItemID: ev.WorkItemID,
		EntryID:    ev.EntryID,
		PrevHash:   ev.PrevHash,
		EventHash:  ev.EventHash,
		Details:    ev.Details,
		CreatedAt:  fmtTime(ev.CreatedAt),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
