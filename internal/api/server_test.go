package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orbas1/gigvora-automatch/internal/dispatch"
	"github.com/orbas1/gigvora-automatch/internal/notify"
	"github.com/orbas1/gigvora-automatch/internal/state"
	"github.com/orbas1/gigvora-automatch/pkg/matchapi"
)

func newTestServer(t *testing.T) (*Server, *dispatch.Engine) {
	t.Helper()
	engine := dispatch.NewEngine(state.NewMemoryStore(), dispatch.Options{
		Notifier: notify.NewMemoryNotifier(),
		OfferTTL: time.Hour,
	})
	return NewServer(engine, nil), engine
}

func seedWorkers(t *testing.T, engine *dispatch.Engine, ids ...string) {
	t.Helper()
	now := time.Now().UTC()
	for i, id := range ids {
		err := engine.UpsertWorkerMetric(context.Background(), state.WorkerMetricRecord{
			WorkerID:         id,
			LastCompletedAt:  now.Add(-time.Duration(i+1) * 24 * time.Hour),
			TotalAssigned:    20 - i,
			TotalCompleted:   18 - i,
			Rating:           4.5,
			CompletionRate:   0.9,
			AvgAssignedValue: 250,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func buildQueueFor(t *testing.T, engine *dispatch.Engine, workItemID string, workers ...string) *dispatch.BuildResult {
	t.Helper()
	result, err := engine.BuildQueue(context.Background(), dispatch.WorkItemRef{ID: workItemID, Value: 250}, workers)
	if err != nil {
		t.Fatalf("build %s: %v", workItemID, err)
	}
	return result
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return out
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMatchesPagingClampAndStatusValidation(t *testing.T) {
	s, engine := newTestServer(t)
	seedWorkers(t, engine, "w-1")
	buildQueueFor(t, engine, "job-page", "w-1")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/matches?limit=500", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	page := decodeBody[matchapi.MatchesResponse](t, rec)
	if page.Limit != 50 {
		t.Fatalf("expected limit clamped to 50, got %d", page.Limit)
	}
	if page.Total != 1 || len(page.Entries) != 1 {
		t.Fatalf("expected one entry, got %+v", page)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/matches?status=bogus", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus status, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/matches?status=notified", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid filter, got %d", rec.Code)
	}
	page = decodeBody[matchapi.MatchesResponse](t, rec)
	if page.Total != 1 || page.Entries[0].Status != "notified" {
		t.Fatalf("expected the notified entry, got %+v", page)
	}
}

func TestMatchesHistoricalAndPageParams(t *testing.T) {
	s, engine := newTestServer(t)
	seedWorkers(t, engine, "w-1", "w-2")
	result := buildQueueFor(t, engine, "job-hist", "w-1", "w-2")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auto-match/entries/"+result.Notified.ID+"/respond", "", matchapi.RespondRequest{Status: "declined"})
	if rec.Code != http.StatusOK {
		t.Fatalf("decline: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/matches", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	page := decodeBody[matchapi.MatchesResponse](t, rec)
	if page.Total != 0 {
		t.Fatalf("declined entry should be hidden by default, got %+v", page)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/matches?includeHistorical=true", "", nil)
	page = decodeBody[matchapi.MatchesResponse](t, rec)
	if page.Total != 1 || page.Entries[0].Status != "declined" {
		t.Fatalf("expected declined entry with includeHistorical, got %+v", page)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/matches?statuses=declined&pageSize=5&page=2", "", nil)
	page = decodeBody[matchapi.MatchesResponse](t, rec)
	if page.Limit != 5 || page.Offset != 5 {
		t.Fatalf("expected pageSize 5 mapped to offset 5 on page 2, got limit=%d offset=%d", page.Limit, page.Offset)
	}
	if page.Total != 1 || len(page.Entries) != 0 {
		t.Fatalf("expected empty second page with total 1, got %+v", page)
	}
}

func TestRespondLifecycleOverHTTP(t *testing.T) {
	s, engine := newTestServer(t)
	seedWorkers(t, engine, "w-1", "w-2")
	result := buildQueueFor(t, engine, "job-http", "w-1", "w-2")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auto-match/entries/"+result.Notified.ID+"/respond", "", matchapi.RespondRequest{Status: "accepted", Rating: 4.9})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[matchapi.RespondResponse](t, rec)
	if resp.Entry.Status != "accepted" {
		t.Fatalf("expected accepted entry, got %+v", resp.Entry)
	}

	// Replay by the same worker is idempotent.
	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/entries/"+result.Notified.ID+"/respond", "", matchapi.RespondRequest{Status: "accepted"})
	if rec.Code != http.StatusOK {
		t.Fatalf("replay expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// A different terminal target now conflicts and returns the
	// authoritative entry.
	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/entries/"+result.Notified.ID+"/respond", "", matchapi.RespondRequest{Status: "declined"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	conflict := decodeBody[matchapi.RespondResponse](t, rec)
	if conflict.Entry.Status != "accepted" || conflict.Error == "" {
		t.Fatalf("conflict body must carry current entry and error, got %+v", conflict)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/entries/"+result.Notified.ID+"/respond", "", matchapi.RespondRequest{Status: "sideways"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/entries/nope/respond", "", matchapi.RespondRequest{Status: "accepted"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown entry, got %d", rec.Code)
	}
}

func TestAuthScopesEnforced(t *testing.T) {
	t.Setenv("AUTOMATCH_API_TOKENS", "tok-w1:worker:w-1,tok-ops:operator|metrics,tok-admin:admin|operator|worker:*")
	s, engine := newTestServer(t)
	seedWorkers(t, engine, "w-1", "w-2")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/overview", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/overview", "bad-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-2/overview", "tok-w1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other worker, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/overview", "tok-w1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for own worker, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-1/overview", "tok-admin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}

	// Queue builds are operator-only.
	buildReq := matchapi.BuildQueueRequest{WorkItemValue: 250, Candidates: []string{"w-1", "w-2"}}
	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/work-items/job-auth/queue", "tok-w1", buildReq)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for worker token on build, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/work-items/job-auth/queue", "tok-ops", buildReq)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for operator, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/admin/events", "tok-w1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for worker token on events, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/admin/events", "tok-admin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin events, got %d", rec.Code)
	}
}

func TestBuildQueueEndpoint(t *testing.T) {
	s, engine := newTestServer(t)
	seedWorkers(t, engine, "w-1", "w-2")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auto-match/work-items/job-b/queue", "", matchapi.BuildQueueRequest{
		WorkItemValue: 250,
		Candidates:    []string{"w-1", "w-2"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[matchapi.BuildQueueResponse](t, rec)
	if len(created.Entries) != 2 || created.Notified == nil {
		t.Fatalf("unexpected build response: %+v", created)
	}
	if created.Notified.Status != "notified" {
		t.Fatalf("rank 1 should be notified, got %+v", created.Notified)
	}

	// Active queue blocks a rebuild.
	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/work-items/job-b/queue", "", matchapi.BuildQueueRequest{
		WorkItemValue: 250,
		Candidates:    []string{"w-1"},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for active queue, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/work-items/job-b/queue", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for queue read, got %d", rec.Code)
	}
	fetched := decodeBody[matchapi.BuildQueueResponse](t, rec)
	if fetched.Build.ID != created.Build.ID || len(fetched.Entries) != 2 {
		t.Fatalf("queue read mismatch: %+v", fetched)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/auto-match/work-items/unknown/queue", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown item, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/work-items/job-zero/queue", "", matchapi.BuildQueueRequest{WorkItemValue: 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero value, got %d", rec.Code)
	}
}

func TestPreferencesPatch(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/auto-match/workers/w-p/preferences", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 default prefs, got %d", rec.Code)
	}
	defaults := decodeBody[matchapi.Preferences](t, rec)
	if !defaults.Enabled {
		t.Fatalf("missing preference record must default to enabled")
	}

	off := false
	min := 100.0
	rec = doJSON(t, h, http.MethodPatch, "/v1/auto-match/workers/w-p/preferences", "", matchapi.UpdatePreferencesRequest{
		Enabled:   &off,
		MinBudget: &min,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[matchapi.Preferences](t, rec)
	if updated.Enabled || updated.MinBudget != 100 {
		t.Fatalf("patch not applied: %+v", updated)
	}

	// Partial patch keeps the earlier fields.
	cap := 3
	rec = doJSON(t, h, http.MethodPatch, "/v1/auto-match/workers/w-p/preferences", "", matchapi.UpdatePreferencesRequest{
		ConcurrencyCap: &cap,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	updated = decodeBody[matchapi.Preferences](t, rec)
	if updated.Enabled || updated.MinBudget != 100 || updated.ConcurrencyCap != 3 {
		t.Fatalf("partial patch clobbered fields: %+v", updated)
	}

	bad := -1.0
	rec = doJSON(t, h, http.MethodPatch, "/v1/auto-match/workers/w-p/preferences", "", matchapi.UpdatePreferencesRequest{MaxBudget: &bad})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative budget, got %d", rec.Code)
	}
}

func TestRespondRateLimit(t *testing.T) {
	t.Setenv("AUTOMATCH_RESPOND_RATE_LIMIT_PER_MIN", "1")
	s, engine := newTestServer(t)
	seedWorkers(t, engine, "w-1", "w-2")
	result := buildQueueFor(t, engine, "job-rl", "w-1", "w-2")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auto-match/entries/"+result.Notified.ID+"/respond", "", matchapi.RespondRequest{Status: "declined"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first respond expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/auto-match/entries/"+result.Notified.ID+"/respond", "", matchapi.RespondRequest{Status: "declined"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second respond expected 429, got %d", rec.Code)
	}
}

func TestAdminMetricUpsertAndEvents(t *testing.T) {
	s, engine := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPut, "/v1/admin/workers/w-new/metrics", "", matchapi.UpsertMetricRequest{
		TotalAssigned:    10,
		TotalCompleted:   9,
		Rating:           4.7,
		CompletionRate:   0.9,
		AvgAssignedValue: 300,
		LastCompletedAt:  time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := engine.BuildQueue(context.Background(), dispatch.WorkItemRef{ID: "job-seeded", Value: 300}, []string{"w-new"}); err != nil {
		t.Fatalf("build with seeded metric: %v", err)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/admin/events?event_type=queue_generated", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	events := decodeBody[matchapi.EventsResponse](t, rec)
	if events.Total != 1 {
		t.Fatalf("expected one queue_generated event, got %+v", events)
	}
	if events.Events[0].EventHash == "" {
		t.Fatalf("event hash missing from wire payload")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/admin/events?event_type=queue_generated&format=csv", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for csv export, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,event_type,actor") {
		t.Fatalf("unexpected csv header: %q", lines[0])
	}

	rec = doJSON(t, h, http.MethodPut, "/v1/admin/workers/w-bad/metrics", "", map[string]string{"tenure_start": "not-a-time"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timestamp, got %d", rec.Code)
	}
}

func TestArchiveUnconfigured(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/admin/events/archive", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without archiver, got %d", rec.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	s, engine := newTestServer(t)
	seedWorkers(t, engine, "w-1")
	buildQueueFor(t, engine, "job-sw", "w-1")

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/auto-match/sweep", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[matchapi.SweepResponse](t, rec)
	if resp.Expired != 0 {
		t.Fatalf("offer TTL is an hour, nothing should expire: %+v", resp)
	}
}
